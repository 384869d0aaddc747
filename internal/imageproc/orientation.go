package imageproc

import (
	"image"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Orientation describes how the stored pixels relate to the way the picture
// should be displayed. The names follow the camera convention: Right means the
// stored pixels must be turned a quarter clockwise to appear upright.
type Orientation int

const (
	Up Orientation = iota
	Down
	Left
	Right
	UpMirrored
	DownMirrored
	LeftMirrored
	RightMirrored
)

var orientationNames = [...]string{
	Up:            "up",
	Down:          "down",
	Left:          "left",
	Right:         "right",
	UpMirrored:    "up-mirrored",
	DownMirrored:  "down-mirrored",
	LeftMirrored:  "left-mirrored",
	RightMirrored: "right-mirrored",
}

func (o Orientation) String() string {
	if !o.Valid() {
		return "orientation(" + strconv.Itoa(int(o)) + ")"
	}
	return orientationNames[o]
}

// Valid reports whether o is one of the eight canonical orientations.
func (o Orientation) Valid() bool {
	return o >= Up && o <= RightMirrored
}

// ParseOrientation accepts the names returned by Orientation.String.
// Underscores and spaces are treated as dashes and case is ignored.
func ParseOrientation(s string) (Orientation, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.NewReplacer("_", "-", " ", "-").Replace(name)
	if name == "" {
		return Up, nil
	}
	for o, n := range orientationNames {
		if n == name {
			return Orientation(o), nil
		}
	}
	return Up, errors.Errorf("imageproc: unknown orientation %q", s)
}

// exifOrientations maps EXIF orientation tag values (1..8) to orientations.
var exifOrientations = map[int]Orientation{
	1: Up,
	2: UpMirrored,
	3: Down,
	4: DownMirrored,
	5: LeftMirrored,
	6: Right,
	7: RightMirrored,
	8: Left,
}

// OrientationFromEXIF converts an EXIF orientation tag value.
func OrientationFromEXIF(tag int) (Orientation, error) {
	o, ok := exifOrientations[tag]
	if !ok {
		return Up, errors.Errorf("imageproc: invalid exif orientation %d", tag)
	}
	return o, nil
}

// correction brings stored pixels upright: clockwise quarter turns first,
// then an optional horizontal mirror of the turned image.
type correction struct {
	quarterTurns int
	mirror       bool
}

var corrections = [...]correction{
	Up:            {0, false},
	Down:          {2, false},
	Left:          {3, false},
	Right:         {1, false},
	UpMirrored:    {0, true},
	DownMirrored:  {2, true},
	LeftMirrored:  {1, true},
	RightMirrored: {3, true},
}

// affine returns the source-to-destination transform for a w x h source and
// the size of the destination surface.
func (c correction) affine(w, h int) (f64.Aff3, int, int) {
	fw, fh := float64(w), float64(h)
	var m f64.Aff3
	dw, dh := w, h
	switch c.quarterTurns % 4 {
	case 0:
		m = f64.Aff3{1, 0, 0, 0, 1, 0}
	case 1:
		m = f64.Aff3{0, -1, fh, 1, 0, 0}
		dw, dh = h, w
	case 2:
		m = f64.Aff3{-1, 0, fw, 0, -1, fh}
	case 3:
		m = f64.Aff3{0, 1, 0, -1, 0, fw}
		dw, dh = h, w
	}
	if c.mirror {
		m = compose(f64.Aff3{-1, 0, float64(dw), 0, 1, 0}, m)
	}
	return m, dw, dh
}

// compose returns p applied after q.
func compose(p, q f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		p[0]*q[0] + p[1]*q[3],
		p[0]*q[1] + p[1]*q[4],
		p[0]*q[2] + p[1]*q[5] + p[2],
		p[3]*q[0] + p[4]*q[3],
		p[3]*q[1] + p[4]*q[4],
		p[3]*q[2] + p[4]*q[5] + p[5],
	}
}

// Upright returns the pixels of img turned and reflected so that they read
// upright. An Up image is returned as is.
func Upright(img RawImage) (image.Image, error) {
	src := img.Image
	if src == nil {
		return nil, errors.Wrap(ErrOrientationFailed, "nil image")
	}
	if !img.Orientation.Valid() {
		return nil, errors.Wrapf(ErrOrientationFailed, "invalid %v", img.Orientation)
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.Wrapf(ErrOrientationFailed, "empty image %dx%d", b.Dx(), b.Dy())
	}
	if img.Orientation == Up {
		return src, nil
	}

	m, dw, dh := corrections[img.Orientation].affine(b.Dx(), b.Dy())
	if !surfaceFits(dw, dh) {
		return nil, errors.Wrapf(ErrOrientationFailed, "surface %dx%d too large", dw, dh)
	}
	// Work relative to the source origin so sub-images turn correctly.
	m[2] -= m[0]*float64(b.Min.X) + m[1]*float64(b.Min.Y)
	m[5] -= m[3]*float64(b.Min.X) + m[4]*float64(b.Min.Y)

	var dst draw.Image
	if sixteenBit(src) {
		dst = image.NewRGBA64(image.Rect(0, 0, dw, dh))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, dw, dh))
	}
	draw.NearestNeighbor.Transform(dst, m, src, b, draw.Src, nil)
	return dst, nil
}
