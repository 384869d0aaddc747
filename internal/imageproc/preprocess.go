// Package imageproc turns camera or library pictures into the flat,
// single-channel, [0,1] buffers a digit model expects.
package imageproc

import (
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

const (
	maxRGBValue   = 255.0
	maxRGB16Value = 65535.0

	// maxSurfacePixels caps any surface the pipeline allocates.
	maxSurfacePixels = 1 << 28
)

var (
	ErrOrientationFailed = errors.New("imageproc: orientation correction failed")
	ErrResampleFailed    = errors.New("imageproc: resample failed")
)

// RawImage is a picture as captured: pixels plus the orientation tag that says
// how to display them. The pipeline never writes to Image.
type RawImage struct {
	Image       image.Image
	Orientation Orientation
}

// Resampler selects the interpolation used when stretching to the model size.
type Resampler int

const (
	CatmullRom Resampler = iota
	BiLinear
	NearestNeighbor
	Lanczos
)

var resamplerNames = [...]string{
	CatmullRom:      "catmullrom",
	BiLinear:        "bilinear",
	NearestNeighbor: "nearest",
	Lanczos:         "lanczos",
}

func (r Resampler) String() string {
	if r < CatmullRom || r > Lanczos {
		return "unknown"
	}
	return resamplerNames[r]
}

// ParseResampler maps a config value to a Resampler. Empty means CatmullRom.
func ParseResampler(s string) (Resampler, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return CatmullRom, nil
	}
	for r, n := range resamplerNames {
		if n == name {
			return Resampler(r), nil
		}
	}
	return CatmullRom, errors.Errorf("imageproc: unknown resampler %q", s)
}

type options struct {
	resampler Resampler
	invert    bool
}

// Option tunes Normalize and Thumbnail.
type Option func(*options)

// WithResampler picks the interpolation kernel.
func WithResampler(r Resampler) Option {
	return func(o *options) { o.resampler = r }
}

// WithInvert flips intensities so dark ink on light paper reads like the
// light-on-dark digits the model was trained on.
func WithInvert(invert bool) Option {
	return func(o *options) { o.invert = invert }
}

// Normalize corrects orientation, stretches the picture to exactly
// width x height, reduces it to one intensity channel and returns the samples
// row-major, scaled to [0,1]. The result always has width*height elements.
func Normalize(img RawImage, width, height int, opts ...Option) ([]float32, error) {
	surface, err := grayscale(img, width, height, opts)
	if err != nil {
		return nil, err
	}
	return flatten(surface, width, height), nil
}

// Thumbnail returns the single-channel, forced-stretch picture Normalize
// would read its samples from, for display next to the source picture.
func Thumbnail(img RawImage, width, height int, opts ...Option) (image.Image, error) {
	return grayscale(img, width, height, opts)
}

func grayscale(img RawImage, width, height int, opts []Option) (image.Image, error) {
	o := options{resampler: CatmullRom}
	for _, opt := range opts {
		opt(&o)
	}

	upright, err := Upright(img)
	if err != nil {
		return nil, err
	}
	if o.invert {
		upright = imaging.Invert(upright)
	}
	return resample(upright, width, height, o.resampler)
}

// resample stretches src into a fresh single-channel surface of exactly
// width x height. Aspect ratio is not preserved.
func resample(src image.Image, width, height int, r Resampler) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrResampleFailed, "target %dx%d", width, height)
	}
	if !surfaceFits(width, height) {
		return nil, errors.Wrapf(ErrResampleFailed, "target %dx%d too large", width, height)
	}

	var dst draw.Image
	rect := image.Rect(0, 0, width, height)
	if sixteenBit(src) {
		dst = image.NewGray16(rect)
	} else {
		dst = image.NewGray(rect)
	}

	switch r {
	case CatmullRom:
		draw.CatmullRom.Scale(dst, rect, src, src.Bounds(), draw.Src, nil)
	case BiLinear:
		draw.BiLinear.Scale(dst, rect, src, src.Bounds(), draw.Src, nil)
	case NearestNeighbor:
		draw.NearestNeighbor.Scale(dst, rect, src, src.Bounds(), draw.Src, nil)
	case Lanczos:
		scaled := resize.Resize(uint(width), uint(height), src, resize.Lanczos3)
		draw.Draw(dst, rect, scaled, scaled.Bounds().Min, draw.Src)
	default:
		return nil, errors.Wrapf(ErrResampleFailed, "unknown resampler %d", int(r))
	}
	return dst, nil
}

func flatten(surface image.Image, width, height int) []float32 {
	out := make([]float32, 0, width*height)
	switch s := surface.(type) {
	case *image.Gray:
		for y := 0; y < height; y++ {
			row := s.Pix[y*s.Stride : y*s.Stride+width]
			for _, v := range row {
				out = append(out, float32(v)/maxRGBValue)
			}
		}
	case *image.Gray16:
		for y := 0; y < height; y++ {
			row := s.Pix[y*s.Stride : y*s.Stride+2*width]
			for i := 0; i < len(row); i += 2 {
				v := uint16(row[i])<<8 | uint16(row[i+1])
				out = append(out, float32(v)/maxRGB16Value)
			}
		}
	}
	return out
}

// sixteenBit reports whether img stores 16 bits per component.
func sixteenBit(img image.Image) bool {
	switch img.(type) {
	case *image.RGBA64, *image.NRGBA64, *image.Gray16:
		return true
	}
	return false
}

func surfaceFits(w, h int) bool {
	return w > 0 && h > 0 && w <= maxSurfacePixels/h
}
