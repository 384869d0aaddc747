package imageproc

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

func noiseImage(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 0xff
	}
	return img
}

func samePixels(t *testing.T, got, want image.Image) {
	t.Helper()
	gb, wb := got.Bounds(), want.Bounds()
	if gb.Dx() != wb.Dx() || gb.Dy() != wb.Dy() {
		t.Fatalf("size %dx%d, want %dx%d", gb.Dx(), gb.Dy(), wb.Dx(), wb.Dy())
	}
	for y := 0; y < gb.Dy(); y++ {
		for x := 0; x < gb.Dx(); x++ {
			g := color.NRGBAModel.Convert(got.At(gb.Min.X+x, gb.Min.Y+y))
			w := color.NRGBAModel.Convert(want.At(wb.Min.X+x, wb.Min.Y+y))
			if g != w {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, g, w)
			}
		}
	}
}

// TestOrientationTable checks every table entry against imaging's own
// rotate and flip helpers. imaging rotates counter-clockwise.
func TestOrientationTable(t *testing.T) {
	src := noiseImage(7, 4, 1)

	tests := []struct {
		orientation Orientation
		want        image.Image
	}{
		{Up, src},
		{Down, imaging.Rotate180(src)},
		{Left, imaging.Rotate90(src)},
		{Right, imaging.Rotate270(src)},
		{UpMirrored, imaging.FlipH(src)},
		{DownMirrored, imaging.FlipV(src)},
		{LeftMirrored, imaging.Transpose(src)},
		{RightMirrored, imaging.Transverse(src)},
	}
	for _, tt := range tests {
		t.Run(tt.orientation.String(), func(t *testing.T) {
			got, err := Upright(RawImage{Image: src, Orientation: tt.orientation})
			if err != nil {
				t.Fatalf("Upright failed: %v", err)
			}
			samePixels(t, got, tt.want)
		})
	}
}

func TestUprightSwapsDimensions(t *testing.T) {
	src := noiseImage(12, 5, 2)
	for o := Up; o <= RightMirrored; o++ {
		got, err := Upright(RawImage{Image: src, Orientation: o})
		if err != nil {
			t.Fatalf("%v: %v", o, err)
		}
		w, h := got.Bounds().Dx(), got.Bounds().Dy()
		quarter := o == Left || o == Right || o == LeftMirrored || o == RightMirrored
		if quarter && (w != 5 || h != 12) {
			t.Errorf("%v: got %dx%d, want 5x12", o, w, h)
		}
		if !quarter && (w != 12 || h != 5) {
			t.Errorf("%v: got %dx%d, want 12x5", o, w, h)
		}
	}
}

func TestUprightSubImage(t *testing.T) {
	full := noiseImage(20, 20, 3)
	sub := full.SubImage(image.Rect(3, 5, 14, 11))

	got, err := Upright(RawImage{Image: sub, Orientation: RightMirrored})
	if err != nil {
		t.Fatalf("Upright failed: %v", err)
	}
	samePixels(t, got, imaging.Transverse(sub))
}

func TestUprightErrors(t *testing.T) {
	tests := []struct {
		name string
		img  RawImage
	}{
		{"nil image", RawImage{}},
		{"empty image", RawImage{Image: image.NewRGBA(image.Rect(0, 0, 0, 3)), Orientation: Left}},
		{"bad orientation", RawImage{Image: noiseImage(2, 2, 4), Orientation: Orientation(42)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Upright(tt.img); !errors.Is(err, ErrOrientationFailed) {
				t.Errorf("expected ErrOrientationFailed, got %v", err)
			}
		})
	}
}

func TestParseOrientation(t *testing.T) {
	for o := Up; o <= RightMirrored; o++ {
		got, err := ParseOrientation(o.String())
		if err != nil || got != o {
			t.Errorf("ParseOrientation(%q) = %v, %v", o.String(), got, err)
		}
	}
	if got, err := ParseOrientation("Left_Mirrored"); err != nil || got != LeftMirrored {
		t.Errorf("ParseOrientation(Left_Mirrored) = %v, %v", got, err)
	}
	if got, err := ParseOrientation(""); err != nil || got != Up {
		t.Errorf("empty orientation = %v, %v", got, err)
	}
	if _, err := ParseOrientation("sideways"); err == nil {
		t.Error("expected error for unknown orientation")
	}
}

func TestOrientationFromEXIF(t *testing.T) {
	want := []Orientation{Up, UpMirrored, Down, DownMirrored, LeftMirrored, Right, RightMirrored, Left}
	for i, o := range want {
		got, err := OrientationFromEXIF(i + 1)
		if err != nil || got != o {
			t.Errorf("OrientationFromEXIF(%d) = %v, %v; want %v", i+1, got, err, o)
		}
	}
	for _, tag := range []int{0, 9, -1} {
		if _, err := OrientationFromEXIF(tag); err == nil {
			t.Errorf("OrientationFromEXIF(%d): expected error", tag)
		}
	}
}
