package detector

import (
	"image"
	"image/color"
	"testing"
)

func TestFillInputCHWLayout(t *testing.T) {
	const size = 2
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	img.Set(0, 0, color.NRGBA{R: 255, G: 0, B: 0, A: 255})
	img.Set(1, 0, color.NRGBA{R: 0, G: 255, B: 0, A: 255})
	img.Set(0, 1, color.NRGBA{R: 0, G: 0, B: 255, A: 255})
	img.Set(1, 1, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	buf := make([]float32, 3*size*size)
	fillInput(img, buf, size)

	// R channel first, then G, then B, row-major within each channel.
	if buf[0] != 1.0 {
		t.Errorf("expected R of (0,0) at index 0 to be 1, got %v", buf[0])
	}
	if buf[size*size+1] != 1.0 {
		t.Errorf("expected G of (1,0) in the G plane to be 1, got %v", buf[size*size+1])
	}
	if buf[2*size*size+size] != 1.0 {
		t.Errorf("expected B of (0,1) in the B plane to be 1, got %v", buf[2*size*size+size])
	}
	for i, v := range buf {
		if v < 0 || v > 1 {
			t.Fatalf("buffer value %d out of [0,1]: %v", i, v)
		}
	}
}
