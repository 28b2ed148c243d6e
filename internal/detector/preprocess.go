package detector

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// fillInput writes the resized image into dst in CHW layout with values
// scaled to [0,1], the tensor format the exported model expects.
func fillInput(pic image.Image, dst []float32, size int) {
	channelSize := size * size
	for y := 0; y < size; y++ {
		offset := y * size
		for x := 0; x < size; x++ {
			i := offset + x
			r, g, b, _ := pic.At(x, y).RGBA()
			dst[i] = float32(r>>8) / 255.0
			dst[channelSize+i] = float32(g>>8) / 255.0
			dst[channelSize*2+i] = float32(b>>8) / 255.0
		}
	}
}
