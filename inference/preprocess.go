package inference

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// Normalization constants the reference SSD300 weights were trained with.
var (
	Mean = [3]float32{0.485, 0.456, 0.406}
	Std  = [3]float32{0.229, 0.224, 0.225}
)

// Preprocess resizes img to size x size and writes it into dst as
// mean/std-normalized RGB in CHW order.
//
// Arguments:
//   - img: The source image, any size.
//   - size: The network input side in pixels.
//   - dst: A buffer of at least 3*size*size values.
//
// Returns:
//   - error: If dst is too small.
func Preprocess(img image.Image, size int, dst []float32) error {
	plane := size * size
	if len(dst) < 3*plane {
		return errors.Errorf("destination holds %d values, needs %d", len(dst), 3*plane)
	}

	b := img.Bounds()
	if b.Dx() != size || b.Dy() != size {
		img = resize.Resize(uint(size), uint(size), img, resize.Bilinear)
		b = img.Bounds()
	}

	red := dst[0:plane]
	green := dst[plane : 2*plane]
	blue := dst[2*plane : 3*plane]

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			red[i] = (float32(r>>8)/255 - Mean[0]) / Std[0]
			green[i] = (float32(g>>8)/255 - Mean[1]) / Std[1]
			blue[i] = (float32(bl>>8)/255 - Mean[2]) / Std[2]
			i++
		}
	}
	return nil
}
