//go:build purego || js

package raster

import (
	"image"
	"image/color"
	_ "image/png"
	"os"

	"github.com/pkg/errors"
	_ "golang.org/x/image/tiff"
)

// DecodeBandFile reads a single-channel image file as raw digital numbers.
// 16-bit and 8-bit grey images keep their values; colour images are reduced
// to 16-bit luminance.
func DecodeBandFile(path string) ([]float64, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, errors.Wrap(err, "opening image")
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, 0, 0, errors.Wrapf(err, "decoding image %s", path)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	data := make([]float64, w*h)

	switch src := img.(type) {
	case *image.Gray16:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[y*w+x] = float64(src.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
	case *image.Gray:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[y*w+x] = float64(src.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
				data[y*w+x] = float64(g.Y)
			}
		}
	}
	return data, w, h, nil
}
