//go:build !purego && !js

package raster

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// DecodeBandFile reads a single-channel image file as raw digital numbers.
func DecodeBandFile(path string) ([]float64, int, int, error) {
	src := gocv.IMRead(path, gocv.IMReadUnchanged)
	if src.Empty() {
		return nil, 0, 0, errors.Errorf("could not load image: %s", path)
	}
	defer src.Close()
	if src.Channels() != 1 {
		return nil, 0, 0, errors.Errorf("image %s has %d channels, want 1", path, src.Channels())
	}

	floatMat := gocv.NewMat()
	defer floatMat.Close()
	src.ConvertTo(&floatMat, gocv.MatTypeCV64F)

	w, h := floatMat.Cols(), floatMat.Rows()
	pixels, err := floatMat.DataPtrFloat64()
	if err != nil {
		return nil, 0, 0, errors.Wrap(err, "reading pixel data")
	}
	data := make([]float64, w*h)
	copy(data, pixels)
	return data, w, h, nil
}
