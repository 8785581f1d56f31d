package sharpen

import (
	"fmt"

	"github.com/pkg/errors"

	"tirsharpen/pkg/raster"
	"tirsharpen/pkg/sensor"
)

var (
	// ErrInsufficientData marks a stage that has too few valid samples to
	// produce a scene-wide result.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrMisalignedGrid marks inputs whose grids cannot be related exactly.
	ErrMisalignedGrid = raster.ErrMisalignedGrid
	// ErrUnknownSensor marks a satellite missing from the sensor table.
	ErrUnknownSensor = sensor.ErrUnknownSensor
	// ErrMissingBand marks an input without a required band.
	ErrMissingBand = raster.ErrMissingBand
)

// SceneError aborts a whole scene at a given stage.
type SceneError struct {
	Stage string
	Err   error
}

func (e *SceneError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *SceneError) Unwrap() error { return e.Err }

func sceneError(stage string, err error) error {
	return &SceneError{Stage: stage, Err: err}
}
