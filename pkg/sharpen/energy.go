package sharpen

import (
	"math"

	"github.com/pkg/errors"

	"tirsharpen/pkg/raster"
)

// conserveEnergy shifts fused so that its radiance-mean temperature over each
// window of the ec grid matches the original's. Both bands are averaged over
// the same pixels: those where fused and lst are both valid. The per-window
// offset is interpolated bilinearly to native resolution. It returns the
// corrected band and the number of windows with a defined offset.
func conserveEnergy(fused, lst raster.Band, native, ec raster.Grid) (raster.Band, int, error) {
	fRad, oRad := commonRadiance(fused, lst)
	fAgg, err := raster.AggregateMean(fRad, native, ec)
	if err != nil {
		return raster.Band{}, 0, err
	}
	oAgg, err := raster.AggregateMean(oRad, native, ec)
	if err != nil {
		return raster.Band{}, 0, err
	}

	delta := make([]float64, ec.Len())
	valid := 0
	for i := range delta {
		delta[i] = raster.Root4(fAgg.Data[i]) - raster.Root4(oAgg.Data[i])
		if !math.IsNaN(delta[i]) {
			valid++
		}
	}
	if valid == 0 {
		return raster.Band{}, 0, sceneError(StageEnergy, errors.Wrapf(ErrInsufficientData,
			"no valid window on %s", ec))
	}

	shift, err := raster.ResampleBilinear(raster.Band{Name: "delta", Data: delta}, ec, native)
	if err != nil {
		return raster.Band{}, 0, err
	}
	out := make([]float64, native.Len())
	for i, v := range fused.Data {
		out[i] = v - shift.Data[i]
	}
	return raster.Band{Name: OutputBand, Data: out}, valid, nil
}

// commonRadiance returns a⁴ and b⁴, each masked wherever either input is.
func commonRadiance(a, b raster.Band) (raster.Band, raster.Band) {
	ra := make([]float64, len(a.Data))
	rb := make([]float64, len(b.Data))
	for i, v := range a.Data {
		w := b.Data[i]
		if math.IsNaN(v) || math.IsNaN(w) {
			ra[i], rb[i] = math.NaN(), math.NaN()
			continue
		}
		ra[i], rb[i] = raster.Pow4(v), raster.Pow4(w)
	}
	return raster.Band{Name: "fused", Data: ra}, raster.Band{Name: "lst", Data: rb}
}
