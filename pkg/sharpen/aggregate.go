package sharpen

import (
	"math"

	"tirsharpen/pkg/raster"
)

// coarseScene holds the native inputs and their reduction onto the thermal
// footprint grid.
type coarseScene struct {
	native     raster.Grid
	grid       raster.Grid
	predictors []raster.Band
	thermal    raster.Band

	radiance []float64   // mean(lst)^4
	means    [][]float64 // per predictor
	stds     [][]float64 // per predictor
	cv       []float64
}

func aggregateScene(native, coarse raster.Grid, predictors []raster.Band, thermal raster.Band) (*coarseScene, error) {
	cs := &coarseScene{
		native:     native,
		grid:       coarse,
		predictors: predictors,
		thermal:    thermal,
		means:      make([][]float64, len(predictors)),
		stds:       make([][]float64, len(predictors)),
	}

	tir, err := raster.AggregateMean(thermal, native, coarse)
	if err != nil {
		return nil, err
	}
	cs.radiance = raster.Pow4Band(tir, "tir_radiance").Data

	meanBands := make([]raster.Band, len(predictors))
	stdBands := make([]raster.Band, len(predictors))
	for i, b := range predictors {
		m, s, err := raster.AggregateMeanStd(b, native, coarse)
		if err != nil {
			return nil, err
		}
		meanBands[i], stdBands[i] = m, s
		cs.means[i], cs.stds[i] = m.Data, s.Data
	}
	cs.cv = CoefficientOfVariation(meanBands, stdBands).Data
	return cs, nil
}

// CoefficientOfVariation averages std/mean over the bands. A cell is NaN when
// any band's mean is zero or masked.
func CoefficientOfVariation(means, stds []raster.Band) raster.Band {
	if len(means) == 0 {
		return raster.Band{Name: "cv"}
	}
	n := len(means[0].Data)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for b := range means {
			m, s := means[b].Data[i], stds[b].Data[i]
			if m == 0 || math.IsNaN(m) || math.IsNaN(s) {
				sum = math.NaN()
				break
			}
			sum += s / m
		}
		out[i] = sum / float64(len(means))
	}
	return raster.Band{Name: "cv", Data: out}
}

// features fills x with the mean predictors of cell i and reports whether the
// cell and its thermal radiance are all valid.
func (cs *coarseScene) features(i int, x []float64) bool {
	if math.IsNaN(cs.radiance[i]) {
		return false
	}
	for b := range cs.means {
		v := cs.means[b][i]
		if math.IsNaN(v) {
			return false
		}
		x[b] = v
	}
	return true
}

// validCells counts cells usable by the regressions.
func (cs *coarseScene) validCells() int {
	x := make([]float64, len(cs.means))
	n := 0
	for i := range cs.radiance {
		if cs.features(i, x) {
			n++
		}
	}
	return n
}
