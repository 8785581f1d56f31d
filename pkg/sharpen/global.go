package sharpen

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"tirsharpen/pkg/forest"
	"tirsharpen/pkg/raster"
)

// trainingSet is the spatial sample of homogeneous coarse cells.
type trainingSet struct {
	features    [][]float64
	target      []float64
	homogeneous int
}

// sampleTraining keeps cells whose inputs are valid and whose coefficient of
// variation is below threshold, then draws each with probability rate.
func sampleTraining(cs *coarseScene, threshold, rate float64, seed int64) *trainingSet {
	rng := rand.New(rand.NewSource(seed))
	ts := &trainingSet{}
	p := len(cs.means)
	for i := range cs.radiance {
		cv := cs.cv[i]
		if math.IsNaN(cv) || cv >= threshold {
			continue
		}
		x := make([]float64, p)
		if !cs.features(i, x) {
			continue
		}
		ts.homogeneous++
		if rate < 1 && rng.Float64() >= rate {
			continue
		}
		ts.features = append(ts.features, x)
		ts.target = append(ts.target, cs.radiance[i])
	}
	return ts
}

// fitGlobal trains the scene-wide model on the sampled cells.
func fitGlobal(ts *trainingSet, trainer forest.Trainer, minSamples int) (forest.Model, error) {
	if len(ts.target) < minSamples {
		return nil, sceneError(StageGlobal, errors.Wrapf(ErrInsufficientData,
			"%d training samples from %d homogeneous cells, need %d", len(ts.target), ts.homogeneous, minSamples))
	}
	model, err := trainer.Train(ts.features, ts.target, nil)
	if err != nil {
		if errors.Is(err, forest.ErrEmptyTraining) {
			return nil, sceneError(StageGlobal, errors.Wrap(ErrInsufficientData, err.Error()))
		}
		return nil, sceneError(StageGlobal, errors.Wrap(err, "train"))
	}
	return model, nil
}

// applyGlobal predicts radiance for every native pixel and converts it back to
// temperature. Pixels with any masked predictor stay masked.
func applyGlobal(model forest.Model, predictors []raster.Band, grid raster.Grid, workers int) raster.Band {
	out := make([]float64, grid.Len())
	w := grid.Width
	parallelRows(grid.Height, workers, func(r0, r1 int) {
		x := make([]float64, len(predictors))
		for r := r0; r < r1; r++ {
			for c := 0; c < w; c++ {
				i := r*w + c
				valid := true
				for b, band := range predictors {
					x[b] = band.Data[i]
					if math.IsNaN(x[b]) {
						valid = false
						break
					}
				}
				if !valid {
					out[i] = math.NaN()
					continue
				}
				out[i] = raster.Root4(model.Predict(x))
			}
		}
	})
	return raster.Band{Name: "lst_sp_global", Data: out}
}
