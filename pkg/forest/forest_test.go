package forest

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func stepData(n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = []float64{rng.Float64(), rng.Float64(), rng.Float64()}
		y[i] = 10
		if x[i][1] > 0.5 {
			y[i] = 20
		}
	}
	return x, y
}

func TestRandomForestLearnsStep(t *testing.T) {
	x, y := stepData(600, 1)
	rf := NewRandomForest()
	rf.Trees = 30
	rf.VariablesPerSplit = 3
	rf.MinLeafPopulation = 5
	rf.Seed = 42

	model, err := rf.Train(x, y, nil)
	require.NoError(t, err)

	assert.InDelta(t, 10, model.Predict([]float64{0.3, 0.1, 0.7}), 0.5)
	assert.InDelta(t, 20, model.Predict([]float64{0.3, 0.9, 0.7}), 0.5)
}

func TestRandomForestDeterministic(t *testing.T) {
	x, y := stepData(200, 2)
	rf := NewRandomForest()
	rf.Trees = 10
	rf.MinLeafPopulation = 3
	rf.Seed = 7

	a, err := rf.Train(x, y, nil)
	require.NoError(t, err)
	rf.Workers = 1
	b, err := rf.Train(x, y, nil)
	require.NoError(t, err)

	probe := []float64{0.51, 0.49, 0.5}
	assert.Equal(t, a.Predict(probe), b.Predict(probe))
}

func TestRandomForestFullBagFitsTrainingPoints(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := make([][]float64, 50)
	y := make([]float64, 50)
	for i := range x {
		x[i] = []float64{rng.Float64(), rng.Float64()}
		y[i] = 300 + 5*x[i][0] - 3*x[i][1]
	}
	rf := &RandomForest{Trees: 5, VariablesPerSplit: 1, MinLeafPopulation: 1, BagFraction: 1, Workers: 2}
	model, err := rf.Train(x, y, nil)
	require.NoError(t, err)

	for i := range x {
		assert.InDelta(t, y[i], model.Predict(x[i]), 1e-9)
	}
}

func TestRandomForestConstantTarget(t *testing.T) {
	x, _ := stepData(100, 4)
	y := make([]float64, len(x))
	for i := range y {
		y[i] = 8.1e9
	}
	model, err := NewRandomForest().Train(x, y, nil)
	require.NoError(t, err)
	assert.Equal(t, 8.1e9, model.Predict(x[0]))
}

func TestRandomForestBaggingSpreadsPredictions(t *testing.T) {
	x, y := stepData(400, 5)
	rf := NewRandomForest()
	rf.Trees = 20
	rf.MinLeafPopulation = 10
	model, err := rf.Train(x, y, nil)
	require.NoError(t, err)

	preds := make([]float64, len(x))
	for i := range x {
		preds[i] = model.Predict(x[i])
	}
	mean := stat.Mean(preds, nil)
	assert.InDelta(t, stat.Mean(y, nil), mean, 1)
}

func TestPredictRejectsInvalidFeatures(t *testing.T) {
	x, y := stepData(50, 6)
	model, err := NewRandomForest().Train(x, y, nil)
	require.NoError(t, err)

	assert.True(t, math.IsNaN(model.Predict([]float64{0.1, math.NaN(), 0.2})))
	assert.True(t, math.IsNaN(model.Predict([]float64{0.1})))
}

func TestTrainErrors(t *testing.T) {
	_, err := NewRandomForest().Train(nil, nil, nil)
	assert.True(t, errors.Is(err, ErrEmptyTraining))

	_, err = NewRandomForest().Train([][]float64{{math.NaN()}}, []float64{1}, nil)
	assert.True(t, errors.Is(err, ErrEmptyTraining))

	_, err = NewRandomForest().Train([][]float64{{1}, {1, 2}}, []float64{1, 2}, nil)
	assert.Error(t, err)

	rf := NewRandomForest()
	rf.BagFraction = 0
	_, err = rf.Train([][]float64{{1}}, []float64{1}, nil)
	assert.Error(t, err)
}
