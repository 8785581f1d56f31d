package sharpen

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"tirsharpen/pkg/forest"
	"tirsharpen/pkg/raster"
	"tirsharpen/pkg/sensor"
)

const testSatellite = "TESTSAT"

func testSensors(t *testing.T, tir, ec float64) *sensor.Table {
	t.Helper()
	tbl, err := sensor.NewTable(sensor.Profile{Satellite: testSatellite, TIRResolution: tir, ECWindow: ec})
	require.NoError(t, err)
	return tbl
}

func testGrid(res float64, w, h int) raster.Grid {
	return raster.Grid{CRS: "EPSG:32611", Transform: raster.Affine{res, 0, 500000, 0, -res, 4200000}, Width: w, Height: h}
}

// exactForest fits every training point exactly.
func exactForest() *forest.RandomForest {
	return &forest.RandomForest{Trees: 5, VariablesPerSplit: 6, MinLeafPopulation: 1, BagFraction: 1, Workers: 2}
}

// linearRadiance is a radiance that is linear in the six predictors.
func linearRadiance(x []float64) float64 {
	a := []float64{1e9, -5e8, 2e9, 1.5e9, -1e9, 5e8}
	r := 7e9
	for i, v := range x {
		r += a[i] * v
	}
	return r
}

// blockScene builds a 10 m scene whose predictors are uniform within
// block×block pixel blocks and whose temperature is radiance(x)^0.25.
func blockScene(t *testing.T, w, h, block int, seed int64, radiance func([]float64) float64) *raster.Image {
	t.Helper()
	grid := testGrid(10, w, h)
	rng := rand.New(rand.NewSource(seed))
	bw := (w + block - 1) / block
	bh := (h + block - 1) / block
	values := make([][]float64, bw*bh)
	for i := range values {
		x := make([]float64, len(PredictorBands))
		for k := range x {
			x[k] = 0.05 + 0.45*rng.Float64()
		}
		values[i] = x
	}

	bands := make([]raster.Band, len(PredictorBands)+1)
	for k, name := range PredictorBands {
		bands[k] = raster.NewBand(name, grid.Len())
	}
	lst := raster.NewBand(ThermalBand, grid.Len())
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			x := values[(r/block)*bw+c/block]
			i := r*w + c
			for k := range x {
				bands[k].Data[i] = x[k]
			}
			lst.Data[i] = raster.Root4(radiance(x))
		}
	}
	bands[len(PredictorBands)] = lst
	img, err := raster.NewImage(grid, raster.Metadata{SceneID: "synthetic", Satellite: testSatellite}, bands...)
	require.NoError(t, err)
	return img
}

// uniformScene builds a scene whose bands are each filled by fn(name, col, row).
func uniformScene(t *testing.T, grid raster.Grid, fn func(name string, col, row int) float64) *raster.Image {
	t.Helper()
	names := append(append([]string{}, PredictorBands...), ThermalBand)
	bands := make([]raster.Band, len(names))
	for k, name := range names {
		b := raster.NewBand(name, grid.Len())
		for r := 0; r < grid.Height; r++ {
			for c := 0; c < grid.Width; c++ {
				b.Data[r*grid.Width+c] = fn(name, c, r)
			}
		}
		bands[k] = b
	}
	img, err := raster.NewImage(grid, raster.Metadata{SceneID: "synthetic", Satellite: testSatellite}, bands...)
	require.NoError(t, err)
	return img
}

func maxAbsDiff(t *testing.T, a, b []float64) float64 {
	t.Helper()
	require.Equal(t, len(a), len(b))
	var m float64
	for i := range a {
		require.False(t, math.IsNaN(a[i]) || math.IsNaN(b[i]), "masked pixel %d", i)
		if d := math.Abs(a[i] - b[i]); d > m {
			m = d
		}
	}
	return m
}
