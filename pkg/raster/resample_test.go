package raster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResampleNearestUsesContainingCell(t *testing.T) {
	native := utmGrid(30, 20, 17)
	coarse, err := native.WithResolution(100)
	require.NoError(t, err)

	checker := make([]float64, coarse.Len())
	for r := 0; r < coarse.Height; r++ {
		for c := 0; c < coarse.Width; c++ {
			checker[r*coarse.Width+c] = float64((r + c) % 2)
		}
	}
	out, err := ResampleNearest(Band{Name: "k", Data: checker}, coarse, native)
	require.NoError(t, err)

	for r := 0; r < native.Height; r++ {
		for c := 0; c < native.Width; c++ {
			// World coordinates of the native pixel centre, then the coarse
			// cell that contains it.
			x := 500000 + (float64(c)+0.5)*30
			y := 4200000 - (float64(r)+0.5)*30
			cc := int(math.Floor((x - 500000) / 100))
			cr := int(math.Floor((4200000 - y) / 100))
			want := float64((cr + cc) % 2)
			assert.Equal(t, want, out.Data[r*native.Width+c], "pixel %d,%d", c, r)
		}
	}
}

func TestResampleBilinearLinearField(t *testing.T) {
	coarse := utmGrid(60, 6, 6)
	native := utmGrid(30, 12, 12)

	ramp := make([]float64, coarse.Len())
	for r := 0; r < coarse.Height; r++ {
		for c := 0; c < coarse.Width; c++ {
			ramp[r*coarse.Width+c] = 2*float64(c) + 0.5*float64(r)
		}
	}
	out, err := ResampleBilinear(Band{Name: "d", Data: ramp}, coarse, native)
	require.NoError(t, err)

	// Away from the replicated border a linear field is reproduced exactly.
	for r := 1; r < native.Height-1; r++ {
		for c := 1; c < native.Width-1; c++ {
			cx := (float64(c)+0.5)/2 - 0.5
			cy := (float64(r)+0.5)/2 - 0.5
			assert.InDelta(t, 2*cx+0.5*cy, out.Data[r*native.Width+c], 1e-9)
		}
	}
}

func TestResampleBilinearIgnoresMaskedNeighbours(t *testing.T) {
	coarse := utmGrid(60, 3, 3)
	native := utmGrid(30, 6, 6)
	nan := math.NaN()

	out, err := ResampleBilinear(Band{Name: "d", Data: []float64{5, 5, 5, 5, nan, 5, 5, 5, 5}}, coarse, native)
	require.NoError(t, err)
	for i, v := range out.Data {
		assert.InDelta(t, 5, v, 1e-9, "pixel %d", i)
	}

	all, err := ResampleBilinear(NewBand("d", coarse.Len()), coarse, native)
	require.NoError(t, err)
	assert.Zero(t, all.ValidCount())
}
