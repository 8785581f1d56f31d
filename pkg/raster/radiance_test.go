package raster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPow4Root4RoundTrip(t *testing.T) {
	for _, v := range []float64{0, 1, 250.5, 300, 330.25} {
		assert.InDelta(t, v, Root4(Pow4(v)), 1e-9)
	}
	assert.True(t, math.IsNaN(Root4(-1)))
}

func TestPow4Monotonic(t *testing.T) {
	prev := Pow4(200)
	for v := 200.5; v < 350; v += 0.5 {
		cur := Pow4(v)
		assert.Greater(t, cur, prev)
		prev = cur
	}
}

func TestPow4BandKeepsMask(t *testing.T) {
	b := Pow4Band(Band{Name: "lst", Data: []float64{2, math.NaN()}}, "rad")
	assert.Equal(t, "rad", b.Name)
	assert.Equal(t, 16.0, b.Data[0])
	assert.True(t, math.IsNaN(b.Data[1]))
}
