package raster

import "math"

// Pow4 converts a temperature to its radiance equivalent.
func Pow4(t float64) float64 {
	t2 := t * t
	return t2 * t2
}

// Root4 converts a radiance equivalent back to temperature. Negative input
// has no real root and yields NaN.
func Root4(r float64) float64 {
	if r < 0 {
		return math.NaN()
	}
	return math.Sqrt(math.Sqrt(r))
}

// Pow4Band applies Pow4 pixel-wise.
func Pow4Band(b Band, name string) Band { return b.Map(name, Pow4) }

// Root4Band applies Root4 pixel-wise.
func Root4Band(b Band, name string) Band { return b.Map(name, Root4) }
