package raster

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Statistics summarises the valid pixels of a band.
type Statistics struct {
	Count  int
	Masked int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	Median float64
	P2     float64
	P98    float64
}

func (s Statistics) String() string {
	return fmt.Sprintf("{Count=%d, Masked=%d, Min=%f, Max=%f, Mean=%f, StdDev=%f, Median=%f}",
		s.Count, s.Masked, s.Min, s.Max, s.Mean, s.StdDev, s.Median)
}

// MaskedFraction is the share of masked pixels.
func (s Statistics) MaskedFraction() float64 {
	total := s.Count + s.Masked
	if total == 0 {
		return 0
	}
	return float64(s.Masked) / float64(total)
}

// CalculateStatistics computes summary statistics over the valid pixels.
// All fields except the counts are NaN for a fully masked band.
func CalculateStatistics(b Band) Statistics {
	values := make([]float64, 0, len(b.Data))
	for _, v := range b.Data {
		if !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	s := Statistics{Count: len(values), Masked: len(b.Data) - len(values)}
	if len(values) == 0 {
		nan := math.NaN()
		s.Min, s.Max, s.Mean, s.StdDev, s.Median, s.P2, s.P98 = nan, nan, nan, nan, nan, nan, nan
		return s
	}
	sort.Float64s(values)
	s.Min = values[0]
	s.Max = values[len(values)-1]
	s.Mean, s.StdDev = stat.PopMeanStdDev(values, nil)
	s.Median = stat.Quantile(0.5, stat.Empirical, values, nil)
	s.P2 = stat.Quantile(0.02, stat.Empirical, values, nil)
	s.P98 = stat.Quantile(0.98, stat.Empirical, values, nil)
	return s
}
