package raster

import (
	"math"

	"github.com/pkg/errors"
)

// minOverlap drops slivers produced by floating point noise on shared edges.
const minOverlap = 1e-9

// span lists the source pixels overlapping one destination pixel along one
// axis together with their fractional overlap.
type span struct {
	start   int
	weights []float64
}

// axisSpans computes, for each destination index, the overlapping source
// indices. lo(i) maps destination edge i into source edge coordinates.
func axisSpans(n, srcLen int, scale, offset float64) []span {
	spans := make([]span, n)
	for i := 0; i < n; i++ {
		a := scale*float64(i) + offset
		b := scale*float64(i+1) + offset
		if a > b {
			a, b = b, a
		}
		first := int(math.Floor(a))
		if first < 0 {
			first = 0
		}
		last := int(math.Ceil(b)) - 1
		if last > srcLen-1 {
			last = srcLen - 1
		}
		sp := span{start: first}
		for k := first; k <= last; k++ {
			w := math.Min(b, float64(k+1)) - math.Max(a, float64(k))
			if w < minOverlap {
				w = 0
			}
			sp.weights = append(sp.weights, w)
		}
		spans[i] = sp
	}
	return spans
}

type aggregator struct {
	src, dst Grid
	cols     []span
	rows     []span
}

func newAggregator(src, dst Grid) (*aggregator, error) {
	m, err := src.edgeMap(dst)
	if err != nil {
		return nil, err
	}
	// Inverse map: destination edges into source edge coordinates.
	inv, err := m.Invert()
	if err != nil {
		return nil, err
	}
	return &aggregator{
		src:  src,
		dst:  dst,
		cols: axisSpans(dst.Width, src.Width, inv[0], inv[2]),
		rows: axisSpans(dst.Height, src.Height, inv[4], inv[5]),
	}, nil
}

// reduce walks every destination cell and calls fn with the weighted mean
// and variance of the contributing source pixels. Cells without any valid
// contribution get NaN for both.
func (a *aggregator) reduce(data []float64, withVar bool, fn func(i int, mean, variance float64)) {
	sw := a.src.Width
	for r, rs := range a.rows {
		for c, cs := range a.cols {
			var sumW, sumWV float64
			for dy, wy := range rs.weights {
				if wy == 0 {
					continue
				}
				off := (rs.start + dy) * sw
				for dx, wx := range cs.weights {
					if wx == 0 {
						continue
					}
					v := data[off+cs.start+dx]
					if math.IsNaN(v) {
						continue
					}
					w := wx * wy
					sumW += w
					sumWV += w * v
				}
			}
			i := r*a.dst.Width + c
			if sumW <= 0 {
				fn(i, math.NaN(), math.NaN())
				continue
			}
			mean := sumWV / sumW
			if !withVar {
				fn(i, mean, 0)
				continue
			}
			var sumWD float64
			for dy, wy := range rs.weights {
				if wy == 0 {
					continue
				}
				off := (rs.start + dy) * sw
				for dx, wx := range cs.weights {
					if wx == 0 {
						continue
					}
					v := data[off+cs.start+dx]
					if math.IsNaN(v) {
						continue
					}
					d := v - mean
					sumWD += wx * wy * d * d
				}
			}
			fn(i, mean, sumWD/sumW)
		}
	}
}

func checkBand(b Band, g Grid) error {
	if len(b.Data) != g.Len() {
		return errors.Errorf("band %q has %d pixels, grid has %d", b.Name, len(b.Data), g.Len())
	}
	return nil
}

// AggregateMean reduces b from src onto dst with area weights. Each source
// pixel contributes its fractional overlap with the destination cell and
// masked pixels contribute nothing.
func AggregateMean(b Band, src, dst Grid) (Band, error) {
	if err := checkBand(b, src); err != nil {
		return Band{}, err
	}
	agg, err := newAggregator(src, dst)
	if err != nil {
		return Band{}, err
	}
	out := make([]float64, dst.Len())
	agg.reduce(b.Data, false, func(i int, mean, _ float64) { out[i] = mean })
	return Band{Name: b.Name, Data: out}, nil
}

// AggregateMeanStd is AggregateMean that also returns the weighted
// population standard deviation.
func AggregateMeanStd(b Band, src, dst Grid) (Band, Band, error) {
	if err := checkBand(b, src); err != nil {
		return Band{}, Band{}, err
	}
	agg, err := newAggregator(src, dst)
	if err != nil {
		return Band{}, Band{}, err
	}
	mean := make([]float64, dst.Len())
	std := make([]float64, dst.Len())
	agg.reduce(b.Data, true, func(i int, m, v float64) {
		mean[i] = m
		std[i] = math.Sqrt(v)
	})
	return Band{Name: b.Name + "_mean", Data: mean}, Band{Name: b.Name + "_stdDev", Data: std}, nil
}
