package sharpen

import (
	"math"

	"tirsharpen/pkg/raster"
)

// FuseWeights returns the inverse-squared-residual weights of the local and
// global estimates. They sum to one and the smaller residual gets the larger
// weight. Zero and undefined residuals follow the fusion tie-break order:
// a zero local residual wins, then a zero global residual, then whichever
// residual is defined.
func FuseWeights(rl, rg float64) (wl, wg float64) {
	switch {
	case rl == 0:
		return 1, 0
	case rg == 0:
		return 0, 1
	case math.IsNaN(rl) && math.IsNaN(rg):
		return math.NaN(), math.NaN()
	case math.IsNaN(rl):
		return 0, 1
	case math.IsNaN(rg):
		return 1, 0
	}
	l2, g2 := rl*rl, rg*rg
	wl = g2 / (l2 + g2)
	return wl, 1 - wl
}

// fusion holds the per-cell residual comparison on the thermal grid.
type fusion struct {
	localAgg  raster.Band // Root4 of the aggregated local radiance
	globalAgg raster.Band
	weights   raster.Band // local weight per coarse cell
}

// residual aggregates est⁴ onto the thermal grid and returns the aggregate
// together with its absolute difference from the observed radiance.
func residual(est raster.Band, cs *coarseScene) (raster.Band, []float64, error) {
	agg, err := raster.AggregateMean(raster.Pow4Band(est, est.Name), cs.native, cs.grid)
	if err != nil {
		return raster.Band{}, nil, err
	}
	res := make([]float64, len(agg.Data))
	for i, v := range agg.Data {
		res[i] = math.Abs(v - cs.radiance[i])
	}
	return agg, res, nil
}

func compareResiduals(local, global raster.Band, cs *coarseScene) (*fusion, error) {
	la, rl, err := residual(local, cs)
	if err != nil {
		return nil, err
	}
	ga, rg, err := residual(global, cs)
	if err != nil {
		return nil, err
	}
	w := make([]float64, len(rl))
	for i := range w {
		w[i], _ = FuseWeights(rl[i], rg[i])
	}
	return &fusion{
		localAgg:  raster.Root4Band(la, "lst_local_agg"),
		globalAgg: raster.Root4Band(ga, "lst_global_agg"),
		weights:   raster.Band{Name: "local_weights", Data: w},
	}, nil
}

// fusePixel blends one pixel given the local weight of its coarse cell. The
// result is masked unless both estimates and the weight are defined.
func fusePixel(l, g, wl float64) float64 {
	switch {
	case math.IsNaN(l) || math.IsNaN(g) || math.IsNaN(wl):
		return math.NaN()
	case wl == 1:
		return l
	case wl == 0:
		return g
	}
	return raster.Root4(raster.Pow4(l)*wl + raster.Pow4(g)*(1-wl))
}

// fuse combines the estimates at native resolution, taking the weight of the
// coarse cell that contains each pixel centre.
func fuse(local, global raster.Band, f *fusion, cs *coarseScene, workers int) (raster.Band, error) {
	lookup, err := raster.NewLookup(cs.native, cs.grid)
	if err != nil {
		return raster.Band{}, err
	}
	w := cs.native.Width
	out := make([]float64, cs.native.Len())
	parallelRows(cs.native.Height, workers, func(r0, r1 int) {
		for r := r0; r < r1; r++ {
			for c := 0; c < w; c++ {
				i := r*w + c
				out[i] = fusePixel(local.Data[i], global.Data[i], f.weights.Data[lookup.Index(c, r)])
			}
		}
	})
	return raster.Band{Name: "lst_sharpened_non_ec", Data: out}, nil
}
