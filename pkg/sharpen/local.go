package sharpen

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"tirsharpen/pkg/raster"
)

// rankTolerance is the singular value cut-off, relative to the predictors'
// raw second moment, below which a direction is treated as degenerate.
const rankTolerance = 1e-9

// statLayout indexes the sufficient statistics of one window:
// n, Σx, Σxxᵀ (upper triangle), Σy, Σxy, Σy².
type statLayout struct {
	p, xx, y, xy, yy, size int
}

func newStatLayout(p int) statLayout {
	l := statLayout{p: p}
	l.xx = 1 + p
	l.y = l.xx + p*(p+1)/2
	l.xy = l.y + 1
	l.yy = l.xy + p
	l.size = l.yy + 1
	return l
}

func (l statLayout) tri(i, j int) int {
	if i > j {
		i, j = j, i
	}
	// Row i of the upper triangle starts after the rows above it.
	return l.xx + i*l.p - i*(i-1)/2 + (j - i)
}

// localModel is the flat coefficient arena: p slopes and an intercept per
// coarse cell, plus the residual RMS in radiance units.
type localModel struct {
	p    int
	coef []float64
	rmse []float64
}

func (m *localModel) cell(i int) []float64 {
	k := m.p + 1
	return m.coef[i*k : (i+1)*k]
}

// fitLocal solves, for every coarse cell, the least-squares fit of thermal
// radiance on the mean predictors over the (2r+1)² neighbourhood. Windows are
// accumulated with sliding column sums; row bands run in parallel.
func fitLocal(cs *coarseScene, radius, workers int) *localModel {
	p := len(cs.means)
	lay := newStatLayout(p)
	w, h := cs.grid.Width, cs.grid.Height

	// Radiance is shifted by its scene mean to keep the moments well scaled.
	yRef := validMean(cs.radiance)

	cells := make([]float64, w*h*lay.size)
	x := make([]float64, p)
	for i := 0; i < w*h; i++ {
		if !cs.features(i, x) {
			continue
		}
		y := cs.radiance[i] - yRef
		s := cells[i*lay.size : (i+1)*lay.size]
		s[0] = 1
		for a := 0; a < p; a++ {
			s[1+a] = x[a]
			for b := a; b < p; b++ {
				s[lay.tri(a, b)] = x[a] * x[b]
			}
			s[lay.xy+a] = x[a] * y
		}
		s[lay.y] = y
		s[lay.yy] = y * y
	}

	m := &localModel{p: p, coef: make([]float64, w*h*(p+1)), rmse: make([]float64, w*h)}
	parallelRows(h, workers, func(r0, r1 int) {
		solver := newWindowSolver(lay)
		colSums := make([]float64, w*lay.size)
		addRow := func(r int, sign float64) {
			if r < 0 || r >= h {
				return
			}
			src := cells[r*w*lay.size : (r+1)*w*lay.size]
			for k, v := range src {
				colSums[k] += sign * v
			}
		}
		for r := r0 - radius; r <= r0+radius; r++ {
			addRow(r, 1)
		}
		win := make([]float64, lay.size)
		for r := r0; r < r1; r++ {
			for k := range win {
				win[k] = 0
			}
			for c := 0; c <= radius && c < w; c++ {
				addInto(win, colSums[c*lay.size:(c+1)*lay.size], 1)
			}
			for c := 0; c < w; c++ {
				i := r*w + c
				m.rmse[i] = solver.solve(win, yRef, m.cell(i))
				if c+radius+1 < w {
					addInto(win, colSums[(c+radius+1)*lay.size:(c+radius+2)*lay.size], 1)
				}
				if c-radius >= 0 {
					addInto(win, colSums[(c-radius)*lay.size:(c-radius+1)*lay.size], -1)
				}
			}
			addRow(r+radius+1, 1)
			addRow(r-radius, -1)
		}
	})
	return m
}

func addInto(dst, src []float64, sign float64) {
	for k, v := range src {
		dst[k] += sign * v
	}
}

func validMean(v []float64) float64 {
	var sum float64
	n := 0
	for _, x := range v {
		if !math.IsNaN(x) {
			sum += x
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// windowSolver holds per-worker scratch space for the centred normal
// equations.
type windowSolver struct {
	lay  statLayout
	cov  *mat.SymDense
	svd  mat.SVD
	u, v mat.Dense
	mx   []float64
	cxy  []float64
}

func newWindowSolver(lay statLayout) *windowSolver {
	return &windowSolver{
		lay: lay,
		cov: mat.NewSymDense(lay.p, nil),
		mx:  make([]float64, lay.p),
		cxy: make([]float64, lay.p),
	}
}

// solve writes slopes and intercept into out and returns the residual RMS.
// Windows with fewer samples than unknowns yield NaN throughout. Degenerate
// predictor directions are dropped, giving the minimum-norm slope.
func (s *windowSolver) solve(win []float64, yRef float64, out []float64) float64 {
	lay := s.lay
	p := lay.p
	n := win[0]
	if n < float64(p+1) {
		for k := range out {
			out[k] = math.NaN()
		}
		return math.NaN()
	}

	my := win[lay.y] / n
	var scale float64
	for a := 0; a < p; a++ {
		s.mx[a] = win[1+a] / n
	}
	for a := 0; a < p; a++ {
		for b := a; b < p; b++ {
			raw := win[lay.tri(a, b)] / n
			if a == b && raw > scale {
				scale = raw
			}
			s.cov.SetSym(a, b, raw-s.mx[a]*s.mx[b])
		}
		s.cxy[a] = win[lay.xy+a]/n - s.mx[a]*my
	}
	vy := win[lay.yy]/n - my*my

	slopes := out[:p]
	for a := range slopes {
		slopes[a] = 0
	}
	if s.svd.Factorize(s.cov, mat.SVDThin) {
		sv := s.svd.Values(nil)
		s.svd.UTo(&s.u)
		s.svd.VTo(&s.v)
		tol := rankTolerance * math.Max(scale, sv[0])
		for k, sk := range sv {
			if sk <= tol {
				continue
			}
			var dot float64
			for a := 0; a < p; a++ {
				dot += s.u.At(a, k) * s.cxy[a]
			}
			dot /= sk
			for a := 0; a < p; a++ {
				slopes[a] += s.v.At(a, k) * dot
			}
		}
	}

	intercept := my + yRef
	explained := 0.0
	for a := 0; a < p; a++ {
		intercept -= slopes[a] * s.mx[a]
		explained += slopes[a] * s.cxy[a]
	}
	out[p] = intercept
	return math.Sqrt(math.Max(0, vy-explained))
}

// applyLocal evaluates the coefficients of the coarse cell containing each
// native pixel and converts the radiance back to temperature.
func applyLocal(m *localModel, cs *coarseScene, workers int) (raster.Band, error) {
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
				coef := m.cell(lookup.Index(c, r))
				rad := coef[m.p]
				for b, band := range cs.predictors {
					rad += coef[b] * band.Data[i]
				}
				out[i] = raster.Root4(rad)
			}
		}
	})
	return raster.Band{Name: "lst_sp_local", Data: out}, nil
}

// parallelRows splits [0, rows) into contiguous bands, one per worker.
func parallelRows(rows, workers int, fn func(r0, r1 int)) {
	if workers < 1 {
		workers = 1
	}
	if workers > rows {
		workers = rows
	}
	if workers <= 1 {
		fn(0, rows)
		return
	}
	chunk := (rows + workers - 1) / workers
	var wg sync.WaitGroup
	for r0 := 0; r0 < rows; r0 += chunk {
		r1 := r0 + chunk
		if r1 > rows {
			r1 = rows
		}
		wg.Add(1)
		go func(r0, r1 int) {
			defer wg.Done()
			fn(r0, r1)
		}(r0, r1)
	}
	wg.Wait()
}
