// Package forest implements a random-forest regressor over dense float64
// feature vectors.
package forest

import (
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrEmptyTraining is returned when no usable training sample is given.
var ErrEmptyTraining = errors.New("no training samples")

// Trainer fits a regression model. weights may be nil for unit weights.
type Trainer interface {
	Train(features [][]float64, target, weights []float64) (Model, error)
}

// Model predicts a scalar from one feature vector. Predict is called from
// several goroutines at once.
type Model interface {
	Predict(features []float64) float64
}

// RandomForest is a bagged ensemble of variance-reduction regression trees.
type RandomForest struct {
	Trees             int
	VariablesPerSplit int
	MinLeafPopulation int
	// BagFraction is the share of samples drawn for each tree. Below 1 the
	// draw is without replacement; Bootstrap draws with replacement instead.
	BagFraction float64
	Bootstrap   bool
	MaxNodes    int
	Seed        int64
	Workers     int
}

// NewRandomForest returns the default configuration: 100 trees, 4 variables
// per split, leaves of at least 50 samples, half the samples per tree.
func NewRandomForest() *RandomForest {
	return &RandomForest{
		Trees:             100,
		VariablesPerSplit: 4,
		MinLeafPopulation: 50,
		BagFraction:       0.5,
		Workers:           runtime.NumCPU(),
	}
}

// Validate checks the configuration.
func (rf *RandomForest) Validate() error {
	if rf.Trees < 1 {
		return errors.Errorf("trees must be >= 1, got %d", rf.Trees)
	}
	if rf.VariablesPerSplit < 1 {
		return errors.Errorf("variables per split must be >= 1, got %d", rf.VariablesPerSplit)
	}
	if rf.MinLeafPopulation < 1 {
		return errors.Errorf("min leaf population must be >= 1, got %d", rf.MinLeafPopulation)
	}
	if !(rf.BagFraction > 0 && rf.BagFraction <= 1) {
		return errors.Errorf("bag fraction must be in (0, 1], got %v", rf.BagFraction)
	}
	return nil
}

// Train fits the forest. Trees are grown in parallel, each from its own
// seeded generator, so results depend only on Seed.
func (rf *RandomForest) Train(features [][]float64, target, weights []float64) (Model, error) {
	if err := rf.Validate(); err != nil {
		return nil, err
	}
	ds, err := newDataset(features, target, weights)
	if err != nil {
		return nil, err
	}

	bagSize := int(math.Round(rf.BagFraction * float64(ds.n)))
	if bagSize < 1 {
		bagSize = 1
	}
	workers := rf.Workers
	if workers < 1 {
		workers = 1
	}

	trees := make([]*tree, rf.Trees)
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				rng := rand.New(rand.NewSource(rf.Seed + int64(i)*7919))
				idx := rf.bag(rng, ds.n, bagSize)
				g := &grower{ds: ds, rng: rng, mtry: rf.VariablesPerSplit, minLeaf: rf.MinLeafPopulation, maxNodes: rf.MaxNodes}
				trees[i] = g.grow(idx)
			}
		}()
	}
	for i := range trees {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return &Ensemble{trees: trees, features: ds.features}, nil
}

func (rf *RandomForest) bag(rng *rand.Rand, n, size int) []int {
	idx := make([]int, size)
	if rf.Bootstrap {
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		return idx
	}
	perm := rng.Perm(n)
	copy(idx, perm[:size])
	return idx
}

// Ensemble is a trained forest.
type Ensemble struct {
	trees    []*tree
	features int
}

// Predict averages the tree predictions. A vector of the wrong length or
// containing NaN yields NaN.
func (e *Ensemble) Predict(x []float64) float64 {
	if len(x) != e.features {
		return math.NaN()
	}
	for _, v := range x {
		if math.IsNaN(v) {
			return math.NaN()
		}
	}
	var sum float64
	for _, t := range e.trees {
		sum += t.predict(x)
	}
	return sum / float64(len(e.trees))
}

// Size returns the number of trees.
func (e *Ensemble) Size() int { return len(e.trees) }

type dataset struct {
	x        [][]float64
	y        []float64
	w        []float64
	n        int
	features int
}

func newDataset(features [][]float64, target, weights []float64) (*dataset, error) {
	if len(features) != len(target) {
		return nil, errors.Errorf("%d feature rows for %d targets", len(features), len(target))
	}
	if weights != nil && len(weights) != len(target) {
		return nil, errors.Errorf("%d weights for %d targets", len(weights), len(target))
	}
	if len(target) == 0 {
		return nil, ErrEmptyTraining
	}
	nf := len(features[0])
	if nf == 0 {
		return nil, errors.New("feature vectors are empty")
	}
	ds := &dataset{features: nf}
	for i, row := range features {
		if len(row) != nf {
			return nil, errors.Errorf("row %d has %d features, want %d", i, len(row), nf)
		}
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		if math.IsNaN(target[i]) || !(w > 0) || hasNaN(row) {
			continue
		}
		ds.x = append(ds.x, row)
		ds.y = append(ds.y, target[i])
		ds.w = append(ds.w, w)
	}
	ds.n = len(ds.y)
	if ds.n == 0 {
		return nil, ErrEmptyTraining
	}
	return ds, nil
}

func hasNaN(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}

type node struct {
	feature   int
	threshold float64
	left      int
	right     int
	value     float64
}

type tree struct {
	nodes []node
}

func (t *tree) predict(x []float64) float64 {
	i := 0
	for {
		n := &t.nodes[i]
		if n.left < 0 {
			return n.value
		}
		if x[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
}

type grower struct {
	ds       *dataset
	rng      *rand.Rand
	mtry     int
	minLeaf  int
	maxNodes int
	nodes    []node
}

func (g *grower) grow(idx []int) *tree {
	g.nodes = g.nodes[:0]
	g.split(idx)
	return &tree{nodes: g.nodes}
}

// split appends the node for idx and recurses. It returns the node index.
func (g *grower) split(idx []int) int {
	me := len(g.nodes)
	mean, variance := g.moments(idx)
	g.nodes = append(g.nodes, node{left: -1, right: -1, value: mean})

	if len(idx) < 2*g.minLeaf || variance <= 0 {
		return me
	}
	if g.maxNodes > 0 && len(g.nodes)+2 > g.maxNodes {
		return me
	}
	feature, threshold, ok := g.bestSplit(idx)
	if !ok {
		return me
	}

	var left, right []int
	for _, i := range idx {
		if g.ds.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := g.split(left)
	r := g.split(right)
	g.nodes[me].feature = feature
	g.nodes[me].threshold = threshold
	g.nodes[me].left = l
	g.nodes[me].right = r
	return me
}

func (g *grower) moments(idx []int) (float64, float64) {
	var sw, swy float64
	for _, i := range idx {
		sw += g.ds.w[i]
		swy += g.ds.w[i] * g.ds.y[i]
	}
	mean := swy / sw
	var ss float64
	for _, i := range idx {
		d := g.ds.y[i] - mean
		ss += g.ds.w[i] * d * d
	}
	return mean, ss / sw
}

// bestSplit searches a random subset of features for the threshold with the
// largest weighted variance reduction. If none of the sampled features can
// separate the node, the remaining features are tried.
func (g *grower) bestSplit(idx []int) (int, float64, bool) {
	order := g.rng.Perm(g.ds.features)
	mtry := g.mtry
	if mtry > len(order) {
		mtry = len(order)
	}
	best := splitCandidate{gain: 0}
	found := false
	sorted := make([]int, len(idx))
	for k, f := range order {
		if k >= mtry && found {
			break
		}
		copy(sorted, idx)
		if c, ok := g.scanFeature(sorted, f); ok && c.gain > best.gain {
			best = c
			found = true
		}
	}
	return best.feature, best.threshold, found
}

type splitCandidate struct {
	feature   int
	threshold float64
	gain      float64
}

// scanFeature sorts idx by feature f and evaluates every boundary between
// distinct values that leaves at least minLeaf samples on each side.
func (g *grower) scanFeature(idx []int, f int) (splitCandidate, bool) {
	x := g.ds.x
	sort.Slice(idx, func(a, b int) bool { return x[idx[a]][f] < x[idx[b]][f] })
	if x[idx[0]][f] == x[idx[len(idx)-1]][f] {
		return splitCandidate{}, false
	}

	var totW, totWY float64
	for _, i := range idx {
		totW += g.ds.w[i]
		totWY += g.ds.w[i] * g.ds.y[i]
	}
	mean := totWY / totW

	var best splitCandidate
	ok := false
	var lw, lwd float64
	for k := 0; k < len(idx)-1; k++ {
		i := idx[k]
		lw += g.ds.w[i]
		lwd += g.ds.w[i] * (g.ds.y[i] - mean)
		nl := k + 1
		if nl < g.minLeaf || len(idx)-nl < g.minLeaf {
			continue
		}
		v, next := x[i][f], x[idx[k+1]][f]
		if v == next {
			continue
		}
		rw := totW - lw
		// Between-group sum of squares of the centred target; maximising it
		// minimises the within-group variance.
		gain := lwd*lwd/lw + lwd*lwd/rw
		if gain > best.gain {
			threshold := v + (next-v)/2
			if threshold >= next {
				threshold = v
			}
			best = splitCandidate{feature: f, threshold: threshold, gain: gain}
			ok = true
		}
	}
	return best, ok
}
