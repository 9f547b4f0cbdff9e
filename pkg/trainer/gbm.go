package trainer

import (
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Params are the hyperparameters of the boosted ensemble.
type Params struct {
	Trees           int     `json:"trees"`
	MaxDepth        int     `json:"max_depth"`
	LearningRate    float64 `json:"learning_rate"`
	Subsample       float64 `json:"subsample"`
	MinSamplesSplit int     `json:"min_samples_split"`
	MinSamplesLeaf  int     `json:"min_samples_leaf"`
	Seed            uint64  `json:"seed"`
}

func DefaultParams() Params {
	return Params{
		Trees:           100,
		MaxDepth:        4,
		LearningRate:    0.1,
		Subsample:       0.8,
		MinSamplesSplit: 10,
		MinSamplesLeaf:  4,
		Seed:            42,
	}
}

// Node is either a split (Leaf false) or a leaf carrying Value.
type Node struct {
	Leaf      bool    `json:"leaf,omitempty"`
	Feature   int     `json:"f,omitempty"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v,omitempty"`
}

// Tree is a regression tree stored as a flat node list, root at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) Predict(x *Features) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	idx := 0
	for {
		n := &t.Nodes[idx]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
}

// Ensemble is a least squares gradient boosted regressor.
type Ensemble struct {
	Init         float64 `json:"init"`
	LearningRate float64 `json:"learning_rate"`
	Trees        []Tree  `json:"trees"`
}

func (e *Ensemble) Predict(x *Features) float64 {
	ret := e.Init
	for i := range e.Trees {
		ret += e.LearningRate * e.Trees[i].Predict(x)
	}
	return ret
}

// Fit trains an ensemble on rows x with targets y. Each tree fits the
// residuals of a random subsample drawn with the seeded generator, so equal
// input yields an equal ensemble.
func Fit(x []Features, y []float64, p Params) *Ensemble {
	ret := &Ensemble{LearningRate: p.LearningRate, Trees: make([]Tree, 0, p.Trees)}
	if len(x) == 0 {
		return ret
	}
	ret.Init = stat.Mean(y, nil)
	//nolint:gosec // reproducible, not security related
	rnd := rand.New(rand.NewPCG(p.Seed, p.Seed))

	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = ret.Init
	}
	residual := make([]float64, len(y))
	subsize := max(int(float64(len(x))*p.Subsample), 1)
	for range p.Trees {
		for i := range y {
			residual[i] = y[i] - pred[i]
		}
		idx := rnd.Perm(len(x))[:subsize]
		b := treeBuilder{x: x, y: residual, p: p}
		b.grow(idx, 0)
		tree := Tree{Nodes: b.nodes}
		for i := range x {
			pred[i] += p.LearningRate * tree.Predict(&x[i])
		}
		ret.Trees = append(ret.Trees, tree)
	}
	return ret
}

type treeBuilder struct {
	x     []Features
	y     []float64
	p     Params
	nodes []Node
}

// grow appends the subtree for rows idx and returns its node index.
func (b *treeBuilder) grow(idx []int, depth int) int {
	self := len(b.nodes)
	b.nodes = append(b.nodes, Node{Leaf: true, Value: b.mean(idx)})
	if depth >= b.p.MaxDepth || len(idx) < b.p.MinSamplesSplit || len(idx) < 2*b.p.MinSamplesLeaf {
		return self
	}
	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return self
	}
	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[self] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return self
}

func (b *treeBuilder) mean(idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range idx {
		sum += b.y[i]
	}
	return sum / float64(len(idx))
}

// bestSplit maximizes the reduction of the squared error. Both children keep
// at least MinSamplesLeaf rows.
func (b *treeBuilder) bestSplit(idx []int) (feature int, threshold float64, ok bool) {
	n := len(idx)
	total := 0.0
	for _, i := range idx {
		total += b.y[i]
	}
	best := 0.0
	sorted := make([]int, n)
	minLeaf := max(b.p.MinSamplesLeaf, 1)
	for f := range NumFeatures {
		copy(sorted, idx)
		sort.Slice(sorted, func(i, j int) bool { return b.x[sorted[i]][f] < b.x[sorted[j]][f] })
		leftSum := 0.0
		for k := 0; k < n-1; k++ {
			leftSum += b.y[sorted[k]]
			nl := k + 1
			nr := n - nl
			lo, hi := b.x[sorted[k]][f], b.x[sorted[k+1]][f]
			if nl < minLeaf || nr < minLeaf || lo == hi {
				continue
			}
			// proportional to the error reduction of this split
			gain := leftSum*leftSum/float64(nl) + (total-leftSum)*(total-leftSum)/float64(nr) -
				total*total/float64(n)
			if gain > best+1e-12 {
				best = gain
				feature = f
				threshold = lo + (hi-lo)/2
				ok = true
			}
		}
	}
	return feature, threshold, ok
}
