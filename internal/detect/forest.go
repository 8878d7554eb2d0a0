package detect

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"time"
)

// Training parameters are fixed, including the seed, so identical training
// data always yields an identical model.
const (
	forestTrees     = 100
	forestSubsample = 256
	contamination   = 0.01
	forestSeed      = 42
)

// ErrNoSamples is returned when training is attempted with an empty sample set.
var ErrNoSamples = errors.New("detect: training requires at least one sample")

// Forest is a fitted isolation forest. Immutable after training and safe for
// concurrent use; retraining builds a new Forest rather than mutating one.
type Forest struct {
	trees     []*isoNode
	norm      float64 // c(subsample), the path-length normalizer
	threshold float64
	trainedAt time.Time
	samples   int
}

// isoNode is one node of an isolation tree. feature < 0 marks a leaf.
type isoNode struct {
	feature int
	split   float64
	left    *isoNode
	right   *isoNode
	size    int
}

// TrainForest fits an isolation forest on the given feature vectors. The
// decision threshold is set at the (1-contamination) quantile of the training
// scores, so roughly one percent of a clean sample lands above it.
func TrainForest(samples []FeatureVector) (*Forest, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	rng := rand.New(rand.NewSource(forestSeed))

	sub := forestSubsample
	if sub > len(samples) {
		sub = len(samples)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(sub))))

	f := &Forest{
		trees:     make([]*isoNode, 0, forestTrees),
		norm:      avgPathLength(sub),
		trainedAt: time.Now(),
		samples:   len(samples),
	}

	batch := make([]FeatureVector, sub)
	for i := 0; i < forestTrees; i++ {
		idx := rng.Perm(len(samples))
		for j := 0; j < sub; j++ {
			batch[j] = samples[idx[j]]
		}
		f.trees = append(f.trees, buildTree(batch, 0, heightLimit, rng))
	}

	scores := make([]float64, len(samples))
	for i, s := range samples {
		scores[i] = f.Score(s)
	}
	sort.Float64s(scores)
	q := int(math.Ceil(float64(len(scores)) * (1 - contamination)))
	if q < 1 {
		q = 1
	}
	if q > len(scores) {
		q = len(scores)
	}
	f.threshold = scores[q-1]

	return f, nil
}

// buildTree grows one isolation tree by recursive random splits. Partitions
// that are exhausted, at the height limit, or constant in every feature
// become leaves.
func buildTree(data []FeatureVector, depth, limit int, rng *rand.Rand) *isoNode {
	if len(data) <= 1 || depth >= limit {
		return &isoNode{feature: -1, size: len(data)}
	}

	var candidates []int
	for fi := 0; fi < NumFeatures; fi++ {
		lo, hi := featureRange(data, fi)
		if hi > lo {
			candidates = append(candidates, fi)
		}
	}
	if len(candidates) == 0 {
		return &isoNode{feature: -1, size: len(data)}
	}

	fi := candidates[rng.Intn(len(candidates))]
	lo, hi := featureRange(data, fi)
	split := lo + rng.Float64()*(hi-lo)

	var left, right []FeatureVector
	for _, v := range data {
		if v[fi] < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}

	return &isoNode{
		feature: fi,
		split:   split,
		left:    buildTree(left, depth+1, limit, rng),
		right:   buildTree(right, depth+1, limit, rng),
	}
}

func featureRange(data []FeatureVector, feature int) (lo, hi float64) {
	lo, hi = data[0][feature], data[0][feature]
	for _, v := range data[1:] {
		if v[feature] < lo {
			lo = v[feature]
		}
		if v[feature] > hi {
			hi = v[feature]
		}
	}
	return lo, hi
}

func pathLength(v FeatureVector, n *isoNode, depth float64) float64 {
	for n.feature >= 0 {
		if v[n.feature] < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return depth + avgPathLength(n.size)
}

// avgPathLength is c(n): the expected path length of an unsuccessful binary
// search over n points, used to normalize isolation depths.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	h := math.Log(float64(n-1)) + 0.5772156649015329
	return 2*h - 2*float64(n-1)/float64(n)
}

// Score returns the anomaly score of v in (0, 1]. Higher means easier to
// isolate, which means more anomalous.
func (f *Forest) Score(v FeatureVector) float64 {
	if f.norm == 0 {
		// Degenerate single-point subsample: no depth signal at all.
		return 0.5
	}
	var sum float64
	for _, t := range f.trees {
		sum += pathLength(v, t, 0)
	}
	avg := sum / float64(len(f.trees))
	return math.Exp2(-avg / f.norm)
}

// Anomalous reports whether v scores strictly above the training threshold.
func (f *Forest) Anomalous(v FeatureVector) bool {
	return f.Score(v) > f.threshold
}

// TrainedAt returns when the model was fitted.
func (f *Forest) TrainedAt() time.Time {
	return f.trainedAt
}

// Samples returns the training sample count.
func (f *Forest) Samples() int {
	return f.samples
}
