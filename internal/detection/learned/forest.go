package learned

import (
	"math"
	"math/rand"
	"time"
)

// OutlierModel is the injected capability behind the outlier-forest
// score: fit on a ward's trailing feature history, score one point.
// The raw score lives on -1..1 with lower meaning more anomalous.
type OutlierModel interface {
	FitAndScore(history [][]float64, point []float64) (float64, error)
}

// Default forest shape. Sub-sample is capped at the history length, so
// small 30-day histories still fit.
const (
	defaultNumTrees      = 100
	defaultSubSampleSize = 64
	defaultMaxDepth      = 10
)

// isolationTree is a single tree of the forest.
type isolationTree struct {
	splitFeature int
	splitValue   float64
	left         *isolationTree
	right        *isolationTree
	size         int
	isLeaf       bool
}

// IsolationForest isolates outliers with random axis-aligned splits.
// It refits on every call; no state persists across runs.
type IsolationForest struct {
	numTrees      int
	subSampleSize int
	maxDepth      int
	seed          int64
}

// NewIsolationForest returns a forest with the default shape. seed 0
// means time-seeded; a fixed seed gives reproducible scores in tests.
func NewIsolationForest(seed int64) *IsolationForest {
	return &IsolationForest{
		numTrees:      defaultNumTrees,
		subSampleSize: defaultSubSampleSize,
		maxDepth:      defaultMaxDepth,
		seed:          seed,
	}
}

// FitAndScore builds the forest on history and scores point. The
// isolation score s is on (0,1) with higher meaning more anomalous;
// the returned raw value is 1-2s, so -1..1 with lower more anomalous.
func (f *IsolationForest) FitAndScore(history [][]float64, point []float64) (float64, error) {
	seed := f.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	trees := make([]*isolationTree, 0, f.numTrees)
	for i := 0; i < f.numTrees; i++ {
		sample := sampleRows(rng, history, f.subSampleSize)
		trees = append(trees, f.buildTree(rng, sample, 0))
	}

	totalPath := 0.0
	for _, tree := range trees {
		totalPath += pathLength(tree, point, 0)
	}
	avgPath := totalPath / float64(len(trees))

	// s = 2^(-avgPath / c(n)), where c(n) is the expected path length
	// of an unsuccessful BST search.
	n := f.subSampleSize
	if n > len(history) {
		n = len(history)
	}
	s := math.Pow(2, -avgPath/averagePathLength(n))

	return 1 - 2*s, nil
}

func sampleRows(rng *rand.Rand, data [][]float64, size int) [][]float64 {
	if size > len(data) {
		size = len(data)
	}
	shuffled := make([][]float64, len(data))
	copy(shuffled, data)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:size]
}

func (f *IsolationForest) buildTree(rng *rand.Rand, data [][]float64, depth int) *isolationTree {
	if len(data) <= 1 || depth >= f.maxDepth || allIdentical(data) {
		return &isolationTree{size: len(data), isLeaf: true}
	}

	splitFeature := rng.Intn(len(data[0]))
	minVal, maxVal := featureRange(data, splitFeature)
	if minVal == maxVal {
		return &isolationTree{size: len(data), isLeaf: true}
	}
	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	var left, right [][]float64
	for _, row := range data {
		if row[splitFeature] < splitValue {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isolationTree{size: len(data), isLeaf: true}
	}

	return &isolationTree{
		splitFeature: splitFeature,
		splitValue:   splitValue,
		left:         f.buildTree(rng, left, depth+1),
		right:        f.buildTree(rng, right, depth+1),
		size:         len(data),
	}
}

func pathLength(tree *isolationTree, point []float64, depth int) float64 {
	if tree.isLeaf {
		return float64(depth) + averagePathLength(tree.size)
	}
	if point[tree.splitFeature] < tree.splitValue {
		return pathLength(tree.left, point, depth+1)
	}
	return pathLength(tree.right, point, depth+1)
}

// averagePathLength is c(n) = 2H(n-1) - 2(n-1)/n.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}

func allIdentical(data [][]float64) bool {
	if len(data) <= 1 {
		return true
	}
	first := data[0]
	for i := 1; i < len(data); i++ {
		for j := range first {
			if math.Abs(data[i][j]-first[j]) > 1e-10 {
				return false
			}
		}
	}
	return true
}

func featureRange(data [][]float64, feature int) (minVal, maxVal float64) {
	minVal, maxVal = data[0][feature], data[0][feature]
	for _, row := range data {
		v := row[feature]
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}
