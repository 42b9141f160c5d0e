package search

import (
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Split is one cross-validation fold: disjoint train and test index sets
// over the sample population.
type Split struct {
	Train []int
	Test  []int
}

// Splitter produces the ordered list of splits for a search. The same list
// is applied to every candidate, and a Splitter must be deterministic for a
// fixed configuration so distributed dispatch is reproducible.
type Splitter interface {
	Split(X mat.Matrix, y []float64) []Split
	NSplits() int
}

// KFold implements k-fold cross-validation.
type KFold struct {
	K          int
	Shuffle    bool
	RandomSeed uint64
}

// NewKFold creates a k-fold splitter. k < 2 defaults to 5.
func NewKFold(k int, shuffle bool, seed uint64) *KFold {
	if k < 2 {
		k = 5
	}
	return &KFold{K: k, Shuffle: shuffle, RandomSeed: seed}
}

// NSplits returns the number of folds.
func (kf *KFold) NSplits() int { return kf.K }

// Split generates the train/test index pairs.
func (kf *KFold) Split(X mat.Matrix, _ []float64) []Split {
	n, _ := X.Dims()

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if kf.Shuffle {
		r := rand.New(rand.NewPCG(kf.RandomSeed, kf.RandomSeed))
		r.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	splits := make([]Split, kf.K)
	foldSize := n / kf.K
	remainder := n % kf.K

	current := 0
	for f := 0; f < kf.K; f++ {
		testSize := foldSize
		if f < remainder {
			testSize++
		}

		test := make([]int, testSize)
		copy(test, indices[current:current+testSize])

		inTest := make(map[int]bool, testSize)
		for _, idx := range test {
			inTest[idx] = true
		}
		train := make([]int, 0, n-testSize)
		for _, idx := range indices {
			if !inTest[idx] {
				train = append(train, idx)
			}
		}

		splits[f] = Split{Train: train, Test: test}
		current += testSize
	}
	return splits
}

// StratifiedKFold implements stratified k-fold cross-validation: every fold
// approximately preserves the class proportions of y.
type StratifiedKFold struct {
	K          int
	Shuffle    bool
	RandomSeed uint64
}

// NewStratifiedKFold creates a stratified k-fold splitter. k < 2 defaults
// to 5.
func NewStratifiedKFold(k int, shuffle bool, seed uint64) *StratifiedKFold {
	if k < 2 {
		k = 5
	}
	return &StratifiedKFold{K: k, Shuffle: shuffle, RandomSeed: seed}
}

// NSplits returns the number of folds.
func (skf *StratifiedKFold) NSplits() int { return skf.K }

// Split generates the stratified train/test index pairs.
func (skf *StratifiedKFold) Split(X mat.Matrix, y []float64) []Split {
	n, _ := X.Dims()

	classIndices := make(map[float64][]int)
	for i := 0; i < n; i++ {
		classIndices[y[i]] = append(classIndices[y[i]], i)
	}

	labels := make([]float64, 0, len(classIndices))
	for label := range classIndices {
		labels = append(labels, label)
	}
	sort.Float64s(labels)

	if skf.Shuffle {
		r := rand.New(rand.NewPCG(skf.RandomSeed, skf.RandomSeed))
		for _, label := range labels {
			idx := classIndices[label]
			r.Shuffle(len(idx), func(i, j int) {
				idx[i], idx[j] = idx[j], idx[i]
			})
		}
	}

	// Deal each class's indices round-robin over the folds.
	testFolds := make([][]int, skf.K)
	for _, label := range labels {
		for i, idx := range classIndices[label] {
			f := i % skf.K
			testFolds[f] = append(testFolds[f], idx)
		}
	}

	splits := make([]Split, skf.K)
	for f := 0; f < skf.K; f++ {
		inTest := make(map[int]bool, len(testFolds[f]))
		for _, idx := range testFolds[f] {
			inTest[idx] = true
		}
		train := make([]int, 0, n-len(testFolds[f]))
		for i := 0; i < n; i++ {
			if !inTest[i] {
				train = append(train, i)
			}
		}
		test := append([]int(nil), testFolds[f]...)
		sort.Ints(test)
		splits[f] = Split{Train: train, Test: test}
	}
	return splits
}
