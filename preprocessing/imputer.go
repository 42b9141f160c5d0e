package preprocessing

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/scisearch/scisearch/core/model"
	"github.com/scisearch/scisearch/core/parallel"
	"github.com/scisearch/scisearch/pkg/errors"
)

// Imputer fills NaN entries. Strategy "mean" substitutes the per-feature
// training mean; "knn" averages the feature over the NNeighbors training
// rows closest in the jointly observed features.
type Imputer struct {
	model.BaseEstimator

	Strategy   string
	NNeighbors int

	Means []float64
	// Train holds the fitted reference rows for the knn strategy.
	Train *mat.Dense
}

// NewImputer creates an Imputer. neighbors is only used by the knn strategy.
func NewImputer(strategy string, neighbors int) *Imputer {
	if neighbors <= 0 {
		neighbors = 5
	}
	return &Imputer{Strategy: strategy, NNeighbors: neighbors}
}

// Fit records the statistics needed by the strategy. y is ignored.
func (im *Imputer) Fit(X mat.Matrix, _ []float64) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewValueError("Imputer.Fit", "empty data")
	}
	switch im.Strategy {
	case "mean", "knn":
	default:
		return errors.NewValidationError("imputation", "unknown strategy", im.Strategy)
	}

	im.Means = make([]float64, c)
	for j := 0; j < c; j++ {
		var sum float64
		var n int
		for i := 0; i < r; i++ {
			if v := X.At(i, j); !math.IsNaN(v) {
				sum += v
				n++
			}
		}
		if n > 0 {
			im.Means[j] = sum / float64(n)
		}
	}

	if im.Strategy == "knn" {
		im.Train = mat.DenseCopyOf(X)
	}
	im.SetFitted()
	return nil
}

// Transform returns a copy of X with NaN entries filled.
func (im *Imputer) Transform(X mat.Matrix) (*mat.Dense, error) {
	if !im.IsFitted() {
		return nil, errors.NewNotFittedError("Imputer", "Transform")
	}
	r, c := X.Dims()
	if c != len(im.Means) {
		return nil, errors.NewDimensionError("Imputer.Transform", len(im.Means), c, 1)
	}

	out := mat.DenseCopyOf(X)
	switch im.Strategy {
	case "mean":
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if math.IsNaN(out.At(i, j)) {
					out.Set(i, j, im.Means[j])
				}
			}
		}
	case "knn":
		// Rows are independent: each imputation reads only the fitted
		// training rows and its own row.
		parallel.Parallelize(r, func(start, end int) {
			for i := start; i < end; i++ {
				for j := 0; j < c; j++ {
					if math.IsNaN(out.At(i, j)) {
						out.Set(i, j, im.knnValue(out.RawRowView(i), j))
					}
				}
			}
		})
	}
	return out, nil
}

// knnValue averages feature j over the nearest training rows that observe
// it, falling back to the training mean when no neighbor qualifies.
func (im *Imputer) knnValue(row []float64, j int) float64 {
	tr, tc := im.Train.Dims()

	type neighbor struct {
		dist float64
		val  float64
	}
	var candidates []neighbor
	for i := 0; i < tr; i++ {
		v := im.Train.At(i, j)
		if math.IsNaN(v) {
			continue
		}
		var dist float64
		var shared int
		for k := 0; k < tc; k++ {
			a, b := row[k], im.Train.At(i, k)
			if math.IsNaN(a) || math.IsNaN(b) {
				continue
			}
			d := a - b
			dist += d * d
			shared++
		}
		if shared == 0 {
			continue
		}
		candidates = append(candidates, neighbor{dist: dist / float64(shared), val: v})
	}
	if len(candidates) == 0 {
		return im.Means[j]
	}

	sort.Slice(candidates, func(a, b int) bool { return candidates[a].dist < candidates[b].dist })
	k := im.NNeighbors
	if k > len(candidates) {
		k = len(candidates)
	}
	var sum float64
	for _, n := range candidates[:k] {
		sum += n.val
	}
	return sum / float64(k)
}
