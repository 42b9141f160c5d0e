// Package randomforest adapts the malaschitz random forest classifier to
// the pipeline stage interface.
package randomforest

import (
	randomforest "github.com/malaschitz/randomForest"
	"gonum.org/v1/gonum/mat"

	"github.com/scisearch/scisearch/core/model"
	"github.com/scisearch/scisearch/pkg/errors"
)

func init() {
	model.RegisterGobType(&Classifier{})
}

// Classifier is a random forest classification stage. Class labels are
// non-negative integers encoded as float64.
type Classifier struct {
	model.BaseEstimator

	// NEstimators is the number of trees grown at fit time.
	NEstimators int
	// LeafSize stops node splitting below this sample count.
	LeafSize int

	Forest  *randomforest.Forest
	Classes int
}

// NewClassifier returns a classifier with 100 trees.
func NewClassifier() *Classifier {
	return &Classifier{NEstimators: 100, LeafSize: 1}
}

// Kind reports the stage variant.
func (c *Classifier) Kind() model.Kind { return model.KindClassifier }

// Capabilities reports the supported operations.
func (c *Classifier) Capabilities() model.CapSet {
	return model.Caps(model.CapFit, model.CapPredict, model.CapPredictProba)
}

// ParamNames lists the tunable hyperparameters.
func (c *Classifier) ParamNames() []string {
	return []string{"n_estimators", "leaf_size"}
}

// SetParams applies hyperparameters by name.
func (c *Classifier) SetParams(params map[string]interface{}) error {
	for name, v := range params {
		n, ok := asInt(v)
		if !ok {
			return errors.NewValidationError(name, "expected an integer", v)
		}
		switch name {
		case "n_estimators":
			if n < 1 {
				return errors.NewValidationError(name, "must be at least 1", v)
			}
			c.NEstimators = n
		case "leaf_size":
			if n < 1 {
				return errors.NewValidationError(name, "must be at least 1", v)
			}
			c.LeafSize = n
		default:
			return errors.NewValidationError(name, "unknown parameter", v)
		}
	}
	return nil
}

// Clone returns an unfitted copy with the same hyperparameters.
func (c *Classifier) Clone() model.Stage {
	return &Classifier{NEstimators: c.NEstimators, LeafSize: c.LeafSize}
}

// Fit grows the forest on X and integer class labels y.
func (c *Classifier) Fit(X mat.Matrix, y []float64) error {
	r, cols := X.Dims()
	if r == 0 || cols == 0 {
		return errors.NewValueError("Fit", "empty training matrix")
	}
	if len(y) != r {
		return errors.NewDimensionError("Fit", r, len(y), 0)
	}

	xData := make([][]float64, r)
	yData := make([]int, r)
	classes := 0
	for i := 0; i < r; i++ {
		row := make([]float64, cols)
		for j := 0; j < cols; j++ {
			row[j] = X.At(i, j)
		}
		xData[i] = row

		cls := int(y[i])
		if cls < 0 || float64(cls) != y[i] {
			return errors.NewValueError("Fit", "class labels must be non-negative integers")
		}
		yData[i] = cls
		if cls+1 > classes {
			classes = cls + 1
		}
	}

	c.Forest = &randomforest.Forest{LeafSize: c.LeafSize}
	c.Forest.Data = randomforest.ForestData{X: xData, Class: yData}
	c.Forest.Train(c.NEstimators)
	c.Classes = classes
	c.SetFitted()
	return nil
}

// Predict returns the majority-vote class per row.
func (c *Classifier) Predict(X mat.Matrix) ([]float64, error) {
	proba, err := c.PredictProba(X)
	if err != nil {
		return nil, err
	}

	r, cols := proba.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		best, bestV := 0, proba.At(i, 0)
		for j := 1; j < cols; j++ {
			if v := proba.At(i, j); v > bestV {
				best, bestV = j, v
			}
		}
		out[i] = float64(best)
	}
	return out, nil
}

// PredictProba returns per-class vote fractions, one row per sample.
func (c *Classifier) PredictProba(X mat.Matrix) (*mat.Dense, error) {
	if !c.IsFitted() {
		return nil, errors.NewNotFittedError("Classifier", "PredictProba")
	}
	r, cols := X.Dims()
	out := mat.NewDense(r, c.Classes, nil)
	row := make([]float64, cols)
	for i := 0; i < r; i++ {
		for j := 0; j < cols; j++ {
			row[j] = X.At(i, j)
		}
		votes := c.Forest.Vote(row)
		for j := 0; j < c.Classes && j < len(votes); j++ {
			out.Set(i, j, votes[j])
		}
	}
	return out, nil
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if float64(int(n)) == n {
			return int(n), true
		}
	}
	return 0, false
}
