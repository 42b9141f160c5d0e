// Package model defines the pipeline-stage contract shared by estimators and
// preprocessing steps. Instead of probing attributes at runtime, every stage
// declares its kind and a capability set which are checked once, at
// configuration time.
package model

import (
	"gonum.org/v1/gonum/mat"

	"github.com/scisearch/scisearch/pkg/errors"
)

// Kind distinguishes classifier stages from regressor stages. Ensemble
// prediction binarizes classifier outputs at 0.5 and leaves regressor
// outputs untouched.
type Kind int

const (
	KindClassifier Kind = iota
	KindRegressor
)

func (k Kind) String() string {
	if k == KindClassifier {
		return "classifier"
	}
	return "regressor"
}

// Capability is one of the operations a stage may support.
type Capability uint8

const (
	CapFit Capability = 1 << iota
	CapPredict
	CapPredictProba
	CapTransform
)

// CapSet is a bit set of capabilities.
type CapSet uint8

// Has reports whether the set contains c.
func (s CapSet) Has(c Capability) bool { return uint8(s)&uint8(c) != 0 }

// Caps builds a CapSet from individual capabilities.
func Caps(cs ...Capability) CapSet {
	var s CapSet
	for _, c := range cs {
		s |= CapSet(c)
	}
	return s
}

// Stage is the base contract for every pipeline stage.
type Stage interface {
	// Fit trains the stage on X (n_samples x n_features) and labels y.
	Fit(X mat.Matrix, y []float64) error

	// Predict returns one output value per row of X.
	Predict(X mat.Matrix) ([]float64, error)

	// Clone returns an unfitted copy carrying the same configuration.
	// Clones never share mutable state with the original.
	Clone() Stage

	// SetParams applies named hyperparameters. Unknown names are a
	// configuration error.
	SetParams(params map[string]interface{}) error

	// ParamNames returns the hyperparameter names the stage consumes.
	// The search uses this to derive the estimator-only view of a
	// candidate configuration.
	ParamNames() []string

	// Kind reports whether the stage is a classifier or a regressor.
	Kind() Kind

	// Capabilities reports the operations the stage supports.
	Capabilities() CapSet
}

// ProbaStage is a Stage that can emit per-class probabilities.
// Stages advertising CapPredictProba must implement it.
type ProbaStage interface {
	Stage

	// PredictProba returns an (n_samples x n_classes) probability matrix.
	PredictProba(X mat.Matrix) (*mat.Dense, error)
}

// Transformer is the contract for preprocessing steps.
type Transformer interface {
	Fit(X mat.Matrix, y []float64) error
	Transform(X mat.Matrix) (*mat.Dense, error)
}

// CheckStage verifies at configuration time that a stage's declared
// capability set covers the operations required by the caller, and that
// advertised capabilities are actually implemented.
func CheckStage(s Stage, required ...Capability) error {
	caps := s.Capabilities()
	for _, c := range required {
		if !caps.Has(c) {
			return errors.NewValidationError("estimator", "stage does not support required capability", capName(c))
		}
	}
	if caps.Has(CapPredictProba) {
		if _, ok := s.(ProbaStage); !ok {
			return errors.NewValidationError("estimator", "stage advertises predict_proba but does not implement ProbaStage", nil)
		}
	}
	return nil
}

func capName(c Capability) string {
	switch c {
	case CapFit:
		return "fit"
	case CapPredict:
		return "predict"
	case CapPredictProba:
		return "predict_proba"
	case CapTransform:
		return "transform"
	}
	return "unknown"
}

// EstimatorState tracks whether a stage has been fitted.
type EstimatorState int

const (
	NotFitted EstimatorState = iota
	Fitted
)

// BaseEstimator is embedded by stages to carry the fitted flag.
type BaseEstimator struct {
	State EstimatorState
}

// IsFitted reports whether the stage has been fitted.
func (e *BaseEstimator) IsFitted() bool {
	return e.State == Fitted
}

// SetFitted marks the stage as fitted.
func (e *BaseEstimator) SetFitted() {
	e.State = Fitted
}

// Reset returns the stage to the unfitted state.
func (e *BaseEstimator) Reset() {
	e.State = NotFitted
}
