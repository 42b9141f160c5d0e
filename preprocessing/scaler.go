// Package preprocessing implements the fitted preprocessing artifacts a
// search candidate carries: feature-group selection, imputation, model-based
// and variance-based selection, statistical-test selection, scaling and PCA.
// Every type implements Fit/Transform and is gob-serializable.
package preprocessing

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/scisearch/scisearch/core/model"
	"github.com/scisearch/scisearch/pkg/errors"
)

// StandardScaler standardizes features to zero mean and unit variance.
type StandardScaler struct {
	model.BaseEstimator

	Mean      []float64
	Scale     []float64
	NFeatures int

	WithMean bool
	WithStd  bool
}

// NewStandardScaler creates a StandardScaler.
func NewStandardScaler(withMean, withStd bool) *StandardScaler {
	return &StandardScaler{WithMean: withMean, WithStd: withStd}
}

// Fit computes per-feature mean and standard deviation. y is ignored.
func (s *StandardScaler) Fit(X mat.Matrix, _ []float64) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewValueError("StandardScaler.Fit", "empty data")
	}

	s.NFeatures = c
	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)

	for j := 0; j < c; j++ {
		var sum float64
		for i := 0; i < r; i++ {
			sum += X.At(i, j)
		}
		if s.WithMean {
			s.Mean[j] = sum / float64(r)
		}
	}

	for j := 0; j < c; j++ {
		s.Scale[j] = 1
		if !s.WithStd {
			continue
		}
		mean := s.Mean[j]
		if !s.WithMean {
			// Still center around the data mean for the variance estimate.
			var sum float64
			for i := 0; i < r; i++ {
				sum += X.At(i, j)
			}
			mean = sum / float64(r)
		}
		var sumSq float64
		for i := 0; i < r; i++ {
			d := X.At(i, j) - mean
			sumSq += d * d
		}
		std := math.Sqrt(sumSq / float64(r))
		if std > 0 {
			s.Scale[j] = std
		}
	}

	s.SetFitted()
	return nil
}

// Transform applies the fitted standardization.
func (s *StandardScaler) Transform(X mat.Matrix) (*mat.Dense, error) {
	if !s.IsFitted() {
		return nil, errors.NewNotFittedError("StandardScaler", "Transform")
	}
	r, c := X.Dims()
	if c != s.NFeatures {
		return nil, errors.NewDimensionError("StandardScaler.Transform", s.NFeatures, c, 1)
	}

	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, (X.At(i, j)-s.Mean[j])/s.Scale[j])
		}
	}
	return out, nil
}
