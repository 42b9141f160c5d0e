package search

import (
	"gonum.org/v1/gonum/mat"

	"github.com/scisearch/scisearch/core/model"
	"github.com/scisearch/scisearch/metrics"
	"github.com/scisearch/scisearch/pkg/errors"
)

// Scorer evaluates a fitted stage on (already preprocessed) data. Higher is
// better for every built-in scorer.
type Scorer func(est model.Stage, X mat.Matrix, y []float64) (float64, error)

// predictionScores returns the continuous decision score per sample: the
// positive-class probability when the stage supports predict_proba, the raw
// prediction otherwise.
func predictionScores(est model.Stage, X mat.Matrix) ([]float64, error) {
	if ps, ok := est.(model.ProbaStage); ok && est.Capabilities().Has(model.CapPredictProba) {
		proba, err := ps.PredictProba(X)
		if err != nil {
			return nil, err
		}
		r, c := proba.Dims()
		out := make([]float64, r)
		col := c - 1
		if col < 0 {
			col = 0
		}
		for i := 0; i < r; i++ {
			out[i] = proba.At(i, col)
		}
		return out, nil
	}
	return est.Predict(X)
}

// CheckScoring resolves a scoring name to a Scorer. Supported names:
// accuracy, f1_weighted, auc, sar (classification, evaluated on decision
// scores) and neg_rms (regression).
func CheckScoring(name string) (Scorer, error) {
	switch name {
	case "accuracy":
		return func(est model.Stage, X mat.Matrix, y []float64) (float64, error) {
			scores, err := predictionScores(est, X)
			if err != nil {
				return 0, err
			}
			return metrics.Accuracy(y, metrics.Binarize(scores))
		}, nil
	case "f1_weighted":
		return func(est model.Stage, X mat.Matrix, y []float64) (float64, error) {
			scores, err := predictionScores(est, X)
			if err != nil {
				return 0, err
			}
			return metrics.WeightedF1(y, metrics.Binarize(scores))
		}, nil
	case "auc":
		return func(est model.Stage, X mat.Matrix, y []float64) (float64, error) {
			scores, err := predictionScores(est, X)
			if err != nil {
				return 0, err
			}
			return metrics.ROCAUC(y, scores)
		}, nil
	case "sar":
		return func(est model.Stage, X mat.Matrix, y []float64) (float64, error) {
			scores, err := predictionScores(est, X)
			if err != nil {
				return 0, err
			}
			return metrics.SAR(y, scores)
		}, nil
	case "neg_rms":
		return func(est model.Stage, X mat.Matrix, y []float64) (float64, error) {
			pred, err := est.Predict(X)
			if err != nil {
				return 0, err
			}
			rms, err := metrics.RMS(y, pred)
			if err != nil {
				return 0, err
			}
			return -rms, nil
		}, nil
	}
	return nil, errors.NewValidationError("scoring", "unknown scoring name", name)
}

// computePerformance scores a vector of ensemble decision scores against the
// validation ground truth; used by ensemble construction.
func computePerformance(scoring string, yTruth, yScore []float64) (float64, error) {
	switch scoring {
	case "f1_weighted":
		return metrics.WeightedF1(yTruth, metrics.Binarize(yScore))
	case "auc":
		return metrics.ROCAUC(yTruth, yScore)
	case "sar":
		return metrics.SAR(yTruth, yScore)
	}
	return 0, errors.NewValidationError("ensemble_scoring", "no valid score method given in ensembling", scoring)
}
