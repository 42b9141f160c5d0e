// Package metrics implements the scoring functions the search engine ranks
// and ensembles with: accuracy, weighted F1, ROC-AUC, root-mean-square error
// and the composite SAR score.
package metrics

import (
	"math"
	"sort"

	"github.com/scisearch/scisearch/pkg/errors"
)

func checkPair(op string, yTrue, yPred []float64) error {
	if len(yTrue) == 0 {
		return errors.NewValueError(op, "empty input")
	}
	if len(yTrue) != len(yPred) {
		return errors.NewDimensionError(op, len(yTrue), len(yPred), 0)
	}
	return nil
}

// Binarize returns a copy of scores thresholded at 0.5.
func Binarize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		if s >= 0.5 {
			out[i] = 1
		}
	}
	return out
}

// Accuracy is the fraction of exactly matching labels.
func Accuracy(yTrue, yPred []float64) (float64, error) {
	if err := checkPair("Accuracy", yTrue, yPred); err != nil {
		return 0, err
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue)), nil
}

// RMS is the root-mean-square error.
func RMS(yTrue, yPred []float64) (float64, error) {
	if err := checkPair("RMS", yTrue, yPred); err != nil {
		return 0, err
	}
	var sum float64
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(yTrue))), nil
}

// WeightedF1 computes the F1 score averaged over classes, weighted by class
// support.
func WeightedF1(yTrue, yPred []float64) (float64, error) {
	if err := checkPair("WeightedF1", yTrue, yPred); err != nil {
		return 0, err
	}

	classes := map[float64]bool{}
	for _, v := range yTrue {
		classes[v] = true
	}

	var weighted float64
	n := float64(len(yTrue))
	for c := range classes {
		var tp, fp, fn, support float64
		for i := range yTrue {
			switch {
			case yPred[i] == c && yTrue[i] == c:
				tp++
			case yPred[i] == c && yTrue[i] != c:
				fp++
			case yPred[i] != c && yTrue[i] == c:
				fn++
			}
			if yTrue[i] == c {
				support++
			}
		}
		var f1 float64
		if 2*tp+fp+fn > 0 {
			f1 = 2 * tp / (2*tp + fp + fn)
		}
		weighted += f1 * support / n
	}
	return weighted, nil
}

// ROCAUC computes the area under the ROC curve for binary labels and
// continuous scores, using the rank-sum formulation so ties contribute 0.5.
func ROCAUC(yTrue, yScore []float64) (float64, error) {
	if err := checkPair("ROCAUC", yTrue, yScore); err != nil {
		return 0, err
	}

	var nPos, nNeg float64
	for _, v := range yTrue {
		if v == 1 {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("ROCAUC", "only one class present", 0.5))
		return 0.5, nil
	}

	idx := make([]int, len(yScore))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return yScore[idx[i]] < yScore[idx[j]] })

	// Midranks over the sorted scores.
	ranks := make([]float64, len(idx))
	for i := 0; i < len(idx); {
		j := i
		for j < len(idx) && yScore[idx[j]] == yScore[idx[i]] {
			j++
		}
		mid := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[idx[k]] = mid
		}
		i = j
	}

	var rankSumPos float64
	for i, v := range yTrue {
		if v == 1 {
			rankSumPos += ranks[i]
		}
	}
	return (rankSumPos - nPos*(nPos+1)/2) / (nPos * nNeg), nil
}

// SAR is the composite score from Caruana et al. 2004:
// (accuracy + AUC + (1 - RMS)) / 3. AUC is computed on the raw scores;
// accuracy and RMS on the scores binarized at 0.5.
func SAR(yTrue, yScore []float64) (float64, error) {
	auc, err := ROCAUC(yTrue, yScore)
	if err != nil {
		return 0, err
	}
	bin := Binarize(yScore)
	acc, err := Accuracy(yTrue, bin)
	if err != nil {
		return 0, err
	}
	rms, err := RMS(yTrue, bin)
	if err != nil {
		return 0, err
	}
	return (acc + auc + (1 - rms)) / 3, nil
}
