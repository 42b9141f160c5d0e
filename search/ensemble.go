package search

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/scisearch/scisearch/core/model"
	"github.com/scisearch/scisearch/metrics"
	"github.com/scisearch/scisearch/pkg/errors"
	"github.com/scisearch/scisearch/pkg/log"
)

// Ensemble combination methods.
const (
	// EnsembleTopK keeps the K best-ranked configurations.
	EnsembleTopK = "top_N"
	// EnsembleGreedy grows the ensemble by forward selection with
	// replacement over per-fold validation scores.
	EnsembleGreedy = "Caruana"
)

// greedyEpsilon is the minimum improvement that keeps forward selection
// going.
const greedyEpsilon = 1e-10

// Member is one fitted configuration inside an ensemble. Members picked
// more than once by forward selection appear once per pick, which weights
// them in the average.
type Member struct {
	Chain     FittedChain
	Estimator model.Stage
	Params    ParamSet
}

// Ensemble combines fitted members by unweighted averaging of their
// prediction scores.
type Ensemble struct {
	Members []Member
	Kind    model.Kind
}

// DecisionScores returns the averaged per-sample prediction score: the
// positive-class probability for classifiers exposing probabilities, the
// raw prediction otherwise.
func (e *Ensemble) DecisionScores(X mat.Matrix) ([]float64, error) {
	if len(e.Members) == 0 {
		return nil, errors.NewNotFittedError("Ensemble", "DecisionScores")
	}

	var sum []float64
	for _, m := range e.Members {
		Xp, err := m.Chain.Transform(X)
		if err != nil {
			return nil, err
		}
		scores, err := predictionScores(m.Estimator, Xp)
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = make([]float64, len(scores))
		}
		for i, v := range scores {
			sum[i] += v
		}
	}
	for i := range sum {
		sum[i] /= float64(len(e.Members))
	}
	return sum, nil
}

// Predict returns class labels for classifier ensembles (averaged score
// binarized at 0.5) and averaged predictions for regressor ensembles.
func (e *Ensemble) Predict(X mat.Matrix) ([]float64, error) {
	scores, err := e.DecisionScores(X)
	if err != nil {
		return nil, err
	}
	if e.Kind == model.KindClassifier {
		return metrics.Binarize(scores), nil
	}
	return scores, nil
}

// PredictProba returns the averaged class probabilities of the members.
func (e *Ensemble) PredictProba(X mat.Matrix) (*mat.Dense, error) {
	if len(e.Members) == 0 {
		return nil, errors.NewNotFittedError("Ensemble", "PredictProba")
	}

	var sum *mat.Dense
	for _, m := range e.Members {
		Xp, err := m.Chain.Transform(X)
		if err != nil {
			return nil, err
		}
		ps, ok := m.Estimator.(model.ProbaStage)
		if !ok {
			return nil, errors.NewModelError("PredictProba", "ensemble member does not expose probabilities", nil)
		}
		proba, err := ps.PredictProba(Xp)
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = mat.DenseCopyOf(proba)
		} else {
			sum.Add(sum, proba)
		}
	}
	sum.Scale(1/float64(len(e.Members)), sum)
	return sum, nil
}

// ensembleEvaluator scores a multiset of candidate indices. The concrete
// implementation averages cached per-fold validation scores; tests may
// substitute synthetic evaluators.
type ensembleEvaluator interface {
	Evaluate(selected []int) (float64, error)
	NCandidates() int
}

// selectionState is the explicit state threaded through ensemble
// construction: the selected candidate indices (with multiplicity), the
// best performance seen, and the iteration count.
type selectionState struct {
	Selected   []int
	Best       float64
	Iterations int
}

func newSelectionState() selectionState {
	return selectionState{Best: math.Inf(-1)}
}

// foldEvaluator caches per-fold validation score vectors for every pooled
// candidate. Evaluating a selection averages the selected vectors per fold
// and scores the averaged vector against the fold's validation labels.
type foldEvaluator struct {
	// yScore[fold][candidate] is the validation score vector.
	yScore  [][][]float64
	yValid  [][]float64
	scoring string
}

func (f *foldEvaluator) NCandidates() int { return len(f.yScore[0]) }

func (f *foldEvaluator) Evaluate(selected []int) (float64, error) {
	if len(selected) == 0 {
		return math.Inf(-1), nil
	}

	var total float64
	for fold := range f.yScore {
		n := len(f.yValid[fold])
		avg := make([]float64, n)
		for _, c := range selected {
			for i, v := range f.yScore[fold][c] {
				avg[i] += v
			}
		}
		for i := range avg {
			avg[i] /= float64(len(selected))
		}
		perf, err := computePerformance(f.scoring, f.yValid[fold], avg)
		if err != nil {
			return 0, err
		}
		total += perf
	}
	return total / float64(len(f.yScore)), nil
}

// sortedInitialization seeds the selection with the prefix of
// single-model-performance order whose ensemble performance is
// retrospectively best. Ties prefer the smaller prefix.
func sortedInitialization(ev ensembleEvaluator, state selectionState) (selectionState, error) {
	n := ev.NCandidates()
	singles := make([]float64, n)
	order := make([]int, n)
	for c := 0; c < n; c++ {
		perf, err := ev.Evaluate([]int{c})
		if err != nil {
			return state, err
		}
		singles[c] = perf
		order[c] = c
	}
	sortByScoreDesc(order, singles)

	bestSize := 1
	bestPerf := math.Inf(-1)
	for size := 1; size <= n; size++ {
		perf, err := ev.Evaluate(order[:size])
		if err != nil {
			return state, err
		}
		if perf > bestPerf+greedyEpsilon {
			bestPerf = perf
			bestSize = size
		}
	}

	state.Selected = append(state.Selected, order[:bestSize]...)
	state.Best = bestPerf
	return state, nil
}

// greedyExpansion grows the selection by forward steps with replacement:
// each step adds the candidate whose addition scores highest (ties prefer
// the lowest index) and stops at the first step that fails to improve the
// best performance by more than epsilon.
func greedyExpansion(ev ensembleEvaluator, state selectionState) (selectionState, error) {
	n := ev.NCandidates()
	for {
		bestCand := -1
		bestPerf := math.Inf(-1)
		trial := make([]int, len(state.Selected)+1)
		copy(trial, state.Selected)

		for c := 0; c < n; c++ {
			trial[len(trial)-1] = c
			perf, err := ev.Evaluate(trial)
			if err != nil {
				return state, err
			}
			if perf > bestPerf {
				bestPerf = perf
				bestCand = c
			}
		}

		if bestCand < 0 || bestPerf <= state.Best+greedyEpsilon {
			return state, nil
		}
		state.Selected = append(state.Selected, bestCand)
		state.Best = bestPerf
		state.Iterations++
	}
}

func sortByScoreDesc(order []int, scores []float64) {
	// Insertion sort keeps the tie-break (score desc, index asc) obvious;
	// candidate pools are small.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0; j-- {
			a, b := order[j-1], order[j]
			if scores[a] > scores[b] || (scores[a] == scores[b] && a < b) {
				break
			}
			order[j-1], order[j] = order[j], order[j-1]
		}
	}
}

// BuildEnsemble constructs an ensemble from a finished search. method is
// EnsembleTopK (keep the size best-ranked rows) or EnsembleGreedy (forward
// selection over per-fold validation scores, optionally seeded by sorted
// initialization when size <= 0). Selected configurations are refitted on
// the full sample set.
func BuildEnsemble(spec *TaskSpec, results *CVResults, splits []Split, method string, size int) (*Ensemble, error) {
	logger := log.GetLogger().With(log.OperationKey, "BuildEnsemble")

	var selected []int
	switch method {
	case EnsembleTopK:
		if size <= 0 || size > results.Len() {
			size = results.Len()
		}
		for i := 0; i < size; i++ {
			selected = append(selected, i)
		}

	case EnsembleGreedy:
		ev, err := buildFoldEvaluator(spec, results, splits)
		if err != nil {
			return nil, err
		}
		state := newSelectionState()
		if size <= 0 {
			if state, err = sortedInitialization(ev, state); err != nil {
				return nil, err
			}
		}
		if state, err = greedyExpansion(ev, state); err != nil {
			return nil, err
		}
		if size > 0 && len(state.Selected) > size {
			state.Selected = state.Selected[:size]
		}
		selected = state.Selected
		logger.Info("forward selection finished",
			"n_members", len(selected), "iterations", state.Iterations, log.ScoreKey, state.Best)

	default:
		return nil, errors.NewValidationError("method", "unknown ensemble method", method)
	}

	if len(selected) == 0 {
		return nil, errors.NewValueError("BuildEnsemble", "selection produced an empty ensemble")
	}
	return refitMembers(spec, results, selected)
}

// buildFoldEvaluator refits every retained configuration on each training
// fold and caches its validation score vector. Failures here always
// propagate; the error-score fallback only applies during the search
// phase.
func buildFoldEvaluator(spec *TaskSpec, results *CVResults, splits []Split) (*foldEvaluator, error) {
	ev := &foldEvaluator{
		yScore:  make([][][]float64, len(splits)),
		yValid:  make([][]float64, len(splits)),
		scoring: spec.Scoring,
	}

	for fold, split := range splits {
		ev.yScore[fold] = make([][]float64, results.Len())
		ev.yValid[fold] = subsetVec(spec.Y, split.Test)

		XTrain := subsetRows(spec.X, split.Train)
		yTrain := subsetVec(spec.Y, split.Train)

		for c := 0; c < results.Len(); c++ {
			chain, est, err := fitConfiguration(spec, results.ParamsAll[c], XTrain, yTrain)
			if err != nil {
				return nil, errors.Wrapf(err, "refitting candidate %d on fold %d", c, fold)
			}
			XValid, err := chain.Transform(subsetRows(spec.X, split.Test))
			if err != nil {
				return nil, err
			}
			scores, err := predictionScores(est, XValid)
			if err != nil {
				return nil, err
			}
			ev.yScore[fold][c] = scores
		}
	}
	return ev, nil
}

// fitConfiguration fits the preprocessing chain and estimator of one full
// configuration on the given samples.
func fitConfiguration(spec *TaskSpec, params ParamSet, X *mat.Dense, y []float64) (FittedChain, model.Stage, error) {
	chain, Xp, err := buildChain(params, X, y, spec.FeatureLabels)
	if err != nil {
		return chain, nil, err
	}
	est := spec.Estimator.Clone()
	if err := est.SetParams(params.Filter(spec.Estimator.ParamNames())); err != nil {
		return chain, nil, err
	}
	if err := est.Fit(Xp, y); err != nil {
		return chain, nil, err
	}
	return chain, est, nil
}

// refitMembers refits each distinct selected configuration on the full
// sample set once and replicates it per pick.
func refitMembers(spec *TaskSpec, results *CVResults, selected []int) (*Ensemble, error) {
	fitted := make(map[int]Member)
	ens := &Ensemble{Kind: spec.Estimator.Kind()}

	for _, c := range selected {
		m, ok := fitted[c]
		if !ok {
			chain, est, err := fitConfiguration(spec, results.ParamsAll[c], spec.X, spec.Y)
			if err != nil {
				return nil, errors.Wrapf(err, "refitting ensemble member %d", c)
			}
			m = Member{Chain: chain, Estimator: est, Params: results.ParamsAll[c]}
			fitted[c] = m
		}
		ens.Members = append(ens.Members, m)
	}
	return ens, nil
}
