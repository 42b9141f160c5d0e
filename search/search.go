// Package search implements hyperparameter search with cross-validation:
// grid and randomized candidate generation, local and distributed
// execution of fit-evaluate tasks, aggregation into a ranked result table,
// refit of the winning configuration, and ensemble construction over the
// top-ranked candidates.
package search

import (
	"context"
	"fmt"
	"io"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/scisearch/scisearch/core/model"
	"github.com/scisearch/scisearch/metrics"
	"github.com/scisearch/scisearch/pkg/errors"
	"github.com/scisearch/scisearch/pkg/log"
)

// DefaultMaxLen bounds the result table when Options.MaxLen is zero.
const DefaultMaxLen = 100

// Options configures a search. The zero value is usable: f1_weighted
// scoring, one worker per CPU, refit enabled is opt-in via Refit.
type Options struct {
	// Scoring names the metric; empty means "f1_weighted".
	Scoring string
	// NJobs and PreDispatch configure the local backend pool.
	NJobs       int
	PreDispatch int
	// IID weights per-candidate score aggregation by test sample counts.
	IID bool
	// Refit fits the winning configuration on the full sample set after
	// the search.
	Refit bool
	// ReturnTrainScore also scores every task on its training split.
	ReturnTrainScore bool
	// ErrorScore controls failing tasks; the zero value propagates.
	ErrorScore ErrorScore
	// MaxLen bounds the retained result table; 0 means DefaultMaxLen,
	// negative keeps everything.
	MaxLen int
	// RandomState seeds randomized candidate sampling.
	RandomState uint64
	// NIter is the randomized-search sample count.
	NIter int
	// Backend overrides the execution backend; nil means LocalBackend.
	Backend Backend
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Scoring == "" {
		out.Scoring = "f1_weighted"
	}
	if out.MaxLen == 0 {
		out.MaxLen = DefaultMaxLen
	}
	return out
}

// BestState is the refitted winning configuration: the fitted
// preprocessing chain, the fitted estimator, both configuration views, the
// surviving feature labels, and the winning mean test score.
type BestState struct {
	Chain         FittedChain
	Estimator     model.Stage
	Params        ParamSet
	ParamsAll     ParamSet
	FeatureLabels []string
	Score         float64
}

// SearchCV runs an exhaustive or randomized hyperparameter search with
// cross-validation. Construct with NewGridSearchCV or
// NewRandomizedSearchCV, call Fit, then predict through the best
// configuration or a built ensemble.
type SearchCV struct {
	estimator model.Stage
	grid      ParameterGrid
	dists     ParameterDistributions
	splitter  Splitter
	opts      Options

	// Results, Best and Ens are populated by Fit (and CreateEnsemble).
	Results *CVResults
	Best    *BestState
	Ens     *Ensemble

	spec   *TaskSpec
	splits []Split
}

// NewGridSearchCV configures an exhaustive search over grid.
func NewGridSearchCV(estimator model.Stage, grid ParameterGrid, splitter Splitter, opts Options) (*SearchCV, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	s := &SearchCV{estimator: estimator, grid: grid, splitter: splitter, opts: opts.withDefaults()}
	if err := s.check(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewRandomizedSearchCV configures a randomized search drawing opts.NIter
// configurations from dists with seed opts.RandomState.
func NewRandomizedSearchCV(estimator model.Stage, dists ParameterDistributions, splitter Splitter, opts Options) (*SearchCV, error) {
	if err := dists.Validate(); err != nil {
		return nil, err
	}
	if opts.NIter <= 0 {
		return nil, errors.NewValidationError("NIter", "randomized search needs a positive sample count", opts.NIter)
	}
	s := &SearchCV{estimator: estimator, dists: dists, splitter: splitter, opts: opts.withDefaults()}
	if err := s.check(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SearchCV) check() error {
	if s.splitter == nil {
		return errors.NewValidationError("splitter", "a splitter is required", nil)
	}
	required := []model.Capability{model.CapFit, model.CapPredict}
	if s.estimator.Kind() == model.KindClassifier {
		required = append(required, model.CapPredictProba)
	}
	if err := model.CheckStage(s.estimator, required...); err != nil {
		return err
	}
	_, err := CheckScoring(s.opts.Scoring)
	return err
}

// candidates materializes the configuration sequence for this search.
func (s *SearchCV) candidates() ([]ParamSet, error) {
	if s.grid != nil {
		return s.grid.Enumerate()
	}
	return s.dists.Sample(s.opts.NIter, s.opts.RandomState)
}

// Fit runs the search on X (n_samples x n_features), labels y and feature
// labels. On return Results holds the ranked table and, with Refit
// enabled, Best holds the refitted winning configuration.
func (s *SearchCV) Fit(ctx context.Context, X *mat.Dense, y []float64, featureLabels []string) error {
	r, c := X.Dims()
	if len(y) != r {
		return errors.NewDimensionError("Fit", r, len(y), 0)
	}
	if featureLabels != nil && len(featureLabels) != c {
		return errors.NewDimensionError("Fit", c, len(featureLabels), 1)
	}
	if k := s.splitter.NSplits(); r < k {
		return errors.NewValidationError("splitter",
			fmt.Sprintf("cannot split %d samples into %d folds", r, k), k)
	}

	cands, err := s.candidates()
	if err != nil {
		return err
	}
	splits := s.splitter.Split(X, y)
	if len(splits) == 0 {
		return errors.NewValueError("Fit", "splitter produced no splits")
	}
	for i, sp := range splits {
		if len(sp.Test) == 0 {
			return errors.NewValidationError("splitter",
				fmt.Sprintf("fold %d has no test samples", i), len(splits))
		}
	}

	s.spec = &TaskSpec{
		Estimator:        s.estimator,
		X:                X,
		Y:                y,
		FeatureLabels:    featureLabels,
		Scoring:          s.opts.Scoring,
		ReturnTrainScore: s.opts.ReturnTrainScore,
		ErrorScore:       s.opts.ErrorScore,
	}
	s.splits = splits

	logger := log.GetLogger().With(
		log.OperationKey, "Fit",
		log.CandidatesKey, len(cands),
		log.SplitsKey, len(splits),
		log.SamplesKey, r,
		log.FeaturesKey, c,
	)
	logger.Info("starting search")
	start := time.Now()

	backend := s.opts.Backend
	if backend == nil {
		backend = &LocalBackend{NJobs: s.opts.NJobs, PreDispatch: s.opts.PreDispatch}
	}
	raw, err := backend.Run(ctx, s.spec, cands, splits)
	if err != nil {
		return err
	}

	if err := s.ProcessFit(raw, len(splits)); err != nil {
		return err
	}
	logger.Info("search finished",
		log.ScoreKey, s.Results.BestScore(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// ProcessFit aggregates raw per-(candidate, split) results into the ranked
// result table, promotes the rank-1 candidate's fitted preprocessing
// artifacts to the best state, and refits the estimator when Refit is
// enabled. It is split from Fit so externally executed result sets can be
// folded in.
func (s *SearchCV) ProcessFit(raw []RawResult, nSplits int) error {
	if s.spec == nil {
		return errors.NewNotFittedError("SearchCV", "ProcessFit")
	}
	results, err := Reduce(raw, nSplits, s.opts.IID, s.opts.MaxLen)
	if err != nil {
		return err
	}
	s.Results = results

	best := &BestState{
		Chain:         results.Chains[results.BestIndex],
		Params:        results.BestParams(),
		ParamsAll:     results.BestParamsAll(),
		FeatureLabels: results.FeatureLabels[results.BestIndex],
		Score:         results.BestScore(),
	}
	if s.opts.Refit {
		if err := s.refit(best); err != nil {
			return err
		}
	}
	s.Best = best
	return nil
}

// refit fits a fresh estimator on the full sample set pushed through the
// promoted best chain. Failures here always propagate regardless of the
// error-score setting.
func (s *SearchCV) refit(best *BestState) error {
	Xp, err := best.Chain.Transform(s.spec.X)
	if err != nil {
		return errors.Wrap(err, "refitting best configuration")
	}
	est := s.spec.Estimator.Clone()
	if err := est.SetParams(best.Params); err != nil {
		return err
	}
	if err := est.Fit(Xp, s.spec.Y); err != nil {
		return errors.Wrap(err, "refitting best configuration")
	}
	best.Estimator = est
	return nil
}

// RefitAndScore refits the winning configuration on the train indices,
// scores it on the test indices, and replaces Best with the new fit.
func (s *SearchCV) RefitAndScore(train, test []int) (float64, error) {
	if s.Results == nil {
		return 0, errors.NewNotFittedError("SearchCV", "RefitAndScore")
	}
	XTrain := subsetRows(s.spec.X, train)
	yTrain := subsetVec(s.spec.Y, train)

	chain, est, err := fitConfiguration(s.spec, s.Results.BestParamsAll(), XTrain, yTrain)
	if err != nil {
		return 0, errors.Wrap(err, "refitting best configuration")
	}

	scorer, err := CheckScoring(s.opts.Scoring)
	if err != nil {
		return 0, err
	}
	XTest, err := chain.Transform(subsetRows(s.spec.X, test))
	if err != nil {
		return 0, err
	}
	score, err := scorer(est, XTest, subsetVec(s.spec.Y, test))
	if err != nil {
		return 0, err
	}

	s.Best = &BestState{
		Chain:         chain,
		Estimator:     est,
		Params:        s.Results.BestParams(),
		ParamsAll:     s.Results.BestParamsAll(),
		FeatureLabels: chain.Labels(s.spec.FeatureLabels),
		Score:         score,
	}
	return score, nil
}

// CreateEnsemble builds an ensemble from the retained candidates and
// installs it as the prediction path. On error the previously installed
// ensemble, if any, is left untouched.
func (s *SearchCV) CreateEnsemble(method string, size int) error {
	if s.Results == nil {
		return errors.NewNotFittedError("SearchCV", "CreateEnsemble")
	}
	ens, err := BuildEnsemble(s.spec, s.Results, s.splits, method, size)
	if err != nil {
		return err
	}
	s.Ens = ens
	return nil
}

// BestParams returns the estimator-view configuration of the winner.
func (s *SearchCV) BestParams() (ParamSet, error) {
	if s.Results == nil {
		return nil, errors.NewNotFittedError("SearchCV", "BestParams")
	}
	return s.Results.BestParams(), nil
}

// BestScore returns the winner's mean test score.
func (s *SearchCV) BestScore() (float64, error) {
	if s.Results == nil {
		return 0, errors.NewNotFittedError("SearchCV", "BestScore")
	}
	return s.Results.BestScore(), nil
}

// Predict routes through the ensemble when one is installed, otherwise
// through the refitted best configuration.
func (s *SearchCV) Predict(X mat.Matrix) ([]float64, error) {
	if s.Ens != nil {
		return s.Ens.Predict(X)
	}
	if s.Best == nil || s.Best.Estimator == nil {
		return nil, errors.NewNotFittedError("SearchCV", "Predict")
	}
	Xp, err := s.Best.Chain.Transform(X)
	if err != nil {
		return nil, err
	}
	return s.Best.Estimator.Predict(Xp)
}

// PredictProba returns class probabilities from the ensemble or the best
// configuration.
func (s *SearchCV) PredictProba(X mat.Matrix) (*mat.Dense, error) {
	if s.Ens != nil {
		return s.Ens.PredictProba(X)
	}
	if s.Best == nil || s.Best.Estimator == nil {
		return nil, errors.NewNotFittedError("SearchCV", "PredictProba")
	}
	ps, ok := s.Best.Estimator.(model.ProbaStage)
	if !ok {
		return nil, errors.NewModelError("PredictProba", "estimator does not expose probabilities", nil)
	}
	Xp, err := s.Best.Chain.Transform(X)
	if err != nil {
		return nil, err
	}
	return ps.PredictProba(Xp)
}

// Transform pushes X through the best configuration's preprocessing chain.
func (s *SearchCV) Transform(X mat.Matrix) (*mat.Dense, error) {
	if s.Best == nil {
		return nil, errors.NewNotFittedError("SearchCV", "Transform")
	}
	return s.Best.Chain.Transform(X)
}

// Score evaluates the installed prediction path with the search's scoring
// metric.
func (s *SearchCV) Score(X mat.Matrix, y []float64) (float64, error) {
	if s.Ens != nil {
		scores, err := s.Ens.DecisionScores(X)
		if err != nil {
			return 0, err
		}
		return computePerformanceOrAccuracy(s.opts.Scoring, y, scores)
	}
	if s.Best == nil || s.Best.Estimator == nil {
		return 0, errors.NewNotFittedError("SearchCV", "Score")
	}
	scorer, err := CheckScoring(s.opts.Scoring)
	if err != nil {
		return 0, err
	}
	Xp, err := s.Best.Chain.Transform(X)
	if err != nil {
		return 0, err
	}
	return scorer(s.Best.Estimator, Xp, y)
}

func computePerformanceOrAccuracy(scoring string, yTruth, yScore []float64) (float64, error) {
	if perf, err := computePerformance(scoring, yTruth, yScore); err == nil {
		return perf, nil
	}
	return metrics.Accuracy(yTruth, metrics.Binarize(yScore))
}

// SavedSearch is the serialized bundle of a finished search: the ranked
// table, the refitted best state, and the ensemble when one was built.
type SavedSearch struct {
	Results *CVResults
	Best    *BestState
	Ens     *Ensemble
	Scoring string
}

// Save writes the trained bundle with gob. Estimator implementations must
// be registered via model.RegisterGobType before saving.
func (s *SearchCV) Save(w io.Writer) error {
	if s.Results == nil {
		return errors.NewNotFittedError("SearchCV", "Save")
	}
	return model.SaveTo(SavedSearch{
		Results: s.Results,
		Best:    s.Best,
		Ens:     s.Ens,
		Scoring: s.opts.Scoring,
	}, w)
}

// LoadSaved reads a trained bundle written by Save.
func LoadSaved(r io.Reader) (*SavedSearch, error) {
	var b SavedSearch
	if err := model.LoadFrom(&b, r); err != nil {
		return nil, err
	}
	return &b, nil
}

// Predict routes through the saved ensemble or best state.
func (b *SavedSearch) Predict(X mat.Matrix) ([]float64, error) {
	if b.Ens != nil {
		return b.Ens.Predict(X)
	}
	if b.Best == nil || b.Best.Estimator == nil {
		return nil, errors.NewNotFittedError("SavedSearch", "Predict")
	}
	Xp, err := b.Best.Chain.Transform(X)
	if err != nil {
		return nil, err
	}
	return b.Best.Estimator.Predict(Xp)
}
