package search

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/scisearch/scisearch/core/model"
	"github.com/scisearch/scisearch/pkg/errors"
	"github.com/scisearch/scisearch/preprocessing"
)

// FittedChain holds the fitted preprocessing artifacts of one candidate.
// Steps disabled by the configuration stay nil and are skipped at transform
// time. Transform order matches fitting order: group selection, imputation,
// model-based selection, variance selection, statistical selection, scaling,
// PCA.
type FittedChain struct {
	GroupSel *preprocessing.GroupSelector
	Imputer  *preprocessing.Imputer
	ModelSel *preprocessing.ModelSelector
	VarSel   *preprocessing.VarianceSelector
	StatSel  *preprocessing.StatisticalSelector
	Scaler   *preprocessing.StandardScaler
	PCA      *preprocessing.PCA
}

// Transform pushes X through the fitted chain.
func (c *FittedChain) Transform(X mat.Matrix) (*mat.Dense, error) {
	out := mat.DenseCopyOf(X)
	var err error

	if c.GroupSel != nil {
		if out, err = c.GroupSel.Transform(out); err != nil {
			return nil, err
		}
	}
	if c.Imputer != nil {
		if out, err = c.Imputer.Transform(out); err != nil {
			return nil, err
		}
	}
	// NaNs surviving imputation (or present with imputation disabled) are
	// zeroed so downstream fits stay finite.
	replaceNaN(out)

	if c.ModelSel != nil {
		if out, err = c.ModelSel.Transform(out); err != nil {
			return nil, err
		}
	}
	if c.VarSel != nil {
		if out, err = c.VarSel.Transform(out); err != nil {
			return nil, err
		}
	}
	if c.StatSel != nil {
		if out, err = c.StatSel.Transform(out); err != nil {
			return nil, err
		}
	}
	if c.Scaler != nil {
		if out, err = c.Scaler.Transform(out); err != nil {
			return nil, err
		}
	}
	if c.PCA != nil {
		if out, err = c.PCA.Transform(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Labels returns the feature labels surviving the chain.
func (c *FittedChain) Labels(labels []string) []string {
	out := labels
	if c.GroupSel != nil {
		out = preprocessing.SelectLabels(out, c.GroupSel.Support())
	}
	if c.ModelSel != nil {
		out = preprocessing.SelectLabels(out, c.ModelSel.Support())
	}
	if c.VarSel != nil {
		out = preprocessing.SelectLabels(out, c.VarSel.Support())
	}
	if c.StatSel != nil {
		out = preprocessing.SelectLabels(out, c.StatSel.Support())
	}
	if c.PCA != nil {
		k := c.PCA.NKept()
		out = make([]string, k)
		for i := range out {
			out[i] = fmt.Sprintf("pca_%d", i)
		}
	}
	return out
}

func replaceNaN(X *mat.Dense) {
	r, c := X.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if math.IsNaN(X.At(i, j)) {
				X.Set(i, j, 0)
			}
		}
	}
}

// RawResult is the outcome of one (candidate, split) fit-evaluate task.
// Created once by a task, consumed exactly once by the reducer, never
// mutated afterward.
type RawResult struct {
	TestScore    float64
	TrainScore   float64
	HasTrain     bool
	NTestSamples int
	FitTime      time.Duration
	ScoreTime    time.Duration

	// ParamsEst is the estimator-only view; ParamsAll is the full
	// configuration actually used. ParamsEst is always a sub-mapping of
	// ParamsAll for the same candidate.
	ParamsEst ParamSet
	ParamsAll ParamSet

	Chain         FittedChain
	FeatureLabels []string

	// estimator holds the fitted stage for in-process callers; it does not
	// travel through the distributed backend.
	estimator model.Stage
}

// ErrorScore selects how a failing fit-evaluate task is handled. The zero
// value propagates the error and aborts the whole search.
type ErrorScore struct {
	// Absorb records the failure as Value and continues the search.
	Absorb bool
	Value  float64
}

// RaiseErrors aborts the whole search on the first task failure. This is
// the default.
func RaiseErrors() ErrorScore { return ErrorScore{} }

// ErrorScoreValue records failures as the given score and continues.
func ErrorScoreValue(v float64) ErrorScore { return ErrorScore{Absorb: true, Value: v} }

// TaskSpec carries the fixed per-search inputs shared by every fit-evaluate
// task. In the distributed backend it is serialized once.
type TaskSpec struct {
	Estimator     model.Stage
	X             *mat.Dense
	Y             []float64
	FeatureLabels []string

	Scoring          string
	ReturnTrainScore bool
	ErrorScore       ErrorScore
}

// buildChain constructs and fits the preprocessing chain a configuration
// asks for on the training subset.
func buildChain(params ParamSet, X *mat.Dense, y []float64, labels []string) (FittedChain, *mat.Dense, error) {
	var chain FittedChain

	if groups := paramStrings(params, "feature_groups"); len(groups) > 0 {
		chain.GroupSel = preprocessing.NewGroupSelector(groups, labels)
	}
	if strategy := paramString(params, "imputation", ""); strategy != "" {
		chain.Imputer = preprocessing.NewImputer(strategy, paramInt(params, "imputation_neighbors", 5))
	}
	if paramBool(params, "model_selection", false) {
		chain.ModelSel = preprocessing.NewModelSelector()
	}
	if v, ok := paramFloatOK(params, "variance_threshold"); ok {
		chain.VarSel = preprocessing.NewVarianceSelector(v)
	}
	if test := paramString(params, "statistical_test", ""); test != "" {
		chain.StatSel = preprocessing.NewStatisticalSelector(test, paramFloat(params, "statistical_threshold", 0.05))
	}
	if paramBool(params, "scaling", false) {
		chain.Scaler = preprocessing.NewStandardScaler(true, true)
	}
	if paramBool(params, "pca", false) {
		chain.PCA = preprocessing.NewPCA(paramInt(params, "pca_components", 0))
	}

	// Fit stages in order, each on the output of the previous one.
	cur := mat.DenseCopyOf(X)
	fit := func(t model.Transformer) error {
		if err := t.Fit(cur, y); err != nil {
			return err
		}
		next, err := t.Transform(cur)
		if err != nil {
			return err
		}
		cur = next
		return nil
	}

	if chain.GroupSel != nil {
		if err := fit(chain.GroupSel); err != nil {
			return chain, nil, err
		}
	}
	if chain.Imputer != nil {
		if err := fit(chain.Imputer); err != nil {
			return chain, nil, err
		}
	}
	replaceNaN(cur)
	if chain.ModelSel != nil {
		if err := fit(chain.ModelSel); err != nil {
			return chain, nil, err
		}
	}
	if chain.VarSel != nil {
		if err := fit(chain.VarSel); err != nil {
			return chain, nil, err
		}
	}
	if chain.StatSel != nil {
		if err := fit(chain.StatSel); err != nil {
			return chain, nil, err
		}
	}
	if chain.Scaler != nil {
		if err := fit(chain.Scaler); err != nil {
			return chain, nil, err
		}
	}
	if chain.PCA != nil {
		if err := fit(chain.PCA); err != nil {
			return chain, nil, err
		}
	}
	return chain, cur, nil
}

// FitAndScore runs one fit-evaluate task: clone the estimator template,
// apply the candidate configuration, fit the preprocessing chain and the
// estimator on the train split, score on the test split. A failing fit
// either propagates or is absorbed as the configured error score.
func FitAndScore(spec *TaskSpec, params ParamSet, split Split, candidate, splitIdx int) (RawResult, error) {
	scorer, err := CheckScoring(spec.Scoring)
	if err != nil {
		return RawResult{}, err
	}

	paramsEst := params.Filter(spec.Estimator.ParamNames())
	res := RawResult{
		NTestSamples: len(split.Test),
		ParamsEst:    paramsEst,
		ParamsAll:    params.Clone(),
		HasTrain:     spec.ReturnTrainScore,
	}

	run := func() error {
		return errors.SafeExecute("FitAndScore", func() error {
			fitStart := time.Now()

			XTrain := subsetRows(spec.X, split.Train)
			yTrain := subsetVec(spec.Y, split.Train)

			chain, XPrep, err := buildChain(params, XTrain, yTrain, spec.FeatureLabels)
			if err != nil {
				return err
			}

			est := spec.Estimator.Clone()
			if err := est.SetParams(paramsEst); err != nil {
				return err
			}
			if err := est.Fit(XPrep, yTrain); err != nil {
				return err
			}
			res.FitTime = time.Since(fitStart)

			scoreStart := time.Now()
			XTest, err := chain.Transform(subsetRows(spec.X, split.Test))
			if err != nil {
				return err
			}
			testScore, err := scorer(est, XTest, subsetVec(spec.Y, split.Test))
			if err != nil {
				return err
			}
			res.TestScore = testScore

			if spec.ReturnTrainScore {
				trainScore, err := scorer(est, XPrep, yTrain)
				if err != nil {
					return err
				}
				res.TrainScore = trainScore
			}
			res.ScoreTime = time.Since(scoreStart)

			res.Chain = chain
			res.FeatureLabels = chain.Labels(spec.FeatureLabels)
			res.estimator = est
			return nil
		})
	}

	if err := run(); err != nil {
		if !spec.ErrorScore.Absorb {
			return RawResult{}, errors.Wrapf(err, "fit failed for candidate %d on split %d", candidate, splitIdx)
		}
		errors.Warn(errors.NewFitFailedWarning(candidate, splitIdx, spec.ErrorScore.Value, err))
		res.TestScore = spec.ErrorScore.Value
		res.TrainScore = spec.ErrorScore.Value
		res.Chain = FittedChain{}
		res.FeatureLabels = spec.FeatureLabels
		res.estimator = nil
	}
	return res, nil
}

func subsetRows(X *mat.Dense, idx []int) *mat.Dense {
	_, c := X.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, row := range idx {
		for j := 0; j < c; j++ {
			out.Set(i, j, X.At(row, j))
		}
	}
	return out
}

func subsetVec(y []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, row := range idx {
		out[i] = y[row]
	}
	return out
}

// Parameter coercion helpers. Grid values travel as interface{}, so numeric
// values may arrive as int or float64.

func paramBool(p ParamSet, key string, def bool) bool {
	if v, ok := p[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func paramString(p ParamSet, key, def string) string {
	if v, ok := p[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func paramStrings(p ParamSet, key string) []string {
	v, ok := p[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func paramInt(p ParamSet, key string, def int) int {
	if v, ok := p[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

func paramFloat(p ParamSet, key string, def float64) float64 {
	if v, ok := paramFloatOK(p, key); ok {
		return v
	}
	return def
}

func paramFloatOK(p ParamSet, key string) (float64, bool) {
	if v, ok := p[key]; ok {
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		}
	}
	return 0, false
}
