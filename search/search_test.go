package search

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/scisearch/scisearch/core/model"
	scierrors "github.com/scisearch/scisearch/pkg/errors"
)

func init() {
	model.RegisterGobType(&thresholdClassifier{})
}

// thresholdClassifier predicts class 1 when the first feature exceeds the
// threshold. Deterministic, so search outcomes are exactly reproducible.
type thresholdClassifier struct {
	model.BaseEstimator
	Threshold float64
	FailFit   bool
}

func (c *thresholdClassifier) Kind() model.Kind { return model.KindClassifier }

func (c *thresholdClassifier) Capabilities() model.CapSet {
	return model.Caps(model.CapFit, model.CapPredict, model.CapPredictProba)
}

func (c *thresholdClassifier) ParamNames() []string { return []string{"threshold", "fail"} }

func (c *thresholdClassifier) SetParams(params map[string]interface{}) error {
	for name, v := range params {
		switch name {
		case "threshold":
			switch n := v.(type) {
			case float64:
				c.Threshold = n
			case int:
				c.Threshold = float64(n)
			default:
				return scierrors.NewValidationError(name, "expected a number", v)
			}
		case "fail":
			b, ok := v.(bool)
			if !ok {
				return scierrors.NewValidationError(name, "expected a bool", v)
			}
			c.FailFit = b
		default:
			return scierrors.NewValidationError(name, "unknown parameter", v)
		}
	}
	return nil
}

func (c *thresholdClassifier) Clone() model.Stage {
	return &thresholdClassifier{Threshold: c.Threshold, FailFit: c.FailFit}
}

func (c *thresholdClassifier) Fit(X mat.Matrix, y []float64) error {
	if c.FailFit {
		return scierrors.New("induced fit failure")
	}
	c.SetFitted()
	return nil
}

func (c *thresholdClassifier) Predict(X mat.Matrix) ([]float64, error) {
	if !c.IsFitted() {
		return nil, scierrors.NewNotFittedError("thresholdClassifier", "Predict")
	}
	r, _ := X.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		if X.At(i, 0) > c.Threshold {
			out[i] = 1
		}
	}
	return out, nil
}

func (c *thresholdClassifier) PredictProba(X mat.Matrix) (*mat.Dense, error) {
	pred, err := c.Predict(X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(pred), 2, nil)
	for i, p := range pred {
		out.Set(i, 0, 1-p)
		out.Set(i, 1, p)
	}
	return out, nil
}

// twoClassData builds n samples alternating between classes, with the
// first feature separating them at zero.
func twoClassData(n int) (*mat.Dense, []float64, []string) {
	X := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		cls := float64(i % 2)
		y[i] = cls
		X.Set(i, 0, 2*cls-1)
		X.Set(i, 1, 0.5)
	}
	return X, y, []string{"signal", "noise"}
}

func TestGridSearchCVFit(t *testing.T) {
	X, y, labels := twoClassData(40)

	cv, err := NewGridSearchCV(
		&thresholdClassifier{},
		ParameterGrid{"threshold": {-5.0, 0.0, 5.0}},
		NewKFold(4, false, 0),
		Options{Refit: true},
	)
	require.NoError(t, err)
	require.NoError(t, cv.Fit(context.Background(), X, y, labels))

	best, err := cv.BestParams()
	require.NoError(t, err)
	assert.Equal(t, 0.0, best["threshold"])

	score, err := cv.BestScore()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-12)

	require.NotNil(t, cv.Best)
	assert.Equal(t, labels, cv.Best.FeatureLabels)

	pred, err := cv.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, y, pred)
}

func TestGridSearchCVRankInvariant(t *testing.T) {
	X, y, labels := twoClassData(24)

	cv, err := NewGridSearchCV(
		&thresholdClassifier{},
		ParameterGrid{"threshold": {-5.0, -2.0, 0.0, 2.0, 5.0}},
		NewKFold(3, false, 0),
		Options{},
	)
	require.NoError(t, err)
	require.NoError(t, cv.Fit(context.Background(), X, y, labels))

	rankOnes := 0
	bestMean := cv.Results.MeanTestScore[cv.Results.BestIndex]
	for i, r := range cv.Results.Rank {
		if r == 1 {
			rankOnes++
			assert.Equal(t, cv.Results.BestIndex, i, "first rank-1 row is the best index")
		}
		assert.LessOrEqual(t, cv.Results.MeanTestScore[i], bestMean)
	}
	assert.GreaterOrEqual(t, rankOnes, 1)
	assert.Equal(t, 1, cv.Results.Rank[0], "rows are in rank order")
}

func TestBestStatePromotion(t *testing.T) {
	X, y, labels := twoClassData(40)
	// A drifting second feature makes the fold-fitted scaler mean
	// distinguishable from a full-sample fit.
	for i := 0; i < 40; i++ {
		X.Set(i, 1, float64(i))
	}
	grid := ParameterGrid{"threshold": {0.0}, "scaling": {true}}
	kf := NewKFold(4, false, 0)

	splits := kf.Split(X, y)
	var foldMean, fullMean float64
	for _, i := range splits[0].Train {
		foldMean += X.At(i, 1)
	}
	foldMean /= float64(len(splits[0].Train))
	for i := 0; i < 40; i++ {
		fullMean += X.At(i, 1)
	}
	fullMean /= 40
	require.NotEqual(t, fullMean, foldMean)

	t.Run("artifacts promoted without refit", func(t *testing.T) {
		cv, err := NewGridSearchCV(&thresholdClassifier{}, grid, kf, Options{})
		require.NoError(t, err)
		require.NoError(t, cv.Fit(context.Background(), X, y, labels))

		require.NotNil(t, cv.Best)
		assert.Nil(t, cv.Best.Estimator)
		require.NotNil(t, cv.Best.Chain.Scaler)
		assert.InDelta(t, foldMean, cv.Best.Chain.Scaler.Mean[1], 1e-12)

		out, err := cv.Transform(X)
		require.NoError(t, err)
		r, _ := out.Dims()
		assert.Equal(t, 40, r)

		_, err = cv.Predict(X)
		assert.Error(t, err, "prediction needs a refit estimator")
	})

	t.Run("refit keeps the fold-fitted chain", func(t *testing.T) {
		cv, err := NewGridSearchCV(&thresholdClassifier{}, grid, kf, Options{Refit: true})
		require.NoError(t, err)
		require.NoError(t, cv.Fit(context.Background(), X, y, labels))

		require.NotNil(t, cv.Best.Estimator)
		require.NotNil(t, cv.Best.Chain.Scaler)
		assert.InDelta(t, foldMean, cv.Best.Chain.Scaler.Mean[1], 1e-12)

		pred, err := cv.Predict(X)
		require.NoError(t, err)
		assert.Equal(t, y, pred)
	})

	t.Run("artifacts travel through the graph backend", func(t *testing.T) {
		cv, err := NewGridSearchCV(&thresholdClassifier{}, grid, kf, Options{
			Backend: &GraphBackend{Engine: LocalEngine{}, Root: t.TempDir()},
		})
		require.NoError(t, err)
		require.NoError(t, cv.Fit(context.Background(), X, y, labels))

		require.NotNil(t, cv.Best.Chain.Scaler)
		assert.InDelta(t, foldMean, cv.Best.Chain.Scaler.Mean[1], 1e-12)
	})
}

func TestFitRejectsDegenerateFolds(t *testing.T) {
	X, y, labels := twoClassData(4)
	grid := ParameterGrid{"threshold": {0.0}}

	t.Run("more folds than samples", func(t *testing.T) {
		cv, err := NewGridSearchCV(&thresholdClassifier{}, grid, NewKFold(5, false, 0), Options{})
		require.NoError(t, err)

		err = cv.Fit(context.Background(), X, y, labels)
		require.Error(t, err)
		var ve *scierrors.ValidationError
		assert.ErrorAs(t, err, &ve)
		assert.Nil(t, cv.Results)
	})

	t.Run("stratified deal leaves empty folds", func(t *testing.T) {
		// Two classes of two samples dealt over four folds leave the
		// trailing folds without test samples.
		cv, err := NewGridSearchCV(&thresholdClassifier{}, grid, NewStratifiedKFold(4, false, 0), Options{})
		require.NoError(t, err)

		err = cv.Fit(context.Background(), X, y, labels)
		require.Error(t, err)
		var ve *scierrors.ValidationError
		assert.ErrorAs(t, err, &ve)
		assert.Nil(t, cv.Results)
	})
}

func TestRandomizedSearchCVSeedDeterminism(t *testing.T) {
	X, y, labels := twoClassData(24)

	run := func() []ParamSet {
		cv, err := NewRandomizedSearchCV(
			&thresholdClassifier{},
			ParameterDistributions{"threshold": Uniform{Lo: -5, Hi: 5}},
			NewKFold(3, false, 0),
			Options{NIter: 8, RandomState: 99},
		)
		require.NoError(t, err)
		require.NoError(t, cv.Fit(context.Background(), X, y, labels))
		return cv.Results.ParamsAll
	}

	first := run()
	second := run()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i]["threshold"], second[i]["threshold"])
	}
}

func TestSearchCVErrorScore(t *testing.T) {
	X, y, labels := twoClassData(20)
	grid := ParameterGrid{
		"threshold": {0.0},
		"fail":      {false, true},
	}

	t.Run("raise aborts the search", func(t *testing.T) {
		cv, err := NewGridSearchCV(&thresholdClassifier{}, grid, NewKFold(2, false, 0), Options{})
		require.NoError(t, err)
		assert.Error(t, cv.Fit(context.Background(), X, y, labels))
	})

	t.Run("numeric fallback absorbs the failure", func(t *testing.T) {
		var warnings []error
		scierrors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
		defer scierrors.SetWarningHandler(nil)

		cv, err := NewGridSearchCV(&thresholdClassifier{}, grid, NewKFold(2, false, 0), Options{
			ErrorScore: ErrorScoreValue(0.25),
		})
		require.NoError(t, err)
		require.NoError(t, cv.Fit(context.Background(), X, y, labels))

		// One candidate fails on both splits and lands at the fallback
		// score; the healthy candidate wins.
		require.Equal(t, 2, cv.Results.Len())
		assert.InDelta(t, 1.0, cv.Results.MeanTestScore[0], 1e-12)
		assert.InDelta(t, 0.25, cv.Results.MeanTestScore[1], 1e-12)

		require.NotEmpty(t, warnings)
		var ffw *scierrors.FitFailedWarning
		require.ErrorAs(t, warnings[0], &ffw)
		assert.Equal(t, 0.25, ffw.ErrorScore)
	})
}

func TestBackendEquivalence(t *testing.T) {
	X, y, labels := twoClassData(24)
	grid := ParameterGrid{"threshold": {-5.0, -1.0, 1.0, 5.0}}

	runWith := func(backend Backend) *CVResults {
		cv, err := NewGridSearchCV(&thresholdClassifier{}, grid, NewKFold(3, false, 0), Options{
			Backend:          backend,
			ReturnTrainScore: true,
		})
		require.NoError(t, err)
		require.NoError(t, cv.Fit(context.Background(), X, y, labels))
		return cv.Results
	}

	local := runWith(nil)
	graph := runWith(&GraphBackend{Engine: LocalEngine{}, Root: t.TempDir(), CandidatesPerJob: 3})

	require.Equal(t, local.Len(), graph.Len())
	assert.Equal(t, local.Rank, graph.Rank)
	assert.Equal(t, local.CandidateIndex, graph.CandidateIndex)
	for i := 0; i < local.Len(); i++ {
		assert.InDelta(t, local.MeanTestScore[i], graph.MeanTestScore[i], 1e-12)
		assert.InDelta(t, local.StdTestScore[i], graph.StdTestScore[i], 1e-12)
		assert.InDelta(t, local.MeanTrainScore[i], graph.MeanTrainScore[i], 1e-12)
		assert.Equal(t, local.ParamsAll[i]["threshold"], graph.ParamsAll[i]["threshold"])
	}
}

func TestGraphBackendKeepsWorkDirOnFailure(t *testing.T) {
	X, y, labels := twoClassData(20)
	root := t.TempDir()

	cv, err := NewGridSearchCV(
		&thresholdClassifier{},
		ParameterGrid{"threshold": {0.0}, "fail": {true}},
		NewKFold(2, false, 0),
		Options{Backend: &GraphBackend{Engine: LocalEngine{}, Root: root}},
	)
	require.NoError(t, err)
	require.Error(t, cv.Fit(context.Background(), X, y, labels))

	// The working directory survives for inspection.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestSearchCVSaveRoundTrip(t *testing.T) {
	X, y, labels := twoClassData(30)

	cv, err := NewGridSearchCV(
		&thresholdClassifier{},
		ParameterGrid{"threshold": {-5.0, 0.0, 5.0}},
		NewKFold(3, false, 0),
		Options{Refit: true},
	)
	require.NoError(t, err)
	require.NoError(t, cv.Fit(context.Background(), X, y, labels))

	var buf bytes.Buffer
	require.NoError(t, cv.Save(&buf))

	loaded, err := LoadSaved(&buf)
	require.NoError(t, err)
	assert.Equal(t, cv.Results.Rank, loaded.Results.Rank)

	XHeld, yHeld, _ := twoClassData(10)
	want, err := cv.Predict(XHeld)
	require.NoError(t, err)
	got, err := loaded.Predict(XHeld)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, yHeld, got)
}

func TestRefitAndScore(t *testing.T) {
	X, y, labels := twoClassData(30)

	cv, err := NewGridSearchCV(
		&thresholdClassifier{},
		ParameterGrid{"threshold": {-5.0, 0.0}},
		NewKFold(3, false, 0),
		Options{Refit: true},
	)
	require.NoError(t, err)
	require.NoError(t, cv.Fit(context.Background(), X, y, labels))

	train := make([]int, 0, 20)
	test := make([]int, 0, 10)
	for i := 0; i < 30; i++ {
		if i < 20 {
			train = append(train, i)
		} else {
			test = append(test, i)
		}
	}

	score, err := cv.RefitAndScore(train, test)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-12)
	assert.InDelta(t, score, cv.Best.Score, 1e-12)
}
