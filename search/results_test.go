package search

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawFor builds a candidate-major, split-minor raw result list from
// per-candidate per-split test scores and sample counts.
func rawFor(scores [][]float64, counts [][]int) []RawResult {
	var out []RawResult
	for c, perSplit := range scores {
		for s, v := range perSplit {
			n := 10
			if counts != nil {
				n = counts[c][s]
			}
			out = append(out, RawResult{
				TestScore:    v,
				NTestSamples: n,
				FitTime:      time.Millisecond,
				ScoreTime:    time.Millisecond,
				ParamsEst:    ParamSet{"c": c},
				ParamsAll:    ParamSet{"c": c},
			})
		}
	}
	return out
}

func TestReduceWeightedMean(t *testing.T) {
	raw := rawFor(
		[][]float64{{0.9, 0.5}},
		[][]int{{3, 7}},
	)

	t.Run("unweighted", func(t *testing.T) {
		res, err := Reduce(raw, 2, false, 0)
		require.NoError(t, err)
		assert.InDelta(t, 0.7, res.MeanTestScore[0], 1e-12)
	})

	t.Run("iid weights by test sample count", func(t *testing.T) {
		res, err := Reduce(raw, 2, true, 0)
		require.NoError(t, err)
		assert.InDelta(t, 0.62, res.MeanTestScore[0], 1e-12)
	})
}

func TestReduceRankMin(t *testing.T) {
	// Candidates 1 and 2 tie; ties share the lowest rank.
	raw := rawFor([][]float64{{0.5}, {0.9}, {0.9}, {0.7}}, nil)

	res, err := Reduce(raw, 1, false, 0)
	require.NoError(t, err)

	require.Equal(t, 4, res.Len())
	assert.Equal(t, []int{1, 1, 3, 4}, res.Rank)
	assert.Equal(t, []int{1, 2, 3, 0}, res.CandidateIndex, "ties break by original candidate index")
	assert.Equal(t, 0, res.BestIndex)
	assert.InDelta(t, 0.9, res.BestScore(), 1e-12)
}

func TestReduceRetentionKeepsGlobalBest(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 11))
	scores := make([][]float64, 500)
	bestIdx := 0
	bestScore := -1.0
	for c := range scores {
		v := rng.Float64()
		scores[c] = []float64{v}
		if v > bestScore {
			bestScore = v
			bestIdx = c
		}
	}

	res, err := Reduce(rawFor(scores, nil), 1, false, 100)
	require.NoError(t, err)

	assert.Equal(t, 100, res.Len())
	assert.Equal(t, 1, res.Rank[0])
	assert.Equal(t, bestIdx, res.CandidateIndex[0], "globally best candidate survives truncation")
	assert.InDelta(t, bestScore, res.BestScore(), 1e-12)

	// Rows stay in rank order after truncation.
	for i := 1; i < res.Len(); i++ {
		assert.GreaterOrEqual(t, res.MeanTestScore[i-1], res.MeanTestScore[i])
	}
}

func TestReduceInputValidation(t *testing.T) {
	raw := rawFor([][]float64{{0.5, 0.6}}, nil)

	_, err := Reduce(raw, 3, false, 0)
	assert.Error(t, err, "raw length must decompose into splits")

	_, err = Reduce(nil, 2, false, 0)
	assert.Error(t, err)
}

func TestSelectTopTieBreak(t *testing.T) {
	means := []float64{0.5, 0.9, 0.9, 0.9, 0.1}

	got := selectTop(means, 2)
	assert.Equal(t, []int{1, 2}, got, "equal scores keep the lower candidate index")
}
