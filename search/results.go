package search

import (
	"container/heap"
	"math"
	"sort"

	"github.com/scisearch/scisearch/pkg/errors"
)

// CVResults is the ranked, bounded-size result table of one search. Rows
// are ordered by rank: mean test score descending, ties broken by original
// candidate index ascending. Rank values are computed over the full,
// untruncated candidate set before retention, so a retained row keeps its
// global rank.
type CVResults struct {
	MeanTestScore []float64
	StdTestScore  []float64

	HasTrain       bool
	MeanTrainScore []float64
	StdTrainScore  []float64

	MeanFitTime   []float64
	StdFitTime    []float64
	MeanScoreTime []float64
	StdScoreTime  []float64

	// Rank is the 1-based "min" rank: tied scores share the lowest rank
	// of the tie group.
	Rank []int
	// CandidateIndex maps each retained row back to its original
	// candidate index.
	CandidateIndex []int

	ParamsEst     []ParamSet
	ParamsAll     []ParamSet
	FeatureLabels [][]string
	// Chains holds each retained candidate's first-split fitted
	// preprocessing artifacts; the rank-1 row's chain is promoted to the
	// search's best state.
	Chains []FittedChain

	NSplits int
	// BestIndex is the row of the rank-1 candidate.
	BestIndex int
}

// Len returns the number of retained rows.
func (r *CVResults) Len() int { return len(r.MeanTestScore) }

// BestParams returns the estimator-view configuration of the winner.
func (r *CVResults) BestParams() ParamSet { return r.ParamsEst[r.BestIndex] }

// BestParamsAll returns the full configuration of the winner.
func (r *CVResults) BestParamsAll() ParamSet { return r.ParamsAll[r.BestIndex] }

// BestScore returns the winner's mean test score.
func (r *CVResults) BestScore() float64 { return r.MeanTestScore[r.BestIndex] }

// Reduce folds raw per-(candidate, split) results into a CVResults table.
// raw must be candidate-major, split-minor with exactly nSplits entries per
// candidate. When iid is true, per-candidate means and standard deviations
// of the test score are weighted by test sample counts. maxLen bounds the
// number of retained rows; <= 0 keeps everything.
func Reduce(raw []RawResult, nSplits int, iid bool, maxLen int) (*CVResults, error) {
	if nSplits < 1 {
		return nil, errors.NewValueError("Reduce", "nSplits must be at least 1")
	}
	if len(raw) == 0 || len(raw)%nSplits != 0 {
		return nil, errors.Newf("scisearch: %d raw results do not decompose into %d splits per candidate", len(raw), nSplits)
	}
	nCand := len(raw) / nSplits

	means := make([]float64, nCand)
	stds := make([]float64, nCand)
	trainMeans := make([]float64, nCand)
	trainStds := make([]float64, nCand)
	fitMeans := make([]float64, nCand)
	fitStds := make([]float64, nCand)
	scoreMeans := make([]float64, nCand)
	scoreStds := make([]float64, nCand)

	hasTrain := raw[0].HasTrain
	scratch := make([]float64, nSplits)
	weights := make([]float64, nSplits)

	for c := 0; c < nCand; c++ {
		base := c * nSplits
		for s := 0; s < nSplits; s++ {
			weights[s] = 1
			if iid {
				weights[s] = float64(raw[base+s].NTestSamples)
			}
		}

		collect := func(get func(RawResult) float64, weighted bool) (float64, float64) {
			for s := 0; s < nSplits; s++ {
				scratch[s] = get(raw[base+s])
			}
			if weighted {
				return weightedMeanStd(scratch, weights)
			}
			return weightedMeanStd(scratch, nil)
		}

		// Only score aggregation honors iid weighting; timings are
		// always unweighted.
		means[c], stds[c] = collect(func(r RawResult) float64 { return r.TestScore }, true)
		if hasTrain {
			trainMeans[c], trainStds[c] = collect(func(r RawResult) float64 { return r.TrainScore }, true)
		}
		fitMeans[c], fitStds[c] = collect(func(r RawResult) float64 { return r.FitTime.Seconds() }, false)
		scoreMeans[c], scoreStds[c] = collect(func(r RawResult) float64 { return r.ScoreTime.Seconds() }, false)
	}

	retained := selectTop(means, maxLen)

	res := &CVResults{
		HasTrain: hasTrain,
		NSplits:  nSplits,
	}

	// Rank of a mean is one plus the number of strictly greater means
	// over the full candidate set.
	sortedMeans := append([]float64(nil), means...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sortedMeans)))
	rankOf := func(m float64) int {
		return sort.Search(len(sortedMeans), func(i int) bool { return sortedMeans[i] <= m }) + 1
	}

	for _, c := range retained {
		res.MeanTestScore = append(res.MeanTestScore, means[c])
		res.StdTestScore = append(res.StdTestScore, stds[c])
		if hasTrain {
			res.MeanTrainScore = append(res.MeanTrainScore, trainMeans[c])
			res.StdTrainScore = append(res.StdTrainScore, trainStds[c])
		}
		res.MeanFitTime = append(res.MeanFitTime, fitMeans[c])
		res.StdFitTime = append(res.StdFitTime, fitStds[c])
		res.MeanScoreTime = append(res.MeanScoreTime, scoreMeans[c])
		res.StdScoreTime = append(res.StdScoreTime, scoreStds[c])
		res.Rank = append(res.Rank, rankOf(means[c]))

		res.CandidateIndex = append(res.CandidateIndex, c)
		first := raw[c*nSplits]
		res.ParamsEst = append(res.ParamsEst, first.ParamsEst)
		res.ParamsAll = append(res.ParamsAll, first.ParamsAll)
		res.FeatureLabels = append(res.FeatureLabels, first.FeatureLabels)
		res.Chains = append(res.Chains, first.Chain)
	}

	res.BestIndex = -1
	for i, r := range res.Rank {
		if r == 1 {
			res.BestIndex = i
			break
		}
	}
	if res.BestIndex < 0 {
		return nil, errors.NewInvariantError("Reduce", "exactly one retained candidate holds rank 1")
	}
	return res, nil
}

// weightedMeanStd computes the weighted mean and the weighted population
// standard deviation. nil weights means unweighted.
func weightedMeanStd(vals, weights []float64) (float64, float64) {
	var sumW, sum float64
	for i, v := range vals {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		sumW += w
		sum += w * v
	}
	if sumW == 0 {
		return 0, 0
	}
	mean := sum / sumW

	var sq float64
	for i, v := range vals {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		d := v - mean
		sq += w * d * d
	}
	return mean, math.Sqrt(sq / sumW)
}

// candHeap is a min-heap ordered worst-first under the retention order
// (mean score descending, candidate index ascending), so the root is the
// first row to evict.
type candHeap struct {
	idx   []int
	means []float64
}

func (h *candHeap) Len() int { return len(h.idx) }
func (h *candHeap) Less(i, j int) bool {
	a, b := h.idx[i], h.idx[j]
	if h.means[a] != h.means[b] {
		return h.means[a] < h.means[b]
	}
	return a > b
}
func (h *candHeap) Swap(i, j int)      { h.idx[i], h.idx[j] = h.idx[j], h.idx[i] }
func (h *candHeap) Push(x interface{}) { h.idx = append(h.idx, x.(int)) }
func (h *candHeap) Pop() interface{} {
	n := len(h.idx)
	v := h.idx[n-1]
	h.idx = h.idx[:n-1]
	return v
}

// selectTop returns up to maxLen candidate indices in retention order
// without sorting the full candidate set.
func selectTop(means []float64, maxLen int) []int {
	n := len(means)
	if maxLen <= 0 || maxLen > n {
		maxLen = n
	}

	h := &candHeap{means: means, idx: make([]int, 0, maxLen+1)}
	for c := 0; c < n; c++ {
		heap.Push(h, c)
		if h.Len() > maxLen {
			heap.Pop(h)
		}
	}

	out := make([]int, h.Len())
	for i := h.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(int)
	}
	return out
}
