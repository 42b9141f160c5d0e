package search

import (
	"context"

	"github.com/scisearch/scisearch/core/parallel"
	"github.com/scisearch/scisearch/pkg/log"
)

// Backend executes the cross product of candidates and splits and returns
// one raw result per (candidate, split) pair in candidate-major, split-minor
// order: all splits of candidate 0, then all splits of candidate 1, and so
// on. Implementations never reorder, drop, or duplicate results.
type Backend interface {
	Run(ctx context.Context, spec *TaskSpec, candidates []ParamSet, splits []Split) ([]RawResult, error)
}

// LocalBackend runs fit-evaluate tasks in-process on a bounded worker pool.
type LocalBackend struct {
	// NJobs caps concurrent workers; <= 0 means one per CPU.
	NJobs int
	// PreDispatch caps tasks materialized ahead of completion; <= 0 means
	// 2*NJobs.
	PreDispatch int
}

// Run executes every (candidate, split) pair. Workers write into a
// pre-sized slice keyed by task index, so output order is independent of
// completion order. The first task error aborts remaining dispatch.
func (b *LocalBackend) Run(ctx context.Context, spec *TaskSpec, candidates []ParamSet, splits []Split) ([]RawResult, error) {
	nTasks := len(candidates) * len(splits)
	out := make([]RawResult, nTasks)

	logger := log.GetLogger().With(
		log.BackendKey, "local",
		log.CandidatesKey, len(candidates),
		log.SplitsKey, len(splits),
	)
	logger.Debug("dispatching fit-evaluate tasks")

	pool := parallel.NewPool(b.NJobs, b.PreDispatch)
	err := pool.Run(ctx, nTasks,
		func(i int) (interface{}, error) { return i, nil },
		func(i int, _ interface{}) error {
			cand := i / len(splits)
			split := i % len(splits)
			res, err := FitAndScore(spec, candidates[cand], splits[split], cand, split)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	if err != nil {
		return nil, err
	}

	logger.Debug("all tasks complete")
	return out, nil
}
