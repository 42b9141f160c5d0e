// Package parallel provides the in-process execution primitives used by the
// local search backend: a chunked range helper and a bounded task pool with
// a pre-dispatch cap.
package parallel

import (
	"context"
	"runtime"
	"sync"
)

// Parallelize divides items across the available CPU cores and executes fn
// for each (start, end) range in parallel.
func Parallelize(items int, fn func(start, end int)) {
	if items == 0 {
		return
	}

	numWorkers := runtime.NumCPU()
	if numWorkers > items {
		numWorkers = items
	}

	// Ceiling division so every item is covered.
	chunkSize := (items + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// Pool executes independent tasks with at most `workers` goroutines running
// concurrently and at most `preDispatch` tasks materialized ahead of
// completion. The pre-dispatch cap bounds peak memory when task inputs are
// large and the task count is high.
type Pool struct {
	workers     int
	preDispatch int
}

// NewPool creates a Pool. workers <= 0 means NumCPU; preDispatch <= 0
// defaults to 2*workers, the conventional setting.
func NewPool(workers, preDispatch int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if preDispatch <= 0 {
		preDispatch = 2 * workers
	}
	if preDispatch < workers {
		preDispatch = workers
	}
	return &Pool{workers: workers, preDispatch: preDispatch}
}

// Run dispatches n tasks. prepare(i) builds the input for task i and runs on
// the dispatching goroutine, gated by the pre-dispatch cap; run executes on
// a worker. The first error cancels dispatch of remaining tasks and is
// returned; tasks already dispatched run to completion.
func (p *Pool) Run(ctx context.Context, n int, prepare func(i int) (interface{}, error), run func(i int, input interface{}) error) error {
	if n == 0 {
		return nil
	}

	type task struct {
		idx   int
		input interface{}
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	tasks := make(chan task)
	// Tokens gate how many inputs exist at once: one is taken before
	// prepare and released after run finishes with the input.
	tokens := make(chan struct{}, p.preDispatch)

	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				if err := run(t.idx, t.input); err != nil {
					fail(err)
				}
				<-tokens
			}
		}()
	}

dispatch:
	for i := 0; i < n; i++ {
		select {
		case tokens <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}

		input, err := prepare(i)
		if err != nil {
			fail(err)
			<-tokens
			break dispatch
		}

		select {
		case tasks <- task{idx: i, input: input}:
		case <-ctx.Done():
			<-tokens
			break dispatch
		}
	}
	close(tasks)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
