package datapipe

import (
	"fmt"

	"github.com/panjf2000/ants/v2"
)

// newWorkerPool builds the ants pool running the workers of one ParallelMap pass. The pool holds exactly one goroutine
// per worker, and workers live for the whole pass, so purging idle goroutines is disabled.
func newWorkerPool(workers int, opts ...ants.Option) (*ants.Pool, error) {
	opts = append([]ants.Option{ants.WithDisablePurge(true), ants.WithPreAlloc(true)}, opts...)
	pool, err := ants.NewPool(workers, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPool, err)
	}
	return pool, nil
}

// submitWorkers submits every worker to the pool. It returns the number of workers submitted, which is less than
// len(workers) only on error.
func submitWorkers(pool *ants.Pool, workers []func()) (int, error) {
	for i, worker := range workers {
		if err := pool.Submit(worker); err != nil {
			return i, fmt.Errorf("%w: submitting worker %d: %w", ErrPool, i, err)
		}
	}
	return len(workers), nil
}
