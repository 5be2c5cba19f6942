package datapipe

import (
	"context"

	"github.com/rs/zerolog"
)

// InFlightLimit returns the bound on elements pulled from the source and not yet consumed by a ParallelMap stage.
func InFlightLimit(workers, multiplier int) int {
	return inFlightLimit(workers, multiplier)
}

// PendingOrder pushes indexes in a pending buffer and returns them in the order the consumer releases them.
func PendingOrder(indexes ...int) []int {
	var p pendingBuffer[int]
	for _, index := range indexes {
		p.add(outcome[int]{index: index, payload: index})
	}
	var result []int
	for next := 0; p.Len() > 0; next++ {
		o, ok := p.popIndex(next)
		if !ok {
			break
		}
		result = append(result, o.payload)
	}
	return result
}

// consistencyIter builds a parallel stage consumer with no running goroutine.
func consistencyIter(completed, next int, queued ...outcome[int]) *parallelIter[int, int] {
	pool, err := newWorkerPool(1)
	if err != nil {
		panic(err)
	}
	results := make(chan outcome[int], len(queued))
	for _, o := range queued {
		results <- o
	}
	return &parallelIter[int, int]{
		stage:     "check",
		workers:   1,
		source:    &sliceIter[int]{},
		results:   results,
		credits:   make(chan struct{}, 1),
		next:      next,
		completed: completed,
		cancel:    func() {},
		pool:      pool,
		logger:    zerolog.Nop(),
	}
}

// LeftoverResult returns a Next call on a consumer whose every worker completed while a result is still buffered.
func LeftoverResult(index int) func() {
	it := consistencyIter(1, 0)
	it.pending.add(outcome[int]{index: index})
	return func() { it.Next(context.Background()) }
}

// LateResult returns a Next call on a consumer receiving index after next was already emitted.
func LateResult(index, next int) func() {
	it := consistencyIter(0, next, outcome[int]{index: index})
	return func() { it.Next(context.Background()) }
}
