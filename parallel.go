package datapipe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
)

// ParallelMap applies fn to each element with a fixed pool of workers goroutines, and yields the results in the order
// of the source elements, whatever the order the workers complete them in.
//
// Each pass starts a dispatcher goroutine and an ants pool of workers goroutines. The work and result queues hold
// workers × K items, K being set by WithQueueMultiplier. The pass ends once the source is exhausted and every worker
// reported its completion. Close the iterator to stop it early.
//
// A source failure, a transform error or a transform panic is reported as a *StageError once every element before it
// was yielded, and ends the pass: every later Next returns the same error.
func ParallelMap[I, O any](d *Dataset[I], fn Transform[I, O], workers int, opts ...Option) *Dataset[O] {
	o := newOptions("parallel_map", opts)
	switch {
	case workers < 1:
		return failed[O](invalidArgument("parallel map needs at least 1 worker, got %d", workers))
	case o.multiplier < 1:
		return failed[O](invalidArgument("queue multiplier %d, must be at least 1", o.multiplier))
	}
	return &Dataset[O]{
		open: func(ctx context.Context) Iterator[O] {
			return startParallel(ctx, d, fn, workers, o)
		},
	}
}

// inFlightLimit bounds the elements pulled from the source and not yet consumed: both queues plus one per worker.
func inFlightLimit(workers, multiplier int) int {
	return 2*workers*multiplier + workers
}

// job is what travels on the work queue: a tagged element or a termination sentinel.
type job[I any] struct {
	index   int
	payload I
	last    bool
}

type parallelIter[I, O any] struct {
	stage   string
	workers int
	source  Iterator[I]
	results <-chan outcome[O]
	// credits holds one token per element pulled from the source and not yet handed back by the consumer.
	credits chan struct{}

	// consumer state
	pending   pendingBuffer[O]
	next      int
	owed      int
	completed int
	err       error
	done      bool

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	pool      *ants.Pool
	closeOnce sync.Once
	closeErr  error

	metrics *parallelMetrics
	logger  zerolog.Logger
}

func startParallel[I, O any](ctx context.Context, d *Dataset[I], fn Transform[I, O], workers int, o options) Iterator[O] {
	logger := o.stageLogger(ctx).With().Str("run_id", uuid.NewString()).Logger()
	metrics, err := newParallelMetrics(o.meter, o.name)
	if err != nil {
		return &failedIter[O]{err: err}
	}
	pool, err := newWorkerPool(workers, o.poolOpts...)
	if err != nil {
		return &failedIter[O]{err: err}
	}

	capacity := workers * o.multiplier
	stageCtx, cancel := context.WithCancel(ctx)
	jobs := make(chan job[I], capacity)
	results := make(chan outcome[O], capacity)
	it := &parallelIter[I, O]{
		stage:   o.name,
		workers: workers,
		source:  d.open(stageCtx),
		results: results,
		credits: make(chan struct{}, inFlightLimit(workers, o.multiplier)),
		cancel:  cancel,
		pool:    pool,
		metrics: metrics,
		logger:  logger,
	}
	logger.Debug().Int("workers", workers).Int("capacity", capacity).Msg("parallel stage started")

	it.wg.Add(1)
	go it.dispatch(stageCtx, jobs, results)

	units := make([]func(), workers)
	for w := range units {
		units[w] = func() { it.work(stageCtx, w, fn, jobs, results) }
	}
	it.wg.Add(workers)
	if submitted, err := submitWorkers(pool, units); err != nil {
		it.wg.Add(submitted - workers)
		it.fail(ctx, err)
	}
	return it
}

// dispatch pulls the source, tags the elements in order and pushes them on the work queue, then sends one sentinel
// per worker.
func (it *parallelIter[I, O]) dispatch(ctx context.Context, jobs chan<- job[I], results chan<- outcome[O]) {
	defer it.wg.Done()
	index := 0
	for {
		if !send[struct{}](ctx, it.credits, struct{}{}) {
			return
		}
		val, ok, err := it.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// the failure takes the place of the element it could not read
			failure := &StageError{Stage: it.stage, Index: index, Err: fmt.Errorf("%w: %w", ErrSource, err)}
			if !send(ctx, results, outcome[O]{index: index, err: failure}) {
				return
			}
			break
		}
		if !ok {
			break
		}
		if !send(ctx, jobs, job[I]{index: index, payload: val}) {
			return
		}
		it.metrics.recordDispatch(ctx)
		index++
	}
	it.logger.Debug().Int("dispatched", index).Msg("source exhausted")
	for range it.workers {
		if !send(ctx, jobs, job[I]{last: true}) {
			return
		}
	}
}

// work applies fn to the jobs of the work queue until it takes a sentinel, which it forwards on the result queue.
func (it *parallelIter[I, O]) work(ctx context.Context, id int, fn Transform[I, O], jobs <-chan job[I], results chan<- outcome[O]) {
	defer it.wg.Done()
	processed := 0
	defer func() {
		it.logger.Debug().Int("worker", id).Int("processed", processed).Msg("worker stopped")
	}()
	for {
		var j job[I]
		select {
		case j = <-jobs:
		case <-ctx.Done():
			return
		}
		if j.last {
			send(ctx, results, outcome[O]{last: true})
			return
		}
		out, err := apply(ctx, fn, j.payload)
		if err != nil {
			err = &StageError{Stage: it.stage, Index: j.index, Err: err}
		}
		processed++
		if !send(ctx, results, outcome[O]{index: j.index, payload: out, err: err}) {
			return
		}
	}
}

// Next reassembles the results in order. It only blocks on the result queue when the pending buffer does not hold
// the next expected index.
func (it *parallelIter[I, O]) Next(ctx context.Context) (O, bool, error) {
	var zero O
	if it.err != nil {
		return zero, false, it.err
	}
	if it.done {
		return zero, false, nil
	}
	// the caller is done with the elements returned so far
	for ; it.owed > 0; it.owed-- {
		<-it.credits
	}
	for {
		if o, ok := it.pending.popIndex(it.next); ok {
			it.next++
			it.owed++
			if o.err != nil {
				it.fail(ctx, o.err)
				return zero, false, it.err
			}
			it.metrics.recordEmit(ctx)
			return o.payload, true, nil
		}
		if it.completed == it.workers {
			return zero, false, it.drain()
		}
		select {
		case o := <-it.results:
			switch {
			case o.last:
				it.completed++
			case o.index < it.next:
				it.shutdown()
				panic(fmt.Sprintf("%s: result %d received after it was emitted", it.stage, o.index))
			default:
				it.pending.add(o)
				it.metrics.recordPending(ctx, it.pending.Len())
			}
		case <-ctx.Done():
			return zero, false, ctx.Err()
		}
	}
}

// drain ends a pass once every worker completed. Any result left behind means one was lost or duplicated.
func (it *parallelIter[I, O]) drain() error {
	if it.pending.Len() > 0 {
		it.shutdown()
		panic(fmt.Sprintf("%s: results %v left after every worker completed, next expected %d",
			it.stage, it.pending.indexes(), it.next))
	}
	it.done = true
	it.logger.Debug().Int("emitted", it.next).Msg("parallel stage drained")
	return it.shutdown()
}

func (it *parallelIter[I, O]) fail(ctx context.Context, err error) {
	it.err = err
	kind := failureKind(err)
	it.metrics.recordFailure(ctx, kind)
	it.logger.Error().Err(err).Str("kind", kind).Msg("parallel stage failed")
	if closeErr := it.shutdown(); closeErr != nil {
		it.logger.Warn().Err(closeErr).Msg("closing source")
	}
}

// shutdown stops the dispatcher and the workers, waits for them, then releases the pool and closes the source.
func (it *parallelIter[I, O]) shutdown() error {
	it.closeOnce.Do(func() {
		it.cancel()
		it.wg.Wait()
		it.pool.Release()
		it.closeErr = it.source.Close()
	})
	return it.closeErr
}

func (it *parallelIter[I, O]) Close() error {
	if it.err == nil {
		it.done = true
	}
	return it.shutdown()
}

// apply runs fn, turning a panic into an error.
func apply[I, O any](ctx context.Context, fn Transform[I, O], in I) (out O, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %w: %v", ErrTransform, ErrTransformPanic, r)
		}
	}()
	out, err = fn(ctx, in)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrTransform, err)
	}
	return out, err
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrSource):
		return "source"
	case errors.Is(err, ErrTransformPanic):
		return "panic"
	case errors.Is(err, ErrTransform):
		return "transform"
	default:
		return "pool"
	}
}

func send[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
