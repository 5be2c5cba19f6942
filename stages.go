package datapipe

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
)

// Map applies fn to each element in the caller's goroutine. A transform failure ends the pass.
func Map[I, O any](d *Dataset[I], fn Transform[I, O], opts ...Option) *Dataset[O] {
	o := newOptions("map", opts)
	return &Dataset[O]{
		open: func(ctx context.Context) Iterator[O] {
			return &mapIter[I, O]{source: d.open(ctx), fn: fn, stage: o.name}
		},
	}
}

// Filter keeps only elements satisfying pred.
func Filter[T any](d *Dataset[T], pred Predicate[T]) *Dataset[T] {
	return &Dataset[T]{
		open: func(ctx context.Context) Iterator[T] {
			return &filterIter[T]{source: d.open(ctx), pred: pred}
		},
	}
}

// Repeat iterates d n times in a row. The source must be restartable for passes after the first to yield anything.
func Repeat[T any](d *Dataset[T], n int) *Dataset[T] {
	if n < 0 {
		n = 0
	}
	return repeat(d, n)
}

// RepeatForever iterates d again and again. It stops only when a whole pass yields nothing, which is what a non
// restartable source does once drained.
func RepeatForever[T any](d *Dataset[T]) *Dataset[T] {
	return repeat(d, -1)
}

func repeat[T any](d *Dataset[T], n int) *Dataset[T] {
	return &Dataset[T]{
		open: func(_ context.Context) Iterator[T] {
			return &repeatIter[T]{source: d, count: n}
		},
	}
}

// Shuffle accumulates windows of bufferSize elements and yields each window randomly permuted.
//
// The final window, smaller than bufferSize, is yielded unshuffled: tail elements are less randomized than the others.
func Shuffle[T any](d *Dataset[T], bufferSize int, opts ...Option) *Dataset[T] {
	if bufferSize < 1 {
		return failed[T](invalidArgument("shuffle buffer size %d, must be at least 1", bufferSize))
	}
	o := newOptions("shuffle", opts)
	var passes atomic.Uint64
	return &Dataset[T]{
		open: func(ctx context.Context) Iterator[T] {
			var rng *rand.Rand
			if o.seed != nil {
				// each pass gets its own deterministic permutation stream
				rng = rand.New(rand.NewPCG(*o.seed, passes.Add(1)))
			} else {
				rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
			}
			return &shuffleIter[T]{source: d.open(ctx), size: bufferSize, rng: rng}
		},
	}
}

// Batch groups consecutive elements by size and collates each group. A final partial batch is yielded at exhaustion.
func Batch[T, B any](d *Dataset[T], size int, collate Collate[T, B]) *Dataset[B] {
	if size < 1 {
		return failed[B](invalidArgument("batch size %d, must be at least 1", size))
	}
	return &Dataset[B]{
		open: func(ctx context.Context) Iterator[B] {
			return &batchIter[T, B]{source: d.open(ctx), size: size, collate: collate}
		},
	}
}

// Take yields at most n elements, then closes its source.
func Take[T any](d *Dataset[T], n int) *Dataset[T] {
	return &Dataset[T]{
		open: func(ctx context.Context) Iterator[T] {
			return &takeIter[T]{source: d.open(ctx), remaining: n}
		},
	}
}

type mapIter[I, O any] struct {
	source Iterator[I]
	fn     Transform[I, O]
	stage  string
	index  int
	err    error
}

func (it *mapIter[I, O]) Next(ctx context.Context) (O, bool, error) {
	var zero O
	if it.err != nil {
		return zero, false, it.err
	}
	val, ok, err := it.source.Next(ctx)
	if err != nil || !ok {
		return zero, false, err
	}
	out, err := it.fn(ctx, val)
	if err != nil {
		// terminal: later calls report the same failure
		it.err = &StageError{Stage: it.stage, Index: it.index, Err: fmt.Errorf("%w: %w", ErrTransform, err)}
		return zero, false, it.err
	}
	it.index++
	return out, true, nil
}

func (it *mapIter[I, O]) Close() error { return it.source.Close() }

type filterIter[T any] struct {
	source Iterator[T]
	pred   Predicate[T]
}

func (it *filterIter[T]) Next(ctx context.Context) (T, bool, error) {
	for {
		val, ok, err := it.source.Next(ctx)
		if err != nil || !ok {
			return val, false, err
		}
		if it.pred(val) {
			return val, true, nil
		}
	}
}

func (it *filterIter[T]) Close() error { return it.source.Close() }

type repeatIter[T any] struct {
	source  *Dataset[T]
	count   int // negative means forever
	pass    int
	current Iterator[T]
	yielded bool
	done    bool
}

func (it *repeatIter[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	for !it.done {
		if it.current == nil {
			if it.count >= 0 && it.pass >= it.count {
				it.done = true
				break
			}
			it.current = it.source.open(ctx)
			it.yielded = false
		}
		val, ok, err := it.current.Next(ctx)
		if err != nil {
			return zero, false, err
		}
		if ok {
			it.yielded = true
			return val, true, nil
		}
		err = it.current.Close()
		it.current = nil
		it.pass++
		if err != nil {
			return zero, false, err
		}
		if it.count < 0 && !it.yielded {
			it.done = true
		}
	}
	return zero, false, nil
}

func (it *repeatIter[T]) Close() error {
	it.done = true
	if it.current == nil {
		return nil
	}
	err := it.current.Close()
	it.current = nil
	return err
}

type shuffleIter[T any] struct {
	source  Iterator[T]
	size    int
	rng     *rand.Rand
	window  []T
	pos     int
	drained bool
}

func (it *shuffleIter[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if it.pos < len(it.window) {
		val := it.window[it.pos]
		it.window[it.pos] = zero
		it.pos++
		return val, true, nil
	}
	if it.drained {
		return zero, false, nil
	}
	it.window, it.pos = it.window[:0], 0
	for len(it.window) < it.size {
		val, ok, err := it.source.Next(ctx)
		if err != nil {
			return zero, false, err
		}
		if !ok {
			it.drained = true
			break
		}
		it.window = append(it.window, val)
	}
	if len(it.window) == 0 {
		return zero, false, nil
	}
	if len(it.window) == it.size {
		it.rng.Shuffle(len(it.window), func(i, j int) {
			it.window[i], it.window[j] = it.window[j], it.window[i]
		})
	}
	return it.Next(ctx)
}

func (it *shuffleIter[T]) Close() error { return it.source.Close() }

type batchIter[T, B any] struct {
	source  Iterator[T]
	size    int
	collate Collate[T, B]
	done    bool
}

func (it *batchIter[T, B]) Next(ctx context.Context) (B, bool, error) {
	var zero B
	if it.done {
		return zero, false, nil
	}
	batch := make([]T, 0, it.size)
	for len(batch) < it.size {
		val, ok, err := it.source.Next(ctx)
		if err != nil {
			return zero, false, err
		}
		if !ok {
			it.done = true
			break
		}
		batch = append(batch, val)
	}
	if len(batch) == 0 {
		return zero, false, nil
	}
	return it.collate(batch), true, nil
}

func (it *batchIter[T, B]) Close() error { return it.source.Close() }

type takeIter[T any] struct {
	source    Iterator[T]
	remaining int
	closed    bool
}

func (it *takeIter[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if it.remaining <= 0 {
		return zero, false, it.Close()
	}
	val, ok, err := it.source.Next(ctx)
	if err != nil || !ok {
		return zero, false, err
	}
	it.remaining--
	return val, true, nil
}

func (it *takeIter[T]) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.source.Close()
}
