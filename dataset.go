package datapipe

import (
	"context"
)

// Iterator provides pull-based sequential access to the elements of one pass over a Dataset.
type Iterator[T any] interface {
	// Next returns the next element. Returns (zero, false, nil) when exhausted.
	Next(ctx context.Context) (T, bool, error)
	// Close releases any resource held by the iterator, including goroutines started for it. It is idempotent.
	Close() error
}

// Dataset is a lazy sequence description. Nothing runs until Iter is called, and every call opens a fresh pass.
//
// A Dataset is restartable if its source is: a slice can be read again, a channel cannot.
type Dataset[T any] struct {
	open func(ctx context.Context) Iterator[T]
}

// Iter opens a new pass over the dataset. The caller must Close the iterator.
func (d *Dataset[T]) Iter(ctx context.Context) Iterator[T] {
	return d.open(ctx)
}

// FromSlice creates a restartable dataset over items.
func FromSlice[T any](items []T) *Dataset[T] {
	return &Dataset[T]{
		open: func(_ context.Context) Iterator[T] {
			return &sliceIter[T]{items: items}
		},
	}
}

// FromChannel creates a single pass dataset reading ch until it is closed.
func FromChannel[T any](ch <-chan T) *Dataset[T] {
	return &Dataset[T]{
		open: func(_ context.Context) Iterator[T] {
			return &channelIter[T]{ch: ch}
		},
	}
}

// FromFunc creates a dataset from an iterator factory, called once per pass.
func FromFunc[T any](open func(ctx context.Context) Iterator[T]) *Dataset[T] {
	return &Dataset[T]{open: open}
}

// Generate creates a dataset from a factory of next functions. Each pass calls newNext once and then pulls from the
// returned function until it reports false or an error.
func Generate[T any](newNext func() func(ctx context.Context) (T, bool, error)) *Dataset[T] {
	return &Dataset[T]{
		open: func(_ context.Context) Iterator[T] {
			return &funcIter[T]{next: newNext()}
		},
	}
}

// Collect runs a full pass and returns all elements. Elements read before a failure are returned with the error.
func Collect[T any](ctx context.Context, d *Dataset[T]) ([]T, error) {
	it := d.Iter(ctx)
	defer it.Close()
	var result []T
	for {
		val, ok, err := it.Next(ctx)
		if err != nil {
			return result, err
		}
		if !ok {
			return result, it.Close()
		}
		result = append(result, val)
	}
}

// ForEach runs a full pass and calls fn for each element, stopping at the first error.
func ForEach[T any](ctx context.Context, d *Dataset[T], fn func(context.Context, T) error) error {
	it := d.Iter(ctx)
	defer it.Close()
	for {
		val, ok, err := it.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return it.Close()
		}
		if err := fn(ctx, val); err != nil {
			return err
		}
	}
}

type sliceIter[T any] struct {
	items []T
	index int
}

func (it *sliceIter[T]) Next(_ context.Context) (T, bool, error) {
	if it.index >= len(it.items) {
		var zero T
		return zero, false, nil
	}
	val := it.items[it.index]
	it.index++
	return val, true, nil
}

func (it *sliceIter[T]) Close() error { return nil }

type channelIter[T any] struct {
	ch <-chan T
}

func (it *channelIter[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	select {
	case val, open := <-it.ch:
		if !open {
			return zero, false, nil
		}
		return val, true, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

func (it *channelIter[T]) Close() error { return nil }

type funcIter[T any] struct {
	next func(ctx context.Context) (T, bool, error)
	done bool
}

func (it *funcIter[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if it.done {
		return zero, false, nil
	}
	val, ok, err := it.next(ctx)
	if err != nil || !ok {
		it.done = true
		return zero, false, err
	}
	return val, true, nil
}

func (it *funcIter[T]) Close() error {
	it.done = true
	return nil
}

// failedIter reports err on every Next.
type failedIter[T any] struct {
	err error
}

func (it *failedIter[T]) Next(_ context.Context) (T, bool, error) {
	var zero T
	return zero, false, it.err
}

func (it *failedIter[T]) Close() error { return nil }

func failed[T any](err error) *Dataset[T] {
	return &Dataset[T]{
		open: func(_ context.Context) Iterator[T] {
			return &failedIter[T]{err: err}
		},
	}
}
