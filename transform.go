package datapipe

import (
	"context"

	"github.com/samber/lo"
)

// Transform defines the per element operation of a Map or ParallelMap stage.
type Transform[I, O any] func(context.Context, I) (O, error)

// Predicate reports whether an element is kept by a Filter stage.
type Predicate[T any] func(T) bool

// Collate turns the elements accumulated by a Batch or Bucket stage into one batch value.
type Collate[T, B any] func([]T) B

// Stack is the identity Collate: the batch is the slice of its elements.
func Stack[T any](batch []T) []T {
	return batch
}

// Lift decorates a pure function, in order to make it seen as a Transform which never fails.
func Lift[I, O any](fn func(I) O) Transform[I, O] {
	return func(_ context.Context, in I) (O, error) { return fn(in), nil }
}

// LiftAll is an helper function to call Lift on lists
func LiftAll[T any](fns ...func(T) T) []Transform[T, T] {
	return lo.Map(fns, func(fn func(T) T, _ int) Transform[T, T] {
		return Lift(fn)
	})
}

// Chain merges several transforms into one, applied in order. The first failure stops the chain.
func Chain[T any](transforms ...Transform[T, T]) Transform[T, T] {
	return func(ctx context.Context, t T) (T, error) {
		var err error
		for _, transform := range transforms {
			if t, err = transform(ctx, t); err != nil {
				return t, err
			}
		}
		return t, nil
	}
}
