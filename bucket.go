package datapipe

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Bucket batches elements of similar length together.
//
// boundaries must be strictly increasing and batchSizes must hold one positive size per boundary. An element goes to
// the first bucket i with length(element) <= boundaries[i], and bucket i is collated as soon as it holds batchSizes[i]
// elements. At exhaustion every non-empty bucket yields one final partial batch, in bucket order.
//
// Elements longer than the last boundary are dropped, unless WithOverflow(OverflowError) is given: the first one then
// ends the pass.
func Bucket[T, B any](d *Dataset[T], boundaries, batchSizes []int, length func(T) int, collate Collate[T, B], opts ...Option) *Dataset[B] {
	switch {
	case len(boundaries) == 0:
		return failed[B](invalidArgument("bucket needs at least one boundary"))
	case len(boundaries) != len(batchSizes):
		return failed[B](invalidArgument("%d bucket boundaries for %d batch sizes", len(boundaries), len(batchSizes)))
	case !lo.IsSorted(boundaries) || len(lo.Uniq(boundaries)) != len(boundaries):
		return failed[B](invalidArgument("bucket boundaries %v are not strictly increasing", boundaries))
	case !lo.EveryBy(batchSizes, func(size int) bool { return size > 0 }):
		return failed[B](invalidArgument("bucket batch sizes %v must be positive", batchSizes))
	}
	o := newOptions("bucket", opts)
	return &Dataset[B]{
		open: func(ctx context.Context) Iterator[B] {
			return &bucketIter[T, B]{
				source:     d.open(ctx),
				boundaries: boundaries,
				batchSizes: batchSizes,
				length:     length,
				collate:    collate,
				buckets:    make([][]T, len(boundaries)),
				overflow:   o.overflow,
				stage:      o.name,
				logger:     o.stageLogger(ctx),
			}
		},
	}
}

type bucketIter[T, B any] struct {
	source     Iterator[T]
	boundaries []int
	batchSizes []int
	length     func(T) int
	collate    Collate[T, B]
	buckets    [][]T
	overflow   OverflowPolicy
	stage      string
	logger     zerolog.Logger
	index      int
	dropped    int
	drained    bool
	flushed    int
	err        error
}

func (it *bucketIter[T, B]) Next(ctx context.Context) (B, bool, error) {
	var zero B
	if it.err != nil {
		return zero, false, it.err
	}
	for !it.drained {
		val, ok, err := it.source.Next(ctx)
		if err != nil {
			return zero, false, err
		}
		if !ok {
			it.drained = true
			if it.dropped > 0 {
				it.logger.Debug().Int("dropped", it.dropped).Msg("over-length elements dropped")
			}
			break
		}
		index := it.index
		it.index++

		size := it.length(val)
		bucket, found := it.bucketOf(size)
		if !found {
			if it.overflow == OverflowError {
				it.err = &StageError{Stage: it.stage, Index: index, Err: ErrOverLength}
				return zero, false, it.err
			}
			it.dropped++
			it.logger.Debug().Int("index", index).Int("length", size).Msg("over-length element dropped")
			continue
		}
		it.buckets[bucket] = append(it.buckets[bucket], val)
		if len(it.buckets[bucket]) == it.batchSizes[bucket] {
			return it.flush(bucket), true, nil
		}
	}
	// final partial batches, in bucket order
	for ; it.flushed < len(it.buckets); it.flushed++ {
		if len(it.buckets[it.flushed]) > 0 {
			return it.flush(it.flushed), true, nil
		}
	}
	return zero, false, nil
}

// bucketOf returns the first bucket whose boundary is not below size.
func (it *bucketIter[T, B]) bucketOf(size int) (int, bool) {
	for i, boundary := range it.boundaries {
		if size <= boundary {
			return i, true
		}
	}
	return 0, false
}

func (it *bucketIter[T, B]) flush(bucket int) B {
	batch := it.buckets[bucket]
	it.buckets[bucket] = nil
	return it.collate(batch)
}

func (it *bucketIter[T, B]) Close() error { return it.source.Close() }
