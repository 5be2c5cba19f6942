package datapipe_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxatome/go-testdeep/td"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fogfactory/datapipe"
)

func square(_ context.Context, x int) (int, error) { return x * x, nil }

func squares(n int) []int {
	return lo.Map(lo.Range(n), func(x, _ int) int { return x * x })
}

func TestParallelMap(t *testing.T) {
	ctx := context.Background()

	t.Run("reversed_completion_order", func(t *testing.T) {
		// Arrange
		slowFirst := func(_ context.Context, x int) (int, error) {
			time.Sleep(time.Duration(6-x) * 5 * time.Millisecond)
			return x * x, nil
		}

		// Act
		results, err := datapipe.Collect(ctx, datapipe.ParallelMap(datapipe.FromSlice(lo.Range(6)), slowFirst, 3))

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, results, []int{0, 1, 4, 9, 16, 25})
	})

	t.Run("source_order_whatever_the_delays", func(t *testing.T) {
		for workers := 1; workers <= 8; workers++ {
			t.Run(fmt.Sprintf("workers_%d", workers), func(t *testing.T) {
				// Arrange
				jitter := func(_ context.Context, x int) (int, error) {
					time.Sleep(time.Duration(rand.IntN(200)) * time.Microsecond)
					return x * x, nil
				}

				// Act
				results, err := datapipe.Collect(ctx, datapipe.ParallelMap(datapipe.FromSlice(lo.Range(200)), jitter, workers))

				// Assert
				td.CmpNoError(t, err)
				td.Cmp(t, results, squares(200))
			})
		}
	})

	t.Run("queue_multiplier_1", func(t *testing.T) {
		// Act
		results, err := datapipe.Collect(ctx, datapipe.ParallelMap(datapipe.FromSlice(lo.Range(50)), square, 4,
			datapipe.WithQueueMultiplier(1)))

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, results, squares(50))
	})

	t.Run("empty_source", func(t *testing.T) {
		// Act
		results, err := datapipe.Collect(ctx, datapipe.ParallelMap(datapipe.FromSlice([]int{}), square, 4))

		// Assert
		td.CmpNoError(t, err)
		td.CmpEmpty(t, results)
	})

	t.Run("restartable", func(t *testing.T) {
		// Arrange
		ds := datapipe.ParallelMap(datapipe.FromSlice(lo.Range(20)), square, 2)

		// Act
		first, err1 := datapipe.Collect(ctx, ds)
		second, err2 := datapipe.Collect(ctx, ds)

		// Assert
		td.CmpNoError(t, err1)
		td.CmpNoError(t, err2)
		td.Cmp(t, first, squares(20))
		td.Cmp(t, second, first)
	})

	t.Run("nested", func(t *testing.T) {
		// Arrange
		inner := func(ctx context.Context, x int) (int, error) {
			values, err := datapipe.Collect(ctx, datapipe.ParallelMap(datapipe.FromSlice(lo.Range(x)), square, 2))
			return lo.Sum(values), err
		}

		// Act
		results, err := datapipe.Collect(ctx, datapipe.ParallelMap(datapipe.FromSlice(lo.Range(10)), inner, 3))

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, results, lo.Map(lo.Range(10), func(x, _ int) int { return lo.Sum(squares(x)) }))
	})

	t.Run("invalid_arguments", func(t *testing.T) {
		// Act
		_, errWorkers := datapipe.Collect(ctx, datapipe.ParallelMap(datapipe.FromSlice(lo.Range(3)), square, 0))
		_, errMultiplier := datapipe.Collect(ctx, datapipe.ParallelMap(datapipe.FromSlice(lo.Range(3)), square, 2,
			datapipe.WithQueueMultiplier(0)))

		// Assert
		td.CmpErrorIs(t, errWorkers, datapipe.ErrInvalidArgument)
		td.CmpErrorIs(t, errMultiplier, datapipe.ErrInvalidArgument)
	})

	t.Run("logger", func(t *testing.T) {
		// Arrange
		var buf bytes.Buffer
		logger := zerolog.New(zerolog.SyncWriter(&buf)).Level(zerolog.DebugLevel)

		// Act
		_, err := datapipe.Collect(ctx, datapipe.ParallelMap(datapipe.FromSlice(lo.Range(5)), square, 2,
			datapipe.WithLogger(logger), datapipe.WithName("squares")))

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, buf.String(), td.Contains(`"stage":"squares"`))
		td.Cmp(t, buf.String(), td.Contains("parallel stage drained"))
	})
}

func TestParallelMapFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("transform_error", func(t *testing.T) {
		// Arrange
		boom := errors.New("boom")
		fn := func(_ context.Context, x int) (int, error) {
			if x == 5 {
				return 0, boom
			}
			return x * x, nil
		}
		it := datapipe.ParallelMap(datapipe.FromSlice(lo.Range(10)), fn, 3).Iter(ctx)
		defer it.Close()

		// Act
		var results []int
		var err error
		for {
			val, ok, nextErr := it.Next(ctx)
			if nextErr != nil || !ok {
				err = nextErr
				break
			}
			results = append(results, val)
		}
		_, ok, again := it.Next(ctx)

		// Assert
		td.Cmp(t, results, squares(5))
		td.CmpErrorIs(t, err, boom)
		td.CmpErrorIs(t, err, datapipe.ErrTransform)
		var stageErr *datapipe.StageError
		td.Require(t).True(errors.As(err, &stageErr))
		td.Cmp(t, stageErr.Index, 5)
		td.Cmp(t, stageErr.Stage, "parallel_map")
		td.CmpFalse(t, ok)
		td.CmpErrorIs(t, again, err, "failure should be terminal")
	})

	t.Run("transform_panic", func(t *testing.T) {
		// Arrange
		fn := func(_ context.Context, x int) (int, error) {
			if x == 3 {
				panic("bad element")
			}
			return x, nil
		}

		// Act
		results, err := datapipe.Collect(ctx, datapipe.ParallelMap(datapipe.FromSlice(lo.Range(10)), fn, 2))

		// Assert
		td.Cmp(t, results, []int{0, 1, 2})
		td.CmpErrorIs(t, err, datapipe.ErrTransformPanic)
		td.CmpErrorIs(t, err, datapipe.ErrTransform)
		td.Cmp(t, err.Error(), td.Contains("bad element"))
	})

	t.Run("source_error", func(t *testing.T) {
		// Arrange
		broken := errors.New("disk on fire")
		src := datapipe.Generate(func() func(context.Context) (int, bool, error) {
			i := 0
			return func(context.Context) (int, bool, error) {
				if i == 3 {
					return 0, false, broken
				}
				i++
				return i - 1, true, nil
			}
		})

		// Act
		results, err := datapipe.Collect(ctx, datapipe.ParallelMap(src, square, 4))

		// Assert
		td.Cmp(t, results, []int{0, 1, 4})
		td.CmpErrorIs(t, err, broken)
		td.CmpErrorIs(t, err, datapipe.ErrSource)
		var stageErr *datapipe.StageError
		td.Require(t).True(errors.As(err, &stageErr))
		td.Cmp(t, stageErr.Index, 3)
	})
}

// countingSource yields 0, 1, 2... forever and counts the pulls.
func countingSource(pulled *atomic.Int64, onPull func(int64)) *datapipe.Dataset[int] {
	return datapipe.Generate(func() func(context.Context) (int, bool, error) {
		return func(ctx context.Context) (int, bool, error) {
			if err := ctx.Err(); err != nil {
				return 0, false, err
			}
			n := pulled.Add(1)
			if onPull != nil {
				onPull(n)
			}
			return int(n - 1), true, nil
		}
	})
}

func TestParallelMapLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("close_stops_the_stage", func(t *testing.T) {
		// Arrange
		var pulled, transformed atomic.Int64
		fn := func(_ context.Context, x int) (int, error) {
			transformed.Add(1)
			return x, nil
		}
		it := datapipe.ParallelMap(countingSource(&pulled, nil), fn, 4).Iter(ctx)
		for range 3 {
			_, ok, err := it.Next(ctx)
			td.Require(t).CmpNoError(err)
			td.Require(t).True(ok)
		}

		// Act
		td.CmpNoError(t, it.Close())
		pulledAtClose, transformedAtClose := pulled.Load(), transformed.Load()
		time.Sleep(20 * time.Millisecond)

		// Assert
		td.Cmp(t, pulled.Load(), pulledAtClose, "no pull after close")
		td.Cmp(t, transformed.Load(), transformedAtClose, "no transform after close")
		td.Cmp(t, pulledAtClose, td.Lte(int64(3+datapipe.InFlightLimit(4, datapipe.DefaultQueueMultiplier))))
		_, ok, err := it.Next(ctx)
		td.CmpNoError(t, err)
		td.CmpFalse(t, ok)
	})

	t.Run("take_closes_parallel_stage", func(t *testing.T) {
		// Arrange
		var pulled atomic.Int64

		// Act
		results, err := datapipe.Collect(ctx, datapipe.Take(datapipe.ParallelMap(countingSource(&pulled, nil), square, 3), 10))
		pulledAfter := pulled.Load()
		time.Sleep(20 * time.Millisecond)

		// Assert
		td.CmpNoError(t, err)
		td.Cmp(t, results, squares(10))
		td.Cmp(t, pulled.Load(), pulledAfter)
	})

	t.Run("context_canceled", func(t *testing.T) {
		// Arrange
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		var pulled atomic.Int64
		slow := func(_ context.Context, x int) (int, error) {
			time.Sleep(time.Millisecond)
			return x, nil
		}
		it := datapipe.ParallelMap(countingSource(&pulled, nil), slow, 2).Iter(runCtx)
		defer it.Close()

		// Act
		consumed := 0
		var err error
		for {
			var ok bool
			_, ok, err = it.Next(runCtx)
			if err != nil || !ok {
				break
			}
			consumed++
			if consumed == 5 {
				cancel()
			}
		}

		// Assert
		td.CmpErrorIs(t, err, context.Canceled)
		td.CmpNoError(t, it.Close())
	})

	t.Run("bounded_in_flight", func(t *testing.T) {
		for _, tc := range []struct{ workers, multiplier int }{{1, 1}, {2, 2}, {4, 1}, {3, 3}} {
			t.Run(fmt.Sprintf("w%d_k%d", tc.workers, tc.multiplier), func(t *testing.T) {
				// Arrange
				var pulled, consumed, maxInFlight atomic.Int64
				onPull := func(n int64) {
					inFlight := n - consumed.Load()
					for {
						current := maxInFlight.Load()
						if inFlight <= current || maxInFlight.CompareAndSwap(current, inFlight) {
							return
						}
					}
				}
				it := datapipe.ParallelMap(countingSource(&pulled, onPull), square, tc.workers,
					datapipe.WithQueueMultiplier(tc.multiplier)).Iter(ctx)

				// Act
				for range 100 {
					_, ok, err := it.Next(ctx)
					td.Require(t).CmpNoError(err)
					td.Require(t).True(ok)
					time.Sleep(100 * time.Microsecond)
					consumed.Add(1)
				}
				td.CmpNoError(t, it.Close())

				// Assert
				td.Cmp(t, maxInFlight.Load(), td.Lte(int64(datapipe.InFlightLimit(tc.workers, tc.multiplier))))
				td.Cmp(t, maxInFlight.Load(), td.Gt(int64(0)))
			})
		}
	})
}

func TestParallelMapMetrics(t *testing.T) {
	// Arrange
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(ctx)

	// Act
	results, err := datapipe.Collect(ctx, datapipe.ParallelMap(datapipe.FromSlice(lo.Range(30)), square, 3,
		datapipe.WithMeter(provider.Meter("test")), datapipe.WithName("squares")))
	var rm metricdata.ResourceMetrics
	td.Require(t).CmpNoError(reader.Collect(ctx, &rm))

	// Assert
	td.CmpNoError(t, err)
	td.Cmp(t, results, squares(30))
	sums := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, point := range sum.DataPoints {
					sums[m.Name] += point.Value
				}
			}
		}
	}
	td.Cmp(t, sums, td.SuperMapOf(map[string]int64{
		"datapipe.parallel.dispatched": 30,
		"datapipe.parallel.emitted":    30,
	}, nil))
	td.Cmp(t, sums, td.Not(td.ContainsKey("datapipe.parallel.failures")))
}

func TestPendingOrder(t *testing.T) {
	td.Cmp(t, datapipe.PendingOrder(3, 0, 2, 1), []int{0, 1, 2, 3})
	td.Cmp(t, datapipe.PendingOrder(4, 1, 0, 2), []int{0, 1, 2}, "a gap holds back later results")
	td.CmpEmpty(t, datapipe.PendingOrder(1, 2))
}

func TestParallelMapConsistency(t *testing.T) {
	t.Run("result_left_after_completion", func(t *testing.T) {
		td.CmpPanic(t, datapipe.LeftoverResult(3),
			td.Re(`^check: results \[3\] left after every worker completed, next expected 0$`))
	})

	t.Run("duplicate_result", func(t *testing.T) {
		td.CmpPanic(t, datapipe.LateResult(1, 2), "check: result 1 received after it was emitted")
	})
}
