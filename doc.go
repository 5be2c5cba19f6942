/*
datapipe builds lazy, composable pipelines that feed batches of samples to a training loop.

A pipeline starts from a Dataset (a slice, a channel, a file, or any Iterator factory) and is extended by stages:
Map, Filter, Repeat, Shuffle, Batch, Bucket, Take, and ParallelMap. No work happens until the final Dataset is
iterated, and each stage pulls from the previous one on demand.

Every stage but ParallelMap runs in the caller's goroutine. ParallelMap applies a transform with a fixed pool of
goroutines (an ants pool sized to the worker count) and still yields results in source order:

- A dispatcher goroutine pulls the source, tags each element with its sequence index and pushes it on a bounded work queue.
- Each worker takes jobs, applies the transform and pushes the tagged result on a bounded result queue.
- The caller's Next reassembles results through a min-heap keyed by sequence index and only releases the next expected index.

Both queues hold workers × K items (K is the queue multiplier, see WithQueueMultiplier). The dispatcher also holds a credit
per element until the caller has consumed it, so no more than 2 × workers × K + workers elements are ever in flight, however
slow a single element is.

Termination is detected by counting one sentinel per worker, never by queue emptiness. Failures of the source, of the
transform (including panics) are delivered in sequence order and are terminal for the stage. Close stops the dispatcher
and every worker, so a consumer may stop early without leaking goroutines.

For instance:

	ds := datapipe.FromSlice(lines)
	ds = datapipe.Shuffle(ds, 1024, datapipe.WithSeed(7))
	samples := datapipe.ParallelMap(ds, tokenize, 8)
	batches := datapipe.Bucket(samples, []int{16, 64}, []int{32, 8}, sampleLen, datapipe.Stack[Sample])
	err := datapipe.ForEach(ctx, batches, train)

Sizing the pool is a trade-off between latency and memory: a transform that waits a lot (I/O) benefits from a large pool,
a CPU bound transform rarely benefits from more workers than CPUs. As for any performance tuning, you should try and tune.
*/

package datapipe
