package benchmark

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/fogfactory/datapipe"
)

// Profile generates a CPU profile of a ParallelMap stage. It will be outputted in dir as
// datapipe_{date}_n{count}_w{workers}.prof.
//
// - count Number of elements pushed through the stage.
// - delay Time spent by the transform on each element.
// - workers Pool sizes to profile, one run each.
//
// use pprof to read the file (go install github.com/google/pprof@latest).
func Profile(dir string, count int, delay time.Duration, workers ...int) (string, error) {
	// Profile file
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("datapipe_%s_n%d_w%s.prof",
		strings.ReplaceAll(time.Now().Truncate(time.Second).Format(time.DateTime), " ", "-"),
		count,
		strings.Join(lo.Map(workers, func(item, _ int) string { return fmt.Sprint(item) }), "-"))))
	if err != nil {
		return "", err
	}
	defer f.Close()

	ctx := context.Background()
	input := datapipe.FromSlice(lo.Range(count))
	slow := datapipe.Lift(func(i int) int { time.Sleep(delay); return i })

	// Start profiling
	err = func() error {
		if err := pprof.StartCPUProfile(f); err != nil {
			return err
		}
		defer pprof.StopCPUProfile()

		for _, w := range workers {
			start := time.Now()
			if _, err := datapipe.Collect(ctx, datapipe.ParallelMap(input, slow, w)); err != nil {
				return err
			}
			fmt.Printf("(par w%d: %s)\n", w, time.Since(start))
		}
		return nil
	}()
	if err != nil {
		return "", err
	}

	// sequential equivalent
	start := time.Now()
	if _, err := datapipe.Collect(ctx, datapipe.Map(input, slow)); err != nil {
		return "", err
	}
	fmt.Printf("(seq: %s)\n", time.Since(start))
	fmt.Printf("profile:%s\n", f.Name())

	// Call pprof on a file
	// pprof -http=:8080 $file
	return f.Name(), nil
}
