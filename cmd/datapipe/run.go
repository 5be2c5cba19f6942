package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/fogfactory/datapipe"
	"github.com/fogfactory/datapipe/config"
	"github.com/fogfactory/datapipe/source"
)

const (
	formatLines = "lines"
	formatCSV   = "csv"
)

// sample is a tokenized line.
type sample struct {
	Text   string
	Tokens []string
}

func sampleLen(s sample) int { return len(s.Tokens) }

func tokenize(_ context.Context, text string) (sample, error) {
	return sample{Text: text, Tokens: strings.Fields(text)}, nil
}

type runStats struct {
	batches int
	samples int
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var input, format, field string
	var withMetrics bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stream the batches built from an input file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			texts, err := textSource(input, format, field)
			if err != nil {
				return err
			}
			ctx := logger.WithContext(cmd.Context())
			var stageOpts []datapipe.Option
			var metrics *runMetrics
			if withMetrics {
				metrics = newRunMetrics()
				stageOpts = append(stageOpts, metrics.option())
			}
			stats, err := streamBatches(ctx, buildBatches(cfg, texts, logger, stageOpts...), logger)
			if err != nil {
				return err
			}
			logger.Info().Int("batches", stats.batches).Int("samples", stats.samples).Msg("done")
			if metrics != nil {
				return metrics.report(ctx, logger)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "The input file. Standard input when empty.")
	cmd.Flags().StringVar(&format, "format", formatLines, "lines | csv")
	cmd.Flags().StringVar(&field, "field", "text", "The CSV column holding the text.")
	cmd.Flags().BoolVar(&withMetrics, "metrics", false, "Log the stage counters at the end of the run.")
	return cmd
}

// textSource yields the texts of the input file.
func textSource(input, format, field string) (*datapipe.Dataset[string], error) {
	switch format {
	case formatLines:
		return source.TextLines(input), nil
	case formatCSV:
		if input == "" {
			return nil, fmt.Errorf("--input is required with --format %s", formatCSV)
		}
		return datapipe.Map(source.CSV(input), func(_ context.Context, r source.Record) (string, error) {
			text, ok := r[field]
			if !ok {
				return "", fmt.Errorf("no %q column", field)
			}
			return text, nil
		}, datapipe.WithName("csv_field")), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// buildBatches composes the pipeline described by cfg: repeat, shuffle, parallel tokenization, then bucketed or fixed
// batching. stageOpts are added to the parallel stage.
func buildBatches(cfg *config.Config, texts *datapipe.Dataset[string], logger zerolog.Logger, stageOpts ...datapipe.Option) *datapipe.Dataset[[]sample] {
	ds := texts
	switch {
	case cfg.Repeat == 0:
		ds = datapipe.RepeatForever(ds)
	case cfg.Repeat > 1:
		ds = datapipe.Repeat(ds, cfg.Repeat)
	}
	if cfg.ShuffleBuffer > 1 {
		ds = datapipe.Shuffle(ds, cfg.ShuffleBuffer, datapipe.WithSeed(cfg.Seed))
	}

	parallelOpts := append([]datapipe.Option{
		datapipe.WithName("tokenize"),
		datapipe.WithQueueMultiplier(cfg.QueueMultiplier),
		datapipe.WithLogger(logger),
	}, stageOpts...)
	samples := datapipe.ParallelMap(ds, tokenize, cfg.Workers, parallelOpts...)

	var batches *datapipe.Dataset[[]sample]
	if cfg.Bucketed() {
		policy := datapipe.OverflowError
		if cfg.DropOverLength {
			policy = datapipe.OverflowDrop
		}
		batches = datapipe.Bucket(samples, cfg.BucketBoundaries, cfg.BucketBatchSizes, sampleLen, datapipe.Stack[sample],
			datapipe.WithOverflow(policy),
			datapipe.WithLogger(logger),
		)
	} else {
		batches = datapipe.Batch(samples, cfg.BatchSize, datapipe.Stack[sample])
	}

	if cfg.Take > 0 {
		batches = datapipe.Take(batches, cfg.Take)
	}
	return batches
}

func streamBatches(ctx context.Context, batches *datapipe.Dataset[[]sample], logger zerolog.Logger) (runStats, error) {
	var stats runStats
	err := datapipe.ForEach(ctx, batches, func(_ context.Context, batch []sample) error {
		logger.Info().
			Int("batch", stats.batches).
			Int("size", len(batch)).
			Int("max_len", lo.Max(lo.Map(batch, func(s sample, _ int) int { return sampleLen(s) }))).
			Msg("batch")
		stats.batches++
		stats.samples += len(batch)
		return nil
	})
	return stats, err
}
