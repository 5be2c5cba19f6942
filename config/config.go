// Package config loads the pipeline configuration of a model directory.
//
// A model directory keeps the configuration it was created with in config.yml. Loading applies, in order, the saved
// file, then every item given by the caller: either a YAML file path or a key=value override.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/fogfactory/datapipe/internal/logging"
)

// FileName is the name of the configuration saved in a model directory.
const FileName = "config.yml"

var (
	ErrInvalidModelDir = errors.New("invalid model directory")
	ErrMissingFile     = errors.New("configuration file doesn't exist")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// Config holds the settings of a pipeline run. It is built once and passed along explicitly.
type Config struct {
	// Workers is the ParallelMap pool size.
	Workers int `mapstructure:"workers" validate:"min=1"`
	// QueueMultiplier is the K of the ParallelMap queue capacities (workers × K).
	QueueMultiplier int `mapstructure:"queue_multiplier" validate:"min=1"`
	// BatchSize is the fixed batch size, used when no bucket is configured.
	BatchSize int `mapstructure:"batch_size" validate:"min=1"`
	// ShuffleBuffer is the shuffle window. 0 or 1 disables shuffling.
	ShuffleBuffer int    `mapstructure:"shuffle_buffer" validate:"min=0"`
	Seed          uint64 `mapstructure:"seed"`
	// Repeat is the number of passes over the source. 0 repeats forever.
	Repeat int `mapstructure:"repeat" validate:"min=0"`
	// Take bounds the number of batches produced. 0 means no bound.
	Take             int   `mapstructure:"take" validate:"min=0"`
	BucketBoundaries []int `mapstructure:"bucket_boundaries" validate:"dive,min=0"`
	BucketBatchSizes []int `mapstructure:"bucket_batch_sizes" validate:"dive,min=1"`
	// DropOverLength drops elements longer than every bucket boundary instead of failing.
	DropOverLength bool           `mapstructure:"drop_over_length"`
	Log            logging.Config `mapstructure:"log"`

	settings map[string]any
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Workers:         4,
		QueueMultiplier: 2,
		BatchSize:       32,
		ShuffleBuffer:   0,
		Repeat:          1,
		DropOverLength:  true,
		Log:             logging.Config{Level: "INFO", Format: logging.FormatConsole},
	}
}

func defaults() map[string]any {
	d := Default()
	return map[string]any{
		"workers":            d.Workers,
		"queue_multiplier":   d.QueueMultiplier,
		"batch_size":         d.BatchSize,
		"shuffle_buffer":     d.ShuffleBuffer,
		"seed":               d.Seed,
		"repeat":             d.Repeat,
		"take":               d.Take,
		"bucket_boundaries":  []int{},
		"bucket_batch_sizes": []int{},
		"drop_over_length":   d.DropOverLength,
		"log.level":          d.Log.Level,
		"log.format":         d.Log.Format,
		"log.no_color":       d.Log.NoColor,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field, and that bucket boundaries and batch sizes go by pair.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if len(c.BucketBoundaries) != len(c.BucketBatchSizes) {
		return fmt.Errorf("%w: %d bucket boundaries for %d bucket batch sizes",
			ErrInvalidConfig, len(c.BucketBoundaries), len(c.BucketBatchSizes))
	}
	return nil
}

// Bucketed reports whether batches are built by length buckets.
func (c *Config) Bucketed() bool {
	return len(c.BucketBoundaries) > 0
}

// Print logs every setting, sorted by key.
func (c *Config) Print(logger zerolog.Logger) {
	keys := lo.Keys(c.settings)
	slices.Sort(keys)
	logger.Info().Msg("------------------- All configurations --------------------")
	for _, key := range keys {
		logger.Info().Msgf("%s = %v", key, c.settings[key])
	}
	logger.Info().Msg("------------------------------------------------------------")
}

// ParseValue types an override value: int, then float, then true, false or null, else the string itself.
func ParseValue(value string) any {
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	return value
}
