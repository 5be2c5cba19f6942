package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables overriding defaults, e.g. DATAPIPE_WORKERS or DATAPIPE_LOG_LEVEL.
const EnvPrefix = "DATAPIPE"

// LoadOption is a functional option for Load.
type LoadOption func(*loader)

type loader struct {
	initialize bool
	envFile    string
	logger     zerolog.Logger
}

// WithInitialize accepts a model directory without saved configuration, and saves the loaded one into it.
func WithInitialize() LoadOption {
	return func(l *loader) { l.initialize = true }
}

// WithEnvFile loads a dotenv file before reading the environment.
func WithEnvFile(path string) LoadOption {
	return func(l *loader) { l.envFile = path }
}

// WithLogger logs replaced values with logger.
func WithLogger(logger zerolog.Logger) LoadOption {
	return func(l *loader) { l.logger = logger }
}

// Load builds the configuration of modelDir. items are applied in order after the saved configuration; each is either
// a key=value override or the path of a YAML file.
func Load(modelDir string, items []string, opts ...LoadOption) (*Config, error) {
	l := loader{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&l)
	}

	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil {
			return nil, fmt.Errorf("loading env file %s: %w", l.envFile, err)
		}
	}

	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	saved := filepath.Join(modelDir, FileName)
	hasSaved := exists(saved)
	switch {
	case hasSaved:
		items = append([]string{saved}, items...)
	case !l.initialize:
		return nil, fmt.Errorf("%w: %s", ErrInvalidModelDir, modelDir)
	}

	for _, item := range items {
		if err := l.apply(v, item); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.settings = make(map[string]any)
	for _, key := range v.AllKeys() {
		cfg.settings[key] = v.Get(key)
	}

	if !hasSaved && l.initialize {
		if err := os.MkdirAll(modelDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating model directory: %w", err)
		}
		if err := v.WriteConfigAs(saved); err != nil {
			return nil, fmt.Errorf("saving configuration to %s: %w", saved, err)
		}
		l.logger.Info().Str("path", saved).Msg("configuration saved")
	}
	return cfg, nil
}

func (l *loader) apply(v *viper.Viper, item string) error {
	key, value, isOverride := strings.Cut(item, "=")
	if isOverride {
		l.update(v, strings.TrimSpace(key), ParseValue(strings.TrimSpace(value)))
		return nil
	}

	if !exists(item) {
		return fmt.Errorf("%w: %s", ErrMissingFile, item)
	}
	file := viper.New()
	file.SetConfigFile(item)
	file.SetConfigType("yaml")
	if err := file.ReadInConfig(); err != nil {
		return fmt.Errorf("reading configuration file %s: %w", item, err)
	}
	for _, key := range file.AllKeys() {
		l.update(v, key, file.Get(key))
	}
	return nil
}

func (l *loader) update(v *viper.Viper, key string, value any) {
	if v.IsSet(key) {
		if previous := v.Get(key); fmt.Sprint(previous) != fmt.Sprint(value) {
			l.logger.Info().Msgf("The original value of configuration '%s' is '%v', but it is replaced by '%v'.", key, previous, value)
		}
	}
	v.Set(key, value)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
