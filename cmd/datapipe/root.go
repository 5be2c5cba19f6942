package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fogfactory/datapipe/config"
	"github.com/fogfactory/datapipe/internal/logging"
)

type rootOptions struct {
	modelDir string
	items    []string
	logLevel string
	envFile  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "datapipe",
		Short:         "Build training batches with parallel ordered pipelines",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&opts.modelDir, "model_dir", "m", "", "The directory where the configuration of a model is saved.")
	cmd.PersistentFlags().StringArrayVarP(&opts.items, "configs", "c", nil,
		"A configuration item: a YAML file path or a 'key=value' formatted string. "+
			"The type of a value is determined by trying int, float, then true/false/null.")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log", "", "WARN | INFO (default) | DEBUG")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env_file", "", "A dotenv file loaded before reading DATAPIPE_* variables.")
	_ = cmd.MarkPersistentFlagRequired("model_dir")

	cmd.AddCommand(newRunCmd(opts), newConfigCmd(opts))
	return cmd
}

// load builds the configuration of the model directory, saving it on first use, and the logger it describes.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	bootstrap, err := logging.New(logging.Config{Level: o.level("INFO")}, cmd.ErrOrStderr())
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	loadOpts := []config.LoadOption{config.WithInitialize(), config.WithLogger(bootstrap)}
	if o.envFile != "" {
		loadOpts = append(loadOpts, config.WithEnvFile(o.envFile))
	}
	cfg, err := config.Load(o.modelDir, o.items, loadOpts...)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	logCfg := cfg.Log
	logCfg.Level = o.level(logCfg.Level)
	logger, err := logging.New(logCfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

// level returns the --log flag if given, else fallback.
func (o *rootOptions) level(fallback string) string {
	if o.logLevel != "" {
		return o.logLevel
	}
	return fallback
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration of a model directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			cfg.Print(logger)
			return nil
		},
	}
}
