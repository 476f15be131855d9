package main

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"subforge/internal/config"
	"subforge/internal/logging"
	"subforge/internal/version"
)

type commandContext struct {
	configFlag *string
	verbose    *bool

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var verbose bool
	ctx := &commandContext{configFlag: &configFlag, verbose: &verbose}

	rootCmd := &cobra.Command{
		Use:           "subforge",
		Short:         "Generate and translate subtitle files",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (YAML or TOML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")

	rootCmd.AddCommand(newTranscribeCommand(ctx))
	rootCmd.AddCommand(newTranslateCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newModelsCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))
	return rootCmd
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load(strings.TrimSpace(*c.configFlag))
	})
	return c.config, c.configErr
}

// logger writes to stderr so stdout stays clean for results.
func (c *commandContext) logger(cfg config.Config) *slog.Logger {
	level := cfg.Log.Level
	if *c.verbose {
		level = "debug"
	}
	logger, err := logging.New(os.Stderr, level, cfg.Log.Format)
	if err != nil {
		return slog.Default()
	}
	return logger
}
