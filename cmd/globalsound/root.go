package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/config"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/logging"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/pipeline"
)

// runnerFactory builds the localization pipeline for a loaded config
type runnerFactory func(cfg *config.Config, logger *logging.Logger) localizer

func defaultRunner(cfg *config.Config, logger *logging.Logger) localizer {
	return pipeline.NewOrchestrator(pipeline.NewCapabilities(cfg, logger), pipeline.OptionsFromConfig(cfg), logger)
}

type commandContext struct {
	configFlag *string
	newRunner  runnerFactory

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, newRunner runnerFactory) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		newRunner:  newRunner,
	}
}

// ensureConfig loads the config file when one is given and falls back to
// defaults otherwise
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := ""
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		if path == "" {
			c.config = config.Default()
			return
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(defaultRunner)
}

func newRootCommandWith(newRunner runnerFactory) *cobra.Command {
	var configFlag string

	ctx := newCommandContext(&configFlag, newRunner)

	rootCmd := &cobra.Command{
		Use:           "globalsound",
		Short:         "Transcribe and translate video audio into subtitles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newLanguagesCommand())
	rootCmd.AddCommand(newTokenCommand(ctx))

	return rootCmd
}
