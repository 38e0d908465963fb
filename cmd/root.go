// Package cmd implements the agenttown command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/agenttown/config"
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

type globalFlags struct {
	configPath string
	envFiles   []string
	logLevel   string
	logFormat  string
}

func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(g.configPath, func(o *config.LoadOptions) { o.EnvFiles = g.envFiles })
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:          "agenttown",
		Short:        "Run a town of autonomous, model-driven agents",
		Long:         "agenttown runs a small simulated town: every agent periodically perceives its surroundings, asks a language model what to do, works through its task queue and talks to its neighbours.",
		SilenceUsage: true,
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "path to a TOML configuration file")
	pf.StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the environment is read")
	pf.StringVar(&flags.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	pf.StringVar(&flags.logFormat, "log-format", "", "override logging.format (json, text)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(flags),
		newProvidersCmd(flags),
		newConfigCmd(flags),
		newPersonalitiesCmd(),
	)
	return rootCmd
}
