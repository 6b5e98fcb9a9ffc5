package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/chainsafe/cubist/internal/ui"
	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/config"
)

const binaryName = "cubist"

// cli holds the state shared by every subcommand.
type cli struct {
	v      *viper.Viper
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New(), logger: zap.NewNop()}
	c.v.SetEnvPrefix("CUBIST")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           binaryName,
		Short:         "Multi-chain Web3 development and deployment framework",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ui.Init()
			return c.initLogger()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = c.logger.Sync()
		},
	}
	flags := root.PersistentFlags()
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flags.String("log-format", "console", "Log format (console or json)")
	flags.String("log-output", "stderr", "Log destination (stderr, stdout or a file path)")
	for _, name := range []string{"log-level", "log-format", "log-output"} {
		_ = c.v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(
		c.newNewCmd(),
		c.newPreCompileCmd(),
		c.newCompileCmd(),
		c.newBuildCmd(),
		c.newGenCmd(),
		c.newStartCmd(),
		c.newStopCmd(),
		c.newStatusCmd(),
	)
	return root
}

func (c *cli) initLogger() error {
	logger, err := config.NewLogger(config.LoggingConfig{
		Level:      c.v.GetString("log-level"),
		Format:     c.v.GetString("log-format"),
		OutputPath: c.v.GetString("log-output"),
	})
	if err != nil {
		return apperrors.ConfigurationError(err, "Failed to initialize logger")
	}
	c.logger = logger
	return nil
}

// loadConfig loads the config at path, or the nearest one above the
// working directory when path is empty.
func (c *cli) loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path == "" {
		var cwd string
		if cwd, err = os.Getwd(); err != nil {
			return nil, apperrors.IOError(err, "get working directory")
		}
		cfg, err = config.Nearest(cwd)
	} else {
		cfg, err = config.LoadWithLogger(path, c.logger)
	}
	if err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}
	c.logger.Debug("Loaded config", zap.String("path", cfg.Path()))
	return cfg, nil
}

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", "", "Explicit config file")
	_ = cmd.MarkFlagFilename("config", "json")
}

func done() {
	ui.Println(pterm.NewStyle(pterm.FgGreen, pterm.Bold).Sprint("Done!"))
}
