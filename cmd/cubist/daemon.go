package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chainsafe/cubist/pkg/app"
	"github.com/chainsafe/cubist/pkg/app/chains"
	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	apprelayer "github.com/chainsafe/cubist/pkg/app/relayer"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/daemon"
	"github.com/chainsafe/cubist/pkg/localchains"
	"github.com/chainsafe/cubist/pkg/relayer"
)

const (
	modeBackground = "background"
	modeForeground = "foreground"
)

// relayerFlags are the settings of "start relayer".
type relayerFlags struct {
	noWatch         bool
	watchIntervalMs uint64
	maxEvents       uint64
	opsAddr         string
}

// args renders the flags for the foreground child of a background start.
func (f relayerFlags) args() []string {
	out := []string{
		"--watch-interval=" + strconv.FormatUint(f.watchIntervalMs, 10),
		"--max-events=" + strconv.FormatUint(f.maxEvents, 10),
	}
	if f.noWatch {
		out = append(out, "--no-watch")
	}
	if f.opsAddr != "" {
		out = append(out, "--ops-addr="+f.opsAddr)
	}
	return out
}

func (c *cli) newManager() (*daemon.Manager, error) {
	cacheDir, err := config.CacheDir()
	if err != nil {
		return nil, apperrors.IOError(err, "locate cache directory")
	}
	return daemon.NewManager(cacheDir, daemon.WithLogger(c.logger)), nil
}

// logArgs forwards the logging settings to a child process.
func (c *cli) logArgs() []string {
	return []string{
		"--log-level=" + c.v.GetString("log-level"),
		"--log-format=" + c.v.GetString("log-format"),
		"--log-output=" + c.v.GetString("log-output"),
	}
}

func (c *cli) service(cfg *config.Config, kind daemon.Kind, rf relayerFlags) app.Runner {
	switch kind {
	case daemon.KindChains:
		return chains.NewServer(cfg, localchains.Options{}, c.logger)
	default:
		return apprelayer.NewServer(cfg, apprelayer.Options{
			Engine: relayer.Config{
				NoWatch:      rf.noWatch,
				PollInterval: time.Duration(rf.watchIntervalMs) * time.Millisecond,
				MaxEvents:    rf.maxEvents,
			},
			OpsAddr: rf.opsAddr,
		}, c.logger)
	}
}

func (c *cli) newStartCmd() *cobra.Command {
	var (
		configPath string
		mode       string
		rf         relayerFlags
	)
	cmd := &cobra.Command{
		Use:   "start [chains|relayer]",
		Short: "Start a Cubist service (e.g., chains or relayer)",
		Long: "Start a Cubist service. Without a service name the chains are started, " +
			"followed by the relayer when the project spans more than one target.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(daemon.KindChains), string(daemon.KindRelayer)},
		RunE: func(cmd *cobra.Command, args []string) error {
			var background bool
			switch mode {
			case modeBackground:
				background = true
			case modeForeground:
			default:
				return fmt.Errorf("invalid mode %q (expected %s or %s)", mode, modeBackground, modeForeground)
			}
			cfg, err := c.loadConfig(configPath)
			if err != nil {
				return err
			}
			m, err := c.newManager()
			if err != nil {
				return err
			}
			start := func(kind daemon.Kind, background bool) error {
				req := daemon.StartRequest{
					Info:       daemon.Info{Kind: kind, Config: cfg.Path()},
					Background: background,
					Args:       append([]string{string(kind)}, c.logArgs()...),
					Service:    c.service(cfg, kind, rf),
				}
				if kind == daemon.KindRelayer {
					req.Args = append(req.Args, rf.args()...)
				}
				return m.Start(cmd.Context(), req)
			}

			if len(args) == 1 {
				kind, err := daemon.ParseKind(args[0])
				if err != nil {
					return err
				}
				if err := start(kind, background); err != nil {
					return err
				}
			} else {
				// the relayer needs the chains, so they cannot hold the terminal
				runRelayer := len(cfg.Targets()) > 1
				if err := start(daemon.KindChains, background || runRelayer); err != nil {
					return err
				}
				if runRelayer {
					if err := start(daemon.KindRelayer, background); err != nil {
						return err
					}
				}
			}
			if !background {
				done()
			}
			return nil
		},
	}
	addConfigFlag(cmd, &configPath)
	f := cmd.Flags()
	f.StringVarP(&mode, "mode", "m", modeBackground, "How to start the service (background or foreground)")
	f.BoolVarP(&rf.noWatch, "no-watch", "w", false, "Relayer: bridge existing deployments only, do not watch for new ones")
	f.Uint64VarP(&rf.watchIntervalMs, "watch-interval", "d", 500, "Relayer: how often (in milliseconds) to poll for new deployments")
	f.Uint64VarP(&rf.maxEvents, "max-events", "e", 0, "Relayer: max number of events to process (0 for no limit)")
	f.StringVar(&rf.opsAddr, "ops-addr", "", "Relayer: address of the health and metrics server (disabled when empty)")
	return cmd
}

// filterFlags selects daemons for stop and status.
type filterFlags struct {
	config string
	pid    int
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.config, "config", "c", "", "Limit to processes that were started using this config file")
	cmd.Flags().IntVarP(&f.pid, "pid", "p", 0, "Limit to the process with this process id")
}

func (f *filterFlags) filter(args []string, logger *zap.Logger) (daemon.Filter, error) {
	filter := daemon.Filter{Config: f.config, PID: f.pid}
	if len(args) == 1 {
		kind, err := daemon.ParseKind(args[0])
		if err != nil {
			return daemon.Filter{}, err
		}
		filter.Kind = kind
	}
	return filter.Canonicalize(logger), nil
}

func (c *cli) newStopCmd() *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:       "stop [chains|relayer]",
		Short:     "Stop a running Cubist service",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(daemon.KindChains), string(daemon.KindRelayer)},
		RunE: func(_ *cobra.Command, args []string) error {
			filter, err := ff.filter(args, c.logger)
			if err != nil {
				return err
			}
			m, err := c.newManager()
			if err != nil {
				return err
			}
			return m.Stop(filter)
		},
	}
	ff.register(cmd)
	return cmd
}

func (c *cli) newStatusCmd() *cobra.Command {
	var (
		ff     filterFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:       "status [chains|relayer]",
		Short:     "Print out the status of running Cubist services",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(daemon.KindChains), string(daemon.KindRelayer)},
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := ff.filter(args, c.logger)
			if err != nil {
				return err
			}
			m, err := c.newManager()
			if err != nil {
				return err
			}
			n, err := m.Status(cmd.OutOrStdout(), filter, asJSON)
			if err != nil {
				return err
			}
			if !asJSON && n == 0 {
				return fmt.Errorf("no running '%s' daemon found", binaryName)
			}
			return nil
		},
	}
	ff.register(cmd)
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Print the daemons as JSON")
	return cmd
}
