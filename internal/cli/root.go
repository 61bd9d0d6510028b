// Package cli wires the aqm commands.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/j-veylop/antigravity-quota-monitor/internal/config"
	"github.com/j-veylop/antigravity-quota-monitor/internal/logger"
	"github.com/j-veylop/antigravity-quota-monitor/internal/services"
	"github.com/j-veylop/antigravity-quota-monitor/internal/version"
)

// App carries the dependencies commands share. Tests swap LoadConfig and
// ManagerOptions.
type App struct {
	Out            io.Writer
	LoadConfig     func() (*config.Config, error)
	ManagerOptions []services.Option

	cfg      *config.Config
	logLevel string
}

// NewApp returns an App reading the real environment.
func NewApp() *App {
	return &App{
		Out:        os.Stdout,
		LoadConfig: config.Load,
	}
}

// NewRootCmd builds the aqm command tree.
func NewRootCmd(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "aqm",
		Short: "Antigravity quota monitor",
		Long: `aqm polls the remaining model quota of every account in the opencode
antigravity accounts file and publishes it over HTTP, WebSocket and the terminal.

Configuration comes from the environment and .env files, see README.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := a.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if a.logLevel != "" {
				cfg.LogLevel = a.logLevel
			}
			logger.SetLevel(cfg.LogLevel)
			a.cfg = cfg
			return nil
		},
	}
	root.SetOut(a.Out)
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(a),
		newQuotasCmd(a),
		newWatchCmd(a),
		newVersionCmd(a),
	)
	return root
}

func newVersionCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCmd(NewApp()).Execute()
}

func (a *App) newManager(opts ...services.Option) (*services.Manager, error) {
	mgr, err := services.NewManager(a.cfg, append(append([]services.Option{}, a.ManagerOptions...), opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	return mgr, nil
}

func closeManager(mgr *services.Manager) {
	if err := mgr.Close(); err != nil {
		logger.Warn("error closing services", "error", err)
	}
}
