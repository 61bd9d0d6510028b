package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/j-veylop/antigravity-quota-monitor/internal/api"
	"github.com/j-veylop/antigravity-quota-monitor/internal/logger"
	"github.com/j-veylop/antigravity-quota-monitor/internal/metrics"
	"github.com/j-veylop/antigravity-quota-monitor/internal/services"
)

const metricsNamespace = "aqm"

type serveOptions struct {
	host            string
	port            int
	shutdownTimeout time.Duration
}

func newServeCmd(a *App) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll quotas and serve them over HTTP and WebSocket",
		Long: `Start polling every account and serve the snapshot on
/api/accounts, push updates on /ws and expose Prometheus metrics on /metrics.

Example:
  aqm serve --port 3456`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "", "Listen host (overrides HOST)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "Listen port (overrides PORT)")
	cmd.Flags().DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	return cmd
}

// runServe blocks until ctx is done or the listener fails.
func (a *App) runServe(ctx context.Context, opts serveOptions) error {
	if opts.host != "" {
		a.cfg.Host = opts.host
	}
	if opts.port != 0 {
		a.cfg.Port = opts.port
	}

	mgr, err := a.newManager(services.WithMetrics(metrics.NewMetrics(metricsNamespace)))
	if err != nil {
		return err
	}
	defer closeManager(mgr)

	mgr.Start(ctx)

	server := api.NewServer(a.cfg, mgr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stats := mgr.GetStats()
	logger.Info("quota monitor started",
		"addr", a.cfg.ListenAddr(),
		"accounts", stats.Accounts,
		"active", stats.Active,
		"polling", stats.Polling,
		"interval", a.cfg.QuotaPollInterval)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
