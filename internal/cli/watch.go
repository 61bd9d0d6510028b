package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/j-veylop/antigravity-quota-monitor/internal/app"
	"github.com/j-veylop/antigravity-quota-monitor/internal/logger"
)

const watchLogFile = "aqm-watch.log"

func newWatchCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live terminal view of every account",
		Long: `Poll quotas in-process and render them in the terminal, refreshing as
batches complete. No HTTP server is started.

Keys: ↑/↓ select, enter make active, r refresh, ? help, q quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.runWatch(ctx)
		},
	}
}

func (a *App) runWatch(ctx context.Context) error {
	// Log lines would tear the alternate screen.
	closeLog := redirectLogs(a.cfg.DatabasePath)
	defer closeLog()

	mgr, err := a.newManager()
	if err != nil {
		return err
	}
	defer closeManager(mgr)

	mgr.Start(ctx)

	p := tea.NewProgram(
		app.NewModel(mgr),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}

// redirectLogs sends log output to a file next to the database, or
// discards it when there is no database directory.
func redirectLogs(databasePath string) func() {
	restore := func() { logger.SetOutput(os.Stderr) }

	if databasePath == "" {
		logger.SetOutput(io.Discard)
		return restore
	}

	f, err := os.OpenFile(filepath.Join(filepath.Dir(databasePath), watchLogFile),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		logger.SetOutput(io.Discard)
		return restore
	}
	logger.SetOutput(f)
	return func() {
		restore()
		_ = f.Close()
	}
}
