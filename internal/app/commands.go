package app

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/j-veylop/antigravity-quota-monitor/internal/models"
)

const (
	// DefaultTickInterval is the default interval between ticks.
	DefaultTickInterval = time.Second

	// DefaultNotificationDuration is the default duration for notifications.
	DefaultNotificationDuration = 5 * time.Second

	// LongNotificationDuration is for errors.
	LongNotificationDuration = 10 * time.Second

	refreshTimeout = 60 * time.Second
)

// Backend is what the watch view needs from the service manager.
type Backend interface {
	InitialUpdate() models.Update
	Subscribe() (<-chan models.Update, func())
	Refresh(ctx context.Context) []models.EnrichedAccount
	ActivateAccount(index int) error
}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}

// initialUpdateCmd emits the current snapshot so the first frame is not empty.
func initialUpdateCmd(b Backend) tea.Cmd {
	return func() tea.Msg {
		return UpdateMsg{Update: b.InitialUpdate()}
	}
}

// waitForUpdateCmd blocks for the next update on ch.
func waitForUpdateCmd(ch <-chan models.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return SubscriptionClosedMsg{}
		}
		return UpdateMsg{Update: u}
	}
}

func refreshCmd(b Backend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		accounts := b.Refresh(ctx)
		return RefreshDoneMsg{Accounts: accounts, At: time.Now()}
	}
}

// switchAccountCmd activates the account at index. label is the displayed
// (anonymized) email used in the result message.
func switchAccountCmd(b Backend, index int, label string) tea.Cmd {
	return func() tea.Msg {
		return SwitchAccountResultMsg{Email: label, Error: b.ActivateAccount(index)}
	}
}

func removeNotificationCmd(id string, after time.Duration) tea.Cmd {
	return tea.Tick(after, func(time.Time) tea.Msg {
		return RemoveNotificationMsg{ID: id}
	})
}
