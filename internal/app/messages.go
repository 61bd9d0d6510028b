package app

import (
	"time"

	"github.com/j-veylop/antigravity-quota-monitor/internal/models"
)

// TickMsg is sent periodically so countdowns re-render.
type TickMsg struct {
	Time time.Time
}

// UpdateMsg carries an update pushed by the manager.
type UpdateMsg struct {
	Update models.Update
}

// SubscriptionClosedMsg signals the update stream ended.
type SubscriptionClosedMsg struct{}

// RefreshDoneMsg contains the snapshot after a manual refresh.
type RefreshDoneMsg struct {
	At       time.Time
	Accounts []models.EnrichedAccount
}

// SwitchAccountResultMsg contains the result of an account switch.
type SwitchAccountResultMsg struct {
	Error error
	Email string
}

// RemoveNotificationMsg requests removal of a notification.
type RemoveNotificationMsg struct {
	ID string
}
