// Package app provides the live watch model and its state.
package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/j-veylop/antigravity-quota-monitor/internal/models"
)

// NotificationType defines the type of notification.
type NotificationType int

const (
	// NotificationSuccess represents a success notification.
	NotificationSuccess NotificationType = iota
	// NotificationError represents an error notification.
	NotificationError
	// NotificationWarning represents a warning notification.
	NotificationWarning
	// NotificationInfo represents an informational notification.
	NotificationInfo
)

const maxNotifications = 5

// String returns the string representation of a NotificationType.
func (n NotificationType) String() string {
	switch n {
	case NotificationSuccess:
		return "success"
	case NotificationError:
		return "error"
	case NotificationWarning:
		return "warning"
	case NotificationInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Notification represents a user-facing notification message.
type Notification struct {
	CreatedAt time.Time
	ID        string
	Message   string
	Duration  time.Duration
	Type      NotificationType
}

// IsExpired reports whether the notification has outlived its duration.
// A zero duration never expires.
func (n *Notification) IsExpired(now time.Time) bool {
	if n.Duration <= 0 {
		return false
	}
	return now.Sub(n.CreatedAt) > n.Duration
}

// State is what the watch view renders. It only changes in response to
// messages, so the view never blocks on the manager.
type State struct {
	LastUpdated time.Time

	Accounts      []models.EnrichedAccount
	notifications []Notification

	Selected        int
	notificationSeq int

	mu sync.RWMutex

	Refreshing bool
	Connected  bool
}

// NewState creates an empty state.
func NewState() *State {
	return &State{
		Accounts:      make([]models.EnrichedAccount, 0),
		notifications: make([]Notification, 0),
		Connected:     true,
	}
}

// ApplyUpdate folds a pushed update into the state. Error updates only
// raise a notification and keep the last good snapshot.
func (s *State) ApplyUpdate(u models.Update) {
	if u.Type == models.UpdateError {
		s.AddNotification(NotificationError, u.Error, LongNotificationDuration)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.setAccountsLocked(u.Accounts)
	if u.Timestamp > 0 {
		s.LastUpdated = time.UnixMilli(u.Timestamp)
	}
}

// SetAccounts replaces the rendered snapshot.
func (s *State) SetAccounts(accounts []models.EnrichedAccount, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setAccountsLocked(accounts)
	s.LastUpdated = at
}

func (s *State) setAccountsLocked(accounts []models.EnrichedAccount) {
	s.Accounts = accounts
	switch {
	case len(accounts) == 0:
		s.Selected = 0
	case s.Selected >= len(accounts):
		s.Selected = len(accounts) - 1
	}
}

// GetAccounts returns a copy of the accounts list.
func (s *State) GetAccounts() []models.EnrichedAccount {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]models.EnrichedAccount, len(s.Accounts))
	copy(accounts, s.Accounts)
	return accounts
}

// MoveSelection moves the cursor by delta, clamped to the account list.
func (s *State) MoveSelection(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.Accounts) == 0 {
		s.Selected = 0
		return
	}
	s.Selected = max(0, min(s.Selected+delta, len(s.Accounts)-1))
}

// SelectedIndex returns the cursor position.
func (s *State) SelectedIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Selected
}

// BeginRefresh marks a manual refresh as running. It returns false when
// one is already in flight.
func (s *State) BeginRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Refreshing {
		return false
	}
	s.Refreshing = true
	return true
}

// EndRefresh clears the refreshing flag.
func (s *State) EndRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Refreshing = false
}

// SetConnected records whether the update stream is still open.
func (s *State) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Connected = connected
}

// Status is a consistent read of the header fields.
type Status struct {
	LastUpdated time.Time
	Accounts    int
	Refreshing  bool
	Connected   bool
}

// Status returns the header fields.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		LastUpdated: s.LastUpdated,
		Accounts:    len(s.Accounts),
		Refreshing:  s.Refreshing,
		Connected:   s.Connected,
	}
}

// SelectedAccount returns the account under the cursor, or nil.
func (s *State) SelectedAccount() *models.EnrichedAccount {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.Selected < 0 || s.Selected >= len(s.Accounts) {
		return nil
	}
	acc := s.Accounts[s.Selected]
	return &acc
}

// Summary counts accounts whose last fetch failed and families that are
// exhausted.
func (s *State) Summary() (failing, exhausted int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acc := range s.Accounts {
		if acc.Quota == nil {
			continue
		}
		if acc.Quota.FetchError != "" {
			failing++
		}
		for _, f := range models.Families {
			if p := acc.Quota.Family(f).Percent; p != nil && *p == 0 {
				exhausted++
			}
		}
	}
	return failing, exhausted
}

// AddNotification adds a new notification and returns its ID.
func (s *State) AddNotification(notifType NotificationType, message string, duration time.Duration) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notificationSeq++
	id := fmt.Sprintf("n-%d", s.notificationSeq)

	s.notifications = append(s.notifications, Notification{
		ID:        id,
		Type:      notifType,
		Message:   message,
		CreatedAt: time.Now(),
		Duration:  duration,
	})

	if len(s.notifications) > maxNotifications {
		s.notifications = s.notifications[len(s.notifications)-maxNotifications:]
	}

	return id
}

// RemoveNotification removes a notification by ID.
func (s *State) RemoveNotification(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, n := range s.notifications {
		if n.ID == id {
			s.notifications = append(s.notifications[:i], s.notifications[i+1:]...)
			return
		}
	}
}

// ClearExpiredNotifications removes notifications expired at now.
func (s *State) ClearExpiredNotifications(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.notifications[:0]
	for _, n := range s.notifications {
		if !n.IsExpired(now) {
			active = append(active, n)
		}
	}
	s.notifications = active
}

// GetNotifications returns a copy of the current notifications.
func (s *State) GetNotifications() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}
