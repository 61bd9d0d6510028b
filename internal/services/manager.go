// Package services wires the accounts directory, the quota orchestrator,
// persistence and metrics together and publishes anonymized snapshots.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/j-veylop/antigravity-quota-monitor/internal/config"
	"github.com/j-veylop/antigravity-quota-monitor/internal/db"
	"github.com/j-veylop/antigravity-quota-monitor/internal/logger"
	"github.com/j-veylop/antigravity-quota-monitor/internal/metrics"
	"github.com/j-veylop/antigravity-quota-monitor/internal/models"
	"github.com/j-veylop/antigravity-quota-monitor/internal/services/accounts"
	"github.com/j-veylop/antigravity-quota-monitor/internal/services/quota"
)

const (
	subscriberBuffer = 16
	persistTimeout   = 10 * time.Second

	criticalPercent  = 5
	resetJumpPercent = 20
)

// Notifier shows a desktop notification.
type Notifier func(title, message string) error

func beeepNotify(title, message string) error {
	return beeep.Notify(title, message, "")
}

// Option customizes a Manager.
type Option func(*options)

type options struct {
	httpClient *http.Client
	metrics    *metrics.Metrics
	notify     Notifier
	now        func() time.Time
}

// WithHTTPClient sets the client used for token exchange and quota fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithNotifier replaces the desktop notifier.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notify = n }
}

// WithClock replaces the time source used for reconciliation.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Manager orchestrates services and event routing.
type Manager struct {
	cfg         *config.Config
	accounts    *accounts.Service
	quota       *quota.Service
	database    *db.DB
	metrics     *metrics.Metrics
	notify      Notifier
	now         func() time.Time
	quotaEvents <-chan quota.Event
	unsubQuota  func()
	subscribers map[int]chan models.Update
	previous    map[string]models.AccountQuota
	stopChan    chan struct{}
	done        chan struct{}
	nextSubID   int
	mu          sync.RWMutex
	notifyMu    sync.Mutex
	closeOnce   sync.Once
}

// NewManager creates a new service manager. An empty DatabasePath disables
// persistence.
func NewManager(cfg *config.Config, opts ...Option) (*Manager, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = quota.NewHTTPClient(cfg.UseUTLS)
	}
	if o.notify == nil && cfg.DesktopNotify {
		o.notify = beeepNotify
	}

	m := &Manager{
		cfg:         cfg,
		metrics:     o.metrics,
		notify:      o.notify,
		now:         o.now,
		subscribers: make(map[int]chan models.Update),
		previous:    make(map[string]models.AccountQuota),
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
	}

	var err error
	m.accounts, err = accounts.New(cfg.AccountsPath)
	if err != nil {
		return nil, err
	}

	if cfg.DatabasePath != "" {
		m.database, err = db.New(cfg.DatabasePath)
		if err != nil {
			_ = m.accounts.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	m.quota = quota.New(quota.Config{
		HTTPClient:    o.httpClient,
		Metrics:       o.metrics,
		ClientID:      cfg.GoogleClientID,
		ClientSecret:  cfg.GoogleClientSecret,
		MaxConcurrent: cfg.MaxConcurrentFetch,
	})
	m.quotaEvents, m.unsubQuota = m.quota.Subscribe()

	go m.routeEvents()

	return m, nil
}

// Start warms the quota cache from the database and starts polling.
func (m *Manager) Start(ctx context.Context) {
	if m.database != nil {
		stored, err := m.database.LoadAccountQuotas(ctx)
		if err != nil {
			logger.Warn("failed to load stored quotas", "error", err)
		} else if len(stored) > 0 {
			m.quota.Seed(stored)
			logger.Info("restored last known quotas", "count", len(stored))
		}
	}

	interval := m.cfg.QuotaPollInterval
	if interval <= 0 {
		interval = quota.DefaultPollInterval
	}
	m.quota.StartPolling(m.accounts.Credentials, interval)
}

// routeEvents turns service events into published snapshots.
func (m *Manager) routeEvents() {
	defer close(m.done)

	accountEvents := m.accounts.Events()
	quotaEvents := m.quotaEvents
	for {
		select {
		case event, ok := <-quotaEvents:
			if !ok {
				quotaEvents = nil
				continue
			}
			m.handleQuotaEvent(event)

		case event := <-accountEvents:
			m.handleAccountEvent(event)

		case <-m.stopChan:
			return
		}
	}
}

func (m *Manager) handleQuotaEvent(event quota.Event) {
	if event.Type != quota.EventBatchCompleted {
		return
	}

	cached := m.quota.GetCached()
	m.persist(cached)
	m.checkNotifications(cached)

	snapshot := m.Snapshot()
	m.updateGauges(snapshot)

	logger.Debug("quota batch published",
		"batch", event.BatchID, "accounts", event.Accounts, "failed", event.Failed)
	m.broadcast(m.update(models.UpdateChanged, snapshot))
}

func (m *Manager) handleAccountEvent(event accounts.Event) {
	switch event.Type {
	case accounts.EventAccountsChanged:
		m.broadcast(m.update(models.UpdateChanged, m.Snapshot()))

	case accounts.EventError:
		msg := "accounts file error"
		if event.Error != nil {
			msg = event.Error.Error()
		}
		m.broadcast(models.Update{
			Type:      models.UpdateError,
			Error:     msg,
			Timestamp: m.now().UnixMilli(),
		})
	}
}

func (m *Manager) persist(cached []models.AccountQuota) {
	if m.database == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := m.database.SaveAccountQuotas(ctx, cached); err != nil {
		logger.Error("failed to persist quotas", "error", err)
		return
	}

	accs := m.accounts.GetAccounts()
	keep := make([]string, 0, len(accs))
	for _, acc := range accs {
		keep = append(keep, acc.Email)
	}
	if n, err := m.database.PruneAccountQuotas(ctx, keep); err != nil {
		logger.Warn("failed to prune stored quotas", "error", err)
	} else if n > 0 {
		logger.Debug("pruned stored quotas", "count", n)
	}
}

func (m *Manager) updateGauges(snapshot []models.EnrichedAccount) {
	if m.metrics == nil {
		return
	}
	m.metrics.ResetFamilyRemaining()
	for _, acc := range snapshot {
		if acc.Quota == nil {
			continue
		}
		for _, f := range models.Families {
			m.metrics.SetFamilyRemaining(acc.Email, string(f), acc.Quota.Family(f).Percent)
		}
	}
}

// checkNotifications alerts when a family drops below the critical level or
// jumps back up after a reset. The first quota seen for an account only
// establishes the baseline.
func (m *Manager) checkNotifications(cached []models.AccountQuota) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	for _, q := range cached {
		old, exists := m.previous[q.Email]
		if exists && old.LastFetched == q.LastFetched {
			continue
		}
		m.previous[q.Email] = q
		if !exists || m.notify == nil || q.FetchError != "" {
			continue
		}

		name := AnonymizeEmail(q.Email)
		for _, f := range models.Families {
			newP, oldP := q.Family(f).Percent, old.Family(f).Percent
			if newP == nil || oldP == nil {
				continue
			}

			if *newP < criticalPercent && *oldP >= criticalPercent {
				title := fmt.Sprintf("Critical Quota: %s", name)
				body := fmt.Sprintf("%s quota is below %d%% (%d%%)", f.Label(), criticalPercent, *newP)
				m.sendNotification(title, body)
			}
			if *newP-*oldP > resetJumpPercent {
				title := fmt.Sprintf("Quota Reset: %s", name)
				body := fmt.Sprintf("%s quota has been refreshed (%d%%)", f.Label(), *newP)
				m.sendNotification(title, body)
			}
		}
	}
}

func (m *Manager) sendNotification(title, body string) {
	if err := m.notify(title, body); err != nil {
		logger.Warn("failed to send notification", "error", err)
	}
}

// Snapshot joins every directory account with its cached quota, applies the
// account's rate-limit windows and anonymizes emails.
func (m *Manager) Snapshot() []models.EnrichedAccount {
	accs := m.accounts.GetAccounts()
	now := m.now()

	result := make([]models.EnrichedAccount, 0, len(accs))
	for _, acc := range accs {
		email := AnonymizeEmail(acc.Email)
		q := quota.Reconcile(m.quota.GetCachedQuota(acc.Email), acc.RateLimitResetTimes, now)
		if q != nil {
			q.Email = email
		}
		result = append(result, models.EnrichedAccount{
			Email:     email,
			ProjectID: acc.ProjectID,
			IsActive:  acc.IsActive,
			Quota:     q,
		})
	}
	return result
}

// InitialUpdate returns the message sent to a subscriber when it connects.
func (m *Manager) InitialUpdate() models.Update {
	return m.update(models.UpdateInitial, m.Snapshot())
}

func (m *Manager) update(t models.UpdateType, snapshot []models.EnrichedAccount) models.Update {
	return models.Update{
		Type:      t,
		Accounts:  snapshot,
		Timestamp: m.now().UnixMilli(),
	}
}

// AnonymizeEmail keeps the first two characters of the local part and the
// domain: "alice@example.com" becomes "al***@example.com".
func AnonymizeEmail(email string) string {
	local, domain, found := strings.Cut(email, "@")
	prefix := local
	if r := []rune(local); len(r) > 2 {
		prefix = string(r[:2])
	}
	if !found {
		return prefix + "***"
	}
	return prefix + "***@" + domain
}

// broadcast delivers an update to every subscriber. A subscriber whose
// buffer is full misses this update.
func (m *Manager) broadcast(update models.Update) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscribers {
		select {
		case sub <- update:
		default:
		}
	}
}

// Subscribe creates a channel receiving every published update. Call the
// returned func to unsubscribe.
func (m *Manager) Subscribe() (<-chan models.Update, func()) {
	ch := make(chan models.Update, subscriberBuffer)

	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.stopChan:
		close(ch)
		return ch, func() {}
	default:
	}

	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if sub, ok := m.subscribers[id]; ok {
				delete(m.subscribers, id)
				close(sub)
			}
		})
	}
}

// Refresh fetches every account now and returns the resulting snapshot.
// Subscribers also receive it through the batch event.
func (m *Manager) Refresh(ctx context.Context) []models.EnrichedAccount {
	m.quota.FetchAll(ctx, m.accounts.Credentials())
	return m.Snapshot()
}

// SetActiveAccount switches the active account in the accounts file. The
// email is matched case-insensitively.
func (m *Manager) SetActiveAccount(email string) error {
	acc := m.accounts.GetAccountByEmail(email)
	if acc == nil {
		return fmt.Errorf("%w: %s", accounts.ErrAccountNotFound, AnonymizeEmail(email))
	}
	if err := m.accounts.SetActiveAccount(acc.Email); err != nil {
		return err
	}
	logger.Info("active account switched", "email", AnonymizeEmail(acc.Email))
	return nil
}

// ActivateAccount makes the account at index, in directory order, the active
// one. Snapshot uses the same order.
func (m *Manager) ActivateAccount(index int) error {
	accs := m.accounts.GetAccounts()
	if index < 0 || index >= len(accs) {
		return accounts.ErrAccountNotFound
	}
	return m.SetActiveAccount(accs[index].Email)
}

// Stats summarizes the manager state. Active is the anonymized email of the
// active account, empty if none.
type Stats struct {
	Quota       quota.Stats
	Accounts    int
	Subscribers int
	Active      string
	Polling     bool
}

// GetStats returns aggregated statistics.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	subs := len(m.subscribers)
	m.mu.RUnlock()

	stats := Stats{
		Quota:       m.quota.GetStats(),
		Accounts:    m.accounts.Count(),
		Subscribers: subs,
		Polling:     m.quota.IsPolling(),
	}
	if acc := m.accounts.GetActiveAccount(); acc != nil {
		stats.Active = AnonymizeEmail(acc.Email)
	}
	return stats
}

// Accounts returns the accounts service.
func (m *Manager) Accounts() *accounts.Service {
	return m.accounts
}

// Quota returns the quota service.
func (m *Manager) Quota() *quota.Service {
	return m.quota
}

// Metrics returns the metrics collector, which may be nil.
func (m *Manager) Metrics() *metrics.Metrics {
	return m.metrics
}

// Database returns the database instance, nil when persistence is disabled.
func (m *Manager) Database() *db.DB {
	return m.database
}

// Close stops polling and closes every service and subscriber.
func (m *Manager) Close() error {
	var errs []error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		close(m.stopChan)
		for id, sub := range m.subscribers {
			delete(m.subscribers, id)
			close(sub)
		}
		m.mu.Unlock()

		m.unsubQuota()
		if err := m.quota.Close(); err != nil {
			errs = append(errs, err)
		}
		<-m.done

		if err := m.accounts.Close(); err != nil {
			errs = append(errs, err)
		}

		if m.database != nil {
			if err := m.database.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
