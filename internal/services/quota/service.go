package quota

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/j-veylop/antigravity-quota-monitor/internal/logger"
	"github.com/j-veylop/antigravity-quota-monitor/internal/metrics"
	"github.com/j-veylop/antigravity-quota-monitor/internal/models"
)

// DefaultPollInterval is used when polling is started without an interval.
const DefaultPollInterval = 120 * time.Second

// CredentialsProvider returns the accounts to poll. It is called on every tick.
type CredentialsProvider func() []models.AccountCredentials

// EventType defines the type of quota event.
type EventType int

const (
	// EventBatchCompleted is emitted once after every FetchAll, whatever the
	// per-account outcomes.
	EventBatchCompleted EventType = iota
)

// Event is a quota service notification. It carries no quota data; readers
// pull the current state with GetCached.
type Event struct {
	At       time.Time
	BatchID  uuid.UUID
	Accounts int
	Failed   int
	Type     EventType
}

// Config holds configuration for the quota service.
type Config struct {
	HTTPClient    *http.Client
	Metrics       *metrics.Metrics
	ClientID      string
	ClientSecret  string
	MaxConcurrent int
}

// Service fetches quotas for many accounts concurrently and owns the
// authoritative per-email cache.
type Service struct {
	exchanger   *TokenExchanger
	fetcher     *Fetcher
	metrics     *metrics.Metrics
	cache       map[string]models.AccountQuota
	subscribers map[int]chan Event
	fetchSem    chan struct{}
	pollCancel  context.CancelFunc
	pollDone    chan struct{}
	now         func() time.Time
	lastBatch   time.Time
	nextSubID   int
	mu          sync.RWMutex
	pollMu      sync.Mutex
	closed      bool
}

// New creates a new quota service.
func New(cfg Config) *Service {
	client := cfg.HTTPClient
	if client == nil {
		client = NewHTTPClient(false)
	}

	exchanger := NewTokenExchanger(client, cfg.ClientID, cfg.ClientSecret)
	exchanger.metrics = cfg.Metrics
	fetcher := NewFetcher(client)
	fetcher.metrics = cfg.Metrics

	s := &Service{
		exchanger:   exchanger,
		fetcher:     fetcher,
		metrics:     cfg.Metrics,
		cache:       make(map[string]models.AccountQuota),
		subscribers: make(map[int]chan Event),
		now:         time.Now,
	}
	if cfg.MaxConcurrent > 0 {
		s.fetchSem = make(chan struct{}, cfg.MaxConcurrent)
	}
	return s
}

// FetchAccount runs the exchange, fetch and reduce pipeline for one account.
// Failures are reported in FetchError, never returned.
func (s *Service) FetchAccount(ctx context.Context, creds models.AccountCredentials) models.AccountQuota {
	q, _ := s.fetchAccount(ctx, creds)
	return q
}

// fetchAccount is FetchAccount that also hands back the cause of a failure.
func (s *Service) fetchAccount(ctx context.Context, creds models.AccountCredentials) (models.AccountQuota, error) {
	q := models.AccountQuota{
		Email:     creds.Email,
		ProjectID: creds.ProjectID,
		Models:    []models.ModelQuota{},
	}

	accessToken, err := s.exchanger.Exchange(ctx, creds.RefreshToken)
	if err != nil {
		err = fmt.Errorf("failed to refresh token: %w", err)
		return s.failed(q, err), err
	}

	resp, err := s.fetcher.Fetch(ctx, accessToken, creds.ProjectID)
	if err != nil {
		err = fmt.Errorf("failed to fetch models: %w", err)
		return s.failed(q, err), err
	}

	now := s.now()
	Reduce(resp).Apply(&q)
	q.SubscriptionTier = string(GetTierFromQuotas(q.Models, now))
	q.LastFetched = now.UnixMilli()

	s.metrics.RecordAccountFetch("ok")
	logger.Debug("fetched quota", "email", creds.Email, "models", len(q.Models))
	return q, nil
}

func (s *Service) failed(q models.AccountQuota, err error) models.AccountQuota {
	q.FetchError = err.Error()
	q.LastFetched = s.now().UnixMilli()
	s.metrics.RecordAccountFetch("error")
	logger.Warn("failed to fetch quota", "email", q.Email, "error", err)
	return q
}

func (s *Service) fetchAccountSafe(ctx context.Context, creds models.AccountCredentials) (q models.AccountQuota, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("quota pipeline panicked", "email", creds.Email, "panic", r)
			err = fmt.Errorf("unexpected failure: %v", r)
			q = s.failed(models.AccountQuota{
				Email:     creds.Email,
				ProjectID: creds.ProjectID,
				Models:    []models.ModelQuota{},
			}, err)
		}
	}()
	return s.fetchAccount(ctx, creds)
}

// interrupted reports whether err is only the batch context ending, as
// opposed to an upstream answer worth caching.
func interrupted(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err())
}

// FetchAll fetches every account concurrently and waits for all of them.
// One account failing never affects the others. The results are merged into
// the cache in one step and a single EventBatchCompleted is emitted, also
// when ctx ends mid-batch. Accounts cut short by ctx keep their cache entry.
func (s *Service) FetchAll(ctx context.Context, creds []models.AccountCredentials) []models.AccountQuota {
	start := s.now()
	results := make([]models.AccountQuota, len(creds))
	errs := make([]error, len(creds))

	var wg sync.WaitGroup
	for i, c := range creds {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if s.fetchSem != nil {
				select {
				case s.fetchSem <- struct{}{}:
					defer func() { <-s.fetchSem }()
				case <-ctx.Done():
					errs[i] = ctx.Err()
					results[i] = s.failed(models.AccountQuota{
						Email:     c.Email,
						ProjectID: c.ProjectID,
						Models:    []models.ModelQuota{},
					}, ctx.Err())
					return
				}
			}

			results[i], errs[i] = s.fetchAccountSafe(ctx, c)
		}()
	}
	wg.Wait()

	failed, skipped := 0, 0
	s.mu.Lock()
	for i, r := range results {
		if interrupted(ctx, errs[i]) {
			skipped++
			continue
		}
		if r.FetchError != "" {
			failed++
		}
		if prev, ok := s.cache[r.Email]; ok && prev.LastFetched > r.LastFetched {
			continue
		}
		s.cache[r.Email] = r
	}
	s.lastBatch = s.now()
	s.mu.Unlock()

	s.metrics.ObserveBatch(s.now().Sub(start))

	event := Event{
		Type:     EventBatchCompleted,
		BatchID:  uuid.New(),
		At:       s.now(),
		Accounts: len(results),
		Failed:   failed,
	}
	logger.Info("quota batch completed",
		"batch", event.BatchID, "accounts", event.Accounts, "failed", event.Failed, "interrupted", skipped,
		"duration", s.now().Sub(start).Round(time.Millisecond))
	s.publish(event)

	return results
}

// GetCached returns a copy of every cached quota, ordered by email.
func (s *Service) GetCached() []models.AccountQuota {
	s.mu.RLock()
	out := make([]models.AccountQuota, 0, len(s.cache))
	for _, q := range s.cache {
		out = append(out, *q.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.AccountQuota) int {
		return strings.Compare(a.Email, b.Email)
	})
	return out
}

// GetCachedQuota returns a copy of the cached quota for email, or nil.
func (s *Service) GetCachedQuota(email string) *models.AccountQuota {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.cache[email]
	if !ok {
		return nil
	}
	return q.Clone()
}

// Seed fills the cache with previously persisted quotas. Entries already
// present and newer are kept.
func (s *Service) Seed(quotas []models.AccountQuota) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range quotas {
		if q.Email == "" {
			continue
		}
		if prev, ok := s.cache[q.Email]; ok && prev.LastFetched >= q.LastFetched {
			continue
		}
		s.cache[q.Email] = *q.Clone()
	}
}

// Subscribe registers for batch events. Delivery coalesces: a slow reader
// sees the most recent pending event only. Call the returned func to
// unsubscribe.
func (s *Service) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(sub)
			}
		})
	}
}

func (s *Service) publish(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// replace the pending event with the newer one
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// StartPolling fetches immediately and then every interval. Calling it again
// replaces the running loop.
func (s *Service) StartPolling(provider CredentialsProvider, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	s.stopPollingLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.pollCancel = cancel
	s.pollDone = done

	logger.Info("quota polling started", "interval", interval)
	go s.pollLoop(ctx, done, provider, interval)
}

// StopPolling stops the polling loop. The cache is kept. Safe to call repeatedly.
func (s *Service) StopPolling() {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	s.stopPollingLocked()
}

// IsPolling reports whether a polling loop is running.
func (s *Service) IsPolling() bool {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	return s.pollCancel != nil
}

func (s *Service) stopPollingLocked() {
	if s.pollCancel == nil {
		return
	}
	s.pollCancel()
	<-s.pollDone
	s.pollCancel = nil
	s.pollDone = nil
	logger.Info("quota polling stopped")
}

func (s *Service) pollLoop(ctx context.Context, done chan struct{}, provider CredentialsProvider, interval time.Duration) {
	defer close(done)

	s.pollOnce(ctx, provider)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pollOnce(ctx, provider)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) pollOnce(ctx context.Context, provider CredentialsProvider) {
	if provider == nil {
		return
	}
	creds := provider()
	if len(creds) == 0 {
		logger.Debug("no accounts to poll")
		return
	}
	s.FetchAll(ctx, creds)
}

// Close stops polling and closes all subscriber channels.
func (s *Service) Close() error {
	s.StopPolling()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	return nil
}

// Stats returns statistics about the quota service.
type Stats struct {
	LastBatch       time.Time
	CachedQuotas    int
	CachedTokens    int
	FailingAccounts int
	Subscribers     int
}

// GetStats returns current statistics.
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		LastBatch:    s.lastBatch,
		CachedQuotas: len(s.cache),
		CachedTokens: s.exchanger.CachedTokens(),
		Subscribers:  len(s.subscribers),
	}
	for _, q := range s.cache {
		if q.FetchError != "" {
			stats.FailingAccounts++
		}
	}
	return stats
}
