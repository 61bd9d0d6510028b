// Package accounts provides read access to the opencode accounts file with
// file watching, plus switching of the active account.
package accounts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/j-veylop/antigravity-quota-monitor/internal/logger"
	"github.com/j-veylop/antigravity-quota-monitor/internal/models"
)

const debounceInterval = 100 * time.Millisecond

var (
	// ErrAccountNotFound is returned when no account matches the given email.
	ErrAccountNotFound = errors.New("account not found")
	// ErrNoAccountsLoaded is returned when the accounts file is missing or empty.
	ErrNoAccountsLoaded = errors.New("no accounts loaded")
)

// Event represents an account service event.
type Event struct {
	Error error
	Type  EventType
}

// EventType defines the type of account event.
type EventType int

const (
	// EventAccountsChanged is sent after the accounts file was reloaded.
	EventAccountsChanged EventType = iota
	// EventError is sent when watching or reloading fails.
	EventError
)

// Service keeps the accounts file in memory and reloads it on change.
type Service struct {
	watcher       *fsnotify.Watcher
	debounceTimer *time.Timer
	eventChan     chan Event
	stopChan      chan struct{}
	now           func() time.Time
	filePath      string
	accounts      []models.Account
	activeIndex   int
	mu            sync.RWMutex
	debounceMu    sync.Mutex
	closeOnce     sync.Once
}

// DefaultAccountsPath returns the default accounts file path.
func DefaultAccountsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "opencode", "antigravity-accounts.json")
}

// New creates a new accounts service and starts file watching. A missing
// accounts file is not an error; the service starts empty and picks the file
// up once it appears.
func New(filePath string) (*Service, error) {
	if filePath == "" {
		filePath = DefaultAccountsPath()
	}

	s := &Service{
		accounts:  make([]models.Account, 0),
		filePath:  filePath,
		eventChan: make(chan Event, 100),
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}

	if err := s.reload(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load accounts: %w", err)
		}
		logger.Warn("accounts file not found", "path", filePath)
	}

	if err := s.startWatcher(); err != nil {
		logger.Warn("accounts file will not be watched", "path", filePath, "error", err)
	}

	return s, nil
}

// Events returns the event channel for subscribing to account changes.
func (s *Service) Events() <-chan Event {
	return s.eventChan
}

// Path returns the accounts file path.
func (s *Service) Path() string {
	return s.filePath
}

// GetAccounts returns a copy of all accounts.
func (s *Service) GetAccounts() []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]models.Account, len(s.accounts))
	for i := range s.accounts {
		accounts[i] = s.accounts[i].Clone()
	}
	return accounts
}

// Credentials returns what the quota orchestrator needs for every account.
func (s *Service) Credentials() []models.AccountCredentials {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creds := make([]models.AccountCredentials, 0, len(s.accounts))
	for i := range s.accounts {
		creds = append(creds, s.accounts[i].Credentials())
	}
	return creds
}

// GetActiveAccount returns the currently active account, or nil.
func (s *Service) GetActiveAccount() *models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.activeIndex < 0 || s.activeIndex >= len(s.accounts) {
		return nil
	}
	acc := s.accounts[s.activeIndex].Clone()
	return &acc
}

// GetAccountByEmail returns an account by email address, case-insensitively.
func (s *Service) GetAccountByEmail(email string) *models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.accounts {
		if strings.EqualFold(s.accounts[i].Email, email) {
			acc := s.accounts[i].Clone()
			return &acc
		}
	}
	return nil
}

// Count returns the number of accounts.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// SetActiveAccount makes the account with the given email the active one for
// every family and stamps its lastUsed. Fields this service does not know
// about are preserved in the file.
func (s *Service) SetActiveAccount(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoAccountsLoaded
		}
		return fmt.Errorf("failed to read accounts file: %w", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse accounts file: %w", err)
	}

	var entries []map[string]json.RawMessage
	if raw, ok := doc["accounts"]; ok {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return fmt.Errorf("failed to parse accounts: %w", err)
		}
	}
	if len(entries) == 0 {
		return ErrNoAccountsLoaded
	}

	idx := -1
	for i, entry := range entries {
		var entryEmail string
		if err := json.Unmarshal(entry["email"], &entryEmail); err == nil && strings.EqualFold(entryEmail, email) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, email)
	}

	byFamily := map[string]json.RawMessage{}
	if raw, ok := doc["activeIndexByFamily"]; ok {
		_ = json.Unmarshal(raw, &byFamily)
	}
	idxJSON := json.RawMessage(fmt.Sprint(idx))
	byFamily["claude"] = idxJSON
	byFamily["gemini"] = idxJSON

	entries[idx]["lastUsed"] = json.RawMessage(fmt.Sprint(s.now().UnixMilli()))

	doc["activeIndex"] = idxJSON
	if doc["activeIndexByFamily"], err = json.Marshal(byFamily); err != nil {
		return fmt.Errorf("failed to marshal active index: %w", err)
	}
	if doc["accounts"], err = json.Marshal(entries); err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal accounts file: %w", err)
	}

	if err := writeFileAtomic(s.filePath, out); err != nil {
		return err
	}

	accounts, activeIndex, err := parseAccounts(out)
	if err != nil {
		return err
	}
	s.accounts = accounts
	s.activeIndex = activeIndex

	logger.Info("active account switched", "index", idx)
	return nil
}

// parseAccounts parses the opencode accounts file, or a bare array of accounts.
func parseAccounts(data []byte) ([]models.Account, int, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []models.Account{}, -1, nil
	}

	var raw models.RawAccountsFile
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raw.Accounts); err != nil {
			return nil, -1, fmt.Errorf("failed to parse accounts file: %w", err)
		}
	} else if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, -1, fmt.Errorf("failed to parse accounts file: %w", err)
	}

	accounts := make([]models.Account, len(raw.Accounts))
	for i := range raw.Accounts {
		accounts[i] = raw.Accounts[i].ToAccount()
		accounts[i].IsActive = i == raw.ActiveIndex
	}

	activeIndex := raw.ActiveIndex
	if activeIndex < 0 || activeIndex >= len(accounts) {
		activeIndex = -1
	}
	return accounts, activeIndex, nil
}

// reload reads the accounts file into memory. A missing file empties the
// account list and returns the not-exist error.
func (s *Service) reload() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.accounts = []models.Account{}
			s.activeIndex = -1
			s.mu.Unlock()
		}
		return err
	}

	accounts, activeIndex, err := parseAccounts(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.accounts = accounts
	s.activeIndex = activeIndex
	s.mu.Unlock()
	return nil
}

// writeFileAtomic writes through a temp file in the same directory and renames it.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		if removeErr := os.Remove(tmpName); removeErr != nil && !os.IsNotExist(removeErr) {
			logger.Error("failed to remove temp file", "error", removeErr)
		}
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// startWatcher starts the file system watcher.
func (s *Service) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory (to catch file creation/deletion and atomic renames)
	dir := filepath.Dir(s.filePath)
	if err := watcher.Add(dir); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Error("failed to close watcher", "error", closeErr)
		}
		return err
	}
	s.watcher = watcher

	go s.watchLoop()
	return nil
}

// watchLoop handles file system events with debouncing.
func (s *Service) watchLoop() {
	base := filepath.Base(s.filePath)

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}

			// Only care about our accounts file
			if filepath.Base(event.Name) != base {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				s.scheduleReload()
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.sendEvent(Event{Type: EventError, Error: err})

		case <-s.stopChan:
			return
		}
	}
}

func (s *Service) scheduleReload() {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()

	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(debounceInterval, s.handleFileChange)
}

// handleFileChange reloads accounts from file after external change.
func (s *Service) handleFileChange() {
	select {
	case <-s.stopChan:
		return
	default:
	}

	if err := s.reload(); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to reload accounts file", "error", err)
		s.sendEvent(Event{Type: EventError, Error: err})
		return
	}

	logger.Debug("accounts file reloaded", "accounts", s.Count())
	s.sendEvent(Event{Type: EventAccountsChanged})
}

// sendEvent sends an event to the event channel non-blocking.
func (s *Service) sendEvent(event Event) {
	select {
	case s.eventChan <- event:
	default:
		// Channel full, drop oldest event
		select {
		case <-s.eventChan:
		default:
		}
		select {
		case s.eventChan <- event:
		default:
		}
	}
}

// Close stops the file watcher and cleans up resources.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopChan)

		s.debounceMu.Lock()
		if s.debounceTimer != nil {
			s.debounceTimer.Stop()
		}
		s.debounceMu.Unlock()

		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}
