// Package models defines data structures and domain types.
package models

import (
	"encoding/json"
	"maps"
	"time"
)

// Account represents a Google Cloud account from the opencode accounts file.
// The refresh token never leaves the process; it is excluded from JSON.
type Account struct {
	AddedAt             time.Time        `json:"addedAt"`
	LastUsed            time.Time        `json:"lastUsed"`
	RateLimitResetTimes map[string]int64 `json:"rateLimitResetTimes,omitempty"`
	RefreshToken        string           `json:"-"`
	ProjectID           string           `json:"projectId,omitempty"`
	ManagedProjectID    string           `json:"managedProjectId,omitempty"`
	Email               string           `json:"email"`
	IsActive            bool             `json:"isActive"`
}

// Credentials returns the subset of the account the quota pipeline needs.
func (a *Account) Credentials() AccountCredentials {
	return AccountCredentials{
		Email:        a.Email,
		RefreshToken: a.RefreshToken,
		ProjectID:    a.ProjectID,
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() Account {
	clone := *a
	if a.RateLimitResetTimes != nil {
		clone.RateLimitResetTimes = make(map[string]int64, len(a.RateLimitResetTimes))
		maps.Copy(clone.RateLimitResetTimes, a.RateLimitResetTimes)
	}
	return clone
}

// AccountCredentials is what the quota orchestrator pulls from the account directory.
type AccountCredentials struct {
	Email        string
	RefreshToken string
	ProjectID    string
}

// ActiveIndexByFamily records which account is active per model family.
type ActiveIndexByFamily struct {
	Claude *int `json:"claude,omitempty"`
	Gemini *int `json:"gemini,omitempty"`
}

// RawAccountData represents the JSON structure of an account in the accounts file.
// Used for backward-compatible JSON parsing from antigravity-accounts.json.
type RawAccountData struct {
	RateLimitResetTimes map[string]float64 `json:"rateLimitResetTimes,omitempty"`
	Email               string             `json:"email"`
	RefreshToken        string             `json:"refreshToken"`
	ProjectID           string             `json:"projectId,omitempty"`
	ManagedProjectID    string             `json:"managedProjectId,omitempty"`
	AddedAt             json.RawMessage    `json:"addedAt,omitempty"`
	LastUsed            json.RawMessage    `json:"lastUsed,omitempty"`
}

// RawAccountsFile represents the top-level structure of the accounts JSON file.
type RawAccountsFile struct {
	ActiveIndexByFamily *ActiveIndexByFamily `json:"activeIndexByFamily,omitempty"`
	Accounts            []RawAccountData     `json:"accounts"`
	Version             int                  `json:"version"`
	ActiveIndex         int                  `json:"activeIndex"`
}

// ToAccount converts RawAccountData to Account, parsing date fields.
func (r *RawAccountData) ToAccount() Account {
	acc := Account{
		Email:            r.Email,
		RefreshToken:     r.RefreshToken,
		ProjectID:        r.ProjectID,
		ManagedProjectID: r.ManagedProjectID,
	}

	if r.RateLimitResetTimes != nil {
		acc.RateLimitResetTimes = make(map[string]int64, len(r.RateLimitResetTimes))
		for k, v := range r.RateLimitResetTimes {
			acc.RateLimitResetTimes[k] = int64(v)
		}
	}

	// AddedAt and LastUsed can be ISO strings or Unix timestamps
	if len(r.AddedAt) > 0 {
		acc.AddedAt = parseTimeField(r.AddedAt)
	}
	if len(r.LastUsed) > 0 {
		acc.LastUsed = parseTimeField(r.LastUsed)
	}

	return acc
}

// parseTimeField attempts to parse a JSON time value as either ISO string or Unix timestamp.
func parseTimeField(data json.RawMessage) time.Time {
	var strVal string
	if err := json.Unmarshal(data, &strVal); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, strVal); err == nil {
			return t
		}
		if t, err := time.Parse("2006-01-02T15:04:05.000Z", strVal); err == nil {
			return t
		}
	}

	var numVal float64
	if err := json.Unmarshal(data, &numVal); err == nil {
		if numVal > 1e12 {
			// Milliseconds
			return time.UnixMilli(int64(numVal))
		}
		return time.Unix(int64(numVal), 0)
	}

	return time.Time{}
}
