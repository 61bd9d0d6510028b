package models

import "slices"

// Family identifies one of the tracked quota groupings.
type Family string

const (
	// FamilyClaude covers every Claude/Anthropic model.
	FamilyClaude Family = "claude"
	// FamilyGeminiFlash covers Gemini Flash models.
	FamilyGeminiFlash Family = "geminiFlash"
	// FamilyGeminiPro covers Gemini Pro models.
	FamilyGeminiPro Family = "geminiPro"
)

// Families lists the tracked families in display order.
var Families = []Family{FamilyClaude, FamilyGeminiFlash, FamilyGeminiPro}

// Label returns the display name of the family.
func (f Family) Label() string {
	switch f {
	case FamilyClaude:
		return "Claude"
	case FamilyGeminiFlash:
		return "Gemini Flash"
	case FamilyGeminiPro:
		return "Gemini Pro"
	}
	return string(f)
}

// ModelQuota is the remaining quota reported for a single upstream model.
type ModelQuota struct {
	ResetTime        *string `json:"resetTime"`
	ResetTimeMs      *int64  `json:"resetTimeMs"`
	ModelName        string  `json:"modelName"`
	DisplayName      string  `json:"displayName"`
	RemainingPercent int     `json:"remainingPercent"`
}

// FamilyQuota is the worst-of value for one family. A nil Percent means no data.
type FamilyQuota struct {
	Percent   *int
	ResetTime *int64
}

// HasData reports whether the family had at least one matching model.
func (f FamilyQuota) HasData() bool {
	return f.Percent != nil
}

// AccountQuota is the reduced quota state of one account after a fetch.
type AccountQuota struct {
	ClaudeQuotaPercent      *int         `json:"claudeQuotaPercent"`
	GeminiFlashQuotaPercent *int         `json:"geminiFlashQuotaPercent"`
	GeminiProQuotaPercent   *int         `json:"geminiProQuotaPercent"`
	ClaudeResetTime         *int64       `json:"claudeResetTime"`
	GeminiFlashResetTime    *int64       `json:"geminiFlashResetTime"`
	GeminiProResetTime      *int64       `json:"geminiProResetTime"`
	Email                   string       `json:"email"`
	ProjectID               string       `json:"projectId,omitempty"`
	FetchError              string       `json:"fetchError,omitempty"`
	SubscriptionTier        string       `json:"subscriptionTier,omitempty"`
	Models                  []ModelQuota `json:"models"`
	LastFetched             int64        `json:"lastFetched"`
}

// Family returns the value of a tracked family.
func (q *AccountQuota) Family(f Family) FamilyQuota {
	switch f {
	case FamilyClaude:
		return FamilyQuota{Percent: q.ClaudeQuotaPercent, ResetTime: q.ClaudeResetTime}
	case FamilyGeminiFlash:
		return FamilyQuota{Percent: q.GeminiFlashQuotaPercent, ResetTime: q.GeminiFlashResetTime}
	case FamilyGeminiPro:
		return FamilyQuota{Percent: q.GeminiProQuotaPercent, ResetTime: q.GeminiProResetTime}
	}
	return FamilyQuota{}
}

// SetFamily replaces the value of a tracked family.
func (q *AccountQuota) SetFamily(f Family, v FamilyQuota) {
	switch f {
	case FamilyClaude:
		q.ClaudeQuotaPercent, q.ClaudeResetTime = v.Percent, v.ResetTime
	case FamilyGeminiFlash:
		q.GeminiFlashQuotaPercent, q.GeminiFlashResetTime = v.Percent, v.ResetTime
	case FamilyGeminiPro:
		q.GeminiProQuotaPercent, q.GeminiProResetTime = v.Percent, v.ResetTime
	}
}

// Clone returns a deep copy, so that callers can adjust a cached quota
// without touching the cache.
func (q *AccountQuota) Clone() *AccountQuota {
	if q == nil {
		return nil
	}
	c := *q
	c.Models = slices.Clone(q.Models)
	for _, f := range Families {
		v := q.Family(f)
		c.SetFamily(f, FamilyQuota{Percent: clonePtr(v.Percent), ResetTime: clonePtr(v.ResetTime)})
	}
	for i := range c.Models {
		c.Models[i].ResetTime = clonePtr(c.Models[i].ResetTime)
		c.Models[i].ResetTimeMs = clonePtr(c.Models[i].ResetTimeMs)
	}
	return &c
}

// EnrichedAccount is the publish-time view of an account: anonymized,
// joined with its latest quota and reconciled against rate-limit windows.
type EnrichedAccount struct {
	Quota     *AccountQuota `json:"quota"`
	Email     string        `json:"email"`
	ProjectID string        `json:"projectId,omitempty"`
	IsActive  bool          `json:"isActive"`
}

// UpdateType distinguishes push messages.
type UpdateType string

const (
	// UpdateInitial is sent once when a subscriber connects.
	UpdateInitial UpdateType = "initial"
	// UpdateChanged is sent after every quota batch or accounts file change.
	UpdateChanged UpdateType = "update"
	// UpdateError carries a transport-level error.
	UpdateError UpdateType = "error"
)

// Update is a snapshot pushed to subscribers.
type Update struct {
	Type      UpdateType        `json:"type"`
	Error     string            `json:"error,omitempty"`
	Accounts  []EnrichedAccount `json:"accounts,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
