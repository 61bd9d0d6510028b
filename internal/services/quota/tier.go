package quota

import (
	"fmt"
	"time"

	"github.com/j-veylop/antigravity-quota-monitor/internal/models"
)

// SubscriptionTier represents the user's subscription level.
type SubscriptionTier string

const (
	// TierFree represents the free subscription tier.
	TierFree SubscriptionTier = "FREE"
	// TierPro represents the paid pro subscription tier.
	TierPro SubscriptionTier = "PRO"
	// TierUnknown represents an unknown subscription tier.
	TierUnknown SubscriptionTier = "UNKNOWN"
)

// TierThreshold is the reset time threshold for tier detection.
// PRO tier resets hourly (<=6 hours), FREE tier resets daily (>6 hours).
const TierThreshold = 6 * time.Hour

// detectSubscriptionTier determines the subscription tier from one reset time
// in epoch milliseconds.
func detectSubscriptionTier(resetMs *int64, now time.Time) SubscriptionTier {
	if resetMs == nil {
		return TierUnknown
	}

	duration := time.UnixMilli(*resetMs).Sub(now)

	// If reset time is in the past, we can't determine tier
	if duration < 0 {
		// Check if it was within the last hour (PRO likely)
		if duration > -1*time.Hour {
			return TierPro
		}
		return TierUnknown
	}

	if duration <= TierThreshold {
		return TierPro
	}

	return TierFree
}

// GetTierFromQuotas determines the overall tier from multiple model quotas.
// If any model shows PRO tier, the account is PRO.
func GetTierFromQuotas(quotas []models.ModelQuota, now time.Time) SubscriptionTier {
	hasFree := false

	for _, q := range quotas {
		switch detectSubscriptionTier(q.ResetTimeMs, now) {
		case TierPro:
			return TierPro
		case TierFree:
			hasFree = true
		}
	}

	if hasFree {
		return TierFree
	}
	return TierUnknown
}

// TimeUntilReset calculates the duration until quota reset.
func TimeUntilReset(resetMs *int64, now time.Time) time.Duration {
	if resetMs == nil {
		return 0
	}
	duration := time.UnixMilli(*resetMs).Sub(now)
	if duration < 0 {
		return 0
	}
	return duration
}

// FormatResetTime formats the reset time for display.
func FormatResetTime(resetMs *int64, now time.Time) string {
	if resetMs == nil {
		return "Unknown"
	}

	duration := TimeUntilReset(resetMs, now)
	if duration <= 0 {
		return "Now"
	}

	if duration < time.Minute {
		return "< 1m"
	}

	if duration < time.Hour {
		minutes := int(duration.Minutes())
		return fmt.Sprintf("%dm", minutes)
	}

	hours := int(duration.Hours())
	minutes := int(duration.Minutes()) % 60

	if minutes == 0 {
		return fmt.Sprintf("%dh", hours)
	}

	return fmt.Sprintf("%dh%dm", hours, minutes)
}
