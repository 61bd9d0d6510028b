package quota

import (
	"slices"
	"strings"
	"time"

	"github.com/j-veylop/antigravity-quota-monitor/internal/models"
)

// Reconcile overlays locally recorded rate-limit windows on a fetched quota.
// q is never modified; the result is a copy, or nil when there is nothing to
// show. windows maps a family key to its reset time in epoch milliseconds.
func Reconcile(q *models.AccountQuota, windows map[string]int64, now time.Time) *models.AccountQuota {
	nowMs := now.UnixMilli()

	active := make(map[models.Family]int64, len(models.Families))
	for _, f := range models.Families {
		if reset, ok := lookupWindow(windows, f); ok && reset > nowMs {
			active[f] = reset
		}
	}

	if q == nil {
		if len(active) == 0 {
			return nil
		}
		synth := &models.AccountQuota{Models: []models.ModelQuota{}}
		for f, reset := range active {
			synth.SetFamily(f, models.FamilyQuota{Percent: models.Ptr(0), ResetTime: models.Ptr(reset)})
		}
		return synth
	}

	out := q.Clone()
	for _, f := range models.Families {
		if reset, ok := active[f]; ok {
			out.SetFamily(f, models.FamilyQuota{Percent: models.Ptr(0), ResetTime: models.Ptr(reset)})
			continue
		}
		// upstream reports an exhausted family as 100% with no reset time
		v := out.Family(f)
		if v.Percent != nil && *v.Percent == 100 && v.ResetTime == nil {
			out.SetFamily(f, models.FamilyQuota{Percent: models.Ptr(0)})
		}
	}
	return out
}

func lookupWindow(windows map[string]int64, f models.Family) (int64, bool) {
	if len(windows) == 0 {
		return 0, false
	}

	var needle string
	switch f {
	case models.FamilyClaude:
		v, ok := windows["claude"]
		return v, ok
	case models.FamilyGeminiFlash:
		needle = "flash"
	case models.FamilyGeminiPro:
		needle = "pro"
	default:
		return 0, false
	}

	keys := make([]string, 0, len(windows))
	for k := range windows {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		if strings.Contains(strings.ToLower(k), needle) {
			return windows[k], true
		}
	}
	return 0, false
}
