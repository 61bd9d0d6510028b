package quota

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/j-veylop/antigravity-quota-monitor/internal/models"
)

// Reduction is the normalized form of one fetchAvailableModels response.
type Reduction struct {
	Models      []models.ModelQuota
	Claude      models.FamilyQuota
	GeminiFlash models.FamilyQuota
	GeminiPro   models.FamilyQuota
}

// Family returns the reduced value of f.
func (r Reduction) Family(f models.Family) models.FamilyQuota {
	switch f {
	case models.FamilyClaude:
		return r.Claude
	case models.FamilyGeminiFlash:
		return r.GeminiFlash
	case models.FamilyGeminiPro:
		return r.GeminiPro
	}
	return models.FamilyQuota{}
}

// Apply copies the reduction into q.
func (r Reduction) Apply(q *models.AccountQuota) {
	q.Models = r.Models
	for _, f := range models.Families {
		q.SetFamily(f, r.Family(f))
	}
}

// Reduce converts raw per-model quotas into a sorted model list and the
// worst-of value of each family. It is pure.
func Reduce(resp *FetchModelsResponse) Reduction {
	out := Reduction{Models: []models.ModelQuota{}}
	if resp == nil {
		return out
	}

	names := make([]string, 0, len(resp.Models))
	for name := range resp.Models {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		mq := toModelQuota(name, resp.Models[name])
		out.Models = append(out.Models, mq)

		for _, f := range ModelFamilies(name) {
			cur := out.Family(f)
			// strict less-than keeps the first model in name order on ties
			if cur.Percent == nil || mq.RemainingPercent < *cur.Percent {
				out.setFamily(f, models.FamilyQuota{
					Percent:   models.Ptr(mq.RemainingPercent),
					ResetTime: mq.ResetTimeMs,
				})
			}
		}
	}

	return out
}

func (r *Reduction) setFamily(f models.Family, v models.FamilyQuota) {
	switch f {
	case models.FamilyClaude:
		r.Claude = v
	case models.FamilyGeminiFlash:
		r.GeminiFlash = v
	case models.FamilyGeminiPro:
		r.GeminiPro = v
	}
}

func toModelQuota(name string, info ModelInfo) models.ModelQuota {
	fraction := 1.0
	var resetTime *string
	if info.QuotaInfo != nil {
		if info.QuotaInfo.RemainingFraction != nil {
			fraction = *info.QuotaInfo.RemainingFraction
		}
		resetTime = info.QuotaInfo.ResetTime
	}

	displayName := name
	if info.DisplayName != nil && *info.DisplayName != "" {
		displayName = *info.DisplayName
	}

	mq := models.ModelQuota{
		ModelName:        name,
		DisplayName:      displayName,
		RemainingPercent: fractionToPercent(fraction),
	}
	if resetTime != nil {
		mq.ResetTime = models.Ptr(*resetTime)
		mq.ResetTimeMs = parseResetTime(*resetTime)
	}
	return mq
}

func fractionToPercent(fraction float64) int {
	if math.IsNaN(fraction) {
		return 0
	}
	p := math.Round(fraction * 100)
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return int(p)
}

func parseResetTime(s string) *int64 {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return models.Ptr(t.UnixMilli())
}

// ModelFamilies returns the families a model name belongs to. A name may
// match several families or none.
func ModelFamilies(name string) []models.Family {
	lower := strings.ToLower(name)
	var families []models.Family
	if strings.Contains(lower, "claude") || strings.Contains(lower, "anthropic") {
		families = append(families, models.FamilyClaude)
	}
	if strings.Contains(lower, "gemini") {
		if strings.Contains(lower, "flash") {
			families = append(families, models.FamilyGeminiFlash)
		}
		if strings.Contains(lower, "pro") {
			families = append(families, models.FamilyGeminiPro)
		}
	}
	return families
}
