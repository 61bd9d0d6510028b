package quota

import (
	"reflect"
	"testing"
	"time"

	"github.com/j-veylop/antigravity-quota-monitor/internal/models"
)

func model(fraction *float64, reset *string) ModelInfo {
	return ModelInfo{QuotaInfo: &QuotaInfo{RemainingFraction: fraction, ResetTime: reset}}
}

func intValue(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func int64Value(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func TestReduce_NoFamilies(t *testing.T) {
	resp := &FetchModelsResponse{Models: map[string]ModelInfo{
		"text-embedding-004": model(models.Ptr(0.3), nil),
	}}

	r := Reduce(resp)

	if len(r.Models) != 1 {
		t.Fatalf("len(Models) = %d, want 1", len(r.Models))
	}
	for _, f := range models.Families {
		if v := r.Family(f); v.Percent != nil || v.ResetTime != nil {
			t.Errorf("family %s = %+v, want no data", f, v)
		}
	}
}

func TestReduce_Empty(t *testing.T) {
	for _, resp := range []*FetchModelsResponse{nil, {}} {
		r := Reduce(resp)
		if r.Models == nil || len(r.Models) != 0 {
			t.Errorf("Reduce(%v).Models = %v, want empty non-nil", resp, r.Models)
		}
		if r.Claude.HasData() || r.GeminiFlash.HasData() || r.GeminiPro.HasData() {
			t.Errorf("Reduce(%v) families should be empty", resp)
		}
	}
}

func TestReduce_MinOfMembers(t *testing.T) {
	opusReset := "2025-01-01T10:00:00Z"
	haikuReset := "2025-01-01T12:00:00Z"
	resp := &FetchModelsResponse{Models: map[string]ModelInfo{
		"claude-opus-4":     model(models.Ptr(0.2), &opusReset),
		"claude-haiku-4":    model(models.Ptr(0.8), &haikuReset),
		"gemini-2.5-pro":    model(models.Ptr(0.6), nil),
		"gemini-2.5-flash":  model(models.Ptr(0.9), nil),
		"gemini-3-pro-high": model(models.Ptr(0.4), &haikuReset),
	}}

	r := Reduce(resp)

	want := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	if intValue(r.Claude.Percent) != 20 || int64Value(r.Claude.ResetTime) != want {
		t.Errorf("claude = (%v, %v), want (20, %d)", intValue(r.Claude.Percent), int64Value(r.Claude.ResetTime), want)
	}
	if intValue(r.GeminiPro.Percent) != 40 {
		t.Errorf("geminiPro = %v, want 40", intValue(r.GeminiPro.Percent))
	}
	if intValue(r.GeminiFlash.Percent) != 90 || r.GeminiFlash.ResetTime != nil {
		t.Errorf("geminiFlash = (%v, %v), want (90, nil)", intValue(r.GeminiFlash.Percent), int64Value(r.GeminiFlash.ResetTime))
	}

	for _, m := range r.Models {
		if m.RemainingPercent < 0 || m.RemainingPercent > 100 {
			t.Errorf("model %s percent %d out of range", m.ModelName, m.RemainingPercent)
		}
	}
}

func TestReduce_OpusHaikuWithoutReset(t *testing.T) {
	resp := &FetchModelsResponse{Models: map[string]ModelInfo{
		"claude-opus":  model(models.Ptr(0.2), nil),
		"claude-haiku": model(models.Ptr(0.8), nil),
	}}

	r := Reduce(resp)

	if intValue(r.Claude.Percent) != 20 {
		t.Errorf("claude percent = %v, want 20", intValue(r.Claude.Percent))
	}
	if r.Claude.ResetTime != nil {
		t.Errorf("claude reset = %v, want nil", *r.Claude.ResetTime)
	}
	if r.GeminiFlash.HasData() || r.GeminiPro.HasData() {
		t.Error("gemini families should have no data")
	}
}

func TestReduce_ModelDefaults(t *testing.T) {
	badReset := "tomorrow-ish"
	resp := &FetchModelsResponse{Models: map[string]ModelInfo{
		"a-no-quota-info": {},
		"b-bad-reset":     model(models.Ptr(1.5), &badReset),
		"c-negative":      {DisplayName: models.Ptr("Negative"), QuotaInfo: &QuotaInfo{RemainingFraction: models.Ptr(-0.2)}},
		"d-rounding":      model(models.Ptr(0.335), nil),
	}}

	r := Reduce(resp)

	tests := []struct {
		name        string
		displayName string
		percent     int
		resetStr    bool
	}{
		{"a-no-quota-info", "a-no-quota-info", 100, false},
		{"b-bad-reset", "b-bad-reset", 100, true},
		{"c-negative", "Negative", 0, false},
		{"d-rounding", "d-rounding", 34, false},
	}

	if len(r.Models) != len(tests) {
		t.Fatalf("len(Models) = %d, want %d", len(r.Models), len(tests))
	}
	for i, tt := range tests {
		m := r.Models[i]
		if m.ModelName != tt.name || m.DisplayName != tt.displayName || m.RemainingPercent != tt.percent {
			t.Errorf("Models[%d] = %+v, want name %s display %s percent %d", i, m, tt.name, tt.displayName, tt.percent)
		}
		if (m.ResetTime != nil) != tt.resetStr {
			t.Errorf("Models[%d].ResetTime = %v, want present=%v", i, m.ResetTime, tt.resetStr)
		}
		if m.ResetTimeMs != nil {
			t.Errorf("Models[%d].ResetTimeMs = %d, want nil", i, *m.ResetTimeMs)
		}
	}
}

func TestReduce_Idempotent(t *testing.T) {
	reset := "2025-06-01T00:00:00.123Z"
	resp := &FetchModelsResponse{Models: map[string]ModelInfo{
		"claude-sonnet":    model(models.Ptr(0.5), &reset),
		"claude-opus":      model(models.Ptr(0.5), nil),
		"gemini-pro":       model(models.Ptr(0.1), &reset),
		"gemini-flash":     model(models.Ptr(0.7), nil),
		"gemini-flash-pro": model(models.Ptr(0.3), nil),
	}}

	first := Reduce(resp)
	for range 10 {
		if again := Reduce(resp); !reflect.DeepEqual(first, again) {
			t.Fatalf("Reduce() not deterministic:\n%+v\n%+v", first, again)
		}
	}

	// equal minimum: first model in name order wins, so opus (no reset)
	if first.Claude.ResetTime != nil {
		t.Errorf("claude tie-break picked reset %v, want nil from claude-opus", *first.Claude.ResetTime)
	}
	// gemini-flash-pro belongs to both gemini families
	if intValue(first.GeminiFlash.Percent) != 30 {
		t.Errorf("geminiFlash = %v, want 30", intValue(first.GeminiFlash.Percent))
	}
	if intValue(first.GeminiPro.Percent) != 10 {
		t.Errorf("geminiPro = %v, want 10", intValue(first.GeminiPro.Percent))
	}
}

func TestModelFamilies(t *testing.T) {
	tests := []struct {
		name string
		want []models.Family
	}{
		{"claude-sonnet-4-5", []models.Family{models.FamilyClaude}},
		{"anthropic/opus", []models.Family{models.FamilyClaude}},
		{"Gemini-2.5-Flash", []models.Family{models.FamilyGeminiFlash}},
		{"gemini-3-pro-high", []models.Family{models.FamilyGeminiPro}},
		{"gemini-flash-pro", []models.Family{models.FamilyGeminiFlash, models.FamilyGeminiPro}},
		{"flash-only", nil},
		{"gpt-4o", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ModelFamilies(tt.name); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ModelFamilies(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestReduction_Apply(t *testing.T) {
	r := Reduction{
		Models: []models.ModelQuota{{ModelName: "claude"}},
		Claude: models.FamilyQuota{Percent: models.Ptr(5), ResetTime: models.Ptr(int64(9))},
	}

	q := &models.AccountQuota{}
	r.Apply(q)

	if len(q.Models) != 1 || intValue(q.ClaudeQuotaPercent) != 5 || int64Value(q.ClaudeResetTime) != int64(9) {
		t.Errorf("Apply() produced %+v", q)
	}
	if q.GeminiFlashQuotaPercent != nil || q.GeminiProQuotaPercent != nil {
		t.Error("Apply() should leave empty families nil")
	}
}
