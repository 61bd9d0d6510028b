package components

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/j-veylop/antigravity-quota-monitor/internal/models"
)

func TestFamilyBar_View(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	reset := now.Add(2*time.Hour + 5*time.Minute).UnixMilli()

	tests := []struct {
		name     string
		value    models.FamilyQuota
		contains []string
		absent   []string
	}{
		{
			name:     "NoData",
			value:    models.FamilyQuota{},
			contains: []string{"Claude", "n/a"},
			absent:   []string{"%", "↻"},
		},
		{
			name:     "WithReset",
			value:    models.FamilyQuota{Percent: models.Ptr(40), ResetTime: &reset},
			contains: []string{"Claude", "40%", "↻ 2h5m"},
		},
		{
			name:     "WithoutReset",
			value:    models.FamilyQuota{Percent: models.Ptr(100)},
			contains: []string{"100%"},
			absent:   []string{"↻"},
		},
	}

	bar := NewFamilyBar()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := ansi.Strip(bar.View(models.FamilyClaude, tt.value, now, 70))
			for _, s := range tt.contains {
				if !strings.Contains(view, s) {
					t.Errorf("View() = %q, missing %q", view, s)
				}
			}
			for _, s := range tt.absent {
				if strings.Contains(view, s) {
					t.Errorf("View() = %q, should not contain %q", view, s)
				}
			}
		})
	}
}

func TestFamilyBar_NarrowWidth(t *testing.T) {
	view := NewFamilyBar().View(models.FamilyGeminiPro, models.FamilyQuota{Percent: models.Ptr(5)}, time.Now(), 5)
	if !strings.Contains(ansi.Strip(view), "Gemini Pro") {
		t.Errorf("View() = %q, missing label", ansi.Strip(view))
	}
}

func TestRenderGradientBar(t *testing.T) {
	tests := []struct {
		percent float64
		width   int
		filled  int
	}{
		{0, 10, 0},
		{50, 10, 5},
		{100, 10, 10},
		{150, 10, 10},
		{-20, 10, 0},
	}

	for _, tt := range tests {
		s := ansi.Strip(RenderGradientBar(tt.percent, tt.width))
		if got := strings.Count(s, "█"); got != tt.filled {
			t.Errorf("RenderGradientBar(%v, %d) filled = %d, want %d", tt.percent, tt.width, got, tt.filled)
		}
		if got := ansi.StringWidth(s); got != tt.width {
			t.Errorf("RenderGradientBar(%v, %d) width = %d", tt.percent, tt.width, got)
		}
	}

	if RenderGradientBar(50, 0) != "" {
		t.Error("RenderGradientBar with zero width should be empty")
	}
}

func TestCompactBar(t *testing.T) {
	if s := ansi.Strip(CompactBar(models.Ptr(42), 20)); !strings.Contains(s, "42%") {
		t.Errorf("CompactBar() = %q, missing percentage", s)
	}
	if s := ansi.Strip(CompactBar(nil, 20)); !strings.Contains(s, "n/a") {
		t.Errorf("CompactBar(nil) = %q, want n/a", s)
	}
}

func TestFit(t *testing.T) {
	long := strings.Repeat("x", 30)
	if got := ansi.StringWidth(Fit(long, 10)); got != 10 {
		t.Errorf("Fit() width = %d, want 10", got)
	}
	if got := Fit("short", 10); got != "short" {
		t.Errorf("Fit() = %q, want unchanged", got)
	}
	if got := Fit(long, 0); got != long {
		t.Error("Fit() with zero width should not truncate")
	}
}

func TestPadRight(t *testing.T) {
	if got := PadRight("ab", 4); got != "ab  " {
		t.Errorf("PadRight() = %q", got)
	}
	if got := PadRight("abcdef", 4); got != "abcdef" {
		t.Errorf("PadRight() = %q", got)
	}
}

func TestInterpolateColor(t *testing.T) {
	if got := interpolateColor(lowColor, highColor, 0); got != lowColor {
		t.Errorf("interpolateColor(0) = %s, want %s", got, lowColor)
	}
	if got := interpolateColor(lowColor, highColor, 1); got != highColor {
		t.Errorf("interpolateColor(1) = %s, want %s", got, highColor)
	}
	if got := hexToRGB("zz"); got != [3]int{0, 0, 0} {
		t.Errorf("hexToRGB(invalid) = %v", got)
	}
}
