// Package components provides reusable terminal view pieces.
package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/j-veylop/antigravity-quota-monitor/internal/logger"
	"github.com/j-veylop/antigravity-quota-monitor/internal/models"
	"github.com/j-veylop/antigravity-quota-monitor/internal/services/quota"
	"github.com/j-veylop/antigravity-quota-monitor/internal/ui/styles"
)

const (
	lowColor  = "#ff6b6b"
	highColor = "#51cf66"

	labelWidth   = 13
	percentWidth = 6
	resetWidth   = 12
	minBarWidth  = 10
)

// FamilyBar renders one family row: label, gradient bar, percentage and
// time until reset.
type FamilyBar struct {
	progress progress.Model
}

// NewFamilyBar creates a family bar with the red-to-green gradient.
func NewFamilyBar() FamilyBar {
	return FamilyBar{
		progress: progress.New(
			progress.WithScaledGradient(lowColor, highColor),
			progress.WithWidth(30),
			progress.WithoutPercentage(),
		),
	}
}

// View renders the family value in the given total width.
func (b FamilyBar) View(f models.Family, v models.FamilyQuota, now time.Time, width int) string {
	barWidth := width - labelWidth - percentWidth - resetWidth - 3
	if barWidth < minBarWidth {
		barWidth = minBarWidth
	}

	label := lipgloss.NewStyle().
		Foreground(styles.FamilyColor(f)).
		Width(labelWidth).
		Render(f.Label())

	if v.Percent == nil {
		empty := lipgloss.NewStyle().Foreground(styles.Subtle).Render(strings.Repeat("░", barWidth))
		value := styles.HelpStyle.Width(percentWidth).Align(lipgloss.Right).Render("n/a")
		return lipgloss.JoinHorizontal(lipgloss.Center, label, empty, " ", value)
	}

	percent := float64(*v.Percent)
	exhausted := *v.Percent == 0

	b.progress.Width = barWidth
	bar := b.progress.ViewAs(percent / 100)

	value := styles.GetQuotaStyle(percent, exhausted).
		Width(percentWidth).
		Align(lipgloss.Right).
		Render(fmt.Sprintf("%d%%", *v.Percent))

	reset := ""
	if v.ResetTime != nil {
		reset = "↻ " + quota.FormatResetTime(v.ResetTime, now)
	}
	resetStr := lipgloss.NewStyle().
		Foreground(styles.TextSecondary).
		Width(resetWidth).
		Align(lipgloss.Right).
		Render(reset)

	return lipgloss.JoinHorizontal(lipgloss.Center, label, bar, " ", value, " ", resetStr)
}

// RenderGradientBar renders just the bar part with gradient colors.
func RenderGradientBar(percent float64, width int) string {
	if width < 1 {
		return ""
	}

	filled := int(float64(width) * percent / 100)
	filled = max(0, min(filled, width))

	var sb strings.Builder
	for i := range width {
		if i < filled {
			t := float64(i) / float64(max(1, width-1))
			color := interpolateColor(lowColor, highColor, t)
			sb.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render("█"))
		} else {
			sb.WriteString(lipgloss.NewStyle().Foreground(styles.Subtle).Render("░"))
		}
	}
	return sb.String()
}

// CompactBar renders "[bar] 42%" or "[bar]  n/a" for table cells.
func CompactBar(percent *int, width int) string {
	barWidth := max(width-percentWidth-3, 3)
	if percent == nil {
		bar := lipgloss.NewStyle().Foreground(styles.Subtle).Render(strings.Repeat("░", barWidth))
		return fmt.Sprintf("[%s] %s", bar, styles.HelpStyle.Width(percentWidth).Align(lipgloss.Right).Render("n/a"))
	}

	p := float64(*percent)
	value := styles.GetQuotaStyle(p, *percent == 0).
		Width(percentWidth).
		Align(lipgloss.Right).
		Render(fmt.Sprintf("%d%%", *percent))
	return fmt.Sprintf("[%s] %s", RenderGradientBar(p, barWidth), value)
}

// Fit truncates a styled line to width cells, keeping escape sequences intact.
func Fit(line string, width int) string {
	if width <= 0 || ansi.StringWidth(line) <= width {
		return line
	}
	return ansi.Truncate(line, width, "…")
}

// PadRight pads a styled string with spaces to width cells.
func PadRight(s string, width int) string {
	w := ansi.StringWidth(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

func interpolateColor(fromHex, toHex string, t float64) string {
	from := hexToRGB(fromHex)
	to := hexToRGB(toHex)

	r := int(float64(from[0]) + t*(float64(to[0])-float64(from[0])))
	g := int(float64(from[1]) + t*(float64(to[1])-float64(from[1])))
	b := int(float64(from[2]) + t*(float64(to[2])-float64(from[2])))

	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

func hexToRGB(hex string) [3]int {
	hex = strings.TrimPrefix(hex, "#")
	var r, g, b int
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		logger.Error("failed to parse hex color", "hex", hex, "error", err)
		return [3]int{0, 0, 0}
	}
	return [3]int{r, g, b}
}
