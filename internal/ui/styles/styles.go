// Package styles defines the visual styling for the terminal views.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/j-veylop/antigravity-quota-monitor/internal/models"
)

// Color definitions for the Antigravity theme.
var (
	// Primary colors
	Primary   = lipgloss.Color("205") // Pink
	Secondary = lipgloss.Color("63")  // Purple
	Subtle    = lipgloss.Color("240") // Gray

	// Family colors
	Claude      = lipgloss.Color("208") // Orange
	GeminiFlash = lipgloss.Color("39")  // Blue
	GeminiPro   = lipgloss.Color("33")  // Deep blue

	// Status colors
	Success = lipgloss.Color("42")  // Green
	Error   = lipgloss.Color("196") // Red
	Warning = lipgloss.Color("220") // Yellow
	Info    = lipgloss.Color("39")  // Blue

	BgLight = lipgloss.Color("237")

	// Text colors
	TextPrimary   = lipgloss.Color("252")
	TextSecondary = lipgloss.Color("245")
	TextMuted     = lipgloss.Color("240")
)

// TitleStyle is used for main headings.
var TitleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(Primary)

// SubTitleStyle is used for secondary headings.
var SubTitleStyle = lipgloss.NewStyle().
	Foreground(TextSecondary)

// DocStyle provides consistent document margins.
var DocStyle = lipgloss.NewStyle().
	Margin(1, 2).
	Padding(0, 1)

// CardStyle creates a bordered card container.
var CardStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(Subtle).
	Padding(0, 1)

// SelectedCardStyle highlights the card under the cursor.
var SelectedCardStyle = CardStyle.
	BorderForeground(Primary)

// CardTitleStyle styles card headers.
var CardTitleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(TextPrimary)

// ActiveBadgeStyle marks the active account.
var ActiveBadgeStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("229")).
	Background(Primary).
	Padding(0, 1)

// ProgressLabelStyle styles progress bar labels.
var ProgressLabelStyle = lipgloss.NewStyle().
	Foreground(TextSecondary)

// HelpStyle styles the help line.
var HelpStyle = lipgloss.NewStyle().
	Foreground(TextMuted)

// TableHeaderStyle styles table headers.
var TableHeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(Primary)

// TierProStyle for PRO tier badge.
var TierProStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(Success)

// TierFreeStyle for FREE tier badge.
var TierFreeStyle = lipgloss.NewStyle().
	Foreground(TextSecondary)

// TierUnknownStyle for unknown tier.
var TierUnknownStyle = lipgloss.NewStyle().
	Foreground(TextMuted)

// QuotaHighStyle for quota above 50%.
var QuotaHighStyle = lipgloss.NewStyle().
	Foreground(Success)

// QuotaMediumStyle for quota between 20% and 50%.
var QuotaMediumStyle = lipgloss.NewStyle().
	Foreground(Warning)

// QuotaLowStyle for quota below 20%.
var QuotaLowStyle = lipgloss.NewStyle().
	Foreground(Error)

// QuotaRateLimitedStyle for exhausted families.
var QuotaRateLimitedStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(Error)

// ErrorTextStyle for error messages.
var ErrorTextStyle = lipgloss.NewStyle().
	Foreground(Error)

// SuccessTextStyle for success messages.
var SuccessTextStyle = lipgloss.NewStyle().
	Foreground(Success)

// WarningTextStyle for warnings.
var WarningTextStyle = lipgloss.NewStyle().
	Foreground(Warning)

// GetQuotaStyle returns the style for a remaining percentage.
func GetQuotaStyle(percent float64, isRateLimited bool) lipgloss.Style {
	if isRateLimited {
		return QuotaRateLimitedStyle
	}
	switch {
	case percent > 50:
		return QuotaHighStyle
	case percent > 20:
		return QuotaMediumStyle
	default:
		return QuotaLowStyle
	}
}

// GetTierStyle returns the style for a subscription tier.
func GetTierStyle(tier string) lipgloss.Style {
	switch tier {
	case "PRO":
		return TierProStyle
	case "FREE":
		return TierFreeStyle
	default:
		return TierUnknownStyle
	}
}

// FamilyColor returns the accent color of a family.
func FamilyColor(f models.Family) lipgloss.Color {
	switch f {
	case models.FamilyClaude:
		return Claude
	case models.FamilyGeminiFlash:
		return GeminiFlash
	case models.FamilyGeminiPro:
		return GeminiPro
	}
	return Primary
}
