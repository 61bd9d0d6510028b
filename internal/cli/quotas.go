package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/j-veylop/antigravity-quota-monitor/internal/models"
	"github.com/j-veylop/antigravity-quota-monitor/internal/services/quota"
	"github.com/j-veylop/antigravity-quota-monitor/internal/ui/components"
	"github.com/j-veylop/antigravity-quota-monitor/internal/ui/styles"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"

	accountColumnWidth = 24
	tierColumnWidth    = 8
	barColumnWidth     = 20
)

// FamilyReport is one family value in the quotas output.
type FamilyReport struct {
	Percent  *int   `json:"percent" yaml:"percent"`
	Family   string `json:"family" yaml:"family"`
	ResetsAt string `json:"resetsAt,omitempty" yaml:"resetsAt,omitempty"`
	ResetsIn string `json:"resetsIn,omitempty" yaml:"resetsIn,omitempty"`
}

// AccountReport is one account in the quotas output.
type AccountReport struct {
	Email       string         `json:"email" yaml:"email"`
	ProjectID   string         `json:"projectId,omitempty" yaml:"projectId,omitempty"`
	Tier        string         `json:"tier,omitempty" yaml:"tier,omitempty"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
	LastFetched string         `json:"lastFetched,omitempty" yaml:"lastFetched,omitempty"`
	Families    []FamilyReport `json:"families" yaml:"families"`
	Active      bool           `json:"active" yaml:"active"`
}

type quotasOptions struct {
	output  string
	timeout time.Duration
}

func newQuotasCmd(a *App) *cobra.Command {
	var opts quotasOptions

	cmd := &cobra.Command{
		Use:     "quotas",
		Aliases: []string{"q", "quota"},
		Short:   "Fetch every account once and print the quotas",
		Long: `Run one fetch batch for every account and print the reconciled,
anonymized result.

Examples:
  aqm quotas
  aqm quotas --output json | jq '.[].families'
  aqm quotas -o yaml`,
		Args: cobra.NoArgs,
		PreRunE: func(_ *cobra.Command, _ []string) error {
			switch opts.output {
			case outputTable, outputJSON, outputYAML:
				return nil
			}
			return fmt.Errorf("unknown output format %q (want table, json or yaml)", opts.output)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return a.runQuotas(ctx, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", outputTable, "Output format: table, json or yaml")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", time.Minute, "Batch timeout")
	return cmd
}

func (a *App) runQuotas(ctx context.Context, w io.Writer, opts quotasOptions) error {
	mgr, err := a.newManager()
	if err != nil {
		return err
	}
	defer closeManager(mgr)

	snapshot := mgr.Refresh(ctx)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("fetch batch: %w", err)
	}

	now := time.Now()
	switch opts.output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(BuildReports(snapshot, now))
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(BuildReports(snapshot, now)); err != nil {
			return err
		}
		return enc.Close()
	default:
		_, err := io.WriteString(w, RenderTable(snapshot, now))
		return err
	}
}

// BuildReports flattens a snapshot into the json/yaml shape.
func BuildReports(snapshot []models.EnrichedAccount, now time.Time) []AccountReport {
	reports := make([]AccountReport, 0, len(snapshot))
	for _, acc := range snapshot {
		r := AccountReport{
			Email:     acc.Email,
			ProjectID: acc.ProjectID,
			Active:    acc.IsActive,
			Families:  make([]FamilyReport, 0, len(models.Families)),
		}
		q := acc.Quota
		if q == nil {
			q = &models.AccountQuota{}
		}
		r.Tier = q.SubscriptionTier
		r.Error = q.FetchError
		if q.LastFetched > 0 {
			r.LastFetched = time.UnixMilli(q.LastFetched).UTC().Format(time.RFC3339)
		}
		for _, f := range models.Families {
			v := q.Family(f)
			fr := FamilyReport{Family: string(f), Percent: v.Percent}
			if v.ResetTime != nil {
				fr.ResetsAt = time.UnixMilli(*v.ResetTime).UTC().Format(time.RFC3339)
				fr.ResetsIn = quota.FormatResetTime(v.ResetTime, now)
			}
			r.Families = append(r.Families, fr)
		}
		reports = append(reports, r)
	}
	return reports
}

// RenderTable renders the snapshot as a styled table with one row per
// account and an error line under failing accounts.
func RenderTable(snapshot []models.EnrichedAccount, now time.Time) string {
	if len(snapshot) == 0 {
		return "No accounts found.\n"
	}

	var b strings.Builder
	header := []string{
		components.PadRight("ACCOUNT", accountColumnWidth),
		components.PadRight("TIER", tierColumnWidth),
	}
	for _, f := range models.Families {
		header = append(header, components.PadRight(strings.ToUpper(f.Label()), barColumnWidth+3))
	}
	b.WriteString(styles.TableHeaderStyle.Render(strings.TrimRight(strings.Join(header, " "), " ")))
	b.WriteString("\n")

	for _, acc := range snapshot {
		name := acc.Email
		if acc.IsActive {
			name = "* " + name
		}
		row := []string{
			components.PadRight(components.Fit(name, accountColumnWidth), accountColumnWidth),
		}

		q := acc.Quota
		tier := ""
		if q != nil {
			tier = q.SubscriptionTier
		}
		row = append(row, components.PadRight(styles.GetTierStyle(tier).Render(tier), tierColumnWidth))

		for _, f := range models.Families {
			var v models.FamilyQuota
			if q != nil {
				v = q.Family(f)
			}
			cell := components.CompactBar(v.Percent, barColumnWidth)
			if v.ResetTime != nil {
				cell += " " + styles.HelpStyle.Render(quota.FormatResetTime(v.ResetTime, now))
			}
			row = append(row, components.PadRight(cell, barColumnWidth+3))
		}
		b.WriteString(strings.TrimRight(strings.Join(row, " "), " "))
		b.WriteString("\n")

		if q != nil && q.FetchError != "" {
			b.WriteString("  ")
			b.WriteString(styles.ErrorTextStyle.Render("⚠ " + q.FetchError))
			b.WriteString("\n")
		}
	}
	return b.String()
}
