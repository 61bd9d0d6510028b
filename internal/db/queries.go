package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/j-veylop/antigravity-quota-monitor/internal/logger"
	"github.com/j-veylop/antigravity-quota-monitor/internal/models"
)

// SaveAccountQuotas upserts the given quotas in one transaction. A stored row
// is only replaced by a quota fetched at the same time or later.
func (db *DB) SaveAccountQuotas(ctx context.Context, quotas []models.AccountQuota) error {
	if len(quotas) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO account_quotas (
			email, project_id, claude_percent, gemini_flash_percent, gemini_pro_percent,
			claude_reset_ms, gemini_flash_reset_ms, gemini_pro_reset_ms,
			tier, fetch_error, last_fetched, payload, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(email) DO UPDATE SET
			project_id = excluded.project_id,
			claude_percent = excluded.claude_percent,
			gemini_flash_percent = excluded.gemini_flash_percent,
			gemini_pro_percent = excluded.gemini_pro_percent,
			claude_reset_ms = excluded.claude_reset_ms,
			gemini_flash_reset_ms = excluded.gemini_flash_reset_ms,
			gemini_pro_reset_ms = excluded.gemini_pro_reset_ms,
			tier = excluded.tier,
			fetch_error = excluded.fetch_error,
			last_fetched = excluded.last_fetched,
			payload = excluded.payload,
			updated_at = CURRENT_TIMESTAMP
		WHERE excluded.last_fetched >= account_quotas.last_fetched
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare quota upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range quotas {
		q := &quotas[i]
		if q.Email == "" {
			continue
		}

		payload, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("failed to encode quota for %s: %w", q.Email, err)
		}

		tier := q.SubscriptionTier
		if tier == "" {
			tier = "UNKNOWN"
		}

		_, err = stmt.ExecContext(ctx,
			q.Email,
			nullString(q.ProjectID),
			nullInt(q.ClaudeQuotaPercent),
			nullInt(q.GeminiFlashQuotaPercent),
			nullInt(q.GeminiProQuotaPercent),
			nullInt64(q.ClaudeResetTime),
			nullInt64(q.GeminiFlashResetTime),
			nullInt64(q.GeminiProResetTime),
			tier,
			nullString(q.FetchError),
			q.LastFetched,
			string(payload),
		)
		if err != nil {
			return fmt.Errorf("failed to save quota for %s: %w", q.Email, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit quotas: %w", err)
	}
	return nil
}

// LoadAccountQuotas returns every stored quota ordered by email. Rows whose
// payload cannot be decoded are skipped.
func (db *DB) LoadAccountQuotas(ctx context.Context) ([]models.AccountQuota, error) {
	rows, err := db.QueryContext(ctx, `SELECT email, payload FROM account_quotas ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("failed to query quotas: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Error("failed to close rows", "error", err)
		}
	}()

	var quotas []models.AccountQuota
	for rows.Next() {
		var email, payload string
		if err := rows.Scan(&email, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan quota: %w", err)
		}

		var q models.AccountQuota
		if err := json.Unmarshal([]byte(payload), &q); err != nil {
			logger.Warn("Skipping unreadable stored quota", "email", email, "error", err)
			continue
		}
		q.Email = email
		quotas = append(quotas, q)
	}

	return quotas, rows.Err()
}

// PruneAccountQuotas deletes stored quotas for accounts not in keep and
// returns how many rows were removed. An empty keep list removes nothing.
func (db *DB) PruneAccountQuotas(ctx context.Context, keep []string) (int64, error) {
	if len(keep) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",")
	args := make([]any, len(keep))
	for i, email := range keep {
		args[i] = email
	}

	// #nosec G201 -- only placeholders are interpolated
	query := fmt.Sprintf(`DELETE FROM account_quotas WHERE email NOT IN (%s)`, placeholders)
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to prune quotas: %w", err)
	}
	return result.RowsAffected()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
