package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dealflow_backend/platform/apperr"
)

// GetHistory returns the deal's full ledger ordered by entry time. The deal
// must belong to the organization.
func (r *Repo) GetHistory(ctx context.Context, organizationID, dealID uuid.UUID) ([]HistoryEntry, error) {
	query := `
		SELECT h.id, h.deal_id, h.stage_id, h.stage_name, h.entered_at, h.exited_at,
		       h.duration_ms, h.reason, h.changed_by
		FROM deal_stage_history h
		JOIN deals d ON d.id = h.deal_id
		WHERE h.deal_id = $1 AND d.organization_id = $2
		ORDER BY h.entered_at ASC, h.id ASC`

	rows, err := r.pool.Query(ctx, query, dealID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("get deal history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(
			&e.ID, &e.DealID, &e.StageID, &e.StageName, &e.EnteredAt, &e.ExitedAt,
			&e.DurationMS, &e.Reason, &e.ChangedBy,
		); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get deal history: %w", err)
	}
	if len(entries) == 0 {
		// Distinguish "deal has no ledger" (impossible for live deals) from
		// a deal that simply does not exist in this organization.
		if _, err := r.GetByID(ctx, organizationID, dealID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// SeedInitialEntry appends the single open entry a new deal starts with.
func (r *Repo) SeedInitialEntry(ctx context.Context, dealID, stageID uuid.UUID, stageName string, enteredAt time.Time, actorID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO deal_stage_history (deal_id, stage_id, stage_name, entered_at, changed_by)
		VALUES ($1, $2, $3, $4, $5)`,
		dealID, stageID, stageName, enteredAt, actorID,
	)
	if err != nil {
		return fmt.Errorf("seed initial history entry: %w", err)
	}
	return nil
}

// ListHistoryMissingNames returns ledger entries whose denormalized stage
// name was never written, so the repair pass can backfill them.
func (r *Repo) ListHistoryMissingNames(ctx context.Context, dealID uuid.UUID) ([]HistoryEntry, error) {
	query := `
		SELECT id, deal_id, stage_id, stage_name, entered_at, exited_at, duration_ms, reason, changed_by
		FROM deal_stage_history
		WHERE deal_id = $1 AND stage_name = ''`

	rows, err := r.pool.Query(ctx, query, dealID)
	if err != nil {
		return nil, fmt.Errorf("list unnamed history entries: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(
			&e.ID, &e.DealID, &e.StageID, &e.StageName, &e.EnteredAt, &e.ExitedAt,
			&e.DurationMS, &e.Reason, &e.ChangedBy,
		); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list unnamed history entries: %w", err)
	}
	return entries, nil
}

// SetHistoryStageName backfills the denormalized name of one ledger entry.
func (r *Repo) SetHistoryStageName(ctx context.Context, entryID uuid.UUID, stageName string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deal_stage_history SET stage_name = $2 WHERE id = $1`,
		entryID, stageName,
	)
	if err != nil {
		return fmt.Errorf("set history stage name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("history entry not found")
	}
	return nil
}
