package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/studiolink/smshub/internal/model"
)

// CHMessagesRepository mirrors message events into ClickHouse for reporting.
type CHMessagesRepository interface {
	InsertBatch(ctx context.Context, events []model.MessageEvent) error
	ListByStudio(ctx context.Context, studioID, phone string, status model.MessageStatus, limit, offset int) ([]model.MessageEvent, error)
}

type chMessagesRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHMessagesRepository(ch *sqlx.DB) CHMessagesRepository {
	return &chMessagesRepository{ch: ch}
}

// InsertBatch appends events in one batch. message_events is a
// ReplacingMergeTree keyed by id, so replays collapse on merge.
func (r *chMessagesRepository) InsertBatch(ctx context.Context, events []model.MessageEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO smshub.message_events
		    (id, studio_id, contact_id, provider, provider_message_id, direction, status,
		     from_number, to_number, follow_up, welcome, error_code, occurred_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.StudioID, e.ContactID, e.Provider.String(), e.ProviderMessageID,
			string(e.Direction), e.Status.String(), e.FromNumber, e.ToNumber,
			e.FollowUp, e.Welcome, e.ErrorCode, e.OccurredAt,
		); err != nil {
			return fmt.Errorf("append %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

func (r *chMessagesRepository) ListByStudio(ctx context.Context, studioID, phone string, status model.MessageStatus, limit, offset int) ([]model.MessageEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, studio_id, contact_id, provider, provider_message_id, direction, status,
		       from_number, to_number, follow_up, welcome, error_code, occurred_at
		FROM smshub.message_events FINAL
		WHERE studio_id = ?
	`
	args := []any{studioID}

	if status != "" {
		q += " AND status = ?"
		args = append(args, status.String())
	}
	if phone != "" {
		q += " AND (from_number = ? OR to_number = ?)"
		args = append(args, phone, phone)
	}

	q += " ORDER BY occurred_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.MessageEvent
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
