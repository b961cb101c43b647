package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"slotkeeper/internal/apperr"
	"slotkeeper/internal/model"
)

// CreateBlockedSlot stores a provider block. Empty times block the whole day.
func (db *DB) CreateBlockedSlot(ctx context.Context, b *model.BlockedSlot) error {
	if b.ProviderID == "" {
		return apperr.Validation("provider id is required")
	}
	if (b.StartTime == "") != (b.EndTime == "") {
		return apperr.Validation("block needs both start and end time, or neither")
	}
	if !b.IsWholeDay() {
		start, err := model.ParseClock(b.StartTime)
		if err != nil {
			return apperr.Validation(err.Error())
		}
		end, err := model.ParseClock(b.EndTime)
		if err != nil {
			return apperr.Validation(err.Error())
		}
		if start == end {
			return apperr.Validation("block start and end must differ")
		}
	}

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.CreatedAt = db.now()

	_, err := db.ExecContext(ctx, `
		INSERT INTO blocked_slots (id, provider_id, blocked_date, start_time, end_time, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ProviderID, model.DateKey(b.BlockedDate), nullString(b.StartTime), nullString(b.EndTime), b.Reason, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert blocked slot: %w", err)
	}
	return nil
}

// DeleteBlockedSlot removes a block owned by the provider.
func (db *DB) DeleteBlockedSlot(ctx context.Context, providerID, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM blocked_slots WHERE id = ? AND provider_id = ?`, id, providerID)
	if err != nil {
		return fmt.Errorf("delete blocked slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, "BLOCK_NOT_FOUND", "blocked slot not found")
	}
	return nil
}

// ListBlockedSlots returns blocks with from <= date <= to.
func (db *DB) ListBlockedSlots(ctx context.Context, providerID string, from, to time.Time) ([]model.BlockedSlot, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, provider_id, blocked_date, start_time, end_time, reason, created_at
		FROM blocked_slots
		WHERE provider_id = ? AND blocked_date BETWEEN ? AND ?
		ORDER BY blocked_date, start_time`,
		providerID, model.DateKey(from), model.DateKey(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list blocked slots: %w", err)
	}
	defer rows.Close()

	var result []model.BlockedSlot
	for rows.Next() {
		var (
			b                  model.BlockedSlot
			date               string
			start, end, reason sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.ProviderID, &date, &start, &end, &reason, &b.CreatedAt); err != nil {
			return nil, err
		}
		if b.BlockedDate, err = model.ParseDate(date, from.Location()); err != nil {
			return nil, err
		}
		b.StartTime, b.EndTime, b.Reason = start.String, end.String, reason.String
		result = append(result, b)
	}
	return result, rows.Err()
}
