package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"slotkeeper/internal/apperr"
	"slotkeeper/internal/model"
)

// ReplaceWeeklySchedule deactivates every entry of the provider and inserts
// the new set in one transaction. Readers never see a half-edited week.
func (db *DB) ReplaceWeeklySchedule(ctx context.Context, providerID string, entries []model.WeeklyScheduleEntry) error {
	for i := range entries {
		e := &entries[i]
		if e.DayOfWeek < 0 || e.DayOfWeek > 6 {
			return apperr.Validation(fmt.Sprintf("day of week %d out of range", e.DayOfWeek))
		}
		if _, err := model.ParseClock(e.StartTime); err != nil {
			return apperr.Validation(err.Error())
		}
		if _, err := model.ParseClock(e.EndTime); err != nil {
			return apperr.Validation(err.Error())
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := db.now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE weekly_schedules SET is_active = 0, updated_at = ? WHERE provider_id = ? AND is_active = 1`,
		now, providerID,
	); err != nil {
		return fmt.Errorf("deactivate schedule: %w", err)
	}

	for i := range entries {
		e := &entries[i]
		e.ID = uuid.NewString()
		e.ProviderID = providerID
		e.IsActive = true
		e.CreatedAt, e.UpdatedAt = now, now
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO weekly_schedules (id, provider_id, day_of_week, start_time, end_time, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
			e.ID, providerID, e.DayOfWeek, e.StartTime, e.EndTime, now, now,
		); err != nil {
			return fmt.Errorf("insert schedule day %d: %w", e.DayOfWeek, err)
		}
	}

	return tx.Commit()
}

// GetWeeklySchedule returns the active entry for the weekday (0 = Sunday),
// or nil when the provider does not work that day.
func (db *DB) GetWeeklySchedule(ctx context.Context, providerID string, dayOfWeek int) (*model.WeeklyScheduleEntry, error) {
	var e model.WeeklyScheduleEntry
	err := db.QueryRowContext(ctx, `
		SELECT id, provider_id, day_of_week, start_time, end_time, is_active, created_at, updated_at
		FROM weekly_schedules
		WHERE provider_id = ? AND day_of_week = ? AND is_active = 1
		ORDER BY created_at DESC
		LIMIT 1`,
		providerID, dayOfWeek,
	).Scan(&e.ID, &e.ProviderID, &e.DayOfWeek, &e.StartTime, &e.EndTime, &e.IsActive, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get weekly schedule: %w", err)
	}
	return &e, nil
}

// ListWeeklySchedule returns the provider's active week ordered by day.
func (db *DB) ListWeeklySchedule(ctx context.Context, providerID string) ([]model.WeeklyScheduleEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, provider_id, day_of_week, start_time, end_time, is_active, created_at, updated_at
		FROM weekly_schedules
		WHERE provider_id = ? AND is_active = 1
		ORDER BY day_of_week, start_time`,
		providerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list weekly schedule: %w", err)
	}
	defer rows.Close()

	var result []model.WeeklyScheduleEntry
	for rows.Next() {
		var e model.WeeklyScheduleEntry
		if err := rows.Scan(&e.ID, &e.ProviderID, &e.DayOfWeek, &e.StartTime, &e.EndTime, &e.IsActive, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
