package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotkeeper/internal/model"
)

const cacheColumns = `provider_id, date, start_time, end_time, is_available, locked_by_session, locked_until, booking_id, updated_at`

func scanCacheRow(s rowScanner) (*model.AvailabilityCacheRow, error) {
	var (
		r              model.AvailabilityCacheRow
		lockedBy, bkID sql.NullString
		endTime        sql.NullString
		lockedUntil    sql.NullInt64
	)
	if err := s.Scan(&r.ProviderID, &r.Date, &r.StartTime, &endTime, &r.IsAvailable, &lockedBy, &lockedUntil, &bkID, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.LockedBySession, r.BookingID, r.EndTime = lockedBy.String, bkID.String, endTime.String
	if lockedUntil.Valid {
		t := time.UnixMilli(lockedUntil.Int64).UTC()
		r.LockedUntil = &t
	}
	return &r, nil
}

// UpsertCacheRow writes the full row keyed by provider, date and start time.
func (db *DB) UpsertCacheRow(ctx context.Context, r *model.AvailabilityCacheRow) error {
	var lockedUntil sql.NullInt64
	if r.LockedUntil != nil {
		lockedUntil = sql.NullInt64{Int64: r.LockedUntil.UnixMilli(), Valid: true}
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = db.now()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO availability_cache (`+cacheColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_id, date, start_time) DO UPDATE SET
			end_time = COALESCE(excluded.end_time, availability_cache.end_time),
			is_available = excluded.is_available,
			locked_by_session = excluded.locked_by_session,
			locked_until = excluded.locked_until,
			booking_id = excluded.booking_id,
			updated_at = excluded.updated_at`,
		r.ProviderID, r.Date, r.StartTime, nullString(r.EndTime), r.IsAvailable, nullString(r.LockedBySession), lockedUntil,
		nullString(r.BookingID), r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert cache row %s: %w", r.Key(), err)
	}
	return nil
}

// GetCacheRow returns nil, nil when no row exists for the slot.
func (db *DB) GetCacheRow(ctx context.Context, key model.SlotKey) (*model.AvailabilityCacheRow, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+cacheColumns+` FROM availability_cache
		WHERE provider_id = ? AND date = ? AND start_time = ?`,
		key.ProviderID, key.Date, key.StartTime,
	)
	r, err := scanCacheRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cache row %s: %w", key, err)
	}
	return r, nil
}

// ListCacheRows returns the provider's rows for one date.
func (db *DB) ListCacheRows(ctx context.Context, providerID, date string) ([]model.AvailabilityCacheRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+cacheColumns+` FROM availability_cache
		WHERE provider_id = ? AND date = ?
		ORDER BY start_time`,
		providerID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("list cache rows: %w", err)
	}
	defer rows.Close()

	var result []model.AvailabilityCacheRow
	for rows.Next() {
		r, err := scanCacheRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

// ReopenExpiredLocks clears hold locks whose lockedUntil has passed on rows
// no booking owns. Returns the number of rows reopened.
func (db *DB) ReopenExpiredLocks(ctx context.Context, now time.Time) (int, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE availability_cache
		SET is_available = 1, locked_by_session = NULL, locked_until = NULL, updated_at = ?
		WHERE booking_id IS NULL AND locked_until IS NOT NULL AND locked_until <= ?`,
		now, now.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("reopen expired locks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		db.logger.Debug().Int64("rows", n).Msg("reopened lapsed slot locks")
	}
	return int(n), nil
}
