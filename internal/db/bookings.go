package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"slotkeeper/internal/apperr"
	"slotkeeper/internal/model"
)

const bookingColumns = `id, provider_id, service_id, customer_id, guest_session_id, hold_id,
	booking_date, start_time, end_time, status, notes, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(s rowScanner, loc *time.Location) (*model.Booking, error) {
	var (
		b                                  model.Booking
		service, customer, guest, hold, nt sql.NullString
		date, status                       string
	)
	if err := s.Scan(&b.ID, &b.ProviderID, &service, &customer, &guest, &hold,
		&date, &b.StartTime, &b.EndTime, &status, &nt, &b.Version, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := model.ParseDate(date, loc)
	if err != nil {
		return nil, err
	}
	b.BookingDate = d
	b.Status = model.BookingStatus(status)
	b.ServiceID, b.CustomerID, b.GuestSessionID = service.String, customer.String, guest.String
	b.HoldID, b.Notes = hold.String, nt.String
	return &b, nil
}

// bookingSpan converts a booking to an absolute interval; windows that end
// at or before their start run past midnight.
func bookingSpan(date time.Time, start, end string) (time.Time, time.Time, error) {
	s, err := model.ParseClock(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	e, err := model.ParseClock(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	from, to := model.AtClock(date, s), model.AtClock(date, e)
	if !to.After(from) {
		to = to.Add(24 * time.Hour)
	}
	return from, to, nil
}

// CreateBooking inserts a booking after checking, in the same transaction,
// that no calendar-occupying booking of the provider overlaps it.
func (db *DB) CreateBooking(ctx context.Context, b *model.Booking) error {
	from, to, err := bookingSpan(b.BookingDate, b.StartTime, b.EndTime)
	if err != nil {
		return apperr.Validation(err.Error())
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	day := model.StartOfDay(b.BookingDate)
	rows, err := tx.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE provider_id = ? AND booking_date BETWEEN ? AND ?
		  AND status NOT IN ('cancelled', 'no_show')`,
		b.ProviderID, model.DateKey(day.AddDate(0, 0, -1)), model.DateKey(day.AddDate(0, 0, 1)),
	)
	if err != nil {
		return fmt.Errorf("check overlap: %w", err)
	}
	for rows.Next() {
		other, err := scanBooking(rows, b.BookingDate.Location())
		if err != nil {
			rows.Close()
			return err
		}
		otherFrom, otherTo, err := bookingSpan(other.BookingDate, other.StartTime, other.EndTime)
		if err != nil {
			continue
		}
		if model.Overlaps(from, to, otherFrom, otherTo) {
			rows.Close()
			return apperr.Clone(apperr.ErrSlotUnavailable, fmt.Sprintf("overlaps booking %s", other.ID))
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = model.BookingPending
	}
	now := db.now()
	b.CreatedAt, b.UpdatedAt, b.Version = now, now, 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bookings (id, provider_id, service_id, customer_id, guest_session_id, hold_id,
			booking_date, start_time, end_time, status, notes, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ProviderID, nullString(b.ServiceID), nullString(b.CustomerID), nullString(b.GuestSessionID),
		nullString(b.HoldID), model.DateKey(b.BookingDate), b.StartTime, b.EndTime, string(b.Status),
		nullString(b.Notes), b.Version, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return tx.Commit()
}

// GetBooking returns a booking or apperr.ErrBookingNotFound.
func (db *DB) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row, time.UTC)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// UpdateBookingStatus moves a booking from one status to another. It fails
// with a conflict if the status changed since the caller read it.
func (db *DB) UpdateBookingStatus(ctx context.Context, id string, from, to model.BookingStatus) error {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), db.now(), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	if _, err := db.GetBooking(ctx, id); err != nil {
		return err
	}
	return apperr.Wrap(apperr.ErrInvalidTransition, apperr.KindConflict, "STATUS_CHANGED",
		fmt.Sprintf("booking %s is no longer %s", id, from))
}

// ListActiveBookings returns calendar-occupying bookings with from <= date <= to.
func (db *DB) ListActiveBookings(ctx context.Context, providerID string, from, to time.Time) ([]model.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE provider_id = ? AND booking_date BETWEEN ? AND ?
		  AND status NOT IN ('cancelled', 'no_show')
		ORDER BY booking_date, start_time`,
		providerID, model.DateKey(from), model.DateKey(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var result []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows, from.Location())
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}
