package db

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotkeeper/internal/apperr"
	"slotkeeper/internal/availability"
	"slotkeeper/internal/model"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "slots.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func TestOpen_Migrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "slots.db")
	db, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, db.Ping(context.Background()))
	require.NoError(t, db.Close())

	// Re-opening an existing file is a no-op migration.
	db, err = Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestWeeklySchedule_Replace(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	entry, err := db.GetWeeklySchedule(ctx, "prov-1", 1)
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, db.ReplaceWeeklySchedule(ctx, "prov-1", []model.WeeklyScheduleEntry{
		{DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00"},
		{DayOfWeek: 2, StartTime: "10:00", EndTime: "14:00"},
	}))

	entry, err = db.GetWeeklySchedule(ctx, "prov-1", 1)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "09:00", entry.StartTime)
	assert.True(t, entry.IsActive)

	require.NoError(t, db.ReplaceWeeklySchedule(ctx, "prov-1", []model.WeeklyScheduleEntry{
		{DayOfWeek: 3, StartTime: "08:00", EndTime: "12:00"},
	}))

	entry, err = db.GetWeeklySchedule(ctx, "prov-1", 1)
	require.NoError(t, err)
	assert.Nil(t, entry, "previous week deactivated")

	week, err := db.ListWeeklySchedule(ctx, "prov-1")
	require.NoError(t, err)
	require.Len(t, week, 1)
	assert.Equal(t, 3, week[0].DayOfWeek)

	err = db.ReplaceWeeklySchedule(ctx, "prov-1", []model.WeeklyScheduleEntry{{DayOfWeek: 7, StartTime: "08:00", EndTime: "12:00"}})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	week, err = db.ListWeeklySchedule(ctx, "prov-1")
	require.NoError(t, err)
	assert.Len(t, week, 1, "rejected edit leaves the week untouched")
}

func TestBlockedSlots(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	partial := &model.BlockedSlot{ProviderID: "prov-1", BlockedDate: monday, StartTime: "12:00", EndTime: "13:00", Reason: "lunch"}
	whole := &model.BlockedSlot{ProviderID: "prov-1", BlockedDate: monday.AddDate(0, 0, 2), Reason: "vacation"}
	require.NoError(t, db.CreateBlockedSlot(ctx, partial))
	require.NoError(t, db.CreateBlockedSlot(ctx, whole))
	assert.NotEmpty(t, partial.ID)

	err := db.CreateBlockedSlot(ctx, &model.BlockedSlot{ProviderID: "prov-1", BlockedDate: monday, StartTime: "12:00"})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	blocks, err := db.ListBlockedSlots(ctx, "prov-1", monday, monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "lunch", blocks[0].Reason)
	assert.True(t, blocks[0].BlockedDate.Equal(monday))
	assert.False(t, blocks[0].IsWholeDay())

	blocks, err = db.ListBlockedSlots(ctx, "prov-1", monday, monday.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.True(t, blocks[1].IsWholeDay())

	require.NoError(t, db.DeleteBlockedSlot(ctx, "prov-1", partial.ID))
	err = db.DeleteBlockedSlot(ctx, "prov-1", partial.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func newBooking(start, end string) *model.Booking {
	return &model.Booking{
		ProviderID:  "prov-1",
		CustomerID:  "cust-1",
		BookingDate: monday,
		StartTime:   start,
		EndTime:     end,
	}
}

func TestCreateBooking_Overlap(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := newBooking("13:00", "14:00")
	require.NoError(t, db.CreateBooking(ctx, first))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, model.BookingPending, first.Status)

	err := db.CreateBooking(ctx, newBooking("12:30", "13:30"))
	assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)

	require.NoError(t, db.CreateBooking(ctx, newBooking("14:00", "15:00")), "touching boundary is not overlap")
	require.NoError(t, db.CreateBooking(ctx, newBooking("12:00", "13:00")))

	require.NoError(t, db.UpdateBookingStatus(ctx, first.ID, model.BookingPending, model.BookingCancelled))
	require.NoError(t, db.CreateBooking(ctx, newBooking("13:00", "14:00")), "cancelled bookings free the calendar")
}

func TestCreateBooking_OvernightNeighbour(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	late := newBooking("23:00", "01:00")
	late.BookingDate = monday.AddDate(0, 0, -1)
	require.NoError(t, db.CreateBooking(ctx, late))

	err := db.CreateBooking(ctx, newBooking("00:30", "01:30"))
	assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)
	require.NoError(t, db.CreateBooking(ctx, newBooking("01:00", "02:00")))
}

func TestCreateBooking_ConcurrentSameSlot(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	const workers = 5
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- db.CreateBooking(ctx, newBooking("10:00", "11:00"))
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)
	}
	assert.Equal(t, 1, ok)
}

func TestUpdateBookingStatus_CompareAndSet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newBooking("10:00", "11:00")
	b.GuestSessionID = "sess-1"
	b.Notes = "first visit"
	require.NoError(t, db.CreateBooking(ctx, b))

	require.NoError(t, db.UpdateBookingStatus(ctx, b.ID, model.BookingPending, model.BookingConfirmed))

	err := db.UpdateBookingStatus(ctx, b.ID, model.BookingPending, model.BookingCancelled)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, got.Status)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "first visit", got.Notes)
	assert.Equal(t, "sess-1", got.GuestSessionID)
	assert.True(t, got.BookingDate.Equal(monday))

	err = db.UpdateBookingStatus(ctx, "missing", model.BookingPending, model.BookingConfirmed)
	assert.ErrorIs(t, err, apperr.ErrBookingNotFound)

	_, err = db.GetBooking(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrBookingNotFound)
}

func TestListActiveBookings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	kept := newBooking("09:00", "10:00")
	dropped := newBooking("11:00", "12:00")
	later := newBooking("09:00", "10:00")
	later.BookingDate = monday.AddDate(0, 0, 3)
	for _, b := range []*model.Booking{kept, dropped, later} {
		require.NoError(t, db.CreateBooking(ctx, b))
	}
	require.NoError(t, db.UpdateBookingStatus(ctx, dropped.ID, model.BookingPending, model.BookingCancelled))

	got, err := db.ListActiveBookings(ctx, "prov-1", monday, monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, kept.ID, got[0].ID)
}

func TestCacheRows(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	key := model.SlotKey{ProviderID: "prov-1", Date: "2026-03-02", StartTime: "10:00"}

	row, err := db.GetCacheRow(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, row)

	until := time.Date(2026, 3, 2, 9, 10, 0, 0, time.UTC)
	require.NoError(t, db.UpsertCacheRow(ctx, &model.AvailabilityCacheRow{
		ProviderID: key.ProviderID, Date: key.Date, StartTime: key.StartTime, EndTime: "10:45",
		LockedBySession: "hold-1", LockedUntil: &until,
	}))
	require.NoError(t, db.UpsertCacheRow(ctx, &model.AvailabilityCacheRow{
		ProviderID: key.ProviderID, Date: key.Date, StartTime: "11:00",
		BookingID: "booking-1",
	}))

	row, err = db.GetCacheRow(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.False(t, row.IsAvailable)
	assert.Equal(t, "hold-1", row.LockedBySession)
	require.NotNil(t, row.LockedUntil)
	assert.True(t, row.LockedUntil.Equal(until))
	assert.Equal(t, "10:45", row.EndTime)

	rows, err := db.ListCacheRows(ctx, "prov-1", "2026-03-02")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	n, err := db.ReopenExpiredLocks(ctx, until.Add(-time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = db.ReopenExpiredLocks(ctx, until)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	row, err = db.GetCacheRow(ctx, key)
	require.NoError(t, err)
	assert.True(t, row.IsAvailable)
	assert.Empty(t, row.LockedBySession)
	assert.Nil(t, row.LockedUntil)
	assert.Equal(t, "10:45", row.EndTime, "reopened rows keep their span")

	booked, err := db.GetCacheRow(ctx, model.SlotKey{ProviderID: "prov-1", Date: "2026-03-02", StartTime: "11:00"})
	require.NoError(t, err)
	assert.Equal(t, "booking-1", booked.BookingID)
}

func TestCalculatorOverSQLite(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.ReplaceWeeklySchedule(ctx, "prov-1", []model.WeeklyScheduleEntry{
		{DayOfWeek: int(time.Monday), StartTime: "09:00", EndTime: "17:00"},
	}))
	require.NoError(t, db.CreateBooking(ctx, newBooking("13:00", "14:00")))
	require.NoError(t, db.CreateBlockedSlot(ctx, &model.BlockedSlot{
		ProviderID: "prov-1", BlockedDate: monday, StartTime: "09:00", EndTime: "10:00",
	}))

	calc := availability.NewCalculator(db,
		availability.WithClock(func() time.Time { return monday.AddDate(0, 0, -7) }),
		availability.WithDefaults(availability.Settings{SlotDurationMinutes: 60}),
	)

	slots, err := calc.GetAvailableSlots(ctx, "prov-1", monday, 60, nil)
	require.NoError(t, err)

	var starts []string
	for _, s := range slots {
		starts = append(starts, s.StartTime)
	}
	assert.Equal(t, []string{"10:00", "11:00", "12:00", "14:00", "15:00", "16:00"}, starts)
}
