package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotkeeper/internal/apperr"
	"slotkeeper/internal/model"
)

type fakeReader struct {
	schedules map[int]*model.WeeklyScheduleEntry
	blocks    []model.BlockedSlot
	bookings  []model.Booking
	rows      []model.AvailabilityCacheRow
	err       error
}

func (f *fakeReader) GetWeeklySchedule(ctx context.Context, providerID string, dayOfWeek int) (*model.WeeklyScheduleEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.schedules[dayOfWeek], nil
}

func (f *fakeReader) ListBlockedSlots(ctx context.Context, providerID string, from, to time.Time) ([]model.BlockedSlot, error) {
	return f.blocks, nil
}

func (f *fakeReader) ListActiveBookings(ctx context.Context, providerID string, from, to time.Time) ([]model.Booking, error) {
	return f.bookings, nil
}

func (f *fakeReader) ListCacheRows(ctx context.Context, providerID, date string) ([]model.AvailabilityCacheRow, error) {
	return f.rows, nil
}

// 2026-03-02 is a Monday.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func workingMonday(start, end string) *fakeReader {
	return &fakeReader{schedules: map[int]*model.WeeklyScheduleEntry{
		1: {ProviderID: "p1", DayOfWeek: 1, StartTime: start, EndTime: end, IsActive: true},
	}}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func starts(slots []TimeSlot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.StartTime + "-" + s.EndTime
	}
	return out
}

func TestGetAvailableSlots_FullDay(t *testing.T) {
	calc := NewCalculator(workingMonday("09:00", "17:00"), WithClock(fixedClock(monday.AddDate(0, 0, -2))))
	settings := &Settings{SlotDurationMinutes: 60, MinimumNoticeHours: 24}

	slots, err := calc.GetAvailableSlots(context.Background(), "p1", monday, 60, settings)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"09:00-10:00", "10:00-11:00", "11:00-12:00", "12:00-13:00",
		"13:00-14:00", "14:00-15:00", "15:00-16:00", "16:00-17:00",
	}, starts(slots))
}

func TestGetAvailableSlots_MinimumNotice(t *testing.T) {
	now := monday.Add(-24 * time.Hour).Add(12 * time.Hour) // Sunday 12:00
	calc := NewCalculator(workingMonday("09:00", "17:00"), WithClock(fixedClock(now)))

	slots, err := calc.GetAvailableSlots(context.Background(), "p1", monday, 60, &Settings{SlotDurationMinutes: 60, MinimumNoticeHours: 24})
	require.NoError(t, err)

	assert.Equal(t, []string{"12:00-13:00", "13:00-14:00", "14:00-15:00", "15:00-16:00", "16:00-17:00"}, starts(slots))
}

func TestGenerateSlots_Buffer(t *testing.T) {
	calc := NewCalculator(workingMonday("09:00", "17:00"), WithClock(fixedClock(monday.AddDate(0, 0, -7))))

	slots, err := calc.GenerateSlots(context.Background(), "p1", monday, 60, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"09:00-10:00", "10:15-11:15", "11:30-12:30", "12:45-13:45", "14:00-15:00", "15:15-16:15",
	}, starts(slots))
}

func TestGenerateSlots_BookingOverlap(t *testing.T) {
	reader := workingMonday("09:00", "17:00")
	reader.bookings = []model.Booking{
		{ID: "b1", BookingDate: monday, StartTime: "13:00", EndTime: "14:00", Status: model.BookingConfirmed},
		{ID: "b2", BookingDate: monday, StartTime: "09:00", EndTime: "10:00", Status: model.BookingCancelled},
	}
	calc := NewCalculator(reader, WithClock(fixedClock(monday.AddDate(0, 0, -7))))

	slots, err := calc.GenerateSlots(context.Background(), "p1", monday, 60, &Settings{SlotDurationMinutes: 30})
	require.NoError(t, err)

	byStart := map[string]TimeSlot{}
	for _, s := range slots {
		byStart[s.StartTime] = s
	}

	assert.True(t, byStart["09:00"].Available, "cancelled booking must not occupy the calendar")
	assert.True(t, byStart["12:00"].Available)
	assert.False(t, byStart["12:30"].Available)
	assert.Equal(t, ReasonBooked, byStart["12:30"].Reason)
	assert.False(t, byStart["13:30"].Available)
	assert.True(t, byStart["14:00"].Available, "touching boundary is not an overlap")
	assert.Equal(t, "16:00", slots[len(slots)-1].StartTime, "no partial slot past the window end")
}

func TestGenerateSlots_Blocks(t *testing.T) {
	clock := WithClock(fixedClock(monday.AddDate(0, 0, -7)))

	t.Run("whole day", func(t *testing.T) {
		reader := workingMonday("09:00", "17:00")
		reader.blocks = []model.BlockedSlot{{ProviderID: "p1", BlockedDate: monday, Reason: "vacation"}}

		slots, err := NewCalculator(reader, clock).GenerateSlots(context.Background(), "p1", monday, 60, &Settings{})
		require.NoError(t, err)
		assert.Empty(t, slots)
	})

	t.Run("partial", func(t *testing.T) {
		reader := workingMonday("09:00", "12:00")
		reader.blocks = []model.BlockedSlot{{ProviderID: "p1", BlockedDate: monday, StartTime: "10:00", EndTime: "11:00"}}

		slots, err := NewCalculator(reader, clock).GenerateSlots(context.Background(), "p1", monday, 60, &Settings{})
		require.NoError(t, err)
		require.Len(t, slots, 3)
		assert.True(t, slots[0].Available)
		assert.False(t, slots[1].Available)
		assert.Equal(t, ReasonBlocked, slots[1].Reason)
		assert.True(t, slots[2].Available)

		public, err := NewCalculator(reader, clock).GetAvailableSlots(context.Background(), "p1", monday, 60, &Settings{})
		require.NoError(t, err)
		assert.Equal(t, []string{"09:00-10:00", "11:00-12:00"}, starts(public))
	})
}

func TestGenerateSlots_NotWorking(t *testing.T) {
	reader := workingMonday("09:00", "17:00")
	calc := NewCalculator(reader, WithClock(fixedClock(monday.AddDate(0, 0, -7))))

	slots, err := calc.GenerateSlots(context.Background(), "p1", monday.AddDate(0, 0, 1), 60, nil)
	require.NoError(t, err)
	assert.Empty(t, slots)

	reader.schedules[1].IsActive = false
	slots, err = calc.GenerateSlots(context.Background(), "p1", monday, 60, nil)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestGenerateSlots_Overnight(t *testing.T) {
	calc := NewCalculator(workingMonday("22:00", "02:00"), WithClock(fixedClock(monday.AddDate(0, 0, -7))))

	slots, err := calc.GenerateSlots(context.Background(), "p1", monday, 60, &Settings{SlotDurationMinutes: 60})
	require.NoError(t, err)

	assert.Equal(t, []string{"22:00-23:00", "23:00-00:00", "00:00-01:00", "01:00-02:00"}, starts(slots))
	assert.Equal(t, monday.AddDate(0, 0, 1).Add(2*time.Hour), slots[3].End)
	assert.Equal(t, "2026-03-02", slots[3].Date)
}

func TestGenerateSlots_HeldSlotsSelfHeal(t *testing.T) {
	now := monday.AddDate(0, 0, -7)
	lockedUntil := now.Add(10 * time.Minute)
	reader := workingMonday("09:00", "11:00")
	reader.rows = []model.AvailabilityCacheRow{
		{ProviderID: "p1", Date: "2026-03-02", StartTime: "09:00", LockedBySession: "h1", LockedUntil: &lockedUntil},
		{ProviderID: "p1", Date: "2026-03-02", StartTime: "10:00", BookingID: "b1"},
	}

	current := now
	calc := NewCalculator(reader, WithClock(func() time.Time { return current }))

	slots, err := calc.GenerateSlots(context.Background(), "p1", monday, 60, &Settings{})
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, ReasonHeld, slots[0].Reason)
	assert.Equal(t, ReasonBooked, slots[1].Reason)

	current = lockedUntil.Add(time.Second)
	slots, err = calc.GenerateSlots(context.Background(), "p1", monday, 60, &Settings{})
	require.NoError(t, err)
	assert.True(t, slots[0].Available, "a lapsed lock reopens without any explicit release")
	assert.False(t, slots[1].Available)
}

func TestGenerateSlots_HeldSpanOverlap(t *testing.T) {
	now := monday.AddDate(0, 0, -7)
	lockedUntil := now.Add(10 * time.Minute)
	reader := workingMonday("09:00", "13:00")
	reader.rows = []model.AvailabilityCacheRow{
		{ProviderID: "p1", Date: "2026-03-02", StartTime: "10:30", EndTime: "11:30", LockedBySession: "h1", LockedUntil: &lockedUntil},
	}
	calc := NewCalculator(reader, WithClock(fixedClock(now)))

	slots, err := calc.GenerateSlots(context.Background(), "p1", monday, 60, &Settings{SlotDurationMinutes: 60})
	require.NoError(t, err)
	require.Len(t, slots, 4)

	assert.True(t, slots[0].Available, "09:00-10:00 ends before the hold")
	assert.Equal(t, ReasonHeld, slots[1].Reason, "10:00-11:00 contains the hold start")
	assert.False(t, slots[2].Available, "11:00-12:00 overlaps the hold tail")
	assert.Equal(t, ReasonHeld, slots[2].Reason)
	assert.True(t, slots[3].Available, "12:00-13:00 is clear")
}

func TestGenerateSlots_StoreError(t *testing.T) {
	calc := NewCalculator(&fakeReader{err: errors.New("db down")})

	slots, err := calc.GenerateSlots(context.Background(), "p1", monday, 60, nil)
	assert.Nil(t, slots)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindStore))
	assert.Contains(t, err.Error(), "availability lookup failed")
}

func TestCheckSlot(t *testing.T) {
	reader := workingMonday("09:00", "17:00")
	reader.blocks = []model.BlockedSlot{{BlockedDate: monday, StartTime: "12:00", EndTime: "13:00"}}
	reader.bookings = []model.Booking{{BookingDate: monday, StartTime: "14:00", EndTime: "15:00", Status: model.BookingPending}}
	now := monday.Add(-24 * time.Hour).Add(10 * time.Hour)
	calc := NewCalculator(reader, WithClock(fixedClock(now)))
	settings := &Settings{SlotDurationMinutes: 60, MinimumNoticeHours: 24}
	ctx := context.Background()

	tests := []struct {
		start, end string
		want       SlotCheck
	}{
		{"11:00", "12:00", SlotCheck{Available: true}},
		{"09:00", "10:00", SlotCheck{Reason: ReasonInsufficientNotice}},
		{"16:30", "17:30", SlotCheck{Reason: ReasonOutsideHours}},
		{"12:30", "13:30", SlotCheck{Reason: ReasonBlocked}},
		{"13:30", "14:30", SlotCheck{Reason: ReasonBooked}},
		{"15:00", "16:00", SlotCheck{Available: true}},
	}
	for _, tt := range tests {
		t.Run(tt.start, func(t *testing.T) {
			got, err := calc.CheckSlot(ctx, "p1", monday, tt.start, tt.end, settings)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := calc.CheckSlot(ctx, "p1", monday, "nine", "10:00", settings)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	got, err := calc.CheckSlot(ctx, "p1", monday.AddDate(0, 0, 1), "11:00", "12:00", settings)
	require.NoError(t, err)
	assert.Equal(t, ReasonOutsideHours, got.Reason)
}

func TestAlternatives(t *testing.T) {
	reader := workingMonday("09:00", "11:00")
	calc := NewCalculator(reader,
		WithClock(fixedClock(monday.AddDate(0, 0, -7))),
		WithDefaults(Settings{SlotDurationMinutes: 60}),
	)

	alts, err := calc.Alternatives(context.Background(), "p1", monday, 60, 14, 5,
		model.SlotKey{ProviderID: "p1", Date: "2026-03-02", StartTime: "09:00"})
	require.NoError(t, err)

	require.Len(t, alts, 3)
	assert.Equal(t, "2026-03-02", alts[0].Date)
	assert.Equal(t, "10:00", alts[0].StartTime)
	assert.Equal(t, "2026-03-09", alts[1].Date)
	assert.Equal(t, "09:00", alts[1].StartTime)

	alts, err = calc.Alternatives(context.Background(), "p1", monday, 60, 0, 5, model.SlotKey{})
	require.NoError(t, err)
	assert.Empty(t, alts)
}

func TestSetDefaults(t *testing.T) {
	calc := NewCalculator(workingMonday("09:00", "17:00"))
	assert.Equal(t, DefaultSettings(), calc.Defaults())

	calc.SetDefaults(Settings{SlotDurationMinutes: 0, BufferMinutes: -5})
	assert.Equal(t, Settings{SlotDurationMinutes: 60}, calc.Defaults())
}
