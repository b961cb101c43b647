// Package availability computes bookable slots from a provider's weekly
// template minus blocked ranges, bookings and active holds.
package availability

import (
	"context"
	"sync"
	"time"

	"slotkeeper/internal/apperr"
	"slotkeeper/internal/metrics"
	"slotkeeper/internal/model"
)

// Reasons attached to unavailable slots and rejected checks.
const (
	ReasonBlocked            = "Blocked by provider"
	ReasonBooked             = "Already booked"
	ReasonHeld               = "Temporarily held"
	ReasonOutsideHours       = "Outside working hours"
	ReasonInsufficientNotice = "Insufficient notice"
)

// Settings controls how the working window is cut into slots.
type Settings struct {
	SlotDurationMinutes int `yaml:"slot_duration_minutes"`
	BufferMinutes       int `yaml:"buffer_minutes"`
	MinimumNoticeHours  int `yaml:"minimum_notice_hours"`
}

// DefaultSettings returns 60 minute slots, a 15 minute buffer and 24h notice.
func DefaultSettings() Settings {
	return Settings{
		SlotDurationMinutes: 60,
		BufferMinutes:       15,
		MinimumNoticeHours:  24,
	}
}

func (s Settings) normalized() Settings {
	if s.SlotDurationMinutes <= 0 {
		s.SlotDurationMinutes = 60
	}
	if s.BufferMinutes < 0 {
		s.BufferMinutes = 0
	}
	if s.MinimumNoticeHours < 0 {
		s.MinimumNoticeHours = 0
	}
	return s
}

func (s Settings) step() time.Duration {
	return time.Duration(s.SlotDurationMinutes+s.BufferMinutes) * time.Minute
}

func (s Settings) notice() time.Duration {
	return time.Duration(s.MinimumNoticeHours) * time.Hour
}

// TimeSlot is one candidate slot on a provider's calendar.
type TimeSlot struct {
	Date      string    `json:"date"`
	StartTime string    `json:"start_time"` // "10:00"
	EndTime   string    `json:"end_time"`   // "11:00"
	Start     time.Time `json:"-"`
	End       time.Time `json:"-"`
	Available bool      `json:"available"`
	Reason    string    `json:"reason,omitempty"`
}

// ScheduleReader is the read side of the durable schedule store.
type ScheduleReader interface {
	// GetWeeklySchedule returns nil, nil when the provider has no entry for the weekday.
	GetWeeklySchedule(ctx context.Context, providerID string, dayOfWeek int) (*model.WeeklyScheduleEntry, error)
	ListBlockedSlots(ctx context.Context, providerID string, from, to time.Time) ([]model.BlockedSlot, error)
	ListActiveBookings(ctx context.Context, providerID string, from, to time.Time) ([]model.Booking, error)
	ListCacheRows(ctx context.Context, providerID, date string) ([]model.AvailabilityCacheRow, error)
}

// Calculator produces available slots. It keeps no state between calls
// apart from its defaults.
type Calculator struct {
	reader ScheduleReader
	now    func() time.Time
	loc    *time.Location

	mu       sync.RWMutex
	defaults Settings
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLocation sets the provider calendar timezone.
func WithLocation(loc *time.Location) Option {
	return func(c *Calculator) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithDefaults sets the settings used when callers pass nil.
func WithDefaults(s Settings) Option {
	return func(c *Calculator) {
		c.defaults = s.normalized()
	}
}

// NewCalculator creates a new availability calculator.
func NewCalculator(reader ScheduleReader, opts ...Option) *Calculator {
	c := &Calculator{
		reader:   reader,
		now:      time.Now,
		loc:      time.UTC,
		defaults: DefaultSettings(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetDefaults replaces the default settings; safe for concurrent use.
func (c *Calculator) SetDefaults(s Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaults = s.normalized()
}

// Defaults returns the current default settings.
func (c *Calculator) Defaults() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaults
}

// Location returns the calendar timezone.
func (c *Calculator) Location() *time.Location {
	return c.loc
}

func (c *Calculator) resolve(settings *Settings) Settings {
	if settings == nil {
		return c.Defaults()
	}
	return settings.normalized()
}

// GetAvailableSlots returns the ordered bookable slots for a provider and date.
// A provider not working that day yields an empty result, not an error.
func (c *Calculator) GetAvailableSlots(ctx context.Context, providerID string, date time.Time, serviceDurationMinutes int, settings *Settings) ([]TimeSlot, error) {
	slots, err := c.GenerateSlots(ctx, providerID, date, serviceDurationMinutes, settings)
	if err != nil {
		return nil, err
	}
	return FilterAvailable(slots), nil
}

// GenerateSlots returns every candidate slot past the notice horizon,
// including unavailable ones with their reason.
func (c *Calculator) GenerateSlots(ctx context.Context, providerID string, date time.Time, serviceDurationMinutes int, settings *Settings) (slots []TimeSlot, err error) {
	started := time.Now()
	defer func() { metrics.ObserveAvailabilityLookup(err, time.Since(started)) }()

	s := c.resolve(settings)
	plan, err := c.loadDay(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	if !plan.working || plan.wholeDayBlocked {
		return nil, nil
	}

	service := time.Duration(serviceDurationMinutes) * time.Minute
	if service <= 0 {
		service = time.Duration(s.SlotDurationMinutes) * time.Minute
	}
	now := c.now()
	earliest := now.Add(s.notice())

	for cursor := plan.start; !cursor.Add(service).After(plan.end); cursor = cursor.Add(s.step()) {
		slotStart := cursor
		slotEnd := cursor.Add(service)

		if slotStart.Before(earliest) {
			continue
		}

		slot := TimeSlot{
			Date:      plan.dateKey,
			StartTime: slotStart.Format("15:04"),
			EndTime:   slotEnd.Format("15:04"),
			Start:     slotStart,
			End:       slotEnd,
			Available: true,
		}
		if reason := plan.conflict(slotStart, slotEnd, now); reason != "" {
			slot.Available = false
			slot.Reason = reason
		}
		slots = append(slots, slot)
	}

	return slots, nil
}

// SlotCheck is the verdict for a specific requested slot.
type SlotCheck struct {
	Available bool
	Reason    string
}

// CheckSlot verifies that [start,end) on date lies inside the provider's
// working window, respects minimum notice and is neither blocked nor booked.
// Active holds are not considered; the capacity counter arbitrates those.
func (c *Calculator) CheckSlot(ctx context.Context, providerID string, date time.Time, startTime, endTime string, settings *Settings) (SlotCheck, error) {
	s := c.resolve(settings)

	startMin, err := model.ParseClock(startTime)
	if err != nil {
		return SlotCheck{}, apperr.Validation(err.Error())
	}
	endMin, err := model.ParseClock(endTime)
	if err != nil {
		return SlotCheck{}, apperr.Validation(err.Error())
	}

	day := c.dayOf(date)
	slotStart := model.AtClock(day, startMin)
	slotEnd := model.AtClock(day, endMin)
	if !slotEnd.After(slotStart) {
		slotEnd = slotEnd.Add(24 * time.Hour)
	}

	if slotStart.Before(c.now().Add(s.notice())) {
		return SlotCheck{Reason: ReasonInsufficientNotice}, nil
	}

	plan, err := c.loadDay(ctx, providerID, day)
	if err != nil {
		return SlotCheck{}, err
	}
	if plan.wholeDayBlocked {
		return SlotCheck{Reason: ReasonBlocked}, nil
	}
	if !plan.working || slotStart.Before(plan.start) || slotEnd.After(plan.end) {
		return SlotCheck{Reason: ReasonOutsideHours}, nil
	}
	if plan.overlapsBlock(slotStart, slotEnd) {
		return SlotCheck{Reason: ReasonBlocked}, nil
	}
	if plan.overlapsBooking(slotStart, slotEnd) {
		return SlotCheck{Reason: ReasonBooked}, nil
	}
	return SlotCheck{Available: true}, nil
}

// Alternatives scans from date forward for up to days days and returns at
// most limit available slots of the given duration, skipping exclude.
func (c *Calculator) Alternatives(ctx context.Context, providerID string, date time.Time, serviceDurationMinutes, days, limit int, exclude model.SlotKey) ([]TimeSlot, error) {
	if days <= 0 || limit <= 0 {
		return nil, nil
	}

	var result []TimeSlot
	day := c.dayOf(date)
	for i := 0; i < days && len(result) < limit; i++ {
		slots, err := c.GetAvailableSlots(ctx, providerID, day.AddDate(0, 0, i), serviceDurationMinutes, nil)
		if err != nil {
			return result, err
		}
		for _, s := range slots {
			if s.Date == exclude.Date && s.StartTime == exclude.StartTime {
				continue
			}
			result = append(result, s)
			if len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

func (c *Calculator) dayOf(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, c.loc)
}

// FilterAvailable returns only available slots.
func FilterAvailable(slots []TimeSlot) []TimeSlot {
	available := make([]TimeSlot, 0, len(slots))
	for _, s := range slots {
		if s.Available {
			available = append(available, s)
		}
	}
	return available
}

// SlotInfo is a simplified representation for diagnostics output.
type SlotInfo struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// ToSlotInfo converts slots to SlotInfo.
func ToSlotInfo(slots []TimeSlot) []SlotInfo {
	result := make([]SlotInfo, len(slots))
	for i, s := range slots {
		result[i] = SlotInfo{
			Start:     s.StartTime,
			End:       s.EndTime,
			Available: s.Available,
			Reason:    s.Reason,
		}
	}
	return result
}
