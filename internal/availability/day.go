package availability

import (
	"context"
	"time"

	"slotkeeper/internal/apperr"
	"slotkeeper/internal/model"
)

type interval struct {
	start, end time.Time
}

// dayPlan is everything known about one provider day, resolved to instants.
type dayPlan struct {
	dateKey         string
	working         bool
	wholeDayBlocked bool
	start, end      time.Time
	blocks          []interval
	bookings        []interval
	locks           []model.AvailabilityCacheRow
	lockSpans       map[string]interval
}

func (c *Calculator) loadDay(ctx context.Context, providerID string, date time.Time) (*dayPlan, error) {
	day := c.dayOf(date)
	plan := &dayPlan{dateKey: model.DateKey(day)}

	entry, err := c.reader.GetWeeklySchedule(ctx, providerID, int(day.Weekday()))
	if err != nil {
		return nil, apperr.Store("availability lookup failed", err)
	}
	if entry == nil || !entry.IsActive {
		return plan, nil
	}

	startMin, err := model.ParseClock(entry.StartTime)
	if err != nil {
		return nil, apperr.Store("availability lookup failed", err)
	}
	endMin, err := model.ParseClock(entry.EndTime)
	if err != nil {
		return nil, apperr.Store("availability lookup failed", err)
	}

	plan.working = true
	plan.start = model.AtClock(day, startMin)
	plan.end = model.AtClock(day, endMin)
	if plan.end.Before(plan.start) {
		// overnight window
		plan.end = plan.end.Add(24 * time.Hour)
	}

	// The window may run past midnight, so the next day's rows matter too.
	rangeEnd := day.AddDate(0, 0, 1)

	blocks, err := c.reader.ListBlockedSlots(ctx, providerID, day, rangeEnd)
	if err != nil {
		return nil, apperr.Store("availability lookup failed", err)
	}
	for i := range blocks {
		b := &blocks[i]
		blockDay := c.dayOf(b.BlockedDate)
		if b.IsWholeDay() {
			if blockDay.Equal(day) {
				plan.wholeDayBlocked = true
				return plan, nil
			}
			plan.blocks = append(plan.blocks, interval{blockDay, blockDay.AddDate(0, 0, 1)})
			continue
		}
		iv, err := clockInterval(blockDay, b.StartTime, b.EndTime)
		if err != nil {
			return nil, apperr.Store("availability lookup failed", err)
		}
		plan.blocks = append(plan.blocks, iv)
	}

	bookings, err := c.reader.ListActiveBookings(ctx, providerID, day, rangeEnd)
	if err != nil {
		return nil, apperr.Store("availability lookup failed", err)
	}
	for i := range bookings {
		b := &bookings[i]
		if !b.OccupiesCalendar() {
			continue
		}
		iv, err := clockInterval(c.dayOf(b.BookingDate), b.StartTime, b.EndTime)
		if err != nil {
			return nil, apperr.Store("availability lookup failed", err)
		}
		plan.bookings = append(plan.bookings, iv)
	}

	rows, err := c.reader.ListCacheRows(ctx, providerID, plan.dateKey)
	if err != nil {
		return nil, apperr.Store("availability lookup failed", err)
	}
	plan.locks = rows
	plan.lockSpans = make(map[string]interval, len(rows))
	for _, r := range rows {
		span, ok := rowSpan(day, plan.start, r)
		if ok {
			plan.lockSpans[r.StartTime] = span
		}
	}

	return plan, nil
}

func clockInterval(day time.Time, start, end string) (interval, error) {
	startMin, err := model.ParseClock(start)
	if err != nil {
		return interval{}, err
	}
	endMin, err := model.ParseClock(end)
	if err != nil {
		return interval{}, err
	}
	iv := interval{model.AtClock(day, startMin), model.AtClock(day, endMin)}
	if !iv.end.After(iv.start) {
		iv.end = iv.end.Add(24 * time.Hour)
	}
	return iv, nil
}

// rowSpan resolves a cache row to the interval it claims. Rows written
// without an end time claim only their start minute.
func rowSpan(day, windowStart time.Time, r model.AvailabilityCacheRow) (interval, bool) {
	startMin, err := model.ParseClock(r.StartTime)
	if err != nil {
		return interval{}, false
	}
	span := interval{start: model.AtClock(day, startMin)}
	if span.start.Before(windowStart) {
		span.start = span.start.Add(24 * time.Hour)
	}

	span.end = span.start.Add(time.Minute)
	if endMin, err := model.ParseClock(r.EndTime); err == nil {
		length := endMin - startMin
		if length <= 0 {
			length += model.EndOfDay
		}
		span.end = span.start.Add(time.Duration(length) * time.Minute)
	}
	return span, true
}

func (p *dayPlan) overlapsBlock(start, end time.Time) bool {
	for _, b := range p.blocks {
		if model.Overlaps(start, end, b.start, b.end) {
			return true
		}
	}
	return false
}

func (p *dayPlan) overlapsBooking(start, end time.Time) bool {
	for _, b := range p.bookings {
		if model.Overlaps(start, end, b.start, b.end) {
			return true
		}
	}
	return false
}

// cacheConflict reports whether a live cache-row lock or booking claims any
// part of [start,end).
func (p *dayPlan) cacheConflict(start, end, now time.Time) string {
	for i := range p.locks {
		row := &p.locks[i]
		span, ok := p.lockSpans[row.StartTime]
		if !ok || !model.Overlaps(start, end, span.start, span.end) {
			continue
		}
		if row.IsBooked() {
			return ReasonBooked
		}
		if row.IsHeld(now) {
			return ReasonHeld
		}
	}
	return ""
}

func (p *dayPlan) conflict(start, end, now time.Time) string {
	if p.overlapsBlock(start, end) {
		return ReasonBlocked
	}
	if p.overlapsBooking(start, end) {
		return ReasonBooked
	}
	return p.cacheConflict(start, end, now)
}
