package model

import "time"

// AvailabilityCacheRow is the denormalised per-slot status kept in the
// durable store.
type AvailabilityCacheRow struct {
	ProviderID      string     `json:"provider_id"`
	Date            string     `json:"date"`
	StartTime       string     `json:"start_time"`
	EndTime         string     `json:"end_time,omitempty"`
	IsAvailable     bool       `json:"is_available"`
	LockedBySession string     `json:"locked_by_session,omitempty"`
	LockedUntil     *time.Time `json:"locked_until,omitempty"`
	BookingID       string     `json:"booking_id,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Key returns the row's slot key.
func (r *AvailabilityCacheRow) Key() SlotKey {
	return SlotKey{ProviderID: r.ProviderID, Date: r.Date, StartTime: r.StartTime}
}

// IsBooked reports whether a durable booking owns the slot.
func (r *AvailabilityCacheRow) IsBooked() bool {
	return r.BookingID != ""
}

// IsHeld reports whether an unexpired hold locks the slot at now.
// A lapsed lock counts as free even if nobody reopened the row.
func (r *AvailabilityCacheRow) IsHeld(now time.Time) bool {
	if r.IsBooked() || r.LockedBySession == "" || r.LockedUntil == nil {
		return false
	}
	return now.Before(*r.LockedUntil)
}

// IsFree reports whether the slot can be offered at now.
func (r *AvailabilityCacheRow) IsFree(now time.Time) bool {
	return !r.IsBooked() && !r.IsHeld(now)
}
