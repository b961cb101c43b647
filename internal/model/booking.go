package model

import "time"

// BookingStatus represents booking status.
type BookingStatus string

const (
	BookingPending        BookingStatus = "pending"
	BookingPaymentPending BookingStatus = "payment_pending"
	BookingConfirmed      BookingStatus = "confirmed"
	BookingCompleted      BookingStatus = "completed"
	BookingCancelled      BookingStatus = "cancelled"
	BookingNoShow         BookingStatus = "no_show"
)

// Booking is the durable booking record. Only the fields relevant to the
// calendar and the hold hand-off are modelled.
type Booking struct {
	ID             string        `json:"id"`
	ProviderID     string        `json:"provider_id"`
	ServiceID      string        `json:"service_id,omitempty"`
	CustomerID     string        `json:"customer_id,omitempty"`
	GuestSessionID string        `json:"guest_session_id,omitempty"`
	HoldID         string        `json:"hold_id,omitempty"`
	BookingDate    time.Time     `json:"booking_date"`
	StartTime      string        `json:"start_time"`
	EndTime        string        `json:"end_time"`
	Status         BookingStatus `json:"status"`
	Notes          string        `json:"notes,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Version        int64         `json:"version"`
}

// OccupiesCalendar reports whether the booking blocks its time range.
func (b *Booking) OccupiesCalendar() bool {
	return b.Status != BookingCancelled && b.Status != BookingNoShow
}

// Identity returns the booking owner as an Identity.
func (b *Booking) Identity() (Identity, bool) {
	return IdentityFrom(b.CustomerID, b.GuestSessionID)
}
