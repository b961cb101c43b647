package booking

import (
	"slotkeeper/internal/apperr"
	"slotkeeper/internal/availability"
)

// ConflictError means the slot could not be locked for the booking. It
// carries alternatives so callers can offer another slot without retrying.
type ConflictError struct {
	Reason       string                  `json:"reason"`
	Alternatives []availability.TimeSlot `json:"alternatives,omitempty"`
}

func (e *ConflictError) Error() string {
	return "booking conflict: " + e.Reason
}

// Unwrap lets errors.Is match apperr.ErrSlotUnavailable.
func (e *ConflictError) Unwrap() error {
	return apperr.ErrSlotUnavailable
}
