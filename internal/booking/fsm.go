// Package booking turns holds into durable bookings and drives the booking
// status machine.
package booking

import "slotkeeper/internal/model"

// FSM validates booking status transitions against an explicit table.
type FSM struct {
	transitions map[model.BookingStatus][]model.BookingStatus
}

// NewFSM creates the booking status machine.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[model.BookingStatus][]model.BookingStatus{
			model.BookingPending:        {model.BookingPaymentPending, model.BookingConfirmed, model.BookingCancelled},
			model.BookingPaymentPending: {model.BookingConfirmed, model.BookingCancelled},
			model.BookingConfirmed:      {model.BookingCompleted, model.BookingCancelled, model.BookingNoShow},
			model.BookingCompleted:      {},
			model.BookingCancelled:      {},
			model.BookingNoShow:         {},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to model.BookingStatus) bool {
	allowed, ok := f.transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no outgoing transitions.
func (f *FSM) IsTerminal(status model.BookingStatus) bool {
	allowed, ok := f.transitions[status]
	return ok && len(allowed) == 0
}

// Known reports whether status is part of the machine.
func (f *FSM) Known(status model.BookingStatus) bool {
	_, ok := f.transitions[status]
	return ok
}

// releasesSlot reports whether entering status gives the slot back.
func releasesSlot(status model.BookingStatus) bool {
	return status == model.BookingCancelled || status == model.BookingNoShow
}
