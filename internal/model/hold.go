package model

import (
	"fmt"
	"time"
)

// HoldStatus is the lifecycle state of a slot hold.
type HoldStatus string

const (
	HoldActive    HoldStatus = "active"
	HoldExpired   HoldStatus = "expired"
	HoldConverted HoldStatus = "converted"
	HoldReleased  HoldStatus = "released"
)

// IsTerminal reports whether no further transitions are allowed.
func (s HoldStatus) IsTerminal() bool {
	return s != HoldActive
}

// IdentityKind distinguishes authenticated customers from guest sessions.
type IdentityKind string

const (
	IdentityCustomer IdentityKind = "customer"
	IdentityGuest    IdentityKind = "guest"
)

// Identity is whoever owns a hold: an authenticated customer or a guest session.
type Identity struct {
	Kind IdentityKind `json:"kind"`
	ID   string       `json:"id"`
}

// Customer returns an authenticated identity.
func Customer(customerID string) Identity {
	return Identity{Kind: IdentityCustomer, ID: customerID}
}

// Guest returns a guest session identity.
func Guest(sessionID string) Identity {
	return Identity{Kind: IdentityGuest, ID: sessionID}
}

// IdentityFrom picks the customer id when present, the guest session otherwise.
// ok is false when both are empty.
func IdentityFrom(customerID, guestSessionID string) (id Identity, ok bool) {
	switch {
	case customerID != "":
		return Customer(customerID), true
	case guestSessionID != "":
		return Guest(guestSessionID), true
	default:
		return Identity{}, false
	}
}

// HoldLimits caps concurrent active holds per identity kind.
type HoldLimits struct {
	Customer int
	Guest    int
}

// DefaultHoldLimits returns 3 holds for customers and 1 for guests.
func DefaultHoldLimits() HoldLimits {
	return HoldLimits{Customer: 3, Guest: 1}
}

// MaxHolds returns the limit that applies to this identity.
func (i Identity) MaxHolds(limits HoldLimits) int {
	switch i.Kind {
	case IdentityCustomer:
		return limits.Customer
	case IdentityGuest:
		return limits.Guest
	default:
		panic(fmt.Sprintf("unknown identity kind %q", i.Kind))
	}
}

// CustomerID returns the customer id or "" for guests.
func (i Identity) CustomerID() string {
	if i.Kind == IdentityCustomer {
		return i.ID
	}
	return ""
}

// GuestSessionID returns the session id or "" for customers.
func (i Identity) GuestSessionID() string {
	if i.Kind == IdentityGuest {
		return i.ID
	}
	return ""
}

func (i Identity) String() string {
	return string(i.Kind) + ":" + i.ID
}

// SlotHold is a time-bounded soft reservation of a slot.
type SlotHold struct {
	ID         string     `json:"id"`
	ProviderID string     `json:"provider_id"`
	ServiceID  string     `json:"service_id,omitempty"`
	Date       string     `json:"date"`       // "2006-01-02"
	StartTime  string     `json:"start_time"` // "10:00"
	EndTime    string     `json:"end_time"`
	Identity   Identity   `json:"identity"`
	Capacity   int        `json:"capacity"`
	Status     HoldStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// IsExpired reports whether the hold window has passed at now.
func (h *SlotHold) IsExpired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// IsValid reports whether the hold still owns its slot at now.
func (h *SlotHold) IsValid(now time.Time) bool {
	return h.Status == HoldActive && !h.IsExpired(now)
}

// SlotKey identifies the held slot.
func (h *SlotHold) SlotKey() SlotKey {
	return SlotKey{ProviderID: h.ProviderID, Date: h.Date, StartTime: h.StartTime}
}

// SlotKey identifies one bookable slot by provider, date and start time.
type SlotKey struct {
	ProviderID string
	Date       string
	StartTime  string
}

func (k SlotKey) String() string {
	return k.ProviderID + ":" + k.Date + ":" + k.StartTime
}
