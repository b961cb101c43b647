package concurrency

import (
	"time"

	"slotkeeper/internal/events"
)

const (
	DefaultHoldTTL     = 10 * time.Minute
	DefaultRecordGrace = 2 * time.Minute
)

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithHoldTTL sets how long a hold owns its slot.
func WithHoldTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.holdTTL = ttl
		}
	}
}

// WithRecordGrace keeps hold records around this long past their expiry so
// the sweep can still release them.
func WithRecordGrace(grace time.Duration) Option {
	return func(m *Manager) {
		if grace >= 0 {
			m.recordGrace = grace
		}
	}
}

// WithDefaultCapacity sets the per-slot capacity used when a request has none.
func WithDefaultCapacity(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.defaultCapacity = n
		}
	}
}

// WithLimits sets the max concurrent holds per customer and per guest session.
func WithLimits(customer, guest int) Option {
	return func(m *Manager) {
		if customer > 0 {
			m.limits.Customer = customer
		}
		if guest > 0 {
			m.limits.Guest = guest
		}
	}
}

// WithSlotChecker validates requested slots against the provider calendar
// before the capacity counter is touched.
func WithSlotChecker(checker SlotChecker) Option {
	return func(m *Manager) {
		m.checker = checker
	}
}

// WithAlternatives enables alternative-slot suggestions on conflicts.
func WithAlternatives(days, limit int, finder AlternativeFinder) Option {
	return func(m *Manager) {
		m.altDays = days
		m.altLimit = limit
		m.finder = finder
	}
}

// WithEvents publishes hold lifecycle events.
func WithEvents(pub events.Publisher) Option {
	return func(m *Manager) {
		if pub != nil {
			m.events = pub
		}
	}
}
