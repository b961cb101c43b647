// Package concurrency owns the hold lifecycle: capacity admission, hold
// records, per-identity caps and the availability cache row locks.
package concurrency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"slotkeeper/internal/apperr"
	"slotkeeper/internal/availability"
	"slotkeeper/internal/events"
	"slotkeeper/internal/holdstore"
	"slotkeeper/internal/metrics"
	"slotkeeper/internal/model"
)

// Failure reasons surfaced in HoldResult.Error.
const (
	ReasonCapacityExceeded = "Slot capacity exceeded"
	reasonMaxHoldsFormat   = "Maximum active holds reached (%d)"
)

// ReleaseReason records why a hold left the active state.
type ReleaseReason string

const (
	ReleaseManual    ReleaseReason = "manual"
	ReleaseExpired   ReleaseReason = "expired"
	ReleaseConverted ReleaseReason = "converted"
)

func (r ReleaseReason) valid() bool {
	switch r {
	case ReleaseManual, ReleaseExpired, ReleaseConverted:
		return true
	}
	return false
}

// CacheStore is the durable availability cache the manager keeps in sync.
type CacheStore interface {
	UpsertCacheRow(ctx context.Context, row *model.AvailabilityCacheRow) error
	// GetCacheRow returns nil, nil when no row exists.
	GetCacheRow(ctx context.Context, key model.SlotKey) (*model.AvailabilityCacheRow, error)
	ReopenExpiredLocks(ctx context.Context, now time.Time) (int, error)
}

// SlotChecker verifies a slot against the provider calendar.
type SlotChecker interface {
	CheckSlot(ctx context.Context, providerID string, date time.Time, startTime, endTime string, settings *availability.Settings) (availability.SlotCheck, error)
}

// AlternativeFinder suggests open slots near a conflicting one.
type AlternativeFinder interface {
	Alternatives(ctx context.Context, providerID string, date time.Time, serviceDurationMinutes, days, limit int, exclude model.SlotKey) ([]availability.TimeSlot, error)
}

// PlaceHoldRequest asks for a hold on one slot.
type PlaceHoldRequest struct {
	ProviderID     string
	ServiceID      string
	Date           string // "2006-01-02"
	StartTime      string // "10:00"
	EndTime        string
	CustomerID     string
	GuestSessionID string
	Capacity       int // 0 means the configured default
}

// HoldResult reports the outcome of PlaceHold. Conflicts come back with
// Success false and a reason, not as an error.
type HoldResult struct {
	Success          bool                    `json:"success"`
	HoldID           string                  `json:"hold_id,omitempty"`
	ExpiresAt        *time.Time              `json:"expires_at,omitempty"`
	Error            string                  `json:"error,omitempty"`
	AlternativeSlots []availability.TimeSlot `json:"alternative_slots,omitempty"`
}

// HoldEvent is the payload of hold lifecycle events.
type HoldEvent struct {
	HoldID     string `json:"hold_id"`
	ProviderID string `json:"provider_id"`
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
	Identity   string `json:"identity"`
	Reason     string `json:"reason,omitempty"`
	BookingID  string `json:"booking_id,omitempty"`
}

// Manager coordinates the hold store with the durable cache rows.
type Manager struct {
	store  holdstore.Store
	cache  CacheStore
	logger zerolog.Logger
	events events.Publisher

	now             func() time.Time
	holdTTL         time.Duration
	recordGrace     time.Duration
	defaultCapacity int
	limits          model.HoldLimits

	checker  SlotChecker
	finder   AlternativeFinder
	altDays  int
	altLimit int
}

// NewManager creates a Manager over an injected hold store and cache.
func NewManager(store holdstore.Store, cache CacheStore, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:           store,
		cache:           cache,
		logger:          logger.With().Str("component", "holds").Logger(),
		events:          events.Nop{},
		now:             time.Now,
		holdTTL:         DefaultHoldTTL,
		recordGrace:     DefaultRecordGrace,
		defaultCapacity: 1,
		limits:          model.DefaultHoldLimits(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HoldTTL returns the configured hold window.
func (m *Manager) HoldTTL() time.Duration {
	return m.holdTTL
}

type placement struct {
	req      PlaceHoldRequest
	identity model.Identity
	date     time.Time
	slot     model.SlotKey
	endTime  string
	duration int
	capacity int
}

func (m *Manager) validate(req PlaceHoldRequest) (*placement, error) {
	if req.ProviderID == "" {
		return nil, apperr.Validation("provider id is required")
	}
	identity, ok := model.IdentityFrom(req.CustomerID, req.GuestSessionID)
	if !ok {
		return nil, apperr.Validation("customer id or guest session id is required")
	}
	date, err := model.ParseDate(req.Date, time.UTC)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	startMin, endMin, err := model.ParseSpan(req.StartTime, req.EndTime)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	duration := endMin - startMin
	if duration < 0 {
		duration += model.EndOfDay
	}

	capacity := req.Capacity
	if capacity <= 0 {
		capacity = m.defaultCapacity
	}

	return &placement{
		req:      req,
		identity: identity,
		date:     date,
		slot:     model.SlotKey{ProviderID: req.ProviderID, Date: req.Date, StartTime: model.FormatClock(startMin)},
		endTime:  req.EndTime,
		duration: duration,
		capacity: capacity,
	}, nil
}

// PlaceHold tries to reserve a slot for the requesting identity.
func (m *Manager) PlaceHold(ctx context.Context, req PlaceHoldRequest) (*HoldResult, error) {
	p, err := m.validate(req)
	if err != nil {
		metrics.IncHoldPlaced("invalid")
		return nil, err
	}
	log := m.logger.With().Str("slot", p.slot.String()).Str("identity", p.identity.String()).Logger()

	active, err := m.activeHolds(ctx, p.identity)
	if err != nil {
		return nil, apperr.Store("hold lookup failed", err)
	}
	if limit := p.identity.MaxHolds(m.limits); active >= limit {
		metrics.IncHoldPlaced("limit")
		return &HoldResult{Error: fmt.Sprintf(reasonMaxHoldsFormat, limit)}, nil
	}

	if m.checker != nil {
		check, err := m.checker.CheckSlot(ctx, p.req.ProviderID, p.date, p.slot.StartTime, p.endTime, nil)
		if err != nil {
			return nil, err
		}
		if !check.Available {
			metrics.IncHoldPlaced("unavailable")
			return &HoldResult{Error: check.Reason, AlternativeSlots: m.alternatives(ctx, p)}, nil
		}
	}

	now := m.now()
	holdID := uuid.NewString()
	expiresAt := now.Add(m.holdTTL)

	claimed, err := m.store.ClaimCapacity(ctx, p.slot, holdID, p.capacity, now, expiresAt)
	if err != nil {
		metrics.IncHoldPlaced("error")
		return nil, apperr.Store("capacity admission failed", err)
	}
	if !claimed {
		metrics.IncHoldPlaced("capacity")
		return &HoldResult{Error: ReasonCapacityExceeded, AlternativeSlots: m.alternatives(ctx, p)}, nil
	}

	hold := &model.SlotHold{
		ID:         holdID,
		ProviderID: p.req.ProviderID,
		ServiceID:  p.req.ServiceID,
		Date:       p.slot.Date,
		StartTime:  p.slot.StartTime,
		EndTime:    p.endTime,
		Identity:   p.identity,
		Capacity:   p.capacity,
		Status:     model.HoldActive,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
	}

	if err := m.persist(ctx, hold); err != nil {
		m.compensate(ctx, hold)
		log.Error().Err(err).Str("hold_id", hold.ID).Msg("hold placement failed, compensated")
		metrics.IncHoldPlaced("error")
		return nil, apperr.Store("hold placement failed", err)
	}

	metrics.IncHoldPlaced("success")
	m.publish(events.HoldPlaced, hold, "", "")
	log.Debug().Str("hold_id", hold.ID).Time("expires_at", hold.ExpiresAt).Msg("hold placed")

	return &HoldResult{Success: true, HoldID: hold.ID, ExpiresAt: &expiresAt}, nil
}

func (m *Manager) persist(ctx context.Context, hold *model.SlotHold) error {
	recordTTL := m.holdTTL + m.recordGrace
	if err := m.store.PutHold(ctx, hold, recordTTL); err != nil {
		return err
	}
	if err := m.store.AddIdentityHold(ctx, hold.Identity, hold.ID, recordTTL); err != nil {
		return err
	}
	until := hold.ExpiresAt
	return m.cache.UpsertCacheRow(ctx, &model.AvailabilityCacheRow{
		ProviderID:      hold.ProviderID,
		Date:            hold.Date,
		StartTime:       hold.StartTime,
		EndTime:         hold.EndTime,
		IsAvailable:     false,
		LockedBySession: hold.ID,
		LockedUntil:     &until,
		UpdatedAt:       m.now(),
	})
}

// compensate undoes a partial placement. A claim that survives a failed
// compensation lapses at the hold's expiry.
func (m *Manager) compensate(ctx context.Context, hold *model.SlotHold) {
	metrics.IncHoldCompensation()
	if _, err := m.store.ReleaseCapacity(ctx, hold.SlotKey(), hold.ID); err != nil {
		m.logger.Warn().Err(err).Str("hold_id", hold.ID).Msg("compensate: claim release failed")
	}
	if _, err := m.store.DeleteHold(ctx, hold.ID); err != nil {
		m.logger.Warn().Err(err).Str("hold_id", hold.ID).Msg("compensate: delete failed")
	}
	if err := m.store.RemoveIdentityHold(ctx, hold.Identity, hold.ID); err != nil {
		m.logger.Warn().Err(err).Str("hold_id", hold.ID).Msg("compensate: identity cleanup failed")
	}
}

// activeHolds counts the identity's valid holds and prunes ids whose
// records are gone or no longer active.
func (m *Manager) activeHolds(ctx context.Context, identity model.Identity) (int, error) {
	ids, err := m.store.IdentityHolds(ctx, identity)
	if err != nil {
		return 0, err
	}

	now := m.now()
	active := 0
	for _, id := range ids {
		hold, err := m.store.GetHold(ctx, id)
		if err != nil {
			return 0, err
		}
		if hold != nil && hold.IsValid(now) {
			active++
			continue
		}
		if hold == nil {
			if err := m.store.RemoveIdentityHold(ctx, identity, id); err != nil {
				m.logger.Debug().Err(err).Str("hold_id", id).Msg("prune stale identity hold")
			}
		}
	}
	return active, nil
}

func (m *Manager) alternatives(ctx context.Context, p *placement) []availability.TimeSlot {
	return m.FindAlternatives(ctx, p.req.ProviderID, p.date, p.duration, p.slot)
}

// FindAlternatives returns open slots near exclude. Lookup errors are logged
// and yield an empty list.
func (m *Manager) FindAlternatives(ctx context.Context, providerID string, date time.Time, durationMinutes int, exclude model.SlotKey) []availability.TimeSlot {
	if m.finder == nil || m.altDays <= 0 || m.altLimit <= 0 {
		return nil
	}
	slots, err := m.finder.Alternatives(ctx, providerID, date, durationMinutes, m.altDays, m.altLimit, exclude)
	if err != nil {
		m.logger.Warn().Err(err).Str("provider_id", providerID).Msg("alternative lookup failed")
		return nil
	}
	return slots
}

// ReleaseHold frees a hold's capacity claim. Only the first caller for a
// given hold gets true; later calls are no-ops.
func (m *Manager) ReleaseHold(ctx context.Context, holdID string, reason ReleaseReason) (bool, error) {
	if !reason.valid() {
		return false, apperr.Validation(fmt.Sprintf("unknown release reason %q", reason))
	}
	return m.release(ctx, holdID, reason, nil)
}

func (m *Manager) release(ctx context.Context, holdID string, reason ReleaseReason, guard func(*model.SlotHold) bool) (bool, error) {
	hold, err := m.store.GetHold(ctx, holdID)
	if err != nil {
		return false, apperr.Store("hold lookup failed", err)
	}
	if hold == nil {
		return false, nil
	}
	if guard != nil && !guard(hold) {
		return false, nil
	}

	deleted, err := m.store.DeleteHold(ctx, holdID)
	if err != nil {
		return false, apperr.Store("hold release failed", err)
	}
	if !deleted {
		return false, nil
	}

	log := m.logger.With().Str("hold_id", holdID).Str("slot", hold.SlotKey().String()).Logger()

	// Only this hold's own claim is dropped. Once the window lapsed the seat
	// may already belong to a newer hold.
	if freed, err := m.store.ReleaseCapacity(ctx, hold.SlotKey(), holdID); err != nil {
		log.Warn().Err(err).Msg("capacity release failed")
	} else if !freed {
		log.Debug().Msg("capacity claim already lapsed")
	}
	if err := m.store.RemoveIdentityHold(ctx, hold.Identity, holdID); err != nil {
		log.Warn().Err(err).Msg("identity cleanup failed")
	}
	if reason != ReleaseConverted {
		if err := m.reopen(ctx, hold); err != nil {
			log.Warn().Err(err).Msg("cache reopen failed")
		}
	}

	metrics.IncHoldReleased(string(reason))
	eventType := events.HoldReleased
	if reason == ReleaseExpired {
		eventType = events.HoldExpired
	}
	m.publish(eventType, hold, string(reason), "")
	log.Debug().Str("reason", string(reason)).Msg("hold released")
	return true, nil
}

// reopen clears the cache row lock if this hold still owns it.
func (m *Manager) reopen(ctx context.Context, hold *model.SlotHold) error {
	row, err := m.cache.GetCacheRow(ctx, hold.SlotKey())
	if err != nil {
		return err
	}
	if row == nil || row.IsBooked() || row.LockedBySession != hold.ID {
		return nil
	}
	row.IsAvailable = true
	row.LockedBySession = ""
	row.LockedUntil = nil
	row.UpdatedAt = m.now()
	return m.cache.UpsertCacheRow(ctx, row)
}

// ConvertHoldToBooking hands the slot from the hold to a durable booking.
// Missing, expired or already-finished holds return false.
func (m *Manager) ConvertHoldToBooking(ctx context.Context, holdID, bookingID string) (bool, error) {
	if bookingID == "" {
		return false, apperr.Validation("booking id is required")
	}
	hold, err := m.store.GetHold(ctx, holdID)
	if err != nil {
		return false, apperr.Store("hold lookup failed", err)
	}
	if hold == nil || !hold.IsValid(m.now()) {
		return false, nil
	}

	hold.Status = model.HoldConverted
	ok, err := m.store.UpdateHold(ctx, hold)
	if err != nil {
		return false, apperr.Store("hold conversion failed", err)
	}
	if !ok {
		return false, nil
	}

	if _, err := m.release(ctx, holdID, ReleaseConverted, nil); err != nil {
		m.logger.Warn().Err(err).Str("hold_id", holdID).Msg("release after conversion failed")
	}

	err = m.cache.UpsertCacheRow(ctx, &model.AvailabilityCacheRow{
		ProviderID:  hold.ProviderID,
		Date:        hold.Date,
		StartTime:   hold.StartTime,
		EndTime:     hold.EndTime,
		IsAvailable: false,
		BookingID:   bookingID,
		UpdatedAt:   m.now(),
	})
	if err != nil {
		return false, apperr.Store("cache update failed", err)
	}

	m.publish(events.HoldConverted, hold, string(ReleaseConverted), bookingID)
	return true, nil
}

// IsHoldValid reports whether the hold exists, is active and unexpired.
func (m *Manager) IsHoldValid(ctx context.Context, holdID string) (bool, error) {
	hold, err := m.store.GetHold(ctx, holdID)
	if err != nil {
		return false, apperr.Store("hold lookup failed", err)
	}
	return hold != nil && hold.IsValid(m.now()), nil
}

// GetHold returns the hold record or apperr.ErrHoldNotFound.
func (m *Manager) GetHold(ctx context.Context, holdID string) (*model.SlotHold, error) {
	hold, err := m.store.GetHold(ctx, holdID)
	if err != nil {
		return nil, apperr.Store("hold lookup failed", err)
	}
	if hold == nil {
		return nil, apperr.ErrHoldNotFound
	}
	return hold, nil
}

// ReopenBookedSlot returns a durably booked slot to the pool after the
// booking was cancelled or marked no-show.
func (m *Manager) ReopenBookedSlot(ctx context.Context, slot model.SlotKey, bookingID string) error {
	row, err := m.cache.GetCacheRow(ctx, slot)
	if err != nil {
		return apperr.Store("cache lookup failed", err)
	}
	if row != nil && row.BookingID != "" && row.BookingID != bookingID {
		return nil
	}
	if row != nil && row.BookingID == "" && row.IsHeld(m.now()) {
		return nil
	}

	err = m.cache.UpsertCacheRow(ctx, &model.AvailabilityCacheRow{
		ProviderID:  slot.ProviderID,
		Date:        slot.Date,
		StartTime:   slot.StartTime,
		IsAvailable: true,
		UpdatedAt:   m.now(),
	})
	if err != nil {
		return apperr.Store("cache update failed", err)
	}
	return nil
}

func (m *Manager) publish(eventType string, hold *model.SlotHold, reason, bookingID string) {
	err := m.events.PublishJSON(eventType, HoldEvent{
		HoldID:     hold.ID,
		ProviderID: hold.ProviderID,
		Date:       hold.Date,
		StartTime:  hold.StartTime,
		Identity:   hold.Identity.String(),
		Reason:     reason,
		BookingID:  bookingID,
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("event", eventType).Msg("event handler failed")
	}
}
