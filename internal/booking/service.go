package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"slotkeeper/internal/apperr"
	"slotkeeper/internal/availability"
	"slotkeeper/internal/concurrency"
	"slotkeeper/internal/events"
	"slotkeeper/internal/model"
)

// Reasons for conflicts raised by the service itself.
const (
	ReasonHoldInvalid  = "Hold expired or not found"
	ReasonHoldMismatch = "Hold does not match the requested slot"
)

// Repository persists bookings.
type Repository interface {
	// CreateBooking inserts b after a transactional overlap check.
	CreateBooking(ctx context.Context, b *model.Booking) error
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	// UpdateBookingStatus sets to only while the stored status is still from.
	UpdateBookingStatus(ctx context.Context, id string, from, to model.BookingStatus) error
}

// HoldManager is the slice of the concurrency manager the service uses.
type HoldManager interface {
	PlaceHold(ctx context.Context, req concurrency.PlaceHoldRequest) (*concurrency.HoldResult, error)
	GetHold(ctx context.Context, holdID string) (*model.SlotHold, error)
	ReleaseHold(ctx context.Context, holdID string, reason concurrency.ReleaseReason) (bool, error)
	ConvertHoldToBooking(ctx context.Context, holdID, bookingID string) (bool, error)
	ReopenBookedSlot(ctx context.Context, slot model.SlotKey, bookingID string) error
}

// CreateRequest asks for a booking, optionally consuming an existing hold.
type CreateRequest struct {
	ProviderID     string
	ServiceID      string
	Date           string // "2006-01-02"
	StartTime      string
	EndTime        string
	CustomerID     string
	GuestSessionID string
	HoldID         string // placed by the caller earlier; empty to lock now
	Notes          string
	AwaitPayment   bool // start in payment_pending instead of pending
}

// StatusChange is the payload of booking.status_changed events.
type StatusChange struct {
	BookingID  string              `json:"booking_id"`
	ProviderID string              `json:"provider_id"`
	From       model.BookingStatus `json:"from"`
	To         model.BookingStatus `json:"to"`
}

// Service implements booking creation and status updates.
type Service struct {
	repo   Repository
	holds  HoldManager
	fsm    *FSM
	events events.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new booking service.
func NewService(repo Repository, holds HoldManager, pub events.Publisher, logger zerolog.Logger) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		repo:   repo,
		holds:  holds,
		fsm:    NewFSM(),
		events: pub,
		logger: logger.With().Str("component", "booking").Logger(),
		now:    time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateBooking locks the slot (or verifies the caller's hold), inserts the
// booking and converts the hold. Lock failures return *ConflictError.
func (s *Service) CreateBooking(ctx context.Context, req CreateRequest) (*model.Booking, error) {
	identity, ok := model.IdentityFrom(req.CustomerID, req.GuestSessionID)
	if !ok {
		return nil, apperr.Validation("customer id or guest session id is required")
	}
	date, err := model.ParseDate(req.Date, time.UTC)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	// Rows, holds and cache keys all use the canonical HH:MM spelling.
	if _, _, err := model.ParseSpan(req.StartTime, req.EndTime); err != nil {
		return nil, apperr.Validation(err.Error())
	}

	holdID, placed, err := s.lock(ctx, req, identity)
	if err != nil {
		return nil, err
	}

	status := model.BookingPending
	if req.AwaitPayment {
		status = model.BookingPaymentPending
	}
	b := &model.Booking{
		ID:             uuid.NewString(),
		ProviderID:     req.ProviderID,
		ServiceID:      req.ServiceID,
		CustomerID:     identity.CustomerID(),
		GuestSessionID: identity.GuestSessionID(),
		HoldID:         holdID,
		BookingDate:    date,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		Status:         status,
		Notes:          req.Notes,
	}

	if err := s.repo.CreateBooking(ctx, b); err != nil {
		if placed {
			s.releaseQuietly(ctx, holdID)
		}
		if errors.Is(err, apperr.ErrSlotUnavailable) {
			return nil, &ConflictError{Reason: availability.ReasonBooked}
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	converted, err := s.holds.ConvertHoldToBooking(ctx, holdID, b.ID)
	if err != nil || !converted {
		// The hold lapsed between insert and hand-off; undo the booking.
		if uerr := s.repo.UpdateBookingStatus(ctx, b.ID, b.Status, model.BookingCancelled); uerr != nil {
			s.logger.Error().Err(uerr).Str("booking_id", b.ID).Msg("cancel unconverted booking failed")
		}
		if placed {
			s.releaseQuietly(ctx, holdID)
		}
		if err != nil {
			return nil, err
		}
		return nil, &ConflictError{Reason: ReasonHoldInvalid}
	}

	s.publish(events.BookingCreated, b)
	s.logger.Info().Str("booking_id", b.ID).Str("hold_id", holdID).Str("provider_id", b.ProviderID).Msg("booking created")
	return b, nil
}

// lock returns the hold backing the booking and whether this call placed it.
func (s *Service) lock(ctx context.Context, req CreateRequest, identity model.Identity) (string, bool, error) {
	if req.HoldID != "" {
		hold, err := s.holds.GetHold(ctx, req.HoldID)
		if errors.Is(err, apperr.ErrHoldNotFound) {
			return "", false, &ConflictError{Reason: ReasonHoldInvalid}
		}
		if err != nil {
			return "", false, err
		}
		if !hold.IsValid(s.now()) {
			return "", false, &ConflictError{Reason: ReasonHoldInvalid}
		}
		if !holdMatches(hold, req, identity) {
			return "", false, &ConflictError{Reason: ReasonHoldMismatch}
		}
		return hold.ID, false, nil
	}

	res, err := s.holds.PlaceHold(ctx, concurrency.PlaceHoldRequest{
		ProviderID:     req.ProviderID,
		ServiceID:      req.ServiceID,
		Date:           req.Date,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		CustomerID:     req.CustomerID,
		GuestSessionID: req.GuestSessionID,
	})
	if err != nil {
		return "", false, err
	}
	if !res.Success {
		return "", false, &ConflictError{Reason: res.Error, Alternatives: res.AlternativeSlots}
	}
	return res.HoldID, true, nil
}

func holdMatches(h *model.SlotHold, req CreateRequest, identity model.Identity) bool {
	return h.ProviderID == req.ProviderID &&
		h.Date == req.Date &&
		h.StartTime == req.StartTime &&
		h.EndTime == req.EndTime &&
		h.Identity == identity
}

func (s *Service) releaseQuietly(ctx context.Context, holdID string) {
	if _, err := s.holds.ReleaseHold(ctx, holdID, concurrency.ReleaseManual); err != nil {
		s.logger.Warn().Err(err).Str("hold_id", holdID).Msg("release after failed insert")
	}
}

// GetBooking returns a booking by id.
func (s *Service) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

// UpdateBookingStatus moves a booking to status to. Transitions outside the
// table are rejected; cancellation and no-show reopen the slot.
func (s *Service) UpdateBookingStatus(ctx context.Context, id string, to model.BookingStatus) (*model.Booking, error) {
	if !s.fsm.Known(to) {
		return nil, apperr.Validation(fmt.Sprintf("unknown booking status %q", to))
	}

	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	from := b.Status
	if !s.fsm.CanTransition(from, to) {
		return nil, apperr.Clone(apperr.ErrInvalidTransition, fmt.Sprintf("cannot move booking from %s to %s", from, to))
	}

	if err := s.repo.UpdateBookingStatus(ctx, id, from, to); err != nil {
		return nil, err
	}
	b.Status = to
	b.Version++

	if releasesSlot(to) {
		slot := model.SlotKey{ProviderID: b.ProviderID, Date: model.DateKey(b.BookingDate), StartTime: b.StartTime}
		if err := s.holds.ReopenBookedSlot(ctx, slot, b.ID); err != nil {
			s.logger.Error().Err(err).Str("booking_id", b.ID).Str("slot", slot.String()).Msg("reopen slot failed")
			return b, err
		}
	}

	err = s.events.PublishJSON(events.BookingStatusChanged, StatusChange{
		BookingID:  b.ID,
		ProviderID: b.ProviderID,
		From:       from,
		To:         to,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("status change event handler failed")
	}
	s.logger.Info().Str("booking_id", b.ID).Str("from", string(from)).Str("to", string(to)).Msg("booking status changed")
	return b, nil
}

func (s *Service) publish(eventType string, b *model.Booking) {
	if err := s.events.PublishJSON(eventType, b); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("event handler failed")
	}
}
