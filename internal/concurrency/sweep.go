package concurrency

import (
	"context"
	"time"

	"slotkeeper/internal/apperr"
	"slotkeeper/internal/metrics"
	"slotkeeper/internal/model"
)

// Pacer throttles releases within one sweep. *rate.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// CleanupExpiredHolds releases every hold whose window has passed.
// It is safe to run concurrently with itself and with ReleaseHold.
func (m *Manager) CleanupExpiredHolds(ctx context.Context) (int, error) {
	return m.Sweep(ctx, nil)
}

// Sweep is CleanupExpiredHolds with optional pacing. Per-hold failures are
// logged and skipped; the next sweep retries them.
func (m *Manager) Sweep(ctx context.Context, pace Pacer) (int, error) {
	start := time.Now()
	defer func() { metrics.ObserveSweep(time.Since(start)) }()

	ids, err := m.store.ScanHoldIDs(ctx)
	if err != nil {
		return 0, apperr.Store("hold scan failed", err)
	}

	now := m.now()
	released := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return released, err
		}

		hold, err := m.store.GetHold(ctx, id)
		if err != nil {
			m.logger.Warn().Err(err).Str("hold_id", id).Msg("sweep: lookup failed")
			continue
		}
		if hold == nil || !hold.IsExpired(now) {
			continue
		}

		if pace != nil {
			if err := pace.Wait(ctx); err != nil {
				return released, err
			}
		}

		reason := ReleaseExpired
		if hold.Status == model.HoldConverted {
			// Conversion finished its hand-off but the release never landed.
			reason = ReleaseConverted
		}
		ok, err := m.release(ctx, id, reason, func(h *model.SlotHold) bool {
			return h.IsExpired(now)
		})
		if err != nil {
			m.logger.Warn().Err(err).Str("hold_id", id).Msg("sweep: release failed")
			continue
		}
		if ok {
			released++
		}
	}

	if n, err := m.cache.ReopenExpiredLocks(ctx, now); err != nil {
		m.logger.Warn().Err(err).Msg("sweep: reopening lapsed cache locks failed")
	} else if n > 0 {
		m.logger.Debug().Int("rows", n).Msg("sweep: reopened lapsed cache locks")
	}

	metrics.AddSweepExpired(released)
	return released, nil
}
