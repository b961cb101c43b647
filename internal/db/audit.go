package db

import (
	"context"
	"fmt"
	"time"

	"slotkeeper/internal/events"
)

// AuditEvents lists the event types persisted by SubscribeAudit.
var AuditEvents = []string{
	events.HoldPlaced,
	events.HoldReleased,
	events.HoldConverted,
	events.HoldExpired,
	events.BookingCreated,
	events.BookingStatusChanged,
}

// AuditEntry is one persisted slot event.
type AuditEntry struct {
	ID        int64
	EventType string
	Payload   string
	CreatedAt time.Time
}

// RecordEvent appends an event to the audit trail.
func (db *DB) RecordEvent(ctx context.Context, ev events.Event) error {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = db.now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO slot_audit (event_type, payload, created_at) VALUES (?, ?, ?)`,
		ev.Type, string(ev.Payload), createdAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

// SubscribeAudit persists every slot event published on bus. Write failures
// are logged; they never fail the publisher.
func (db *DB) SubscribeAudit(bus *events.EventBus) {
	for _, t := range AuditEvents {
		bus.Subscribe(t, func(ev events.Event) error {
			if err := db.RecordEvent(context.Background(), ev); err != nil {
				db.logger.Warn().Err(err).Str("event", ev.Type).Msg("audit write failed")
			}
			return nil
		})
	}
}

// ListAuditEvents returns events created at or after since, oldest first.
func (db *DB) ListAuditEvents(ctx context.Context, since time.Time, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, event_type, payload, created_at
		FROM slot_audit
		WHERE created_at >= ?
		ORDER BY id
		LIMIT ?`, since.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ms int64
		if err := rows.Scan(&e.ID, &e.EventType, &e.Payload, &ms); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(ms).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteAuditBefore drops audit rows older than cutoff.
func (db *DB) DeleteAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM slot_audit WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete audit events: %w", err)
	}
	return res.RowsAffected()
}
