// Package holdstore is the TTL-capable key/value substrate for slot holds:
// per-slot capacity claims, hold records and per-identity hold sets.
package holdstore

import (
	"context"
	"time"

	"slotkeeper/internal/model"
)

const (
	holdPrefix     = "slothold:rec:"
	capacityPrefix = "slothold:cap:"
	identityPrefix = "slothold:ident:"
)

// Store is the contract the concurrency manager needs from the hold store.
// Every method is a single atomic operation against the backing store.
type Store interface {
	// ClaimCapacity records holdID as a claim on slot when fewer than
	// capacity claims are unexpired at now. The claim lapses at expiresAt.
	// Lapsed claims are dropped in the same step.
	ClaimCapacity(ctx context.Context, slot model.SlotKey, holdID string, capacity int, now, expiresAt time.Time) (bool, error)
	// ReleaseCapacity drops holdID's claim. It reports false when the claim
	// is already gone; other holds' claims are never touched.
	ReleaseCapacity(ctx context.Context, slot model.SlotKey, holdID string) (bool, error)
	// Capacity returns the number of claims unexpired at now.
	Capacity(ctx context.Context, slot model.SlotKey, now time.Time) (int64, error)

	PutHold(ctx context.Context, hold *model.SlotHold, ttl time.Duration) error
	// GetHold returns nil, nil when the record is gone.
	GetHold(ctx context.Context, holdID string) (*model.SlotHold, error)
	// UpdateHold overwrites an existing record keeping its TTL.
	UpdateHold(ctx context.Context, hold *model.SlotHold) (bool, error)
	// DeleteHold reports true only to the caller that removed the record.
	DeleteHold(ctx context.Context, holdID string) (bool, error)

	AddIdentityHold(ctx context.Context, identity model.Identity, holdID string, ttl time.Duration) error
	RemoveIdentityHold(ctx context.Context, identity model.Identity, holdID string) error
	IdentityHolds(ctx context.Context, identity model.Identity) ([]string, error)

	// ScanHoldIDs lists live hold ids. Used by the sweep only.
	ScanHoldIDs(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

// HoldKey is the record key for a hold id.
func HoldKey(holdID string) string {
	return holdPrefix + holdID
}

// CapacityKey is the claim-set key for a slot.
func CapacityKey(slot model.SlotKey) string {
	return capacityPrefix + slot.String()
}

// IdentityKey is the hold-set key for an identity.
func IdentityKey(identity model.Identity) string {
	return identityPrefix + string(identity.Kind) + ":" + identity.ID
}
