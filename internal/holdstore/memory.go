package holdstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"slotkeeper/internal/model"
)

// memClaims maps hold id to claim expiry.
type memClaims struct {
	members   map[string]time.Time
	expiresAt time.Time
}

func (c *memClaims) prune(now time.Time) {
	for id, exp := range c.members {
		if !now.Before(exp) {
			delete(c.members, id)
		}
	}
}

type memHold struct {
	hold      model.SlotHold
	expiresAt time.Time
}

type memSet struct {
	members   map[string]struct{}
	expiresAt time.Time
}

// MemoryStore is an in-process Store with the same TTL semantics as Redis.
// Expired keys are dropped lazily on access.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	claims   map[string]*memClaims
	holds    map[string]*memHold
	sets     map[string]*memSet
}

// NewMemoryStore creates an empty store. A nil clock means time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:      now,
		claims:   make(map[string]*memClaims),
		holds:    make(map[string]*memHold),
		sets:     make(map[string]*memSet),
	}
}

func (m *MemoryStore) live(expiresAt time.Time) bool {
	return expiresAt.IsZero() || m.now().Before(expiresAt)
}

func (m *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemoryStore) claimSet(key string) *memClaims {
	c, ok := m.claims[key]
	if !ok {
		return nil
	}
	if !m.live(c.expiresAt) {
		delete(m.claims, key)
		return nil
	}
	return c
}

func (m *MemoryStore) record(holdID string) *memHold {
	h, ok := m.holds[holdID]
	if !ok {
		return nil
	}
	if !m.live(h.expiresAt) {
		delete(m.holds, holdID)
		return nil
	}
	return h
}

func (m *MemoryStore) set(key string) *memSet {
	s, ok := m.sets[key]
	if !ok {
		return nil
	}
	if !m.live(s.expiresAt) {
		delete(m.sets, key)
		return nil
	}
	return s
}

func (m *MemoryStore) ClaimCapacity(_ context.Context, slot model.SlotKey, holdID string, capacity int, now, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := CapacityKey(slot)
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return false, fmt.Errorf("claim %s: expiry %s is not after %s", key, expiresAt, now)
	}

	c := m.claimSet(key)
	if c == nil {
		c = &memClaims{members: make(map[string]time.Time)}
		m.claims[key] = c
	}
	c.prune(now)
	if _, ok := c.members[holdID]; ok {
		return true, nil
	}
	if len(c.members) >= capacity {
		return false, nil
	}
	c.members[holdID] = expiresAt
	if deadline := m.deadline(ttl); deadline.After(c.expiresAt) {
		c.expiresAt = deadline
	}
	return true, nil
}

func (m *MemoryStore) ReleaseCapacity(_ context.Context, slot model.SlotKey, holdID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := CapacityKey(slot)
	c := m.claimSet(key)
	if c == nil {
		return false, nil
	}
	if _, ok := c.members[holdID]; !ok {
		return false, nil
	}
	delete(c.members, holdID)
	if len(c.members) == 0 {
		delete(m.claims, key)
	}
	return true, nil
}

func (m *MemoryStore) Capacity(_ context.Context, slot model.SlotKey, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.claimSet(CapacityKey(slot))
	if c == nil {
		return 0, nil
	}
	var n int64
	for _, exp := range c.members {
		if now.Before(exp) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) PutHold(_ context.Context, hold *model.SlotHold, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.holds[hold.ID] = &memHold{hold: *hold, expiresAt: m.deadline(ttl)}
	return nil
}

func (m *MemoryStore) GetHold(_ context.Context, holdID string) (*model.SlotHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.record(holdID)
	if h == nil {
		return nil, nil
	}
	hold := h.hold
	return &hold, nil
}

func (m *MemoryStore) UpdateHold(_ context.Context, hold *model.SlotHold) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.record(hold.ID)
	if h == nil {
		return false, nil
	}
	h.hold = *hold
	return true, nil
}

func (m *MemoryStore) DeleteHold(_ context.Context, holdID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.record(holdID) == nil {
		return false, nil
	}
	delete(m.holds, holdID)
	return true, nil
}

func (m *MemoryStore) AddIdentityHold(_ context.Context, identity model.Identity, holdID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := IdentityKey(identity)
	s := m.set(key)
	if s == nil {
		s = &memSet{members: make(map[string]struct{})}
		m.sets[key] = s
	}
	s.members[holdID] = struct{}{}
	s.expiresAt = m.deadline(ttl)
	return nil
}

func (m *MemoryStore) RemoveIdentityHold(_ context.Context, identity model.Identity, holdID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := IdentityKey(identity)
	s := m.set(key)
	if s == nil {
		return nil
	}
	delete(s.members, holdID)
	if len(s.members) == 0 {
		delete(m.sets, key)
	}
	return nil
}

func (m *MemoryStore) IdentityHolds(_ context.Context, identity model.Identity) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.set(IdentityKey(identity))
	if s == nil {
		return nil, nil
	}
	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) ScanHoldIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.holds))
	for id := range m.holds {
		if m.record(id) != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
