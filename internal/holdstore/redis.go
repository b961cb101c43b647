package holdstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"slotkeeper/internal/model"
)

// claimSlot admits a claim while the slot has room. Claims are scored by
// their expiry in unix ms so lapsed ones can be trimmed first.
// KEYS[1] claim set; ARGV: now, expiresAt, capacity, holdID, ttl ms.
var claimSlot = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZSCORE', KEYS[1], ARGV[4]) then
  return 1
end
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
if tonumber(ARGV[5]) > redis.call('PTTL', KEYS[1]) then
  redis.call('PEXPIRE', KEYS[1], ARGV[5])
end
return 1
`)

// RedisStore implements Store on a Redis-compatible server.
type RedisStore struct {
	client    redis.UniversalClient
	scanCount int64
}

// NewRedisStore wraps an existing client. The caller owns the client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, scanCount: 200}
}

// Connect dials Redis and verifies the connection with a ping.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisStore) ClaimCapacity(ctx context.Context, slot model.SlotKey, holdID string, capacity int, now, expiresAt time.Time) (bool, error) {
	key := CapacityKey(slot)
	ttl := expiresAt.Sub(now).Milliseconds()
	if ttl <= 0 {
		return false, fmt.Errorf("claim %s: expiry %s is not after %s", key, expiresAt, now)
	}

	args := []interface{}{
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(expiresAt.UnixMilli(), 10),
		capacity,
		holdID,
		strconv.FormatInt(ttl, 10),
	}
	n, err := claimSlot.Run(ctx, s.client, []string{key}, args...).Int64()
	if err != nil {
		return false, fmt.Errorf("redis claim %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *RedisStore) ReleaseCapacity(ctx context.Context, slot model.SlotKey, holdID string) (bool, error) {
	key := CapacityKey(slot)
	n, err := s.client.ZRem(ctx, key, holdID).Result()
	if err != nil {
		return false, fmt.Errorf("redis zrem %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Capacity(ctx context.Context, slot model.SlotKey, now time.Time) (int64, error) {
	key := CapacityKey(slot)
	n, err := s.client.ZCount(ctx, key, "("+strconv.FormatInt(now.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcount %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) PutHold(ctx context.Context, hold *model.SlotHold, ttl time.Duration) error {
	payload, err := json.Marshal(hold)
	if err != nil {
		return fmt.Errorf("marshal hold %s: %w", hold.ID, err)
	}
	if err := s.client.Set(ctx, HoldKey(hold.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", HoldKey(hold.ID), err)
	}
	return nil
}

func (s *RedisStore) GetHold(ctx context.Context, holdID string) (*model.SlotHold, error) {
	raw, err := s.client.Get(ctx, HoldKey(holdID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", HoldKey(holdID), err)
	}

	var hold model.SlotHold
	if err := json.Unmarshal(raw, &hold); err != nil {
		return nil, fmt.Errorf("unmarshal hold %s: %w", holdID, err)
	}
	return &hold, nil
}

func (s *RedisStore) UpdateHold(ctx context.Context, hold *model.SlotHold) (bool, error) {
	payload, err := json.Marshal(hold)
	if err != nil {
		return false, fmt.Errorf("marshal hold %s: %w", hold.ID, err)
	}

	err = s.client.SetArgs(ctx, HoldKey(hold.ID), payload, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis set %s: %w", HoldKey(hold.ID), err)
	}
	return true, nil
}

func (s *RedisStore) DeleteHold(ctx context.Context, holdID string) (bool, error) {
	n, err := s.client.Del(ctx, HoldKey(holdID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis delete %s: %w", HoldKey(holdID), err)
	}
	return n == 1, nil
}

func (s *RedisStore) AddIdentityHold(ctx context.Context, identity model.Identity, holdID string, ttl time.Duration) error {
	key := IdentityKey(identity)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, holdID)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis sadd %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) RemoveIdentityHold(ctx context.Context, identity model.Identity, holdID string) error {
	key := IdentityKey(identity)
	if err := s.client.SRem(ctx, key, holdID).Err(); err != nil {
		return fmt.Errorf("redis srem %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) IdentityHolds(ctx context.Context, identity model.Identity) ([]string, error) {
	key := IdentityKey(identity)
	ids, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", key, err)
	}
	return ids, nil
}

func (s *RedisStore) ScanHoldIDs(ctx context.Context) ([]string, error) {
	var ids []string
	seen := make(map[string]struct{})
	iter := s.client.Scan(ctx, 0, holdPrefix+"*", s.scanCount).Iterator()
	for iter.Next(ctx) {
		// SCAN may return a key more than once.
		id := strings.TrimPrefix(iter.Val(), holdPrefix)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s*: %w", holdPrefix, err)
	}
	return ids, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
