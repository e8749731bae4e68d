package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisTTL = 48 * time.Hour

// RedisStore keeps the ledger as one Redis set per day plus a pointer to the current day.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps a Redis client. Keys live under prefix and expire after ttl.
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "navwatch:ledger"
	}
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) dateKey() string {
	return r.prefix + ":date"
}

func (r *RedisStore) setKey(date string) string {
	return r.prefix + ":" + date
}

// LoadLedger reads the current day pointer and its member set.
func (r *RedisStore) LoadLedger(ctx context.Context) (Snapshot, error) {
	date, err := r.client.Get(ctx, r.dateKey()).Result()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("get ledger date: %w", err)
	}

	members, err := r.client.SMembers(ctx, r.setKey(date)).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("list ledger members: %w", err)
	}
	return Snapshot{Date: date, Alerted: members}, nil
}

// SaveLedger rewrites the day's set in a single transaction.
func (r *RedisStore) SaveLedger(ctx context.Context, snap Snapshot) error {
	key := r.setKey(snap.Date)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(snap.Alerted) > 0 {
			members := make([]interface{}, len(snap.Alerted))
			for i, id := range snap.Alerted {
				members[i] = id
			}
			pipe.SAdd(ctx, key, members...)
			pipe.Expire(ctx, key, r.ttl)
		}
		pipe.Set(ctx, r.dateKey(), snap.Date, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

// ClaimAlert adds id to day's set with SADD; the added count tells whether
// this caller won the claim.
func (r *RedisStore) ClaimAlert(ctx context.Context, day, id string) (bool, error) {
	key := r.setKey(day)
	var added *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, key, id)
		pipe.Expire(ctx, key, r.ttl)
		pipe.Set(ctx, r.dateKey(), day, r.ttl)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("claim ledger entry: %w", err)
	}
	return added.Val() == 1, nil
}

// UnclaimAlert removes id from day's set.
func (r *RedisStore) UnclaimAlert(ctx context.Context, day, id string) error {
	if err := r.client.SRem(ctx, r.setKey(day), id).Err(); err != nil {
		return fmt.Errorf("release ledger entry: %w", err)
	}
	return nil
}

var _ SharedStore = (*RedisStore)(nil)
