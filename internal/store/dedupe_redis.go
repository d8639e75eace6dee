package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDedupe keeps the subscription notifier's sent-set in redis so warnings
// survive a process restart. Wiring falls back to the in-memory set when
// redis is not configured.
type RedisDedupe struct {
	client *redis.Client
}

func NewRedisDedupe(addr, password string, db int) (*RedisDedupe, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisDedupe{client: rdb}, nil
}

func dedupeKey(tenantID string) string {
	return "subnotify:" + tenantID
}

// SeenMark records (tenant, daysLeft) and reports whether it was already
// present. The key expires after four days, past the largest threshold.
func (r *RedisDedupe) SeenMark(ctx context.Context, tenantID string, daysLeft int) (bool, error) {
	key := dedupeKey(tenantID)

	pipe := r.client.Pipeline()
	addCmd := pipe.SAdd(ctx, key, daysLeft)
	pipe.Expire(ctx, key, 96*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return addCmd.Val() == 0, nil
}

// Clear drops a tenant's sent-set; called when the subscription is extended.
func (r *RedisDedupe) Clear(ctx context.Context, tenantID string) error {
	return r.client.Del(ctx, dedupeKey(tenantID)).Err()
}
