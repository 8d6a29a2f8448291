package fixstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ultra-tracker/internal/race"
)

const (
	DefaultKey      = "ultra-tracker:latest-fix"
	maxWatchRetries = 100
)

// Redis shares the latest fix between tracker and API processes.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// Connect returns nil when addr is empty.
func Connect(addr, password string) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
}

// NewRedis stores the fix under key; a zero ttl keeps it forever.
func NewRedis(client *redis.Client, key string, ttl time.Duration) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{client: client, key: key, ttl: ttl}
}

func (r *Redis) Put(ctx context.Context, fix race.LiveFix) (bool, error) {
	payload, err := json.Marshal(fix)
	if err != nil {
		return false, fmt.Errorf("marshal fix: %w", err)
	}
	accepted := false
	txf := func(tx *redis.Tx) error {
		current, err := r.read(ctx, tx)
		if err != nil {
			return err
		}
		if current != nil && fix.CapturedAt.Before(current.CapturedAt) {
			accepted = false
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.key, payload, r.ttl)
			return nil
		})
		accepted = err == nil
		return err
	}
	// optimistic lock: every round lets at least one writer through
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err = r.client.Watch(ctx, txf, r.key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return false, fmt.Errorf("store fix: %w", err)
	}
	return accepted, nil
}

func (r *Redis) Latest(ctx context.Context) (*race.LiveFix, error) {
	return r.read(ctx, r.client)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *Redis) read(ctx context.Context, c getter) (*race.LiveFix, error) {
	raw, err := c.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read fix: %w", err)
	}
	var fix race.LiveFix
	if err := json.Unmarshal(raw, &fix); err != nil {
		return nil, fmt.Errorf("decode fix: %w", err)
	}
	return &fix, nil
}
