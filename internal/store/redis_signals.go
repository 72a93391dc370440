package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSignals is a SignalStore keeping one list per recipient mailbox.
// Mailboxes expire after ttl, so PurgeSignals has nothing to do.
type RedisSignals struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSignals(redisURL string, ttl time.Duration) (*RedisSignals, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisSignalsWithClient(client, ttl), nil
}

func NewRedisSignalsWithClient(client *redis.Client, ttl time.Duration) *RedisSignals {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisSignals{client: client, prefix: "signals:", ttl: ttl}
}

func (r *RedisSignals) key(sessionID, to string) string {
	return r.prefix + sessionID + ":" + to
}

func (r *RedisSignals) PutSignal(ctx context.Context, sig Signal) error {
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}

	key := r.key(sig.SessionID, sig.To)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return unavailable("put signal", err)
	}
	return nil
}

func (r *RedisSignals) TakeSignals(ctx context.Context, sessionID, to string) ([]Signal, error) {
	key := r.key(sessionID, to)

	var items *redis.StringSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, unavailable("take signals", err)
	}

	raw := items.Val()
	out := make([]Signal, 0, len(raw))
	for _, item := range raw {
		var sig Signal
		if err := json.Unmarshal([]byte(item), &sig); err != nil {
			return nil, fmt.Errorf("unmarshal signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, nil
}

func (r *RedisSignals) PurgeSignals(ctx context.Context, before time.Time) (int, error) {
	return 0, nil
}

func (r *RedisSignals) Close() error {
	return r.client.Close()
}
