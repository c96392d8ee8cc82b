// Package kv wraps the redis cache and pub/sub bus. The bus is a projection
// and a hint channel, never the source of truth: publishes are best-effort
// and no caller may depend on a subscriber having seen anything.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Message is one delivery from a subscription.
type Message struct {
	Channel string
	Payload []byte
}

// KV holds separate clients for general ops and publishing so a slow command
// pipeline never delays publishes, plus per-subscription clients created on
// demand to keep subscribers isolated from each other.
type KV struct {
	ops *redis.Client
	pub *redis.Client
	opt *redis.Options
	log *zap.Logger
}

// New dials redis and verifies the connection.
func New(ctx context.Context, url string, log *zap.Logger) (*KV, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse kv url: %w", err)
	}
	k := &KV{
		ops: redis.NewClient(opt),
		pub: redis.NewClient(opt),
		opt: opt,
		log: log.Named("kv"),
	}
	if err := k.ops.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("kv ping: %w", err)
	}
	return k, nil
}

func (k *KV) Close() {
	_ = k.ops.Close()
	_ = k.pub.Close()
}

// SetJSON stores v as JSON under key with an optional TTL (0 keeps forever).
func (k *KV) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return k.ops.Set(ctx, key, raw, ttl).Err()
}

// GetJSON loads key into dst; the bool is false when the key is absent.
func (k *KV) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := k.ops.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// PushCapped prepends v to a list, trims it to max entries and refreshes the
// TTL, all in one pipeline.
func (k *KV) PushCapped(ctx context.Context, list string, v any, max int64, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", list, err)
	}
	pipe := k.ops.Pipeline()
	pipe.LPush(ctx, list, raw)
	pipe.LTrim(ctx, list, 0, max-1)
	if ttl > 0 {
		pipe.Expire(ctx, list, ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Enqueue appends v to a work queue list.
func (k *KV) Enqueue(ctx context.Context, queue string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", queue, err)
	}
	return k.ops.LPush(ctx, queue, raw).Err()
}

func (k *KV) ZAdd(ctx context.Context, set string, score float64, member string) error {
	return k.ops.ZAdd(ctx, set, redis.Z{Score: score, Member: member}).Err()
}

// ZRangeByScore returns members with scores in [min, max]; min and max use
// redis score syntax ("-inf", "+inf", "(1700000000").
func (k *KV) ZRangeByScore(ctx context.Context, set, min, max string) ([]string, error) {
	return k.ops.ZRangeByScore(ctx, set, &redis.ZRangeBy{Min: min, Max: max}).Result()
}

// ZRemRangeByScore drops members with scores in [min, max].
func (k *KV) ZRemRangeByScore(ctx context.Context, set, min, max string) error {
	return k.ops.ZRemRangeByScore(ctx, set, min, max).Err()
}

func (k *KV) HSet(ctx context.Context, key string, fields map[string]any) error {
	return k.ops.HSet(ctx, key, fields).Err()
}

func (k *KV) SAdd(ctx context.Context, key string, members ...string) error {
	vals := make([]any, len(members))
	for i, m := range members {
		vals[i] = m
	}
	return k.ops.SAdd(ctx, key, vals...).Err()
}

func (k *KV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return k.ops.Expire(ctx, key, ttl).Err()
}

// Publish fires v at a channel. Failures are logged and swallowed; the bus
// is advisory.
func (k *KV) Publish(ctx context.Context, channel string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		k.log.Warn("publish marshal failed", zap.String("channel", channel), zap.Error(err))
		return
	}
	if err := k.pub.Publish(ctx, channel, raw).Err(); err != nil {
		k.log.Warn("publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

// Subscribe opens a dedicated connection for the given channels and streams
// deliveries until ctx ends. The underlying client reconnects and
// resubscribes transparently; a slow consumer here never blocks publishers.
func (k *KV) Subscribe(ctx context.Context, channels ...string) <-chan Message {
	client := redis.NewClient(k.opt)
	ps := client.Subscribe(ctx, channels...)
	out := make(chan Message, 256)

	go func() {
		defer close(out)
		defer func() { _ = client.Close() }()
		defer func() { _ = ps.Close() }()

		in := ps.Channel(redis.WithChannelSize(256))
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: m.Channel, Payload: []byte(m.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
