package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/ferdagainagainagain/Smartcrowd/telemetry"
)

const (
	DefaultPrefix   = "smartcrowd"
	DefaultStateTTL = 30 * time.Second
	alertDedupTTL   = 5 * time.Minute
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	StateTTL time.Duration
}

// RedisSink publishes ticks and alerts on pub/sub channels and keeps the
// latest state of each room in a short-lived hash.
type RedisSink struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     4,
		MinIdleConns: 1,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "connect to redis at %s", cfg.Addr)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}
	return &RedisSink{client: client, prefix: cfg.Prefix, ttl: cfg.StateTTL}, nil
}

func (r *RedisSink) StateKey(room string) string {
	return fmt.Sprintf("%s:room:%s:state", r.prefix, room)
}

func (r *RedisSink) TelemetryChannel(room string) string {
	return fmt.Sprintf("%s:room:%s:telemetry", r.prefix, room)
}

func (r *RedisSink) AlertChannel(room string) string {
	return fmt.Sprintf("%s:room:%s:alerts", r.prefix, room)
}

func (r *RedisSink) WriteTick(ctx context.Context, t telemetry.Tick) error {
	payload, err := FormatTick(t)
	if err != nil {
		return errors.Wrap(err, "marshal tick")
	}
	key := r.StateKey(t.Room)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, stateFields(t))
	pipe.Expire(ctx, key, r.ttl)
	pipe.Publish(ctx, r.TelemetryChannel(t.Room), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis pipeline failed")
	}
	return nil
}

// WriteAlert publishes an activation once per alert ID.
func (r *RedisSink) WriteAlert(ctx context.Context, room string, a telemetry.AlertState) error {
	if a.ID != "" {
		key := fmt.Sprintf("%s:alert:%s", r.prefix, a.ID)
		fresh, err := r.client.SetNX(ctx, key, "1", alertDedupTTL).Result()
		if err != nil {
			return errors.Wrap(err, "alert dedup")
		}
		if !fresh {
			return nil
		}
	}
	payload, err := FormatAlert(room, a)
	if err != nil {
		return errors.Wrap(err, "marshal alert")
	}
	return r.client.Publish(ctx, r.AlertChannel(room), payload).Err()
}

func (r *RedisSink) Close() error {
	return r.client.Close()
}
