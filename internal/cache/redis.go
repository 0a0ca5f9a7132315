// Package cache keeps the latest published record per source in redis so
// other processes can read it without touching postgres.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"gas-price-relay/internal/config"
	"gas-price-relay/internal/stats"
)

// ErrMiss is returned when no snapshot exists for a source.
var ErrMiss = errors.New("cache: no snapshot")

// Latest is the JSON document stored per source.
type Latest struct {
	SourceID   string    `json:"source"`
	CycleID    uuid.UUID `json:"cycle_id"`
	PriceWei   string    `json:"price_wei"`
	HighWei    string    `json:"high_wei"`
	LowWei     string    `json:"low_wei"`
	PriceGwei  string    `json:"price_gwei"`
	ObservedAt time.Time `json:"observed_at"`
}

// FromRecord converts a record into its cached form.
func FromRecord(cycleID uuid.UUID, rec stats.Record) Latest {
	return Latest{
		SourceID:   rec.SourceID,
		CycleID:    cycleID,
		PriceWei:   bigText(rec.Price),
		HighWei:    bigText(rec.High),
		LowWei:     bigText(rec.Low),
		PriceGwei:  stats.Gwei(rec.Price).String(),
		ObservedAt: rec.ObservedAt.UTC(),
	}
}

// Record converts the snapshot back into magnitudes.
func (l Latest) Record() (stats.Record, error) {
	price, ok1 := new(big.Int).SetString(l.PriceWei, 10)
	high, ok2 := new(big.Int).SetString(l.HighWei, 10)
	low, ok3 := new(big.Int).SetString(l.LowWei, 10)
	if !ok1 || !ok2 || !ok3 {
		return stats.Record{}, fmt.Errorf("cache: malformed snapshot for %s", l.SourceID)
	}
	return stats.Record{SourceID: l.SourceID, Price: price, High: high, Low: low, ObservedAt: l.ObservedAt}, nil
}

// Redis stores Latest snapshots with a TTL.
type Redis struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewClient dials redis from configuration and verifies the connection.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedis wraps a redis client.
func NewRedis(client redis.Cmdable, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Key returns the redis key holding a source's snapshot.
func Key(prefix, sourceID string) string {
	return prefix + "latest:" + strings.ToLower(sourceID)
}

// SetLatest stores one snapshot per record in a single pipeline.
func (r *Redis) SetLatest(ctx context.Context, cycleID uuid.UUID, records []stats.Record) error {
	if len(records) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, rec := range records {
		body, err := json.Marshal(FromRecord(cycleID, rec))
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		pipe.Set(ctx, Key(r.prefix, rec.SourceID), body, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set latest snapshots: %w", err)
	}
	return nil
}

// GetLatest reads a source's snapshot.
func (r *Redis) GetLatest(ctx context.Context, sourceID string) (Latest, error) {
	raw, err := r.client.Get(ctx, Key(r.prefix, sourceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Latest{}, ErrMiss
		}
		return Latest{}, fmt.Errorf("get latest snapshot: %w", err)
	}
	return Decode(raw)
}

// Decode parses a stored snapshot.
func Decode(raw []byte) (Latest, error) {
	var l Latest
	if err := json.Unmarshal(raw, &l); err != nil {
		return Latest{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return l, nil
}

func bigText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
