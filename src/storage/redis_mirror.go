package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"market-stream/src/logger"
	"market-stream/src/models"
	"market-stream/src/snapshot"

	"github.com/redis/go-redis/v9"
)

// SnapshotMirror keeps a copy of the snapshot cache in Redis so a restarted
// process can serve the last known quotes before the stream catches up.
type SnapshotMirror struct {
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
	Logger    *logger.Logger
}

// NewRedisClient connects and pings. An empty address disables the mirror.
func NewRedisClient(ctx context.Context, cfg models.MRedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// NewSnapshotMirror defaults to a one day TTL and the "snapshot" namespace.
func NewSnapshotMirror(rdb *redis.Client, cfg models.MRedisConfig, log *logger.Logger) *SnapshotMirror {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = "snapshot"
	}
	return &SnapshotMirror{rdb: rdb, ttl: ttl, namespace: ns, Logger: log}
}

func (m *SnapshotMirror) key(ticker string) string {
	return m.namespace + ":" + strings.ToUpper(ticker)
}

func (m *SnapshotMirror) indexKey() string {
	return m.namespace + ":index"
}

// -----------------------------------------------------------------------------

// Save writes snapshots and records their tickers in the index set.
func (m *SnapshotMirror) Save(ctx context.Context, snaps []models.MSnapshot) error {
	if m.rdb == nil || len(snaps) == 0 {
		return nil
	}
	tickers := make([]interface{}, 0, len(snaps))
	for _, s := range snaps {
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode snapshot %s: %w", s.Ticker, err)
		}
		if err := m.rdb.Set(ctx, m.key(s.Ticker), string(b), m.ttl).Err(); err != nil {
			return err
		}
		tickers = append(tickers, strings.ToUpper(s.Ticker))
	}
	return m.rdb.SAdd(ctx, m.indexKey(), tickers...).Err()
}

// Remove deletes mirrored snapshots, e.g. after a symbol is evicted.
func (m *SnapshotMirror) Remove(ctx context.Context, tickers ...string) error {
	if m.rdb == nil || len(tickers) == 0 {
		return nil
	}
	keys := make([]string, len(tickers))
	members := make([]interface{}, len(tickers))
	for i, t := range tickers {
		keys[i] = m.key(t)
		members[i] = strings.ToUpper(t)
	}
	if err := m.rdb.Del(ctx, keys...).Err(); err != nil {
		return err
	}
	return m.rdb.SRem(ctx, m.indexKey(), members...).Err()
}

// Load reads every mirrored snapshot. Expired or corrupt entries are skipped.
func (m *SnapshotMirror) Load(ctx context.Context) ([]models.MSnapshot, error) {
	if m.rdb == nil {
		return nil, nil
	}
	tickers, err := m.rdb.SMembers(ctx, m.indexKey()).Result()
	if err != nil {
		return nil, err
	}

	var out []models.MSnapshot
	for _, t := range tickers {
		b, err := m.rdb.Get(ctx, m.key(t)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return out, err
		}
		var s models.MSnapshot
		if err := json.Unmarshal(b, &s); err != nil {
			m.Logger.Warning("Dropping corrupt mirrored snapshot %s: %v", t, err)
			_ = m.rdb.Del(ctx, m.key(t)).Err()
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

// Run mirrors coalesced cache updates until ctx is done.
func (m *SnapshotMirror) Run(ctx context.Context, co *snapshot.Coalescer, cache *snapshot.Cache) {
	if m.rdb == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-co.C():
			snaps := cache.Batch(co.Drain())
			if err := m.Save(ctx, snaps); err != nil && ctx.Err() == nil {
				m.Logger.Warning("Failed to mirror %d snapshots: %v", len(snaps), err)
			}
		}
	}
}
