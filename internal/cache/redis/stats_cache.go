package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantlab/orderflow/internal/domain"
)

// statsTTL bounds how long a stale snapshot survives in the cache; a dead
// engine must not look alive on the dashboard.
const statsTTL = 5 * time.Minute

// StatsCache stores the latest coordinator statistics snapshot per symbol as
// JSON at key "stats:{symbol}", so dashboards and other processes can read
// engine state without a direct connection to it.
type StatsCache struct {
	rdb *redis.Client
}

// NewStatsCache creates a StatsCache backed by the given Client.
func NewStatsCache(c *Client) *StatsCache {
	return &StatsCache{rdb: c.Underlying()}
}

func statsKey(symbol string) string {
	return "stats:" + symbol
}

// SetStats stores the latest snapshot for its symbol.
func (sc *StatsCache) SetStats(ctx context.Context, snap domain.StatsSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal stats %s: %w", snap.Symbol, err)
	}
	if err := sc.rdb.Set(ctx, statsKey(snap.Symbol), data, statsTTL).Err(); err != nil {
		return fmt.Errorf("redis: set stats %s: %w", snap.Symbol, err)
	}
	return nil
}

// GetStats retrieves the latest snapshot for a symbol. It returns
// domain.ErrNotFound when no snapshot exists or it has expired.
func (sc *StatsCache) GetStats(ctx context.Context, symbol string) (domain.StatsSnapshot, error) {
	data, err := sc.rdb.Get(ctx, statsKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.StatsSnapshot{}, domain.ErrNotFound
		}
		return domain.StatsSnapshot{}, fmt.Errorf("redis: get stats %s: %w", symbol, err)
	}
	var snap domain.StatsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.StatsSnapshot{}, fmt.Errorf("redis: parse stats %s: %w", symbol, err)
	}
	return snap, nil
}

// GetAllStats retrieves snapshots for multiple symbols using a pipeline.
// Symbols without a cached snapshot are silently omitted.
func (sc *StatsCache) GetAllStats(ctx context.Context, symbols []string) (map[string]domain.StatsSnapshot, error) {
	if len(symbols) == 0 {
		return map[string]domain.StatsSnapshot{}, nil
	}

	pipe := sc.rdb.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(symbols))
	for _, sym := range symbols {
		cmds[sym] = pipe.Get(ctx, statsKey(sym))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get all stats pipeline: %w", err)
	}

	result := make(map[string]domain.StatsSnapshot, len(symbols))
	for sym, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var snap domain.StatsSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		result[sym] = snap
	}
	return result, nil
}
