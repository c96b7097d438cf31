// Package persist stores router state across restarts in Redis: per-tier
// EWMA snapshots and token counters under a configurable key prefix. The
// proxy runs fine without it; a missing or unreachable Redis degrades to
// memory-only state.
package persist

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ferryman-dev/ferryman/internal/routing"
	"github.com/ferryman-dev/ferryman/pkg/types"
)

// Store wraps a Redis client with the proxy's key layout. All keys are
// scalar strings:
//
//	{prefix}:ewma:{tier}     EWMA milliseconds (float)
//	{prefix}:samples:{tier}  sample count (int)
//	{prefix}:tokens:{tier}:{kind}  monotonically increasing counters
type Store struct {
	client *redis.Client
	prefix string
}

// Options configures the store connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewStore connects to Redis and verifies the connection with a ping.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "ferryman"
	}
	return &Store{client: client, prefix: prefix}, nil
}

// Close releases the connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) ewmaKey(tier string) string {
	return s.prefix + ":ewma:" + tier
}

func (s *Store) samplesKey(tier string) string {
	return s.prefix + ":samples:" + tier
}

func (s *Store) tokensKey(tier, kind string) string {
	return s.prefix + ":tokens:" + tier + ":" + kind
}

// SaveLatencies writes the tracker snapshot. Cooldown state is deliberately
// not persisted; a restarted proxy should not inherit stale backoff windows.
func (s *Store) SaveLatencies(ctx context.Context, snapshot map[string]routing.TierState) error {
	pipe := s.client.Pipeline()
	for tier, state := range snapshot {
		pipe.Set(ctx, s.ewmaKey(tier), strconv.FormatFloat(state.EwmaMS, 'f', -1, 64), 0)
		pipe.Set(ctx, s.samplesKey(tier), strconv.FormatUint(state.Samples, 10), 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// LoadLatencies reads every persisted EWMA snapshot.
func (s *Store) LoadLatencies(ctx context.Context) (map[string]routing.TierState, error) {
	keys, err := s.client.Keys(ctx, s.prefix+":ewma:*").Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]routing.TierState, len(keys))
	for _, key := range keys {
		tier := strings.TrimPrefix(key, s.prefix+":ewma:")
		ewmaStr, err := s.client.Get(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		ewma, err := strconv.ParseFloat(ewmaStr, 64)
		if err != nil {
			continue
		}
		samples := uint64(0)
		if raw, err := s.client.Get(ctx, s.samplesKey(tier)).Result(); err == nil {
			samples, _ = strconv.ParseUint(raw, 10, 64)
		}
		out[tier] = routing.TierState{EwmaMS: ewma, Samples: samples}
	}
	return out, nil
}

// AddTokens increments the tier's persisted token counters.
func (s *Store) AddTokens(ctx context.Context, tier string, usage types.Usage) error {
	pipe := s.client.Pipeline()
	for kind, n := range map[string]int64{
		"input":          usage.InputTokens,
		"output":         usage.OutputTokens,
		"cache_read":     usage.CacheReadInputTokens,
		"cache_creation": usage.CacheCreationInputTokens,
	} {
		if n != 0 {
			pipe.IncrBy(ctx, s.tokensKey(tier, kind), n)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

// LoadTokens reads every persisted token counter, keyed by tier.
func (s *Store) LoadTokens(ctx context.Context) (map[string]types.Usage, error) {
	keys, err := s.client.Keys(ctx, s.prefix+":tokens:*").Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]types.Usage)
	for _, key := range keys {
		rest := strings.TrimPrefix(key, s.prefix+":tokens:")
		i := strings.LastIndex(rest, ":")
		if i < 0 {
			continue
		}
		tier, kind := rest[:i], rest[i+1:]
		raw, err := s.client.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		u := out[tier]
		switch kind {
		case "input":
			u.InputTokens = n
		case "output":
			u.OutputTokens = n
		case "cache_read":
			u.CacheReadInputTokens = n
		case "cache_creation":
			u.CacheCreationInputTokens = n
		}
		out[tier] = u
	}
	return out, nil
}
