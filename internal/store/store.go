// Package store persists the council's cross-session counters - agent
// accuracy and strategy outcomes - in Redis. It is the only component that
// performs I/O for the control plane; the core exchanges plain snapshots
// through it and never touches Redis itself.
//
// All keys are namespaced by instance name so multiple drey instances can
// safely coexist on a single Redis server.
// Key pattern: drey:{instance_name}:{entity}
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/drey/pkg/council"
)

// AgentStatsKey returns the Redis key for the agent accuracy hash.
// Pattern: drey:{instance_name}:agent_stats
func AgentStatsKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:agent_stats", instanceName)
}

// StrategyStatsKey returns the Redis key for the strategy outcome hash.
// Pattern: drey:{instance_name}:strategy_stats
func StrategyStatsKey(instanceName string) string {
	return fmt.Sprintf("drey:%s:strategy_stats", instanceName)
}

// Store provides instance-scoped Redis persistence for council stats.
// The store is thread-safe and can be used concurrently.
type Store struct {
	rdb          *redis.Client
	instanceName string
}

// New creates a store for the specified instance.
// Returns an error if instanceName is empty.
func New(redisOpts *redis.Options, instanceName string) (*Store, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Store{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// SaveStats writes a full stats snapshot. Each counter is stored as a
// JSON-encoded hash field keyed by agent or strategy name, so individual
// counters stay inspectable with plain Redis tooling.
func (s *Store) SaveStats(ctx context.Context, snap council.StatsSnapshot) error {
	if len(snap.Agents) > 0 {
		hash := make(map[string]interface{}, len(snap.Agents))
		for agent, stats := range snap.Agents {
			data, err := json.Marshal(stats)
			if err != nil {
				return fmt.Errorf("failed to marshal stats for agent %s: %w", agent, err)
			}
			hash[string(agent)] = string(data)
		}
		if err := s.rdb.HSet(ctx, AgentStatsKey(s.instanceName), hash).Err(); err != nil {
			return fmt.Errorf("failed to write agent stats to Redis: %w", err)
		}
	}

	if len(snap.Strategies) > 0 {
		hash := make(map[string]interface{}, len(snap.Strategies))
		for strategy, stats := range snap.Strategies {
			data, err := json.Marshal(stats)
			if err != nil {
				return fmt.Errorf("failed to marshal stats for strategy %s: %w", strategy, err)
			}
			hash[string(strategy)] = string(data)
		}
		if err := s.rdb.HSet(ctx, StrategyStatsKey(s.instanceName), hash).Err(); err != nil {
			return fmt.Errorf("failed to write strategy stats to Redis: %w", err)
		}
	}

	return nil
}

// LoadStats reads the persisted snapshot. Missing hashes yield an empty
// snapshot, not an error - a fresh instance simply has no history yet.
// Individual fields that fail to decode are skipped rather than failing
// the whole load.
func (s *Store) LoadStats(ctx context.Context) (council.StatsSnapshot, error) {
	snap := council.StatsSnapshot{
		Agents:     make(map[council.Agent]council.AgentStats),
		Strategies: make(map[council.Strategy]council.StrategyStats),
	}

	agentHash, err := s.rdb.HGetAll(ctx, AgentStatsKey(s.instanceName)).Result()
	if err != nil {
		return snap, fmt.Errorf("failed to read agent stats from Redis: %w", err)
	}
	for field, raw := range agentHash {
		var stats council.AgentStats
		if err := json.Unmarshal([]byte(raw), &stats); err != nil {
			continue
		}
		snap.Agents[council.Agent(field)] = stats
	}

	strategyHash, err := s.rdb.HGetAll(ctx, StrategyStatsKey(s.instanceName)).Result()
	if err != nil {
		return snap, fmt.Errorf("failed to read strategy stats from Redis: %w", err)
	}
	for field, raw := range strategyHash {
		var stats council.StrategyStats
		if err := json.Unmarshal([]byte(raw), &stats); err != nil {
			continue
		}
		snap.Strategies[council.Strategy(field)] = stats
	}

	return snap, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
