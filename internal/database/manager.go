// Package database coordinates the miner's optional storage backends:
// PostgreSQL for the durable found-block ledger, Redis for hot session state,
// and InfluxDB for time-series telemetry. Each backend is independently
// optional; a solo miner can run with none of them.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/soloforge/soloforge/internal/database/influx"
	"github.com/soloforge/soloforge/internal/database/postgres"
	"github.com/soloforge/soloforge/internal/database/redis"
	"github.com/soloforge/soloforge/pkg/circuit"
	"github.com/soloforge/soloforge/pkg/errors"
	"github.com/soloforge/soloforge/pkg/retry"
)

// Manager coordinates all configured storage backends. Nil clients mean the
// backend is disabled; callers go through Manager methods, which skip them.
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	FoundBlocks *postgres.FoundBlockRepository

	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// Config holds configuration for all storage backends. An empty URL or nil
// sub-config disables the corresponding backend.
type Config struct {
	PostgresURL string
	RedisURL    string
	Influx      *influx.Config
}

// NewManager connects to every enabled backend. A failure to reach any
// enabled backend is fatal at startup so misconfiguration surfaces early.
func NewManager(cfg *Config) (*Manager, error) {
	m := &Manager{
		circuitBreaker: circuit.New(&circuit.Config{
			MaxFailures:     3,
			SuccessRequired: 2,
			Timeout:         30 * time.Second,
			ResetTimeout:    60 * time.Second,
		}),
		retryConfig: retry.TelemetryConfig(),
	}

	if cfg.PostgresURL != "" {
		pgClient, err := postgres.NewClientFromURL(cfg.PostgresURL)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
				"failed to connect to PostgreSQL")
		}
		m.Postgres = pgClient
		m.FoundBlocks = postgres.NewFoundBlockRepository(pgClient.DB())
	}

	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClientFromURL(cfg.RedisURL)
		if err != nil {
			m.closeAll()
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
				"failed to connect to Redis")
		}
		m.Redis = redisClient
	}

	if cfg.Influx != nil {
		influxClient, err := influx.NewClient(cfg.Influx)
		if err != nil {
			m.closeAll()
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
				"failed to connect to InfluxDB")
		}
		m.Influx = influxClient
	}

	return m, nil
}

// Close closes all connected backends.
func (m *Manager) Close() error {
	return m.closeAll()
}

func (m *Manager) closeAll() error {
	var errs []error

	if m.Postgres != nil {
		if err := m.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
		}
	}
	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}
	if m.Influx != nil {
		m.Influx.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}
	return nil
}

// Health checks every connected backend.
func (m *Manager) Health(ctx context.Context) error {
	if m.Postgres != nil {
		if err := m.Postgres.Health(ctx); err != nil {
			return fmt.Errorf("PostgreSQL health check failed: %w", err)
		}
	}
	if m.Redis != nil {
		if err := m.Redis.Health(ctx); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}
	if m.Influx != nil {
		if err := m.Influx.Health(ctx); err != nil {
			return fmt.Errorf("InfluxDB health check failed: %w", err)
		}
	}
	return nil
}

// RecordFoundBlock writes one submission outcome across all backends. The
// PostgreSQL ledger row is the critical write; Redis and InfluxDB updates are
// best effort.
func (m *Manager) RecordFoundBlock(ctx context.Context, block *postgres.FoundBlock) error {
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if m.FoundBlocks != nil {
				if err := m.FoundBlocks.CreateFoundBlock(ctx, block); err != nil {
					return errors.Wrap(err, errors.ErrorTypeDatabase, "record_found_block",
						"failed to store found block in PostgreSQL").
						WithContext("height", block.Height).
						WithContext("status", block.Status)
				}
			}

			if m.Influx != nil {
				m.Influx.WriteBlockMetric(block.Height, uint64(block.Nonce), block.Status, block.LatencyMs)
			}

			if m.Redis != nil && block.Status == "accepted" {
				if _, err := m.Redis.IncrementBlocksFound(ctx, block.MiningAddress); err != nil {
					fmt.Printf("Warning: failed to bump found-block counter: %v\n", err)
				}
			}

			return nil
		})
	})
}

// MiningSummary aggregates the stored mining history for an address across
// the configured backends.
type MiningSummary struct {
	BlocksFound     int64
	AcceptedBlocks  int64
	AvgHashrate     float64
	HashrateSamples int
	LastBlock       *postgres.FoundBlock
}

// Summarize reads the stored history for a mining address. Each backend
// contributes best effort; a failed read is reported and skipped.
func (m *Manager) Summarize(ctx context.Context, miningAddress string) *MiningSummary {
	s := &MiningSummary{}

	if m.Redis != nil {
		if n, err := m.Redis.GetBlocksFound(ctx, miningAddress); err == nil {
			s.BlocksFound = n
		} else {
			fmt.Printf("Warning: failed to read found-block counter: %v\n", err)
		}
		if avg, err := m.Redis.GetAverageHashrate(ctx, miningAddress, 10*time.Minute); err == nil {
			s.AvgHashrate = avg
		} else {
			fmt.Printf("Warning: failed to read hashrate average: %v\n", err)
		}
	}

	if m.FoundBlocks != nil {
		if n, err := m.FoundBlocks.CountAccepted(ctx, miningAddress); err == nil {
			s.AcceptedBlocks = n
		} else {
			fmt.Printf("Warning: failed to count accepted blocks: %v\n", err)
		}
		if blocks, err := m.FoundBlocks.GetRecentFoundBlocks(ctx, 1); err == nil && len(blocks) > 0 {
			s.LastBlock = blocks[0]
		}
	}

	if m.Influx != nil {
		if points, err := m.Influx.GetHashrateHistory(ctx, miningAddress, time.Hour); err == nil {
			s.HashrateSamples = len(points)
		} else {
			fmt.Printf("Warning: failed to read hashrate history: %v\n", err)
		}
	}

	return s
}

// RecordSessionStats writes cumulative session counters to InfluxDB.
func (m *Manager) RecordSessionStats(hashesTried, blocksSubmitted, blocksAccepted uint64, threads int) {
	if m.Influx != nil {
		m.Influx.WriteSessionStatsMetric(hashesTried, blocksSubmitted, blocksAccepted, threads)
	}
}

// StoreSessionSnapshot caches the live session state in Redis with a short
// TTL, so dashboards can read it without touching the engine.
func (m *Manager) StoreSessionSnapshot(ctx context.Context, miningAddress string, snapshot any) {
	if m.Redis == nil {
		return
	}
	if err := m.Redis.SetSessionSnapshot(ctx, miningAddress, snapshot, time.Minute); err != nil {
		fmt.Printf("Warning: failed to store session snapshot: %v\n", err)
	}
}

// ClearSessionSnapshot removes the cached session state at session end.
func (m *Manager) ClearSessionSnapshot(ctx context.Context, miningAddress string) {
	if m.Redis == nil {
		return
	}
	if err := m.Redis.DeleteSessionSnapshot(ctx, miningAddress); err != nil {
		fmt.Printf("Warning: failed to clear session snapshot: %v\n", err)
	}
}

// RecordHashrate writes one hashrate sample to the telemetry backends.
func (m *Manager) RecordHashrate(ctx context.Context, miningAddress string, threads int, hashrate float64, hashesTried uint64) {
	if m.Influx != nil {
		m.Influx.WriteHashrateMetric(miningAddress, threads, hashrate, hashesTried)
	}
	if m.Redis != nil {
		if err := m.Redis.AddHashrateSample(ctx, miningAddress, hashrate, 10*time.Minute); err != nil {
			fmt.Printf("Warning: failed to store hashrate sample: %v\n", err)
		}
	}
}
