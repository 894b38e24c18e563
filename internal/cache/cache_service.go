// Package cache provides Redis-backed caching for quality reports and the
// latest emitted signals. When Redis degrades the service fails soft: callers
// fall back to in-process state.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"market-structure-engine/internal/quality"
	"market-structure-engine/internal/signal"
)

// ErrCacheUnavailable is returned when Redis is not healthy
var ErrCacheUnavailable = errors.New("cache unavailable")

// Key prefixes for different cache types
const (
	prefixQualityReport = "quality:%s" // quality:SYMBOL:TIMEFRAME
	prefixLastSignal    = "signal:last:%s:%s"
)

// Config holds Redis connection settings
type Config struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// CacheService provides Redis caching with graceful degradation. Repeated
// failures open an internal circuit so a dead Redis never stalls the engine.
type CacheService struct {
	client *redis.Client
	logger zerolog.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// NewCacheService connects to Redis. A failed initial connection returns the
// service in degraded mode, not an error.
func NewCacheService(cfg Config, logger zerolog.Logger) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	cs := &CacheService{
		client:        client,
		logger:        logger.With().Str("component", "cache").Logger(),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		cs.logger.Warn().Err(err).Msg("Initial Redis connection failed, running degraded")
		return cs, nil
	}

	cs.healthy = true
	cs.lastCheck = time.Now()
	cs.logger.Info().Str("address", cfg.Address).Msg("Redis connected")
	return cs, nil
}

// IsHealthy returns whether Redis is currently available
func (cs *CacheService) IsHealthy() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.healthy
}

// Close releases the Redis client
func (cs *CacheService) Close() error {
	return cs.client.Close()
}

func (cs *CacheService) recordFailure() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.failureCount++
	if cs.failureCount >= cs.maxFailures {
		if cs.healthy {
			cs.logger.Warn().Int("failures", cs.failureCount).Msg("Redis marked unhealthy")
		}
		cs.healthy = false
	}
}

func (cs *CacheService) recordSuccess() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.healthy {
		cs.logger.Info().Msg("Redis recovered")
	}
	cs.healthy = true
	cs.failureCount = 0
	cs.lastCheck = time.Now()
}

// checkHealth probes Redis in the background once the check interval has
// passed while degraded
func (cs *CacheService) checkHealth() {
	cs.mu.RLock()
	shouldCheck := !cs.healthy && time.Since(cs.lastCheck) >= cs.checkInterval
	cs.mu.RUnlock()

	if !shouldCheck {
		return
	}

	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := cs.client.Ping(pingCtx).Err(); err == nil {
			cs.recordSuccess()
		}
	}()
}

func (cs *CacheService) get(ctx context.Context, key string, out interface{}) error {
	cs.checkHealth()
	if !cs.IsHealthy() {
		return ErrCacheUnavailable
	}

	raw, err := cs.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return err
		}
		cs.recordFailure()
		return fmt.Errorf("redis get failed: %w", err)
	}
	cs.recordSuccess()
	return json.Unmarshal([]byte(raw), out)
}

func (cs *CacheService) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	cs.checkHealth()
	if !cs.IsHealthy() {
		return ErrCacheUnavailable
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling cache value: %w", err)
	}
	if err := cs.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}
	cs.recordSuccess()
	return nil
}

// ============================================================================
// QUALITY REPORTS
// ============================================================================

// ReportCache adapts the service to the quality gate's cache interface
type ReportCache struct {
	cs *CacheService
}

// Reports returns a quality.ReportCache view over Redis
func (cs *CacheService) Reports() *ReportCache {
	return &ReportCache{cs: cs}
}

// GetReport fetches the last known-good report for an instrument key
func (rc *ReportCache) GetReport(key string) (*quality.Report, bool) {
	var report quality.Report
	err := rc.cs.get(context.Background(), fmt.Sprintf(prefixQualityReport, key), &report)
	if err != nil {
		return nil, false
	}
	return &report, true
}

// SetReport stores a passing report with the gate's TTL
func (rc *ReportCache) SetReport(key string, report *quality.Report, ttl time.Duration) {
	err := rc.cs.set(context.Background(), fmt.Sprintf(prefixQualityReport, key), report, ttl)
	if err != nil && !errors.Is(err, ErrCacheUnavailable) {
		rc.cs.logger.Debug().Err(err).Str("key", key).Msg("Failed to cache quality report")
	}
}

// ============================================================================
// LAST SIGNALS
// ============================================================================

// SetLastSignal stores the most recent emitted signal for an instrument
func (cs *CacheService) SetLastSignal(ctx context.Context, rec *signal.Record, ttl time.Duration) error {
	key := fmt.Sprintf(prefixLastSignal, rec.Symbol, rec.Timeframe)
	return cs.set(ctx, key, rec, ttl)
}

// GetLastSignal fetches the most recent emitted signal for an instrument,
// nil on miss
func (cs *CacheService) GetLastSignal(ctx context.Context, symbol, timeframe string) (*signal.Record, error) {
	var rec signal.Record
	err := cs.get(ctx, fmt.Sprintf(prefixLastSignal, symbol, timeframe), &rec)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
