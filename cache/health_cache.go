// Package cache provides the Health Cache: a Redis-backed store of each
// supervised component's last known status, so the Operator Surface (a
// separate process in the general case) can read live health without a
// direct channel to the Lifecycle Manager.
package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arlojex/tradepipe/models"
)

// ClientConfig holds connection parameters for the Health Cache's Redis
// client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

const keyPrefix = "tradepipe:component_status:"

// defaultTTL bounds how long a status entry survives without a refresh, so
// a crashed component's last-reported status eventually reads as stale
// rather than lingering forever.
const defaultTTL = 30 * time.Second

// HealthCache wraps a Redis client and exposes per-component status
// get/set operations.
type HealthCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a HealthCache, pinging Redis to verify connectivity.
func New(ctx context.Context, cfg ClientConfig) (*HealthCache, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}

	return &HealthCache{rdb: rdb, ttl: defaultTTL}, nil
}

// SetStatus records component's current status, refreshing its TTL.
func (h *HealthCache) SetStatus(ctx context.Context, component string, status models.ComponentStatus) error {
	if err := h.rdb.Set(ctx, keyPrefix+component, string(status), h.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set status for %s: %w", component, err)
	}
	return nil
}

// GetStatus returns component's last recorded status, or "" if it has no
// entry (never reported, or its TTL expired).
func (h *HealthCache) GetStatus(ctx context.Context, component string) (models.ComponentStatus, error) {
	val, err := h.rdb.Get(ctx, keyPrefix+component).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cache: get status for %s: %w", component, err)
	}
	return models.ComponentStatus(val), nil
}

// GetAllStatuses returns the status of every named component, omitting
// those with no current entry.
func (h *HealthCache) GetAllStatuses(ctx context.Context, components []string) (map[string]models.ComponentStatus, error) {
	result := make(map[string]models.ComponentStatus, len(components))
	for _, c := range components {
		status, err := h.GetStatus(ctx, c)
		if err != nil {
			return nil, err
		}
		if status != "" {
			result[c] = status
		}
	}
	return result, nil
}

// Close releases the underlying Redis connection.
func (h *HealthCache) Close() error {
	return h.rdb.Close()
}
