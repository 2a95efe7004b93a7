// Package db provides the key-value persistence used for transaction history.
package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/goldium/service/config"
	"github.com/brojonat/goldium/service/metrics"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// KV is a minimal byte-oriented key-value store.
// Get returns (nil, nil) for a missing key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the backend selected by cfg.HistoryBackend.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (KV, error) {
	switch cfg.HistoryBackend {
	case config.BackendBadger:
		s, err := OpenBadger(cfg.HistoryPath, m, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendPostgres:
		s, err := OpenPostgres(ctx, cfg.DatabaseURL, m)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendRedis:
		s, err := OpenRedis(ctx, cfg.RedisURL, m)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendMemory:
		return NewMemoryStore(m), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.HistoryBackend)
	}
}

// observe records a store operation. Safe to call with nil metrics.
func observe(m *metrics.Metrics, op, backend string, start time.Time, err error) {
	if m != nil {
		m.RecordDBQuery(op, backend, time.Since(start).Seconds(), err)
	}
}
