package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/goldium/service/metrics"
	"github.com/dgraph-io/badger/v3"
)

// BadgerStore is the default local backend.
type BadgerStore struct {
	db      *badger.DB
	metrics *metrics.Metrics
}

// OpenBadger opens (or creates) a Badger database in dir. An empty dir opens
// an in-memory database.
func OpenBadger(dir string, m *metrics.Metrics, logger *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create badger dir %s: %w", dir, err)
	}
	opts = opts.WithLogger(badgerLogger{logger: logger}).
		WithNumMemtables(2).
		WithBlockCacheSize(16 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{db: db, metrics: m}, nil
}

func (s *BadgerStore) Get(ctx context.Context, key string) (out []byte, err error) {
	defer func(start time.Time) { observe(s.metrics, "get", "badger", start, err) }(time.Now())

	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return nil, ErrClosed
	}
	return out, err
}

func (s *BadgerStore) Put(ctx context.Context, key string, value []byte) (err error) {
	defer func(start time.Time) { observe(s.metrics, "put", "badger", start, err) }(time.Now())

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	return err
}

func (s *BadgerStore) Delete(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { observe(s.metrics, "delete", "badger", start, err) }(time.Now())

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	return err
}

func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return ErrClosed
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's printf-style logging into slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) log(level slog.Level, format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Log(context.Background(), level, fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.log(slog.LevelError, f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.log(slog.LevelWarn, f, v...) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.log(slog.LevelDebug, f, v...) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.log(slog.LevelDebug, f, v...) }
