// Package history keeps a capped, newest-first log of completed operations
// per wallet address.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/brojonat/goldium/service/db"
	"github.com/brojonat/goldium/service/metrics"
	"github.com/brojonat/goldium/service/solana"
	"github.com/shopspring/decimal"
)

// MaxRecords is the per-address cap. The oldest records are dropped first.
const MaxRecords = 100

// ErrInvalidRecord is returned for records that fail validation.
var ErrInvalidRecord = errors.New("invalid history record")

// errCorruptHistory marks stored bytes that do not decode as a record list.
var errCorruptHistory = errors.New("corrupt history")

// Kind is the operation type.
type Kind string

const (
	KindSwap    Kind = "swap"
	KindStake   Kind = "stake"
	KindUnstake Kind = "unstake"
	KindSend    Kind = "send"
)

// Status is the operation outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Record is one completed operation.
type Record struct {
	ID              string          `json:"id"`
	Kind            Kind            `json:"kind"`
	AmountPrimary   decimal.Decimal `json:"amount_primary"`
	AmountSecondary decimal.Decimal `json:"amount_secondary"`
	Status          Status          `json:"status"`
	OccurredAt      time.Time       `json:"occurred_at"`
	ExplorerLink    string          `json:"explorer_link"`
}

// Validate checks the fields a caller must supply.
func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	switch r.Kind {
	case KindSwap, KindStake, KindUnstake, KindSend:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, r.Kind)
	}
	switch r.Status {
	case StatusSuccess, StatusFailed:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, r.Status)
	}
	if r.AmountPrimary.IsNegative() || r.AmountSecondary.IsNegative() {
		return fmt.Errorf("%w: amounts must not be negative", ErrInvalidRecord)
	}
	return nil
}

// Key is the storage key for address.
func Key(address string) string {
	return "history_" + address
}

// Notifier is told about every persisted record.
type Notifier interface {
	NotifyRecord(ctx context.Context, address string, rec Record) error
}

// Recorder persists history records. Storage failures are logged and never
// returned: losing history must not make a completed operation look failed.
type Recorder struct {
	store    db.KV
	cluster  string
	metrics  *metrics.Metrics
	logger   *slog.Logger
	notifier Notifier
	now      func() time.Time

	// mu serializes read-modify-write cycles within this process.
	mu sync.Mutex
}

// NewRecorder creates a Recorder. cluster selects explorer links
// ("mainnet-beta", "devnet", ...). If metrics is nil, no metrics will be recorded.
func NewRecorder(store db.KV, cluster string, m *metrics.Metrics, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:   store,
		cluster: cluster,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// SetNotifier installs n. Pass nil to disable notifications.
func (r *Recorder) SetNotifier(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = n
}

// Record prepends rec to the address log and persists it before returning.
// The only errors returned are validation errors.
func (r *Recorder) Record(ctx context.Context, address string, rec Record) error {
	if address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidRecord)
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = r.now()
	}
	rec.OccurredAt = rec.OccurredAt.UTC()
	if rec.ExplorerLink == "" {
		rec.ExplorerLink = solana.ExplorerTxURL(r.cluster, rec.ID)
	}

	r.mu.Lock()
	notifier := r.notifier
	existing, err := r.read(ctx, address)
	switch {
	case errors.Is(err, errCorruptHistory):
		r.logger.WarnContext(ctx, "history undecodable, starting a new log",
			"address", address,
			"error", err,
		)
		existing = nil
	case err != nil:
		// The stored log may be fine; writing now would overwrite it.
		r.mu.Unlock()
		r.observe("record", err)
		r.logger.WarnContext(ctx, "failed to read history, dropping record",
			"address", address,
			"record_id", rec.ID,
			"error", err,
		)
		return nil
	}

	records := make([]Record, 0, len(existing)+1)
	records = append(records, rec)
	records = append(records, existing...)
	slices.SortStableFunc(records, func(a, b Record) int {
		return b.OccurredAt.Compare(a.OccurredAt)
	})
	if len(records) > MaxRecords {
		records = records[:MaxRecords]
	}

	err = r.write(ctx, address, records)
	r.mu.Unlock()
	r.observe("record", err)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to persist history record",
			"address", address,
			"record_id", rec.ID,
			"error", err,
		)
		return nil
	}

	if notifier != nil {
		if err := notifier.NotifyRecord(ctx, address, rec); err != nil {
			r.logger.WarnContext(ctx, "failed to publish history record",
				"address", address,
				"record_id", rec.ID,
				"error", err,
			)
		}
	}
	return nil
}

// Load returns the records for address, newest first. It returns an empty
// slice when there are none or the store cannot be read.
func (r *Recorder) Load(ctx context.Context, address string) []Record {
	records, err := r.read(ctx, address)
	r.observe("load", err)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to load history",
			"address", address,
			"error", err,
		)
		return []Record{}
	}
	if records == nil {
		return []Record{}
	}
	return records
}

// Clear removes every record for address.
func (r *Recorder) Clear(ctx context.Context, address string) {
	r.mu.Lock()
	err := r.store.Delete(ctx, Key(address))
	r.mu.Unlock()
	r.observe("clear", err)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to clear history",
			"address", address,
			"error", err,
		)
	}
}

func (r *Recorder) read(ctx context.Context, address string) ([]Record, error) {
	raw, err := r.store.Get(ctx, Key(address))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptHistory, err)
	}
	return records, nil
}

func (r *Recorder) write(ctx context.Context, address string, records []Record) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	return r.store.Put(ctx, Key(address), raw)
}

func (r *Recorder) observe(op string, err error) {
	if r.metrics != nil {
		r.metrics.RecordHistoryOperation(op, err)
	}
}
