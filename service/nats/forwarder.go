package nats

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/brojonat/goldium/service/history"
	"github.com/brojonat/goldium/service/session"
)

// DefaultQueueSize is the forwarder buffer used when none is given.
const DefaultQueueSize = 256

// flushTimeout bounds how long Run spends publishing queued events after
// its context ends.
const flushTimeout = 5 * time.Second

// StateForwarder publishes session snapshots in the order the manager
// emitted them. Listen never blocks: when the queue is full the snapshot is
// dropped and counted.
type StateForwarder struct {
	pub     Publisher
	queue   chan StateEvent
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewStateForwarder creates a forwarder. A non-positive queueSize selects
// DefaultQueueSize.
func NewStateForwarder(pub Publisher, queueSize int, logger *slog.Logger) *StateForwarder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &StateForwarder{
		pub:    pub,
		queue:  make(chan StateEvent, queueSize),
		logger: logger,
	}
}

// Listen enqueues s. It has the session.Listener signature.
func (f *StateForwarder) Listen(s session.State) {
	select {
	case f.queue <- FromState(s):
	default:
		n := f.dropped.Add(1)
		f.logger.Warn("state forwarder queue full, dropping snapshot",
			"mode", s.Mode.String(),
			"dropped_total", n,
		)
	}
}

// Dropped returns the number of snapshots discarded because the queue was full.
func (f *StateForwarder) Dropped() int64 {
	return f.dropped.Load()
}

// Run publishes queued snapshots until ctx is done, then flushes whatever is
// still queued within a short deadline.
func (f *StateForwarder) Run(ctx context.Context) {
	for {
		select {
		case ev := <-f.queue:
			f.publish(ctx, ev)
		case <-ctx.Done():
			f.flush(context.WithoutCancel(ctx))
			return
		}
	}
}

func (f *StateForwarder) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	for {
		select {
		case ev := <-f.queue:
			f.publish(ctx, ev)
		default:
			return
		}
		if ctx.Err() != nil {
			f.logger.Warn("state forwarder flush timed out", "remaining", len(f.queue))
			return
		}
	}
}

func (f *StateForwarder) publish(ctx context.Context, ev StateEvent) {
	if err := f.pub.PublishState(ctx, ev); err != nil {
		f.logger.WarnContext(ctx, "failed to publish state event",
			"mode", ev.Mode,
			"session_id", ev.SessionID,
			"error", err,
		)
	}
}

// HistoryNotifier adapts a Publisher to history.Notifier.
type HistoryNotifier struct {
	pub Publisher
}

var _ history.Notifier = (*HistoryNotifier)(nil)

// NewHistoryNotifier creates a HistoryNotifier publishing through pub.
func NewHistoryNotifier(pub Publisher) *HistoryNotifier {
	return &HistoryNotifier{pub: pub}
}

// NotifyRecord publishes rec for address.
func (n *HistoryNotifier) NotifyRecord(ctx context.Context, address string, rec history.Record) error {
	return n.pub.PublishHistory(ctx, FromRecord(address, rec))
}
