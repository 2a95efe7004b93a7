package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/goldium/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing session and history events to NATS.
type Publisher interface {
	// PublishState publishes a session snapshot to "goldium.session.state".
	PublishState(ctx context.Context, event StateEvent) error

	// PublishHistory publishes a history record to "goldium.history.{address}".
	PublishHistory(ctx context.Context, event HistoryEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream.
	StreamName = "GOLDIUM"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "goldium.>"

	// StateSubject carries session snapshots.
	StateSubject = "goldium.session.state"

	// HistorySubjectPrefix is followed by the wallet address.
	HistorySubjectPrefix = "goldium.history."

	// StreamRetention is how long messages are retained.
	StreamRetention = 7 * 24 * time.Hour
)

// HistorySubject returns the subject for records of address.
func HistorySubject(address string) string {
	return HistorySubjectPrefix + address
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
// If metrics is nil, no metrics will be recorded.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("goldium-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Goldium wallet session and history events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	if _, err := p.js.CreateStream(ctx, streamConfig); err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishState publishes a session snapshot.
func (p *JetStreamPublisher) PublishState(ctx context.Context, event StateEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal state event: %w", err)
	}
	if err := p.publish(ctx, StateSubject, StateSubject, data); err != nil {
		return fmt.Errorf("failed to publish state: %w", err)
	}

	p.logger.DebugContext(ctx, "published state event",
		"mode", event.Mode,
		"wallet_kind", event.WalletKind,
		"session_id", event.SessionID,
	)
	return nil
}

// PublishHistory publishes a history record. The record ID is used as the
// message ID so JetStream drops duplicates.
func (p *JetStreamPublisher) PublishHistory(ctx context.Context, event HistoryEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal history event: %w", err)
	}
	subject := HistorySubject(event.Address)
	if err := p.publish(ctx, subject, "goldium.history", data,
		jetstream.WithMsgID(event.Address+"/"+event.Record.ID)); err != nil {
		return fmt.Errorf("failed to publish history record: %w", err)
	}

	p.logger.DebugContext(ctx, "published history event",
		"subject", subject,
		"record_id", event.Record.ID,
	)
	return nil
}

// publish sends data and records metrics under label, which must not carry
// per-wallet values.
func (p *JetStreamPublisher) publish(ctx context.Context, subject, label string, data []byte, opts ...jetstream.PublishOpt) error {
	start := time.Now()
	_, err := p.js.Publish(ctx, subject, data, opts...)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(label, status, time.Since(start).Seconds())
	}
	return err
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
