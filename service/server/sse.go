package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/goldium/service/metrics"
	natspkg "github.com/brojonat/goldium/service/nats"
	"github.com/brojonat/goldium/service/session"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// keepaliveInterval is how often idle SSE streams receive a comment line.
const keepaliveInterval = 10 * time.Second

// SSEPublisher streams history events from NATS JetStream to SSE clients.
type SSEPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSSEPublisher creates a new SSE publisher that subscribes to NATS internally.
func NewSSEPublisher(natsURL string, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("goldium-sse-publisher"),
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

	logger.Info("SSE publisher initialized", "nats_url", natsURL)

	return &SSEPublisher{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// startSSE sets the stream headers and flushes them.
func startSSE(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flush(w)
}

// writeSSE writes one event and flushes it.
func writeSSE(w http.ResponseWriter, event string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flush(w)
	return nil
}

func writeKeepalive(w http.ResponseWriter) error {
	if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
		return err
	}
	flush(w)
	return nil
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// handleStreamSession streams session snapshots. The current state is sent
// first, then every change in order. A slow client skips intermediate
// snapshots but always receives the latest one.
// GET /api/v1/stream/session
func handleStreamSession(manager SessionManager, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		updates := make(chan session.State, 16)
		unsubscribe := manager.Subscribe(func(s session.State) {
			select {
			case updates <- s:
				return
			default:
			}
			// Full: drop the oldest so the newest always gets through.
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- s:
			default:
			}
		})
		defer unsubscribe()

		startSSE(w)
		if m != nil {
			m.RecordSSEConnectionChange(1)
			defer m.RecordSSEConnectionChange(-1)
		}

		logger.DebugContext(r.Context(), "SSE session client connected", "remote_addr", r.RemoteAddr)

		send := func(s session.State) bool {
			data, err := json.Marshal(s)
			if err != nil {
				logger.WarnContext(r.Context(), "failed to marshal state", "error", err)
				return true
			}
			return writeSSE(w, "state", data) == nil
		}
		if !send(manager.State()) {
			return
		}

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				if err := writeKeepalive(w); err != nil {
					return
				}
			case s := <-updates:
				if !send(s) {
					return
				}
			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE session client disconnected", "remote_addr", r.RemoteAddr)
				return
			}
		}
	})
}

// handleStreamHistory streams history records published to NATS.
// If the address path parameter is empty, streams all wallets.
// GET /api/v1/stream/history/{address}
func handleStreamHistory(publisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")

		subject := natspkg.HistorySubjectPrefix + ">"
		walletDesc := "all wallets"
		if address != "" {
			if err := validateAddress(address); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			subject = natspkg.HistorySubject(address)
			walletDesc = address
		}

		// Ephemeral consumer, deleted when the connection closes.
		cons, err := publisher.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject: subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			DeliverPolicy: jetstream.DeliverNewPolicy,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create consumer",
				"wallet", walletDesc,
				"error", err,
			)
			writeError(w, "failed to subscribe", http.StatusServiceUnavailable)
			return
		}

		startSSE(w)
		if m != nil {
			m.RecordSSEConnectionChange(1)
			defer m.RecordSSEConnectionChange(-1)
		}

		msgChan := make(chan jetstream.Msg, 10)
		doneChan := make(chan struct{})

		go func() {
			defer close(doneChan)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-r.Context().Done():
				}
			})
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to start consuming messages", "error", err)
				return
			}
			<-r.Context().Done()
			cc.Stop()
		}()

		hello, _ := json.Marshal(map[string]string{"wallet": walletDesc})
		if err := writeSSE(w, "connected", hello); err != nil {
			return
		}

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				if err := writeKeepalive(w); err != nil {
					return
				}

			case msg := <-msgChan:
				var event natspkg.HistoryEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(r.Context(), "failed to unmarshal history event", "error", err)
					msg.Ack()
					continue
				}
				if err := writeSSE(w, "history", msg.Data()); err != nil {
					return
				}
				msg.Ack()

				logger.DebugContext(r.Context(), "sent history event",
					"wallet", event.Address,
					"record_id", event.Record.ID,
				)

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE history client disconnected",
					"wallet", walletDesc,
					"remote_addr", r.RemoteAddr,
				)
				return

			case <-doneChan:
				return
			}
		}
	})
}
