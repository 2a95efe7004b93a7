// Package bridge exposes wallet providers injected into a browser page to
// the server over a WebSocket.
//
// The page reports which globals exist ("solana", "phantom.solana", ...)
// and executes provider calls on the server's behalf. Only the most
// recently attached page is used; when it goes away every provider
// disappears with it.
package bridge

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/brojonat/goldium/service/wallet"
	"github.com/gorilla/websocket"
)

// Hub tracks the attached bridge and implements wallet.Environment.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu   sync.RWMutex
	conn *Conn
}

var _ wallet.Environment = (*Hub)(nil)

// NewHub creates a Hub with no bridge attached.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The bridge page is served by the dApp, not by this server.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the request and serves the bridge until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "bridge upgrade failed", "error", err)
		return
	}

	c := newConn(ws, h.logger)
	h.attach(c)
	h.logger.InfoContext(r.Context(), "wallet bridge attached", "remote_addr", r.RemoteAddr)

	err = c.run()
	h.detach(c)
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		h.logger.WarnContext(r.Context(), "wallet bridge closed", "error", err)
		return
	}
	h.logger.InfoContext(r.Context(), "wallet bridge detached", "remote_addr", r.RemoteAddr)
}

// Attached reports whether a bridge is currently attached.
func (h *Hub) Attached() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conn != nil
}

// Globals returns the injection paths reported by the attached bridge.
func (h *Hub) Globals() Globals {
	h.mu.RLock()
	c := h.conn
	h.mu.RUnlock()
	if c == nil {
		return Globals{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(Globals, len(c.globals))
	for path, flags := range c.globals {
		out[path] = flags
	}
	return out
}

// Lookup returns a provider for global if the attached page has one.
func (h *Hub) Lookup(global string) (wallet.Provider, bool) {
	h.mu.RLock()
	c := h.conn
	h.mu.RUnlock()
	if c == nil {
		return nil, false
	}
	if _, ok := c.lookup(global); !ok {
		return nil, false
	}
	return &remoteProvider{conn: c, target: global}, true
}

// Close detaches the current bridge, if any.
func (h *Hub) Close() {
	h.mu.Lock()
	c := h.conn
	h.conn = nil
	h.mu.Unlock()
	if c != nil {
		c.close(ErrDetached)
	}
}

func (h *Hub) attach(c *Conn) {
	h.mu.Lock()
	prev := h.conn
	h.conn = c
	h.mu.Unlock()
	if prev != nil {
		prev.close(ErrReplaced)
	}
}

func (h *Hub) detach(c *Conn) {
	h.mu.Lock()
	if h.conn == c {
		h.conn = nil
	}
	h.mu.Unlock()
	c.close(ErrDetached)
}
