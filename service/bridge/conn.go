package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrDetached is returned for calls on a bridge that has gone away.
	ErrDetached = errors.New("wallet bridge detached")

	// ErrReplaced closes a bridge when a newer one attaches.
	ErrReplaced = errors.New("wallet bridge replaced by a newer connection")
)

// RemoteError is a failure reported by the browser side of the bridge,
// typically the user rejecting a request.
type RemoteError struct {
	Target  string
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Target, e.Method, e.Message)
}

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	defaultCallWait = 2 * time.Minute
	maxMessageSize  = 1 << 20
)

type callResult struct {
	result json.RawMessage
	err    error
}

// Conn is one attached browser bridge.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	globals Globals
	pending map[uint64]chan callResult
	nextID  uint64
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, logger *slog.Logger) *Conn {
	return &Conn{
		ws:      ws,
		logger:  logger,
		globals: Globals{},
		pending: make(map[uint64]chan callResult),
		done:    make(chan struct{}),
	}
}

// Done is closed once the bridge is gone.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// run reads until the connection fails, keeping it alive with pings.
func (c *Conn) run() error {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.pingLoop()

	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.close(fmt.Errorf("%w: %w", ErrDetached, err))
			return err
		}
		c.handle(msg)
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.close(fmt.Errorf("%w: %w", ErrDetached, err))
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) handle(msg Message) {
	switch msg.Type {
	case TypeGlobals:
		g := make(Globals, len(msg.Globals))
		for path, flags := range msg.Globals {
			g[path] = flags
		}
		c.mu.Lock()
		c.globals = g
		c.mu.Unlock()
		c.logger.Debug("bridge globals updated", "paths", len(g))
	case TypeResult:
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("bridge result for unknown call", "id", msg.ID)
			return
		}
		res := callResult{result: msg.Result}
		if msg.Error != "" {
			res.err = errors.New(msg.Error)
		}
		ch <- res
	default:
		c.logger.Warn("unexpected bridge message", "type", msg.Type)
	}
}

// lookup reports the markers at path, if an object is injected there.
func (c *Conn) lookup(path string) (map[string]bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, false
	}
	flags, ok := c.globals[path]
	return flags, ok
}

// call invokes method on the object at target and decodes the result into
// out, which may be nil.
func (c *Conn) call(ctx context.Context, target, method string, params, out any) error {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode %s params: %w", method, err)
		}
		raw = b
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCallWait)
		defer cancel()
	}

	ch := make(chan callResult, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	msg := Message{Type: TypeCall, ID: id, Target: target, Method: method, Params: raw}
	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.ws.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		forget()
		c.close(fmt.Errorf("%w: %w", ErrDetached, err))
		return fmt.Errorf("%w: %w", ErrDetached, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return &RemoteError{Target: target, Method: method, Message: res.err.Error()}
		}
		if out != nil && len(res.result) > 0 && string(res.result) != "null" {
			if err := json.Unmarshal(res.result, out); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		forget()
		return ctx.Err()
	case <-c.done:
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		return err
	}
}

// close fails every pending call with err and closes the socket.
func (c *Conn) close(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.pending = make(map[uint64]chan callResult)
		c.mu.Unlock()
		close(c.done)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}
