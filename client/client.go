// Package client is the HTTP client for the goldium wallet session service.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SessionState is the server's view of the wallet connection.
type SessionState struct {
	Mode               string          `json:"mode"` // disconnected, connecting, connected, disconnecting
	WalletKind         string          `json:"wallet_kind,omitempty"`
	Address            string          `json:"address,omitempty"`
	Balance            decimal.Decimal `json:"balance"`
	BalanceLamports    uint64          `json:"balance_lamports"`
	LastBalanceFetchAt *time.Time      `json:"last_balance_fetch_at,omitempty"`
	SessionID          string          `json:"session_id,omitempty"`
}

// Connected reports whether a wallet is connected.
func (s *SessionState) Connected() bool {
	return s.Mode == "connected"
}

// BalanceKnown reports whether Balance was fetched for Address. It is false
// until the first fetch after a connect or an account switch.
func (s *SessionState) BalanceKnown() bool {
	return s.Connected() && s.LastBalanceFetchAt != nil
}

// WalletList lists the wallet kinds the server knows about.
type WalletList struct {
	Available []string `json:"available"`
	Supported []string `json:"supported"`
}

// HistoryRecord is one completed swap, stake, unstake or send.
type HistoryRecord struct {
	ID              string          `json:"id"`
	Kind            string          `json:"kind"`
	AmountPrimary   decimal.Decimal `json:"amount_primary"`
	AmountSecondary decimal.Decimal `json:"amount_secondary"`
	Status          string          `json:"status"`
	OccurredAt      time.Time       `json:"occurred_at"`
	ExplorerLink    string          `json:"explorer_link,omitempty"`
}

// ErrWalletConnectionFailed matches every ConnectionError.
var ErrWalletConnectionFailed = errors.New("wallet connection failed")

// ConnectionError is returned by Connect when the wallet refused or failed.
type ConnectionError struct {
	Kind    string
	Message string
}

func (e *ConnectionError) Error() string {
	return e.Message
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrWalletConnectionFailed
}

// Client is the HTTP client for the goldium wallet session service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new session service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Wallets lists supported and installed wallet kinds.
func (c *Client) Wallets(ctx context.Context) (*WalletList, error) {
	var out WalletList
	if err := c.do(ctx, "GET", "/api/v1/wallets", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Session returns the current session state.
func (c *Client) Session(ctx context.Context) (*SessionState, error) {
	var out SessionState
	if err := c.do(ctx, "GET", "/api/v1/session", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Connect asks the server to connect a wallet of the given kind. It blocks
// until the wallet approves or refuses. A refusal is a *ConnectionError.
func (c *Client) Connect(ctx context.Context, kind string) (*SessionState, error) {
	resp, err := c.send(ctx, "POST", "/api/v1/session/connect", map[string]string{"kind": kind})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out SessionState
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		c.logger.Debug("wallet connected", "kind", out.WalletKind, "address", out.Address)
		return &out, nil
	case http.StatusBadGateway:
		var errResp struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		body, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
			return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
		}
		return nil, &ConnectionError{Kind: errResp.Kind, Message: errResp.Error}
	default:
		return nil, c.parseErrorResponse(resp)
	}
}

// Disconnect asks the server to disconnect the current wallet.
func (c *Client) Disconnect(ctx context.Context) (*SessionState, error) {
	var out SessionState
	if err := c.do(ctx, "POST", "/api/v1/session/disconnect", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshBalance asks the server for an immediate balance fetch.
func (c *Client) RefreshBalance(ctx context.Context) error {
	return c.do(ctx, "POST", "/api/v1/session/refresh", nil, http.StatusAccepted, nil)
}

// History returns the records for address, newest first.
func (c *Client) History(ctx context.Context, address string) ([]HistoryRecord, error) {
	var out struct {
		Records []HistoryRecord `json:"records"`
	}
	if err := c.do(ctx, "GET", "/api/v1/history/"+url.PathEscape(address), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	if out.Records == nil {
		out.Records = []HistoryRecord{}
	}
	return out.Records, nil
}

// RecordHistory appends rec to the history of address.
func (c *Client) RecordHistory(ctx context.Context, address string, rec HistoryRecord) error {
	if err := c.do(ctx, "POST", "/api/v1/history/"+url.PathEscape(address), rec, http.StatusCreated, nil); err != nil {
		return err
	}
	c.logger.Debug("history recorded", "address", address, "id", rec.ID)
	return nil
}

// ClearHistory removes every record for address.
func (c *Client) ClearHistory(ctx context.Context, address string) error {
	return c.do(ctx, "DELETE", "/api/v1/history/"+url.PathEscape(address), nil, http.StatusNoContent, nil)
}

// StreamSession follows the session SSE stream, calling fn for every state
// until fn returns false, ctx is done or the stream ends. The first state
// delivered is the current one.
func (c *Client) StreamSession(ctx context.Context, fn func(*SessionState) bool) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/stream/session", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// No timeout for streaming; ctx bounds the request.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	err = readSSE(resp.Body, func(event, data string) (bool, error) {
		if event != "state" {
			return true, nil
		}
		var s SessionState
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return false, fmt.Errorf("failed to decode state event: %w", err)
		}
		return fn(&s), nil
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// AwaitSession blocks until a streamed state satisfies matcher and returns it.
func (c *Client) AwaitSession(ctx context.Context, matcher func(*SessionState) bool) (*SessionState, error) {
	var found *SessionState
	err := c.StreamSession(ctx, func(s *SessionState) bool {
		if matcher(s) {
			found = s
			return false
		}
		return true
	})
	if found != nil {
		return found, nil
	}
	if err == nil {
		err = errors.New("session stream ended")
	}
	return nil, err
}

// readSSE parses an event stream, calling fn per complete event. It stops
// when fn returns false or an error.
func readSSE(r io.Reader, fn func(event, data string) (bool, error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	var currentEvent string
	var currentData []string

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line indicates end of event
		if line == "" {
			if len(currentData) > 0 {
				event := currentEvent
				if event == "" {
					event = "message"
				}
				cont, err := fn(event, strings.Join(currentData, "\n"))
				if err != nil {
					return err
				}
				if !cont {
					return nil
				}
			}
			currentEvent = ""
			currentData = nil
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "event:"):
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			currentData = append(currentData, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}

// do sends a JSON request and decodes a JSON response into out when the
// status matches want.
func (c *Client) do(ctx context.Context, method, path string, in interface{}, want int, out interface{}) error {
	resp, err := c.send(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, in interface{}) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
