package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/goldium/service/metrics"
	"github.com/tidwall/gjson"
)

// maxUpstreamResponseSize bounds how much of an upstream reply is relayed.
const maxUpstreamResponseSize = 10 << 20

var errUpstreamTooLarge = errors.New("upstream response too large")

// Standard JSON-RPC error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInternalError  = -32603
)

// proxyAllowedMethods are the read-only Solana RPC methods the proxy forwards.
var proxyAllowedMethods = map[string]bool{
	"getAccountInfo":                    true,
	"getBalance":                        true,
	"getBlockHeight":                    true,
	"getEpochInfo":                      true,
	"getFeeForMessage":                  true,
	"getGenesisHash":                    true,
	"getHealth":                         true,
	"getLatestBlockhash":                true,
	"getMinimumBalanceForRentExemption": true,
	"getMultipleAccounts":               true,
	"getRecentPrioritizationFees":       true,
	"getSignatureStatuses":              true,
	"getSignaturesForAddress":           true,
	"getSlot":                           true,
	"getTokenAccountBalance":            true,
	"getTokenAccountsByOwner":           true,
	"getTransaction":                    true,
	"getVersion":                        true,
	"isBlockhashValid":                  true,
	"simulateTransaction":               true,
}

// RPCProxy forwards browser JSON-RPC requests to an upstream Solana node so
// they are not subject to CORS.
type RPCProxy struct {
	upstream    string
	client      *http.Client
	maxResponse int64
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewRPCProxy creates a proxy for upstream. If metrics is nil, no metrics will be recorded.
func NewRPCProxy(upstream string, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *RPCProxy {
	return &RPCProxy{
		upstream:    upstream,
		client:      &http.Client{Timeout: timeout},
		maxResponse: maxUpstreamResponseSize,
		metrics:     m,
		logger:      logger,
	}
}

// handleRPCProxy returns a handler that forwards allowlisted JSON-RPC calls.
// POST /api/v1/rpc
func handleRPCProxy(p *RPCProxy) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeRPCError(w, nil, rpcInvalidRequest, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			writeRPCError(w, nil, rpcParseError, "failed to read request", http.StatusBadRequest)
			return
		}
		if !gjson.ValidBytes(body) {
			p.record("invalid", "rejected")
			writeRPCError(w, nil, rpcParseError, "parse error", http.StatusBadRequest)
			return
		}

		parsed := gjson.ParseBytes(body)
		var id json.RawMessage
		requests := []gjson.Result{parsed}
		if parsed.IsArray() {
			requests = parsed.Array()
			if len(requests) == 0 {
				p.record("invalid", "rejected")
				writeRPCError(w, nil, rpcInvalidRequest, "empty batch", http.StatusBadRequest)
				return
			}
		} else if raw := parsed.Get("id").Raw; raw != "" {
			id = json.RawMessage(raw)
		}

		methods := make([]string, 0, len(requests))
		for _, req := range requests {
			method := req.Get("method")
			if method.Type != gjson.String || method.String() == "" {
				p.record("invalid", "rejected")
				writeRPCError(w, id, rpcInvalidRequest, "request has no method", http.StatusBadRequest)
				return
			}
			if !proxyAllowedMethods[method.String()] {
				p.record("other", "rejected")
				p.logger.DebugContext(r.Context(), "rpc proxy rejected method", "method", method.String())
				writeRPCError(w, id, rpcMethodNotFound, fmt.Sprintf("method not allowed: %s", method.String()), http.StatusForbidden)
				return
			}
			methods = append(methods, method.String())
		}

		status, respBody, contentType, err := p.forward(r, body)
		if err != nil {
			outcome, message := "error", "upstream unavailable"
			if errors.Is(err, errUpstreamTooLarge) {
				outcome, message = "too_large", errUpstreamTooLarge.Error()
			}
			for _, m := range methods {
				p.record(m, outcome)
			}
			p.logger.WarnContext(r.Context(), "rpc proxy upstream failed",
				"methods", methods,
				"error", err,
			)
			writeRPCError(w, id, rpcInternalError, message, http.StatusBadGateway)
			return
		}

		outcome := "success"
		if status >= 400 {
			outcome = "upstream_error"
		}
		for _, m := range methods {
			p.record(m, outcome)
		}

		if contentType == "" {
			contentType = "application/json"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		w.Write(respBody)
	})
}

func (p *RPCProxy) forward(r *http.Request, body []byte) (int, []byte, string, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, p.upstream, bytes.NewReader(body))
	if err != nil {
		return 0, nil, "", fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, "", fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, p.maxResponse+1))
	if err != nil {
		return 0, nil, "", fmt.Errorf("failed to read upstream response: %w", err)
	}
	if int64(len(respBody)) > p.maxResponse {
		return 0, nil, "", fmt.Errorf("%w: over %d bytes", errUpstreamTooLarge, p.maxResponse)
	}
	return resp.StatusCode, respBody, resp.Header.Get("Content-Type"), nil
}

func (p *RPCProxy) record(method, status string) {
	if p.metrics != nil {
		p.metrics.RecordProxyRequest(method, status)
	}
}

// writeRPCError writes a JSON-RPC 2.0 error object. A nil id is encoded as null.
func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, statusCode int) {
	if id == nil {
		id = json.RawMessage("null")
	}
	writeJSON(w, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	}, statusCode)
}
