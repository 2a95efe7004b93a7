package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/goldium/service/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// fakeUpstream answers getBalance with a fixed value and records bodies.
type fakeUpstream struct {
	mu     sync.Mutex
	bodies []string
}

func (u *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	u.mu.Lock()
	u.bodies = append(u.bodies, string(body))
	u.mu.Unlock()

	id := gjson.GetBytes(body, "id").Raw
	if id == "" {
		id = "null"
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"jsonrpc":"2.0","id":` + id + `,"result":{"context":{"slot":1},"value":2500000000}}`))
}

func (u *fakeUpstream) calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.bodies)
}

func newProxyHandler(t *testing.T, upstreamURL string) http.Handler {
	t.Helper()
	proxy := NewRPCProxy(upstreamURL, 2*time.Second, nil, discardLogger())
	return corsMiddleware(handleRPCProxy(proxy))
}

func TestRPCProxy_Requests(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		expectedStatus int
		forwarded      bool
		errorCode      int64
	}{
		{
			name:           "allowed method is forwarded",
			body:           `{"jsonrpc":"2.0","id":7,"method":"getBalance","params":["So11111111111111111111111111111111111111112"]}`,
			expectedStatus: http.StatusOK,
			forwarded:      true,
		},
		{
			name:           "write method is rejected",
			body:           `{"jsonrpc":"2.0","id":7,"method":"sendTransaction","params":["AQ=="]}`,
			expectedStatus: http.StatusForbidden,
			errorCode:      rpcMethodNotFound,
		},
		{
			name:           "batch with one disallowed method is rejected",
			body:           `[{"jsonrpc":"2.0","id":1,"method":"getSlot"},{"jsonrpc":"2.0","id":2,"method":"requestAirdrop"}]`,
			expectedStatus: http.StatusForbidden,
			errorCode:      rpcMethodNotFound,
		},
		{
			name:           "allowed batch is forwarded",
			body:           `[{"jsonrpc":"2.0","id":1,"method":"getSlot"},{"jsonrpc":"2.0","id":2,"method":"getBalance","params":["x"]}]`,
			expectedStatus: http.StatusOK,
			forwarded:      true,
		},
		{
			name:           "empty batch",
			body:           `[]`,
			expectedStatus: http.StatusBadRequest,
			errorCode:      rpcInvalidRequest,
		},
		{
			name:           "missing method",
			body:           `{"jsonrpc":"2.0","id":1}`,
			expectedStatus: http.StatusBadRequest,
			errorCode:      rpcInvalidRequest,
		},
		{
			name:           "non-string method",
			body:           `{"jsonrpc":"2.0","id":1,"method":42}`,
			expectedStatus: http.StatusBadRequest,
			errorCode:      rpcInvalidRequest,
		},
		{
			name:           "malformed JSON",
			body:           `{"jsonrpc":`,
			expectedStatus: http.StatusBadRequest,
			errorCode:      rpcParseError,
		},
		{
			name:           "oversized body",
			body:           `{"method":"getBalance","params":["` + strings.Repeat("A", 2*1024*1024) + `"]}`,
			expectedStatus: http.StatusRequestEntityTooLarge,
			errorCode:      rpcInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := &fakeUpstream{}
			ts := httptest.NewServer(upstream)
			defer ts.Close()
			handler := newProxyHandler(t, ts.URL)

			req := httptest.NewRequest("POST", "/api/v1/rpc", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
			if tt.forwarded {
				assert.Equal(t, 1, upstream.calls())
				assert.Equal(t, tt.body, upstream.bodies[0])
				return
			}
			assert.Zero(t, upstream.calls())
			assert.Equal(t, tt.errorCode, gjson.Get(w.Body.String(), "error.code").Int())
		})
	}
}

func TestRPCProxy_EchoesIDOnRejection(t *testing.T) {
	handler := newProxyHandler(t, "http://127.0.0.1:1")

	req := httptest.NewRequest("POST", "/api/v1/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":"abc","method":"sendTransaction"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "abc", resp["id"])
	assert.Equal(t, "2.0", resp["jsonrpc"])
}

func TestRPCProxy_UpstreamDown(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()
	handler := newProxyHandler(t, url)

	req := httptest.NewRequest("POST", "/api/v1/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"getBalance"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, int64(rpcInternalError), gjson.Get(w.Body.String(), "error.code").Int())
}

func TestRPCProxy_UpstreamStatusIsRelayed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":429,"message":"Too many requests"}}`))
	}))
	defer ts.Close()
	handler := newProxyHandler(t, ts.URL)

	req := httptest.NewRequest("POST", "/api/v1/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"getBalance"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "Too many requests", gjson.Get(w.Body.String(), "error.message").String())
}

func TestRPCProxy_OversizedUpstreamReply(t *testing.T) {
	reply := `{"jsonrpc":"2.0","id":7,"result":{"context":{"slot":1},"value":2500000000}}`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(reply))
	}))
	defer ts.Close()

	tests := []struct {
		name           string
		limit          int64
		expectedStatus int
	}{
		{name: "reply at the limit is relayed", limit: int64(len(reply)), expectedStatus: http.StatusOK},
		{name: "reply over the limit is rejected", limit: int64(len(reply)) - 1, expectedStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proxy := NewRPCProxy(ts.URL, 2*time.Second, nil, discardLogger())
			proxy.maxResponse = tt.limit
			handler := handleRPCProxy(proxy)

			req := httptest.NewRequest("POST", "/api/v1/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"getBalance"}`))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, reply, w.Body.String())
				return
			}
			assert.Equal(t, int64(rpcInternalError), gjson.Get(w.Body.String(), "error.code").Int())
			assert.Equal(t, "upstream response too large", gjson.Get(w.Body.String(), "error.message").String())
			assert.Equal(t, int64(7), gjson.Get(w.Body.String(), "id").Int())
		})
	}
}

// The proxy is usable as an ordinary fallback endpoint by the balance fetcher.
func TestRPCProxy_AsBalanceFallback(t *testing.T) {
	upstream := httptest.NewServer(&fakeUpstream{})
	defer upstream.Close()
	proxy := httptest.NewServer(newProxyHandler(t, upstream.URL))
	defer proxy.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer dead.Close()

	fetcher := solana.NewBalanceFetcher(
		solana.NewEndpoints([]string{dead.URL, proxy.URL}),
		2*time.Second, nil, discardLogger(),
	)
	bal, err := fetcher.FetchBalance(context.Background(), "So11111111111111111111111111111111111111112")
	require.NoError(t, err)
	assert.Equal(t, "2.5", bal.SOL.String())
	assert.Equal(t, uint64(2_500_000_000), bal.Lamports)
}
