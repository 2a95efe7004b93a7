package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brojonat/goldium/client"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "So11111111111111111111111111111111111111112"

func TestJQMatcher(t *testing.T) {
	connected := &client.SessionState{
		Mode:       "connected",
		WalletKind: "phantom",
		Address:    testAddress,
		Balance:    decimal.RequireFromString("1.5"),
	}

	tests := []struct {
		name        string
		filters     []string
		expectMatch bool
	}{
		{name: "no filters", filters: nil, expectMatch: true},
		{name: "mode match", filters: []string{`.mode == "connected"`}, expectMatch: true},
		{name: "mode mismatch", filters: []string{`.mode == "disconnected"`}, expectMatch: false},
		{name: "balance is a decimal string", filters: []string{`.balance == "1.5"`}, expectMatch: true},
		{name: "all must match", filters: []string{`.mode == "connected"`, `.wallet_kind == "solflare"`}, expectMatch: false},
		{name: "null is falsy", filters: []string{`.last_balance_fetch_at`}, expectMatch: false},
		{name: "string is truthy", filters: []string{`.address`}, expectMatch: true},
		{name: "runtime error is no match", filters: []string{`.mode | tonumber`}, expectMatch: false},
		{name: "empty output is no match", filters: []string{`empty`}, expectMatch: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := compileJQ(tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.expectMatch, m.Match(connected))
		})
	}
}

func TestCompileJQ_Invalid(t *testing.T) {
	_, err := compileJQ([]string{`.mode ==`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy(map[string]interface{}{}))
}

func TestWalletsCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/wallets", r.URL.Path)
		w.Write([]byte(`{"available":["solflare"],"supported":["phantom","solflare","backpack","trust"]}`))
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "wallets")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ solflare")
	assert.Contains(t, out, "  phantom")

	out, err = runApp(t, "--server-url", server.URL, "--json", "wallets")
	require.NoError(t, err)
	var list client.WalletList
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Equal(t, []string{"solflare"}, list.Available)
}

func TestSessionConnectCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["kind"] == "solflare" {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":"User rejected the request.","kind":"solflare"}`))
			return
		}
		fmt.Fprintf(w, `{"mode":"connected","wallet_kind":%q,"address":%q,"balance":"0","balance_lamports":0}`, req["kind"], testAddress)
	}))
	defer server.Close()

	t.Run("approved", func(t *testing.T) {
		out, err := runApp(t, "--server-url", server.URL, "session", "connect", "phantom")
		require.NoError(t, err)
		assert.Contains(t, out, "✓ Connected")
		assert.Contains(t, out, testAddress)
		assert.Contains(t, out, "Balance:     unknown")
		assert.Contains(t, out, "Fetched At:  pending")
		assert.NotContains(t, out, "0 SOL")
	})

	t.Run("refused", func(t *testing.T) {
		_, err := runApp(t, "--server-url", server.URL, "session", "connect", "solflare")
		require.Error(t, err)
		assert.Equal(t, "solflare refused the connection: User rejected the request.", err.Error())
	})

	t.Run("missing kind", func(t *testing.T) {
		_, err := runApp(t, "--server-url", server.URL, "session", "connect")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "wallet kind is required")
	})
}

func TestSessionWatchCommand_UntilJQ(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/session", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: state\ndata: {\"mode\":\"connecting\",\"wallet_kind\":\"phantom\",\"balance\":\"0\",\"balance_lamports\":0}\n\n")
		fmt.Fprint(w, "event: state\ndata: {\"mode\":\"connected\",\"wallet_kind\":\"phantom\",\"address\":\""+testAddress+"\",\"balance\":\"0\",\"balance_lamports\":0}\n\n")
		fmt.Fprint(w, "event: state\ndata: {\"mode\":\"connected\",\"wallet_kind\":\"phantom\",\"address\":\""+testAddress+"\",\"balance\":\"3\",\"balance_lamports\":3000000000,\"last_balance_fetch_at\":\"2026-01-02T03:04:05Z\"}\n\n")
		fmt.Fprint(w, "event: state\ndata: {\"mode\":\"disconnected\",\"balance\":\"0\",\"balance_lamports\":0}\n\n")
	}))
	defer server.Close()

	t.Run("stops at first match", func(t *testing.T) {
		out, err := runApp(t, "--server-url", server.URL, "session", "watch",
			"--until-jq", `.mode == "connected"`, "--until-jq", `.balance != "0"`)
		require.NoError(t, err)
		assert.Contains(t, out, "Balance:     3 SOL")
		assert.Contains(t, out, "Fetched At:  2026-01-02T03:04:05Z")
		assert.NotContains(t, out, "Mode:        disconnected")
	})

	t.Run("stream ends before match", func(t *testing.T) {
		_, err := runApp(t, "--server-url", server.URL, "session", "watch", "--until-jq", `.mode == "disconnecting"`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ended before filters matched")
	})

	t.Run("no filters prints everything", func(t *testing.T) {
		out, err := runApp(t, "--server-url", server.URL, "session", "watch")
		require.NoError(t, err)
		assert.Contains(t, out, "Mode:        connecting")
		assert.Contains(t, out, "Mode:        disconnected")
	})
}

func TestSessionRefreshCommand_NotConnected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/session/refresh", r.URL.Path)
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"no wallet connected"}`))
	}))
	defer server.Close()

	_, err := runApp(t, "--server-url", server.URL, "session", "refresh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no wallet connected")
}
