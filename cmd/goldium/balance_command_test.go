package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestBalanceCommand_FallsBack(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer dead.Close()

	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","result":{"context":{"slot":1},"value":2500000000},"id":1}`))
	}))
	defer live.Close()

	out, err := runApp(t, "--json", "balance", "--rpc-url", dead.URL, "--rpc-url", live.URL, testAddress)
	require.NoError(t, err)
	assert.Equal(t, "2.5", gjson.Get(out, "sol").String())
	assert.Equal(t, int64(2_500_000_000), gjson.Get(out, "lamports").Int())
}

func TestBalanceCommand_InvalidAddress(t *testing.T) {
	_, err := runApp(t, "balance", "--rpc-url", "http://127.0.0.1:1", "not-a-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch balance")
}
