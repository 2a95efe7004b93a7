package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/brojonat/goldium/service/bridge"
	"github.com/brojonat/goldium/service/history"
	"github.com/brojonat/goldium/service/session"
	"github.com/brojonat/goldium/service/wallet"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAddressLength   = 100     // Solana addresses are at most 44 chars, give buffer
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// handleListWallets returns a handler that lists wallet kinds.
// GET /api/v1/wallets
func handleListWallets(registry WalletLister, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		available := append([]wallet.Kind{}, registry.ListAvailable()...)
		logger.DebugContext(r.Context(), "wallets listed", "available", len(available))

		writeJSON(w, map[string]interface{}{
			"available": available,
			"supported": wallet.Kinds(),
		}, http.StatusOK)
	})
}

// handleGetSession returns a handler that reports the current session state.
// GET /api/v1/session
func handleGetSession(manager SessionManager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, manager.State(), http.StatusOK)
	})
}

// handleConnect returns a handler that connects a wallet.
// POST /api/v1/session/connect {"kind": "phantom"}
func handleConnect(manager SessionManager, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Kind string `json:"kind"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		kind, err := wallet.ParseKind(req.Kind)
		if err != nil {
			logger.DebugContext(r.Context(), "unsupported wallet kind", "kind", req.Kind)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		err = manager.Connect(r.Context(), kind)
		var failed *session.ConnectionFailedError
		switch {
		case err == nil:
			writeJSON(w, manager.State(), http.StatusOK)
		case errors.Is(err, wallet.ErrUnsupportedWalletKind):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.As(err, &failed):
			writeJSON(w, map[string]string{
				"error": failed.Error(),
				"kind":  string(failed.Kind),
			}, http.StatusBadGateway)
		case errors.Is(err, session.ErrSuperseded):
			writeError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, session.ErrClosed):
			writeError(w, err.Error(), http.StatusServiceUnavailable)
		default:
			logger.ErrorContext(r.Context(), "connect failed", "kind", kind, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
		}
	})
}

// handleDisconnect returns a handler that disconnects the current wallet.
// POST /api/v1/session/disconnect
func handleDisconnect(manager SessionManager, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := manager.Disconnect(r.Context()); err != nil {
			logger.ErrorContext(r.Context(), "disconnect failed", "error", err)
			writeError(w, "failed to disconnect", http.StatusInternalServerError)
			return
		}
		writeJSON(w, manager.State(), http.StatusOK)
	})
}

// handleRefreshBalance returns a handler that requests an immediate balance fetch.
// POST /api/v1/session/refresh
func handleRefreshBalance(manager SessionManager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := manager.State()
		if state.Mode != session.Connected {
			writeError(w, "no wallet connected", http.StatusConflict)
			return
		}
		manager.RefreshBalance()
		writeJSON(w, state, http.StatusAccepted)
	})
}

// handleSignTransaction returns a handler that signs a transaction with the
// connected wallet.
// POST /api/v1/session/sign {"transaction": "<base64>"}
func handleSignTransaction(manager SessionManager, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req bridge.TransactionPayload
		if !decodeBody(w, r, &req, logger) {
			return
		}
		tx, err := bridge.DecodeTransaction(req.Transaction)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		signed, err := manager.SignTransaction(r.Context(), tx)
		var remote *bridge.RemoteError
		switch {
		case err == nil:
		case errors.Is(err, wallet.ErrNotConnected):
			writeError(w, "no wallet connected", http.StatusConflict)
			return
		case errors.As(err, &remote), errors.Is(err, wallet.ErrProviderMissing), errors.Is(err, bridge.ErrDetached):
			writeError(w, err.Error(), http.StatusBadGateway)
			return
		default:
			logger.ErrorContext(r.Context(), "sign transaction failed", "error", err)
			writeError(w, "failed to sign transaction", http.StatusInternalServerError)
			return
		}

		encoded, err := bridge.EncodeTransaction(signed)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to encode signed transaction", "error", err)
			writeError(w, "failed to sign transaction", http.StatusInternalServerError)
			return
		}
		writeJSON(w, bridge.TransactionPayload{Transaction: encoded}, http.StatusOK)
	})
}

// handleGetHistory returns a handler that lists history records, newest first.
// GET /api/v1/history/{address}
func handleGetHistory(store HistoryStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.DebugContext(r.Context(), "invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		records := store.Load(r.Context(), address)
		writeJSON(w, map[string]interface{}{
			"address": address,
			"records": records,
			"count":   len(records),
		}, http.StatusOK)
	})
}

// handleRecordHistory returns a handler that appends a history record.
// POST /api/v1/history/{address}
func handleRecordHistory(store HistoryStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.DebugContext(r.Context(), "invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var rec history.Record
		if !decodeBody(w, r, &rec, logger) {
			return
		}
		if err := store.Record(r.Context(), address, rec); err != nil {
			if errors.Is(err, history.ErrInvalidRecord) {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.ErrorContext(r.Context(), "failed to record history", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "history recorded",
			"address", address,
			"record_id", rec.ID,
			"kind", rec.Kind,
		)
		writeJSON(w, map[string]string{
			"address": address,
			"id":      rec.ID,
		}, http.StatusCreated)
	})
}

// handleClearHistory returns a handler that removes every record for an address.
// DELETE /api/v1/history/{address}
func handleClearHistory(store HistoryStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.DebugContext(r.Context(), "invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		store.Clear(r.Context(), address)
		logger.InfoContext(r.Context(), "history cleared", "address", address)
		w.WriteHeader(http.StatusNoContent)
	})
}

// decodeBody decodes a size-limited JSON body into dst. It writes the error
// response and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *slog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.DebugContext(r.Context(), "failed to decode request", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a wallet address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
