package nats

import (
	"time"

	"github.com/brojonat/goldium/service/history"
	"github.com/brojonat/goldium/service/session"
	"github.com/shopspring/decimal"
)

// StateEvent is a session snapshot published to "goldium.session.state".
type StateEvent struct {
	SessionID  string `json:"session_id,omitempty"`
	Mode       string `json:"mode"`
	WalletKind string `json:"wallet_kind,omitempty"`
	Address    string `json:"address,omitempty"`

	Balance            decimal.Decimal `json:"balance"`
	BalanceLamports    uint64          `json:"balance_lamports"`
	LastBalanceFetchAt *time.Time      `json:"last_balance_fetch_at,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// FromState converts a session snapshot into a StateEvent.
func FromState(s session.State) StateEvent {
	return StateEvent{
		SessionID:          s.SessionID,
		Mode:               s.Mode.String(),
		WalletKind:         string(s.WalletKind),
		Address:            s.Address,
		Balance:            s.Balance,
		BalanceLamports:    s.BalanceLamports,
		LastBalanceFetchAt: s.LastBalanceFetchAt,
		PublishedAt:        time.Now().UTC(),
	}
}

// HistoryEvent is a persisted history record published to
// "goldium.history.{address}".
type HistoryEvent struct {
	Address     string         `json:"address"`
	Record      history.Record `json:"record"`
	PublishedAt time.Time      `json:"published_at"`
}

// FromRecord converts a history record into a HistoryEvent.
func FromRecord(address string, rec history.Record) HistoryEvent {
	return HistoryEvent{
		Address:     address,
		Record:      rec,
		PublishedAt: time.Now().UTC(),
	}
}
