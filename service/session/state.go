package session

import (
	"fmt"
	"time"

	"github.com/brojonat/goldium/service/wallet"
	"github.com/shopspring/decimal"
)

// Mode is the connection lifecycle phase.
type Mode int

const (
	Disconnected Mode = iota
	Connecting
	Connected
	Disconnecting
)

var modeNames = map[Mode]string{
	Disconnected:  "disconnected",
	Connecting:    "connecting",
	Connected:     "connected",
	Disconnecting: "disconnecting",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func (m Mode) MarshalText() ([]byte, error) {
	if _, ok := modeNames[m]; !ok {
		return nil, fmt.Errorf("unknown mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	for k, v := range modeNames {
		if v == string(b) {
			*m = k
			return nil
		}
	}
	return fmt.Errorf("unknown mode %q", string(b))
}

// State is an immutable snapshot of the connection.
//
// Address is set only while Connected. WalletKind is set in every mode but
// Disconnected. Balance is zero whenever Mode is Disconnected.
//
// A nil LastBalanceFetchAt means no balance has been fetched for Address
// yet, either right after connecting or after an account switch. Balance is
// zero in that case but is not a real reading; see BalanceKnown.
type State struct {
	Mode               Mode            `json:"mode"`
	WalletKind         wallet.Kind     `json:"wallet_kind,omitempty"`
	Address            string          `json:"address,omitempty"`
	Balance            decimal.Decimal `json:"balance"`
	BalanceLamports    uint64          `json:"balance_lamports"`
	LastBalanceFetchAt *time.Time      `json:"last_balance_fetch_at,omitempty"`
	SessionID          string          `json:"session_id,omitempty"`
}

// BalanceKnown reports whether Balance is a fetched value for Address.
func (s State) BalanceKnown() bool {
	return s.Mode == Connected && s.LastBalanceFetchAt != nil
}

func (s State) clone() State {
	if s.LastBalanceFetchAt != nil {
		t := *s.LastBalanceFetchAt
		s.LastBalanceFetchAt = &t
	}
	return s
}

// Listener receives every state snapshot in mutation order.
type Listener func(State)
