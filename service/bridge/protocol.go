package bridge

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Message types.
const (
	TypeGlobals = "globals"
	TypeCall    = "call"
	TypeResult  = "result"
)

// Methods the server may call on an injected provider.
const (
	MethodConnect         = "connect"
	MethodDisconnect      = "disconnect"
	MethodPublicKey       = "publicKey"
	MethodSignTransaction = "signTransaction"
)

// Globals maps an injection path such as "solana" or "phantom.solana" to the
// boolean marker properties of the object found there.
type Globals map[string]map[string]bool

// Message is the single envelope used in both directions.
type Message struct {
	Type string `json:"type"`

	// globals
	Globals Globals `json:"globals,omitempty"`

	// call and result
	ID     uint64          `json:"id,omitempty"`
	Target string          `json:"target,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// PublicKeyResult is returned by connect and publicKey. A null or empty
// PublicKey means the provider has no authorized account.
type PublicKeyResult struct {
	PublicKey string `json:"publicKey"`
}

// TransactionPayload carries a base64 wire-format transaction.
type TransactionPayload struct {
	Transaction string `json:"transaction"`
}

// EncodeTransaction serializes tx in wire format and base64-encodes it.
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	var buf bytes.Buffer
	if err := tx.MarshalWithEncoder(bin.NewBinEncoder(&buf)); err != nil {
		return "", fmt.Errorf("failed to encode transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeTransaction reverses EncodeTransaction. Trailing bytes are rejected.
func DecodeTransaction(s string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction encoding: %w", err)
	}
	dec := bin.NewBinDecoder(raw)
	tx, err := solana.TransactionFromDecoder(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	if dec.HasRemaining() {
		return nil, fmt.Errorf("failed to decode transaction: %d trailing bytes", dec.Remaining())
	}
	return tx, nil
}
