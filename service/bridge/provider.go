package bridge

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// remoteProvider forwards provider calls to the object at target in the
// attached page.
type remoteProvider struct {
	conn   *Conn
	target string
}

func (p *remoteProvider) Flag(name string) bool {
	flags, ok := p.conn.lookup(p.target)
	return ok && flags[name]
}

func (p *remoteProvider) Connect(ctx context.Context) (solana.PublicKey, error) {
	var res PublicKeyResult
	if err := p.conn.call(ctx, p.target, MethodConnect, nil, &res); err != nil {
		return solana.PublicKey{}, err
	}
	return parseKey(res.PublicKey)
}

func (p *remoteProvider) Disconnect(ctx context.Context) error {
	return p.conn.call(ctx, p.target, MethodDisconnect, nil, nil)
}

func (p *remoteProvider) PublicKey(ctx context.Context) (solana.PublicKey, error) {
	var res PublicKeyResult
	if err := p.conn.call(ctx, p.target, MethodPublicKey, nil, &res); err != nil {
		return solana.PublicKey{}, err
	}
	return parseKey(res.PublicKey)
}

func (p *remoteProvider) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	encoded, err := EncodeTransaction(tx)
	if err != nil {
		return nil, err
	}
	var res TransactionPayload
	if err := p.conn.call(ctx, p.target, MethodSignTransaction, TransactionPayload{Transaction: encoded}, &res); err != nil {
		return nil, err
	}
	if res.Transaction == "" {
		return nil, fmt.Errorf("%s.%s returned no transaction", p.target, MethodSignTransaction)
	}
	return DecodeTransaction(res.Transaction)
}

// parseKey treats an empty key as "no account" and returns the zero key.
func parseKey(s string) (solana.PublicKey, error) {
	if s == "" {
		return solana.PublicKey{}, nil
	}
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("bridge returned invalid public key: %w", err)
	}
	return pk, nil
}
