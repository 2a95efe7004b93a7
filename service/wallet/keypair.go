package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// KeypairProvider is a dev wallet backed by a local keypair. It answers to
// the marker of the kind it impersonates.
type KeypairProvider struct {
	key    solana.PrivateKey
	marker string

	mu        sync.Mutex
	connected bool
}

// NewKeypairProvider wraps key and impersonates kind.
func NewKeypairProvider(key solana.PrivateKey, kind Kind) (*KeypairProvider, error) {
	marker, ok := Marker(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedWalletKind, string(kind))
	}
	return &KeypairProvider{key: key, marker: marker}, nil
}

// LoadKeypairProvider reads a Solana CLI keygen file (a JSON byte array).
func LoadKeypairProvider(path string, kind Kind) (*KeypairProvider, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair %s: %w", path, err)
	}
	return NewKeypairProvider(key, kind)
}

func (p *KeypairProvider) Flag(name string) bool {
	return name == p.marker
}

func (p *KeypairProvider) Connect(ctx context.Context) (solana.PublicKey, error) {
	if err := ctx.Err(); err != nil {
		return solana.PublicKey{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return p.key.PublicKey(), nil
}

func (p *KeypairProvider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

func (p *KeypairProvider) PublicKey(ctx context.Context) (solana.PublicKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return solana.PublicKey{}, nil
	}
	return p.key.PublicKey(), nil
}

// SignTransaction adds this key's signature. Other required signers are
// left untouched.
func (p *KeypairProvider) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return nil, ErrNotConnected
	}

	pub := p.key.PublicKey()
	if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(pub) {
			return &p.key
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, nil
}
