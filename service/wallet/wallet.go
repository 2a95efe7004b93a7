// Package wallet discovers injected wallet providers and exposes them behind a
// uniform Adapter interface.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrUnsupportedWalletKind is returned for kinds outside the fixed set.
	ErrUnsupportedWalletKind = errors.New("unsupported wallet kind")

	// ErrProviderMissing means the wallet's injected object is not present
	// (extension not installed, disabled, or bridge detached).
	ErrProviderMissing = errors.New("wallet provider missing")

	// ErrNotConnected means the provider exists but exposes no account.
	ErrNotConnected = errors.New("wallet not connected")
)

// Kind identifies a supported wallet.
type Kind string

const (
	KindPhantom  Kind = "phantom"
	KindSolflare Kind = "solflare"
	KindBackpack Kind = "backpack"
	KindTrust    Kind = "trust"
)

// Kinds returns every supported kind in registry order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, d.kind)
	}
	return out
}

// ParseKind validates a kind name. Matching is case-insensitive.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := lookupDescriptor(k); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedWalletKind, s)
	}
	return k, nil
}

func (k Kind) String() string { return string(k) }

// Provider is an injected wallet object as seen from Go: boolean marker
// properties plus the wallet's native operations.
type Provider interface {
	// Flag reports a boolean marker property such as isPhantom.
	Flag(name string) bool
	Connect(ctx context.Context) (solana.PublicKey, error)
	Disconnect(ctx context.Context) error
	// PublicKey reads the currently selected account. A zero key means the
	// wallet exposes no account.
	PublicKey(ctx context.Context) (solana.PublicKey, error)
	SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error)
}

// Environment resolves global object paths (for example "phantom.solana")
// to providers. It is the only place provider discovery happens.
type Environment interface {
	Lookup(global string) (Provider, bool)
}

// Adapter is the uniform per-kind capability interface.
type Adapter interface {
	Kind() Kind
	IsPresent() bool
	// Connect asks the wallet for access and returns the account address.
	Connect(ctx context.Context) (string, error)
	Disconnect(ctx context.Context) error
	// Address reads the live account address from the provider, not a cache.
	Address(ctx context.Context) (string, error)
	SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error)
}

// descriptor maps a kind to where its provider is injected and which marker
// proves the object really belongs to that wallet.
type descriptor struct {
	kind      Kind
	global    string
	alternate string
	marker    string
}

var descriptors = []descriptor{
	{kind: KindPhantom, global: "solana", alternate: "phantom.solana", marker: "isPhantom"},
	{kind: KindSolflare, global: "solflare", alternate: "solana", marker: "isSolflare"},
	{kind: KindBackpack, global: "backpack", alternate: "xnft.solana", marker: "isBackpack"},
	{kind: KindTrust, global: "trustwallet.solana", alternate: "trustwallet", marker: "isTrust"},
}

func lookupDescriptor(kind Kind) (descriptor, bool) {
	for _, d := range descriptors {
		if d.kind == kind {
			return d, true
		}
	}
	return descriptor{}, false
}

// resolve returns the first of the primary and alternate globals that holds a
// provider carrying this kind's marker. Objects without the marker belong to
// some other wallet and are ignored.
func (d descriptor) resolve(env Environment) (Provider, bool) {
	if env == nil {
		return nil, false
	}
	marked := func(p Provider) bool { return p.Flag(d.marker) }
	for _, global := range []string{d.global, d.alternate} {
		if global == "" {
			continue
		}
		if p, ok := find(env, global, marked); ok {
			return p, true
		}
	}
	return nil, false
}

// Registry is the static set of supported wallets over one environment.
type Registry struct {
	env Environment
}

// NewRegistry creates a registry that looks providers up in env.
func NewRegistry(env Environment) *Registry {
	return &Registry{env: env}
}

// ListAvailable returns the kinds whose provider is currently injected.
func (r *Registry) ListAvailable() []Kind {
	var out []Kind
	for _, d := range descriptors {
		if _, ok := d.resolve(r.env); ok {
			out = append(out, d.kind)
		}
	}
	return out
}

// Get returns the adapter for kind, whether or not it is present.
func (r *Registry) Get(kind Kind) (Adapter, error) {
	d, ok := lookupDescriptor(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedWalletKind, string(kind))
	}
	return &adapter{desc: d, env: r.env}, nil
}

// adapter re-resolves its provider on every call so a vanished extension is
// noticed immediately.
type adapter struct {
	desc descriptor
	env  Environment
}

func (a *adapter) Kind() Kind { return a.desc.kind }

func (a *adapter) IsPresent() bool {
	_, ok := a.desc.resolve(a.env)
	return ok
}

func (a *adapter) provider() (Provider, error) {
	p, ok := a.desc.resolve(a.env)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderMissing, a.desc.kind)
	}
	return p, nil
}

func (a *adapter) Connect(ctx context.Context) (string, error) {
	p, err := a.provider()
	if err != nil {
		return "", err
	}
	pk, err := p.Connect(ctx)
	if err != nil {
		return "", err
	}
	if pk.IsZero() {
		return "", fmt.Errorf("%s connect returned no account: %w", a.desc.kind, ErrNotConnected)
	}
	return pk.String(), nil
}

func (a *adapter) Disconnect(ctx context.Context) error {
	p, err := a.provider()
	if err != nil {
		return err
	}
	return p.Disconnect(ctx)
}

func (a *adapter) Address(ctx context.Context) (string, error) {
	p, err := a.provider()
	if err != nil {
		return "", err
	}
	pk, err := p.PublicKey(ctx)
	if err != nil {
		return "", err
	}
	if pk.IsZero() {
		return "", fmt.Errorf("%s: %w", a.desc.kind, ErrNotConnected)
	}
	return pk.String(), nil
}

func (a *adapter) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction")
	}
	p, err := a.provider()
	if err != nil {
		return nil, err
	}
	return p.SignTransaction(ctx, tx)
}
