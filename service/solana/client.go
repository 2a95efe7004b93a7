package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/brojonat/goldium/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var (
	// ErrBalanceUnavailable means every configured endpoint failed. Callers must
	// treat the balance as unknown, not zero.
	ErrBalanceUnavailable = errors.New("balance unavailable")

	// ErrInvalidAddress is returned for addresses that are not base58 public keys.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrMalformedResult means an endpoint answered without a usable balance.
	ErrMalformedResult = errors.New("malformed getBalance result")
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)
}

// Endpoint is one entry in the ordered fallback list.
// Name is used for metrics and log labels.
type Endpoint struct {
	Name   string
	Client RPCClient
}

// NewEndpoints builds one Endpoint per URL, preserving order.
func NewEndpoints(urls []string) []Endpoint {
	endpoints := make([]Endpoint, 0, len(urls))
	for _, u := range urls {
		endpoints = append(endpoints, Endpoint{
			Name:   endpointName(u),
			Client: NewRPCClient(u),
		})
	}
	return endpoints
}

// endpointName reduces a URL to its host so API keys in paths or query
// strings never end up in metric labels.
func endpointName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

// BalanceFetcher queries SOL balances across an ordered list of endpoints.
type BalanceFetcher struct {
	endpoints []Endpoint
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewBalanceFetcher creates a fetcher. Each endpoint attempt is bounded by timeout.
// If metrics is nil, no metrics will be recorded.
func NewBalanceFetcher(endpoints []Endpoint, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *BalanceFetcher {
	return &BalanceFetcher{
		endpoints: endpoints,
		timeout:   timeout,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// FetchBalance returns the balance of address from the first endpoint that
// answers with a well-formed result. Endpoints are tried in order; a transport
// error, timeout, RPC error or empty result moves on to the next one.
func (f *BalanceFetcher) FetchBalance(ctx context.Context, address string) (Balance, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return Balance{}, fmt.Errorf("%w %q: %v", ErrInvalidAddress, address, err)
	}

	var errs []error
	for i, ep := range f.endpoints {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		lamports, err := f.fetchFrom(ctx, ep, pubkey)
		if err == nil {
			if f.metrics != nil {
				f.metrics.RecordBalanceFetch("success")
			}
			if i > 0 {
				f.logger.DebugContext(ctx, "balance served by fallback endpoint",
					"address", address,
					"endpoint", ep.Name,
					"position", i,
				)
			}
			return Balance{
				Lamports:  lamports,
				SOL:       LamportsToMajor(lamports),
				FetchedAt: f.now(),
				Endpoint:  ep.Name,
			}, nil
		}

		f.logger.WarnContext(ctx, "balance endpoint failed",
			"address", address,
			"endpoint", ep.Name,
			"error", err,
		)
		if f.metrics != nil && i < len(f.endpoints)-1 {
			f.metrics.RecordBalanceFallback(ep.Name)
		}
		errs = append(errs, fmt.Errorf("%s: %w", ep.Name, err))
	}

	if f.metrics != nil {
		f.metrics.RecordBalanceFetch("unavailable")
	}
	if len(errs) == 0 {
		return Balance{}, fmt.Errorf("%w: no endpoints configured", ErrBalanceUnavailable)
	}
	return Balance{}, fmt.Errorf("%w: %w", ErrBalanceUnavailable, errors.Join(errs...))
}

func (f *BalanceFetcher) fetchFrom(ctx context.Context, ep Endpoint, pubkey solana.PublicKey) (uint64, error) {
	attemptCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := ep.Client.GetBalance(attemptCtx, pubkey, rpc.CommitmentConfirmed)
	duration := time.Since(start).Seconds()

	status := "success"
	switch {
	case errors.Is(err, ErrMalformedResult):
		status = "malformed"
	case err != nil:
		status = "error"
	case result == nil:
		status = "malformed"
		err = fmt.Errorf("%w: empty result", ErrMalformedResult)
	}
	if f.metrics != nil {
		f.metrics.RecordRPCCall("getBalance", status, ep.Name, duration)
	}
	if err != nil {
		return 0, err
	}
	return result.Value, nil
}
