package solana

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// realRPCClient adapts the actual solana-go RPC client to our RPCClient interface.
// This adapter allows us to control the interface and makes testing easier.
type realRPCClient struct {
	client *rpc.Client
}

// NewRPCClient creates a new RPCClient that wraps the solana-go RPC client.
// The Goldium server's own /api/v1/rpc proxy is a valid URL here too.
// For premium RPC endpoints that require API keys, include the key in the URL:
// - Helius: https://mainnet.helius-rpc.com/?api-key=YOUR-KEY
// - QuickNode: https://YOUR-ENDPOINT.quiknode.pro/YOUR-KEY/
func NewRPCClient(rpcURL string) RPCClient {
	return &realRPCClient{
		client: rpc.New(rpcURL),
	}
}

// balanceReply mirrors rpc.GetBalanceResult with an optional value, so a reply
// that omits it is not mistaken for an empty account.
type balanceReply struct {
	rpc.RPCContext
	Value *uint64 `json:"value"`
}

// GetBalance issues getBalance itself instead of calling rpc.Client.GetBalance,
// which decodes a missing or null value as zero lamports.
func (r *realRPCClient) GetBalance(
	ctx context.Context,
	account solana.PublicKey,
	commitment rpc.CommitmentType,
) (*rpc.GetBalanceResult, error) {
	params := []interface{}{account}
	if commitment != "" {
		params = append(params, rpc.M{"commitment": string(commitment)})
	}

	var out *balanceReply
	if err := r.client.RPCCallForInto(ctx, &out, "getBalance", params); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: null result", ErrMalformedResult)
	}
	if out.Value == nil {
		return nil, fmt.Errorf("%w: missing value", ErrMalformedResult)
	}
	return &rpc.GetBalanceResult{RPCContext: out.RPCContext, Value: *out.Value}, nil
}
