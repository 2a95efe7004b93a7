package solana

import (
	"math/big"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// Decimals is the number of decimal places between lamports and SOL.
	Decimals = 9
	// LamportsPerSOL is 10^Decimals.
	LamportsPerSOL = 1_000_000_000
)

// Balance is a fetched account balance.
type Balance struct {
	Lamports  uint64
	SOL       decimal.Decimal
	FetchedAt time.Time
	Endpoint  string // endpoint that served the result
}

// LamportsToMajor converts lamports to SOL with an exact decimal shift.
func LamportsToMajor(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -Decimals)
}

// ExplorerTxURL returns the solscan link for a transaction signature.
func ExplorerTxURL(cluster, signature string) string {
	link := "https://solscan.io/tx/" + url.PathEscape(signature)
	if cluster != "" && cluster != "mainnet-beta" && cluster != "mainnet" {
		link += "?cluster=" + url.QueryEscape(cluster)
	}
	return link
}
