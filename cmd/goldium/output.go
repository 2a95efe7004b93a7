package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/goldium/client"
	"github.com/urfave/cli/v2"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// newClient builds an API client from the global flags. Only errors are
// logged, to stderr.
func newClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(serverURL, nil, logger), nil
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func printSession(w io.Writer, s *client.SessionState) {
	fmt.Fprintf(w, "Mode:        %s\n", s.Mode)
	if s.WalletKind != "" {
		fmt.Fprintf(w, "Wallet:      %s\n", s.WalletKind)
	}
	if s.Address != "" {
		fmt.Fprintf(w, "Address:     %s\n", s.Address)
	}
	switch {
	case s.BalanceKnown():
		fmt.Fprintf(w, "Balance:     %s SOL\n", s.Balance.String())
		fmt.Fprintf(w, "Fetched At:  %s\n", s.LastBalanceFetchAt.Format(time.RFC3339))
	case s.Connected():
		// Zero here is a placeholder, not a reading.
		fmt.Fprintf(w, "Balance:     unknown\n")
		fmt.Fprintf(w, "Fetched At:  pending\n")
	}
}

func printHistory(w io.Writer, address string, records []client.HistoryRecord) {
	if len(records) == 0 {
		fmt.Fprintf(w, "No history for %s\n", address)
		return
	}
	fmt.Fprintf(w, "History for %s (%d records)\n", address, len(records))
	fmt.Fprintln(w, rule)
	for _, r := range records {
		fmt.Fprintf(w, "%s  %-8s %-8s %s / %s\n",
			r.OccurredAt.Format(time.RFC3339), r.Kind, r.Status,
			r.AmountPrimary.String(), r.AmountSecondary.String())
		fmt.Fprintf(w, "  %s\n", r.ExplorerLink)
	}
}
