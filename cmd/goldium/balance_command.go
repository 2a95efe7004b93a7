package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/goldium/service/solana"
	"github.com/urfave/cli/v2"
)

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Fetch a SOL balance directly from RPC, with endpoint fallback",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "rpc-url",
				Usage:   "RPC endpoint, tried in the order given (can be specified multiple times)",
				EnvVars: []string{"SOLANA_RPC_URLS"},
				Value:   cli.NewStringSlice("https://api.mainnet-beta.solana.com"),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Per-endpoint timeout",
				Value: 5 * time.Second,
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log each endpoint attempt to stderr",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			address := c.Args().Get(0)

			level := slog.LevelError
			if c.Bool("verbose") {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			urls := c.StringSlice("rpc-url")
			fetcher := solana.NewBalanceFetcher(solana.NewEndpoints(urls), c.Duration("timeout"), nil, logger)

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout")*time.Duration(len(urls)+1))
			defer cancel()

			bal, err := fetcher.FetchBalance(ctx, address)
			if err != nil {
				return fmt.Errorf("failed to fetch balance: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, map[string]interface{}{
					"address":    address,
					"lamports":   bal.Lamports,
					"sol":        bal.SOL.String(),
					"endpoint":   bal.Endpoint,
					"fetched_at": bal.FetchedAt.Format(time.RFC3339),
				})
			}
			fmt.Fprintf(c.App.Writer, "%s SOL\n", bal.SOL.String())
			fmt.Fprintf(c.App.Writer, "  Address:  %s\n", address)
			fmt.Fprintf(c.App.Writer, "  Lamports: %d\n", bal.Lamports)
			fmt.Fprintf(c.App.Writer, "  Endpoint: %s\n", bal.Endpoint)
			return nil
		},
	}
}
