package main

import (
	"fmt"
	"time"

	"github.com/brojonat/goldium/client"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

func historyCommands() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Transaction history commands",
		Subcommands: []*cli.Command{
			historyListCommand(),
			historyRecordCommand(),
			historyClearCommand(),
		},
	}
}

func historyListCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "List history records for a wallet, newest first",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter a record must satisfy to be shown (can be specified multiple times, all must match)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of records to show (0 shows all)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			address := c.Args().Get(0)

			matcher, err := compileJQ(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			cl, err := newClient(c)
			if err != nil {
				return err
			}
			records, err := cl.History(c.Context, address)
			if err != nil {
				return fmt.Errorf("failed to load history: %w", err)
			}

			filtered := make([]client.HistoryRecord, 0, len(records))
			for _, r := range records {
				if matcher.Match(r) {
					filtered = append(filtered, r)
				}
			}
			if limit := c.Int("limit"); limit > 0 && len(filtered) > limit {
				filtered = filtered[:limit]
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, filtered)
			}
			printHistory(c.App.Writer, address, filtered)
			return nil
		},
	}
}

func historyRecordCommand() *cli.Command {
	return &cli.Command{
		Name:      "record",
		Aliases:   []string{"add"},
		Usage:     "Append a completed operation to a wallet's history",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "id",
				Usage:    "Transaction signature",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "kind",
				Usage:    "Operation kind (swap, stake, unstake, send)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "amount",
				Usage: "Primary amount",
				Value: "0",
			},
			&cli.StringFlag{
				Name:  "amount-secondary",
				Usage: "Secondary amount (e.g. the output side of a swap)",
				Value: "0",
			},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Outcome (success, failed)",
				Value: "success",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			address := c.Args().Get(0)

			primary, err := decimal.NewFromString(c.String("amount"))
			if err != nil {
				return fmt.Errorf("invalid --amount: %w", err)
			}
			secondary, err := decimal.NewFromString(c.String("amount-secondary"))
			if err != nil {
				return fmt.Errorf("invalid --amount-secondary: %w", err)
			}

			cl, err := newClient(c)
			if err != nil {
				return err
			}
			rec := client.HistoryRecord{
				ID:              c.String("id"),
				Kind:            c.String("kind"),
				AmountPrimary:   primary,
				AmountSecondary: secondary,
				Status:          c.String("status"),
				OccurredAt:      time.Now().UTC(),
			}
			if err := cl.RecordHistory(c.Context, address, rec); err != nil {
				return fmt.Errorf("failed to record history: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, rec)
			}
			fmt.Fprintf(c.App.Writer, "✓ Recorded %s %s for %s\n", rec.Kind, rec.ID, address)
			return nil
		},
	}
}

func historyClearCommand() *cli.Command {
	return &cli.Command{
		Name:      "clear",
		Usage:     "Delete every history record for a wallet",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			address := c.Args().Get(0)

			cl, err := newClient(c)
			if err != nil {
				return err
			}
			if err := cl.ClearHistory(c.Context, address); err != nil {
				return fmt.Errorf("failed to clear history: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✓ Cleared history for %s\n", address)
			return nil
		},
	}
}
