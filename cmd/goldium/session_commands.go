package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/goldium/client"
	"github.com/urfave/cli/v2"
)

func walletsCommand() *cli.Command {
	return &cli.Command{
		Name:  "wallets",
		Usage: "List supported wallets and which ones are installed",
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}
			list, err := cl.Wallets(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list wallets: %w", err)
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, list)
			}

			available := make(map[string]bool, len(list.Available))
			for _, k := range list.Available {
				available[k] = true
			}
			for _, k := range list.Supported {
				mark := " "
				if available[k] {
					mark = "✓"
				}
				fmt.Fprintf(c.App.Writer, "%s %s\n", mark, k)
			}
			return nil
		},
	}
}

func sessionCommands() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Wallet session commands",
		Subcommands: []*cli.Command{
			sessionStatusCommand(),
			sessionConnectCommand(),
			sessionDisconnectCommand(),
			sessionRefreshCommand(),
			sessionWatchCommand(),
		},
	}
}

func sessionStatusCommand() *cli.Command {
	return &cli.Command{
		Name:    "status",
		Aliases: []string{"get"},
		Usage:   "Show the current session state",
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}
			s, err := cl.Session(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get session: %w", err)
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, s)
			}
			printSession(c.App.Writer, s)
			return nil
		},
	}
}

func sessionConnectCommand() *cli.Command {
	return &cli.Command{
		Name:      "connect",
		Usage:     "Connect a wallet (phantom, solflare, backpack, trust)",
		ArgsUsage: "KIND",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   2 * time.Minute,
				Usage:   "How long to wait for the wallet to approve",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet kind is required")
			}
			kind := c.Args().Get(0)

			cl, err := newClient(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			if !c.Bool("json") {
				fmt.Fprintf(os.Stderr, "Waiting for %s to approve the connection...\n", kind)
			}

			s, err := cl.Connect(ctx, kind)
			if err != nil {
				var connErr *client.ConnectionError
				if errors.As(err, &connErr) {
					return fmt.Errorf("%s refused the connection: %s", connErr.Kind, connErr.Message)
				}
				return fmt.Errorf("failed to connect: %w", err)
			}

			if c.Bool("json") {
				return printJSON(c.App.Writer, s)
			}
			fmt.Fprintf(c.App.Writer, "✓ Connected\n")
			printSession(c.App.Writer, s)
			return nil
		},
	}
}

func sessionDisconnectCommand() *cli.Command {
	return &cli.Command{
		Name:  "disconnect",
		Usage: "Disconnect the current wallet",
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}
			s, err := cl.Disconnect(c.Context)
			if err != nil {
				return fmt.Errorf("failed to disconnect: %w", err)
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, s)
			}
			fmt.Fprintf(c.App.Writer, "✓ Disconnected\n")
			return nil
		},
	}
}

func sessionRefreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Request an immediate balance refresh",
		Action: func(c *cli.Context) error {
			cl, err := newClient(c)
			if err != nil {
				return err
			}
			if err := cl.RefreshBalance(c.Context); err != nil {
				return fmt.Errorf("failed to refresh balance: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✓ Balance refresh requested\n")
			return nil
		},
	}
}

func sessionWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream session state changes",
		Description: `Prints every state change until interrupted. With --until-jq the command
exits after printing the first state for which every filter is truthy, e.g.

  goldium session watch --until-jq '.mode == "connected"' --until-jq '.balance != "0"'`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "until-jq",
				Usage: "jq filter that must evaluate to true to stop (can be specified multiple times, all must match)",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "Give up after this long (0 waits forever)",
			},
		},
		Action: func(c *cli.Context) error {
			until := c.StringSlice("until-jq")
			matcher, err := compileJQ(until)
			if err != nil {
				return err
			}

			cl, err := newClient(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout := c.Duration("timeout"); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			matched := false
			err = cl.StreamSession(ctx, func(s *client.SessionState) bool {
				if c.Bool("json") {
					if err := printJSON(c.App.Writer, s); err != nil {
						return false
					}
				} else {
					fmt.Fprintln(c.App.Writer, rule)
					printSession(c.App.Writer, s)
				}
				if len(until) > 0 && matcher.Match(s) {
					matched = true
					return false
				}
				return true
			})

			if matched {
				return nil
			}
			if errors.Is(err, context.Canceled) && len(until) == 0 {
				return nil
			}
			if err != nil {
				return fmt.Errorf("session stream failed: %w", err)
			}
			if len(until) > 0 {
				return fmt.Errorf("session stream ended before filters matched")
			}
			return nil
		},
	}
}
