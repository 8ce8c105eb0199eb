package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/degenlabs/coinflip/client"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func flipCommand() *cli.Command {
	return &cli.Command{
		Name:      "flip",
		Usage:     "Submit a coin-flip wager and wait for settlement",
		ArgsUsage: "SIDE AMOUNT",
		Description: `Submit a wager on heads or tails and block until the game settles on chain.

The amount is in ether, e.g. "0.01". Settlement can take a while on a busy
chain; the command waits as long as the timeout allows.

Example:
  flipctl flip tails 0.01 --timeout 5m`,
		Flags: []cli.Flag{
			serverFlag(),
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for settlement",
				Value: 5 * time.Minute,
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("side and amount are required, e.g. flipctl flip tails 0.01")
			}

			side := c.Args().Get(0)
			amount := c.Args().Get(1)

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			cl := client.NewClient(c.String("server"), nil, quietLogger())

			if !c.Bool("json") {
				fmt.Printf("🪙 Flipping %s for %s ETH...\n", side, amount)
			}

			attempt, err := cl.Flip(ctx, side, amount)
			if err != nil {
				return fmt.Errorf("flip failed: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.Marshal(attempt)
				fmt.Println(string(data))
				return nil
			}

			if attempt.Outcome == "win" {
				fmt.Printf("🎉 You won!\n")
			} else {
				fmt.Printf("💀 You lost.\n")
			}
			fmt.Printf("  Side: %s\n", attempt.Side)
			fmt.Printf("  Wager: %s ETH\n", attempt.WagerEther)
			fmt.Printf("  Tx: %s\n", attempt.TxHash)
			if attempt.LimitWarning != "" {
				fmt.Printf("  Warning: %s\n", attempt.LimitWarning)
			}
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show the recent settled games, newest first",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.BoolFlag{
				Name:    "refresh",
				Aliases: []string{"r"},
				Usage:   "Re-scan the chain before listing",
			},
			&cli.StringSliceFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Usage:   "jq filter applied to each entry (e.g. 'select(.won)')",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			// Compile jq filters up front so a bad expression fails fast.
			jqFilters := c.StringSlice("filter")
			compiledJQFilters := make([]*gojq.Code, len(jqFilters))
			for i, filter := range jqFilters {
				query, err := gojq.Parse(filter)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
				}
				compiledJQFilters[i], err = gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
				}
			}

			cl := client.NewClient(c.String("server"), nil, quietLogger())

			history, err := cl.History(context.Background(), c.Bool("refresh"))
			if err != nil {
				return fmt.Errorf("failed to fetch history: %w", err)
			}

			for _, entry := range history {
				if len(compiledJQFilters) > 0 {
					keep, err := matchesFilters(entry, compiledJQFilters)
					if err != nil {
						return err
					}
					if !keep {
						continue
					}
				}

				if c.Bool("json") {
					data, _ := json.Marshal(entry)
					fmt.Println(string(data))
					continue
				}

				marker := "💀"
				if entry.Won {
					marker = "🎉"
				}
				fmt.Printf("%s Game %s: %s, payout %s ETH (block %d)\n",
					marker, entry.GameID, entry.Result, entry.PayoutEther, entry.BlockNumber)
			}
			return nil
		},
	}
}

// matchesFilters runs each compiled jq filter over the entry (as generic
// JSON) and reports whether every filter produced at least one truthy value.
func matchesFilters(entry interface{}, filters []*gojq.Code) (bool, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("failed to marshal entry: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return false, fmt.Errorf("failed to unmarshal entry: %w", err)
	}

	for _, code := range filters {
		matched := false
		iter := code.Run(generic)
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				return false, fmt.Errorf("jq filter error: %w", err)
			}
			if v != nil && v != false {
				matched = true
			}
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "Show the session account's balance",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.BoolFlag{
				Name:    "refresh",
				Aliases: []string{"r"},
				Usage:   "Re-read the chain before reporting",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			cl := client.NewClient(c.String("server"), nil, quietLogger())

			balance, err := cl.Balance(context.Background(), c.Bool("refresh"))
			if err != nil {
				return fmt.Errorf("failed to fetch balance: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.Marshal(balance)
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Balance: %s ETH (%s wei)\n", balance.BalanceEther, balance.BalanceWei)
			return nil
		},
	}
}

func limitsCommand() *cli.Command {
	return &cli.Command{
		Name:  "limits",
		Usage: "Show the contract's wager bounds",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			cl := client.NewClient(c.String("server"), nil, quietLogger())

			limits, err := cl.Limits(context.Background())
			if err != nil {
				return fmt.Errorf("failed to fetch limits: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.Marshal(limits)
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Min wager: %s ETH\n", limits.MinWagerEther)
			fmt.Printf("Max wager: %s ETH\n", limits.MaxWagerEther)
			if limits.Degraded {
				fmt.Printf("⚠️  Limits are fallback values; the contract could not be read\n")
			}
			return nil
		},
	}
}
