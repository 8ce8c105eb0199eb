package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/degenlabs/coinflip/client"
	"github.com/urfave/cli/v2"
)

func playerCommands() *cli.Command {
	return &cli.Command{
		Name:  "player",
		Usage: "Player history-refresh registration commands",
		Subcommands: []*cli.Command{
			playerAddCommand(),
			playerRemoveCommand(),
			playerGetCommand(),
			playerListCommand(),
			playerSettlementsCommand(),
		},
	}
}

func playerAddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Aliases:   []string{"register"},
		Usage:     "Register a player for scheduled history refresh",
		ArgsUsage: "PLAYER_ADDRESS",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.DurationFlag{
				Name:    "poll-interval",
				Aliases: []string{"i"},
				Value:   30 * time.Second,
				Usage:   "How often to re-scan for new settlements (e.g., 30s, 1m)",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("player address is required")
			}

			address := c.Args().Get(0)
			pollInterval := c.Duration("poll-interval")

			cl := client.NewClient(c.String("server"), nil, quietLogger())

			player, err := cl.RegisterPlayer(context.Background(), address, pollInterval)
			if err != nil {
				return fmt.Errorf("failed to register player: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.Marshal(player)
				fmt.Println(string(data))
			} else {
				fmt.Printf("✓ Player registered successfully\n")
				fmt.Printf("  Address: %s\n", player.Address)
				fmt.Printf("  Poll Interval: %s\n", player.PollInterval)
			}
			return nil
		},
	}
}

func playerRemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Aliases:   []string{"rm", "unregister"},
		Usage:     "Unregister a player from scheduled refresh",
		ArgsUsage: "PLAYER_ADDRESS",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("player address is required")
			}

			address := c.Args().Get(0)
			cl := client.NewClient(c.String("server"), nil, quietLogger())

			if err := cl.UnregisterPlayer(context.Background(), address); err != nil {
				return fmt.Errorf("failed to unregister player: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.Marshal(map[string]string{
					"address": address,
					"status":  "unregistered",
				})
				fmt.Println(string(data))
			} else {
				fmt.Printf("✓ Player unregistered\n")
				fmt.Printf("  Address: %s\n", address)
			}
			return nil
		},
	}
}

func playerGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show a player's registration details",
		ArgsUsage: "PLAYER_ADDRESS",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("player address is required")
			}

			cl := client.NewClient(c.String("server"), nil, quietLogger())

			player, err := cl.GetPlayer(context.Background(), c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to get player: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.Marshal(player)
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Address: %s\n", player.Address)
			fmt.Printf("Poll Interval: %s\n", player.PollInterval)
			fmt.Printf("Status: %s\n", player.Status)
			if player.LastPollTime != nil {
				fmt.Printf("Last Poll: %s\n", player.LastPollTime.Format(time.RFC3339))
			} else {
				fmt.Printf("Last Poll: never\n")
			}
			return nil
		},
	}
}

func playerListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List all registered players",
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

			players, err := cl.ListPlayers(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list players: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.Marshal(players)
				fmt.Println(string(data))
				return nil
			}

			if len(players) == 0 {
				fmt.Println("No players registered")
				return nil
			}
			for _, player := range players {
				fmt.Printf("%s  interval=%s  status=%s\n",
					player.Address, player.PollInterval, player.Status)
			}
			return nil
		},
	}
}

func playerSettlementsCommand() *cli.Command {
	return &cli.Command{
		Name:      "settlements",
		Usage:     "List a player's archived settlements, newest first",
		ArgsUsage: "PLAYER_ADDRESS",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   20,
				Usage:   "Maximum settlements to fetch",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Pagination offset",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("player address is required")
			}

			cl := client.NewClient(c.String("server"), nil, quietLogger())

			page, err := cl.ListSettlements(context.Background(),
				c.Args().Get(0), c.Int("limit"), c.Int("offset"))
			if err != nil {
				return fmt.Errorf("failed to list settlements: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.Marshal(page)
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Showing %d of %d settlements\n", len(page.Settlements), page.Total)
			for _, st := range page.Settlements {
				marker := "💀"
				if st.Won {
					marker = "🎉"
				}
				fmt.Printf("%s Game %s: %s, payout %s wei (block %d, %s)\n",
					marker, st.GameID, st.Result, st.PayoutWei, st.BlockNumber, st.TxHash)
			}
			return nil
		},
	}
}
