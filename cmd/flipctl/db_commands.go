package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/degenlabs/coinflip/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listPlayersDBCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-players",
		Usage:   "List all registered players",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (active, paused, error)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			players, err := store.ListPlayers(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list players: %w", err)
			}

			statusFilter := c.String("status")
			if statusFilter != "" {
				filtered := make([]*db.Player, 0)
				for _, p := range players {
					if p.Status == statusFilter {
						filtered = append(filtered, p)
					}
				}
				players = filtered
			}

			if c.Bool("json") {
				return outputJSON(players)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tSTATUS\tPOLL INTERVAL\tLAST POLL\tCREATED")
			for _, player := range players {
				lastPoll := "never"
				if player.LastPollTime != nil {
					lastPoll = player.LastPollTime.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
					player.Address,
					player.Status,
					player.PollInterval,
					lastPoll,
					player.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d players\n", len(players))
			return nil
		},
	}
}

func listSettlementsDBCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-settlements",
		Usage:     "List archived settlements for a player, newest first",
		ArgsUsage: "<player_address>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   20,
				Usage:   "Maximum settlements to list",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Pagination offset",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: player address")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			settlements, err := store.ListSettlementsByPlayer(context.Background(), db.ListSettlementsByPlayerParams{
				Player: c.Args().First(),
				Limit:  int32(c.Int("limit")),
				Offset: int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list settlements: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(settlements)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "GAME\tRESULT\tWON\tPAYOUT (WEI)\tBLOCK\tTX")
			for _, st := range settlements {
				result := "heads"
				if st.Result == 1 {
					result = "tails"
				}
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%d\t%s\n",
					st.GameID, result, st.Won, st.PayoutWei, st.BlockNumber, st.TxHash)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d settlements\n", len(settlements))
			return nil
		},
	}
}

// getStore connects to the database using the global --database-url flag.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// outputJSON pretty-prints a value to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
