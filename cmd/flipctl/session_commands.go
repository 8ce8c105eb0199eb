package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/degenlabs/coinflip/client"
	"github.com/urfave/cli/v2"
)

// serverFlag is the HTTP server URL flag shared by API commands.
func serverFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Value:   "http://localhost:8080",
		Usage:   "HTTP server URL",
		EnvVars: []string{"COINFLIP_SERVER_URL"},
	}
}

// quietLogger returns a logger suitable for CLI use: errors only, to stderr.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// discardLogger returns a logger that drops everything.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func sessionCommands() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Wallet session commands",
		Subcommands: []*cli.Command{
			sessionConnectCommand(),
			sessionDisconnectCommand(),
			sessionStatusCommand(),
		},
	}
}

func sessionConnectCommand() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Connect the server's wallet session",
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

			session, err := cl.Connect(context.Background())
			if err != nil {
				return fmt.Errorf("failed to connect session: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.Marshal(session)
				fmt.Println(string(data))
			} else {
				fmt.Printf("✓ Session connected\n")
				fmt.Printf("  Address: %s\n", session.Address)
				fmt.Printf("  State: %s\n", session.State)
			}
			return nil
		},
	}
}

func sessionDisconnectCommand() *cli.Command {
	return &cli.Command{
		Name:  "disconnect",
		Usage: "Disconnect the server's wallet session",
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

			session, err := cl.Disconnect(context.Background())
			if err != nil {
				return fmt.Errorf("failed to disconnect session: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.Marshal(session)
				fmt.Println(string(data))
			} else {
				fmt.Printf("✓ Session disconnected\n")
				if session.Error != "" {
					fmt.Printf("  Warning: %s (cleared locally)\n", session.Error)
				}
			}
			return nil
		},
	}
}

func sessionStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the current wallet session state",
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

			session, err := cl.GetSession(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get session: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.Marshal(session)
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("State: %s\n", session.State)
			if session.Address != "" {
				fmt.Printf("Address: %s\n", session.Address)
			}
			if session.Error != "" {
				fmt.Printf("Error: %s\n", session.Error)
			}
			return nil
		},
	}
}
