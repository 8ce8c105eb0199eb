package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	natspkg "github.com/degenlabs/coinflip/service/nats"
	"github.com/urfave/cli/v2"
)

func sseCommands() *cli.Command {
	return &cli.Command{
		Name:  "sse",
		Usage: "Server-Sent Events (SSE) streaming commands",
		Subcommands: []*cli.Command{
			streamCommand(),
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream settlements via SSE (HTTP)",
		ArgsUsage: "[player_address]",
		Flags: []cli.Flag{
			serverFlag(),
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output settlements as JSON (one per line)",
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server")
			playerAddress := c.Args().First()
			jsonOutput := c.Bool("json")

			var url string
			if playerAddress != "" {
				url = fmt.Sprintf("%s/api/v1/stream/flips/%s", serverURL, playerAddress)
			} else {
				url = fmt.Sprintf("%s/api/v1/stream/flips", serverURL)
			}

			// Context that cancels on interrupt
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			req.Header.Set("Accept", "text/event-stream")

			client := &http.Client{
				Timeout: 0, // No timeout for streaming
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned status %d", resp.StatusCode)
			}

			if !jsonOutput {
				if playerAddress != "" {
					fmt.Fprintf(os.Stderr, "Connected to SSE stream for player: %s\n", playerAddress)
				} else {
					fmt.Fprintf(os.Stderr, "Connected to SSE stream for all players\n")
				}
				fmt.Fprintf(os.Stderr, "Streaming settlements... (Ctrl+C to stop)\n\n")
			}

			scanner := bufio.NewScanner(resp.Body)
			var currentEvent, currentData string

			for scanner.Scan() {
				line := scanner.Text()

				// Empty line indicates end of event
				if line == "" {
					if currentEvent != "" && currentData != "" {
						if err := handleSSEEvent(currentEvent, currentData, jsonOutput); err != nil {
							fmt.Fprintf(os.Stderr, "Error handling event: %v\n", err)
						}
					}
					currentEvent = ""
					currentData = ""
					continue
				}

				if strings.HasPrefix(line, "event:") {
					currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				} else if strings.HasPrefix(line, "data:") {
					currentData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				}
			}

			if err := scanner.Err(); err != nil {
				if ctx.Err() != nil {
					if !jsonOutput {
						fmt.Fprintf(os.Stderr, "\nDisconnected\n")
					}
					return nil
				}
				return fmt.Errorf("error reading SSE stream: %w", err)
			}

			return nil
		},
	}
}

func handleSSEEvent(eventType, data string, jsonOutput bool) error {
	switch eventType {
	case "connected":
		if !jsonOutput {
			var info map[string]interface{}
			if err := json.Unmarshal([]byte(data), &info); err != nil {
				return err
			}
			if player, ok := info["player"].(string); ok {
				fmt.Fprintf(os.Stderr, "✓ Subscribed to: %s\n\n", player)
			}
		}
		return nil

	case "settlement":
		var event natspkg.SettlementEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return err
		}

		if jsonOutput {
			fmt.Println(data)
		} else {
			printSettlement(event)
		}
		return nil

	case "error":
		var errInfo map[string]interface{}
		if err := json.Unmarshal([]byte(data), &errInfo); err != nil {
			return err
		}
		return fmt.Errorf("server error: %v", errInfo["error"])

	default:
		// Unknown event type, ignore
		return nil
	}
}

func printSettlement(event natspkg.SettlementEvent) {
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Game:       %s\n", event.GameID)
	fmt.Printf("Player:     %s\n", event.Player)
	fmt.Printf("Result:     %s\n", event.Result)
	if event.Won {
		fmt.Printf("Outcome:    won, payout %s ETH\n", event.PayoutEther)
	} else {
		fmt.Printf("Outcome:    lost\n")
	}
	fmt.Printf("Tx:         %s\n", event.TxHash)
	fmt.Printf("Block:      %d\n", event.BlockNumber)
	fmt.Printf("Published:  %s\n", event.PublishedAt.Format(time.RFC3339))
	fmt.Println()
}
