package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	natspkg "github.com/degenlabs/coinflip/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to settlement events for a player.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to settlement events for a player",
		ArgsUsage: "[player_address]",
		Description: `Subscribe to real-time settlement events published to NATS JetStream.

Events are published to the subject flips.{player_address} (lowercased).
With no argument, all players' settlements are streamed.

Example:
  flipctl nats subscribe 0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			subject := natspkg.StreamSubjects
			if c.NArg() > 0 {
				subject = natspkg.SubjectForPlayer(c.Args().Get(0))
			}
			return streamSettlements(subject, c.String("nats-url"), c.Bool("json"))
		},
	}
}

// inspectStreamCommand shows JetStream stream info for the settlements stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Show JetStream stream info for the settlements stream",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			stream, err := js.Stream(ctx, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream %q: %w", natspkg.StreamName, err)
			}

			info, err := stream.Info(ctx)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.Marshal(info)
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Stream: %s\n", info.Config.Name)
			fmt.Printf("Subjects: %s\n", strings.Join(info.Config.Subjects, ", "))
			fmt.Printf("Messages: %d\n", info.State.Msgs)
			fmt.Printf("Bytes: %d\n", info.State.Bytes)
			fmt.Printf("First Seq: %d\n", info.State.FirstSeq)
			fmt.Printf("Last Seq: %d\n", info.State.LastSeq)
			fmt.Printf("Consumers: %d\n", info.State.Consumers)
			return nil
		},
	}
}

// streamSettlements connects to NATS and streams settlement events until
// interrupted.
func streamSettlements(subject, natsURL string, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s\n", subject)
		fmt.Printf("   NATS: %s\n", natsURL)
		fmt.Printf("\nWaiting for settlements... (Ctrl-C to exit)\n\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	msgChan := make(chan jetstream.Msg, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	received := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.SettlementEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				msg.Ack()
				continue
			}

			received++

			if jsonOutput {
				data, _ := json.Marshal(event)
				fmt.Println(string(data))
			} else {
				marker := "💀"
				if event.Won {
					marker = "🎉"
				}
				fmt.Printf("%s Settlement received (#%d)\n", marker, received)
				fmt.Printf("   Game: %s\n", event.GameID)
				fmt.Printf("   Player: %s\n", event.Player)
				fmt.Printf("   Result: %s\n", event.Result)
				fmt.Printf("   Payout: %s ETH\n", event.PayoutEther)
				fmt.Printf("   Tx: %s\n", event.TxHash)
				fmt.Printf("   Published: %s\n\n", event.PublishedAt.Format(time.RFC3339))
			}

			msg.Ack()

		case <-shutdown:
			if !jsonOutput {
				fmt.Printf("\nReceived %d settlement(s)\n", received)
			}
			return nil
		}
	}
}
