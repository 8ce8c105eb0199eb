package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing settlement events to NATS.
type Publisher interface {
	// PublishSettlement publishes a single settlement event to JetStream.
	// The event is published to the subject "flips.{player_address}".
	PublishSettlement(ctx context.Context, event *SettlementEvent) error

	// PublishSettlementBatch publishes multiple settlement events.
	PublishSettlementBatch(ctx context.Context, events []*SettlementEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes settlement events to NATS JetStream.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for settlements.
	StreamName = "FLIPS"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "flips.*"

	// StreamRetention is how long messages are retained.
	StreamRetention = 30 * 24 * time.Hour
)

// SubjectForPlayer returns the JetStream subject for a player's settlements.
func SubjectForPlayer(player string) string {
	return fmt.Sprintf("flips.%s", strings.ToLower(player))
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("coinflip-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:     nc,
		js:     js,
		logger: logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Coin flip settlement events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	_, err = p.js.CreateStream(ctx, streamConfig)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishSettlement publishes a single settlement event.
func (p *JetStreamPublisher) PublishSettlement(ctx context.Context, event *SettlementEvent) error {
	subject := SubjectForPlayer(event.Player)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement event: %w", err)
	}

	_, err = p.js.Publish(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish settlement: %w", err)
	}

	p.logger.Debug("published settlement event",
		"subject", subject,
		"game_id", event.GameID,
		"player", event.Player,
	)

	return nil
}

// PublishSettlementBatch publishes multiple settlement events. A failure to
// publish one event does not abort the rest of the batch.
func (p *JetStreamPublisher) PublishSettlementBatch(ctx context.Context, events []*SettlementEvent) error {
	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		if err := p.PublishSettlement(ctx, event); err != nil {
			p.logger.Error("failed to publish settlement in batch",
				"game_id", event.GameID,
				"player", event.Player,
				"error", err,
			)
			continue
		}
	}

	p.logger.Debug("published settlement batch",
		"count", len(events),
	)

	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
