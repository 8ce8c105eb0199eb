package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/degenlabs/coinflip/service/db"
	"github.com/degenlabs/coinflip/service/evm"
	"github.com/degenlabs/coinflip/service/metrics"
	natspkg "github.com/degenlabs/coinflip/service/nats"
	"github.com/ethereum/go-ethereum/common"
)

// RefreshHistoryInput contains the input parameters for refreshing a
// player's settlement history.
type RefreshHistoryInput struct {
	Address string `json:"address"`
}

// RefreshHistoryResult contains the result of a history refresh.
type RefreshHistoryResult struct {
	Address         string    `json:"address"`
	SettlementCount int       `json:"settlement_count"`
	Written         int       `json:"written"`
	Skipped         int       `json:"skipped"`
	RefreshTime     time.Time `json:"refresh_time"`
	Error           *string   `json:"error,omitempty"`
}

// SettlementRecord is the workflow-payload form of a decoded settlement.
// Big numeric values travel as decimal strings so the record survives JSON
// round trips through Temporal's data converter without precision loss.
type SettlementRecord struct {
	GameID      string `json:"game_id"`
	Player      string `json:"player"`
	Result      uint8  `json:"result"`
	PayoutWei   string `json:"payout_wei"`
	FeeWei      string `json:"fee_wei"`
	Won         bool   `json:"won"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

func recordFromSettlement(s *evm.Settlement) *SettlementRecord {
	return &SettlementRecord{
		GameID:      s.GameID.String(),
		Player:      strings.ToLower(s.Player.Hex()),
		Result:      uint8(s.Result),
		PayoutWei:   s.PayoutAmount.String(),
		FeeWei:      s.FeeAmount.String(),
		Won:         s.PayoutAmount.Sign() > 0,
		TxHash:      s.TxHash.Hex(),
		BlockNumber: s.BlockNumber,
	}
}

// GetArchivedGameIDsInput contains parameters for the GetArchivedGameIDs activity.
type GetArchivedGameIDsInput struct {
	Address string `json:"address"`
}

// GetArchivedGameIDsResult contains the result of the GetArchivedGameIDs activity.
type GetArchivedGameIDsResult struct {
	GameIDs []string `json:"game_ids"`
}

// FetchSettlementsInput contains parameters for the FetchSettlements activity.
type FetchSettlementsInput struct {
	Address         string   `json:"address"`
	ExistingGameIDs []string `json:"existing_game_ids"`
}

// FetchSettlementsResult contains the result of scanning the chain.
type FetchSettlementsResult struct {
	Settlements []*SettlementRecord `json:"settlements"`
}

// WriteSettlementsInput contains parameters for the WriteSettlements activity.
type WriteSettlementsInput struct {
	Address     string              `json:"address"`
	Settlements []*SettlementRecord `json:"settlements"`
}

// WriteSettlementsResult contains the result of archiving settlements.
type WriteSettlementsResult struct {
	Written int `json:"written"`
	Skipped int `json:"skipped"` // already archived
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	InsertSettlement(ctx context.Context, params db.InsertSettlementParams) (*db.Settlement, error)
	GetSettlementGameIDsByPlayer(ctx context.Context, player string, limit int32) ([]string, error)
	UpdatePlayerPollTime(ctx context.Context, address string, pollTime time.Time) (*db.Player, error)
}

// ChainClientInterface defines the chain operations needed by activities.
// This allows for easy mocking in tests.
type ChainClientInterface interface {
	FilterSettlements(ctx context.Context, player common.Address) ([]*evm.Settlement, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
type PublisherInterface interface {
	PublishSettlement(ctx context.Context, event *natspkg.SettlementEvent) error
	PublishSettlementBatch(ctx context.Context, events []*natspkg.SettlementEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// All dependencies are explicit; metrics may be nil.
type Activities struct {
	store     StoreInterface
	chain     ChainClientInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
func NewActivities(
	store StoreInterface,
	chain ChainClientInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		chain:     chain,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// GetArchivedGameIDs fetches the game ids already archived for a player so
// the workflow can skip settlements it has seen before.
func (a *Activities) GetArchivedGameIDs(ctx context.Context, input GetArchivedGameIDsInput) (*GetArchivedGameIDsResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("GetArchivedGameIDs", input.Address, time.Since(start).Seconds())
		}
	}()

	// Cap to the most recent ids to keep the dedupe set bounded.
	const maxGameIDs = 1000
	ids, err := a.store.GetSettlementGameIDsByPlayer(ctx, strings.ToLower(input.Address), maxGameIDs)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to get archived game ids",
			"address", input.Address,
			"error", err,
		)
		return nil, fmt.Errorf("failed to get archived game ids: %w", err)
	}

	a.logger.DebugContext(ctx, "fetched archived game ids",
		"address", input.Address,
		"count", len(ids),
	)

	return &GetArchivedGameIDsResult{GameIDs: ids}, nil
}

// FetchSettlements scans the chain for the player's GameSettled events and
// returns the ones not yet archived.
func (a *Activities) FetchSettlements(ctx context.Context, input FetchSettlementsInput) (*FetchSettlementsResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("FetchSettlements", input.Address, time.Since(start).Seconds())
		}
	}()

	a.logger.DebugContext(ctx, "scanning chain for settlements",
		"address", input.Address,
		"existing_count", len(input.ExistingGameIDs),
	)

	if !common.IsHexAddress(input.Address) {
		return nil, fmt.Errorf("invalid player address %q", input.Address)
	}
	player := common.HexToAddress(input.Address)

	settlements, err := a.chain.FilterSettlements(ctx, player)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to scan chain for settlements",
			"address", input.Address,
			"error", err,
		)
		return nil, fmt.Errorf("failed to scan chain for settlements: %w", err)
	}

	existing := make(map[string]bool, len(input.ExistingGameIDs))
	for _, id := range input.ExistingGameIDs {
		existing[id] = true
	}

	records := make([]*SettlementRecord, 0, len(settlements))
	for _, s := range settlements {
		if existing[s.GameID.String()] {
			continue
		}
		records = append(records, recordFromSettlement(s))
	}

	a.logger.InfoContext(ctx, "scanned chain for settlements",
		"address", input.Address,
		"on_chain", len(settlements),
		"new", len(records),
	)

	return &FetchSettlementsResult{Settlements: records}, nil
}

// WriteSettlements archives settlements to the database, skipping ones that
// already exist, then publishes the newly written ones to NATS and bumps the
// player's last poll time.
func (a *Activities) WriteSettlements(ctx context.Context, input WriteSettlementsInput) (*WriteSettlementsResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("WriteSettlements", input.Address, time.Since(start).Seconds())
		}
	}()

	a.logger.DebugContext(ctx, "archiving settlements",
		"address", input.Address,
		"count", len(input.Settlements),
	)

	written := 0
	skipped := 0
	var archived []*db.Settlement

	for _, record := range input.Settlements {
		params := db.InsertSettlementParams{
			GameID:      record.GameID,
			Player:      strings.ToLower(record.Player),
			Result:      int16(record.Result),
			PayoutWei:   record.PayoutWei,
			FeeWei:      record.FeeWei,
			Won:         record.Won,
			TxHash:      record.TxHash,
			BlockNumber: int64(record.BlockNumber),
		}

		settlement, err := a.store.InsertSettlement(ctx, params)
		if err != nil {
			if isDuplicateKeyError(err) {
				a.logger.DebugContext(ctx, "settlement already archived, skipping",
					"game_id", record.GameID,
				)
				skipped++
				continue
			}
			a.logger.ErrorContext(ctx, "failed to archive settlement",
				"game_id", record.GameID,
				"error", err,
			)
			return nil, fmt.Errorf("failed to archive settlement %s: %w", record.GameID, err)
		}

		written++
		archived = append(archived, settlement)
	}

	// Settlements are persisted; poll-time bookkeeping is best-effort.
	if _, err := a.store.UpdatePlayerPollTime(ctx, strings.ToLower(input.Address), time.Now()); err != nil {
		a.logger.WarnContext(ctx, "failed to update player poll time",
			"address", input.Address,
			"error", err,
		)
	}

	a.logger.InfoContext(ctx, "archived settlements",
		"address", input.Address,
		"written", written,
		"skipped", skipped,
	)

	// Publish newly archived settlements; persistence succeeded, so fan-out
	// failures are logged, not fatal.
	if len(archived) > 0 && a.publisher != nil {
		events := make([]*natspkg.SettlementEvent, 0, len(archived))
		for _, settlement := range archived {
			events = append(events, natspkg.FromDBSettlement(settlement))
		}

		if err := a.publisher.PublishSettlementBatch(ctx, events); err != nil {
			a.logger.ErrorContext(ctx, "failed to publish settlements to NATS",
				"address", input.Address,
				"count", len(events),
				"error", err,
			)
		} else {
			a.logger.DebugContext(ctx, "published settlements to NATS",
				"address", input.Address,
				"count", len(events),
			)
		}
	}

	return &WriteSettlementsResult{Written: written, Skipped: skipped}, nil
}

// isDuplicateKeyError checks if an error is a duplicate key constraint
// violation, which happens when archiving a settlement that already exists.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "already exists")
}
