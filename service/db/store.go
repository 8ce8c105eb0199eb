package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the service.
// Settled games are archived here for audit and API pagination; the wager
// flow's bounded in-memory history remains the UI's source of truth.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// schema holds the DDL for the service's tables. Applied idempotently at
// startup via EnsureSchema.
const schema = `
CREATE TABLE IF NOT EXISTS settlements (
	game_id      NUMERIC     NOT NULL,
	player       TEXT        NOT NULL,
	result       SMALLINT    NOT NULL,
	payout_wei   NUMERIC     NOT NULL,
	fee_wei      NUMERIC     NOT NULL,
	won          BOOLEAN     NOT NULL,
	tx_hash      TEXT        NOT NULL,
	block_number BIGINT      NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (game_id, player)
);
CREATE INDEX IF NOT EXISTS settlements_player_block_idx
	ON settlements (player, block_number DESC);

CREATE TABLE IF NOT EXISTS players (
	address        TEXT        NOT NULL PRIMARY KEY,
	poll_interval  INTERVAL    NOT NULL,
	last_poll_time TIMESTAMPTZ,
	status         TEXT        NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the service tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Settlement represents an archived GameSettled event.
// Big numeric values (game id, wei amounts) are carried as decimal strings
// to round-trip through NUMERIC columns without precision loss.
type Settlement struct {
	GameID      string
	Player      string // lowercased hex address
	Result      int16
	PayoutWei   string
	FeeWei      string
	Won         bool
	TxHash      string
	BlockNumber int64
	CreatedAt   time.Time
}

// InsertSettlementParams contains the parameters for archiving a settlement.
type InsertSettlementParams struct {
	GameID      string
	Player      string
	Result      int16
	PayoutWei   string
	FeeWei      string
	Won         bool
	TxHash      string
	BlockNumber int64
}

// InsertSettlement archives a settlement. Inserting the same (game_id,
// player) twice returns a unique-constraint error; callers treat that as
// "already archived" and skip.
func (s *Store) InsertSettlement(ctx context.Context, params InsertSettlementParams) (*Settlement, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO settlements (game_id, player, result, payout_wei, fee_wei, won, tx_hash, block_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING game_id::text, player, result, payout_wei::text, fee_wei::text, won, tx_hash, block_number, created_at`,
		params.GameID, params.Player, params.Result, params.PayoutWei,
		params.FeeWei, params.Won, params.TxHash, params.BlockNumber,
	)
	return scanSettlement(row)
}

// GetSettlement retrieves a settlement by game id and player.
func (s *Store) GetSettlement(ctx context.Context, gameID, player string) (*Settlement, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT game_id::text, player, result, payout_wei::text, fee_wei::text, won, tx_hash, block_number, created_at
		FROM settlements
		WHERE game_id = $1::numeric AND player = $2`,
		gameID, player,
	)
	return scanSettlement(row)
}

// SettlementExists checks whether a settlement has already been archived.
func (s *Store) SettlementExists(ctx context.Context, gameID, player string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM settlements WHERE game_id = $1::numeric AND player = $2
		)`,
		gameID, player,
	).Scan(&exists)
	return exists, err
}

// ListSettlementsByPlayerParams contains pagination parameters.
type ListSettlementsByPlayerParams struct {
	Player string
	Limit  int32
	Offset int32
}

// ListSettlementsByPlayer retrieves archived settlements for a player,
// newest first by block number.
func (s *Store) ListSettlementsByPlayer(ctx context.Context, params ListSettlementsByPlayerParams) ([]*Settlement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT game_id::text, player, result, payout_wei::text, fee_wei::text, won, tx_hash, block_number, created_at
		FROM settlements
		WHERE player = $1
		ORDER BY block_number DESC, game_id DESC
		LIMIT $2 OFFSET $3`,
		params.Player, params.Limit, params.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSettlements(rows)
}

// GetSettlementGameIDsByPlayer retrieves the game ids already archived for a
// player, newest first, capped to limit. Used to dedupe before re-scanning
// the chain.
func (s *Store) GetSettlementGameIDsByPlayer(ctx context.Context, player string, limit int32) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT game_id::text
		FROM settlements
		WHERE player = $1
		ORDER BY block_number DESC, game_id DESC
		LIMIT $2`,
		player, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountSettlementsByPlayer counts archived settlements for a player.
func (s *Store) CountSettlementsByPlayer(ctx context.Context, player string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM settlements WHERE player = $1`, player,
	).Scan(&count)
	return count, err
}

// DeleteSettlementsOlderThan deletes settlements archived before the given time.
func (s *Store) DeleteSettlementsOlderThan(ctx context.Context, before time.Time) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM settlements WHERE created_at < $1`, before,
	)
	return err
}

// Player represents a registered player whose settlement history the worker
// refreshes on a schedule.
type Player struct {
	Address      string
	PollInterval time.Duration
	LastPollTime *time.Time
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UpsertPlayerParams contains the parameters for registering a player.
type UpsertPlayerParams struct {
	Address      string
	PollInterval time.Duration
	Status       string
}

// UpsertPlayer registers a player for scheduled history refresh, updating
// the interval and status if the player already exists.
func (s *Store) UpsertPlayer(ctx context.Context, params UpsertPlayerParams) (*Player, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO players (address, poll_interval, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE
		SET poll_interval = EXCLUDED.poll_interval,
		    status = EXCLUDED.status,
		    updated_at = now()
		RETURNING address, poll_interval, last_poll_time, status, created_at, updated_at`,
		params.Address, pgIntervalFromDuration(params.PollInterval), params.Status,
	)
	return scanPlayer(row)
}

// GetPlayer retrieves a registered player by address.
func (s *Store) GetPlayer(ctx context.Context, address string) (*Player, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT address, poll_interval, last_poll_time, status, created_at, updated_at
		FROM players WHERE address = $1`,
		address,
	)
	return scanPlayer(row)
}

// ListPlayers retrieves all registered players.
func (s *Store) ListPlayers(ctx context.Context) ([]*Player, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address, poll_interval, last_poll_time, status, created_at, updated_at
		FROM players ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPlayers(rows)
}

// ListActivePlayers retrieves active players ordered by least recently polled.
func (s *Store) ListActivePlayers(ctx context.Context) ([]*Player, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address, poll_interval, last_poll_time, status, created_at, updated_at
		FROM players
		WHERE status = 'active'
		ORDER BY last_poll_time ASC NULLS FIRST`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPlayers(rows)
}

// UpdatePlayerPollTime updates the last poll time for a player.
func (s *Store) UpdatePlayerPollTime(ctx context.Context, address string, pollTime time.Time) (*Player, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE players
		SET last_poll_time = $2, updated_at = now()
		WHERE address = $1
		RETURNING address, poll_interval, last_poll_time, status, created_at, updated_at`,
		address, pollTime,
	)
	return scanPlayer(row)
}

// UpdatePlayerStatus updates a player's status.
func (s *Store) UpdatePlayerStatus(ctx context.Context, address string, status string) (*Player, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE players
		SET status = $2, updated_at = now()
		WHERE address = $1
		RETURNING address, poll_interval, last_poll_time, status, created_at, updated_at`,
		address, status,
	)
	return scanPlayer(row)
}

// DeletePlayer removes a player from scheduled history refresh.
func (s *Store) DeletePlayer(ctx context.Context, address string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM players WHERE address = $1`, address)
	return err
}

// PlayerExists checks if a player is registered.
func (s *Store) PlayerExists(ctx context.Context, address string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM players WHERE address = $1)`, address,
	).Scan(&exists)
	return exists, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettlement(row rowScanner) (*Settlement, error) {
	var st Settlement
	err := row.Scan(&st.GameID, &st.Player, &st.Result, &st.PayoutWei,
		&st.FeeWei, &st.Won, &st.TxHash, &st.BlockNumber, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func scanSettlements(rows pgx.Rows) ([]*Settlement, error) {
	var settlements []*Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, st)
	}
	return settlements, rows.Err()
}

func scanPlayer(row rowScanner) (*Player, error) {
	var p Player
	var interval pgtype.Interval
	err := row.Scan(&p.Address, &interval, &p.LastPollTime,
		&p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.PollInterval = durationFromPgInterval(interval)
	return &p, nil
}

func pgIntervalFromDuration(d time.Duration) pgtype.Interval {
	return pgtype.Interval{
		Microseconds: d.Microseconds(),
		Valid:        true,
	}
}

func durationFromPgInterval(i pgtype.Interval) time.Duration {
	if !i.Valid {
		return 0
	}
	return time.Duration(i.Microseconds) * time.Microsecond
}

func scanPlayers(rows pgx.Rows) ([]*Player, error) {
	var players []*Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}
