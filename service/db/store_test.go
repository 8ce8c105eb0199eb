package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPlayer = "0xab5801a7d398351b8be11c439e05c5b3259aec9b"

func testSettlementParams(gameID string) InsertSettlementParams {
	return InsertSettlementParams{
		GameID:      gameID,
		Player:      testPlayer,
		Result:      1,
		PayoutWei:   "18000000000000000",
		FeeWei:      "1000000000000000",
		Won:         true,
		TxHash:      "0x2a8f3b1c",
		BlockNumber: 1234,
	}
}

func TestInsertSettlement(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	params := testSettlementParams("7")

	st, err := store.InsertSettlement(ctx, params)
	require.NoError(t, err)
	require.NotNil(t, st)

	assert.Equal(t, "7", st.GameID)
	assert.Equal(t, testPlayer, st.Player)
	assert.Equal(t, int16(1), st.Result)
	assert.Equal(t, "18000000000000000", st.PayoutWei)
	assert.Equal(t, "1000000000000000", st.FeeWei)
	assert.True(t, st.Won)
	assert.False(t, st.CreatedAt.IsZero())
}

func TestInsertSettlement_DuplicateGameAndPlayer(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	_, err := store.InsertSettlement(ctx, testSettlementParams("7"))
	require.NoError(t, err)

	_, err = store.InsertSettlement(ctx, testSettlementParams("7"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate key")
}

func TestInsertSettlement_LargeWeiValues(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	params := testSettlementParams("9")
	// Larger than uint64; NUMERIC must hold it without truncation.
	params.PayoutWei = "123456789012345678901234567890"

	st, err := store.InsertSettlement(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", st.PayoutWei)
}

func TestGetSettlement(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	_, err := store.InsertSettlement(ctx, testSettlementParams("7"))
	require.NoError(t, err)

	st, err := store.GetSettlement(ctx, "7", testPlayer)
	require.NoError(t, err)
	assert.Equal(t, "7", st.GameID)

	_, err = store.GetSettlement(ctx, "404", testPlayer)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestSettlementExists(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	_, err := store.InsertSettlement(ctx, testSettlementParams("7"))
	require.NoError(t, err)

	exists, err := store.SettlementExists(ctx, "7", testPlayer)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.SettlementExists(ctx, "8", testPlayer)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestListSettlementsByPlayer_NewestFirstPaginated(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		params := testSettlementParams(string(rune('0' + i)))
		params.BlockNumber = 1000 + i
		_, err := store.InsertSettlement(ctx, params)
		require.NoError(t, err)
	}

	settlements, err := store.ListSettlementsByPlayer(ctx, ListSettlementsByPlayerParams{
		Player: testPlayer,
		Limit:  3,
		Offset: 0,
	})
	require.NoError(t, err)
	require.Len(t, settlements, 3)
	assert.Equal(t, "5", settlements[0].GameID, "newest (highest block) first")
	assert.Equal(t, "3", settlements[2].GameID)

	settlements, err = store.ListSettlementsByPlayer(ctx, ListSettlementsByPlayerParams{
		Player: testPlayer,
		Limit:  3,
		Offset: 3,
	})
	require.NoError(t, err)
	require.Len(t, settlements, 2)
	assert.Equal(t, "2", settlements[0].GameID)

	count, err := store.CountSettlementsByPlayer(ctx, testPlayer)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestGetSettlementGameIDsByPlayer(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		params := testSettlementParams(string(rune('0' + i)))
		params.BlockNumber = 1000 + i
		_, err := store.InsertSettlement(ctx, params)
		require.NoError(t, err)
	}

	ids, err := store.GetSettlementGameIDsByPlayer(ctx, testPlayer, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "2", "1"}, ids)

	ids, err = store.GetSettlementGameIDsByPlayer(ctx, "0x0000000000000000000000000000000000000000", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDeleteSettlementsOlderThan(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	_, err := store.InsertSettlement(ctx, testSettlementParams("7"))
	require.NoError(t, err)

	// A cutoff in the past keeps the fresh row.
	require.NoError(t, store.DeleteSettlementsOlderThan(ctx, time.Now().Add(-time.Hour)))
	count, err := store.CountSettlementsByPlayer(ctx, testPlayer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, store.DeleteSettlementsOlderThan(ctx, time.Now().Add(time.Hour)))
	count, err = store.CountSettlementsByPlayer(ctx, testPlayer)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestUpsertPlayer(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	player, err := store.UpsertPlayer(ctx, UpsertPlayerParams{
		Address:      testPlayer,
		PollInterval: 30 * time.Second,
		Status:       "active",
	})
	require.NoError(t, err)
	assert.Equal(t, testPlayer, player.Address)
	assert.Equal(t, 30*time.Second, player.PollInterval)
	assert.Equal(t, "active", player.Status)
	assert.Nil(t, player.LastPollTime)

	// Upsert with a new interval updates in place.
	player, err = store.UpsertPlayer(ctx, UpsertPlayerParams{
		Address:      testPlayer,
		PollInterval: time.Minute,
		Status:       "active",
	})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, player.PollInterval)

	players, err := store.ListPlayers(ctx)
	require.NoError(t, err)
	assert.Len(t, players, 1)
}

func TestGetPlayer_NotFound(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	_, err := store.GetPlayer(context.Background(), testPlayer)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestListActivePlayers(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	_, err := store.UpsertPlayer(ctx, UpsertPlayerParams{
		Address:      testPlayer,
		PollInterval: 30 * time.Second,
		Status:       "active",
	})
	require.NoError(t, err)

	_, err = store.UpsertPlayer(ctx, UpsertPlayerParams{
		Address:      "0x0000000000000000000000000000000000000001",
		PollInterval: 30 * time.Second,
		Status:       "paused",
	})
	require.NoError(t, err)

	active, err := store.ListActivePlayers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, testPlayer, active[0].Address)
}

func TestUpdatePlayerPollTime(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	_, err := store.UpsertPlayer(ctx, UpsertPlayerParams{
		Address:      testPlayer,
		PollInterval: 30 * time.Second,
		Status:       "active",
	})
	require.NoError(t, err)

	pollTime := time.Now().UTC().Truncate(time.Microsecond)
	player, err := store.UpdatePlayerPollTime(ctx, testPlayer, pollTime)
	require.NoError(t, err)
	require.NotNil(t, player.LastPollTime)
	assert.WithinDuration(t, pollTime, *player.LastPollTime, time.Millisecond)
}

func TestUpdatePlayerStatus(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	_, err := store.UpsertPlayer(ctx, UpsertPlayerParams{
		Address:      testPlayer,
		PollInterval: 30 * time.Second,
		Status:       "active",
	})
	require.NoError(t, err)

	player, err := store.UpdatePlayerStatus(ctx, testPlayer, "paused")
	require.NoError(t, err)
	assert.Equal(t, "paused", player.Status)
}

func TestDeletePlayer(t *testing.T) {
	SkipIfNoTestDB(t)

	store := NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	ctx := context.Background()
	_, err := store.UpsertPlayer(ctx, UpsertPlayerParams{
		Address:      testPlayer,
		PollInterval: 30 * time.Second,
		Status:       "active",
	})
	require.NoError(t, err)

	exists, err := store.PlayerExists(ctx, testPlayer)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.DeletePlayer(ctx, testPlayer))

	exists, err = store.PlayerExists(ctx, testPlayer)
	require.NoError(t, err)
	assert.False(t, exists)
}
