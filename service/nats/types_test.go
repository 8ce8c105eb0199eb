package nats

import (
	"math/big"
	"testing"

	"github.com/degenlabs/coinflip/service/db"
	"github.com/degenlabs/coinflip/service/evm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectForPlayer(t *testing.T) {
	assert.Equal(t, "flips.0xab5801a7d398351b8be11c439e05c5b3259aec9b",
		SubjectForPlayer("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"))
}

func TestFromChainSettlement(t *testing.T) {
	settlement := &evm.Settlement{
		GameID:       big.NewInt(7),
		Player:       common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"),
		Result:       evm.SideTails,
		PayoutAmount: big.NewInt(18000000000000000),
		FeeAmount:    big.NewInt(1000000000000000),
		TxHash:       common.HexToHash("0x2a"),
		BlockNumber:  1234,
	}

	event := FromChainSettlement(settlement)

	assert.Equal(t, "7", event.GameID)
	assert.Equal(t, "0xab5801a7d398351b8be11c439e05c5b3259aec9b", event.Player)
	assert.Equal(t, "tails", event.Result)
	assert.True(t, event.Won)
	assert.Equal(t, "18000000000000000", event.PayoutWei)
	assert.Equal(t, "0.018", event.PayoutEther)
	assert.Equal(t, uint64(1234), event.BlockNumber)
	assert.False(t, event.PublishedAt.IsZero())
}

func TestFromChainSettlement_LossHasNoPayout(t *testing.T) {
	settlement := &evm.Settlement{
		GameID:       big.NewInt(8),
		Player:       common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"),
		Result:       evm.SideHeads,
		PayoutAmount: big.NewInt(0),
		FeeAmount:    big.NewInt(1000000000000000),
	}

	event := FromChainSettlement(settlement)

	assert.False(t, event.Won)
	assert.Equal(t, "0", event.PayoutWei)
	assert.Equal(t, "0", event.PayoutEther)
}

func TestFromDBSettlement(t *testing.T) {
	st := &db.Settlement{
		GameID:      "7",
		Player:      "0xAB5801A7D398351B8BE11C439E05C5B3259AEC9B",
		Result:      1,
		PayoutWei:   "18000000000000000",
		FeeWei:      "1000000000000000",
		Won:         true,
		TxHash:      "0x2a",
		BlockNumber: 1234,
	}

	event := FromDBSettlement(st)

	assert.Equal(t, "7", event.GameID)
	assert.Equal(t, "0xab5801a7d398351b8be11c439e05c5b3259aec9b", event.Player)
	assert.Equal(t, "tails", event.Result)
	assert.Equal(t, "0.018", event.PayoutEther)
	assert.Equal(t, uint64(1234), event.BlockNumber)
}

func TestMockPublisher(t *testing.T) {
	publisher := NewMockPublisher()

	event := &SettlementEvent{GameID: "7", Player: "0xab5801a7d398351b8be11c439e05c5b3259aec9b"}
	require.NoError(t, publisher.PublishSettlement(t.Context(), event))

	assert.Equal(t, 1, publisher.GetPublishedEventCount())
	events := publisher.GetPublishedEventsForPlayer("0xab5801a7d398351b8be11c439e05c5b3259aec9b")
	require.Len(t, events, 1)
	assert.Equal(t, "7", events[0].GameID)

	publisher.Reset()
	assert.Equal(t, 0, publisher.GetPublishedEventCount())
}
