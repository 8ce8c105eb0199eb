package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testPlayer   = common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")
	testContract = common.HexToAddress("0x60E853B7d8A89841c93f67356F53dbc927868310")
)

// settledLog builds a GameSettled log the way the contract emits it:
// indexed gameId and player in topics, (result, payout, fee) ABI-encoded
// in the data segment.
func settledLog(gameID int64, player common.Address, result Side, payoutWei, feeWei int64) *types.Log {
	data := make([]byte, 0, 96)
	data = append(data, common.LeftPadBytes([]byte{byte(result)}, 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(payoutWei).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(feeWei).Bytes(), 32)...)

	return &types.Log{
		Address: testContract,
		Topics: []common.Hash{
			GameSettledTopic,
			common.BigToHash(big.NewInt(gameID)),
			common.BytesToHash(player.Bytes()),
		},
		Data:        data,
		TxHash:      common.HexToHash("0x01"),
		BlockNumber: 1234,
	}
}

func TestDecodeSettlement(t *testing.T) {
	log := settledLog(42, testPlayer, SideTails, 18000000000000000, 1000000000000000)

	s, err := DecodeSettlement(log)
	require.NoError(t, err)

	assert.Equal(t, "42", s.GameID.String())
	assert.Equal(t, testPlayer, s.Player)
	assert.Equal(t, SideTails, s.Result)
	assert.Equal(t, "18000000000000000", s.PayoutAmount.String())
	assert.Equal(t, "1000000000000000", s.FeeAmount.String())
	assert.Equal(t, uint64(1234), s.BlockNumber)

	// The payout renders for display as expected.
	assert.Equal(t, "0.018", FormatEther(s.PayoutAmount))
}

func TestDecodeSettlement_WrongTopic(t *testing.T) {
	log := settledLog(1, testPlayer, SideHeads, 0, 0)
	log.Topics[0] = common.HexToHash("0xdeadbeef")

	_, err := DecodeSettlement(log)
	require.Error(t, err)
}

func TestDecodeSettlement_TopicArity(t *testing.T) {
	log := settledLog(1, testPlayer, SideHeads, 0, 0)
	log.Topics = log.Topics[:2]

	_, err := DecodeSettlement(log)
	require.Error(t, err)
}

func TestFindSettlement_MatchesPlayer(t *testing.T) {
	other := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	logs := []*types.Log{
		settledLog(1, other, SideHeads, 0, 500),
		settledLog(2, testPlayer, SideHeads, 18000000000000000, 1000),
	}

	s, err := FindSettlement(logs, testPlayer)
	require.NoError(t, err)
	assert.Equal(t, "2", s.GameID.String())
	assert.Equal(t, testPlayer, s.Player)
}

func TestFindSettlement_CaseInsensitiveAddressCompare(t *testing.T) {
	// Query with the all-lowercase rendition of the same address.
	lower := common.HexToAddress("0xab5801a7d398351b8be11c439e05c5b3259aec9b")
	logs := []*types.Log{settledLog(7, testPlayer, SideTails, 0, 500)}

	s, err := FindSettlement(logs, lower)
	require.NoError(t, err)
	assert.Equal(t, "7", s.GameID.String())
}

func TestFindSettlement_NotFound(t *testing.T) {
	other := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	logs := []*types.Log{settledLog(1, other, SideHeads, 0, 500)}

	_, err := FindSettlement(logs, testPlayer)
	require.ErrorIs(t, err, ErrSettlementNotFound)
}

func TestFindSettlement_SkipsUndecodableLogs(t *testing.T) {
	junk := &types.Log{
		Topics: []common.Hash{common.HexToHash("0xbeef")},
		Data:   []byte{0x01},
	}
	logs := []*types.Log{junk, settledLog(3, testPlayer, SideHeads, 36000000000000000, 2000)}

	s, err := FindSettlement(logs, testPlayer)
	require.NoError(t, err)
	assert.Equal(t, "3", s.GameID.String())
}
