package evm

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrSettlementNotFound is returned when a receipt's logs contain no
// GameSettled entry for the given player. The transaction itself succeeded
// on-chain; only the outcome is undecodable from the logs we were handed.
var ErrSettlementNotFound = errors.New("no GameSettled event found for player")

// gameSettledData is the non-indexed payload of a GameSettled log.
type gameSettledData struct {
	Result       uint8
	PayoutAmount *big.Int
	FeeAmount    *big.Int
}

// DecodeSettlement decodes a single log as a GameSettled event.
// Logs with a different topic0 or a malformed shape produce an error, never
// a panic; callers scanning receipts skip these.
func DecodeSettlement(log *types.Log) (*Settlement, error) {
	if len(log.Topics) != 3 {
		return nil, fmt.Errorf("unexpected topic count %d for GameSettled log", len(log.Topics))
	}
	if log.Topics[0] != GameSettledTopic {
		return nil, fmt.Errorf("log topic0 %s is not GameSettled", log.Topics[0].Hex())
	}

	var data gameSettledData
	if err := coinflipABI.UnpackIntoInterface(&data, "GameSettled", log.Data); err != nil {
		return nil, fmt.Errorf("failed to unpack GameSettled data: %w", err)
	}

	return &Settlement{
		GameID:       new(big.Int).SetBytes(log.Topics[1].Bytes()),
		Player:       common.BytesToAddress(log.Topics[2].Bytes()),
		Result:       Side(data.Result),
		PayoutAmount: data.PayoutAmount,
		FeeAmount:    data.FeeAmount,
		TxHash:       log.TxHash,
		BlockNumber:  log.BlockNumber,
	}, nil
}

// FindSettlement scans receipt logs for the first GameSettled entry whose
// player matches the given address. Addresses are hex strings with no
// guaranteed casing, so the compare is lowercased. Returns
// ErrSettlementNotFound when nothing matches.
func FindSettlement(logs []*types.Log, player common.Address) (*Settlement, error) {
	want := strings.ToLower(player.Hex())
	for _, log := range logs {
		settlement, err := DecodeSettlement(log)
		if err != nil {
			continue
		}
		if strings.ToLower(settlement.Player.Hex()) == want {
			return settlement, nil
		}
	}
	return nil, ErrSettlementNotFound
}
