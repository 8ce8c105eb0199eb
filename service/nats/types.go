package nats

import (
	"math/big"
	"strings"
	"time"

	"github.com/degenlabs/coinflip/service/db"
	"github.com/degenlabs/coinflip/service/evm"
)

// SettlementEvent represents a settled coin flip published to NATS.
// This is published to the subject "flips.{player_address}" in JetStream.
type SettlementEvent struct {
	// Game identifiers
	GameID string `json:"game_id"`
	TxHash string `json:"tx_hash"`

	// Player information
	Player string `json:"player"` // lowercased hex address

	// Outcome details
	Result       string `json:"result"` // "heads" or "tails"
	Won          bool   `json:"won"`
	PayoutWei    string `json:"payout_wei"`
	PayoutEther  string `json:"payout_ether"`
	FeeWei       string `json:"fee_wei"`
	BlockNumber  uint64 `json:"block_number"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// FromChainSettlement converts a decoded on-chain settlement to a
// SettlementEvent for publishing.
func FromChainSettlement(s *evm.Settlement) *SettlementEvent {
	return &SettlementEvent{
		GameID:      s.GameID.String(),
		TxHash:      s.TxHash.Hex(),
		Player:      strings.ToLower(s.Player.Hex()),
		Result:      s.Result.String(),
		Won:         s.PayoutAmount.Sign() > 0,
		PayoutWei:   s.PayoutAmount.String(),
		PayoutEther: evm.FormatEther(s.PayoutAmount),
		FeeWei:      s.FeeAmount.String(),
		BlockNumber: s.BlockNumber,
		PublishedAt: time.Now().UTC(),
	}
}

// FromDBSettlement converts an archived settlement to a SettlementEvent
// for publishing.
func FromDBSettlement(st *db.Settlement) *SettlementEvent {
	event := &SettlementEvent{
		GameID:      st.GameID,
		TxHash:      st.TxHash,
		Player:      strings.ToLower(st.Player),
		Result:      evm.Side(st.Result).String(),
		Won:         st.Won,
		PayoutWei:   st.PayoutWei,
		FeeWei:      st.FeeWei,
		BlockNumber: uint64(st.BlockNumber),
		PublishedAt: time.Now().UTC(),
	}
	if payout, ok := new(big.Int).SetString(st.PayoutWei, 10); ok {
		event.PayoutEther = evm.FormatEther(payout)
	}
	return event
}
