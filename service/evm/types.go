package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Side is a coin side as encoded by the contract's uint8 choice/result.
type Side uint8

const (
	SideHeads Side = 0
	SideTails Side = 1
)

// String returns the lowercase name of the side.
func (s Side) String() string {
	switch s {
	case SideHeads:
		return "heads"
	case SideTails:
		return "tails"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// ParseSide parses a side name. Matching is case-insensitive.
func ParseSide(text string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "heads":
		return SideHeads, nil
	case "tails":
		return SideTails, nil
	default:
		return 0, fmt.Errorf("invalid side %q: must be heads or tails", text)
	}
}

// Settlement is a decoded GameSettled event plus the log's chain position.
type Settlement struct {
	GameID       *big.Int       `json:"game_id"`
	Player       common.Address `json:"player"`
	Result       Side           `json:"result"`
	PayoutAmount *big.Int       `json:"payout_amount"`
	FeeAmount    *big.Int       `json:"fee_amount"`
	TxHash       common.Hash    `json:"tx_hash"`
	BlockNumber  uint64         `json:"block_number"`
}

// Won reports whether a wager on the chosen side won this settlement.
// The contract pays zero on a loss, so Result == chosen and PayoutAmount > 0
// agree; Result is authoritative.
func (s *Settlement) Won(chosen Side) bool {
	return s.Result == chosen
}

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ParseEther converts a decimal ETH amount (e.g. "0.0025") to wei.
// Rejects empty, unparsable, non-positive, and sub-wei precision input.
func ParseEther(text string) (*big.Int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty amount")
	}

	rat, ok := new(big.Rat).SetString(text)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", text)
	}
	if rat.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %q", text)
	}

	wei := new(big.Rat).Mul(rat, new(big.Rat).SetInt(weiPerEther))
	if !wei.IsInt() {
		return nil, fmt.Errorf("amount %q exceeds 18 decimal places", text)
	}

	return new(big.Int).Set(wei.Num()), nil
}

// FormatEther converts wei to a decimal ETH string with trailing zeros
// trimmed (18000000000000000 wei renders as "0.018").
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}

	rat := new(big.Rat).SetFrac(wei, weiPerEther)
	s := rat.FloatString(18)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
