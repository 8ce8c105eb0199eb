package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// coinflipABIJSON is the contract surface this service depends on. The
// contract exposes more than this, but only these entries are decoded here;
// anything else in the deployed ABI is ignored.
const coinflipABIJSON = `[
	{"type":"function","name":"minWager","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"maxWager","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"flip","inputs":[{"name":"choice","type":"uint8"}],"outputs":[],"stateMutability":"payable"},
	{"type":"event","name":"GameSettled","anonymous":false,"inputs":[
		{"name":"gameId","type":"uint256","indexed":true},
		{"name":"player","type":"address","indexed":true},
		{"name":"result","type":"uint8","indexed":false},
		{"name":"payoutAmount","type":"uint256","indexed":false},
		{"name":"feeAmount","type":"uint256","indexed":false}
	]}
]`

var (
	coinflipABI abi.ABI

	// GameSettledTopic is the topic0 hash identifying GameSettled logs.
	// Decoding is keyed on this fixed signature; logs with any other topic0
	// are never treated as settlements.
	GameSettledTopic common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(coinflipABIJSON))
	if err != nil {
		panic("evm: invalid embedded coinflip ABI: " + err.Error())
	}
	coinflipABI = parsed
	GameSettledTopic = coinflipABI.Events["GameSettled"].ID
}
