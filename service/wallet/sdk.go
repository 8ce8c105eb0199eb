package wallet

import (
	"context"
	"errors"

	"github.com/degenlabs/coinflip/service/evm"
	"github.com/ethereum/go-ethereum/common"
)

// ErrLogoutUnsupported is returned by SDKs that do not expose a logout
// capability. The session manager degrades to locally clearing the address.
var ErrLogoutUnsupported = errors.New("wallet SDK does not support logout")

// Account is a signer-capable handle provided by the wallet SDK.
// It is a borrowed reference into SDK-managed state; the session manager
// never constructs or destroys one.
type Account struct {
	Address common.Address
	Signer  evm.TxSigner
}

// SDK is the wallet-provider boundary. Implementations may be backed by a
// local key, a hardware wallet, or a remote signing service; each call may
// be asynchronous and may independently report loading state.
type SDK interface {
	// GetAccount returns the current account, or nil (with no error) when
	// logged out.
	GetAccount(ctx context.Context) (*Account, error)

	// Login establishes a session with the wallet provider.
	Login(ctx context.Context) error

	// Logout ends the session. Returns ErrLogoutUnsupported if the provider
	// has no logout capability.
	Logout(ctx context.Context) error

	// Loading reports whether the SDK is busy fetching account state or
	// processing a login action.
	Loading() bool
}
