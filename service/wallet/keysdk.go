package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeySDK is a wallet SDK backed by a local hex-encoded private key.
// Login and logout are local state changes; there is no remote provider,
// so Loading is always false and Logout is supported.
type KeySDK struct {
	mu       sync.Mutex
	key      *ecdsa.PrivateKey
	address  common.Address
	loggedIn bool
}

// NewKeySDK creates a KeySDK from a hex private key (0x prefix optional).
func NewKeySDK(hexKey string) (*KeySDK, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("private key is empty")
	}

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &KeySDK{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// GetAccount returns the local account when logged in, nil otherwise.
func (k *KeySDK) GetAccount(ctx context.Context) (*Account, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.loggedIn {
		return nil, nil
	}
	return &Account{Address: k.address, Signer: k}, nil
}

// Login marks the local key as active.
func (k *KeySDK) Login(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.loggedIn = true
	return nil
}

// Logout deactivates the local key.
func (k *KeySDK) Logout(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.loggedIn = false
	return nil
}

// Loading always reports false; there is no asynchronous provider state.
func (k *KeySDK) Loading() bool {
	return false
}

// SignTx signs a transaction with the local key using the EIP-155 signer for
// the given chain.
func (k *KeySDK) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), k.key)
}
