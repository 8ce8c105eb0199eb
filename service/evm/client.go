package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/degenlabs/coinflip/service/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainRPC is an interface for the Ethereum RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real nodes.
// *ethclient.Client satisfies it.
type ChainRPC interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TxSigner signs a transaction for the given chain. The wallet session's
// account handle implements this; the chain client never holds key material.
type TxSigner interface {
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// receiptPollInterval is how often WaitMined re-queries for a receipt.
const receiptPollInterval = 2 * time.Second

// Client wraps the RPC client with coinflip-contract operations.
type Client struct {
	rpc      ChainRPC
	contract common.Address
	chainID  *big.Int
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g. "abstract-testnet", rpc host)
}

// NewClient creates a new chain client bound to a deployed coinflip contract.
// The endpoint parameter is used for metrics labeling. If metrics is nil, no
// metrics will be recorded.
func NewClient(rpc ChainRPC, contract common.Address, chainID int64, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:      rpc,
		contract: contract,
		chainID:  big.NewInt(chainID),
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// Contract returns the bound contract address.
func (c *Client) Contract() common.Address {
	return c.contract
}

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// WagerLimits reads the contract's minWager and maxWager constants.
// Both values are in wei.
func (c *Client) WagerLimits(ctx context.Context) (min, max *big.Int, err error) {
	min, err = c.readUint256(ctx, "minWager")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read minWager: %w", err)
	}

	max, err = c.readUint256(ctx, "maxWager")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read maxWager: %w", err)
	}

	c.logger.DebugContext(ctx, "read wager limits",
		"min_wager", min.String(),
		"max_wager", max.String(),
	)

	return min, max, nil
}

// readUint256 performs a read-only call to a no-argument uint256 getter.
func (c *Client) readUint256(ctx context.Context, method string) (*big.Int, error) {
	input, err := coinflipABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	start := time.Now()
	output, err := c.rpc.CallContract(ctx, ethereum.CallMsg{
		To:   &c.contract,
		Data: input,
	}, nil)
	c.recordRPCCall("eth_call", err, time.Since(start))

	if err != nil {
		return nil, err
	}

	values, err := coinflipABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected %s result arity %d", method, len(values))
	}

	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, values[0])
	}
	return value, nil
}

// Balance returns the native-currency balance of an address in wei.
func (c *Client) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	start := time.Now()
	balance, err := c.rpc.BalanceAt(ctx, account, nil)
	c.recordRPCCall("eth_getBalance", err, time.Since(start))

	if err != nil {
		return nil, fmt.Errorf("failed to read balance for %s: %w", account.Hex(), err)
	}
	return balance, nil
}

// SubmitFlip submits one payable flip(choice) transaction with the wager
// attached as native-currency value. The transaction is signed by the given
// signer and returns as soon as it has been accepted by the RPC node; use
// WaitMined to await confirmation.
func (c *Client) SubmitFlip(ctx context.Context, signer TxSigner, from common.Address, side Side, wagerWei *big.Int) (common.Hash, error) {
	input, err := coinflipABI.Pack("flip", uint8(side))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack flip call: %w", err)
	}

	nonce, err := c.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce for %s: %w", from.Hex(), err)
	}

	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit, err := c.rpc.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       &c.contract,
		Value:    wagerWei,
		Data:     input,
		GasPrice: gasPrice,
	})
	if err != nil {
		// Estimation failing usually means the contract would revert the
		// call (wager outside limits, paused, underfunded bankroll).
		return common.Hash{}, fmt.Errorf("transaction rejected: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    wagerWei,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})

	signedTx, err := signer.SignTx(tx, c.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	start := time.Now()
	err = c.rpc.SendTransaction(ctx, signedTx)
	c.recordRPCCall("eth_sendRawTransaction", err, time.Since(start))

	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.InfoContext(ctx, "submitted flip transaction",
		"tx_hash", signedTx.Hash().Hex(),
		"from", from.Hex(),
		"side", side.String(),
		"wager_wei", wagerWei.String(),
		"nonce", nonce,
	)

	return signedTx.Hash(), nil
}

// WaitMined blocks until the transaction is mined and returns its receipt.
// No deadline is imposed here beyond the caller's context; chain finality
// has no natural timeout, so cancellation is the caller's escape hatch.
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		start := time.Now()
		receipt, err := c.rpc.TransactionReceipt(ctx, txHash)
		c.recordRPCCall("eth_getTransactionReceipt", err, time.Since(start))

		if err == nil {
			c.logger.DebugContext(ctx, "transaction mined",
				"tx_hash", txHash.Hex(),
				"block", receipt.BlockNumber,
				"status", receipt.Status,
			)
			return receipt, nil
		}

		if !errors.Is(err, ethereum.NotFound) {
			c.logger.WarnContext(ctx, "receipt query failed, will retry",
				"tx_hash", txHash.Hex(),
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// FilterSettlements queries GameSettled logs for a player over the full
// available block range and returns them in chain order (oldest first).
// Undecodable logs are skipped with a warning rather than failing the scan.
func (c *Client) FilterSettlements(ctx context.Context, player common.Address) ([]*Settlement, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
		Topics: [][]common.Hash{
			{GameSettledTopic},
			nil, // any gameId
			{common.BytesToHash(player.Bytes())},
		},
	}

	start := time.Now()
	logs, err := c.rpc.FilterLogs(ctx, query)
	c.recordRPCCall("eth_getLogs", err, time.Since(start))

	if err != nil {
		return nil, fmt.Errorf("failed to filter GameSettled logs: %w", err)
	}

	settlements := make([]*Settlement, 0, len(logs))
	for i := range logs {
		settlement, err := DecodeSettlement(&logs[i])
		if err != nil {
			c.logger.WarnContext(ctx, "skipping undecodable GameSettled log",
				"tx_hash", logs[i].TxHash.Hex(),
				"error", err,
			)
			if c.metrics != nil {
				c.metrics.RecordSettlementDecoded(c.endpoint, "error")
			}
			continue
		}
		if c.metrics != nil {
			c.metrics.RecordSettlementDecoded(c.endpoint, "success")
		}
		settlements = append(settlements, settlement)
	}

	c.logger.DebugContext(ctx, "filtered settlement logs",
		"player", player.Hex(),
		"log_count", len(logs),
		"decoded_count", len(settlements),
	)

	return settlements, nil
}

func (c *Client) recordRPCCall(method string, err error, duration time.Duration) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, duration.Seconds())
}
