package wager

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/degenlabs/coinflip/service/db"
	"github.com/degenlabs/coinflip/service/evm"
	natspkg "github.com/degenlabs/coinflip/service/nats"
	"github.com/degenlabs/coinflip/service/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPlayer = common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")

// settledLog builds a GameSettled log as the contract emits it.
func settledLog(gameID int64, player common.Address, result evm.Side, payoutWei int64) *types.Log {
	data := make([]byte, 0, 96)
	data = append(data, common.LeftPadBytes([]byte{byte(result)}, 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(payoutWei).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(1000).Bytes(), 32)...)

	return &types.Log{
		Topics: []common.Hash{
			evm.GameSettledTopic,
			common.BigToHash(big.NewInt(gameID)),
			common.BytesToHash(player.Bytes()),
		},
		Data:        data,
		TxHash:      common.HexToHash("0x01"),
		BlockNumber: 100,
	}
}

func settlement(gameID int64, result evm.Side, payoutWei int64) *evm.Settlement {
	return &evm.Settlement{
		GameID:       big.NewInt(gameID),
		Player:       testPlayer,
		Result:       result,
		PayoutAmount: big.NewInt(payoutWei),
		FeeAmount:    big.NewInt(1000),
		TxHash:       common.HexToHash("0x01"),
		BlockNumber:  uint64(100 + gameID),
	}
}

type submitCall struct {
	side  evm.Side
	wager *big.Int
}

// mockChain is a controllable ChainClient for flow and history tests.
type mockChain struct {
	mu          sync.Mutex
	min, max    *big.Int
	limitsErr   error
	balance     *big.Int
	balanceErr  error
	submitHash  common.Hash
	submitErr   error
	submitted   []submitCall
	receipt     *types.Receipt
	waitErr     error
	waitGate    chan struct{} // when non-nil, WaitMined blocks until closed
	settlements []*evm.Settlement
	filterErr   error
	filterCalls int
}

func (m *mockChain) WagerLimits(ctx context.Context) (*big.Int, *big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limitsErr != nil {
		return nil, nil, m.limitsErr
	}
	return m.min, m.max, nil
}

func (m *mockChain) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, m.balanceErr
}

func (m *mockChain) SubmitFlip(ctx context.Context, signer evm.TxSigner, from common.Address, side evm.Side, wagerWei *big.Int) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return common.Hash{}, m.submitErr
	}
	m.submitted = append(m.submitted, submitCall{side: side, wager: wagerWei})
	return m.submitHash, nil
}

func (m *mockChain) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	gate := m.waitGate
	receipt := m.receipt
	err := m.waitErr
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return receipt, err
}

func (m *mockChain) FilterSettlements(ctx context.Context, player common.Address) ([]*evm.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filterCalls++
	if m.filterErr != nil {
		return nil, m.filterErr
	}
	return m.settlements, nil
}

func (m *mockChain) submitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submitted)
}

// noopSigner satisfies evm.TxSigner without doing any real signing.
type noopSigner struct{}

func (noopSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return tx, nil
}

type stubSessions struct {
	mu      sync.Mutex
	account *wallet.Account
}

func (s *stubSessions) Active() *wallet.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

type stubStore struct {
	mu       sync.Mutex
	inserted []db.InsertSettlementParams
	err      error
}

func (s *stubStore) InsertSettlement(ctx context.Context, params db.InsertSettlementParams) (*db.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.inserted = append(s.inserted, params)
	return &db.Settlement{GameID: params.GameID, Player: params.Player}, nil
}

func connectedSessions() *stubSessions {
	return &stubSessions{account: &wallet.Account{Address: testPlayer, Signer: noopSigner{}}}
}

func defaultChain() *mockChain {
	return &mockChain{
		min:        big.NewInt(1000000000000000),  // 0.001 ETH
		max:        big.NewInt(10000000000000000), // 0.01 ETH
		balance:    big.NewInt(5000000000000000000),
		submitHash: common.HexToHash("0x01"),
		receipt: &types.Receipt{
			Status: types.ReceiptStatusSuccessful,
			Logs:   []*types.Log{settledLog(42, testPlayer, evm.SideTails, 18000000000000000)},
		},
		settlements: []*evm.Settlement{settlement(42, evm.SideTails, 18000000000000000)},
	}
}

func newTestController(chain ChainClient, sessions SessionSource, store SettlementStore, publisher natspkg.Publisher) *Controller {
	return NewController(ControllerParams{
		Chain:       chain,
		Sessions:    sessions,
		Store:       store,
		Publisher:   publisher,
		FallbackMin: big.NewInt(1000000000000000),   // 0.001 ETH
		FallbackMax: big.NewInt(100000000000000000), // 0.1 ETH
	})
}

func TestFlip_WinEndToEnd(t *testing.T) {
	chain := defaultChain()
	store := &stubStore{}
	publisher := natspkg.NewMockPublisher()
	ctrl := newTestController(chain, connectedSessions(), store, publisher)

	attempt, err := ctrl.Flip(context.Background(), "tails", "0.01")
	require.NoError(t, err)

	assert.Equal(t, PhaseSettled, attempt.Phase)
	assert.Equal(t, OutcomeWin, attempt.Outcome)
	require.NotNil(t, attempt.Settlement)
	assert.Equal(t, "0.018", evm.FormatEther(attempt.Settlement.PayoutAmount))
	assert.Equal(t, "10000000000000000", attempt.WagerWei.String())

	// Settlement flows downstream: archived, published, and visible in the
	// refreshed history and balance.
	require.Len(t, store.inserted, 1)
	assert.Equal(t, "42", store.inserted[0].GameID)
	assert.Equal(t, 1, publisher.GetPublishedEventCount())
	require.Len(t, ctrl.History(), 1)
	assert.Equal(t, "5", evm.FormatEther(ctrl.Balance()))
}

func TestFlip_LossWhenResultDiffers(t *testing.T) {
	chain := defaultChain()
	chain.receipt.Logs = []*types.Log{settledLog(43, testPlayer, evm.SideHeads, 0)}
	ctrl := newTestController(chain, connectedSessions(), nil, nil)

	attempt, err := ctrl.Flip(context.Background(), "tails", "0.01")
	require.NoError(t, err)
	assert.Equal(t, PhaseSettled, attempt.Phase)
	assert.Equal(t, OutcomeLoss, attempt.Outcome)
}

func TestFlip_NoSession(t *testing.T) {
	chain := defaultChain()
	ctrl := newTestController(chain, &stubSessions{}, nil, nil)

	_, err := ctrl.Flip(context.Background(), "heads", "0.01")
	require.Error(t, err)
	assert.Equal(t, ReasonWalletUnavailable, AsFlowError(err).Reason)
	assert.Equal(t, 0, chain.submitCount(), "no chain interaction without a session")
	assert.NotEmpty(t, ctrl.TransientError())
	assert.Equal(t, PhaseFailed, ctrl.Attempt().Phase)
}

func TestFlip_NoSideSelected(t *testing.T) {
	chain := defaultChain()
	ctrl := newTestController(chain, connectedSessions(), nil, nil)

	_, err := ctrl.Flip(context.Background(), "", "0.01")
	require.Error(t, err)
	assert.Equal(t, ReasonUserInputInvalid, AsFlowError(err).Reason)
	assert.Equal(t, 0, chain.submitCount())
}

func TestFlip_AmountValidation(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{"below minimum", "0.0005", true},
		{"at minimum", "0.001", false},
		{"inside range", "0.005", false},
		{"at maximum", "0.01", false},
		{"above maximum", "0.02", true},
		{"unparsable", "lots", true},
		{"zero", "0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newTestController(defaultChain(), connectedSessions(), nil, nil)
			_, err := ctrl.Flip(context.Background(), "heads", tt.amount)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, ReasonUserInputInvalid, AsFlowError(err).Reason)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestFlip_OutOfRangeMessageQuotesBounds(t *testing.T) {
	ctrl := newTestController(defaultChain(), connectedSessions(), nil, nil)

	_, err := ctrl.Flip(context.Background(), "heads", "0.02")
	require.Error(t, err)
	flowErr := AsFlowError(err)
	require.NotNil(t, flowErr)
	assert.Contains(t, flowErr.Message, "0.001")
	assert.Contains(t, flowErr.Message, "0.01")
}

func TestFlip_LimitFetchFallsBack(t *testing.T) {
	chain := defaultChain()
	chain.limitsErr = assert.AnError
	ctrl := newTestController(chain, connectedSessions(), nil, nil)

	// 0.05 is above the on-chain max but inside the fallback range [0.001, 0.1].
	attempt, err := ctrl.Flip(context.Background(), "tails", "0.05")
	require.NoError(t, err)
	assert.Equal(t, PhaseSettled, attempt.Phase)
	assert.NotEmpty(t, attempt.LimitWarning)
}

func TestFlip_FallbackBoundsStillEnforced(t *testing.T) {
	chain := defaultChain()
	chain.limitsErr = assert.AnError
	ctrl := newTestController(chain, connectedSessions(), nil, nil)

	_, err := ctrl.Flip(context.Background(), "tails", "0.5")
	require.Error(t, err)
	flowErr := AsFlowError(err)
	require.NotNil(t, flowErr)
	assert.Equal(t, ReasonUserInputInvalid, flowErr.Reason)
	assert.Contains(t, flowErr.Message, "0.1")
}

func TestFlip_SignerUnavailable(t *testing.T) {
	chain := defaultChain()
	sessions := &stubSessions{account: &wallet.Account{Address: testPlayer}} // no signer
	ctrl := newTestController(chain, sessions, nil, nil)

	_, err := ctrl.Flip(context.Background(), "heads", "0.01")
	require.Error(t, err)
	assert.Equal(t, ReasonSignerUnavailable, AsFlowError(err).Reason)
	assert.Equal(t, 0, chain.submitCount(), "signer check must precede any network call")
}

func TestFlip_SubmitRejected(t *testing.T) {
	chain := defaultChain()
	chain.submitErr = assert.AnError
	ctrl := newTestController(chain, connectedSessions(), nil, nil)

	_, err := ctrl.Flip(context.Background(), "heads", "0.01")
	require.Error(t, err)
	assert.Equal(t, ReasonTransactionRejected, AsFlowError(err).Reason)
	assert.Equal(t, PhaseFailed, ctrl.Attempt().Phase)
}

func TestFlip_RevertedOnChain(t *testing.T) {
	chain := defaultChain()
	chain.receipt = &types.Receipt{Status: types.ReceiptStatusFailed}
	ctrl := newTestController(chain, connectedSessions(), nil, nil)

	_, err := ctrl.Flip(context.Background(), "heads", "0.01")
	require.Error(t, err)
	assert.Equal(t, ReasonTransactionRejected, AsFlowError(err).Reason)
}

func TestFlip_OutcomeUndecodable(t *testing.T) {
	chain := defaultChain()
	chain.receipt = &types.Receipt{Status: types.ReceiptStatusSuccessful} // no logs
	ctrl := newTestController(chain, connectedSessions(), nil, nil)

	_, err := ctrl.Flip(context.Background(), "heads", "0.01")
	require.Error(t, err)
	assert.Equal(t, ReasonOutcomeUndecodable, AsFlowError(err).Reason)

	// Funds moved, so balance and history were refreshed anyway.
	assert.NotNil(t, ctrl.Balance())
	assert.GreaterOrEqual(t, chain.filterCalls, 1)
}

func TestFlip_SingleAttemptInFlight(t *testing.T) {
	chain := defaultChain()
	chain.waitGate = make(chan struct{})
	ctrl := newTestController(chain, connectedSessions(), nil, nil)

	done := make(chan struct{})
	go func() {
		ctrl.Flip(context.Background(), "heads", "0.01")
		close(done)
	}()

	require.Eventually(t, func() bool {
		return ctrl.Attempt() != nil && ctrl.Attempt().Phase == PhaseAwaitingConfirmation
	}, time.Second, 5*time.Millisecond)

	// A second flip while the first awaits confirmation fails fast with a
	// snapshot of the running attempt, never a nil one.
	attempt, err := ctrl.Flip(context.Background(), "tails", "0.01")
	require.Error(t, err)
	assert.Equal(t, ReasonAttemptInFlight, AsFlowError(err).Reason)
	require.NotNil(t, attempt)
	assert.Equal(t, PhaseAwaitingConfirmation, attempt.Phase)
	assert.Equal(t, evm.SideHeads, attempt.Side, "snapshot is the running attempt, not the rejected one")
	assert.Equal(t, 1, chain.submitCount())

	close(chain.waitGate)
	<-done

	// The rejection must not clobber the first attempt's outcome.
	assert.Equal(t, PhaseSettled, ctrl.Attempt().Phase)
}

func TestPhaseString(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseIdle, "idle"},
		{PhaseValidating, "validating"},
		{PhaseAwaitingWalletClient, "awaiting_wallet_client"},
		{PhaseSubmitting, "submitting"},
		{PhaseAwaitingConfirmation, "awaiting_confirmation"},
		{PhaseSettled, "settled"},
		{PhaseFailed, "failed"},
		{Phase(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.phase.String())
	}
}

func TestTransientErrorAutoClears(t *testing.T) {
	ctrl := newTestController(defaultChain(), &stubSessions{}, nil, nil)

	_, err := ctrl.Flip(context.Background(), "heads", "0.01")
	require.Error(t, err)
	require.NotEmpty(t, ctrl.TransientError())

	assert.Eventually(t, func() bool {
		return ctrl.TransientError() == ""
	}, transientErrTTL+time.Second, 50*time.Millisecond)
}
