package wager

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/degenlabs/coinflip/service/db"
	"github.com/degenlabs/coinflip/service/evm"
	"github.com/degenlabs/coinflip/service/metrics"
	natspkg "github.com/degenlabs/coinflip/service/nats"
	"github.com/degenlabs/coinflip/service/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Phase is the lifecycle position of a flip attempt.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseAwaitingWalletClient
	PhaseSubmitting
	PhaseAwaitingConfirmation
	PhaseSettled
	PhaseFailed
)

// String returns the lowercase name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseValidating:
		return "validating"
	case PhaseAwaitingWalletClient:
		return "awaiting_wallet_client"
	case PhaseSubmitting:
		return "submitting"
	case PhaseAwaitingConfirmation:
		return "awaiting_confirmation"
	case PhaseSettled:
		return "settled"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the win/loss projection of a settled attempt.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
)

// Attempt is the record of one flip from request to settlement or failure.
type Attempt struct {
	Side       evm.Side
	WagerWei   *big.Int
	Phase      Phase
	TxHash     common.Hash
	Settlement *evm.Settlement
	Outcome    Outcome
	// LimitWarning is set when on-chain limits could not be read and
	// configured fallbacks were used for validation instead.
	LimitWarning string
	Err          *FlowError
	StartedAt    time.Time
	FinishedAt   time.Time
}

// ChainClient is the chain surface the flow controller needs. *evm.Client
// satisfies it; tests substitute a mock.
type ChainClient interface {
	WagerLimits(ctx context.Context) (min, max *big.Int, err error)
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
	SubmitFlip(ctx context.Context, signer evm.TxSigner, from common.Address, side evm.Side, wagerWei *big.Int) (common.Hash, error)
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterSettlements(ctx context.Context, player common.Address) ([]*evm.Settlement, error)
}

// SessionSource yields the active wallet account, or nil when disconnected.
// *wallet.Manager satisfies it.
type SessionSource interface {
	Active() *wallet.Account
}

// SettlementStore archives settlements. *db.Store satisfies it.
type SettlementStore interface {
	InsertSettlement(ctx context.Context, params db.InsertSettlementParams) (*db.Settlement, error)
}

// transientErrTTL is how long a pre-submission validation error stays
// visible before clearing itself.
const transientErrTTL = 3 * time.Second

// Controller drives the flip flow: validate, submit, await confirmation,
// decode the outcome, then refresh balance and history. It owns the player's
// bounded in-memory history and balance caches.
type Controller struct {
	chain     ChainClient
	sessions  SessionSource
	store     SettlementStore   // optional; settlements archived best-effort
	publisher natspkg.Publisher // optional; settlements fanned out best-effort
	metrics   *metrics.Metrics
	logger    *slog.Logger

	fallbackMin *big.Int
	fallbackMax *big.Int

	mu            sync.Mutex
	inFlight      bool
	attempt       *Attempt
	history       []HistoryEntry
	balance       *big.Int
	transientErr  string
	transientGen  int
}

// ControllerParams bundles the dependencies for NewController. Store,
// Publisher and Metrics may be nil.
type ControllerParams struct {
	Chain       ChainClient
	Sessions    SessionSource
	Store       SettlementStore
	Publisher   natspkg.Publisher
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	FallbackMin *big.Int // wei, used when on-chain limits are unreadable
	FallbackMax *big.Int
}

// NewController creates a flip flow controller.
func NewController(params ControllerParams) *Controller {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		chain:       params.Chain,
		sessions:    params.Sessions,
		store:       params.Store,
		publisher:   params.Publisher,
		metrics:     params.Metrics,
		logger:      logger,
		fallbackMin: params.FallbackMin,
		fallbackMax: params.FallbackMax,
	}
}

// Attempt returns a copy of the most recent flip attempt, or nil if none has
// been made.
func (c *Controller) Attempt() *Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt == nil {
		return nil
	}
	cp := *c.attempt
	return &cp
}

// TransientError returns the current short-lived validation error, or ""
// once it has expired.
func (c *Controller) TransientError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transientErr
}

// setTransientError records a validation error that auto-clears after
// transientErrTTL, unless a newer error has replaced it in the meantime.
func (c *Controller) setTransientError(msg string) {
	c.mu.Lock()
	c.transientErr = msg
	c.transientGen++
	gen := c.transientGen
	c.mu.Unlock()

	time.AfterFunc(transientErrTTL, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.transientGen == gen {
			c.transientErr = ""
		}
	})
}

// Flip runs one wager attempt end to end. sideText is "heads" or "tails";
// amountText is a decimal native-currency amount such as "0.01". Only one
// attempt may be in flight at a time; a second call while one is running
// fails immediately without touching the chain, returning a snapshot of the
// running attempt alongside the rejection.
//
// Confirmation waiting has no controller-imposed deadline. The chain gives
// no upper bound on inclusion time, so the caller's context is the only
// escape hatch.
func (c *Controller) Flip(ctx context.Context, sideText, amountText string) (*Attempt, error) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.RecordFlowFailure(string(ReasonAttemptInFlight))
		}
		return c.Attempt(), newFlowError(ReasonAttemptInFlight, nil, "a flip is already in progress")
	}
	c.inFlight = true
	attempt := &Attempt{Phase: PhaseValidating, StartedAt: time.Now()}
	c.attempt = attempt
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	result, err := c.run(ctx, attempt, sideText, amountText)
	if err != nil {
		c.fail(ctx, attempt, err)
		return c.Attempt(), err
	}
	return result, nil
}

// run executes the phases of a flip. Guard failures return early with a
// classified error; the caller records them on the attempt.
func (c *Controller) run(ctx context.Context, attempt *Attempt, sideText, amountText string) (*Attempt, error) {
	// Session guard before anything else. Without a connected wallet there
	// is nothing to validate against.
	account := c.sessions.Active()
	if account == nil {
		c.setTransientError("Connect your wallet before flipping.")
		return nil, newFlowError(ReasonWalletUnavailable, nil, "no wallet session")
	}

	side, err := evm.ParseSide(sideText)
	if err != nil {
		c.setTransientError("Pick heads or tails first.")
		return nil, newFlowError(ReasonUserInputInvalid, err, "no valid side selected")
	}
	c.setAttemptSide(attempt, side)

	wagerWei, flowErr := c.validateAmount(ctx, attempt, amountText)
	if flowErr != nil {
		c.setTransientError(flowErr.Message)
		return nil, flowErr
	}
	c.setAttemptWager(attempt, wagerWei)

	// The signer must exist before any network traffic; a session without
	// signing capability can never complete the flow.
	c.setPhase(attempt, PhaseAwaitingWalletClient)
	if account.Signer == nil {
		return nil, newFlowError(ReasonSignerUnavailable, nil, "wallet session has no signing capability")
	}

	c.setPhase(attempt, PhaseSubmitting)
	txHash, err := c.chain.SubmitFlip(ctx, account.Signer, account.Address, side, wagerWei)
	if err != nil {
		return nil, newFlowError(ReasonTransactionRejected, err, "transaction was rejected")
	}
	c.setAttemptTxHash(attempt, txHash)
	if c.metrics != nil {
		c.metrics.RecordFlipSubmitted(side.String())
	}

	c.setPhase(attempt, PhaseAwaitingConfirmation)
	receipt, err := c.chain.WaitMined(ctx, txHash)
	if err != nil {
		return nil, newFlowError(ReasonTransactionRejected, err, "confirmation wait aborted")
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, newFlowError(ReasonTransactionRejected, nil, "transaction reverted on chain")
	}

	settlement, err := evm.FindSettlement(receipt.Logs, account.Address)
	if err != nil {
		// Funds moved but the outcome is unknown. Refresh balance and
		// history so the player at least sees the post-transaction truth.
		c.refreshAfterChainActivity(ctx)
		return nil, newFlowError(ReasonOutcomeUndecodable, err,
			"your flip confirmed but the result could not be read; check your history")
	}

	c.settle(ctx, attempt, side, settlement)
	c.refreshAfterChainActivity(ctx)
	c.archiveSettlement(ctx, settlement)
	return c.Attempt(), nil
}

// validateAmount resolves wager limits (falling back to configured bounds
// when the chain read fails) and validates the requested amount against them
// inclusively.
func (c *Controller) validateAmount(ctx context.Context, attempt *Attempt, amountText string) (*big.Int, *FlowError) {
	min, max, err := c.chain.WagerLimits(ctx)
	if err != nil {
		min, max = c.fallbackMin, c.fallbackMax
		warning := "wager limits are temporarily unavailable; using defaults"
		c.mu.Lock()
		attempt.LimitWarning = warning
		c.mu.Unlock()
		c.logger.WarnContext(ctx, "failed to read wager limits, using fallbacks",
			"fallback_min_wei", min.String(),
			"fallback_max_wei", max.String(),
			"error", err,
		)
		if c.metrics != nil {
			c.metrics.RecordFlowFailure("limit_fetch_degraded")
		}
	}

	wagerWei, err := evm.ParseEther(amountText)
	if err != nil {
		return nil, newFlowError(ReasonUserInputInvalid, err, "Enter a valid wager amount.")
	}

	// Bounds are inclusive on both ends.
	if wagerWei.Cmp(min) < 0 || wagerWei.Cmp(max) > 0 {
		return nil, newFlowError(ReasonUserInputInvalid, nil,
			"Wager must be between %s and %s ETH.",
			evm.FormatEther(min), evm.FormatEther(max))
	}

	return wagerWei, nil
}

// settle records the decoded outcome on the attempt.
func (c *Controller) settle(ctx context.Context, attempt *Attempt, chosen evm.Side, settlement *evm.Settlement) {
	outcome := OutcomeLoss
	if settlement.Won(chosen) {
		outcome = OutcomeWin
	}

	c.mu.Lock()
	attempt.Phase = PhaseSettled
	attempt.Settlement = settlement
	attempt.Outcome = outcome
	attempt.FinishedAt = time.Now()
	duration := attempt.FinishedAt.Sub(attempt.StartedAt)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordFlipSettled(string(outcome), duration.Seconds())
	}

	c.logger.InfoContext(ctx, "flip settled",
		"game_id", settlement.GameID.String(),
		"outcome", string(outcome),
		"payout_ether", evm.FormatEther(settlement.PayoutAmount),
		"tx_hash", settlement.TxHash.Hex(),
	)
}

// fail records a classified failure on the attempt.
func (c *Controller) fail(ctx context.Context, attempt *Attempt, err error) {
	flowErr := AsFlowError(err)
	if flowErr == nil {
		flowErr = newFlowError(ReasonTransactionRejected, err, "flip failed")
	}

	c.mu.Lock()
	attempt.Phase = PhaseFailed
	attempt.Err = flowErr
	attempt.FinishedAt = time.Now()
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordFlowFailure(string(flowErr.Reason))
	}

	c.logger.WarnContext(ctx, "flip failed",
		"reason", string(flowErr.Reason),
		"error", flowErr.Error(),
	)
}

// refreshAfterChainActivity re-reads balance and history after the chain
// state has changed (settlement decoded, or confirmation without a decodable
// outcome). Failures are logged, not propagated; the attempt outcome stands
// on its own.
func (c *Controller) refreshAfterChainActivity(ctx context.Context) {
	if err := c.RefreshBalance(ctx); err != nil {
		c.logger.WarnContext(ctx, "post-flip balance refresh failed", "error", err)
	}
	if err := c.RefreshHistory(ctx, "settlement"); err != nil {
		c.logger.WarnContext(ctx, "post-flip history refresh failed", "error", err)
	}
}

// archiveSettlement persists and publishes a settlement best-effort.
func (c *Controller) archiveSettlement(ctx context.Context, settlement *evm.Settlement) {
	player := strings.ToLower(settlement.Player.Hex())

	if c.store != nil {
		_, err := c.store.InsertSettlement(ctx, db.InsertSettlementParams{
			GameID:      settlement.GameID.String(),
			Player:      player,
			Result:      int16(settlement.Result),
			PayoutWei:   settlement.PayoutAmount.String(),
			FeeWei:      settlement.FeeAmount.String(),
			Won:         settlement.PayoutAmount.Sign() > 0,
			TxHash:      settlement.TxHash.Hex(),
			BlockNumber: int64(settlement.BlockNumber),
		})
		if err != nil {
			c.logger.WarnContext(ctx, "failed to archive settlement",
				"game_id", settlement.GameID.String(),
				"error", err,
			)
		}
	}

	if c.publisher != nil {
		if err := c.publisher.PublishSettlement(ctx, natspkg.FromChainSettlement(settlement)); err != nil {
			c.logger.WarnContext(ctx, "failed to publish settlement",
				"game_id", settlement.GameID.String(),
				"error", err,
			)
		}
	}
}

func (c *Controller) setPhase(attempt *Attempt, phase Phase) {
	c.mu.Lock()
	attempt.Phase = phase
	c.mu.Unlock()
}

func (c *Controller) setAttemptSide(attempt *Attempt, side evm.Side) {
	c.mu.Lock()
	attempt.Side = side
	c.mu.Unlock()
}

func (c *Controller) setAttemptWager(attempt *Attempt, wei *big.Int) {
	c.mu.Lock()
	attempt.WagerWei = wei
	c.mu.Unlock()
}

func (c *Controller) setAttemptTxHash(attempt *Attempt, hash common.Hash) {
	c.mu.Lock()
	attempt.TxHash = hash
	c.mu.Unlock()
}
