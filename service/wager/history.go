package wager

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/degenlabs/coinflip/service/evm"
)

// historyLimit caps the in-memory history at the most recent settlements.
const historyLimit = 10

// HistoryEntry is one settled game as shown to the player, newest first.
// Won is derived from the payout: historical entries carry no record of the
// side the player chose, so a positive payout is the win signal.
type HistoryEntry struct {
	GameID      string `json:"game_id"`
	Result      string `json:"result"` // "heads" or "tails"
	PayoutWei   string `json:"payout_wei"`
	PayoutEther string `json:"payout_ether"`
	Won         bool   `json:"won"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// History returns a copy of the cached history, newest first.
func (c *Controller) History() []HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]HistoryEntry, len(c.history))
	copy(out, c.history)
	return out
}

// Balance returns the cached native-currency balance in wei, or nil if it
// has never been read.
func (c *Controller) Balance() *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.balance == nil {
		return nil
	}
	return new(big.Int).Set(c.balance)
}

// RefreshBalance re-reads the connected account's balance. Without an active
// session this is a no-op.
func (c *Controller) RefreshBalance(ctx context.Context) error {
	account := c.sessions.Active()
	if account == nil {
		return nil
	}

	balance, err := c.chain.Balance(ctx, account.Address)
	if err != nil {
		return fmt.Errorf("failed to refresh balance: %w", err)
	}

	c.mu.Lock()
	c.balance = balance
	c.mu.Unlock()
	return nil
}

// RefreshHistory re-scans the chain for the connected player's settlements
// and replaces the cached history wholesale (last writer wins; entries are
// immutable facts so order of concurrent refreshes cannot corrupt them).
// Without an active session the refresh is skipped entirely. The source
// label ("poll", "settlement", "manual") feeds metrics only.
func (c *Controller) RefreshHistory(ctx context.Context, source string) error {
	account := c.sessions.Active()
	if account == nil {
		return nil
	}

	start := time.Now()
	settlements, err := c.chain.FilterSettlements(ctx, account.Address)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordHistoryRefresh(source, "error", time.Since(start).Seconds())
		}
		return fmt.Errorf("failed to refresh history: %w", err)
	}

	// Chain order is oldest first; the player sees newest first, capped.
	entries := make([]HistoryEntry, 0, historyLimit)
	for i := len(settlements) - 1; i >= 0 && len(entries) < historyLimit; i-- {
		s := settlements[i]
		entries = append(entries, HistoryEntry{
			GameID:      s.GameID.String(),
			Result:      s.Result.String(),
			PayoutWei:   s.PayoutAmount.String(),
			PayoutEther: evm.FormatEther(s.PayoutAmount),
			Won:         s.PayoutAmount.Sign() > 0,
			TxHash:      s.TxHash.Hex(),
			BlockNumber: s.BlockNumber,
		})
	}

	c.mu.Lock()
	c.history = entries
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordHistoryRefresh(source, "success", time.Since(start).Seconds())
	}

	c.logger.DebugContext(ctx, "history refreshed",
		"source", source,
		"player", account.Address.Hex(),
		"entries", len(entries),
	)
	return nil
}

// StartPolling refreshes history on the given interval until ctx is
// cancelled. Ticks with no active session do nothing, so disconnected
// periods cost no RPC calls.
func (c *Controller) StartPolling(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.RefreshHistory(ctx, "poll"); err != nil {
					c.logger.WarnContext(ctx, "scheduled history refresh failed", "error", err)
				}
			}
		}
	}()
}
