package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/degenlabs/coinflip/service/config"
	"github.com/degenlabs/coinflip/service/db"
	"github.com/degenlabs/coinflip/service/evm"
	"github.com/degenlabs/coinflip/service/temporal"
	"github.com/degenlabs/coinflip/service/wager"
	"github.com/degenlabs/coinflip/service/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for any request here
	defaultPageSize    = 50
	maxPageSize        = 500
)

// validAddressRegex matches a 0x-prefixed 20-byte hex address.
var validAddressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// SessionManager is the wallet-session surface the handlers need.
// *wallet.Manager satisfies it.
type SessionManager interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Snapshot() wallet.Snapshot
}

// FlipService is the wager-flow surface the handlers need.
// *wager.Controller satisfies it.
type FlipService interface {
	Flip(ctx context.Context, sideText, amountText string) (*wager.Attempt, error)
	Attempt() *wager.Attempt
	History() []wager.HistoryEntry
	Balance() *big.Int
	RefreshBalance(ctx context.Context) error
	RefreshHistory(ctx context.Context, source string) error
	TransientError() string
}

// LimitsReader reads the contract's wager bounds. *evm.Client satisfies it.
type LimitsReader interface {
	WagerLimits(ctx context.Context) (min, max *big.Int, err error)
}

// sessionResponse is the JSON shape of a session snapshot.
type sessionResponse struct {
	Address         string `json:"address,omitempty"`
	State           string `json:"state"`
	IsConnecting    bool   `json:"is_connecting"`
	IsDisconnecting bool   `json:"is_disconnecting"`
	IsLoading       bool   `json:"is_loading"`
	Error           string `json:"error,omitempty"`
}

func snapshotToResponse(snap wallet.Snapshot) sessionResponse {
	resp := sessionResponse{
		Address:         snap.Address,
		State:           snap.State.String(),
		IsConnecting:    snap.IsConnecting,
		IsDisconnecting: snap.IsDisconnecting,
		IsLoading:       snap.IsLoading,
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	return resp
}

// handleConnectSession returns a handler that connects the wallet session.
// POST /api/v1/session
func handleConnectSession(sessions SessionManager, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := sessions.Connect(r.Context()); err != nil {
			logger.Warn("session connect failed", "error", err)
			writeJSON(w, snapshotToResponse(sessions.Snapshot()), http.StatusBadGateway)
			return
		}
		writeJSON(w, snapshotToResponse(sessions.Snapshot()), http.StatusOK)
	})
}

// handleDisconnectSession returns a handler that disconnects the wallet session.
// DELETE /api/v1/session
func handleDisconnectSession(sessions SessionManager, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Disconnect degrades to a local clear on provider failure, so the
		// response is the post-disconnect snapshot either way.
		if err := sessions.Disconnect(r.Context()); err != nil {
			logger.Warn("session disconnect degraded", "error", err)
		}
		writeJSON(w, snapshotToResponse(sessions.Snapshot()), http.StatusOK)
	})
}

// handleGetSession returns a handler that reports the current session state.
// GET /api/v1/session
func handleGetSession(sessions SessionManager, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, snapshotToResponse(sessions.Snapshot()), http.StatusOK)
	})
}

// attemptResponse is the JSON shape of a flip attempt.
type attemptResponse struct {
	Phase        string              `json:"phase"`
	Side         string              `json:"side,omitempty"`
	WagerEther   string              `json:"wager_ether,omitempty"`
	TxHash       string              `json:"tx_hash,omitempty"`
	Outcome      string              `json:"outcome,omitempty"`
	Settlement   *evm.Settlement     `json:"settlement,omitempty"`
	LimitWarning string              `json:"limit_warning,omitempty"`
	Error        *attemptErrorDetail `json:"error,omitempty"`
}

type attemptErrorDetail struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func attemptToResponse(attempt *wager.Attempt) attemptResponse {
	resp := attemptResponse{
		Phase:        attempt.Phase.String(),
		Outcome:      string(attempt.Outcome),
		Settlement:   attempt.Settlement,
		LimitWarning: attempt.LimitWarning,
	}
	if attempt.WagerWei != nil {
		resp.Side = attempt.Side.String()
		resp.WagerEther = evm.FormatEther(attempt.WagerWei)
	}
	if attempt.TxHash != (common.Hash{}) {
		resp.TxHash = attempt.TxHash.Hex()
	}
	if attempt.Err != nil {
		resp.Error = &attemptErrorDetail{
			Reason:  string(attempt.Err.Reason),
			Message: attempt.Err.Message,
		}
	}
	return resp
}

// handleFlip returns a handler that runs one wager attempt end to end.
// POST /api/v1/flips
// The response is sent after settlement (or failure); confirmation waiting
// is bounded only by the request context.
func handleFlip(flips FlipService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Side   string `json:"side"`
			Amount string `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode flip request", "error", err)
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		attempt, err := flips.Flip(r.Context(), req.Side, req.Amount)
		if err != nil {
			flowErr := wager.AsFlowError(err)
			status := http.StatusBadGateway
			if flowErr != nil {
				switch flowErr.Reason {
				case wager.ReasonUserInputInvalid:
					status = http.StatusBadRequest
				case wager.ReasonWalletUnavailable, wager.ReasonSignerUnavailable,
					wager.ReasonAttemptInFlight:
					status = http.StatusConflict
				}
			}
			// An in-flight rejection returns a snapshot of the running
			// attempt, which carries no error of its own.
			resp := attemptResponse{Phase: wager.PhaseIdle.String()}
			if attempt != nil {
				resp = attemptToResponse(attempt)
			}
			if resp.Error == nil && flowErr != nil {
				resp.Error = &attemptErrorDetail{
					Reason:  string(flowErr.Reason),
					Message: flowErr.Message,
				}
			}
			writeJSON(w, resp, status)
			return
		}

		writeJSON(w, attemptToResponse(attempt), http.StatusOK)
	})
}

// handleLatestAttempt returns a handler that reports the most recent attempt.
// GET /api/v1/flips/latest
func handleLatestAttempt(flips FlipService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt := flips.Attempt()
		if attempt == nil {
			writeError(w, "no flip attempted yet", http.StatusNotFound)
			return
		}
		writeJSON(w, attemptToResponse(attempt), http.StatusOK)
	})
}

// handleHistory returns a handler that reports the bounded recent history.
// GET /api/v1/history?refresh=true
func handleHistory(flips FlipService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("refresh") == "true" {
			if err := flips.RefreshHistory(r.Context(), "manual"); err != nil {
				logger.Warn("manual history refresh failed", "error", err)
				writeError(w, "failed to refresh history", http.StatusBadGateway)
				return
			}
		}
		writeJSON(w, map[string]interface{}{
			"history": flips.History(),
		}, http.StatusOK)
	})
}

// handleBalance returns a handler that reports the session's balance.
// GET /api/v1/balance?refresh=true
func handleBalance(flips FlipService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("refresh") == "true" {
			if err := flips.RefreshBalance(r.Context()); err != nil {
				logger.Warn("manual balance refresh failed", "error", err)
				writeError(w, "failed to refresh balance", http.StatusBadGateway)
				return
			}
		}

		balance := flips.Balance()
		if balance == nil {
			writeError(w, "balance not available", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]interface{}{
			"balance_wei":   balance.String(),
			"balance_ether": evm.FormatEther(balance),
		}, http.StatusOK)
	})
}

// handleLimits returns a handler that reports the contract's wager bounds.
// GET /api/v1/limits
// When the chain read fails the configured fallbacks are returned with a
// degraded flag so clients can still present a usable input range.
func handleLimits(chain LimitsReader, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		min, max, err := chain.WagerLimits(r.Context())
		degraded := false
		if err != nil {
			logger.Warn("failed to read wager limits, serving fallbacks", "error", err)
			min, err = evm.ParseEther(cfg.MinWagerFallback)
			if err != nil {
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
			max, err = evm.ParseEther(cfg.MaxWagerFallback)
			if err != nil {
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
			degraded = true
		}

		writeJSON(w, map[string]interface{}{
			"min_wager_wei":   min.String(),
			"max_wager_wei":   max.String(),
			"min_wager_ether": evm.FormatEther(min),
			"max_wager_ether": evm.FormatEther(max),
			"degraded":        degraded,
		}, http.StatusOK)
	})
}

// playerResponse is the JSON shape of a registered player.
type playerResponse struct {
	Address      string     `json:"address"`
	PollInterval string     `json:"poll_interval"`
	LastPollTime *time.Time `json:"last_poll_time,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
}

func playerToResponse(p *db.Player) playerResponse {
	return playerResponse{
		Address:      p.Address,
		PollInterval: p.PollInterval.String(),
		LastPollTime: p.LastPollTime,
		Status:       p.Status,
		CreatedAt:    p.CreatedAt,
	}
}

// handleRegisterPlayer returns a handler that registers a player for
// scheduled history refresh and creates the matching Temporal schedule.
// POST /api/v1/players
func handleRegisterPlayer(store *db.Store, scheduler temporal.Scheduler, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Address      string `json:"address"`
			PollInterval string `json:"poll_interval"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode register request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.Address); err != nil {
			logger.Debug("invalid address", "address", req.Address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		address := strings.ToLower(req.Address)

		pollInterval := cfg.HistoryPollInterval
		if req.PollInterval != "" {
			parsed, err := time.ParseDuration(req.PollInterval)
			if err != nil {
				logger.Debug("invalid poll interval", "interval", req.PollInterval, "error", err)
				writeError(w, "invalid poll_interval: must be a valid duration (e.g. '30s', '1m')", http.StatusBadRequest)
				return
			}
			pollInterval = parsed
		}

		if pollInterval < cfg.MinPollInterval {
			writeError(w, fmt.Sprintf("poll_interval must be at least %s", cfg.MinPollInterval), http.StatusBadRequest)
			return
		}

		player, err := store.UpsertPlayer(r.Context(), db.UpsertPlayerParams{
			Address:      address,
			PollInterval: pollInterval,
			Status:       "active",
		})
		if err != nil {
			logger.Error("failed to register player", "address", address, "error", err)
			writeError(w, "failed to register player", http.StatusInternalServerError)
			return
		}

		if err := scheduler.UpsertPlayerSchedule(r.Context(), address, pollInterval); err != nil {
			logger.Error("failed to create schedule, rolling back registration",
				"address", address,
				"error", err,
			)
			if delErr := store.DeletePlayer(r.Context(), address); delErr != nil {
				logger.Error("rollback failed", "address", address, "error", delErr)
			}
			writeError(w, "failed to schedule history refresh", http.StatusInternalServerError)
			return
		}

		logger.Info("player registered",
			"address", address,
			"poll_interval", pollInterval,
		)
		writeJSON(w, playerToResponse(player), http.StatusCreated)
	})
}

// handleUnregisterPlayer returns a handler that unregisters a player and
// deletes their refresh schedule.
// DELETE /api/v1/players/{address}
func handleUnregisterPlayer(store *db.Store, scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		address = strings.ToLower(address)

		exists, err := store.PlayerExists(r.Context(), address)
		if err != nil {
			logger.Error("failed to check player existence", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if !exists {
			writeError(w, "player not found", http.StatusNotFound)
			return
		}

		// Delete the schedule first; a schedule without a player row would
		// keep polling for nobody.
		if err := scheduler.DeletePlayerSchedule(r.Context(), address); err != nil {
			logger.Error("failed to delete schedule", "address", address, "error", err)
			writeError(w, "failed to stop history refresh", http.StatusInternalServerError)
			return
		}

		if err := store.DeletePlayer(r.Context(), address); err != nil {
			logger.Error("failed to delete player", "address", address, "error", err)
			writeError(w, "failed to unregister player", http.StatusInternalServerError)
			return
		}

		logger.Info("player unregistered", "address", address)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleGetPlayer returns a handler that retrieves a registered player.
// GET /api/v1/players/{address}
func handleGetPlayer(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		player, err := store.GetPlayer(r.Context(), strings.ToLower(address))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				writeError(w, "player not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get player", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, playerToResponse(player), http.StatusOK)
	})
}

// handleListPlayers returns a handler that lists all registered players.
// GET /api/v1/players
func handleListPlayers(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		players, err := store.ListPlayers(r.Context())
		if err != nil {
			logger.Error("failed to list players", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]playerResponse, len(players))
		for i, player := range players {
			resp[i] = playerToResponse(player)
		}
		writeJSON(w, map[string]interface{}{
			"players": resp,
		}, http.StatusOK)
	})
}

// settlementResponse is the JSON shape of an archived settlement.
type settlementResponse struct {
	GameID      string    `json:"game_id"`
	Player      string    `json:"player"`
	Result      string    `json:"result"`
	PayoutWei   string    `json:"payout_wei"`
	FeeWei      string    `json:"fee_wei"`
	Won         bool      `json:"won"`
	TxHash      string    `json:"tx_hash"`
	BlockNumber int64     `json:"block_number"`
	CreatedAt   time.Time `json:"created_at"`
}

func settlementToResponse(st *db.Settlement) settlementResponse {
	return settlementResponse{
		GameID:      st.GameID,
		Player:      st.Player,
		Result:      evm.Side(st.Result).String(),
		PayoutWei:   st.PayoutWei,
		FeeWei:      st.FeeWei,
		Won:         st.Won,
		TxHash:      st.TxHash,
		BlockNumber: st.BlockNumber,
		CreatedAt:   st.CreatedAt,
	}
}

// handleListSettlements returns a handler that lists archived settlements
// for a player, newest first, paginated.
// GET /api/v1/settlements?player={address}&limit={n}&offset={n}
func handleListSettlements(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		player := r.URL.Query().Get("player")
		if err := validateAddress(player); err != nil {
			logger.Debug("invalid player address", "player", player, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, err := parsePositiveInt(r.URL.Query().Get("limit"), defaultPageSize, maxPageSize)
		if err != nil {
			writeError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		offset, err := parsePositiveInt(r.URL.Query().Get("offset"), 0, 1<<30)
		if err != nil {
			writeError(w, "invalid offset", http.StatusBadRequest)
			return
		}

		settlements, err := store.ListSettlementsByPlayer(r.Context(), db.ListSettlementsByPlayerParams{
			Player: strings.ToLower(player),
			Limit:  int32(limit),
			Offset: int32(offset),
		})
		if err != nil {
			logger.Error("failed to list settlements", "player", player, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		total, err := store.CountSettlementsByPlayer(r.Context(), strings.ToLower(player))
		if err != nil {
			logger.Error("failed to count settlements", "player", player, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]settlementResponse, len(settlements))
		for i, st := range settlements {
			resp[i] = settlementToResponse(st)
		}
		writeJSON(w, map[string]interface{}{
			"settlements": resp,
			"total":       total,
			"limit":       limit,
			"offset":      offset,
		}, http.StatusOK)
	})
}

// validateAddress validates a 0x-prefixed hex address.
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address is required")
	}
	if !validAddressRegex.MatchString(address) {
		return fmt.Errorf("invalid address: must be a 0x-prefixed 40-character hex string")
	}
	return nil
}

func parsePositiveInt(text string, fallback, max int) (int, error) {
	if text == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(text)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", text)
	}
	if n > max {
		n = max
	}
	return n, nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, map[string]string{"error": message}, status)
}
