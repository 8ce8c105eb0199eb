package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Session represents the server's wallet session state.
type Session struct {
	Address         string `json:"address,omitempty"`
	State           string `json:"state"`
	IsConnecting    bool   `json:"is_connecting"`
	IsDisconnecting bool   `json:"is_disconnecting"`
	IsLoading       bool   `json:"is_loading"`
	Error           string `json:"error,omitempty"`
}

// Attempt represents a wager attempt as reported by the server.
type Attempt struct {
	Phase        string        `json:"phase"`
	Side         string        `json:"side,omitempty"`
	WagerEther   string        `json:"wager_ether,omitempty"`
	TxHash       string        `json:"tx_hash,omitempty"`
	Outcome      string        `json:"outcome,omitempty"`
	LimitWarning string        `json:"limit_warning,omitempty"`
	Error        *AttemptError `json:"error,omitempty"`
}

// AttemptError carries the failure reason and a user-facing message.
type AttemptError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// HistoryEntry is one settled game from the recent history.
type HistoryEntry struct {
	GameID      string `json:"game_id"`
	Result      string `json:"result"`
	PayoutWei   string `json:"payout_wei"`
	PayoutEther string `json:"payout_ether"`
	Won         bool   `json:"won"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// Balance is the session account's native balance.
type Balance struct {
	BalanceWei   string `json:"balance_wei"`
	BalanceEther string `json:"balance_ether"`
}

// Limits are the contract's wager bounds. Degraded is true when the
// server could not read the contract and returned configured fallbacks.
type Limits struct {
	MinWagerWei   string `json:"min_wager_wei"`
	MaxWagerWei   string `json:"max_wager_wei"`
	MinWagerEther string `json:"min_wager_ether"`
	MaxWagerEther string `json:"max_wager_ether"`
	Degraded      bool   `json:"degraded"`
}

// Player represents a player registered for scheduled history refresh.
type Player struct {
	Address      string        `json:"address"`
	PollInterval time.Duration `json:"poll_interval"`
	LastPollTime *time.Time    `json:"last_poll_time,omitempty"`
	Status       string        `json:"status"` // active, paused, error
	CreatedAt    time.Time     `json:"created_at"`
}

// Settlement is an archived game settlement.
type Settlement struct {
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

// SettlementPage is one page of archived settlements.
type SettlementPage struct {
	Settlements []*Settlement `json:"settlements"`
	Total       int64         `json:"total"`
	Limit       int           `json:"limit"`
	Offset      int           `json:"offset"`
}

// Client is the HTTP client for the coinflip service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new coinflip service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Connect asks the server to connect its wallet session.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	var session Session
	if err := c.do(ctx, "POST", "/api/v1/session", nil, &session); err != nil {
		return nil, err
	}
	c.logger.Debug("session connected", "address", session.Address)
	return &session, nil
}

// Disconnect asks the server to disconnect its wallet session. The server
// clears the session locally even when the wallet provider call fails.
func (c *Client) Disconnect(ctx context.Context) (*Session, error) {
	var session Session
	if err := c.do(ctx, "DELETE", "/api/v1/session", nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession retrieves the current wallet session state.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	var session Session
	if err := c.do(ctx, "GET", "/api/v1/session", nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Flip submits a wager and blocks until the attempt settles or fails.
// The amount is in ether, e.g. "0.01". Use a generous context deadline;
// confirmation waits as long as the chain needs.
func (c *Client) Flip(ctx context.Context, side, amount string) (*Attempt, error) {
	reqBody := map[string]string{
		"side":   side,
		"amount": amount,
	}

	var attempt Attempt
	if err := c.do(ctx, "POST", "/api/v1/flips", reqBody, &attempt); err != nil {
		return nil, err
	}

	c.logger.Debug("flip settled",
		"side", side,
		"amount", amount,
		"outcome", attempt.Outcome,
	)
	return &attempt, nil
}

// LatestAttempt retrieves the most recent wager attempt.
func (c *Client) LatestAttempt(ctx context.Context) (*Attempt, error) {
	var attempt Attempt
	if err := c.do(ctx, "GET", "/api/v1/flips/latest", nil, &attempt); err != nil {
		return nil, err
	}
	return &attempt, nil
}

// History retrieves the recent settled games, newest first. When refresh
// is true the server re-scans the chain before responding.
func (c *Client) History(ctx context.Context, refresh bool) ([]*HistoryEntry, error) {
	path := "/api/v1/history"
	if refresh {
		path += "?refresh=true"
	}

	var response struct {
		History []*HistoryEntry `json:"history"`
	}
	if err := c.do(ctx, "GET", path, nil, &response); err != nil {
		return nil, err
	}
	return response.History, nil
}

// Balance retrieves the session account's balance. When refresh is true
// the server re-reads the chain before responding.
func (c *Client) Balance(ctx context.Context, refresh bool) (*Balance, error) {
	path := "/api/v1/balance"
	if refresh {
		path += "?refresh=true"
	}

	var balance Balance
	if err := c.do(ctx, "GET", path, nil, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// Limits retrieves the contract's wager bounds.
func (c *Client) Limits(ctx context.Context) (*Limits, error) {
	var limits Limits
	if err := c.do(ctx, "GET", "/api/v1/limits", nil, &limits); err != nil {
		return nil, err
	}
	return &limits, nil
}

// RegisterPlayer tells the server to start refreshing a player's history
// on a schedule.
func (c *Client) RegisterPlayer(ctx context.Context, address string, pollInterval time.Duration) (*Player, error) {
	reqBody := map[string]interface{}{
		"address":       address,
		"poll_interval": pollInterval.String(),
	}

	var apiPlayer playerResponse
	if err := c.do(ctx, "POST", "/api/v1/players", reqBody, &apiPlayer); err != nil {
		return nil, err
	}

	c.logger.Debug("player registered", "address", address, "poll_interval", pollInterval)
	return responseToPlayer(&apiPlayer)
}

// UnregisterPlayer tells the server to stop refreshing a player's history.
func (c *Client) UnregisterPlayer(ctx context.Context, address string) error {
	path := "/api/v1/players/" + url.PathEscape(address)
	if err := c.do(ctx, "DELETE", path, nil, nil); err != nil {
		return err
	}

	c.logger.Debug("player unregistered", "address", address)
	return nil
}

// GetPlayer retrieves the registration details for a player.
func (c *Client) GetPlayer(ctx context.Context, address string) (*Player, error) {
	path := "/api/v1/players/" + url.PathEscape(address)

	var apiPlayer playerResponse
	if err := c.do(ctx, "GET", path, nil, &apiPlayer); err != nil {
		return nil, err
	}
	return responseToPlayer(&apiPlayer)
}

// ListPlayers retrieves all registered players.
func (c *Client) ListPlayers(ctx context.Context) ([]*Player, error) {
	var response struct {
		Players []playerResponse `json:"players"`
	}
	if err := c.do(ctx, "GET", "/api/v1/players", nil, &response); err != nil {
		return nil, err
	}

	players := make([]*Player, len(response.Players))
	for i, apiPlayer := range response.Players {
		player, err := responseToPlayer(&apiPlayer)
		if err != nil {
			return nil, fmt.Errorf("failed to parse player %s: %w", apiPlayer.Address, err)
		}
		players[i] = player
	}
	return players, nil
}

// ListSettlements retrieves a page of archived settlements for a player,
// newest first.
func (c *Client) ListSettlements(ctx context.Context, player string, limit, offset int) (*SettlementPage, error) {
	query := url.Values{}
	query.Set("player", player)
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}

	var page SettlementPage
	if err := c.do(ctx, "GET", "/api/v1/settlements?"+query.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// do issues a request and decodes a 2xx JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, reqBody, out interface{}) error {
	var bodyReader io.Reader
	if reqBody != nil {
		body, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.parseErrorResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// playerResponse is the API response format for a player.
// The server returns poll_interval as a string (e.g. "30s").
type playerResponse struct {
	Address      string     `json:"address"`
	PollInterval string     `json:"poll_interval"`
	LastPollTime *time.Time `json:"last_poll_time,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
}

// responseToPlayer converts an API response to a domain Player.
func responseToPlayer(resp *playerResponse) (*Player, error) {
	pollInterval, err := time.ParseDuration(resp.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid poll_interval %q: %w", resp.PollInterval, err)
	}

	return &Player{
		Address:      resp.Address,
		PollInterval: pollInterval,
		LastPollTime: resp.LastPollTime,
		Status:       resp.Status,
		CreatedAt:    resp.CreatedAt,
	}, nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
