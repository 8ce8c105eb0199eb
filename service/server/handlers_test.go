package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/degenlabs/coinflip/service/config"
	"github.com/degenlabs/coinflip/service/evm"
	"github.com/degenlabs/coinflip/service/wager"
	"github.com/degenlabs/coinflip/service/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHandlerPlayer = "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"

type stubSessionManager struct {
	snapshot      wallet.Snapshot
	connectErr    error
	disconnectErr error
	connects      int
	disconnects   int
}

func (s *stubSessionManager) Connect(ctx context.Context) error {
	s.connects++
	return s.connectErr
}

func (s *stubSessionManager) Disconnect(ctx context.Context) error {
	s.disconnects++
	return s.disconnectErr
}

func (s *stubSessionManager) Snapshot() wallet.Snapshot {
	return s.snapshot
}

type stubFlipService struct {
	attempt    *wager.Attempt
	flipErr    error
	history    []wager.HistoryEntry
	balance    *big.Int
	refreshErr error
	refreshes  []string
}

func (s *stubFlipService) Flip(ctx context.Context, sideText, amountText string) (*wager.Attempt, error) {
	return s.attempt, s.flipErr
}

func (s *stubFlipService) Attempt() *wager.Attempt { return s.attempt }

func (s *stubFlipService) History() []wager.HistoryEntry { return s.history }

func (s *stubFlipService) Balance() *big.Int { return s.balance }

func (s *stubFlipService) RefreshBalance(ctx context.Context) error { return s.refreshErr }

func (s *stubFlipService) RefreshHistory(ctx context.Context, source string) error {
	s.refreshes = append(s.refreshes, source)
	return s.refreshErr
}

func (s *stubFlipService) TransientError() string { return "" }

type stubLimitsReader struct {
	min *big.Int
	max *big.Int
	err error
}

func (s *stubLimitsReader) WagerLimits(ctx context.Context) (*big.Int, *big.Int, error) {
	return s.min, s.max, s.err
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleConnectSession(t *testing.T) {
	sessions := &stubSessionManager{snapshot: wallet.Snapshot{
		Address: testHandlerPlayer,
		State:   wallet.StateConnected,
	}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/session", nil)

	handleConnectSession(sessions, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, sessions.connects)
	body := decodeBody(t, rec)
	assert.Equal(t, testHandlerPlayer, body["address"])
	assert.Equal(t, "connected", body["state"])
}

func TestHandleConnectSession_Error(t *testing.T) {
	sessions := &stubSessionManager{
		connectErr: errors.New("provider unavailable"),
		snapshot:   wallet.Snapshot{State: wallet.StateErrored, Err: errors.New("provider unavailable")},
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/session", nil)

	handleConnectSession(sessions, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "errored", body["state"])
	assert.Equal(t, "provider unavailable", body["error"])
}

func TestHandleDisconnectSession_DegradesToLocalClear(t *testing.T) {
	sessions := &stubSessionManager{
		disconnectErr: errors.New("logout rpc failed"),
		snapshot:      wallet.Snapshot{State: wallet.StateIdle},
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("DELETE", "/api/v1/session", nil)

	handleDisconnectSession(sessions, testLogger()).ServeHTTP(rec, req)

	// The session is cleared locally even when the provider call fails.
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "idle", body["state"])
	assert.NotContains(t, body, "address")
}

func TestHandleGetSession(t *testing.T) {
	sessions := &stubSessionManager{snapshot: wallet.Snapshot{State: wallet.StateIdle}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/session", nil)

	handleGetSession(sessions, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, sessions.connects)
}

func TestHandleFlip(t *testing.T) {
	flips := &stubFlipService{attempt: &wager.Attempt{
		Side:     evm.SideTails,
		WagerWei: big.NewInt(10000000000000000),
		Phase:    wager.PhaseSettled,
		Outcome:  wager.OutcomeWin,
	}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/flips", strings.NewReader(`{"side":"tails","amount":"0.01"}`))

	handleFlip(flips, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "settled", body["phase"])
	assert.Equal(t, "win", body["outcome"])
	assert.Equal(t, "tails", body["side"])
	assert.Equal(t, "0.01", body["wager_ether"])
}

func TestHandleFlip_InvalidJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/flips", strings.NewReader("{not json"))

	handleFlip(&stubFlipService{}, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleFlip_ErrorStatusByReason(t *testing.T) {
	tests := []struct {
		name       string
		reason     wager.FailureReason
		wantStatus int
	}{
		{"invalid input", wager.ReasonUserInputInvalid, http.StatusBadRequest},
		{"no session", wager.ReasonWalletUnavailable, http.StatusConflict},
		{"no signer", wager.ReasonSignerUnavailable, http.StatusConflict},
		{"rejected", wager.ReasonTransactionRejected, http.StatusBadGateway},
		{"undecodable", wager.ReasonOutcomeUndecodable, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flowErr := &wager.FlowError{Reason: tt.reason, Message: "nope"}
			flips := &stubFlipService{
				attempt: &wager.Attempt{Phase: wager.PhaseFailed, Err: flowErr},
				flipErr: flowErr,
			}
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/api/v1/flips", strings.NewReader(`{"side":"heads","amount":"0.01"}`))

			handleFlip(flips, testLogger()).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeBody(t, rec)
			errDetail, ok := body["error"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, string(tt.reason), errDetail["reason"])
		})
	}
}

func TestHandleFlip_RejectsSecondAttemptInFlight(t *testing.T) {
	// The controller rejects a flip while one is running and hands back a
	// snapshot of the running attempt; the rejection itself rides the error.
	flowErr := &wager.FlowError{Reason: wager.ReasonAttemptInFlight, Message: "a flip is already in progress"}
	flips := &stubFlipService{
		attempt: &wager.Attempt{
			Side:     evm.SideHeads,
			WagerWei: big.NewInt(10000000000000000),
			Phase:    wager.PhaseAwaitingConfirmation,
		},
		flipErr: flowErr,
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/flips", strings.NewReader(`{"side":"tails","amount":"0.01"}`))

	handleFlip(flips, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "awaiting_confirmation", body["phase"])
	errDetail, ok := body["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "attempt_in_flight", errDetail["reason"])
	assert.Equal(t, "a flip is already in progress", errDetail["message"])
}

func TestHandleFlip_NilAttemptWithError(t *testing.T) {
	// A FlipService that yields no attempt alongside its error must still get
	// a clean JSON rejection, not a panic.
	flowErr := &wager.FlowError{Reason: wager.ReasonAttemptInFlight, Message: "a flip is already in progress"}
	flips := &stubFlipService{flipErr: flowErr}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/flips", strings.NewReader(`{"side":"tails","amount":"0.01"}`))

	handleFlip(flips, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "idle", body["phase"])
	errDetail, ok := body["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "attempt_in_flight", errDetail["reason"])
}

func TestHandleLatestAttempt_None(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/flips/latest", nil)

	handleLatestAttempt(&stubFlipService{}, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHistory(t *testing.T) {
	flips := &stubFlipService{history: []wager.HistoryEntry{
		{GameID: "2", Result: "tails", PayoutEther: "0.018", Won: true},
		{GameID: "1", Result: "heads", PayoutEther: "0", Won: false},
	}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/history", nil)

	handleHistory(flips, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	entries, ok := body["history"].([]interface{})
	require.True(t, ok)
	assert.Len(t, entries, 2)
	assert.Empty(t, flips.refreshes, "no refresh without the query param")
}

func TestHandleHistory_Refresh(t *testing.T) {
	flips := &stubFlipService{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/history?refresh=true", nil)

	handleHistory(flips, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"manual"}, flips.refreshes)
}

func TestHandleBalance(t *testing.T) {
	flips := &stubFlipService{balance: big.NewInt(2500000000000000000)}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/balance", nil)

	handleBalance(flips, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "2500000000000000000", body["balance_wei"])
	assert.Equal(t, "2.5", body["balance_ether"])
}

func TestHandleBalance_NotAvailable(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/balance", nil)

	handleBalance(&stubFlipService{}, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleLimits(t *testing.T) {
	chain := &stubLimitsReader{
		min: big.NewInt(1000000000000000),
		max: big.NewInt(100000000000000000),
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/limits", nil)

	handleLimits(chain, testConfig(), testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "0.001", body["min_wager_ether"])
	assert.Equal(t, "0.1", body["max_wager_ether"])
	assert.Equal(t, false, body["degraded"])
}

func TestHandleLimits_FallsBackWhenChainFails(t *testing.T) {
	chain := &stubLimitsReader{err: errors.New("rpc timeout")}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/limits", nil)

	handleLimits(chain, testConfig(), testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "0.001", body["min_wager_ether"])
	assert.Equal(t, "0.1", body["max_wager_ether"])
	assert.Equal(t, true, body["degraded"])
}

func TestHandleRegisterPlayer_InvalidAddress(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/players",
		strings.NewReader(`{"address":"not-an-address"}`))

	handleRegisterPlayer(nil, nil, testConfig(), testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRegisterPlayer_InvalidInterval(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/players",
		strings.NewReader(fmt.Sprintf(`{"address":"%s","poll_interval":"soon"}`, testHandlerPlayer)))

	handleRegisterPlayer(nil, nil, testConfig(), testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRegisterPlayer_IntervalTooSmall(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/players",
		strings.NewReader(fmt.Sprintf(`{"address":"%s","poll_interval":"1s"}`, testHandlerPlayer)))

	handleRegisterPlayer(nil, nil, testConfig(), testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["error"], "10s")
}

func TestHandleUnregisterPlayer_InvalidAddress(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("DELETE", "/api/v1/players/bogus", nil)
	req.SetPathValue("address", "bogus")

	handleUnregisterPlayer(nil, nil, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListSettlements_MissingPlayer(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/settlements", nil)

	handleListSettlements(nil, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, validateAddress(testHandlerPlayer))
	assert.NoError(t, validateAddress(strings.ToLower(testHandlerPlayer)))
	assert.Error(t, validateAddress(""))
	assert.Error(t, validateAddress("0x123"))
	assert.Error(t, validateAddress("ab5801a7d398351b8be11c439e05c5b3259aec9b"))
	assert.Error(t, validateAddress("0xZZ5801a7d398351b8be11c439e05c5b3259aec9b"))
}

func TestParsePositiveInt(t *testing.T) {
	n, err := parsePositiveInt("", 50, 500)
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	n, err = parsePositiveInt("25", 50, 500)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	n, err = parsePositiveInt("9999", 50, 500)
	require.NoError(t, err)
	assert.Equal(t, 500, n, "limit is clamped to the maximum")

	_, err = parsePositiveInt("-1", 50, 500)
	assert.Error(t, err)

	_, err = parsePositiveInt("abc", 50, 500)
	assert.Error(t, err)
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/api/v1/session", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/session", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func testConfig() *config.Config {
	return &config.Config{
		MinWagerFallback:    "0.001",
		MaxWagerFallback:    "0.1",
		HistoryPollInterval: 30 * time.Second,
		MinPollInterval:     10 * time.Second,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
