package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
	"github.com/alanyoungcy/bundlerlab/internal/service"
)

type fakeShell struct {
	mu         sync.Mutex
	inputs     service.Inputs
	log        []string
	account    string
	connectErr error
	position   domain.PositionView
	simulation domain.SimulationView
	runs       []string
}

func newFakeShell() *fakeShell {
	return &fakeShell{inputs: service.DefaultInputs()}
}

func (f *fakeShell) Inputs() service.Inputs {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs
}

func (f *fakeShell) SetInputs(_ context.Context, in service.Inputs) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = in
}

func (f *fakeShell) Log() []string                     { return f.log }
func (f *fakeShell) Busy() bool                        { return false }
func (f *fakeShell) Position() domain.PositionView     { return f.position }
func (f *fakeShell) Simulation() domain.SimulationView { return f.simulation }
func (f *fakeShell) Account() (string, bool)           { return f.account, f.account != "" }

func (f *fakeShell) ChainID() uint64 {
	if f.account == "" {
		return 0
	}
	return 31337
}

func (f *fakeShell) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.account = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	return nil
}

func (f *fakeShell) Disconnect(context.Context) { f.account = "" }

func (f *fakeShell) RunSupplyCollateralBorrow(context.Context) []string {
	f.runs = append(f.runs, domain.ActionSupplyCollateralBorrow)
	f.log = []string{service.MsgSupplySuccess}
	return f.log
}

func (f *fakeShell) RunRepayWithdraw(context.Context) []string {
	f.runs = append(f.runs, domain.ActionRepayWithdraw)
	f.log = []string{service.MsgInFlight}
	return f.log
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func do(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	if method == http.MethodPost && strings.HasPrefix(target, "/shell/") {
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	h(rec, r)
	return rec
}

func TestPutInputsMerges(t *testing.T) {
	shell := newFakeShell()
	h := NewAPIHandler(shell, discard())

	rec := do(h.PutInputs, http.MethodPut, "/api/inputs", `{"borrowAmount":"0.25"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got service.Inputs
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "0.25", got.BorrowAmount)
	assert.Equal(t, "1", got.SupplyAmount)
	assert.Equal(t, service.DefaultInputs().MarketID, got.MarketID)

	rec = do(h.PutInputs, http.MethodPut, "/api/inputs", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActionsReturnLog(t *testing.T) {
	shell := newFakeShell()
	h := NewAPIHandler(shell, discard())

	rec := do(h.SupplyCollateralBorrow, http.MethodPost, "/api/actions/supply-collateral-borrow", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"log":["Bundler action executed successfully"],"busy":false}`, rec.Body.String())

	rec = do(h.RepayWithdraw, http.MethodPost, "/api/actions/repay-withdraw", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(h.GetLog, http.MethodGet, "/api/log", "")
	assert.JSONEq(t, `{"log":["Another bundler action is already in progress"],"busy":false}`, rec.Body.String())
}

func TestWalletEndpoints(t *testing.T) {
	shell := newFakeShell()
	h := NewAPIHandler(shell, discard())

	rec := do(h.Connect, http.MethodPost, "/api/wallet/connect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"account":"0x2c7536E3605D9C16a7a3D7b1898e529396a65c23","chainId":31337}`, rec.Body.String())

	rec = do(h.Disconnect, http.MethodPost, "/api/wallet/disconnect", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok := shell.Account()
	assert.False(t, ok)

	shell.connectErr = errors.New("rpc unreachable")
	rec = do(h.Connect, http.MethodPost, "/api/wallet/connect", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "rpc unreachable")
}

func TestGetPositionRendersAmounts(t *testing.T) {
	shell := newFakeShell()
	healthy := true
	shell.position = domain.PositionView{Snapshot: &domain.PositionSnapshot{
		MarketID:         "0x39d11026eae1c6ec02aa4c0910778664089cdd97c3fd23f68f7cd05e2e95af48",
		SupplyAssets:     big.NewInt(1_000),
		BorrowAssets:     big.NewInt(0),
		CollateralAssets: big.NewInt(5_000),
		IsHealthy:        &healthy,
	}}
	rec := do(NewAPIHandler(shell, discard()).GetPosition, http.MethodGet, "/api/position", "")

	var msg service.PositionMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	require.NotNil(t, msg.Position)
	assert.Equal(t, "1000", msg.Position.SupplyAssets)
	assert.Equal(t, "5000", msg.Position.Collateral)
}

func TestStatus(t *testing.T) {
	shell := newFakeShell()
	h := NewStatusHandler("serve", shell, time.Now().Add(-time.Minute))
	rec := do(h.GetStatus, http.MethodGet, "/api/status", "")

	var got statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "serve", got.Mode)
	assert.False(t, got.Connected)
	assert.GreaterOrEqual(t, got.UptimeSeconds, int64(59))
}

type memActions struct {
	recs []domain.ActionRecord
	opts domain.ListOpts
	err  error
}

func (m *memActions) Insert(context.Context, domain.ActionRecord) error { return nil }

func (m *memActions) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.ActionRecord, error) {
	m.opts = opts
	return m.recs, m.err
}

func TestListActions(t *testing.T) {
	store := &memActions{recs: []domain.ActionRecord{{
		ID:         "id-1",
		Action:     domain.ActionRepayWithdraw,
		Operations: []domain.OperationType{domain.OpRepay, domain.OpWithdrawCollateral, domain.OpWithdraw},
		Status:     domain.ActionFailed,
		Log:        []string{"Error: boom"},
		Error:      "boom",
	}}}
	h := NewHistoryHandler(store, discard())

	rec := do(h.ListActions, http.MethodGet, "/api/actions?limit=1000&offset=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ListOpts{Limit: 500, Offset: 5}, store.opts)

	var body struct {
		Actions []map[string]any `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Actions, 1)
	assert.Equal(t, "failed", body.Actions[0]["status"])
	assert.Equal(t, "boom", body.Actions[0]["error"])

	store.err = errors.New("db down")
	rec = do(h.ListActions, http.MethodGet, "/api/actions", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPageIndex(t *testing.T) {
	shell := newFakeShell()
	shell.log = []string{"Please connect your wallet first"}
	rec := do(NewPageHandler(shell, discard()).Index, http.MethodGet, "/?error=oops", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Bundler Dumb Interface")
	assert.Contains(t, body, "Please connect your wallet first")
	assert.Contains(t, body, "Please connect your wallet</div>")
	assert.Contains(t, body, "oops")
	assert.Contains(t, body, service.DefaultInputs().MarketID)
}

func TestPageShowsPosition(t *testing.T) {
	shell := newFakeShell()
	shell.account = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	healthy := false
	shell.position = domain.PositionView{Snapshot: &domain.PositionSnapshot{
		SupplyAssets:        big.NewInt(7),
		BorrowAssets:        big.NewInt(3),
		CollateralAssets:    big.NewInt(11),
		MaxBorrowableAssets: big.NewInt(13),
		IsHealthy:           &healthy,
	}}
	body := do(NewPageHandler(shell, discard()).Index, http.MethodGet, "/", "").Body.String()
	assert.Contains(t, body, "Supply Assets: 7")
	assert.Contains(t, body, "Collateral Assets: 11")
	assert.Contains(t, body, "Max Borrowable: 13")
	assert.Contains(t, body, "Unhealthy")
}

func TestPageActionAppliesForm(t *testing.T) {
	shell := newFakeShell()
	h := NewPageHandler(shell, discard())

	form := url.Values{"supplyAmount": {" 2 "}, "borrowAmount": {"0.5"}}
	rec := do(h.SupplyCollateralBorrow, http.MethodPost, "/shell/supply-collateral-borrow?api_key=k", form.Encode())

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/?api_key=k", rec.Header().Get("Location"))
	assert.Equal(t, []string{domain.ActionSupplyCollateralBorrow}, shell.runs)
	in := shell.Inputs()
	assert.Equal(t, "2", in.SupplyAmount)
	assert.Equal(t, "0.5", in.BorrowAmount)
	assert.Equal(t, "5", in.SupplyCollateralAmount)
}

func TestPageConnectErrorFlashes(t *testing.T) {
	shell := newFakeShell()
	shell.connectErr = errors.New("rpc unreachable")
	rec := do(NewPageHandler(shell, discard()).Connect, http.MethodPost, "/shell/connect", "")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "rpc unreachable", loc.Query().Get("error"))
}
