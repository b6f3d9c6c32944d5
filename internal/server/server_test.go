package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
	"github.com/alanyoungcy/bundlerlab/internal/metrics"
	"github.com/alanyoungcy/bundlerlab/internal/server/handler"
	"github.com/alanyoungcy/bundlerlab/internal/service"
)

type stubShell struct {
	inputs service.Inputs
	runs   int
}

func (s *stubShell) Inputs() service.Inputs                         { return s.inputs }
func (s *stubShell) SetInputs(_ context.Context, in service.Inputs) { s.inputs = in }
func (s *stubShell) Log() []string                                  { return nil }
func (s *stubShell) Busy() bool                                     { return false }
func (s *stubShell) Position() domain.PositionView                  { return domain.PositionView{} }
func (s *stubShell) Simulation() domain.SimulationView              { return domain.SimulationView{Pending: true} }
func (s *stubShell) Account() (string, bool)                        { return "", false }
func (s *stubShell) ChainID() uint64                                { return 0 }
func (s *stubShell) Connect(context.Context) error                  { return nil }
func (s *stubShell) Disconnect(context.Context)                     {}

func (s *stubShell) RunSupplyCollateralBorrow(context.Context) []string {
	s.runs++
	return []string{service.MsgConnectWallet}
}

func (s *stubShell) RunRepayWithdraw(context.Context) []string {
	s.runs++
	return []string{service.MsgConnectWallet}
}

func newTestHandler(t *testing.T, cfg Config) (http.Handler, *stubShell) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	shell := &stubShell{inputs: service.DefaultInputs()}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.WalletConnected(false)

	h := Handlers{
		Health:  handler.NewHealthHandler(),
		Status:  handler.NewStatusHandler("serve", shell, time.Now()),
		API:     handler.NewAPIHandler(shell, logger),
		Page:    handler.NewPageHandler(shell, logger),
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	return NewHandler(cfg, h, nil, logger), shell
}

func serve(h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, strings.NewReader(""))
	for k, v := range header {
		r.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestRoutes(t *testing.T) {
	h, _ := newTestHandler(t, Config{})

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/api/health", http.StatusOK},
		{http.MethodGet, "/api/status", http.StatusOK},
		{http.MethodGet, "/api/position", http.StatusOK},
		{http.MethodGet, "/api/simulation", http.StatusOK},
		{http.MethodGet, "/api/inputs", http.StatusOK},
		{http.MethodGet, "/api/log", http.StatusOK},
		{http.MethodPost, "/api/actions/repay-withdraw", http.StatusOK},
		{http.MethodPost, "/shell/disconnect", http.StatusSeeOther},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/nope", http.StatusNotFound},
		{http.MethodGet, "/api/actions", http.StatusNotFound},
		{http.MethodDelete, "/api/log", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := serve(h, tt.method, tt.path, nil)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}

func TestMetricsExposed(t *testing.T) {
	h, _ := newTestHandler(t, Config{})
	rec := serve(h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bundlerlab_")
}

func TestAuthAppliesToRoutes(t *testing.T) {
	h, _ := newTestHandler(t, Config{APIKey: "secret"})

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/health", nil).Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/metrics", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, "/api/status", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, "/", nil).Code)

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/?api_key=secret", nil).Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/status",
		http.Header{"Authorization": {"Bearer secret"}}).Code)
}

func TestActionRateLimited(t *testing.T) {
	h, shell := newTestHandler(t, Config{ActionsPerMinute: 1})

	codes := make([]int, 0, 3)
	for range 3 {
		codes = append(codes, serve(h, http.MethodPost, "/api/actions/supply-collateral-borrow", nil).Code)
	}
	// Burst of two, then limited.
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 2, shell.runs)

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/log", nil).Code)
}
