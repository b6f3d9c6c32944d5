package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bundlerlab/internal/service"
)

// APIHandler serves the JSON view of the shell.
type APIHandler struct {
	shell  Shell
	logger *slog.Logger
}

// NewAPIHandler creates an APIHandler.
func NewAPIHandler(shell Shell, logger *slog.Logger) *APIHandler {
	return &APIHandler{shell: shell, logger: logger.With(slog.String("handler", "api"))}
}

// GetPosition serves GET /api/position.
func (h *APIHandler) GetPosition(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, service.NewPositionMessage(h.shell.Position()))
}

// GetSimulation serves GET /api/simulation.
func (h *APIHandler) GetSimulation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, service.NewSimulationMessage(h.shell.Simulation()))
}

// GetInputs serves GET /api/inputs.
func (h *APIHandler) GetInputs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.shell.Inputs())
}

// PutInputs serves PUT /api/inputs. Fields absent from the body keep their
// current value.
func (h *APIHandler) PutInputs(w http.ResponseWriter, r *http.Request) {
	in := h.shell.Inputs()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.shell.SetInputs(r.Context(), in)
	writeJSON(w, http.StatusOK, h.shell.Inputs())
}

type logResponse struct {
	Log  []string `json:"log"`
	Busy bool     `json:"busy"`
}

// GetLog serves GET /api/log.
func (h *APIHandler) GetLog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, logResponse{Log: nonNil(h.shell.Log()), Busy: h.shell.Busy()})
}

// Connect serves POST /api/wallet/connect.
func (h *APIHandler) Connect(w http.ResponseWriter, r *http.Request) {
	if err := h.shell.Connect(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "wallet connect failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	account, _ := h.shell.Account()
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "chainId": h.shell.ChainID()})
}

// Disconnect serves POST /api/wallet/disconnect.
func (h *APIHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.shell.Disconnect(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// SupplyCollateralBorrow serves POST /api/actions/supply-collateral-borrow.
func (h *APIHandler) SupplyCollateralBorrow(w http.ResponseWriter, r *http.Request) {
	h.writeAction(w, h.shell.RunSupplyCollateralBorrow(r.Context()))
}

// RepayWithdraw serves POST /api/actions/repay-withdraw.
func (h *APIHandler) RepayWithdraw(w http.ResponseWriter, r *http.Request) {
	h.writeAction(w, h.shell.RunRepayWithdraw(r.Context()))
}

// writeAction returns the result log. Failed bundles are still 200: the
// outcome is in the log, as in the page.
func (h *APIHandler) writeAction(w http.ResponseWriter, log []string) {
	status := http.StatusOK
	if rejectedInFlight(log) {
		status = http.StatusConflict
	}
	writeJSON(w, status, logResponse{Log: nonNil(log), Busy: h.shell.Busy()})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
