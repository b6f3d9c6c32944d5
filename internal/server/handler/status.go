package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves GET /api/status.
type StatusHandler struct {
	mode      string
	shell     Shell
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, shell Shell, startedAt time.Time) *StatusHandler {
	return &StatusHandler{mode: mode, shell: shell, startedAt: startedAt}
}

type statusResponse struct {
	Mode          string `json:"mode"`
	Connected     bool   `json:"connected"`
	Account       string `json:"account,omitempty"`
	ChainID       uint64 `json:"chainId,omitempty"`
	Busy          bool   `json:"busy"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

// GetStatus reports the wallet and action state.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	account, ok := h.shell.Account()
	writeJSON(w, http.StatusOK, statusResponse{
		Mode:          h.mode,
		Connected:     ok,
		Account:       account,
		ChainID:       h.shell.ChainID(),
		Busy:          h.shell.Busy(),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	})
}
