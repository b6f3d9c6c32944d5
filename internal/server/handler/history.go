package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
	"github.com/alanyoungcy/bundlerlab/internal/service"
)

// HistoryHandler serves GET /api/actions from the action store.
type HistoryHandler struct {
	actions domain.ActionStore
	logger  *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(actions domain.ActionStore, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{actions: actions, logger: logger.With(slog.String("handler", "history"))}
}

type actionJSON struct {
	service.ResultMessage
	MarketID   string   `json:"marketId"`
	Account    string   `json:"account,omitempty"`
	Operations []string `json:"operations"`
	Error      string   `json:"error,omitempty"`
	StartedAt  string   `json:"startedAt"`
	FinishedAt string   `json:"finishedAt"`
}

// ListActions returns recent actions, newest first.
func (h *HistoryHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.actions.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list actions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list actions")
		return
	}

	out := make([]actionJSON, 0, len(recs))
	for _, rec := range recs {
		ops := make([]string, len(rec.Operations))
		for i, op := range rec.Operations {
			ops[i] = string(op)
		}
		out = append(out, actionJSON{
			ResultMessage: service.NewResultMessage(rec),
			MarketID:      rec.MarketID.String(),
			Account:       rec.Account,
			Operations:    ops,
			Error:         rec.Error,
			StartedAt:     rec.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			FinishedAt:    rec.FinishedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": out})
}
