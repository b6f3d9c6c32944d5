package handler

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/alanyoungcy/bundlerlab/internal/service"
)

//go:embed templates/index.html
var templatesFS embed.FS

var pageTmpl = template.Must(template.New("index.html").Funcs(template.FuncMap{
	"deref": func(b *bool) bool { return b != nil && *b },
}).ParseFS(templatesFS, "templates/index.html"))

// PageHandler renders the single-page shell and handles its form posts.
// Every post redirects back to / so a reload never repeats an action.
type PageHandler struct {
	shell  Shell
	logger *slog.Logger
}

// NewPageHandler creates a PageHandler.
func NewPageHandler(shell Shell, logger *slog.Logger) *PageHandler {
	return &PageHandler{shell: shell, logger: logger.With(slog.String("handler", "page"))}
}

type pageData struct {
	Inputs     service.Inputs
	Connected  bool
	Account    string
	ChainID    uint64
	Position   service.PositionMessage
	Simulation service.SimulationMessage
	Log        []string
	Busy       bool
	Flash      string
	// Query carries the api key, if any, so form posts stay authenticated.
	Query template.URL
}

// Index serves GET /.
func (h *PageHandler) Index(w http.ResponseWriter, r *http.Request) {
	account, ok := h.shell.Account()
	data := pageData{
		Inputs:     h.shell.Inputs(),
		Connected:  ok,
		Account:    account,
		ChainID:    h.shell.ChainID(),
		Position:   service.NewPositionMessage(h.shell.Position()),
		Simulation: service.NewSimulationMessage(h.shell.Simulation()),
		Log:        h.shell.Log(),
		Busy:       h.shell.Busy(),
		Flash:      r.URL.Query().Get("error"),
		Query:      template.URL(keyQuery(r)),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTmpl.Execute(w, data); err != nil {
		h.logger.ErrorContext(r.Context(), "render page", slog.String("error", err.Error()))
	}
}

// SaveInputs serves POST /shell/inputs.
func (h *PageHandler) SaveInputs(w http.ResponseWriter, r *http.Request) {
	if !h.applyForm(w, r) {
		return
	}
	h.redirect(w, r, "")
}

// Connect serves POST /shell/connect.
func (h *PageHandler) Connect(w http.ResponseWriter, r *http.Request) {
	if err := h.shell.Connect(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "wallet connect failed", slog.String("error", err.Error()))
		h.redirect(w, r, err.Error())
		return
	}
	h.redirect(w, r, "")
}

// Disconnect serves POST /shell/disconnect.
func (h *PageHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.shell.Disconnect(r.Context())
	h.redirect(w, r, "")
}

// SupplyCollateralBorrow serves POST /shell/supply-collateral-borrow. The
// posted form values become the shell inputs before the action runs.
func (h *PageHandler) SupplyCollateralBorrow(w http.ResponseWriter, r *http.Request) {
	if !h.applyForm(w, r) {
		return
	}
	h.shell.RunSupplyCollateralBorrow(r.Context())
	h.redirect(w, r, "")
}

// RepayWithdraw serves POST /shell/repay-withdraw.
func (h *PageHandler) RepayWithdraw(w http.ResponseWriter, r *http.Request) {
	if !h.applyForm(w, r) {
		return
	}
	h.shell.RunRepayWithdraw(r.Context())
	h.redirect(w, r, "")
}

func (h *PageHandler) applyForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form: "+err.Error(), http.StatusBadRequest)
		return false
	}
	in := h.shell.Inputs()
	formValue(r, "marketId", &in.MarketID)
	formValue(r, "supplyAmount", &in.SupplyAmount)
	formValue(r, "supplyCollateralAmount", &in.SupplyCollateralAmount)
	formValue(r, "borrowAmount", &in.BorrowAmount)
	formValue(r, "repayAmount", &in.RepayAmount)
	formValue(r, "withdrawCollateralAmount", &in.WithdrawCollateralAmount)
	formValue(r, "withdrawAmount", &in.WithdrawAmount)
	h.shell.SetInputs(r.Context(), in)
	return true
}

func formValue(r *http.Request, name string, dst *string) {
	if vs, ok := r.PostForm[name]; ok && len(vs) > 0 {
		*dst = strings.TrimSpace(vs[0])
	}
}

func (h *PageHandler) redirect(w http.ResponseWriter, r *http.Request, flash string) {
	q := url.Values{}
	if k := r.URL.Query().Get("api_key"); k != "" {
		q.Set("api_key", k)
	}
	if flash != "" {
		q.Set("error", flash)
	}
	target := "/"
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func keyQuery(r *http.Request) string {
	k := r.URL.Query().Get("api_key")
	if k == "" {
		return ""
	}
	return "?" + url.Values{"api_key": {k}}.Encode()
}
