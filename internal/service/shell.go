package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
	"github.com/alanyoungcy/bundlerlab/internal/metrics"
	"github.com/alanyoungcy/bundlerlab/internal/wallet"
)

// Result log lines.
const (
	MsgConnectWallet     = "Please connect your wallet first"
	MsgSimulationLoading = "Simulation state is still loading, please try again shortly."
	MsgSimulationError   = "Error loading simulation state: %s"
	MsgSupplySuccess     = "Bundler action executed successfully"
	MsgRepaySuccess      = "Repay/Withdraw bundler action executed successfully"
	MsgError             = "Error: %s"
	MsgInFlight          = "Another bundler action is already in progress"
)

// Notification event types.
const (
	EventBundleSucceeded = "bundle_succeeded"
	EventBundleFailed    = "bundle_failed"
)

// DefaultMarketID is the sUSDe/DAI market on mainnet.
const DefaultMarketID domain.MarketID = "0x39d11026eae1c6ec02aa4c0910778664089cdd97c3fd23f68f7cd05e2e95af48"

// Inputs are the shell's editable form fields. Amounts are decimal text in
// whole tokens.
type Inputs struct {
	MarketID                 string `json:"marketId" toml:"market_id"`
	SupplyAmount             string `json:"supplyAmount" toml:"supply_amount"`
	SupplyCollateralAmount   string `json:"supplyCollateralAmount" toml:"supply_collateral_amount"`
	BorrowAmount             string `json:"borrowAmount" toml:"borrow_amount"`
	RepayAmount              string `json:"repayAmount" toml:"repay_amount"`
	WithdrawCollateralAmount string `json:"withdrawCollateralAmount" toml:"withdraw_collateral_amount"`
	WithdrawAmount           string `json:"withdrawAmount" toml:"withdraw_amount"`
}

// DefaultInputs returns the form's initial values.
func DefaultInputs() Inputs {
	return Inputs{
		MarketID:                 DefaultMarketID.String(),
		SupplyAmount:             "1",
		SupplyCollateralAmount:   "5",
		BorrowAmount:             "1",
		RepayAmount:              "1",
		WithdrawCollateralAmount: "5",
		WithdrawAmount:           "1",
	}
}

// WalletConnector is a wallet client that can be connected and disconnected.
type WalletConnector interface {
	domain.WalletClient
	Connect(ctx context.Context, node wallet.ChainIDReader) (uint64, error)
	Disconnect()
}

// BundleRunner submits the two demo bundles.
type BundleRunner interface {
	SupplySupplyCollateralBorrow(ctx context.Context, market domain.MarketID, client domain.WalletClient, state *domain.SimulationState, supply, collateral, borrow *big.Int) (domain.BundleResult, error)
	RepayWithdrawCollateralWithdraw(ctx context.Context, market domain.MarketID, client domain.WalletClient, state *domain.SimulationState, repay, withdrawCollateral, withdraw *big.Int) (domain.BundleResult, error)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ShellDeps are the shell's collaborators. Locks, Actions, Archiver, Bus,
// Notifier and Metrics are optional.
type ShellDeps struct {
	Wallet     WalletConnector
	Node       wallet.ChainIDReader
	Positions  *PositionReader
	Simulation *SimulationProvider
	Bundles    BundleRunner

	Locks    domain.LockManager
	LockTTL  time.Duration
	Actions  domain.ActionStore
	Archiver domain.ActionArchiver
	Bus      domain.SignalBus
	Notifier Notifier
	Metrics  *metrics.Metrics
}

// Shell is the interactive harness: form inputs, wallet lifecycle, the two
// bundle actions and the result log of the most recent action.
type Shell struct {
	deps   ShellDeps
	logger *slog.Logger

	mu     sync.RWMutex
	inputs Inputs
	log    []string

	// lifecycle serializes Connect, Disconnect and SetInputs.
	lifecycle sync.Mutex
	// runCtx outlives individual requests; position polling runs under it.
	runCtx context.Context

	inFlight atomic.Bool
}

// NewShell creates a Shell. runCtx bounds background work started by the
// shell, such as position polling.
func NewShell(runCtx context.Context, deps ShellDeps, inputs Inputs, logger *slog.Logger) *Shell {
	if deps.LockTTL <= 0 {
		deps.LockTTL = 5 * time.Minute
	}
	return &Shell{
		deps:   deps,
		inputs: inputs,
		runCtx: runCtx,
		logger: logger.With(slog.String("component", "shell")),
	}
}

// Inputs returns the current form values.
func (s *Shell) Inputs() Inputs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inputs
}

// Log returns a copy of the result log of the latest action.
func (s *Shell) Log() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.log...)
}

// Busy reports whether an action is running.
func (s *Shell) Busy() bool {
	return s.inFlight.Load()
}

// Position returns the position reader's view.
func (s *Shell) Position() domain.PositionView {
	return s.deps.Positions.View()
}

// Simulation returns the simulation provider's view.
func (s *Shell) Simulation() domain.SimulationView {
	return s.deps.Simulation.View()
}

// Account returns the connected account, if any.
func (s *Shell) Account() (string, bool) {
	a, ok := s.deps.Wallet.Account()
	if !ok {
		return "", false
	}
	return a.Hex(), true
}

// ChainID returns the connected chain id, zero when disconnected.
func (s *Shell) ChainID() uint64 {
	return s.deps.Wallet.ChainID()
}

// Connect connects the wallet, starts position polling for the current
// market and refreshes the simulation query.
func (s *Shell) Connect(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	chainID, err := s.deps.Wallet.Connect(ctx, s.deps.Node)
	if err != nil {
		s.deps.Metrics.WalletConnected(false)
		return fmt.Errorf("shell: connect: %w", err)
	}
	s.deps.Metrics.WalletConnected(true)

	account, _ := s.deps.Wallet.Account()
	s.logger.InfoContext(ctx, "wallet connected",
		slog.String("account", account.Hex()),
		slog.Uint64("chain_id", chainID),
	)

	s.restartPositions()
	s.deps.Simulation.Reset(ctx)
	return nil
}

// Disconnect stops position polling and disconnects the wallet.
func (s *Shell) Disconnect(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.deps.Positions.Stop()
	s.deps.Wallet.Disconnect()
	s.deps.Metrics.WalletConnected(false)
	s.logger.InfoContext(ctx, "wallet disconnected")
	s.deps.Simulation.Reset(ctx)
}

// SetInputs replaces the form values. A market change restarts position
// polling and resets the simulation state. Values are validated when an
// action runs, not here.
func (s *Shell) SetInputs(ctx context.Context, in Inputs) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	prev := s.inputs.MarketID
	s.inputs = in
	s.mu.Unlock()

	if strings.TrimSpace(in.MarketID) == strings.TrimSpace(prev) {
		return
	}
	s.logger.InfoContext(ctx, "market changed", slog.String("market", in.MarketID))
	s.restartPositions()
	s.deps.Simulation.SetMarket(ctx, domain.MarketID(strings.TrimSpace(in.MarketID)))
}

// restartPositions (re)starts polling when a wallet is connected and the
// market id is well formed. Callers hold lifecycle.
func (s *Shell) restartPositions() {
	account, ok := s.deps.Wallet.Account()
	market := domain.MarketID(strings.TrimSpace(s.Inputs().MarketID))
	if !ok || market.Validate() != nil {
		s.deps.Positions.Stop()
		return
	}
	s.deps.Positions.Start(s.runCtx, s.deps.Wallet.ChainID(), account, market)
}

// RunSupplyCollateralBorrow runs the supply, supply collateral, borrow
// bundle with the current inputs and returns the result log.
func (s *Shell) RunSupplyCollateralBorrow(ctx context.Context) []string {
	return s.runAction(ctx, domain.ActionSupplyCollateralBorrow, MsgSupplySuccess,
		func(in Inputs) ([3]string, []domain.OperationType) {
			return [3]string{in.SupplyAmount, in.SupplyCollateralAmount, in.BorrowAmount},
				[]domain.OperationType{domain.OpSupply, domain.OpSupplyCollateral, domain.OpBorrow}
		},
		func(ctx context.Context, market domain.MarketID, state *domain.SimulationState, a [3]*big.Int) (domain.BundleResult, error) {
			return s.deps.Bundles.SupplySupplyCollateralBorrow(ctx, market, s.deps.Wallet, state, a[0], a[1], a[2])
		},
	)
}

// RunRepayWithdraw runs the repay, withdraw collateral, withdraw bundle with
// the current inputs and returns the result log.
func (s *Shell) RunRepayWithdraw(ctx context.Context) []string {
	return s.runAction(ctx, domain.ActionRepayWithdraw, MsgRepaySuccess,
		func(in Inputs) ([3]string, []domain.OperationType) {
			return [3]string{in.RepayAmount, in.WithdrawCollateralAmount, in.WithdrawAmount},
				[]domain.OperationType{domain.OpRepay, domain.OpWithdrawCollateral, domain.OpWithdraw}
		},
		func(ctx context.Context, market domain.MarketID, state *domain.SimulationState, a [3]*big.Int) (domain.BundleResult, error) {
			return s.deps.Bundles.RepayWithdrawCollateralWithdraw(ctx, market, s.deps.Wallet, state, a[0], a[1], a[2])
		},
	)
}

type bundleCall func(ctx context.Context, market domain.MarketID, state *domain.SimulationState, amounts [3]*big.Int) (domain.BundleResult, error)

func (s *Shell) runAction(
	ctx context.Context,
	action, successMsg string,
	pick func(Inputs) ([3]string, []domain.OperationType),
	call bundleCall,
) []string {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.WarnContext(ctx, "action rejected, another is running", slog.String("action", action))
		return []string{MsgInFlight}
	}
	defer s.inFlight.Store(false)

	s.resetLog()

	in := s.Inputs()
	amountText, opTypes := pick(in)
	rec := domain.ActionRecord{
		ID:         uuid.New().String(),
		Action:     action,
		MarketID:   domain.MarketID(strings.TrimSpace(in.MarketID)),
		Operations: opTypes,
		StartedAt:  time.Now().UTC(),
	}
	if a, ok := s.Account(); ok {
		rec.Account = a
	}
	defer func() { s.finish(ctx, &rec) }()

	account, ok := s.deps.Wallet.Account()
	if !ok {
		rec.Status = domain.ActionRejected
		s.appendLog(MsgConnectWallet)
		return s.Log()
	}

	sim := s.deps.Simulation.View()
	if sim.Pending || (sim.State == nil && sim.Error == "") {
		rec.Status = domain.ActionRejected
		s.appendLog(MsgSimulationLoading)
		return s.Log()
	}
	if sim.Error != "" {
		rec.Status = domain.ActionRejected
		rec.Error = sim.Error
		s.appendLog(fmt.Sprintf(MsgSimulationError, sim.Error))
		return s.Log()
	}

	// Once past the checks the bundle runs to completion even if the caller
	// goes away, so requirement txs are never left without their bundle.
	ctx = context.WithoutCancel(ctx)

	if s.deps.Locks != nil {
		unlock, err := s.deps.Locks.Acquire(ctx, "bundle:"+strings.ToLower(account.Hex()), s.deps.LockTTL)
		if err != nil {
			rec.Status = domain.ActionRejected
			if errors.Is(err, domain.ErrLockHeld) {
				s.appendLog(MsgInFlight)
			} else {
				rec.Error = err.Error()
				s.appendLog(fmt.Sprintf(MsgError, err.Error()))
			}
			return s.Log()
		}
		defer unlock()
	}

	res, err := s.execute(ctx, rec.MarketID, sim.State, amountText, call)
	for _, h := range res.TxHashes {
		rec.TxHashes = append(rec.TxHashes, h.Hex())
	}
	if err != nil {
		rec.Status = domain.ActionFailed
		rec.Error = err.Error()
		s.logger.ErrorContext(ctx, "error during bundler action",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		s.appendLog(fmt.Sprintf(MsgError, err.Error()))
		return s.Log()
	}

	rec.Status = domain.ActionSucceeded
	s.appendLog(successMsg)
	return s.Log()
}

func (s *Shell) execute(ctx context.Context, market domain.MarketID, state *domain.SimulationState, text [3]string, call bundleCall) (domain.BundleResult, error) {
	if err := market.Validate(); err != nil {
		return domain.BundleResult{}, err
	}
	var amounts [3]*big.Int
	for i, t := range text {
		v, err := ParseAmount(t, TokenDecimals)
		if err != nil {
			return domain.BundleResult{}, err
		}
		amounts[i] = v
	}
	return call(ctx, market, state, amounts)
}

func (s *Shell) resetLog() {
	s.mu.Lock()
	s.log = nil
	s.mu.Unlock()
}

func (s *Shell) appendLog(line string) {
	s.mu.Lock()
	s.log = append(s.log, line)
	s.mu.Unlock()
}

// finish records, archives, publishes and notifies the outcome of an action.
// Failures here are logged only.
func (s *Shell) finish(ctx context.Context, rec *domain.ActionRecord) {
	rec.FinishedAt = time.Now().UTC()
	rec.Log = s.Log()
	s.deps.Metrics.ActionFinished(rec.Action, string(rec.Status), rec.FinishedAt.Sub(rec.StartedAt))

	// Side effects must not be cut short by a cancelled request.
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With(slog.String("action_id", rec.ID), slog.String("action", rec.Action))

	if s.deps.Actions != nil {
		if err := s.deps.Actions.Insert(ctx, *rec); err != nil {
			log.WarnContext(ctx, "record action", slog.String("error", err.Error()))
		}
	}
	if s.deps.Archiver != nil {
		if err := s.deps.Archiver.Archive(ctx, *rec); err != nil {
			log.WarnContext(ctx, "archive action", slog.String("error", err.Error()))
		}
	}
	if s.deps.Bus != nil {
		payload, err := json.Marshal(NewResultMessage(*rec))
		if err == nil {
			err = s.deps.Bus.Publish(ctx, domain.ChannelResults, payload)
		}
		if err != nil {
			log.WarnContext(ctx, "publish result", slog.String("error", err.Error()))
		}
	}
	if s.deps.Notifier != nil && rec.Status != domain.ActionRejected {
		event, title := EventBundleSucceeded, "Bundle succeeded"
		if rec.Status == domain.ActionFailed {
			event, title = EventBundleFailed, "Bundle failed"
		}
		msg := fmt.Sprintf("%s on %s by %s\n%s", rec.Action, rec.MarketID, rec.Account, strings.Join(rec.Log, "\n"))
		if len(rec.TxHashes) > 0 {
			msg += "\ntx: " + strings.Join(rec.TxHashes, ", ")
		}
		if err := s.deps.Notifier.Notify(ctx, event, title, msg); err != nil {
			log.WarnContext(ctx, "notify", slog.String("error", err.Error()))
		}
	}
}
