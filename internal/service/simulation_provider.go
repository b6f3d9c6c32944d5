package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bundlerlab/internal/chain"
	"github.com/alanyoungcy/bundlerlab/internal/domain"
	"github.com/alanyoungcy/bundlerlab/internal/metrics"
)

// SimulationProvider keeps a simulation state for the selected market fresh
// as new blocks arrive.
type SimulationProvider struct {
	sim      domain.SimulationService
	registry *chain.Registry
	wallet   domain.WalletClient
	bus      domain.SignalBus
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.RWMutex
	market  domain.MarketID
	block   *domain.BlockRef
	state   *domain.SimulationState
	errMsg  string
	pending bool
	// gen changes whenever the query inputs are reset; fetches started under
	// an older gen are discarded.
	gen uint64
}

// NewSimulationProvider creates a provider for market. bus and m may be nil.
func NewSimulationProvider(
	sim domain.SimulationService,
	registry *chain.Registry,
	wallet domain.WalletClient,
	market domain.MarketID,
	bus domain.SignalBus,
	m *metrics.Metrics,
	logger *slog.Logger,
) *SimulationProvider {
	return &SimulationProvider{
		sim:      sim,
		registry: registry,
		wallet:   wallet,
		bus:      bus,
		metrics:  m,
		market:   market,
		pending:  true,
		logger:   logger.With(slog.String("component", "simulation_provider")),
	}
}

// EffectiveChainID is the wallet's chain id after normalization.
func (p *SimulationProvider) EffectiveChainID() uint64 {
	return chain.NormalizeChainID(p.wallet.ChainID())
}

// Query derives the simulation query for market from the wallet and the
// registry: the market itself, the connected account and the chain's
// bundler (deduplicated), and the demo token set.
func (p *SimulationProvider) Query(market domain.MarketID) domain.SimulationQuery {
	chainID := p.EffectiveChainID()

	q := domain.SimulationQuery{
		MarketIDs: []domain.MarketID{market},
		Users:     []common.Address{},
		Tokens:    []common.Address{chain.NativeAddress},
		Vaults:    []common.Address{},
	}

	addUser := func(a common.Address) {
		for _, u := range q.Users {
			if u == a {
				return
			}
		}
		q.Users = append(q.Users, a)
	}
	if acct, ok := p.wallet.Account(); ok {
		addUser(acct)
	}

	addrs, err := p.registry.Lookup(chainID)
	if err == nil {
		addUser(addrs.Bundler)
	}
	if tokens, err := p.registry.DemoTokens(chainID); err == nil {
		q.Tokens = tokens
	}

	p.mu.RLock()
	if p.block != nil {
		b := *p.block
		q.Block = &b
	}
	p.mu.RUnlock()
	return q
}

// SetMarket switches the provider to market. The state goes back to pending
// and is refetched against the last observed block.
func (p *SimulationProvider) SetMarket(ctx context.Context, market domain.MarketID) {
	p.mu.Lock()
	p.market = market
	p.reset()
	p.mu.Unlock()
	p.Refresh(ctx)
}

// Reset discards the current state, e.g. after the wallet changed, and
// refetches it.
func (p *SimulationProvider) Reset(ctx context.Context) {
	p.mu.Lock()
	p.reset()
	p.mu.Unlock()
	p.Refresh(ctx)
}

func (p *SimulationProvider) reset() {
	p.state = nil
	p.errMsg = ""
	p.pending = true
	p.gen++
}

// Run consumes new heads until ctx is cancelled or blocks is closed,
// refetching the state whenever the block number changes.
func (p *SimulationProvider) Run(ctx context.Context, blocks <-chan domain.BlockRef) error {
	p.logger.InfoContext(ctx, "simulation provider started")
	defer p.logger.Info("simulation provider stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-blocks:
			if !ok {
				return nil
			}
			p.Observe(ctx, b)
		}
	}
}

// Observe records b as the latest head and refreshes the state when its
// number differs from the previous one.
func (p *SimulationProvider) Observe(ctx context.Context, b domain.BlockRef) {
	p.mu.Lock()
	changed := p.block == nil || p.block.Number != b.Number
	if changed {
		p.block = &b
	}
	p.mu.Unlock()
	if changed {
		p.Refresh(ctx)
	}
}

// Refresh fetches the state for the current market and block. Nothing
// happens before the first block is observed.
func (p *SimulationProvider) Refresh(ctx context.Context) {
	p.mu.RLock()
	market, gen, haveBlock := p.market, p.gen, p.block != nil
	p.mu.RUnlock()
	if !haveBlock {
		return
	}

	q := p.Query(market)
	chainID := p.EffectiveChainID()
	fetch, err := p.sim.FetchState(ctx, chainID, q)
	if ctx.Err() != nil {
		return
	}

	var block uint64
	if fetch.State != nil {
		block = fetch.State.Block.Number
	}
	p.metrics.SimulationFetched(block, err)

	log := p.logger.With(slog.String("market", market.String()), slog.Uint64("block", q.Block.Number))

	var errMsg string
	switch {
	case err != nil:
		errMsg = err.Error()
		log.ErrorContext(ctx, "error fetching simulation state", slog.String("error", errMsg))
	default:
		if msg, ok := fetch.Errors.Message(); ok {
			errMsg = msg
			log.ErrorContext(ctx, "simulation state has errors", slog.String("error", msg))
		}
	}

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	fetched := q.Block.Number
	if fetch.State != nil {
		fetched = fetch.State.Block.Number
	}
	// A fetch that finishes after a newer one must not replace its result.
	if p.state == nil || fetched >= p.state.Block.Number {
		if fetch.State != nil {
			p.state = fetch.State
		}
		p.errMsg = errMsg
	}
	p.pending = p.state == nil && p.errMsg == ""
	view := p.viewLocked()
	p.mu.Unlock()

	p.publish(ctx, view)
}

// View returns the current state, pending flag, error and query.
func (p *SimulationProvider) View() domain.SimulationView {
	p.mu.RLock()
	view := p.viewLocked()
	market := p.market
	p.mu.RUnlock()
	view.Query = p.Query(market)
	return view
}

// Market returns the market the provider is tracking.
func (p *SimulationProvider) Market() domain.MarketID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.market
}

func (p *SimulationProvider) viewLocked() domain.SimulationView {
	return domain.SimulationView{
		State:   p.state,
		Pending: p.pending,
		Error:   p.errMsg,
	}
}

func (p *SimulationProvider) publish(ctx context.Context, view domain.SimulationView) {
	if p.bus == nil {
		return
	}
	view.Query = p.Query(p.Market())
	payload, err := json.Marshal(NewSimulationMessage(view))
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, domain.ChannelSimulation, payload); err != nil {
		p.logger.WarnContext(ctx, "publish simulation", slog.String("error", err.Error()))
	}
}
