package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bundlerlab/internal/chain"
	"github.com/alanyoungcy/bundlerlab/internal/domain"
	"github.com/alanyoungcy/bundlerlab/internal/metrics"
)

const defaultPositionInterval = 5 * time.Second

// PositionReader polls the accrued position of one account in one market
// while the wallet is connected.
type PositionReader struct {
	positions domain.PositionService
	bus       domain.SignalBus
	metrics   *metrics.Metrics
	interval  time.Duration
	logger    *slog.Logger

	mu     sync.RWMutex
	view   domain.PositionView
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPositionReader creates a PositionReader. bus and m may be nil.
func NewPositionReader(positions domain.PositionService, bus domain.SignalBus, m *metrics.Metrics, interval time.Duration, logger *slog.Logger) *PositionReader {
	if interval <= 0 {
		interval = defaultPositionInterval
	}
	return &PositionReader{
		positions: positions,
		bus:       bus,
		metrics:   m,
		interval:  interval,
		logger:    logger.With(slog.String("component", "position_reader")),
	}
}

// Start begins polling for account in market on chainID, replacing any
// running task. The first fetch happens immediately.
func (r *PositionReader) Start(ctx context.Context, chainID uint64, account common.Address, market domain.MarketID) {
	r.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.view = domain.PositionView{Loading: true}
	r.mu.Unlock()

	go func() {
		defer close(done)
		r.run(ctx, chain.NormalizeChainID(chainID), account, market)
	}()
}

// Stop cancels the polling task, waits for it to exit and clears the view.
func (r *PositionReader) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	r.mu.Lock()
	r.view = domain.PositionView{}
	r.mu.Unlock()
}

// View returns the latest position, loading flag and error.
func (r *PositionReader) View() domain.PositionView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.view
}

func (r *PositionReader) run(ctx context.Context, chainID uint64, account common.Address, market domain.MarketID) {
	log := r.logger.With(
		slog.String("account", account.Hex()),
		slog.String("market", market.String()),
	)
	log.InfoContext(ctx, "position polling started", slog.Duration("interval", r.interval))
	defer log.InfoContext(context.Background(), "position polling stopped")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.refresh(ctx, log, chainID, account, market)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *PositionReader) refresh(ctx context.Context, log *slog.Logger, chainID uint64, account common.Address, market domain.MarketID) {
	snap, err := r.positions.FetchPosition(ctx, chainID, account, market)
	if ctx.Err() != nil {
		// Stop raced the fetch; a stale result must not overwrite the cleared view.
		return
	}
	r.metrics.PositionFetched(err)

	var view domain.PositionView
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = "Failed to fetch position"
		}
		view.Error = msg
		log.WarnContext(ctx, "position fetch failed", slog.String("error", msg))
	} else {
		view.Snapshot = &snap
	}

	r.mu.Lock()
	if ctx.Err() == nil {
		r.view = view
	}
	r.mu.Unlock()

	r.publish(ctx, log, view)
}

func (r *PositionReader) publish(ctx context.Context, log *slog.Logger, view domain.PositionView) {
	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(NewPositionMessage(view))
	if err != nil {
		log.WarnContext(ctx, "marshal position message", slog.String("error", err.Error()))
		return
	}
	if err := r.bus.Publish(ctx, domain.ChannelPositions, payload); err != nil {
		log.WarnContext(ctx, "publish position", slog.String("error", err.Error()))
	}
}
