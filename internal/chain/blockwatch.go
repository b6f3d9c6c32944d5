package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
)

// BlockWatcher emits a BlockRef every time the observed chain head changes.
// It follows new heads over a websocket subscription when one is available
// and polls HeaderByNumber otherwise.
type BlockWatcher struct {
	headers  HeaderReader
	sub      HeadSubscriber
	interval time.Duration
	logger   *slog.Logger

	last uint64
	seen bool
}

// NewBlockWatcher creates a watcher. sub may be nil.
func NewBlockWatcher(headers HeaderReader, sub HeadSubscriber, interval time.Duration, logger *slog.Logger) *BlockWatcher {
	if interval <= 0 {
		interval = 4 * time.Second
	}
	return &BlockWatcher{
		headers:  headers,
		sub:      sub,
		interval: interval,
		logger:   logger.With(slog.String("component", "block_watcher")),
	}
}

// Run blocks until ctx is cancelled, sending new heads to out.
func (w *BlockWatcher) Run(ctx context.Context, out chan<- domain.BlockRef) error {
	// Emit the current head right away so consumers do not wait a full block.
	if err := w.poll(ctx, out); err != nil {
		w.logger.WarnContext(ctx, "initial head fetch failed", slog.String("error", err.Error()))
	}

	if w.sub != nil {
		return w.follow(ctx, out)
	}
	return w.pollLoop(ctx, out)
}

func (w *BlockWatcher) pollLoop(ctx context.Context, out chan<- domain.BlockRef) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.poll(ctx, out); err != nil {
				w.logger.WarnContext(ctx, "head poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (w *BlockWatcher) follow(ctx context.Context, out chan<- domain.BlockRef) error {
	for {
		heads := make(chan *types.Header, 16)
		sub, err := w.sub.SubscribeNewHead(ctx, heads)
		if err != nil {
			w.logger.WarnContext(ctx, "head subscription failed, polling instead",
				slog.String("error", err.Error()),
			)
			if err := w.poll(ctx, out); err != nil {
				w.logger.WarnContext(ctx, "head poll failed", slog.String("error", err.Error()))
			}
			if !sleep(ctx, w.interval) {
				return ctx.Err()
			}
			continue
		}

		err = w.drain(ctx, sub.Err(), heads, out)
		sub.Unsubscribe()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.WarnContext(ctx, "head subscription dropped, resubscribing",
			slog.String("error", errString(err)),
		)
		if !sleep(ctx, w.interval) {
			return ctx.Err()
		}
	}
}

func (w *BlockWatcher) drain(ctx context.Context, subErr <-chan error, heads <-chan *types.Header, out chan<- domain.BlockRef) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-subErr:
			return err
		case h := <-heads:
			if err := w.emit(ctx, h, out); err != nil {
				return err
			}
		}
	}
}

func (w *BlockWatcher) poll(ctx context.Context, out chan<- domain.BlockRef) error {
	h, err := w.headers.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("chain: latest header: %w", err)
	}
	return w.emit(ctx, h, out)
}

// emit forwards h when its number differs from the last one sent.
func (w *BlockWatcher) emit(ctx context.Context, h *types.Header, out chan<- domain.BlockRef) error {
	if h == nil || h.Number == nil {
		return nil
	}
	n := h.Number.Uint64()
	if w.seen && n == w.last {
		return nil
	}
	ref := domain.BlockRef{Number: n, Timestamp: h.Time}
	select {
	case out <- ref:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.last, w.seen = n, true
	w.logger.DebugContext(ctx, "new head", slog.Uint64("number", n))
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func errString(err error) string {
	if err == nil {
		return "subscription closed"
	}
	return err.Error()
}
