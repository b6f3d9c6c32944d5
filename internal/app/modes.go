package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bundlerlab/internal/chain"
	"github.com/alanyoungcy/bundlerlab/internal/domain"
	"github.com/alanyoungcy/bundlerlab/internal/server"
	"github.com/alanyoungcy/bundlerlab/internal/server/handler"
	"github.com/alanyoungcy/bundlerlab/internal/server/ws"
	"github.com/alanyoungcy/bundlerlab/internal/service"
)

const shutdownTimeout = 15 * time.Second

// ServeMode runs the block watcher, the simulation provider, the websocket
// hub and the HTTP shell.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")
	startedAt := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	shell := a.startChain(ctx, g, deps)
	a.autoConnect(ctx, shell)

	hub := ws.NewHub(deps.Bus, a.base)
	g.Go(func() error { return ignoreCanceled(hub.Run(ctx)) })

	h := server.Handlers{
		Health:  handler.NewHealthHandler(),
		Status:  handler.NewStatusHandler(a.cfg.Mode, shell, startedAt),
		API:     handler.NewAPIHandler(shell, a.base),
		Page:    handler.NewPageHandler(shell, a.base),
		Metrics: promhttp.Handler(),
	}
	if deps.Actions != nil {
		h.History = handler.NewHistoryHandler(deps.Actions, a.base)
	}
	srv := server.NewServer(server.Config{
		Port:             a.cfg.Server.Port,
		CORSOrigins:      a.cfg.Server.CORSOrigins,
		APIKey:           a.cfg.Server.APIKey,
		ActionsPerMinute: a.cfg.Server.ActionsPerMinute,
	}, h, hub, a.base)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// MonitorMode follows the chain and logs every position and simulation
// update without serving HTTP.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	for _, ch := range []string{domain.ChannelPositions, domain.ChannelSimulation, domain.ChannelResults} {
		msgs, err := deps.Bus.Subscribe(ctx, ch)
		if err != nil {
			return fmt.Errorf("app: subscribe %s: %w", ch, err)
		}
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case payload, ok := <-msgs:
					if !ok {
						return nil
					}
					a.logger.InfoContext(ctx, "update",
						slog.String("channel", ch),
						slog.String("payload", string(payload)),
					)
				}
			}
		})
	}

	shell := a.startChain(ctx, g, deps)
	a.autoConnect(ctx, shell)

	return g.Wait()
}

// ExecMode connects the wallet, waits for the first simulation state, runs
// the configured action once and prints its log.
func (a *App) ExecMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting exec mode", slog.String("action", a.cfg.Shell.Action))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	shell := a.startChain(gctx, g, deps)

	var log []string
	g.Go(func() error {
		defer cancel()
		if err := shell.Connect(gctx); err != nil {
			return err
		}
		if err := waitSimulation(gctx, shell, a.cfg.Morpho.Timeout.Duration*2); err != nil {
			return err
		}
		switch a.cfg.Shell.Action {
		case domain.ActionRepayWithdraw:
			log = shell.RunRepayWithdraw(gctx)
		default:
			log = shell.RunSupplyCollateralBorrow(gctx)
		}
		return nil
	})

	err := g.Wait()
	for _, line := range log {
		fmt.Fprintln(a.out, line)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: exec: %w", err)
	}
	if !succeeded(log) {
		return fmt.Errorf("app: exec: %s did not succeed", a.cfg.Shell.Action)
	}
	return nil
}

// startChain builds the shell and starts the block watcher feeding the
// simulation provider.
func (a *App) startChain(ctx context.Context, g *errgroup.Group, deps *Dependencies) *service.Shell {
	shell, provider := newShell(ctx, a.cfg, deps, a.base)

	blocks := make(chan domain.BlockRef, 1)
	watcher := chain.NewBlockWatcher(deps.Chain.RPC, deps.Chain.Subscriber(), a.cfg.Chain.BlockPollInterval.Duration, a.base)
	g.Go(func() error { return ignoreCanceled(watcher.Run(ctx, blocks)) })
	g.Go(func() error { return ignoreCanceled(provider.Run(ctx, blocks)) })
	return shell
}

func (a *App) autoConnect(ctx context.Context, shell *service.Shell) {
	if !a.cfg.Wallet.AutoConnect {
		return
	}
	if err := shell.Connect(ctx); err != nil {
		a.logger.WarnContext(ctx, "auto connect failed", slog.String("error", err.Error()))
	}
}

// waitSimulation blocks until the shell's simulation state is loaded or has
// errored. Actions report either outcome themselves.
func waitSimulation(ctx context.Context, shell *service.Shell, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !shell.Simulation().Pending {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for simulation state: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func succeeded(log []string) bool {
	return len(log) == 1 && (log[0] == service.MsgSupplySuccess || log[0] == service.MsgRepaySuccess)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
