package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/bundlerlab/internal/blob/s3"
	"github.com/alanyoungcy/bundlerlab/internal/bundler"
	"github.com/alanyoungcy/bundlerlab/internal/cache/local"
	"github.com/alanyoungcy/bundlerlab/internal/cache/redis"
	"github.com/alanyoungcy/bundlerlab/internal/chain"
	"github.com/alanyoungcy/bundlerlab/internal/config"
	"github.com/alanyoungcy/bundlerlab/internal/domain"
	"github.com/alanyoungcy/bundlerlab/internal/metrics"
	"github.com/alanyoungcy/bundlerlab/internal/notify"
	"github.com/alanyoungcy/bundlerlab/internal/platform/morpho"
	"github.com/alanyoungcy/bundlerlab/internal/service"
	"github.com/alanyoungcy/bundlerlab/internal/store/postgres"
	"github.com/alanyoungcy/bundlerlab/internal/wallet"
)

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	Chain    *chain.Client
	Registry *chain.Registry
	Morpho   *morpho.Client
	Executor *bundler.Executor
	Wallet   service.WalletConnector

	// Bus and Locks are backed by redis when enabled, in-process otherwise.
	Bus   domain.SignalBus
	Locks domain.LockManager

	// Optional; nil when the backend is disabled.
	Actions  domain.ActionStore
	Archiver domain.ActionArchiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
}

// Wire constructs the concrete dependencies from cfg. The cleanup function
// releases them in reverse order of construction.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{
		Registry: chain.NewRegistry(),
		Metrics:  metrics.Default(),
	}

	// --- Chain ---
	client, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.WSURL)
	if err != nil {
		return fail("chain", err)
	}
	closers = append(closers, client.Close)
	deps.Chain = client

	// --- Sidecar and executor ---
	var opts []morpho.Option
	if cfg.Morpho.APIKey != "" {
		opts = append(opts, morpho.WithAPIKey(cfg.Morpho.APIKey))
	}
	deps.Morpho = morpho.NewClient(cfg.Morpho.BaseURL, cfg.Morpho.Timeout.Duration, opts...)
	deps.Executor = bundler.NewExecutor(deps.Morpho, client.RPC, bundler.Options{
		ReceiptPollInterval: cfg.Executor.ReceiptPollInterval.Duration,
		ReceiptTimeout:      cfg.Executor.ReceiptTimeout.Duration,
		GasBufferPercent:    uint64(cfg.Executor.GasBufferPercent),
	}, logger)

	// --- Wallet ---
	w, err := loadWallet(cfg.Wallet)
	if err != nil {
		return fail("wallet", err)
	}
	deps.Wallet = w

	// --- Redis, or in-process bus and locks ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Bus = redis.NewSignalBus(rc)
		deps.Locks = redis.NewLockManager(rc)
	} else {
		deps.Bus = local.NewBus()
		deps.Locks = local.NewLocks()
	}

	// --- PostgreSQL action history ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.Actions = postgres.NewActionStore(pg.Pool())
	}

	// --- S3 action archive ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		if err := sc.Health(ctx); err != nil {
			logger.WarnContext(ctx, "s3 bucket not reachable, archiving may fail",
				slog.String("bucket", sc.Bucket()),
				slog.String("error", err.Error()),
			)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(sc), cfg.S3.Prefix)
	}

	// --- Notifications ---
	deps.Notifier = notify.NewNotifier(notifySenders(cfg.Notify), cfg.Notify.Events, logger,
		notify.WithRateLimit(cfg.Notify.PerMinute))

	return deps, cleanup, nil
}

func notifySenders(cfg config.NotifyConfig) []notify.Sender {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return senders
}

// loadWallet returns the configured signing wallet, or a keyless one when no
// key source is set.
func loadWallet(cfg config.WalletConfig) (service.WalletConnector, error) {
	if cfg.PrivateKey == "" && strings.TrimSpace(cfg.EncryptedKeyPath) == "" {
		return keylessWallet{}, nil
	}
	key, err := wallet.LoadKey(wallet.KeySource{
		RawPrivateKey:    cfg.PrivateKey,
		EncryptedKeyPath: cfg.EncryptedKeyPath,
		KeyPassword:      cfg.KeyPassword,
	})
	if err != nil {
		return nil, err
	}
	return wallet.New(key), nil
}

var errNoKey = errors.New("no signing key configured (set wallet.private_key or wallet.encrypted_key_path)")

// keylessWallet never connects. It lets the shell serve its page and the
// simulation state when the harness runs without a key.
type keylessWallet struct{}

func (keylessWallet) Account() (common.Address, bool) { return common.Address{}, false }
func (keylessWallet) ChainID() uint64                 { return 0 }
func (keylessWallet) Disconnect()                     {}

func (keylessWallet) Connect(context.Context, wallet.ChainIDReader) (uint64, error) {
	return 0, errNoKey
}

// newShell assembles the simulation provider, the position reader and the
// shell on top of deps.
func newShell(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*service.Shell, *service.SimulationProvider) {
	inputs := shellInputs(cfg.Shell)

	provider := service.NewSimulationProvider(
		deps.Morpho, deps.Registry, deps.Wallet, domain.MarketID(inputs.MarketID),
		deps.Bus, deps.Metrics, logger,
	)
	positions := service.NewPositionReader(deps.Morpho, deps.Bus, deps.Metrics, cfg.Position.PollInterval.Duration, logger)

	shellDeps := service.ShellDeps{
		Wallet:     deps.Wallet,
		Node:       deps.Chain.RPC,
		Positions:  positions,
		Simulation: provider,
		Bundles:    service.NewBundleService(deps.Registry, deps.Executor, logger),
		Locks:      deps.Locks,
		LockTTL:    cfg.Shell.LockTTL.Duration,
		Actions:    deps.Actions,
		Archiver:   deps.Archiver,
		Bus:        deps.Bus,
		Notifier:   deps.Notifier,
		Metrics:    deps.Metrics,
	}
	return service.NewShell(ctx, shellDeps, inputs, logger), provider
}

func shellInputs(cfg config.ShellConfig) service.Inputs {
	in := service.DefaultInputs()
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&in.MarketID, cfg.MarketID)
	set(&in.SupplyAmount, cfg.SupplyAmount)
	set(&in.SupplyCollateralAmount, cfg.SupplyCollateralAmount)
	set(&in.BorrowAmount, cfg.BorrowAmount)
	set(&in.RepayAmount, cfg.RepayAmount)
	set(&in.WithdrawCollateralAmount, cfg.WithdrawCollateralAmount)
	set(&in.WithdrawAmount, cfg.WithdrawAmount)
	return in
}
