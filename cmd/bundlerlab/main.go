// Command bundlerlab runs the bundler test harness. It loads configuration,
// validates it, wires dependencies, sets up signal handling and starts the
// application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/bundlerlab/internal/app"
	"github.com/alanyoungcy/bundlerlab/internal/config"
	"github.com/alanyoungcy/bundlerlab/internal/wallet"
)

func main() {
	configPath := flag.String("config", "", "path to TOML configuration file; defaults and BUNDLERLAB_* env vars apply without one")
	encryptKey := flag.String("encrypt-key", "", "write wallet.private_key, encrypted with wallet.key_password, to this file and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	logger, closeLog := app.NewLogger(cfg.LogLevel, cfg.LogFile)
	defer closeLog()
	slog.SetDefault(logger)

	if *encryptKey != "" {
		if err := writeEncryptedKey(cfg.Wallet, *encryptKey); err != nil {
			logger.Error("encrypt key failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("encrypted key written", slog.String("path", *encryptKey))
		return
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("bundlerlab starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		closeLog()
		os.Exit(1)
	}
	logger.Info("bundlerlab stopped")
}

func writeEncryptedKey(cfg config.WalletConfig, path string) error {
	if cfg.PrivateKey == "" || cfg.KeyPassword == "" {
		return errors.New("wallet.private_key and wallet.key_password are required")
	}
	key, err := wallet.ParseKey(cfg.PrivateKey)
	if err != nil {
		return err
	}
	data, err := wallet.EncryptKey(key, cfg.KeyPassword)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
