package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const envPrefix = "BUNDLERLAB_"

// Load merges the TOML file at path over Defaults and applies environment
// overrides. A missing file is not an error when path is empty. The result
// is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// .env is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// wallet
	setStr(&cfg.Wallet.PrivateKey, "WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "WALLET_KEY_PASSWORD")
	setBool(&cfg.Wallet.AutoConnect, "WALLET_AUTO_CONNECT")

	// chain
	setStr(&cfg.Chain.RPCURL, "CHAIN_RPC_URL")
	setStr(&cfg.Chain.WSURL, "CHAIN_WS_URL")
	setDuration(&cfg.Chain.BlockPollInterval, "CHAIN_BLOCK_POLL_INTERVAL")

	// morpho sidecar
	setStr(&cfg.Morpho.BaseURL, "MORPHO_BASE_URL")
	setStr(&cfg.Morpho.APIKey, "MORPHO_API_KEY")
	setDuration(&cfg.Morpho.Timeout, "MORPHO_TIMEOUT")

	// executor
	setDuration(&cfg.Executor.ReceiptPollInterval, "EXECUTOR_RECEIPT_POLL_INTERVAL")
	setDuration(&cfg.Executor.ReceiptTimeout, "EXECUTOR_RECEIPT_TIMEOUT")
	setInt(&cfg.Executor.GasBufferPercent, "EXECUTOR_GAS_BUFFER_PERCENT")

	setDuration(&cfg.Position.PollInterval, "POSITION_POLL_INTERVAL")

	// shell
	setStr(&cfg.Shell.MarketID, "SHELL_MARKET_ID")
	setStr(&cfg.Shell.SupplyAmount, "SHELL_SUPPLY_AMOUNT")
	setStr(&cfg.Shell.SupplyCollateralAmount, "SHELL_SUPPLY_COLLATERAL_AMOUNT")
	setStr(&cfg.Shell.BorrowAmount, "SHELL_BORROW_AMOUNT")
	setStr(&cfg.Shell.RepayAmount, "SHELL_REPAY_AMOUNT")
	setStr(&cfg.Shell.WithdrawCollateralAmount, "SHELL_WITHDRAW_COLLATERAL_AMOUNT")
	setStr(&cfg.Shell.WithdrawAmount, "SHELL_WITHDRAW_AMOUNT")
	setDuration(&cfg.Shell.LockTTL, "SHELL_LOCK_TTL")
	setStr(&cfg.Shell.Action, "SHELL_ACTION")

	// postgres
	setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// redis
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")

	// s3
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.Prefix, "S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// server
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setInt(&cfg.Server.ActionsPerMinute, "SERVER_ACTIONS_PER_MINUTE")

	// notify
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")
	setInt(&cfg.Notify.PerMinute, "NOTIFY_PER_MINUTE")

	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
	setStr(&cfg.LogFile, "LOG_FILE")
}

// Each setter only touches dst when BUNDLERLAB_<key> is set and parses.

func lookup(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func setStr(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
