// Package config defines the bundlerlab configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and are then
// overridden by BUNDLERLAB_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Morpho   MorphoConfig   `toml:"morpho"`
	Executor ExecutorConfig `toml:"executor"`
	Position PositionConfig `toml:"position"`
	Shell    ShellConfig    `toml:"shell"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	LogFile  string         `toml:"log_file"`
}

// WalletConfig holds the signing key source.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// AutoConnect connects the wallet at startup instead of waiting for the
	// shell's connect action.
	AutoConnect bool `toml:"auto_connect"`
}

// ChainConfig holds node endpoints.
type ChainConfig struct {
	RPCURL            string   `toml:"rpc_url"`
	WSURL             string   `toml:"ws_url"`
	BlockPollInterval Duration `toml:"block_poll_interval"`
}

// MorphoConfig points at the simulation/position/encoding sidecar.
type MorphoConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout Duration `toml:"timeout"`
}

// ExecutorConfig tunes transaction submission.
type ExecutorConfig struct {
	ReceiptPollInterval Duration `toml:"receipt_poll_interval"`
	ReceiptTimeout      Duration `toml:"receipt_timeout"`
	GasBufferPercent    int      `toml:"gas_buffer_percent"`
}

// PositionConfig tunes the position poller.
type PositionConfig struct {
	PollInterval Duration `toml:"poll_interval"`
}

// ShellConfig holds the initial form values and the action lock TTL.
type ShellConfig struct {
	MarketID                 string   `toml:"market_id"`
	SupplyAmount             string   `toml:"supply_amount"`
	SupplyCollateralAmount   string   `toml:"supply_collateral_amount"`
	BorrowAmount             string   `toml:"borrow_amount"`
	RepayAmount              string   `toml:"repay_amount"`
	WithdrawCollateralAmount string   `toml:"withdraw_collateral_amount"`
	WithdrawAmount           string   `toml:"withdraw_amount"`
	LockTTL                  Duration `toml:"lock_ttl"`
	// Action is what exec mode runs: supply_collateral_borrow or repay_withdraw.
	Action string `toml:"action"`
}

// PostgresConfig holds action history database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds signal bus and lock parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds action archive parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// ActionsPerMinute limits action endpoints per client. Zero disables.
	ActionsPerMinute int `toml:"actions_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	PerMinute         int      `toml:"per_minute"`
}

// Duration decodes TOML strings like "5s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config with the values used when nothing is configured.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:            "http://127.0.0.1:8545",
			BlockPollInterval: Duration{4 * time.Second},
		},
		Morpho: MorphoConfig{
			BaseURL: "http://127.0.0.1:8787",
			Timeout: Duration{30 * time.Second},
		},
		Executor: ExecutorConfig{
			ReceiptPollInterval: Duration{time.Second},
			ReceiptTimeout:      Duration{2 * time.Minute},
			GasBufferPercent:    20,
		},
		Position: PositionConfig{PollInterval: Duration{5 * time.Second}},
		Shell: ShellConfig{
			MarketID:                 "0x39d11026eae1c6ec02aa4c0910778664089cdd97c3fd23f68f7cd05e2e95af48",
			SupplyAmount:             "1",
			SupplyCollateralAmount:   "5",
			BorrowAmount:             "1",
			RepayAmount:              "1",
			WithdrawCollateralAmount: "5",
			WithdrawAmount:           "1",
			LockTTL:                  Duration{5 * time.Minute},
			Action:                   "supply_collateral_borrow",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bundlerlab",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "bundlerlab",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "bundlerlab",
			Prefix:         "actions",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			ActionsPerMinute: 30,
		},
		Notify: NotifyConfig{
			Events:    []string{"bundle_succeeded", "bundle_failed"},
			PerMinute: 20,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"serve":   true,
	"monitor": true,
	"exec":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validActions = map[string]bool{
	"supply_collateral_borrow": true,
	"repay_withdraw":           true,
}

// Validate reports every invalid or missing value in one error.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, monitor, exec)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Wallet.PrivateKey != "" && c.Wallet.EncryptedKeyPath != "" {
		errs = append(errs, "wallet: set only one of private_key and encrypted_key_path")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}
	if mode == "exec" && c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: a key is required for mode exec")
	}

	if strings.TrimSpace(c.Chain.RPCURL) == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.BlockPollInterval.Duration <= 0 {
		errs = append(errs, "chain: block_poll_interval must be > 0")
	}
	if strings.TrimSpace(c.Morpho.BaseURL) == "" {
		errs = append(errs, "morpho: base_url must not be empty")
	}
	if c.Executor.ReceiptPollInterval.Duration <= 0 {
		errs = append(errs, "executor: receipt_poll_interval must be > 0")
	}
	if c.Executor.ReceiptTimeout.Duration < c.Executor.ReceiptPollInterval.Duration {
		errs = append(errs, "executor: receipt_timeout must not be shorter than receipt_poll_interval")
	}
	if c.Executor.GasBufferPercent < 0 {
		errs = append(errs, "executor: gas_buffer_percent must be >= 0")
	}
	if c.Position.PollInterval.Duration <= 0 {
		errs = append(errs, "position: poll_interval must be > 0")
	}
	if mode == "exec" && !validActions[c.Shell.Action] {
		errs = append(errs, fmt.Sprintf("shell: unknown action %q (valid: supply_collateral_borrow, repay_withdraw)", c.Shell.Action))
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id is required with telegram_token")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
