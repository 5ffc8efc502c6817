package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig
	Log            LogConfig
	JWT            JWTConfig
	Ledger         LedgerConfig
	Cash           CashConfig
	Reconciliation ReconciliationConfig
	Sweeper        SweeperConfig
	GiftCard       *GiftCardConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	AutoMigrate     bool
}

type JWTConfig struct {
	SecretKey string
	Issuer    string // empty accepts any issuer
}

type LogConfig struct {
	Level  string
	Format string
}

// LedgerConfig bounds the retry loop around optimistic-concurrency failures.
type LedgerConfig struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

type CashConfig struct {
	RoundingIncrement int64 // in minor units; 5 rounds to the nearest 0.05
}

type ReconciliationConfig struct {
	AmountTolerance int64 // in minor units
	WindowDays      int
	LookbackDays    int
	BatchSize       int
	ReviewQueueKey  string
}

type SweeperConfig struct {
	Enabled  bool
	Interval time.Duration
}

// envKeys are the dotted keys read from the environment. Each binds to the
// upper-cased name with dots replaced by underscores.
var envKeys = []string{
	"database.host", "database.port", "database.user", "database.password",
	"database.name", "database.ssl_mode", "database.auto_migrate",
	"redis.host", "redis.port", "redis.password", "redis.db",
	"redis.pool_size", "redis.dial_timeout",
	"jwt.secret_key", "jwt.issuer",
	"server.port", "server.allowed_origins", "server.read_timeout",
	"server.write_timeout", "server.idle_timeout", "server.shutdown_timeout",
	"log.level", "log.format",
	"ledger.max_retries", "ledger.retry_base_delay", "ledger.retry_max_delay",
	"cash.rounding_increment",
	"reconciliation.amount_tolerance", "reconciliation.window_days",
	"reconciliation.lookback_days", "reconciliation.batch_size",
	"reconciliation.review_queue_key",
	"sweeper.enabled", "sweeper.interval",
	"giftcard.code_groups", "giftcard.code_group_length", "giftcard.max_code_attempts",
	"giftcard.max_redeem_attempts", "giftcard.rate_limit_window", "giftcard.qr_size",
}

// Init loads .env and binds the environment variables viper reads.
func Init() {
	InitFile(".env")
}

// InitFile is Init with another dotenv file. Variables already set in the
// process environment win over the file.
func InitFile(path string) {
	if err := godotenv.Load(path); err != nil {
		logrus.WithError(err).WithField("file", path).Info("config file not loaded, using environment and defaults")
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		viper.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
}

// Load returns the application configuration with defaults applied.
func Load() (*Config, error) {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 15*time.Second)
	viper.SetDefault("server.idle_timeout", 60*time.Second)
	viper.SetDefault("server.shutdown_timeout", 30*time.Second)
	viper.SetDefault("server.allowed_origins", "https://*,http://*")
	viper.SetDefault("database.auto_migrate", false)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("ledger.max_retries", 3)
	viper.SetDefault("ledger.retry_base_delay", 10*time.Millisecond)
	viper.SetDefault("ledger.retry_max_delay", 200*time.Millisecond)
	viper.SetDefault("cash.rounding_increment", 5)
	viper.SetDefault("reconciliation.amount_tolerance", 1)
	viper.SetDefault("reconciliation.window_days", 5)
	viper.SetDefault("reconciliation.lookback_days", 45)
	viper.SetDefault("reconciliation.batch_size", 500)
	viper.SetDefault("reconciliation.review_queue_key", "review_queue")
	viper.SetDefault("sweeper.enabled", true)
	viper.SetDefault("sweeper.interval", time.Hour)

	giftCard, err := LoadGiftCardConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            viper.GetString("server.port"),
			ReadTimeout:     viper.GetDuration("server.read_timeout"),
			WriteTimeout:    viper.GetDuration("server.write_timeout"),
			IdleTimeout:     viper.GetDuration("server.idle_timeout"),
			ShutdownTimeout: viper.GetDuration("server.shutdown_timeout"),
			AllowedOrigins:  splitList(viper.GetString("server.allowed_origins")),
			AutoMigrate:     viper.GetBool("database.auto_migrate"),
		},
		Log: LogConfig{
			Level:  viper.GetString("log.level"),
			Format: viper.GetString("log.format"),
		},
		JWT: JWTConfig{
			SecretKey: viper.GetString("jwt.secret_key"),
			Issuer:    viper.GetString("jwt.issuer"),
		},
		Ledger: LedgerConfig{
			MaxRetries:     viper.GetInt("ledger.max_retries"),
			RetryBaseDelay: viper.GetDuration("ledger.retry_base_delay"),
			RetryMaxDelay:  viper.GetDuration("ledger.retry_max_delay"),
		},
		Cash: CashConfig{
			RoundingIncrement: viper.GetInt64("cash.rounding_increment"),
		},
		Reconciliation: ReconciliationConfig{
			AmountTolerance: viper.GetInt64("reconciliation.amount_tolerance"),
			WindowDays:      viper.GetInt("reconciliation.window_days"),
			LookbackDays:    viper.GetInt("reconciliation.lookback_days"),
			BatchSize:       viper.GetInt("reconciliation.batch_size"),
			ReviewQueueKey:  viper.GetString("reconciliation.review_queue_key"),
		},
		Sweeper: SweeperConfig{
			Enabled:  viper.GetBool("sweeper.enabled"),
			Interval: viper.GetDuration("sweeper.interval"),
		},
		GiftCard: giftCard,
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ErrInvalidConfig marks a configuration value outside its allowed range.
var ErrInvalidConfig = errors.New("invalid configuration")

func (c *Config) validate() error {
	switch {
	case c.Cash.RoundingIncrement < 0:
		return fmt.Errorf("%w: cash.rounding_increment must not be negative", ErrInvalidConfig)
	case c.Ledger.MaxRetries < 0:
		return fmt.Errorf("%w: ledger.max_retries must not be negative", ErrInvalidConfig)
	case c.Reconciliation.AmountTolerance < 0:
		return fmt.Errorf("%w: reconciliation.amount_tolerance must not be negative", ErrInvalidConfig)
	case c.Reconciliation.BatchSize <= 0:
		return fmt.Errorf("%w: reconciliation.batch_size must be positive", ErrInvalidConfig)
	case c.Sweeper.Enabled && c.Sweeper.Interval <= 0:
		return fmt.Errorf("%w: sweeper.interval must be positive", ErrInvalidConfig)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
