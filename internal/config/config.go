package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"navwatch/internal/logging"
	"navwatch/internal/premium"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig       `mapstructure:"app"`
	Logging    logging.Config  `mapstructure:"logging"`
	Database   DatabaseConfig  `mapstructure:"database"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Scheduler  SchedulerConfig `mapstructure:"scheduler"`
	Monitor    MonitorConfig   `mapstructure:"monitor"`
	Thresholds ThresholdConfig `mapstructure:"thresholds"`
	Source     SourceConfig    `mapstructure:"source"`
	Ledger     LedgerConfig    `mapstructure:"ledger"`
	Alerting   AlertingConfig  `mapstructure:"alerting"`
	Journal    JournalConfig   `mapstructure:"journal"`
	Server     ServerConfig    `mapstructure:"server"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	// Timezone decides where calendar days start; empty means the process local zone.
	Timezone string `mapstructure:"timezone"`
}

// Location resolves the configured time zone.
func (a AppConfig) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", a.Timezone, err)
	}
	return loc, nil
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig describes the Redis connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	Cron            string        `mapstructure:"cron"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// MonitorConfig bounds one monitoring cycle.
type MonitorConfig struct {
	Workers       int           `mapstructure:"workers"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
}

// ThresholdConfig holds the alert thresholds in percent.
type ThresholdConfig struct {
	Premium  float64 `mapstructure:"premium"`
	Discount float64 `mapstructure:"discount"`
}

// Snapshot converts the thresholds for the classifier.
func (t ThresholdConfig) Snapshot() premium.Thresholds {
	return premium.NewThresholds(t.Premium, t.Discount)
}

// SourceConfig covers the upstream market data.
type SourceConfig struct {
	Watchlist    []string       `mapstructure:"watchlist"`
	HTTP         HTTPConfig     `mapstructure:"http"`
	ListURL      string         `mapstructure:"list_url"`
	ListNode     string         `mapstructure:"list_node"`
	PageSize     int            `mapstructure:"page_size"`
	NAVURL       string         `mapstructure:"nav_url"`
	StateURL     string         `mapstructure:"state_url"`
	State        bool           `mapstructure:"state"`
	StateTimeout time.Duration  `mapstructure:"state_timeout"`
	Ethereum     EthereumConfig `mapstructure:"ethereum"`
}

// HTTPConfig tunes the upstream HTTP clients. Every upstream gets its own
// client built from these settings.
type HTTPConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	RequestsPerSec  float64       `mapstructure:"requests_per_sec"`
	Burst           int           `mapstructure:"burst"`
	MaxRetryElapsed time.Duration `mapstructure:"max_retry_elapsed"`
	UserAgent       string        `mapstructure:"user_agent"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// EthereumConfig covers on-chain reference values for tokenized funds.
type EthereumConfig struct {
	RPCURL         string                 `mapstructure:"rpc_url"`
	RequestTimeout time.Duration          `mapstructure:"request_timeout"`
	Vaults         map[string]VaultConfig `mapstructure:"vaults"`
}

// VaultConfig maps an instrument to an ERC-4626 vault.
type VaultConfig struct {
	Address       string `mapstructure:"address"`
	ShareDecimals int32  `mapstructure:"share_decimals"`
	AssetDecimals int32  `mapstructure:"asset_decimals"`
}

// LedgerConfig selects where the daily alert set survives restarts.
type LedgerConfig struct {
	Backend     string        `mapstructure:"backend"`
	Path        string        `mapstructure:"path"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
	RedisTTL    time.Duration `mapstructure:"redis_ttl"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	DingTalk DingTalkConfig `mapstructure:"dingtalk"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// DingTalkConfig holds the DingTalk robot settings. The channel is active when Webhook is set.
type DingTalkConfig struct {
	Webhook string `mapstructure:"webhook"`
	Secret  string `mapstructure:"secret"`
}

// TelegramConfig holds the Telegram bot settings.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// JournalConfig configures the alert journal.
type JournalConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Postgres   bool   `mapstructure:"postgres"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v, err := open(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func open(path string) (*viper.Viper, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("NAVWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindLegacyEnv(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv reads .env from the working directory when present. Existing variables win.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// bindLegacyEnv keeps the unprefixed variable names older deployments use.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("alerting.dingtalk.webhook", "NAVWATCH_ALERTING_DINGTALK_WEBHOOK", "DINGTALK_WEBHOOK")
	_ = v.BindEnv("alerting.dingtalk.secret", "NAVWATCH_ALERTING_DINGTALK_SECRET", "DINGTALK_SECRET")
	_ = v.BindEnv("thresholds.premium", "NAVWATCH_THRESHOLDS_PREMIUM", "PREMIUM_THRESHOLD")
	_ = v.BindEnv("thresholds.discount", "NAVWATCH_THRESHOLDS_DISCOUNT", "DISCOUNT_THRESHOLD")
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "navwatch")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.timezone", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6e617677))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("monitor.workers", 8)
	v.SetDefault("monitor.fetch_timeout", "15s")
	v.SetDefault("monitor.notify_timeout", "10s")

	v.SetDefault("thresholds.premium", 30.0)
	v.SetDefault("thresholds.discount", 40.0)

	v.SetDefault("source.list_url", "https://vip.stock.finance.sina.com.cn/quotes_service/api/json_v2.php")
	v.SetDefault("source.list_node", "lof_hq_fund")
	v.SetDefault("source.page_size", 100)
	v.SetDefault("source.nav_url", "https://fundgz.1234567.com.cn")
	v.SetDefault("source.state_url", "https://fund.eastmoney.com")
	v.SetDefault("source.state", true)
	v.SetDefault("source.state_timeout", "5s")
	v.SetDefault("source.http.timeout", "10s")
	v.SetDefault("source.http.requests_per_sec", 10.0)
	v.SetDefault("source.http.burst", 5)
	v.SetDefault("source.http.max_retry_elapsed", "20s")
	v.SetDefault("source.http.user_agent", "Mozilla/5.0 (compatible; navwatch/1.0)")
	v.SetDefault("source.http.breaker_failures", 5)
	v.SetDefault("source.http.breaker_cooldown", "30s")
	v.SetDefault("source.ethereum.request_timeout", "10s")

	v.SetDefault("ledger.backend", "file")
	v.SetDefault("ledger.path", "alert_ledger.yaml")
	v.SetDefault("ledger.redis_prefix", "navwatch:ledger")
	v.SetDefault("ledger.redis_ttl", "48h")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("journal.path", "alerts.log")
	v.SetDefault("journal.max_size_mb", 10)
	v.SetDefault("journal.max_backups", 5)
	v.SetDefault("journal.max_age_days", 90)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":9108")

	v.SetDefault("redis.db", 0)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Thresholds.Premium <= 0 {
		return fmt.Errorf("thresholds.premium must be greater than zero")
	}
	if c.Thresholds.Discount <= 0 {
		return fmt.Errorf("thresholds.discount must be greater than zero")
	}
	if c.Scheduler.Cron == "" && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Monitor.Workers <= 0 {
		return fmt.Errorf("monitor.workers must be greater than zero")
	}
	if _, err := c.App.Location(); err != nil {
		return err
	}

	switch c.Ledger.Backend {
	case "memory":
	case "file":
		if c.Ledger.Path == "" {
			return errors.New("ledger.path is required")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis ledger")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres ledger")
		}
	default:
		return fmt.Errorf("unknown ledger.backend %q", c.Ledger.Backend)
	}

	if c.Journal.Postgres && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when journal.postgres is enabled")
	}
	for id, vault := range c.Source.Ethereum.Vaults {
		if vault.Address == "" {
			return fmt.Errorf("source.ethereum.vaults.%s.address is required", id)
		}
	}
	if len(c.Source.Ethereum.Vaults) > 0 && c.Source.Ethereum.RPCURL == "" {
		return fmt.Errorf("source.ethereum.rpc_url is required when vaults are configured")
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return errors.New("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return errors.New("alerting.telegram.chat_id is required")
		}
	}
	return nil
}
