package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"gas-price-relay/internal/logging"
)

// ErrInvalid marks configuration errors detected before the service loop starts.
var ErrInvalid = errors.New("invalid configuration")

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	History   HistoryConfig   `mapstructure:"history"`
	Cycle     CycleConfig     `mapstructure:"cycle"`
	Signal    SignalConfig    `mapstructure:"signal"`
	Sources   []SourceConfig  `mapstructure:"sources"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	API       APIConfig       `mapstructure:"api"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig configures the latest-snapshot cache.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// SchedulerConfig governs the update cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	GracePeriod     time.Duration `mapstructure:"grace_period"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	ReportInterval  time.Duration `mapstructure:"report_interval"`
}

// HistoryConfig sizes the per-source rolling windows.
type HistoryConfig struct {
	WindowSize int  `mapstructure:"window_size"`
	WarmStart  bool `mapstructure:"warm_start"`
}

// CycleConfig bounds a single fetch round.
type CycleConfig struct {
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

// SignalConfig tunes buy-signal detection.
type SignalConfig struct {
	ThresholdPct int64 `mapstructure:"threshold_pct"`
}

// SourceConfig describes one upstream network.
type SourceConfig struct {
	ID        string            `mapstructure:"id"`
	Kind      string            `mapstructure:"kind"`
	Enabled   bool              `mapstructure:"enabled"`
	RPCURL    string            `mapstructure:"rpc_url"`
	URL       string            `mapstructure:"url"`
	JSONPath  string            `mapstructure:"json_path"`
	Decimals  int32             `mapstructure:"decimals"`
	Headers   map[string]string `mapstructure:"headers"`
	UserAgent string            `mapstructure:"user_agent"`
	Timeout   time.Duration     `mapstructure:"timeout"`
}

// OracleConfig covers the on-chain publisher.
type OracleConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RPCURL          string        `mapstructure:"rpc_url"`
	ChainID         int64         `mapstructure:"chain_id"`
	ContractAddress string        `mapstructure:"contract_address"`
	PrivateKey      string        `mapstructure:"private_key"`
	BatchThreshold  int           `mapstructure:"batch_threshold"`
	GasLimit        uint64        `mapstructure:"gas_limit"`
	TxTimeout       time.Duration `mapstructure:"tx_timeout"`
}

// AlertingConfig defines buy-signal routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// APIConfig controls the status/metrics HTTP listener.
type APIConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GASRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applySourceDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
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
	v.SetDefault("app.name", "gasrelay")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.grace_period", "30s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0))
	v.SetDefault("scheduler.report_interval", "5m")

	v.SetDefault("history.window_size", 1000)
	v.SetDefault("history.warm_start", true)

	v.SetDefault("cycle.fetch_timeout", "10s")
	v.SetDefault("cycle.max_concurrency", 8)

	v.SetDefault("signal.threshold_pct", 10)

	v.SetDefault("oracle.enabled", false)
	v.SetDefault("oracle.batch_threshold", 2)
	v.SetDefault("oracle.gas_limit", uint64(0))
	v.SetDefault("oracle.tx_timeout", "20s")

	v.SetDefault("redis.key_prefix", "gasrelay:")
	v.SetDefault("redis.ttl", "10m")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen_addr", ":9108")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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

// Sources inside a list do not receive viper defaults.
func (c *Config) applySourceDefaults() {
	for i := range c.Sources {
		src := &c.Sources[i]
		src.ID = strings.TrimSpace(src.ID)
		src.Kind = strings.ToLower(strings.TrimSpace(src.Kind))
		if src.Kind == "" {
			src.Kind = "evm"
		}
	}
}

// EnabledSources returns the sources that take part in update cycles.
func (c *Config) EnabledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return invalid("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return invalid("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.GracePeriod < 0 {
		return invalid("scheduler.grace_period cannot be negative")
	}
	if c.Cycle.FetchTimeout <= 0 {
		return invalid("cycle.fetch_timeout must be greater than zero")
	}
	if c.Cycle.FetchTimeout >= c.Scheduler.Interval {
		return invalid("cycle.fetch_timeout (%s) must be below scheduler.interval (%s)", c.Cycle.FetchTimeout, c.Scheduler.Interval)
	}
	if c.Cycle.MaxConcurrency <= 0 {
		return invalid("cycle.max_concurrency must be greater than zero")
	}
	if c.History.WindowSize <= 0 {
		return invalid("history.window_size must be greater than zero")
	}
	if c.Signal.ThresholdPct < 0 || c.Signal.ThresholdPct > 100 {
		return invalid("signal.threshold_pct must be within [0, 100]")
	}

	if err := c.validateSources(); err != nil {
		return err
	}

	if c.Oracle.Enabled {
		if c.Oracle.RPCURL == "" {
			return invalid("oracle.rpc_url is required when oracle is enabled")
		}
		if c.Oracle.ContractAddress == "" {
			return invalid("oracle.contract_address is required when oracle is enabled")
		}
		if c.Oracle.PrivateKey == "" {
			return invalid("oracle.private_key is required when oracle is enabled")
		}
		if c.Oracle.BatchThreshold <= 0 {
			return invalid("oracle.batch_threshold must be greater than zero")
		}
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return invalid("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return invalid("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

func (c *Config) validateSources() error {
	if len(c.EnabledSources()) == 0 {
		return invalid("at least one enabled source is required")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for i, s := range c.Sources {
		if s.ID == "" {
			return invalid("sources[%d].id is required", i)
		}
		if _, dup := seen[s.ID]; dup {
			return invalid("sources[%d].id %q is duplicated", i, s.ID)
		}
		seen[s.ID] = struct{}{}
		if !s.Enabled {
			continue
		}
		switch s.Kind {
		case "evm":
			if s.RPCURL == "" {
				return invalid("source %q: rpc_url is required", s.ID)
			}
		case "http":
			if s.URL == "" || s.JSONPath == "" {
				return invalid("source %q: url and json_path are required", s.ID)
			}
		default:
			return invalid("source %q: unsupported kind %q", s.ID, s.Kind)
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
