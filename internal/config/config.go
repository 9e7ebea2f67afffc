package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"funding-spread-alerts/internal/logging"
)

// Lock backends for the alert tick.
const (
	LockNone     = "none"
	LockPostgres = "postgres"
	LockRedis    = "redis"
)

// Alert store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Venues    VenuesConfig    `mapstructure:"venues"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	HTTP      HTTPConfig      `mapstructure:"http"`
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
}

// RedisConfig is only needed for the redis lock backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// SchedulerConfig governs the refresh and alert cadences.
type SchedulerConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	AlertInterval   time.Duration `mapstructure:"alert_interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	LockBackend     string        `mapstructure:"lock_backend"`
	LockKey         string        `mapstructure:"lock_key"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
}

// VenueConfig toggles one venue adapter.
type VenueConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
}

// VenuesConfig covers the venue adapters.
type VenuesConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	UserAgent   string        `mapstructure:"user_agent"`
	Dydx        VenueConfig   `mapstructure:"dydx"`
	Hyperliquid VenueConfig   `mapstructure:"hyperliquid"`
	Paradex     VenueConfig   `mapstructure:"paradex"`
	Extended    VenueConfig   `mapstructure:"extended"`
}

// AlertingConfig defines alert processing and delivery.
type AlertingConfig struct {
	Enabled         bool           `mapstructure:"enabled"`
	Store           string         `mapstructure:"store"`
	Workers         int            `mapstructure:"workers"`
	DeliveryTimeout time.Duration  `mapstructure:"delivery_timeout"`
	Telegram        TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 投递参数。未配置 bot_token 时消息只写入日志。
type TelegramConfig struct {
	BotToken          string  `mapstructure:"bot_token"`
	APIBase           string  `mapstructure:"api_base"`
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// HTTPConfig configures the read API.
type HTTPConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRows     int `mapstructure:"max_rows"`
	ChartWidth  int `mapstructure:"chart_width"`
	ChartHeight int `mapstructure:"chart_height"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("FUNDINGD")
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fundingd")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// keys without a default are not visible to AutomaticEnv during Unmarshal
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "fundingd")

	v.SetDefault("scheduler.refresh_interval", "3m")
	v.SetDefault("scheduler.alert_interval", "60s")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.lock_backend", LockNone)
	v.SetDefault("scheduler.lock_key", "fundingd:alert-tick")
	v.SetDefault("scheduler.lock_ttl", "2m")

	v.SetDefault("venues.timeout", "8s")
	v.SetDefault("venues.user_agent", "fundingd/1.0")
	for _, venue := range []string{"dydx", "hyperliquid", "paradex", "extended"} {
		v.SetDefault("venues."+venue+".enabled", true)
		v.SetDefault("venues."+venue+".base_url", "")
	}

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.store", StorePostgres)
	v.SetDefault("alerting.workers", 4)
	v.SetDefault("alerting.delivery_timeout", "15s")
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.messages_per_second", 25.0)
	v.SetDefault("alerting.telegram.burst", 5)

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("export.max_rows", 20)
	v.SetDefault("export.chart_width", 1024)
	v.SetDefault("export.chart_height", 512)
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
	if c.Scheduler.RefreshInterval <= 0 {
		return fmt.Errorf("scheduler.refresh_interval must be greater than zero")
	}
	if c.Scheduler.AlertInterval <= 0 {
		return fmt.Errorf("scheduler.alert_interval must be greater than zero")
	}
	if c.Venues.Timeout <= 0 {
		return fmt.Errorf("venues.timeout must be greater than zero")
	}
	if c.Venues.Timeout >= c.Scheduler.RefreshInterval {
		return fmt.Errorf("venues.timeout must be shorter than scheduler.refresh_interval")
	}
	if len(c.EnabledVenues()) < 2 {
		return fmt.Errorf("at least two venues must be enabled to compute spreads")
	}
	if c.Alerting.Workers <= 0 {
		return fmt.Errorf("alerting.workers must be greater than zero")
	}

	switch c.Scheduler.LockBackend {
	case LockNone:
	case LockPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("scheduler.lock_backend=postgres requires database.dsn")
		}
	case LockRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("scheduler.lock_backend=redis requires redis.addr")
		}
	default:
		return fmt.Errorf("scheduler.lock_backend must be one of none, postgres, redis")
	}

	switch c.Alerting.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Alerting.Enabled && c.Database.DSN == "" {
			return fmt.Errorf("alerting.store=postgres requires database.dsn")
		}
	default:
		return fmt.Errorf("alerting.store must be postgres or memory")
	}

	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be greater than zero")
	}
	return nil
}

// EnabledVenues lists the enabled venue keys in a fixed order.
func (c *Config) EnabledVenues() []string {
	var out []string
	for _, v := range []struct {
		key string
		cfg VenueConfig
	}{
		{"dydx", c.Venues.Dydx},
		{"hyperliquid", c.Venues.Hyperliquid},
		{"paradex", c.Venues.Paradex},
		{"extended", c.Venues.Extended},
	} {
		if v.cfg.Enabled {
			out = append(out, v.key)
		}
	}
	return out
}

// ResolveMaxRows returns either the CLI override or config default.
func (c *Config) ResolveMaxRows(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRows
}
