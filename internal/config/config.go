package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"bolivarwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Logging       logging.Config      `mapstructure:"logging"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Sources       SourcesConfig       `mapstructure:"sources"`
	Cache         CacheConfig         `mapstructure:"cache"`
	History       HistoryConfig       `mapstructure:"history"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	SiteURL     string `mapstructure:"site_url"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig covers the subscriber directory store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// HTTPConfig governs the API server.
type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SourcesConfig parameterises the upstream quote providers.
type SourcesConfig struct {
	DolarAPIBaseURL string        `mapstructure:"dolarapi_base_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	BCVURL          string        `mapstructure:"bcv_url"`
	BCVTimeout      time.Duration `mapstructure:"bcv_timeout"`
}

// CacheConfig bounds snapshot staleness.
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// HistoryConfig governs the durable daily time series.
type HistoryConfig struct {
	Timezone  string        `mapstructure:"timezone"`
	Retention time.Duration `mapstructure:"retention"`
}

// NotificationsConfig defines change thresholds and the digest window.
type NotificationsConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	ThresholdPct  float64        `mapstructure:"threshold_pct"`
	DigestHour    int            `mapstructure:"digest_hour"`
	DigestMinutes int            `mapstructure:"digest_minutes"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the outbound messaging channel.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	APIBase  string `mapstructure:"api_base"`
}

// SchedulerConfig drives the periodic evaluation loop in `run`.
type SchedulerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOLIVARWATCH")
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
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "bolivarwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("sources.dolarapi_base_url", "https://ve.dolarapi.com/v1")
	v.SetDefault("sources.request_timeout", "8s")
	v.SetDefault("sources.user_agent", "bolivarwatch/1.0")
	v.SetDefault("sources.bcv_url", "https://www.bcv.org.ve/")
	v.SetDefault("sources.bcv_timeout", "15s")

	v.SetDefault("cache.ttl", "5m")

	v.SetDefault("history.timezone", "America/Caracas")
	v.SetDefault("history.retention", "8760h") // one year

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.threshold_pct", 1.0)
	v.SetDefault("notifications.digest_hour", 8)
	v.SetDefault("notifications.digest_minutes", 30)
	v.SetDefault("notifications.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "30m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
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
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be greater than zero")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Notifications.ThresholdPct < 0 {
		return fmt.Errorf("notifications.threshold_pct cannot be negative")
	}
	if c.Notifications.DigestHour < 0 || c.Notifications.DigestHour > 23 {
		return fmt.Errorf("notifications.digest_hour must be within 0-23")
	}
	if c.Notifications.DigestMinutes < 0 || c.Notifications.DigestMinutes > 60 {
		return fmt.Errorf("notifications.digest_minutes must be within 0-60")
	}
	if c.Notifications.Enabled && c.Notifications.Telegram.BotToken == "" {
		return fmt.Errorf("notifications.telegram.bot_token is required when notifications are enabled")
	}
	if _, err := time.LoadLocation(c.History.Timezone); err != nil {
		return fmt.Errorf("history.timezone: %w", err)
	}
	return nil
}

// Location resolves the configured history time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.History.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
