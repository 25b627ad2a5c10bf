package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"dealsignal/internal/logging"
	"dealsignal/internal/pricing"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Keepa     KeepaConfig     `mapstructure:"keepa"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Import    ImportConfig    `mapstructure:"import"`
	API       APIConfig       `mapstructure:"api"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
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

// SchedulerConfig governs the refresh cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// KeepaConfig covers the price-history provider.
type KeepaConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Domain            int           `mapstructure:"domain"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	BatchSize         int           `mapstructure:"batch_size"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// RefreshConfig tunes the refresh job.
type RefreshConfig struct {
	Workers int `mapstructure:"workers"`
}

// ImportConfig drives the import command.
type ImportConfig struct {
	ASINs        []string `mapstructure:"asins"`
	AffiliateTag string   `mapstructure:"affiliate_tag"`
	Retailer     string   `mapstructure:"retailer"`
	Region       string   `mapstructure:"region"`
}

// APIConfig describes the public deals API.
type APIConfig struct {
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxLimit       int           `mapstructure:"max_limit"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ClickBuffer    int           `mapstructure:"click_buffer"`
}

// AlertingConfig defines which signals are pushed and where.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Signals  []string       `mapstructure:"signals"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("DEALSIGNAL")
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

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
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
	v.SetDefault("app.name", "dealsignal")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 14)

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x64656131))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("keepa.base_url", "https://api.keepa.com")
	v.SetDefault("keepa.api_key", "")
	v.SetDefault("keepa.domain", 1)
	v.SetDefault("keepa.request_timeout", "30s")
	v.SetDefault("keepa.requests_per_second", 1.0)
	v.SetDefault("keepa.burst", 1)
	v.SetDefault("keepa.batch_size", 100)
	v.SetDefault("keepa.user_agent", "dealsignal/1.0")

	v.SetDefault("refresh.workers", 2)

	v.SetDefault("import.asins", []string{})
	v.SetDefault("import.affiliate_tag", "dealsignal-20")
	v.SetDefault("import.retailer", "Amazon")
	v.SetDefault("import.region", "US")

	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "10s")
	v.SetDefault("api.max_limit", 200)
	v.SetDefault("api.allowed_origins", []string{"*"})
	v.SetDefault("api.click_buffer", 256)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.signals", []string{string(pricing.SignalHistoricalLow)})
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_data_points", 5000)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
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
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Keepa.BatchSize <= 0 || c.Keepa.BatchSize > 100 {
		return fmt.Errorf("keepa.batch_size must be between 1 and 100")
	}
	if c.Keepa.RequestsPerSecond <= 0 {
		return fmt.Errorf("keepa.requests_per_second must be greater than zero")
	}
	if c.Refresh.Workers <= 0 {
		return fmt.Errorf("refresh.workers must be greater than zero")
	}
	if c.API.MaxLimit <= 0 {
		return fmt.Errorf("api.max_limit must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	for _, s := range c.Alerting.Signals {
		if _, err := pricing.ParseSignal(s); err != nil {
			return fmt.Errorf("alerting.signals: %w", err)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// AlertSignals returns the configured alerting labels.
func (c *Config) AlertSignals() []pricing.Signal {
	out := make([]pricing.Signal, 0, len(c.Alerting.Signals))
	for _, s := range c.Alerting.Signals {
		if parsed, err := pricing.ParseSignal(s); err == nil {
			out = append(out, parsed)
		}
	}
	return out
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// ResolveASINs prefers CLI-supplied ASINs over the configured list.
func (c *Config) ResolveASINs(override []string) []string {
	if len(override) > 0 {
		return override
	}
	return c.Import.ASINs
}
