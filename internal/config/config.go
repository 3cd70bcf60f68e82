package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"dealwatcher/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Source    SourceConfig    `mapstructure:"source"`
	Deals     DealsConfig     `mapstructure:"deals"`
	Bot       BotConfig       `mapstructure:"bot"`
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

// SchedulerConfig governs cycle cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// SourceConfig locates the observation feed produced by the scraping stage.
type SourceConfig struct {
	FeedPath string `mapstructure:"feed_path"`
}

// DealsConfig holds the significance thresholds of the deal evaluator.
type DealsConfig struct {
	// MinDropPct is the minimum percentage below the baseline average for a
	// price to qualify as a deal. Boundary values qualify.
	MinDropPct float64 `mapstructure:"min_drop_pct"`
	// MinDropAbs is the minimum absolute gap, in smallest currency units,
	// between baseline average and price.
	MinDropAbs int64 `mapstructure:"min_drop_abs"`
	// TierPcts are the five ascending lower bounds of the significance tiers.
	TierPcts []float64 `mapstructure:"tier_pcts"`
}

// BotConfig defines notification publishing behaviour.
type BotConfig struct {
	Enabled          bool              `mapstructure:"enabled"`
	MaxPosts         int               `mapstructure:"max_posts"`
	IgnoreBrands     []string          `mapstructure:"ignore_brands"`
	ActualHashtag    string            `mapstructure:"actual_hashtag"`
	ModelNameAliases map[string]string `mapstructure:"model_name_aliases"`
	Telegram         TelegramConfig    `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram channel credentials.
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEALWATCHER")
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
	v.SetDefault("app.name", "dealwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "30m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6465616c))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("source.feed_path", "data/goods.csv")

	v.SetDefault("deals.min_drop_pct", 3.0)
	v.SetDefault("deals.min_drop_abs", int64(1500))
	v.SetDefault("deals.tier_pcts", []float64{3, 6, 10, 15, 20})

	v.SetDefault("bot.enabled", false)
	v.SetDefault("bot.max_posts", 50)
	v.SetDefault("bot.actual_hashtag", "#deal")
	v.SetDefault("bot.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("bot.telegram.request_timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
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
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Deals.MinDropPct < 0 {
		return fmt.Errorf("deals.min_drop_pct cannot be negative")
	}
	if c.Deals.MinDropAbs < 0 {
		return fmt.Errorf("deals.min_drop_abs cannot be negative")
	}
	if len(c.Deals.TierPcts) != 0 && len(c.Deals.TierPcts) != 5 {
		return fmt.Errorf("deals.tier_pcts must list exactly five thresholds")
	}
	for i := 1; i < len(c.Deals.TierPcts); i++ {
		if c.Deals.TierPcts[i] <= c.Deals.TierPcts[i-1] {
			return fmt.Errorf("deals.tier_pcts must be strictly increasing")
		}
	}
	if c.Bot.MaxPosts <= 0 {
		return fmt.Errorf("bot.max_posts must be greater than zero")
	}
	if c.Bot.Enabled {
		if c.Bot.Telegram.BotToken == "" {
			return fmt.Errorf("bot.telegram.bot_token is required when bot is enabled")
		}
		if c.Bot.Telegram.ChatID == "" {
			return fmt.Errorf("bot.telegram.chat_id is required when bot is enabled")
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

// IgnoredBrand reports whether a brand is in the configured ignore set.
// Matching is case-insensitive.
func (c *Config) IgnoredBrand(brand string) bool {
	for _, b := range c.Bot.IgnoreBrands {
		if strings.EqualFold(b, brand) {
			return true
		}
	}
	return false
}
