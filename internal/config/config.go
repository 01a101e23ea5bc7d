package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone       = "UTC"
	defaultUnmatchedLimit = 50
	defaultPendingLimit   = 100
	defaultFeedTimeout    = 20 * time.Second

	configPathEnv      = "FEED_NOTIFIER_CONFIG"
	databaseDriverEnv  = "DATABASE_DRIVER"
	databaseDSNEnv     = "DATABASE_DSN"
	feedURLEnv         = "FEED_URL"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramAPIURLEnv  = "TELEGRAM_API_URL"
	httpAddrEnv        = "HTTP_ADDR"
	logLevelEnv        = "LOG_LEVEL"
	browserUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	defaultFeedURL     = "https://example.org/feed/rss"
	defaultFeedReferer = "https://example.org/"
)

// Config holds high-level settings required across the application.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Feed      FeedConfig      `yaml:"feed"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Batch     BatchConfig     `yaml:"batch"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig selects the SQL driver and its connection string.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// FeedConfig describes the single upstream RSS source.
type FeedConfig struct {
	URL       string        `yaml:"url"`
	UserAgent string        `yaml:"userAgent"`
	Referer   string        `yaml:"referer"`
	Timeout   time.Duration `yaml:"timeout"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken      string `yaml:"botToken"`
	APIURL        string `yaml:"apiUrl"`
	RatePerSecond int    `yaml:"ratePerSecond"`
	ParseMode     string `yaml:"parseMode"`
}

// SchedulerConfig defines when ingestion and dispatch run.
type SchedulerConfig struct {
	IngestCron   string         `yaml:"ingestCron"`
	DispatchCron string         `yaml:"dispatchCron"`
	Timezone     string         `yaml:"timezone"`
	location     *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// BatchConfig bounds the work done by a single run.
type BatchConfig struct {
	UnmatchedLimit int `yaml:"unmatchedLimit"`
	PendingLimit   int `yaml:"pendingLimit"`
}

// HTTPConfig configures the trigger surface.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig selects log verbosity and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	return LoadFile(os.Getenv(configPathEnv))
}

// LoadFile is Load with an explicit path; an empty path skips the file.
func LoadFile(path string) Config {
	cfg := defaultConfig()

	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()
	cfg.clampBatches()

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(feedURLEnv); v != "" {
		c.Feed.URL = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramAPIURLEnv); v != "" {
		c.Telegram.APIURL = v
	}

	if v := os.Getenv(httpAddrEnv); v != "" {
		c.HTTP.Addr = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func (c *Config) clampBatches() {
	if c.Batch.UnmatchedLimit <= 0 {
		c.Batch.UnmatchedLimit = defaultUnmatchedLimit
	}
	if c.Batch.PendingLimit <= 0 {
		c.Batch.PendingLimit = defaultPendingLimit
	}
	if c.Feed.Timeout <= 0 {
		c.Feed.Timeout = defaultFeedTimeout
	}
}

func mergeConfig(base, override Config) Config {
	if override.Database.Driver != "" {
		base.Database.Driver = override.Database.Driver
	}
	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}

	if override.Feed.URL != "" {
		base.Feed.URL = override.Feed.URL
	}
	if override.Feed.UserAgent != "" {
		base.Feed.UserAgent = override.Feed.UserAgent
	}
	if override.Feed.Referer != "" {
		base.Feed.Referer = override.Feed.Referer
	}
	if override.Feed.Timeout > 0 {
		base.Feed.Timeout = override.Feed.Timeout
	}

	if override.Telegram.BotToken != "" {
		base.Telegram.BotToken = override.Telegram.BotToken
	}
	if override.Telegram.APIURL != "" {
		base.Telegram.APIURL = override.Telegram.APIURL
	}
	if override.Telegram.RatePerSecond > 0 {
		base.Telegram.RatePerSecond = override.Telegram.RatePerSecond
	}
	if override.Telegram.ParseMode != "" {
		base.Telegram.ParseMode = override.Telegram.ParseMode
	}

	if override.Scheduler.IngestCron != "" {
		base.Scheduler.IngestCron = override.Scheduler.IngestCron
	}
	if override.Scheduler.DispatchCron != "" {
		base.Scheduler.DispatchCron = override.Scheduler.DispatchCron
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.Batch.UnmatchedLimit != 0 {
		base.Batch.UnmatchedLimit = override.Batch.UnmatchedLimit
	}
	if override.Batch.PendingLimit != 0 {
		base.Batch.PendingLimit = override.Batch.PendingLimit
	}

	if override.HTTP.Addr != "" {
		base.HTTP.Addr = override.HTTP.Addr
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: "data/feednotifier.db"},
		Feed: FeedConfig{
			URL:       defaultFeedURL,
			UserAgent: browserUserAgent,
			Referer:   defaultFeedReferer,
			Timeout:   defaultFeedTimeout,
		},
		Telegram: TelegramConfig{
			APIURL:        "https://api.telegram.org",
			RatePerSecond: 25,
			ParseMode:     "HTML",
		},
		Scheduler: SchedulerConfig{
			IngestCron:   "*/10 * * * *",
			DispatchCron: "*/2 * * * *",
			Timezone:     defaultTimezone,
			location:     tz,
		},
		Batch:   BatchConfig{UnmatchedLimit: defaultUnmatchedLimit, PendingLimit: defaultPendingLimit},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}
