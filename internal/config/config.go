// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. VMP_SOURCE_API_KEY.
const EnvPrefix = "VMP"

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36"

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Export    ExportConfig    `mapstructure:"export"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// SourceConfig points at the retailer's site and catalog API.
type SourceConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	APIBaseURL   string `mapstructure:"api_base_url"`
	UserAgent    string `mapstructure:"user_agent"`
	APIKey       string `mapstructure:"api_key"`
	MinProductID int64  `mapstructure:"min_product_id"`
}

// CrawlerConfig governs the worker pool and fetch behaviour.
type CrawlerConfig struct {
	Workers         int           `mapstructure:"workers"`
	Delay           time.Duration `mapstructure:"delay"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BackoffInitial  time.Duration `mapstructure:"backoff_initial"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	CheckpointEvery int           `mapstructure:"checkpoint_every"`
	RespectRobots   bool          `mapstructure:"respect_robots"`
}

// StoreConfig locates the JSON record store and controls write retries.
type StoreConfig struct {
	Path             string        `mapstructure:"path"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	MaxWriteAttempts int           `mapstructure:"max_write_attempts"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig enables the status server when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig enables the Postgres mirror when DSN is set.
type DatabaseConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// ExportConfig uploads the store to GCS after every completed run when
// GCSBucket is set, and announces the upload on Pub/Sub when PubSubTopic is set.
type ExportConfig struct {
	GCSBucket     string `mapstructure:"gcs_bucket"`
	Prefix        string `mapstructure:"prefix"`
	PubSubProject string `mapstructure:"pubsub_project"`
	PubSubTopic   string `mapstructure:"pubsub_topic"`
}

// TelemetryConfig enables Cloud Trace export when GCPProjectID is set.
type TelemetryConfig struct {
	GCPProjectID string  `mapstructure:"gcp_project_id"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// MaxWorkers bounds crawler.workers.
const MaxWorkers = 64

// Load builds a Config from a .env file, disk and environment. A missing
// .env file is ignored.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.base_url", "https://www.vinmonopolet.no")
	v.SetDefault("source.api_base_url", "https://apis.vinmonopolet.no")
	v.SetDefault("source.user_agent", defaultUserAgent)
	// Bound so AutomaticEnv picks up VMP_SOURCE_API_KEY during Unmarshal.
	v.SetDefault("source.api_key", "")
	v.SetDefault("source.min_product_id", 1000)
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.delay", 75*time.Millisecond)
	v.SetDefault("crawler.request_timeout", 15*time.Second)
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("crawler.backoff_initial", 250*time.Millisecond)
	v.SetDefault("crawler.backoff_max", 5*time.Second)
	v.SetDefault("crawler.checkpoint_every", 1)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("store.path", "vinmonopol_products.json")
	v.SetDefault("store.retry_delay", 10*time.Second)
	v.SetDefault("store.max_write_attempts", 5)
	v.SetDefault("logging.development", true)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "products")
	v.SetDefault("export.gcs_bucket", "")
	v.SetDefault("export.prefix", "vinmonopol")
	v.SetDefault("export.pubsub_project", "")
	v.SetDefault("export.pubsub_topic", "")
	v.SetDefault("telemetry.gcp_project_id", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validateURL("source.base_url", c.Source.BaseURL); err != nil {
		return err
	}
	if err := validateURL("source.api_base_url", c.Source.APIBaseURL); err != nil {
		return err
	}
	if strings.TrimSpace(c.Source.APIKey) == "" {
		return fmt.Errorf("source.api_key must be set (env %s_SOURCE_API_KEY)", EnvPrefix)
	}
	if c.Crawler.Workers < 1 || c.Crawler.Workers > MaxWorkers {
		return fmt.Errorf("crawler.workers must be between 1 and %d", MaxWorkers)
	}
	if c.Crawler.Delay <= 0 {
		return fmt.Errorf("crawler.delay must be > 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.MaxAttempts < 1 {
		return fmt.Errorf("crawler.max_attempts must be >= 1")
	}
	if c.Crawler.CheckpointEvery < 1 {
		return fmt.Errorf("crawler.checkpoint_every must be >= 1")
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path must be set")
	}
	if c.Store.RetryDelay < 0 {
		return fmt.Errorf("store.retry_delay must be >= 0")
	}
	if c.Store.MaxWriteAttempts < 1 {
		return fmt.Errorf("store.max_write_attempts must be >= 1")
	}
	if c.Database.DSN != "" && strings.TrimSpace(c.Database.Table) == "" {
		return fmt.Errorf("database.table must be set when database.dsn is set")
	}
	if c.Export.PubSubTopic != "" {
		if c.Export.GCSBucket == "" {
			return fmt.Errorf("export.pubsub_topic requires export.gcs_bucket")
		}
		if c.Export.PubSubProject == "" {
			return fmt.Errorf("export.pubsub_project must be set when export.pubsub_topic is set")
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	return nil
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
	}
	return nil
}
