package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"

	DefaultPath    = "config.yaml"
	GeneratedPath  = "config.gen.yaml"
	localTimezone  = "Local"
	defaultListen  = ":5000"
	defaultFeedDir = "./wal/snapshots"
)

// Config typed service configuration.
type Config struct {
	Listen              string
	Timezone            string
	Location            *time.Location
	APIKey              string
	DivergenceThreshold decimal.Decimal
	Store               StoreConfig
	Feed                FeedConfig
	Webhook             WebhookConfig
	TLS                 TLSConfig
	Log                 LogConfig
}

type StoreConfig struct {
	Driver         string
	Path           string
	DSN            string
	ConnectTimeout time.Duration
	MaxOpenConns   int
	IdleTimeout    time.Duration
	ConnectRetries int
}

type FeedConfig struct {
	// Dir of the account feed WAL. Empty disables the feed.
	Dir string
}

type WebhookConfig struct {
	Rate  float64
	Burst int
}

type TLSConfig struct {
	Domains  []string
	CacheDir string
}

// Enabled reports whether autocert TLS is configured.
func (c TLSConfig) Enabled() bool { return len(c.Domains) > 0 }

type LogConfig struct {
	Level       string
	Development bool
}

// ConfigTmp mirrors the YAML file. Decimals stay strings until parsed.
type ConfigTmp struct {
	Listen                 string     `yaml:"listen,omitempty"`
	Timezone               string     `yaml:"timezone,omitempty"`
	APIKey                 string     `yaml:"api_key,omitempty"`
	DivergenceThresholdStr string     `yaml:"divergence_threshold,omitempty"`
	Store                  StoreTmp   `yaml:"store,omitempty"`
	Feed                   *FeedTmp   `yaml:"feed,omitempty"`
	Webhook                WebhookTmp `yaml:"webhook,omitempty"`
	TLS                    TLSTmp     `yaml:"tls,omitempty"`
	Log                    LogTmp     `yaml:"log,omitempty"`
}

type StoreTmp struct {
	Driver         string        `yaml:"driver,omitempty"`
	Path           string        `yaml:"path,omitempty"`
	DSN            string        `yaml:"dsn,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
	MaxOpenConns   int           `yaml:"max_open_conns,omitempty"`
	IdleTimeout    time.Duration `yaml:"idle_timeout,omitempty"`
	ConnectRetries *int          `yaml:"connect_retries,omitempty"`
}

type FeedTmp struct {
	Dir string `yaml:"dir"`
}

type WebhookTmp struct {
	RateStr string `yaml:"rate,omitempty"`
	Burst   int    `yaml:"burst,omitempty"`
}

type TLSTmp struct {
	Domains  []string `yaml:"domains,omitempty"`
	CacheDir string   `yaml:"cache_dir,omitempty"`
}

type LogTmp struct {
	Level       string `yaml:"level,omitempty"`
	Development bool   `yaml:"development,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Listen:              defaultListen,
		Timezone:            localTimezone,
		Location:            time.Local,
		DivergenceThreshold: decimal.NewFromInt(1),
		Store: StoreConfig{
			Driver:         DriverMemory,
			ConnectTimeout: 5 * time.Second,
			MaxOpenConns:   10,
			IdleTimeout:    30 * time.Second,
			ConnectRetries: 3,
		},
		Feed:    FeedConfig{Dir: defaultFeedDir},
		Webhook: WebhookConfig{Rate: 5, Burst: 20},
		TLS:     TLSConfig{CacheDir: "cert-cache"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path, applies .env and environment overrides
// and validates the result. A missing file yields defaults.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = DefaultPath
	}

	var tmp ConfigTmp
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &tmp); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&tmp)

	cfg, err := fromTmp(tmp)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes tmp as YAML to path.
func Save(path string, tmp ConfigTmp) error {
	data, err := yaml.Marshal(tmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func applyEnv(tmp *ConfigTmp) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		tmp.Store.DSN = dsn
		tmp.Store.Driver = DriverPostgres
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		tmp.Listen = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		tmp.APIKey = v
	}
	if v := os.Getenv("TZ_NAME"); v != "" {
		tmp.Timezone = v
	}
}

func fromTmp(c ConfigTmp) (Config, error) {
	cfg := Default()

	if c.Listen != "" {
		cfg.Listen = c.Listen
	}
	if c.Timezone != "" {
		cfg.Timezone = c.Timezone
	}
	cfg.APIKey = c.APIKey

	if c.DivergenceThresholdStr != "" {
		d, err := decimal.NewFromString(c.DivergenceThresholdStr)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'divergence_threshold' param in yaml config (must be a decimal), error: %w", err)
		}
		cfg.DivergenceThreshold = d
	}

	if c.Store.Driver != "" {
		cfg.Store.Driver = strings.ToLower(c.Store.Driver)
	}
	cfg.Store.Path = c.Store.Path
	cfg.Store.DSN = c.Store.DSN
	if c.Store.ConnectTimeout != 0 {
		cfg.Store.ConnectTimeout = c.Store.ConnectTimeout
	}
	if c.Store.MaxOpenConns != 0 {
		cfg.Store.MaxOpenConns = c.Store.MaxOpenConns
	}
	if c.Store.IdleTimeout != 0 {
		cfg.Store.IdleTimeout = c.Store.IdleTimeout
	}
	if c.Store.ConnectRetries != nil {
		cfg.Store.ConnectRetries = *c.Store.ConnectRetries
	}

	if c.Feed != nil {
		cfg.Feed.Dir = c.Feed.Dir
	}

	if c.Webhook.RateStr != "" {
		rate, err := strconv.ParseFloat(c.Webhook.RateStr, 64)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'webhook.rate' param in yaml config (must be a number), error: %w", err)
		}
		cfg.Webhook.Rate = rate
	}
	if c.Webhook.Burst != 0 {
		cfg.Webhook.Burst = c.Webhook.Burst
	}

	cfg.TLS.Domains = c.TLS.Domains
	if c.TLS.CacheDir != "" {
		cfg.TLS.CacheDir = c.TLS.CacheDir
	}

	if c.Log.Level != "" {
		cfg.Log.Level = strings.ToLower(c.Log.Level)
	}
	cfg.Log.Development = c.Log.Development

	loc, err := resolveLocation(cfg.Timezone)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'timezone' param in yaml config: %s, error: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	return cfg, nil
}

// resolveLocation maps "Local" to the TZ environment variable, else UTC.
func resolveLocation(name string) (*time.Location, error) {
	if name == "" || name == localTimezone {
		if tz := os.Getenv("TZ"); tz != "" {
			return time.LoadLocation(tz)
		}
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q (expected %s or %s)", c.Store.Driver, DriverMemory, DriverPostgres)
	}

	if c.DivergenceThreshold.IsNegative() {
		return fmt.Errorf("divergence_threshold must not be negative")
	}
	if c.Store.MaxOpenConns <= 0 {
		return fmt.Errorf("store.max_open_conns must be positive")
	}
	if c.Store.ConnectTimeout <= 0 {
		return fmt.Errorf("store.connect_timeout must be positive")
	}
	if c.Store.ConnectRetries < 0 {
		return fmt.Errorf("store.connect_retries must not be negative")
	}
	if c.Webhook.Rate <= 0 || c.Webhook.Burst <= 0 {
		return fmt.Errorf("webhook.rate and webhook.burst must be positive")
	}
	if c.Location == nil {
		return fmt.Errorf("timezone is not resolved")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log.level %q", c.Log.Level)
	}
	return nil
}
