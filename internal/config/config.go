// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Browser engines.
const (
	EngineHeadless = "headless"
	EngineStatic   = "static"
)

// Config captures all run configuration knobs loaded via Viper.
type Config struct {
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Browser BrowserConfig `mapstructure:"browser"`
	DB      DBConfig      `mapstructure:"db"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Output  OutputConfig  `mapstructure:"output"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlConfig governs seeding, the item budget, and the worker pool.
type CrawlConfig struct {
	Domains              []string      `mapstructure:"domains"`
	Categories           []string      `mapstructure:"categories"`
	MaxItems             int           `mapstructure:"max_items"`
	MaxConcurrency       int           `mapstructure:"max_concurrency"`
	CategoryLinkCap      int           `mapstructure:"category_link_cap"`
	MaxRetries           int           `mapstructure:"max_retries"`
	PolitenessMin        time.Duration `mapstructure:"politeness_min"`
	PolitenessMax        time.Duration `mapstructure:"politeness_max"`
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
	SettleTimeout        time.Duration `mapstructure:"settle_timeout"`
	DefaultCurrency      string        `mapstructure:"default_currency"`
	RunID                string        `mapstructure:"run_id"`
	BlockURLPatterns     []string      `mapstructure:"block_url_patterns"`
	BlockContentPatterns []string      `mapstructure:"block_content_patterns"`
}

// BrowserConfig configures the automation engine. ProxyURL is passed through untouched.
type BrowserConfig struct {
	Engine      string        `mapstructure:"engine"`
	UserAgent   string        `mapstructure:"user_agent"`
	ProxyURL    string        `mapstructure:"proxy_url"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	DomainRPS   float64       `mapstructure:"domain_rps"`
	DomainBurst int           `mapstructure:"domain_burst"`
	Headless    bool          `mapstructure:"headless"`
}

// DBConfig controls access to the relational store. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN                string        `mapstructure:"dsn"`
	MaxConns           int32         `mapstructure:"max_conns"`
	MinConns           int32         `mapstructure:"min_conns"`
	MaxConnLifetime    time.Duration `mapstructure:"max_conn_lifetime"`
	SellersTable       string        `mapstructure:"sellers_table"`
	ProductsTable      string        `mapstructure:"products_table"`
	ListingsTable      string        `mapstructure:"listings_table"`
	EnrichmentFunction string        `mapstructure:"enrichment_function"`
}

// QueueConfig selects the work journal. An empty path keeps it in memory.
type QueueConfig struct {
	JournalPath string `mapstructure:"journal_path"`
}

// OutputConfig controls where the run summary artifact is written.
type OutputConfig struct {
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for the summary notification.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the ops HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from .env, the environment, and an optional file.
func Load(path string) (Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides is Load with explicit values (typically CLI flags) that
// take precedence over every other source.
func LoadWithOverrides(path string, overrides map[string]any) (Config, error) {
	// A missing .env file is the normal case.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Crawl.Domains = normalizeDomains(cfg.Crawl.Domains)
	cfg.Crawl.Categories = compact(cfg.Crawl.Categories)
	if cfg.Browser.MaxParallel == 0 {
		cfg.Browser.MaxParallel = cfg.Crawl.MaxConcurrency
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.domains", []string{})
	v.SetDefault("crawl.categories", []string{})
	v.SetDefault("crawl.max_items", 1000)
	v.SetDefault("crawl.max_concurrency", 5)
	v.SetDefault("crawl.category_link_cap", 50)
	v.SetDefault("crawl.max_retries", 3)
	v.SetDefault("crawl.politeness_min", 800*time.Millisecond)
	v.SetDefault("crawl.politeness_max", 2200*time.Millisecond)
	v.SetDefault("crawl.fetch_timeout", 120*time.Second)
	v.SetDefault("crawl.settle_timeout", 10*time.Second)
	v.SetDefault("crawl.default_currency", "EUR")
	v.SetDefault("crawl.run_id", "")
	v.SetDefault("crawl.block_url_patterns", []string{})
	v.SetDefault("crawl.block_content_patterns", []string{})
	v.SetDefault("browser.engine", EngineHeadless)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.proxy_url", "")
	v.SetDefault("browser.max_parallel", 0)
	v.SetDefault("browser.nav_timeout", 30*time.Second)
	v.SetDefault("browser.domain_rps", 1.0)
	v.SetDefault("browser.domain_burst", 1)
	v.SetDefault("browser.headless", true)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 0)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", 0)
	v.SetDefault("db.sellers_table", "sellers")
	v.SetDefault("db.products_table", "products")
	v.SetDefault("db.listings_table", "listings")
	v.SetDefault("db.enrichment_function", "queue_seller_for_enrichment")
	v.SetDefault("queue.journal_path", "")
	v.SetDefault("output.dir", "")
	v.SetDefault("output.gcs_bucket", "")
	v.SetDefault("output.prefix", "runs")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.port", 0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Crawl.Domains) == 0 {
		return errors.New("crawl.domains must list at least one hostname")
	}
	for _, d := range c.Crawl.Domains {
		if strings.ContainsAny(d, "/?#: ") {
			return fmt.Errorf("crawl.domains entry %q is not a hostname", d)
		}
	}
	if c.Crawl.MaxItems <= 0 {
		return errors.New("crawl.max_items must be > 0")
	}
	if c.Crawl.MaxConcurrency <= 0 {
		return errors.New("crawl.max_concurrency must be > 0")
	}
	if c.Crawl.CategoryLinkCap <= 0 {
		return errors.New("crawl.category_link_cap must be > 0")
	}
	if c.Crawl.MaxRetries < 0 {
		return errors.New("crawl.max_retries must be >= 0")
	}
	if c.Crawl.PolitenessMin < 0 || c.Crawl.PolitenessMax < c.Crawl.PolitenessMin {
		return errors.New("crawl.politeness_min must be >= 0 and <= crawl.politeness_max")
	}
	if c.Crawl.FetchTimeout <= 0 {
		return errors.New("crawl.fetch_timeout must be > 0")
	}
	if c.Crawl.SettleTimeout <= 0 {
		return errors.New("crawl.settle_timeout must be > 0")
	}
	switch c.Browser.Engine {
	case EngineHeadless, EngineStatic:
	default:
		return fmt.Errorf("browser.engine must be %q or %q, got %q", EngineHeadless, EngineStatic, c.Browser.Engine)
	}
	if c.Browser.MaxParallel < 0 {
		return errors.New("browser.max_parallel must be >= 0")
	}
	if c.Browser.ProxyURL != "" {
		if _, err := url.Parse(c.Browser.ProxyURL); err != nil {
			return fmt.Errorf("browser.proxy_url is invalid: %w", err)
		}
	}
	if c.Output.Dir != "" && c.Output.GCSBucket != "" {
		return errors.New("output.dir and output.gcs_bucket are mutually exclusive")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return errors.New("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Server.Port < 0 {
		return errors.New("server.port must be >= 0")
	}
	return nil
}

// normalizeDomains lower-cases hostnames and strips a scheme and trailing slashes.
func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	seen := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, "https://")
		d = strings.TrimPrefix(d, "http://")
		d = strings.TrimRight(d, "/")
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
