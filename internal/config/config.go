// Package config loads and validates lead finder configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/lead-finder/internal/campaign"
	"github.com/JakeFAU/lead-finder/internal/lead"
	"github.com/JakeFAU/lead-finder/internal/pipeline"
	"github.com/JakeFAU/lead-finder/internal/source"
)

// EnvPrefix prefixes every environment override, e.g. LEADFINDER_SMTP_PASSWORD.
const EnvPrefix = "LEADFINDER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig        `mapstructure:"server"`
	Auth     AuthConfig          `mapstructure:"auth"`
	Logging  LoggingConfig       `mapstructure:"logging"`
	Fetcher  FetcherConfig       `mapstructure:"fetcher"`
	Headless HeadlessConfig      `mapstructure:"headless"`
	Sources  SourcesConfig       `mapstructure:"sources"`
	Pipeline PipelineConfig      `mapstructure:"pipeline"`
	Email    EmailConfig         `mapstructure:"email"`
	Campaign CampaignConfig      `mapstructure:"campaign"`
	SMTP     campaign.SMTPConfig `mapstructure:"smtp"`
	Database DatabaseConfig      `mapstructure:"database"`
	Storage  StorageConfig       `mapstructure:"storage"`
	PubSub   PubSubConfig        `mapstructure:"pubsub"`
	Markets  pipeline.Markets    `mapstructure:"markets"`
	Keywords map[string][]string `mapstructure:"keywords"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FetcherConfig configures page fetching, retries and politeness.
type FetcherConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	MinDomainDelay    time.Duration `mapstructure:"min_domain_delay"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BackoffInitial    time.Duration `mapstructure:"backoff_initial"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the chromedp backend.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	// Sources lists the adapters whose listing pages need a browser.
	Sources []string `mapstructure:"sources"`
	// AutoPromote refetches client-rendered pages of the other sources in the browser.
	AutoPromote    bool `mapstructure:"auto_promote"`
	PromoteMinText int  `mapstructure:"promote_min_text"`
}

// SourcesConfig selects and tunes the source adapters.
type SourcesConfig struct {
	Enabled   []string        `mapstructure:"enabled"`
	Search    SearchConfig    `mapstructure:"search"`
	Europages DirectoryConfig `mapstructure:"europages"`
	Kompass   DirectoryConfig `mapstructure:"kompass"`
}

// SearchConfig tunes the search engine adapter.
type SearchConfig struct {
	MaxResults  int    `mapstructure:"max_results"`
	BaseURL     string `mapstructure:"base_url"`
	FallbackURL string `mapstructure:"fallback_url"`
}

// DirectoryConfig tunes a directory adapter. An empty BaseURL keeps the built-in layout.
type DirectoryConfig struct {
	MaxPages int    `mapstructure:"max_pages"`
	BaseURL  string `mapstructure:"base_url"`
}

// PipelineConfig controls batches.
type PipelineConfig struct {
	Concurrency  int    `mapstructure:"concurrency"`
	Enrich       bool   `mapstructure:"enrich"`
	MergePolicy  string `mapstructure:"merge_policy"`
	ArchivePages bool   `mapstructure:"archive_pages"`
}

// EmailConfig controls extraction, validation and the contact-page crawl.
type EmailConfig struct {
	IgnoreDomains    []string      `mapstructure:"ignore_domains"`
	SkipRoleAccounts bool          `mapstructure:"skip_role_accounts"`
	LookupTimeout    time.Duration `mapstructure:"lookup_timeout"`
	LookupRetries    int           `mapstructure:"lookup_retries"`
	ContactPaths     []string      `mapstructure:"contact_paths"`
	PatternGuesses   int           `mapstructure:"pattern_guesses"`
}

// CampaignConfig controls outreach.
type CampaignConfig struct {
	DailyCap         int               `mapstructure:"daily_cap"`
	MinDelay         time.Duration     `mapstructure:"min_delay"`
	DryRun           bool              `mapstructure:"dry_run"`
	Timezone         string            `mapstructure:"timezone"`
	TemplatesFile    string            `mapstructure:"templates_file"`
	CountryLanguages map[string]string `mapstructure:"country_languages"`
	Sender           campaign.Sender   `mapstructure:"sender"`
}

// Location resolves Timezone. Empty means UTC.
func (c CampaignConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("campaign.timezone: %w", err)
	}
	return loc, nil
}

// DatabaseConfig selects the lead repository backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// StorageConfig selects the page archive backend.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem archive.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for lead event notifications. An empty
// ProjectID keeps events in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether events go to Cloud Pub/Sub.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.TopicName != ""
}

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
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
	// Viper lowercases map keys read from files; the built-ins keep their casing.
	if len(cfg.Markets) == 0 {
		cfg.Markets = DefaultMarkets()
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = DefaultKeywords()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")

	v.SetDefault("fetcher.timeout", 30*time.Second)
	v.SetDefault("fetcher.user_agent", "Mozilla/5.0 (compatible; lead-finder/0.1)")
	v.SetDefault("fetcher.min_domain_delay", 2*time.Second)
	v.SetDefault("fetcher.max_retries", 3)
	v.SetDefault("fetcher.backoff_initial", 500*time.Millisecond)
	v.SetDefault("fetcher.backoff_multiplier", 2.0)
	v.SetDefault("fetcher.backoff_max", 10*time.Second)
	v.SetDefault("fetcher.respect_robots", true)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout", 45*time.Second)
	v.SetDefault("headless.sources", []string{"kompass"})
	v.SetDefault("headless.auto_promote", false)
	v.SetDefault("headless.promote_min_text", 512)

	v.SetDefault("sources.enabled", []string{"search", "europages", "kompass"})
	v.SetDefault("sources.search.max_results", 30)
	v.SetDefault("sources.europages.max_pages", 3)
	v.SetDefault("sources.kompass.max_pages", 2)

	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.enrich", true)
	v.SetDefault("pipeline.merge_policy", string(lead.MergeFirstWriter))
	v.SetDefault("pipeline.archive_pages", false)

	v.SetDefault("email.skip_role_accounts", true)
	v.SetDefault("email.lookup_timeout", 5*time.Second)
	v.SetDefault("email.lookup_retries", 1)
	v.SetDefault("email.pattern_guesses", 3)

	v.SetDefault("campaign.daily_cap", 50)
	v.SetDefault("campaign.min_delay", 30*time.Second)
	v.SetDefault("campaign.dry_run", true)
	v.SetDefault("campaign.timezone", "UTC")
	v.SetDefault("campaign.sender.company", "Your Textile Company")
	v.SetDefault("campaign.sender.monthly_capacity", "200,000 pieces")
	v.SetDefault("campaign.sender.specializations", []string{"T-shirts", "Polo shirts", "Hoodies", "Sportswear", "Casual wear"})
	v.SetDefault("campaign.sender.certifications", []string{"ISO 9001", "OEKO-TEX", "GOTS"})

	// Keys without a real default are registered so env overrides reach Unmarshal.
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from_address", "")
	v.SetDefault("smtp.from_name", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("pubsub.project_id", "")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "leads.db")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", time.Hour)

	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.local.base_dir", "data/pages")

	v.SetDefault("pubsub.topic_name", "lead-events")
}

// DefaultMarkets lists the built-in target markets: market → country → cities.
func DefaultMarkets() pipeline.Markets {
	return pipeline.Markets{
		"europe": {
			"Germany":     {"Berlin", "Hamburg", "Munich", "Frankfurt", "Düsseldorf"},
			"UK":          {"London", "Manchester", "Birmingham", "Leeds"},
			"France":      {"Paris", "Lyon", "Marseille"},
			"Italy":       {"Milan", "Rome", "Florence"},
			"Spain":       {"Madrid", "Barcelona", "Valencia"},
			"Netherlands": {"Amsterdam", "Rotterdam"},
			"Poland":      {"Warsaw", "Krakow"},
		},
		"middle_east": {
			"UAE":          {"Dubai", "Abu Dhabi"},
			"Saudi Arabia": {"Riyadh", "Jeddah"},
			"Qatar":        {"Doha"},
			"Kuwait":       {"Kuwait City"},
		},
		"usa": {
			"USA": {"New York", "Los Angeles", "Chicago", "Miami", "Dallas"},
		},
		"turkey": {
			"Turkey": {"Istanbul", "Ankara", "Izmir", "Bursa", "Gaziantep"},
		},
	}
}

// DefaultKeywords lists the built-in search keywords per language.
func DefaultKeywords() map[string][]string {
	return map[string][]string{
		"en": {
			"textile importer",
			"clothing wholesaler",
			"garment buyer",
			"fashion brand manufacturer",
			"apparel sourcing",
			"textile procurement",
			"fabric importer",
			"private label clothing",
			"OEM garment manufacturer",
			"textile trading company",
		},
		"de": {"textil importeur", "bekleidung großhandel", "mode einkäufer", "textil beschaffung"},
		"fr": {"importateur textile", "grossiste vêtements", "acheteur mode"},
		"ar": {"مستورد ملابس", "تجارة المنسوجات"},
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher.timeout must be > 0")
	}
	if c.Fetcher.MaxRetries < 0 {
		return fmt.Errorf("fetcher.max_retries must be >= 0")
	}
	if c.Fetcher.MinDomainDelay < 0 {
		return fmt.Errorf("fetcher.min_domain_delay must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	for _, name := range append(append([]string{}, c.Sources.Enabled...), c.Headless.Sources...) {
		if _, err := source.ParseSource(name); err != nil {
			return fmt.Errorf("sources: %w", err)
		}
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if _, err := lead.ParseMergePolicy(c.Pipeline.MergePolicy); err != nil {
		return fmt.Errorf("pipeline.merge_policy: %w", err)
	}
	if c.Email.LookupTimeout <= 0 {
		return fmt.Errorf("email.lookup_timeout must be > 0")
	}
	if c.Email.LookupRetries < 1 {
		return fmt.Errorf("email.lookup_retries must be >= 1")
	}
	if c.Campaign.DailyCap < 0 {
		return fmt.Errorf("campaign.daily_cap must be >= 0")
	}
	if c.Campaign.MinDelay < 0 {
		return fmt.Errorf("campaign.min_delay must be >= 0")
	}
	if _, err := c.Campaign.Location(); err != nil {
		return err
	}
	if !c.Campaign.DryRun && c.SMTP.Host == "" {
		return fmt.Errorf("smtp.host must be set unless campaign.dry_run is enabled")
	}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is")
	}
	return nil
}
