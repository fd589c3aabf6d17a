package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/lead-finder/internal/lead"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Database.DSN != "leads.db" {
		t.Fatalf("unexpected database defaults: %+v", cfg.Database)
	}
	if cfg.Campaign.DailyCap != 50 || !cfg.Campaign.DryRun {
		t.Fatalf("unexpected campaign defaults: %+v", cfg.Campaign)
	}
	if cfg.Pipeline.MergePolicy != string(lead.MergeFirstWriter) {
		t.Fatalf("expected first_writer merge policy, got %q", cfg.Pipeline.MergePolicy)
	}
	if cfg.Fetcher.MinDomainDelay != 2*time.Second || cfg.Fetcher.MaxRetries != 3 {
		t.Fatalf("unexpected fetcher defaults: %+v", cfg.Fetcher)
	}
	for _, market := range []string{"europe", "middle_east", "usa", "turkey"} {
		if len(cfg.Markets[market]) == 0 {
			t.Fatalf("expected built-in market %q", market)
		}
	}
	if got := cfg.Markets["europe"]["Germany"]; len(got) != 5 || got[0] != "Berlin" {
		t.Fatalf("unexpected Germany cities: %v", got)
	}
	for _, lang := range []string{"en", "de", "fr", "ar"} {
		if len(cfg.Keywords[lang]) == 0 {
			t.Fatalf("expected built-in keywords for %q", lang)
		}
	}
	if len(cfg.Campaign.Sender.Certifications) != 3 {
		t.Fatalf("expected default sender certifications, got %v", cfg.Campaign.Sender.Certifications)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
fetcher:
  timeout: 10s
  min_domain_delay: 3s
  max_retries: 1
  respect_robots: false
headless:
  enabled: true
  max_parallel: 1
  sources: [kompass, europages]
sources:
  enabled: [search, europages]
  europages:
    max_pages: 5
pipeline:
  concurrency: 8
  merge_policy: combine
  archive_pages: true
campaign:
  daily_cap: 20
  min_delay: 45s
  dry_run: false
  timezone: Europe/Istanbul
  sender:
    company: Yildiz Tekstil
    specializations: [Hoodies]
smtp:
  host: smtp.example.net
  from_address: export@yildiz.example
database:
  driver: postgres
  dsn: postgres://leads@localhost/leads
storage:
  backend: local
  local:
    base_dir: /var/lib/leadfinder/pages
keywords:
  en: [denim importer]
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected server and auth overrides: %+v %+v", cfg.Server, cfg.Auth)
	}
	if cfg.Fetcher.Timeout != 10*time.Second || cfg.Fetcher.MinDomainDelay != 3*time.Second || cfg.Fetcher.RespectRobots {
		t.Fatalf("expected fetcher overrides: %+v", cfg.Fetcher)
	}
	if len(cfg.Headless.Sources) != 2 || cfg.Sources.Europages.MaxPages != 5 {
		t.Fatalf("expected source overrides: %+v %+v", cfg.Headless, cfg.Sources)
	}
	if cfg.Pipeline.Concurrency != 8 || cfg.Pipeline.MergePolicy != "combine" || !cfg.Pipeline.ArchivePages {
		t.Fatalf("expected pipeline overrides: %+v", cfg.Pipeline)
	}
	if cfg.Campaign.DailyCap != 20 || cfg.Campaign.MinDelay != 45*time.Second || cfg.Campaign.DryRun {
		t.Fatalf("expected campaign overrides: %+v", cfg.Campaign)
	}
	if cfg.Campaign.Sender.Company != "Yildiz Tekstil" || len(cfg.Campaign.Sender.Specializations) != 1 {
		t.Fatalf("expected sender overrides: %+v", cfg.Campaign.Sender)
	}
	loc, err := cfg.Campaign.Location()
	if err != nil || loc.String() != "Europe/Istanbul" {
		t.Fatalf("expected Istanbul location, got %v (%v)", loc, err)
	}
	if cfg.Database.Driver != DriverPostgres || cfg.Storage.Local.BaseDir != "/var/lib/leadfinder/pages" {
		t.Fatalf("expected storage overrides: %+v %+v", cfg.Database, cfg.Storage)
	}
	if got := cfg.Keywords["en"]; len(got) != 1 || got[0] != "denim importer" {
		t.Fatalf("expected keyword override, got %v", got)
	}
	if len(cfg.Markets) != 4 {
		t.Fatalf("expected built-in markets when none configured, got %d", len(cfg.Markets))
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LEADFINDER_SMTP_PASSWORD", "hunter2")
	t.Setenv("LEADFINDER_CAMPAIGN_DAILY_CAP", "7")
	t.Setenv("LEADFINDER_DATABASE_DRIVER", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SMTP.Password != "hunter2" {
		t.Fatalf("expected smtp password from env, got %q", cfg.SMTP.Password)
	}
	if cfg.Campaign.DailyCap != 7 {
		t.Fatalf("expected daily cap 7, got %d", cfg.Campaign.DailyCap)
	}
	if cfg.Database.Driver != DriverMemory {
		t.Fatalf("expected memory driver, got %q", cfg.Database.Driver)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("LEADFINDER_SMTP_USERNAME=mailer\n"), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Setenv("LEADFINDER_SMTP_USERNAME", "")
	if err := os.Unsetenv("LEADFINDER_SMTP_USERNAME"); err != nil {
		t.Fatalf("unset: %v", err)
	}

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SMTP.Username != "mailer" {
		t.Fatalf("expected username from .env, got %q", cfg.SMTP.Username)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "invalid fetch timeout", mutate: func(c *Config) { c.Fetcher.Timeout = 0 }, want: "fetcher.timeout"},
		{name: "negative retries", mutate: func(c *Config) { c.Fetcher.MaxRetries = -1 }, want: "fetcher.max_retries"},
		{
			name:   "headless missing max parallel",
			mutate: func(c *Config) { c.Headless.Enabled, c.Headless.MaxParallel = true, 0 },
			want:   "headless.max_parallel",
		},
		{name: "unknown source", mutate: func(c *Config) { c.Sources.Enabled = []string{"yelp"} }, want: "unknown source"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Pipeline.Concurrency = 0 }, want: "pipeline.concurrency"},
		{name: "unknown merge policy", mutate: func(c *Config) { c.Pipeline.MergePolicy = "last_writer" }, want: "pipeline.merge_policy"},
		{name: "lookup retry disabled", mutate: func(c *Config) { c.Email.LookupRetries = 0 }, want: "email.lookup_retries"},
		{name: "negative cap", mutate: func(c *Config) { c.Campaign.DailyCap = -1 }, want: "campaign.daily_cap"},
		{name: "bad timezone", mutate: func(c *Config) { c.Campaign.Timezone = "Mars/Olympus" }, want: "campaign.timezone"},
		{name: "live sends without smtp", mutate: func(c *Config) { c.Campaign.DryRun = false }, want: "smtp.host"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, want: "database.driver"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Database.Driver, c.Database.DSN = DriverPostgres, "" }, want: "database.dsn"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = StorageGCS }, want: "storage.bucket"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "pubsub without topic", mutate: func(c *Config) { c.PubSub.ProjectID, c.PubSub.TopicName = "proj", "" }, want: "pubsub.topic_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
