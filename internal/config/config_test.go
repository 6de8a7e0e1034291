package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
crawler:
  start_url: https://shop.test/catalogue/page-1.html
  base_url: https://shop.test/
  user_agent: shop-bot
  concurrency: 6
  request_delay_seconds: 0.5
  timeout_seconds: 45
  max_retries: 5
db:
  dsn: postgres://u:p@db:5432/catalog
broker:
  url: redis://broker:6379/1
  result_backend_url: redis://broker:6379/2
  result_ttl_seconds: 600
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("server.port = %d; want 9090", cfg.Server.Port)
	}
	if cfg.Crawler.StartURL != "https://shop.test/catalogue/page-1.html" {
		t.Errorf("crawler.start_url = %q", cfg.Crawler.StartURL)
	}
	if cfg.Crawler.Concurrency != 6 {
		t.Errorf("crawler.concurrency = %d; want 6", cfg.Crawler.Concurrency)
	}
	if cfg.Crawler.MaxRetries != 5 {
		t.Errorf("crawler.max_retries = %d; want 5", cfg.Crawler.MaxRetries)
	}
	if cfg.DB.DSN != "postgres://u:p@db:5432/catalog" {
		t.Errorf("db.dsn = %q", cfg.DB.DSN)
	}
	if cfg.Broker.ResultBackendURL != "redis://broker:6379/2" {
		t.Errorf("broker.result_backend_url = %q", cfg.Broker.ResultBackendURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q; want debug", cfg.Logging.Level)
	}
	if got := cfg.RequestDelay(); got != 500*time.Millisecond {
		t.Errorf("RequestDelay() = %v; want 500ms", got)
	}
	if got := cfg.RequestTimeout(); got != 45*time.Second {
		t.Errorf("RequestTimeout() = %v; want 45s", got)
	}
	if got := cfg.ResultTTL(); got != 10*time.Minute {
		t.Errorf("ResultTTL() = %v; want 10m", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d; want 8080", cfg.Server.Port)
	}
	if cfg.Crawler.Concurrency != 4 {
		t.Errorf("crawler.concurrency = %d; want 4", cfg.Crawler.Concurrency)
	}
	if cfg.Crawler.MaxRetries != 3 {
		t.Errorf("crawler.max_retries = %d; want 3", cfg.Crawler.MaxRetries)
	}
	if cfg.Broker.URL != "redis://localhost:6379/0" {
		t.Errorf("broker.url = %q", cfg.Broker.URL)
	}
	if got := cfg.RequestDelay(); got != time.Second {
		t.Errorf("RequestDelay() = %v; want 1s", got)
	}
	if cfg.Crawler.RateLimitRPS != 2.0 {
		t.Errorf("crawler.rate_limit_rps = %v; want 2.0", cfg.Crawler.RateLimitRPS)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CRAWLER_CRAWLER_USER_AGENT", "env-bot")
	t.Setenv("CRAWLER_BROKER_URL", "redis://env:6379/0")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawler.UserAgent != "env-bot" {
		t.Errorf("crawler.user_agent = %q; want env-bot", cfg.Crawler.UserAgent)
	}
	if cfg.Broker.URL != "redis://env:6379/0" {
		t.Errorf("broker.url = %q; want redis://env:6379/0", cfg.Broker.URL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			Server: ServerConfig{Port: 8080},
			Crawler: CrawlerConfig{
				StartURL:       "https://shop.test/",
				Concurrency:    4,
				TimeoutSeconds: 30,
			},
			DB:     DBConfig{DSN: "postgres://localhost/x"},
			Broker: BrokerConfig{URL: "redis://localhost:6379/0"},
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"empty start url", func(c *Config) { c.Crawler.StartURL = "" }, "start_url"},
		{"zero concurrency", func(c *Config) { c.Crawler.Concurrency = 0 }, "concurrency"},
		{"negative delay", func(c *Config) { c.Crawler.RequestDelaySeconds = -1 }, "request_delay_seconds"},
		{"negative rate limit", func(c *Config) { c.Crawler.RateLimitRPS = -1 }, "rate_limit_rps"},
		{"zero timeout", func(c *Config) { c.Crawler.TimeoutSeconds = 0 }, "timeout_seconds"},
		{"negative retries", func(c *Config) { c.Crawler.MaxRetries = -1 }, "max_retries"},
		{"empty dsn", func(c *Config) { c.DB.DSN = "" }, "db.dsn"},
		{"empty broker url", func(c *Config) { c.Broker.URL = "" }, "broker.url"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil; want error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() = %v; want mention of %q", err, tc.wantErr)
			}
		})
	}
}
