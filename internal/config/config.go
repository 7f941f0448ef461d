// Package config provides hierarchical configuration loading for ledgersync.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the sync service and CLI.
type Config struct {
	Server  Server  `yaml:"server"`
	Logging Logging `yaml:"logging"`
	GitHub  GitHub  `yaml:"github"`
	Notion  Notion  `yaml:"notion"`
	Sync    Sync    `yaml:"sync"`
	Breaker Breaker `yaml:"breaker"`
	Cache   Cache   `yaml:"cache"`
	NATS    NATS    `yaml:"nats"`
	Webhook Webhook `yaml:"webhook"`
	Notify  Notify  `yaml:"notify"`
	OTEL    OTEL    `yaml:"otel"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	APIToken        string        `yaml:"api_token"`  // Bearer token for /api/v1; empty disables the check
	RateLimit       float64       `yaml:"rate_limit"` // /api/v1 requests per second per client
	RateBurst       int           `yaml:"rate_burst"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// GitHub holds issue source configuration.
type GitHub struct {
	Token      string `yaml:"token"`
	APIURL     string `yaml:"api_url"`
	GraphQLURL string `yaml:"graphql_url"`
}

// Notion holds ledger configuration. DatabaseID is required.
type Notion struct {
	Token      string `yaml:"token"`
	DatabaseID string `yaml:"database_id"`
	APIURL     string `yaml:"api_url"`
	Version    string `yaml:"version"`
}

// Sync holds reconciliation tuning.
type Sync struct {
	MaxConcurrent  int           `yaml:"max_concurrent"`  // In-flight ledger writes (default: 3)
	RequestTimeout time.Duration `yaml:"request_timeout"` // Per HTTP request (default: 30s)
	PassTimeout    time.Duration `yaml:"pass_timeout"`    // Whole reconciliation pass (default: 10m)
	PageSize       int           `yaml:"page_size"`       // Ledger and source page size, max 100
	MaxRetries     uint64        `yaml:"max_retries"`     // Retries on 429/5xx (default: 3)
	RetryBase      time.Duration `yaml:"retry_base"`      // First backoff step (default: 500ms)
}

// Breaker holds circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Cache holds the project linkage cache configuration.
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"`
	ProjectTTL  time.Duration `yaml:"project_ttl"`
	KVBucket    string        `yaml:"kv_bucket"` // shared NATS KV bucket, used when NATS is enabled
}

// NATS holds the trigger bus configuration. An empty URL disables it.
type NATS struct {
	URL string `yaml:"url"`
}

// Webhook holds webhook verification secrets.
type Webhook struct {
	GitHubSecret string        `yaml:"github_secret"`
	DedupeTTL    time.Duration `yaml:"dedupe_ttl"` // how long a delivery id is remembered
}

// Notify holds the chat webhooks that receive failed-pass alerts. Unset
// webhooks are skipped.
type Notify struct {
	SlackWebhookURL   string `yaml:"slack_webhook_url"`
	DiscordWebhookURL string `yaml:"discord_webhook_url"`
}

// OTEL holds OpenTelemetry exporter configuration. An empty endpoint keeps
// the global no-op providers.
type OTEL struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:            "8080",
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       2,
			RateBurst:       10,
		},
		Logging: Logging{
			Level:   "info",
			Service: "ledgersync",
		},
		GitHub: GitHub{
			APIURL:     "https://api.github.com",
			GraphQLURL: "https://api.github.com/graphql",
		},
		Notion: Notion{
			APIURL:  "https://api.notion.com",
			Version: "2022-06-28",
		},
		Sync: Sync{
			MaxConcurrent:  3,
			RequestTimeout: 30 * time.Second,
			PassTimeout:    10 * time.Minute,
			PageSize:       100,
			MaxRetries:     3,
			RetryBase:      500 * time.Millisecond,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Cache: Cache{
			L1MaxSizeMB: 16,
			ProjectTTL:  5 * time.Minute,
			KVBucket:    "ledgersync_projects",
		},
		Webhook: Webhook{
			DedupeTTL: time.Hour,
		},
		OTEL: OTEL{
			ServiceName: "ledgersync",
			Insecure:    true,
			SampleRate:  1.0,
		},
	}
}
