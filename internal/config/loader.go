package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/ledgersync/internal/domain"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "ledgersync.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w: %w", domain.ErrConfig, err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config. The unprefixed
// names used by GitHub Actions are read first so LEDGERSYNC_* wins.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "LEDGERSYNC_PORT")
	setDuration(&cfg.Server.ShutdownTimeout, "LEDGERSYNC_SHUTDOWN_TIMEOUT")
	setString(&cfg.Server.APIToken, "LEDGERSYNC_API_TOKEN")
	setFloat64(&cfg.Server.RateLimit, "LEDGERSYNC_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "LEDGERSYNC_RATE_BURST")
	setString(&cfg.Logging.Level, "LEDGERSYNC_LOG_LEVEL")
	setString(&cfg.Logging.Service, "LEDGERSYNC_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "LEDGERSYNC_LOG_ASYNC")

	// Source
	setString(&cfg.GitHub.Token, "GITHUB_TOKEN")
	setString(&cfg.GitHub.Token, "LEDGERSYNC_GITHUB_TOKEN")
	setString(&cfg.GitHub.APIURL, "GITHUB_API_URL")
	setString(&cfg.GitHub.APIURL, "LEDGERSYNC_GITHUB_API_URL")
	setString(&cfg.GitHub.GraphQLURL, "GITHUB_GRAPHQL_URL")
	setString(&cfg.GitHub.GraphQLURL, "LEDGERSYNC_GITHUB_GRAPHQL_URL")

	// Ledger
	setString(&cfg.Notion.Token, "NOTION_TOKEN")
	setString(&cfg.Notion.Token, "LEDGERSYNC_NOTION_TOKEN")
	setString(&cfg.Notion.DatabaseID, "NOTION_DATABASE")
	setString(&cfg.Notion.DatabaseID, "LEDGERSYNC_NOTION_DATABASE")
	setString(&cfg.Notion.APIURL, "LEDGERSYNC_NOTION_API_URL")
	setString(&cfg.Notion.Version, "LEDGERSYNC_NOTION_VERSION")

	// Sync
	setInt(&cfg.Sync.MaxConcurrent, "LEDGERSYNC_SYNC_MAX_CONCURRENT")
	setDuration(&cfg.Sync.RequestTimeout, "LEDGERSYNC_SYNC_REQUEST_TIMEOUT")
	setDuration(&cfg.Sync.PassTimeout, "LEDGERSYNC_SYNC_PASS_TIMEOUT")
	setInt(&cfg.Sync.PageSize, "LEDGERSYNC_SYNC_PAGE_SIZE")
	setUint64(&cfg.Sync.MaxRetries, "LEDGERSYNC_SYNC_MAX_RETRIES")
	setDuration(&cfg.Sync.RetryBase, "LEDGERSYNC_SYNC_RETRY_BASE")

	setInt(&cfg.Breaker.MaxFailures, "LEDGERSYNC_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "LEDGERSYNC_BREAKER_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "LEDGERSYNC_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.ProjectTTL, "LEDGERSYNC_CACHE_PROJECT_TTL")
	setString(&cfg.Cache.KVBucket, "LEDGERSYNC_CACHE_KV_BUCKET")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.Webhook.GitHubSecret, "LEDGERSYNC_WEBHOOK_GITHUB_SECRET")
	setDuration(&cfg.Webhook.DedupeTTL, "LEDGERSYNC_WEBHOOK_DEDUPE_TTL")

	setString(&cfg.Notify.SlackWebhookURL, "LEDGERSYNC_NOTIFY_SLACK_WEBHOOK_URL")
	setString(&cfg.Notify.DiscordWebhookURL, "LEDGERSYNC_NOTIFY_DISCORD_WEBHOOK_URL")

	// OpenTelemetry
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "LEDGERSYNC_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "LEDGERSYNC_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set and tuning values are sane.
// Every error wraps domain.ErrConfig.
func validate(cfg *Config) error {
	switch {
	case cfg.Notion.DatabaseID == "":
		return configError("notion.database_id is required")
	case cfg.Server.Port == "":
		return configError("server.port is required")
	case cfg.Sync.MaxConcurrent < 1:
		return configError("sync.max_concurrent must be >= 1")
	case cfg.Sync.PageSize < 1 || cfg.Sync.PageSize > 100:
		return configError("sync.page_size must be between 1 and 100")
	case cfg.Sync.RequestTimeout <= 0:
		return configError("sync.request_timeout must be positive")
	case cfg.Server.RateLimit <= 0 || cfg.Server.RateBurst < 1:
		return configError("server.rate_limit and server.rate_burst must be positive")
	case cfg.Breaker.MaxFailures < 1:
		return configError("breaker.max_failures must be >= 1")
	case cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1:
		return configError("otel.sample_rate must be between 0 and 1")
	}
	return nil
}

func configError(msg string) error {
	return fmt.Errorf("%w: %s", domain.ErrConfig, msg)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
