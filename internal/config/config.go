// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend kinds.
const (
	DatastoreREST     = "rest"
	DatastorePostgres = "postgres"
	DatastoreMemory   = "memory"

	NotifierWebhook = "webhook"
	NotifierPubSub  = "pubsub"
	NotifierNone    = "none"

	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
	StorageMemory = "memory"
	StorageNone   = "none"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Datastore  DatastoreConfig  `mapstructure:"datastore"`
	Notifier   NotifierConfig   `mapstructure:"notifier"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Submission SubmissionConfig `mapstructure:"submission"`
	Polling    PollingConfig    `mapstructure:"polling"`
	Results    ResultsConfig    `mapstructure:"results"`
	Session    SessionConfig    `mapstructure:"session"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxWait         time.Duration `mapstructure:"max_wait"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RateLimitRPS caps write requests per client; zero disables the limit.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DatastoreConfig selects where feedback rows live.
type DatastoreConfig struct {
	Kind     string         `mapstructure:"kind"`
	REST     RESTConfig     `mapstructure:"rest"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RESTConfig points at a PostgREST compatible API.
type RESTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Table   string        `mapstructure:"table"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PostgresConfig controls direct database access.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	IDType          string        `mapstructure:"id_type"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// NotifierConfig selects how the analysis pipeline is triggered.
type NotifierConfig struct {
	Kind    string        `mapstructure:"kind"`
	Timeout time.Duration `mapstructure:"timeout"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
}

// WebhookConfig holds the trigger endpoint.
type WebhookConfig struct {
	URL string `mapstructure:"url"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// StorageConfig selects the key/value tiers used for correlation ids.
type StorageConfig struct {
	Durable string       `mapstructure:"durable"`
	Session string       `mapstructure:"session"`
	SQLite  SQLiteConfig `mapstructure:"sqlite"`
	Redis   RedisConfig  `mapstructure:"redis"`
}

// SQLiteConfig locates the local durable tier.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig locates the shared durable tier.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// SubmissionConfig tunes the retry loop around inserts.
type SubmissionConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	TempIDFallback bool          `mapstructure:"temp_id_fallback"`
}

// PollingConfig is the tiered read schedule.
type PollingConfig struct {
	ShortInterval time.Duration `mapstructure:"short_interval"`
	ShortAttempts int           `mapstructure:"short_attempts"`
	LongInterval  time.Duration `mapstructure:"long_interval"`
	LongAttempts  int           `mapstructure:"long_attempts"`
}

// ResultsConfig decides when a record is displayable and how it is scored.
type ResultsConfig struct {
	Completeness        string  `mapstructure:"completeness"`
	ScoreSections       int     `mapstructure:"score_sections"`
	SuggestionThreshold float64 `mapstructure:"suggestion_threshold"`
}

// SessionConfig bounds per-client state held by the server.
type SessionConfig struct {
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	Tracing     bool   `mapstructure:"tracing"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(path, nil)
}

// LoadWith is Load with overrides that take precedence over every other
// source, keyed by dotted config path.
func LoadWith(path string, overrides map[string]any) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FEEDBACK")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.max_wait", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit_rps", 2.0)
	v.SetDefault("server.rate_limit_burst", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("datastore.kind", DatastoreREST)
	v.SetDefault("datastore.rest.base_url", "")
	v.SetDefault("datastore.rest.api_key", "")
	v.SetDefault("datastore.rest.table", "linkedin_links")
	v.SetDefault("datastore.rest.timeout", "15s")
	v.SetDefault("datastore.postgres.dsn", "")
	v.SetDefault("datastore.postgres.table", "linkedin_links")
	v.SetDefault("datastore.postgres.id_type", "bigint")
	v.SetDefault("datastore.postgres.max_conns", 4)
	v.SetDefault("datastore.postgres.min_conns", 0)
	v.SetDefault("datastore.postgres.max_conn_lifetime", "30m")
	v.SetDefault("notifier.kind", NotifierWebhook)
	v.SetDefault("notifier.timeout", "10s")
	v.SetDefault("notifier.webhook.url", "")
	v.SetDefault("notifier.pubsub.project_id", "")
	v.SetDefault("notifier.pubsub.topic", "")
	v.SetDefault("storage.durable", StorageSQLite)
	v.SetDefault("storage.session", StorageMemory)
	v.SetDefault("storage.sqlite.path", "data/correlation.db")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.ttl", "0s")
	v.SetDefault("submission.max_retries", 3)
	v.SetDefault("submission.backoff_base", "2s")
	v.SetDefault("submission.temp_id_fallback", false)
	v.SetDefault("polling.short_interval", "5s")
	v.SetDefault("polling.short_attempts", 4)
	v.SetDefault("polling.long_interval", "10s")
	v.SetDefault("polling.long_attempts", 3)
	v.SetDefault("results.completeness", "any")
	v.SetDefault("results.score_sections", 4)
	v.SetDefault("results.suggestion_threshold", 4.0)
	v.SetDefault("session.idle_ttl", "30m")
	v.SetDefault("session.sweep_interval", "1m")
	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.service_name", "profile-feedback")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	if c.Server.MaxWait < 0 || c.Server.MaxWait >= c.Server.RequestTimeout {
		return fmt.Errorf("server.max_wait must be >= 0 and below server.request_timeout")
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("server.rate_limit_rps must be >= 0")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst <= 0 {
		return fmt.Errorf("server.rate_limit_burst must be > 0 when rate limiting is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}

	switch c.Datastore.Kind {
	case DatastoreREST:
		if c.Datastore.REST.BaseURL == "" {
			return fmt.Errorf("datastore.rest.base_url must be set when datastore.kind is rest")
		}
	case DatastorePostgres:
		if c.Datastore.Postgres.DSN == "" {
			return fmt.Errorf("datastore.postgres.dsn must be set when datastore.kind is postgres")
		}
		switch c.Datastore.Postgres.IDType {
		case "", "bigint", "uuid", "text":
		default:
			return fmt.Errorf("datastore.postgres.id_type %q is not one of bigint, uuid, text", c.Datastore.Postgres.IDType)
		}
	case DatastoreMemory:
	default:
		return fmt.Errorf("datastore.kind %q is not one of rest, postgres, memory", c.Datastore.Kind)
	}

	switch c.Notifier.Kind {
	case NotifierWebhook:
		if c.Notifier.Webhook.URL == "" {
			return fmt.Errorf("notifier.webhook.url must be set when notifier.kind is webhook")
		}
	case NotifierPubSub:
		if c.Notifier.PubSub.ProjectID == "" || c.Notifier.PubSub.Topic == "" {
			return fmt.Errorf("notifier.pubsub.project_id and notifier.pubsub.topic must be set when notifier.kind is pubsub")
		}
	case NotifierNone:
	default:
		return fmt.Errorf("notifier.kind %q is not one of webhook, pubsub, none", c.Notifier.Kind)
	}

	switch c.Storage.Durable {
	case StorageSQLite:
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path must be set when storage.durable is sqlite")
		}
	case StorageRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr must be set when storage.durable is redis")
		}
	case StorageMemory, StorageNone:
	default:
		return fmt.Errorf("storage.durable %q is not one of sqlite, redis, memory, none", c.Storage.Durable)
	}
	switch c.Storage.Session {
	case StorageMemory, StorageNone:
	default:
		return fmt.Errorf("storage.session %q is not one of memory, none", c.Storage.Session)
	}

	if c.Submission.MaxRetries < 0 {
		return fmt.Errorf("submission.max_retries must be >= 0")
	}
	if c.Submission.BackoffBase <= 0 {
		return fmt.Errorf("submission.backoff_base must be > 0")
	}
	if err := c.Polling.validate(); err != nil {
		return err
	}
	switch c.Results.Completeness {
	case "any", "all":
	default:
		return fmt.Errorf("results.completeness %q is not one of any, all", c.Results.Completeness)
	}
	if c.Results.ScoreSections != 4 && c.Results.ScoreSections != 5 {
		return fmt.Errorf("results.score_sections must be 4 or 5")
	}
	if c.Results.SuggestionThreshold < 1 || c.Results.SuggestionThreshold > 5 {
		return fmt.Errorf("results.suggestion_threshold must be within 1..5")
	}
	if c.Session.IdleTTL <= 0 {
		return fmt.Errorf("session.idle_ttl must be > 0")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session.sweep_interval must be > 0")
	}
	return nil
}

func (p PollingConfig) validate() error {
	if p.ShortAttempts < 0 || p.LongAttempts < 0 {
		return fmt.Errorf("polling attempts must be >= 0")
	}
	if p.ShortAttempts > 0 && p.ShortInterval <= 0 {
		return fmt.Errorf("polling.short_interval must be > 0")
	}
	if p.LongAttempts > 0 && p.LongInterval <= 0 {
		return fmt.Errorf("polling.long_interval must be > 0")
	}
	return nil
}
