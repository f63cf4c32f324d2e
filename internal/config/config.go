// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.stoa/config.yaml)
//  3. Default values
//
// Main categories:
//   - Providers: the registered AI backend pool with priority/weight ranks
//   - Storage: PostgreSQL connection (see storage.go)
//   - Retrieval: cache TTLs and candidate pool sizing
//   - Otel: OTLP trace export (see observability.go)
//
// Sensitive data (passwords) are masked in MarshalJSON and never logged.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrNoProviders indicates the provider pool is empty.
	ErrNoProviders = errors.New("no providers configured")

	// ErrInvalidProviderKind indicates an unsupported provider kind.
	ErrInvalidProviderKind = errors.New("invalid provider kind")

	// ErrDuplicateProviderID indicates two provider specs share an id.
	ErrDuplicateProviderID = errors.New("duplicate provider id")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidTTL indicates a TTL setting is out of range.
	ErrInvalidTTL = errors.New("invalid TTL")
)

// Provider kinds accepted in ProviderSpec.Kind.
const (
	KindGoogleAI = "googleai"
	KindOllama   = "ollama"
)

// ProviderSpec declares one backend in the provider pool.
type ProviderSpec struct {
	ID                string  `mapstructure:"id" json:"id"`
	Kind              string  `mapstructure:"kind" json:"kind"`
	Priority          int     `mapstructure:"priority" json:"priority"`
	Weight            int     `mapstructure:"weight" json:"weight"`
	ChatModel         string  `mapstructure:"chat_model" json:"chat_model"`
	EmbedderModel     string  `mapstructure:"embedder_model" json:"embedder_model"`
	ServerAddress     string  `mapstructure:"server_address" json:"server_address"` // ollama only
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second"`
}

// RetrievalConfig tunes the retrieval engine.
type RetrievalConfig struct {
	CacheTTLSeconds       int  `mapstructure:"cache_ttl_seconds" json:"cache_ttl_seconds"`
	HealthTTLSeconds      int  `mapstructure:"health_ttl_seconds" json:"health_ttl_seconds"`
	MaxCandidates         int  `mapstructure:"max_candidates" json:"max_candidates"`
	FallbackKeywordFilter bool `mapstructure:"fallback_keyword_filter" json:"fallback_keyword_filter"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON. When adding new
// sensitive fields, update MarshalJSON.
type Config struct {
	// Provider pool
	Providers []ProviderSpec `mapstructure:"providers" json:"providers"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Retrieval engine tuning
	Retrieval RetrievalConfig `mapstructure:"retrieval" json:"retrieval"`

	// Observability configuration (see observability.go)
	Otel OtelConfig `mapstructure:"otel" json:"otel"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".stoa")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, if set, overrides the individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Provider pool: a single Gemini backend unless the file says otherwise.
	viper.SetDefault("providers", []map[string]any{
		{
			"id":       "gemini-primary",
			"kind":     KindGoogleAI,
			"priority": 1,
			"weight":   1,
		},
	})

	// PostgreSQL defaults (local development)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "stoa")
	viper.SetDefault("postgres_password", "stoa_dev_password")
	viper.SetDefault("postgres_db_name", "stoa")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Retrieval defaults
	viper.SetDefault("retrieval.cache_ttl_seconds", 60)
	viper.SetDefault("retrieval.health_ttl_seconds", 30)
	viper.SetDefault("retrieval.max_candidates", 24)
	viper.SetDefault("retrieval.fallback_keyword_filter", false)

	// Otel defaults
	viper.SetDefault("otel.agent_host", "localhost:4318")
	viper.SetDefault("otel.environment", "dev")
	viper.SetDefault("otel.service_name", "stoa")
}

// bindEnvVariables binds environment overrides explicitly.
// GEMINI_API_KEY is read directly by Genkit, not via Viper; provider
// construction fails loudly when it is missing.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("postgres_host", "STOA_POSTGRES_HOST")
	mustBind("postgres_password", "STOA_POSTGRES_PASSWORD")
	mustBind("retrieval.cache_ttl_seconds", "STOA_RETRIEVAL_CACHE_TTL_SECONDS")
	mustBind("retrieval.health_ttl_seconds", "STOA_RETRIEVAL_HEALTH_TTL_SECONDS")
	mustBind("otel.agent_host", "STOA_OTEL_AGENT_HOST")
	mustBind("otel.environment", "STOA_OTEL_ENVIRONMENT")
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid substring matches against the real secret.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 chars or fewer
// are fully masked; longer ones keep the first and last 2 characters for
// debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
