// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./config.yaml or ~/.portfolio-chat/config.yaml)
//  3. Default values
//
// Security: sensitive values (API keys, passwords) are never logged;
// MarshalJSON masks them explicitly.
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

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates a model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTopK indicates the retrieval limit is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top_k")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrMissingLangfuseKeys indicates the Langfuse key pair is incomplete.
	ErrMissingLangfuseKeys = errors.New("missing Langfuse keys")
)

// Model defaults matching the deployed assistant.
const (
	DefaultChatModel  = "gpt-3.5-turbo"
	DefaultEmbedModel = "text-embedding-3-small"
	DefaultPromptName = "portfolio-assistant"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens),
// update MarshalJSON.
type Config struct {
	// HTTP server
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Forwarded-For (set true behind reverse proxy)

	// OpenAI
	OpenAIAPIKey  string `mapstructure:"openai_api_key" json:"openai_api_key"` // SENSITIVE: masked in MarshalJSON
	OpenAIBaseURL string `mapstructure:"openai_base_url" json:"openai_base_url"`
	ChatModel     string `mapstructure:"chat_model" json:"chat_model"`
	EmbedModel    string `mapstructure:"embed_model" json:"embed_model"`

	// Retrieval
	RetrievalTopK int `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`

	// Langfuse prompt management
	LangfuseBaseURL   string `mapstructure:"langfuse_base_url" json:"langfuse_base_url"`
	LangfusePublicKey string `mapstructure:"langfuse_public_key" json:"langfuse_public_key"`
	LangfuseSecretKey string `mapstructure:"langfuse_secret_key" json:"langfuse_secret_key"` // SENSITIVE: masked in MarshalJSON
	PromptName        string `mapstructure:"prompt_name" json:"prompt_name"`

	// Storage (see storage.go for DSN helpers)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Tracing
	OTelEndpoint string `mapstructure:"otel_endpoint" json:"otel_endpoint"`
	Environment  string `mapstructure:"environment" json:"environment"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".portfolio-chat")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath(configDir)

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults plus env cover it.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{".", configDir})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
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
	viper.SetDefault("listen_addr", "127.0.0.1:3400")
	viper.SetDefault("cors_origins", []string{
		"https://chat.babandeep.in",
		"http://localhost:3000",
	})
	viper.SetDefault("trust_proxy", false)

	viper.SetDefault("chat_model", DefaultChatModel)
	viper.SetDefault("embed_model", DefaultEmbedModel)
	viper.SetDefault("retrieval_top_k", 5)

	viper.SetDefault("langfuse_base_url", "https://cloud.langfuse.com")
	viper.SetDefault("prompt_name", DefaultPromptName)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "portfolio")
	viper.SetDefault("postgres_password", "portfolio_dev_password")
	viper.SetDefault("postgres_db_name", "portfolio")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("environment", "dev")
	viper.SetDefault("service_name", "portfolio-chat")
}

// bindEnvVariables binds environment variables explicitly. Secrets are
// only ever taken from the environment in deployment; the config file
// covers everything else.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("openai_base_url", "OPENAI_BASE_URL")

	mustBind("langfuse_public_key", "LANGFUSE_PUBLIC_KEY")
	mustBind("langfuse_secret_key", "LANGFUSE_SECRET_KEY")
	mustBind("langfuse_base_url", "LANGFUSE_BASE_URL")

	mustBind("listen_addr", "PORTFOLIO_LISTEN_ADDR")
	mustBind("cors_origins", "PORTFOLIO_CORS_ORIGINS")
	mustBind("trust_proxy", "PORTFOLIO_TRUST_PROXY")
	mustBind("environment", "PORTFOLIO_ENV")

	mustBind("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against the
// original secret.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 chars
// or fewer are fully masked; longer ones show the first and last 2
// characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking. When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.OpenAIAPIKey = maskSecret(a.OpenAIAPIKey)
	a.LangfuseSecretKey = maskSecret(a.LangfuseSecretKey)
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
