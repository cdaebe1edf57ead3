// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.engi/config.yaml)
//  3. Default values
//
// Sensitive data (bot token, database password) is never logged; the
// config directory uses 0750 permissions. Validation is fail-fast at
// load time with sentinel errors checked via errors.Is().
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
	// ErrMissingToken indicates the Discord bot token is not set.
	ErrMissingToken = errors.New("missing bot token")

	// ErrMissingGuild indicates no guild ID is configured.
	ErrMissingGuild = errors.New("missing guild id")

	// ErrMissingAPIKey indicates the model provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidWindow indicates the history window is out of range.
	ErrInvalidWindow = errors.New("invalid history window")

	// ErrInvalidCooldown indicates the rate cooldown is out of range.
	ErrInvalidCooldown = errors.New("invalid cooldown")

	// ErrInvalidChunking indicates chunk size/overlap are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunk size or overlap")

	// ErrNoAllowedHosts indicates the ingestion host allowlist is empty.
	ErrNoAllowedHosts = errors.New("empty ingestion host allowlist")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the SSL mode is not recognized.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// Defaults that tests and callers reference directly.
const (
	// DefaultEmbedderModel outputs 3072 dimensions by default but supports
	// truncation to 768 via output dimensionality; the passages schema
	// uses vector(768).
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultModelName is the chat model used when none is configured.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultPersona is the display persona when none is configured.
	DefaultPersona = "Engi"
)

// TracingConfig holds the optional OTLP trace exporter settings.
// Tracing is disabled when Endpoint is empty.
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	// Discord configuration
	DiscordToken    string   `mapstructure:"discord_token" json:"discord_token"` // SENSITIVE: masked in MarshalJSON
	GuildID         string   `mapstructure:"guild_id" json:"guild_id"`
	BotName         string   `mapstructure:"bot_name" json:"bot_name"`
	Presence        string   `mapstructure:"presence" json:"presence"`
	Prefix          string   `mapstructure:"prefix" json:"prefix"`
	ChatCategoryID  string   `mapstructure:"chat_category_id" json:"chat_category_id"`
	ThreadChannelID string   `mapstructure:"thread_channel_id" json:"thread_channel_id"`
	AllowedRoles    []string `mapstructure:"allowed_roles" json:"allowed_roles"`

	// Persona and model configuration
	Persona     string  `mapstructure:"persona" json:"persona"`
	PersonaText string  `mapstructure:"persona_text" json:"persona_text"`
	ModelName   string  `mapstructure:"model_name" json:"model_name"`
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Conversation configuration
	HistoryWindow   int `mapstructure:"history_window" json:"history_window"`
	CooldownSeconds int `mapstructure:"cooldown_seconds" json:"cooldown_seconds"`
	CooldownBurst   int `mapstructure:"cooldown_burst" json:"cooldown_burst"`
	MaxMessageChars int `mapstructure:"max_message_chars" json:"max_message_chars"`

	// Knowledge base configuration
	DefaultKnowledgeBase string   `mapstructure:"default_knowledge_base" json:"default_knowledge_base"`
	ShowSources          bool     `mapstructure:"show_sources" json:"show_sources"`
	AllowedHosts         []string `mapstructure:"allowed_hosts" json:"allowed_hosts"`
	EmbedderModel        string   `mapstructure:"embedder_model" json:"embedder_model"`
	ChunkSize            int      `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap         int      `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	RetrieveTopK         int      `mapstructure:"retrieve_top_k" json:"retrieve_top_k"`

	// Crawler configuration
	CrawlParallelism int `mapstructure:"crawl_parallelism" json:"crawl_parallelism"`
	CrawlDelayMs     int `mapstructure:"crawl_delay_ms" json:"crawl_delay_ms"`
	CrawlTimeoutMs   int `mapstructure:"crawl_timeout_ms" json:"crawl_timeout_ms"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// Observability
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Dir returns the configuration directory (~/.engi), creating it when
// missing.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting user home directory: %w", err)
	}

	dir := filepath.Join(home, ".engi")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	configDir, err := Dir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".") // Also support current directory

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
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

func setDefaults(v *viper.Viper) {
	// Discord defaults
	v.SetDefault("bot_name", DefaultPersona)
	v.SetDefault("presence", "the documentation")
	v.SetDefault("prefix", "!")

	// Persona and model defaults
	v.SetDefault("persona", DefaultPersona)
	v.SetDefault("persona_text",
		"You are {persona}, a helpful assistant for a software project's Discord. "+
			"Answer concisely; use fenced code blocks for code.")
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("temperature", 0.7)
	v.SetDefault("max_tokens", 2048)

	// Conversation defaults
	v.SetDefault("history_window", 3)
	v.SetDefault("cooldown_seconds", 3)
	v.SetDefault("cooldown_burst", 1)
	v.SetDefault("max_message_chars", 2000)

	// Knowledge base defaults
	v.SetDefault("show_sources", true)
	v.SetDefault("allowed_hosts", []string{"readthedocs.io"})
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("chunk_size", 2000)
	v.SetDefault("chunk_overlap", 100)
	v.SetDefault("retrieve_top_k", 4)

	// Crawler defaults
	v.SetDefault("crawl_parallelism", 2)
	v.SetDefault("crawl_delay_ms", 500)
	v.SetDefault("crawl_timeout_ms", 30000)

	// PostgreSQL defaults for local development
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "engi")
	v.SetDefault("postgres_password", "engi_dev_password")
	v.SetDefault("postgres_db_name", "engi")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Logging defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	// Tracing defaults (disabled until an endpoint is configured)
	v.SetDefault("tracing.environment", "dev")
	v.SetDefault("tracing.service_name", "engi")
}

// bindEnvVariables binds environment overrides explicitly. Secrets are
// env-only by convention: the bot token and GEMINI_API_KEY never live
// in the config file.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("discord_token", "DISCORD_TOKEN")
	mustBind("guild_id", "ENGI_GUILD_ID")
	mustBind("model_name", "ENGI_MODEL_NAME")
	mustBind("embedder_model", "ENGI_EMBEDDER_MODEL")
	mustBind("log_level", "ENGI_LOG_LEVEL")
	mustBind("tracing.endpoint", "ENGI_OTLP_ENDPOINT")

	// NOTE: GEMINI_API_KEY is read directly by Genkit, not via viper.
	// Validation checks its presence in cfg.Validate().
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked; longer ones keep the first and last two characters for debug
// utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit masking of the
// sensitive fields (DiscordToken, PostgresPassword).
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.DiscordToken = maskSecret(a.DiscordToken)
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

// FullModelName returns the provider-qualified model name for Genkit.
// A name already containing "/" is returned as-is.
func (c *Config) FullModelName() string {
	return qualifyModel(c.ModelName)
}
