package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Database backends.
const (
	DatabaseTypePostgres = "postgres"
	DatabaseTypeSQLite   = "sqlite"
)

// LLM providers for the proposal collaborator.
const (
	LLMProviderOpenAI    = "openai"
	LLMProviderAnthropic = "anthropic"
)

// DefaultOpenAIEndpoint is the default llm.endpoint.
const DefaultOpenAIEndpoint = "https://api.openai.com/v1"

// Config holds all configuration for ekaya-srs.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Engine   EngineConfig   `yaml:"engine"`
	LLM      LLMConfig      `yaml:"llm"`
	MCP      MCPConfig      `yaml:"mcp"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	Type           string `yaml:"type" env:"SRS_DB_TYPE" env-default:"postgres"`
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"srs_user"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"srs_assistant"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	// SQLitePath is the database file used when Type is "sqlite".
	SQLitePath string `yaml:"sqlite_path" env:"SRS_SQLITE_PATH" env-default:"srs.db"`
}

// RedisConfig configures the optional cross-process append lock.
// Leave Host empty to serialize appends in-process only.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// EngineConfig tunes the revision pipeline.
type EngineConfig struct {
	// MaxAppendAttempts bounds label recomputation after a ConflictError.
	MaxAppendAttempts int `yaml:"max_append_attempts" env:"SRS_MAX_APPEND_ATTEMPTS" env-default:"3"`
	// HistoryPageSize is how many versions the history iterator fetches per page.
	HistoryPageSize int `yaml:"history_page_size" env:"SRS_HISTORY_PAGE_SIZE" env-default:"50"`
	// PromptHistoryTurns is how many prior session turns are sent to the model.
	PromptHistoryTurns int `yaml:"prompt_history_turns" env:"SRS_PROMPT_HISTORY_TURNS" env-default:"10"`
}

// LLMConfig configures the model collaborator that proposes deltas.
type LLMConfig struct {
	Provider    string  `yaml:"provider" env:"SRS_LLM_PROVIDER" env-default:"openai"`
	Endpoint    string  `yaml:"endpoint" env:"SRS_LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model       string  `yaml:"model" env:"SRS_LLM_MODEL" env-default:"gpt-4o"`
	APIKey      string  `yaml:"-" env:"SRS_LLM_API_KEY"` // Secret - not in YAML
	Temperature float64 `yaml:"temperature" env:"SRS_LLM_TEMPERATURE" env-default:"0.2"`
	MaxTokens   int     `yaml:"max_tokens" env:"SRS_LLM_MAX_TOKENS" env-default:"4096"`
}

// IsAvailable returns true if a model collaborator is configured.
func (c *LLMConfig) IsAvailable() bool {
	return c.Model != "" && (c.Provider == LLMProviderAnthropic || c.Endpoint != "")
}

// MCPConfig toggles the MCP endpoint.
type MCPConfig struct {
	Enabled bool `yaml:"enabled" env:"SRS_MCP_ENABLED" env-default:"true"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"SRS_METRICS_ENABLED" env-default:"true"`
	Path    string `yaml:"path" env:"SRS_METRICS_PATH" env-default:"/metrics"`
}

// Trace exporters.
const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
)

// TracingConfig selects the OpenTelemetry span exporter.
type TracingConfig struct {
	Exporter string `yaml:"exporter" env:"SRS_TRACE_EXPORTER" env-default:"none"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error; defaults and environment apply.
func Load(version string) (*Config, error) {
	path := "config.yaml"
	if _, err := os.Stat(path); err != nil {
		return LoadFromEnv(version)
	}
	return LoadFromFile(path, version)
}

// LoadFromFile reads configuration from the given YAML file with environment overrides.
func LoadFromFile(path, version string) (*Config, error) {
	cfg := &Config{Version: version}
	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv builds configuration from defaults and environment variables only.
func LoadFromEnv(version string) (*Config, error) {
	cfg := &Config{Version: version}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finalize() error {
	c.Database.Type = strings.ToLower(strings.TrimSpace(c.Database.Type))
	switch c.Database.Type {
	case DatabaseTypePostgres, DatabaseTypeSQLite:
	default:
		return fmt.Errorf("invalid database type %q (want %s or %s)", c.Database.Type, DatabaseTypePostgres, DatabaseTypeSQLite)
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	switch c.LLM.Provider {
	case LLMProviderOpenAI, LLMProviderAnthropic:
	default:
		return fmt.Errorf("invalid llm provider %q (want %s or %s)", c.LLM.Provider, LLMProviderOpenAI, LLMProviderAnthropic)
	}
	// Local model servers (Ollama, vLLM) usually listen on the host loopback.
	c.LLM.Endpoint = ResolveURLForDocker(strings.TrimSpace(c.LLM.Endpoint))

	c.Tracing.Exporter = strings.ToLower(strings.TrimSpace(c.Tracing.Exporter))
	switch c.Tracing.Exporter {
	case "":
		c.Tracing.Exporter = TraceExporterNone
	case TraceExporterNone, TraceExporterStdout:
	default:
		return fmt.Errorf("invalid trace exporter %q (want %s or %s)", c.Tracing.Exporter, TraceExporterNone, TraceExporterStdout)
	}

	if c.Engine.MaxAppendAttempts < 1 {
		return fmt.Errorf("engine.max_append_attempts must be at least 1, got %d", c.Engine.MaxAppendAttempts)
	}
	if c.Engine.HistoryPageSize < 1 {
		c.Engine.HistoryPageSize = 50
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if c.BaseURL == "" {
		c.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + c.Port,
		}).String()
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Addr returns the host:port address of the Redis server, or "" when disabled.
func (c *RedisConfig) Addr() string {
	if c.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port)
}
