package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

// Index backends
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendQdrant   = "qdrant"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig        `toml:"server"`
	Index         IndexConfig         `toml:"index"`
	Embedder      EmbedderConfig      `toml:"embedder"`
	Generator     GeneratorConfig     `toml:"generator"`
	Retrieval     RetrievalConfig     `toml:"retrieval"`
	Prompt        PromptConfig        `toml:"prompt"`
	Auth          AuthConfig          `toml:"auth"`
	RateLimit     RateLimitConfig     `toml:"rate_limit"`
	Observability ObservabilityConfig `toml:"observability"`
	Environment   string              `toml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `toml:"host"`
	Port            int           `toml:"port"`
	ReadTimeout     time.Duration `toml:"-"`
	WriteTimeout    time.Duration `toml:"-"`
	RequestTimeout  time.Duration `toml:"-"` // Upper bound for one query, enforced by the router
	ShutdownTimeout time.Duration `toml:"-"`
	UIEnabled       bool          `toml:"ui_enabled"`
	CORSOrigins     []string      `toml:"cors_origins"`
}

// IndexConfig selects and locates the prebuilt vector index
type IndexConfig struct {
	Backend      string        `toml:"backend"` // sqlite, postgres or qdrant
	Path         string        `toml:"path"`    // sqlite file
	DatabaseURL  string        `toml:"database_url"`
	Table        string        `toml:"table"`
	MaxOpenConns int           `toml:"max_open_conns"`
	QdrantURL    string        `toml:"qdrant_url"`
	Collection   string        `toml:"collection"`
	QdrantAPIKey string        `toml:"qdrant_api_key"`
	Timeout      time.Duration `toml:"-"`
}

// EmbedderConfig holds the embedding service configuration
type EmbedderConfig struct {
	BaseURL    string        `toml:"base_url"`
	APIKey     string        `toml:"api_key"`
	Model      string        `toml:"model"`
	Dimension  int           `toml:"dimension"`
	Timeout    time.Duration `toml:"-"`
	MaxRetries int           `toml:"max_retries"`
}

// GeneratorConfig holds the language model runtime configuration
type GeneratorConfig struct {
	BaseURL           string        `toml:"base_url"`
	APIKey            string        `toml:"api_key"`
	Model             string        `toml:"model"`
	MaxTokens         int           `toml:"max_tokens"`
	Temperature       float64       `toml:"temperature"`
	RepetitionPenalty float64       `toml:"repetition_penalty"`
	Timeout           time.Duration `toml:"-"`
	MaxRetries        int           `toml:"max_retries"`
}

// RetrievalConfig bounds what reaches the prompt
type RetrievalConfig struct {
	TopK           int     `toml:"top_k"`
	ScoreThreshold float64 `toml:"score_threshold"`
	MaxQueryLength int     `toml:"max_query_length"`
}

// PromptConfig holds the prompt template. Empty fields fall back to the
// Llama-2 chat template and the built-in system prompt.
type PromptConfig struct {
	System      string `toml:"system"`
	Instruction string `toml:"instruction"`
	InstOpen    string `toml:"inst_open"`
	InstClose   string `toml:"inst_close"`
	SysOpen     string `toml:"sys_open"`
	SysClose    string `toml:"sys_close"`
}

// AuthConfig holds API authentication configuration. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
	Issuer    string `toml:"issuer"`
}

// RateLimitConfig holds the API rate limit. Zero RequestsPerSecond disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string `toml:"log_level"`
	LogFormat      string `toml:"log_format"` // json or console
	MetricsEnabled bool   `toml:"metrics_enabled"`
	ServiceName    string `toml:"service_name"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    150 * time.Second,
			RequestTimeout:  120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			UIEnabled:       true,
			CORSOrigins:     []string{"http://localhost:*"},
		},
		Index: IndexConfig{
			Backend:      BackendSQLite,
			Path:         "vectorstore/db.sqlite",
			Table:        "documents",
			MaxOpenConns: 10,
			Collection:   "medical",
			Timeout:      10 * time.Second,
		},
		Embedder: EmbedderConfig{
			BaseURL:   "http://localhost:8081/v1",
			Model:     "sentence-transformers/all-MiniLM-L6-v2",
			Dimension: 384,
			Timeout:   30 * time.Second,
		},
		Generator: GeneratorConfig{
			BaseURL:           "http://localhost:8000/v1",
			Model:             "llama-2-7b-chat.ggmlv3.q4_K_S",
			MaxTokens:         1024,
			Temperature:       0.5,
			RepetitionPenalty: 1.1,
			Timeout:           120 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:           4,
			ScoreThreshold: 0.3,
			MaxQueryLength: 2000,
		},
		RateLimit: RateLimitConfig{
			Burst: 10,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			MetricsEnabled: true,
			ServiceName:    "medbot",
		},
	}
}

// New builds the configuration from defaults, an optional TOML file, a .env
// file and the environment, in increasing precedence. An empty path falls
// back to MEDBOT_CONFIG.
func New(ctx context.Context, path string) (*Config, error) {
	_ = godotenv.Load(".env")

	if path == "" {
		path = os.Getenv("MEDBOT_CONFIG")
	}

	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides fields from environment variables
func (c *Config) applyEnv() {
	c.Environment = getEnv("ENVIRONMENT", c.Environment)

	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getPort(c.Server.Port)
	c.Server.ReadTimeout = getEnvAsDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvAsDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.RequestTimeout = getEnvAsDuration("SERVER_REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.ShutdownTimeout = getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.UIEnabled = getEnvAsBool("UI_ENABLED", c.Server.UIEnabled)
	c.Server.CORSOrigins = getEnvAsList("CORS_ALLOWED_ORIGINS", c.Server.CORSOrigins)

	c.Index.Backend = strings.ToLower(getEnv("INDEX_BACKEND", c.Index.Backend))
	c.Index.Path = getEnv("INDEX_PATH", c.Index.Path)
	c.Index.DatabaseURL = getEnv("DATABASE_URL", c.Index.DatabaseURL)
	c.Index.Table = getEnv("INDEX_TABLE", c.Index.Table)
	c.Index.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", c.Index.MaxOpenConns)
	c.Index.QdrantURL = getEnv("QDRANT_URL", c.Index.QdrantURL)
	c.Index.Collection = getEnv("QDRANT_COLLECTION", c.Index.Collection)
	c.Index.QdrantAPIKey = getEnv("QDRANT_API_KEY", c.Index.QdrantAPIKey)
	c.Index.Timeout = getEnvAsDuration("INDEX_TIMEOUT", c.Index.Timeout)

	c.Embedder.BaseURL = getEnv("EMBEDDING_BASE_URL", c.Embedder.BaseURL)
	c.Embedder.APIKey = getEnv("EMBEDDING_API_KEY", c.Embedder.APIKey)
	c.Embedder.Model = getEnv("EMBEDDING_MODEL", c.Embedder.Model)
	c.Embedder.Dimension = getEnvAsInt("EMBEDDING_DIMENSION", c.Embedder.Dimension)
	c.Embedder.Timeout = getEnvAsDuration("EMBEDDING_TIMEOUT", c.Embedder.Timeout)
	c.Embedder.MaxRetries = getEnvAsInt("EMBEDDING_MAX_RETRIES", c.Embedder.MaxRetries)

	c.Generator.BaseURL = getEnv("LLM_BASE_URL", c.Generator.BaseURL)
	c.Generator.APIKey = getEnv("LLM_API_KEY", c.Generator.APIKey)
	c.Generator.Model = getEnv("LLM_MODEL", c.Generator.Model)
	c.Generator.MaxTokens = getEnvAsInt("LLM_MAX_TOKENS", c.Generator.MaxTokens)
	c.Generator.Temperature = getEnvAsFloat("LLM_TEMPERATURE", c.Generator.Temperature)
	c.Generator.RepetitionPenalty = getEnvAsFloat("LLM_REPETITION_PENALTY", c.Generator.RepetitionPenalty)
	c.Generator.Timeout = getEnvAsDuration("LLM_TIMEOUT", c.Generator.Timeout)
	c.Generator.MaxRetries = getEnvAsInt("LLM_MAX_RETRIES", c.Generator.MaxRetries)

	c.Retrieval.TopK = getEnvAsInt("RETRIEVAL_TOP_K", c.Retrieval.TopK)
	c.Retrieval.ScoreThreshold = getEnvAsFloat("RETRIEVAL_SCORE_THRESHOLD", c.Retrieval.ScoreThreshold)
	c.Retrieval.MaxQueryLength = getEnvAsInt("MAX_QUERY_LENGTH", c.Retrieval.MaxQueryLength)

	c.Prompt.System = unescape(getEnv("PROMPT_SYSTEM", c.Prompt.System))
	c.Prompt.Instruction = unescape(getEnv("PROMPT_INSTRUCTION", c.Prompt.Instruction))

	c.Auth.JWTSecret = getEnv("AUTH_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.Issuer = getEnv("AUTH_ISSUER", c.Auth.Issuer)

	c.RateLimit.RequestsPerSecond = getEnvAsFloat("RATE_LIMIT_RPS", c.RateLimit.RequestsPerSecond)
	c.RateLimit.Burst = getEnvAsInt("RATE_LIMIT_BURST", c.RateLimit.Burst)

	c.Observability.LogLevel = getEnv("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = getEnv("LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsEnabled = getEnvAsBool("METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.ServiceName = getEnv("SERVICE_NAME", c.Observability.ServiceName)
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}

	switch c.Index.Backend {
	case BackendSQLite:
		if c.Index.Path == "" {
			return fmt.Errorf("index path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Index.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendQdrant:
		if c.Index.QdrantURL == "" || c.Index.Collection == "" {
			return fmt.Errorf("qdrant url and collection are required for the qdrant backend")
		}
	default:
		return fmt.Errorf("unknown index backend %q", c.Index.Backend)
	}

	if c.Embedder.Model == "" {
		return fmt.Errorf("embedding model is required")
	}
	if c.Embedder.Dimension < 0 {
		return fmt.Errorf("embedding dimension cannot be negative")
	}
	if c.Generator.Model == "" {
		return fmt.Errorf("language model is required")
	}
	if c.Generator.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be at least 1")
	}
	if c.Generator.Temperature < 0 || c.Generator.Temperature > 2 {
		return fmt.Errorf("temperature must be within [0,2]")
	}
	if c.Generator.RepetitionPenalty <= 0 {
		return fmt.Errorf("repetition penalty must be positive")
	}

	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("top k must be at least 1")
	}
	if c.Retrieval.ScoreThreshold < 0 || c.Retrieval.ScoreThreshold > 1 {
		return fmt.Errorf("score threshold must be within [0,1]")
	}
	if c.Retrieval.MaxQueryLength < 0 {
		return fmt.Errorf("max query length cannot be negative")
	}

	if c.Prompt.Instruction != "" &&
		(!strings.Contains(c.Prompt.Instruction, "{context}") || !strings.Contains(c.Prompt.Instruction, "{question}")) {
		return fmt.Errorf("prompt instruction must contain {context} and {question}")
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate limit burst must be at least 1")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}
	if _, err := zapcore.ParseLevel(strings.ToLower(c.Observability.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", c.Observability.LogLevel)
	}

	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required in production")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// AuthEnabled reports whether API requests must carry a token
func (c *Config) AuthEnabled() bool {
	return c.Auth.JWTSecret != ""
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogString returns a safe description of the index location (no credentials)
func (c *IndexConfig) LogString() string {
	switch c.Backend {
	case BackendPostgres:
		u, err := url.Parse(c.DatabaseURL)
		if err != nil || u.Host == "" {
			return "postgres <from DATABASE_URL>"
		}
		return fmt.Sprintf("postgres host=%s database=%s table=%s", u.Host, strings.TrimPrefix(u.Path, "/"), c.Table)
	case BackendQdrant:
		return fmt.Sprintf("qdrant url=%s collection=%s", c.QdrantURL, c.Collection)
	default:
		return fmt.Sprintf("sqlite path=%s", c.Path)
	}
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars
func getPort(defaultValue int) int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return getEnvAsInt("SERVER_PORT", defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// unescape turns literal \n sequences from single-line env values into newlines
func unescape(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}
