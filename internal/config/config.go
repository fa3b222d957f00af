package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Physique API server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	AI       AIConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	RateLimitPerMinute int
	ImageMaxBytes      int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	Ollama           OllamaConfig
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
	Gemini           GeminiConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type AnthropicConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

// ClientConfig holds configuration for the physique CLI, which embeds the
// client-side delivery pipeline.
type ClientConfig struct {
	APIURL         string
	APIKey         string
	LedgerDir      string
	Realtime       string
	RedisURL       string
	GraceTimeout   time.Duration
	BannerTimeout  time.Duration
	GatewayTimeout time.Duration
	S3             S3Config
}

// S3Config configures resolution of s3:// image references.
type S3Config struct {
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
}

var validProviders = map[string]bool{
	"ollama":    true,
	"openai":    true,
	"anthropic": true,
	"gemini":    true,
}

var validRealtime = map[string]bool{
	"sse":   true,
	"redis": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("PHYSIQUE_PORT", 8080),
			Env:                envString("PHYSIQUE_ENV", "development"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 30),
			ImageMaxBytes:      envInt("IMAGE_MAX_BYTES", 10<<20),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AI: AIConfig{
			Provider:         os.Getenv("AI_PROVIDER"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 180*time.Second),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llava"),
			},
			OpenAI: OpenAIConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o"),
			},
			Anthropic: AnthropicConfig{
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
			Gemini: GeminiConfig{
				APIKey: os.Getenv("GEMINI_API_KEY"),
				Model:  envString("GEMINI_MODEL", "gemini-1.5-flash"),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of ollama, openai, anthropic, gemini; got %q", c.AI.Provider)
	}

	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}
	if c.AI.Provider == "gemini" && c.AI.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when AI_PROVIDER is gemini")
	}

	if c.Server.ImageMaxBytes <= 0 {
		return fmt.Errorf("IMAGE_MAX_BYTES must be positive, got %d", c.Server.ImageMaxBytes)
	}

	return nil
}

// LoadClient reads the CLI configuration from environment variables.
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		APIURL:         strings.TrimRight(os.Getenv("PHYSIQUE_API_URL"), "/"),
		APIKey:         os.Getenv("PHYSIQUE_API_KEY"),
		LedgerDir:      envString("PHYSIQUE_LEDGER_DIR", defaultLedgerDir()),
		Realtime:       envString("PHYSIQUE_REALTIME", "sse"),
		RedisURL:       os.Getenv("REDIS_URL"),
		GraceTimeout:   envDurationMillis("PHYSIQUE_GRACE_MS", 5000*time.Millisecond),
		BannerTimeout:  envDurationMillis("PHYSIQUE_BANNER_MS", 10000*time.Millisecond),
		GatewayTimeout: envDurationSecs("PHYSIQUE_GATEWAY_TIMEOUT_SECS", 180*time.Second),
		S3: S3Config{
			Region:          os.Getenv("PHYSIQUE_S3_REGION"),
			Endpoint:        os.Getenv("PHYSIQUE_S3_ENDPOINT"),
			ForcePathStyle:  envBool("PHYSIQUE_S3_FORCE_PATH_STYLE", false),
			AccessKeyID:     os.Getenv("PHYSIQUE_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("PHYSIQUE_S3_SECRET_ACCESS_KEY"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ClientConfig) validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("PHYSIQUE_API_URL is required")
	}
	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		return fmt.Errorf("PHYSIQUE_API_URL must start with http:// or https://, got %q", c.APIURL)
	}
	if c.APIKey == "" {
		return fmt.Errorf("PHYSIQUE_API_KEY is required")
	}
	if !validRealtime[c.Realtime] {
		return fmt.Errorf("PHYSIQUE_REALTIME must be one of sse, redis; got %q", c.Realtime)
	}
	if c.Realtime == "redis" && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when PHYSIQUE_REALTIME is redis")
	}
	if (c.S3.AccessKeyID == "") != (c.S3.SecretAccessKey == "") {
		return fmt.Errorf("PHYSIQUE_S3_ACCESS_KEY_ID and PHYSIQUE_S3_SECRET_ACCESS_KEY must be set together")
	}
	if c.GraceTimeout <= 0 || c.BannerTimeout <= 0 {
		return fmt.Errorf("PHYSIQUE_GRACE_MS and PHYSIQUE_BANNER_MS must be positive")
	}
	return nil
}

func defaultLedgerDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".physique/ledger"
	}
	return dir + "/physique/ledger"
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

func envDurationMillis(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(ms) * time.Millisecond
}
