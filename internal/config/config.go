// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`
	// RedisURL enables the shared quota and cache stores; empty keeps both in-process.
	RedisURL string `env:"REDIS_URL"`
	// DBURL enables the Postgres quota mirror; empty disables it.
	DBURL string `env:"DB_URL"`

	// Environment-level provider keys used when a caller's credential map has no entry.
	OpenAIAPIKey      string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIModel       string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	AnthropicAPIKey   string `env:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL  string `env:"ANTHROPIC_BASE_URL" envDefault:"https://api.anthropic.com"`
	AnthropicModel    string `env:"ANTHROPIC_MODEL" envDefault:"claude-haiku-4-5-20251001"`
	GeminiAPIKey      string `env:"GEMINI_API_KEY"`
	GeminiBaseURL     string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta"`
	GeminiModel       string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	GroqAPIKey        string `env:"GROQ_API_KEY"`
	GroqBaseURL       string `env:"GROQ_BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	GroqModel         string `env:"GROQ_MODEL" envDefault:"llama-3.3-70b-versatile"`
	OpenRouterAPIKey  string `env:"OPENROUTER_API_KEY"`
	OpenRouterBaseURL string `env:"OPENROUTER_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	OpenRouterModel   string `env:"OPENROUTER_MODEL" envDefault:"openrouter/auto"`
	OpenRouterReferer string `env:"OPENROUTER_REFERER"`
	OpenRouterTitle   string `env:"OPENROUTER_TITLE" envDefault:"AI Legal Assistant"`

	// ProviderOrder is the fallback order after the caller's preferred provider.
	// The builtin offline provider is always appended last.
	ProviderOrder       []string      `env:"PROVIDER_ORDER" envSeparator:"," envDefault:"openai,anthropic,gemini,groq,openrouter"`
	ProviderCatalogPath string        `env:"PROVIDER_CATALOG_PATH" envDefault:"configs/providers.yaml"`
	ProviderMinInterval time.Duration `env:"PROVIDER_MIN_INTERVAL" envDefault:"0s"`
	UpstreamTimeout     time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"60s"`
	MaxOutputTokens     int           `env:"MAX_OUTPUT_TOKENS" envDefault:"2048"`
	// Consecutive upstream failures before a provider is skipped for BreakerCooldown; 0 disables.
	BreakerMaxFailures  int           `env:"BREAKER_MAX_FAILURES" envDefault:"5"`
	BreakerCooldown     time.Duration `env:"BREAKER_COOLDOWN" envDefault:"30s"`

	// Quota windows
	FreeTierLimit       int           `env:"FREE_TIER_LIMIT" envDefault:"50"`
	FreeTierWindow      time.Duration `env:"FREE_TIER_WINDOW" envDefault:"24h"`
	PaidTierLimit       int           `env:"PAID_TIER_LIMIT" envDefault:"60"`
	PaidTierWindow      time.Duration `env:"PAID_TIER_WINDOW" envDefault:"1m"`
	QuotaSweepThreshold int           `env:"QUOTA_SWEEP_THRESHOLD" envDefault:"10000"`

	// Response cache
	CacheEnabled     bool          `env:"CACHE_ENABLED" envDefault:"true"`
	CacheMaxEntries  int           `env:"CACHE_MAX_ENTRIES" envDefault:"5000"`
	ChatCacheTTL     time.Duration `env:"CHAT_CACHE_TTL" envDefault:"5m"`
	ResearchCacheTTL time.Duration `env:"RESEARCH_CACHE_TTL" envDefault:"30m"`

	// Case-study synthesis; zero seed means time-seeded.
	CaseStudySeed       int64 `env:"CASE_STUDY_SEED" envDefault:"0"`
	FallbackWinMin      int   `env:"FALLBACK_WIN_MIN" envDefault:"60"`
	FallbackWinMax      int   `env:"FALLBACK_WIN_MAX" envDefault:"90"`
	CompareMaxProviders int   `env:"COMPARE_MAX_PROVIDERS" envDefault:"4"`

	LogLevel        string  `env:"LOG_LEVEL"`
	OTLPEndpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"ai-legal-assistant"`
	OTELSampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"0"`

	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"30"`
	RequestTimeout        time.Duration `env:"REQUEST_TIMEOUT" envDefault:"120s"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"150s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	// AI Backoff Configuration (transient retries inside one provider call)
	AIBackoffMaxElapsedTime  time.Duration `env:"AI_BACKOFF_MAX_ELAPSED_TIME" envDefault:"20s"`
	AIBackoffInitialInterval time.Duration `env:"AI_BACKOFF_INITIAL_INTERVAL" envDefault:"500ms"`
	AIBackoffMaxInterval     time.Duration `env:"AI_BACKOFF_MAX_INTERVAL" envDefault:"5s"`
	AIBackoffMultiplier      float64       `env:"AI_BACKOFF_MULTIPLIER" envDefault:"1.5"`
	AIBackoffMaxRetries      uint64        `env:"AI_BACKOFF_MAX_RETRIES" envDefault:"2"`
}

// Load parses environment variables into a Config. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if cfg.FreeTierLimit <= 0 || cfg.PaidTierLimit <= 0 {
		return Config{}, fmt.Errorf("op=config.Load: tier limits must be positive")
	}
	if cfg.CacheMaxEntries <= 0 {
		return Config{}, fmt.Errorf("op=config.Load: CACHE_MAX_ENTRIES must be positive, got %d", cfg.CacheMaxEntries)
	}
	if cfg.FallbackWinMin > cfg.FallbackWinMax {
		return Config{}, fmt.Errorf("op=config.Load: FALLBACK_WIN_MIN %d exceeds FALLBACK_WIN_MAX %d", cfg.FallbackWinMin, cfg.FallbackWinMax)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// ProviderKey returns the environment-level key for a provider id, if any.
func (c Config) ProviderKey(id string) string {
	switch strings.ToLower(id) {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	case "groq":
		return c.GroqAPIKey
	case "openrouter":
		return c.OpenRouterAPIKey
	}
	return ""
}

// GetAIBackoffConfig returns backoff configuration appropriate for the current environment.
// In test environments, uses much shorter timeouts for faster test execution.
func (c Config) GetAIBackoffConfig() (maxElapsedTime, initialInterval, maxInterval time.Duration, multiplier float64) {
	if c.IsTest() {
		return 2 * time.Second, 10 * time.Millisecond, 100 * time.Millisecond, 2.0
	}
	return c.AIBackoffMaxElapsedTime, c.AIBackoffInitialInterval, c.AIBackoffMaxInterval, c.AIBackoffMultiplier
}
