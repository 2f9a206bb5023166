package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreBackendPostgres  = "postgres"
	StoreBackendFirestore = "firestore"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Logging
	LogLevel string
	LogFile  string

	// Store
	StoreBackend       string
	DatabaseURL        string
	FirestoreProjectID string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Summarization provider
	SummaryProvider      string
	GeminiAPIKey         string
	GeminiModel          string
	GeminiConcurrentReqs int
	OpenAIAPIKey         string
	OpenAIModel          string
	OpenAIBaseURL        string
	SummaryMaxTokens     int

	// Web research provider
	PerplexityAPIKey  string
	PerplexityModel   string
	PerplexityBaseURL string
	ResearchMaxTokens int

	// Pipeline budgets
	MaxBodyChars         int
	ResearchTimeout      time.Duration
	ResearchPollAttempts int
	ResearchPollInterval time.Duration
	ResearchCacheTTL     time.Duration
	SummaryTimeout       time.Duration
	StreamAttemptTimeout time.Duration
	HeartbeatInterval    time.Duration
	SettleDelay          time.Duration
	RunTimeout           time.Duration
	FallbackEnabled      bool

	// Workers
	WorkerCount int

	// Submission rate limit per user
	RunsPerMinute int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:     getEnvOrDefault("PORT", "8080"),
		Env:      getEnvOrDefault("ENV", "development"),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:  getEnvOrDefault("LOG_FILE", ""),

		StoreBackend: strings.ToLower(getEnvOrDefault("STORE_BACKEND", StoreBackendPostgres)),
		RedisURL:     mustGetEnv("REDIS_URL"),
		JWTSecret:    mustGetEnv("JWT_SECRET"),

		SummaryProvider:      strings.ToLower(getEnvOrDefault("SUMMARY_PROVIDER", ProviderGemini)),
		GeminiModel:          getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		OpenAIModel:          getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:        getEnvOrDefault("OPENAI_BASE_URL", ""),
		SummaryMaxTokens:     getEnvAsIntOrDefault("SUMMARY_MAX_TOKENS", 1000),

		PerplexityAPIKey:  getEnvOrDefault("PERPLEXITY_API_KEY", ""),
		PerplexityModel:   getEnvOrDefault("PERPLEXITY_MODEL", "sonar-pro"),
		PerplexityBaseURL: getEnvOrDefault("PERPLEXITY_BASE_URL", "https://api.perplexity.ai"),
		ResearchMaxTokens: getEnvAsIntOrDefault("RESEARCH_MAX_TOKENS", 800),

		MaxBodyChars:         getEnvAsIntOrDefault("MAX_BODY_CHARS", 4000),
		ResearchTimeout:      getEnvAsSecondsOrDefault("RESEARCH_TIMEOUT_SECONDS", 15*time.Second),
		ResearchPollAttempts: getEnvAsIntOrDefault("RESEARCH_POLL_ATTEMPTS", 15),
		ResearchPollInterval: getEnvAsSecondsOrDefault("RESEARCH_POLL_INTERVAL_SECONDS", 2*time.Second),
		ResearchCacheTTL:     time.Duration(getEnvAsIntOrDefault("RESEARCH_CACHE_TTL_MINUTES", 10)) * time.Minute,
		SummaryTimeout:       getEnvAsSecondsOrDefault("SUMMARY_TIMEOUT_SECONDS", 90*time.Second),
		StreamAttemptTimeout: getEnvAsSecondsOrDefault("STREAM_ATTEMPT_TIMEOUT_SECONDS", 60*time.Second),
		HeartbeatInterval:    getEnvAsSecondsOrDefault("HEARTBEAT_INTERVAL_SECONDS", 5*time.Second),
		SettleDelay:          time.Duration(getEnvAsIntOrDefault("SETTLE_DELAY_MS", 300)) * time.Millisecond,
		RunTimeout:           getEnvAsSecondsOrDefault("RUN_TIMEOUT_SECONDS", 180*time.Second),
		FallbackEnabled:      getEnvAsBoolOrDefault("FALLBACK_SUMMARY_ENABLED", true),

		WorkerCount:   getEnvAsIntOrDefault("WORKER_COUNT", 3),
		RunsPerMinute: getEnvAsIntOrDefault("RUNS_PER_MINUTE", 10),

		FrontendURL: getEnvOrDefault("FRONTEND_URL", "http://localhost:3000"),
	}

	switch cfg.StoreBackend {
	case StoreBackendPostgres:
		cfg.DatabaseURL = mustGetEnv("DATABASE_URL")
	case StoreBackendFirestore:
		cfg.FirestoreProjectID = mustGetEnv("FIRESTORE_PROJECT_ID")
	default:
		panic(fmt.Sprintf("unsupported STORE_BACKEND %q", cfg.StoreBackend))
	}

	switch cfg.SummaryProvider {
	case ProviderGemini:
		cfg.GeminiAPIKey = mustGetEnv("GEMINI_API_KEY")
	case ProviderOpenAI:
		cfg.OpenAIAPIKey = mustGetEnv("OPENAI_API_KEY")
	default:
		panic(fmt.Sprintf("unsupported SUMMARY_PROVIDER %q", cfg.SummaryProvider))
	}

	return cfg
}

// WebResearchEnabled reports whether research provider credentials are present.
func (c *Config) WebResearchEnabled() bool {
	return c.PerplexityAPIKey != ""
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvAsSecondsOrDefault reads a whole number of seconds. Non-positive values fall back.
func getEnvAsSecondsOrDefault(key string, defaultVal time.Duration) time.Duration {
	n := getEnvAsIntOrDefault(key, 0)
	if n <= 0 {
		return defaultVal
	}
	return time.Duration(n) * time.Second
}
