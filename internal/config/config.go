package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort                = "8080"
	defaultFrontendOrigin      = "http://localhost:5173"
	defaultSerperBaseURL       = "https://google.serper.dev"
	defaultOpenRouterBaseURL   = "https://openrouter.ai/api/v1"
	defaultModel               = "openai/gpt-4.1-mini"
	defaultMaxSteps            = 10
	defaultQueriesPerStep      = 3
	defaultResultsPerQuery     = 5
	defaultCrawlMaxRetries     = 3
	defaultCacheTTLSeconds     = 300
	defaultResearchTimeoutSecs = 180
	defaultCrawlUserAgent      = "deepsearch-bot/1.0"
)

type Config struct {
	Port                   string
	Environment            string
	AllowedOrigins         []string
	SerperAPIKey           string
	SerperBaseURL          string
	OpenRouterAPIKey       string
	OpenRouterBaseURL      string
	OpenRouterModel        string
	DatabaseURL            string
	DatabaseAuthToken      string
	ResearchMaxSteps       int
	QueriesPerStep         int
	ResultsPerQuery        int
	CrawlMaxRetries        int
	CrawlUserAgent         string
	CacheTTL               time.Duration
	ResearchTimeoutSeconds int
	GuardrailEnabled       bool
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func Load() (Config, error) {
	cfg := Config{
		Port:                   envOrDefault("PORT", defaultPort),
		Environment:            envOrDefault("APP_ENV", "development"),
		SerperAPIKey:           strings.TrimSpace(os.Getenv("SERPER_API_KEY")),
		SerperBaseURL:          envOrDefault("SERPER_BASE_URL", defaultSerperBaseURL),
		OpenRouterAPIKey:       strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
		OpenRouterBaseURL:      envOrDefault("OPENROUTER_BASE_URL", defaultOpenRouterBaseURL),
		OpenRouterModel:        envOrDefault("OPENROUTER_MODEL", defaultModel),
		DatabaseURL:            strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DatabaseAuthToken:      strings.TrimSpace(os.Getenv("DATABASE_AUTH_TOKEN")),
		ResearchMaxSteps:       intOrDefault("RESEARCH_MAX_STEPS", defaultMaxSteps),
		QueriesPerStep:         intOrDefault("RESEARCH_QUERIES_PER_STEP", defaultQueriesPerStep),
		ResultsPerQuery:        intOrDefault("RESEARCH_RESULTS_PER_QUERY", defaultResultsPerQuery),
		CrawlMaxRetries:        intOrDefault("CRAWL_MAX_RETRIES", defaultCrawlMaxRetries),
		CrawlUserAgent:         envOrDefault("CRAWL_USER_AGENT", defaultCrawlUserAgent),
		ResearchTimeoutSeconds: intOrDefault("RESEARCH_TIMEOUT_SECONDS", defaultResearchTimeoutSecs),
		GuardrailEnabled:       boolOrDefault("GUARDRAIL_ENABLED", true),
	}

	cacheTTLSeconds := intOrDefault("CACHE_TTL_SECONDS", defaultCacheTTLSeconds)
	if cacheTTLSeconds <= 0 {
		return Config{}, errors.New("CACHE_TTL_SECONDS must be > 0")
	}
	cfg.CacheTTL = time.Duration(cacheTTLSeconds) * time.Second

	frontendOrigin := envOrDefault("FRONTEND_ORIGIN", defaultFrontendOrigin)
	origins := parseList(envOrDefault("CORS_ALLOWED_ORIGINS", frontendOrigin+",http://localhost:4173"))
	if len(origins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}
	cfg.AllowedOrigins = origins

	if cfg.SerperAPIKey == "" {
		return Config{}, errors.New("SERPER_API_KEY is required")
	}
	if cfg.OpenRouterAPIKey == "" {
		return Config{}, errors.New("OPENROUTER_API_KEY is required")
	}
	if strings.HasPrefix(cfg.DatabaseURL, "libsql://") && cfg.DatabaseAuthToken == "" {
		return Config{}, errors.New("DATABASE_AUTH_TOKEN is required for libsql:// URLs")
	}
	if cfg.ResearchMaxSteps < 1 {
		return Config{}, errors.New("RESEARCH_MAX_STEPS must be >= 1")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func boolOrDefault(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
