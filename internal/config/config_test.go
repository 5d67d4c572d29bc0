package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SERPER_API_KEY", "serper-key")
	t.Setenv("OPENROUTER_API_KEY", "openrouter-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Port)
	}
	if cfg.ResearchMaxSteps != 10 {
		t.Fatalf("expected default step ceiling 10, got %d", cfg.ResearchMaxSteps)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Fatalf("expected 5m cache ttl, got %s", cfg.CacheTTL)
	}
	if len(cfg.AllowedOrigins) == 0 {
		t.Fatal("expected at least one allowed origin")
	}
	if !cfg.GuardrailEnabled {
		t.Fatal("expected guardrail enabled by default")
	}
}

func TestLoadRequiresSerperKey(t *testing.T) {
	t.Setenv("SERPER_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "openrouter-key")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing SERPER_API_KEY")
	}
}

func TestLoadRequiresOpenRouterKey(t *testing.T) {
	t.Setenv("SERPER_API_KEY", "serper-key")
	t.Setenv("OPENROUTER_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing OPENROUTER_API_KEY")
	}
}

func TestLoadRequiresAuthTokenForLibsql(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "libsql://deepsearch.example.turso.io")
	t.Setenv("DATABASE_AUTH_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for libsql url without auth token")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RESEARCH_MAX_STEPS", "4")
	t.Setenv("RESEARCH_QUERIES_PER_STEP", "5")
	t.Setenv("CACHE_TTL_SECONDS", "60")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ResearchMaxSteps != 4 {
		t.Fatalf("expected step ceiling 4, got %d", cfg.ResearchMaxSteps)
	}
	if cfg.QueriesPerStep != 5 {
		t.Fatalf("expected 5 queries per step, got %d", cfg.QueriesPerStep)
	}
	if cfg.CacheTTL != time.Minute {
		t.Fatalf("expected 1m cache ttl, got %s", cfg.CacheTTL)
	}
}
