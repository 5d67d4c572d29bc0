package httpapi

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"deepsearch/backend/internal/agent"
	"deepsearch/backend/internal/cache"
	"deepsearch/backend/internal/config"
	"deepsearch/backend/internal/crawler"
	"deepsearch/backend/internal/llm"
	"deepsearch/backend/internal/serper"
	"deepsearch/backend/internal/store"
)

// NewRouter wires the full research stack behind the HTTP surface. db may
// be nil when persistence is not configured.
func NewRouter(cfg config.Config, db *sql.DB) http.Handler {
	cacheStore := cache.NewMemoryStore()
	llmClient := llm.NewClient(cfg, nil)
	searcher := newCachedSearcher(serper.NewClient(cfg, nil), cacheStore, cfg.CacheTTL)
	pages := crawler.New(crawler.Config{
		UserAgent:  cfg.CrawlUserAgent,
		MaxRetries: cfg.CrawlMaxRetries,
	}, cacheStore, cfg.CacheTTL, nil)

	loop := agent.NewLoop(
		searcher,
		pages,
		agent.NewRewriter(llmClient, cfg.QueriesPerStep),
		agent.NewPlanner(llmClient, cfg.ResearchMaxSteps),
		agent.NewGuardrail(llmClient, cfg.GuardrailEnabled),
		agent.NewSummarizer(llmClient, cacheStore, cfg.CacheTTL),
		agent.NewComposer(llmClient),
		agent.Config{MaxSteps: cfg.ResearchMaxSteps, ResultsPerQuery: cfg.ResultsPerQuery},
	)

	var runs *store.Store
	if db != nil {
		s := store.NewStore(db)
		runs = &s
	}
	h := NewHandler(cfg, loop, llmClient, runs)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/research", h.Research)
		v1.Get("/research/runs", h.ListRuns)
		v1.Get("/research/runs/{id}", h.GetRun)
	})

	return r
}
