package httpapi

import (
	"context"
	"net/http"

	"deepsearch/backend/internal/agent"
	"deepsearch/backend/internal/config"
	"deepsearch/backend/internal/llm"
	"deepsearch/backend/internal/store"
)

// Researcher is the slice of the agent loop the transport layer needs.
type Researcher interface {
	Run(ctx context.Context, conversation []agent.Message, onDelta func(string) error, onEvent func(agent.Event)) (agent.RunResult, error)
}

// TitleGenerator produces the short run title persisted with the answer.
type TitleGenerator interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, llm.Usage, error)
}

type Handler struct {
	cfg        config.Config
	researcher Researcher
	titler     TitleGenerator
	runs       *store.Store
}

// NewHandler wires the transport layer. runs may be nil when persistence is
// not configured.
func NewHandler(cfg config.Config, researcher Researcher, titler TitleGenerator, runs *store.Store) Handler {
	return Handler{cfg: cfg, researcher: researcher, titler: titler, runs: runs}
}

func (h Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
