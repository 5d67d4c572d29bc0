// Package store persists completed research runs to a libsql/sqlite
// database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"deepsearch/backend/internal/config"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("research run not found")

type Run struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Question  string          `json:"question"`
	Answer    string          `json:"answer"`
	Messages  json.RawMessage `json:"messages"`
	Sources   json.RawMessage `json:"sources"`
	CreatedAt string          `json:"createdAt"`
}

func Open(cfg config.Config) (*sql.DB, error) {
	dsn, err := buildDSN(cfg.DatabaseURL, cfg.DatabaseAuthToken)
	if err != nil {
		return nil, err
	}

	database, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql db: %w", err)
	}

	if err := database.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return database, nil
}

func buildDSN(rawURL, authToken string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", fmt.Errorf("empty database url")
	}

	if strings.HasPrefix(rawURL, "file:") {
		return rawURL, nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}

	if strings.HasPrefix(rawURL, "libsql://") {
		query := parsed.Query()
		if query.Get("authToken") == "" && strings.TrimSpace(authToken) != "" {
			query.Set("authToken", strings.TrimSpace(authToken))
			parsed.RawQuery = query.Encode()
		}
	}

	return parsed.String(), nil
}

func Migrate(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS research_runs (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  question TEXT NOT NULL,
  answer TEXT NOT NULL,
  messages TEXT NOT NULL,
  sources TEXT NOT NULL,
  created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_research_runs_created_at ON research_runs(created_at);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate research_runs: %w", err)
	}
	return nil
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return Store{db: db}
}

// SaveRun inserts a completed run and returns it with the generated id and
// timestamp filled in.
func (s Store) SaveRun(ctx context.Context, run Run) (Run, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if len(run.Messages) == 0 {
		run.Messages = json.RawMessage("[]")
	}
	if len(run.Sources) == 0 {
		run.Sources = json.RawMessage("[]")
	}

	query := `
INSERT INTO research_runs (id, title, question, answer, messages, sources)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING created_at;
`
	if err := s.db.QueryRowContext(ctx, query,
		run.ID,
		strings.TrimSpace(run.Title),
		strings.TrimSpace(run.Question),
		run.Answer,
		string(run.Messages),
		string(run.Sources),
	).Scan(&run.CreatedAt); err != nil {
		return Run{}, fmt.Errorf("save research run: %w", err)
	}
	return run, nil
}

func (s Store) GetRun(ctx context.Context, id string) (Run, error) {
	query := `
SELECT id, title, question, answer, messages, sources, created_at
FROM research_runs
WHERE id = ?;
`
	var run Run
	var messages, sources string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Title,
		&run.Question,
		&run.Answer,
		&messages,
		&sources,
		&run.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get research run: %w", err)
	}
	run.Messages = json.RawMessage(messages)
	run.Sources = json.RawMessage(sources)
	return run, nil
}

// ListRuns returns the most recent runs without their message payloads.
func (s Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit < 1 {
		limit = 20
	}
	query := `
SELECT id, title, question, created_at
FROM research_runs
ORDER BY created_at DESC, id DESC
LIMIT ?;
`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list research runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0, limit)
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Title, &run.Question, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan research run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate research runs: %w", err)
	}
	return runs, nil
}
