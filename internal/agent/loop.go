package agent

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"deepsearch/backend/internal/crawler"
	"deepsearch/backend/internal/llm"
	"deepsearch/backend/internal/serper"
)

type Config struct {
	MaxSteps        int
	ResultsPerQuery int
}

// Loop drives one research run: guardrail, then bounded
// plan/search/crawl/summarize iterations, then the streamed answer.
type Loop struct {
	searcher   Searcher
	crawler    BatchCrawler
	rewriter   Rewriter
	planner    Planner
	guardrail  Guardrail
	summarizer *Summarizer
	composer   Composer
	cfg        Config
}

func NewLoop(searcher Searcher, crawler BatchCrawler, rewriter Rewriter, planner Planner, guardrail Guardrail, summarizer *Summarizer, composer Composer, cfg Config) *Loop {
	if cfg.MaxSteps < 1 {
		cfg.MaxSteps = 1
	}
	if cfg.ResultsPerQuery < 1 {
		cfg.ResultsPerQuery = 1
	}
	return &Loop{
		searcher:   searcher,
		crawler:    crawler,
		rewriter:   rewriter,
		planner:    planner,
		guardrail:  guardrail,
		summarizer: summarizer,
		composer:   composer,
		cfg:        cfg,
	}
}

// Run executes the research loop for one conversation. onDelta receives
// answer text as it streams; onEvent receives side-channel annotations.
// Only configuration and structured-generation failures surface as errors;
// search and crawl failures degrade into placeholder content.
func (l *Loop) Run(ctx context.Context, conversation []Message, onDelta func(string) error, onEvent func(Event)) (RunResult, error) {
	rc := NewResearchContext(conversation)
	if rc.Question() == "" {
		return RunResult{}, errors.New("conversation has no user message")
	}

	verdict, usage := l.guardrail.Check(ctx, rc)
	rc.RecordUsage("guardrail", usage)
	if !verdict.Allow {
		log.Printf("research refused: reason=%q", verdict.Reason)
		if onDelta != nil {
			if err := onDelta(RefusalMessage); err != nil {
				return RunResult{}, err
			}
		}
		return RunResult{Answer: RefusalMessage, Refused: true, Usage: rc.UsageLedger}, nil
	}

	plannerAnswered := false
	for rc.Step < l.cfg.MaxSteps {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}

		plan, planUsage, err := l.rewriter.Plan(ctx, rc)
		rc.RecordUsage(fmt.Sprintf("query_plan step %d", rc.Step+1), planUsage)
		if err != nil {
			return RunResult{}, err
		}
		emit(onEvent, Event{
			Type:      EventAction,
			Step:      rc.Step + 1,
			Action:    ActionContinue,
			Reasoning: plan.Plan,
			Plan:      plan.Plan,
			Queries:   plan.Queries,
		})

		perQuery := l.searchAll(ctx, plan.Queries)
		deduped, urls := dedupeByURL(perQuery)
		if len(urls) > 0 {
			emit(onEvent, Event{Type: EventSources, Step: rc.Step + 1, Sources: urls})
		}

		batch := l.crawler.CrawlBatch(ctx, urls)
		crawled := make(map[string]int, len(batch.Results))
		for i, result := range batch.Results {
			crawled[result.URL] = i
		}

		entries := l.summarizeAll(ctx, rc, plan.Queries, deduped, batch, crawled)
		for _, entry := range entries {
			rc.AppendSearch(entry.entry)
			for _, u := range entry.usages {
				rc.RecordUsage(fmt.Sprintf("summarize step %d", rc.Step+1), u)
			}
		}
		emit(onEvent, Event{Type: EventUsage, Step: rc.Step + 1, TotalTokens: rc.TotalTokens()})

		decision, decisionUsage, err := l.planner.Decide(ctx, rc)
		rc.RecordUsage(fmt.Sprintf("decision step %d", rc.Step+1), decisionUsage)
		if err != nil {
			return RunResult{}, err
		}
		emit(onEvent, Event{
			Type:      EventAction,
			Step:      rc.Step + 1,
			Action:    decision.Action,
			Reasoning: decision.Reasoning,
		})
		if decision.Action == ActionAnswer {
			plannerAnswered = true
			break
		}
		rc.SetFeedback(decision.Feedback)
		rc.Step++
	}

	isFinalAttempt := !plannerAnswered
	answer, composeUsage, err := l.composer.Compose(ctx, rc, isFinalAttempt, onDelta)
	rc.RecordUsage("answer", composeUsage)
	if err != nil {
		return RunResult{}, err
	}
	emit(onEvent, Event{Type: EventUsage, Step: rc.Step, TotalTokens: rc.TotalTokens()})

	return RunResult{
		Answer:  answer,
		Sources: rc.Sources(),
		Steps:   rc.Step,
		Usage:   rc.UsageLedger,
	}, nil
}

// searchAll runs every planned query concurrently. A failed search logs and
// yields an empty slot instead of aborting the step.
func (l *Loop) searchAll(ctx context.Context, queries []string) [][]serper.Result {
	perQuery := make([][]serper.Result, len(queries))

	g, groupCtx := errgroup.WithContext(ctx)
	for i, query := range queries {
		slot, q := i, query
		g.Go(func() error {
			results, err := l.searcher.Search(groupCtx, q, l.cfg.ResultsPerQuery)
			if err != nil {
				log.Printf("search failed: query=%q error=%v", q, err)
				return nil
			}
			perQuery[slot] = results
			return nil
		})
	}
	_ = g.Wait()
	return perQuery
}

// dedupeByURL removes cross-query duplicates. The first query in plan order
// to surface a URL owns it; the flattened URL list keeps that order.
func dedupeByURL(perQuery [][]serper.Result) ([][]serper.Result, []string) {
	seen := make(map[string]bool)
	deduped := make([][]serper.Result, len(perQuery))
	urls := make([]string, 0, 16)
	for i, results := range perQuery {
		for _, result := range results {
			if result.URL == "" || seen[result.URL] {
				continue
			}
			seen[result.URL] = true
			deduped[i] = append(deduped[i], result)
			urls = append(urls, result.URL)
		}
	}
	return deduped, urls
}

type stepEntry struct {
	entry  SearchEntry
	usages []llm.Usage
}

// summarizeAll produces one SearchEntry per planned query, in plan order.
// Summaries run concurrently with per-slot writes; failed crawls and failed
// generations become placeholder summaries so the planner can still reason
// about them.
func (l *Loop) summarizeAll(ctx context.Context, rc *ResearchContext, queries []string, deduped [][]serper.Result, batch crawler.BatchResult, crawled map[string]int) []stepEntry {
	conversation := rc.ConversationText()
	entries := make([]stepEntry, len(queries))
	for i, query := range queries {
		entries[i].entry = SearchEntry{Query: query, Results: make([]SearchResult, len(deduped[i]))}
		entries[i].usages = make([]llm.Usage, len(deduped[i]))
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for qi := range queries {
		for ri := range deduped[qi] {
			qi, ri := qi, ri
			result := deduped[qi][ri]
			g.Go(func() error {
				item := SearchResult{
					Date:    result.Date,
					Title:   result.Title,
					URL:     result.URL,
					Snippet: result.Snippet,
				}
				slot, found := crawled[result.URL]
				switch {
				case !found:
					item.Summary = "failed to scrape: no crawl result"
				case !batch.Results[slot].Success:
					item.Summary = "failed to scrape: " + batch.Results[slot].Error
				default:
					summary, usage, err := l.summarizer.Summarize(groupCtx, queries[qi], result.URL, batch.Results[slot].Markdown, conversation)
					if err != nil {
						log.Printf("summarize failed: url=%s error=%v", result.URL, err)
						item.Summary = "failed to summarize: " + err.Error()
					} else {
						item.Summary = summary
						entries[qi].usages[ri] = usage
					}
				}
				entries[qi].entry.Results[ri] = item
				return nil
			})
		}
	}
	_ = g.Wait()

	for i := range entries {
		kept := make([]llm.Usage, 0, len(entries[i].usages))
		for _, usage := range entries[i].usages {
			if usage.TotalTokens > 0 || usage.PromptTokens > 0 || usage.CompletionTokens > 0 {
				kept = append(kept, usage)
			}
		}
		entries[i].usages = kept
	}
	return entries
}
