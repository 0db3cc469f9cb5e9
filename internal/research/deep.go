// Package research implements iterative web research: the model proposes
// search queries, the searcher answers them, learnings accumulate, and
// follow-up questions seed the next round until the depth budget runs out.
package research

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/web3devz/polytrader/internal/agent"
	"github.com/web3devz/polytrader/internal/domain"
	"github.com/web3devz/polytrader/internal/ports"
)

// maxConcurrentSearches bounds parallel search calls per round.
const maxConcurrentSearches = 4

// Config tunes a research run.
type Config struct {
	Depth      int // rounds of query generation, halving breadth each round
	Breadth    int // queries in the first round
	MaxResults int // documents per query
	Logger     *slog.Logger
}

// Engine is the deep-research implementation of agent.Researcher.
type Engine struct {
	reasoner ports.Reasoner
	searcher ports.Searcher
	cfg      Config
	log      *slog.Logger
}

// New builds a research engine. Zero-value config fields get defaults.
func New(reasoner ports.Reasoner, searcher ports.Searcher, cfg Config) *Engine {
	if cfg.Depth <= 0 {
		cfg.Depth = 2
	}
	if cfg.Breadth <= 0 {
		cfg.Breadth = 3
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{reasoner: reasoner, searcher: searcher, cfg: cfg, log: cfg.Logger}
}

// Research runs the recursive loop and digests everything into one report.
func (e *Engine) Research(ctx context.Context, q agent.ResearchQuery) (domain.ResearchReport, error) {
	acc := &accumulator{urls: make(map[string]struct{})}

	goal := q.Question
	if q.Guidance != "" {
		goal += "\n\nFocus on: " + q.Guidance
	}
	if err := e.round(ctx, q, goal, e.cfg.Depth, e.cfg.Breadth, acc); err != nil {
		return domain.ResearchReport{}, fmt.Errorf("research.Research: %w", err)
	}
	if len(acc.learnings) == 0 {
		return domain.ResearchReport{}, fmt.Errorf("research.Research: no learnings gathered: %w", domain.ErrUnavailable)
	}

	report, err := e.digest(ctx, q, acc)
	if err != nil {
		return domain.ResearchReport{}, fmt.Errorf("research.Research: %w", err)
	}
	report.Learnings = acc.learnings
	report.VisitedURLs = acc.sortedURLs()
	return report, nil
}

// round generates breadth queries for the goal, searches them concurrently,
// extracts learnings, and recurses on the follow-up questions with halved
// breadth until depth is spent.
func (e *Engine) round(ctx context.Context, q agent.ResearchQuery, goal string, depth, breadth int, acc *accumulator) error {
	if depth <= 0 || breadth <= 0 {
		return nil
	}

	queries, err := e.generateQueries(ctx, q, goal, breadth, acc.learnings)
	if err != nil {
		return err
	}
	e.log.Debug("research round", "depth", depth, "queries", len(queries))

	var followUps []string
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSearches)
	for _, query := range queries {
		g.Go(func() error {
			results, err := e.searcher.Search(gctx, query.Query, e.cfg.MaxResults)
			if err != nil {
				return fmt.Errorf("search %q: %w", query.Query, err)
			}
			if len(results) == 0 {
				return nil
			}
			extracted, err := e.extractLearnings(gctx, query, results)
			if err != nil {
				return err
			}
			mu.Lock()
			acc.add(extracted.Learnings, results)
			followUps = append(followUps, extracted.FollowUpQuestions...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(followUps) == 0 {
		return nil
	}
	nextGoal := goal + "\n\nPrevious research found these open questions:\n- " + strings.Join(followUps, "\n- ")
	return e.round(ctx, q, nextGoal, depth-1, breadth/2, acc)
}

type searchQuery struct {
	Query        string `json:"query"`
	ResearchGoal string `json:"research_goal"`
}

var queriesSchema = []byte(`{
	"type": "object",
	"properties": {
		"queries": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"query": {"type": "string", "minLength": 1},
					"research_goal": {"type": "string"}
				},
				"required": ["query"]
			}
		}
	},
	"required": ["queries"]
}`)

const querySystem = `You are a research assistant preparing web searches about a prediction market.
Generate distinct, specific search queries that together cover the question.
Each query should target a different angle. Respond with a single JSON object
matching the requested schema.`

func (e *Engine) generateQueries(ctx context.Context, q agent.ResearchQuery, goal string, breadth int, prior []string) ([]searchQuery, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Research goal:\n%s\n", goal)
	if q.Context != "" {
		fmt.Fprintf(&b, "\nMarket context:\n%s\n", q.Context)
	}
	if q.Instructions != "" {
		fmt.Fprintf(&b, "\nUser instructions:\n%s\n", q.Instructions)
	}
	if len(prior) > 0 {
		b.WriteString("\nAlready learned (do not repeat):\n")
		for _, l := range prior {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}
	fmt.Fprintf(&b, "\nGenerate at most %d queries.\n", breadth)

	var out struct {
		Queries []searchQuery `json:"queries"`
	}
	err := e.reasoner.Complete(ctx, ports.CompletionRequest{
		System:     querySystem,
		Prompt:     b.String(),
		SchemaName: "search_queries",
		Schema:     queriesSchema,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("generate queries: %w", err)
	}
	if len(out.Queries) > breadth {
		out.Queries = out.Queries[:breadth]
	}
	return out.Queries, nil
}

type extraction struct {
	Learnings         []string `json:"learnings"`
	FollowUpQuestions []string `json:"follow_up_questions"`
}

var learningsSchema = []byte(`{
	"type": "object",
	"properties": {
		"learnings": {"type": "array", "items": {"type": "string"}},
		"follow_up_questions": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["learnings"]
}`)

const learningsSystem = `You are extracting facts from web search results.
Produce concise, information-dense learnings: include dates, numbers, and
named entities where present. Also propose follow-up questions the results
raise but do not answer. Respond with a single JSON object matching the
requested schema.`

func (e *Engine) extractLearnings(ctx context.Context, query searchQuery, results []ports.SearchResult) (extraction, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Search query: %s\n", query.Query)
	if query.ResearchGoal != "" {
		fmt.Fprintf(&b, "Goal of this query: %s\n", query.ResearchGoal)
	}
	b.WriteString("\nResults:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "\n[%d] %s (%s)\n%s\n", i+1, r.Title, r.URL, clip(r.Content, 2000))
	}

	var out extraction
	err := e.reasoner.Complete(ctx, ports.CompletionRequest{
		System:     learningsSystem,
		Prompt:     b.String(),
		SchemaName: "learnings",
		Schema:     learningsSchema,
	}, &out)
	if err != nil {
		return extraction{}, fmt.Errorf("extract learnings for %q: %w", query.Query, err)
	}
	return out, nil
}

var reportSchema = []byte(`{
	"type": "object",
	"properties": {
		"report": {"type": "string", "minLength": 1},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	},
	"required": ["report", "confidence"]
}`)

const reportSystem = `You are writing a research report about a prediction market question.
Synthesize the learnings below into a structured report that helps decide
how the market will resolve. State the key evidence for each side and where
the evidence is thin. Respond with a single JSON object matching the
requested schema.`

// digest folds the accumulated learnings into the final report.
func (e *Engine) digest(ctx context.Context, q agent.ResearchQuery, acc *accumulator) (domain.ResearchReport, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Market question: %s\n", q.Question)
	if q.Guidance != "" {
		fmt.Fprintf(&b, "\nSpecific focus requested:\n%s\n", q.Guidance)
	}
	b.WriteString("\nLearnings:\n")
	for _, l := range acc.learnings {
		fmt.Fprintf(&b, "- %s\n", l)
	}

	var out struct {
		Report     string  `json:"report"`
		Confidence float64 `json:"confidence"`
	}
	err := e.reasoner.Complete(ctx, ports.CompletionRequest{
		System:     reportSystem,
		Prompt:     b.String(),
		SchemaName: "research_report",
		Schema:     reportSchema,
	}, &out)
	if err != nil {
		return domain.ResearchReport{}, fmt.Errorf("digest: %w", err)
	}
	return domain.ResearchReport{Report: out.Report, Confidence: out.Confidence}, nil
}

// accumulator collects deduplicated learnings and source URLs across rounds.
type accumulator struct {
	learnings []string
	urls      map[string]struct{}
}

func (a *accumulator) add(learnings []string, results []ports.SearchResult) {
	for _, l := range learnings {
		if l == "" || a.contains(l) {
			continue
		}
		a.learnings = append(a.learnings, l)
	}
	for _, r := range results {
		if r.URL != "" {
			a.urls[r.URL] = struct{}{}
		}
	}
}

func (a *accumulator) contains(l string) bool {
	for _, existing := range a.learnings {
		if existing == l {
			return true
		}
	}
	return false
}

func (a *accumulator) sortedURLs() []string {
	urls := make([]string, 0, len(a.urls))
	for u := range a.urls {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
