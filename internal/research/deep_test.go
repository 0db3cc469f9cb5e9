package research

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3devz/polytrader/internal/agent"
	"github.com/web3devz/polytrader/internal/domain"
	"github.com/web3devz/polytrader/internal/ports"
)

// scriptedReasoner answers completions from per-schema scripts, repeating the
// last entry once a script runs dry.
type scriptedReasoner struct {
	mu      sync.Mutex
	script  map[string][]any
	calls   map[string]int
	prompts map[string][]string
}

func newScriptedReasoner() *scriptedReasoner {
	return &scriptedReasoner{
		script:  make(map[string][]any),
		calls:   make(map[string]int),
		prompts: make(map[string][]string),
	}
}

func (r *scriptedReasoner) on(schemaName string, entries ...any) *scriptedReasoner {
	r.script[schemaName] = append(r.script[schemaName], entries...)
	return r
}

func (r *scriptedReasoner) Complete(_ context.Context, req ports.CompletionRequest, out any) error {
	r.mu.Lock()
	i := r.calls[req.SchemaName]
	r.calls[req.SchemaName]++
	r.prompts[req.SchemaName] = append(r.prompts[req.SchemaName], req.Prompt)
	entries := r.script[req.SchemaName]
	r.mu.Unlock()

	if len(entries) == 0 {
		return fmt.Errorf("scriptedReasoner: no script for schema %q", req.SchemaName)
	}
	if i >= len(entries) {
		i = len(entries) - 1
	}
	if err, ok := entries[i].(error); ok {
		return err
	}
	b, err := json.Marshal(entries[i])
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

type fakeSearcher struct {
	mu      sync.Mutex
	results []ports.SearchResult
	err     error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) ([]ports.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.results, f.err
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type queriesPayload struct {
	Queries []searchQuery `json:"queries"`
}

func testEngine(reasoner ports.Reasoner, searcher ports.Searcher, depth, breadth int) *Engine {
	return New(reasoner, searcher, Config{
		Depth:      depth,
		Breadth:    breadth,
		MaxResults: 5,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestResearchRecursesWithHalvedBreadth(t *testing.T) {
	reasoner := newScriptedReasoner().
		on("search_queries",
			queriesPayload{Queries: []searchQuery{
				{Query: "launch date confirmation", ResearchGoal: "timeline"},
				{Query: "vendor readiness reports", ResearchGoal: "execution"},
			}},
			// The second round offers more queries than its breadth allows;
			// only the first may be searched.
			queriesPayload{Queries: []searchQuery{
				{Query: "regulatory approvals pending"},
				{Query: "should be truncated"},
			}}).
		on("learnings", extraction{
			Learnings:         []string{"date was confirmed in January", "two vendors report delays"},
			FollowUpQuestions: []string{"which approvals are still open?"},
		}).
		on("research_report", map[string]any{"report": "launch likely on time", "confidence": 0.7})

	searcher := &fakeSearcher{results: []ports.SearchResult{
		{Title: "A", URL: "https://b.example/post", Content: "body", Score: 0.9},
		{Title: "B", URL: "https://a.example/news", Content: "body", Score: 0.8},
	}}

	e := testEngine(reasoner, searcher, 2, 2)
	report, err := e.Research(context.Background(), agent.ResearchQuery{
		Question: "Will the launch happen before March?",
	})
	require.NoError(t, err)

	// Round one searches both queries, round two halves the breadth to one.
	assert.Equal(t, 3, searcher.callCount())
	assert.Contains(t, searcher.queries, "regulatory approvals pending")
	assert.NotContains(t, searcher.queries, "should be truncated")

	// Identical learnings across extractions collapse to one copy each.
	assert.Equal(t, []string{"date was confirmed in January", "two vendors report delays"}, report.Learnings)
	assert.Equal(t, []string{"https://a.example/news", "https://b.example/post"}, report.VisitedURLs)
	assert.Equal(t, "launch likely on time", report.Report)
	assert.InDelta(t, 0.7, report.Confidence, 1e-9)
}

func TestResearchGuidanceSteersTheGoal(t *testing.T) {
	reasoner := newScriptedReasoner().
		on("search_queries", queriesPayload{Queries: []searchQuery{{Query: "q"}}}).
		on("learnings", extraction{Learnings: []string{"a fact"}}).
		on("research_report", map[string]any{"report": "r", "confidence": 0.5})
	searcher := &fakeSearcher{results: []ports.SearchResult{{Title: "T", URL: "https://x.example", Content: "c"}}}

	e := testEngine(reasoner, searcher, 1, 1)
	_, err := e.Research(context.Background(), agent.ResearchQuery{
		Question: "Will it rain?",
		Guidance: "check the long-range forecast models",
	})
	require.NoError(t, err)

	require.NotEmpty(t, reasoner.prompts["search_queries"])
	assert.Contains(t, reasoner.prompts["search_queries"][0], "Focus on: check the long-range forecast models")
}

func TestResearchNoLearningsIsUnavailable(t *testing.T) {
	reasoner := newScriptedReasoner().
		on("search_queries", queriesPayload{Queries: []searchQuery{{Query: "q"}}})
	searcher := &fakeSearcher{results: nil} // every search comes back empty

	e := testEngine(reasoner, searcher, 1, 1)
	_, err := e.Research(context.Background(), agent.ResearchQuery{Question: "anything?"})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestResearchPropagatesSearchErrors(t *testing.T) {
	reasoner := newScriptedReasoner().
		on("search_queries", queriesPayload{Queries: []searchQuery{{Query: "q"}}})
	searcher := &fakeSearcher{err: domain.ErrRateLimited}

	e := testEngine(reasoner, searcher, 1, 1)
	_, err := e.Research(context.Background(), agent.ResearchQuery{Question: "anything?"})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}
