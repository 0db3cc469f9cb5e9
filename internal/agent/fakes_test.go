package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/web3devz/polytrader/internal/domain"
	"github.com/web3devz/polytrader/internal/ports"
)

// scriptedReasoner answers completions from per-schema scripts. Each entry is
// either an error to return or a value marshalled into out. The last entry
// repeats once the script runs dry.
type scriptedReasoner struct {
	mu     sync.Mutex
	script map[string][]any
	calls  map[string]int
}

func newScriptedReasoner() *scriptedReasoner {
	return &scriptedReasoner{
		script: make(map[string][]any),
		calls:  make(map[string]int),
	}
}

func (r *scriptedReasoner) on(schemaName string, entries ...any) *scriptedReasoner {
	r.script[schemaName] = append(r.script[schemaName], entries...)
	return r
}

func (r *scriptedReasoner) callCount(schemaName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[schemaName]
}

func (r *scriptedReasoner) Complete(_ context.Context, req ports.CompletionRequest, out any) error {
	r.mu.Lock()
	i := r.calls[req.SchemaName]
	r.calls[req.SchemaName]++
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

type fakeMarkets struct {
	mu     sync.Mutex
	market domain.Market
	errs   []error // popped per call; exhausted means success
	calls  int
}

func (f *fakeMarkets) GetMarket(_ context.Context, _ string) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return domain.Market{}, err
	}
	return f.market, nil
}

type fakeBooks struct {
	books map[string]domain.OrderBook
	err   error
}

func (f *fakeBooks) FetchOrderBooks(_ context.Context, _ []string) (map[string]domain.OrderBook, error) {
	return f.books, f.err
}

type fakeTrades struct {
	trades []domain.Trade
	err    error
}

func (f *fakeTrades) FetchTrades(_ context.Context, _ string, _ int) ([]domain.Trade, error) {
	return f.trades, f.err
}

type fakeResearcher struct {
	mu     sync.Mutex
	report domain.ResearchReport
	err    error
	calls  int
	// guidance received per call, to assert reflection feedback flows in
	guidance []string
}

func (f *fakeResearcher) Research(_ context.Context, q ResearchQuery) (domain.ResearchReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.guidance = append(f.guidance, q.Guidance)
	return f.report, f.err
}

type fakeExecutor struct {
	mu    sync.Mutex
	res   domain.ExecutionResult
	err   error
	calls int
}

func (f *fakeExecutor) SubmitOrder(_ context.Context, _ ports.OrderRequest) (domain.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.res, f.err
}

func (f *fakeExecutor) GetBalance(_ context.Context) (float64, error) { return 100, nil }

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memStore is an in-memory CheckpointStore.
type memStore struct {
	mu  sync.Mutex
	cps map[string]ports.Checkpoint
}

func newMemStore() *memStore {
	return &memStore{cps: make(map[string]ports.Checkpoint)}
}

func (m *memStore) Save(_ context.Context, cp ports.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cps[cp.RunID] = cp
	return nil
}

func (m *memStore) Load(_ context.Context, runID string) (ports.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[runID]
	if !ok {
		return ports.Checkpoint{}, fmt.Errorf("memStore: %s: %w", runID, domain.ErrUnknownRun)
	}
	return cp, nil
}

func (m *memStore) ListSuspended(_ context.Context) ([]ports.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ports.Checkpoint
	for _, cp := range m.cps {
		if cp.Status == domain.StatusSuspended {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

// fixture bundles scripted collaborators around an engine.
type fixture struct {
	markets    *fakeMarkets
	books      *fakeBooks
	trades     *fakeTrades
	researcher *fakeResearcher
	reasoner   *scriptedReasoner
	executor   *fakeExecutor
	store      *memStore
}

func testMarket() domain.Market {
	return domain.Market{
		ConditionID: "0xc0ffee",
		MarketID:    "512329",
		Question:    "Will the launch happen before March?",
		Active:      true,
		Liquidity:   25000,
		Volume24h:   4200,
		Tokens: [2]domain.Token{
			{TokenID: "yes-token", Outcome: domain.OutcomeYes, Price: 0.62},
			{TokenID: "no-token", Outcome: domain.OutcomeNo, Price: 0.38},
		},
	}
}

func newFixture() *fixture {
	return &fixture{
		markets: &fakeMarkets{market: testMarket()},
		books: &fakeBooks{books: map[string]domain.OrderBook{
			"yes-token": {
				TokenID: "yes-token",
				Bids:    []domain.BookEntry{{Price: 0.61, Size: 200}},
				Asks:    []domain.BookEntry{{Price: 0.63, Size: 150}},
			},
			"no-token": {
				TokenID: "no-token",
				Bids:    []domain.BookEntry{{Price: 0.37, Size: 120}},
				Asks:    []domain.BookEntry{{Price: 0.39, Size: 90}},
			},
		}},
		trades: &fakeTrades{trades: []domain.Trade{
			{ID: "t1", TokenID: "yes-token", Side: "BUY", Price: 0.62, Size: 10, Timestamp: time.Now().UTC()},
		}},
		researcher: &fakeResearcher{report: domain.ResearchReport{
			Report:      "evidence points to an on-time launch",
			Learnings:   []string{"vendor confirmed the date", "no open blockers"},
			VisitedURLs: []string{"https://example.com/a"},
			Confidence:  0.7,
		}},
		reasoner: newScriptedReasoner(),
		executor: &fakeExecutor{res: domain.ExecutionResult{
			OrderID:      "order-1",
			Status:       "matched",
			TakingAmount: "8064516",
			MakingAmount: "5000000",
		}},
		store: newMemStore(),
	}
}

func (f *fixture) engine(budgets Budgets) *Engine {
	return New(Deps{
		Markets:    f.markets,
		Books:      f.books,
		Trades:     f.trades,
		Researcher: f.researcher,
		Reasoner:   f.reasoner,
		Executor:   f.executor,
		Store:      f.store,
	}, Config{
		Budgets:      budgets,
		StageRetries: 2,
		BackoffBase:  time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func satisfiedVerdict() Verdict {
	return Verdict{Reason: []string{"covers the question"}, IsSatisfactory: true}
}

func retryVerdict(instructions string) Verdict {
	return Verdict{
		Reason:                  []string{"coverage is thin"},
		IsSatisfactory:          false,
		ImprovementInstructions: instructions,
	}
}

func buyDecision() domain.TradeDecision {
	return domain.TradeDecision{
		Side:       domain.SideBuy,
		Outcome:    domain.OutcomeYes,
		TokenID:    "yes-token",
		Size:       5,
		Confidence: 0.8,
		Reason:     "research and books agree on the yes side",
	}
}

func testAnalysis() domain.AnalysisReport {
	return domain.AnalysisReport{
		Summary:           "tight spread, bid-side pressure",
		PriceAnalysis:     "yes trades at 0.62",
		LiquidityAnalysis: "enough depth for a small order",
		Confidence:        0.75,
	}
}

// scriptHappyPath wires the reasoner so every gate accepts on the first try
// and the trade stage proposes a valid BUY.
func (f *fixture) scriptHappyPath() {
	f.reasoner.
		on("reflection_verdict", satisfiedVerdict()).
		on("market_analysis", testAnalysis()).
		on("trade_decision", buyDecision())
}

func startCheckpoint(runID string, dryRun bool) ports.Checkpoint {
	now := time.Now().UTC()
	return ports.Checkpoint{
		RunID:  runID,
		Node:   string(NodeFetchMarketData),
		Status: domain.StatusPending,
		State: domain.RunState{
			RunID:          runID,
			MarketID:       "512329",
			AvailableFunds: 10,
			DryRun:         dryRun,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// drain collects buffered events after a synchronous engine run.
func drain(events chan domain.Event) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev := <-events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func hasInterrupt(events []domain.Event) bool {
	for _, ev := range events {
		if ev.Interrupt() {
			return true
		}
	}
	return false
}
