package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3devz/polytrader/internal/adapters/storage"
	"github.com/web3devz/polytrader/internal/agent"
	"github.com/web3devz/polytrader/internal/domain"
	"github.com/web3devz/polytrader/internal/ports"
)

// Stubbed collaborators drive a full dry run through the real engine, runner,
// and SQLite store, so the handlers are exercised end to end.

type stubMarkets struct{}

func (stubMarkets) GetMarket(_ context.Context, marketID string) (domain.Market, error) {
	if marketID != "512329" {
		return domain.Market{}, domain.ErrMarketNotFound
	}
	return domain.Market{
		ConditionID: "0xc0ffee",
		MarketID:    marketID,
		Question:    "Will the launch happen before March?",
		Active:      true,
		Tokens: [2]domain.Token{
			{TokenID: "yes-token", Outcome: domain.OutcomeYes, Price: 0.62},
			{TokenID: "no-token", Outcome: domain.OutcomeNo, Price: 0.38},
		},
	}, nil
}

type stubBooks struct{}

func (stubBooks) FetchOrderBooks(_ context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	books := make(map[string]domain.OrderBook, len(tokenIDs))
	for _, id := range tokenIDs {
		books[id] = domain.OrderBook{
			TokenID: id,
			Bids:    []domain.BookEntry{{Price: 0.61, Size: 200}},
			Asks:    []domain.BookEntry{{Price: 0.63, Size: 150}},
		}
	}
	return books, nil
}

type stubTrades struct{}

func (stubTrades) FetchTrades(_ context.Context, tokenID string, _ int) ([]domain.Trade, error) {
	return []domain.Trade{{ID: "t1", TokenID: tokenID, Side: "BUY", Price: 0.62, Size: 10, Timestamp: time.Now().UTC()}}, nil
}

type stubResearcher struct{}

func (stubResearcher) Research(_ context.Context, _ agent.ResearchQuery) (domain.ResearchReport, error) {
	return domain.ResearchReport{
		Report:     "evidence points to an on-time launch",
		Learnings:  []string{"vendor confirmed the date"},
		Confidence: 0.7,
	}, nil
}

// stubReasoner accepts every gate and proposes a fixed BUY.
type stubReasoner struct{}

func (stubReasoner) Complete(_ context.Context, req ports.CompletionRequest, out any) error {
	var doc string
	switch req.SchemaName {
	case "reflection_verdict":
		doc = `{"reason":["looks complete"],"is_satisfactory":true}`
	case "market_analysis":
		doc = `{"analysis_summary":"tight spread","confidence":0.75}`
	case "trade_decision":
		doc = `{"side":"BUY","outcome":"YES","token_id":"yes-token","market_id":"512329","size":5,"confidence":0.8,"reason":"edge on the yes side"}`
	default:
		return fmt.Errorf("stubReasoner: unexpected schema %q", req.SchemaName)
	}
	return json.Unmarshal([]byte(doc), out)
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := agent.New(agent.Deps{
		Markets:    stubMarkets{},
		Books:      stubBooks{},
		Trades:     stubTrades{},
		Researcher: stubResearcher{},
		Reasoner:   stubReasoner{},
		Store:      store,
	}, agent.Config{BackoffBase: time.Millisecond, Logger: logger})

	runner := agent.NewRunner(engine, store, logger)
	t.Cleanup(runner.Close)

	srv := NewServer("127.0.0.1:0", runner, logger)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, "http://" + srv.Addr()
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

// waitForStatus polls the run until it reaches the wanted status.
func waitForStatus(t *testing.T, base, runID string, want domain.RunStatus) map[string]any {
	t.Helper()
	var body map[string]any
	require.Eventually(t, func() bool {
		resp, m := getJSON(t, base+"/api/runs/"+runID)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		body = m
		return m["status"] == string(want)
	}, 5*time.Second, 20*time.Millisecond)
	return body
}

func TestHealth(t *testing.T) {
	_, base := newTestServer(t)
	resp, body := getJSON(t, base+"/api/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	_, base := newTestServer(t)

	resp, body := postJSON(t, base+"/api/runs", map[string]any{
		"market_id":       "512329",
		"available_funds": 10,
		"dry_run":         true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	runID, _ := body["run_id"].(string)
	require.NotEmpty(t, runID)

	waitForStatus(t, base, runID, domain.StatusSuspended)

	// The suspended run shows up in the listing.
	resp, listBody := getJSON(t, base+"/api/runs/suspended")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs, _ := listBody["runs"].([]any)
	require.Len(t, runs, 1)

	// A malformed confirmation is rejected up front.
	resp, _ = postJSON(t, base+"/api/runs/"+runID+"/resume", map[string]any{"confirmation": "maybe"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, base+"/api/runs/"+runID+"/resume", map[string]any{"confirmation": "approved"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	final := waitForStatus(t, base, runID, domain.StatusCompleted)
	state, _ := final["state"].(map[string]any)
	require.NotNil(t, state)
	exec, _ := state["execution_result"].(map[string]any)
	require.NotNil(t, exec)
	assert.Equal(t, true, exec["dry_run"])

	// Terminal runs cannot be resumed again.
	resp, _ = postJSON(t, base+"/api/runs/"+runID+"/resume", map[string]any{"confirmation": "approved"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestEventStreamReplaysHistory(t *testing.T) {
	_, base := newTestServer(t)

	resp, body := postJSON(t, base+"/api/runs", map[string]any{
		"market_id":       "512329",
		"available_funds": 10,
		"dry_run":         true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	runID := body["run_id"].(string)

	waitForStatus(t, base, runID, domain.StatusSuspended)

	streamResp, err := http.Get(base + "/api/runs/" + runID + "/events")
	require.NoError(t, err)
	defer streamResp.Body.Close()
	require.Equal(t, http.StatusOK, streamResp.StatusCode)
	assert.Equal(t, "application/x-ndjson", streamResp.Header.Get("Content-Type"))

	// The feed closed at suspension, so the replayed history is finite.
	scanner := bufio.NewScanner(streamResp.Body)
	var nodes []string
	for scanner.Scan() {
		var ev domain.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		assert.Equal(t, runID, ev.RunID)
		nodes = append(nodes, ev.Node)
	}
	assert.Contains(t, nodes, "fetch_market_data")
	assert.Contains(t, nodes, domain.InterruptNode)
}

func TestUnknownRunRoutes(t *testing.T) {
	_, base := newTestServer(t)

	resp, _ := getJSON(t, base+"/api/runs/not-a-run")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = postJSON(t, base+"/api/runs/not-a-run/resume", map[string]any{"confirmation": "approved"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = postJSON(t, base+"/api/runs/not-a-run/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateRunValidation(t *testing.T) {
	_, base := newTestServer(t)

	resp, body := postJSON(t, base+"/api/runs", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errMsg, _ := body["error"].(string)
	assert.True(t, strings.Contains(errMsg, "market_id"))
}

func TestCancelSuspendedRunOverHTTP(t *testing.T) {
	_, base := newTestServer(t)

	resp, body := postJSON(t, base+"/api/runs", map[string]any{
		"market_id":       "512329",
		"available_funds": 10,
		"dry_run":         true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	runID := body["run_id"].(string)

	waitForStatus(t, base, runID, domain.StatusSuspended)

	resp, _ = postJSON(t, base+"/api/runs/"+runID+"/cancel", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	waitForStatus(t, base, runID, domain.StatusCancelled)
}
