package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/web3devz/polytrader/internal/domain"
	"github.com/web3devz/polytrader/internal/ports"
)

// Deps are the collaborators the engine drives. All of them are interfaces
// so tests can substitute scripted fakes.
type Deps struct {
	Markets    ports.MarketProvider
	Books      ports.BookProvider
	Trades     ports.TradeProvider
	Researcher Researcher
	Reasoner   ports.Reasoner
	Executor   ports.OrderExecutor
	Store      ports.CheckpointStore
}

// Config tunes the engine's budgets and retry behavior.
type Config struct {
	Budgets      Budgets
	StageRetries int           // transient-failure retries per stage invocation
	BackoffBase  time.Duration // first retry delay, doubled per attempt
	Logger       *slog.Logger
}

// Engine executes the agent graph one node at a time, checkpointing the full
// state after every transition so a run can resume from any crash point.
type Engine struct {
	markets    ports.MarketProvider
	books      ports.BookProvider
	tradesFeed ports.TradeProvider
	researcher Researcher
	reasoner   ports.Reasoner
	executor   ports.OrderExecutor
	store      ports.CheckpointStore

	budgets      Budgets
	stageRetries int
	backoffBase  time.Duration
	log          *slog.Logger
}

// New builds an engine. Zero-value config fields get working defaults.
func New(d Deps, cfg Config) *Engine {
	if cfg.StageRetries <= 0 {
		cfg.StageRetries = 2
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Budgets.Research <= 0 {
		cfg.Budgets.Research = 3
	}
	if cfg.Budgets.Analysis <= 0 {
		cfg.Budgets.Analysis = 3
	}
	if cfg.Budgets.Trade <= 0 {
		cfg.Budgets.Trade = 3
	}
	return &Engine{
		markets:      d.Markets,
		books:        d.Books,
		tradesFeed:   d.Trades,
		researcher:   d.Researcher,
		reasoner:     d.Reasoner,
		executor:     d.Executor,
		store:        d.Store,
		budgets:      cfg.Budgets,
		stageRetries: cfg.StageRetries,
		backoffBase:  cfg.BackoffBase,
		log:          cfg.Logger,
	}
}

// Budgets exposes the configured reflection budgets.
func (e *Engine) Budgets() Budgets { return e.budgets }

// Run drives a run from its checkpoint until it suspends or reaches a
// terminal status. It emits one event per completed node on events (if non
// nil) plus either an interrupt event or a terminal event, and returns the
// final checkpoint. The caller owns the events channel.
func (e *Engine) Run(ctx context.Context, cp ports.Checkpoint, events chan<- domain.Event) (ports.Checkpoint, error) {
	node := Node(cp.Node)
	s := &cp.State

	for {
		if err := ctx.Err(); err != nil {
			return e.finish(cp, domain.StatusCancelled, "run cancelled", events)
		}

		switch node {
		case NodeEnd:
			status := TerminalStatus(s)
			return e.finish(cp, status, terminalSummary(status, s), events)

		case NodeHumanConfirmation:
			// Suspend. The checkpoint keeps the node pointer here so a
			// process restart finds the run still waiting.
			cp.Node = string(NodeHumanConfirmation)
			cp.Status = domain.StatusSuspended
			cp.UpdatedAt = time.Now().UTC()
			if err := e.store.Save(ctx, cp); err != nil {
				return cp, fmt.Errorf("agent.Run: save suspend checkpoint: %w", err)
			}
			e.emit(events, domain.Event{
				RunID:     s.RunID,
				Node:      domain.InterruptNode,
				Status:    domain.StatusSuspended,
				Summary:   "awaiting trade confirmation: " + s.TradeDecision.String(),
				Timestamp: time.Now().UTC(),
			})
			e.log.Info("run suspended for confirmation", "run_id", s.RunID, "decision", s.TradeDecision.String())
			return cp, nil
		}

		delta, err := e.runStage(ctx, node, s)
		if err != nil {
			if ctx.Err() != nil {
				return e.finish(cp, domain.StatusCancelled, "run cancelled", events)
			}
			e.emit(events, domain.Event{
				RunID:     s.RunID,
				Node:      string(node),
				Status:    domain.StatusRunning,
				Err:       err.Error(),
				Timestamp: time.Now().UTC(),
			})
			cp2, ferr := e.finish(cp, domain.StatusFailed, err.Error(), events)
			if ferr != nil {
				return cp2, ferr
			}
			return cp2, err
		}

		if err := s.Apply(delta); err != nil {
			return cp, fmt.Errorf("agent.Run: apply delta for %s: %w", node, err)
		}
		s.LoopStep++

		next, err := Next(node, s, e.budgets)
		if err != nil {
			return cp, fmt.Errorf("agent.Run: %w", err)
		}

		cp.Node = string(next)
		cp.Status = domain.StatusRunning
		cp.UpdatedAt = time.Now().UTC()
		if err := e.store.Save(ctx, cp); err != nil {
			return cp, fmt.Errorf("agent.Run: save checkpoint after %s: %w", node, err)
		}

		e.emit(events, domain.Event{
			RunID:     s.RunID,
			Node:      string(node),
			Status:    domain.StatusRunning,
			Summary:   nodeSummary(node, s),
			Delta:     deltaFields(delta),
			Timestamp: time.Now().UTC(),
		})
		e.log.Debug("node complete", "run_id", s.RunID, "node", node, "next", next, "loop_step", s.LoopStep)

		node = next
	}
}

// runStage dispatches one node and retries transient failures with
// exponential backoff. Order execution is exempt: it runs at most once.
func (e *Engine) runStage(ctx context.Context, node Node, s *domain.RunState) (domain.Delta, error) {
	var fn func(context.Context, *domain.RunState) (domain.Delta, error)
	switch node {
	case NodeFetchMarketData:
		fn = e.fetchMarketData
	case NodeResearch:
		fn = e.research
	case NodeReflectResearch:
		fn = e.reflectResearch
	case NodeAnalysis:
		fn = e.analysis
	case NodeReflectAnalysis:
		fn = e.reflectAnalysis
	case NodeTrade:
		fn = e.trade
	case NodeReflectTrade:
		fn = e.reflectTrade
	case NodeProcessHumanInput:
		fn = e.processHumanInput
	case NodeExecuteTrade:
		fn = e.executeTrade
	default:
		return domain.Delta{}, fmt.Errorf("agent.runStage: no stage for node %q", node)
	}

	retries := e.stageRetries
	if node == NodeExecuteTrade {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, attempt); err != nil {
				return domain.Delta{}, err
			}
			e.log.Warn("retrying stage", "node", node, "attempt", attempt, "error", lastErr)
		}
		delta, err := fn(ctx, s)
		if err == nil {
			return delta, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return domain.Delta{}, lastErr
}

// retryable reports whether a stage error may clear on retry. Malformed
// model output counts: a fresh completion can come back well-formed.
func retryable(err error) bool {
	var perr *domain.ParseError
	return domain.Transient(err) || errors.As(err, &perr)
}

// sleep blocks for the backoff delay of the given attempt, with jitter.
func (e *Engine) sleep(ctx context.Context, attempt int) error {
	delay := e.backoffBase * time.Duration(1<<(attempt-1))
	if half := int64(delay) / 2; half > 0 {
		delay += time.Duration(rand.Int63n(half))
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// finish persists the terminal checkpoint and emits the closing event.
func (e *Engine) finish(cp ports.Checkpoint, status domain.RunStatus, summary string, events chan<- domain.Event) (ports.Checkpoint, error) {
	cp.Node = string(NodeEnd)
	cp.Status = status
	cp.UpdatedAt = time.Now().UTC()
	// Terminal checkpoints must land even when the run context is gone.
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.Save(saveCtx, cp); err != nil {
		return cp, fmt.Errorf("agent.finish: save terminal checkpoint: %w", err)
	}
	ev := domain.Event{
		RunID:     cp.State.RunID,
		Node:      string(NodeEnd),
		Status:    status,
		Summary:   summary,
		Timestamp: time.Now().UTC(),
	}
	if status == domain.StatusFailed {
		ev.Err = summary
	}
	e.emit(events, ev)
	e.log.Info("run finished", "run_id", cp.State.RunID, "status", status)
	return cp, nil
}

func (e *Engine) emit(events chan<- domain.Event, ev domain.Event) {
	if events == nil {
		return
	}
	events <- ev
}

// nodeSummary is the one-line digest attached to each node event.
func nodeSummary(node Node, s *domain.RunState) string {
	switch node {
	case NodeFetchMarketData:
		return fmt.Sprintf("market: %s", s.Market.Question)
	case NodeResearch:
		if s.Research != nil {
			return fmt.Sprintf("%d learnings from %d sources", len(s.Research.Learnings), len(s.Research.VisitedURLs))
		}
	case NodeReflectResearch:
		return reflectionSummary(s.ResearchReflection)
	case NodeAnalysis:
		if s.Analysis != nil {
			return fmt.Sprintf("analysis confidence %.2f", s.Analysis.Confidence)
		}
	case NodeReflectAnalysis:
		return reflectionSummary(s.AnalysisReflection)
	case NodeTrade:
		if s.TradeDecision != nil {
			return fmt.Sprintf("%s size %.2f confidence %.2f", s.TradeDecision.String(), s.TradeDecision.Size, s.TradeDecision.Confidence)
		}
	case NodeReflectTrade:
		return reflectionSummary(s.TradeReflection)
	case NodeProcessHumanInput:
		return "confirmation: " + string(s.UserConfirmation)
	case NodeExecuteTrade:
		if s.ExecutionResult != nil && s.ExecutionResult.Error == "" {
			return "order " + s.ExecutionResult.OrderID + " " + s.ExecutionResult.Status
		}
	}
	return ""
}

func reflectionSummary(r domain.Reflection) string {
	switch {
	case r.Forced:
		return fmt.Sprintf("accepted (forced) after attempt %d", r.AttemptCount)
	case r.IsSatisfactory:
		return fmt.Sprintf("accepted at attempt %d", r.AttemptCount)
	}
	return fmt.Sprintf("retry requested at attempt %d", r.AttemptCount)
}

func terminalSummary(status domain.RunStatus, s *domain.RunState) string {
	switch status {
	case domain.StatusNoTrade:
		if s.TradeDecision != nil {
			return "no trade: " + s.TradeDecision.Reason
		}
		return "no trade"
	case domain.StatusRejected:
		return "trade rejected by user"
	case domain.StatusFailed:
		if s.ExecutionResult != nil {
			return s.ExecutionResult.Error
		}
		return "run failed"
	case domain.StatusCompleted:
		if s.ExecutionResult != nil {
			if s.ExecutionResult.DryRun {
				return "dry run complete, order not submitted"
			}
			return "trade executed: order " + s.ExecutionResult.OrderID
		}
	}
	return string(status)
}

// deltaFields renders the non-empty delta fields for the event stream.
func deltaFields(d domain.Delta) map[string]any {
	m := make(map[string]any)
	if d.Market != nil {
		m["market"] = d.Market
	}
	if d.Books != nil {
		m["books"] = len(d.Books)
	}
	if d.RecentTrades != nil {
		m["recent_trades"] = len(d.RecentTrades)
	}
	if d.Research != nil {
		m["research"] = d.Research
	}
	if d.ResearchReflection != nil {
		m["research_reflection"] = d.ResearchReflection
	}
	if d.Analysis != nil {
		m["analysis"] = d.Analysis
	}
	if d.AnalysisReflection != nil {
		m["analysis_reflection"] = d.AnalysisReflection
	}
	if d.TradeDecision != nil {
		m["trade_decision"] = d.TradeDecision
	}
	if d.TradeReflection != nil {
		m["trade_reflection"] = d.TradeReflection
	}
	if d.UserConfirmation != domain.ConfirmationUnset {
		m["user_confirmation"] = d.UserConfirmation
	}
	if d.ExecutionResult != nil {
		m["execution_result"] = d.ExecutionResult
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
