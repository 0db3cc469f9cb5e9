package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/web3devz/polytrader/internal/domain"
	"github.com/web3devz/polytrader/internal/ports"
)

// eventBuffer sizes the per-run event channel. The engine blocks on a full
// channel, so consumers that fall behind throttle the run rather than lose
// events.
const eventBuffer = 64

// StartParams describe a new run.
type StartParams struct {
	MarketID           string
	CustomInstructions string
	AvailableFunds     float64
	Positions          map[string]float64
	DryRun             bool
}

// Runner owns run lifecycles on top of the engine: it creates runs, resumes
// suspended ones, cancels, and tracks which runs are executing in-process.
type Runner struct {
	engine *Engine
	store  ports.CheckpointStore
	log    *slog.Logger

	mu     sync.Mutex
	active map[string]*activeRun
	wg     sync.WaitGroup
}

type activeRun struct {
	cancel context.CancelFunc
}

// NewRunner builds a runner around an engine and its checkpoint store.
func NewRunner(engine *Engine, store ports.CheckpointStore, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		engine: engine,
		store:  store,
		active: make(map[string]*activeRun),
		log:    log,
	}
}

// Start creates a run, persists its initial checkpoint, and begins driving
// it in the background. The returned channel carries node events and closes
// when the run suspends or terminates.
func (r *Runner) Start(ctx context.Context, p StartParams) (string, <-chan domain.Event, error) {
	if p.MarketID == "" {
		return "", nil, fmt.Errorf("agent.Runner.Start: market id is required")
	}
	runID := uuid.NewString()
	now := time.Now().UTC()
	cp := ports.Checkpoint{
		RunID:  runID,
		Node:   string(NodeFetchMarketData),
		Status: domain.StatusPending,
		State: domain.RunState{
			RunID:              runID,
			MarketID:           p.MarketID,
			CustomInstructions: p.CustomInstructions,
			AvailableFunds:     p.AvailableFunds,
			Positions:          p.Positions,
			DryRun:             p.DryRun,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.Save(ctx, cp); err != nil {
		return "", nil, fmt.Errorf("agent.Runner.Start: save initial checkpoint: %w", err)
	}
	events := r.launch(cp)
	r.log.Info("run started", "run_id", runID, "market_id", p.MarketID, "dry_run", p.DryRun)
	return runID, events, nil
}

// Resume injects the human confirmation into a suspended run and continues
// it past the interrupt. Fails with domain.ErrUnknownRun,
// domain.ErrAlreadyCompleted, or domain.ErrNoPendingInterrupt.
func (r *Runner) Resume(ctx context.Context, runID string, conf domain.Confirmation) (<-chan domain.Event, error) {
	if conf != domain.ConfirmationApproved && conf != domain.ConfirmationRejected {
		return nil, fmt.Errorf("agent.Runner.Resume: confirmation must be approved or rejected, got %q", conf)
	}

	r.mu.Lock()
	_, running := r.active[runID]
	r.mu.Unlock()
	if running {
		return nil, fmt.Errorf("agent.Runner.Resume: run %s: %w", runID, domain.ErrNoPendingInterrupt)
	}

	cp, err := r.store.Load(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("agent.Runner.Resume: %w", err)
	}
	if cp.Status.Terminal() {
		return nil, fmt.Errorf("agent.Runner.Resume: run %s: %w", runID, domain.ErrAlreadyCompleted)
	}
	if cp.Status != domain.StatusSuspended || cp.Node != string(NodeHumanConfirmation) {
		return nil, fmt.Errorf("agent.Runner.Resume: run %s: %w", runID, domain.ErrNoPendingInterrupt)
	}

	if err := cp.State.Apply(domain.Delta{UserConfirmation: conf}); err != nil {
		return nil, fmt.Errorf("agent.Runner.Resume: %w", err)
	}
	cp.Node = string(NodeProcessHumanInput)
	cp.Status = domain.StatusRunning
	cp.UpdatedAt = time.Now().UTC()
	if err := r.store.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("agent.Runner.Resume: save resume checkpoint: %w", err)
	}

	events := r.launch(cp)
	r.log.Info("run resumed", "run_id", runID, "confirmation", conf)
	return events, nil
}

// Cancel stops a run. A run executing in-process is cancelled between
// stages; a suspended run is closed directly in the store.
func (r *Runner) Cancel(ctx context.Context, runID string) error {
	r.mu.Lock()
	ar, running := r.active[runID]
	r.mu.Unlock()
	if running {
		ar.cancel()
		return nil
	}

	cp, err := r.store.Load(ctx, runID)
	if err != nil {
		return fmt.Errorf("agent.Runner.Cancel: %w", err)
	}
	if cp.Status.Terminal() {
		return fmt.Errorf("agent.Runner.Cancel: run %s: %w", runID, domain.ErrAlreadyCompleted)
	}
	cp.Node = string(NodeEnd)
	cp.Status = domain.StatusCancelled
	cp.UpdatedAt = time.Now().UTC()
	if err := r.store.Save(ctx, cp); err != nil {
		return fmt.Errorf("agent.Runner.Cancel: save: %w", err)
	}
	r.log.Info("run cancelled", "run_id", runID)
	return nil
}

// Get returns the current checkpoint of a run.
func (r *Runner) Get(ctx context.Context, runID string) (ports.Checkpoint, error) {
	return r.store.Load(ctx, runID)
}

// ListSuspended returns the runs waiting at the interrupt point.
func (r *Runner) ListSuspended(ctx context.Context) ([]ports.Checkpoint, error) {
	return r.store.ListSuspended(ctx)
}

// Close cancels every in-process run and waits for their goroutines. The
// checkpoints persist, so suspended and running runs survive a restart.
func (r *Runner) Close() {
	r.mu.Lock()
	for _, ar := range r.active {
		ar.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// launch drives a checkpoint in the background. The run context is detached
// from any request context: a run outlives the HTTP call that started it.
func (r *Runner) launch(cp ports.Checkpoint) <-chan domain.Event {
	runCtx, cancel := context.WithCancel(context.Background())
	events := make(chan domain.Event, eventBuffer)

	r.mu.Lock()
	r.active[cp.RunID] = &activeRun{cancel: cancel}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(events)
		defer cancel()
		defer func() {
			r.mu.Lock()
			delete(r.active, cp.RunID)
			r.mu.Unlock()
		}()

		if _, err := r.engine.Run(runCtx, cp, events); err != nil {
			r.log.Error("run ended with error", "run_id", cp.RunID, "error", err)
		}
	}()
	return events
}
