package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3devz/polytrader/internal/domain"
	"github.com/web3devz/polytrader/internal/ports"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleCheckpoint(runID string, status domain.RunStatus, updated time.Time) ports.Checkpoint {
	decision := domain.TradeDecision{
		Side:       domain.SideBuy,
		Outcome:    domain.OutcomeYes,
		TokenID:    "yes-token",
		MarketID:   "512329",
		Size:       5,
		Confidence: 0.8,
		Reason:     "edge on the yes side",
	}
	return ports.Checkpoint{
		RunID:  runID,
		Node:   "human_confirmation",
		Status: status,
		State: domain.RunState{
			RunID:          runID,
			MarketID:       "512329",
			AvailableFunds: 10,
			LoopStep:       7,
			TradeDecision:  &decision,
			ResearchReflection: domain.Reflection{
				AttemptCount:   2,
				IsSatisfactory: true,
			},
		},
		CreatedAt: updated.Add(-time.Minute),
		UpdatedAt: updated,
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	cp := sampleCheckpoint("run-1", domain.StatusSuspended, now)
	require.NoError(t, store.Save(ctx, cp))

	got, err := store.Load(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, cp.RunID, got.RunID)
	assert.Equal(t, cp.Node, got.Node)
	assert.Equal(t, cp.Status, got.Status)
	assert.Equal(t, cp.State.LoopStep, got.State.LoopStep)
	assert.Equal(t, cp.State.ResearchReflection, got.State.ResearchReflection)
	require.NotNil(t, got.State.TradeDecision)
	assert.Equal(t, *cp.State.TradeDecision, *got.State.TradeDecision)
	assert.True(t, got.UpdatedAt.Equal(cp.UpdatedAt))
}

func TestSaveUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	cp := sampleCheckpoint("run-1", domain.StatusRunning, now)
	require.NoError(t, store.Save(ctx, cp))

	cp.Node = "__end__"
	cp.Status = domain.StatusCompleted
	cp.State.LoopStep = 11
	cp.UpdatedAt = now.Add(time.Second)
	require.NoError(t, store.Save(ctx, cp))

	got, err := store.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "__end__", got.Node)
	assert.Equal(t, 11, got.State.LoopStep)
}

func TestLoadUnknownRun(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrUnknownRun)
}

func TestListSuspended(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, store.Save(ctx, sampleCheckpoint("run-old", domain.StatusSuspended, base.Add(-time.Hour))))
	require.NoError(t, store.Save(ctx, sampleCheckpoint("run-new", domain.StatusSuspended, base)))
	require.NoError(t, store.Save(ctx, sampleCheckpoint("run-done", domain.StatusCompleted, base)))

	cps, err := store.ListSuspended(ctx)
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, "run-new", cps[0].RunID)
	assert.Equal(t, "run-old", cps[1].RunID)
}

func TestListSuspendedEmpty(t *testing.T) {
	store := newTestStore(t)
	cps, err := store.ListSuspended(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cps)
}
