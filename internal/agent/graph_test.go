package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3devz/polytrader/internal/domain"
)

var testBudgets = Budgets{Research: 3, Analysis: 3, Trade: 3}

func TestNextLinearEdges(t *testing.T) {
	s := &domain.RunState{}

	tests := []struct {
		from Node
		want Node
	}{
		{NodeFetchMarketData, NodeResearch},
		{NodeResearch, NodeReflectResearch},
		{NodeAnalysis, NodeReflectAnalysis},
		{NodeTrade, NodeReflectTrade},
		{NodeHumanConfirmation, NodeProcessHumanInput},
		{NodeExecuteTrade, NodeEnd},
		{NodeEnd, NodeEnd},
	}
	for _, tt := range tests {
		got, err := Next(tt.from, s, testBudgets)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "from %s", tt.from)
	}
}

func TestNextUnknownNode(t *testing.T) {
	_, err := Next(Node("bogus"), &domain.RunState{}, testBudgets)
	assert.Error(t, err)
}

func TestNextGateRouting(t *testing.T) {
	tests := []struct {
		name       string
		reflection domain.Reflection
		want       Node
	}{
		{
			name:       "unsatisfied with budget left retries",
			reflection: domain.Reflection{AttemptCount: 1, IsSatisfactory: false},
			want:       NodeResearch,
		},
		{
			name:       "satisfied moves forward",
			reflection: domain.Reflection{AttemptCount: 1, IsSatisfactory: true},
			want:       NodeAnalysis,
		},
		{
			name:       "forced acceptance moves forward",
			reflection: domain.Reflection{AttemptCount: 3, IsSatisfactory: true, Forced: true},
			want:       NodeAnalysis,
		},
		{
			name:       "exhausted budget never loops",
			reflection: domain.Reflection{AttemptCount: 3, IsSatisfactory: false},
			want:       NodeAnalysis,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &domain.RunState{ResearchReflection: tt.reflection}
			got, err := Next(NodeReflectResearch, s, testBudgets)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextTradeGate(t *testing.T) {
	buy := &domain.TradeDecision{Side: domain.SideBuy, Outcome: domain.OutcomeYes, Size: 5}
	noTrade := &domain.TradeDecision{Side: domain.SideNoTrade}
	accepted := domain.Reflection{AttemptCount: 1, IsSatisfactory: true}
	retry := domain.Reflection{AttemptCount: 1, IsSatisfactory: false}

	tests := []struct {
		name       string
		decision   *domain.TradeDecision
		reflection domain.Reflection
		want       Node
	}{
		{"unsatisfied retries the trade stage", buy, retry, NodeTrade},
		{"accepted trade goes to confirmation", buy, accepted, NodeHumanConfirmation},
		{"no_trade skips confirmation", noTrade, accepted, NodeEnd},
		{"missing decision ends the run", nil, accepted, NodeEnd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &domain.RunState{TradeDecision: tt.decision, TradeReflection: tt.reflection}
			got, err := Next(NodeReflectTrade, s, testBudgets)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextProcessHumanInput(t *testing.T) {
	s := &domain.RunState{UserConfirmation: domain.ConfirmationApproved}
	got, err := Next(NodeProcessHumanInput, s, testBudgets)
	require.NoError(t, err)
	assert.Equal(t, NodeExecuteTrade, got)

	s.UserConfirmation = domain.ConfirmationRejected
	got, err = Next(NodeProcessHumanInput, s, testBudgets)
	require.NoError(t, err)
	assert.Equal(t, NodeEnd, got)
}

func TestTerminalStatus(t *testing.T) {
	tests := []struct {
		name  string
		state domain.RunState
		want  domain.RunStatus
	}{
		{
			name:  "execution error fails the run",
			state: domain.RunState{ExecutionResult: &domain.ExecutionResult{Error: "execution Rejected: not enough balance"}},
			want:  domain.StatusFailed,
		},
		{
			name:  "successful execution completes",
			state: domain.RunState{ExecutionResult: &domain.ExecutionResult{OrderID: "o1", Status: "matched"}},
			want:  domain.StatusCompleted,
		},
		{
			name:  "rejected confirmation",
			state: domain.RunState{UserConfirmation: domain.ConfirmationRejected},
			want:  domain.StatusRejected,
		},
		{
			name:  "no trade decision",
			state: domain.RunState{TradeDecision: &domain.TradeDecision{Side: domain.SideNoTrade}},
			want:  domain.StatusNoTrade,
		},
		{
			name:  "dry run execution completes",
			state: domain.RunState{ExecutionResult: &domain.ExecutionResult{Status: "dry_run", DryRun: true}},
			want:  domain.StatusCompleted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TerminalStatus(&tt.state))
		})
	}
}
