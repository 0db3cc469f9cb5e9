package agent

import (
	"fmt"

	"github.com/web3devz/polytrader/internal/domain"
)

// Node identifies one unit of work in the agent graph.
type Node string

const (
	NodeFetchMarketData   Node = "fetch_market_data"
	NodeResearch          Node = "research_agent"
	NodeReflectResearch   Node = "reflect_on_research"
	NodeAnalysis          Node = "analysis_agent"
	NodeReflectAnalysis   Node = "reflect_on_analysis"
	NodeTrade             Node = "trade_agent"
	NodeReflectTrade      Node = "reflect_on_trade"
	NodeHumanConfirmation Node = "human_confirmation"
	NodeProcessHumanInput Node = "process_human_input"
	NodeExecuteTrade      Node = "execute_trade"
	NodeEnd               Node = "__end__"
)

// Budgets holds the per-gate reflection budgets.
type Budgets struct {
	Research int
	Analysis int
	Trade    int
}

// Next computes the node that follows node, from state fields only. It is
// pure: no I/O, no clock, no mutation. The engine calls it after applying
// each stage's delta.
//
// Retry edges route back to the gated stage while the gate is unsatisfied
// and the budget allows; gates mark themselves satisfactory (forced) once
// the budget is exhausted, so an unsatisfied reflection here always has
// attempts remaining.
func Next(node Node, s *domain.RunState, b Budgets) (Node, error) {
	switch node {
	case NodeFetchMarketData:
		return NodeResearch, nil

	case NodeResearch:
		return NodeReflectResearch, nil

	case NodeReflectResearch:
		return routeGate(s.ResearchReflection, b.Research, NodeResearch, NodeAnalysis), nil

	case NodeAnalysis:
		return NodeReflectAnalysis, nil

	case NodeReflectAnalysis:
		return routeGate(s.AnalysisReflection, b.Analysis, NodeAnalysis, NodeTrade), nil

	case NodeTrade:
		return NodeReflectTrade, nil

	case NodeReflectTrade:
		if next := routeGate(s.TradeReflection, b.Trade, NodeTrade, ""); next == NodeTrade {
			return NodeTrade, nil
		}
		if s.TradeDecision == nil {
			return NodeEnd, nil
		}
		if s.TradeDecision.Side == domain.SideNoTrade {
			// No capital at stake: skip confirmation and execution.
			return NodeEnd, nil
		}
		return NodeHumanConfirmation, nil

	case NodeHumanConfirmation:
		return NodeProcessHumanInput, nil

	case NodeProcessHumanInput:
		if s.UserConfirmation == domain.ConfirmationApproved {
			return NodeExecuteTrade, nil
		}
		return NodeEnd, nil

	case NodeExecuteTrade:
		return NodeEnd, nil

	case NodeEnd:
		return NodeEnd, nil
	}
	return NodeEnd, fmt.Errorf("agent.Next: unknown node %q", node)
}

// routeGate applies the reflection routing rule: unsatisfactory with budget
// remaining retries the stage, anything else moves forward.
func routeGate(r domain.Reflection, maxAttempts int, retry, forward Node) Node {
	if !r.IsSatisfactory && r.AttemptCount < maxAttempts {
		return retry
	}
	return forward
}

// TerminalStatus derives the terminal run status once the graph reaches the
// end node.
func TerminalStatus(s *domain.RunState) domain.RunStatus {
	switch {
	case s.ExecutionResult != nil && s.ExecutionResult.Error != "":
		return domain.StatusFailed
	case s.ExecutionResult != nil:
		return domain.StatusCompleted
	case s.UserConfirmation == domain.ConfirmationRejected:
		return domain.StatusRejected
	case s.TradeDecision != nil && s.TradeDecision.Side == domain.SideNoTrade:
		return domain.StatusNoTrade
	}
	return domain.StatusCompleted
}
