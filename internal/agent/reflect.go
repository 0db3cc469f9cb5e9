package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/web3devz/polytrader/internal/domain"
	"github.com/web3devz/polytrader/internal/ports"
)

// gateInput is one reflection gate evaluation: the rubric, the rendered
// evidence, the prior reflection record, and the attempt budget.
type gateInput struct {
	name   string
	system string
	prompt string
	prior  domain.Reflection
	max    int
}

// evaluateGate runs one reflection gate. A verdict that fails schema
// validation is treated as unsatisfactory (fail closed) and still consumes
// the attempt. When the budget is exhausted an unsatisfied verdict is
// force-accepted so the run always progresses.
func (e *Engine) evaluateGate(ctx context.Context, in gateInput) (domain.Reflection, error) {
	attempt := in.prior.AttemptCount + 1

	var v Verdict
	err := e.reasoner.Complete(ctx, ports.CompletionRequest{
		System:     in.system,
		Prompt:     in.prompt,
		SchemaName: "reflection_verdict",
		Schema:     verdictSchema,
	}, &v)

	var perr *domain.ParseError
	switch {
	case errors.As(err, &perr):
		// Fail closed. The malformed verdict consumes the attempt; the
		// previous improvement instructions are carried forward unchanged.
		v = Verdict{
			Reason:                  []string{"verdict did not conform to the expected schema: " + perr.Err.Error()},
			IsSatisfactory:          false,
			ImprovementInstructions: in.prior.ImprovementInstructions,
		}
	case err != nil:
		return domain.Reflection{}, fmt.Errorf("agent.evaluateGate: %s: %w", in.name, err)
	}

	r := domain.Reflection{
		AttemptCount:            attempt,
		IsSatisfactory:          v.IsSatisfactory,
		Reasons:                 v.Reason,
		ImprovementInstructions: v.ImprovementInstructions,
	}
	if !r.IsSatisfactory && attempt >= in.max {
		r.IsSatisfactory = true
		r.Forced = true
		e.log.Warn("reflection budget exhausted, forcing acceptance",
			"gate", in.name, "attempts", attempt)
	}
	return r, nil
}

func (e *Engine) reflectResearch(ctx context.Context, s *domain.RunState) (domain.Delta, error) {
	r, err := e.evaluateGate(ctx, gateInput{
		name:   "research",
		system: researchGateSystem,
		prompt: researchGatePrompt(s),
		prior:  s.ResearchReflection,
		max:    e.budgets.Research,
	})
	if err != nil {
		return domain.Delta{}, err
	}
	return domain.Delta{ResearchReflection: &r}, nil
}

func (e *Engine) reflectAnalysis(ctx context.Context, s *domain.RunState) (domain.Delta, error) {
	r, err := e.evaluateGate(ctx, gateInput{
		name:   "analysis",
		system: analysisGateSystem,
		prompt: analysisGatePrompt(s),
		prior:  s.AnalysisReflection,
		max:    e.budgets.Analysis,
	})
	if err != nil {
		return domain.Delta{}, err
	}
	return domain.Delta{AnalysisReflection: &r}, nil
}

// reflectTrade runs the trade gate. Deterministic validation problems are
// checked locally first; a decision that violates them is rejected without
// consulting the model, so the retry carries concrete instructions.
func (e *Engine) reflectTrade(ctx context.Context, s *domain.RunState) (domain.Delta, error) {
	attempt := s.TradeReflection.AttemptCount + 1

	var problems []string
	if s.TradeDecision == nil {
		problems = []string{"no trade decision was produced"}
	} else {
		problems = s.TradeDecision.Validate(s.Market, s.AvailableFunds, s.Positions)
	}
	if len(problems) > 0 {
		r := domain.Reflection{
			AttemptCount:            attempt,
			IsSatisfactory:          false,
			Reasons:                 problems,
			ImprovementInstructions: "Fix the following problems: " + strings.Join(problems, "; "),
		}
		if attempt >= e.budgets.Trade {
			r.IsSatisfactory = true
			r.Forced = true
			e.log.Warn("trade reflection budget exhausted, forcing acceptance",
				"attempts", attempt, "problems", len(problems))
		}
		return domain.Delta{TradeReflection: &r}, nil
	}

	r, err := e.evaluateGate(ctx, gateInput{
		name:   "trade",
		system: tradeGateSystem,
		prompt: tradeGatePrompt(s, problems),
		prior:  s.TradeReflection,
		max:    e.budgets.Trade,
	})
	if err != nil {
		return domain.Delta{}, err
	}
	return domain.Delta{TradeReflection: &r}, nil
}
