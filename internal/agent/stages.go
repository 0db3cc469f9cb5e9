package agent

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/web3devz/polytrader/internal/domain"
	"github.com/web3devz/polytrader/internal/ports"
)

// recentTradeLimit bounds the trade history pulled per analysis attempt.
const recentTradeLimit = 50

// ResearchQuery is the input to a research round.
type ResearchQuery struct {
	Question     string
	Context      string // market description
	Instructions string // user-supplied steering, may be empty
	Guidance     string // improvement instructions from the last reflection
}

// Researcher produces a research digest for a market question. The engine
// re-runs it with fresh guidance on every retry; each report replaces the
// previous one entirely.
type Researcher interface {
	Research(ctx context.Context, q ResearchQuery) (domain.ResearchReport, error)
}

// fetchMarketData resolves the market snapshot. It runs exactly once per
// run; the snapshot is write-once in the state.
func (e *Engine) fetchMarketData(ctx context.Context, s *domain.RunState) (domain.Delta, error) {
	m, err := e.markets.GetMarket(ctx, s.MarketID)
	if err != nil {
		return domain.Delta{}, fmt.Errorf("agent.fetchMarketData: market %s: %w", s.MarketID, err)
	}
	if !m.Tradeable() {
		return domain.Delta{}, fmt.Errorf("agent.fetchMarketData: market %s is closed or inactive: %w",
			s.MarketID, domain.ErrMarketNotFound)
	}
	return domain.Delta{Market: &m}, nil
}

func (e *Engine) research(ctx context.Context, s *domain.RunState) (domain.Delta, error) {
	q := ResearchQuery{
		Question:     s.Market.Question,
		Context:      s.Market.Description,
		Instructions: s.CustomInstructions,
	}
	if !s.ResearchReflection.IsSatisfactory {
		q.Guidance = s.ResearchReflection.ImprovementInstructions
	}
	report, err := e.researcher.Research(ctx, q)
	if err != nil {
		return domain.Delta{}, fmt.Errorf("agent.research: %w", err)
	}
	return domain.Delta{Research: &report}, nil
}

// analysis pulls fresh orderbooks and recent trades, then asks the model for
// a quantitative read. Market data is re-fetched on every attempt so retries
// reason over current prices.
func (e *Engine) analysis(ctx context.Context, s *domain.RunState) (domain.Delta, error) {
	var (
		books  map[string]domain.OrderBook
		trades []domain.Trade
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		books, err = e.books.FetchOrderBooks(gctx, s.Market.TokenIDs())
		return err
	})
	g.Go(func() error {
		var err error
		trades, err = e.tradesFeed.FetchTrades(gctx, s.Market.YesToken().TokenID, recentTradeLimit)
		if errors.Is(err, domain.ErrUnavailable) {
			// Trade history is additive context; books alone are enough.
			trades, err = nil, nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Delta{}, fmt.Errorf("agent.analysis: fetch market data: %w", err)
	}

	scratch := *s
	scratch.Books = books
	scratch.RecentTrades = trades

	guidance := ""
	if !s.AnalysisReflection.IsSatisfactory {
		guidance = s.AnalysisReflection.ImprovementInstructions
	}

	var report domain.AnalysisReport
	err := e.reasoner.Complete(ctx, ports.CompletionRequest{
		System:     analysisSystem,
		Prompt:     analysisPrompt(&scratch, guidance),
		SchemaName: "market_analysis",
		Schema:     analysisSchema,
	}, &report)
	if err != nil {
		return domain.Delta{}, fmt.Errorf("agent.analysis: %w", err)
	}
	return domain.Delta{Books: books, RecentTrades: trades, Analysis: &report}, nil
}

func (e *Engine) trade(ctx context.Context, s *domain.RunState) (domain.Delta, error) {
	sides := []domain.Side{domain.SideBuy, domain.SideNoTrade}
	if s.HasPositions() {
		sides = []domain.Side{domain.SideBuy, domain.SideSell, domain.SideNoTrade}
	}
	guidance := ""
	if !s.TradeReflection.IsSatisfactory {
		guidance = s.TradeReflection.ImprovementInstructions
	}

	var decision domain.TradeDecision
	err := e.reasoner.Complete(ctx, ports.CompletionRequest{
		System:     tradeSystem,
		Prompt:     tradePrompt(s, s.AvailableFunds, sides, guidance),
		SchemaName: "trade_decision",
		Schema:     tradeSchema,
	}, &decision)
	if err != nil {
		return domain.Delta{}, fmt.Errorf("agent.trade: %w", err)
	}
	if decision.MarketID == "" {
		decision.MarketID = s.MarketID
	}
	return domain.Delta{TradeDecision: &decision}, nil
}

// processHumanInput records the confirmation injected at resume. The value
// is placed in the state by Resume before the engine continues, so the stage
// only verifies the invariant.
func (e *Engine) processHumanInput(_ context.Context, s *domain.RunState) (domain.Delta, error) {
	switch s.UserConfirmation {
	case domain.ConfirmationApproved, domain.ConfirmationRejected:
		return domain.Delta{}, nil
	}
	return domain.Delta{}, fmt.Errorf("agent.processHumanInput: run %s resumed without a confirmation", s.RunID)
}

// executeTrade submits the approved order exactly once. It never returns a
// retryable error: every failure is folded into the execution result so the
// run terminates without a second submission.
func (e *Engine) executeTrade(ctx context.Context, s *domain.RunState) (domain.Delta, error) {
	d := s.TradeDecision
	if s.DryRun {
		e.log.Info("dry run, order not submitted", "decision", d.String(), "size", d.Size)
		return domain.Delta{ExecutionResult: &domain.ExecutionResult{
			Status: "dry_run",
			DryRun: true,
		}}, nil
	}

	res, err := e.executor.SubmitOrder(ctx, ports.OrderRequest{
		TokenID:    d.TokenID,
		Side:       d.Side,
		Size:       d.Size,
		PriceBound: priceBound(s, d),
	})
	if err != nil {
		var execErr *domain.ExecutionError
		if errors.As(err, &execErr) {
			res = domain.ExecutionResult{Error: execErr.Error(), Status: execErr.Code}
		} else {
			res = domain.ExecutionResult{Error: err.Error(), Status: "SubmitFailed"}
		}
		e.log.Error("order submission failed", "run_id", s.RunID, "error", err)
	}
	return domain.Delta{ExecutionResult: &res}, nil
}

// slippageTolerance pads the marketable limit price past the touch so small
// book moves between analysis and execution still fill.
const slippageTolerance = 0.02

// priceBound derives the worst acceptable price for the order from the last
// fetched book, falling back to the token's snapshot price.
func priceBound(s *domain.RunState, d *domain.TradeDecision) float64 {
	token, ok := s.Market.TokenFor(d.Outcome)
	if !ok {
		return 0
	}
	price := token.Price
	if book, found := s.Books[token.TokenID]; found {
		switch d.Side {
		case domain.SideBuy:
			if ask := book.BestAsk(); ask > 0 {
				price = ask * (1 + slippageTolerance)
			}
		case domain.SideSell:
			if bid := book.BestBid(); bid > 0 {
				price = bid * (1 - slippageTolerance)
			}
		}
	}
	return clampPrice(price)
}

func clampPrice(p float64) float64 {
	switch {
	case p < 0.01:
		return 0.01
	case p > 0.99:
		return 0.99
	}
	return p
}
