package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/web3devz/polytrader/internal/domain"
)

// Verdict is the structured output of every reflection gate. The schema is
// fixed even though the content comes from a non-deterministic model.
type Verdict struct {
	Reason                  []string `json:"reason"`
	IsSatisfactory          bool     `json:"is_satisfactory"`
	ImprovementInstructions string   `json:"improvement_instructions,omitempty"`
}

// verdictSchema validates reflection gate outputs.
var verdictSchema = []byte(`{
	"type": "object",
	"properties": {
		"reason": {"type": "array", "items": {"type": "string"}, "minItems": 1},
		"is_satisfactory": {"type": "boolean"},
		"improvement_instructions": {"type": ["string", "null"]}
	},
	"required": ["reason", "is_satisfactory"]
}`)

// analysisSchema validates the analysis stage output.
var analysisSchema = []byte(`{
	"type": "object",
	"properties": {
		"analysis_summary": {"type": "string", "minLength": 1},
		"price_analysis": {"type": "string"},
		"volume_analysis": {"type": "string"},
		"liquidity_analysis": {"type": "string"},
		"market_depth": {"type": "string"},
		"execution_analysis": {"type": "string"},
		"price_momentum": {"type": "string"},
		"risk_factors": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	},
	"required": ["analysis_summary", "confidence"]
}`)

// tradeSchema validates the trade stage output. Side/outcome coherence and
// funds/position limits are checked separately in domain.TradeDecision.Validate.
var tradeSchema = []byte(`{
	"type": "object",
	"properties": {
		"side": {"type": "string", "enum": ["BUY", "SELL", "NO_TRADE"]},
		"outcome": {"type": "string", "enum": ["YES", "NO", ""]},
		"token_id": {"type": "string"},
		"market_id": {"type": "string"},
		"size": {"type": "number", "minimum": 0},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"reason": {"type": "string", "minLength": 1},
		"trade_evaluation_of_market_data": {"type": "string"}
	},
	"required": ["side", "size", "confidence", "reason"]
}`)

const researchGateSystem = `You are evaluating the quality of web research gathered about a prediction market.
Your role is to determine if the research is sufficient to proceed with market analysis.
The priority is relevant factual information and qualitative insight. Do not
require numerical analysis or quantitative metrics at this stage.`

const analysisGateSystem = `You are evaluating the quality of a quantitative market analysis.
Your role is to determine if it is internally consistent and actionable enough
to make a trading decision. We are limited to current market data and the
orderbook: focus on whether the analysis makes good use of the available data,
not on unavailable metrics like historical liquidity profiles.`

const tradeGateSystem = `You are validating a trade decision for a binary prediction market.
The decision must be clear, well-reasoned, and supported by the research and
analysis. If side=NO_TRADE, size must be 0. If side=BUY or SELL, the outcome
(YES/NO) must be specified and the reasoning must explain why that outcome.`

const analysisSystem = `You are a market analysis expert for Polymarket prediction markets.
Interpret the prices, orderbook depth, spreads, and recent trading activity
below into a comprehensive quantitative view. Identify trading signals,
liquidity constraints, and risks. Respond with a single JSON object matching
the requested schema.`

const tradeSystem = `You are a trade decision maker for a binary prediction market.
Make a SINGLE, CLEAR trade decision based on all the information provided.
Respond with a single JSON object matching the requested schema. Do not
propose a BUY larger than the available funds, and do not propose a SELL
without a held position.`

// researchGatePrompt renders the rubric input for the research gate.
func researchGatePrompt(s *domain.RunState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Market question: %s\n\n", s.Market.Question)
	b.WriteString("Is the research below sufficient to proceed with market analysis?\n")
	b.WriteString("Consider comprehensiveness, relevance, and reliability of sources.\n")
	b.WriteString("If not sufficient, be specific about what needs to be improved.\n\n")
	if s.Research != nil {
		fmt.Fprintf(&b, "Report:\n%s\n\n", s.Research.Report)
		b.WriteString("Key learnings:\n")
		for _, l := range s.Research.Learnings {
			fmt.Fprintf(&b, "- %s\n", l)
		}
		b.WriteString("\nSources:\n")
		for _, u := range s.Research.VisitedURLs {
			fmt.Fprintf(&b, "- %s\n", u)
		}
	} else {
		b.WriteString("No research report was produced.\n")
	}
	return b.String()
}

// analysisGatePrompt renders the rubric input for the analysis gate.
func analysisGatePrompt(s *domain.RunState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Market question: %s\n\n", s.Market.Question)
	b.WriteString("Do we have sufficient market analysis to make a trading decision?\n")
	b.WriteString("Key questions: are price levels and spreads understood, is liquidity\n")
	b.WriteString("assessed, and are the major trading risks identified?\n\n")
	if s.Analysis != nil {
		raw, _ := json.MarshalIndent(s.Analysis, "", "  ")
		fmt.Fprintf(&b, "Analysis:\n%s\n", raw)
	} else {
		b.WriteString("No analysis was produced.\n")
	}
	return b.String()
}

// tradeGatePrompt renders the rubric input for the trade gate, including the
// deterministic validation problems found locally.
func tradeGatePrompt(s *domain.RunState, problems []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Market question: %s\n\n", s.Market.Question)
	b.WriteString("Evaluate the following trade decision. Should it be accepted as final?\n\n")
	if s.TradeDecision != nil {
		raw, _ := json.MarshalIndent(s.TradeDecision, "", "  ")
		fmt.Fprintf(&b, "Trade decision:\n%s\n\n", raw)
	} else {
		b.WriteString("No trade decision was produced.\n\n")
	}
	if len(problems) > 0 {
		b.WriteString("Validation problems already found:\n")
		for _, p := range problems {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	return b.String()
}

// analysisPrompt renders the analysis stage input from the market snapshot,
// orderbooks, and recent trades.
func analysisPrompt(s *domain.RunState, guidance string) string {
	var b strings.Builder
	m := s.Market
	fmt.Fprintf(&b, "Market question: %s\n", m.Question)
	if m.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", m.Description)
	}
	fmt.Fprintf(&b, "Resolves in: %.1f hours\n", m.HoursToResolution())
	fmt.Fprintf(&b, "Liquidity: %.0f USDC, 24h volume: %.0f USDC\n\n", m.Liquidity, m.Volume24h)

	for _, t := range m.Tokens {
		fmt.Fprintf(&b, "%s token (id %s): last price %.3f\n", t.Outcome, t.TokenID, t.Price)
		if book, ok := s.Books[t.TokenID]; ok {
			fmt.Fprintf(&b, "  best bid %.3f, best ask %.3f, mid %.3f, spread %.3f\n",
				book.BestBid(), book.BestAsk(), book.Midpoint(), book.Spread())
			fmt.Fprintf(&b, "  bid depth %.0f USDC, ask depth %.0f USDC, imbalance %+.2f\n",
				book.BidDepthUSDC(), book.AskDepthUSDC(), book.Imbalance())
			bids, asks := book.TopLevels(5)
			b.WriteString("  top bids: ")
			writeLevels(&b, bids)
			b.WriteString("\n  top asks: ")
			writeLevels(&b, asks)
			b.WriteString("\n")
		}
	}

	if len(s.RecentTrades) > 0 {
		fmt.Fprintf(&b, "\nRecent trades (%d):\n", len(s.RecentTrades))
		max := len(s.RecentTrades)
		if max > 20 {
			max = 20
		}
		for _, tr := range s.RecentTrades[:max] {
			fmt.Fprintf(&b, "- %s %s %.2f @ %.3f\n", tr.Side, tr.TokenID[:min(8, len(tr.TokenID))], tr.Size, tr.Price)
		}
	}

	if s.Research != nil {
		fmt.Fprintf(&b, "\nResearch summary:\n%s\n", s.Research.Report)
	}
	if guidance != "" {
		fmt.Fprintf(&b, "\nImprovement instructions from the previous attempt:\n%s\n", guidance)
	}
	return b.String()
}

// tradePrompt renders the trade stage input from the accepted research and
// analysis digests.
func tradePrompt(s *domain.RunState, funds float64, possibleSides []domain.Side, guidance string) string {
	var b strings.Builder
	m := s.Market
	fmt.Fprintf(&b, "Market question: %s\n", m.Question)
	fmt.Fprintf(&b, "Market ID: %s\n", s.MarketID)
	b.WriteString("Tokens:\n")
	for _, t := range m.Tokens {
		fmt.Fprintf(&b, "- %s: token_id %s, price %.3f\n", t.Outcome, t.TokenID, t.Price)
	}
	sides := make([]string, len(possibleSides))
	for i, side := range possibleSides {
		sides[i] = string(side)
	}
	fmt.Fprintf(&b, "\nYou may ONLY choose side from: %s\n", strings.Join(sides, ", "))
	fmt.Fprintf(&b, "Available funds for a new position: %.2f USDC\n", funds)
	if len(s.Positions) > 0 {
		raw, _ := json.Marshal(s.Positions)
		fmt.Fprintf(&b, "Current positions (token_id -> shares): %s\n", raw)
	}
	if s.Research != nil {
		fmt.Fprintf(&b, "\nResearch report:\n%s\n", s.Research.Report)
		for _, l := range s.Research.Learnings {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}
	if s.Analysis != nil {
		raw, _ := json.MarshalIndent(s.Analysis, "", "  ")
		fmt.Fprintf(&b, "\nAnalysis:\n%s\n", raw)
	}
	if s.CustomInstructions != "" {
		fmt.Fprintf(&b, "\nUser instructions:\n%s\n", s.CustomInstructions)
	}
	if guidance != "" {
		fmt.Fprintf(&b, "\nImprovement instructions from the previous attempt:\n%s\n", guidance)
	}
	return b.String()
}

func writeLevels(b *strings.Builder, levels []domain.BookEntry) {
	for i, l := range levels {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%.3f×%.0f", l.Price, l.Size)
	}
}
