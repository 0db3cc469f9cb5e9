package domain

import "fmt"

// Side is the direction of a trade decision.
type Side string

const (
	SideBuy     Side = "BUY"
	SideSell    Side = "SELL"
	SideNoTrade Side = "NO_TRADE"
)

// Outcome is one of the two sides of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// TradeDecision is the structured decision produced by the trade stage.
type TradeDecision struct {
	Side             Side    `json:"side"`
	Outcome          Outcome `json:"outcome,omitempty"`
	TokenID          string  `json:"token_id,omitempty"`
	MarketID         string  `json:"market_id"`
	Size             float64 `json:"size"`
	Confidence       float64 `json:"confidence"`
	Reason           string  `json:"reason"`
	MarketEvaluation string  `json:"trade_evaluation_of_market_data,omitempty"`
}

// IsTrade reports whether the decision commits capital.
func (d TradeDecision) IsTrade() bool {
	return d.Side == SideBuy || d.Side == SideSell
}

// String renders the decision in short form, e.g. "BUY_YES".
func (d TradeDecision) String() string {
	if d.Side == SideNoTrade {
		return string(SideNoTrade)
	}
	return fmt.Sprintf("%s_%s", d.Side, d.Outcome)
}

// Validate runs the deterministic field checks on a trade decision against
// the market tokens, available funds, and held positions. It returns the
// list of violations; an empty list means the decision is well-formed.
// These checks complement the reflection gate's model verdict; a decision
// is only accepted when both pass.
func (d TradeDecision) Validate(market *Market, funds float64, positions map[string]float64) []string {
	var problems []string

	switch d.Side {
	case SideBuy, SideSell, SideNoTrade:
	default:
		problems = append(problems, fmt.Sprintf("invalid side: %q", d.Side))
		return problems
	}

	if d.Reason == "" {
		problems = append(problems, "reason must not be empty")
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		problems = append(problems, fmt.Sprintf("confidence %.2f out of range [0, 1]", d.Confidence))
	}

	if d.Side == SideNoTrade {
		if d.Size != 0 {
			problems = append(problems, "size must be 0 when side is NO_TRADE")
		}
		return problems
	}

	if d.Outcome != OutcomeYes && d.Outcome != OutcomeNo {
		problems = append(problems, "outcome must be YES or NO for BUY/SELL")
		return problems
	}
	if d.Size <= 0 {
		problems = append(problems, "size must be positive for BUY/SELL")
	}

	if market == nil {
		problems = append(problems, "no market snapshot to validate against")
		return problems
	}
	token, ok := market.TokenFor(d.Outcome)
	if !ok {
		problems = append(problems, fmt.Sprintf("market has no token for outcome %s", d.Outcome))
		return problems
	}
	if d.TokenID != "" && d.TokenID != token.TokenID {
		problems = append(problems, fmt.Sprintf("token_id %s does not match outcome %s", d.TokenID, d.Outcome))
	}

	switch d.Side {
	case SideBuy:
		if d.Size > funds {
			problems = append(problems, fmt.Sprintf("BUY size %.2f exceeds available funds %.2f", d.Size, funds))
		}
	case SideSell:
		held := positions[token.TokenID]
		if held <= 0 {
			problems = append(problems, fmt.Sprintf("cannot SELL %s: no position held", d.Outcome))
		} else if d.Size > held {
			problems = append(problems, fmt.Sprintf("cannot SELL %.2f %s: only %.2f held", d.Size, d.Outcome, held))
		}
	}

	return problems
}
