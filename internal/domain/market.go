package domain

import "time"

// Market is a snapshot of a binary prediction market on Polymarket.
// It is fetched once at the start of a run and is read-only afterwards.
type Market struct {
	ConditionID string    `json:"condition_id"`
	MarketID    string    `json:"market_id"`
	Question    string    `json:"question"`
	Description string    `json:"description"`
	Slug        string    `json:"slug"`
	EndDate     time.Time `json:"end_date"`
	Liquidity   float64   `json:"liquidity"`
	Volume24h   float64   `json:"volume_24h"`
	Tokens      [2]Token  `json:"tokens"`
	Active      bool      `json:"active"`
	Closed      bool      `json:"closed"`
}

// Token is one of the two sides of the market (YES/NO).
type Token struct {
	TokenID string  `json:"token_id"`
	Outcome Outcome `json:"outcome"`
	Price   float64 `json:"price"`
}

// YesToken returns the YES token of the market.
func (m Market) YesToken() Token {
	for _, t := range m.Tokens {
		if t.Outcome == OutcomeYes {
			return t
		}
	}
	return m.Tokens[0]
}

// NoToken returns the NO token of the market.
func (m Market) NoToken() Token {
	for _, t := range m.Tokens {
		if t.Outcome == OutcomeNo {
			return t
		}
	}
	return m.Tokens[1]
}

// TokenFor returns the token matching the given outcome, or false if the
// market has no token for it.
func (m Market) TokenFor(outcome Outcome) (Token, bool) {
	for _, t := range m.Tokens {
		if t.Outcome == outcome {
			return t, true
		}
	}
	return Token{}, false
}

// TokenIDs returns both token IDs in market order.
func (m Market) TokenIDs() []string {
	return []string{m.Tokens[0].TokenID, m.Tokens[1].TokenID}
}

// HoursToResolution returns the hours until the market resolves.
// Returns 0 if EndDate is unset or already past.
func (m Market) HoursToResolution() float64 {
	if m.EndDate.IsZero() {
		return 0
	}
	h := time.Until(m.EndDate).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// Tradeable reports whether the market still accepts orders.
func (m Market) Tradeable() bool {
	return m.Active && !m.Closed
}
