package polymarket

import "encoding/json"

// Raw Polymarket API DTOs, used only inside this package. Conversion to
// domain entities lives in mapping.go.

// --- Gamma API ---

// gammaMarket is the enriched market metadata from GET /markets/{id}.
// Gamma returns several numeric fields and all array fields as JSON strings.
type gammaMarket struct {
	ID            string      `json:"id"`
	ConditionID   string      `json:"conditionId"`
	Question      string      `json:"question"`
	Description   string      `json:"description"`
	Slug          string      `json:"slug"`
	EndDateISO    string      `json:"endDate"`
	Liquidity     json.Number `json:"liquidity"`
	Volume24h     json.Number `json:"volume24hr"`
	Active        bool        `json:"active"`
	Closed        bool        `json:"closed"`
	Outcomes      string      `json:"outcomes"`       // e.g. `["Yes","No"]`
	OutcomePrices string      `json:"outcomePrices"`  // e.g. `["0.62","0.38"]`
	ClobTokenIDs  string      `json:"clobTokenIds"`   // e.g. `["1234...","5678..."]`
}

// --- CLOB API ---

// orderBookRequest is one item of the POST /books batch body.
type orderBookRequest struct {
	TokenID string `json:"token_id"`
}

// orderBookResponse is one item of the POST /books batch response.
type orderBookResponse struct {
	AssetID string         `json:"asset_id"`
	Bids    []bookEntryRaw `json:"bids"`
	Asks    []bookEntryRaw `json:"asks"`
}

// bookEntryRaw is a raw price level (strings preserve API precision).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// --- Data API ---

// rawDataTrade is one trade from GET /trades.
type rawDataTrade struct {
	ID          string      `json:"id"`
	ConditionID string      `json:"conditionId"`
	Asset       string      `json:"asset"`
	Side        string      `json:"side"`
	Price       json.Number `json:"price"`
	Size        json.Number `json:"size"`
	Timestamp   json.Number `json:"timestamp"`
}
