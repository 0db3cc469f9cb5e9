package polymarket

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/web3devz/polytrader/internal/domain"
)

// mapGammaMarket converts the Gamma DTO to a domain.Market. The token IDs,
// outcomes, and prices arrive as parallel JSON-encoded string arrays.
func mapGammaMarket(gm gammaMarket) (domain.Market, error) {
	tokenIDs, err := decodeStringArray(gm.ClobTokenIDs)
	if err != nil {
		return domain.Market{}, fmt.Errorf("parse clobTokenIds: %w", err)
	}
	outcomes, err := decodeStringArray(gm.Outcomes)
	if err != nil {
		return domain.Market{}, fmt.Errorf("parse outcomes: %w", err)
	}
	prices, err := decodeStringArray(gm.OutcomePrices)
	if err != nil {
		return domain.Market{}, fmt.Errorf("parse outcomePrices: %w", err)
	}
	if len(tokenIDs) != 2 || len(outcomes) != 2 {
		return domain.Market{}, fmt.Errorf("expected a binary market, got %d tokens", len(tokenIDs))
	}

	m := domain.Market{
		ConditionID: gm.ConditionID,
		MarketID:    gm.ID,
		Question:    gm.Question,
		Description: gm.Description,
		Slug:        gm.Slug,
		Active:      gm.Active,
		Closed:      gm.Closed,
	}
	if v, err := gm.Liquidity.Float64(); err == nil {
		m.Liquidity = v
	}
	if v, err := gm.Volume24h.Float64(); err == nil {
		m.Volume24h = v
	}
	if gm.EndDateISO != "" {
		// Polymarket uses several timestamp formats; try the common ones.
		for _, layout := range []string{
			time.RFC3339,
			"2006-01-02T15:04:05.000Z",
			"2006-01-02T15:04:05Z",
			"2006-01-02",
		} {
			if t, err := time.Parse(layout, gm.EndDateISO); err == nil {
				m.EndDate = t.UTC()
				break
			}
		}
	}

	for i := 0; i < 2; i++ {
		outcome := domain.OutcomeNo
		if strings.EqualFold(outcomes[i], "yes") {
			outcome = domain.OutcomeYes
		}
		m.Tokens[i] = domain.Token{
			TokenID: tokenIDs[i],
			Outcome: outcome,
		}
		if i < len(prices) {
			if p, err := strconv.ParseFloat(prices[i], 64); err == nil {
				m.Tokens[i].Price = p
			}
		}
	}
	return m, nil
}

// decodeStringArray parses Gamma's doubly-encoded array fields.
func decodeStringArray(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// mapOrderBooks converts the /books batch response to a tokenID keyed map.
func mapOrderBooks(raw []orderBookResponse) map[string]domain.OrderBook {
	result := make(map[string]domain.OrderBook, len(raw))
	for _, r := range raw {
		result[r.AssetID] = domain.OrderBook{
			TokenID: r.AssetID,
			Bids:    mapBookEntries(r.Bids, false),
			Asks:    mapBookEntries(r.Asks, true),
		}
	}
	return result
}

// mapBookEntries converts raw entries to domain.BookEntry and sorts them.
// ascending=true for asks (best first means lowest), false for bids.
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price, _ := strconv.ParseFloat(r.Price, 64)
		size, _ := strconv.ParseFloat(r.Size, 64)
		if price <= 0 || size <= 0 {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}

	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price < entries[j].Price
		}
		return entries[i].Price > entries[j].Price
	})

	return entries
}

// mapTrades converts Data API trades to domain.Trade.
func mapTrades(raw []rawDataTrade) []domain.Trade {
	trades := make([]domain.Trade, 0, len(raw))
	for _, rt := range raw {
		price, _ := rt.Price.Float64()
		size, _ := rt.Size.Float64()
		trades = append(trades, domain.Trade{
			ID:        rt.ID,
			TokenID:   rt.Asset,
			Side:      rt.Side,
			Price:     price,
			Size:      size,
			Timestamp: parseTradeTimestamp(rt.Timestamp),
		})
	}
	return trades
}

func parseTradeTimestamp(n json.Number) time.Time {
	s := n.String()
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		if sec > 1e12 {
			return time.Unix(sec/1000, (sec%1000)*int64(time.Millisecond)).UTC()
		}
		return time.Unix(sec, 0).UTC()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(f)
		nsec := int64((f - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
