package ports

import (
	"context"

	"github.com/web3devz/polytrader/internal/domain"
)

// MarketProvider fetches market metadata from the Gamma API.
type MarketProvider interface {
	// GetMarket returns the snapshot for a market ID.
	// Fails with domain.ErrMarketNotFound if the ID does not exist.
	GetMarket(ctx context.Context, marketID string) (domain.Market, error)
}

// BookProvider fetches orderbooks from the CLOB.
type BookProvider interface {
	// FetchOrderBooks returns the orderbooks for the given token_ids.
	FetchOrderBooks(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error)
}

// TradeProvider fetches recent trades of a token from the public data API.
type TradeProvider interface {
	FetchTrades(ctx context.Context, tokenID string, limit int) ([]domain.Trade, error)
}
