package polymarket

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/web3devz/polytrader/internal/domain"
)

const tradesPath = "/trades"

// FetchTrades returns the most recent trades of a token from the public
// Data API, newest first.
func (c *Client) FetchTrades(ctx context.Context, tokenID string, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 100
	}

	url := fmt.Sprintf("%s%s?asset=%s&limit=%d", c.dataBase, tradesPath, tokenID, limit)

	var resp []rawDataTrade
	if err := c.get(ctx, c.clobLimiter, url, &resp); err != nil {
		return nil, fmt.Errorf("data-api.FetchTrades: %w", err)
	}

	trades := mapTrades(resp)
	slog.Debug("trades fetched",
		"token", tokenID[:min(8, len(tokenID))],
		"count", len(trades),
	)
	return trades, nil
}
