package polymarket

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/web3devz/polytrader/internal/domain"
)

const gammaMarketsPath = "/markets/"

// GetMarket fetches one market by its Gamma ID and maps it to the domain
// snapshot. Fails with domain.ErrMarketNotFound for unknown IDs.
func (c *Client) GetMarket(ctx context.Context, marketID string) (domain.Market, error) {
	url := c.gammaBase + gammaMarketsPath + marketID

	var gm gammaMarket
	if err := c.get(ctx, c.gammaLimiter, url, &gm); err != nil {
		return domain.Market{}, fmt.Errorf("gamma.GetMarket %s: %w", marketID, err)
	}

	m, err := mapGammaMarket(gm)
	if err != nil {
		return domain.Market{}, fmt.Errorf("gamma.GetMarket %s: %w", marketID, err)
	}

	slog.Debug("market fetched",
		"market_id", marketID,
		"question", m.Question,
		"active", m.Active,
		"closed", m.Closed,
	)
	return m, nil
}
