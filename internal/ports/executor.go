package ports

import (
	"context"

	"github.com/web3devz/polytrader/internal/domain"
)

// OrderRequest is a market order to submit to the CLOB.
type OrderRequest struct {
	TokenID string
	Side    domain.Side // BUY or SELL
	// Size is USDC when buying, shares when selling.
	Size float64
	// PriceBound caps the marketable limit price (1 - slippage for sells,
	// worst acceptable ask for buys). Zero means use the venue default.
	PriceBound float64
}

// OrderExecutor submits signed orders to the execution venue. Submissions
// are a financial side effect: implementations must not retry internally,
// and callers never retry automatically either. Failures are returned as
// *domain.ExecutionError.
type OrderExecutor interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (domain.ExecutionResult, error)

	// GetBalance returns the available USDC balance on the venue.
	GetBalance(ctx context.Context) (float64, error)
}
