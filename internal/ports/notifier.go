package ports

import (
	"context"

	"github.com/web3devz/polytrader/internal/domain"
)

// Notifier presents run progress to the user.
type Notifier interface {
	// Notify renders one run event.
	Notify(ctx context.Context, ev domain.Event) error

	// ConfirmTrade renders the pending trade decision and collects the
	// human verdict. Only called by interactive front ends.
	ConfirmTrade(ctx context.Context, state domain.RunState) (domain.Confirmation, error)
}
