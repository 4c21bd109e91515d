package inventory

import "context"

// EventHandler receives workflow outcomes, e.g. for metrics.
type EventHandler interface {
	HandleStocksCloned(ctx context.Context, evt StocksClonedEvent) error
	HandleStocksSold(ctx context.Context, evt StocksSoldEvent) error
	HandleStockSwapped(ctx context.Context, evt StockSwappedEvent) error
	HandleStockStatusChanged(ctx context.Context, evt StockStatusChangedEvent) error
	HandleWorkflowFailed(ctx context.Context, workflow string, err error)
}
