package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Workflow names reported with failures.
const (
	WorkflowClone  = "clone"
	WorkflowSale   = "sale"
	WorkflowSwap   = "swap"
	WorkflowStatus = "status"
)

// StocksClonedEvent is emitted after stocks are cloned from a configuration.
type StocksClonedEvent struct {
	ConfigID uuid.UUID
	Serials  []string
	At       time.Time
}

// StocksSoldEvent is emitted after a sale batch commits.
type StocksSoldEvent struct {
	Serials []string
	Total   decimal.Decimal
	At      time.Time
}

// StockSwappedEvent is emitted after a swap commits.
type StockSwappedEvent struct {
	SaleID      uuid.UUID
	Returned    string
	Replacement string
	At          time.Time
}

// StockStatusChangedEvent is emitted after a direct status transition.
type StockStatusChangedEvent struct {
	Serial string
	Status StockStatus
	At     time.Time
}
