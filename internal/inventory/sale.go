package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockroom/stockroom/internal/query"
	"github.com/stockroom/stockroom/internal/shared"
)

const idempotencyModule = "sales"

var validate = validator.New()

// SellStock converts a batch of serial/price lines into sale records and
// moves every stock to sold, all or nothing.
func (s *Service) SellStock(ctx context.Context, req SaleRequest, actor shared.Actor) ([]Sale, error) {
	serials, err := validateSaleRequest(req)
	if err != nil {
		return nil, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	insertedKey := false
	if s.idempotency != nil && key != "" {
		if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			return nil, err
		}
		insertedKey = true
	}

	var created []Sale
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stocks, err := tx.FindStocksForUpdate(ctx, serials)
		if err != nil {
			return err
		}
		var unavailable []string
		for _, stock := range stocks {
			if !CanTransition(stock.CurrentStatus, TriggerSale) {
				unavailable = append(unavailable, fmt.Sprintf("%s (%s)", stock.Serial, stock.CurrentStatus))
			}
		}
		if len(unavailable) > 0 {
			sort.Strings(unavailable)
			return shared.Preconditionf("stocks not in a valid status for sale: %s", strings.Join(unavailable, ", "))
		}
		if len(stocks) != len(serials) {
			return shared.NotFoundf("only %d of %d stocks found, missing: %s",
				len(stocks), len(serials), strings.Join(missingSerials(serials, stocks), ", "))
		}

		t := NewTransition(TriggerSale, serials)
		t.Actor = actor
		modified, err := tx.TransitionStocks(ctx, t)
		if err != nil {
			return err
		}

		sales := make([]Sale, len(req.Lines))
		for i, line := range req.Lines {
			sales[i] = Sale{
				ID:           uuid.New(),
				Serial:       serials[i],
				Price:        line.Price,
				SaleDate:     req.SaleDate.UTC(),
				CustomerName: req.CustomerName,
				Mobile:       req.Mobile,
				Address:      req.Address,
				Remarks:      req.Remarks,
				Audit:        shared.CreatedBy(actor),
			}
		}
		inserted, err := tx.InsertSales(ctx, sales)
		if err != nil {
			return err
		}

		if modified != int64(len(serials)) || inserted != int64(len(serials)) {
			return shared.Transactionf("sold %d stocks and created %d sales for a batch of %d", modified, inserted, len(serials))
		}
		created = sales
		return nil
	})
	if err != nil {
		if insertedKey {
			// The request context may already be cancelled; the key must still be freed.
			if relErr := s.idempotency.Release(context.WithoutCancel(ctx), key, idempotencyModule); relErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", relErr))
			}
		}
		s.failed(ctx, WorkflowSale, err)
		return nil, err
	}

	total := decimal.Zero
	ids := make([]string, len(created))
	for i, sale := range created {
		total = total.Add(sale.Price)
		ids[i] = sale.ID.String()
	}
	s.record(ctx, actor, "sale:create", "sale", strings.Join(ids, ","), map[string]any{
		"serials":  serials,
		"total":    total.String(),
		"customer": req.CustomerName,
	})
	if s.events != nil {
		_ = s.events.HandleStocksSold(ctx, StocksSoldEvent{Serials: serials, Total: total, At: actor.At})
	}
	return created, nil
}

func validateSaleRequest(req SaleRequest) ([]string, error) {
	if len(req.Lines) == 0 {
		return nil, shared.Validationf("at least one sale line is required")
	}
	if err := validate.Struct(req.Customer); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	serials := make([]string, len(req.Lines))
	for i, line := range req.Lines {
		serial := strings.TrimSpace(line.Serial)
		if serial == "" {
			return nil, shared.Validationf("sale line %d: serial is required", i+1)
		}
		if !line.Price.IsPositive() {
			return nil, shared.Validationf("sale line %d: price must be > 0", i+1)
		}
		if !HasCentPrecision(line.Price) {
			return nil, shared.Validationf("sale line %d: price allows at most two decimal places", i+1)
		}
		serials[i] = serial
	}
	if dups := duplicates(serials); len(dups) > 0 {
		return nil, shared.Validationf("duplicate serials in batch: %s", strings.Join(dups, ", "))
	}
	return serials, nil
}

func missingSerials(want []string, found []Stock) []string {
	have := make(map[string]struct{}, len(found))
	for _, s := range found {
		have[s.Serial] = struct{}{}
	}
	var missing []string
	for _, serial := range want {
		if _, ok := have[serial]; !ok {
			missing = append(missing, serial)
		}
	}
	return missing
}

// SwapStock repoints the sale of SoldSerial to ExchangeSerial, returning the
// sold stock and selling the replacement in one transaction.
func (s *Service) SwapStock(ctx context.Context, req SwapRequest, actor shared.Actor) (Sale, error) {
	sold := strings.TrimSpace(req.SoldSerial)
	exchange := strings.TrimSpace(req.ExchangeSerial)
	swapErr := func(reason string) error {
		return shared.Validationf("cannot swap %q with %q: %s", sold, exchange, reason)
	}
	switch {
	case sold == "" || exchange == "":
		return Sale{}, swapErr("both serials are required")
	case sold == exchange:
		return Sale{}, swapErr("serials must differ")
	}

	var updated Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sales, err := tx.FindSalesBySerialForUpdate(ctx, sold)
		if err != nil {
			return err
		}
		if len(sales) == 0 {
			return swapErr("no sale references the sold serial")
		}
		taken, err := tx.FindSalesBySerialForUpdate(ctx, exchange)
		if err != nil {
			return err
		}
		if len(taken) > 0 {
			return swapErr("the exchange serial is already referenced by a sale")
		}
		stocks, err := tx.FindStocksForUpdate(ctx, []string{sold, exchange})
		if err != nil {
			return err
		}
		bySerial := make(map[string]Stock, len(stocks))
		for _, st := range stocks {
			bySerial[st.Serial] = st
		}
		soldStock, ok := bySerial[sold]
		if !ok || !CanTransition(soldStock.CurrentStatus, TriggerSwapReturn) {
			return swapErr("the sold stock is missing or not sold")
		}
		exchangeStock, ok := bySerial[exchange]
		if !ok || !CanTransition(exchangeStock.CurrentStatus, TriggerSwapReplace) {
			return swapErr("the exchange stock is missing or not available")
		}

		sale := sales[0]
		if err := tx.RepointSale(ctx, sale.ID, exchange, actor); err != nil {
			return err
		}
		ret := NewTransition(TriggerSwapReturn, []string{sold})
		ret.Actor = actor
		ret.RemarksNote = req.ReturnRemarks
		if n, err := tx.TransitionStocks(ctx, ret); err != nil {
			return err
		} else if n != 1 {
			return shared.Transactionf("stock %s was not returned", sold)
		}
		rep := NewTransition(TriggerSwapReplace, []string{exchange})
		rep.Actor = actor
		if n, err := tx.TransitionStocks(ctx, rep); err != nil {
			return err
		} else if n != 1 {
			return shared.Transactionf("stock %s was not sold", exchange)
		}

		sale.Serial = exchange
		sale.Touch(actor)
		updated = sale
		return nil
	})
	if err != nil {
		s.failed(ctx, WorkflowSwap, err)
		return Sale{}, err
	}
	s.record(ctx, actor, "sale:swap", "sale", updated.ID.String(), map[string]any{
		"returned":    sold,
		"replacement": exchange,
		"remarks":     req.ReturnRemarks,
	})
	if s.events != nil {
		_ = s.events.HandleStockSwapped(ctx, StockSwappedEvent{SaleID: updated.ID, Returned: sold, Replacement: exchange, At: actor.At})
	}
	return updated, nil
}

// GetSale loads one sale.
func (s *Service) GetSale(ctx context.Context, rawID string) (Sale, error) {
	id, err := ParseID(rawID)
	if err != nil {
		return Sale{}, err
	}
	return s.repo.GetSale(ctx, id)
}

// ListSales returns the sales matching filter.
func (s *Service) ListSales(ctx context.Context, filter query.Filter) ([]Sale, error) {
	return s.repo.ListSales(ctx, filter)
}

// DeleteSale removes a sale record. Development use only: the stock keeps its
// sold status.
func (s *Service) DeleteSale(ctx context.Context, rawID string, actor shared.Actor) error {
	id, err := ParseID(rawID)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteSale(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, "sale:delete", "sale", id.String(), nil)
	return nil
}
