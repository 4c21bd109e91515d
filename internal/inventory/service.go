package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/stockroom/stockroom/internal/query"
	"github.com/stockroom/stockroom/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetConfiguration(ctx context.Context, id uuid.UUID) (Configuration, error)
	ListConfigurations(ctx context.Context, filter query.Filter) ([]Configuration, error)
	GetStock(ctx context.Context, serial string) (Stock, error)
	ListStocks(ctx context.Context, filter query.Filter) ([]Stock, error)
	GetSale(ctx context.Context, id uuid.UUID) (Sale, error)
	ListSales(ctx context.Context, filter query.Filter) ([]Sale, error)
}

// TxRepository exposes transactional operations used by service. Reads
// ending in ForUpdate lock the returned rows until the transaction ends.
type TxRepository interface {
	InsertConfiguration(ctx context.Context, cfg Configuration) error
	GetConfigurationForUpdate(ctx context.Context, id uuid.UUID) (Configuration, error)
	UpdateConfiguration(ctx context.Context, cfg Configuration) error
	DeleteConfiguration(ctx context.Context, id uuid.UUID) error

	ExistingSerials(ctx context.Context, serials []string) ([]string, error)
	FindStocksForUpdate(ctx context.Context, serials []string) ([]Stock, error)
	InsertStocks(ctx context.Context, stocks []Stock) (int64, error)
	UpdateStock(ctx context.Context, stock Stock) error
	TransitionStocks(ctx context.Context, t Transition) (int64, error)
	DeleteStock(ctx context.Context, serial string) error

	InsertSales(ctx context.Context, sales []Sale) (int64, error)
	FindSalesBySerialForUpdate(ctx context.Context, serial string) ([]Sale, error)
	RepointSale(ctx context.Context, id uuid.UUID, serial string, actor shared.Actor) error
	DeleteSale(ctx context.Context, id uuid.UUID) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against double submits.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Release(ctx context.Context, key, module string) error
}

// Service coordinates inventory operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	events      EventHandler
	logger      *slog.Logger
}

// NewService builds Service. audit, idem and events may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, events EventHandler) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, events: events, logger: slog.Default()}
}

// WithLogger sets the logger used for failures that do not fail the request.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// ParseID parses a store identifier.
func ParseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, shared.Validationf("malformed identifier %q", raw)
	}
	return id, nil
}

// CreateConfiguration stores a new configuration with no clones.
func (s *Service) CreateConfiguration(ctx context.Context, specs Specs, actor shared.Actor) (Configuration, error) {
	if err := specs.Validate(); err != nil {
		return Configuration{}, err
	}
	cfg := Configuration{
		ID:           uuid.New(),
		Specs:        specs,
		ClonedStocks: []string{},
		Audit:        shared.CreatedBy(actor),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertConfiguration(ctx, cfg)
	})
	if err != nil {
		return Configuration{}, err
	}
	s.record(ctx, actor, "configuration:create", "configuration", cfg.ID.String(), nil)
	return cfg, nil
}

// GetConfiguration loads one configuration.
func (s *Service) GetConfiguration(ctx context.Context, rawID string) (Configuration, error) {
	id, err := ParseID(rawID)
	if err != nil {
		return Configuration{}, err
	}
	return s.repo.GetConfiguration(ctx, id)
}

// ListConfigurations returns the configurations matching filter.
func (s *Service) ListConfigurations(ctx context.Context, filter query.Filter) ([]Configuration, error) {
	return s.repo.ListConfigurations(ctx, filter)
}

// UpdateConfiguration merges patch into the configuration.
func (s *Service) UpdateConfiguration(ctx context.Context, rawID string, patch ConfigurationPatch, actor shared.Actor) (Configuration, error) {
	id, err := ParseID(rawID)
	if err != nil {
		return Configuration{}, err
	}
	if patch.Count() == 0 {
		return Configuration{}, shared.Validationf("no fields to update")
	}
	var updated Configuration
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cfg, err := tx.GetConfigurationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		cfg.Specs = patch.Apply(cfg.Specs)
		if err := cfg.Specs.Validate(); err != nil {
			return err
		}
		cfg.Touch(actor)
		if err := tx.UpdateConfiguration(ctx, cfg); err != nil {
			return err
		}
		updated = cfg
		return nil
	})
	if err != nil {
		return Configuration{}, err
	}
	s.record(ctx, actor, "configuration:update", "configuration", id.String(), map[string]any{"fields": patch.Count()})
	return updated, nil
}

// CloneConfiguration copies a configuration into a new one, applying the
// optional overrides. The copy starts with no clones.
func (s *Service) CloneConfiguration(ctx context.Context, rawID string, overrides ConfigurationPatch, actor shared.Actor) (Configuration, error) {
	src, err := s.GetConfiguration(ctx, rawID)
	if err != nil {
		return Configuration{}, err
	}
	cfg, err := s.CreateConfiguration(ctx, overrides.Apply(src.Specs), actor)
	if err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

// DeleteConfiguration removes a configuration with no live clones. A non
// empty cloned_stocks list is reported in a ConflictError.
func (s *Service) DeleteConfiguration(ctx context.Context, rawID string, actor shared.Actor) error {
	id, err := ParseID(rawID)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cfg, err := tx.GetConfigurationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if len(cfg.ClonedStocks) > 0 {
			blocking := append([]string(nil), cfg.ClonedStocks...)
			sort.Strings(blocking)
			return &shared.ConflictError{
				Message:  fmt.Sprintf("configuration %s still has cloned stocks", id),
				Field:    "cloned_stocks",
				Blocking: blocking,
			}
		}
		return tx.DeleteConfiguration(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, "configuration:delete", "configuration", id.String(), nil)
	return nil
}

// CloneStocksFromConfig creates one stock per template from the
// configuration and records the serials in its cloned_stocks, atomically.
func (s *Service) CloneStocksFromConfig(ctx context.Context, rawConfigID string, templates []StockTemplate, actor shared.Actor) ([]Stock, error) {
	configID, err := ParseID(rawConfigID)
	if err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		return nil, shared.Validationf("at least one stock is required")
	}
	serials := make([]string, len(templates))
	for i := range templates {
		serial := strings.TrimSpace(templates[i].Serial)
		if serial == "" {
			return nil, shared.Validationf("stock %d: serial is required", i+1)
		}
		serials[i] = serial
	}
	if dups := duplicates(serials); len(dups) > 0 {
		return nil, shared.Validationf("duplicate serials in batch: %s", strings.Join(dups, ", "))
	}
	if _, err := s.repo.GetConfiguration(ctx, configID); err != nil {
		return nil, err
	}

	var created []Stock
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cfg, err := tx.GetConfigurationForUpdate(ctx, configID)
		if err != nil {
			return err
		}
		existing, err := tx.ExistingSerials(ctx, serials)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			sort.Strings(existing)
			return shared.Validationf("serials already exist: %s", strings.Join(existing, ", "))
		}

		stocks := make([]Stock, len(templates))
		for i, tpl := range templates {
			stock, err := newStock(cfg, serials[i], tpl, actor)
			if err != nil {
				return err
			}
			stocks[i] = stock
		}
		inserted, err := tx.InsertStocks(ctx, stocks)
		if err != nil {
			return err
		}
		if inserted != int64(len(stocks)) {
			return shared.Transactionf("inserted %d of %d stocks", inserted, len(stocks))
		}

		cfg.ClonedStocks = union(cfg.ClonedStocks, serials)
		cfg.Touch(actor)
		if err := tx.UpdateConfiguration(ctx, cfg); err != nil {
			return err
		}
		created = stocks
		return nil
	})
	if err != nil {
		s.failed(ctx, WorkflowClone, err)
		return nil, err
	}
	s.record(ctx, actor, "stock:clone", "configuration", configID.String(), map[string]any{"serials": serials})
	if s.events != nil {
		_ = s.events.HandleStocksCloned(ctx, StocksClonedEvent{ConfigID: configID, Serials: serials, At: actor.At})
	}
	return created, nil
}

func newStock(cfg Configuration, serial string, tpl StockTemplate, actor shared.Actor) (Stock, error) {
	specs := tpl.SpecsPatch.Apply(cfg.Specs)
	if err := specs.Validate(); err != nil {
		return Stock{}, fmt.Errorf("stock %s: %w", serial, err)
	}
	purchase := tpl.PurchaseDate
	if purchase.IsZero() {
		purchase = actor.At
	}
	purchase = purchase.UTC()
	stock := Stock{
		ID:              uuid.New(),
		ConfigID:        cfg.ID,
		Serial:          serial,
		Specs:           specs,
		PurchaseDate:    purchase,
		WarrantyEndDate: WarrantyEnd(purchase, specs.WarrantyYears),
		Remarks:         tpl.Remarks,
		Audit:           shared.CreatedBy(actor),
	}
	stock.applyStatus(StatusNew, actor.At)
	return stock, nil
}

// GetStock loads a stock by serial.
func (s *Service) GetStock(ctx context.Context, serial string) (Stock, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return Stock{}, shared.Validationf("serial is required")
	}
	return s.repo.GetStock(ctx, serial)
}

// ListStocks returns the stocks matching filter.
func (s *Service) ListStocks(ctx context.Context, filter query.Filter) ([]Stock, error) {
	return s.repo.ListStocks(ctx, filter)
}

// UpdateStock merges patch into a stock. Changing the purchase date or the
// warranty recomputes the warranty end date. Deleted stocks are frozen.
func (s *Service) UpdateStock(ctx context.Context, serial string, patch StockPatch, actor shared.Actor) (Stock, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return Stock{}, shared.Validationf("serial is required")
	}
	if patch.Count() == 0 {
		return Stock{}, shared.Validationf("no fields to update")
	}
	var updated Stock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stock, err := findOne(ctx, tx, serial)
		if err != nil {
			return err
		}
		if stock.CurrentStatus.IsTerminal() {
			return shared.Preconditionf("stock %s is %s", serial, stock.CurrentStatus)
		}
		stock.Specs = patch.SpecsPatch.Apply(stock.Specs)
		if err := stock.Specs.Validate(); err != nil {
			return err
		}
		if patch.PurchaseDate != nil {
			stock.PurchaseDate = patch.PurchaseDate.UTC()
		}
		if patch.Remarks != nil {
			stock.Remarks = *patch.Remarks
		}
		stock.WarrantyEndDate = WarrantyEnd(stock.PurchaseDate, stock.WarrantyYears)
		stock.Touch(actor)
		if err := tx.UpdateStock(ctx, stock); err != nil {
			return err
		}
		updated = stock
		return nil
	})
	if err != nil {
		return Stock{}, err
	}
	s.record(ctx, actor, "stock:update", "stock", serial, map[string]any{"fields": patch.Count()})
	return updated, nil
}

// TransitionStockStatus applies the transitions not owned by a workflow:
// soft delete and refurbish.
func (s *Service) TransitionStockStatus(ctx context.Context, serial string, target StockStatus, actor shared.Actor) (Stock, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return Stock{}, shared.Validationf("serial is required")
	}
	var trigger Trigger
	switch target {
	case StatusDeleted:
		trigger = TriggerSoftDelete
	case StatusRefurbished:
		trigger = TriggerRefurbish
	default:
		return Stock{}, shared.Validationf("status %q cannot be set directly", target)
	}
	var updated Stock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stock, err := findOne(ctx, tx, serial)
		if err != nil {
			return err
		}
		if !CanTransition(stock.CurrentStatus, trigger) {
			return shared.Preconditionf("stock %s cannot move from %s to %s", serial, stock.CurrentStatus, target)
		}
		t := NewTransition(trigger, []string{serial})
		t.Actor = actor
		modified, err := tx.TransitionStocks(ctx, t)
		if err != nil {
			return err
		}
		if modified != 1 {
			return shared.Transactionf("status of stock %s was not updated", serial)
		}
		updated, err = findOne(ctx, tx, serial)
		return err
	})
	if err != nil {
		s.failed(ctx, WorkflowStatus, err)
		return Stock{}, err
	}
	s.record(ctx, actor, "stock:status", "stock", serial, map[string]any{"status": string(target)})
	if s.events != nil {
		_ = s.events.HandleStockStatusChanged(ctx, StockStatusChangedEvent{Serial: serial, Status: target, At: actor.At})
	}
	return updated, nil
}

// DeleteStock hard deletes a stock and removes its serial from the parent
// configuration. Stocks referenced by a sale cannot be removed. Development
// use only.
func (s *Service) DeleteStock(ctx context.Context, serial string, actor shared.Actor) error {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return shared.Validationf("serial is required")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stock, err := findOne(ctx, tx, serial)
		if err != nil {
			return err
		}
		sales, err := tx.FindSalesBySerialForUpdate(ctx, serial)
		if err != nil {
			return err
		}
		if len(sales) > 0 {
			ids := make([]string, len(sales))
			for i, sale := range sales {
				ids[i] = sale.ID.String()
			}
			return &shared.ConflictError{Message: fmt.Sprintf("stock %s is referenced by sales", serial), Field: "sales", Blocking: ids}
		}
		cfg, err := tx.GetConfigurationForUpdate(ctx, stock.ConfigID)
		switch {
		case errors.Is(err, shared.ErrNotFound):
		case err != nil:
			return err
		default:
			cfg.ClonedStocks = without(cfg.ClonedStocks, serial)
			cfg.Touch(actor)
			if err := tx.UpdateConfiguration(ctx, cfg); err != nil {
				return err
			}
		}
		return tx.DeleteStock(ctx, serial)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, "stock:delete", "stock", serial, nil)
	return nil
}

func findOne(ctx context.Context, tx TxRepository, serial string) (Stock, error) {
	stocks, err := tx.FindStocksForUpdate(ctx, []string{serial})
	if err != nil {
		return Stock{}, err
	}
	if len(stocks) == 0 {
		return Stock{}, shared.NotFoundf("stock %s not found", serial)
	}
	return stocks[0], nil
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor.Name,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       actor.At,
	})
}

func (s *Service) failed(ctx context.Context, workflow string, err error) {
	if s.events != nil {
		s.events.HandleWorkflowFailed(ctx, workflow, err)
	}
}

func duplicates(values []string) []string {
	seen := make(map[string]int, len(values))
	var dups []string
	for _, v := range values {
		seen[v]++
		if seen[v] == 2 {
			dups = append(dups, v)
		}
	}
	return dups
}

func union(base, extra []string) []string {
	out := append([]string(nil), base...)
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, v := range base {
		seen[v] = struct{}{}
	}
	for _, v := range extra {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func without(values []string, drop string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != drop {
			out = append(out, v)
		}
	}
	return out
}
