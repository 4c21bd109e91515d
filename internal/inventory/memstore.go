package inventory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/stockroom/stockroom/internal/query"
	"github.com/stockroom/stockroom/internal/shared"
)

type memoryState struct {
	configurations map[uuid.UUID]Configuration
	stocks         map[string]Stock
	sales          map[uuid.UUID]Sale
}

func newMemoryState() memoryState {
	return memoryState{
		configurations: make(map[uuid.UUID]Configuration),
		stocks:         make(map[string]Stock),
		sales:          make(map[uuid.UUID]Sale),
	}
}

func (s memoryState) clone() memoryState {
	out := newMemoryState()
	for k, v := range s.configurations {
		out.configurations[k] = cloneConfiguration(v)
	}
	for k, v := range s.stocks {
		out.stocks[k] = cloneStock(v)
	}
	for k, v := range s.sales {
		out.sales[k] = v
	}
	return out
}

func cloneConfiguration(c Configuration) Configuration {
	c.ClonedStocks = append([]string{}, c.ClonedStocks...)
	return c
}

func cloneStock(s Stock) Stock {
	s.StatusHistory = append([]StatusEntry(nil), s.StatusHistory...)
	return s
}

// MemoryRepository is an in-process store. Transactions are serialized and
// run against a copy of the state that replaces it on commit.
type MemoryRepository struct {
	mu    sync.RWMutex
	state memoryState
}

// NewMemoryRepository constructs an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: newMemoryState()}
}

// WithTx runs fn against a snapshot and commits it when fn succeeds.
func (m *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{state: m.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

// GetConfiguration loads one configuration.
func (m *MemoryRepository) GetConfiguration(ctx context.Context, id uuid.UUID) (Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.state.configurations[id]
	if !ok {
		return Configuration{}, shared.NotFoundf("configuration %s not found", id)
	}
	return cloneConfiguration(cfg), nil
}

// ListConfigurations returns configurations matching filter, oldest first.
func (m *MemoryRepository) ListConfigurations(ctx context.Context, filter query.Filter) ([]Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Configuration, 0, len(m.state.configurations))
	for _, cfg := range m.state.configurations {
		if filter.Match(cfg) {
			out = append(out, cloneConfiguration(cfg))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreateDate.Equal(out[j].CreateDate) {
			return out[i].CreateDate.Before(out[j].CreateDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// GetStock loads one stock by serial.
func (m *MemoryRepository) GetStock(ctx context.Context, serial string) (Stock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stock, ok := m.state.stocks[serial]
	if !ok {
		return Stock{}, shared.NotFoundf("stock %s not found", serial)
	}
	return cloneStock(stock), nil
}

// ListStocks returns stocks matching filter ordered by serial.
func (m *MemoryRepository) ListStocks(ctx context.Context, filter query.Filter) ([]Stock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Stock, 0, len(m.state.stocks))
	for _, stock := range m.state.stocks {
		if filter.Match(stock) {
			out = append(out, cloneStock(stock))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out, nil
}

// GetSale loads one sale.
func (m *MemoryRepository) GetSale(ctx context.Context, id uuid.UUID) (Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sale, ok := m.state.sales[id]
	if !ok {
		return Sale{}, shared.NotFoundf("sale %s not found", id)
	}
	return sale, nil
}

// ListSales returns sales matching filter, newest sale date first.
func (m *MemoryRepository) ListSales(ctx context.Context, filter query.Filter) ([]Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Sale, 0, len(m.state.sales))
	for _, sale := range m.state.sales {
		if filter.Match(sale) {
			out = append(out, sale)
		}
	}
	sortSales(out)
	return out, nil
}

func sortSales(sales []Sale) {
	sort.Slice(sales, func(i, j int) bool {
		if !sales[i].SaleDate.Equal(sales[j].SaleDate) {
			return sales[i].SaleDate.After(sales[j].SaleDate)
		}
		if !sales[i].CreateDate.Equal(sales[j].CreateDate) {
			return sales[i].CreateDate.After(sales[j].CreateDate)
		}
		return sales[i].ID.String() < sales[j].ID.String()
	})
}

type memoryTx struct {
	state memoryState
}

func (tx *memoryTx) InsertConfiguration(ctx context.Context, cfg Configuration) error {
	if _, exists := tx.state.configurations[cfg.ID]; exists {
		return shared.Validationf("configuration %s already exists", cfg.ID)
	}
	tx.state.configurations[cfg.ID] = cloneConfiguration(cfg)
	return nil
}

func (tx *memoryTx) GetConfigurationForUpdate(ctx context.Context, id uuid.UUID) (Configuration, error) {
	cfg, ok := tx.state.configurations[id]
	if !ok {
		return Configuration{}, shared.NotFoundf("configuration %s not found", id)
	}
	return cloneConfiguration(cfg), nil
}

func (tx *memoryTx) UpdateConfiguration(ctx context.Context, cfg Configuration) error {
	if _, ok := tx.state.configurations[cfg.ID]; !ok {
		return shared.NotFoundf("configuration %s not found", cfg.ID)
	}
	tx.state.configurations[cfg.ID] = cloneConfiguration(cfg)
	return nil
}

func (tx *memoryTx) DeleteConfiguration(ctx context.Context, id uuid.UUID) error {
	if _, ok := tx.state.configurations[id]; !ok {
		return shared.NotFoundf("configuration %s not found", id)
	}
	delete(tx.state.configurations, id)
	return nil
}

func (tx *memoryTx) ExistingSerials(ctx context.Context, serials []string) ([]string, error) {
	var existing []string
	for _, serial := range serials {
		if _, ok := tx.state.stocks[serial]; ok {
			existing = append(existing, serial)
		}
	}
	return existing, nil
}

func (tx *memoryTx) FindStocksForUpdate(ctx context.Context, serials []string) ([]Stock, error) {
	var out []Stock
	seen := make(map[string]struct{}, len(serials))
	for _, serial := range serials {
		if _, dup := seen[serial]; dup {
			continue
		}
		seen[serial] = struct{}{}
		if stock, ok := tx.state.stocks[serial]; ok {
			out = append(out, cloneStock(stock))
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertStocks(ctx context.Context, stocks []Stock) (int64, error) {
	for _, stock := range stocks {
		if _, exists := tx.state.stocks[stock.Serial]; exists {
			return 0, shared.Validationf("serial %s already exists", stock.Serial)
		}
		tx.state.stocks[stock.Serial] = cloneStock(stock)
	}
	return int64(len(stocks)), nil
}

func (tx *memoryTx) UpdateStock(ctx context.Context, stock Stock) error {
	current, ok := tx.state.stocks[stock.Serial]
	if !ok {
		return shared.NotFoundf("stock %s not found", stock.Serial)
	}
	// status and history only move through TransitionStocks
	stock.CurrentStatus = current.CurrentStatus
	stock.StatusHistory = current.StatusHistory
	tx.state.stocks[stock.Serial] = cloneStock(stock)
	return nil
}

func (tx *memoryTx) TransitionStocks(ctx context.Context, t Transition) (int64, error) {
	var modified int64
	for _, serial := range t.Serials {
		stock, ok := tx.state.stocks[serial]
		if !ok || !containsStatus(t.From, stock.CurrentStatus) {
			continue
		}
		stock = cloneStock(stock)
		stock.applyStatus(t.To, t.Actor.At)
		stock.Remarks = AppendRemarks(stock.Remarks, t.RemarksNote)
		stock.Touch(t.Actor)
		tx.state.stocks[serial] = stock
		modified++
	}
	return modified, nil
}

func (tx *memoryTx) DeleteStock(ctx context.Context, serial string) error {
	if _, ok := tx.state.stocks[serial]; !ok {
		return shared.NotFoundf("stock %s not found", serial)
	}
	delete(tx.state.stocks, serial)
	return nil
}

func (tx *memoryTx) InsertSales(ctx context.Context, sales []Sale) (int64, error) {
	for _, sale := range sales {
		tx.state.sales[sale.ID] = sale
	}
	return int64(len(sales)), nil
}

func (tx *memoryTx) FindSalesBySerialForUpdate(ctx context.Context, serial string) ([]Sale, error) {
	var out []Sale
	for _, sale := range tx.state.sales {
		if sale.Serial == serial {
			out = append(out, sale)
		}
	}
	sortSales(out)
	return out, nil
}

func (tx *memoryTx) RepointSale(ctx context.Context, id uuid.UUID, serial string, actor shared.Actor) error {
	sale, ok := tx.state.sales[id]
	if !ok {
		return shared.NotFoundf("sale %s not found", id)
	}
	sale.Serial = serial
	sale.Touch(actor)
	tx.state.sales[id] = sale
	return nil
}

func (tx *memoryTx) DeleteSale(ctx context.Context, id uuid.UUID) error {
	if _, ok := tx.state.sales[id]; !ok {
		return shared.NotFoundf("sale %s not found", id)
	}
	delete(tx.state.sales, id)
	return nil
}
