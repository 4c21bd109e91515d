package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockroom/stockroom/internal/query"
	"github.com/stockroom/stockroom/internal/shared"
)

var testClock = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func actorAt(name string, offset time.Duration) shared.Actor {
	return shared.Actor{Name: name, At: testClock.Add(offset)}
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.logs))
	for i, l := range a.logs {
		out[i] = l.Action
	}
	return out
}

type recordingEvents struct {
	cloned   int
	sold     int
	swapped  int
	statuses int
	failures map[string]int
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{failures: make(map[string]int)}
}

func (e *recordingEvents) HandleStocksCloned(context.Context, StocksClonedEvent) error {
	e.cloned++
	return nil
}

func (e *recordingEvents) HandleStocksSold(context.Context, StocksSoldEvent) error {
	e.sold++
	return nil
}

func (e *recordingEvents) HandleStockSwapped(context.Context, StockSwappedEvent) error {
	e.swapped++
	return nil
}

func (e *recordingEvents) HandleStockStatusChanged(context.Context, StockStatusChangedEvent) error {
	e.statuses++
	return nil
}

func (e *recordingEvents) HandleWorkflowFailed(_ context.Context, workflow string, _ error) {
	e.failures[workflow]++
}

type fixture struct {
	repo   *MemoryRepository
	svc    *Service
	audit  *recordingAudit
	events *recordingEvents
	idem   *shared.MemoryIdempotencyStore
}

func newFixture() *fixture {
	f := &fixture{
		repo:   NewMemoryRepository(),
		audit:  &recordingAudit{},
		events: newRecordingEvents(),
		idem:   shared.NewMemoryIdempotencyStore(),
	}
	f.svc = NewService(f.repo, f.audit, f.idem, f.events)
	return f
}

func laptopSpecs() Specs {
	return Specs{
		Brand:         "Lenovo",
		Model:         "ThinkPad T14",
		ModelNumber:   "20W0",
		RAM:           "16GB",
		OS:            "Windows 11",
		Price:         decimal.NewFromInt(1200),
		WarrantyYears: decimal.NewFromInt(1),
	}
}

func (f *fixture) config(t *testing.T) Configuration {
	t.Helper()
	cfg, err := f.svc.CreateConfiguration(context.Background(), laptopSpecs(), actorAt("admin", 0))
	require.NoError(t, err)
	return cfg
}

func (f *fixture) clone(t *testing.T, cfg Configuration, serials ...string) []Stock {
	t.Helper()
	templates := make([]StockTemplate, len(serials))
	for i, s := range serials {
		templates[i] = StockTemplate{Serial: s, PurchaseDate: testClock}
	}
	stocks, err := f.svc.CloneStocksFromConfig(context.Background(), cfg.ID.String(), templates, actorAt("admin", time.Minute))
	require.NoError(t, err)
	return stocks
}

func (f *fixture) stock(t *testing.T, serial string) Stock {
	t.Helper()
	stock, err := f.repo.GetStock(context.Background(), serial)
	require.NoError(t, err)
	return stock
}

func (f *fixture) allSales(t *testing.T) []Sale {
	t.Helper()
	sales, err := f.repo.ListSales(context.Background(), query.Filter{})
	require.NoError(t, err)
	return sales
}

func (f *fixture) assertHistoryConsistent(t *testing.T) {
	t.Helper()
	stocks, err := f.repo.ListStocks(context.Background(), query.Filter{})
	require.NoError(t, err)
	for _, s := range stocks {
		assert.Truef(t, s.HistoryConsistent(), "stock %s history does not end in %s", s.Serial, s.CurrentStatus)
	}
}

func saleRequest(lines ...SaleLine) SaleRequest {
	return SaleRequest{
		Lines: lines,
		Customer: Customer{
			CustomerName: "Dana Reyes",
			Mobile:       "0917 555 0101",
			SaleDate:     testClock.Add(24 * time.Hour),
		},
	}
}

func line(serial string, price int64) SaleLine {
	return SaleLine{Serial: serial, Price: decimal.NewFromInt(price)}
}

func TestCreateConfigurationStampsAudit(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)

	require.Equal(t, "admin", cfg.CreatedBy)
	require.Equal(t, "admin", cfg.UpdatedBy)
	require.Equal(t, testClock, cfg.CreateDate)
	require.Empty(t, cfg.ClonedStocks)

	_, err := f.svc.CreateConfiguration(context.Background(), Specs{Brand: "Dell"}, actorAt("admin", 0))
	require.ErrorIs(t, err, shared.ErrValidation)

	neg := laptopSpecs()
	neg.Price = decimal.NewFromInt(-1)
	_, err = f.svc.CreateConfiguration(context.Background(), neg, actorAt("admin", 0))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSpecsRejectSubCentValues(t *testing.T) {
	f := newFixture()

	fine := laptopSpecs()
	fine.Price = decimal.RequireFromString("1199.990")
	fine.WarrantyYears = decimal.RequireFromString("1.5")
	_, err := f.svc.CreateConfiguration(context.Background(), fine, actorAt("admin", 0))
	require.NoError(t, err)

	price := laptopSpecs()
	price.Price = decimal.RequireFromString("1199.999")
	_, err = f.svc.CreateConfiguration(context.Background(), price, actorAt("admin", 0))
	require.ErrorIs(t, err, shared.ErrValidation)

	years := laptopSpecs()
	years.WarrantyYears = decimal.RequireFromString("0.333")
	_, err = f.svc.CreateConfiguration(context.Background(), years, actorAt("admin", 0))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateConfigurationMergesPatch(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	ram := "32GB"

	updated, err := f.svc.UpdateConfiguration(context.Background(), cfg.ID.String(),
		ConfigurationPatch{SpecsPatch{RAM: &ram}}, actorAt("owner", time.Hour))
	require.NoError(t, err)
	require.Equal(t, "32GB", updated.RAM)
	require.Equal(t, "Lenovo", updated.Brand)
	require.Equal(t, "admin", updated.CreatedBy)
	require.Equal(t, "owner", updated.UpdatedBy)

	_, err = f.svc.UpdateConfiguration(context.Background(), cfg.ID.String(), ConfigurationPatch{}, actorAt("owner", 0))
	require.ErrorIs(t, err, shared.ErrValidation)

	empty := ""
	_, err = f.svc.UpdateConfiguration(context.Background(), cfg.ID.String(),
		ConfigurationPatch{SpecsPatch{Brand: &empty}}, actorAt("owner", 0))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCloneConfigurationStartsWithoutClones(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	f.clone(t, cfg, "A1")
	model := "ThinkPad T16"

	copyCfg, err := f.svc.CloneConfiguration(context.Background(), cfg.ID.String(),
		ConfigurationPatch{SpecsPatch{Model: &model}}, actorAt("admin", time.Hour))
	require.NoError(t, err)
	require.NotEqual(t, cfg.ID, copyCfg.ID)
	require.Equal(t, "ThinkPad T16", copyCfg.Model)
	require.Equal(t, cfg.ModelNumber, copyCfg.ModelNumber)
	require.Empty(t, copyCfg.ClonedStocks)
}

func TestCloneStocksFromConfig(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	ssd := "1TB"
	templates := []StockTemplate{
		{Serial: " A1 ", PurchaseDate: testClock},
		{Serial: "A2", PurchaseDate: testClock, Remarks: "demo unit", SpecsPatch: SpecsPatch{SSDSize: &ssd}},
	}

	stocks, err := f.svc.CloneStocksFromConfig(context.Background(), cfg.ID.String(), templates, actorAt("admin", time.Minute))
	require.NoError(t, err)
	require.Len(t, stocks, 2)

	a1 := f.stock(t, "A1")
	require.Equal(t, cfg.ID, a1.ConfigID)
	require.Equal(t, StatusNew, a1.CurrentStatus)
	require.Equal(t, []StatusEntry{{Status: StatusNew, Date: testClock.Add(time.Minute)}}, a1.StatusHistory)
	require.Equal(t, testClock.AddDate(1, 0, 0), a1.WarrantyEndDate)
	require.Equal(t, "admin", a1.CreatedBy)

	a2 := f.stock(t, "A2")
	require.Equal(t, "1TB", a2.SSDSize)
	require.Equal(t, "demo unit", a2.Remarks)

	stored, err := f.repo.GetConfiguration(context.Background(), cfg.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"A1", "A2"}, stored.ClonedStocks)
	require.Equal(t, testClock.Add(time.Minute), stored.UpdateDate)
	require.Equal(t, 1, f.events.cloned)
	f.assertHistoryConsistent(t)
}

func TestCloneStocksRejectsBadBatchesWithoutWrites(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	f.clone(t, cfg, "A1")
	before, err := f.repo.GetConfiguration(context.Background(), cfg.ID)
	require.NoError(t, err)

	cases := []struct {
		name      string
		configID  string
		templates []StockTemplate
		want      error
	}{
		{"duplicate in batch", cfg.ID.String(), []StockTemplate{{Serial: "B1"}, {Serial: "B1"}}, shared.ErrValidation},
		{"serial already stored", cfg.ID.String(), []StockTemplate{{Serial: "B1"}, {Serial: "A1"}}, shared.ErrValidation},
		{"blank serial", cfg.ID.String(), []StockTemplate{{Serial: "B1"}, {Serial: "  "}}, shared.ErrValidation},
		{"empty batch", cfg.ID.String(), nil, shared.ErrValidation},
		{"malformed config id", "not-a-uuid", []StockTemplate{{Serial: "B1"}}, shared.ErrValidation},
		{"unknown config", "7c9e6679-7425-40de-944b-e07fc1f90ae7", []StockTemplate{{Serial: "B1"}}, shared.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CloneStocksFromConfig(context.Background(), tc.configID, tc.templates, actorAt("admin", time.Hour))
			require.ErrorIs(t, err, tc.want)

			_, err = f.repo.GetStock(context.Background(), "B1")
			require.ErrorIs(t, err, shared.ErrNotFound)
			after, err := f.repo.GetConfiguration(context.Background(), cfg.ID)
			require.NoError(t, err)
			require.Equal(t, before, after)
		})
	}
}

func TestDeleteConfigurationGuard(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	f.clone(t, cfg, "C2", "A1", "B7")

	err := f.svc.DeleteConfiguration(context.Background(), cfg.ID.String(), actorAt("admin", time.Hour))
	require.ErrorIs(t, err, shared.ErrConflict)
	var conflict *shared.ConflictError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, []string{"A1", "B7", "C2"}, conflict.Blocking)
	require.Equal(t, "cloned_stocks", conflict.Field)

	for _, serial := range []string{"A1", "B7", "C2"} {
		require.NoError(t, f.svc.DeleteStock(context.Background(), serial, actorAt("owner", time.Hour)))
	}
	require.NoError(t, f.svc.DeleteConfiguration(context.Background(), cfg.ID.String(), actorAt("admin", time.Hour)))
	_, err = f.repo.GetConfiguration(context.Background(), cfg.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSellStock(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	f.clone(t, cfg, "A1", "A2")

	req := saleRequest(line("A1", 1000), line("A2", 2000))
	sales, err := f.svc.SellStock(context.Background(), req, actorAt("clerk", time.Hour))
	require.NoError(t, err)
	require.Len(t, sales, 2)
	require.Equal(t, "A1", sales[0].Serial)
	require.True(t, decimal.NewFromInt(1000).Equal(sales[0].Price))
	require.True(t, decimal.NewFromInt(2000).Equal(sales[1].Price))
	require.Equal(t, "Dana Reyes", sales[1].CustomerName)

	for _, serial := range []string{"A1", "A2"} {
		stock := f.stock(t, serial)
		require.Equal(t, StatusSold, stock.CurrentStatus)
		require.Len(t, stock.StatusHistory, 2)
		require.Equal(t, "clerk", stock.UpdatedBy)
	}
	require.Len(t, f.allSales(t), 2)
	require.Equal(t, 1, f.events.sold)
	f.assertHistoryConsistent(t)
}

func TestSellStockTwiceFails(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	f.clone(t, cfg, "A1")

	first, err := f.svc.SellStock(context.Background(), saleRequest(line("A1", 1000)), actorAt("clerk", time.Hour))
	require.NoError(t, err)

	_, err = f.svc.SellStock(context.Background(), saleRequest(line("A1", 900)), actorAt("clerk", 2*time.Hour))
	require.ErrorIs(t, err, shared.ErrPreconditionFailed)

	sales := f.allSales(t)
	require.Len(t, sales, 1)
	require.Equal(t, first[0], sales[0])
	require.Len(t, f.stock(t, "A1").StatusHistory, 2)
	require.Equal(t, 1, f.events.failures[WorkflowSale])
}

func TestSellStockIsAllOrNothing(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	f.clone(t, cfg, "A1", "A2")

	_, err := f.svc.SellStock(context.Background(),
		saleRequest(line("A1", 1000), line("ZZ9", 1500), line("A2", 2000)), actorAt("clerk", time.Hour))
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Contains(t, err.Error(), "ZZ9")

	require.Empty(t, f.allSales(t))
	require.Equal(t, StatusNew, f.stock(t, "A1").CurrentStatus)
	require.Equal(t, StatusNew, f.stock(t, "A2").CurrentStatus)
}

func TestSellStockRejectsMalformedRequests(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	f.clone(t, cfg, "A1")

	noCustomer := saleRequest(line("A1", 1000))
	noCustomer.CustomerName = ""
	cases := map[string]SaleRequest{
		"no lines":         saleRequest(),
		"zero price":       saleRequest(line("A1", 0)),
		"sub-cent price":   saleRequest(SaleLine{Serial: "A1", Price: decimal.RequireFromString("0.004")}),
		"blank serial":     saleRequest(line(" ", 10)),
		"duplicate":        saleRequest(line("A1", 10), line("A1", 20)),
		"missing customer": noCustomer,
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.SellStock(context.Background(), req, actorAt("clerk", time.Hour))
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
	require.Equal(t, StatusNew, f.stock(t, "A1").CurrentStatus)
}

func TestSellStockIdempotencyKey(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	f.clone(t, cfg, "A1", "A2")

	failing := saleRequest(line("A1", 1000), line("nope", 10))
	failing.IdempotencyKey = "req-1"
	_, err := f.svc.SellStock(context.Background(), failing, actorAt("clerk", time.Hour))
	require.ErrorIs(t, err, shared.ErrNotFound)

	req := saleRequest(line("A1", 1000))
	req.IdempotencyKey = "req-1"
	_, err = f.svc.SellStock(context.Background(), req, actorAt("clerk", time.Hour))
	require.NoError(t, err)

	replay := saleRequest(line("A2", 1000))
	replay.IdempotencyKey = "req-1"
	_, err = f.svc.SellStock(context.Background(), replay, actorAt("clerk", time.Hour))
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, StatusNew, f.stock(t, "A2").CurrentStatus)
}

func TestExampleScenario(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	f.clone(t, cfg, "A1", "A2")
	f.clone(t, cfg, "A3")

	sales, err := f.svc.SellStock(context.Background(), saleRequest(line("A1", 1000), line("A2", 2000)), actorAt("clerk", time.Hour))
	require.NoError(t, err)
	require.Equal(t, StatusSold, f.stock(t, "A1").CurrentStatus)
	require.Equal(t, StatusSold, f.stock(t, "A2").CurrentStatus)

	swapped, err := f.svc.SwapStock(context.Background(),
		SwapRequest{SoldSerial: "A1", ExchangeSerial: "A3", ReturnRemarks: "damaged"}, actorAt("admin", 2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, sales[0].ID, swapped.ID)
	require.Equal(t, "A3", swapped.Serial)

	stored, err := f.repo.GetSale(context.Background(), sales[0].ID)
	require.NoError(t, err)
	require.Equal(t, "A3", stored.Serial)
	require.True(t, decimal.NewFromInt(1000).Equal(stored.Price))
	require.Equal(t, "admin", stored.UpdatedBy)

	a1 := f.stock(t, "A1")
	require.Equal(t, StatusReturned, a1.CurrentStatus)
	require.Contains(t, a1.Remarks, "damaged")
	require.Equal(t, []StockStatus{StatusNew, StatusSold, StatusReturned}, statuses(a1))

	a3 := f.stock(t, "A3")
	require.Equal(t, StatusSold, a3.CurrentStatus)
	require.Equal(t, []StockStatus{StatusNew, StatusSold}, statuses(a3))

	require.Equal(t, 1, f.events.swapped)
	require.Contains(t, f.audit.actions(), "sale:swap")
	f.assertHistoryConsistent(t)
}

func statuses(s Stock) []StockStatus {
	out := make([]StockStatus, len(s.StatusHistory))
	for i, e := range s.StatusHistory {
		out[i] = e.Status
	}
	return out
}

func TestSwapAppendsReturnRemarks(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	_, err := f.svc.CloneStocksFromConfig(context.Background(), cfg.ID.String(),
		[]StockTemplate{{Serial: "A1", Remarks: "scratched lid"}, {Serial: "A2"}}, actorAt("admin", 0))
	require.NoError(t, err)
	_, err = f.svc.SellStock(context.Background(), saleRequest(line("A1", 1000)), actorAt("clerk", time.Hour))
	require.NoError(t, err)

	_, err = f.svc.SwapStock(context.Background(),
		SwapRequest{SoldSerial: "A1", ExchangeSerial: "A2", ReturnRemarks: " battery fault "}, actorAt("admin", 2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, "scratched lid | battery fault", f.stock(t, "A1").Remarks)
}

func TestSwapRejectionsLeaveDocumentsUnchanged(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	f.clone(t, cfg, "A1", "A2", "A3", "A4")
	_, err := f.svc.SellStock(context.Background(), saleRequest(line("A1", 1000), line("A4", 1000)), actorAt("clerk", time.Hour))
	require.NoError(t, err)
	_, err = f.svc.TransitionStockStatus(context.Background(), "A2", StatusDeleted, actorAt("admin", time.Hour))
	require.NoError(t, err)

	snapshot := func() ([]Stock, []Sale) {
		stocks, err := f.repo.ListStocks(context.Background(), query.Filter{})
		require.NoError(t, err)
		return stocks, f.allSales(t)
	}
	stocksBefore, salesBefore := snapshot()

	cases := []struct {
		name string
		req  SwapRequest
	}{
		{"deleted replacement", SwapRequest{SoldSerial: "A1", ExchangeSerial: "A2"}},
		{"original not sold", SwapRequest{SoldSerial: "A3", ExchangeSerial: "A2"}},
		{"replacement already sold", SwapRequest{SoldSerial: "A1", ExchangeSerial: "A4"}},
		{"same serial", SwapRequest{SoldSerial: "A1", ExchangeSerial: "A1"}},
		{"unknown replacement", SwapRequest{SoldSerial: "A1", ExchangeSerial: "Q1"}},
		{"blank serial", SwapRequest{SoldSerial: "A1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.SwapStock(context.Background(), tc.req, actorAt("admin", 3*time.Hour))
			require.ErrorIs(t, err, shared.ErrValidation)
			require.Contains(t, err.Error(), tc.req.SoldSerial)

			stocksAfter, salesAfter := snapshot()
			require.Equal(t, stocksBefore, stocksAfter)
			require.Equal(t, salesBefore, salesAfter)
		})
	}
}

func TestTransitionStockStatus(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	f.clone(t, cfg, "A1", "A2", "A3")
	_, err := f.svc.SellStock(context.Background(), saleRequest(line("A1", 1000)), actorAt("clerk", time.Hour))
	require.NoError(t, err)
	_, err = f.svc.SwapStock(context.Background(), SwapRequest{SoldSerial: "A1", ExchangeSerial: "A2"}, actorAt("admin", time.Hour))
	require.NoError(t, err)

	refurbished, err := f.svc.TransitionStockStatus(context.Background(), "A1", StatusRefurbished, actorAt("admin", 2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, StatusRefurbished, refurbished.CurrentStatus)

	_, err = f.svc.SellStock(context.Background(), saleRequest(line("A1", 800)), actorAt("clerk", 3*time.Hour))
	require.NoError(t, err)
	require.Equal(t, []StockStatus{StatusNew, StatusSold, StatusReturned, StatusRefurbished, StatusSold}, statuses(f.stock(t, "A1")))

	_, err = f.svc.TransitionStockStatus(context.Background(), "A3", StatusRefurbished, actorAt("admin", 0))
	require.ErrorIs(t, err, shared.ErrPreconditionFailed)

	deleted, err := f.svc.TransitionStockStatus(context.Background(), "A3", StatusDeleted, actorAt("admin", 0))
	require.NoError(t, err)
	require.Equal(t, StatusDeleted, deleted.CurrentStatus)

	_, err = f.svc.TransitionStockStatus(context.Background(), "A3", StatusDeleted, actorAt("admin", 0))
	require.ErrorIs(t, err, shared.ErrPreconditionFailed)
	_, err = f.svc.SellStock(context.Background(), saleRequest(line("A3", 100)), actorAt("clerk", 0))
	require.ErrorIs(t, err, shared.ErrPreconditionFailed)

	for _, target := range []StockStatus{StatusSold, StatusReturned, StatusNew, "bogus"} {
		_, err = f.svc.TransitionStockStatus(context.Background(), "A2", target, actorAt("admin", 0))
		require.ErrorIs(t, err, shared.ErrValidation)
	}
	_, err = f.svc.TransitionStockStatus(context.Background(), "missing", StatusDeleted, actorAt("admin", 0))
	require.ErrorIs(t, err, shared.ErrNotFound)
	f.assertHistoryConsistent(t)
}

func TestUpdateStock(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	f.clone(t, cfg, "A1", "A2")
	years := decimal.RequireFromString("1.5")
	remarks := "keyboard replaced"

	stock, err := f.svc.UpdateStock(context.Background(), "A1",
		StockPatch{SpecsPatch: SpecsPatch{WarrantyYears: &years}, Remarks: &remarks}, actorAt("admin", time.Hour))
	require.NoError(t, err)
	require.Equal(t, testClock.AddDate(0, 18, 0), stock.WarrantyEndDate)
	require.Equal(t, "keyboard replaced", stock.Remarks)
	require.Equal(t, StatusNew, stock.CurrentStatus)

	purchase := testClock.AddDate(0, 1, 0)
	stock, err = f.svc.UpdateStock(context.Background(), "A1", StockPatch{PurchaseDate: &purchase}, actorAt("admin", time.Hour))
	require.NoError(t, err)
	require.Equal(t, purchase.AddDate(0, 18, 0), stock.WarrantyEndDate)

	_, err = f.svc.UpdateStock(context.Background(), "A1", StockPatch{}, actorAt("admin", 0))
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.TransitionStockStatus(context.Background(), "A2", StatusDeleted, actorAt("admin", 0))
	require.NoError(t, err)
	_, err = f.svc.UpdateStock(context.Background(), "A2", StockPatch{Remarks: &remarks}, actorAt("admin", 0))
	require.ErrorIs(t, err, shared.ErrPreconditionFailed)
}

func TestDeleteStockBlockedBySales(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	f.clone(t, cfg, "A1", "A2")
	sales, err := f.svc.SellStock(context.Background(), saleRequest(line("A1", 1000)), actorAt("clerk", time.Hour))
	require.NoError(t, err)

	err = f.svc.DeleteStock(context.Background(), "A1", actorAt("owner", time.Hour))
	var conflict *shared.ConflictError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, []string{sales[0].ID.String()}, conflict.Blocking)

	require.NoError(t, f.svc.DeleteStock(context.Background(), "A2", actorAt("owner", time.Hour)))
	stored, err := f.repo.GetConfiguration(context.Background(), cfg.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"A1"}, stored.ClonedStocks)

	require.NoError(t, f.svc.DeleteSale(context.Background(), sales[0].ID.String(), actorAt("owner", time.Hour)))
	require.Equal(t, StatusSold, f.stock(t, "A1").CurrentStatus)
	require.NoError(t, f.svc.DeleteStock(context.Background(), "A1", actorAt("owner", time.Hour)))
}

func TestReadsReturnStableAuditFields(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	f.clone(t, cfg, "A1", "A2")

	first := f.stock(t, "A1")
	_, err := f.svc.SellStock(context.Background(), saleRequest(line("A2", 1000)), actorAt("clerk", time.Hour))
	require.NoError(t, err)
	second := f.stock(t, "A1")
	require.Equal(t, first.Audit, second.Audit)

	cfgFirst, err := f.svc.GetConfiguration(context.Background(), cfg.ID.String())
	require.NoError(t, err)
	cfgSecond, err := f.svc.GetConfiguration(context.Background(), cfg.ID.String())
	require.NoError(t, err)
	require.Equal(t, cfgFirst.Audit, cfgSecond.Audit)
}

func TestListFiltersAndProjection(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	f.clone(t, cfg, "A1", "A2", "A3")
	_, err := f.svc.SellStock(context.Background(), saleRequest(line("A1", 1000), line("A2", 2500)), actorAt("clerk", time.Hour))
	require.NoError(t, err)

	filter, err := query.Parse(query.Params{In: "current_status=sold"}, StockSchema)
	require.NoError(t, err)
	stocks, err := f.svc.ListStocks(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, stocks, 2)

	filter, err = query.Parse(query.Params{Price: "2000,"}, SaleSchema)
	require.NoError(t, err)
	sales, err := f.svc.ListSales(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	require.Equal(t, "A2", sales[0].Serial)

	filter, err = query.Parse(query.Params{In: "brand=Lenovo.Dell", Fields: "brand,cloned_stocks"}, ConfigurationSchema)
	require.NoError(t, err)
	configs, err := f.svc.ListConfigurations(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	require.Equal(t, []string{"brand", "cloned_stocks"}, filter.Fields)
}

type storeFailure int

const (
	failInsertSales storeFailure = iota + 1
	failShortSales
	failUpdateConfiguration
	failSecondTransition
)

// failingRepo breaks one write inside every transaction. inTx, when set,
// runs before the workflow sees the transaction.
type failingRepo struct {
	*MemoryRepository
	fail storeFailure
	inTx func()
}

func (r failingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.MemoryRepository.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if r.inTx != nil {
			r.inTx()
		}
		return fn(ctx, &failingTx{TxRepository: tx, fail: r.fail})
	})
}

type failingTx struct {
	TxRepository
	fail        storeFailure
	transitions int
}

var errConnectionReset = errors.New("connection reset")

func (tx *failingTx) InsertSales(ctx context.Context, sales []Sale) (int64, error) {
	switch tx.fail {
	case failShortSales:
		return tx.TxRepository.InsertSales(ctx, sales[:len(sales)-1])
	case failInsertSales:
		return 0, errConnectionReset
	}
	return tx.TxRepository.InsertSales(ctx, sales)
}

func (tx *failingTx) UpdateConfiguration(ctx context.Context, cfg Configuration) error {
	if tx.fail == failUpdateConfiguration {
		return errConnectionReset
	}
	return tx.TxRepository.UpdateConfiguration(ctx, cfg)
}

func (tx *failingTx) TransitionStocks(ctx context.Context, t Transition) (int64, error) {
	tx.transitions++
	if tx.fail == failSecondTransition && tx.transitions == 2 {
		return 0, errConnectionReset
	}
	return tx.TxRepository.TransitionStocks(ctx, t)
}

func TestSellStockRollsBackOnStoreFailure(t *testing.T) {
	for _, fail := range []storeFailure{failInsertSales, failShortSales} {
		f := newFixture()
		cfg := f.config(t)
		f.clone(t, cfg, "A1", "A2")
		svc := NewService(failingRepo{MemoryRepository: f.repo, fail: fail}, nil, nil, f.events)

		_, err := svc.SellStock(context.Background(), saleRequest(line("A1", 1000), line("A2", 2000)), actorAt("clerk", time.Hour))
		require.Error(t, err)
		if fail == failShortSales {
			require.ErrorIs(t, err, shared.ErrTransaction)
		}
		require.Empty(t, f.allSales(t))
		require.Equal(t, StatusNew, f.stock(t, "A1").CurrentStatus)
		require.Len(t, f.stock(t, "A2").StatusHistory, 1)
	}
}

func TestCloneStocksRollsBackOnStoreFailure(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	f.clone(t, cfg, "A1")
	svc := NewService(failingRepo{MemoryRepository: f.repo, fail: failUpdateConfiguration}, nil, nil, f.events)

	_, err := svc.CloneStocksFromConfig(context.Background(), cfg.ID.String(),
		[]StockTemplate{{Serial: "B1"}, {Serial: "B2"}}, actorAt("admin", time.Hour))
	require.ErrorIs(t, err, errConnectionReset)
	require.Equal(t, 1, f.events.failures[WorkflowClone])

	stored, err := f.repo.GetConfiguration(context.Background(), cfg.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"A1"}, stored.ClonedStocks)
	for _, serial := range []string{"B1", "B2"} {
		_, err := f.repo.GetStock(context.Background(), serial)
		require.ErrorIs(t, err, shared.ErrNotFound)
	}
}

func TestSwapStockRollsBackOnStoreFailure(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	f.clone(t, cfg, "A1", "A3")
	sales, err := f.svc.SellStock(context.Background(), saleRequest(line("A1", 1000)), actorAt("clerk", time.Hour))
	require.NoError(t, err)
	soldBefore := f.stock(t, "A1")
	spareBefore := f.stock(t, "A3")

	svc := NewService(failingRepo{MemoryRepository: f.repo, fail: failSecondTransition}, nil, nil, f.events)
	_, err = svc.SwapStock(context.Background(), SwapRequest{SoldSerial: "A1", ExchangeSerial: "A3", ReturnRemarks: "dead pixel"}, actorAt("admin", 2*time.Hour))
	require.ErrorIs(t, err, errConnectionReset)
	require.Equal(t, 1, f.events.failures[WorkflowSwap])

	require.Equal(t, soldBefore, f.stock(t, "A1"))
	require.Equal(t, spareBefore, f.stock(t, "A3"))
	stored, err := f.repo.GetSale(context.Background(), sales[0].ID)
	require.NoError(t, err)
	require.Equal(t, "A1", stored.Serial)
	require.Equal(t, sales[0].Audit, stored.Audit)
}

// cancelAwareIdempotency fails on a done context, like a pgx-backed store.
type cancelAwareIdempotency struct {
	*shared.MemoryIdempotencyStore
}

func (s cancelAwareIdempotency) Release(ctx context.Context, key, module string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryIdempotencyStore.Release(ctx, key, module)
}

func TestSellStockReleasesKeyAfterCancelledRequest(t *testing.T) {
	f := newFixture()
	cfg := f.config(t)
	f.clone(t, cfg, "A1")
	idem := cancelAwareIdempotency{shared.NewMemoryIdempotencyStore()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	broken := NewService(failingRepo{MemoryRepository: f.repo, fail: failInsertSales, inTx: cancel}, nil, idem, nil)
	req := saleRequest(line("A1", 1000))
	req.IdempotencyKey = "till-7"
	_, err := broken.SellStock(ctx, req, actorAt("clerk", time.Hour))
	require.Error(t, err)
	require.Error(t, ctx.Err())
	require.Empty(t, f.allSales(t))

	retry := NewService(f.repo, nil, idem, nil)
	sales, err := retry.SellStock(context.Background(), req, actorAt("clerk", 2*time.Hour))
	require.NoError(t, err)
	require.Len(t, sales, 1)
}
