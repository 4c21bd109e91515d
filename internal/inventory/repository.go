package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockroom/stockroom/internal/platform/db"
	"github.com/stockroom/stockroom/internal/query"
	"github.com/stockroom/stockroom/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const specColumns = `brand, model, model_number, screen_size, hdd_size, ssd_size, processor_type, processor_speed, ram, graphics_type, graphics_memory, os, price, warranty_years`

const auditColumns = `create_date, created_by, update_date, updated_by`

const configurationColumns = `id, ` + specColumns + `, cloned_stocks, ` + auditColumns

const stockColumns = `id, config_id, serial, ` + specColumns + `, purchase_date, warranty_end_date, remarks, current_status, status_history, ` + auditColumns

const saleColumns = `id, serial, price, sale_date, customer_name, mobile, address, remarks, ` + auditColumns

func specTargets(s *Specs) []any {
	return []any{&s.Brand, &s.Model, &s.ModelNumber, &s.ScreenSize, &s.HDDSize, &s.SSDSize,
		&s.ProcessorType, &s.ProcessorSpeed, &s.RAM, &s.GraphicsType, &s.GraphicsMemory, &s.OS,
		&s.Price, &s.WarrantyYears}
}

func specArgs(s Specs) []any {
	return []any{s.Brand, s.Model, s.ModelNumber, s.ScreenSize, s.HDDSize, s.SSDSize,
		s.ProcessorType, s.ProcessorSpeed, s.RAM, s.GraphicsType, s.GraphicsMemory, s.OS,
		s.Price, s.WarrantyYears}
}

func auditTargets(a *shared.Audit) []any {
	return []any{&a.CreateDate, &a.CreatedBy, &a.UpdateDate, &a.UpdatedBy}
}

func auditArgs(a shared.Audit) []any {
	return []any{a.CreateDate, a.CreatedBy, a.UpdateDate, a.UpdatedBy}
}

func scanConfiguration(row pgx.Row) (Configuration, error) {
	var c Configuration
	targets := []any{&c.ID}
	targets = append(targets, specTargets(&c.Specs)...)
	targets = append(targets, &c.ClonedStocks)
	targets = append(targets, auditTargets(&c.Audit)...)
	if err := row.Scan(targets...); err != nil {
		return Configuration{}, err
	}
	if c.ClonedStocks == nil {
		c.ClonedStocks = []string{}
	}
	return c, nil
}

func scanStock(row pgx.Row) (Stock, error) {
	var s Stock
	targets := []any{&s.ID, &s.ConfigID, &s.Serial}
	targets = append(targets, specTargets(&s.Specs)...)
	targets = append(targets, &s.PurchaseDate, &s.WarrantyEndDate, &s.Remarks, &s.CurrentStatus, &s.StatusHistory)
	targets = append(targets, auditTargets(&s.Audit)...)
	err := row.Scan(targets...)
	return s, err
}

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	targets := []any{&s.ID, &s.Serial, &s.Price, &s.SaleDate, &s.CustomerName, &s.Mobile, &s.Address, &s.Remarks}
	targets = append(targets, auditTargets(&s.Audit)...)
	err := row.Scan(targets...)
	return s, err
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func filterColumns(schema query.Schema) map[string]string {
	cols := make(map[string]string, len(schema.Fields))
	for name := range schema.Fields {
		cols[name] = name
	}
	return cols
}

var (
	configurationFilterColumns = filterColumns(ConfigurationSchema)
	stockFilterColumns         = filterColumns(StockSchema)
	saleFilterColumns          = filterColumns(SaleSchema)
)

func init() {
	stockFilterColumns["config_id"] = "config_id::text"
}

// GetConfiguration loads one configuration.
func (r *Repository) GetConfiguration(ctx context.Context, id uuid.UUID) (Configuration, error) {
	return getConfiguration(ctx, r.pool, id, false)
}

func getConfiguration(ctx context.Context, q querier, id uuid.UUID, lock bool) (Configuration, error) {
	sql := `SELECT ` + configurationColumns + ` FROM configurations WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	cfg, err := scanConfiguration(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Configuration{}, shared.NotFoundf("configuration %s not found", id)
	}
	return cfg, err
}

// ListConfigurations returns configurations matching filter, oldest first.
func (r *Repository) ListConfigurations(ctx context.Context, filter query.Filter) ([]Configuration, error) {
	where, args := filter.Where(configurationFilterColumns, 0)
	rows, err := r.pool.Query(ctx, `SELECT `+configurationColumns+` FROM configurations WHERE `+where+` ORDER BY create_date, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	return collect(rows, scanConfiguration)
}

// GetStock loads one stock by serial.
func (r *Repository) GetStock(ctx context.Context, serial string) (Stock, error) {
	stock, err := scanStock(r.pool.QueryRow(ctx, `SELECT `+stockColumns+` FROM stocks WHERE serial = $1`, serial))
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{}, shared.NotFoundf("stock %s not found", serial)
	}
	return stock, err
}

// ListStocks returns stocks matching filter ordered by serial.
func (r *Repository) ListStocks(ctx context.Context, filter query.Filter) ([]Stock, error) {
	where, args := filter.Where(stockFilterColumns, 0)
	rows, err := r.pool.Query(ctx, `SELECT `+stockColumns+` FROM stocks WHERE `+where+` ORDER BY serial`, args...)
	if err != nil {
		return nil, fmt.Errorf("list stocks: %w", err)
	}
	return collect(rows, scanStock)
}

// GetSale loads one sale.
func (r *Repository) GetSale(ctx context.Context, id uuid.UUID) (Sale, error) {
	sale, err := scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, shared.NotFoundf("sale %s not found", id)
	}
	return sale, err
}

// ListSales returns sales matching filter, newest sale date first.
func (r *Repository) ListSales(ctx context.Context, filter query.Filter) ([]Sale, error) {
	where, args := filter.Where(saleFilterColumns, 0)
	rows, err := r.pool.Query(ctx, `SELECT `+saleColumns+` FROM sales WHERE `+where+` ORDER BY sale_date DESC, create_date DESC, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	return collect(rows, scanSale)
}

func (t *txRepo) InsertConfiguration(ctx context.Context, cfg Configuration) error {
	args := []any{cfg.ID}
	args = append(args, specArgs(cfg.Specs)...)
	args = append(args, cfg.ClonedStocks)
	args = append(args, auditArgs(cfg.Audit)...)
	_, err := t.tx.Exec(ctx, `INSERT INTO configurations (`+configurationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`, args...)
	if err != nil {
		return fmt.Errorf("insert configuration: %w", err)
	}
	return nil
}

func (t *txRepo) GetConfigurationForUpdate(ctx context.Context, id uuid.UUID) (Configuration, error) {
	return getConfiguration(ctx, t.tx, id, true)
}

func (t *txRepo) UpdateConfiguration(ctx context.Context, cfg Configuration) error {
	args := []any{cfg.ID}
	args = append(args, specArgs(cfg.Specs)...)
	args = append(args, cfg.ClonedStocks, cfg.UpdateDate, cfg.UpdatedBy)
	tag, err := t.tx.Exec(ctx, `UPDATE configurations SET
		brand = $2, model = $3, model_number = $4, screen_size = $5, hdd_size = $6, ssd_size = $7,
		processor_type = $8, processor_speed = $9, ram = $10, graphics_type = $11, graphics_memory = $12,
		os = $13, price = $14, warranty_years = $15, cloned_stocks = $16, update_date = $17, updated_by = $18
		WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("update configuration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("configuration %s not found", cfg.ID)
	}
	return nil
}

func (t *txRepo) DeleteConfiguration(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM configurations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete configuration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("configuration %s not found", id)
	}
	return nil
}

func (t *txRepo) ExistingSerials(ctx context.Context, serials []string) ([]string, error) {
	rows, err := t.tx.Query(ctx, `SELECT serial FROM stocks WHERE serial = ANY($1)`, serials)
	if err != nil {
		return nil, fmt.Errorf("check serials: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (t *txRepo) FindStocksForUpdate(ctx context.Context, serials []string) ([]Stock, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+stockColumns+` FROM stocks WHERE serial = ANY($1) ORDER BY serial FOR UPDATE`, serials)
	if err != nil {
		return nil, fmt.Errorf("lock stocks: %w", err)
	}
	return collect(rows, scanStock)
}

func (t *txRepo) InsertStocks(ctx context.Context, stocks []Stock) (int64, error) {
	rows := make([][]any, len(stocks))
	for i, s := range stocks {
		row := []any{s.ID, s.ConfigID, s.Serial}
		row = append(row, specArgs(s.Specs)...)
		row = append(row, s.PurchaseDate, s.WarrantyEndDate, s.Remarks, s.CurrentStatus, s.StatusHistory)
		row = append(row, auditArgs(s.Audit)...)
		rows[i] = row
	}
	columns := []string{"id", "config_id", "serial",
		"brand", "model", "model_number", "screen_size", "hdd_size", "ssd_size", "processor_type",
		"processor_speed", "ram", "graphics_type", "graphics_memory", "os", "price", "warranty_years",
		"purchase_date", "warranty_end_date", "remarks", "current_status", "status_history",
		"create_date", "created_by", "update_date", "updated_by"}
	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{"stocks"}, columns, pgx.CopyFromRows(rows))
	if db.IsUniqueViolation(err) {
		return 0, shared.Validationf("one or more serials already exist")
	}
	if err != nil {
		return 0, fmt.Errorf("insert stocks: %w", err)
	}
	return n, nil
}

func (t *txRepo) UpdateStock(ctx context.Context, s Stock) error {
	args := []any{s.Serial}
	args = append(args, specArgs(s.Specs)...)
	args = append(args, s.PurchaseDate, s.WarrantyEndDate, s.Remarks, s.UpdateDate, s.UpdatedBy)
	tag, err := t.tx.Exec(ctx, `UPDATE stocks SET
		brand = $2, model = $3, model_number = $4, screen_size = $5, hdd_size = $6, ssd_size = $7,
		processor_type = $8, processor_speed = $9, ram = $10, graphics_type = $11, graphics_memory = $12,
		os = $13, price = $14, warranty_years = $15, purchase_date = $16, warranty_end_date = $17,
		remarks = $18, update_date = $19, updated_by = $20
		WHERE serial = $1`, args...)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("stock %s not found", s.Serial)
	}
	return nil
}

// TransitionStocks moves every listed stock currently in one of t.From to
// t.To, appending the history entry in the same statement.
func (t *txRepo) TransitionStocks(ctx context.Context, tr Transition) (int64, error) {
	from := make([]string, len(tr.From))
	for i, s := range tr.From {
		from[i] = string(s)
	}
	entry := []StatusEntry{{Status: tr.To, Date: tr.Actor.At}}
	tag, err := t.tx.Exec(ctx, `UPDATE stocks SET
		current_status = $3,
		status_history = status_history || $4::jsonb,
		remarks = CASE WHEN $5 = '' THEN remarks WHEN remarks = '' THEN $5 ELSE remarks || $6 || $5 END,
		update_date = $7,
		updated_by = $8
		WHERE serial = ANY($1) AND current_status = ANY($2)`,
		tr.Serials, from, string(tr.To), entry, trimmedNote(tr.RemarksNote), RemarksSeparator, tr.Actor.At, tr.Actor.Name)
	if err != nil {
		return 0, fmt.Errorf("transition stocks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func trimmedNote(note string) string {
	return AppendRemarks("", note)
}

func (t *txRepo) DeleteStock(ctx context.Context, serial string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM stocks WHERE serial = $1`, serial)
	if err != nil {
		return fmt.Errorf("delete stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("stock %s not found", serial)
	}
	return nil
}

func (t *txRepo) InsertSales(ctx context.Context, sales []Sale) (int64, error) {
	rows := make([][]any, len(sales))
	for i, s := range sales {
		row := []any{s.ID, s.Serial, s.Price, s.SaleDate, s.CustomerName, s.Mobile, s.Address, s.Remarks}
		rows[i] = append(row, auditArgs(s.Audit)...)
	}
	columns := []string{"id", "serial", "price", "sale_date", "customer_name", "mobile", "address", "remarks",
		"create_date", "created_by", "update_date", "updated_by"}
	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{"sales"}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("insert sales: %w", err)
	}
	return n, nil
}

func (t *txRepo) FindSalesBySerialForUpdate(ctx context.Context, serial string) ([]Sale, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+saleColumns+` FROM sales WHERE serial = $1 ORDER BY sale_date DESC, create_date DESC, id FOR UPDATE`, serial)
	if err != nil {
		return nil, fmt.Errorf("lock sales: %w", err)
	}
	return collect(rows, scanSale)
}

func (t *txRepo) RepointSale(ctx context.Context, id uuid.UUID, serial string, actor shared.Actor) error {
	tag, err := t.tx.Exec(ctx, `UPDATE sales SET serial = $2, update_date = $3, updated_by = $4 WHERE id = $1`, id, serial, actor.At, actor.Name)
	if err != nil {
		return fmt.Errorf("repoint sale: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("sale %s not found", id)
	}
	return nil
}

func (t *txRepo) DeleteSale(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete sale: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("sale %s not found", id)
	}
	return nil
}
