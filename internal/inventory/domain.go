package inventory

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockroom/stockroom/internal/query"
	"github.com/stockroom/stockroom/internal/shared"
)

// Specs are the device attributes shared by configurations and stocks.
type Specs struct {
	Brand          string          `json:"brand"`
	Model          string          `json:"model"`
	ModelNumber    string          `json:"model_number"`
	ScreenSize     string          `json:"screen_size"`
	HDDSize        string          `json:"hdd_size"`
	SSDSize        string          `json:"ssd_size"`
	ProcessorType  string          `json:"processor_type"`
	ProcessorSpeed string          `json:"processor_speed"`
	RAM            string          `json:"ram"`
	GraphicsType   string          `json:"graphics_type"`
	GraphicsMemory string          `json:"graphics_memory"`
	OS             string          `json:"os"`
	Price          decimal.Decimal `json:"price"`
	WarrantyYears  decimal.Decimal `json:"warranty_years"`
}

// Validate checks the required attributes and numeric bounds.
func (s Specs) Validate() error {
	var missing []string
	if strings.TrimSpace(s.Brand) == "" {
		missing = append(missing, "brand")
	}
	if strings.TrimSpace(s.Model) == "" {
		missing = append(missing, "model")
	}
	if strings.TrimSpace(s.ModelNumber) == "" {
		missing = append(missing, "model_number")
	}
	if len(missing) > 0 {
		return shared.Validationf("missing required fields: %s", strings.Join(missing, ", "))
	}
	if s.Price.IsNegative() {
		return shared.Validationf("price must be >= 0")
	}
	if !HasCentPrecision(s.Price) {
		return shared.Validationf("price allows at most two decimal places")
	}
	if s.WarrantyYears.IsNegative() {
		return shared.Validationf("warranty_years must be >= 0")
	}
	if !HasCentPrecision(s.WarrantyYears) {
		return shared.Validationf("warranty_years allows at most two decimal places")
	}
	return nil
}

// HasCentPrecision reports whether d fits the two decimal places the store
// keeps for prices and warranty years. Trailing zeros are allowed.
func HasCentPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(2))
}

func (s Specs) fieldValue(name string) (any, bool) {
	switch name {
	case "brand":
		return s.Brand, true
	case "model":
		return s.Model, true
	case "model_number":
		return s.ModelNumber, true
	case "screen_size":
		return s.ScreenSize, true
	case "hdd_size":
		return s.HDDSize, true
	case "ssd_size":
		return s.SSDSize, true
	case "processor_type":
		return s.ProcessorType, true
	case "processor_speed":
		return s.ProcessorSpeed, true
	case "ram":
		return s.RAM, true
	case "graphics_type":
		return s.GraphicsType, true
	case "graphics_memory":
		return s.GraphicsMemory, true
	case "os":
		return s.OS, true
	case "price":
		return s.Price, true
	case "warranty_years":
		return s.WarrantyYears, true
	}
	return nil, false
}

// SpecsPatch carries optional attribute changes.
type SpecsPatch struct {
	Brand          *string          `json:"brand,omitempty"`
	Model          *string          `json:"model,omitempty"`
	ModelNumber    *string          `json:"model_number,omitempty"`
	ScreenSize     *string          `json:"screen_size,omitempty"`
	HDDSize        *string          `json:"hdd_size,omitempty"`
	SSDSize        *string          `json:"ssd_size,omitempty"`
	ProcessorType  *string          `json:"processor_type,omitempty"`
	ProcessorSpeed *string          `json:"processor_speed,omitempty"`
	RAM            *string          `json:"ram,omitempty"`
	GraphicsType   *string          `json:"graphics_type,omitempty"`
	GraphicsMemory *string          `json:"graphics_memory,omitempty"`
	OS             *string          `json:"os,omitempty"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	WarrantyYears  *decimal.Decimal `json:"warranty_years,omitempty"`
}

// Count returns the number of fields set.
func (p SpecsPatch) Count() int {
	n := 0
	for _, set := range []bool{
		p.Brand != nil, p.Model != nil, p.ModelNumber != nil, p.ScreenSize != nil,
		p.HDDSize != nil, p.SSDSize != nil, p.ProcessorType != nil, p.ProcessorSpeed != nil,
		p.RAM != nil, p.GraphicsType != nil, p.GraphicsMemory != nil, p.OS != nil,
		p.Price != nil, p.WarrantyYears != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Apply merges the set fields into s.
func (p SpecsPatch) Apply(s Specs) Specs {
	setString(&s.Brand, p.Brand)
	setString(&s.Model, p.Model)
	setString(&s.ModelNumber, p.ModelNumber)
	setString(&s.ScreenSize, p.ScreenSize)
	setString(&s.HDDSize, p.HDDSize)
	setString(&s.SSDSize, p.SSDSize)
	setString(&s.ProcessorType, p.ProcessorType)
	setString(&s.ProcessorSpeed, p.ProcessorSpeed)
	setString(&s.RAM, p.RAM)
	setString(&s.GraphicsType, p.GraphicsType)
	setString(&s.GraphicsMemory, p.GraphicsMemory)
	setString(&s.OS, p.OS)
	if p.Price != nil {
		s.Price = *p.Price
	}
	if p.WarrantyYears != nil {
		s.WarrantyYears = *p.WarrantyYears
	}
	return s
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// Configuration is a device template stocks are cloned from.
type Configuration struct {
	ID uuid.UUID `json:"id"`
	Specs
	ClonedStocks []string `json:"cloned_stocks"`
	shared.Audit
}

// FieldValue implements query.Record.
func (c Configuration) FieldValue(name string) (any, bool) {
	if name == "create_date" {
		return c.CreateDate, true
	}
	return c.Specs.fieldValue(name)
}

// ConfigurationPatch is a partial configuration update.
type ConfigurationPatch struct {
	SpecsPatch
}

// StatusEntry is one status_history element.
type StatusEntry struct {
	Status StockStatus `json:"status"`
	Date   time.Time   `json:"date"`
}

// Stock is a serialized physical unit.
type Stock struct {
	ID       uuid.UUID `json:"id"`
	ConfigID uuid.UUID `json:"config_id"`
	Serial   string    `json:"serial"`
	Specs
	PurchaseDate    time.Time     `json:"purchase_date"`
	WarrantyEndDate time.Time     `json:"warranty_end_date"`
	Remarks         string        `json:"remarks"`
	CurrentStatus   StockStatus   `json:"current_status"`
	StatusHistory   []StatusEntry `json:"status_history"`
	shared.Audit
}

// FieldValue implements query.Record.
func (s Stock) FieldValue(name string) (any, bool) {
	switch name {
	case "serial":
		return s.Serial, true
	case "config_id":
		return s.ConfigID.String(), true
	case "purchase_date":
		return s.PurchaseDate, true
	case "warranty_end_date":
		return s.WarrantyEndDate, true
	case "remarks":
		return s.Remarks, true
	case "current_status":
		return string(s.CurrentStatus), true
	}
	return s.Specs.fieldValue(name)
}

// StockTemplate describes one stock to clone. Unset attributes are copied
// from the configuration; a zero purchase date defaults to the clone time.
type StockTemplate struct {
	Serial       string    `json:"serial"`
	PurchaseDate time.Time `json:"purchase_date"`
	Remarks      string    `json:"remarks"`
	SpecsPatch
}

// StockPatch is a partial stock update. Serial, status and history are not
// patchable.
type StockPatch struct {
	SpecsPatch
	PurchaseDate *time.Time `json:"purchase_date,omitempty"`
	Remarks      *string    `json:"remarks,omitempty"`
}

// Count returns the number of fields set.
func (p StockPatch) Count() int {
	n := p.SpecsPatch.Count()
	if p.PurchaseDate != nil {
		n++
	}
	if p.Remarks != nil {
		n++
	}
	return n
}

// Sale binds one stock serial to a customer transaction.
type Sale struct {
	ID           uuid.UUID       `json:"id"`
	Serial       string          `json:"serial"`
	Price        decimal.Decimal `json:"price"`
	SaleDate     time.Time       `json:"sale_date"`
	CustomerName string          `json:"customer_name"`
	Mobile       string          `json:"mobile"`
	Address      string          `json:"address"`
	Remarks      string          `json:"remarks"`
	shared.Audit
}

// FieldValue implements query.Record.
func (s Sale) FieldValue(name string) (any, bool) {
	switch name {
	case "serial":
		return s.Serial, true
	case "price":
		return s.Price, true
	case "sale_date":
		return s.SaleDate, true
	case "customer_name":
		return s.CustomerName, true
	case "mobile":
		return s.Mobile, true
	case "address":
		return s.Address, true
	}
	return nil, false
}

// SaleLine is one serial/price pair of a sale request.
type SaleLine struct {
	Serial string          `json:"serial"`
	Price  decimal.Decimal `json:"price"`
}

// Customer holds the fields shared by every sale of a request.
type Customer struct {
	CustomerName string    `json:"customer_name" validate:"required"`
	Mobile       string    `json:"mobile"`
	Address      string    `json:"address"`
	Remarks      string    `json:"remarks"`
	SaleDate     time.Time `json:"sale_date" validate:"required"`
}

// SaleRequest sells a batch of stocks to one customer.
type SaleRequest struct {
	Lines []SaleLine `json:"sales"`
	Customer
	IdempotencyKey string `json:"-"`
}

// SwapRequest exchanges the stock fulfilling a sale.
type SwapRequest struct {
	SoldSerial     string `json:"sold_serial"`
	ExchangeSerial string `json:"exchange_serial"`
	ReturnRemarks  string `json:"return_remarks"`
}

// Transition is a guarded status change applied to a set of stocks.
type Transition struct {
	Serials     []string
	From        []StockStatus
	To          StockStatus
	RemarksNote string
	Actor       shared.Actor
}

// RemarksSeparator joins return remarks onto existing remarks.
const RemarksSeparator = " | "

// AppendRemarks joins note onto existing.
func AppendRemarks(existing, note string) string {
	note = strings.TrimSpace(note)
	switch {
	case note == "":
		return existing
	case existing == "":
		return note
	}
	return existing + RemarksSeparator + note
}

// WarrantyEnd adds the warranty to purchase. Fractional years are rounded to
// whole months.
func WarrantyEnd(purchase time.Time, years decimal.Decimal) time.Time {
	months := years.Mul(decimal.NewFromInt(12)).Round(0).IntPart()
	return purchase.AddDate(0, int(months), 0)
}

var specKinds = map[string]query.Kind{
	"brand":           query.KindString,
	"model":           query.KindString,
	"model_number":    query.KindString,
	"screen_size":     query.KindString,
	"hdd_size":        query.KindString,
	"ssd_size":        query.KindString,
	"processor_type":  query.KindString,
	"processor_speed": query.KindString,
	"ram":             query.KindString,
	"graphics_type":   query.KindString,
	"graphics_memory": query.KindString,
	"os":              query.KindString,
	"price":           query.KindDecimal,
	"warranty_years":  query.KindDecimal,
}

func withSpecKinds(extra map[string]query.Kind) map[string]query.Kind {
	out := make(map[string]query.Kind, len(specKinds)+len(extra))
	for k, v := range specKinds {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Filter schemas of the list endpoints.
var (
	ConfigurationSchema = query.Schema{
		Fields:      withSpecKinds(map[string]query.Kind{"create_date": query.KindTime}),
		PriceField:  "price",
		DateField:   "create_date",
		Projectable: append(keys(specKinds), "cloned_stocks", "create_date", "created_by", "update_date", "updated_by"),
	}
	StockSchema = query.Schema{
		Fields: withSpecKinds(map[string]query.Kind{
			"serial":            query.KindString,
			"config_id":         query.KindString,
			"purchase_date":     query.KindTime,
			"warranty_end_date": query.KindTime,
			"remarks":           query.KindString,
			"current_status":    query.KindString,
		}),
		PriceField: "price",
		DateField:  "purchase_date",
		Projectable: append(keys(specKinds), "serial", "config_id", "purchase_date", "warranty_end_date",
			"remarks", "current_status", "status_history", "create_date", "created_by", "update_date", "updated_by"),
	}
	SaleSchema = query.Schema{
		Fields: map[string]query.Kind{
			"serial":        query.KindString,
			"price":         query.KindDecimal,
			"sale_date":     query.KindTime,
			"customer_name": query.KindString,
			"mobile":        query.KindString,
			"address":       query.KindString,
		},
		PriceField: "price",
		DateField:  "sale_date",
		Projectable: []string{"serial", "price", "sale_date", "customer_name", "mobile", "address", "remarks",
			"create_date", "created_by", "update_date", "updated_by"},
	}
)

func keys(m map[string]query.Kind) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
