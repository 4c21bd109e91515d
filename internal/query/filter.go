// Package query compiles the list-endpoint filter grammar into a typed
// predicate tree and a projection list.
//
// Grammar:
//
//	in=field=a.b.c,field2=x   set membership, values separated by "."
//	price=lo,hi | price=x     range (either bound optional) or equality
//	date=from,to | date=x     same, on the schema's date field, ISO dates
//	fields=a,b,c              projection
//
// Unknown field names are ignored.
package query

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockroom/stockroom/internal/shared"
)

// Kind is the value type of a filterable field.
type Kind int

const (
	KindString Kind = iota
	KindDecimal
	KindTime
)

// Op is a comparison operator.
type Op string

const (
	OpIn  Op = "in"
	OpEq  Op = "eq"
	OpGte Op = "gte"
	OpLte Op = "lte"
)

// Condition is one leaf of the predicate tree. Values hold string,
// decimal.Decimal or time.Time according to the field kind.
type Condition struct {
	Field  string
	Op     Op
	Values []any
}

// Filter is a conjunction of conditions plus a projection.
type Filter struct {
	Conditions []Condition
	Fields     []string
}

// Empty reports whether the filter selects everything.
func (f Filter) Empty() bool {
	return len(f.Conditions) == 0
}

// Schema describes the filterable fields of a collection.
type Schema struct {
	Fields     map[string]Kind
	PriceField string
	DateField  string
	// Projectable lists fields accepted by fields=; defaults to Fields.
	Projectable []string
}

// Params carries the raw query string values.
type Params struct {
	In     string
	Price  string
	Date   string
	Fields string
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Parse compiles params against schema. Malformed prices or dates are
// validation errors.
func Parse(p Params, s Schema) (Filter, error) {
	var f Filter
	price := strings.TrimSpace(p.Price)
	date := strings.TrimSpace(p.Date)

	for _, part := range strings.Split(p.In, ",") {
		name, raw, ok := strings.Cut(strings.TrimSpace(part), "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		kind, known := s.Fields[name]
		if !known {
			continue
		}
		// an explicit range filter wins over set membership on the same field
		if (name == s.PriceField && price != "") || (name == s.DateField && date != "") {
			continue
		}
		cond := Condition{Field: name, Op: OpIn}
		for _, v := range strings.Split(raw, ".") {
			value, err := parseValue(kind, strings.TrimSpace(v))
			if err != nil {
				return Filter{}, err
			}
			cond.Values = append(cond.Values, value)
		}
		f.Conditions = append(f.Conditions, cond)
	}

	if price != "" && s.PriceField != "" {
		conds, err := parseRange(s.PriceField, KindDecimal, price)
		if err != nil {
			return Filter{}, err
		}
		f.Conditions = append(f.Conditions, conds...)
	}
	if date != "" && s.DateField != "" {
		conds, err := parseRange(s.DateField, KindTime, date)
		if err != nil {
			return Filter{}, err
		}
		f.Conditions = append(f.Conditions, conds...)
	}

	f.Fields = parseProjection(p.Fields, s)
	return f, nil
}

func parseRange(field string, kind Kind, raw string) ([]Condition, error) {
	lo, hi, isRange := strings.Cut(raw, ",")
	if !isRange {
		v, err := parseValue(kind, strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		return []Condition{{Field: field, Op: OpEq, Values: []any{v}}}, nil
	}
	var conds []Condition
	if lo = strings.TrimSpace(lo); lo != "" {
		v, err := parseValue(kind, lo)
		if err != nil {
			return nil, err
		}
		conds = append(conds, Condition{Field: field, Op: OpGte, Values: []any{v}})
	}
	if hi = strings.TrimSpace(hi); hi != "" {
		v, err := parseValue(kind, hi)
		if err != nil {
			return nil, err
		}
		conds = append(conds, Condition{Field: field, Op: OpLte, Values: []any{v}})
	}
	return conds, nil
}

func parseValue(kind Kind, raw string) (any, error) {
	switch kind {
	case KindDecimal:
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, shared.Validationf("invalid number %q", raw)
		}
		return d, nil
	case KindTime:
		return ParseTime(raw)
	default:
		return raw, nil
	}
}

// ParseTime accepts ISO 8601 dates and datetimes.
func ParseTime(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, shared.Validationf("invalid date %q", raw)
}

func parseProjection(raw string, s Schema) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	allowed := make(map[string]struct{}, len(s.Fields)+len(s.Projectable))
	if len(s.Projectable) > 0 {
		for _, name := range s.Projectable {
			allowed[name] = struct{}{}
		}
	} else {
		for name := range s.Fields {
			allowed[name] = struct{}{}
		}
	}
	seen := make(map[string]struct{})
	var fields []string
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if _, ok := allowed[name]; !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		fields = append(fields, name)
	}
	return fields
}
