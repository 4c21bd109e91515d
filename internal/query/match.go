package query

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record exposes typed field values for in-memory evaluation.
type Record interface {
	FieldValue(name string) (any, bool)
}

// Match evaluates the filter against rec.
func (f Filter) Match(rec Record) bool {
	for _, c := range f.Conditions {
		v, ok := rec.FieldValue(c.Field)
		if !ok {
			return false
		}
		if !matchCondition(c, v) {
			return false
		}
	}
	return true
}

func matchCondition(c Condition, v any) bool {
	switch c.Op {
	case OpIn:
		for _, want := range c.Values {
			if compare(v, want) == 0 {
				return true
			}
		}
		return false
	case OpEq:
		return compare(v, c.Values[0]) == 0
	case OpGte:
		cmp := compare(v, c.Values[0])
		return cmp == 0 || cmp == 1
	case OpLte:
		cmp := compare(v, c.Values[0])
		return cmp == 0 || cmp == -1
	}
	return false
}

// compare returns -1, 0 or 1, or 2 when the values are not comparable.
func compare(a, b any) int {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 2
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case decimal.Decimal:
		bv, ok := b.(decimal.Decimal)
		if !ok {
			return 2
		}
		return av.Cmp(bv)
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 2
		}
		return av.Compare(bv)
	}
	return 2
}
