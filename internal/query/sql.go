package query

import (
	"fmt"
	"strings"
)

// Where renders the filter as a parameterized SQL predicate. columns maps
// field names to column expressions; conditions on unmapped fields are
// skipped. Placeholders start at $offset+1.
func (f Filter) Where(columns map[string]string, offset int) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", offset+len(args))
	}
	for _, c := range f.Conditions {
		col, ok := columns[c.Field]
		if !ok || len(c.Values) == 0 {
			continue
		}
		switch c.Op {
		case OpIn:
			placeholders := make([]string, len(c.Values))
			for i, v := range c.Values {
				placeholders[i] = next(v)
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")))
		case OpEq:
			clauses = append(clauses, fmt.Sprintf("%s = %s", col, next(c.Values[0])))
		case OpGte:
			clauses = append(clauses, fmt.Sprintf("%s >= %s", col, next(c.Values[0])))
		case OpLte:
			clauses = append(clauses, fmt.Sprintf("%s <= %s", col, next(c.Values[0])))
		}
	}
	if len(clauses) == 0 {
		return "TRUE", nil
	}
	return strings.Join(clauses, " AND "), args
}
