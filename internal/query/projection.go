package query

import "encoding/json"

// Project reduces each item to the projected JSON fields. Without a
// projection the items are returned unchanged. Items must marshal to JSON
// objects.
func Project[T any](items []T, fields []string) (any, error) {
	if len(fields) == 0 {
		return items, nil
	}
	out := make([]map[string]json.RawMessage, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		var full map[string]json.RawMessage
		if err := json.Unmarshal(raw, &full); err != nil {
			return nil, err
		}
		reduced := make(map[string]json.RawMessage, len(fields)+1)
		if id, ok := full["id"]; ok {
			reduced["id"] = id
		}
		for _, name := range fields {
			if v, ok := full[name]; ok {
				reduced[name] = v
			}
		}
		out = append(out, reduced)
	}
	return out, nil
}
