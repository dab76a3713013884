package docstore

import (
	"reflect"
	"sort"
	"strings"
)

// jsonb orders values by type first: null < string < number < boolean < array < object.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case string:
		return 1
	case float64:
		return 2
	case bool:
		return 3
	case []any:
		return 4
	default:
		return 5
	}
}

func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case string:
		return strings.Compare(av, b.(string))
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	case nil:
		return 0
	}
	if reflect.DeepEqual(a, b) {
		return 0
	}
	return 1
}

type normalizedFilter struct {
	field string
	op    Op
	value any
}

func normalizeFilters(filters []Filter) ([]normalizedFilter, error) {
	out := make([]normalizedFilter, 0, len(filters))
	for _, f := range filters {
		v, err := normalizeValue(f.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, normalizedFilter{field: f.Field, op: f.Op, value: v})
	}
	return out, nil
}

// matches treats a missing field as not matching, like SQL NULL.
func matches(fields Fields, filters []normalizedFilter) bool {
	for _, f := range filters {
		v, ok := fields[f.field]
		if !ok {
			return false
		}
		if f.op != OpEq && typeRank(v) != typeRank(f.value) {
			return false
		}
		c := compareValues(v, f.value)
		switch f.op {
		case OpEq:
			if c != 0 || typeRank(v) != typeRank(f.value) {
				return false
			}
		case OpLt:
			if c >= 0 {
				return false
			}
		case OpLte:
			if c > 0 {
				return false
			}
		case OpGt:
			if c <= 0 {
				return false
			}
		case OpGte:
			if c < 0 {
				return false
			}
		}
	}
	return true
}

// sortDocuments orders by the query field, then id. Documents without the
// field sort last ascending and first descending, as NULLs do in Postgres.
func sortDocuments(docs []Document, orderBy string, desc bool) {
	sort.SliceStable(docs, func(i, j int) bool {
		if orderBy != "" {
			vi, oki := docs[i].Fields[orderBy]
			vj, okj := docs[j].Fields[orderBy]
			if oki != okj {
				return oki != desc
			}
			if oki {
				if c := compareValues(vi, vj); c != 0 {
					if desc {
						return c > 0
					}
					return c < 0
				}
			}
		}
		return docs[i].ID < docs[j].ID
	})
}
