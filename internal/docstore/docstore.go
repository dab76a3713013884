// Package docstore is a schemaless document store with filtered queries and
// live subscriptions. Documents are grouped by collection and addressed by a
// store-assigned or caller-chosen identifier.
package docstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidQuery = errors.New("invalid query")
)

// Op is a comparison operator usable in a Filter.
type Op string

const (
	OpEq  Op = "=="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

var sqlOperators = map[Op]string{
	OpEq:  "=",
	OpLt:  "<",
	OpLte: "<=",
	OpGt:  ">",
	OpGte: ">=",
}

type Filter struct {
	Field string
	Op    Op
	Value any
}

func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

func (q Query) validate() error {
	if q.Collection == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidQuery)
	}
	for _, f := range q.Filters {
		if f.Field == "" {
			return fmt.Errorf("%w: filter field is required", ErrInvalidQuery)
		}
		if _, ok := sqlOperators[f.Op]; !ok {
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, f.Op)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	return nil
}

// Snapshot is one delivery of a live subscription: the complete result set at
// the time of delivery, or the error that prevented computing it.
type Snapshot struct {
	Docs []Document
	Err  error
}

type Listener func(Snapshot)

type Store interface {
	Subscribe(ctx context.Context, q Query, fn Listener) (*Subscription, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	Get(ctx context.Context, collection, id string) (Document, error)
	Insert(ctx context.Context, collection string, fields Fields) (string, error)
	Upsert(ctx context.Context, collection, id string, fields Fields) error
	Update(ctx context.Context, collection, id string, fields Fields) error
	Delete(ctx context.Context, collection, id string) error
}
