// Package recordstore defines the indexed record store capability the manifest
// pipeline needs (paginated secondary-index queries and full-item puts) and
// provides DynamoDB, PostgreSQL and in-memory backends for it.
package recordstore

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
)

// Item is one stored row, keyed by attribute name.
// Values are strings, bools, numbers (int64 or float64), or nested maps.
type Item map[string]any

// Cursor is an opaque continuation token. A nil Cursor means no more pages.
type Cursor map[string]any

// KeyCondition is an equality condition on an index key attribute.
type KeyCondition struct {
	Name  string
	Value string
}

// Filter is an equality predicate applied to items after the key condition.
// Value is compared with its own type: the string "False" never equals the
// boolean false.
type Filter struct {
	Name  string
	Value any
}

// Query addresses one page of a secondary index.
type Query struct {
	Table  string
	Index  string
	Keys   []KeyCondition
	Filter *Filter
	Cursor Cursor
}

// Page is one query response.
type Page struct {
	Items []Item
	Count int
	Next  Cursor
}

// Store is the capability contract of the indexed record store.
type Store interface {
	Query(ctx context.Context, q Query) (Page, error)
	Put(ctx context.Context, table string, item Item) error
}

// String returns attribute name as a string, or "" if absent or not a string.
func (it Item) String(name string) string {
	if v, ok := it[name].(string); ok {
		return v
	}
	return ""
}

// Int returns attribute name as an int64. Numeric strings are accepted since
// upstream writers are not consistent about number encoding.
func (it Item) Int(name string) (int64, error) {
	v, ok := it[name]
	if !ok || v == nil {
		return 0, fmt.Errorf("attribute %s missing", name)
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("attribute %s: invalid integer %q: %w", name, n, err)
		}
		return i, nil
	case interface{ Int64() (int64, error) }:
		return n.Int64()
	default:
		return 0, fmt.Errorf("attribute %s: unsupported type %T", name, v)
	}
}

// matches reports whether item satisfies the key conditions and filter.
// Shared by the in-memory backend; the remote backends push both down.
func matches(item Item, keys []KeyCondition, filter *Filter) bool {
	for _, k := range keys {
		if v, ok := item[k.Name].(string); !ok || v != k.Value {
			return false
		}
	}
	if filter == nil {
		return true
	}
	v, ok := item[filter.Name]
	if !ok {
		return false
	}
	return reflect.TypeOf(v) == reflect.TypeOf(filter.Value) && reflect.DeepEqual(v, filter.Value)
}
