package recordstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DefaultMemoryPageSize is the number of items scanned per MemoryStore page.
const DefaultMemoryPageSize = 100

// MemoryStore keeps tables in process memory. Pagination mimics DynamoDB: a
// page scans at most pageSize key-matching items and the filter is applied to
// that page afterwards, so a page can come back empty with a non-nil Next.
type MemoryStore struct {
	mu       sync.RWMutex
	pageSize int
	keyAttrs map[string]string
	tables   map[string]map[string]Item

	queries int
}

// NewMemoryStore creates an empty store. keyAttrs maps table name to the
// attribute holding each item's primary key.
func NewMemoryStore(pageSize int, keyAttrs map[string]string) *MemoryStore {
	if pageSize <= 0 {
		pageSize = DefaultMemoryPageSize
	}
	return &MemoryStore{
		pageSize: pageSize,
		keyAttrs: keyAttrs,
		tables:   make(map[string]map[string]Item),
	}
}

func (s *MemoryStore) Query(ctx context.Context, q Query) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	s.mu.Lock()
	s.queries++
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	table := s.tables[q.Table]
	pks := make([]string, 0, len(table))
	for pk, item := range table {
		if matches(item, q.Keys, nil) {
			pks = append(pks, pk)
		}
	}
	sort.Strings(pks)

	start := 0
	if q.Cursor != nil {
		after, _ := q.Cursor["pk"].(string)
		start = sort.SearchStrings(pks, after)
		if start < len(pks) && pks[start] == after {
			start++
		}
	}
	end := start + s.pageSize
	if end > len(pks) {
		end = len(pks)
	}

	page := Page{}
	for _, pk := range pks[start:end] {
		item := table[pk]
		if matches(item, nil, q.Filter) {
			page.Items = append(page.Items, cloneItem(item))
		}
	}
	page.Count = len(page.Items)
	if end < len(pks) {
		page.Next = Cursor{"pk": pks[end-1]}
	}
	return page, nil
}

func (s *MemoryStore) Put(ctx context.Context, table string, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	keyAttr, ok := s.keyAttrs[table]
	if !ok {
		return fmt.Errorf("memory store: no key attribute configured for table %s", table)
	}
	pk, ok := item[keyAttr].(string)
	if !ok || pk == "" {
		return fmt.Errorf("memory store: item missing key attribute %s", keyAttr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[table] == nil {
		s.tables[table] = make(map[string]Item)
	}
	s.tables[table][pk] = cloneItem(item)
	return nil
}

// Len returns the number of items stored in table.
func (s *MemoryStore) Len(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table])
}

// Items returns a copy of every item in table, ordered by primary key.
func (s *MemoryStore) Items(table string) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pks := make([]string, 0, len(s.tables[table]))
	for pk := range s.tables[table] {
		pks = append(pks, pk)
	}
	sort.Strings(pks)
	out := make([]Item, 0, len(pks))
	for _, pk := range pks {
		out = append(out, cloneItem(s.tables[table][pk]))
	}
	return out
}

// QueryCount returns how many Query calls the store has served.
func (s *MemoryStore) QueryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries
}

func cloneItem(in Item) Item {
	out := make(Item, len(in))
	for k, v := range in {
		if m, ok := v.(map[string]int64); ok {
			cp := make(map[string]int64, len(m))
			for mk, mv := range m {
				cp[mk] = mv
			}
			v = cp
		}
		out[k] = v
	}
	return out
}
