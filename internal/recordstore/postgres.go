package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultPostgresPageSize bounds the rows returned per PostgresStore page.
const DefaultPostgresPageSize = 500

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS record_items (
	table_name TEXT NOT NULL,
	item_key   TEXT NOT NULL,
	attrs      JSONB NOT NULL,
	PRIMARY KEY (table_name, item_key)
);
CREATE INDEX IF NOT EXISTS record_items_attrs_idx ON record_items USING GIN (attrs);
`

// PostgresStore keeps items as JSONB documents in a single table. Index
// names are accepted but ignored; key conditions become attribute lookups
// served by the GIN index.
type PostgresStore struct {
	db       DBTX
	pageSize int
	keyAttrs map[string]string
}

// NewPostgresStore creates a store over db. keyAttrs maps table name to the
// attribute holding each item's primary key.
func NewPostgresStore(db DBTX, pageSize int, keyAttrs map[string]string) *PostgresStore {
	if pageSize <= 0 {
		pageSize = DefaultPostgresPageSize
	}
	return &PostgresStore{db: db, pageSize: pageSize, keyAttrs: keyAttrs}
}

// EnsureSchema creates the backing table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure record_items schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, q Query) (Page, error) {
	sql, args, err := s.buildQuery(q)
	if err != nil {
		return Page{}, err
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return Page{}, fmt.Errorf("postgres query %s: %w", q.Table, err)
	}
	defer rows.Close()

	var (
		page    Page
		lastKey string
		scanned int
	)
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return Page{}, fmt.Errorf("scan row: %w", err)
		}
		scanned++
		if scanned > s.pageSize {
			break
		}
		var item Item
		if err := json.Unmarshal(raw, &item); err != nil {
			return Page{}, fmt.Errorf("decode attrs for %s: %w", key, err)
		}
		page.Items = append(page.Items, item)
		lastKey = key
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("iterate rows: %w", err)
	}

	page.Count = len(page.Items)
	if scanned > s.pageSize {
		page.Next = Cursor{"pk": lastKey}
	}
	return page, nil
}

// buildQuery renders q as SQL. One extra row is fetched so the caller can
// tell whether another page exists.
func (s *PostgresStore) buildQuery(q Query) (string, []any, error) {
	if q.Table == "" {
		return "", nil, fmt.Errorf("query table is required")
	}
	if len(q.Keys) == 0 {
		return "", nil, fmt.Errorf("query on %s needs at least one key condition", q.Table)
	}

	var b strings.Builder
	args := []any{q.Table}
	b.WriteString("SELECT item_key, attrs FROM record_items WHERE table_name = $1")

	for _, k := range q.Keys {
		args = append(args, k.Name, k.Value)
		fmt.Fprintf(&b, " AND attrs->>$%d = $%d", len(args)-1, len(args))
	}
	if q.Filter != nil {
		val, err := json.Marshal(q.Filter.Value)
		if err != nil {
			return "", nil, fmt.Errorf("encode filter value: %w", err)
		}
		args = append(args, q.Filter.Name, string(val))
		fmt.Fprintf(&b, " AND attrs->$%d = $%d::jsonb", len(args)-1, len(args))
	}
	if q.Cursor != nil {
		after, _ := q.Cursor["pk"].(string)
		args = append(args, after)
		fmt.Fprintf(&b, " AND item_key > $%d", len(args))
	}
	fmt.Fprintf(&b, " ORDER BY item_key LIMIT %d", s.pageSize+1)
	return b.String(), args, nil
}

func (s *PostgresStore) Put(ctx context.Context, table string, item Item) error {
	keyAttr, ok := s.keyAttrs[table]
	if !ok {
		return fmt.Errorf("postgres store: no key attribute configured for table %s", table)
	}
	pk, ok := item[keyAttr].(string)
	if !ok || pk == "" {
		return fmt.Errorf("postgres store: item missing key attribute %s", keyAttr)
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO record_items (table_name, item_key, attrs)
		VALUES ($1, $2, $3)
		ON CONFLICT (table_name, item_key) DO UPDATE SET attrs = EXCLUDED.attrs`,
		table, pk, raw,
	)
	if err != nil {
		return fmt.Errorf("postgres put %s: %w", table, err)
	}
	return nil
}
