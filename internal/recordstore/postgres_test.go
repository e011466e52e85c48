package recordstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_BuildQuery(t *testing.T) {
	s := NewPostgresStore(nil, 10, nil)

	sql, args, err := s.buildQuery(Query{
		Table:  "curated",
		Index:  "ignored",
		Keys:   []KeyCondition{{Name: "BatchId", Value: "B1"}, {Name: "DataTableName", Value: "orders"}},
		Filter: &Filter{Name: "IsHistorical", Value: "False"},
		Cursor: Cursor{"pk": "bucket/k-9"},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sql, "SELECT item_key, attrs FROM record_items WHERE table_name = $1"))
	assert.Contains(t, sql, "attrs->>$2 = $3")
	assert.Contains(t, sql, "attrs->>$4 = $5")
	assert.Contains(t, sql, "attrs->$6 = $7::jsonb")
	assert.Contains(t, sql, "item_key > $8")
	assert.True(t, strings.HasSuffix(sql, "ORDER BY item_key LIMIT 11"))
	assert.Equal(t, []any{"curated", "BatchId", "B1", "DataTableName", "orders", "IsHistorical", `"False"`, "bucket/k-9"}, args)
}

func TestPostgresStore_BuildQueryBoolFilter(t *testing.T) {
	s := NewPostgresStore(nil, 0, nil)

	_, args, err := s.buildQuery(Query{
		Table:  "manifest",
		Keys:   []KeyCondition{{Name: "BatchId", Value: "B1"}},
		Filter: &Filter{Name: "IsHistorical", Value: false},
	})
	require.NoError(t, err)
	assert.Equal(t, "false", args[len(args)-1])
}

func TestPostgresStore_BuildQueryValidation(t *testing.T) {
	s := NewPostgresStore(nil, 0, nil)

	_, _, err := s.buildQuery(Query{})
	assert.Error(t, err)

	_, _, err = s.buildQuery(Query{Table: "t"})
	assert.Error(t, err)
}
