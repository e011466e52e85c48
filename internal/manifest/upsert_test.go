package manifest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/manifestgen/internal/errs"
	"github.com/JonMunkholm/manifestgen/internal/recordstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMemory(pageSize int) *recordstore.MemoryStore {
	return recordstore.NewMemoryStore(pageSize, map[string]string{"manifest": AttrManifestID})
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func input(batch, table string, historical bool, combinedKey string) UpsertInput {
	return UpsertInput{
		BatchID:        batch,
		Table:          table,
		Historical:     historical,
		Published:      &Published{ManifestKey: "manifest/" + batch + "/" + table + "/m.manifest", CombinedKey: combinedKey, CombinedSize: 42},
		TotalRecords:   10,
		RecordsByState: map[string]int64{"CA": 4, "NY": 6},
	}
}

func TestUpsert_IsIdempotentPerKeyTriple(t *testing.T) {
	store := newMemory(0)
	u := NewUpserter(store, "manifest", "idx")
	u.newID = sequentialIDs()
	ctx := context.Background()

	first, err := u.Upsert(ctx, input("B1", "orders", false, "k1"))
	require.NoError(t, err)
	second, err := u.Upsert(ctx, input("B1", "orders", false, "k2"))
	require.NoError(t, err)

	assert.Equal(t, first.ManifestID, second.ManifestID)
	require.Equal(t, 1, store.Len("manifest"))
	item := store.Items("manifest")[0]
	assert.Equal(t, "k2", item.String(AttrCombinedKey))
	assert.Equal(t, StatusOpen, item.String(AttrFileStatus))
	assert.Equal(t, false, item[AttrIsHistorical])
	assert.Equal(t, map[string]int64{"CA": 4, "NY": 6}, item[AttrRecordsPerState])
}

func TestUpsert_SeparatesHistoricalAndTables(t *testing.T) {
	store := newMemory(0)
	u := NewUpserter(store, "manifest", "idx")
	u.newID = sequentialIDs()
	ctx := context.Background()

	a, err := u.Upsert(ctx, input("B1", "orders", false, "k"))
	require.NoError(t, err)
	b, err := u.Upsert(ctx, input("B1", "orders", true, "k"))
	require.NoError(t, err)
	c, err := u.Upsert(ctx, input("B1", "users", false, "k"))
	require.NoError(t, err)

	assert.NotEqual(t, a.ManifestID, b.ManifestID)
	assert.NotEqual(t, a.ManifestID, c.ManifestID)
	assert.Equal(t, 3, store.Len("manifest"))
}

func TestUpsert_FindsMatchOnLaterPage(t *testing.T) {
	store := newMemory(1)
	ctx := context.Background()
	// A historical row sorts before the target and fills the first page.
	require.NoError(t, store.Put(ctx, "manifest", recordstore.Item{
		AttrManifestID: "aaa", AttrBatchID: "B1", AttrTableName: "orders", AttrIsHistorical: true,
	}))
	require.NoError(t, store.Put(ctx, "manifest", recordstore.Item{
		AttrManifestID: "zzz", AttrBatchID: "B1", AttrTableName: "orders", AttrIsHistorical: false,
	}))

	u := NewUpserter(store, "manifest", "idx")
	u.newID = func() string { return "fresh" }

	rec, err := u.Upsert(ctx, input("B1", "orders", false, "k"))
	require.NoError(t, err)
	assert.Equal(t, "zzz", rec.ManifestID)
	assert.Equal(t, 2, store.Len("manifest"))
}

type mockStore struct{ mock.Mock }

func (m *mockStore) Query(ctx context.Context, q recordstore.Query) (recordstore.Page, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(recordstore.Page), args.Error(1)
}

func (m *mockStore) Put(ctx context.Context, table string, item recordstore.Item) error {
	return m.Called(ctx, table, item).Error(0)
}

func TestUpsert_Errors(t *testing.T) {
	ctx := context.Background()

	qs := &mockStore{}
	qs.On("Query", mock.Anything, mock.Anything).Return(recordstore.Page{}, errors.New("throttled"))
	_, err := NewUpserter(qs, "manifest", "idx").Upsert(ctx, input("B1", "orders", false, "k"))
	assert.Equal(t, errs.CodeIndexQuery, errs.CodeOf(err))
	qs.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)

	ps := &mockStore{}
	ps.On("Query", mock.Anything, mock.MatchedBy(func(q recordstore.Query) bool {
		return q.Filter != nil && q.Filter.Value == false && q.Index == "idx"
	})).Return(recordstore.Page{}, nil)
	ps.On("Put", mock.Anything, "manifest", mock.Anything).Return(errors.New("conditional check failed"))
	_, err = NewUpserter(ps, "manifest", "idx").Upsert(ctx, input("B1", "orders", false, "k"))
	assert.Equal(t, errs.CodeStoreWrite, errs.CodeOf(err))
	ps.AssertExpectations(t)
}
