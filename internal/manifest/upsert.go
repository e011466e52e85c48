package manifest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/manifestgen/internal/errs"
	"github.com/JonMunkholm/manifestgen/internal/recordstore"
	"github.com/google/uuid"
)

// Attribute names of the manifest table.
const (
	AttrManifestID      = "ManifestId"
	AttrBatchID         = "BatchId"
	AttrTableName       = "TableName"
	AttrManifestKey     = "ManifestS3Key"
	AttrCombinedKey     = "CombinedS3Key"
	AttrCombinedSize    = "CombinedFileSize"
	AttrIsHistorical    = "IsHistorical"
	AttrFileStatus      = "FileStatus"
	AttrTotalRecords    = "TotalCuratedRecordsCount"
	AttrRecordsPerState = "TotalCuratedRecordsByState"
)

// StatusOpen is the FileStatus of a freshly written manifest.
const StatusOpen = "open"

// Record is one row of the manifest table.
type Record struct {
	ManifestID     string
	BatchID        string
	TableName      string
	ManifestKey    string
	CombinedKey    string
	CombinedSize   int64
	IsHistorical   bool
	FileStatus     string
	TotalRecords   int64
	RecordsByState map[string]int64
}

// ToItem encodes r for the record store.
func (r *Record) ToItem() recordstore.Item {
	byState := make(map[string]int64, len(r.RecordsByState))
	for k, v := range r.RecordsByState {
		byState[k] = v
	}
	return recordstore.Item{
		AttrManifestID:      r.ManifestID,
		AttrBatchID:         r.BatchID,
		AttrTableName:       r.TableName,
		AttrManifestKey:     r.ManifestKey,
		AttrCombinedKey:     r.CombinedKey,
		AttrCombinedSize:    r.CombinedSize,
		AttrIsHistorical:    r.IsHistorical,
		AttrFileStatus:      r.FileStatus,
		AttrTotalRecords:    r.TotalRecords,
		AttrRecordsPerState: byState,
	}
}

// UpsertInput carries the results of a published table run.
type UpsertInput struct {
	BatchID        string
	Table          string
	Historical     bool
	Published      *Published
	TotalRecords   int64
	RecordsByState map[string]int64
}

// Upserter keeps exactly one manifest row per (batch, table, historical).
type Upserter struct {
	store recordstore.Store
	table string
	index string
	newID func() string
}

// NewUpserter creates an Upserter over table's index.
func NewUpserter(store recordstore.Store, table, index string) *Upserter {
	return &Upserter{
		store: store,
		table: table,
		index: index,
		newID: func() string { return uuid.New().String() },
	}
}

// Upsert writes the manifest row for in, reusing the ManifestId of an
// existing row for the same key triple.
func (u *Upserter) Upsert(ctx context.Context, in UpsertInput) (*Record, error) {
	id, found, err := u.existingID(ctx, in.BatchID, in.Table, in.Historical)
	if err != nil {
		return nil, err
	}
	if found {
		slog.Info("manifest id already exists", "batch_id", in.BatchID, "table", in.Table, "manifest_id", id)
	} else {
		id = u.newID()
	}

	rec := &Record{
		ManifestID:     id,
		BatchID:        in.BatchID,
		TableName:      in.Table,
		ManifestKey:    in.Published.ManifestKey,
		CombinedKey:    in.Published.CombinedKey,
		CombinedSize:   in.Published.CombinedSize,
		IsHistorical:   in.Historical,
		FileStatus:     StatusOpen,
		TotalRecords:   in.TotalRecords,
		RecordsByState: in.RecordsByState,
	}
	if err := u.store.Put(ctx, u.table, rec.ToItem()); err != nil {
		return nil, errs.Wrap(errs.CodeStoreWrite, fmt.Errorf("put manifest %s: %w", id, err))
	}

	slog.Info("manifest record written",
		"table_name", u.table,
		"batch_id", in.BatchID,
		"table", in.Table,
		"manifest_id", id,
	)
	return rec, nil
}

// existingID looks up the current ManifestId. The historical filter is the
// raw boolean, unlike the curated index which stores a string label.
func (u *Upserter) existingID(ctx context.Context, batchID, table string, historical bool) (string, bool, error) {
	q := recordstore.Query{
		Table: u.table,
		Index: u.index,
		Keys: []recordstore.KeyCondition{
			{Name: AttrBatchID, Value: batchID},
			{Name: AttrTableName, Value: table},
		},
		Filter: &recordstore.Filter{Name: AttrIsHistorical, Value: historical},
	}
	for {
		page, err := u.store.Query(ctx, q)
		if err != nil {
			return "", false, errs.Wrap(errs.CodeIndexQuery, fmt.Errorf("query %s: %w", u.index, err))
		}
		for _, it := range page.Items {
			if id := it.String(AttrManifestID); id != "" {
				return id, true, nil
			}
		}
		if page.Next == nil {
			return "", false, nil
		}
		q.Cursor = page.Next
	}
}
