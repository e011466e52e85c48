// Package curated reads curated-record metadata for a batch from the
// record store's secondary index.
package curated

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/manifestgen/internal/errs"
	"github.com/JonMunkholm/manifestgen/internal/recordstore"
)

// Attribute names of the curated-records table.
const (
	AttrBatchID      = "BatchId"
	AttrTableName    = "DataTableName"
	AttrIsHistorical = "IsHistorical"
	AttrS3Key        = "S3Key"
	AttrState        = "State"
	AttrRecordCount  = "TotalNumCuratedRecords"
)

// Record describes one curated object produced by upstream processing.
type Record struct {
	BatchID       string
	DataTableName string
	IsHistorical  string
	S3Key         string
	State         string
	RecordCount   int64
}

// HistoricalLabel is the string form IsHistorical is stored with.
func HistoricalLabel(historical bool) string {
	if historical {
		return "True"
	}
	return "False"
}

// FromItem decodes a store item into a Record.
func FromItem(it recordstore.Item) (Record, error) {
	r := Record{
		BatchID:       it.String(AttrBatchID),
		DataTableName: it.String(AttrTableName),
		IsHistorical:  it.String(AttrIsHistorical),
		S3Key:         it.String(AttrS3Key),
		State:         it.String(AttrState),
	}
	if r.S3Key == "" {
		return Record{}, fmt.Errorf("curated record missing %s", AttrS3Key)
	}
	n, err := it.Int(AttrRecordCount)
	if err != nil {
		return Record{}, fmt.Errorf("curated record %s: %w", r.S3Key, err)
	}
	r.RecordCount = n
	return r, nil
}

// ToItem encodes r for storage. Used by seeding tools and tests.
func (r Record) ToItem() recordstore.Item {
	return recordstore.Item{
		AttrBatchID:      r.BatchID,
		AttrTableName:    r.DataTableName,
		AttrIsHistorical: r.IsHistorical,
		AttrS3Key:        r.S3Key,
		AttrState:        r.State,
		AttrRecordCount:  r.RecordCount,
	}
}

// ScanResult is the full record set of one (batch, table, historical) triple.
type ScanResult struct {
	Records []Record
	Count   int
	Pages   int
}

// Scanner queries the curated-records index.
type Scanner struct {
	store recordstore.Store
	table string
	index string
}

// NewScanner creates a scanner over table's index.
func NewScanner(store recordstore.Store, table, index string) *Scanner {
	return &Scanner{store: store, table: table, index: index}
}

// Scan returns every curated record for batchID and tableName, following
// continuation cursors until the index is exhausted.
func (s *Scanner) Scan(ctx context.Context, batchID, tableName string, historical bool) (*ScanResult, error) {
	if tableName == "" {
		return nil, errs.Wrapf(errs.CodeInvalidEvent, "table name is required")
	}

	q := recordstore.Query{
		Table: s.table,
		Index: s.index,
		Keys: []recordstore.KeyCondition{
			{Name: AttrBatchID, Value: batchID},
			{Name: AttrTableName, Value: tableName},
		},
		Filter: &recordstore.Filter{Name: AttrIsHistorical, Value: HistoricalLabel(historical)},
	}

	result := &ScanResult{}
	for {
		page, err := s.store.Query(ctx, q)
		if err != nil {
			return nil, errs.Wrap(errs.CodeIndexQuery, fmt.Errorf("query %s page %d: %w", s.index, result.Pages+1, err))
		}
		result.Pages++
		for _, it := range page.Items {
			rec, err := FromItem(it)
			if err != nil {
				return nil, errs.Wrap(errs.CodeIndexQuery, err)
			}
			result.Records = append(result.Records, rec)
		}
		if page.Next == nil {
			break
		}
		q.Cursor = page.Next
	}
	result.Count = len(result.Records)

	slog.Debug("curated records scanned",
		"batch_id", batchID,
		"table", tableName,
		"historical", historical,
		"records", result.Count,
		"pages", result.Pages,
	)
	return result, nil
}
