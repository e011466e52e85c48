package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/manifestgen/internal/blobstore"
	"github.com/JonMunkholm/manifestgen/internal/combine"
	"github.com/JonMunkholm/manifestgen/internal/curated"
	"github.com/JonMunkholm/manifestgen/internal/logging"
	"github.com/JonMunkholm/manifestgen/internal/manifest"
	"github.com/JonMunkholm/manifestgen/internal/recordstore"
	"github.com/JonMunkholm/manifestgen/internal/staging"
	"github.com/JonMunkholm/manifestgen/internal/status"
)

// Job identifies one table to process within a batch.
type Job struct {
	Table      string
	Historical bool
}

// TableProcessor handles a single table of a batch.
type TableProcessor interface {
	ProcessTable(ctx context.Context, batchID string, job Job) error
}

// TableError reports which table run failed.
type TableError struct {
	BatchID    string
	Table      string
	Historical bool
	Err        error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("batch %s table %s (historical=%t): %v", e.BatchID, e.Table, e.Historical, e.Err)
}

func (e *TableError) Unwrap() error { return e.Err }

// Stores names the tables, indexes and bucket a Service works against.
type Stores struct {
	CuratedTable  string
	CuratedIndex  string
	ManifestTable string
	ManifestIndex string
	CuratedBucket string
}

// Service is the production TableProcessor.
type Service struct {
	scanner     *curated.Scanner
	combiner    *combine.Combiner
	builder     *manifest.Builder
	upserter    *manifest.Upserter
	status      status.Sink
	stagingRoot string
}

// NewService wires the table pipeline over the given capabilities.
func NewService(records recordstore.Store, blobs blobstore.Store, sink status.Sink, stores Stores, stagingRoot string) *Service {
	return &Service{
		scanner:     curated.NewScanner(records, stores.CuratedTable, stores.CuratedIndex),
		combiner:    combine.New(blobs, stores.CuratedBucket),
		builder:     manifest.NewBuilder(blobs, stores.CuratedBucket),
		upserter:    manifest.NewUpserter(records, stores.ManifestTable, stores.ManifestIndex),
		status:      sink,
		stagingRoot: stagingRoot,
	}
}

// ProcessTable runs every step for one table inside a fresh staging area.
func (s *Service) ProcessTable(ctx context.Context, batchID string, job Job) error {
	start := time.Now()
	log := logging.WithFields(ctx, "batch_id", batchID, "table", job.Table, "is_historical", job.Historical)
	log.Info("processing table")

	s.status.Update(ctx, batchID, status.Processing, job.Historical)

	outcome := "published"
	err := staging.Run(ctx, s.stagingRoot, func(ctx context.Context, area *staging.Area) error {
		published, err := s.process(ctx, area, batchID, job)
		if err == nil && !published {
			outcome = "empty"
		}
		return err
	})
	if err != nil {
		outcome = "failed"
		log.Error("failed to build manifest", "error", err)
		err = &TableError{BatchID: batchID, Table: job.Table, Historical: job.Historical, Err: err}
	}

	tableRunsTotal.WithLabelValues(outcome).Inc()
	tableRunDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return err
}

func (s *Service) process(ctx context.Context, area *staging.Area, batchID string, job Job) (bool, error) {
	log := logging.WithFields(ctx, "batch_id", batchID, "table", job.Table)

	scan, err := s.scanner.Scan(ctx, batchID, job.Table, job.Historical)
	if err != nil {
		return false, err
	}
	if scan.Count == 0 {
		log.Info("no records to process for table", "pages", scan.Pages)
		return false, nil
	}
	log.Info("curated records found", "records", scan.Count, "pages", scan.Pages)

	fetched, err := s.combiner.Fetch(ctx, scan.Records, area)
	if err != nil {
		return false, err
	}
	combined, err := s.combiner.Combine(area, fetched.Files)
	if err != nil {
		return false, err
	}

	published, err := s.builder.Publish(ctx, area, batchID, job.Table, fetched.Entries, combined)
	if err != nil {
		return false, err
	}
	if published == nil {
		return false, nil
	}

	rec, err := s.upserter.Upsert(ctx, manifest.UpsertInput{
		BatchID:        batchID,
		Table:          job.Table,
		Historical:     job.Historical,
		Published:      published,
		TotalRecords:   fetched.TotalRecords,
		RecordsByState: fetched.ByState,
	})
	if err != nil {
		return false, err
	}

	curatedRecordsTotal.Add(float64(fetched.TotalRecords))
	combinedBytesTotal.Add(float64(published.CombinedSize))
	log.Info("manifest published",
		"manifest_id", rec.ManifestID,
		"manifest_key", published.ManifestKey,
		"combined_key", published.CombinedKey,
		"combined_bytes", published.CombinedSize,
		"records", fetched.TotalRecords,
	)
	return true, nil
}
