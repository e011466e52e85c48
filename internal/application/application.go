// Package application assembles the manifest pipeline from configuration:
// it selects the record store, blob store and status sink backends, builds
// the shared worker pool and returns an App ready to serve triggers.
package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/manifestgen/internal/blobstore"
	"github.com/JonMunkholm/manifestgen/internal/config"
	"github.com/JonMunkholm/manifestgen/internal/curated"
	"github.com/JonMunkholm/manifestgen/internal/errs"
	"github.com/JonMunkholm/manifestgen/internal/manifest"
	"github.com/JonMunkholm/manifestgen/internal/pipeline"
	"github.com/JonMunkholm/manifestgen/internal/recordstore"
	"github.com/JonMunkholm/manifestgen/internal/status"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
)

// App holds the wired pipeline and the resources it owns.
type App struct {
	Orchestrator *pipeline.Orchestrator
	Pool         *pipeline.WorkerPool
	Records      recordstore.Store
	Blobs        blobstore.Store
	Status       status.Sink

	closers []func()
}

// Close releases backend connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Build wires every capability selected by cfg. On error, anything already
// opened is closed.
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	app := &App{}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	if app.Records, err = app.openRecordStore(ctx, cfg); err != nil {
		return nil, errs.Wrap(errs.CodeConfig, fmt.Errorf("record store: %w", err))
	}
	if app.Blobs, err = openBlobStore(cfg); err != nil {
		return nil, errs.Wrap(errs.CodeConfig, fmt.Errorf("blob store: %w", err))
	}
	if app.Status, err = app.openStatusSink(cfg); err != nil {
		return nil, errs.Wrap(errs.CodeConfig, fmt.Errorf("status sink: %w", err))
	}

	stores := pipeline.Stores{
		CuratedTable:  cfg.Stores.CuratedRecordsTable(),
		CuratedIndex:  cfg.Stores.CuratedRecordsIndex,
		ManifestTable: cfg.Stores.ManifestTable(),
		ManifestIndex: cfg.Stores.ManifestIndex,
		CuratedBucket: cfg.Stores.CuratedBucket,
	}
	service := pipeline.NewService(app.Records, app.Blobs, app.Status, stores, cfg.Pipeline.StagingRoot)
	app.Pool = pipeline.NewWorkerPool(cfg.Pipeline.MaxWorkers)
	app.Orchestrator = pipeline.NewOrchestrator(service, app.Status, app.Pool)

	slog.Info("pipeline assembled",
		"record_store", cfg.Backend.RecordStore,
		"blob_store", cfg.Backend.BlobStore,
		"status_sink", cfg.Backend.StatusSink,
		"curated_table", stores.CuratedTable,
		"manifest_table", stores.ManifestTable,
		"max_workers", app.Pool.MaxWorkers(),
	)
	return app, nil
}

// keyAttributes maps each table to its primary key attribute for the
// backends that need it spelled out.
func keyAttributes(cfg *config.Config) map[string]string {
	return map[string]string{
		cfg.Stores.CuratedRecordsTable(): curated.AttrS3Key,
		cfg.Stores.ManifestTable():       manifest.AttrManifestID,
	}
}

func (a *App) openRecordStore(ctx context.Context, cfg *config.Config) (recordstore.Store, error) {
	switch cfg.Backend.RecordStore {
	case config.RecordStoreDynamo:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.AWS.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.DynamoEndpoint)
			}
		})
		return recordstore.NewDynamoStore(client), nil

	case config.RecordStorePostgres:
		poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("parse database URL: %w", err)
		}
		poolConfig.MaxConns = int32(cfg.Database.MaxConns)
		poolConfig.MinConns = int32(cfg.Database.MinConns)
		poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
		poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)

		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		store := recordstore.NewPostgresStore(pool, cfg.Database.PageSize, keyAttributes(cfg))
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil

	case config.RecordStoreMemory:
		return recordstore.NewMemoryStore(cfg.Database.PageSize, keyAttributes(cfg)), nil
	}
	return nil, fmt.Errorf("unknown record store %q", cfg.Backend.RecordStore)
}

func openBlobStore(cfg *config.Config) (blobstore.Store, error) {
	switch cfg.Backend.BlobStore {
	case config.BlobStoreS3:
		return blobstore.NewS3Store(blobstore.S3Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
		})
	case config.BlobStoreLocal:
		return blobstore.NewLocalStore(cfg.ObjectStore.LocalRoot)
	}
	return nil, fmt.Errorf("unknown blob store %q", cfg.Backend.BlobStore)
}

func (a *App) openStatusSink(cfg *config.Config) (status.Sink, error) {
	switch cfg.Backend.StatusSink {
	case config.StatusSinkLog:
		return status.NewLogSink(slog.Default()), nil
	case config.StatusSinkNATS:
		nc, err := status.ConnectNATS(cfg.Status.NATSURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := nc.Drain(); err != nil {
				slog.Warn("nats drain failed", "error", err)
			}
		})
		return status.NewNATSSink(nc, cfg.Status.Subject), nil
	}
	return nil, fmt.Errorf("unknown status sink %q", cfg.Backend.StatusSink)
}
