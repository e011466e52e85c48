// Package manifest builds and publishes the manifest document of a table run
// and maintains its entry in the manifest metadata table.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/JonMunkholm/manifestgen/internal/blobstore"
	"github.com/JonMunkholm/manifestgen/internal/errs"
	"github.com/JonMunkholm/manifestgen/internal/staging"
	"github.com/google/uuid"
)

// Entry lists one constituent object of a combined artifact.
type Entry struct {
	URL       string `json:"url"`
	Mandatory bool   `json:"mandatory"`
}

// Document is the JSON body of a .manifest file.
type Document struct {
	Entries []Entry `json:"entries"`
}

// Published holds the blob keys written for one table run.
type Published struct {
	ManifestKey  string
	CombinedKey  string
	CombinedSize int64
}

// Key returns the blob key of name under manifest/<batch>/<table>/.
func Key(batchID, table, name string) string {
	return "manifest/" + batchID + "/" + table + "/" + name
}

// Builder uploads manifest and combined files into one bucket.
type Builder struct {
	blobs  blobstore.Store
	bucket string
}

// NewBuilder creates a Builder writing to bucket.
func NewBuilder(blobs blobstore.Store, bucket string) *Builder {
	return &Builder{blobs: blobs, bucket: bucket}
}

// Publish writes entries as <uuid>.manifest inside area and uploads it along
// with the combined file. With no entries nothing is written and Publish
// returns nil, nil.
func (b *Builder) Publish(ctx context.Context, area *staging.Area, batchID, table string, entries []Entry, combinedPath string) (*Published, error) {
	if len(entries) == 0 {
		slog.Info("no manifest entries, skipping publish", "batch_id", batchID, "table", table)
		return nil, nil
	}

	name := uuid.New().String() + ".manifest"
	local := area.File(name)
	if err := writeDocument(local, Document{Entries: entries}); err != nil {
		return nil, errs.Wrap(errs.CodeStaging, err)
	}

	pub := &Published{
		ManifestKey: Key(batchID, table, name),
		CombinedKey: Key(batchID, table, filepath.Base(combinedPath)),
	}
	if err := b.blobs.Upload(ctx, local, b.bucket, pub.ManifestKey); err != nil {
		return nil, errs.Wrap(errs.CodeTransfer, fmt.Errorf("upload manifest: %w", err))
	}
	slog.Info("manifest uploaded", "batch_id", batchID, "table", table, "key", pub.ManifestKey)

	info, err := os.Stat(combinedPath)
	if err != nil {
		return nil, errs.Wrap(errs.CodeStaging, fmt.Errorf("stat combined file: %w", err))
	}
	pub.CombinedSize = info.Size()
	if err := b.blobs.Upload(ctx, combinedPath, b.bucket, pub.CombinedKey); err != nil {
		return nil, errs.Wrap(errs.CodeTransfer, fmt.Errorf("upload combined file: %w", err))
	}
	slog.Info("combined file uploaded", "batch_id", batchID, "table", table, "key", pub.CombinedKey, "bytes", pub.CombinedSize)

	return pub, nil
}

func writeDocument(path string, doc Document) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest file: %w", err)
	}
	if err := json.NewEncoder(f).Encode(doc); err != nil {
		f.Close()
		return fmt.Errorf("encode manifest: %w", err)
	}
	return f.Close()
}
