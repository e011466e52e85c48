// Package combine downloads the curated objects of one table run into its
// staging area and merges them into a single gzip artifact.
package combine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/JonMunkholm/manifestgen/internal/blobstore"
	"github.com/JonMunkholm/manifestgen/internal/curated"
	"github.com/JonMunkholm/manifestgen/internal/errs"
	"github.com/JonMunkholm/manifestgen/internal/manifest"
	"github.com/JonMunkholm/manifestgen/internal/staging"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// FetchResult describes the objects downloaded for one table run.
type FetchResult struct {
	Entries      []manifest.Entry
	TotalRecords int64
	ByState      map[string]int64
	// Files are the downloaded paths, in sequence order (1.gz, 2.gz, ...).
	Files []string
}

// Combiner fetches curated objects from one bucket.
type Combiner struct {
	blobs  blobstore.Store
	bucket string
}

// New creates a Combiner reading from bucket.
func New(blobs blobstore.Store, bucket string) *Combiner {
	return &Combiner{blobs: blobs, bucket: bucket}
}

// ObjectKey strips the "<bucket>/" prefix from an S3Key.
func ObjectKey(bucket, s3Key string) (string, error) {
	_, key, ok := strings.Cut(s3Key, bucket+"/")
	if !ok || key == "" {
		return "", fmt.Errorf("s3 key %q does not reference bucket %s", s3Key, bucket)
	}
	return key, nil
}

// Fetch downloads record i (1-based) to <area>/<i>.gz and tallies record
// counts overall and per state.
func (c *Combiner) Fetch(ctx context.Context, records []curated.Record, area *staging.Area) (*FetchResult, error) {
	res := &FetchResult{
		Entries: make([]manifest.Entry, 0, len(records)),
		ByState: make(map[string]int64),
		Files:   make([]string, 0, len(records)),
	}

	for i, rec := range records {
		key, err := ObjectKey(c.bucket, rec.S3Key)
		if err != nil {
			return nil, errs.Wrap(errs.CodeTransfer, err)
		}
		dst := area.File(strconv.Itoa(i+1) + ".gz")
		if err := c.blobs.Download(ctx, c.bucket, key, dst); err != nil {
			return nil, errs.Wrap(errs.CodeTransfer, fmt.Errorf("download %s: %w", rec.S3Key, err))
		}

		res.Entries = append(res.Entries, manifest.Entry{URL: rec.S3Key, Mandatory: true})
		res.TotalRecords += rec.RecordCount
		res.ByState[rec.State] += rec.RecordCount
		res.Files = append(res.Files, dst)
	}

	slog.Debug("curated objects fetched", "bucket", c.bucket, "files", len(res.Files), "records", res.TotalRecords)
	return res, nil
}

// Combine decompresses every file in place (N.gz becomes N) and then writes
// their concatenation, in the order given, as one gzip stream named
// <uuid>.gz inside area. It returns the combined file's path.
func (c *Combiner) Combine(area *staging.Area, files []string) (string, error) {
	plain := make([]string, 0, len(files))
	for _, f := range files {
		out, err := decompress(f)
		if err != nil {
			return "", errs.Wrap(errs.CodeCombine, err)
		}
		plain = append(plain, out)
	}

	combined := area.File(uuid.New().String() + ".gz")
	if err := recombine(combined, plain); err != nil {
		return "", errs.Wrap(errs.CodeCombine, err)
	}
	return combined, nil
}

func decompress(path string) (string, error) {
	dst := strings.TrimSuffix(path, ".gz")
	if dst == path {
		return "", fmt.Errorf("%s: not a .gz file", path)
	}

	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return "", fmt.Errorf("decompress %s: %w", path, err)
	}
	defer zr.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		return "", fmt.Errorf("decompress %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", dst, err)
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("remove %s: %w", path, err)
	}
	return dst, nil
}

func recombine(dst string, parts []string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	zw := gzip.NewWriter(out)

	for _, p := range parts {
		if err := appendFile(zw, p); err != nil {
			zw.Close()
			out.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finish gzip stream: %w", err)
	}
	return out.Close()
}

func appendFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return nil
}
