package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var errEscapesRoot = errors.New("path escapes store root")

// LocalStore persists objects under root/<bucket>/<key>.
type LocalStore struct {
	root string
}

// NewLocalStore creates a store rooted at root, creating it if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "manifestgen-blobs")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, wrapError(CodeLocalIO, false, err)
	}
	return &LocalStore{root: root}, nil
}

// Root returns the directory objects are stored under.
func (s *LocalStore) Root() string {
	return s.root
}

// Path returns where bucket/key lives on disk. It does not validate the
// result; Download and Upload reject paths outside the bucket.
func (s *LocalStore) Path(bucket, key string) string {
	return filepath.Join(s.root, bucket, filepath.FromSlash(key))
}

// resolve returns the on-disk path of bucket/key, refusing a bucket that
// leaves root or a key that leaves its bucket.
func (s *LocalStore) resolve(bucket, key string) (string, error) {
	bucketDir := filepath.Join(s.root, bucket)
	if !within(s.root, bucketDir) {
		return "", wrapError(CodePermissionDenied, false, fmt.Errorf("bucket %q: %w", bucket, errEscapesRoot))
	}
	path := s.Path(bucket, key)
	if !within(bucketDir, path) {
		return "", wrapError(CodePermissionDenied, false, fmt.Errorf("key %q: %w", key, errEscapesRoot))
	}
	return path, nil
}

// within reports whether path lies strictly below dir.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func (s *LocalStore) Download(ctx context.Context, bucket, key, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bucket == "" {
		return wrapError(CodeBucketNotFound, false, os.ErrNotExist)
	}
	src, err := s.resolve(bucket, key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(s.root, bucket)); err != nil {
		return wrapError(CodeBucketNotFound, false, err)
	}
	if err := copyFile(src, localPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if _, statErr := os.Stat(src); statErr != nil {
				return wrapError(CodeObjectNotFound, false, err)
			}
		}
		return wrapError(CodeLocalIO, false, err)
	}
	return nil
}

func (s *LocalStore) Upload(ctx context.Context, localPath, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bucket == "" {
		return wrapError(CodeBucketNotFound, false, os.ErrNotExist)
	}
	dst, err := s.resolve(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return wrapError(CodePermissionDenied, false, err)
	}
	if err := copyFile(localPath, dst); err != nil {
		return wrapError(CodeLocalIO, false, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
