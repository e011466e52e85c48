// Package staging manages the per-run local scratch directories that hold
// downloaded objects and intermediate artifacts while a table is processed.
package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/JonMunkholm/manifestgen/internal/errs"
	"github.com/google/uuid"
)

// Area is a uniquely named scratch directory owned by exactly one table run.
type Area struct {
	root string
	path string
}

// New creates a fresh directory <root>/<uuid>. An empty root uses the OS temp dir.
func New(root string) (*Area, error) {
	if root == "" {
		root = os.TempDir()
	}
	path := filepath.Join(root, uuid.New().String())
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errs.Wrap(errs.CodeStaging, fmt.Errorf("create staging dir: %w", err))
	}
	return &Area{root: root, path: path}, nil
}

// Path returns the directory path.
func (a *Area) Path() string { return a.path }

// File returns the path of name inside the area.
func (a *Area) File(name string) string { return filepath.Join(a.path, name) }

// Close removes the directory recursively.
// A directory that no longer exists is reported as a failure too: something
// else removed scratch state this run owned.
func (a *Area) Close() error {
	if _, err := os.Stat(a.path); err != nil {
		slog.Error("staging dir missing at cleanup", "path", a.path, "error", err)
		return errs.Wrap(errs.CodeCleanup, fmt.Errorf("stat %s: %w", a.path, err))
	}
	if err := os.RemoveAll(a.path); err != nil {
		slog.Error("failed to remove staging dir", "path", a.path, "error", err)
		return errs.Wrap(errs.CodeCleanup, fmt.Errorf("remove %s: %w", a.path, err))
	}
	return nil
}

// Run creates an area under root, calls fn with it and always removes the area
// afterwards. If fn fails its error is primary and a cleanup failure is joined
// to it; otherwise the cleanup failure alone is returned.
func Run(ctx context.Context, root string, fn func(ctx context.Context, area *Area) error) (err error) {
	area, err := New(root)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := area.Close(); cerr != nil {
			if err != nil {
				err = errors.Join(err, cerr)
			} else {
				err = cerr
			}
		}
	}()
	return fn(ctx, area)
}
