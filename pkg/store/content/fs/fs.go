// Package fs stores file contents as regular files in a local directory.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/pkg/store"
	"golang.org/x/sys/unix"
)

// ContentStore keeps each content id in its own file under basePath,
// fanned out by the first two characters of the id.
type ContentStore struct {
	basePath string
}

var (
	_ store.ContentStore  = (*ContentStore)(nil)
	_ store.ContentLister = (*ContentStore)(nil)
)

// New creates the base directory if needed and returns the store.
func New(ctx context.Context, basePath string) (*ContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if basePath == "" {
		return nil, fmt.Errorf("filesystem content store: path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	logger.Info("Filesystem content store ready: path=%s", basePath)
	return &ContentStore{basePath: basePath}, nil
}

// path returns the file holding id.
func (s *ContentStore) path(id string) string {
	if len(id) < 2 {
		return filepath.Join(s.basePath, id)
	}
	return filepath.Join(s.basePath, id[:2], id)
}

func (s *ContentStore) ReadAt(ctx context.Context, id string, offset uint64, n uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open content: %w", err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, n)
	read, err := f.ReadAt(buf, int64(offset))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	return buf[:read], nil
}

func (s *ContentStore) WriteAt(ctx context.Context, id string, offset uint64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := s.path(id)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create content directory: %w", err)
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open content: %w", err)
	}
	if _, err := f.WriteAt(data, int64(offset)); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.ENOSPC) {
			return store.ErrNoSpace
		}
		return fmt.Errorf("failed to write content: %w", err)
	}
	return f.Close()
}

func (s *ContentStore) Delete(ctx context.Context, id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return nil
}

func (s *ContentStore) Sync(ctx context.Context, id string) error {
	f, err := os.OpenFile(s.path(id), os.O_WRONLY, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open content: %w", err)
	}
	defer func() { _ = f.Close() }()
	return f.Sync()
}

// List walks the fan-out directories and returns every content file name.
func (s *ContentStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := filepath.WalkDir(s.basePath, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.Type().IsRegular() {
			ids = append(ids, d.Name())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list content: %w", err)
	}
	return ids, nil
}

// Usage reports the capacity of the filesystem holding basePath.
func (s *ContentStore) Usage(ctx context.Context) (store.Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(s.basePath, &st); err != nil {
		return store.Usage{}, fmt.Errorf("statfs %s: %w", s.basePath, err)
	}
	bsize := uint64(st.Bsize)
	total := st.Blocks * bsize
	avail := st.Bavail * bsize
	return store.Usage{Capacity: total, Used: total - avail}, nil
}
