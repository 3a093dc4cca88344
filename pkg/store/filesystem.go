package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/nfs3gw/internal/logger"
)

// Config tunes a FileSystem.
type Config struct {
	// Capacity overrides the capacity reported by the content store.
	// Zero keeps the content store's figure.
	Capacity uint64

	// MaxObjects bounds the number of files. Zero means unlimited.
	MaxObjects uint64

	// ReadOnly rejects every mutation with ErrReadOnly.
	ReadOnly bool

	// Root ownership and permissions, applied when the root is created.
	RootOwner string
	RootGroup string
	RootMode  uint32
}

// FileSystem implements Store on top of a MetadataStore and a ContentStore.
//
// Metadata mutations are serialised by a single mutex, so each one observes
// and leaves a consistent view of the file table. Content I/O runs outside
// it, ordered per file by a striped lock.
type FileSystem struct {
	meta    MetadataStore
	content ContentStore
	cfg     Config

	mu        sync.Mutex
	fileLocks [fileLockStripes]sync.Mutex

	clockMu sync.Mutex
	last    time.Time
}

var _ Store = (*FileSystem)(nil)

const fileLockStripes = 64

func (fs *FileSystem) lockFile(id uint64) func() {
	mu := &fs.fileLocks[id%fileLockStripes]
	mu.Lock()
	return mu.Unlock
}

// New builds a FileSystem and creates the root directory if the metadata
// store does not have one yet.
func New(ctx context.Context, meta MetadataStore, content ContentStore, cfg Config) (*FileSystem, error) {
	if cfg.RootMode == 0 {
		cfg.RootMode = 0o755
	}

	fs := &FileSystem{meta: meta, content: content, cfg: cfg}

	err := meta.Update(ctx, func(tx MetadataTx) error {
		_, err := tx.Get(RootID)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return err
		}
		now := fs.now()
		logger.Info("Creating store root: owner=%s group=%s mode=%o", cfg.RootOwner, cfg.RootGroup, cfg.RootMode)
		return tx.Insert(&FileInfo{
			ID:     RootID,
			Parent: RootID,
			Type:   TypeDirectory,
			Mode:   cfg.RootMode,
			Owner:  cfg.RootOwner,
			Group:  cfg.RootGroup,
			Nlink:  2,
			Atime:  now,
			Mtime:  now,
			Ctime:  now,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("initialize root: %w", err)
	}
	return fs, nil
}

// Close releases the metadata store.
func (fs *FileSystem) Close() error {
	return fs.meta.Close()
}

// Backends returns the stores the file system is built on.
func (fs *FileSystem) Backends() (MetadataStore, ContentStore) {
	return fs.meta, fs.content
}

// now returns a timestamp strictly later than any returned before, so
// ctime advances on every change even within one clock tick.
func (fs *FileSystem) now() time.Time {
	fs.clockMu.Lock()
	defer fs.clockMu.Unlock()

	t := time.Now().Round(0)
	if !t.After(fs.last) {
		t = fs.last.Add(time.Nanosecond)
	}
	fs.last = t
	return t
}

func (fs *FileSystem) Root() uint64 { return RootID }

// ============================================================================
// Read-only operations
// ============================================================================

func (fs *FileSystem) GetAttributes(ctx context.Context, id uint64) (*FileInfo, error) {
	var info *FileInfo
	err := fs.meta.View(ctx, func(tx MetadataTx) error {
		var err error
		info, err = tx.Get(id)
		return err
	})
	return info, err
}

func (fs *FileSystem) Lookup(ctx context.Context, dir uint64, name string) (*FileInfo, error) {
	var info *FileInfo
	err := fs.meta.View(ctx, func(tx MetadataTx) error {
		parent, err := getDir(tx, dir)
		if err != nil {
			return err
		}
		switch name {
		case ".":
			info = parent
			return nil
		case "..":
			info, err = tx.Get(parent.Parent)
			return err
		}
		if err := validateName(name); err != nil {
			return err
		}
		id, err := tx.Child(dir, name)
		if err != nil {
			return err
		}
		info, err = tx.Get(id)
		return err
	})
	return info, err
}

func (fs *FileSystem) ListDirectory(ctx context.Context, dir, startAfter uint64, limit int) ([]*FileInfo, bool, error) {
	var (
		entries []*FileInfo
		more    bool
	)
	err := fs.meta.View(ctx, func(tx MetadataTx) error {
		if _, err := getDir(tx, dir); err != nil {
			return err
		}
		ids, hasMore, err := tx.Children(dir, startAfter, limit)
		if err != nil {
			return err
		}
		entries = make([]*FileInfo, 0, len(ids))
		for _, id := range ids {
			info, err := tx.Get(id)
			if err != nil {
				return fmt.Errorf("directory %d entry %d: %w", dir, id, err)
			}
			entries = append(entries, info)
		}
		more = hasMore
		return nil
	})
	return entries, more, err
}

func (fs *FileSystem) Read(ctx context.Context, id, offset uint64, count uint32) ([]byte, error) {
	info, err := fs.GetAttributes(ctx, id)
	if err != nil {
		return nil, err
	}
	switch info.Type {
	case TypeDirectory:
		return nil, ErrIsDir
	case TypeSymlink:
		return nil, ErrInvalid
	}

	if offset >= info.Size || count == 0 {
		return []byte{}, nil
	}
	n := info.Size - offset
	if n > uint64(count) {
		n = uint64(count)
	}

	data, err := fs.content.ReadAt(ctx, info.ContentID, offset, uint32(n))
	if err != nil {
		return nil, fmt.Errorf("read content %s: %w", info.ContentID, err)
	}
	if uint64(len(data)) < n {
		// Sparse tail: the file size was extended past the stored bytes.
		padded := make([]byte, n)
		copy(padded, data)
		data = padded
	}
	return data, nil
}

func (fs *FileSystem) ReadSymlink(ctx context.Context, id uint64) (string, error) {
	info, err := fs.GetAttributes(ctx, id)
	if err != nil {
		return "", err
	}
	if info.Type != TypeSymlink {
		return "", ErrInvalid
	}
	return info.Target, nil
}

func (fs *FileSystem) DiskStatus(ctx context.Context) (DiskStatus, error) {
	usage, err := fs.content.Usage(ctx)
	if err != nil {
		return DiskStatus{}, fmt.Errorf("content usage: %w", err)
	}

	var files uint64
	err = fs.meta.View(ctx, func(tx MetadataTx) error {
		files, err = tx.Count()
		return err
	})
	if err != nil {
		return DiskStatus{}, err
	}

	capacity := usage.Capacity
	if fs.cfg.Capacity > 0 {
		capacity = fs.cfg.Capacity
	}
	status := DiskStatus{Capacity: capacity, Files: files}
	if capacity > usage.Used {
		status.Remaining = capacity - usage.Used
	}
	return status, nil
}

// ============================================================================
// Mutations
// ============================================================================

// update runs fn as one metadata transaction under the mutation lock.
func (fs *FileSystem) update(ctx context.Context, fn func(tx MetadataTx, now time.Time) error) error {
	if fs.cfg.ReadOnly {
		return ErrReadOnly
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.meta.Update(ctx, func(tx MetadataTx) error {
		return fn(tx, fs.now())
	})
}

// Write stores data at offset. The content write happens outside the
// metadata lock; size and times are updated afterwards. If the file is
// removed in between, the bytes are left for the garbage collector.
func (fs *FileSystem) Write(ctx context.Context, id, offset uint64, data []byte) (*FileInfo, error) {
	if fs.cfg.ReadOnly {
		return nil, ErrReadOnly
	}
	unlock := fs.lockFile(id)
	defer unlock()

	info, err := fs.GetAttributes(ctx, id)
	if err != nil {
		return nil, err
	}
	switch info.Type {
	case TypeDirectory:
		return nil, ErrIsDir
	case TypeSymlink:
		return nil, ErrInvalid
	}

	if len(data) > 0 {
		if err := fs.content.WriteAt(ctx, info.ContentID, offset, data); err != nil {
			return nil, fmt.Errorf("write content %s: %w", info.ContentID, err)
		}
	}
	end := offset + uint64(len(data))

	var out *FileInfo
	err = fs.update(ctx, func(tx MetadataTx, now time.Time) error {
		info, err := tx.Get(id)
		if err != nil {
			return err
		}
		if end > info.Size {
			info.Size = end
		}
		info.Mtime = now
		info.Ctime = now
		if err := tx.Put(info); err != nil {
			return err
		}
		out = info
		return nil
	})
	return out, err
}

func (fs *FileSystem) Create(ctx context.Context, dir uint64, name string, nf NewFile, exclusive bool) (*FileInfo, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	var out *FileInfo
	err := fs.update(ctx, func(tx MetadataTx, now time.Time) error {
		if _, err := getDir(tx, dir); err != nil {
			return err
		}

		existing, err := childInfo(tx, dir, name)
		switch {
		case err == nil:
			if exclusive {
				if nf.Verifier != 0 && existing.Verifier == nf.Verifier {
					out = existing
					return nil
				}
				return ErrExist
			}
			if existing.Type != TypeRegular {
				return ErrExist
			}
			out = existing
			return nil
		case !errors.Is(err, ErrNoEntry):
			return err
		}

		info, err := fs.insert(tx, dir, name, TypeRegular, nf, now)
		if err != nil {
			return err
		}
		info.ContentID = uuid.NewString()
		info.Verifier = nf.Verifier
		if err := tx.Put(info); err != nil {
			return err
		}
		out = info
		return nil
	})
	return out, err
}

func (fs *FileSystem) Mkdir(ctx context.Context, dir uint64, name string, nf NewFile) (*FileInfo, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	var out *FileInfo
	err := fs.update(ctx, func(tx MetadataTx, now time.Time) error {
		if _, err := getDir(tx, dir); err != nil {
			return err
		}
		if _, err := tx.Child(dir, name); err == nil {
			return ErrExist
		} else if !errors.Is(err, ErrNoEntry) {
			return err
		}

		info, err := fs.insert(tx, dir, name, TypeDirectory, nf, now)
		if err != nil {
			return err
		}
		out = info
		return nil
	})
	return out, err
}

func (fs *FileSystem) CreateSymlink(ctx context.Context, dir uint64, name, target string, nf NewFile) (*FileInfo, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if target == "" {
		return nil, ErrInvalid
	}

	var out *FileInfo
	err := fs.update(ctx, func(tx MetadataTx, now time.Time) error {
		if _, err := getDir(tx, dir); err != nil {
			return err
		}
		if _, err := tx.Child(dir, name); err == nil {
			return ErrExist
		} else if !errors.Is(err, ErrNoEntry) {
			return err
		}

		info, err := fs.insert(tx, dir, name, TypeSymlink, nf, now)
		if err != nil {
			return err
		}
		info.Target = target
		info.Size = uint64(len(target))
		if err := tx.Put(info); err != nil {
			return err
		}
		out = info
		return nil
	})
	return out, err
}

// insert allocates a new file and links it into dir.
func (fs *FileSystem) insert(tx MetadataTx, dir uint64, name string, typ FileType, nf NewFile, now time.Time) (*FileInfo, error) {
	if fs.cfg.MaxObjects > 0 {
		count, err := tx.Count()
		if err != nil {
			return nil, err
		}
		if count >= fs.cfg.MaxObjects {
			return nil, ErrNoSpace
		}
	}

	id, err := fs.meta.NextID()
	if err != nil {
		return nil, fmt.Errorf("allocate file id: %w", err)
	}

	info := &FileInfo{
		ID:     id,
		Parent: dir,
		Name:   name,
		Type:   typ,
		Mode:   nf.Mode & 0o7777,
		Owner:  nf.Owner,
		Group:  nf.Group,
		Nlink:  1,
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
	}
	nlinkDelta := 0
	if typ == TypeDirectory {
		info.Nlink = 2
		nlinkDelta = 1
	}

	if err := tx.Insert(info); err != nil {
		return nil, err
	}
	if err := tx.Link(dir, name, id); err != nil {
		return nil, err
	}
	if err := touchDir(tx, dir, now, nlinkDelta); err != nil {
		return nil, err
	}
	return info, nil
}

func (fs *FileSystem) Remove(ctx context.Context, dir uint64, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	var orphan string
	err := fs.update(ctx, func(tx MetadataTx, now time.Time) error {
		if _, err := getDir(tx, dir); err != nil {
			return err
		}
		info, err := childInfo(tx, dir, name)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return ErrIsDir
		}

		orphan, err = unlink(tx, dir, name, info, now)
		if err != nil {
			return err
		}
		return touchDir(tx, dir, now, 0)
	})
	if err == nil {
		fs.dropContent(ctx, orphan)
	}
	return err
}

func (fs *FileSystem) Rmdir(ctx context.Context, dir uint64, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	return fs.update(ctx, func(tx MetadataTx, now time.Time) error {
		if _, err := getDir(tx, dir); err != nil {
			return err
		}
		info, err := childInfo(tx, dir, name)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return ErrNotDir
		}
		if err := checkEmpty(tx, info.ID); err != nil {
			return err
		}

		if _, err := unlink(tx, dir, name, info, now); err != nil {
			return err
		}
		return touchDir(tx, dir, now, -1)
	})
}

func (fs *FileSystem) Rename(ctx context.Context, fromDir uint64, fromName string, toDir uint64, toName string) error {
	if err := validateName(fromName); err != nil {
		return err
	}
	if err := validateName(toName); err != nil {
		return err
	}

	var orphan string
	err := fs.update(ctx, func(tx MetadataTx, now time.Time) error {
		if _, err := getDir(tx, fromDir); err != nil {
			return err
		}
		if _, err := getDir(tx, toDir); err != nil {
			return err
		}

		src, err := childInfo(tx, fromDir, fromName)
		if err != nil {
			return err
		}

		if src.IsDir() && fromDir != toDir {
			if err := checkNotAncestor(tx, src.ID, toDir); err != nil {
				return err
			}
		}

		// ===== Replace the destination, if any =====
		dst, err := childInfo(tx, toDir, toName)
		switch {
		case err == nil:
			if dst.ID == src.ID {
				return nil
			}
			if dst.IsDir() && !src.IsDir() {
				return ErrIsDir
			}
			if !dst.IsDir() && src.IsDir() {
				return ErrNotDir
			}
			nlinkDelta := 0
			if dst.IsDir() {
				if err := checkEmpty(tx, dst.ID); err != nil {
					return err
				}
				nlinkDelta = -1
			}
			if orphan, err = unlink(tx, toDir, toName, dst, now); err != nil {
				return err
			}
			if err := touchDir(tx, toDir, now, nlinkDelta); err != nil {
				return err
			}
		case !errors.Is(err, ErrNoEntry):
			return err
		}

		// ===== Move the source =====
		if err := tx.Unlink(fromDir, fromName, src.ID); err != nil {
			return err
		}
		if err := tx.Link(toDir, toName, src.ID); err != nil {
			return err
		}
		src.Parent = toDir
		src.Name = toName
		src.Ctime = now
		if err := tx.Put(src); err != nil {
			return err
		}

		if fromDir == toDir {
			return touchDir(tx, fromDir, now, 0)
		}
		nlinkDelta := 0
		if src.IsDir() {
			nlinkDelta = 1
		}
		if err := touchDir(tx, fromDir, now, -nlinkDelta); err != nil {
			return err
		}
		return touchDir(tx, toDir, now, nlinkDelta)
	})
	if err == nil {
		fs.dropContent(ctx, orphan)
	}
	return err
}

func (fs *FileSystem) SetOwner(ctx context.Context, id uint64, owner, group string) error {
	return fs.modify(ctx, id, func(info *FileInfo) {
		if owner != "" {
			info.Owner = owner
		}
		if group != "" {
			info.Group = group
		}
	})
}

func (fs *FileSystem) SetPermission(ctx context.Context, id uint64, mode uint32) error {
	return fs.modify(ctx, id, func(info *FileInfo) {
		info.Mode = mode & 0o7777
	})
}

func (fs *FileSystem) SetTimes(ctx context.Context, id uint64, atime, mtime *time.Time) error {
	return fs.modify(ctx, id, func(info *FileInfo) {
		if atime != nil {
			info.Atime = *atime
		}
		if mtime != nil {
			info.Mtime = *mtime
		}
	})
}

// modify applies fn to the record of id and advances its ctime.
func (fs *FileSystem) modify(ctx context.Context, id uint64, fn func(info *FileInfo)) error {
	return fs.update(ctx, func(tx MetadataTx, now time.Time) error {
		info, err := tx.Get(id)
		if err != nil {
			return err
		}
		fn(info)
		info.Ctime = now
		return tx.Put(info)
	})
}

func (fs *FileSystem) Sync(ctx context.Context, id uint64) error {
	info, err := fs.GetAttributes(ctx, id)
	if err != nil {
		return err
	}
	if info.Type != TypeRegular {
		return nil
	}
	return fs.content.Sync(ctx, info.ContentID)
}

// dropContent deletes the bytes of a file that lost its last link. The
// metadata is already gone, so a failure only leaks storage.
func (fs *FileSystem) dropContent(ctx context.Context, contentID string) {
	if contentID == "" {
		return
	}
	if err := fs.content.Delete(ctx, contentID); err != nil {
		logger.Warn("Failed to delete orphaned content: id=%s error=%v", contentID, err)
	}
}

// ============================================================================
// Helpers
// ============================================================================

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, '/') || strings.ContainsRune(name, 0) {
		return ErrInvalid
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	return nil
}

func getDir(tx MetadataTx, id uint64) (*FileInfo, error) {
	info, err := tx.Get(id)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotDir
	}
	return info, nil
}

func childInfo(tx MetadataTx, dir uint64, name string) (*FileInfo, error) {
	id, err := tx.Child(dir, name)
	if err != nil {
		return nil, err
	}
	return tx.Get(id)
}

func checkEmpty(tx MetadataTx, dir uint64) error {
	ids, _, err := tx.Children(dir, 0, 1)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		return ErrNotEmpty
	}
	return nil
}

// checkNotAncestor rejects moving dir underneath itself.
func checkNotAncestor(tx MetadataTx, dir, target uint64) error {
	for id := target; ; {
		if id == dir {
			return ErrInvalid
		}
		if id == RootID {
			return nil
		}
		info, err := tx.Get(id)
		if err != nil {
			return err
		}
		id = info.Parent
	}
}

// touchDir records a change of dir's entries.
func touchDir(tx MetadataTx, dir uint64, now time.Time, nlinkDelta int) error {
	info, err := tx.Get(dir)
	if err != nil {
		return err
	}
	info.Mtime = now
	info.Ctime = now
	info.Nlink = uint32(int(info.Nlink) + nlinkDelta)
	return tx.Put(info)
}

// unlink removes one link to info. It returns the content id to delete once
// the transaction commits, if the file has no links left.
func unlink(tx MetadataTx, dir uint64, name string, info *FileInfo, now time.Time) (string, error) {
	if err := tx.Unlink(dir, name, info.ID); err != nil {
		return "", err
	}
	if info.Nlink > 1 && !info.IsDir() {
		info.Nlink--
		info.Ctime = now
		return "", tx.Put(info)
	}
	if err := tx.Delete(info.ID); err != nil {
		return "", err
	}
	return info.ContentID, nil
}
