// Package store defines the backing file store exported over NFS.
//
// A Store is addressed by stable 64-bit file ids. The id-to-file mapping is
// owned by a MetadataStore, file bytes live in a ContentStore, and
// FileSystem composes the two into the Store the protocol handlers use.
//
// Every mutation advances the ctime of the files it touches, and changing a
// directory's entries advances the directory's mtime. Protocol layers rely
// on both for weak cache consistency and readdir cookie verifiers.
package store

import (
	"context"
	"time"
)

// RootID is the file id of the export root.
const RootID uint64 = 1

// MaxNameLen is the longest entry name a store accepts.
const MaxNameLen = 255

// FileType distinguishes the kinds of file a store holds.
type FileType uint8

const (
	TypeRegular FileType = iota + 1
	TypeDirectory
	TypeSymlink
)

func (t FileType) String() string {
	switch t {
	case TypeRegular:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// FileInfo is the metadata of one file.
type FileInfo struct {
	ID     uint64   `json:"id"`
	Parent uint64   `json:"parent"`
	Name   string   `json:"name"`
	Type   FileType `json:"type"`

	// Mode holds the permission bits only.
	Mode  uint32 `json:"mode"`
	Owner string `json:"owner"`
	Group string `json:"group"`
	Nlink uint32 `json:"nlink"`
	Size  uint64 `json:"size"`

	Atime time.Time `json:"atime"`
	Mtime time.Time `json:"mtime"`
	Ctime time.Time `json:"ctime"`

	// Target is the link text of a symlink.
	Target string `json:"target,omitempty"`

	// ContentID names the file's bytes in the ContentStore.
	ContentID string `json:"content_id,omitempty"`

	// Verifier is the exclusive-create verifier the file was made with.
	Verifier uint64 `json:"verifier,omitempty"`
}

// IsDir reports whether the file is a directory.
func (f *FileInfo) IsDir() bool { return f.Type == TypeDirectory }

// Clone returns a copy that can be modified independently.
func (f *FileInfo) Clone() *FileInfo {
	c := *f
	return &c
}

// NewFile describes a file about to be created.
type NewFile struct {
	Mode  uint32
	Owner string
	Group string

	// Verifier, when non-zero, makes the create exclusive: an existing
	// file carrying the same verifier is a retransmission and succeeds.
	Verifier uint64
}

// DiskStatus reports the capacity of the store in bytes.
type DiskStatus struct {
	Capacity  uint64
	Remaining uint64

	// Files is the number of files currently stored.
	Files uint64
}

// Store is the backing file store. All methods are safe for concurrent use.
type Store interface {
	// Root returns the id of the export root directory.
	Root() uint64

	GetAttributes(ctx context.Context, id uint64) (*FileInfo, error)

	// Lookup resolves name inside directory dir.
	Lookup(ctx context.Context, dir uint64, name string) (*FileInfo, error)

	// ListDirectory returns up to limit entries of dir whose id is greater
	// than startAfter, ordered by id. hasMore reports whether entries remain
	// after the last one returned.
	ListDirectory(ctx context.Context, dir, startAfter uint64, limit int) (entries []*FileInfo, hasMore bool, err error)

	// Read returns up to count bytes at offset. A short result means the
	// end of the file was reached.
	Read(ctx context.Context, id, offset uint64, count uint32) ([]byte, error)

	// Write stores data at offset, extending the file as needed.
	Write(ctx context.Context, id, offset uint64, data []byte) (*FileInfo, error)

	// Create makes a regular file. Unless exclusive is set an existing
	// regular file of the same name is returned as is.
	Create(ctx context.Context, dir uint64, name string, nf NewFile, exclusive bool) (*FileInfo, error)

	Mkdir(ctx context.Context, dir uint64, name string, nf NewFile) (*FileInfo, error)
	CreateSymlink(ctx context.Context, dir uint64, name, target string, nf NewFile) (*FileInfo, error)

	// Remove unlinks a non-directory entry.
	Remove(ctx context.Context, dir uint64, name string) error

	// Rmdir removes an empty directory.
	Rmdir(ctx context.Context, dir uint64, name string) error

	// Rename moves an entry, replacing a non-directory destination or an
	// empty directory destination of the same kind.
	Rename(ctx context.Context, fromDir uint64, fromName string, toDir uint64, toName string) error

	ReadSymlink(ctx context.Context, id uint64) (string, error)

	// SetOwner changes owner and group. Empty names are left unchanged.
	SetOwner(ctx context.Context, id uint64, owner, group string) error
	SetPermission(ctx context.Context, id uint64, mode uint32) error

	// SetTimes changes access and modification times. Nil values are left
	// unchanged.
	SetTimes(ctx context.Context, id uint64, atime, mtime *time.Time) error

	// Sync makes previously written data of id durable.
	Sync(ctx context.Context, id uint64) error

	DiskStatus(ctx context.Context) (DiskStatus, error)
}
