package types

import (
	"encoding/binary"
	"errors"
	"time"
)

// ErrBadHandle reports a file handle that does not decode to a file id.
var ErrBadHandle = errors.New("nfs: bad file handle")

// NfsTime is nfstime3: seconds and nanoseconds since the Unix epoch.
type NfsTime struct {
	Seconds  uint32
	Nseconds uint32
}

// TimeFrom converts a Go time to nfstime3.
func TimeFrom(t time.Time) NfsTime {
	if t.IsZero() {
		return NfsTime{}
	}
	return NfsTime{Seconds: uint32(t.Unix()), Nseconds: uint32(t.Nanosecond())}
}

// Time converts back to a Go time.
func (t NfsTime) Time() time.Time {
	return time.Unix(int64(t.Seconds), int64(t.Nseconds))
}

// Before reports whether t is strictly earlier than u.
func (t NfsTime) Before(u NfsTime) bool {
	if t.Seconds != u.Seconds {
		return t.Seconds < u.Seconds
	}
	return t.Nseconds < u.Nseconds
}

// SpecData is specdata3, the device numbers of block and character files.
type SpecData struct {
	Major uint32
	Minor uint32
}

// FileAttr is fattr3 (RFC 1813 Section 2.5). The field order is the wire
// order, so the struct is marshalled directly.
type FileAttr struct {
	Type   uint32
	Mode   uint32
	Nlink  uint32
	UID    uint32
	GID    uint32
	Size   uint64
	Used   uint64
	Rdev   SpecData
	Fsid   uint64
	Fileid uint64
	Atime  NfsTime
	Mtime  NfsTime
	Ctime  NfsTime
}

// WccAttr is wcc_attr: the subset of attributes captured before a mutation.
type WccAttr struct {
	Size  uint64
	Mtime NfsTime
	Ctime NfsTime
}

// WccAttrOf extracts the pre-operation snapshot of attr. Nil stays nil.
func WccAttrOf(attr *FileAttr) *WccAttr {
	if attr == nil {
		return nil
	}
	return &WccAttr{Size: attr.Size, Mtime: attr.Mtime, Ctime: attr.Ctime}
}

// WccData pairs pre- and post-operation attributes. Either side may be
// absent. Before must be captured strictly before the mutation and After
// strictly after it.
type WccData struct {
	Before *WccAttr
	After  *FileAttr
}

// SetTime is the set_atime / set_mtime discriminated union.
type SetTime struct {
	How  uint32
	Time NfsTime
}

// SetAttrs is sattr3: the attributes a client asks to change. Nil pointers
// mean "do not change".
type SetAttrs struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *uint64
	Atime SetTime
	Mtime SetTime
}

// IsEmpty reports whether no attribute is to be changed.
func (s *SetAttrs) IsEmpty() bool {
	return s.Mode == nil && s.UID == nil && s.GID == nil && s.Size == nil &&
		s.Atime.How == DontChange && s.Mtime.How == DontChange
}

// FileHandleSize is the size of handles issued by this server.
const FileHandleSize = 32

// FileHandle is the opaque nfs_fh3. Handles issued here hold the 64-bit
// file id big-endian in the first 8 bytes followed by zeros. The bytes are
// kept exactly as received so a handle round-trips unchanged.
type FileHandle []byte

// NewFileHandle builds the handle of a file id.
func NewFileHandle(fileID uint64) FileHandle {
	h := make(FileHandle, FileHandleSize)
	binary.BigEndian.PutUint64(h, fileID)
	return h
}

// FileID returns the file id wrapped by h.
func (h FileHandle) FileID() (uint64, error) {
	if len(h) < 8 || len(h) > MaxFileHandleSize {
		return 0, ErrBadHandle
	}
	return binary.BigEndian.Uint64(h[:8]), nil
}
