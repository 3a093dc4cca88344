package handlers

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
	"github.com/marmos91/nfs3gw/pkg/store"
)

// nobody is reported for owners the identity service cannot map.
const nobody = 65534

// fsid is the single filesystem id of the export.
const fsid = 0x6e667333

// ============================================================================
// Handles and attributes
// ============================================================================

func fileHandle(id uint64) types.FileHandle {
	return types.NewFileHandle(id)
}

func fileType(t store.FileType) uint32 {
	switch t {
	case store.TypeDirectory:
		return types.FileTypeDirectory
	case store.TypeSymlink:
		return types.FileTypeSymlink
	default:
		return types.FileTypeRegular
	}
}

// toFileAttr converts store metadata to fattr3.
func (h *Handler) toFileAttr(info *store.FileInfo) *types.FileAttr {
	if info == nil {
		return nil
	}

	size := info.Size
	if info.Type == store.TypeSymlink && size == 0 {
		size = uint64(len(info.Target))
	}
	nlink := info.Nlink
	if nlink == 0 {
		nlink = 1
	}

	return &types.FileAttr{
		Type:   fileType(info.Type),
		Mode:   info.Mode & 0o7777,
		Nlink:  nlink,
		UID:    h.ids.UID(info.Owner, nobody),
		GID:    h.ids.GID(info.Group, nobody),
		Size:   size,
		Used:   size,
		Fsid:   fsid,
		Fileid: info.ID,
		Atime:  types.TimeFrom(info.Atime),
		Mtime:  types.TimeFrom(info.Mtime),
		Ctime:  types.TimeFrom(info.Ctime),
	}
}

// getAttr returns the attributes of id as clients see them, buffered
// writes included.
func (h *Handler) getAttr(ctx context.Context, id uint64) (*store.FileInfo, error) {
	return h.writes.GetFileAttr(ctx, id)
}

// postOpAttr fetches attributes for a post_op_attr. Failures only omit
// the attributes.
func (h *Handler) postOpAttr(ctx context.Context, id uint64) *types.FileAttr {
	info, err := h.getAttr(ctx, id)
	if err != nil {
		logger.Debug("post-op attributes unavailable: fileid=%d error=%v", id, err)
		return nil
	}
	return h.toFileAttr(info)
}

// wccOf builds wcc_data from full pre-operation attributes.
func wccOf(pre, post *types.FileAttr) types.WccData {
	return types.WccData{Before: types.WccAttrOf(pre), After: post}
}

// ============================================================================
// Error mapping
// ============================================================================

// nfsStatus maps a store or decode error to nfsstat3 and logs it. Expected
// client errors are logged at debug level, everything else as a warning.
func nfsStatus(err error, proc, client string) uint32 {
	var status uint32
	switch {
	case err == nil:
		return types.NFS3OK
	case errors.Is(err, store.ErrNotFound):
		status = types.NFS3ErrStale
	case errors.Is(err, store.ErrNoEntry):
		status = types.NFS3ErrNoEnt
	case errors.Is(err, store.ErrPermission):
		status = types.NFS3ErrAcces
	case errors.Is(err, store.ErrExist):
		status = types.NFS3ErrExist
	case errors.Is(err, store.ErrNotEmpty):
		status = types.NFS3ErrNotEmpty
	case errors.Is(err, store.ErrIsDir):
		status = types.NFS3ErrIsDir
	case errors.Is(err, store.ErrNotDir):
		status = types.NFS3ErrNotDir
	case errors.Is(err, store.ErrNameTooLong):
		status = types.NFS3ErrNameTooLong
	case errors.Is(err, store.ErrNoSpace):
		status = types.NFS3ErrNoSpc
	case errors.Is(err, store.ErrReadOnly):
		status = types.NFS3ErrRofs
	case errors.Is(err, types.ErrBadHandle):
		status = types.NFS3ErrBadHandle
	case errors.Is(err, store.ErrInvalid), errors.Is(err, xdr.ErrMalformed):
		status = types.NFS3ErrInval
	default:
		logger.Warn("%s failed: client=%s error=%v", proc, client, err)
		return types.NFS3ErrIO
	}
	logger.Debug("%s failed: client=%s status=%d error=%v", proc, client, status, err)
	return status
}

// ============================================================================
// Per-file locks
// ============================================================================

const lockStripes = 256

// fileLocks serialises mutations per file id so the pre- and
// post-operation attributes of a reply bracket exactly one change.
type fileLocks struct {
	stripes [lockStripes]sync.Mutex
}

func newFileLocks() *fileLocks {
	return &fileLocks{}
}

// lock acquires the stripes of ids in a fixed order and returns the
// release function.
func (l *fileLocks) lock(ids ...uint64) func() {
	idx := make([]int, 0, len(ids))
	for _, id := range ids {
		i := int(id % lockStripes)
		dup := false
		for _, j := range idx {
			if j == i {
				dup = true
				break
			}
		}
		if !dup {
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)

	for _, i := range idx {
		l.stripes[i].Lock()
	}
	return func() {
		for k := len(idx) - 1; k >= 0; k-- {
			l.stripes[idx[k]].Unlock()
		}
	}
}

// ============================================================================
// Permissions
// ============================================================================

// accessBits computes the ACCESS bits granted by the mode of attr to the
// caller.
func accessBits(attr *types.FileAttr, uid, gid uint32, gids []uint32) uint32 {
	var perm uint32
	switch {
	case attr.UID == uid:
		perm = (attr.Mode >> 6) & 7
	case attr.GID == gid || containsGID(gids, attr.GID):
		perm = (attr.Mode >> 3) & 7
	default:
		perm = attr.Mode & 7
	}

	isDir := attr.Type == types.FileTypeDirectory
	var bits uint32
	if perm&4 != 0 {
		bits |= types.AccessRead
		if isDir {
			bits |= types.AccessLookup
		}
	}
	if perm&2 != 0 {
		bits |= types.AccessModify | types.AccessExtend
		if isDir {
			bits |= types.AccessDelete
		}
	}
	if perm&1 != 0 {
		if isDir {
			bits |= types.AccessLookup
		} else {
			bits |= types.AccessExecute
		}
	}
	return bits
}

func containsGID(gids []uint32, gid uint32) bool {
	for _, g := range gids {
		if g == gid {
			return true
		}
	}
	return false
}
