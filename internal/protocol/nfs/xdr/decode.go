package xdr

import (
	"fmt"

	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// ============================================================================
// Decoding - wire format to Go structures
// ============================================================================

// ReadFileHandle decodes nfs_fh3. Handles longer than NFS3_FHSIZE are
// malformed. The returned handle is a copy.
func ReadFileHandle(r *xdr.Reader) (types.FileHandle, error) {
	b, err := r.ReadOpaque(types.MaxFileHandleSize)
	if err != nil {
		return nil, fmt.Errorf("read file handle: %w", err)
	}
	h := make(types.FileHandle, len(b))
	copy(h, b)
	return h, nil
}

// ReadFilename decodes filename3. Length is bounded by the path limit, not
// the component limit, so handlers can answer NAMETOOLONG rather than INVAL.
func ReadFilename(r *xdr.Reader) (string, error) {
	name, err := r.ReadString(xdr.MaxPathLen)
	if err != nil {
		return "", fmt.Errorf("read filename: %w", err)
	}
	return name, nil
}

// ReadPath decodes nfspath3.
func ReadPath(r *xdr.Reader) (string, error) {
	path, err := r.ReadString(xdr.MaxPathLen)
	if err != nil {
		return "", fmt.Errorf("read path: %w", err)
	}
	return path, nil
}

// DirOpArgs is diropargs3: a directory handle and a name within it.
type DirOpArgs struct {
	Dir  types.FileHandle
	Name string
}

// ReadDirOpArgs decodes diropargs3.
func ReadDirOpArgs(r *xdr.Reader) (DirOpArgs, error) {
	dir, err := ReadFileHandle(r)
	if err != nil {
		return DirOpArgs{}, err
	}
	name, err := ReadFilename(r)
	if err != nil {
		return DirOpArgs{}, err
	}
	return DirOpArgs{Dir: dir, Name: name}, nil
}

// WriteDirOpArgs encodes diropargs3.
func WriteDirOpArgs(w *xdr.Writer, a DirOpArgs) {
	WriteFileHandle(w, a.Dir)
	w.WriteString(a.Name)
}

// ReadNfsTime decodes nfstime3.
func ReadNfsTime(r *xdr.Reader) (types.NfsTime, error) {
	var t types.NfsTime
	var err error
	if t.Seconds, err = r.ReadUint32(); err != nil {
		return t, err
	}
	if t.Nseconds, err = r.ReadUint32(); err != nil {
		return t, err
	}
	return t, nil
}

// ReadFileAttr decodes fattr3.
func ReadFileAttr(r *xdr.Reader) (*types.FileAttr, error) {
	attr := &types.FileAttr{}
	if err := r.Decode(attr); err != nil {
		return nil, fmt.Errorf("read fattr3: %w", err)
	}
	return attr, nil
}

// ReadPostOpAttr decodes post_op_attr.
func ReadPostOpAttr(r *xdr.Reader) (*types.FileAttr, error) {
	present, err := r.ReadBool()
	if err != nil || !present {
		return nil, err
	}
	return ReadFileAttr(r)
}

// ReadWccData decodes wcc_data.
func ReadWccData(r *xdr.Reader) (types.WccData, error) {
	var wcc types.WccData

	present, err := r.ReadBool()
	if err != nil {
		return wcc, err
	}
	if present {
		wcc.Before = &types.WccAttr{}
		if err := r.Decode(wcc.Before); err != nil {
			return wcc, fmt.Errorf("read wcc_attr: %w", err)
		}
	}

	wcc.After, err = ReadPostOpAttr(r)
	return wcc, err
}

// ReadSetAttrs decodes sattr3.
//
//	struct sattr3 {
//	    set_mode3  mode;
//	    set_uid3   uid;
//	    set_gid3   gid;
//	    set_size3  size;
//	    set_atime  atime;
//	    set_mtime  mtime;
//	};
func ReadSetAttrs(r *xdr.Reader) (*types.SetAttrs, error) {
	s := &types.SetAttrs{}
	var err error

	if s.Mode, err = readOptionalUint32(r); err != nil {
		return nil, fmt.Errorf("read mode: %w", err)
	}
	if s.UID, err = readOptionalUint32(r); err != nil {
		return nil, fmt.Errorf("read uid: %w", err)
	}
	if s.GID, err = readOptionalUint32(r); err != nil {
		return nil, fmt.Errorf("read gid: %w", err)
	}

	setSize, err := r.ReadBool()
	if err != nil {
		return nil, fmt.Errorf("read size flag: %w", err)
	}
	if setSize {
		size, err := r.ReadUint64()
		if err != nil {
			return nil, fmt.Errorf("read size: %w", err)
		}
		s.Size = &size
	}

	if s.Atime, err = readSetTime(r); err != nil {
		return nil, fmt.Errorf("read atime: %w", err)
	}
	if s.Mtime, err = readSetTime(r); err != nil {
		return nil, fmt.Errorf("read mtime: %w", err)
	}
	return s, nil
}

func readOptionalUint32(r *xdr.Reader) (*uint32, error) {
	present, err := r.ReadBool()
	if err != nil || !present {
		return nil, err
	}
	v, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func readSetTime(r *xdr.Reader) (types.SetTime, error) {
	how, err := r.ReadUint32()
	if err != nil {
		return types.SetTime{}, err
	}
	switch how {
	case types.DontChange, types.SetToServerTime:
		return types.SetTime{How: how}, nil
	case types.SetToClientTime:
		t, err := ReadNfsTime(r)
		if err != nil {
			return types.SetTime{}, err
		}
		return types.SetTime{How: how, Time: t}, nil
	}
	return types.SetTime{}, fmt.Errorf("%w: invalid time_how %d", xdr.ErrMalformed, how)
}

// ReadSattrGuard decodes sattrguard3: an optional ctime.
func ReadSattrGuard(r *xdr.Reader) (*types.NfsTime, error) {
	check, err := r.ReadBool()
	if err != nil || !check {
		return nil, err
	}
	t, err := ReadNfsTime(r)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
