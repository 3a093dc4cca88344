// Package xdr encodes and decodes the structures shared by NFSv3
// procedures (RFC 1813 Section 2): file handles, fattr3, wcc_data, sattr3
// and the optional wrappers around them.
package xdr

import (
	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
)

// ============================================================================
// Encoding - Go structures to wire format
// ============================================================================

// EncodedFileAttrSize is the wire size of fattr3.
const EncodedFileAttrSize = 84

// WriteFileAttr encodes fattr3.
func WriteFileAttr(w *xdr.Writer, attr *types.FileAttr) {
	_ = w.Encode(attr)
}

// WritePostOpAttr encodes post_op_attr: a presence flag then fattr3.
func WritePostOpAttr(w *xdr.Writer, attr *types.FileAttr) {
	if attr == nil {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	WriteFileAttr(w, attr)
}

// WritePreOpAttr encodes pre_op_attr: a presence flag then wcc_attr.
func WritePreOpAttr(w *xdr.Writer, attr *types.WccAttr) {
	if attr == nil {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	_ = w.Encode(attr)
}

// WriteWccData encodes wcc_data.
//
//	struct wcc_data {
//	    pre_op_attr  before;
//	    post_op_attr after;
//	};
func WriteWccData(w *xdr.Writer, wcc types.WccData) {
	WritePreOpAttr(w, wcc.Before)
	WritePostOpAttr(w, wcc.After)
}

// WriteFileHandle encodes nfs_fh3.
func WriteFileHandle(w *xdr.Writer, h types.FileHandle) {
	w.WriteOpaque(h)
}

// WritePostOpFileHandle encodes post_op_fh3: a presence flag then nfs_fh3.
func WritePostOpFileHandle(w *xdr.Writer, h types.FileHandle) {
	if h == nil {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	WriteFileHandle(w, h)
}

// WriteNfsTime encodes nfstime3.
func WriteNfsTime(w *xdr.Writer, t types.NfsTime) {
	w.WriteUint32(t.Seconds)
	w.WriteUint32(t.Nseconds)
}

// WriteSetAttrs encodes sattr3. Used by clients and tests.
func WriteSetAttrs(w *xdr.Writer, s *types.SetAttrs) {
	writeOptionalUint32(w, s.Mode)
	writeOptionalUint32(w, s.UID)
	writeOptionalUint32(w, s.GID)
	if s.Size != nil {
		w.WriteBool(true)
		w.WriteUint64(*s.Size)
	} else {
		w.WriteBool(false)
	}
	writeSetTime(w, s.Atime)
	writeSetTime(w, s.Mtime)
}

func writeOptionalUint32(w *xdr.Writer, v *uint32) {
	if v == nil {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	w.WriteUint32(*v)
}

func writeSetTime(w *xdr.Writer, st types.SetTime) {
	w.WriteUint32(st.How)
	if st.How == types.SetToClientTime {
		WriteNfsTime(w, st.Time)
	}
}
