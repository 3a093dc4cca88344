package xdr

import (
	"math"
	"testing"

	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func validFileAttr() *types.FileAttr {
	return &types.FileAttr{
		Type:   types.FileTypeRegular,
		Mode:   0o644,
		Nlink:  1,
		UID:    1000,
		GID:    1000,
		Size:   math.MaxUint64,
		Used:   4096,
		Rdev:   types.SpecData{Major: 8, Minor: 1},
		Fsid:   1,
		Fileid: 42,
		Atime:  types.NfsTime{Seconds: 1, Nseconds: 2},
		Mtime:  types.NfsTime{Seconds: 3, Nseconds: 4},
		Ctime:  types.NfsTime{Seconds: math.MaxUint32, Nseconds: 999999999},
	}
}

func u32(v uint32) *uint32 { return &v }

// ============================================================================
// Attribute Tests
// ============================================================================

func TestFileAttr(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		w := xdr.NewWriter(0)
		WriteFileAttr(w, validFileAttr())
		assert.Equal(t, EncodedFileAttrSize, w.Len())

		out, err := ReadFileAttr(xdr.NewReader(w.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, validFileAttr(), out)
	})

	t.Run("PostOpAbsent", func(t *testing.T) {
		w := xdr.NewWriter(0)
		WritePostOpAttr(w, nil)
		assert.Equal(t, []byte{0, 0, 0, 0}, w.Bytes())

		out, err := ReadPostOpAttr(xdr.NewReader(w.Bytes()))
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("Truncated", func(t *testing.T) {
		w := xdr.NewWriter(0)
		WriteFileAttr(w, validFileAttr())
		_, err := ReadFileAttr(xdr.NewReader(w.Bytes()[:40]))
		assert.ErrorIs(t, err, xdr.ErrMalformed)
	})
}

func TestWccData(t *testing.T) {
	tests := []struct {
		name string
		wcc  types.WccData
		size int
	}{
		{"BothAbsent", types.WccData{}, 8},
		{"BeforeOnly", types.WccData{Before: types.WccAttrOf(validFileAttr())}, 8 + 24},
		{"AfterOnly", types.WccData{After: validFileAttr()}, 8 + EncodedFileAttrSize},
		{"Both", types.WccData{Before: &types.WccAttr{Size: 100}, After: validFileAttr()}, 8 + 24 + EncodedFileAttrSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := xdr.NewWriter(0)
			WriteWccData(w, tt.wcc)
			assert.Equal(t, tt.size, w.Len())

			out, err := ReadWccData(xdr.NewReader(w.Bytes()))
			require.NoError(t, err)
			assert.Equal(t, tt.wcc, out)
		})
	}
}

// ============================================================================
// File Handle Tests
// ============================================================================

func TestFileHandle(t *testing.T) {
	t.Run("RoundTripsBytes", func(t *testing.T) {
		h := types.NewFileHandle(42)
		w := xdr.NewWriter(0)
		WriteFileHandle(w, h)
		assert.Equal(t, 4+types.FileHandleSize, w.Len())

		out, err := ReadFileHandle(xdr.NewReader(w.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, h, out)

		id, err := out.FileID()
		require.NoError(t, err)
		assert.Equal(t, uint64(42), id)
	})

	t.Run("MaxFileID", func(t *testing.T) {
		id, err := types.NewFileHandle(math.MaxUint64).FileID()
		require.NoError(t, err)
		assert.Equal(t, uint64(math.MaxUint64), id)
	})

	t.Run("ForeignHandleKeepsTrailingBytes", func(t *testing.T) {
		h := types.FileHandle{0, 0, 0, 0, 0, 0, 0, 7, 0xaa, 0xbb}
		w := xdr.NewWriter(0)
		WriteFileHandle(w, h)
		out, err := ReadFileHandle(xdr.NewReader(w.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, h, out)
	})

	t.Run("ShortHandleIsBad", func(t *testing.T) {
		_, err := types.FileHandle{1, 2, 3}.FileID()
		assert.ErrorIs(t, err, types.ErrBadHandle)
	})

	t.Run("OversizedHandleMalformed", func(t *testing.T) {
		w := xdr.NewWriter(0)
		w.WriteOpaque(make([]byte, 65))
		_, err := ReadFileHandle(xdr.NewReader(w.Bytes()))
		assert.ErrorIs(t, err, xdr.ErrMalformed)
	})

	t.Run("PostOpAbsent", func(t *testing.T) {
		w := xdr.NewWriter(0)
		WritePostOpFileHandle(w, nil)
		assert.Equal(t, []byte{0, 0, 0, 0}, w.Bytes())
	})
}

// ============================================================================
// SetAttrs Tests
// ============================================================================

func TestSetAttrs(t *testing.T) {
	t.Run("AllFieldsRoundTrip", func(t *testing.T) {
		size := uint64(4096)
		in := &types.SetAttrs{
			Mode:  u32(0o755),
			UID:   u32(1000),
			GID:   u32(100),
			Size:  &size,
			Atime: types.SetTime{How: types.SetToServerTime},
			Mtime: types.SetTime{How: types.SetToClientTime, Time: types.NfsTime{Seconds: 10, Nseconds: 20}},
		}
		w := xdr.NewWriter(0)
		WriteSetAttrs(w, in)

		out, err := ReadSetAttrs(xdr.NewReader(w.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, in, out)
		assert.False(t, out.IsEmpty())
	})

	t.Run("Empty", func(t *testing.T) {
		w := xdr.NewWriter(0)
		WriteSetAttrs(w, &types.SetAttrs{})
		assert.Equal(t, 24, w.Len())

		out, err := ReadSetAttrs(xdr.NewReader(w.Bytes()))
		require.NoError(t, err)
		assert.True(t, out.IsEmpty())
	})

	t.Run("InvalidTimeHow", func(t *testing.T) {
		w := xdr.NewWriter(0)
		for i := 0; i < 4; i++ {
			w.WriteBool(false)
		}
		w.WriteUint32(9)
		_, err := ReadSetAttrs(xdr.NewReader(w.Bytes()))
		assert.ErrorIs(t, err, xdr.ErrMalformed)
	})

	t.Run("Guard", func(t *testing.T) {
		w := xdr.NewWriter(0)
		w.WriteBool(true)
		WriteNfsTime(w, types.NfsTime{Seconds: 5, Nseconds: 6})
		w.WriteBool(false)

		r := xdr.NewReader(w.Bytes())
		g, err := ReadSattrGuard(r)
		require.NoError(t, err)
		assert.Equal(t, &types.NfsTime{Seconds: 5, Nseconds: 6}, g)

		g, err = ReadSattrGuard(r)
		require.NoError(t, err)
		assert.Nil(t, g)
	})
}

func TestDirOpArgs(t *testing.T) {
	in := DirOpArgs{Dir: types.NewFileHandle(2), Name: "file.txt"}
	w := xdr.NewWriter(0)
	WriteDirOpArgs(w, in)

	out, err := ReadDirOpArgs(xdr.NewReader(w.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
