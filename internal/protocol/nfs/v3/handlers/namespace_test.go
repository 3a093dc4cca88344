package handlers

import (
	"testing"

	"github.com/marmos91/nfs3gw/internal/protocol/nfs/types"
	nfsxdr "github.com/marmos91/nfs3gw/internal/protocol/nfs/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// CREATE / MKDIR / SYMLINK
// ============================================================================

func TestCreate(t *testing.T) {
	f := newFixture(t, Config{})

	t.Run("OwnerDefaultsToCaller", func(t *testing.T) {
		resp, err := f.h.Create(rw(), &CreateRequest{
			Where: nfsxdr.DirOpArgs{Dir: f.root, Name: "mine"},
			Mode:  types.CreateUnchecked,
			Attrs: &types.SetAttrs{},
		})
		require.NoError(t, err)
		require.EqualValues(t, types.NFS3OK, resp.Status)
		require.NotNil(t, resp.Attr)
		assert.EqualValues(t, types.FileTypeRegular, resp.Attr.Type)
		assert.EqualValues(t, 1000, resp.Attr.UID)
		assert.EqualValues(t, 100, resp.Attr.GID)
		assert.EqualValues(t, defaultFileMode, resp.Attr.Mode)
		require.NotNil(t, resp.DirWcc.Before)
		require.NotNil(t, resp.DirWcc.After)
	})

	t.Run("ExplicitMode", func(t *testing.T) {
		mode := uint32(0o600)
		resp, err := f.h.Create(rw(), &CreateRequest{
			Where: nfsxdr.DirOpArgs{Dir: f.root, Name: "private"},
			Mode:  types.CreateGuarded,
			Attrs: &types.SetAttrs{Mode: &mode},
		})
		require.NoError(t, err)
		require.EqualValues(t, types.NFS3OK, resp.Status)
		assert.EqualValues(t, 0o600, resp.Attr.Mode)
	})

	t.Run("GuardedExisting", func(t *testing.T) {
		pre := f.getattr(f.root)
		resp, err := f.h.Create(rw(), &CreateRequest{
			Where: nfsxdr.DirOpArgs{Dir: f.root, Name: "mine"},
			Mode:  types.CreateGuarded,
			Attrs: &types.SetAttrs{},
		})
		require.NoError(t, err)
		assert.EqualValues(t, types.NFS3ErrExist, resp.Status)
		assertWcc(t, resp.DirWcc, pre)
	})

	t.Run("UncheckedExisting", func(t *testing.T) {
		first := f.getattr(f.create("again"))
		resp, err := f.h.Create(rw(), &CreateRequest{
			Where: nfsxdr.DirOpArgs{Dir: f.root, Name: "again"},
			Mode:  types.CreateUnchecked,
			Attrs: &types.SetAttrs{},
		})
		require.NoError(t, err)
		require.EqualValues(t, types.NFS3OK, resp.Status)
		assert.Equal(t, first.Fileid, resp.Attr.Fileid)
	})

	t.Run("SizeIsInvalid", func(t *testing.T) {
		size := uint64(1)
		resp, err := f.h.Create(rw(), &CreateRequest{
			Where: nfsxdr.DirOpArgs{Dir: f.root, Name: "sized"},
			Mode:  types.CreateUnchecked,
			Attrs: &types.SetAttrs{Size: &size},
		})
		require.NoError(t, err)
		assert.EqualValues(t, types.NFS3ErrInval, resp.Status)
	})

	t.Run("ZeroSizeAllowed", func(t *testing.T) {
		size := uint64(0)
		resp, err := f.h.Create(rw(), &CreateRequest{
			Where: nfsxdr.DirOpArgs{Dir: f.root, Name: "empty"},
			Mode:  types.CreateUnchecked,
			Attrs: &types.SetAttrs{Size: &size},
		})
		require.NoError(t, err)
		assert.EqualValues(t, types.NFS3OK, resp.Status)
	})

	t.Run("ExclusiveRetransmission", func(t *testing.T) {
		req := &CreateRequest{
			Where:    nfsxdr.DirOpArgs{Dir: f.root, Name: "excl"},
			Mode:     types.CreateExclusive,
			Attrs:    &types.SetAttrs{},
			Verifier: 0x1122334455667788,
		}
		first, err := f.h.Create(rw(), req)
		require.NoError(t, err)
		require.EqualValues(t, types.NFS3OK, first.Status)

		again, err := f.h.Create(rw(), req)
		require.NoError(t, err)
		require.EqualValues(t, types.NFS3OK, again.Status)
		assert.Equal(t, first.Handle, again.Handle)

		other := *req
		other.Verifier = 1
		clash, err := f.h.Create(rw(), &other)
		require.NoError(t, err)
		assert.EqualValues(t, types.NFS3ErrExist, clash.Status)
	})

	t.Run("ReadOnlyExport", func(t *testing.T) {
		pre := f.getattr(f.root)
		resp, err := f.h.Create(ro(), &CreateRequest{
			Where: nfsxdr.DirOpArgs{Dir: f.root, Name: "nope"},
			Mode:  types.CreateUnchecked,
			Attrs: &types.SetAttrs{},
		})
		require.NoError(t, err)
		assert.EqualValues(t, types.NFS3ErrAcces, resp.Status)
		assertWcc(t, resp.DirWcc, pre)
	})
}

func TestMkdir(t *testing.T) {
	f := newFixture(t, Config{})

	t.Run("Success", func(t *testing.T) {
		pre := f.getattr(f.root)
		resp, err := f.h.Mkdir(rw(), &MkdirRequest{
			Where: nfsxdr.DirOpArgs{Dir: f.root, Name: "sub"},
			Attrs: &types.SetAttrs{},
		})
		require.NoError(t, err)
		require.EqualValues(t, types.NFS3OK, resp.Status)
		assert.EqualValues(t, types.FileTypeDirectory, resp.Attr.Type)
		assert.EqualValues(t, defaultDirMode, resp.Attr.Mode)
		assertWcc(t, resp.DirWcc, pre)
		assert.True(t, pre.Mtime.Before(resp.DirWcc.After.Mtime), "parent mtime advances")
	})

	t.Run("Exists", func(t *testing.T) {
		resp, err := f.h.Mkdir(rw(), &MkdirRequest{
			Where: nfsxdr.DirOpArgs{Dir: f.root, Name: "sub"},
			Attrs: &types.SetAttrs{},
		})
		require.NoError(t, err)
		assert.EqualValues(t, types.NFS3ErrExist, resp.Status)
		require.NotNil(t, resp.DirWcc.Before)
	})

	t.Run("SizeIsInvalid", func(t *testing.T) {
		size := uint64(0)
		resp, err := f.h.Mkdir(rw(), &MkdirRequest{
			Where: nfsxdr.DirOpArgs{Dir: f.root, Name: "sized"},
			Attrs: &types.SetAttrs{Size: &size},
		})
		require.NoError(t, err)
		assert.EqualValues(t, types.NFS3ErrInval, resp.Status)
	})
}

func TestSymlinkReadLink(t *testing.T) {
	f := newFixture(t, Config{})
	file := f.create("plain")

	resp, err := f.h.Symlink(rw(), &SymlinkRequest{
		Where:  nfsxdr.DirOpArgs{Dir: f.root, Name: "link"},
		Attrs:  &types.SetAttrs{},
		Target: "plain",
	})
	require.NoError(t, err)
	require.EqualValues(t, types.NFS3OK, resp.Status)
	assert.EqualValues(t, types.FileTypeSymlink, resp.Attr.Type)
	assert.EqualValues(t, len("plain"), resp.Attr.Size)

	link, err := f.h.ReadLink(ro(), &ReadLinkRequest{Handle: resp.Handle})
	require.NoError(t, err)
	require.EqualValues(t, types.NFS3OK, link.Status)
	assert.Equal(t, "plain", link.Target)

	t.Run("NotASymlink", func(t *testing.T) {
		resp, err := f.h.ReadLink(ro(), &ReadLinkRequest{Handle: file})
		require.NoError(t, err)
		assert.EqualValues(t, types.NFS3ErrInval, resp.Status)
		assert.NotNil(t, resp.Attr)
	})

	t.Run("EmptyTarget", func(t *testing.T) {
		resp, err := f.h.Symlink(rw(), &SymlinkRequest{
			Where: nfsxdr.DirOpArgs{Dir: f.root, Name: "dangling"},
			Attrs: &types.SetAttrs{},
		})
		require.NoError(t, err)
		assert.EqualValues(t, types.NFS3ErrInval, resp.Status)
	})
}

// ============================================================================
// REMOVE / RMDIR / RENAME
// ============================================================================

func TestRemove(t *testing.T) {
	f := newFixture(t, Config{})
	f.create("gone")
	sub := f.mkdir(f.root, "dir")

	t.Run("File", func(t *testing.T) {
		pre := f.getattr(f.root)
		resp, err := f.h.Remove(rw(), &RemoveRequest{What: nfsxdr.DirOpArgs{Dir: f.root, Name: "gone"}})
		require.NoError(t, err)
		require.EqualValues(t, types.NFS3OK, resp.Status)
		assertWcc(t, resp.DirWcc, pre)

		lookup, err := f.h.Lookup(ro(), &LookupRequest{What: nfsxdr.DirOpArgs{Dir: f.root, Name: "gone"}})
		require.NoError(t, err)
		assert.EqualValues(t, types.NFS3ErrNoEnt, lookup.Status)
	})

	t.Run("Missing", func(t *testing.T) {
		pre := f.getattr(f.root)
		resp, err := f.h.Remove(rw(), &RemoveRequest{What: nfsxdr.DirOpArgs{Dir: f.root, Name: "gone"}})
		require.NoError(t, err)
		assert.EqualValues(t, types.NFS3ErrNoEnt, resp.Status)
		assertWcc(t, resp.DirWcc, pre)
	})

	t.Run("DirectoryWithRemove", func(t *testing.T) {
		resp, err := f.h.Remove(rw(), &RemoveRequest{What: nfsxdr.DirOpArgs{Dir: f.root, Name: "dir"}})
		require.NoError(t, err)
		assert.EqualValues(t, types.NFS3ErrIsDir, resp.Status)
	})

	t.Run("RmdirNotEmpty", func(t *testing.T) {
		f.mkdir(sub, "child")
		resp, err := f.h.Rmdir(rw(), &RemoveRequest{What: nfsxdr.DirOpArgs{Dir: f.root, Name: "dir"}})
		require.NoError(t, err)
		assert.EqualValues(t, types.NFS3ErrNotEmpty, resp.Status)
		require.NotNil(t, resp.DirWcc.Before)
	})

	t.Run("RmdirOnFile", func(t *testing.T) {
		f.create("flat")
		resp, err := f.h.Rmdir(rw(), &RemoveRequest{What: nfsxdr.DirOpArgs{Dir: f.root, Name: "flat"}})
		require.NoError(t, err)
		assert.EqualValues(t, types.NFS3ErrNotDir, resp.Status)
	})

	t.Run("Rmdir", func(t *testing.T) {
		resp, err := f.h.Rmdir(rw(), &RemoveRequest{What: nfsxdr.DirOpArgs{Dir: sub, Name: "child"}})
		require.NoError(t, err)
		assert.EqualValues(t, types.NFS3OK, resp.Status)
	})

	t.Run("ReadOnlyExport", func(t *testing.T) {
		pre := f.getattr(f.root)
		resp, err := f.h.Remove(ro(), &RemoveRequest{What: nfsxdr.DirOpArgs{Dir: f.root, Name: "flat"}})
		require.NoError(t, err)
		assert.EqualValues(t, types.NFS3ErrAcces, resp.Status)
		assertWcc(t, resp.DirWcc, pre)
	})
}

func TestRename(t *testing.T) {
	f := newFixture(t, Config{})
	file := f.create("a")
	other := f.mkdir(f.root, "other")

	t.Run("AcrossDirectories", func(t *testing.T) {
		fromPre := f.getattr(f.root)
		toPre := f.getattr(other)
		resp, err := f.h.Rename(rw(), &RenameRequest{
			From: nfsxdr.DirOpArgs{Dir: f.root, Name: "a"},
			To:   nfsxdr.DirOpArgs{Dir: other, Name: "b"},
		})
		require.NoError(t, err)
		require.EqualValues(t, types.NFS3OK, resp.Status)
		assertWcc(t, resp.FromWcc, fromPre)
		assertWcc(t, resp.ToWcc, toPre)

		lookup, err := f.h.Lookup(ro(), &LookupRequest{What: nfsxdr.DirOpArgs{Dir: other, Name: "b"}})
		require.NoError(t, err)
		require.EqualValues(t, types.NFS3OK, lookup.Status)
		assert.Equal(t, file, lookup.Handle, "file id survives rename")
	})

	t.Run("MissingSource", func(t *testing.T) {
		resp, err := f.h.Rename(rw(), &RenameRequest{
			From: nfsxdr.DirOpArgs{Dir: f.root, Name: "a"},
			To:   nfsxdr.DirOpArgs{Dir: other, Name: "c"},
		})
		require.NoError(t, err)
		assert.EqualValues(t, types.NFS3ErrNoEnt, resp.Status)
		require.NotNil(t, resp.FromWcc.Before)
		require.NotNil(t, resp.ToWcc.Before)
	})

	t.Run("ReplaceFile", func(t *testing.T) {
		f.create("src")
		f.create("dst")
		resp, err := f.h.Rename(rw(), &RenameRequest{
			From: nfsxdr.DirOpArgs{Dir: f.root, Name: "src"},
			To:   nfsxdr.DirOpArgs{Dir: f.root, Name: "dst"},
		})
		require.NoError(t, err)
		assert.EqualValues(t, types.NFS3OK, resp.Status)
	})

	t.Run("ReadOnlyExport", func(t *testing.T) {
		resp, err := f.h.Rename(ro(), &RenameRequest{
			From: nfsxdr.DirOpArgs{Dir: f.root, Name: "dst"},
			To:   nfsxdr.DirOpArgs{Dir: f.root, Name: "dst2"},
		})
		require.NoError(t, err)
		assert.EqualValues(t, types.NFS3ErrAcces, resp.Status)
		require.NotNil(t, resp.FromWcc.Before)
		require.NotNil(t, resp.ToWcc.Before)
	})
}
