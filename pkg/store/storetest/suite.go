// Package storetest is a conformance suite for store backends. It drives a
// store.FileSystem built on the backends under test, so every metadata and
// content store is checked against the same Store contract.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/nfs3gw/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite runs the Store contract against a pair of backends.
type StoreTestSuite struct {
	// NewMetadata returns a fresh, empty metadata store for each test.
	NewMetadata func(t *testing.T) store.MetadataStore

	// NewContent returns a fresh, empty content store for each test.
	NewContent func(t *testing.T) store.ContentStore
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Root", suite.testRoot)
	t.Run("CreateAndLookup", suite.testCreateAndLookup)
	t.Run("ReadWrite", suite.testReadWrite)
	t.Run("ListDirectory", suite.testListDirectory)
	t.Run("Remove", suite.testRemove)
	t.Run("Rename", suite.testRename)
	t.Run("Attributes", suite.testAttributes)
	t.Run("Symlink", suite.testSymlink)
	t.Run("Backends", suite.testBackends)
}

func (suite *StoreTestSuite) newFS(t *testing.T) *store.FileSystem {
	t.Helper()
	fs, err := store.New(context.Background(), suite.NewMetadata(t), suite.NewContent(t), store.Config{
		RootOwner: "root",
		RootGroup: "root",
	})
	require.NoError(t, err)
	return fs
}

var owner = store.NewFile{Mode: 0o644, Owner: "alice", Group: "staff"}

func (suite *StoreTestSuite) testRoot(t *testing.T) {
	ctx := context.Background()
	fs := suite.newFS(t)

	root, err := fs.GetAttributes(ctx, fs.Root())
	require.NoError(t, err)
	assert.True(t, root.IsDir())
	assert.Equal(t, store.RootID, root.Parent)
	assert.Equal(t, "root", root.Owner)

	parent, err := fs.Lookup(ctx, fs.Root(), "..")
	require.NoError(t, err)
	assert.Equal(t, store.RootID, parent.ID)

	_, err = fs.GetAttributes(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func (suite *StoreTestSuite) testCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	fs := suite.newFS(t)

	before, err := fs.GetAttributes(ctx, fs.Root())
	require.NoError(t, err)

	f, err := fs.Create(ctx, fs.Root(), "a.txt", owner, false)
	require.NoError(t, err)
	assert.Equal(t, store.TypeRegular, f.Type)
	assert.Equal(t, "alice", f.Owner)
	assert.NotEmpty(t, f.ContentID)

	after, err := fs.GetAttributes(ctx, fs.Root())
	require.NoError(t, err)
	assert.True(t, after.Mtime.After(before.Mtime), "directory mtime advances on create")
	assert.True(t, after.Ctime.After(before.Ctime), "directory ctime advances on create")

	got, err := fs.Lookup(ctx, fs.Root(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)

	_, err = fs.Lookup(ctx, fs.Root(), "missing")
	assert.ErrorIs(t, err, store.ErrNoEntry)

	t.Run("UncheckedReturnsExisting", func(t *testing.T) {
		again, err := fs.Create(ctx, fs.Root(), "a.txt", owner, false)
		require.NoError(t, err)
		assert.Equal(t, f.ID, again.ID)
	})

	t.Run("ExclusiveRejectsExisting", func(t *testing.T) {
		_, err := fs.Create(ctx, fs.Root(), "a.txt", owner, true)
		assert.ErrorIs(t, err, store.ErrExist)
	})

	t.Run("ExclusiveVerifierReplay", func(t *testing.T) {
		nf := owner
		nf.Verifier = 42
		first, err := fs.Create(ctx, fs.Root(), "x.txt", nf, true)
		require.NoError(t, err)
		second, err := fs.Create(ctx, fs.Root(), "x.txt", nf, true)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("MkdirExisting", func(t *testing.T) {
		_, err := fs.Mkdir(ctx, fs.Root(), "a.txt", owner)
		assert.ErrorIs(t, err, store.ErrExist)
	})

	t.Run("CreateInFile", func(t *testing.T) {
		_, err := fs.Create(ctx, f.ID, "b", owner, false)
		assert.ErrorIs(t, err, store.ErrNotDir)
	})

	t.Run("BadNames", func(t *testing.T) {
		_, err := fs.Create(ctx, fs.Root(), "", owner, false)
		assert.ErrorIs(t, err, store.ErrInvalid)
		_, err = fs.Create(ctx, fs.Root(), "a/b", owner, false)
		assert.ErrorIs(t, err, store.ErrInvalid)
		long := make([]byte, store.MaxNameLen+1)
		for i := range long {
			long[i] = 'x'
		}
		_, err = fs.Create(ctx, fs.Root(), string(long), owner, false)
		assert.ErrorIs(t, err, store.ErrNameTooLong)
	})
}

func (suite *StoreTestSuite) testReadWrite(t *testing.T) {
	ctx := context.Background()
	fs := suite.newFS(t)

	f, err := fs.Create(ctx, fs.Root(), "data", owner, false)
	require.NoError(t, err)

	info, err := fs.Write(ctx, f.ID, 0, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), info.Size)
	assert.True(t, info.Ctime.After(f.Ctime))

	info, err = fs.Write(ctx, f.ID, 10, []byte("world"))
	require.NoError(t, err)
	assert.Equal(t, uint64(15), info.Size)

	data, err := fs.Read(ctx, f.ID, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello\x00\x00\x00\x00\x00world"), data)

	data, err = fs.Read(ctx, f.ID, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("lo\x00\x00"), data)

	data, err = fs.Read(ctx, f.ID, 15, 10)
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = fs.Read(ctx, fs.Root(), 0, 10)
	assert.ErrorIs(t, err, store.ErrIsDir)

	_, err = fs.Write(ctx, fs.Root(), 0, []byte("x"))
	assert.ErrorIs(t, err, store.ErrIsDir)

	require.NoError(t, fs.Sync(ctx, f.ID))
}

func (suite *StoreTestSuite) testListDirectory(t *testing.T) {
	ctx := context.Background()
	fs := suite.newFS(t)

	var ids []uint64
	for _, name := range []string{"c", "a", "b", "e", "d"} {
		f, err := fs.Create(ctx, fs.Root(), name, owner, false)
		require.NoError(t, err)
		ids = append(ids, f.ID)
	}

	entries, more, err := fs.ListDirectory(ctx, fs.Root(), 0, 0)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, ids[i], e.ID, "entries are ordered by id")
	}

	t.Run("Paginates", func(t *testing.T) {
		var seen []uint64
		after := uint64(0)
		for {
			page, more, err := fs.ListDirectory(ctx, fs.Root(), after, 2)
			require.NoError(t, err)
			for _, e := range page {
				seen = append(seen, e.ID)
			}
			if !more {
				break
			}
			after = page[len(page)-1].ID
		}
		assert.Equal(t, ids, seen)
	})

	t.Run("ResumeAfterRemovedEntry", func(t *testing.T) {
		require.NoError(t, fs.Remove(ctx, fs.Root(), "a"))
		page, _, err := fs.ListDirectory(ctx, fs.Root(), ids[1], 0)
		require.NoError(t, err)
		require.Len(t, page, 3)
		assert.Equal(t, ids[2], page[0].ID)
	})

	t.Run("NotADirectory", func(t *testing.T) {
		_, _, err := fs.ListDirectory(ctx, ids[0], 0, 0)
		assert.ErrorIs(t, err, store.ErrNotDir)
	})
}

func (suite *StoreTestSuite) testRemove(t *testing.T) {
	ctx := context.Background()
	fs := suite.newFS(t)

	dir, err := fs.Mkdir(ctx, fs.Root(), "dir", owner)
	require.NoError(t, err)
	f, err := fs.Create(ctx, dir.ID, "f", owner, false)
	require.NoError(t, err)
	_, err = fs.Write(ctx, f.ID, 0, []byte("bytes"))
	require.NoError(t, err)

	root, err := fs.GetAttributes(ctx, fs.Root())
	require.NoError(t, err)
	assert.Equal(t, uint32(3), root.Nlink, "subdirectory adds a link to its parent")

	assert.ErrorIs(t, fs.Remove(ctx, fs.Root(), "dir"), store.ErrIsDir)
	assert.ErrorIs(t, fs.Rmdir(ctx, dir.ID, "f"), store.ErrNotDir)
	assert.ErrorIs(t, fs.Rmdir(ctx, fs.Root(), "dir"), store.ErrNotEmpty)
	assert.ErrorIs(t, fs.Remove(ctx, dir.ID, "missing"), store.ErrNoEntry)
	assert.ErrorIs(t, fs.Rmdir(ctx, fs.Root(), "missing"), store.ErrNoEntry)

	require.NoError(t, fs.Remove(ctx, dir.ID, "f"))
	_, err = fs.GetAttributes(ctx, f.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, fs.Rmdir(ctx, fs.Root(), "dir"))
	root, err = fs.GetAttributes(ctx, fs.Root())
	require.NoError(t, err)
	assert.Equal(t, uint32(2), root.Nlink)

	status, err := fs.DiskStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), status.Files)
}

func (suite *StoreTestSuite) testRename(t *testing.T) {
	ctx := context.Background()
	fs := suite.newFS(t)

	src, err := fs.Mkdir(ctx, fs.Root(), "src", owner)
	require.NoError(t, err)
	dst, err := fs.Mkdir(ctx, fs.Root(), "dst", owner)
	require.NoError(t, err)
	f, err := fs.Create(ctx, src.ID, "f", owner, false)
	require.NoError(t, err)

	require.NoError(t, fs.Rename(ctx, src.ID, "f", dst.ID, "g"))
	_, err = fs.Lookup(ctx, src.ID, "f")
	assert.ErrorIs(t, err, store.ErrNoEntry)
	moved, err := fs.Lookup(ctx, dst.ID, "g")
	require.NoError(t, err)
	assert.Equal(t, f.ID, moved.ID, "file id is stable across renames")
	assert.Equal(t, dst.ID, moved.Parent)

	t.Run("OverwritesFile", func(t *testing.T) {
		other, err := fs.Create(ctx, dst.ID, "other", owner, false)
		require.NoError(t, err)
		require.NoError(t, fs.Rename(ctx, dst.ID, "other", dst.ID, "g"))
		got, err := fs.Lookup(ctx, dst.ID, "g")
		require.NoError(t, err)
		assert.Equal(t, other.ID, got.ID)
		_, err = fs.GetAttributes(ctx, f.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("FileOverDirectory", func(t *testing.T) {
		assert.ErrorIs(t, fs.Rename(ctx, dst.ID, "g", fs.Root(), "src"), store.ErrIsDir)
	})

	t.Run("DirectoryIntoItself", func(t *testing.T) {
		assert.ErrorIs(t, fs.Rename(ctx, fs.Root(), "dst", dst.ID, "inner"), store.ErrInvalid)
	})

	t.Run("MissingSource", func(t *testing.T) {
		assert.ErrorIs(t, fs.Rename(ctx, src.ID, "nope", dst.ID, "x"), store.ErrNoEntry)
	})

	t.Run("DirectoryAcrossParents", func(t *testing.T) {
		require.NoError(t, fs.Rename(ctx, fs.Root(), "src", dst.ID, "src"))
		root, err := fs.GetAttributes(ctx, fs.Root())
		require.NoError(t, err)
		assert.Equal(t, uint32(3), root.Nlink)
		d, err := fs.GetAttributes(ctx, dst.ID)
		require.NoError(t, err)
		assert.Equal(t, uint32(3), d.Nlink)
	})
}

func (suite *StoreTestSuite) testAttributes(t *testing.T) {
	ctx := context.Background()
	fs := suite.newFS(t)

	f, err := fs.Create(ctx, fs.Root(), "f", owner, false)
	require.NoError(t, err)

	require.NoError(t, fs.SetPermission(ctx, f.ID, 0o100600))
	require.NoError(t, fs.SetOwner(ctx, f.ID, "bob", ""))
	mtime := time.Unix(1700000000, 5)
	require.NoError(t, fs.SetTimes(ctx, f.ID, nil, &mtime))

	got, err := fs.GetAttributes(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(0o600), got.Mode, "only permission bits are kept")
	assert.Equal(t, "bob", got.Owner)
	assert.Equal(t, "staff", got.Group)
	assert.True(t, got.Mtime.Equal(mtime))
	assert.True(t, got.Atime.Equal(f.Atime))
	assert.True(t, got.Ctime.After(f.Ctime))
}

func (suite *StoreTestSuite) testSymlink(t *testing.T) {
	ctx := context.Background()
	fs := suite.newFS(t)

	l, err := fs.CreateSymlink(ctx, fs.Root(), "link", "/target/path", owner)
	require.NoError(t, err)
	assert.Equal(t, store.TypeSymlink, l.Type)
	assert.Equal(t, uint64(len("/target/path")), l.Size)

	target, err := fs.ReadSymlink(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "/target/path", target)

	_, err = fs.ReadSymlink(ctx, fs.Root())
	assert.ErrorIs(t, err, store.ErrInvalid)

	_, err = fs.Read(ctx, l.ID, 0, 10)
	assert.ErrorIs(t, err, store.ErrInvalid)
}

func (suite *StoreTestSuite) testBackends(t *testing.T) {
	ctx := context.Background()
	fs := suite.newFS(t)
	meta, content := fs.Backends()

	a, err := fs.Create(ctx, fs.Root(), "a", owner, false)
	require.NoError(t, err)
	_, err = fs.Write(ctx, a.ID, 0, []byte("payload"))
	require.NoError(t, err)
	_, err = fs.Mkdir(ctx, fs.Root(), "d", owner)
	require.NoError(t, err)

	t.Run("ForEachVisitsEveryRecord", func(t *testing.T) {
		seen := make(map[uint64]bool)
		var count uint64
		err := meta.View(ctx, func(tx store.MetadataTx) error {
			var err error
			if count, err = tx.Count(); err != nil {
				return err
			}
			return tx.ForEach(func(info *store.FileInfo) error {
				seen[info.ID] = true
				return nil
			})
		})
		require.NoError(t, err)
		assert.Len(t, seen, int(count))
		assert.True(t, seen[store.RootID])
		assert.True(t, seen[a.ID])
	})

	t.Run("ListReturnsWrittenContent", func(t *testing.T) {
		lister, ok := content.(store.ContentLister)
		if !ok {
			t.Skip("content store cannot list")
		}
		ids, err := lister.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, a.ContentID)

		require.NoError(t, fs.Remove(ctx, fs.Root(), "a"))
		ids, err = lister.List(ctx)
		require.NoError(t, err)
		assert.NotContains(t, ids, a.ContentID)
	})
}
