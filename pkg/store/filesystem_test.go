package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/nfs3gw/pkg/store"
	contentmemory "github.com/marmos91/nfs3gw/pkg/store/content/memory"
	"github.com/marmos91/nfs3gw/pkg/store/metadata/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFS(t *testing.T, cfg store.Config) *store.FileSystem {
	t.Helper()
	fs, err := store.New(context.Background(), memory.New(), contentmemory.New(4096), cfg)
	require.NoError(t, err)
	return fs
}

func TestCtimeStrictlyAdvances(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t, store.Config{})

	f, err := fs.Create(ctx, fs.Root(), "f", store.NewFile{Mode: 0o644}, false)
	require.NoError(t, err)

	prev := f.Ctime
	for i := 0; i < 100; i++ {
		require.NoError(t, fs.SetPermission(ctx, f.ID, 0o600))
		got, err := fs.GetAttributes(ctx, f.ID)
		require.NoError(t, err)
		require.True(t, got.Ctime.After(prev), "iteration %d", i)
		prev = got.Ctime
	}
}

func TestReadOnly(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t, store.Config{ReadOnly: true})

	_, err := fs.Mkdir(ctx, fs.Root(), "d", store.NewFile{})
	assert.ErrorIs(t, err, store.ErrReadOnly)
	assert.ErrorIs(t, fs.SetPermission(ctx, fs.Root(), 0o700), store.ErrReadOnly)

	_, err = fs.GetAttributes(ctx, fs.Root())
	assert.NoError(t, err)
}

func TestMaxObjects(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t, store.Config{MaxObjects: 2})

	_, err := fs.Create(ctx, fs.Root(), "one", store.NewFile{}, false)
	require.NoError(t, err)
	_, err = fs.Create(ctx, fs.Root(), "two", store.NewFile{}, false)
	assert.ErrorIs(t, err, store.ErrNoSpace)
}

func TestDiskStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("FromContentStore", func(t *testing.T) {
		fs := newFS(t, store.Config{})
		f, err := fs.Create(ctx, fs.Root(), "f", store.NewFile{}, false)
		require.NoError(t, err)
		_, err = fs.Write(ctx, f.ID, 0, make([]byte, 96))
		require.NoError(t, err)

		status, err := fs.DiskStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(4096), status.Capacity)
		assert.Equal(t, uint64(4000), status.Remaining)
		assert.Equal(t, uint64(2), status.Files)
	})

	t.Run("CapacityOverride", func(t *testing.T) {
		fs := newFS(t, store.Config{Capacity: 1 << 30})
		status, err := fs.DiskStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1<<30), status.Capacity)
		assert.Equal(t, uint64(1<<30), status.Remaining)
	})

	t.Run("WriteBeyondCapacity", func(t *testing.T) {
		fs := newFS(t, store.Config{})
		f, err := fs.Create(ctx, fs.Root(), "big", store.NewFile{}, false)
		require.NoError(t, err)
		_, err = fs.Write(ctx, f.ID, 0, make([]byte, 5000))
		assert.ErrorIs(t, err, store.ErrNoSpace)

		got, err := fs.GetAttributes(ctx, f.ID)
		require.NoError(t, err)
		assert.Zero(t, got.Size, "failed write leaves the size unchanged")
	})
}

// blockingContent holds writes to one content id until release is closed.
type blockingContent struct {
	store.ContentStore
	id      string
	entered chan struct{}
	release chan struct{}
}

func (c *blockingContent) WriteAt(ctx context.Context, id string, offset uint64, data []byte) error {
	if id == c.id {
		close(c.entered)
		<-c.release
	}
	return c.ContentStore.WriteAt(ctx, id, offset, data)
}

func TestSlowContentWriteDoesNotBlockOtherFiles(t *testing.T) {
	ctx := context.Background()
	content := &blockingContent{
		ContentStore: contentmemory.New(4096),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	fs, err := store.New(ctx, memory.New(), content, store.Config{})
	require.NoError(t, err)

	slow, err := fs.Create(ctx, fs.Root(), "slow", store.NewFile{Mode: 0o644}, false)
	require.NoError(t, err)
	other, err := fs.Create(ctx, fs.Root(), "other", store.NewFile{Mode: 0o644}, false)
	require.NoError(t, err)
	content.id = slow.ContentID

	slowDone := make(chan error, 1)
	go func() {
		_, err := fs.Write(ctx, slow.ID, 0, []byte("slow"))
		slowDone <- err
	}()
	select {
	case <-content.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("content write never started")
	}

	otherDone := make(chan error, 1)
	go func() {
		if _, err := fs.Mkdir(ctx, fs.Root(), "dir", store.NewFile{Mode: 0o755}); err != nil {
			otherDone <- err
			return
		}
		_, err := fs.Write(ctx, other.ID, 0, []byte("fast"))
		otherDone <- err
	}()
	select {
	case err := <-otherDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("unrelated mutations waited for a content write")
	}

	close(content.release)
	require.NoError(t, <-slowDone)

	info, err := fs.GetAttributes(ctx, slow.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, info.Size)
	data, err := fs.Read(ctx, other.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("fast"), data)
}
