package badger

import (
	"context"
	"testing"

	"github.com/marmos91/nfs3gw/pkg/store"
	contentmemory "github.com/marmos91/nfs3gw/pkg/store/content/memory"
	"github.com/marmos91/nfs3gw/pkg/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, dir string) *MetadataStore {
	t.Helper()
	s, err := Open(context.Background(), Config{DBPath: dir})
	require.NoError(t, err)
	return s
}

func TestBadgerMetadataStore(t *testing.T) {
	suite := &storetest.StoreTestSuite{
		NewMetadata: func(t *testing.T) store.MetadataStore {
			s := openTestStore(t, t.TempDir())
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		NewContent: func(t *testing.T) store.ContentStore { return contentmemory.New(0) },
	}
	suite.Run(t)
}

func TestHandlesSurviveRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fs, err := store.New(ctx, openTestStore(t, dir), contentmemory.New(0), store.Config{})
	require.NoError(t, err)
	sub, err := fs.Mkdir(ctx, fs.Root(), "persisted", store.NewFile{Mode: 0o755})
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	fs, err = store.New(ctx, openTestStore(t, dir), contentmemory.New(0), store.Config{})
	require.NoError(t, err)
	defer func() { _ = fs.Close() }()

	got, err := fs.Lookup(ctx, fs.Root(), "persisted")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)

	next, err := fs.Mkdir(ctx, fs.Root(), "fresh", store.NewFile{Mode: 0o755})
	require.NoError(t, err)
	assert.Greater(t, next.ID, sub.ID, "ids are never reused after restart")

	status, err := fs.DiskStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), status.Files)
}

func TestKeysOrderEntriesByID(t *testing.T) {
	assert.Less(t, string(keyEntry(5, 9)), string(keyEntry(5, 10)))
	assert.Less(t, string(keyEntry(5, 255)), string(keyEntry(5, 256)))
	assert.Equal(t, uint64(300), decodeID(keyEntry(5, 300)[len(keyEntryPrefix(5)):]))
}
