package memory

import (
	"context"
	"testing"

	"github.com/marmos91/nfs3gw/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentStore(t *testing.T) {
	ctx := context.Background()

	t.Run("ReadWrite", func(t *testing.T) {
		s := New(0)
		require.NoError(t, s.WriteAt(ctx, "id", 0, []byte("hello")))
		require.NoError(t, s.WriteAt(ctx, "id", 3, []byte("LOWORLD")))

		data, err := s.ReadAt(ctx, "id", 0, 64)
		require.NoError(t, err)
		assert.Equal(t, []byte("helLOWORLD"), data)

		data, err = s.ReadAt(ctx, "id", 8, 64)
		require.NoError(t, err)
		assert.Equal(t, []byte("LD"), data)
	})

	t.Run("CapacityEnforced", func(t *testing.T) {
		s := New(8)
		require.NoError(t, s.WriteAt(ctx, "a", 0, []byte("12345678")))
		assert.ErrorIs(t, s.WriteAt(ctx, "b", 0, []byte("9")), store.ErrNoSpace)

		require.NoError(t, s.Delete(ctx, "a"))
		u, err := s.Usage(ctx)
		require.NoError(t, err)
		assert.Equal(t, store.Usage{Capacity: 8, Used: 0}, u)
	})
}
