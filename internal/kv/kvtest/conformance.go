// Package kvtest holds the behaviour every kv.Store backend must share.
package kvtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"mcq-bot/internal/kv"
)

// Run exercises store against the kv.Store contract. The store must start empty.
func Run(t *testing.T, store kv.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := store.Get(ctx, "absent")
		require.True(t, errors.Is(err, kv.ErrNotFound), "got %v", err)
	})

	t.Run("put overwrites", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "q:0", []byte(`[1]`)))
		require.NoError(t, store.Put(ctx, "q:0", []byte(`[1,2]`)))
		got, err := store.Get(ctx, "q:0")
		require.NoError(t, err)
		require.Equal(t, `[1,2]`, string(got))
	})

	t.Run("binary values", func(t *testing.T) {
		value := []byte{0, 1, 2, 255, '\n'}
		require.NoError(t, store.Put(ctx, "bin", value))
		got, err := store.Get(ctx, "bin")
		require.NoError(t, err)
		require.Equal(t, value, got)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "gone", []byte("x")))
		require.NoError(t, store.Delete(ctx, "gone"))
		_, err := store.Get(ctx, "gone")
		require.True(t, errors.Is(err, kv.ErrNotFound))
		require.NoError(t, kv.Delete(ctx, store, "gone"))
	})

	t.Run("list by prefix", func(t *testing.T) {
		for _, key := range []string{"idx:-100", "idx:7", "idx_x", "recent:7", "idx%:1"} {
			require.NoError(t, store.Put(ctx, key, []byte("0")))
		}
		keys, err := store.List(ctx, "idx:")
		require.NoError(t, err)
		require.Equal(t, []string{"idx:-100", "idx:7"}, keys)

		keys, err = store.List(ctx, "idx%")
		require.NoError(t, err)
		require.Equal(t, []string{"idx%:1"}, keys)

		keys, err = store.List(ctx, "nothing:")
		require.NoError(t, err)
		require.Empty(t, keys)
	})
}
