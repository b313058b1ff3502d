// Package keystoretest holds the behaviour every keystore backend must show.
package keystoretest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheusHen/gkt/gkt/identity"
	"github.com/TheusHen/gkt/gkt/keystore"
)

// Run exercises a backend. open must return a fresh, empty keystore.
func Run(t *testing.T, open func(t *testing.T) keystore.Keystore) {
	t.Run("Idempotent", func(t *testing.T) {
		ks := open(t)
		defer ks.Close()
		ctx := context.Background()

		first, err := ks.LoadOrGenerate(ctx, "alice")
		require.NoError(t, err)
		second, err := ks.LoadOrGenerate(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, first.Keys, second.Keys)
		assert.Equal(t, identity.MemberID("alice"), second.Member)

		other, err := ks.LoadOrGenerate(ctx, "bob")
		require.NoError(t, err)
		assert.NotEqual(t, first.Keys.PublicKey, other.Keys.PublicKey)
	})

	t.Run("Load", func(t *testing.T) {
		ks := open(t)
		defer ks.Close()
		ctx := context.Background()

		_, err := ks.Load(ctx, "carol")
		assert.ErrorIs(t, err, keystore.ErrNotFound)

		created, err := ks.LoadOrGenerate(ctx, "carol")
		require.NoError(t, err)
		loaded, err := ks.Load(ctx, "carol")
		require.NoError(t, err)
		assert.Equal(t, created.Keys, loaded.Keys)
	})

	t.Run("InvalidMember", func(t *testing.T) {
		ks := open(t)
		defer ks.Close()
		for _, member := range []identity.MemberID{"", "../etc", "a/b", ".hidden"} {
			_, err := ks.LoadOrGenerate(context.Background(), member)
			assert.ErrorIs(t, err, keystore.ErrInvalidMemberID, string(member))
		}
	})

	t.Run("ConcurrentFirstUse", func(t *testing.T) {
		ks := open(t)
		defer ks.Close()

		const workers = 16
		var wg sync.WaitGroup
		keys := make([][32]byte, workers)
		errs := make([]error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id, err := ks.LoadOrGenerate(context.Background(), "dave")
				keys[i], errs[i] = id.Keys.PublicKey, err
			}(i)
		}
		wg.Wait()
		for i := range keys {
			require.NoError(t, errs[i], fmt.Sprintf("worker %d", i))
			assert.Equal(t, keys[0], keys[i], fmt.Sprintf("worker %d", i))
		}
	})

	t.Run("Closed", func(t *testing.T) {
		ks := open(t)
		require.NoError(t, ks.Close())
		_, err := ks.LoadOrGenerate(context.Background(), "erin")
		assert.ErrorIs(t, err, keystore.ErrClosed)
	})
}
