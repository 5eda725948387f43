// Package markertest provides contract tests for [marker.Store]
// implementations.
package markertest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitdeployer/internal/marker"
)

// Factory creates a fresh, empty [marker.Store] for each test.
type Factory func(t *testing.T) marker.Store

const (
	revA = "1111111111111111111111111111111111111111"
	revB = "2222222222222222222222222222222222222222"
)

// Run exercises the [marker.Store] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("GetNotFound", func(t *testing.T) {
		s := factory(t)
		_, err := s.Get(context.Background(), "site1")
		assert.ErrorIs(t, err, marker.ErrNotFound)
	})

	t.Run("PutAndGet", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "site1", revA))
		got, err := s.Get(ctx, "site1")
		require.NoError(t, err)
		assert.Equal(t, revA, got)
	})

	t.Run("PutOverwrites", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "site1", revA))
		require.NoError(t, s.Put(ctx, "site1", revB))
		got, err := s.Get(ctx, "site1")
		require.NoError(t, err)
		assert.Equal(t, revB, got)
	})

	t.Run("TargetsAreIndependent", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "site1", revA))
		require.NoError(t, s.Put(ctx, "site2", revB))
		require.NoError(t, s.Delete(ctx, "site1"))

		got, err := s.Get(ctx, "site2")
		require.NoError(t, err)
		assert.Equal(t, revB, got)
	})

	t.Run("Delete", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "site1", revA))
		require.NoError(t, s.Delete(ctx, "site1"))
		_, err := s.Get(ctx, "site1")
		assert.ErrorIs(t, err, marker.ErrNotFound)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		assert.NoError(t, s.Delete(ctx, "never-stored"))
		assert.NoError(t, s.Delete(ctx, "never-stored"))
	})

	t.Run("RejectsEmptyRevision", func(t *testing.T) {
		s := factory(t)
		assert.Error(t, s.Put(context.Background(), "site1", " "))
	})

	t.Run("RejectsInvalidTargetID", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		for _, id := range []string{"", "..", "a/b"} {
			assert.ErrorIs(t, s.Put(ctx, id, revA), marker.ErrInvalidTarget, "Put(%q)", id)
		}
	})

	t.Run("ConcurrentTargets", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.Put(ctx, fmt.Sprintf("site%d", i), revA)
			}(i)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}
		for i := 0; i < 8; i++ {
			_, err := s.Get(ctx, fmt.Sprintf("site%d", i))
			assert.NoError(t, err, "site%d", i)
		}
	})
}
