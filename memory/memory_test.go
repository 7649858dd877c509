package memory

import (
	"context"
	"testing"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testMemoryService runs the behaviour every backend shares
func testMemoryService(t *testing.T, newService func(t *testing.T) fairiagent.MemoryService) {
	ctx := context.Background()

	t.Run("Add returns a populated entry", func(t *testing.T) {
		svc := newService(t)
		entry, err := svc.Add(ctx, "s1", "parse", "title found in header block", 0.9)
		require.NoError(t, err)

		assert.NotEmpty(t, entry.ID)
		assert.Equal(t, "s1", entry.SessionID)
		assert.Equal(t, "parse", entry.StageName)
		assert.Equal(t, 0.9, entry.Score)
		assert.False(t, entry.CreatedAt.IsZero())
	})

	t.Run("Add rejects invalid input", func(t *testing.T) {
		svc := newService(t)
		_, err := svc.Add(ctx, "", "parse", "summary", 0.5)
		assert.Error(t, err)
		_, err = svc.Add(ctx, "s1", "parse", "  ", 0.5)
		assert.Error(t, err)
		_, err = svc.Add(ctx, "s1", "parse", "summary", 1.5)
		assert.Error(t, err)
	})

	t.Run("Sessions are isolated", func(t *testing.T) {
		svc := newService(t)
		_, err := svc.Add(ctx, "alpha", "parse", "alpha document about soil samples", 0.8)
		require.NoError(t, err)
		_, err = svc.Add(ctx, "beta", "parse", "beta document about soil samples", 0.8)
		require.NoError(t, err)

		got, err := svc.Retrieve(ctx, "alpha", "parse", "soil samples", 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "alpha", got[0].SessionID)
		assert.Contains(t, got[0].Summary, "alpha")
	})

	t.Run("Unknown session returns empty", func(t *testing.T) {
		svc := newService(t)
		got, err := svc.Retrieve(ctx, "missing", "parse", "anything", 5)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("k caps results", func(t *testing.T) {
		svc := newService(t)
		for _, summary := range []string{"first insight", "second insight", "third insight"} {
			_, err := svc.Add(ctx, "s1", "parse", summary, 0.5)
			require.NoError(t, err)
		}

		got, err := svc.Retrieve(ctx, "s1", "parse", "insight", 2)
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = svc.Retrieve(ctx, "s1", "parse", "insight", 10)
		require.NoError(t, err)
		assert.Len(t, got, 3)

		got, err = svc.Retrieve(ctx, "s1", "parse", "insight", 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Most relevant entry ranks first", func(t *testing.T) {
		svc := newService(t)
		_, err := svc.Add(ctx, "s1", "generate-output", "weather forecast unrelated chatter", 0.9)
		require.NoError(t, err)
		_, err = svc.Add(ctx, "s1", "parse", "missing title recovered from first heading", 0.4)
		require.NoError(t, err)

		got, err := svc.Retrieve(ctx, "s1", "parse", "missing title", 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Contains(t, got[0].Summary, "missing title")
	})

	t.Run("Clear is idempotent and scoped", func(t *testing.T) {
		svc := newService(t)
		_, err := svc.Add(ctx, "s1", "parse", "keep me out", 0.5)
		require.NoError(t, err)
		_, err = svc.Add(ctx, "s2", "parse", "keep me in", 0.5)
		require.NoError(t, err)

		require.NoError(t, svc.Clear(ctx, "s1"))
		require.NoError(t, svc.Clear(ctx, "s1"))
		require.NoError(t, svc.Clear(ctx, "never-existed"))

		got, err := svc.Retrieve(ctx, "s1", "parse", "keep", 5)
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = svc.Retrieve(ctx, "s2", "parse", "keep", 5)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}
