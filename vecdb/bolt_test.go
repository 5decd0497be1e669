package vecdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Bolt {
	s, err := Open(filepath.Join(t.TempDir(), "db", "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, s.Close())
	})
	return s
}

func TestSearchRanksByCosine(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Upsert(ctx, "/local/cat.jpg", []float32{1, 0, 0}))
	require.NoError(t, s.Upsert(ctx, "/local/dog.jpg", []float32{0.9, 0.1, 0}))
	require.NoError(t, s.Upsert(ctx, "/local/car.jpg", []float32{0, 1, 0}))
	require.NoError(t, s.InsertPath(ctx, "/local/readme.txt"))

	matches, err := s.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "/local/cat.jpg", matches[0].Path)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.Equal(t, "/local/dog.jpg", matches[1].Path)
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)
}

func TestUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Upsert(ctx, "/a.jpg", []float32{1, 0}))
	require.NoError(t, s.Upsert(ctx, "/a.jpg", []float32{0, 1}))

	matches, err := s.Search(ctx, []float32{0, 1}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
}

func TestSearchByPath(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.InsertPath(ctx, "/photos/2024/cat.jpg"))
	require.NoError(t, s.InsertPath(ctx, "/photos/2024/dog.jpg"))
	require.NoError(t, s.Upsert(ctx, "/docs/cats.md", []float32{1}))

	matches, err := s.SearchByPath(ctx, "cat", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Contains(t, m.Path, "cat")
		assert.Equal(t, 1.0, m.Score)
	}

	matches, err = s.SearchByPath(ctx, "photos", 1)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Delete(ctx, "/missing.jpg"))

	require.NoError(t, s.Upsert(ctx, "/a.jpg", []float32{1}))
	require.NoError(t, s.Delete(ctx, "/a.jpg"))
	matches, err := s.Search(ctx, []float32{1}, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
