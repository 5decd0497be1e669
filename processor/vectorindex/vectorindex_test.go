package vectorindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qihaolou/Foxel/fs"
	"github.com/qihaolou/Foxel/processor"
	"github.com/qihaolou/Foxel/vecdb"
)

type stubDescriber struct {
	desc string
}

func (s stubDescriber) DescribeImage(ctx context.Context, image []byte, mime string) (string, error) {
	return s.desc, nil
}

type stubEmbedder struct {
	vec []float32
}

func (s stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vec, nil
}

func newTestDeps(t *testing.T) *processor.Deps {
	store, err := vecdb.Open(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return &processor.Deps{
		Describer: stubDescriber{desc: "a field of sunflowers"},
		Embedder:  stubEmbedder{vec: []float32{0.6, 0.8}},
		Store:     store,
	}
}

func TestIndexTextFile(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)
	ix := &Indexer{deps: deps}

	result, err := ix.Process(ctx, "/docs/note.txt", []byte("shopping list"), map[string]interface{}{})
	require.NoError(t, err)
	assert.Contains(t, result.Message, "shopping list")

	matches, err := deps.Store.Search(ctx, []float32{0.6, 0.8}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "/docs/note.txt", matches[0].Path)
}

func TestIndexImageUsesDescription(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)
	ix := &Indexer{deps: deps}

	result, err := ix.Process(ctx, "/photos/field.jpg", []byte{0xff, 0xd8}, map[string]interface{}{
		"action":     "create",
		"index_type": "vector",
	})
	require.NoError(t, err)
	assert.Contains(t, result.Message, "a field of sunflowers")
}

func TestSimpleIndexAndDestroy(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t)
	ix := &Indexer{deps: deps}

	_, err := ix.Process(ctx, "/docs/plain.md", []byte("x"), map[string]interface{}{"index_type": "simple"})
	require.NoError(t, err)
	matches, err := deps.Store.SearchByPath(ctx, "plain", 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	_, err = ix.Process(ctx, "/docs/plain.md", nil, map[string]interface{}{"action": "destroy"})
	require.NoError(t, err)
	matches, err = deps.Store.SearchByPath(ctx, "plain", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestUnsupportedExtension(t *testing.T) {
	ix := &Indexer{deps: newTestDeps(t)}
	_, err := ix.Process(context.Background(), "/bin/tool.exe", []byte("MZ"), map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrorInvalidArgument))
}

func TestMissingAIConfiguration(t *testing.T) {
	store, err := vecdb.Open(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, store.Close())
	}()
	ix := &Indexer{deps: &processor.Deps{Store: store}}
	_, err = ix.Process(context.Background(), "/photos/a.jpg", []byte{0xff}, map[string]interface{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
