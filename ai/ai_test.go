package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qihaolou/Foxel/config"
	"github.com/qihaolou/Foxel/db"
)

func newTestCenter(t *testing.T) *config.Center {
	gdb, err := db.Open(filepath.Join(t.TempDir(), "foxel.db"))
	require.NoError(t, err)
	return config.New(gdb)
}

func TestDescribeImage(t *testing.T) {
	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "a black cat"}},
			},
		})
	}))
	defer srv.Close()

	conf := newTestCenter(t)
	require.NoError(t, conf.Set(KeyVisionURL, srv.URL+"/v1/chat/completions"))
	require.NoError(t, conf.Set(KeyVisionModel, "gpt-4o"))
	require.NoError(t, conf.Set(KeyVisionKey, "sk-test"))

	c := NewClient(conf)
	desc, err := c.DescribeImage(context.Background(), []byte("jpegdata"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "a black cat", desc)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "gpt-4o", got.Model)
	require.Len(t, got.Messages, 1)
	require.Len(t, got.Messages[0].Content, 2)
	require.NotNil(t, got.Messages[0].Content[0].ImageURL)
	assert.True(t, strings.HasPrefix(got.Messages[0].Content[0].ImageURL.URL, "data:image/jpeg;base64,"))
}

func TestEmbedDerivesEndpoint(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"embedding": []float32{0.1, 0.2}}},
		})
	}))
	defer srv.Close()

	conf := newTestCenter(t)
	require.NoError(t, conf.Set(KeyEmbedURL, srv.URL+"/v1/chat/completions"))
	require.NoError(t, conf.Set(KeyEmbedModel, "text-embedding-3"))

	c := NewClient(conf)
	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
	assert.Equal(t, "/v1/embeddings", path)
}

func TestEmbedUnconfigured(t *testing.T) {
	t.Setenv(KeyEmbedURL, "")
	c := NewClient(newTestCenter(t))
	_, err := c.Embed(context.Background(), "hello")
	require.Error(t, err)
}
