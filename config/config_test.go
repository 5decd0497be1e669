package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qihaolou/Foxel/db"
)

func testCenter(t *testing.T) *Center {
	t.Helper()
	gdb, err := db.Open(filepath.Join(t.TempDir(), "foxel.db"))
	require.NoError(t, err)
	return New(gdb)
}

func TestGetSet(t *testing.T) {
	c := testCenter(t)

	v, err := c.Get("APP_NAME")
	require.NoError(t, err)
	assert.Equal(t, "", v)
	assert.Equal(t, "Foxel", c.GetDefault("APP_NAME", "Foxel"))

	require.NoError(t, c.Set("APP_NAME", "MyFoxel"))
	v, err = c.Get("APP_NAME")
	require.NoError(t, err)
	assert.Equal(t, "MyFoxel", v)

	// Set twice upserts rather than duplicating the row.
	require.NoError(t, c.Set("APP_NAME", "Again"))
	all, err := c.All()
	require.NoError(t, err)
	assert.Equal(t, "Again", all["APP_NAME"])
	assert.Len(t, all, 1)
}

func TestEnvFallback(t *testing.T) {
	c := testCenter(t)
	t.Setenv("FOXEL_TEST_ONLY_KEY", "from-env")

	v, err := c.Get("FOXEL_TEST_ONLY_KEY")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	// Table value wins over the environment.
	require.NoError(t, c.Set("FOXEL_TEST_ONLY_KEY", "from-db"))
	v, err = c.Get("FOXEL_TEST_ONLY_KEY")
	require.NoError(t, err)
	assert.Equal(t, "from-db", v)
}

func TestSecretGeneration(t *testing.T) {
	c := testCenter(t)

	s1, err := c.Secret(KeyTempLinkSecret)
	require.NoError(t, err)
	assert.Len(t, s1, 64)

	// Stable across calls and across cache flushes.
	s2, err := c.Secret(KeyTempLinkSecret)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)

	fresh := New(c.gdb)
	s3, err := fresh.Secret(KeyTempLinkSecret)
	require.NoError(t, err)
	assert.Equal(t, s1, s3)
}
