package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testOpen(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := Open(filepath.Join(t.TempDir(), "foxel.db"))
	require.NoError(t, err)
	return gdb
}

func TestOpenAndMigrate(t *testing.T) {
	tdb := testOpen(t)
	for _, table := range []string{"storage_adapters", "automation_rules", "users", "configurations"} {
		assert.True(t, tdb.Migrator().HasTable(table), "table %q", table)
	}
}

func TestJSONMapRoundTrip(t *testing.T) {
	tdb := testOpen(t)

	in := StorageAdapter{
		Name:    "media",
		Type:    "local",
		Config:  JSONMap{"root": "/srv/media", "timeout": float64(15), "flag": true},
		Enabled: true,
		Path:    "/media",
	}
	require.NoError(t, tdb.Create(&in).Error)

	var out StorageAdapter
	require.NoError(t, tdb.First(&out, in.ID).Error)
	assert.Equal(t, "local", out.Type)
	assert.Equal(t, "/srv/media", out.Config["root"])
	assert.Equal(t, float64(15), out.Config["timeout"])
	assert.Equal(t, true, out.Config["flag"])
}

func TestJSONMapScanNil(t *testing.T) {
	var m JSONMap
	require.NoError(t, m.Scan(nil))
	assert.NotNil(t, m)
	require.NoError(t, m.Scan(`{"a":1}`))
	assert.Equal(t, float64(1), m["a"])

	v, err := JSONMap(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)
}

func TestUniqueMountPath(t *testing.T) {
	tdb := testOpen(t)
	require.NoError(t, tdb.Create(&StorageAdapter{Name: "a", Type: "local", Path: "/a"}).Error)
	err := tdb.Create(&StorageAdapter{Name: "b", Type: "local", Path: "/a"}).Error
	assert.Error(t, err)
}
