// Package config implements the config center: a read-through cache over
// the Configuration table with environment fallback.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"sync"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qihaolou/Foxel/db"
)

// Well-known keys.
const (
	KeySecret         = "SECRET_KEY"
	KeyTempLinkSecret = "TEMP_LINK_SECRET_KEY"
)

// Center caches configuration values. Reads go cache → table → process
// environment; writes go to the table and invalidate the cache entry.
type Center struct {
	mu    sync.Mutex
	gdb   *gorm.DB
	cache map[string]string
}

// New makes a Center over the given database.
func New(gdb *gorm.DB) *Center {
	return &Center{gdb: gdb, cache: map[string]string{}}
}

// Get returns the value for key, or "" when it is set nowhere.
func (c *Center) Get(key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.cache[key]; ok {
		return v, nil
	}
	var row db.Configuration
	err := c.gdb.Where("key = ?", key).First(&row).Error
	if err == nil {
		c.cache[key] = row.Value
		return row.Value, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", errors.Wrapf(err, "config get %q", key)
	}
	if v := os.Getenv(key); v != "" {
		c.cache[key] = v
		return v, nil
	}
	return "", nil
}

// GetDefault returns the value for key or def when unset.
func (c *Center) GetDefault(key, def string) string {
	v, err := c.Get(key)
	if err != nil || v == "" {
		return def
	}
	return v
}

// Set stores key=value in the table and refreshes the cache entry.
func (c *Center) Set(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	row := db.Configuration{Key: key, Value: value}
	err := c.gdb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
	if err != nil {
		return errors.Wrapf(err, "config set %q", key)
	}
	c.cache[key] = value
	return nil
}

// All returns every persisted configuration row.
func (c *Center) All() (map[string]string, error) {
	var rows []db.Configuration
	if err := c.gdb.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "config list")
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}

// Secret returns the value for key, generating, persisting and caching a
// random one when it is set nowhere. Rotating a secret invalidates
// everything signed with it.
func (c *Center) Secret(key string) (string, error) {
	v, err := c.Get(key)
	if err != nil {
		return "", err
	}
	if v != "" {
		return v, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generating secret")
	}
	v = hex.EncodeToString(buf)
	if err := c.Set(key, v); err != nil {
		return "", err
	}
	return v, nil
}
