// Package db holds the persisted models and the sqlite-backed gorm store.
package db

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// JSONMap stores a JSON object in a TEXT column.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.Errorf("can't scan %T into JSONMap", value)
	}
	if len(b) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(b, m)
}

// StorageAdapter is one configured backend mounted into the virtual
// namespace. Path is the normalized mount path and is unique; SubPath is
// the backend-internal prefix the mount exposes.
type StorageAdapter struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;uniqueIndex" json:"name"`
	Type      string    `gorm:"size:64" json:"type"`
	Config    JSONMap   `gorm:"type:text" json:"config"`
	Enabled   bool      `json:"enabled"`
	Path      string    `gorm:"size:1024;uniqueIndex" json:"path"`
	SubPath   string    `gorm:"size:1024" json:"sub_path"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AutomationRule maps a filesystem event onto a processor invocation.
// PathPattern is a virtual-path prefix filter and FilenameRegex an
// anchored regex over the basename; both empty means match-all.
type AutomationRule struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"size:255" json:"name"`
	Event           string    `gorm:"size:64;index" json:"event"`
	PathPattern     string    `gorm:"size:1024" json:"path_pattern"`
	FilenameRegex   string    `gorm:"size:512" json:"filename_regex"`
	ProcessorType   string    `gorm:"size:64" json:"processor_type"`
	ProcessorConfig JSONMap   `gorm:"type:text" json:"processor_config"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// User is an account row. Only the first user can register; WebDAV Basic
// auth and API tokens both resolve against it.
type User struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Username       string    `gorm:"size:255;uniqueIndex" json:"username"`
	Email          string    `gorm:"size:255" json:"email"`
	FullName       string    `gorm:"size:255" json:"full_name"`
	HashedPassword string    `gorm:"size:255" json:"-"`
	Disabled       bool      `json:"disabled"`
	CreatedAt      time.Time `json:"created_at"`
}

// Configuration is one key/value row of the config center.
type Configuration struct {
	Key   string `gorm:"primaryKey;size:255" json:"key"`
	Value string `gorm:"type:text" json:"value"`
}
