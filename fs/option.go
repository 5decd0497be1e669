package fs

import (
	"fmt"
	"strconv"
)

// Option field types understood by the management UI.
const (
	TypeString   = "string"
	TypePassword = "password"
	TypeNumber   = "number"
	TypeCheckbox = "checkbox"
	TypeSelect   = "select"
)

// Option describes one field of a backend's config schema. The schema is
// served verbatim to the management API, so the JSON names are part of the
// external interface.
type Option struct {
	Key         string      `json:"key"`
	Label       string      `json:"label"`
	Type        string      `json:"type"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Placeholder string      `json:"placeholder,omitempty"`
	Options     []string    `json:"options,omitempty"`
}

// Options is an ordered backend config schema.
type Options []Option

// ConfigMap is a decoded adapter config: JSON scalars keyed by option key.
type ConfigMap map[string]interface{}

// String returns the value for key rendered as a string, "" when absent.
func (m ConfigMap) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// Int returns the value for key as an int, def when absent or unparseable.
func (m ConfigMap) Int(key string, def int) int {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

// Bool returns the value for key as a bool, false when absent.
func (m ConfigMap) Bool(key string) bool {
	v, ok := m[key]
	if !ok || v == nil {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "1" || b == "on"
	case float64:
		return b != 0
	}
	return false
}
