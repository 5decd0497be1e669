package fs

import (
	"sort"
	"strings"
)

// Entry kinds. Mount entries are synthetic: they stand for a child adapter
// mounted below the listed directory, not for anything the adapter itself
// stores.
const (
	KindFile  = "file"
	KindDir   = "dir"
	KindMount = "mount"
)

// Entry is one row of a directory listing or a stat result. Mtime is in
// seconds since the epoch; 0 means unknown.
type Entry struct {
	Name  string                 `json:"name"`
	IsDir bool                   `json:"is_dir"`
	Size  int64                  `json:"size"`
	Mtime int64                  `json:"mtime"`
	Kind  string                 `json:"kind"`
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// Probe is the result of the debug stat_path capability: existence and
// kind without any error on a miss.
type Probe struct {
	Exists bool  `json:"exists"`
	IsDir  bool  `json:"is_dir"`
	IsFile bool  `json:"is_file"`
	Size   int64 `json:"size"`
}

// SortEntries orders a listing the way every directory view presents it:
// directories first, then case-insensitive by name.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
}

// PageEntries applies 1-based pagination to an already sorted listing.
func PageEntries(entries []Entry, page, pageSize int) []Entry {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	start := (page - 1) * pageSize
	if start >= len(entries) {
		return []Entry{}
	}
	end := start + pageSize
	if end > len(entries) {
		end = len(entries)
	}
	return entries[start:end]
}
