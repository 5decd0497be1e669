package fs

import (
	"path"
	"strings"
)

// NormalizePath canonicalizes a virtual path: leading slash, collapsed
// segments, no ".." escapes, no trailing slash except for the root itself.
// Every path crossing the facade goes through this exactly once.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// IsRoot reports whether p is the virtual root.
func IsRoot(p string) bool {
	return p == "/" || p == ""
}

// BaseName returns the final path segment, "" for the root.
func BaseName(p string) string {
	p = NormalizePath(p)
	if p == "/" {
		return ""
	}
	return path.Base(p)
}
