// Package fs defines the storage adapter surface for Foxel: the uniform
// capability interface every backend implements, the typed error taxonomy,
// directory entries, the backend type registry and the config option schema.
package fs

import "io"

// Version of foxel
const Version = "v1.0.0"

// CheckClose is a utility function used to check the return from
// Close in a defer statement.
func CheckClose(c io.Closer, err *error) {
	cerr := c.Close()
	if *err == nil {
		*err = cerr
	}
}
