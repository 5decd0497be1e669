package fs

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

var rangeRe = regexp.MustCompile(`^bytes=(\d*)-(\d*)$`)

// ParseRange interprets a single-range HTTP Range header against a
// resource of the given size, returning inclusive start and end offsets.
// Malformed headers fail ErrorInvalidArgument; ranges past EOF fail
// ErrorRangeNotSatisfiable.
func ParseRange(header string, size int64) (start, end int64, err error) {
	m := rangeRe.FindStringSubmatch(header)
	if m == nil {
		return 0, 0, errors.Wrapf(ErrorInvalidArgument, "bad range %q", header)
	}
	first, last := m[1], m[2]
	switch {
	case first == "" && last == "":
		return 0, 0, errors.Wrapf(ErrorInvalidArgument, "bad range %q", header)
	case first == "":
		// Suffix range: last n bytes.
		n, _ := strconv.ParseInt(last, 10, 64)
		if n <= 0 {
			return 0, 0, errors.Wrapf(ErrorRangeNotSatisfiable, "range %q of %d", header, size)
		}
		if n > size {
			n = size
		}
		start, end = size-n, size-1
	default:
		start, _ = strconv.ParseInt(first, 10, 64)
		if last == "" {
			end = size - 1
		} else {
			end, _ = strconv.ParseInt(last, 10, 64)
			if end > size-1 {
				end = size - 1
			}
		}
	}
	if start >= size || start > end || start < 0 {
		return 0, 0, errors.Wrapf(ErrorRangeNotSatisfiable, "range %q of %d", header, size)
	}
	return start, end, nil
}

// ContentRange formats the Content-Range header for a 206 response.
func ContentRange(start, end, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", start, end, size)
}
