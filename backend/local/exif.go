package local

import (
	"os"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// tagCollector accumulates EXIF tags into a flat string map.
type tagCollector map[string]string

func (c tagCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	c[string(name)] = strings.Trim(tag.String(), `"`)
	return nil
}

// exifFields reads the EXIF tags of an image file. It returns nil for
// directories, non-images and files without EXIF data.
func exifFields(full string) map[string]string {
	if !strings.HasPrefix(detectMime(full), "image/") {
		return nil
	}
	fh, err := os.Open(full)
	if err != nil {
		return nil
	}
	defer func() { _ = fh.Close() }()
	ex, err := exif.Decode(fh)
	if err != nil {
		return nil
	}
	fields := make(tagCollector)
	if err := ex.Walk(fields); err != nil {
		return nil
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}
