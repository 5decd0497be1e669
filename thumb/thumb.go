// Package thumb renders WebP thumbnails and keeps them in an on-disk
// cache addressed by the source identity and the requested geometry.
// Camera RAW files contribute their embedded JPEG preview instead of a
// full decode.
package thumb

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"image"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
	"github.com/rwcarlsen/goexif/exif"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/singleflight"

	// Decoders for the source formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/qihaolou/Foxel/fs"
)

const (
	// maxSourceSize caps what a thumbnail request will download.
	maxSourceSize = 200 * 1024 * 1024

	webpQuality = 80

	FitCover   = "cover"
	FitContain = "contain"
)

var rawExts = map[string]bool{
	"arw": true, "cr2": true, "cr3": true, "nef": true,
	"rw2": true, "orf": true, "pef": true, "dng": true,
}

var imageExts = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "webp": true,
	"gif": true, "bmp": true, "tiff": true,
}

func lowerExt(name string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
}

// IsImageName reports whether name has an extension the thumbnailer can
// render, RAW formats included.
func IsImageName(name string) bool {
	ext := lowerExt(name)
	return imageExts[ext] || rawExts[ext]
}

// IsRawName reports whether name is a camera RAW file.
func IsRawName(name string) bool {
	return rawExts[lowerExt(name)]
}

// Thumbnailer is the optional adapter capability of producing a service
// generated preview, sparing the source download. A nil slice with no
// error means the service has none.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, root, rel, size string) ([]byte, error)
}

// Thumb is one rendered thumbnail. Key doubles as the HTTP ETag.
type Thumb struct {
	Data []byte
	Mime string
	Key  string
}

// Cache renders thumbnails and keeps them under dir. Concurrent
// requests for the same key collapse into a single render.
type Cache struct {
	dir string
	sf  singleflight.Group
}

// NewCache returns a cache rooted at dir, conventionally
// data/.thumb_cache.
func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

// Key builds the content address of one thumbnail request. A change in
// any input, the source size and mtime included, moves to a new key.
func Key(adapterID uint, rel string, size, mtime int64, w, h int, fit string) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%d|%s|%d|%d|%dx%d|%s", adapterID, rel, size, mtime, w, h, fit)))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) pathFor(key string) string {
	return filepath.Join(c.dir, key[0:2], key[2:4], key+".webp")
}

// GetOrCreate returns the cached thumbnail for the request, rendering
// and caching it on a miss. adapterID keys the cache per mount so two
// mounts with equal rel paths do not collide.
func (c *Cache) GetOrCreate(ctx context.Context, adapter fs.Adapter, adapterID uint, root, rel string, w, h int, fit string) (*Thumb, error) {
	if fit != FitCover && fit != FitContain {
		return nil, errors.Wrapf(fs.ErrorInvalidArgument, "fit must be cover|contain, not %q", fit)
	}
	entry, err := adapter.Stat(ctx, root, rel)
	if err != nil {
		return nil, err
	}
	if entry.IsDir {
		return nil, errors.Wrapf(fs.ErrorIsDirectory, "thumb %q", rel)
	}
	if entry.Size > maxSourceSize {
		return nil, errors.Wrapf(fs.ErrorInvalidArgument, "source too large for a thumbnail (%d bytes)", entry.Size)
	}
	key := Key(adapterID, rel, entry.Size, entry.Mtime, w, h, fit)
	file := c.pathFor(key)
	if data, err := os.ReadFile(file); err == nil {
		return &Thumb{Data: data, Mime: "image/webp", Key: key}, nil
	}
	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		if data, err := os.ReadFile(file); err == nil {
			return data, nil
		}
		source, err := c.source(ctx, adapter, root, rel)
		if err != nil {
			return nil, err
		}
		data, err := Render(source, w, h, fit, IsRawName(rel))
		if err != nil {
			return nil, err
		}
		if err := writeAtomic(file, data); err != nil {
			return nil, err
		}
		fs.Debugf(adapter, "rendered thumbnail %s for %q", key, rel)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return &Thumb{Data: v.([]byte), Mime: "image/webp", Key: key}, nil
}

// source picks the bytes to render: a service generated preview when
// the adapter offers one, else the file itself. RAW files are always
// read whole so the embedded preview can be extracted.
func (c *Cache) source(ctx context.Context, adapter fs.Adapter, root, rel string) ([]byte, error) {
	if tn, ok := adapter.(Thumbnailer); ok && !IsRawName(rel) {
		if data, err := tn.Thumbnail(ctx, root, rel, "large"); err == nil && len(data) > 0 {
			return data, nil
		}
	}
	return adapter.Read(ctx, root, rel)
}

// Render decodes source bytes and produces the WebP thumbnail.
func Render(data []byte, w, h int, fit string, raw bool) ([]byte, error) {
	if raw {
		preview, err := RawPreviewJPEG(data)
		if err != nil {
			return nil, err
		}
		data = preview
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(fs.ErrorInvalidArgument, "decoding image: %v", err)
	}
	var out image.Image
	if fit == FitCover {
		out = coverScale(src, w, h)
	} else {
		out = containScale(src, w, h)
	}
	var buf bytes.Buffer
	if err := webp.Encode(&buf, out, &webp.Options{Quality: webpQuality}); err != nil {
		return nil, errors.Wrap(err, "encoding webp")
	}
	return buf.Bytes(), nil
}

// RawPreviewJPEG extracts the embedded JPEG preview out of a TIFF based
// RAW camera file. Demosaicing the sensor data is not attempted.
func RawPreviewJPEG(data []byte) ([]byte, error) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(fs.ErrorInvalidArgument, "parsing raw file: %v", err)
	}
	preview, err := x.JpegThumbnail()
	if err != nil {
		return nil, errors.Wrapf(fs.ErrorInvalidArgument, "raw file has no embedded preview: %v", err)
	}
	return preview, nil
}

func scaleTo(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// coverScale scales the shortest side to meet the target box and
// center-crops the overflow, yielding exactly w by h.
func coverScale(src image.Image, w, h int) image.Image {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if sw == 0 || sh == 0 {
		return scaleTo(src, w, h)
	}
	var nw, nh int
	if sw*h > w*sh {
		nh = h
		nw = sw * h / sh
	} else {
		nw = w
		nh = sh * w / sw
	}
	if nw < w {
		nw = w
	}
	if nh < h {
		nh = h
	}
	scaled := scaleTo(src, nw, nh)
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(out, out.Bounds(), scaled, image.Pt((nw-w)/2, (nh-h)/2), xdraw.Src)
	return out
}

// containScale fits the image inside the target box, keeping the
// aspect ratio and never enlarging.
func containScale(src image.Image, w, h int) image.Image {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	if sw <= w && sh <= h {
		return src
	}
	var nw, nh int
	if sw*h > w*sh {
		nw = w
		nh = sh * w / sw
	} else {
		nh = h
		nw = sw * h / sh
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return scaleTo(src, nw, nh)
}

func writeAtomic(file string, data []byte) error {
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "creating cache directory")
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "creating cache file")
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "writing cache file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "writing cache file")
	}
	return os.Rename(tmp.Name(), file)
}
