package thumb

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qihaolou/Foxel/fs"
)

// stubAdapter serves one file from memory and counts the reads.
type stubAdapter struct {
	fs.Unimplemented
	data  []byte
	size  int64
	mtime int64
	reads int
}

func (a *stubAdapter) Name() string { return "stub" }

func (a *stubAdapter) Type() string { return "stub" }

func (a *stubAdapter) ResolveRoot(subPath string) string { return "" }

func (a *stubAdapter) Stat(ctx context.Context, root, rel string) (*fs.Entry, error) {
	return &fs.Entry{Name: rel, Size: a.size, Mtime: a.mtime, Kind: fs.KindFile}, nil
}

func (a *stubAdapter) Read(ctx context.Context, root, rel string) ([]byte, error) {
	a.reads++
	return a.data, nil
}

// serviceAdapter additionally offers service generated previews.
type serviceAdapter struct {
	stubAdapter
	preview []byte
	thumbs  int
}

func (a *serviceAdapter) Thumbnail(ctx context.Context, root, rel, size string) ([]byte, error) {
	a.thumbs++
	return a.preview, nil
}

// bandsPNG paints three vertical bands (red, green, blue) so crops are
// recognizable after scaling.
func bandsPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			switch {
			case x < w/3:
				img.Set(x, y, color.RGBA{R: 255, A: 255})
			case x < 2*w/3:
				img.Set(x, y, color.RGBA{G: 255, A: 255})
			default:
				img.Set(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeThumb(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "webp", format)
	return img
}

func TestNameClassification(t *testing.T) {
	assert.True(t, IsImageName("/x/Photo.JPG"))
	assert.True(t, IsImageName("shot.arw"))
	assert.True(t, IsRawName("shot.ARW"))
	assert.False(t, IsRawName("shot.png"))
	assert.False(t, IsImageName("notes.txt"))
	assert.False(t, IsImageName("noext"))
}

func TestRenderCoverCropsCenter(t *testing.T) {
	out, err := Render(bandsPNG(t, 300, 100), 50, 50, FitCover, false)
	require.NoError(t, err)
	img := decodeThumb(t, out)
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())

	// The wide source is cropped down to its middle band.
	r, g, b, _ := img.At(25, 25).RGBA()
	assert.Greater(t, g, r)
	assert.Greater(t, g, b)
}

func TestRenderCoverEnlargesSmallSource(t *testing.T) {
	out, err := Render(bandsPNG(t, 30, 20), 256, 256, FitCover, false)
	require.NoError(t, err)
	img := decodeThumb(t, out)
	assert.Equal(t, 256, img.Bounds().Dx())
	assert.Equal(t, 256, img.Bounds().Dy())
}

func TestRenderContainFitsAndNeverEnlarges(t *testing.T) {
	out, err := Render(bandsPNG(t, 300, 100), 50, 50, FitContain, false)
	require.NoError(t, err)
	img := decodeThumb(t, out)
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())

	out, err = Render(bandsPNG(t, 30, 20), 256, 256, FitContain, false)
	require.NoError(t, err)
	img = decodeThumb(t, out)
	assert.Equal(t, 30, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())
}

func TestRenderRejectsGarbage(t *testing.T) {
	_, err := Render([]byte("not an image"), 50, 50, FitCover, false)
	assert.True(t, errors.Is(err, fs.ErrorInvalidArgument))
}

func tinyJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{G: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// rawFixture builds a little-endian TIFF whose second IFD carries an
// embedded JPEG preview, the layout RAW files store theirs in.
func rawFixture(t *testing.T, preview []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	le := binary.LittleEndian
	w16 := func(v uint16) { require.NoError(t, binary.Write(&buf, le, v)) }
	w32 := func(v uint32) { require.NoError(t, binary.Write(&buf, le, v)) }

	buf.WriteString("II")
	w16(0x2A)
	w32(8)
	// IFD0: a lone ImageWidth entry, then the link to IFD1.
	ifd1 := uint32(8 + 2 + 12 + 4)
	w16(1)
	w16(0x0100)
	w16(3)
	w32(1)
	w32(8)
	w32(ifd1)
	// IFD1: preview offset and length.
	jpegOff := ifd1 + 2 + 2*12 + 4
	w16(2)
	w16(0x0201)
	w16(4)
	w32(1)
	w32(jpegOff)
	w16(0x0202)
	w16(4)
	w32(1)
	w32(uint32(len(preview)))
	w32(0)
	buf.Write(preview)
	return buf.Bytes()
}

func TestRawPreviewJPEG(t *testing.T) {
	preview := tinyJPEG(t)
	got, err := RawPreviewJPEG(rawFixture(t, preview))
	require.NoError(t, err)
	assert.Equal(t, preview, got)

	_, err = RawPreviewJPEG([]byte("II*\x00garbage"))
	assert.True(t, errors.Is(err, fs.ErrorInvalidArgument))
}

func TestRenderRawSource(t *testing.T) {
	out, err := Render(rawFixture(t, tinyJPEG(t)), 8, 8, FitContain, true)
	require.NoError(t, err)
	img := decodeThumb(t, out)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())
}

func TestGetOrCreateCaches(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir)
	a := &stubAdapter{data: bandsPNG(t, 300, 100), mtime: 1714650000}
	a.size = int64(len(a.data))
	ctx := context.Background()

	th, err := c.GetOrCreate(ctx, a, 7, "", "pics/banner.png", 64, 64, FitCover)
	require.NoError(t, err)
	assert.Equal(t, "image/webp", th.Mime)
	assert.Len(t, th.Key, 40)
	assert.Equal(t, 1, a.reads)

	cached, err := os.ReadFile(filepath.Join(dir, th.Key[0:2], th.Key[2:4], th.Key+".webp"))
	require.NoError(t, err)
	assert.Equal(t, th.Data, cached)

	// Served from disk the second time around.
	again, err := c.GetOrCreate(ctx, a, 7, "", "pics/banner.png", 64, 64, FitCover)
	require.NoError(t, err)
	assert.Equal(t, th.Key, again.Key)
	assert.Equal(t, 1, a.reads)

	// Touching the source moves to a new key and re-renders.
	a.mtime++
	third, err := c.GetOrCreate(ctx, a, 7, "", "pics/banner.png", 64, 64, FitCover)
	require.NoError(t, err)
	assert.NotEqual(t, th.Key, third.Key)
	assert.Equal(t, 2, a.reads)
}

func TestGetOrCreateRejects(t *testing.T) {
	c := NewCache(t.TempDir())
	ctx := context.Background()

	a := &stubAdapter{data: []byte("x"), size: 1}
	_, err := c.GetOrCreate(ctx, a, 1, "", "a.png", 64, 64, "stretch")
	assert.True(t, errors.Is(err, fs.ErrorInvalidArgument))

	big := &stubAdapter{size: maxSourceSize + 1}
	_, err = c.GetOrCreate(ctx, big, 1, "", "a.png", 64, 64, FitCover)
	assert.True(t, errors.Is(err, fs.ErrorInvalidArgument))
	assert.Equal(t, 0, big.reads)
}

func TestServiceThumbnailPreferred(t *testing.T) {
	c := NewCache(t.TempDir())
	a := &serviceAdapter{preview: bandsPNG(t, 60, 60)}
	a.size = 1000

	th, err := c.GetOrCreate(context.Background(), a, 1, "", "a.png", 32, 32, FitContain)
	require.NoError(t, err)
	assert.Equal(t, 1, a.thumbs)
	assert.Equal(t, 0, a.reads)
	img := decodeThumb(t, th.Data)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())
}
