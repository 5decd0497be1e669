// Package watermark draws a translucent text watermark onto images.
package watermark

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/qihaolou/Foxel/fs"
	"github.com/qihaolou/Foxel/processor"
)

// margin keeps corner placements off the image edge.
const margin = 10

func init() {
	processor.Register(&processor.RegInfo{
		Type:          "image_watermark",
		Name:          "Image watermark",
		SupportedExts: []string{"jpg", "jpeg", "png", "bmp"},
		ProducesFile:  true,
		Options: fs.Options{{
			Key:      "text",
			Label:    "Watermark text",
			Type:     fs.TypeString,
			Required: true,
		}, {
			Key:     "position",
			Label:   "Position",
			Type:    fs.TypeSelect,
			Default: "bottom-right",
			Options: []string{"top-left", "center", "bottom-right"},
		}, {
			Key:     "font_size",
			Label:   "Font size",
			Type:    fs.TypeNumber,
			Default: 24,
		}},
		New: func(deps *processor.Deps) processor.Processor {
			return &Watermark{}
		},
	})
}

// Watermark stamps config["text"] onto the image and re-encodes it as
// JPEG.
type Watermark struct{}

// Process decodes the image, draws the text half-transparent white at
// the configured corner and returns the JPEG bytes.
func (w *Watermark) Process(ctx context.Context, path string, data []byte, config map[string]interface{}) (*processor.Result, error) {
	cfg := fs.ConfigMap(config)
	text := cfg.String("text")
	position := cfg.String("position")
	fontSize := cfg.Int("font_size", 24)
	if fontSize < 1 {
		fontSize = 24
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(fs.ErrorInvalidArgument, "decoding %q: %v", path, err)
	}
	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Src)

	if text != "" {
		parsed, err := opentype.Parse(goregular.TTF)
		if err != nil {
			return nil, errors.Wrap(err, "loading watermark font")
		}
		face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
			Size:    float64(fontSize),
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			return nil, errors.Wrap(err, "sizing watermark font")
		}
		defer func() {
			_ = face.Close()
		}()

		drawer := &font.Drawer{
			Dst:  canvas,
			Src:  image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 128}),
			Face: face,
		}
		textW := drawer.MeasureString(text).Ceil()
		metrics := face.Metrics()
		textH := (metrics.Ascent + metrics.Descent).Ceil()
		w, h := bounds.Dx(), bounds.Dy()
		var x, y int
		switch position {
		case "top-left":
			x, y = margin, margin
		case "center":
			x, y = w/2-textW/2, h/2-textH/2
		default: // bottom-right
			x, y = w-textW-margin, h-textH-margin
		}
		drawer.Dot = fixed.Point26_6{
			X: fixed.I(bounds.Min.X + x),
			Y: fixed.I(bounds.Min.Y+y) + metrics.Ascent,
		}
		drawer.DrawString(text)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, nil); err != nil {
		return nil, errors.Wrapf(err, "encoding %q", path)
	}
	fs.Debugf(nil, "watermarked %q (%d bytes in, %d out)", path, len(data), buf.Len())
	return &processor.Result{Data: buf.Bytes(), Mime: "image/jpeg"}, nil
}
