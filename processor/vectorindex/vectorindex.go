// Package vectorindex feeds file contents into the vector store so the
// search API can find them semantically. Images are described by the
// vision model first; text files are embedded directly.
package vectorindex

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/qihaolou/Foxel/fs"
	"github.com/qihaolou/Foxel/processor"
)

func init() {
	processor.Register(&processor.RegInfo{
		Type:          "vector_index",
		Name:          "Vector index",
		SupportedExts: []string{"jpg", "jpeg", "png", "bmp", "txt", "md"},
		ProducesFile:  false,
		Options: fs.Options{{
			Key:      "action",
			Label:    "Action",
			Type:     fs.TypeSelect,
			Required: true,
			Default:  "create",
			Options:  []string{"create", "destroy"},
		}, {
			Key:      "index_type",
			Label:    "Index type",
			Type:     fs.TypeSelect,
			Required: true,
			Default:  "vector",
			Options:  []string{"vector", "simple"},
		}},
		New: func(deps *processor.Deps) processor.Processor {
			return &Indexer{deps: deps}
		},
	})
}

// Indexer creates and destroys vector store records for single files.
type Indexer struct {
	deps *processor.Deps
}

var imageExts = map[string]bool{"jpg": true, "jpeg": true, "png": true, "bmp": true}
var textExts = map[string]bool{"txt": true, "md": true}

func mimeForExt(ext string) string {
	switch ext {
	case "png":
		return "image/png"
	case "bmp":
		return "image/bmp"
	default:
		return "image/jpeg"
	}
}

// truncate cuts s to at most n runes, appending an ellipsis when it does.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// Process applies the configured action: destroy removes the record,
// create upserts either a path-only record or a full embedding.
func (ix *Indexer) Process(ctx context.Context, path string, data []byte, config map[string]interface{}) (*processor.Result, error) {
	cfg := fs.ConfigMap(config)
	action := cfg.String("action")
	if action == "" {
		action = "create"
	}
	indexType := cfg.String("index_type")
	if indexType == "" {
		indexType = "vector"
	}
	if ix.deps == nil || ix.deps.Store == nil {
		return nil, errors.New("vector store is not configured")
	}
	store := ix.deps.Store

	if action == "destroy" {
		if err := store.Delete(ctx, path); err != nil {
			return nil, errors.Wrapf(err, "destroying index for %q", path)
		}
		fs.Infof(nil, "destroyed %s index for %q", indexType, path)
		return &processor.Result{Message: fmt.Sprintf("%s index for %s destroyed", indexType, path)}, nil
	}

	if indexType == "simple" {
		if err := store.InsertPath(ctx, path); err != nil {
			return nil, errors.Wrapf(err, "indexing %q", path)
		}
		fs.Infof(nil, "created simple index for %q", path)
		return &processor.Result{Message: fmt.Sprintf("simple index for %s created", path)}, nil
	}

	ext := processor.Ext(path)
	var (
		embedding []float32
		message   string
		err       error
	)
	switch {
	case imageExts[ext]:
		if ix.deps.Describer == nil || ix.deps.Embedder == nil {
			return nil, errors.New("AI endpoints are not configured")
		}
		description, derr := ix.deps.Describer.DescribeImage(ctx, data, mimeForExt(ext))
		if derr != nil {
			return nil, errors.Wrapf(derr, "describing %q", path)
		}
		embedding, err = ix.deps.Embedder.Embed(ctx, description)
		message = "image indexed: " + description
		fs.Infof(nil, "indexed image %q", path)
	case textExts[ext]:
		if ix.deps.Embedder == nil {
			return nil, errors.New("AI endpoints are not configured")
		}
		text := string(data)
		embedding, err = ix.deps.Embedder.Embed(ctx, text)
		message = "text file indexed: " + truncate(text, 100)
		fs.Infof(nil, "indexed text file %q", path)
	default:
		return nil, errors.Wrapf(fs.ErrorInvalidArgument, "cannot index %q files", ext)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "embedding %q", path)
	}
	if err := store.Upsert(ctx, path, embedding); err != nil {
		return nil, errors.Wrapf(err, "indexing %q", path)
	}
	return &processor.Result{Message: message}, nil
}
