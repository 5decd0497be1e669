package api

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/qihaolou/Foxel/fs"
	"github.com/qihaolou/Foxel/vecdb"
)

// searchItem is one ranked search hit.
type searchItem struct {
	ID    int     `json:"id"`
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

func searchItems(matches []vecdb.Match) []searchItem {
	items := make([]searchItem, 0, len(matches))
	for i, m := range matches {
		items = append(items, searchItem{ID: i, Path: m.Path, Score: m.Score})
	}
	return items
}

// handleSearch ranks indexed files against the query: mode=vector
// embeds it and runs a similarity search, mode=filename matches the
// stored paths.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		s.fail(w, r, errors.Wrap(fs.ErrorInvalidArgument, "q is required"))
		return
	}
	topK := intQuery(r, "top_k", 10)
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "vector"
	}
	if s.deps.Store == nil {
		s.fail(w, r, errors.Wrap(fs.ErrorInvalidArgument, "no vector store configured"))
		return
	}

	var matches []vecdb.Match
	switch mode {
	case "vector":
		if s.deps.Embedder == nil {
			s.fail(w, r, errors.Wrap(fs.ErrorInvalidArgument, "no embedding provider configured"))
			return
		}
		vec, err := s.deps.Embedder.Embed(r.Context(), q)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		matches, err = s.deps.Store.Search(r.Context(), vec, topK)
		if err != nil {
			s.fail(w, r, err)
			return
		}
	case "filename":
		var err error
		matches, err = s.deps.Store.SearchByPath(r.Context(), q, topK)
		if err != nil {
			s.fail(w, r, err)
			return
		}
	default:
		s.reply(w, r, map[string]interface{}{
			"items": []searchItem{},
			"query": q,
			"error": "invalid search mode",
		})
		return
	}
	s.reply(w, r, map[string]interface{}{
		"items": searchItems(matches),
		"query": q,
	})
}
