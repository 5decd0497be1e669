// Package vecdb stores per-path embeddings and answers nearest-neighbour
// and substring searches over them. The searchable unit is a virtual
// path; a record either carries a vector (semantic index) or nothing
// (plain filename index).
package vecdb

import "context"

// Collection is the single bucket all file indexes live in.
const Collection = "vector_collection"

// Match is one search hit. Score is cosine similarity for vector
// searches and 1.0 for substring matches.
type Match struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// Store is the index the vector-index processor writes and the search
// API reads.
type Store interface {
	// EnsureCollection prepares the collection for vectors of the given
	// dimension. dim 0 leaves any recorded dimension unchanged.
	EnsureCollection(ctx context.Context, dim int) error
	// Upsert stores (or replaces) the embedding for path.
	Upsert(ctx context.Context, path string, vec []float32) error
	// InsertPath stores a vector-less record so the path is findable by
	// name only.
	InsertPath(ctx context.Context, path string) error
	// Delete removes the record for path, missing paths included.
	Delete(ctx context.Context, path string) error
	// Search ranks every vector record by cosine similarity to vec.
	Search(ctx context.Context, vec []float32, topK int) ([]Match, error)
	// SearchByPath returns up to topK records whose path contains substr.
	SearchByPath(ctx context.Context, substr string, topK int) ([]Match, error)
	// Close releases the underlying storage.
	Close() error
}
