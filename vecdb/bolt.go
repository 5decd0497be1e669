package vecdb

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/qihaolou/Foxel/fs"
)

// dimKey records the vector dimension inside the collection bucket.
// Virtual paths always start with "/" so the key cannot collide.
const dimKey = "#dim"

// Bolt is the file-backed Store. One bucket holds every record keyed by
// path; the value is the embedding as little-endian float32s, empty for
// path-only records. Ranking is a brute-force cosine scan, which is
// plenty for the collection sizes a personal drive produces.
type Bolt struct {
	db *bolt.DB
}

// Open creates or opens the store file, making parent directories as
// needed.
func Open(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "creating vector store directory")
	}
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "opening vector store")
	}
	fs.Debugf(nil, "vector store open at %s", path)
	return &Bolt{db: db}, nil
}

// Close releases the store file.
func (s *Bolt) Close() error {
	return s.db.Close()
}

// EnsureCollection creates the collection bucket and pins the vector
// dimension on first use.
func (s *Bolt) EnsureCollection(ctx context.Context, dim int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(Collection))
		if err != nil {
			return err
		}
		if dim <= 0 || bkt.Get([]byte(dimKey)) != nil {
			return nil
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(dim))
		return bkt.Put([]byte(dimKey), buf[:])
	})
}

func encodeVec(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVec(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}

// Upsert stores the embedding for path, replacing any previous record.
func (s *Bolt) Upsert(ctx context.Context, path string, vec []float32) error {
	if err := s.EnsureCollection(ctx, len(vec)); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(Collection)).Put([]byte(path), encodeVec(vec))
	})
}

// InsertPath stores a vector-less record for path.
func (s *Bolt) InsertPath(ctx context.Context, path string) error {
	if err := s.EnsureCollection(ctx, 0); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(Collection)).Put([]byte(path), nil)
	})
}

// Delete removes the record for path. Deleting a missing path is fine.
func (s *Bolt) Delete(ctx context.Context, path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(Collection))
		if bkt == nil {
			return nil
		}
		return bkt.Delete([]byte(path))
	})
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Search scans every vector record and returns the topK most similar.
func (s *Bolt) Search(ctx context.Context, vec []float32, topK int) ([]Match, error) {
	if topK < 1 {
		topK = 10
	}
	var matches []Match
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(Collection))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(k, v []byte) error {
			if string(k) == dimKey || len(v) != 4*len(vec) || len(v) == 0 {
				return nil
			}
			matches = append(matches, Match{Path: string(k), Score: cosine(vec, decodeVec(v))})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// SearchByPath returns up to topK records whose path contains substr,
// in path order.
func (s *Bolt) SearchByPath(ctx context.Context, substr string, topK int) ([]Match, error) {
	if topK < 1 {
		topK = 20
	}
	var matches []Match
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(Collection))
		if bkt == nil {
			return nil
		}
		c := bkt.Cursor()
		for k, _ := c.First(); k != nil && len(matches) < topK; k, _ = c.Next() {
			if string(k) == dimKey || !strings.Contains(string(k), substr) {
				continue
			}
			matches = append(matches, Match{Path: string(k), Score: 1.0})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}
