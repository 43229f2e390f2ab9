// Package index ranks the chunks of a Collection against a query vector by
// cosine similarity with a linear scan. An Index is immutable after New and
// safe for concurrent Search calls.
package index

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/54b3r/profilerag-go/internal/rag"
)

// Epsilon is added to the norm product so all-zero vectors score 0 instead
// of dividing by zero.
const Epsilon = 1e-8

// ErrDimensionMismatch is returned when the query length differs from the
// collection dimension.
var ErrDimensionMismatch = errors.New("index: query dimension mismatch")

// Index is a read-only, brute-force cosine index over one Collection.
type Index struct {
	coll  *rag.Collection
	norms []float64
}

// New precomputes the chunk norms of coll. A nil collection yields an empty
// index.
func New(coll *rag.Collection) *Index {
	if coll == nil {
		coll = &rag.Collection{}
	}
	norms := make([]float64, len(coll.Chunks))
	for i, ch := range coll.Chunks {
		norms[i] = norm(ch.Embedding)
	}
	return &Index{coll: coll, norms: norms}
}

// Collection returns the indexed collection. Callers must not modify it.
func (x *Index) Collection() *rag.Collection { return x.coll }

// Len returns the number of indexed chunks.
func (x *Index) Len() int { return len(x.coll.Chunks) }

// Dimension returns the collection's vector dimension.
func (x *Index) Dimension() int { return x.coll.Dimension }

// Search returns at most k chunks ordered by descending cosine similarity to
// query. Ties keep collection order. An empty index returns an empty result
// for any query, and k <= 0 returns an empty result.
func (x *Index) Search(query []float32, k int) ([]rag.Scored, error) {
	n := len(x.coll.Chunks)
	if n == 0 || k <= 0 {
		return []rag.Scored{}, nil
	}
	if len(query) != x.coll.Dimension {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrDimensionMismatch, len(query), x.coll.Dimension)
	}

	qn := norm(query)
	scored := make([]rag.Scored, n)
	for i, ch := range x.coll.Chunks {
		scored[i] = rag.Scored{Chunk: ch, Score: dot(query, ch.Embedding) / (qn*x.norms[i] + Epsilon)}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return scored[:min(k, n)], nil
}

// CosineSimilarity returns dot(a,b) / (‖a‖·‖b‖ + Epsilon), accumulated in
// float64. Vectors of different length score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	return dot(a, b) / (norm(a)*norm(b) + Epsilon)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}
