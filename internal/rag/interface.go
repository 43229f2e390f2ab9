// Package rag defines the data model shared by the ingestion pipeline, the
// snapshot cache, the similarity index, and the retrieval engine, along with
// the small interfaces those components are wired through.
// Concrete implementations live in sibling packages so the engine never
// depends on a specific embedding backend or storage medium.
package rag

import (
	"context"
	"time"
)

// Entry is one labeled logical fact derived from the profile document
// (a summary, a project, an experience record, an FAQ, ...). Entries exist
// only while a corpus is being built.
type Entry struct {
	// SourceID is a stable, human-readable label such as "project:Alpha".
	// It is not guaranteed to be unique.
	SourceID string

	// Text is the full text of the fact before segmentation.
	Text string
}

// Segment is a bounded word window of an Entry's text, prior to embedding.
// Segments are never empty.
type Segment struct {
	// SourceID is inherited from the originating Entry.
	SourceID string

	// Text is the whitespace-normalised window text.
	Text string
}

// Chunk is the persisted, embedded unit of retrievable text.
type Chunk struct {
	// SourceID is the label of the Entry the chunk was cut from.
	SourceID string `json:"source_id"`

	// Text is the segment text that was embedded.
	Text string `json:"text"`

	// Embedding is the provider vector for Text. Its length always equals the
	// owning Collection's Dimension.
	Embedding []float32 `json:"embedding"`
}

// Collection is the full, ordered set of Chunks available for retrieval.
// A Collection is immutable once built; rebuilding produces a new value.
// A non-nil Collection with zero Chunks is a valid (degenerate) build result.
type Collection struct {
	// BuildID identifies the build that produced this collection.
	BuildID string `json:"build_id"`

	// BuiltAt is the UTC time the build finished.
	BuiltAt time.Time `json:"built_at"`

	// Model names the embedding model that produced the vectors.
	Model string `json:"model,omitempty"`

	// Dimension is the fixed embedding width D. Zero only when Chunks is empty.
	Dimension int `json:"dimension"`

	// Chunks holds the retrievable units in deterministic build order.
	Chunks []Chunk `json:"chunks"`
}

// Len returns the number of chunks, treating a nil collection as empty.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Chunks)
}

// Scored pairs a Chunk with its similarity score for a query.
type Scored struct {
	// Chunk is the matched unit.
	Chunk Chunk

	// Score is the cosine similarity in [-1, 1].
	Score float64
}

// Passage is the retrieval result handed to the transport layer and the
// answer composer.
type Passage struct {
	// SourceID is the label of the originating entry.
	SourceID string `json:"source_id"`

	// Text is the chunk text.
	Text string `json:"text"`

	// Score is the cosine similarity between the question and the chunk.
	Score float64 `json:"score"`
}

// Embedder is the interface implemented by embedding providers.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever is the query-time interface consumed by the answer composer and
// the HTTP layer. Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve returns at most k passages ranked by descending relevance.
	Retrieve(ctx context.Context, question string, k int) ([]Passage, error)
}

// Publisher receives every newly built Collection, e.g. to mirror it into an
// external vector database. Publishing is best-effort.
type Publisher interface {
	// Publish replaces the published copy with c.
	Publish(ctx context.Context, c *Collection) error

	// Close releases any resources held by the publisher.
	Close() error
}
