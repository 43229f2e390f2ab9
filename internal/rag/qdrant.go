package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// qdrantUpsertBatch caps the number of points sent per Upsert call.
const qdrantUpsertBatch = 256

// QdrantConfig holds connection parameters for the Qdrant mirror.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection that receives the mirrored chunks.
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantMirror implements Publisher by replacing a Qdrant collection with the
// contents of each newly built Collection. Retrieval never reads from it; it
// exists so other services can query the same corpus.
type QdrantMirror struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this mirror.
	cfg *QdrantConfig
}

// NewQdrantMirror connects to Qdrant. The target collection is created lazily
// on the first Publish because its vector size is only known after a build.
func NewQdrantMirror(cfg *QdrantConfig) (*QdrantMirror, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "profilerag-chunks"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &QdrantMirror{client: client, cfg: cfg}, nil
}

// Client exposes the gRPC client so readiness probes can share the connection.
func (m *QdrantMirror) Client() *qdrant.Client { return m.client }

// Publish drops and recreates the mirror collection, then upserts every chunk
// with its source_id and text as payload. Point IDs are the chunk positions.
func (m *QdrantMirror) Publish(ctx context.Context, c *Collection) error {
	if c == nil {
		return fmt.Errorf("qdrant: nil collection")
	}
	if c.Len() == 0 {
		// Nothing to size the collection with; leave the previous mirror alone.
		return nil
	}

	if err := m.recreate(ctx, uint64(c.Dimension)); err != nil { //nolint:gosec // dimension is validated positive
		return err
	}

	wait := true
	for start := 0; start < len(c.Chunks); start += qdrantUpsertBatch {
		end := min(start+qdrantUpsertBatch, len(c.Chunks))

		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			ch := c.Chunks[i]
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDNum(uint64(i)), //nolint:gosec // index is non-negative
				Vectors: qdrant.NewVectors(ch.Embedding...),
				Payload: qdrant.NewValueMap(map[string]any{
					"source_id": ch.SourceID,
					"text":      ch.Text,
					"build_id":  c.BuildID,
				}),
			})
		}

		if _, err := m.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: m.cfg.Collection,
			Wait:           &wait,
			Points:         points,
		}); err != nil {
			return fmt.Errorf("qdrant: upsert failed: %w", err)
		}
	}

	return nil
}

// recreate deletes the mirror collection if present and creates it again with
// the given vector size and cosine distance.
func (m *QdrantMirror) recreate(ctx context.Context, size uint64) error {
	exists, err := m.client.CollectionExists(ctx, m.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		if err := m.client.DeleteCollection(ctx, m.cfg.Collection); err != nil {
			return fmt.Errorf("qdrant: failed to drop collection %q: %w", m.cfg.Collection, err)
		}
	}

	err = m.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: m.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     size,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", m.cfg.Collection, err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (m *QdrantMirror) Close() error {
	return m.client.Close()
}
