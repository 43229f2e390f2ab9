//go:build integration

package embedder

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/54b3r/profilerag-go/internal/index"
)

// TestGateway_OllamaIntegration embeds profile-style passages through a
// Gateway backed by a live Ollama server and checks that a related query
// lands closer to its passage than an unrelated one.
//
//	ollama pull nomic-embed-text
//	go test -tags=integration -run Ollama ./internal/embedder/
//
// OLLAMA_HOST and EMBEDDING_MODEL override the defaults.
func TestGateway_OllamaIntegration(t *testing.T) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = defaultOllamaModel
	}

	g := NewGateway(NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model}), GatewayConfig{
		Model:   model,
		Timeout: 30 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	embed := func(id, text string) []float32 {
		t.Helper()
		v, err := g.Embed(ctx, id, text)
		if err != nil {
			t.Fatalf("Embed(%s): %v (is ollama running with %s pulled?)", id, err, model)
		}
		return v
	}

	billing := embed("experience:Acme", "Led the migration of the billing platform to Go.")
	school := embed("education:MIT", "Studied computer science with a focus on distributed systems.")
	query := embed("query", "Which language was the billing system rewritten in?")

	if g.Dimension() != len(billing) {
		t.Errorf("gateway pinned dimension %d, vectors have %d", g.Dimension(), len(billing))
	}
	near := index.CosineSimilarity(query, billing)
	far := index.CosineSimilarity(query, school)
	if near <= far {
		t.Errorf("billing similarity %.3f should exceed education similarity %.3f", near, far)
	}
	t.Logf("model=%s dim=%d near=%.3f far=%.3f", model, len(billing), near, far)
}
