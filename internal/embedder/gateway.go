package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/profilerag-go/internal/rag"
)

var (
	// ErrEmbeddingFailed matches every *EmbeddingError.
	ErrEmbeddingFailed = errors.New("embedder: embedding failed")

	// ErrEmptyInput is returned for empty or whitespace-only text. The
	// provider is never called for such input.
	ErrEmptyInput = errors.New("embedder: empty input")

	// ErrEmptyResponse is returned when the provider answers without a vector.
	ErrEmptyResponse = errors.New("embedder: provider returned no vector")

	// ErrNonFinite is returned when a vector contains NaN or Inf.
	ErrNonFinite = errors.New("embedder: vector contains non-finite values")

	// ErrDimensionConflict is returned when a vector, or a requested pin,
	// disagrees with the dimension already fixed for this process.
	ErrDimensionConflict = errors.New("embedder: dimension conflict")
)

// EmbeddingError reports a failed embedding together with the identifier of
// the input that produced it. errors.Is(err, ErrEmbeddingFailed) is true for
// every EmbeddingError; the underlying cause is available through Unwrap.
type EmbeddingError struct {
	// ID identifies the input, e.g. a segment index or "query".
	ID string
	// Err is the underlying cause.
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedder: embed %s: %v", e.ID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *EmbeddingError) Unwrap() error { return e.Err }

// Is reports whether target is ErrEmbeddingFailed.
func (e *EmbeddingError) Is(target error) bool { return target == ErrEmbeddingFailed }

// GatewayConfig holds the optional knobs of a Gateway.
type GatewayConfig struct {
	// Dimension fixes the expected vector length. 0 means the first
	// successful response (or a Pin call) decides.
	Dimension int

	// Model is the embedding model name, recorded on built collections.
	Model string

	// Timeout bounds each provider call. 0 disables the per-call timeout.
	Timeout time.Duration

	// Limiter throttles outbound provider calls when non-nil.
	Limiter *rate.Limiter
}

// Gateway sends one text per call to a batch rag.Embedder and enforces a
// single vector dimension for the life of the process. It is safe for
// concurrent use.
type Gateway struct {
	provider rag.Embedder
	model    string
	timeout  time.Duration
	limiter  *rate.Limiter

	// dim is the pinned dimension, 0 until known.
	dim atomic.Int64
	// configured is true when dim came from configuration.
	configured bool
}

// NewGateway wraps provider.
func NewGateway(provider rag.Embedder, cfg GatewayConfig) *Gateway {
	g := &Gateway{
		provider:   provider,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		limiter:    cfg.Limiter,
		configured: cfg.Dimension > 0,
	}
	if cfg.Dimension > 0 {
		g.dim.Store(int64(cfg.Dimension))
	}
	return g
}

// Model returns the configured embedding model name.
func (g *Gateway) Model() string { return g.model }

// Dimension returns the pinned dimension, or 0 when not yet known.
func (g *Gateway) Dimension() int { return int(g.dim.Load()) }

// Configured reports whether the dimension was fixed by configuration.
func (g *Gateway) Configured() bool { return g.configured }

// Pin fixes the dimension to d, typically from a loaded snapshot. Pinning to
// the current value is a no-op; pinning to a different value once a
// dimension is known returns ErrDimensionConflict.
func (g *Gateway) Pin(d int) error {
	if d <= 0 {
		return fmt.Errorf("%w: cannot pin dimension %d", ErrDimensionConflict, d)
	}
	if g.dim.CompareAndSwap(0, int64(d)) {
		return nil
	}
	if cur := g.dim.Load(); cur != int64(d) {
		return fmt.Errorf("%w: pinned %d, requested %d", ErrDimensionConflict, cur, d)
	}
	return nil
}

// Embed returns the vector for text. Every failure is an *EmbeddingError
// tagged with id; no placeholder vector is ever returned.
func (g *Gateway) Embed(ctx context.Context, id, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &EmbeddingError{ID: id, Err: ErrEmptyInput}
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, &EmbeddingError{ID: id, Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	vecs, err := g.provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, &EmbeddingError{ID: id, Err: err}
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, &EmbeddingError{ID: id, Err: ErrEmptyResponse}
	}
	vec := vecs[0]

	for _, v := range vec {
		if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, &EmbeddingError{ID: id, Err: ErrNonFinite}
		}
	}

	if !g.dim.CompareAndSwap(0, int64(len(vec))) {
		if want := g.dim.Load(); int64(len(vec)) != want {
			return nil, &EmbeddingError{
				ID:  id,
				Err: fmt.Errorf("%w: got %d values, want %d", ErrDimensionConflict, len(vec), want),
			}
		}
	}
	return vec, nil
}
