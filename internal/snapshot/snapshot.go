// Package snapshot persists a built Collection so a restart can skip the
// embedding pass. Two backends share one contract: a JSON file replaced by
// rename, and a SQLite database replaced inside one transaction. Both
// validate on load and on save; a snapshot that fails validation is
// reported as ErrCorrupt and must be treated as a cache miss.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/54b3r/profilerag-go/internal/rag"
)

// FormatVersion is the persisted layout version. Snapshots with any other
// version are rejected as corrupt.
const FormatVersion = 1

var (
	// ErrNotFound is returned by Load when no snapshot exists.
	ErrNotFound = errors.New("snapshot: not found")

	// ErrCorrupt is returned by Load when the snapshot cannot be decoded or
	// fails validation.
	ErrCorrupt = errors.New("snapshot: corrupt")

	// ErrWrite is returned by Save when the snapshot could not be written.
	// The previously saved snapshot, if any, is left intact.
	ErrWrite = errors.New("snapshot: write failed")
)

// Store loads and saves Collection snapshots. Implementations must be safe
// for concurrent use and must never expose a partially written snapshot.
type Store interface {
	// Load returns the saved Collection, ErrNotFound, or an ErrCorrupt error.
	Load(ctx context.Context) (*rag.Collection, error)
	// Save replaces the saved Collection with c.
	Save(ctx context.Context, c *rag.Collection) error
	// Location describes where the snapshot lives, for logs.
	Location() string
	// Close releases any resources held by the store.
	Close() error
}

// Validate checks the structural invariants every persisted Collection must
// satisfy. The returned error wraps ErrCorrupt.
func Validate(c *rag.Collection) error {
	if c == nil {
		return fmt.Errorf("%w: nil collection", ErrCorrupt)
	}
	if len(c.Chunks) > 0 && c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension %d with %d chunks", ErrCorrupt, c.Dimension, len(c.Chunks))
	}
	for i, ch := range c.Chunks {
		if strings.TrimSpace(ch.SourceID) == "" {
			return fmt.Errorf("%w: chunk %d has an empty source_id", ErrCorrupt, i)
		}
		if strings.TrimSpace(ch.Text) == "" {
			return fmt.Errorf("%w: chunk %d (%s) has empty text", ErrCorrupt, i, ch.SourceID)
		}
		if len(ch.Embedding) != c.Dimension {
			return fmt.Errorf("%w: chunk %d (%s) has %d values, want %d", ErrCorrupt, i, ch.SourceID, len(ch.Embedding), c.Dimension)
		}
		for _, v := range ch.Embedding {
			if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
				return fmt.Errorf("%w: chunk %d (%s) has non-finite values", ErrCorrupt, i, ch.SourceID)
			}
		}
	}
	return nil
}

// validateForSave runs Validate and reports failures as write errors, since
// an invalid collection must never reach disk.
func validateForSave(c *rag.Collection) error {
	if err := Validate(c); err != nil {
		return fmt.Errorf("%w: refusing to persist invalid collection: %w", ErrWrite, err)
	}
	return nil
}
