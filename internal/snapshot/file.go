package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/54b3r/profilerag-go/internal/rag"
)

// fileFormat is the on-disk JSON envelope.
type fileFormat struct {
	Version   int         `json:"version"`
	BuildID   string      `json:"build_id"`
	BuiltAt   time.Time   `json:"built_at"`
	Model     string      `json:"model,omitempty"`
	Dimension int         `json:"dimension"`
	Chunks    []rag.Chunk `json:"chunks"`
}

// FileStore keeps the snapshot in a single JSON file. Save writes a temp file
// in the same directory, fsyncs it, and renames it over the target, so a
// reader sees either the old or the new snapshot.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore for path. The parent directory is created
// on the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Location returns the snapshot path.
func (s *FileStore) Location() string { return s.path }

// Load reads and validates the snapshot file.
func (s *FileStore) Load(_ context.Context) (*rag.Collection, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", s.path, err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrCorrupt, s.path, err)
	}
	if f.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %s has format version %d, want %d", ErrCorrupt, s.path, f.Version, FormatVersion)
	}

	c := &rag.Collection{
		BuildID:   f.BuildID,
		BuiltAt:   f.BuiltAt,
		Model:     f.Model,
		Dimension: f.Dimension,
		Chunks:    f.Chunks,
	}
	if c.Chunks == nil {
		c.Chunks = []rag.Chunk{}
	}
	if err := Validate(c); err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return c, nil
}

// Save atomically replaces the snapshot file with c.
func (s *FileStore) Save(_ context.Context, c *rag.Collection) error {
	if err := validateForSave(c); err != nil {
		return err
	}

	chunks := c.Chunks
	if chunks == nil {
		chunks = []rag.Chunk{}
	}
	data, err := json.Marshal(fileFormat{
		Version:   FormatVersion,
		BuildID:   c.BuildID,
		BuiltAt:   c.BuiltAt,
		Model:     c.Model,
		Dimension: c.Dimension,
		Chunks:    chunks,
	})
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrWrite, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrWrite, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrWrite, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write %s: %w", ErrWrite, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: sync %s: %w", ErrWrite, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrWrite, tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: rename into %s: %w", ErrWrite, s.path, err)
	}
	committed = true

	// Persist the rename itself; failure here does not undo the swap.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// Close is a no-op for FileStore.
func (s *FileStore) Close() error { return nil }
