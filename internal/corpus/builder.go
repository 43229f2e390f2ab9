// Package corpus turns a profile document into an embedded Collection:
// document → labeled entries → word-window segments → embeddings → chunks.
// Embedding runs concurrently under a configurable cap, and segments whose
// embedding fails are dropped and counted rather than failing the build.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/profilerag-go/internal/logging"
	"github.com/54b3r/profilerag-go/internal/profile"
	"github.com/54b3r/profilerag-go/internal/rag"
	"github.com/54b3r/profilerag-go/internal/segment"
)

const (
	// DefaultConcurrency caps in-flight embedding calls when Config leaves it unset.
	DefaultConcurrency = 8

	// DefaultMaxLoggedFailures bounds the individually logged embedding failures.
	DefaultMaxLoggedFailures = 5
)

// ErrTooManyFailures is returned when AbortOnThreshold is set and the share
// of failed segments exceeds FailureThreshold.
var ErrTooManyFailures = errors.New("corpus: too many embedding failures")

// Embedder is the per-text embedding contract the builder needs.
// *embedder.Gateway satisfies it.
type Embedder interface {
	Embed(ctx context.Context, id, text string) ([]float32, error)
	Dimension() int
	Model() string
}

// Config holds the settings for a Builder.
type Config struct {
	// Segmenter splits entry text. Defaults to segment.Default().
	Segmenter *segment.Segmenter

	// Concurrency caps in-flight embedding calls. 0 means unbounded.
	Concurrency int

	// MaxLoggedFailures bounds individually logged failures. 0 selects
	// DefaultMaxLoggedFailures; a negative value logs only the aggregate.
	MaxLoggedFailures int

	// FailureThreshold is the failed/total segment ratio above which the
	// report is marked ThresholdExceeded. The default 0 flags any failure.
	FailureThreshold float64

	// AbortOnThreshold fails the build with ErrTooManyFailures when the
	// threshold is exceeded. When false the build completes with the
	// succeeding subset.
	AbortOnThreshold bool
}

// Report summarises one build.
type Report struct {
	BuildID           string        `json:"build_id"`
	Entries           int           `json:"entries"`
	Segments          int           `json:"segments"`
	Chunks            int           `json:"chunks"`
	Failures          int           `json:"failures"`
	ThresholdExceeded bool          `json:"threshold_exceeded"`
	Duration          time.Duration `json:"duration_ns"`
}

// Builder runs the document → Collection pipeline. It holds no state between
// builds and is safe for concurrent use.
type Builder struct {
	emb Embedder
	cfg Config
}

// NewBuilder constructs a Builder.
func NewBuilder(emb Embedder, cfg Config) (*Builder, error) {
	if emb == nil {
		return nil, fmt.Errorf("corpus: embedder must not be nil")
	}
	if cfg.Segmenter == nil {
		cfg.Segmenter = segment.Default()
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("corpus: concurrency %d must not be negative", cfg.Concurrency)
	}
	if cfg.MaxLoggedFailures == 0 {
		cfg.MaxLoggedFailures = DefaultMaxLoggedFailures
	}
	if cfg.FailureThreshold < 0 || cfg.FailureThreshold > 1 {
		return nil, fmt.Errorf("corpus: failure threshold %v must be within [0, 1]", cfg.FailureThreshold)
	}
	return &Builder{emb: emb, cfg: cfg}, nil
}

// Build derives, segments, and embeds every entry of doc. The returned
// Collection keeps successful segments in segment order; it may be empty.
// A cancelled ctx fails the build; a partial Collection is never returned.
func (b *Builder) Build(ctx context.Context, doc *profile.Document) (*rag.Collection, *Report, error) {
	start := time.Now()
	report := &Report{BuildID: uuid.NewString()}
	log := logging.FromContext(ctx).With(slog.String("build_id", report.BuildID))

	entries := Entries(doc)
	var segs []rag.Segment
	for _, e := range entries {
		segs = append(segs, b.cfg.Segmenter.Entry(e)...)
	}
	report.Entries = len(entries)
	report.Segments = len(segs)

	vecs := make([][]float32, len(segs))
	errs := make([]error, len(segs))

	var g errgroup.Group
	if b.cfg.Concurrency > 0 {
		g.SetLimit(b.cfg.Concurrency)
	}
	for i, sg := range segs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			vecs[i], errs[i] = b.emb.Embed(ctx, strconv.Itoa(i)+"/"+sg.SourceID, sg.Text)
			return nil
		})
	}
	_ = g.Wait() // tasks never return errors; outcomes are in errs

	if err := ctx.Err(); err != nil {
		report.Duration = time.Since(start)
		return nil, report, fmt.Errorf("corpus: build cancelled: %w", err)
	}

	chunks := make([]rag.Chunk, 0, len(segs))
	for i, sg := range segs {
		if errs[i] != nil {
			report.Failures++
			if b.cfg.MaxLoggedFailures > 0 && report.Failures <= b.cfg.MaxLoggedFailures {
				log.Warn("corpus: segment dropped",
					slog.String("source_id", sg.SourceID),
					slog.Int("segment", i),
					slog.String("error", errs[i].Error()),
				)
			}
			continue
		}
		chunks = append(chunks, rag.Chunk{SourceID: sg.SourceID, Text: sg.Text, Embedding: vecs[i]})
	}
	report.Chunks = len(chunks)

	if report.Failures > 0 {
		ratio := float64(report.Failures) / float64(report.Segments)
		report.ThresholdExceeded = ratio > b.cfg.FailureThreshold
		log.Warn("corpus: embedding failures during build",
			slog.Int("failures", report.Failures),
			slog.Int("segments", report.Segments),
			slog.Int("chunks", report.Chunks),
			slog.Float64("failure_ratio", ratio),
			slog.Bool("threshold_exceeded", report.ThresholdExceeded),
		)
	}
	report.Duration = time.Since(start)

	if report.ThresholdExceeded && b.cfg.AbortOnThreshold {
		return nil, report, fmt.Errorf("%w: %d of %d segments failed", ErrTooManyFailures, report.Failures, report.Segments)
	}

	coll := &rag.Collection{
		BuildID:   report.BuildID,
		BuiltAt:   time.Now().UTC(),
		Model:     b.emb.Model(),
		Dimension: b.emb.Dimension(),
		Chunks:    chunks,
	}
	if len(chunks) > 0 {
		coll.Dimension = len(chunks[0].Embedding)
	}

	log.Info("corpus: build complete",
		slog.Int("entries", report.Entries),
		slog.Int("segments", report.Segments),
		slog.Int("chunks", report.Chunks),
		slog.Int("failures", report.Failures),
		slog.Duration("duration", report.Duration),
	)
	return coll, report, nil
}
