// Package engine owns the installed Collection and its similarity index. It
// loads a snapshot or builds the corpus at startup, serves retrieval from an
// atomically swapped index, and runs forced rebuilds without ever exposing a
// partially built collection to readers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/profilerag-go/internal/corpus"
	"github.com/54b3r/profilerag-go/internal/index"
	"github.com/54b3r/profilerag-go/internal/profile"
	"github.com/54b3r/profilerag-go/internal/rag"
	"github.com/54b3r/profilerag-go/internal/snapshot"
)

const (
	// DefaultTopK is used when Retrieve is called with k <= 0.
	DefaultTopK = 5
	// DefaultMaxTopK caps k for a single Retrieve call.
	DefaultMaxTopK = 50
)

var (
	// ErrNotReady is returned by Retrieve before the first collection is
	// installed.
	ErrNotReady = errors.New("engine: not ready")

	// ErrEmptyQuestion is returned by Retrieve for a blank question.
	ErrEmptyQuestion = errors.New("engine: empty question")

	// ErrQueryEmbedding wraps the embedding failure of a question.
	ErrQueryEmbedding = errors.New("engine: query embedding failed")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("engine: already started")

	// ErrRebuildInProgress is returned by ForceRebuild while another build runs.
	ErrRebuildInProgress = errors.New("engine: rebuild already in progress")
)

// State is the engine lifecycle state.
type State int32

const (
	// Uninitialized means Start has not run, or the first build failed.
	Uninitialized State = iota
	// Loading means a snapshot load or a build is in progress.
	Loading
	// Ready means a collection is installed and no build is running.
	Ready
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Source supplies the profile document for each build.
type Source interface {
	Load(ctx context.Context) (*profile.Document, error)
}

// Builder turns a document into a Collection. *corpus.Builder satisfies it.
type Builder interface {
	Build(ctx context.Context, doc *profile.Document) (*rag.Collection, *corpus.Report, error)
}

// QueryEmbedder embeds questions and owns the process-wide dimension.
// *embedder.Gateway satisfies it.
type QueryEmbedder interface {
	Embed(ctx context.Context, id, text string) ([]float32, error)
	Dimension() int
	Configured() bool
	Pin(d int) error
}

// Config holds the dependencies and settings of an Engine.
type Config struct {
	// Source supplies the profile document. Required.
	Source Source
	// Builder runs the corpus pipeline. Required.
	Builder Builder
	// Embedder embeds questions. Required.
	Embedder QueryEmbedder

	// Snapshot caches built collections. Nil disables the cache.
	Snapshot snapshot.Store
	// Publisher mirrors each newly built collection. Nil disables mirroring.
	Publisher rag.Publisher

	// ForceRebuild skips the snapshot at Start.
	ForceRebuild bool
	// BuildTimeout bounds a single build. 0 disables the timeout.
	BuildTimeout time.Duration

	// DefaultTopK applies when Retrieve gets k <= 0 (default DefaultTopK).
	DefaultTopK int
	// MaxTopK caps k (default DefaultMaxTopK).
	MaxTopK int

	// Registerer receives the engine metrics. Nil disables registration.
	Registerer prometheus.Registerer
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// RebuildReport describes the outcome of a build run by Start or ForceRebuild.
type RebuildReport struct {
	// Origin is "snapshot" when Start installed a cached collection, else "build".
	Origin string `json:"origin"`
	// BuildID identifies the installed (or attempted) collection.
	BuildID string `json:"build_id,omitempty"`
	// Chunks is the size of the installed collection.
	Chunks int `json:"chunks"`
	// Build is the corpus report; nil for snapshot loads.
	Build *corpus.Report `json:"build,omitempty"`
	// SnapshotError is set when the new collection could not be persisted.
	SnapshotError string `json:"snapshot_error,omitempty"`
	// PublishError is set when the mirror publish failed.
	PublishError string `json:"publish_error,omitempty"`
}

// Engine is the retrieval orchestrator. It is safe for concurrent use.
type Engine struct {
	cfg     Config
	log     *slog.Logger
	metrics *engineMetrics

	state   atomic.Int32
	current atomic.Pointer[index.Index]
	started atomic.Bool

	// buildMu serialises Start's build and forced rebuilds.
	buildMu sync.Mutex
}

// New validates cfg and returns an Engine in the Uninitialized state.
func New(cfg Config) (*Engine, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("engine: source must not be nil")
	}
	if cfg.Builder == nil {
		return nil, fmt.Errorf("engine: builder must not be nil")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("engine: embedder must not be nil")
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = DefaultTopK
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = DefaultMaxTopK
	}
	cfg.DefaultTopK = min(cfg.DefaultTopK, cfg.MaxTopK)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: newEngineMetrics(cfg.Registerer),
	}, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	e.metrics.state.Set(float64(s))
}

// Collection returns the installed collection, or nil before the first
// install. Callers must not modify it.
func (e *Engine) Collection() *rag.Collection {
	if idx := e.current.Load(); idx != nil {
		return idx.Collection()
	}
	return nil
}

// Chunks returns the installed chunks in collection order, or nil before the
// first install.
func (e *Engine) Chunks() []rag.Chunk {
	c := e.Collection()
	if c == nil {
		return nil
	}
	return append([]rag.Chunk(nil), c.Chunks...)
}

// Ping reports ErrNotReady until a collection is installed. It lets the
// engine act as a readiness probe.
func (e *Engine) Ping(_ context.Context) error {
	if e.current.Load() == nil {
		return fmt.Errorf("%w: state %s", ErrNotReady, e.State())
	}
	return nil
}

// Start installs the first collection: from the snapshot when one is valid
// and rebuilding is not forced, otherwise by building and saving. A failure
// of that first build is returned and leaves the engine Uninitialized.
func (e *Engine) Start(ctx context.Context) (*RebuildReport, error) {
	if !e.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	e.setState(Loading)

	if !e.cfg.ForceRebuild && e.cfg.Snapshot != nil {
		if coll, ok := e.loadSnapshot(ctx); ok {
			e.install(coll)
			e.setState(Ready)
			return &RebuildReport{Origin: "snapshot", BuildID: coll.BuildID, Chunks: coll.Len()}, nil
		}
	}

	report, err := e.rebuild(ctx)
	if err != nil {
		e.setState(Uninitialized)
		return report, fmt.Errorf("engine: initial build failed: %w", err)
	}
	e.setState(Ready)
	return report, nil
}

// ForceRebuild rebuilds the corpus from the source document and swaps it in.
// Retrieval keeps serving the previous collection until the swap; on failure
// the previous collection stays installed and the error is returned.
func (e *Engine) ForceRebuild(ctx context.Context) (*RebuildReport, error) {
	if !e.buildMu.TryLock() {
		return nil, ErrRebuildInProgress
	}
	defer e.buildMu.Unlock()

	if e.current.Load() == nil {
		return nil, fmt.Errorf("%w: start the engine before forcing a rebuild", ErrNotReady)
	}

	e.setState(Loading)
	defer e.setState(Ready)

	report, err := e.rebuild(ctx)
	if err != nil {
		e.log.Error("engine: forced rebuild failed, keeping previous collection",
			slog.String("build_id", e.Collection().BuildID),
			slog.String("error", err.Error()),
		)
		return report, fmt.Errorf("engine: rebuild failed: %w", err)
	}
	return report, nil
}

// Retrieve embeds question and returns the k most similar passages. k <= 0
// selects the configured default; k above the maximum is capped.
func (e *Engine) Retrieve(ctx context.Context, question string, k int) ([]rag.Passage, error) {
	idx := e.current.Load()
	if idx == nil {
		e.metrics.retrievalsTotal.WithLabelValues("not_ready").Inc()
		return nil, ErrNotReady
	}
	question = strings.TrimSpace(question)
	if question == "" {
		e.metrics.retrievalsTotal.WithLabelValues("empty_question").Inc()
		return nil, ErrEmptyQuestion
	}
	if k <= 0 {
		k = e.cfg.DefaultTopK
	}
	k = min(k, e.cfg.MaxTopK)

	if idx.Len() == 0 {
		e.metrics.retrievalsTotal.WithLabelValues("ok").Inc()
		return []rag.Passage{}, nil
	}

	vec, err := e.cfg.Embedder.Embed(ctx, "query", question)
	if err != nil {
		e.metrics.retrievalsTotal.WithLabelValues("embedding_failed").Inc()
		return nil, fmt.Errorf("%w: %w", ErrQueryEmbedding, err)
	}

	scored, err := idx.Search(vec, k)
	if err != nil {
		e.metrics.retrievalsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("engine: search: %w", err)
	}

	out := make([]rag.Passage, len(scored))
	for i, s := range scored {
		out[i] = rag.Passage{SourceID: s.Chunk.SourceID, Text: s.Chunk.Text, Score: s.Score}
	}
	e.metrics.retrievalsTotal.WithLabelValues("ok").Inc()
	return out, nil
}

// Close releases the snapshot store and the mirror.
func (e *Engine) Close() error {
	var errs []error
	if e.cfg.Snapshot != nil {
		errs = append(errs, e.cfg.Snapshot.Close())
	}
	if e.cfg.Publisher != nil {
		errs = append(errs, e.cfg.Publisher.Close())
	}
	return errors.Join(errs...)
}

// loadSnapshot returns the cached collection when it is present, valid, and
// compatible with the embedder's dimension.
func (e *Engine) loadSnapshot(ctx context.Context) (*rag.Collection, bool) {
	log := e.log.With(slog.String("snapshot", e.cfg.Snapshot.Location()))

	coll, err := e.cfg.Snapshot.Load(ctx)
	switch {
	case err == nil:
	case errors.Is(err, snapshot.ErrNotFound):
		e.metrics.snapshotLoadsTotal.WithLabelValues("miss").Inc()
		log.Info("engine: no snapshot, building corpus")
		return nil, false
	case errors.Is(err, snapshot.ErrCorrupt):
		e.metrics.snapshotLoadsTotal.WithLabelValues("corrupt").Inc()
		log.Warn("engine: snapshot corrupt, rebuilding", slog.String("error", err.Error()))
		return nil, false
	default:
		e.metrics.snapshotLoadsTotal.WithLabelValues("error").Inc()
		log.Warn("engine: snapshot unreadable, rebuilding", slog.String("error", err.Error()))
		return nil, false
	}

	if coll.Dimension > 0 {
		if err := e.cfg.Embedder.Pin(coll.Dimension); err != nil {
			e.metrics.snapshotLoadsTotal.WithLabelValues("mismatch").Inc()
			log.Warn("engine: snapshot dimension does not match the embedder, rebuilding",
				slog.Int("snapshot_dimension", coll.Dimension),
				slog.Int("embedder_dimension", e.cfg.Embedder.Dimension()),
			)
			return nil, false
		}
	}

	e.metrics.snapshotLoadsTotal.WithLabelValues("hit").Inc()
	log.Info("engine: snapshot loaded",
		slog.String("build_id", coll.BuildID),
		slog.Int("chunks", coll.Len()),
		slog.Int("dimension", coll.Dimension),
	)
	return coll, true
}

// rebuild loads the document, builds and installs a collection, then
// persists and mirrors it. Only source and build failures are returned;
// persistence and mirror failures are recorded in the report.
func (e *Engine) rebuild(ctx context.Context) (*RebuildReport, error) {
	if e.cfg.BuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.BuildTimeout)
		defer cancel()
	}

	report := &RebuildReport{Origin: "build"}
	start := time.Now()

	doc, err := e.cfg.Source.Load(ctx)
	if err != nil {
		e.metrics.buildsTotal.WithLabelValues("failure").Inc()
		return report, fmt.Errorf("engine: load source document: %w", err)
	}

	coll, buildReport, err := e.cfg.Builder.Build(ctx, doc)
	e.metrics.buildDurationSeconds.Observe(time.Since(start).Seconds())
	report.Build = buildReport
	if buildReport != nil {
		report.BuildID = buildReport.BuildID
		e.metrics.embeddingFailuresTotal.Add(float64(buildReport.Failures))
	}
	if err != nil {
		e.metrics.buildsTotal.WithLabelValues("failure").Inc()
		return report, err
	}
	e.metrics.buildsTotal.WithLabelValues("success").Inc()
	report.BuildID = coll.BuildID
	report.Chunks = coll.Len()

	log := e.log.With(slog.String("build_id", coll.BuildID))

	if e.cfg.Snapshot != nil {
		if err := e.cfg.Snapshot.Save(ctx, coll); err != nil {
			e.metrics.snapshotSavesTotal.WithLabelValues("failure").Inc()
			report.SnapshotError = err.Error()
			log.Warn("engine: snapshot write failed, serving the new collection anyway",
				slog.String("snapshot", e.cfg.Snapshot.Location()),
				slog.String("error", err.Error()),
			)
		} else {
			e.metrics.snapshotSavesTotal.WithLabelValues("success").Inc()
		}
	}

	e.install(coll)

	if e.cfg.Publisher != nil {
		if err := e.cfg.Publisher.Publish(ctx, coll); err != nil {
			e.metrics.mirrorPublishTotal.WithLabelValues("failure").Inc()
			report.PublishError = err.Error()
			log.Warn("engine: mirror publish failed", slog.String("error", err.Error()))
		} else {
			e.metrics.mirrorPublishTotal.WithLabelValues("success").Inc()
		}
	}

	log.Info("engine: collection installed",
		slog.Int("chunks", coll.Len()),
		slog.Int("dimension", coll.Dimension),
		slog.Duration("duration", time.Since(start)),
	)
	return report, nil
}

// install swaps in an index over coll.
func (e *Engine) install(coll *rag.Collection) {
	e.current.Store(index.New(coll))
	e.metrics.chunks.Set(float64(coll.Len()))
}
