package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/profilerag-go/internal/segment"
	"github.com/54b3r/profilerag-go/internal/snapshot"
)

// Environment variables owned by profilerag itself. Provider credentials keep
// their vendor names (OPENAI_API_KEY, OLLAMA_HOST, ...).
const (
	EnvProfilePath       = "PROFILERAG_PROFILE"
	EnvSnapshotBackend   = "PROFILERAG_SNAPSHOT_BACKEND"
	EnvSnapshotPath      = "PROFILERAG_SNAPSHOT_PATH"
	EnvWindowSize        = "PROFILERAG_WINDOW_SIZE"
	EnvOverlap           = "PROFILERAG_WINDOW_OVERLAP"
	EnvConcurrency       = "PROFILERAG_EMBED_CONCURRENCY"
	EnvFailureThreshold  = "PROFILERAG_FAILURE_THRESHOLD"
	EnvAbortOnThreshold  = "PROFILERAG_ABORT_ON_THRESHOLD"
	EnvMaxLoggedFailures = "PROFILERAG_MAX_LOGGED_FAILURES"
	EnvBuildTimeout      = "PROFILERAG_BUILD_TIMEOUT"
	EnvTopK              = "PROFILERAG_TOP_K"
	EnvMaxTopK           = "PROFILERAG_MAX_TOP_K"
	EnvForceRebuild      = "PROFILERAG_FORCE_REBUILD"
	EnvMaxContextTokens  = "PROFILERAG_MAX_CONTEXT_TOKENS"
	EnvHost              = "PROFILERAG_HOST"
	EnvPort              = "PROFILERAG_PORT"
	EnvAPIKey            = "PROFILERAG_API_KEY"
	EnvRateLimit         = "PROFILERAG_RATE_LIMIT"
	EnvRateBurst         = "PROFILERAG_RATE_BURST"
)

// Snapshot backends.
const (
	SnapshotFile   = "file"
	SnapshotSQLite = "sqlite"
	SnapshotNone   = "none"
)

const (
	defaultProfilePath   = "profile.json"
	defaultConcurrency   = 8
	defaultBuildTimeout  = 10 * time.Minute
	defaultSnapshotFile  = "snapshot.json"
	defaultSnapshotDir   = ".profilerag"
)

// Engine is the typed retrieval configuration resolved from the environment.
// Zero values for TopK, MaxTopK, and MaxContextTokens leave the consuming
// package's default in place.
type Engine struct {
	ProfilePath       string
	SnapshotBackend   string
	SnapshotPath      string
	WindowSize        int
	Overlap           int
	Concurrency       int
	FailureThreshold  float64
	AbortOnThreshold  bool
	MaxLoggedFailures int
	BuildTimeout      time.Duration
	TopK              int
	MaxTopK           int
	ForceRebuild      bool
	MaxContextTokens  int
}

// EngineFromEnv reads the PROFILERAG_* engine settings. Every malformed value
// is reported; the returned Engine holds defaults for those keys.
func EngineFromEnv() (Engine, error) {
	p := &envParser{}
	e := Engine{
		ProfilePath:       p.str(EnvProfilePath, defaultProfilePath),
		SnapshotBackend:   strings.ToLower(p.str(EnvSnapshotBackend, SnapshotFile)),
		WindowSize:        p.int(EnvWindowSize, segment.DefaultWindowSize),
		Overlap:           p.int(EnvOverlap, segment.DefaultOverlap),
		Concurrency:       p.int(EnvConcurrency, defaultConcurrency),
		FailureThreshold:  p.float(EnvFailureThreshold, 0),
		AbortOnThreshold:  p.bool(EnvAbortOnThreshold, false),
		MaxLoggedFailures: p.int(EnvMaxLoggedFailures, 0),
		BuildTimeout:      p.duration(EnvBuildTimeout, defaultBuildTimeout),
		TopK:              p.int(EnvTopK, 0),
		MaxTopK:           p.int(EnvMaxTopK, 0),
		ForceRebuild:      p.bool(EnvForceRebuild, false),
		MaxContextTokens:  p.int(EnvMaxContextTokens, 0),
	}

	switch e.SnapshotBackend {
	case SnapshotFile, SnapshotSQLite, SnapshotNone:
	default:
		p.errs = append(p.errs, fmt.Errorf("config: invalid %s %q, valid values: file, sqlite, none", EnvSnapshotBackend, e.SnapshotBackend))
		e.SnapshotBackend = SnapshotFile
	}
	if e.FailureThreshold < 0 || e.FailureThreshold > 1 {
		p.errs = append(p.errs, fmt.Errorf("config: %s %v must be within [0, 1]", EnvFailureThreshold, e.FailureThreshold))
		e.FailureThreshold = 0
	}

	e.SnapshotPath = os.Getenv(EnvSnapshotPath)
	if e.SnapshotPath == "" && e.SnapshotBackend != SnapshotNone {
		path, err := defaultSnapshotPath(e.SnapshotBackend)
		if err != nil {
			p.errs = append(p.errs, err)
		}
		e.SnapshotPath = path
	}

	return e, errors.Join(p.errs...)
}

// Segmenter builds the configured segmenter.
func (e Engine) Segmenter() (*segment.Segmenter, error) {
	return segment.New(e.WindowSize, e.Overlap)
}

// defaultSnapshotPath places the snapshot under ~/.profilerag.
func defaultSnapshotPath(backend string) (string, error) {
	if backend == SnapshotSQLite {
		return snapshot.DefaultDBPath()
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: cannot determine home directory for snapshot path: %w", err)
	}
	return filepath.Join(home, defaultSnapshotDir, defaultSnapshotFile), nil
}

// envParser collects parse errors across several keys.
type envParser struct {
	errs []error
}

func (p *envParser) str(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (p *envParser) int(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: invalid %s %q: %w", key, v, err))
		return fallback
	}
	return n
}

func (p *envParser) float(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: invalid %s %q: %w", key, v, err))
		return fallback
	}
	return f
}

func (p *envParser) bool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: invalid %s %q: %w", key, v, err))
		return fallback
	}
	return b
}

func (p *envParser) duration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: invalid %s %q: %w", key, v, err))
		return fallback
	}
	return d
}
