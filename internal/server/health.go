package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/profilerag-go/internal/logging"
)

// probeTimeout bounds each dependency probe of a readiness check.
const probeTimeout = 5 * time.Second

// Pinger is a dependency that can report its own reachability, such as the
// snapshot database or the Qdrant mirror. Ping must be safe for concurrent
// use and return nil when healthy.
type Pinger interface {
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness responses.
	Name() string
}

// readyCheck is one line of a readiness report.
type readyCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// readyResponse is the JSON body returned by GET /api/ready.
type readyResponse struct {
	Ready  bool         `json:"ready"`
	State  string       `json:"state"`
	Chunks int          `json:"chunks"`
	Checks []readyCheck `json:"checks"`
}

// handleReady handles GET /api/ready.
//
// The engine check passes once any collection is installed, so a forced
// rebuild does not flip readiness while the previous collection serves.
// Dependency probes run concurrently, each under probeTimeout, and are
// reported in registration order after the engine check.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	coll := s.engine.Collection()
	state := s.engine.State().String()

	checks := make([]readyCheck, len(s.pingers)+1)
	checks[0] = readyCheck{Name: "engine", OK: coll != nil}
	if coll == nil {
		checks[0].Error = fmt.Sprintf("no collection installed (state %s)", state)
	}

	var g errgroup.Group
	for i, p := range s.pingers {
		g.Go(func() error {
			checks[i+1] = probe(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	ready := true
	log := logging.FromContext(ctx)
	for _, c := range checks {
		if c.OK {
			continue
		}
		ready = false
		if c.Name != "engine" {
			log.Warn("readiness probe failed",
				slog.String("dependency", c.Name),
				slog.String("error", c.Error),
				slog.Int64("latency_ms", c.LatencyMS),
			)
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", s.retryAfter())
	}
	writeJSON(ctx, w, status, readyResponse{
		Ready:  ready,
		State:  state,
		Chunks: coll.Len(),
		Checks: checks,
	})
}

// probe pings p under probeTimeout and records the outcome.
func probe(ctx context.Context, p Pinger) readyCheck {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	c := readyCheck{Name: p.Name(), OK: err == nil, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		c.Error = err.Error()
	}
	return c
}
