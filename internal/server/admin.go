package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/54b3r/profilerag-go/internal/engine"
	"github.com/54b3r/profilerag-go/internal/logging"
)

// rebuildResponse wraps the engine report for POST /api/admin/rebuild.
type rebuildResponse struct {
	*engine.RebuildReport
	State string `json:"state"`
}

// handleRebuild handles POST /api/admin/rebuild. It runs a forced rebuild
// synchronously and returns the report. A rebuild already in progress yields
// 409; a failed rebuild yields 500 and the previous collection stays served.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	report, err := s.engine.ForceRebuild(ctx)
	switch {
	case err == nil:
		s.metrics.adminRebuildsTotal.WithLabelValues("ok").Inc()
		log.Info("admin: rebuild complete",
			slog.String("build_id", report.BuildID),
			slog.Int("chunks", report.Chunks),
		)
		writeJSON(ctx, w, http.StatusOK, rebuildResponse{RebuildReport: report, State: s.engine.State().String()})
	case errors.Is(err, engine.ErrRebuildInProgress):
		s.metrics.adminRebuildsTotal.WithLabelValues("conflict").Inc()
		writeError(ctx, w, http.StatusConflict, codeRebuildRunning, "a rebuild is already running")
	case errors.Is(err, engine.ErrNotReady):
		s.metrics.adminRebuildsTotal.WithLabelValues("not_ready").Inc()
		w.Header().Set("Retry-After", s.retryAfter())
		writeError(ctx, w, http.StatusServiceUnavailable, codeInitializing, "initial build has not finished")
	default:
		s.metrics.adminRebuildsTotal.WithLabelValues("error").Inc()
		log.Error("admin: rebuild failed", slog.Any("error", err))
		writeError(ctx, w, http.StatusInternalServerError, codeRebuildFailed, err.Error())
	}
}

// handleChunks handles GET /api/admin/chunks, listing the installed chunks in
// collection order without their embeddings.
func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	coll := s.engine.Collection()
	if coll == nil {
		w.Header().Set("Retry-After", s.retryAfter())
		writeError(ctx, w, http.StatusServiceUnavailable, codeInitializing, "no collection installed yet")
		return
	}

	resp := chunksResponse{
		BuildID:   coll.BuildID,
		BuiltAt:   coll.BuiltAt,
		Model:     coll.Model,
		Dimension: coll.Dimension,
		Count:     coll.Len(),
		Chunks:    make([]chunkView, 0, coll.Len()),
	}
	for i, c := range coll.Chunks {
		resp.Chunks = append(resp.Chunks, chunkView{
			Position:  i,
			SourceID:  c.SourceID,
			Text:      c.Text,
			Dimension: len(c.Embedding),
		})
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}
