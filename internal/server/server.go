// Package server implements the HTTP API in front of the retrieval engine:
// passage retrieval, grounded chat, readiness, admin rebuilds, and metrics.
// The server is started by the `profilerag serve` CLI command.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/profilerag-go/internal/answer"
	"github.com/54b3r/profilerag-go/internal/engine"
	"github.com/54b3r/profilerag-go/internal/logging"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Error codes returned in errorResponse.Error.
const (
	codeInvalidRequest   = "invalid_request"
	codeInitializing     = "initializing"
	codeTemporaryFailure = "temporary_failure"
	codeRebuildRunning   = "rebuild_in_progress"
	codeRebuildFailed    = "rebuild_failed"
	codeNotConfigured    = "not_configured"
	codeInternal         = "internal_error"
)

// streamer is implemented by answerers that can stream tokens.
type streamer interface {
	Stream(ctx context.Context, req answer.Request, w io.Writer) (*answer.Answer, error)
}

// New constructs a Server for eng. ans may be nil, in which case /api/chat
// answers 501.
func New(eng Engine, ans Answerer, cfg *Config) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("server: engine must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streamed answers.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 2 * time.Minute
	}
	if cfg.RetryAfter == 0 {
		cfg.RetryAfter = 5 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.APIKey == "" {
		log.Warn("server: PROFILERAG_API_KEY not set, admin routes are unauthenticated")
	}

	s := &Server{
		engine:   eng,
		answerer: ans,
		cfg:      cfg,
		log:      log,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	rl.onReject = func(route string) {
		s.metrics.rateLimitedTotal.WithLabelValues(route).Inc()
	}
	s.stopRL = stop

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, s.routes(rl)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// routes builds the request multiplexer.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, s.instrument(name, h))
	}

	handle("GET /api/health", "health", http.HandlerFunc(s.handleHealth))
	handle("GET /api/ready", "ready", http.HandlerFunc(s.handleReady))
	handle("POST /api/retrieve", "retrieve", rl.middleware("retrieve", http.HandlerFunc(s.handleRetrieve)))
	handle("POST /api/chat", "chat", rl.middleware("chat", http.HandlerFunc(s.handleChat)))
	handle("POST /api/admin/rebuild", "admin_rebuild", authMiddleware(s.cfg.APIKey, http.HandlerFunc(s.handleRebuild)))
	handle("GET /api/admin/chunks", "admin_chunks", authMiddleware(s.cfg.APIKey, http.HandlerFunc(s.handleChunks)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	return mux
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("profilerag server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRetrieve handles POST /api/retrieve.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, codeInvalidRequest, "question is required")
		return
	}

	passages, err := s.engine.Retrieve(r.Context(), req.Question, req.K)
	if err != nil {
		s.metrics.retrieveRequestsTotal.WithLabelValues(outcome(err)).Inc()
		s.writeRetrievalError(w, r, err)
		return
	}
	s.metrics.retrieveRequestsTotal.WithLabelValues("ok").Inc()
	writeJSON(r.Context(), w, http.StatusOK, retrieveResponse{Passages: passages})
}

// handleChat handles POST /api/chat. It answers with JSON, or with
// Server-Sent Events when the request sets "stream": true.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.answerer == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, codeNotConfigured, "no generation provider configured")
		return
	}
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, codeInvalidRequest, "question is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()
	areq := answer.Request{Question: req.Question, K: req.K, History: req.History}

	start := time.Now()
	if st, ok := s.answerer.(streamer); ok && req.Stream {
		s.metrics.chatActiveStreams.Inc()
		defer s.metrics.chatActiveStreams.Dec()
		s.streamChat(ctx, w, r, st, areq, start)
		return
	}

	ans, err := s.answerer.Answer(ctx, areq)
	s.observeChat(err, start)
	if err != nil {
		s.writeRetrievalError(w, r, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, ans)
}

// streamChat writes the answer as SSE data frames followed by a "sources"
// event and a final "done" event. Errors are delivered in-band once the
// stream has started.
func (s *Server) streamChat(ctx context.Context, w http.ResponseWriter, r *http.Request, st streamer, req answer.Request, start time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(r.Context(), w, http.StatusInternalServerError, codeInternal, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sw := &sseWriter{w: w, flusher: flusher}
	ans, err := st.Stream(ctx, req, sw)
	s.observeChat(err, start)
	if err != nil {
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
		flusher.Flush()
		return
	}

	sources, err := json.Marshal(ans.Sources)
	if err == nil {
		fmt.Fprintf(w, "event: sources\ndata: %s\n\n", sources)
	}
	fmt.Fprintf(w, "event: done\ndata: [DONE]\n\n")
	flusher.Flush()
}

// observeChat records the outcome and latency of one chat request.
func (s *Server) observeChat(err error, start time.Time) {
	o := outcome(err)
	s.metrics.chatRequestsTotal.WithLabelValues(o).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(o).Observe(time.Since(start).Seconds())
}

// retryAfter renders the configured back-off as whole seconds, at least 1.
func (s *Server) retryAfter() string {
	return strconv.Itoa(max(1, int(s.cfg.RetryAfter.Seconds())))
}

// writeRetrievalError maps engine and composer errors onto HTTP responses.
// Not-ready and query embedding failures are retryable 503s carrying
// Retry-After; they are distinct from an empty passage list.
func (s *Server) writeRetrievalError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	retry := s.retryAfter()
	switch {
	case errors.Is(err, engine.ErrNotReady):
		w.Header().Set("Retry-After", retry)
		writeError(ctx, w, http.StatusServiceUnavailable, codeInitializing, "service initializing, retry shortly")
	case errors.Is(err, engine.ErrQueryEmbedding):
		w.Header().Set("Retry-After", retry)
		writeError(ctx, w, http.StatusServiceUnavailable, codeTemporaryFailure, "temporary failure embedding the question, retry shortly")
	case errors.Is(err, engine.ErrEmptyQuestion), errors.Is(err, answer.ErrEmptyQuestion):
		writeError(ctx, w, http.StatusBadRequest, codeInvalidRequest, "question is required")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(ctx, w, http.StatusGatewayTimeout, codeTemporaryFailure, "request timed out")
	case errors.Is(err, answer.ErrGeneration):
		logging.FromContext(ctx).Error("chat: generation failed", slog.Any("error", err))
		writeError(ctx, w, http.StatusBadGateway, codeTemporaryFailure, "answer generation failed")
	default:
		logging.FromContext(ctx).Error("request failed", slog.Any("error", err))
		writeError(ctx, w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

// outcome returns the metrics label for err.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, engine.ErrNotReady):
		return "not_ready"
	case errors.Is(err, engine.ErrQueryEmbedding):
		return "embedding_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// decode reads a JSON request body into v and writes a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return false
	}
	return true
}

// writeJSON encodes v with the given status.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(ctx).Error("response encode error", slog.Any("error", err))
	}
}

// writeError writes an errorResponse.
func writeError(ctx context.Context, w http.ResponseWriter, status int, code, msg string) {
	writeJSON(ctx, w, status, errorResponse{Error: code, Message: msg})
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event data frames.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// Write formats p as one or more SSE data lines and flushes to the client.
// Each newline in p is prefixed with "data: " so multi-line chunks never
// break the SSE frame boundary.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	chunk := strings.TrimRight(string(bytes.Clone(p)), "\n")
	var buf strings.Builder
	for _, line := range strings.Split(chunk, "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err = fmt.Fprint(s.w, buf.String()); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}
