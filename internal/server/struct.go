package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/profilerag-go/internal/answer"
	"github.com/54b3r/profilerag-go/internal/engine"
	"github.com/54b3r/profilerag-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single /api/chat generation (default: 2m).
	ChatTimeout time.Duration
	// RetryAfter is advertised on 503 responses while the engine initialises
	// or the embedding provider is failing (default: 5s).
	RetryAfter time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready
	// in addition to the engine state.
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on the
	// retrieve and chat endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on /api/admin/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Engine is the part of *engine.Engine the server drives.
type Engine interface {
	rag.Retriever
	State() engine.State
	Collection() *rag.Collection
	ForceRebuild(ctx context.Context) (*engine.RebuildReport, error)
}

// Answerer generates grounded answers. *answer.Composer satisfies it.
type Answerer interface {
	Answer(ctx context.Context, req answer.Request) (*answer.Answer, error)
}

// Server is the HTTP server that exposes retrieval, chat, and admin routes.
type Server struct {
	// engine serves retrieval and rebuilds.
	engine Engine
	// answerer handles /api/chat; nil disables the route with 501.
	answerer Answerer
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by the server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// retrieveRequest is the JSON body for POST /api/retrieve.
type retrieveRequest struct {
	// Question is the natural language query.
	Question string `json:"question"`
	// K is the number of passages wanted; 0 selects the engine default.
	K int `json:"k,omitempty"`
}

// retrieveResponse is the JSON response for POST /api/retrieve.
type retrieveResponse struct {
	Passages []rag.Passage `json:"passages"`
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	Question string        `json:"question"`
	K        int           `json:"k,omitempty"`
	History  []answer.Turn `json:"history,omitempty"`
	// Stream switches the response to Server-Sent Events.
	Stream bool `json:"stream,omitempty"`
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	// Error is a stable machine-readable code such as "initializing".
	Error string `json:"error"`
	// Message is a human-readable description.
	Message string `json:"message"`
}

// chunkView is one entry of GET /api/admin/chunks.
type chunkView struct {
	Position  int    `json:"position"`
	SourceID  string `json:"source_id"`
	Text      string `json:"text"`
	Dimension int    `json:"dimension"`
}

// chunksResponse is the JSON response for GET /api/admin/chunks.
type chunksResponse struct {
	BuildID   string      `json:"build_id"`
	BuiltAt   time.Time   `json:"built_at"`
	Model     string      `json:"model,omitempty"`
	Dimension int         `json:"dimension"`
	Count     int         `json:"count"`
	Chunks    []chunkView `json:"chunks"`
}
