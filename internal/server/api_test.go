package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/profilerag-go/internal/answer"
	"github.com/54b3r/profilerag-go/internal/engine"
	"github.com/54b3r/profilerag-go/internal/rag"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeEngine implements Engine with canned results.
type fakeEngine struct {
	mu         sync.Mutex
	state      engine.State
	coll       *rag.Collection
	passages   []rag.Passage
	err        error
	report     *engine.RebuildReport
	rebuildErr error
	gotK       int
}

func (f *fakeEngine) Retrieve(_ context.Context, _ string, k int) ([]rag.Passage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotK = k
	if f.err != nil {
		return nil, f.err
	}
	return f.passages, nil
}

func (f *fakeEngine) State() engine.State { return f.state }

func (f *fakeEngine) Collection() *rag.Collection { return f.coll }

func (f *fakeEngine) ForceRebuild(_ context.Context) (*engine.RebuildReport, error) {
	return f.report, f.rebuildErr
}

// fakeAnswerer implements Answerer and streamer.
type fakeAnswerer struct {
	text    string
	sources []rag.Passage
	err     error
	gotReq  answer.Request
}

func (f *fakeAnswerer) Answer(_ context.Context, req answer.Request) (*answer.Answer, error) {
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &answer.Answer{Text: f.text, Sources: f.sources}, nil
}

func (f *fakeAnswerer) Stream(_ context.Context, req answer.Request, w io.Writer) (*answer.Answer, error) {
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	for _, word := range strings.SplitAfter(f.text, " ") {
		_, _ = io.WriteString(w, word)
	}
	return &answer.Answer{Text: f.text, Sources: f.sources}, nil
}

// readyCollection is a tiny installed collection.
func readyCollection() *rag.Collection {
	return &rag.Collection{
		BuildID:   "b-1",
		BuiltAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Model:     "nomic-embed-text",
		Dimension: 3,
		Chunks: []rag.Chunk{
			{SourceID: "profile:summary", Text: "Builds search systems", Embedding: []float32{1, 0, 0}},
			{SourceID: "project:Alpha", Text: "Project: Alpha", Embedding: []float32{0, 1, 0}},
		},
	}
}

// newTestServer builds a ready *Server with isolated metrics.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newServerWith(t, &fakeEngine{state: engine.Ready, coll: readyCollection()}, nil, "")
}

// newServerWith builds a Server through New so the full middleware chain
// and route table are in place.
func newServerWith(t *testing.T, eng Engine, ans Answerer, apiKey string) *Server {
	t.Helper()
	return newServerFromConfig(t, eng, ans, &Config{APIKey: apiKey, RateLimit: 1000, RateBurst: 1000})
}

// newServerWithLimit builds a ready Server with a tight per-IP limit.
func newServerWithLimit(t *testing.T, rps float64, burst int) *Server {
	t.Helper()
	eng := &fakeEngine{state: engine.Ready, coll: readyCollection()}
	return newServerFromConfig(t, eng, nil, &Config{RateLimit: rps, RateBurst: burst})
}

// newServerFromConfig fills cfg with test defaults and an isolated registry.
func newServerFromConfig(t *testing.T, eng Engine, ans Answerer, cfg *Config) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg.RetryAfter = 3 * time.Second
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.MetricsRegistry = reg
	cfg.MetricsGatherer = reg
	s, err := New(eng, ans, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s
}

func do(t *testing.T, s *Server, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var e errorResponse
	if err := json.NewDecoder(w.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v (body %q)", err, w.Body.String())
	}
	return e
}

// ---------------------------------------------------------------------------
// POST /api/retrieve
// ---------------------------------------------------------------------------

func TestRetrieve_Success(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{state: engine.Ready, coll: readyCollection(), passages: []rag.Passage{
		{SourceID: "project:Alpha", Text: "Project: Alpha", Score: 0.99},
	}}
	s := newServerWith(t, eng, nil, "")

	w := do(t, s, http.MethodPost, "/api/retrieve", `{"question":"What is Alpha?","k":3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	var resp retrieveResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Passages) != 1 || resp.Passages[0].SourceID != "project:Alpha" {
		t.Errorf("passages = %+v", resp.Passages)
	}
	if eng.gotK != 3 {
		t.Errorf("k = %d, want 3", eng.gotK)
	}
}

func TestRetrieve_EmptyResultIsOK(t *testing.T) {
	t.Parallel()

	s := newServerWith(t, &fakeEngine{state: engine.Ready, coll: &rag.Collection{}, passages: []rag.Passage{}}, nil, "")
	w := do(t, s, http.MethodPost, "/api/retrieve", `{"question":"anything"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"passages":[]`) {
		t.Errorf("want an empty passages array, got %s", w.Body.String())
	}
}

func TestRetrieve_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
		wantRetry  bool
	}{
		{"invalid json", `not-json`, nil, http.StatusBadRequest, codeInvalidRequest, false},
		{"missing question", `{"k":2}`, nil, http.StatusBadRequest, codeInvalidRequest, false},
		{"not ready", `{"question":"q"}`, engine.ErrNotReady, http.StatusServiceUnavailable, codeInitializing, true},
		{"query embedding", `{"question":"q"}`, fmt.Errorf("%w: provider down", engine.ErrQueryEmbedding), http.StatusServiceUnavailable, codeTemporaryFailure, true},
		{"other", `{"question":"q"}`, errors.New("boom"), http.StatusInternalServerError, codeInternal, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newServerWith(t, &fakeEngine{state: engine.Loading, err: tc.err}, nil, "")
			w := do(t, s, http.MethodPost, "/api/retrieve", tc.body)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			if got := w.Header().Get("Retry-After"); (got != "") != tc.wantRetry {
				t.Errorf("Retry-After = %q, want present=%v", got, tc.wantRetry)
			} else if tc.wantRetry && got != "3" {
				t.Errorf("Retry-After = %q, want 3", got)
			}
			if e := decodeError(t, w); e.Error != tc.wantCode {
				t.Errorf("error code = %q, want %q", e.Error, tc.wantCode)
			}
		})
	}
}

func TestRetrieve_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	w := do(t, newTestServer(t), http.MethodGet, "/api/retrieve", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /api/chat
// ---------------------------------------------------------------------------

func TestChat_JSON(t *testing.T) {
	t.Parallel()

	ans := &fakeAnswerer{text: "Alpha is a compiler [project:Alpha].", sources: []rag.Passage{{SourceID: "project:Alpha", Score: 0.9}}}
	s := newServerWith(t, &fakeEngine{state: engine.Ready, coll: readyCollection()}, ans, "")

	w := do(t, s, http.MethodPost, "/api/chat",
		`{"question":"What is Alpha?","k":2,"history":[{"role":"user","content":"hi"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got answer.Answer
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Text != ans.text || len(got.Sources) != 1 {
		t.Errorf("answer = %+v", got)
	}
	if ans.gotReq.K != 2 || len(ans.gotReq.History) != 1 || ans.gotReq.History[0].Role != answer.RoleUser {
		t.Errorf("request forwarded as %+v", ans.gotReq)
	}
}

func TestChat_Stream(t *testing.T) {
	t.Parallel()

	ans := &fakeAnswerer{text: "Alpha is a compiler.", sources: []rag.Passage{{SourceID: "project:Alpha"}}}
	s := newServerWith(t, &fakeEngine{state: engine.Ready, coll: readyCollection()}, ans, "")

	w := do(t, s, http.MethodPost, "/api/chat", `{"question":"Alpha?","stream":true}`)
	body := w.Body.String()
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	for _, want := range []string{"data: Alpha", "event: sources", "project:Alpha", "event: done", "[DONE]"} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q:\n%s", want, body)
		}
	}
}

func TestChat_StreamErrorInBand(t *testing.T) {
	t.Parallel()

	ans := &fakeAnswerer{err: fmt.Errorf("%w: LLM unavailable", answer.ErrGeneration)}
	s := newServerWith(t, &fakeEngine{state: engine.Ready, coll: readyCollection()}, ans, "")

	w := do(t, s, http.MethodPost, "/api/chat", `{"question":"q","stream":true}`)
	body := w.Body.String()
	if !strings.Contains(body, "event: error") || !strings.Contains(body, "LLM unavailable") {
		t.Errorf("expected in-band error event, got: %s", body)
	}
}

func TestChat_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		ans        Answerer
		wantStatus int
	}{
		{"no provider", `{"question":"q"}`, nil, http.StatusNotImplemented},
		{"missing question", `{"k":1}`, &fakeAnswerer{}, http.StatusBadRequest},
		{"not ready", `{"question":"q"}`, &fakeAnswerer{err: engine.ErrNotReady}, http.StatusServiceUnavailable},
		{"query embedding", `{"question":"q"}`, &fakeAnswerer{err: fmt.Errorf("%w: x", engine.ErrQueryEmbedding)}, http.StatusServiceUnavailable},
		{"generation", `{"question":"q"}`, &fakeAnswerer{err: fmt.Errorf("%w: x", answer.ErrGeneration)}, http.StatusBadGateway},
		{"timeout", `{"question":"q"}`, &fakeAnswerer{err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newServerWith(t, &fakeEngine{state: engine.Ready, coll: readyCollection()}, tc.ans, "")
			w := do(t, s, http.MethodPost, "/api/chat", tc.body)
			if w.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d: %s", w.Code, tc.wantStatus, w.Body.String())
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Admin routes
// ---------------------------------------------------------------------------

func TestAdminRebuild(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		report     *engine.RebuildReport
		err        error
		header     []string
		wantStatus int
	}{
		{"unauthenticated", nil, nil, nil, http.StatusUnauthorized},
		{"success", &engine.RebuildReport{Origin: "build", BuildID: "b-2", Chunks: 7}, nil, []string{"Authorization", "Bearer k"}, http.StatusOK},
		{"in progress", nil, engine.ErrRebuildInProgress, []string{"Authorization", "Bearer k"}, http.StatusConflict},
		{"not started", nil, engine.ErrNotReady, []string{"Authorization", "Bearer k"}, http.StatusServiceUnavailable},
		{"failed", nil, errors.New("engine: rebuild failed: source unreadable"), []string{"Authorization", "Bearer k"}, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			eng := &fakeEngine{state: engine.Ready, coll: readyCollection(), report: tc.report, rebuildErr: tc.err}
			s := newServerWith(t, eng, nil, "k")
			w := do(t, s, http.MethodPost, "/api/admin/rebuild", "", tc.header...)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tc.wantStatus, w.Body.String())
			}
			if tc.wantStatus == http.StatusOK {
				var resp struct {
					BuildID string `json:"build_id"`
					Chunks  int    `json:"chunks"`
					State   string `json:"state"`
				}
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if resp.BuildID != "b-2" || resp.Chunks != 7 || resp.State != "ready" {
					t.Errorf("response = %+v", resp)
				}
			}
		})
	}
}

func TestAdminChunks(t *testing.T) {
	t.Parallel()

	s := newServerWith(t, &fakeEngine{state: engine.Ready, coll: readyCollection()}, nil, "")
	w := do(t, s, http.MethodGet, "/api/admin/chunks", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp chunksResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.BuildID != "b-1" || resp.Count != 2 || resp.Dimension != 3 {
		t.Errorf("header = %+v", resp)
	}
	if resp.Chunks[0].SourceID != "profile:summary" || resp.Chunks[1].Position != 1 || resp.Chunks[1].Dimension != 3 {
		t.Errorf("chunks = %+v", resp.Chunks)
	}
	if strings.Contains(w.Body.String(), "embedding") {
		t.Error("chunk listing must not include embeddings")
	}
}

func TestAdminChunks_NotReady(t *testing.T) {
	t.Parallel()

	s := newServerWith(t, &fakeEngine{state: engine.Loading}, nil, "")
	w := do(t, s, http.MethodGet, "/api/admin/chunks", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestNew_RequiresEngine(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, nil, nil); err == nil {
		t.Error("expected error for nil engine")
	}
}
