package corpus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/54b3r/profilerag-go/internal/profile"
	"github.com/54b3r/profilerag-go/internal/segment"
)

// fakeEmbedder maps text to a deterministic 3-d vector and fails for texts
// containing failOn.
type fakeEmbedder struct {
	failOn string
	delay  time.Duration

	mu       sync.Mutex
	inFlight int
	peak     int
}

func (f *fakeEmbedder) Embed(ctx context.Context, _, text string) ([]float32, error) {
	f.mu.Lock()
	f.inFlight++
	f.peak = max(f.peak, f.inFlight)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, errors.New("provider rejected input")
	}
	var sum float32
	for _, r := range text {
		sum += float32(r)
	}
	return []float32{float32(len(text)), sum, 1}, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }
func (f *fakeEmbedder) Model() string  { return "fake-embed" }

func newBuilder(t *testing.T, emb Embedder, cfg Config) *Builder {
	t.Helper()
	b, err := NewBuilder(emb, cfg)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	return b
}

// fiveFAQs yields five short, single-segment entries.
func fiveFAQs() *profile.Document {
	doc := &profile.Document{}
	for i := range 5 {
		doc.FAQs = append(doc.FAQs, profile.FAQ{
			Question: fmt.Sprintf("Question %d?", i),
			Answer:   fmt.Sprintf("Answer number %d.", i),
		})
	}
	return doc
}

func TestBuild_SingleProject(t *testing.T) {
	t.Parallel()

	doc := &profile.Document{Projects: []profile.Project{{Name: "Alpha", Description: "Alpha desc"}}}
	coll, report, err := newBuilder(t, &fakeEmbedder{}, Config{}).Build(context.Background(), doc)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if report.Entries != 1 || report.Segments != 1 || report.Chunks != 1 || report.Failures != 0 {
		t.Errorf("unexpected report %+v", report)
	}
	if coll.Len() != 1 {
		t.Fatalf("want 1 chunk, got %d", coll.Len())
	}
	ch := coll.Chunks[0]
	if ch.SourceID != "project:Alpha" {
		t.Errorf("SourceID = %q", ch.SourceID)
	}
	if !strings.Contains(ch.Text, "Alpha desc") {
		t.Errorf("Text = %q, want the description", ch.Text)
	}
	if coll.Dimension != 3 || len(ch.Embedding) != 3 || coll.Model != "fake-embed" || coll.BuildID != report.BuildID {
		t.Errorf("unexpected collection header %+v", coll)
	}
}

func TestBuild_OneOfFiveFailsKeepsFour(t *testing.T) {
	t.Parallel()

	coll, report, err := newBuilder(t, &fakeEmbedder{failOn: "number 2"}, Config{}).Build(context.Background(), fiveFAQs())
	if err != nil {
		t.Fatalf("Build must not fail on a single embedding failure: %v", err)
	}
	if coll.Len() != 4 {
		t.Fatalf("want 4 chunks, got %d", coll.Len())
	}
	if report.Segments != 5 || report.Failures != 1 || !report.ThresholdExceeded {
		t.Errorf("unexpected report %+v", report)
	}
	for _, ch := range coll.Chunks {
		if ch.SourceID == "faq:Question 2?" {
			t.Error("failed segment must be dropped, not stored")
		}
		if len(ch.Embedding) != coll.Dimension {
			t.Errorf("chunk %q has %d values, want %d", ch.SourceID, len(ch.Embedding), coll.Dimension)
		}
	}
	// Survivors keep segment order.
	want := []string{"faq:Question 0?", "faq:Question 1?", "faq:Question 3?", "faq:Question 4?"}
	for i, ch := range coll.Chunks {
		if ch.SourceID != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, ch.SourceID, want[i])
		}
	}
}

func TestBuild_FailureThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      Config
		wantErr  bool
		exceeded bool
	}{
		{"default flags but completes", Config{}, false, true},
		{"below ratio", Config{FailureThreshold: 0.5, AbortOnThreshold: true}, false, false},
		{"abort above ratio", Config{FailureThreshold: 0.1, AbortOnThreshold: true}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			coll, report, err := newBuilder(t, &fakeEmbedder{failOn: "number 4"}, tt.cfg).Build(context.Background(), fiveFAQs())
			if tt.wantErr {
				if !errors.Is(err, ErrTooManyFailures) {
					t.Fatalf("error = %v, want ErrTooManyFailures", err)
				}
				if coll != nil {
					t.Error("aborted build must not return a collection")
				}
			} else if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if report.ThresholdExceeded != tt.exceeded {
				t.Errorf("ThresholdExceeded = %v, want %v", report.ThresholdExceeded, tt.exceeded)
			}
		})
	}
}

func TestBuild_AllFailedYieldsEmptyCollection(t *testing.T) {
	t.Parallel()

	coll, report, err := newBuilder(t, &fakeEmbedder{failOn: "Answer"}, Config{}).Build(context.Background(), fiveFAQs())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if coll == nil {
		t.Fatal("an all-failed build must return an empty, non-nil collection")
	}
	if coll.Len() != 0 || report.Failures != 5 {
		t.Errorf("Len=%d Failures=%d, want 0/5", coll.Len(), report.Failures)
	}
}

func TestBuild_Idempotent(t *testing.T) {
	t.Parallel()

	doc := &profile.Document{
		Profile:  &profile.Profile{Summary: strings.Repeat("word ", 2000), Headline: "Engineer"},
		Projects: []profile.Project{{Name: "Alpha", Description: "Alpha desc"}},
	}
	b := newBuilder(t, &fakeEmbedder{}, Config{Concurrency: 3})

	first, _, err := b.Build(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := b.Build(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first.Chunks, second.Chunks) {
		t.Error("building the same document twice must yield the same chunks")
	}
	if first.BuildID == second.BuildID {
		t.Error("each build must get a fresh build id")
	}
}

func TestBuild_RespectsConcurrencyCap(t *testing.T) {
	t.Parallel()

	doc := &profile.Document{}
	for i := range 20 {
		doc.FAQs = append(doc.FAQs, profile.FAQ{Question: fmt.Sprintf("q%d", i), Answer: "a"})
	}
	emb := &fakeEmbedder{delay: 5 * time.Millisecond}
	if _, _, err := newBuilder(t, emb, Config{Concurrency: 2}).Build(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	if emb.peak > 2 {
		t.Errorf("peak in-flight embeddings = %d, want <= 2", emb.peak)
	}
}

func TestBuild_CancelledContextFails(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	coll, _, err := newBuilder(t, &fakeEmbedder{}, Config{}).Build(ctx, fiveFAQs())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if coll != nil {
		t.Error("cancelled build must not return a collection")
	}
}

func TestBuild_EmptyDocument(t *testing.T) {
	t.Parallel()

	coll, report, err := newBuilder(t, &fakeEmbedder{}, Config{}).Build(context.Background(), &profile.Document{})
	if err != nil {
		t.Fatal(err)
	}
	if coll == nil || coll.Len() != 0 || report.Entries != 0 {
		t.Errorf("want empty collection, got %+v / %+v", coll, report)
	}
}

func TestBuild_LongEntrySegments(t *testing.T) {
	t.Parallel()

	seg, err := segment.New(10, 2)
	if err != nil {
		t.Fatal(err)
	}
	doc := &profile.Document{Profile: &profile.Profile{Summary: strings.Repeat("x ", 25)}}
	coll, report, err := newBuilder(t, &fakeEmbedder{}, Config{Segmenter: seg}).Build(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	// 25 words, stride 8: [0,10) [8,18) [16,25).
	if report.Segments != 3 || coll.Len() != 3 {
		t.Errorf("Segments=%d chunks=%d, want 3/3", report.Segments, coll.Len())
	}
}

func TestNewBuilder_RejectsBadConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewBuilder(nil, Config{}); err == nil {
		t.Error("want error for nil embedder")
	}
	if _, err := NewBuilder(&fakeEmbedder{}, Config{Concurrency: -1}); err == nil {
		t.Error("want error for negative concurrency")
	}
	if _, err := NewBuilder(&fakeEmbedder{}, Config{FailureThreshold: 1.5}); err == nil {
		t.Error("want error for threshold above 1")
	}
}

var _ Embedder = (*fakeEmbedder)(nil)
