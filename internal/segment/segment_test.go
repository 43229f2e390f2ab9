package segment

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/54b3r/profilerag-go/internal/rag"
)

// words builds a text of n distinct words "w0 w1 ... w(n-1)".
func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestNew_RejectsInvalidWindows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{"zero size", 0, 0},
		{"negative size", -5, 0},
		{"negative overlap", 10, -1},
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 10, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.size, tt.overlap)
			if !errors.Is(err, ErrInvalidWindow) {
				t.Errorf("New(%d, %d) error = %v, want ErrInvalidWindow", tt.size, tt.overlap, err)
			}
		})
	}
}

func TestSplit_ShortTextYieldsSingleNormalisedWindow(t *testing.T) {
	t.Parallel()

	got := Segment("  Alpha\tdesc \n\n  more   words  ")
	if len(got) != 1 {
		t.Fatalf("want 1 window, got %d: %q", len(got), got)
	}
	if got[0] != "Alpha desc more words" {
		t.Errorf("window = %q, want %q", got[0], "Alpha desc more words")
	}
}

func TestSplit_ExactlyWindowSizeIsOneWindow(t *testing.T) {
	t.Parallel()

	text := words(DefaultWindowSize)
	got := Segment(text)
	if len(got) != 1 {
		t.Fatalf("want 1 window, got %d", len(got))
	}
	if got[0] != text {
		t.Error("single window must equal the whitespace-normalised input")
	}
}

func TestSplit_EmptyAndBlankText(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "   ", "\n\t\n"} {
		if got := Segment(in); len(got) != 0 {
			t.Errorf("Segment(%q) = %q, want no windows", in, got)
		}
	}
}

func TestSplit_OverlapAndCoverage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		size, overlap, n int
	}{
		{10, 3, 25},
		{10, 0, 30},
		{5, 4, 12},
		{800, 120, 2000},
		{800, 120, 801},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("size=%d/overlap=%d/n=%d", tt.size, tt.overlap, tt.n), func(t *testing.T) {
			t.Parallel()

			s, err := New(tt.size, tt.overlap)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			windows := s.Split(words(tt.n))
			if len(windows) < 2 {
				t.Fatalf("want several windows for %d words, got %d", tt.n, len(windows))
			}

			covered := make(map[string]bool, tt.n)
			for i, w := range windows {
				ws := strings.Fields(w)
				if len(ws) > tt.size {
					t.Errorf("window %d has %d words, exceeds %d", i, len(ws), tt.size)
				}
				for _, x := range ws {
					covered[x] = true
				}
				if i == 0 {
					continue
				}
				prev := strings.Fields(windows[i-1])
				shared := prev[len(prev)-tt.overlap:]
				if i < len(windows)-1 || len(ws) >= tt.overlap {
					if got := strings.Join(ws[:tt.overlap], " "); got != strings.Join(shared, " ") {
						t.Errorf("window %d does not start with the last %d words of window %d", i, tt.overlap, i-1)
					}
				}
			}

			if len(covered) != tt.n {
				t.Errorf("covered %d distinct words, want %d", len(covered), tt.n)
			}
			last := strings.Fields(windows[len(windows)-1])
			if last[len(last)-1] != fmt.Sprintf("w%d", tt.n-1) {
				t.Errorf("last window must end with the final word, got %q", last[len(last)-1])
			}
		})
	}
}

func TestSplit_StopsOnceEndReached(t *testing.T) {
	t.Parallel()

	s, err := New(10, 5)
	if err != nil {
		t.Fatal(err)
	}
	// 15 words: [0,10) then [5,15) reaches the end; no [10,15) tail window.
	got := s.Split(words(15))
	if len(got) != 2 {
		t.Fatalf("want 2 windows, got %d: %q", len(got), got)
	}
}

func TestEntry_CarriesSourceID(t *testing.T) {
	t.Parallel()

	s, err := New(4, 1)
	if err != nil {
		t.Fatal(err)
	}
	segs := s.Entry(rag.Entry{SourceID: "project:Alpha", Text: words(9)})
	if len(segs) != 3 {
		t.Fatalf("want 3 segments, got %d", len(segs))
	}
	for i, sg := range segs {
		if sg.SourceID != "project:Alpha" {
			t.Errorf("segment %d source = %q", i, sg.SourceID)
		}
		if strings.TrimSpace(sg.Text) == "" {
			t.Errorf("segment %d is empty", i)
		}
	}
}
