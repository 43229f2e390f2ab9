// Package segment splits entry text into overlapping, fixed-size word
// windows. Windows overlap so that context spanning a split boundary is
// present in both neighbouring segments when they are embedded.
package segment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/54b3r/profilerag-go/internal/rag"
)

const (
	// DefaultWindowSize is the maximum number of words per window.
	DefaultWindowSize = 800

	// DefaultOverlap is the number of words shared by consecutive windows.
	DefaultOverlap = 120
)

// ErrInvalidWindow is returned for window/overlap combinations that would
// yield a stride below one word.
var ErrInvalidWindow = errors.New("segment: invalid window configuration")

// Segmenter cuts text into windows of at most WindowSize words whose start
// positions advance by WindowSize-Overlap words. The zero value is not usable;
// construct one with New or use Default.
type Segmenter struct {
	windowSize int
	overlap    int
}

// New returns a Segmenter for the given window size and overlap.
// windowSize must be positive and 0 <= overlap < windowSize.
func New(windowSize, overlap int) (*Segmenter, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("%w: window size %d must be positive", ErrInvalidWindow, windowSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap %d must not be negative", ErrInvalidWindow, overlap)
	}
	if overlap >= windowSize {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than window size %d", ErrInvalidWindow, overlap, windowSize)
	}
	return &Segmenter{windowSize: windowSize, overlap: overlap}, nil
}

// Default returns a Segmenter using DefaultWindowSize and DefaultOverlap.
func Default() *Segmenter {
	return &Segmenter{windowSize: DefaultWindowSize, overlap: DefaultOverlap}
}

// WindowSize reports the configured window size in words.
func (s *Segmenter) WindowSize() int { return s.windowSize }

// Overlap reports the configured overlap in words.
func (s *Segmenter) Overlap() int { return s.overlap }

// Split returns the word windows of text, each joined with single spaces.
// It stops after the first window that reaches the last word.
func (s *Segmenter) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	stride := s.windowSize - s.overlap
	windows := make([]string, 0, len(words)/stride+1)
	for start := 0; start < len(words); start += stride {
		end := min(start+s.windowSize, len(words))
		if w := strings.TrimSpace(strings.Join(words[start:end], " ")); w != "" {
			windows = append(windows, w)
		}
		if end == len(words) {
			break
		}
	}
	return windows
}

// Entry segments a labeled entry, carrying its SourceID onto every segment.
func (s *Segmenter) Entry(e rag.Entry) []rag.Segment {
	windows := s.Split(e.Text)
	segs := make([]rag.Segment, 0, len(windows))
	for _, w := range windows {
		segs = append(segs, rag.Segment{SourceID: e.SourceID, Text: w})
	}
	return segs
}

// Segment splits text with the default window size and overlap.
func Segment(text string) []string {
	return Default().Split(text)
}
