// Package budget estimates prompt sizes and trims prompt inputs to fit a
// model's context window. Generation backends use different tokenizers, so it
// uses a conservative character heuristic: 1 token ≈ 4 characters.
package budget

import (
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/profilerag-go/internal/rag"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// messageOverhead is the per-message framing cost in most chat APIs.
	messageOverhead = 4

	// passageOverhead covers the numbering and source label of a rendered passage.
	passageOverhead = 6

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// It fits 8k-context models while leaving room for the output.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// EstimatePassage returns the estimated cost of one passage in the context block.
func EstimatePassage(p rag.Passage) int {
	return passageOverhead + Estimate(p.SourceID) + Estimate(p.Text)
}

// FitPassages drops passages lowest score first until fixedTokens plus the
// remaining passages fit within maxTokens. Survivors keep their input order.
// Ties on score drop the later passage first.
func FitPassages(fixedTokens int, passages []rag.Passage, maxTokens int) []rag.Passage {
	if len(passages) == 0 {
		return passages
	}

	total := fixedTokens
	for _, p := range passages {
		total += EstimatePassage(p)
	}
	if total <= maxTokens {
		return passages
	}

	kept := make([]bool, len(passages))
	for i := range kept {
		kept[i] = true
	}
	for n := len(passages); n > 0 && total > maxTokens; n-- {
		lowest := -1
		for i := len(passages) - 1; i >= 0; i-- {
			if kept[i] && (lowest < 0 || passages[i].Score < passages[lowest].Score) {
				lowest = i
			}
		}
		kept[lowest] = false
		total -= EstimatePassage(passages[lowest])
	}

	out := make([]rag.Passage, 0, len(passages))
	for i, p := range passages {
		if kept[i] {
			out = append(out, p)
		}
	}
	return out
}

// TrimHistory removes the oldest messages from history until the total
// estimated token count of fixed + history fits within maxTokens. fixed
// contains messages that must not be trimmed (system prompt, retrieved
// context, current question).
//
// If even an empty history exceeds the budget, the empty slice is returned;
// callers should warn separately if fixed alone exceeds the budget.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := EstimateMessages(fixed)
	for len(history) > 0 {
		if fixedTokens+EstimateMessages(history) <= maxTokens {
			break
		}
		history = history[1:]
	}
	return history
}
