// Package answer composes grounded answers: it retrieves passages for a
// question, renders them as numbered context citing their source ids, trims
// the prompt to the context budget, and asks the chat model to answer from
// that context only.
package answer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/profilerag-go/internal/budget"
	"github.com/54b3r/profilerag-go/internal/logging"
	"github.com/54b3r/profilerag-go/internal/rag"
)

// DefaultTopK is the number of passages requested when Request.K is zero.
const DefaultTopK = 5

// systemPrompt is the base instruction injected into every conversation.
const systemPrompt = `You answer questions about one person using only the profile context provided
with each question. The context is a numbered list of passages; each passage is
labelled with its source id, for example [project:Alpha].

Rules:
- Answer only from the context. If the context does not contain the answer, say
  that the profile does not mention it.
- Cite the source ids you relied on in square brackets after the sentence that
  uses them.
- Do not invent employers, dates, projects, or skills.
- Keep answers short and factual unless the question asks for detail.`

// noContext replaces the context block when retrieval found nothing.
const noContext = "## Profile Context\n\nNo profile passages matched this question."

var (
	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("answer: empty question")

	// ErrGeneration wraps failures of the chat model.
	ErrGeneration = errors.New("answer: generation failed")
)

// Role names a prior conversation turn's author.
type Role string

const (
	// RoleUser marks a turn written by the asker.
	RoleUser Role = "user"
	// RoleAssistant marks a previously generated answer.
	RoleAssistant Role = "assistant"
)

// Turn is one prior message replayed for multi-turn context.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a single question with optional conversation history.
type Request struct {
	Question string `json:"question"`
	K        int    `json:"k,omitempty"`
	History  []Turn `json:"history,omitempty"`
}

// Answer is the generated text and the passages it was grounded on.
type Answer struct {
	Text    string        `json:"answer"`
	Sources []rag.Passage `json:"sources"`
	// Dropped counts retrieved passages trimmed to fit the context budget.
	Dropped int `json:"dropped,omitempty"`
}

// Config holds the dependencies required to construct a Composer.
type Config struct {
	// ChatModel is the generation backend built by the provider factory.
	ChatModel model.BaseChatModel

	// Retriever supplies ranked passages, usually the engine.
	Retriever rag.Retriever

	// TopK is the number of passages requested when a Request leaves K unset.
	// Defaults to DefaultTopK.
	TopK int

	// MaxContextTokens is the estimated token budget for the whole prompt.
	// Passages are dropped lowest score first, then history oldest first.
	// Defaults to budget.DefaultMaxContextTokens.
	MaxContextTokens int

	// Handlers receive Eino callbacks for each generation (e.g. Langfuse).
	Handlers []callbacks.Handler
}

// Composer turns questions into grounded answers. It is safe for concurrent use.
type Composer struct {
	chat             model.BaseChatModel
	retriever        rag.Retriever
	topK             int
	maxContextTokens int
	handlers         []callbacks.Handler
}

// New validates cfg and returns a Composer.
func New(cfg Config) (*Composer, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("answer: chat model is required")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("answer: retriever is required")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}
	return &Composer{
		chat:             cfg.ChatModel,
		retriever:        cfg.Retriever,
		topK:             topK,
		maxContextTokens: maxCtx,
		handlers:         cfg.Handlers,
	}, nil
}

// Answer retrieves context for req and generates a complete answer.
// Retrieval errors (not ready, query embedding failure) are returned as-is.
func (c *Composer) Answer(ctx context.Context, req Request) (*Answer, error) {
	messages, ans, err := c.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	msg, err := c.chat.Generate(c.callbackContext(ctx), messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if msg != nil {
		ans.Text = strings.TrimSpace(msg.Content)
	}
	return ans, nil
}

// Stream is Answer with the generated text written to w as it arrives.
// The returned Answer carries the full text once the stream ends.
func (c *Composer) Stream(ctx context.Context, req Request, w io.Writer) (*Answer, error) {
	messages, ans, err := c.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	sr, err := c.chat.Stream(c.callbackContext(ctx), messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	defer sr.Close()

	var buf strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: stream receive: %w", ErrGeneration, err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		buf.WriteString(msg.Content)
		if _, err := io.WriteString(w, msg.Content); err != nil {
			return nil, fmt.Errorf("answer: write error: %w", err)
		}
	}
	ans.Text = strings.TrimSpace(buf.String())
	return ans, nil
}

// prepare runs retrieval and builds the budgeted message list.
func (c *Composer) prepare(ctx context.Context, req Request) ([]*schema.Message, *Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, nil, ErrEmptyQuestion
	}
	k := req.K
	if k <= 0 {
		k = c.topK
	}

	passages, err := c.retriever.Retrieve(ctx, question, k)
	if err != nil {
		return nil, nil, err
	}

	log := logging.FromContext(ctx)
	messages, kept := c.buildMessages(ctx, question, passages, req.History)
	if dropped := len(passages) - len(kept); dropped > 0 {
		log.Warn("budget: dropped passages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(kept)),
			slog.Int("max_tokens", c.maxContextTokens),
		)
	}
	log.Debug("answer: prompt assembled",
		slog.Int("messages", len(messages)),
		slog.Int("passages", len(kept)),
		slog.Int("estimated_tokens", budget.EstimateMessages(messages)),
	)

	return messages, &Answer{Sources: kept, Dropped: len(passages) - len(kept)}, nil
}

// buildMessages assembles [system, ...history, context, question]. Passages
// are fitted first against the fixed messages, then history is trimmed
// oldest-first into whatever budget remains.
func (c *Composer) buildMessages(ctx context.Context, question string, passages []rag.Passage, history []Turn) ([]*schema.Message, []rag.Passage) {
	system := schema.SystemMessage(systemPrompt)
	user := schema.UserMessage(question)

	// The context header and one message frame are part of the fixed cost.
	fixedTokens := budget.EstimateMessages([]*schema.Message{system, user, schema.SystemMessage(noContext)})
	kept := budget.FitPassages(fixedTokens, passages, c.maxContextTokens)
	contextMsg := schema.SystemMessage(buildContext(kept))

	fixed := []*schema.Message{system, contextMsg, user}
	historyMsgs := toMessages(history)
	before := len(historyMsgs)
	historyMsgs = budget.TrimHistory(fixed, historyMsgs, c.maxContextTokens)
	if dropped := before - len(historyMsgs); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(historyMsgs)),
		)
	}

	out := make([]*schema.Message, 0, len(historyMsgs)+3)
	out = append(out, system)
	out = append(out, historyMsgs...)
	out = append(out, contextMsg, user)
	return out, kept
}

// callbackContext attaches the configured Eino callback handlers.
func (c *Composer) callbackContext(ctx context.Context) context.Context {
	if len(c.handlers) == 0 {
		return ctx
	}
	return callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      "profilerag-answer",
		Type:      "Composer",
		Component: components.ComponentOfChatModel,
	}, c.handlers...)
}

// buildContext renders passages as a numbered list labelled with source ids.
func buildContext(passages []rag.Passage) string {
	if len(passages) == 0 {
		return noContext
	}
	var sb strings.Builder
	sb.WriteString("## Profile Context\n\n")
	for i, p := range passages {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, p.SourceID, p.Text)
	}
	return sb.String()
}

// toMessages converts prior turns, skipping unknown roles and blank content.
func toMessages(history []Turn) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, t := range history {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		switch t.Role {
		case RoleUser:
			out = append(out, schema.UserMessage(t.Content))
		case RoleAssistant:
			out = append(out, schema.AssistantMessage(t.Content, nil))
		}
	}
	return out
}
