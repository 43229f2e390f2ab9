package embedder

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// embeddingMarkers identify names that are embedding models even when they
// also contain a chat family name ("qwen3-embedding", "gte-qwen2").
var embeddingMarkers = []string{"embed", "bge", "gte-", "e5-", "minilm"}

// chatFamilies are fragments of chat/completion model names.
var chatFamilies = []string{
	"gpt-4", "gpt-3.5", "gpt-35", "o1", "o3",
	"llama", "mistral", "mixtral", "gemma", "phi",
	"claude", "command-r", "deepseek", "qwen", "solar",
	"vicuna", "falcon", "yi-",
}

// looksLikeChatModel reports whether model resembles a chat model rather
// than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, m := range embeddingMarkers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	for _, f := range chatFamilies {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

// Validate reports every problem in the embedding configuration at once so
// a misconfigured deployment fails at startup instead of producing a build
// full of embedding failures. Suspicious but usable settings are logged as
// warnings.
func Validate(log *slog.Logger) error {
	backend := Backend()
	if backend != "ollama" && getEnv("EMBEDDING_PROVIDER") == "" {
		log.Warn("embedder: EMBEDDING_PROVIDER not set, inheriting MODEL_PROVIDER",
			slog.String("backend", backend),
		)
	}

	var errs []error
	switch backend {
	case "ollama":
	case "openai":
		errs = append(errs, requireOne("OpenAI API key", "EMBEDDING_API_KEY", "OPENAI_API_KEY"))
	case "azure":
		errs = append(errs,
			requireOne("Azure API key", "EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY"),
			requireOne("Azure endpoint", "EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT"),
		)
	default:
		errs = append(errs, fmt.Errorf("embedder: unsupported backend %q (want ollama, openai or azure)", backend))
	}

	if v := getEnv("EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("embedder: EMBEDDING_DIMENSIONS must be a positive integer, got %q", v))
		}
	}
	if v := getEnv("EMBEDDING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("embedder: EMBEDDING_TIMEOUT must be a positive duration, got %q", v))
		}
	}
	if v := getEnv("EMBEDDING_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err != nil || f < 0 {
			errs = append(errs, fmt.Errorf("embedder: EMBEDDING_RATE_LIMIT must be a non-negative number, got %q", v))
		}
	}

	if model := getEnv("EMBEDDING_MODEL"); model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model",
			slog.String("model", model),
			slog.String("hint", "use an embedding model such as nomic-embed-text or text-embedding-3-small"),
		)
	}

	return errors.Join(errs...)
}

// requireOne returns an error naming keys when none of them is set.
func requireOne(what string, keys ...string) error {
	for _, k := range keys {
		if getEnv(k) != "" {
			return nil
		}
	}
	return fmt.Errorf("embedder: no %s found, set %s", what, strings.Join(keys, " or "))
}
