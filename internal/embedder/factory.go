package embedder

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/profilerag-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	// defaultTimeout bounds a single embedding call made through the Gateway.
	defaultTimeout = 30 * time.Second
)

// Backend resolves the embedding backend name: EMBEDDING_PROVIDER, then
// MODEL_PROVIDER when it names an embedding-capable backend, then "ollama".
func Backend() string {
	if b := getEnv("EMBEDDING_PROVIDER"); b != "" {
		return b
	}
	switch b := getEnv("MODEL_PROVIDER"); b {
	case "ollama", "openai", "azure":
		return b
	}
	return "ollama"
}

// Model returns the embedding model for the given backend.
func Model(backend string) string {
	if backend == "ollama" {
		return getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel)
	}
	return getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel)
}

// NewFromEnv constructs the batch rag.Embedder for the resolved backend.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER, else MODEL_PROVIDER (ollama/openai/azure), else ollama
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_MODEL overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY overrides the inherited API key
//  5. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS is sent as the requested width (openai/azure)
func NewFromEnv() (rag.Embedder, error) {
	backend := Backend()
	model := Model(backend)

	switch backend {
	case "ollama":
		host := getEnv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		return NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model}), nil

	case "openai":
		apiKey := getEnv("EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = getEnv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    getEnvOrDefault("EMBEDDING_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:     apiKey,
			Model:      model,
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
		}), nil

	case "azure":
		apiKey := getEnv("EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = getEnv("AZURE_OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := getEnv("EMBEDDING_ENDPOINT")
		if endpoint == "" {
			endpoint = getEnv("AZURE_OPENAI_ENDPOINT")
		}
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint,
			APIKey:     apiKey,
			Model:      model,
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
			Azure:      true,
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-10-21"),
			Deployment: getEnv("AZURE_OPENAI_EMBEDDING_DEPLOYMENT"),
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q, valid values: ollama, openai, azure", backend)
	}
}

// NewGatewayFromEnv wraps NewFromEnv in a Gateway configured from
// EMBEDDING_DIMENSIONS, EMBEDDING_TIMEOUT (Go duration, default 30s),
// EMBEDDING_RATE_LIMIT (requests per second, 0 = unlimited) and
// EMBEDDING_RATE_BURST.
func NewGatewayFromEnv() (*Gateway, error) {
	provider, err := NewFromEnv()
	if err != nil {
		return nil, err
	}

	timeout := defaultTimeout
	if v := getEnv("EMBEDDING_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("embedder: invalid EMBEDDING_TIMEOUT %q: %w", v, err)
		}
		timeout = d
	}

	var limiter *rate.Limiter
	if rps := getEnvFloat("EMBEDDING_RATE_LIMIT", 0); rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), max(getEnvInt("EMBEDDING_RATE_BURST", 1), 1))
	}

	return NewGateway(provider, GatewayConfig{
		Dimension: getEnvInt("EMBEDDING_DIMENSIONS", 0),
		Model:     Model(Backend()),
		Timeout:   timeout,
		Limiter:   limiter,
	}), nil
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat is getEnvInt for float values.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
