// Package config provides layered configuration for profilerag.
// Precedence is defaults → .env file → YAML file → env vars. Environment
// variables always win; the .env and YAML layers only fill in unset keys.
//
// YAML file search order:
//  1. --config CLI flag (explicit path)
//  2. PROFILERAG_CONFIG environment variable
//  3. ~/.profilerag/config.yaml
//  4. ./profilerag.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Profile configures the source document.
	Profile ProfileConfig `yaml:"profile"`

	// Corpus configures segmentation and the embedding fan-out.
	Corpus CorpusConfig `yaml:"corpus"`

	// Snapshot configures the collection cache.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Retrieval configures top-k bounds and the answer context budget.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Model configures the chat model that generates answers.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the optional collection mirror.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ProfileConfig locates the profile document.
type ProfileConfig struct {
	// Path is the JSON profile document.
	Path string `yaml:"path"`
}

// CorpusConfig holds build settings.
type CorpusConfig struct {
	// WindowSize is the segment window in words.
	WindowSize int `yaml:"window_size"`
	// Overlap is the number of words shared by consecutive windows.
	Overlap int `yaml:"overlap"`
	// Concurrency caps concurrent embedding calls.
	Concurrency int `yaml:"concurrency"`
	// FailureThreshold is the tolerated failed-segment ratio.
	FailureThreshold float64 `yaml:"failure_threshold"`
	// AbortOnThreshold fails the build when the threshold is exceeded.
	AbortOnThreshold bool `yaml:"abort_on_threshold"`
	// MaxLoggedFailures caps individually logged embedding failures.
	MaxLoggedFailures int `yaml:"max_logged_failures"`
	// BuildTimeout bounds one build, e.g. "5m".
	BuildTimeout string `yaml:"build_timeout"`
}

// SnapshotConfig holds collection cache settings.
type SnapshotConfig struct {
	// Backend is file, sqlite, or none.
	Backend string `yaml:"backend"`
	// Path is the snapshot file or database path.
	Path string `yaml:"path"`
}

// RetrievalConfig holds query-time settings.
type RetrievalConfig struct {
	// TopK is the default number of passages.
	TopK int `yaml:"top_k"`
	// MaxTopK caps k per request.
	MaxTopK int `yaml:"max_top_k"`
	// MaxContextTokens is the answer prompt budget.
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// ModelConfig holds chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, ark, gemini.
	Provider string `yaml:"provider"`

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness (0.0 to 2.0).
	Temperature float32 `yaml:"temperature"`

	Ollama OllamaConfig `yaml:"ollama"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Azure  AzureConfig  `yaml:"azure"`
	Ark    ArkConfig    `yaml:"ark"`
	Gemini GeminiConfig `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the OpenAI model name.
	Model string `yaml:"model"`
	// BaseURL targets an OpenAI-compatible server.
	BaseURL string `yaml:"base_url"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the chat deployment name.
	Deployment string `yaml:"deployment"`
	// EmbeddingDeployment is the embedding deployment name.
	EmbeddingDeployment string `yaml:"embedding_deployment"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// ArkConfig holds Volcano Engine Ark settings.
type ArkConfig struct {
	// APIKey is the Ark API key. Prefer env var ARK_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Ark endpoint or model ID.
	Model string `yaml:"model"`
	// BaseURL overrides the regional endpoint.
	BaseURL string `yaml:"base_url"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Gemini model name.
	Model string `yaml:"model"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions requests (OpenAI) or expects a fixed vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// Timeout bounds one embedding call, e.g. "30s".
	Timeout string `yaml:"timeout"`
	// RateLimit caps outbound embedding calls per second.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the outbound burst size.
	RateBurst int `yaml:"rate_burst"`
}

// QdrantConfig holds Qdrant mirror settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Empty disables the mirror.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for admin routes. Prefer env var PROFILERAG_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimit is the per-IP request rate on retrieve and chat.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the per-IP burst.
	RateBurst int `yaml:"rate_burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{EnvProfilePath, func(c *Config) string { return c.Profile.Path }},
	{EnvWindowSize, func(c *Config) string { return intStr(c.Corpus.WindowSize) }},
	{EnvOverlap, func(c *Config) string { return intStr(c.Corpus.Overlap) }},
	{EnvConcurrency, func(c *Config) string { return intStr(c.Corpus.Concurrency) }},
	{EnvFailureThreshold, func(c *Config) string { return float64Str(c.Corpus.FailureThreshold) }},
	{EnvAbortOnThreshold, func(c *Config) string { return boolStr(c.Corpus.AbortOnThreshold) }},
	{EnvMaxLoggedFailures, func(c *Config) string { return intStr(c.Corpus.MaxLoggedFailures) }},
	{EnvBuildTimeout, func(c *Config) string { return c.Corpus.BuildTimeout }},
	{EnvSnapshotBackend, func(c *Config) string { return c.Snapshot.Backend }},
	{EnvSnapshotPath, func(c *Config) string { return c.Snapshot.Path }},
	{EnvTopK, func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{EnvMaxTopK, func(c *Config) string { return intStr(c.Retrieval.MaxTopK) }},
	{EnvMaxContextTokens, func(c *Config) string { return intStr(c.Retrieval.MaxContextTokens) }},
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAI.BaseURL }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_EMBEDDING_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.EmbeddingDeployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_TIMEOUT", func(c *Config) string { return c.Embedding.Timeout }},
	{"EMBEDDING_RATE_LIMIT", func(c *Config) string { return float64Str(c.Embedding.RateLimit) }},
	{"EMBEDDING_RATE_BURST", func(c *Config) string { return intStr(c.Embedding.RateBurst) }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{EnvHost, func(c *Config) string { return c.Server.Host }},
	{EnvPort, func(c *Config) string { return intStr(c.Server.Port) }},
	{EnvAPIKey, func(c *Config) string { return c.Server.APIKey }},
	{EnvRateLimit, func(c *Config) string { return float64Str(c.Server.RateLimit) }},
	{EnvRateBurst, func(c *Config) string { return intStr(c.Server.RateBurst) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// LoadDotEnv loads KEY=value pairs from a .env file without overriding
// variables that are already set. An explicit path must exist; otherwise
// ./.env is loaded when present. Returns the file that was loaded.
func LoadDotEnv(explicitPath string) (string, error) {
	path := explicitPath
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return "", nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return "", fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return path, nil
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	var errs []error
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			errs = append(errs, fmt.Errorf("config: set %s: %w", m.envKey, err))
			continue
		}
		applied++
	}
	if err := errors.Join(errs...); err != nil {
		return path, err
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("PROFILERAG_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".profilerag", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("profilerag.yaml"); err == nil {
		return "profilerag.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// float64Str converts a float64 to string, returning "" for zero values.
func float64Str(v float64) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
