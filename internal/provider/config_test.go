package provider

import (
	"strings"
	"testing"
)

// validConfigs holds one complete configuration per backend; the Validate
// cases below each break exactly one field of a copy.
func validConfigs() map[Backend]Config {
	return map[Backend]Config{
		BackendOllama: {Backend: BackendOllama, Ollama: ProviderOllama{Host: "http://localhost:11434", Model: "llama3"}},
		BackendOpenAI: {Backend: BackendOpenAI, OpenAI: ProviderOpenAI{APIKey: "sk-test", Model: "gpt-4o"}},
		BackendAzure: {Backend: BackendAzure, AzureOpenAI: ProviderAzureOpenAI{
			APIKey: "key", Endpoint: "https://my.openai.azure.com", Deployment: "gpt-4o", APIVersion: "2024-10-21",
		}},
		BackendArk:    {Backend: BackendArk, Ark: ProviderArk{APIKey: "ark-test", Model: "ep-2024"}},
		BackendGemini: {Backend: BackendGemini, Gemini: ProviderGemini{APIKey: "g-test", Model: "gemini-2.0-flash"}},
	}
}

func TestConfigValidate_CompleteConfigs(t *testing.T) {
	t.Parallel()

	for backend, cfg := range validConfigs() {
		if err := cfg.Validate(); err != nil {
			t.Errorf("%s: Validate() = %v", backend, err)
		}
	}
}

func TestConfigValidate_NamesMissingSetting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		backend Backend
		breakFn func(*Config)
		wantEnv string
	}{
		{BackendOllama, func(c *Config) { c.Ollama.Host = "" }, "OLLAMA_HOST"},
		{BackendOllama, func(c *Config) { c.Ollama.Model = "" }, "OLLAMA_MODEL"},
		{BackendOpenAI, func(c *Config) { c.OpenAI.APIKey = "" }, "OPENAI_API_KEY"},
		{BackendOpenAI, func(c *Config) { c.OpenAI.Model = "" }, "OPENAI_MODEL"},
		{BackendAzure, func(c *Config) { c.AzureOpenAI.APIKey = "" }, "AZURE_OPENAI_API_KEY"},
		{BackendAzure, func(c *Config) { c.AzureOpenAI.Endpoint = "" }, "AZURE_OPENAI_ENDPOINT"},
		{BackendAzure, func(c *Config) { c.AzureOpenAI.Deployment = "" }, "AZURE_OPENAI_DEPLOYMENT"},
		{BackendArk, func(c *Config) { c.Ark.APIKey = "" }, "ARK_API_KEY"},
		{BackendArk, func(c *Config) { c.Ark.Model = "" }, "ARK_MODEL"},
		{BackendGemini, func(c *Config) { c.Gemini.APIKey = "" }, "GOOGLE_API_KEY"},
		{BackendGemini, func(c *Config) { c.Gemini.Model = "" }, "GEMINI_MODEL"},
		{BackendOllama, func(c *Config) { c.Tuning.Temperature = 3 }, "MODEL_TEMPERATURE"},
		{BackendOpenAI, func(c *Config) { c.Tuning.Temperature = -0.5 }, "MODEL_TEMPERATURE"},
		{BackendOllama, func(c *Config) { c.Backend = "vertex" }, "unknown backend"},
	}

	for _, tc := range tests {
		t.Run(string(tc.backend)+"/"+tc.wantEnv, func(t *testing.T) {
			t.Parallel()
			cfg := validConfigs()[tc.backend]
			tc.breakFn(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantEnv) {
				t.Errorf("Validate() = %v, want mention of %s", err, tc.wantEnv)
			}
		})
	}
}

func TestConfigModelName(t *testing.T) {
	t.Parallel()

	want := map[Backend]string{
		BackendOllama: "llama3",
		BackendOpenAI: "gpt-4o",
		BackendAzure:  "gpt-4o",
		BackendArk:    "ep-2024",
		BackendGemini: "gemini-2.0-flash",
	}
	for backend, cfg := range validConfigs() {
		if got := cfg.ModelName(); got != want[backend] {
			t.Errorf("%s: ModelName() = %q, want %q", backend, got, want[backend])
		}
	}
	if got := (&Config{Backend: "none"}).ModelName(); got != "" {
		t.Errorf("unknown backend ModelName() = %q", got)
	}
}

func TestIsAzureReasoningModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		deployment string
		want       bool
	}{
		{"o1", true},
		{"o3-mini", true},
		{"o4-mini", true},
		{"O1-PREVIEW", true},
		{"codex-mini", true},
		{"gpt-5.2-codex", false}, // prefix rule only
		{"gpt-4o", false},
		{"gpt-4.1", false},
		{"gpt-35-turbo", false},
		{"profile-answers", false},
		{"", false},
	}

	for _, tc := range tests {
		t.Run(tc.deployment, func(t *testing.T) {
			t.Parallel()
			got := isAzureReasoningModel(tc.deployment)
			if got != tc.want {
				t.Errorf("isAzureReasoningModel(%q) = %v, want %v", tc.deployment, got, tc.want)
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "azure")
	t.Setenv("AZURE_OPENAI_API_KEY", "key")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://my.openai.azure.com")
	t.Setenv("AZURE_OPENAI_DEPLOYMENT", "gpt-4.1")
	t.Setenv("AZURE_OPENAI_API_VERSION", "")
	t.Setenv("MODEL_MAX_TOKENS", "512")
	t.Setenv("MODEL_TEMPERATURE", "not-a-number")

	cfg := FromEnv()
	if cfg.Backend != BackendAzure {
		t.Errorf("Backend = %q, want azure", cfg.Backend)
	}
	if cfg.AzureOpenAI.APIVersion != "2024-10-21" {
		t.Errorf("APIVersion = %q, want default", cfg.AzureOpenAI.APIVersion)
	}
	if cfg.Tuning.MaxTokens != 512 {
		t.Errorf("MaxTokens = %d, want 512", cfg.Tuning.MaxTokens)
	}
	if cfg.Tuning.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want fallback 0.2", cfg.Tuning.Temperature)
	}
	if got := cfg.ModelName(); got != "gpt-4.1" {
		t.Errorf("ModelName() = %q, want gpt-4.1", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}
