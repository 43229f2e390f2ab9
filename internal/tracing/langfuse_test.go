package tracing

import "testing"

func TestSetup_DisabledWithoutKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no keys", Config{}},
		{"public only", Config{PublicKey: "pk"}},
		{"secret only", Config{SecretKey: "sk"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h, flush, ok := Setup(tc.cfg)
			if ok || h != nil || flush != nil {
				t.Errorf("Setup(%+v) = (%v, flush set=%v, %v), want disabled", tc.cfg, h, flush != nil, ok)
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("LANGFUSE_HOST", "https://langfuse.example")
	t.Setenv("LANGFUSE_PUBLIC_KEY", "pk")
	t.Setenv("LANGFUSE_SECRET_KEY", "sk")

	cfg := FromEnv("v1.2.3")
	if !cfg.Enabled() {
		t.Fatal("want enabled config")
	}
	if cfg.Host != "https://langfuse.example" || cfg.Release != "v1.2.3" {
		t.Errorf("FromEnv = %+v", cfg)
	}
}
