package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/profilerag-go/internal/answer"
	"github.com/54b3r/profilerag-go/internal/config"
	"github.com/54b3r/profilerag-go/internal/corpus"
	"github.com/54b3r/profilerag-go/internal/embedder"
	"github.com/54b3r/profilerag-go/internal/engine"
	"github.com/54b3r/profilerag-go/internal/profile"
	"github.com/54b3r/profilerag-go/internal/provider"
	"github.com/54b3r/profilerag-go/internal/rag"
	"github.com/54b3r/profilerag-go/internal/server"
	"github.com/54b3r/profilerag-go/internal/snapshot"
	"github.com/54b3r/profilerag-go/internal/tracing"
	"github.com/54b3r/profilerag-go/internal/version"
)

// stack is everything a command needs to retrieve from the profile corpus.
type stack struct {
	engine   *engine.Engine
	settings config.Engine
	// pingers probe the optional dependencies for GET /api/ready.
	pingers []server.Pinger
}

// buildStack resolves the engine settings and wires the gateway, builder,
// snapshot store, and optional Qdrant mirror into an Engine. The engine is
// not started. reg may be nil to skip metric registration.
func buildStack(log *slog.Logger, reg prometheus.Registerer, forceRebuild bool) (*stack, error) {
	settings, err := config.EngineFromEnv()
	if err != nil {
		return nil, err
	}
	if forceRebuild {
		settings.ForceRebuild = true
	}

	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	gateway, err := embedder.NewGatewayFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("provider", embedder.Backend()),
		slog.String("model", gateway.Model()),
	)

	seg, err := settings.Segmenter()
	if err != nil {
		return nil, err
	}
	builder, err := corpus.NewBuilder(gateway, corpus.Config{
		Segmenter:         seg,
		Concurrency:       settings.Concurrency,
		MaxLoggedFailures: settings.MaxLoggedFailures,
		FailureThreshold:  settings.FailureThreshold,
		AbortOnThreshold:  settings.AbortOnThreshold,
	})
	if err != nil {
		return nil, err
	}

	st := &stack{settings: settings}

	store, err := openSnapshot(settings)
	if err != nil {
		// A missing cache only costs a rebuild.
		log.Warn("snapshot: store unavailable, caching disabled", slog.String("error", err.Error()))
	}
	if sq, ok := store.(*snapshot.SQLiteStore); ok {
		st.pingers = append(st.pingers, server.PingFunc{Label: "snapshot", Fn: sq.Ping})
	}
	if store != nil {
		log.Info("snapshot: store ready", slog.String("location", store.Location()))
	}

	var publisher rag.Publisher
	if host := os.Getenv("QDRANT_HOST"); host != "" {
		mirror, err := rag.NewQdrantMirror(&rag.QdrantConfig{
			Host:       host,
			Port:       envInt("QDRANT_PORT", 0),
			Collection: os.Getenv("QDRANT_COLLECTION"),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		})
		if err != nil {
			log.Warn("qdrant: mirror disabled", slog.String("error", err.Error()))
		} else {
			publisher = mirror
			st.pingers = append(st.pingers, server.NewQdrantPinger(mirror.Client()))
			log.Info("qdrant: mirror enabled", slog.String("host", host))
		}
	}

	eng, err := engine.New(engine.Config{
		Source:       &profile.FileSource{Path: settings.ProfilePath},
		Builder:      builder,
		Embedder:     gateway,
		Snapshot:     store,
		Publisher:    publisher,
		ForceRebuild: settings.ForceRebuild,
		BuildTimeout: settings.BuildTimeout,
		DefaultTopK:  settings.TopK,
		MaxTopK:      settings.MaxTopK,
		Registerer:   reg,
		Logger:       log,
	})
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		if publisher != nil {
			_ = publisher.Close()
		}
		return nil, err
	}
	st.engine = eng
	return st, nil
}

// openSnapshot returns the configured store, or a nil Store for the none
// backend.
func openSnapshot(s config.Engine) (snapshot.Store, error) {
	switch s.SnapshotBackend {
	case config.SnapshotNone:
		return nil, nil
	case config.SnapshotSQLite:
		store, err := snapshot.OpenSQLite(s.SnapshotPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return snapshot.NewFileStore(s.SnapshotPath), nil
	}
}

// buildComposer constructs the chat model, optional Langfuse tracing, and the
// answer composer over retriever. The returned flush must be called before
// exit; it is never nil.
func buildComposer(ctx context.Context, log *slog.Logger, retriever rag.Retriever, settings config.Engine) (*answer.Composer, func(), error) {
	providerCfg := provider.FromEnv()
	chatModel, err := provider.New(ctx, providerCfg)
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.ModelName()),
	)

	flush := func() {}
	var handlers []callbacks.Handler
	if handler, f, ok := tracing.Setup(tracing.FromEnv(version.Release())); ok {
		handlers = append(handlers, handler)
		flush = f
		log.Info("langfuse tracing enabled")
	} else {
		log.Debug("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY or LANGFUSE_SECRET_KEY not set"))
	}

	composer, err := answer.New(answer.Config{
		ChatModel:        chatModel,
		Retriever:        retriever,
		TopK:             settings.TopK,
		MaxContextTokens: settings.MaxContextTokens,
		Handlers:         handlers,
	})
	if err != nil {
		return nil, flush, err
	}
	return composer, flush, nil
}

// envString returns the env var value or fallback when unset.
func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt returns the env var as an int or fallback when unset or malformed.
func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envFloat returns the env var as a float64 or fallback when unset or malformed.
func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
