package server

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// PingFunc adapts a probe function to the Pinger interface, e.g. a
// snapshot database Ping or an embedding backend health check.
type PingFunc struct {
	// Label is returned by Name.
	Label string
	// Fn performs the probe.
	Fn func(ctx context.Context) error
}

// Name returns the dependency label used in readiness responses.
func (p PingFunc) Name() string { return p.Label }

// Ping runs Fn.
func (p PingFunc) Ping(ctx context.Context) error {
	if err := p.Fn(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.Label, err)
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready when the
// mirror is enabled.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
