package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/profilerag-go/internal/config"
	"github.com/54b3r/profilerag-go/internal/logging"
	"github.com/54b3r/profilerag-go/internal/server"
)

// NewServeCmd constructs the `profilerag serve` command, which starts the HTTP
// server and builds (or loads) the corpus in the background.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var force bool
	var noChat bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the profilerag HTTP server",
		Long: `Start the profilerag HTTP server.

The server listens immediately and answers 503 "initializing" on retrieval
routes until the corpus is loaded from the snapshot or built. A failure of
that first build stops the server.

Routes:
  GET  /api/health          liveness
  GET  /api/ready           engine state and dependency checks
  POST /api/retrieve        {"question": "...", "k": 5}
  POST /api/chat            {"question": "...", "stream": true}
  POST /api/admin/rebuild   rebuild from the source document (Bearer auth)
  GET  /api/admin/chunks    list the installed chunks (Bearer auth)
  GET  /metrics             Prometheus metrics

Examples:
  profilerag serve
  profilerag serve --port 9090 --force
  PROFILERAG_PROFILE=./me.json MODEL_PROVIDER=openai profilerag serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			st, err := buildStack(log, prometheus.DefaultRegisterer, force)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = st.engine.Close() }()

			var ans server.Answerer
			if !noChat {
				composer, flush, err := buildComposer(ctx, log, st.engine, st.settings)
				defer flush()
				if err != nil {
					// Retrieval still works without a generation backend.
					log.Warn("serve: chat disabled", slog.String("error", err.Error()))
				} else {
					ans = composer
				}
			}

			if !cmd.Flags().Changed("host") {
				host = envString(config.EnvHost, host)
			}
			if !cmd.Flags().Changed("port") {
				port = envInt(config.EnvPort, port)
			}

			srv, err := server.New(st.engine, ans, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   st.pingers,
				RateLimit: envFloat(config.EnvRateLimit, 0),
				RateBurst: envInt(config.EnvRateBurst, 0),
				APIKey:    os.Getenv(config.EnvAPIKey),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Start(gctx)
			})
			g.Go(func() error {
				report, err := st.engine.Start(gctx)
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				log.Info("engine ready",
					slog.String("origin", report.Origin),
					slog.String("build_id", report.BuildID),
					slog.Int("chunks", report.Chunks),
				)
				return nil
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env PROFILERAG_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env PROFILERAG_PORT)")
	cmd.Flags().BoolVar(&force, "force", false, "Ignore the snapshot and rebuild the corpus at startup")
	cmd.Flags().BoolVar(&noChat, "no-chat", false, "Serve retrieval only; /api/chat answers 501")

	return cmd
}
