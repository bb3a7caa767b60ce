package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragctx-go/internal/answer"
	"github.com/54b3r/ragctx-go/internal/ingestion"
	"github.com/54b3r/ragctx-go/internal/logging"
	"github.com/54b3r/ragctx-go/internal/server"
	"github.com/54b3r/ragctx-go/internal/tracing"
)

// NewServeCmd constructs the `ragctx serve` command, which starts the HTTP
// API over the contexts in the data directory.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragctx HTTP API",
		Long: `Start the ragctx HTTP API.

The server exposes context management, document upload, search and a
streaming (SSE) ask endpoint under /api, plus /api/health, /api/ready and
/metrics. Set RAGCTX_API_KEY to require a Bearer token on the /api routes.

Asking needs a chat model (MODEL_PROVIDER). When none can be initialised the
server still starts and the ask endpoint answers 501.

Examples:
  ragctx serve
  ragctx serve --port 9090
  RAGCTX_API_KEY=secret EMBEDDING_PROVIDER=openai ragctx serve --host 0.0.0.0`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Setup Langfuse tracing, opt-in and a no-op if keys are absent.
			flush, ok := tracing.Setup(log)
			if ok {
				defer flush()
			}

			a, err := newApp(log, ingestion.NewMetrics(prometheus.DefaultRegisterer))
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.close()

			c := a.emb.Capability()
			log.Info("serve starting",
				slog.String("data_dir", a.rt.DataDir),
				slog.String("embedding_provider", c.Provider),
				slog.String("embedding_model", c.Model),
				slog.Bool("qdrant_mirror", a.mirror != nil),
				slog.Bool("history", a.history != nil),
			)

			var chain *answer.Chain
			if m, backend, err := chatModel(ctx); err != nil {
				log.Warn("chat model unavailable, ask disabled", slog.Any("error", err))
			} else {
				if chain, err = a.answerChain(m); err != nil {
					return fmt.Errorf("serve: failed to initialise answer chain: %w", err)
				}
				log.Info("provider initialised", slog.String("provider", backend))
			}

			if !cmd.Flags().Changed("host") {
				host = a.rt.Host
			}
			if !cmd.Flags().Changed("port") {
				port = a.rt.Port
			}

			srv, err := server.New(server.Deps{
				Manager:  a.mgr,
				Sessions: a.sessions,
				Pipeline: a.pipeline,
				Answer:   chain,
			}, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: a.pingers(),
				APIKey:  a.rt.APIKey,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (default: RAGCTX_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (default: RAGCTX_PORT)")

	return cmd
}

// pingers returns the readiness probes of the app's dependencies.
func (a *app) pingers() []server.Pinger {
	pingers := []server.Pinger{
		server.NewDataDirPinger(a.rt.DataDir),
		server.NewEmbedderPinger(a.emb),
	}
	if a.mirror != nil {
		pingers = append(pingers, server.NewQdrantPinger(a.mirror.Client()))
	}
	return pingers
}
