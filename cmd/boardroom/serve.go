package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	cfhttp "github.com/Strob0t/Boardroom/internal/adapter/http"
	"github.com/Strob0t/Boardroom/internal/adapter/httpeval"
	"github.com/Strob0t/Boardroom/internal/adapter/mcp"
	cfnats "github.com/Strob0t/Boardroom/internal/adapter/nats"
	cfotel "github.com/Strob0t/Boardroom/internal/adapter/otel"
	"github.com/Strob0t/Boardroom/internal/adapter/ws"
	"github.com/Strob0t/Boardroom/internal/config"
	"github.com/Strob0t/Boardroom/internal/middleware"
	"github.com/Strob0t/Boardroom/internal/port/messagequeue"
	"github.com/Strob0t/Boardroom/internal/service"
)

func serveCmd(g *globalFlags) *cobra.Command {
	var (
		port    string
		migrate bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the governance API, event stream and MCP tool server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var portFlag *string
			if cmd.Flags().Changed("port") {
				portFlag = &port
			}
			cfg, err := g.load(cmd, portFlag)
			if err != nil {
				return err
			}
			closer := setupLogger(cfg)
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, migrate)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "HTTP port override")
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending PostgreSQL migrations on start")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, migrate bool) error {
	slog.Info("starting boardroom",
		"version", cfhttp.Version,
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"default_policy", cfg.Policy.Default,
	)

	// --- Telemetry ---

	shutdownOTEL, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	in, err := openStore(ctx, cfg, migrate)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := in.connectQueue(ctx, cfg.NATS); err != nil {
		return err
	}
	if err := in.wrapCache(ctx, cfg.Cache); err != nil {
		return err
	}

	// --- Services ---

	c, err := service.Assemble(ctx, in.store, cfg)
	if err != nil {
		return fmt.Errorf("assemble: %w", err)
	}
	httpFactory := httpeval.Factory{HTTPClient: &http.Client{Transport: cfotel.Transport(nil)}}
	c.Registry.SetFactory("http", httpFactory)
	c.Registry.SetFactory("https", httpFactory)

	hub := ws.NewHub(originHost(cfg.Server.CORSOrigin))
	defer hub.Close()
	var queue messagequeue.Queue
	if in.queue != nil {
		queue = in.queue
		c.Registry.SetFactory("nats", cfnats.Factory{NC: in.queue.Conn()})
	}
	c.SetEvents(queue, hub)
	c.Orchestrator.SetMetrics(metrics)
	c.Scoring.SetMetrics(metrics)

	resumed, err := c.Orchestrator.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resume rounds: %w", err)
	}
	if resumed > 0 {
		slog.Info("resumed interrupted rounds", "trees", resumed)
	}

	// --- MCP ---

	if cfg.MCP.Enabled {
		srv := mcp.NewServer(mcp.ServerConfig{
			Addr:    ":" + cfg.MCP.Port,
			Name:    "boardroom",
			Version: cfhttp.Version,
			APIKey:  cfg.MCP.APIKey,
		}, mcp.ServerDeps{Governance: c.Orchestrator, Policies: c.Policies})
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Stop(sctx); err != nil {
				slog.Warn("mcp shutdown", "error", err)
			}
		}()
	}

	// --- HTTP ---

	health := map[string]cfhttp.HealthCheck{"store": in.ping}
	if in.queue != nil {
		health["nats"] = in.natsHealthy
	}
	handlers := &cfhttp.Handlers{Orchestrator: c.Orchestrator, Health: health}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(cfhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(middleware.Idempotency(in.kvBucket(ctx, cfg.Server.IdempotencyBucket, cfg.Server.IdempotencyTTL), cfg.Server.IdempotencyTTL))
	cfhttp.MountRoutes(r, handlers, hub.HandleWS)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// originHost reduces the CORS origin to the host pattern the websocket
// origin check matches against.
func originHost(origin string) string {
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return u.Host
	}
	return origin
}
