// ABOUTME: Gateway orchestrator wiring the store, planner, and coordinator
// ABOUTME: Manages the HTTP server lifecycle with graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/travel-brain/internal/agent"
	"github.com/2389/travel-brain/internal/cache"
	"github.com/2389/travel-brain/internal/config"
	"github.com/2389/travel-brain/internal/session"
	"github.com/2389/travel-brain/internal/store"
)

// Gateway orchestrates the travel-brain server components. It owns the
// store, the agent step, the session coordinator, and the HTTP server that
// exposes them.
type Gateway struct {
	config      *config.Config
	store       store.Store
	coordinator *session.Coordinator
	httpServer  *http.Server
	logger      *slog.Logger

	// transcripts caches rendered transcript HTML keyed by thread id and
	// turn seq; a committed turn changes the key, so stale entries just age out.
	transcripts *cache.Cache
}

// initStore creates a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("BRAIN_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	knowledge, err := agent.LoadKnowledge(cfg.Planner.KnowledgePath)
	if err != nil {
		return nil, fmt.Errorf("loading planner knowledge: %w", err)
	}
	planner := agent.NewPlanner(knowledge, logger)

	coordinator := session.New(s, planner, session.Options{
		Timeout:            cfg.Turns.Timeout,
		CancelOnDisconnect: cfg.Turns.CancelOnDisconnect,
		MaxConcurrent:      cfg.Turns.MaxConcurrent,
		SubscriberBuffer:   cfg.Turns.SubscriberBuffer,
		GracePeriod:        cfg.Turns.GracePeriod,
	}, logger)

	g := &Gateway{
		config:      cfg,
		store:       s,
		coordinator: coordinator,
		logger:      logger.With("component", "gateway"),
		transcripts: cache.New(5*time.Minute, 1024),
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// routes builds the HTTP mux for the gateway's API surface.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/agent/stream", g.handleStream)
	mux.HandleFunc("/agent/stream/", g.handleLive)
	mux.HandleFunc("/agent/state/", g.handleState)
	mux.HandleFunc("/agent/threads", g.handleListThreads)
	mux.HandleFunc("/agent/threads/", g.handleThreadRoutes)
	return mux
}

// Handler exposes the HTTP handler, primarily for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// startServer starts the HTTP server in a goroutine, returning error channel.
func (g *Gateway) startServer(httpLn net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	httpLn, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := g.startServer(httpLn)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	if g.transcripts != nil {
		g.transcripts.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
