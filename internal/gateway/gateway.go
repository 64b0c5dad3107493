// ABOUTME: Gateway orchestrator wiring store, presence, relay core and HTTP server
// ABOUTME: Manages component lifecycle and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/parleychat/relay/internal/api"
	"github.com/parleychat/relay/internal/auth"
	"github.com/parleychat/relay/internal/config"
	"github.com/parleychat/relay/internal/presence"
	"github.com/parleychat/relay/internal/relay"
	"github.com/parleychat/relay/internal/socket"
	"github.com/parleychat/relay/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Gateway assembles the relay server: durable store, presence registry,
// routing core, WebSocket endpoint and REST API.
type Gateway struct {
	config      *config.Config
	store       store.Store
	registry    *presence.Registry
	broadcaster *presence.Broadcaster
	router      *relay.Router
	httpServer  *http.Server
	logger      *slog.Logger
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("RELAY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a gateway from configuration. Pass nil logger for default.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	broadcaster := presence.NewBroadcaster(logger)
	registry := presence.NewRegistry(broadcaster, logger)

	assigner := relay.NewAssigner(st, st, nil, logger)
	gate := relay.NewGate(st)
	router := relay.NewRouter(gate, st, st, registry, logger)

	socketHandler := socket.NewHandler(registry, router, logger)
	restAPI := api.New(st, verifier, cfg.Auth.TokenTTL, assigner, gate, router, registry, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", socketHandler)
	restAPI.Routes(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	g := &Gateway{
		config:      cfg,
		store:       st,
		registry:    registry,
		broadcaster: broadcaster,
		router:      router,
		httpServer: &http.Server{
			Addr:    cfg.Server.HTTPAddr,
			Handler: mux,
		},
		logger: logger.With("component", "gateway"),
	}
	return g, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		g.store.Close()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	g.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
		g.logger.Warn("http shutdown error", "error", err)
	}
	if err := g.store.Close(); err != nil {
		g.logger.Warn("store close error", "error", err)
	}
	return nil
}
