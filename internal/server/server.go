// Package server exposes the reconciliation engine over HTTP: the review
// queue, search, bulk suggestions, batch ingest and a websocket stream of
// merge events.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/tessera/internal/config"
	"github.com/scrypster/tessera/internal/storage"
)

// Options wires the server's collaborators.
type Options struct {
	Engine   Engine
	MergeLog storage.MergeLog // optional
	Hub      *EventHub        // optional; created when nil
	Metrics  http.Handler     // optional; /metrics is not mounted when nil
}

// NewHandler builds the full routing tree wrapped in middleware.
func NewHandler(cfg config.ServerConfig, opts Options) http.Handler {
	mux := http.NewServeMux()
	NewHandlers(opts.Engine, opts.MergeLog, opts.Hub).Register(mux)

	if opts.Hub != nil {
		mux.Handle("GET /ws/events", opts.Hub)
	}
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	handler := RateLimitMiddleware(mux, NewRateLimiter(cfg.RateLimit, cfg.RateBurst))
	return securityHeadersMiddleware(handler)
}

// Start listens on the configured address and serves until ctx is done.
// It returns the actual listening address, which differs from the
// configured one when the port is 0.
func Start(ctx context.Context, cfg config.ServerConfig, opts Options) (string, *EventHub, error) {
	hub := opts.Hub
	if hub == nil {
		hub = NewEventHub(
			fmt.Sprintf("localhost:%d", cfg.Port),
			fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		)
		opts.Hub = hub
	}
	go hub.Run()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      NewHandler(cfg, opts),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		hub.Stop()
		return "", nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("server: serve error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown error: %v", err)
		}
		hub.Stop()
	}()

	log.Printf("server: listening on %s", actualAddr)
	return actualAddr, hub, nil
}
