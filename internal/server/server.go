// Package server implements the HTTP API for the fact store.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/factstore/internal/ratelimit"
	"github.com/ashita-ai/factstore/internal/service/entities"
	"github.com/ashita-ai/factstore/internal/service/facts"
	"github.com/ashita-ai/factstore/internal/storage"
)

// Config holds the dependencies and settings of a Server. Limiter, Broker,
// MCPServer, OpenAPISpec and Middlewares may be left zero.
type Config struct {
	Store    storage.Store
	FactSvc  *facts.Service
	Resolver *entities.Resolver
	Logger   *slog.Logger

	Limiter   ratelimit.Limiter
	Broker    *Broker
	MCPServer *mcpserver.MCPServer

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration // Does not apply to /v1/subscribe.
	Version             string
	StorageName         string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte

	// Middlewares wrap the router inside the built-in chain, first entry
	// outermost.
	Middlewares []func(http.Handler) http.Handler
}

// Server is the fact store HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the router and middleware chain. It does not listen.
func New(cfg Config) *Server {
	h := NewHandlers(HandlersDeps{
		Store:               cfg.Store,
		FactSvc:             cfg.FactSvc,
		Resolver:            cfg.Resolver,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		StorageName:         cfg.StorageName,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	var handler http.Handler = recordRoute(routes(h, cfg.MCPServer))
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	// Outermost first: request ID, security headers, observe, rate limit,
	// recovery, embedder middleware, router.
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = rateLimitMiddleware(cfg.Limiter, cfg.Logger, handler)
	handler = observeMiddleware(cfg.Logger, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	if cfg.Broker != nil {
		srv.RegisterOnShutdown(cfg.Broker.Close)
	}
	return &Server{httpServer: srv, logger: cfg.Logger}
}

func routes(h *Handlers, mcp *mcpserver.MCPServer) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/facts", h.HandleAddFact)
	mux.HandleFunc("GET /v1/facts", h.HandleGetFacts)
	mux.HandleFunc("GET /v1/facts/history", h.HandleFactHistory)
	mux.HandleFunc("POST /v1/facts/batch", h.HandleAddFactsBatch)

	mux.HandleFunc("POST /v1/entities/people/resolve", h.HandleResolvePerson)
	mux.HandleFunc("POST /v1/entities/organizations/resolve", h.HandleResolveOrganization)

	mux.HandleFunc("GET /v1/subscribe", h.HandleSubscribe)

	if mcp != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(mcp))
	}

	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)
	mux.HandleFunc("GET /health", h.HandleHealth)
	return mux
}

// Handler returns the root HTTP handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured port and serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections, ends open event streams and waits
// for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
