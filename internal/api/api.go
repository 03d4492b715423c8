// Package api provides the HTTP server for SalesPipe.
//
// It exposes endpoints for injecting customer messages, inspecting sessions,
// managing flow definitions and the catalog cache, the Twilio webhook and the
// tracked-link redirect.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/catalog"
	"github.com/BTreeMap/SalesPipe/internal/flow"
	"github.com/BTreeMap/SalesPipe/internal/links"
	"github.com/BTreeMap/SalesPipe/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Default server timeouts.
const (
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// LinkResolver looks up tracked short links.
type LinkResolver interface {
	Resolve(ctx context.Context, code string) (links.Link, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	TwilioWebhook http.HandlerFunc
	Links         LinkResolver
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTwilioWebhook mounts the Twilio inbound webhook at /webhook/twilio.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.TwilioWebhook = h }
}

// WithLinkResolver enables the /l/{code} redirect.
func WithLinkResolver(r LinkResolver) Option {
	return func(o *Opts) { o.Links = r }
}

// Server bundles the dependencies of the HTTP handlers.
type Server struct {
	engine    *flow.Engine
	st        store.Store
	index     *catalog.Index
	validator *flow.DefinitionValidator
	opts      Opts
	started   time.Time

	httpServer *http.Server
}

// NewServer creates the API server. It does not start listening.
func NewServer(engine *flow.Engine, st store.Store, index *catalog.Index, validator *flow.DefinitionValidator, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{
		engine:    engine,
		st:        st,
		index:     index,
		validator: validator,
		opts:      o,
		started:   time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:         o.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
	return s
}

// Handler returns the routed handler, wrapped with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.HandleFunc("POST /messages", s.messageHandler)
	mux.HandleFunc("GET /sessions/{id}", s.getSessionHandler)
	mux.HandleFunc("DELETE /sessions/{id}", s.resetSessionHandler)
	mux.HandleFunc("POST /catalog/invalidate", s.invalidateCatalogHandler)
	mux.HandleFunc("GET /flows", s.listFlowsHandler)
	mux.HandleFunc("GET /flows/{key}", s.getFlowHandler)
	mux.HandleFunc("POST /flows", s.saveFlowHandler)
	if s.opts.TwilioWebhook != nil {
		mux.HandleFunc("POST /webhook/twilio", s.opts.TwilioWebhook)
	}
	if s.opts.Links != nil {
		mux.HandleFunc("GET /l/{code}", s.linkHandler)
	}
	return logRequests(mux)
}

// Start listens in the background. Errors other than a clean shutdown are
// logged.
func (s *Server) Start() {
	go func() {
		slog.Info("Server.Start: API listening", "addr", s.opts.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server.Start: listen failed", "addr", s.opts.Addr, "error", err)
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("Server: request served", "method", r.Method, "path", r.URL.Path, "status", rec.status, "elapsed", time.Since(start))
	})
}
