// Package server provides the HTTP API over the library.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bryan-buckman/rssreader/internal/event"
	"github.com/bryan-buckman/rssreader/internal/library"
	"github.com/bryan-buckman/rssreader/internal/metrics"
	"github.com/bryan-buckman/rssreader/internal/opml"
	"github.com/bryan-buckman/rssreader/internal/rss"
	"github.com/bryan-buckman/rssreader/internal/subscription"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	maxImportBytes  = 5 << 20
	maxRequestBytes = 1 << 20
	eventBuffer     = 64
)

// Refresher schedules a whole-library refresh.
type Refresher interface {
	Trigger()
}

// Server is the main HTTP server.
type Server struct {
	lib       *library.Service
	refresher Refresher
	bus       *event.Bus
	metrics   *metrics.Metrics
	log       *slog.Logger
	router    chi.Router

	mu   sync.Mutex
	http *http.Server
}

// New creates a new server. m may be nil, in which case /metrics is not served.
func New(lib *library.Service, refresher Refresher, bus *event.Bus, m *metrics.Metrics, log *slog.Logger) *Server {
	s := &Server{
		lib:       lib,
		refresher: refresher,
		bus:       bus,
		metrics:   m,
		log:       log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/feeds", func(r chi.Router) {
			r.Get("/", s.handleListFeeds)
			r.Post("/", s.handleSubscribe)
			r.Put("/{feedID}", s.handleUpdateFeed)
			r.Delete("/{feedID}", s.handleUnsubscribe)
			r.Post("/{feedID}/refresh", s.handleRefreshFeed)
			r.Post("/{feedID}/read", s.handleMarkFeedRead)
		})
		r.Route("/articles", func(r chi.Router) {
			r.Get("/", s.handleListArticles)
			r.Post("/{articleID}/read", s.handleSetRead(true))
			r.Post("/{articleID}/unread", s.handleSetRead(false))
			r.Post("/{articleID}/favorite", s.handleToggleFavorite)
		})
		r.Post("/refresh", s.handleRefresh)
		r.Get("/unread", s.handleUnread)
		r.Post("/import", s.handleImport)
		r.Get("/export", s.handleExport)
		r.Post("/export/file", s.handleExportFile)
		r.Post("/cache/clear", s.handleClearCache)
		r.Get("/events", s.handleEvents)
	})

	s.router = r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	// Request contexts end on shutdown so event streams close.
	baseCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hs := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	hs.RegisterOnShutdown(cancel)
	s.mu.Lock()
	s.http = hs
	s.mu.Unlock()

	s.log.Info("Server starting", "addr", addr)

	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	hs := s.http
	s.mu.Unlock()

	if hs == nil {
		return nil
	}
	return hs.Shutdown(ctx)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, library.ErrFeedNotFound), errors.Is(err, library.ErrArticleNotFound):
		return http.StatusNotFound
	case errors.Is(err, library.ErrDuplicateFeed):
		return http.StatusConflict
	case errors.Is(err, library.ErrInvalidURL),
		errors.Is(err, subscription.ErrUnrecognizedFormat),
		errors.Is(err, opml.ErrInvalidFormat):
		return http.StatusBadRequest
	case errors.Is(err, subscription.ErrEmptySelection):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rss.ErrNetworkFailure), errors.Is(err, rss.ErrMalformedDocument):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "Request failed",
			"error", err,
			"path", r.URL.Path,
			"requestID", middleware.GetReqID(r.Context()))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}
