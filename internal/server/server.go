// Package server is a local implementation of the RAG backend HTTP API, used for
// development and end-to-end tests of the client.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/hyperjump/intellilearn/internal/config"
	"github.com/hyperjump/intellilearn/internal/indexer"
	"github.com/hyperjump/intellilearn/internal/keyword"
	"github.com/hyperjump/intellilearn/internal/storage"
	"go.uber.org/zap"
)

// Server is the HTTP server for the development backend.
type Server struct {
	storage  storage.Storage
	index    keyword.Index
	ingestor *indexer.Ingestor
	config   *config.DevServerConfig
	logger   *zap.Logger
	server   *http.Server
	newID    func() string
}

// NewServer creates a server with the given dependencies. The ingestor must be started
// by the caller.
func NewServer(
	store storage.Storage,
	index keyword.Index,
	ingestor *indexer.Ingestor,
	cfg *config.DevServerConfig,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		storage:  store,
		index:    index,
		ingestor: ingestor,
		config:   cfg,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)

	r.Post("/topics", s.handleCreateTopic)
	r.Get("/topics/{id}", s.handleListTopics)
	r.Delete("/topics/{id}", s.handleDeleteTopic)
	r.Get("/topics/{id}/search", s.handleSearch)

	r.Post("/upload", s.handleUpload)
	r.Post("/ingest", s.handleIngest)

	r.Get("/documents/{id}", s.handleListDocuments)
	r.Get("/documents/{id}/status", s.handleDocumentStatus)
	r.Delete("/documents/{id}", s.handleDeleteDocument)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting dev backend", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requestLogger logs one line per request at debug level, failures at warn.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		if ww.Status() >= http.StatusInternalServerError {
			s.logger.Warn("request failed", fields...)
			return
		}
		s.logger.Debug("request", fields...)
	})
}
