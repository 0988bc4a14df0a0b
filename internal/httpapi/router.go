// Package httpapi exposes the file tree over HTTP.
//
// Requests are trusted to come through an authenticating proxy that sets
// the owner header; the package does not verify credentials.
package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/michael-freling/file-drive/internal/metrics"
	"github.com/michael-freling/file-drive/internal/tree"
)

// multipartOverhead is allowed on top of the object size for the form
// boundaries and fields of an upload.
const multipartOverhead = 1 << 20

type TreeService interface {
	Get(ctx context.Context, ownerID string, id string) (tree.Node, error)
	ListChildren(ctx context.Context, ownerID string, parentID *string) ([]tree.Node, error)
	CreateFolder(ctx context.Context, ownerID string, name string, parentID *string) (tree.Node, error)
	CreateFile(ctx context.Context, ownerID string, name string, parentID *string, contents io.Reader, mimeType *string) (tree.Node, error)
	OpenFile(ctx context.Context, ownerID string, id string) (tree.Node, io.ReadCloser, error)
	Update(ctx context.Context, ownerID string, id string, update tree.NodeUpdate) (tree.Node, error)
	DeleteRecursive(ctx context.Context, ownerID string, id string) error
}

// HealthCheck reports whether a dependency can serve requests.
type HealthCheck func(ctx context.Context) error

type Config struct {
	OwnerHeader   string
	MaxUploadSize int64
}

type Server struct {
	logger      *slog.Logger
	service     TreeService
	metrics     *metrics.Metrics
	healthCheck HealthCheck
	validate    *validator.Validate

	ownerHeader   string
	maxUploadSize int64
}

type Option func(*Server)

func WithMetrics(m *metrics.Metrics) Option {
	return func(server *Server) {
		server.metrics = m
	}
}

func WithHealthCheck(check HealthCheck) Option {
	return func(server *Server) {
		server.healthCheck = check
	}
}

func NewServer(logger *slog.Logger, service TreeService, conf Config, opts ...Option) *Server {
	server := &Server{
		logger:        logger,
		service:       service,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		ownerHeader:   conf.OwnerHeader,
		maxUploadSize: conf.MaxUploadSize,
	}
	if server.ownerHeader == "" {
		server.ownerHeader = "X-Owner-ID"
	}
	for _, opt := range opts {
		opt(server)
	}
	return server
}

// Handler returns the router:
//
//	GET    /healthz
//	GET    /metrics
//	GET    /api/files?parent_id=
//	POST   /api/files
//	GET    /api/files/{id}
//	PUT    /api/files/{id}
//	DELETE /api/files/{id}
//	GET    /api/files/{id}/download
func (server *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(server.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", server.health)
	if server.metrics != nil {
		r.Method(http.MethodGet, "/metrics", server.metrics.Handler())
	}

	r.Route("/api/files", func(r chi.Router) {
		r.Use(server.requireOwner)

		r.Get("/", server.listChildren)
		r.Post("/", server.create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", server.get)
			r.Put("/", server.update)
			r.Delete("/", server.delete)
			r.Get("/download", server.download)
		})
	})
	return r
}

func (server *Server) health(w http.ResponseWriter, r *http.Request) {
	if server.healthCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := server.healthCheck(ctx); err != nil {
			server.logger.WarnContext(ctx, "health check failed", "error", err)
			writeJSON(w, server.logger, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, server.logger, http.StatusOK, map[string]string{"status": "ok"})
}
