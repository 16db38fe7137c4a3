package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/frostline/updated/internal/logger"
	"github.com/frostline/updated/pkg/auth"
	"github.com/frostline/updated/pkg/catalog"
	"github.com/frostline/updated/pkg/manifest"
	"github.com/frostline/updated/pkg/metrics"
	"github.com/frostline/updated/pkg/queue"
	"github.com/frostline/updated/pkg/upload"
)

// Catalog is the slice of the catalog store the HTTP handlers read and
// write directly.
type Catalog interface {
	CreateVersion(ctx context.Context, bump catalog.BumpType, description string) (*catalog.Version, error)
	GetVersion(ctx context.Context, id primitive.ObjectID) (*catalog.Version, error)
	UpdateVersionDescription(ctx context.Context, id primitive.ObjectID, description string) error
	ListVersions(ctx context.Context, page, size int64) ([]catalog.Version, int64, error)
	CountFilesForVersion(ctx context.Context, versionID primitive.ObjectID) (int64, error)
	ListServerURLs(ctx context.Context) ([]string, error)
}

// Resolver computes delta manifests.
type Resolver interface {
	Resolve(ctx context.Context, major, minor, revision int32, os, texture int) (*manifest.Manifest, error)
}

// Uploader is the chunked-upload coordinator surface.
type Uploader interface {
	StartUpload(ctx context.Context, p upload.StartParams) (*upload.StartResult, error)
	UploadChunk(ctx context.Context, uploadID primitive.ObjectID, concurrentID string, offset int64, data []byte) (*upload.ChunkResult, error)
	FetchUpload(ctx context.Context, versionID primitive.ObjectID) (*catalog.Upload, error)
}

// Jobs is the queue surface the handlers drive.
type Jobs interface {
	Enqueue(ctx context.Context, id string, p queue.Payload) (bool, error)
	List(ctx context.Context) ([]queue.Status, error)
}

// Deps collects the collaborators the API adapts.
type Deps struct {
	Store    Catalog
	Resolver Resolver
	Uploads  Uploader
	Jobs     Jobs
	Auth     auth.Verifier

	// Health maps a dependency name to its health probe, run by the
	// readiness endpoint.
	Health map[string]func(context.Context) error
}

// NewRouter builds the chi router with the full middleware stack and
// every route of the service.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(requestMetrics)

	h := &handlers{deps: deps}

	r.Get("/health", h.liveness)
	r.Get("/health/ready", h.readiness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1/updates", func(r chi.Router) {
		// Public game-client routes
		r.Get("/servers/list", h.listServers)
		r.Get("/list/{version}/{os}/{texture}/{offset}", h.resolveManifest)

		r.Route("/manager", func(r chi.Router) {
			// Write paths require update:edit
			r.Group(func(r chi.Router) {
				r.Use(requireRole(deps.Auth, auth.RoleEdit))

				r.Post("/version/create", h.createVersion)
				r.Post("/version/edit", h.editVersion)
				r.Put("/version/process", h.processVersion)
				r.Post("/version/upload/start", h.startUpload)
				r.Put("/version/upload/chunk", h.uploadChunk)
			})

			// Read paths require update:view
			r.Group(func(r chi.Router) {
				r.Use(requireRole(deps.Auth, auth.RoleView))

				r.Get("/version/list", h.listVersions)
				r.Get("/version/fetch/{id}", h.fetchVersion)
				r.Get("/version/jobs", h.listJobs)
				r.Get("/uploads/{id}", h.fetchUploads)
			})
		})
	})

	return r
}

func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// requestLogger logs request start at DEBUG and completion at INFO,
// with health probes demoted to DEBUG to keep orchestrator noise down.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}
		if isHealthPath(r.URL.Path) {
			logger.Debug("request completed", logArgs...)
		} else {
			logger.Info("request completed", logArgs...)
		}
	})
}

// requestMetrics counts requests by method, matched route pattern and
// status code.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
	})
}
