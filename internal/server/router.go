// Package server wires the HTTP API on top of the document store.
package server

import (
	"net/http"

	"github.com/maruel/gitwiki/internal/metrics"
	"github.com/maruel/gitwiki/internal/models"
	"github.com/maruel/gitwiki/internal/server/handlers"
	"github.com/maruel/gitwiki/internal/server/ratelimit"
	"github.com/maruel/gitwiki/internal/storage"
	"github.com/maruel/gitwiki/internal/storage/docstore"
	"github.com/maruel/gitwiki/internal/storage/identity"
)

// Options are the dependencies of the router.
type Options struct {
	Store   *docstore.Store
	Users   *identity.UserService
	Config  *storage.ServerConfig
	Metrics *metrics.Metrics
	// Limits is optional; nil disables rate limiting.
	Limits *ratelimit.Config
}

// NewRouter creates and configures the HTTP router.
func NewRouter(o Options) http.Handler {
	mux := http.NewServeMux()
	maxBody := o.Config.MaxRequestBodyBytes

	docs := handlers.NewDocumentHandler(o.Store, o.Config.RecentLimitMax)
	auth := handlers.NewAuthHandler(o.Users, o.Config.JWTSecret, o.Config.AllowRegistration)
	editor := RequireRole(models.RoleEditor)
	admin := RequireRole(models.RoleAdmin)

	// Public
	mux.Handle("GET /api/health", Wrap(handlers.Health, maxBody))
	mux.Handle("GET /api/schema", Wrap(handlers.Schema, maxBody))
	mux.Handle("POST /api/auth/login", Wrap(auth.Login, maxBody))
	mux.Handle("POST /api/auth/register", Wrap(auth.Register, maxBody))
	mux.Handle("GET /api/auth/me", Wrap(auth.Me, maxBody))

	// Documents
	mux.Handle("GET /api/documents", Wrap(docs.ListDocuments, maxBody))
	mux.Handle("POST /api/documents", editor(Wrap(docs.CreateDocument, maxBody)))
	mux.Handle("GET /api/documents/{name}", Wrap(docs.GetDocument, maxBody))
	mux.Handle("PUT /api/documents/{name}", editor(Wrap(docs.UpdateDocument, maxBody)))
	mux.Handle("DELETE /api/documents/{name}", editor(Wrap(docs.DeleteDocument, maxBody)))
	mux.Handle("GET /api/documents/{name}/history", Wrap(docs.GetHistory, maxBody))
	mux.Handle("GET /api/documents/{name}/versions/{commit}", Wrap(docs.GetVersion, maxBody))

	// Metadata
	mux.Handle("GET /api/documents/{name}/metadata", Wrap(docs.GetMetadata, maxBody))
	mux.Handle("PUT /api/documents/{name}/metadata", editor(Wrap(docs.UpdateMetadata, maxBody)))
	mux.Handle("PUT /api/documents/{name}/tags", editor(Wrap(docs.SetTags, maxBody)))
	mux.Handle("GET /api/tags", Wrap(docs.ListTags, maxBody))
	mux.Handle("GET /api/tags/{tag}/documents", Wrap(docs.ListByTag, maxBody))
	mux.Handle("GET /api/recent", Wrap(docs.ListRecent, maxBody))
	mux.Handle("GET /api/search", Wrap(docs.Search, maxBody))

	// Admin
	mux.Handle("POST /api/admin/reconcile", admin(Wrap(docs.Reconcile, maxBody)))

	mux.Handle("GET /metrics", o.Metrics.Handler())

	var h http.Handler = AuthMiddleware(o.Users, o.Config.JWTSecret)(mux)
	h = ratelimit.Middleware(o.Limits, o.Metrics.RecordRateLimited)(h)
	return LoggingMiddleware(o.Metrics)(h)
}
