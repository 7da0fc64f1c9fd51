// Package api exposes the staging and import operations over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/matheus3301/wppimport/internal/config"
	"github.com/matheus3301/wppimport/internal/importer"
	"github.com/matheus3301/wppimport/internal/ledger"
	"github.com/matheus3301/wppimport/internal/staging"
	"go.uber.org/zap"
)

// Importer is the subset of *importer.Service served over HTTP.
type Importer interface {
	StageContacts(tenant string, contacts ...staging.Contact) int
	StageMessages(tenant string, messages ...staging.Message) int
	ClearAll(tenant string)
	Instances() []importer.InstanceStatus
	ImportContacts(ctx context.Context, tenant string, accountID int64) (int64, error)
	ImportMessages(ctx context.Context, tenant string, accountID, inboxID int64) (int64, error)
}

// RunHistory lists recorded import runs.
type RunHistory interface {
	Recent(ctx context.Context, tenant string, limit int) ([]ledger.Run, error)
}

// Targets resolves the helpdesk account and inbox of an instance.
type Targets interface {
	Instance(name string) (config.Instance, bool)
}

// Handler serves the HTTP control surface.
type Handler struct {
	svc     Importer
	runs    RunHistory
	targets Targets
	metrics http.Handler
	logger  *zap.Logger
}

// NewHandler creates a handler. runs and metrics may be nil.
func NewHandler(svc Importer, runs RunHistory, targets Targets, metrics http.Handler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, runs: runs, targets: targets, metrics: metrics, logger: logger}
}

// Router builds the chi router with every route registered.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Get("/instances", h.listInstances)
	r.Route("/instances/{tenant}", func(r chi.Router) {
		r.Use(validTenant)
		r.Post("/contacts", h.stageContacts)
		r.Post("/messages", h.stageMessages)
		r.Post("/import/contacts", h.importContacts)
		r.Post("/import/messages", h.importMessages)
		r.Delete("/staging", h.clearStaging)
		r.Get("/runs", h.listRuns)
	})
	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
