package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sonia-labs/turngate/breaker"
	"github.com/sonia-labs/turngate/dlq"
	"github.com/sonia-labs/turngate/queue"
	"github.com/sonia-labs/turngate/session"
	"github.com/sonia-labs/turngate/store"
	"github.com/sonia-labs/turngate/telemetry"
	"github.com/sonia-labs/turngate/toolpolicy"
	"github.com/sonia-labs/turngate/turn"
)

// Deps bundles every component the HTTP boundary dispatches to. It owns no
// business logic of its own — every handler is a thin adapter over one of
// these.
type Deps struct {
	Pipeline *turn.Pipeline
	Sessions *session.Manager
	Gate     *toolpolicy.Gate
	Breakers *breaker.Registry
	DLQ      *dlq.Queue
	Queue    *queue.Queue
	Store    *store.Store
	Rec      *telemetry.Recorder
	Auth     AuthConfig
	// CORSOrigins lists allowed origins for the UI-facing CORS posture.
	// A nil slice disables CORS handling entirely.
	CORSOrigins []string
}

// NewRouter builds the full chi router: CORS, request id, auth, and every
// route from spec.md §6's HTTP surface table.
func NewRouter(deps Deps) http.Handler {
	if deps.Rec == nil {
		deps.Rec = telemetry.NewNoopRecorder()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(90 * time.Second))

	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	h := &handlers{deps: deps}

	r.Get("/healthz", h.healthz)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(deps.Auth))
		r.Post("/v1/turn", h.postTurn)
		r.Post("/v1/sessions", h.createSession)
		r.Get("/v1/sessions/{id}", h.getSession)
		r.Delete("/v1/sessions/{id}", h.closeSession)
		r.Get("/v1/confirmations/pending", h.listPendingConfirmations)
		r.Post("/v1/confirmations/{id}/approve", h.approveConfirmation)
		r.Post("/v1/confirmations/{id}/deny", h.denyConfirmation)
		r.Get("/diagnostics/snapshot", h.diagnosticsSnapshot)
	})

	return r
}
