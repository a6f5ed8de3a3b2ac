package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/maroonops/signal-console/internal/apierr"
	"github.com/maroonops/signal-console/internal/policy"
)

// NewRouter wires the HTTP routes. Privileged routes pass through the
// operator gate with their endpoint policy key; /api/operator/role
// resolves the caller itself because the bootstrap key path has no
// bearer token.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, h.log, apierr.New(http.StatusNotFound, apierr.CodeInvalidRequest, "unknown route"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, h.log, apierr.New(http.StatusMethodNotAllowed, apierr.CodeMethodNotAllowed, "method not allowed"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Get("/quota/snapshot", h.gate(policy.EndpointOperatorProfile, h.QuotaSnapshot))
		r.Post("/quota/snapshot", h.gate(policy.EndpointOperatorProfile, h.QuotaSnapshot))

		r.Post("/model/generate", h.gate(policy.EndpointModelGenerate, h.ModelGenerate))
		r.Post("/assistant/query", h.gate(policy.EndpointAssistantQuery, h.AssistantQuery))
		r.Post("/warehouse/read", h.gate(policy.EndpointWarehouseRead, h.WarehouseRead))

		r.Get("/command-center/snapshot", h.gate(policy.EndpointCommandCenterSnapshot, h.CommandCenterSnapshot))
		r.Post("/command-center/snapshot", h.gate(policy.EndpointCommandCenterSnapshot, h.CommandCenterSnapshot))

		r.Post("/vector/upsert", h.gate(policy.EndpointVectorUpsert, h.VectorUpsert))
		r.Post("/vector/search", h.gate(policy.EndpointVectorSearch, h.VectorSearch))

		r.Get("/operator/profile", h.gate(policy.EndpointOperatorProfile, h.OperatorProfile))
		r.Post("/operator/profile", h.gate(policy.EndpointOperatorProfile, h.OperatorProfile))
		r.Post("/operator/role", h.OperatorRole)

		r.Post("/learning-events", h.gate(policy.EndpointAssistantQuery, h.LearningEvents))
		r.Post("/tasks", h.gate(policy.EndpointAssistantQuery, h.Tasks))
	})

	return r
}
