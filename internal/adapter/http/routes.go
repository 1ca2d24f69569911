package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. ws serves
// the event stream at /ws; nil leaves it unmounted.
func MountRoutes(r chi.Router, h *Handlers, ws http.HandlerFunc) {
	r.Get("/health", h.HealthHandler)
	if ws != nil {
		r.Get("/ws", ws)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": Version})
		})

		// Topics and their lifecycle
		r.Post("/topics", h.SubmitTopic)
		r.Get("/topics/{id}", h.GetTopic)
		r.Put("/topics/{id}", h.AmendTopic)
		r.Post("/topics/{id}/rounds", h.StartRound)
		r.Delete("/topics/{id}/rounds", h.CancelRound)
		r.Post("/topics/{id}/withdraw", h.WithdrawTopic)
		r.Get("/topics/{id}/status", h.TopicStatus)

		// Council
		r.Get("/evaluators", h.ListEvaluators)
		r.Post("/evaluators", h.RegisterEvaluator)
		r.Delete("/evaluators/{id}", h.UnregisterEvaluator)

		// Decisions
		r.Get("/decisions/{id}", h.GetDecision)
		r.Post("/decisions/{id}/review", h.SubmitReview)
		r.Post("/decisions/{id}/execution", h.ConfirmExecution)
		r.Post("/decisions/{id}/outcome", h.RecordOutcome)

		// Audit
		r.Get("/artifacts", h.ListArtifacts)
		r.Get("/artifacts/{id}/provenance", h.GetProvenance)

		// Policies and calibration
		r.Get("/policies", h.ListPolicies)
		r.Get("/policies/{name}", h.GetPolicy)
		r.Post("/outcomes/{id}/apply-calibration", h.ApplyCalibration)
	})
}

// Version is reported by GET /api/v1/ and set at build time.
var Version = "0.1.0"
