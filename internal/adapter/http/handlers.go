package http

import (
	"context"
	"net/http"

	"github.com/Strob0t/Boardroom/internal/domain/lifecycle"
	"github.com/Strob0t/Boardroom/internal/domain/tree"
	"github.com/Strob0t/Boardroom/internal/port/evaluator"
	"github.com/Strob0t/Boardroom/internal/service"
)

const defaultBodyLimit = 1 << 20 // 1 MB

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handlers holds the services the HTTP handlers delegate to.
type Handlers struct {
	Orchestrator *service.Orchestrator
	// Health checks keyed by component name, reported by GET /health.
	Health map[string]HealthCheck
	// BodyLimit caps request bodies; zero means 1 MB.
	BodyLimit int64
}

func (h *Handlers) limit() int64 {
	if h.BodyLimit > 0 {
		return h.BodyLimit
	}
	return defaultBodyLimit
}

// topicResponse pairs a tree with its lifecycle record.
type topicResponse struct {
	Tree      *tree.DecisionTree `json:"tree"`
	Lifecycle *lifecycle.Record  `json:"lifecycle"`
}

func (h *Handlers) topic(ctx context.Context, id string) (*topicResponse, error) {
	t, err := h.Orchestrator.GetTree(ctx, id)
	if err != nil {
		return nil, err
	}
	rec, err := h.Orchestrator.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	return &topicResponse{Tree: t, Lifecycle: rec}, nil
}

// SubmitTopic handles POST /api/v1/topics
func (h *Handlers) SubmitTopic(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[tree.SubmitRequest](w, r, h.limit())
	if !ok {
		return
	}
	id, err := h.Orchestrator.SubmitTopic(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp, err := h.topic(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/topics/"+id)
	writeJSON(w, http.StatusCreated, resp)
}

// GetTopic handles GET /api/v1/topics/{id}
func (h *Handlers) GetTopic(w http.ResponseWriter, r *http.Request) {
	resp, err := h.topic(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// AmendTopic handles PUT /api/v1/topics/{id}
func (h *Handlers) AmendTopic(w http.ResponseWriter, r *http.Request) {
	next, ok := readJSON[tree.DecisionTree](w, r, h.limit())
	if !ok {
		return
	}
	next.ID = urlParam(r, "id")
	t, err := h.Orchestrator.AmendTree(r.Context(), &next)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// StartRound handles POST /api/v1/topics/{id}/rounds
//
// The round runs in the background and the response is 202. With ?wait=true
// the request blocks until the round settles and returns the final
// lifecycle record.
func (h *Handlers) StartRound(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if r.URL.Query().Get("wait") == "true" {
		rec, err := h.Orchestrator.StartRound(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}
	if err := h.Orchestrator.Launch(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"tree_id": id, "status": "round_started"})
}

// CancelRound handles DELETE /api/v1/topics/{id}/rounds
func (h *Handlers) CancelRound(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Orchestrator.CancelRound(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"tree_id": id, "status": "cancel_requested"})
}

// WithdrawTopic handles POST /api/v1/topics/{id}/withdraw
func (h *Handlers) WithdrawTopic(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		Reason string `json:"reason"`
	}](w, r, h.limit())
	if !ok || !requireField(w, req.Reason, "reason") {
		return
	}
	rec, err := h.Orchestrator.Withdraw(r.Context(), urlParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// TopicStatus handles GET /api/v1/topics/{id}/status
func (h *Handlers) TopicStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Orchestrator.Status(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// RegisterEvaluator handles POST /api/v1/evaluators
//
// Only remote endpoints can be registered over HTTP.
func (h *Handlers) RegisterEvaluator(w http.ResponseWriter, r *http.Request) {
	reg, ok := readJSON[evaluator.Registration](w, r, h.limit())
	if !ok || !requireField(w, reg.Endpoint, "endpoint") {
		return
	}
	if err := h.Orchestrator.RegisterEvaluator(reg, nil); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// UnregisterEvaluator handles DELETE /api/v1/evaluators/{id}
func (h *Handlers) UnregisterEvaluator(w http.ResponseWriter, r *http.Request) {
	if err := h.Orchestrator.UnregisterEvaluator(urlParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEvaluators handles GET /api/v1/evaluators
func (h *Handlers) ListEvaluators(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Orchestrator.Evaluators())
}
