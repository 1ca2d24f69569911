package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Strob0t/Boardroom/internal/domain/artifact"
	"github.com/Strob0t/Boardroom/internal/service"
)

const (
	defaultArtifactLimit = 100
	maxArtifactLimit     = 1000
)

// GetDecision handles GET /api/v1/decisions/{id}
func (h *Handlers) GetDecision(w http.ResponseWriter, r *http.Request) {
	d, err := h.Orchestrator.GetDecision(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// SubmitReview handles POST /api/v1/decisions/{id}/review
func (h *Handlers) SubmitReview(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.ReviewRequest](w, r, h.limit())
	if !ok {
		return
	}
	d, err := h.Orchestrator.SubmitReview(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ConfirmExecution handles POST /api/v1/decisions/{id}/execution
func (h *Handlers) ConfirmExecution(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.ExecutionRequest](w, r, h.limit())
	if !ok {
		return
	}
	d, err := h.Orchestrator.ConfirmExecution(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// RecordOutcome handles POST /api/v1/decisions/{id}/outcome
func (h *Handlers) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.OutcomeRequest](w, r, h.limit())
	if !ok {
		return
	}
	o, err := h.Orchestrator.RecordOutcome(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// ApplyCalibration handles POST /api/v1/outcomes/{id}/apply-calibration
func (h *Handlers) ApplyCalibration(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		Actor string `json:"actor"`
	}](w, r, h.limit())
	if !ok || !requireField(w, req.Actor, "actor") {
		return
	}
	p, err := h.Orchestrator.Policies().ApplyCalibration(r.Context(), urlParam(r, "id"), req.Actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetProvenance handles GET /api/v1/artifacts/{id}/provenance
func (h *Handlers) GetProvenance(w http.ResponseWriter, r *http.Request) {
	p, err := h.Orchestrator.QueryProvenance(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListArtifacts handles GET /api/v1/artifacts?kind=&tree_id=&since=&until=&limit=
func (h *Handlers) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	f, limit, err := parseArtifactQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out := make([]*artifact.Artifact, 0)
	for a, err := range h.Orchestrator.Artifacts(r.Context(), f) {
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out = append(out, a)
		if len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func parseArtifactQuery(r *http.Request) (artifact.Filter, int, error) {
	q := r.URL.Query()
	f := artifact.Filter{Kind: artifact.Kind(q.Get("kind")), TreeID: q.Get("tree_id")}
	if f.Kind != "" && !f.Kind.IsValid() {
		return f, 0, fmt.Errorf("unknown artifact kind %q", f.Kind)
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, 0, fmt.Errorf("%s must be an RFC 3339 timestamp", p.name)
		}
		*p.dst = ts
	}
	limit := defaultArtifactLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxArtifactLimit {
			return f, 0, fmt.Errorf("limit must be between 1 and %d", maxArtifactLimit)
		}
		limit = n
	}
	return f, limit, nil
}

// ListPolicies handles GET /api/v1/policies
func (h *Handlers) ListPolicies(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Orchestrator.Policies().List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// GetPolicy handles GET /api/v1/policies/{name}?version=
func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policies := h.Orchestrator.Policies()
	name := urlParam(r, "name")
	v := r.URL.Query().Get("version")
	if v == "" {
		p, err := policies.Get(r.Context(), name)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}
	version, err := strconv.Atoi(v)
	if err != nil || version < 1 {
		writeError(w, http.StatusBadRequest, "version must be a positive integer")
		return
	}
	p, err := policies.Version(r.Context(), name, version)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
