package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	cfhttp "github.com/Strob0t/Boardroom/internal/adapter/http"
	"github.com/Strob0t/Boardroom/internal/adapter/memory"
	"github.com/Strob0t/Boardroom/internal/config"
	"github.com/Strob0t/Boardroom/internal/domain/artifact"
	"github.com/Strob0t/Boardroom/internal/domain/decision"
	"github.com/Strob0t/Boardroom/internal/domain/lifecycle"
	"github.com/Strob0t/Boardroom/internal/domain/policy"
	"github.com/Strob0t/Boardroom/internal/domain/score"
	"github.com/Strob0t/Boardroom/internal/domain/tree"
	"github.com/Strob0t/Boardroom/internal/port/evaluator"
	"github.com/Strob0t/Boardroom/internal/service"
)

type fixture struct {
	orch   *service.Orchestrator
	router chi.Router
}

func newFixture(t *testing.T, health map[string]cfhttp.HealthCheck) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Scoring.RoundTimeout = 2 * time.Second
	c, err := service.Assemble(context.Background(), memory.New(), &cfg)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	r := chi.NewRouter()
	cfhttp.MountRoutes(r, &cfhttp.Handlers{Orchestrator: c.Orchestrator, Health: health}, nil)
	return &fixture{orch: c.Orchestrator, router: r}
}

// council registers three evaluators that prefer branch eu. uncertainty
// controls whether the guardrail lets the decision through.
func (f *fixture) council(t *testing.T, uncertainty float64) {
	t.Helper()
	for role, eu := range map[string]float64{"CEO": 0.9, "CFO": 0.8, "CTO": 0.85} {
		ev := evaluator.Func(func(_ context.Context, _ *tree.DecisionTree, b tree.Branch) (*score.DecisionScore, error) {
			v := 0.4
			if b.ID == "eu" {
				v = eu
			}
			return &score.DecisionScore{Scores: map[string]float64{"fit": v}, Uncertainty: uncertainty}, nil
		})
		if err := f.orch.RegisterEvaluator(evaluator.Registration{AgentID: role + "-agent", Role: role}, ev); err != nil {
			t.Fatal(err)
		}
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v (body %q)", v, err, rec.Body.String())
	}
	return v
}

type topicBody struct {
	Tree      tree.DecisionTree `json:"tree"`
	Lifecycle lifecycle.Record  `json:"lifecycle"`
}

var expansion = tree.SubmitRequest{
	Topic:    "Where do we expand next year?",
	Category: "expansion",
	Options: []tree.Branch{
		{ID: "eu", Description: "Open an EU office", ExpectedMetrics: map[string]float64{"revenue": 100}},
		{ID: "us", Description: "Double down on the US"},
	},
	CreatedBy: "chair",
}

func (f *fixture) submit(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/topics", expansion)
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit = %d: %s", rec.Code, rec.Body)
	}
	return decode[topicBody](t, rec).Tree.ID
}

func TestSubmitAndGetTopic(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/v1/topics", expansion)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	created := decode[topicBody](t, rec)
	if created.Lifecycle.State != lifecycle.StateOpen || created.Lifecycle.PolicyName != "weighted-csuite" {
		t.Errorf("lifecycle = %+v", created.Lifecycle)
	}
	if loc := rec.Header().Get("Location"); loc != "/api/v1/topics/"+created.Tree.ID {
		t.Errorf("Location = %q", loc)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/topics/"+created.Tree.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}
	if got := decode[topicBody](t, rec); got.Tree.Topic != expansion.Topic || len(got.Tree.BranchIDs()) != 2 {
		t.Errorf("tree = %+v", got.Tree)
	}
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, nil)
	id := f.submit(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"malformed body", http.MethodPost, "/api/v1/topics", "{", http.StatusBadRequest},
		{"invalid topic", http.MethodPost, "/api/v1/topics", tree.SubmitRequest{Topic: "x"}, http.StatusBadRequest},
		{"unknown topic", http.MethodGet, "/api/v1/topics/missing", nil, http.StatusNotFound},
		{"round without evaluators", http.MethodPost, "/api/v1/topics/" + id + "/rounds", nil, http.StatusUnprocessableEntity},
		{"cancel without round", http.MethodDelete, "/api/v1/topics/" + id + "/rounds", nil, http.StatusConflict},
		{"withdraw without reason", http.MethodPost, "/api/v1/topics/" + id + "/withdraw", map[string]string{}, http.StatusBadRequest},
		{"unknown decision", http.MethodGet, "/api/v1/decisions/nope", nil, http.StatusNotFound},
		{"evaluator without endpoint", http.MethodPost, "/api/v1/evaluators", evaluator.Registration{AgentID: "a", Role: "CEO"}, http.StatusBadRequest},
		{"evaluator with bad scheme", http.MethodPost, "/api/v1/evaluators", evaluator.Registration{AgentID: "a", Role: "CEO", Endpoint: "ftp://x"}, http.StatusBadRequest},
		{"unknown evaluator", http.MethodDelete, "/api/v1/evaluators/ghost", nil, http.StatusNotFound},
		{"bad artifact kind", http.MethodGet, "/api/v1/artifacts?kind=memo", nil, http.StatusBadRequest},
		{"bad since", http.MethodGet, "/api/v1/artifacts?since=yesterday", nil, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/v1/artifacts?limit=0", nil, http.StatusBadRequest},
		{"unknown policy", http.MethodGet, "/api/v1/policies/nope", nil, http.StatusNotFound},
		{"bad policy version", http.MethodGet, "/api/v1/policies/weighted-csuite?version=x", nil, http.StatusBadRequest},
		{"calibration without actor", http.MethodPost, "/api/v1/outcomes/o/apply-calibration", map[string]string{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content type = %q", ct)
			}
		})
	}
}

func TestAmendAndWithdraw(t *testing.T) {
	f := newFixture(t, nil)
	id := f.submit(t)

	rec := f.do(t, http.MethodGet, "/api/v1/topics/"+id, nil)
	body := decode[topicBody](t, rec)
	amended := body.Tree
	amended.Topic = "Where do we expand in 2027?"
	rec = f.do(t, http.MethodPut, "/api/v1/topics/"+id, amended)
	if rec.Code != http.StatusOK {
		t.Fatalf("amend = %d: %s", rec.Code, rec.Body)
	}
	if got := decode[tree.DecisionTree](t, rec); got.Topic != amended.Topic || got.ID != id {
		t.Errorf("amended tree = %+v", got)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/topics/"+id+"/withdraw", map[string]string{"reason": "market shifted"})
	if rec.Code != http.StatusOK {
		t.Fatalf("withdraw = %d: %s", rec.Code, rec.Body)
	}
	if got := decode[lifecycle.Record](t, rec); got.State != lifecycle.StateWithdrawn {
		t.Errorf("state = %s", got.State)
	}

	if rec := f.do(t, http.MethodPut, "/api/v1/topics/"+id, amended); rec.Code != http.StatusConflict {
		t.Errorf("amend after withdraw = %d, want 409", rec.Code)
	}
}

func TestRoundToOutcomeOverHTTP(t *testing.T) {
	f := newFixture(t, nil)
	f.council(t, 0.1)
	id := f.submit(t)

	rec := f.do(t, http.MethodPost, "/api/v1/topics/"+id+"/rounds?wait=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("round = %d: %s", rec.Code, rec.Body)
	}
	lc := decode[lifecycle.Record](t, rec)
	if lc.State != lifecycle.StateApproved || lc.DecisionID == "" {
		t.Fatalf("lifecycle = %+v", lc)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/decisions/"+lc.DecisionID, nil)
	d := decode[decision.GovernanceDecision](t, rec)
	if d.SelectedBranchID != "eu" || d.Status != decision.StatusApproved {
		t.Fatalf("decision = %s on %s", d.Status, d.SelectedBranchID)
	}

	// An approved decision is not reviewable.
	rec = f.do(t, http.MethodPost, "/api/v1/decisions/"+d.ID+"/review",
		service.ReviewRequest{Verdict: decision.VerdictApprove, ReviewerID: "board"})
	if rec.Code != http.StatusConflict {
		t.Errorf("review of approved decision = %d, want 409", rec.Code)
	}

	exec := service.ExecutionRequest{ExecutedBy: "coo", Reference: "PRJ-7"}
	for range 2 {
		rec = f.do(t, http.MethodPost, "/api/v1/decisions/"+d.ID+"/execution", exec)
		if rec.Code != http.StatusOK {
			t.Fatalf("execution = %d: %s", rec.Code, rec.Body)
		}
	}
	if got := decode[decision.GovernanceDecision](t, rec); got.Status != decision.StatusExecuted {
		t.Errorf("status after execution = %s", got.Status)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/decisions/"+d.ID+"/outcome", service.OutcomeRequest{
		ActualMetrics: map[string]float64{"revenue": 60},
		RecordedBy:    "cfo",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("outcome = %d: %s", rec.Code, rec.Body)
	}
	var out struct {
		ID               string `json:"id"`
		CalibrationDelta *struct {
			PolicyName string `json:"policy_name"`
		} `json:"calibration_delta"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.CalibrationDelta == nil {
		t.Fatal("a 40% revenue miss must propose a calibration")
	}

	rec = f.do(t, http.MethodPost, "/api/v1/outcomes/"+out.ID+"/apply-calibration", map[string]string{"actor": "governance"})
	if rec.Code != http.StatusOK {
		t.Fatalf("apply calibration = %d: %s", rec.Code, rec.Body)
	}
	if p := decode[policy.Policy](t, rec); p.Version != 2 {
		t.Errorf("calibrated policy version = %d, want 2", p.Version)
	}
	rec = f.do(t, http.MethodGet, "/api/v1/policies/weighted-csuite?version=1", nil)
	if p := decode[policy.Policy](t, rec); p.Version != 1 {
		t.Errorf("pinned version = %d, want 1", p.Version)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/topics/"+id+"/status", nil)
	if got := decode[lifecycle.Record](t, rec); got.State != lifecycle.StateArchived {
		t.Errorf("final state = %s", got.State)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/artifacts/"+d.ID+"/provenance", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("provenance = %d", rec.Code)
	}
	prov := decode[service.Provenance](t, rec)
	if prov.Artifact.ID != d.ID || len(prov.Receipts) < 5 {
		t.Errorf("provenance has %d receipts", len(prov.Receipts))
	}

	rec = f.do(t, http.MethodGet, "/api/v1/artifacts?kind=score&tree_id="+id+"&limit=2", nil)
	if scores := decode[[]artifact.Artifact](t, rec); len(scores) != 2 {
		t.Errorf("limited score listing = %d, want 2", len(scores))
	}
	rec = f.do(t, http.MethodGet, "/api/v1/artifacts?kind=score&tree_id="+id, nil)
	if scores := decode[[]artifact.Artifact](t, rec); len(scores) != 6 {
		t.Errorf("score listing = %d, want 6", len(scores))
	}
}

func TestReviewOverHTTP(t *testing.T) {
	f := newFixture(t, nil)
	f.council(t, 0.7) // confidence 0.3 is below every floor
	id := f.submit(t)

	rec := f.do(t, http.MethodPost, "/api/v1/topics/"+id+"/rounds?wait=true", nil)
	lc := decode[lifecycle.Record](t, rec)
	if lc.State != lifecycle.StatePendingHumanReview {
		t.Fatalf("state = %s, want pending review", lc.State)
	}

	review := service.ReviewRequest{Verdict: decision.VerdictReject, ReviewerID: "board", Note: "too risky"}
	for range 2 {
		rec = f.do(t, http.MethodPost, "/api/v1/decisions/"+lc.DecisionID+"/review", review)
		if rec.Code != http.StatusOK {
			t.Fatalf("review = %d: %s", rec.Code, rec.Body)
		}
	}
	if d := decode[decision.GovernanceDecision](t, rec); d.Status != decision.StatusArchived {
		t.Errorf("status = %s, want archived", d.Status)
	}

	review.Verdict = decision.VerdictApprove
	if rec := f.do(t, http.MethodPost, "/api/v1/decisions/"+lc.DecisionID+"/review", review); rec.Code != http.StatusConflict {
		t.Errorf("conflicting review = %d, want 409", rec.Code)
	}
}

func TestLaunchRoundAccepted(t *testing.T) {
	f := newFixture(t, nil)
	f.council(t, 0.1)
	id := f.submit(t)

	rec := f.do(t, http.MethodPost, "/api/v1/topics/"+id+"/rounds", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("launch = %d: %s", rec.Code, rec.Body)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		got := decode[lifecycle.Record](t, f.do(t, http.MethodGet, "/api/v1/topics/"+id+"/status", nil))
		if got.State == lifecycle.StateApproved {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("round never settled, state %s", got.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEvaluatorsAndPolicies(t *testing.T) {
	f := newFixture(t, nil)
	f.council(t, 0.1)

	rec := f.do(t, http.MethodGet, "/api/v1/evaluators", nil)
	var members []evaluator.Registration
	if err := json.NewDecoder(rec.Body).Decode(&members); err != nil {
		t.Fatal(err)
	}
	if len(members) != 3 || members[0].AgentID != "CEO-agent" {
		t.Errorf("members = %+v", members)
	}

	if rec := f.do(t, http.MethodDelete, "/api/v1/evaluators/CTO-agent", nil); rec.Code != http.StatusNoContent {
		t.Errorf("unregister = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/policies", nil)
	ps := decode[[]policy.Policy](t, rec)
	if len(ps) != 3 {
		t.Errorf("policies = %d, want 3 presets", len(ps))
	}
	rec = f.do(t, http.MethodGet, "/api/v1/policies/veto-board", nil)
	if p := decode[policy.Policy](t, rec); p.Name != "veto-board" || p.Threshold != 0.65 {
		t.Errorf("veto-board = %+v", p)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]cfhttp.HealthCheck
		want   int
		status string
	}{
		{"no checks", nil, http.StatusOK, "ok"},
		{"all healthy", map[string]cfhttp.HealthCheck{"store": func(context.Context) error { return nil }}, http.StatusOK, "ok"},
		{"nats down", map[string]cfhttp.HealthCheck{
			"store": func(context.Context) error { return nil },
			"nats":  func(context.Context) error { return errors.New("disconnected") },
		}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.checks)
			rec := f.do(t, http.MethodGet, "/health", nil)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			var body struct {
				Status string `json:"status"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Status != tt.status {
				t.Errorf("body status = %q, want %q", body.Status, tt.status)
			}
		})
	}
}
