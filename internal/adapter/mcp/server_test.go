package mcp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	brmcp "github.com/Strob0t/Boardroom/internal/adapter/mcp"
	"github.com/Strob0t/Boardroom/internal/adapter/memory"
	"github.com/Strob0t/Boardroom/internal/config"
	"github.com/Strob0t/Boardroom/internal/domain/decision"
	"github.com/Strob0t/Boardroom/internal/domain/lifecycle"
	"github.com/Strob0t/Boardroom/internal/domain/policy"
	"github.com/Strob0t/Boardroom/internal/domain/score"
	"github.com/Strob0t/Boardroom/internal/domain/tree"
	"github.com/Strob0t/Boardroom/internal/port/evaluator"
	"github.com/Strob0t/Boardroom/internal/service"
)

// newGoverned returns a server backed by an in-memory engine whose council
// scores branch "a" at 0.9 with the given uncertainty.
func newGoverned(t *testing.T, uncertainty float64) *brmcp.Server {
	t.Helper()
	cfg := config.Defaults()
	cfg.Scoring.RoundTimeout = 2 * time.Second
	c, err := service.Assemble(context.Background(), memory.New(), &cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, role := range []string{"CEO", "CFO", "CTO"} {
		ev := evaluator.Func(func(_ context.Context, _ *tree.DecisionTree, b tree.Branch) (*score.DecisionScore, error) {
			v := 0.3
			if b.ID == "a" {
				v = 0.9
			}
			return &score.DecisionScore{Scores: map[string]float64{"fit": v}, Uncertainty: uncertainty}, nil
		})
		if err := c.Orchestrator.RegisterEvaluator(evaluator.Registration{AgentID: role, Role: role}, ev); err != nil {
			t.Fatal(err)
		}
	}
	return brmcp.NewServer(brmcp.ServerConfig{Name: "test", Version: "0.1.0"},
		brmcp.ServerDeps{Governance: c.Orchestrator, Policies: c.Policies})
}

func call(t *testing.T, s *brmcp.Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	tool, ok := s.MCPServer().ListTools()[name]
	if !ok {
		t.Fatalf("tool %s not registered", name)
	}
	result, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("%s handler error: %v", name, err)
	}
	return result
}

func decodeResult[T any](t *testing.T, result *mcplib.CallToolResult) T {
	t.Helper()
	var v T
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}
	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	if err := json.Unmarshal([]byte(text.Text), &v); err != nil {
		t.Fatalf("unmarshal %T: %v", v, err)
	}
	return v
}

var topicArgs = map[string]any{
	"topic":      "Which vendor do we pick?",
	"created_by": "cto",
	"options": []any{
		map[string]any{"id": "a", "description": "Vendor A"},
		map[string]any{"id": "b", "description": "Vendor B"},
	},
	"annotations": map[string]any{"budget": "capex"},
}

func TestToolRegistration(t *testing.T) {
	s := brmcp.NewServer(brmcp.ServerConfig{Name: "test", Version: "0.1.0"}, brmcp.ServerDeps{})

	tools := s.MCPServer().ListTools()
	expected := []string{"submit_topic", "start_round", "get_status", "get_decision", "submit_review", "query_provenance"}
	if len(tools) != len(expected) {
		t.Fatalf("expected %d tools, got %d", len(expected), len(tools))
	}
	for _, name := range expected {
		if _, ok := tools[name]; !ok {
			t.Errorf("expected tool %q not registered", name)
		}
	}
}

func TestHandleNilDeps(t *testing.T) {
	s := brmcp.NewServer(brmcp.ServerConfig{Name: "test", Version: "0.1.0"}, brmcp.ServerDeps{})
	for _, name := range []string{"submit_topic", "get_status", "query_provenance"} {
		if result := call(t, s, name, map[string]any{"tree_id": "x", "artifact_id": "x"}); !result.IsError {
			t.Errorf("%s: expected error result when deps are nil", name)
		}
	}
}

func TestHandleMissingArguments(t *testing.T) {
	s := newGoverned(t, 0.1)
	tests := []struct {
		tool string
		args map[string]any
	}{
		{"start_round", nil},
		{"get_status", map[string]any{"tree_id": ""}},
		{"get_decision", nil},
		{"submit_review", map[string]any{"verdict": "approve"}},
		{"query_provenance", nil},
		{"submit_topic", map[string]any{"topic": "no options", "created_by": "x"}},
		{"get_status", map[string]any{"tree_id": "unknown"}},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			if result := call(t, s, tt.tool, tt.args); !result.IsError {
				t.Errorf("expected error result for %v", tt.args)
			}
		})
	}
}

func TestSubmitRoundAndProvenance(t *testing.T) {
	s := newGoverned(t, 0.1)

	rec := decodeResult[lifecycle.Record](t, call(t, s, "submit_topic", topicArgs))
	if rec.State != lifecycle.StateOpen || rec.TreeID == "" {
		t.Fatalf("record = %+v", rec)
	}

	rec = decodeResult[lifecycle.Record](t, call(t, s, "start_round", map[string]any{"tree_id": rec.TreeID, "wait": true}))
	if rec.State != lifecycle.StateApproved {
		t.Fatalf("state after round = %s", rec.State)
	}

	d := decodeResult[decision.GovernanceDecision](t, call(t, s, "get_decision", map[string]any{"decision_id": rec.DecisionID}))
	if d.SelectedBranchID != "a" {
		t.Errorf("selected = %s, want a", d.SelectedBranchID)
	}

	status := decodeResult[lifecycle.Record](t, call(t, s, "get_status", map[string]any{"tree_id": rec.TreeID}))
	if status.DecisionID != d.ID {
		t.Errorf("status decision = %s, want %s", status.DecisionID, d.ID)
	}

	prov := decodeResult[service.Provenance](t, call(t, s, "query_provenance", map[string]any{"artifact_id": rec.TreeID}))
	if prov.Artifact == nil || prov.Artifact.ID != rec.TreeID || len(prov.Receipts) == 0 {
		t.Errorf("tree provenance = %+v", prov)
	}
}

func TestStartRoundInBackground(t *testing.T) {
	s := newGoverned(t, 0.1)
	rec := decodeResult[lifecycle.Record](t, call(t, s, "submit_topic", topicArgs))

	call(t, s, "start_round", map[string]any{"tree_id": rec.TreeID})
	deadline := time.Now().Add(3 * time.Second)
	for {
		got := decodeResult[lifecycle.Record](t, call(t, s, "get_status", map[string]any{"tree_id": rec.TreeID}))
		if got.State == lifecycle.StateApproved {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("round never settled, state %s", got.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitReview(t *testing.T) {
	s := newGoverned(t, 0.8)
	rec := decodeResult[lifecycle.Record](t, call(t, s, "submit_topic", topicArgs))
	rec = decodeResult[lifecycle.Record](t, call(t, s, "start_round", map[string]any{"tree_id": rec.TreeID, "wait": true}))
	if rec.State != lifecycle.StatePendingHumanReview {
		t.Fatalf("state = %s, want pending review", rec.State)
	}

	d := decodeResult[decision.GovernanceDecision](t, call(t, s, "submit_review", map[string]any{
		"decision_id": rec.DecisionID,
		"verdict":     "approve",
		"reviewer_id": "board",
	}))
	if d.Status != decision.StatusApproved {
		t.Errorf("status = %s, want approved", d.Status)
	}

	if result := call(t, s, "submit_review", map[string]any{
		"decision_id": rec.DecisionID, "verdict": "reject", "reviewer_id": "board",
	}); !result.IsError {
		t.Error("a conflicting review must fail")
	}
}

func TestPoliciesResource(t *testing.T) {
	s := newGoverned(t, 0.1)
	var names []string
	for _, p := range readResource[[]policy.Policy](t, s, "boardroom://policies") {
		names = append(names, p.Name)
	}
	if len(names) != 3 {
		t.Errorf("policies = %v", names)
	}
	if members := readResource[[]evaluator.Registration](t, s, "boardroom://evaluators"); len(members) != 3 {
		t.Errorf("evaluators = %+v", members)
	}
}

func readResource[T any](t *testing.T, s *brmcp.Server, uri string) T {
	t.Helper()
	msg := s.MCPServer().HandleMessage(context.Background(), mustJSON(t, map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "resources/read",
		"params":  map[string]any{"uri": uri},
	}))
	var reply struct {
		Result struct {
			Contents []struct {
				Text string `json:"text"`
			} `json:"contents"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(mustJSON(t, msg), &reply); err != nil {
		t.Fatalf("read %s: %v", uri, err)
	}
	if reply.Error != nil || len(reply.Result.Contents) == 0 {
		t.Fatalf("read %s: unexpected reply %+v", uri, reply)
	}
	text := reply.Result.Contents[0]
	var v T
	if err := json.Unmarshal([]byte(text.Text), &v); err != nil {
		t.Fatal(err)
	}
	return v
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	tests := []struct {
		name   string
		key    string
		header string
		want   int
	}{
		{"disabled", "", "", http.StatusOK},
		{"missing header", "secret", "", http.StatusUnauthorized},
		{"bearer token", "secret", "Bearer secret", http.StatusOK},
		{"bare key", "secret", "secret", http.StatusOK},
		{"wrong key", "secret", "Bearer nope", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			brmcp.AuthMiddleware(tt.key, ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestServerStartStop(t *testing.T) {
	s := brmcp.NewServer(brmcp.ServerConfig{Addr: "127.0.0.1:0", Name: "test", Version: "0.1.0"}, brmcp.ServerDeps{})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
