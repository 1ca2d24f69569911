package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/Boardroom/internal/domain/decision"
	"github.com/Strob0t/Boardroom/internal/domain/tree"
	"github.com/Strob0t/Boardroom/internal/service"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.submitTopicTool(),
		s.startRoundTool(),
		s.getStatusTool(),
		s.getDecisionTool(),
		s.submitReviewTool(),
		s.queryProvenanceTool(),
	)
}

func (s *Server) submitTopicTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("submit_topic",
		mcplib.WithDescription("Submit a decision topic with its candidate branches to the board"),
		mcplib.WithString("topic", mcplib.Required(), mcplib.Description("What is being decided")),
		mcplib.WithString("category", mcplib.Description("Topic category; selects the consensus policy")),
		mcplib.WithString("created_by", mcplib.Required(), mcplib.Description("Who submits the topic")),
		mcplib.WithArray("options",
			mcplib.Required(),
			mcplib.Description("Candidate branches: objects with id, description and optional expected_metrics"),
			mcplib.Items(map[string]any{"type": "object"}),
		),
		mcplib.WithObject("annotations", mcplib.Description("Free-form string annotations read by guardrail rules")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleSubmitTopic}
}

func (s *Server) startRoundTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("start_round",
		mcplib.WithDescription("Start a scoring round on an open topic"),
		mcplib.WithString("tree_id", mcplib.Required(), mcplib.Description("The decision tree ID")),
		mcplib.WithBoolean("wait", mcplib.Description("Block until the round settles and return the lifecycle record")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleStartRound}
}

func (s *Server) getStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_status",
		mcplib.WithDescription("Get the lifecycle record of a decision tree"),
		mcplib.WithString("tree_id", mcplib.Required(), mcplib.Description("The decision tree ID")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetStatus}
}

func (s *Server) getDecisionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_decision",
		mcplib.WithDescription("Get a governance decision by ID"),
		mcplib.WithString("decision_id", mcplib.Required(), mcplib.Description("The decision ID")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetDecision}
}

func (s *Server) submitReviewTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("submit_review",
		mcplib.WithDescription("Approve or reject a decision pending human review"),
		mcplib.WithString("decision_id", mcplib.Required(), mcplib.Description("The decision ID")),
		mcplib.WithString("verdict", mcplib.Required(),
			mcplib.Enum(string(decision.VerdictApprove), string(decision.VerdictReject))),
		mcplib.WithString("reviewer_id", mcplib.Required(), mcplib.Description("Who reviews")),
		mcplib.WithString("note", mcplib.Description("Reason recorded with the review")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleSubmitReview}
}

func (s *Server) queryProvenanceTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("query_provenance",
		mcplib.WithDescription("Get an artifact with every provenance receipt naming it"),
		mcplib.WithString("artifact_id", mcplib.Required(), mcplib.Description("Any artifact ID: tree, score, decision, outcome or policy")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleQueryProvenance}
}

func (s *Server) handleSubmitTopic(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Governance == nil {
		return mcplib.NewToolResultError("governance not configured"), nil
	}
	var in tree.SubmitRequest
	if err := bindArguments(req, &in); err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid arguments", err), nil
	}
	id, err := s.deps.Governance.SubmitTopic(ctx, in)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to submit topic", err), nil
	}
	rec, err := s.deps.Governance.Status(ctx, id)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to read status", err), nil
	}
	return toolResultJSON(rec)
}

func (s *Server) handleStartRound(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Governance == nil {
		return mcplib.NewToolResultError("governance not configured"), nil
	}
	treeID, errResult := requireString(req, "tree_id")
	if errResult != nil {
		return errResult, nil
	}
	if req.GetBool("wait", false) {
		rec, err := s.deps.Governance.StartRound(ctx, treeID)
		if err != nil {
			return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("round on %s failed", treeID), err), nil
		}
		return toolResultJSON(rec)
	}
	if err := s.deps.Governance.Launch(ctx, treeID); err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to start round on %s", treeID), err), nil
	}
	return toolResultJSON(map[string]string{"tree_id": treeID, "status": "round_started"})
}

func (s *Server) handleGetStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Governance == nil {
		return mcplib.NewToolResultError("governance not configured"), nil
	}
	treeID, errResult := requireString(req, "tree_id")
	if errResult != nil {
		return errResult, nil
	}
	rec, err := s.deps.Governance.Status(ctx, treeID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get status of %s", treeID), err), nil
	}
	return toolResultJSON(rec)
}

func (s *Server) handleGetDecision(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Governance == nil {
		return mcplib.NewToolResultError("governance not configured"), nil
	}
	id, errResult := requireString(req, "decision_id")
	if errResult != nil {
		return errResult, nil
	}
	d, err := s.deps.Governance.GetDecision(ctx, id)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get decision %s", id), err), nil
	}
	return toolResultJSON(d)
}

func (s *Server) handleSubmitReview(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Governance == nil {
		return mcplib.NewToolResultError("governance not configured"), nil
	}
	id, errResult := requireString(req, "decision_id")
	if errResult != nil {
		return errResult, nil
	}
	review := service.ReviewRequest{
		Verdict:    decision.Verdict(req.GetString("verdict", "")),
		ReviewerID: req.GetString("reviewer_id", ""),
		Note:       req.GetString("note", ""),
	}
	d, err := s.deps.Governance.SubmitReview(ctx, id, review)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to review decision %s", id), err), nil
	}
	return toolResultJSON(d)
}

func (s *Server) handleQueryProvenance(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Governance == nil {
		return mcplib.NewToolResultError("governance not configured"), nil
	}
	id, errResult := requireString(req, "artifact_id")
	if errResult != nil {
		return errResult, nil
	}
	p, err := s.deps.Governance.QueryProvenance(ctx, id)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to query provenance of %s", id), err), nil
	}
	return toolResultJSON(p)
}

func requireString(req mcplib.CallToolRequest, name string) (string, *mcplib.CallToolResult) { //nolint:gocritic // hugeParam: mcp-go request type
	v := req.GetString(name, "")
	if v == "" {
		return "", mcplib.NewToolResultError(name + " is required")
	}
	return v, nil
}

// bindArguments decodes the tool arguments into dst through their JSON form.
func bindArguments(req mcplib.CallToolRequest, dst any) error { //nolint:gocritic // hugeParam: mcp-go request type
	data, err := json.Marshal(req.GetArguments())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func toolResultJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
