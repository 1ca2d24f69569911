package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	resourcePolicies   = "boardroom://policies"
	resourceEvaluators = "boardroom://evaluators"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			resourcePolicies,
			"Consensus Policies",
			mcplib.WithResourceDescription("Latest version of every consensus policy"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePoliciesResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			resourceEvaluators,
			"Council",
			mcplib.WithResourceDescription("Registered evaluators and their roles"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleEvaluatorsResource,
	)
}

func (s *Server) handlePoliciesResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Policies == nil {
		return jsonResource(req.Params.URI, map[string]string{"error": "policies not configured"})
	}
	ps, err := s.deps.Policies.List(ctx)
	if err != nil {
		return nil, err
	}
	return jsonResource(req.Params.URI, ps)
}

func (s *Server) handleEvaluatorsResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Governance == nil {
		return jsonResource(req.Params.URI, map[string]string{"error": "governance not configured"})
	}
	return jsonResource(req.Params.URI, s.deps.Governance.Evaluators())
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
