// Package mcp exposes the decision governance engine as Model Context
// Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/Boardroom/internal/domain/decision"
	"github.com/Strob0t/Boardroom/internal/domain/lifecycle"
	"github.com/Strob0t/Boardroom/internal/domain/policy"
	"github.com/Strob0t/Boardroom/internal/domain/tree"
	"github.com/Strob0t/Boardroom/internal/service"
)

// Governance is the slice of the orchestrator the tools drive.
type Governance interface {
	SubmitTopic(ctx context.Context, req tree.SubmitRequest) (string, error)
	Launch(ctx context.Context, treeID string) error
	StartRound(ctx context.Context, treeID string) (*lifecycle.Record, error)
	Status(ctx context.Context, treeID string) (*lifecycle.Record, error)
	GetDecision(ctx context.Context, id string) (*decision.GovernanceDecision, error)
	SubmitReview(ctx context.Context, decisionID string, req service.ReviewRequest) (*decision.GovernanceDecision, error)
	QueryProvenance(ctx context.Context, artifactID string) (*service.Provenance, error)
	Evaluators() []service.Member
}

// PolicyLister lists the current policies.
type PolicyLister interface {
	List(ctx context.Context) ([]policy.Policy, error)
}

// ServerConfig holds the MCP server settings.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	// APIKey enables bearer authentication when non-empty.
	APIKey string
}

// ServerDeps are the services behind the tools. Nil dependencies make the
// tools that need them report an error.
type ServerDeps struct {
	Governance Governance
	Policies   PolicyLister
}

// Server serves the tools over streamable HTTP.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	http      *http.Server
}

// NewServer creates a server with every tool and resource registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Handler returns the authenticated streamable HTTP handler.
func (s *Server) Handler() http.Handler {
	return AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer))
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.cfg.Addr, err)
	}
	s.http = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	slog.Info("mcp server started", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	slog.Info("mcp server stopping")
	return s.http.Shutdown(ctx)
}
