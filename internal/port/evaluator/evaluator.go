// Package evaluator defines the port for role agents that score decision
// tree branches.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Strob0t/Boardroom/internal/domain"
	"github.com/Strob0t/Boardroom/internal/domain/score"
	"github.com/Strob0t/Boardroom/internal/domain/tree"
)

// Evaluator scores one branch of a decision tree. Implementations are opaque
// capability endpoints; the coordinator fills in identity and round fields.
type Evaluator interface {
	Evaluate(ctx context.Context, t *tree.DecisionTree, b tree.Branch) (*score.DecisionScore, error)
}

// Func adapts a plain function to the Evaluator interface.
type Func func(ctx context.Context, t *tree.DecisionTree, b tree.Branch) (*score.DecisionScore, error)

// Evaluate calls f.
func (f Func) Evaluate(ctx context.Context, t *tree.DecisionTree, b tree.Branch) (*score.DecisionScore, error) {
	return f(ctx, t, b)
}

// Endpoint schemes accepted for remote evaluators.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeNATS  = "nats"
)

// Registration is one council member.
type Registration struct {
	AgentID  string `json:"agent_id"`
	Role     string `json:"role"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Validate checks the registration fields and endpoint scheme. An empty
// endpoint is allowed for evaluators registered in-process.
func (r *Registration) Validate() error {
	if r.AgentID == "" || r.Role == "" {
		return fmt.Errorf("evaluator: agent_id and role are required: %w", domain.ErrValidation)
	}
	if r.Endpoint == "" {
		return nil
	}
	if _, err := r.Scheme(); err != nil {
		return err
	}
	return nil
}

// Scheme returns the transport named by the endpoint.
func (r *Registration) Scheme() (string, error) {
	switch {
	case strings.HasPrefix(r.Endpoint, "https://"):
		return SchemeHTTPS, nil
	case strings.HasPrefix(r.Endpoint, "http://"):
		return SchemeHTTP, nil
	case strings.HasPrefix(r.Endpoint, "nats:") && len(r.Endpoint) > len("nats:"):
		return SchemeNATS, nil
	}
	return "", fmt.Errorf("evaluator %s: unsupported endpoint %q: %w", r.AgentID, r.Endpoint, domain.ErrValidation)
}

// NATSSubject returns the request subject of a nats: endpoint.
func (r *Registration) NATSSubject() string {
	return strings.TrimPrefix(r.Endpoint, "nats:")
}

// Factory builds an Evaluator for a registration with a remote endpoint.
type Factory interface {
	New(reg Registration) (Evaluator, error)
}

// Request is the wire body sent to remote evaluators over HTTP and NATS.
type Request struct {
	TreeID      string            `json:"tree_id"`
	Topic       string            `json:"topic"`
	Category    string            `json:"category,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Branch      tree.Branch       `json:"branch"`
	Siblings    []string          `json:"sibling_branch_ids,omitempty"`
}

// NewRequest builds the wire request for branch b of t.
func NewRequest(t *tree.DecisionTree, b tree.Branch) Request {
	var siblings []string
	for _, id := range t.BranchIDs() {
		if id != b.ID {
			siblings = append(siblings, id)
		}
	}
	return Request{
		TreeID:      t.ID,
		Topic:       t.Topic,
		Category:    t.Category,
		Annotations: t.Annotations,
		Branch:      b,
		Siblings:    siblings,
	}
}

// Response is the wire reply of a remote evaluator.
type Response struct {
	Scores      map[string]float64 `json:"scores"`
	Weights     map[string]float64 `json:"weights,omitempty"`
	Rationale   string             `json:"rationale,omitempty"`
	Uncertainty float64            `json:"uncertainty"`
	Error       string             `json:"error,omitempty"`
}

// ErrRemote marks an error reported by the evaluator itself.
var ErrRemote = errors.New("evaluator reported an error")

// Score converts the reply into a partial score. Identity fields are filled
// in by the coordinator.
func (r *Response) Score() (*score.DecisionScore, error) {
	if r.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrRemote, r.Error)
	}
	return &score.DecisionScore{
		Scores:      r.Scores,
		Weights:     r.Weights,
		Rationale:   r.Rationale,
		Uncertainty: r.Uncertainty,
	}, nil
}
