// Package tree defines decision trees: a topic and the candidate branches
// the council evaluates.
package tree

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Strob0t/Boardroom/internal/domain"
)

// Sentinel errors for tree validation. All wrap domain.ErrValidation.
var (
	ErrDuplicateBranch = fmt.Errorf("duplicate branch id: %w", domain.ErrValidation)
	ErrDanglingRef     = fmt.Errorf("dependency references unknown branch: %w", domain.ErrValidation)
	ErrCycle           = fmt.Errorf("branch dependencies contain a cycle: %w", domain.ErrValidation)
)

// Branch is one candidate option.
type Branch struct {
	ID              string             `json:"branch_id" yaml:"branch_id"`
	Description     string             `json:"description" yaml:"description"`
	Dependencies    []string           `json:"dependencies,omitempty" yaml:"dependencies"`
	HighImpact      bool               `json:"high_impact,omitempty" yaml:"high_impact"`
	Irreversible    bool               `json:"irreversible,omitempty" yaml:"irreversible"`
	ExpectedMetrics map[string]float64 `json:"expected_metrics,omitempty" yaml:"expected_metrics"`
}

// Node groups branches under one question.
type Node struct {
	ID       string   `json:"node_id" yaml:"node_id"`
	Question string   `json:"question" yaml:"question"`
	Branches []Branch `json:"branches" yaml:"branches"`
}

// DecisionTree is a decision under consideration.
type DecisionTree struct {
	ID          string            `json:"id"`
	Topic       string            `json:"topic"`
	Category    string            `json:"category,omitempty"`
	Nodes       []Node            `json:"nodes"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Frozen      bool              `json:"frozen"`
	CreatedBy   string            `json:"created_by"`
	CreatedAt   time.Time         `json:"created_at"`
}

// SubmitRequest is the input to submit a new topic. Either Options (a single
// question) or Nodes may be given.
type SubmitRequest struct {
	Topic       string            `json:"topic"`
	Category    string            `json:"category,omitempty"`
	Question    string            `json:"question,omitempty"`
	Options     []Branch          `json:"options,omitempty"`
	Nodes       []Node            `json:"nodes,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	CreatedBy   string            `json:"created_by"`
}

// RootNodeID is the node id used for single-question topics.
const RootNodeID = "root"

// FromRequest builds an unfrozen tree from a submission and validates it.
func FromRequest(id string, req SubmitRequest, now time.Time) (*DecisionTree, error) {
	if len(req.Options) > 0 && len(req.Nodes) > 0 {
		return nil, fmt.Errorf("options and nodes are mutually exclusive: %w", domain.ErrValidation)
	}
	nodes := req.Nodes
	if len(nodes) == 0 {
		q := req.Question
		if q == "" {
			q = req.Topic
		}
		nodes = []Node{{ID: RootNodeID, Question: q, Branches: req.Options}}
	}
	t := &DecisionTree{
		ID:          id,
		Topic:       req.Topic,
		Category:    req.Category,
		Nodes:       nodes,
		Annotations: req.Annotations,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   now.UTC(),
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks tree invariants: required fields, unique node and branch
// ids, resolvable dependencies and an acyclic dependency graph.
func (t *DecisionTree) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("tree id is required: %w", domain.ErrValidation)
	}
	if t.Topic == "" {
		return fmt.Errorf("tree %s: topic is required: %w", t.ID, domain.ErrValidation)
	}
	if len(t.Nodes) == 0 {
		return fmt.Errorf("tree %s: at least one node is required: %w", t.ID, domain.ErrValidation)
	}

	nodeIDs := make(map[string]bool, len(t.Nodes))
	for i := range t.Nodes {
		n := &t.Nodes[i]
		if n.ID == "" {
			return fmt.Errorf("tree %s: node %d has no id: %w", t.ID, i, domain.ErrValidation)
		}
		if nodeIDs[n.ID] {
			return fmt.Errorf("tree %s: duplicate node id %q: %w", t.ID, n.ID, domain.ErrValidation)
		}
		nodeIDs[n.ID] = true
		if len(n.Branches) == 0 {
			return fmt.Errorf("tree %s: node %s has no branches: %w", t.ID, n.ID, domain.ErrValidation)
		}
	}

	branches := t.Branches()
	index := make(map[string]int, len(branches))
	for i, b := range branches {
		if b.ID == "" {
			return fmt.Errorf("tree %s: branch %d has no id: %w", t.ID, i, domain.ErrValidation)
		}
		if _, dup := index[b.ID]; dup {
			return fmt.Errorf("tree %s: branch %q: %w", t.ID, b.ID, ErrDuplicateBranch)
		}
		index[b.ID] = i
	}
	return validateDependencies(branches, index)
}

// validateDependencies rejects dangling, self and cyclic dependencies using
// Kahn's algorithm.
func validateDependencies(branches []Branch, index map[string]int) error {
	n := len(branches)
	inDegree := make([]int, n)
	adj := make([][]int, n)

	for i, b := range branches {
		for _, dep := range b.Dependencies {
			j, ok := index[dep]
			if !ok {
				return fmt.Errorf("branch %s depends on %q: %w", b.ID, dep, ErrDanglingRef)
			}
			if j == i {
				return fmt.Errorf("branch %s depends on itself: %w", b.ID, ErrCycle)
			}
			adj[j] = append(adj[j], i)
			inDegree[i]++
		}
	}

	queue := make([]int, 0, n)
	for i, d := range inDegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	visited := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adj[cur] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != n {
		return ErrCycle
	}
	return nil
}

// Branches returns all branches in node order.
func (t *DecisionTree) Branches() []Branch {
	var out []Branch
	for _, n := range t.Nodes {
		out = append(out, n.Branches...)
	}
	return out
}

// Branch looks up a branch by id.
func (t *DecisionTree) Branch(id string) (Branch, bool) {
	for _, n := range t.Nodes {
		for _, b := range n.Branches {
			if b.ID == id {
				return b, true
			}
		}
	}
	return Branch{}, false
}

// BranchIDs returns the branch ids sorted lexically.
func (t *DecisionTree) BranchIDs() []string {
	bs := t.Branches()
	ids := make([]string, len(bs))
	for i, b := range bs {
		ids[i] = b.ID
	}
	slices.Sort(ids)
	return ids
}

// ErrFrozen is returned when amending a tree after scoring began.
var ErrFrozen = errors.New("tree is frozen")

// Amend returns next as the replacement for t after checking it is allowed.
// Identity fields are carried over from t.
func (t *DecisionTree) Amend(next *DecisionTree) (*DecisionTree, error) {
	if t.Frozen {
		return nil, fmt.Errorf("amend tree %s: %w: %w", t.ID, ErrFrozen, domain.ErrInvalidState)
	}
	out := *next
	out.ID = t.ID
	out.CreatedBy = t.CreatedBy
	out.CreatedAt = t.CreatedAt
	out.Frozen = false
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// Freeze returns a frozen copy of t.
func (t *DecisionTree) Freeze() *DecisionTree {
	out := *t
	out.Frozen = true
	return &out
}
