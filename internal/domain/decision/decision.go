// Package decision defines the governance decision produced by aggregating
// a round of scores, and the review and execution records attached to it.
package decision

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/Strob0t/Boardroom/internal/domain"
	"github.com/Strob0t/Boardroom/internal/domain/policy"
)

// Status is the lifecycle status of a GovernanceDecision.
type Status string

const (
	StatusDraft              Status = "draft"
	StatusPendingHumanReview Status = "pending_human_review"
	StatusApproved           Status = "approved"
	StatusExecuted           Status = "executed"
	StatusArchived           Status = "archived"
)

var transitions = map[Status][]Status{
	StatusDraft:              {StatusPendingHumanReview, StatusApproved},
	StatusPendingHumanReview: {StatusApproved, StatusArchived},
	StatusApproved:           {StatusExecuted},
	StatusExecuted:           {StatusArchived},
}

// CanTransition reports whether a decision may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Sealed reports whether decisions in status s are immutable apart from
// their terminal status moves.
func (s Status) Sealed() bool {
	return s == StatusApproved || s == StatusExecuted || s == StatusArchived
}

// DissentNote records an agent's disagreement or an explicit policy choice.
type DissentNote struct {
	AgentID string `json:"agent_id"`
	Note    string `json:"note"`
}

// BranchResult summarizes aggregation for one branch.
type BranchResult struct {
	BranchID     string   `json:"branch_id"`
	Aggregate    float64  `json:"aggregate"`
	MinComposite float64  `json:"min_composite"`
	Contributors int      `json:"contributors"`
	Eligible     bool     `json:"eligible"`
	VetoedBy     []string `json:"vetoed_by,omitempty"`
	MissingRoles []string `json:"missing_roles,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

// GovernanceDecision is the aggregated outcome for one decision tree.
type GovernanceDecision struct {
	ID               string               `json:"id"`
	DecisionTreeID   string               `json:"decision_tree_id"`
	SelectedBranchID string               `json:"selected_branch_id"`
	ScoreMatrix      []string             `json:"score_matrix"`
	ConsensusMode    policy.ConsensusMode `json:"consensus_mode"`
	PolicyName       string               `json:"policy_name"`
	PolicyVersion    int                  `json:"policy_version"`
	Threshold        float64              `json:"threshold"`
	Round            int                  `json:"round"`
	AggregateScore   float64              `json:"aggregate_score"`
	Confidence       float64              `json:"confidence"`
	BranchResults    []BranchResult       `json:"branch_results"`
	DissentNotes     []DissentNote        `json:"dissent_notes"`
	GuardrailReasons []string             `json:"guardrail_reasons,omitempty"`
	ExecutionPlan    json.RawMessage      `json:"execution_plan,omitempty"`
	Status           Status               `json:"status"`
	CreatedAt        time.Time            `json:"created_at"`
}

// Validate checks required fields. Branch membership in the tree is checked
// on write by schema.CheckReferences.
func (d *GovernanceDecision) Validate() error {
	switch {
	case d.ID == "" || d.DecisionTreeID == "":
		return fmt.Errorf("decision: id and decision_tree_id are required: %w", domain.ErrValidation)
	case d.SelectedBranchID == "":
		return fmt.Errorf("decision %s: selected_branch_id is required: %w", d.ID, domain.ErrValidation)
	case len(d.ScoreMatrix) == 0:
		return fmt.Errorf("decision %s: score_matrix is empty: %w", d.ID, domain.ErrValidation)
	case d.Status == "":
		return fmt.Errorf("decision %s: status is required: %w", d.ID, domain.ErrValidation)
	}
	if _, ok := transitions[d.Status]; !ok && d.Status != StatusArchived {
		return fmt.Errorf("decision %s: unknown status %q: %w", d.ID, d.Status, domain.ErrValidation)
	}
	return nil
}

// Advance returns a copy of d moved to status to.
func (d *GovernanceDecision) Advance(to Status) (*GovernanceDecision, error) {
	if !CanTransition(d.Status, to) {
		return nil, fmt.Errorf("decision %s: %s -> %s: %w", d.ID, d.Status, to, domain.ErrInvalidState)
	}
	next := *d
	next.Status = to
	return &next, nil
}

// Verdict is a human reviewer's answer.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
)

// Review is the persisted record of a human review signal.
type Review struct {
	ID         string    `json:"id"`
	DecisionID string    `json:"decision_id"`
	Verdict    Verdict   `json:"verdict"`
	ReviewerID string    `json:"reviewer_id"`
	Note       string    `json:"note,omitempty"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

// ReviewID returns the id a decision's review is stored under. One review
// per decision keeps the signal idempotent.
func ReviewID(decisionID string) string { return "review:" + decisionID }

// Validate checks a review signal.
func (r *Review) Validate() error {
	if r.DecisionID == "" || r.ReviewerID == "" {
		return fmt.Errorf("review: decision_id and reviewer_id are required: %w", domain.ErrValidation)
	}
	if r.Verdict != VerdictApprove && r.Verdict != VerdictReject {
		return fmt.Errorf("review: verdict must be approve or reject, got %q: %w", r.Verdict, domain.ErrValidation)
	}
	return nil
}

// Execution is the persisted confirmation that a decision was carried out.
type Execution struct {
	ID              string             `json:"id"`
	DecisionID      string             `json:"decision_id"`
	ExecutedBy      string             `json:"executed_by"`
	Reference       string             `json:"reference,omitempty"`
	Details         json.RawMessage    `json:"details,omitempty"`
	ExpectedMetrics map[string]float64 `json:"expected_metrics,omitempty"`
	ExecutedAt      time.Time          `json:"executed_at"`
}

// ExecutionID returns the id a decision's execution record is stored under.
func ExecutionID(decisionID string) string { return "execution:" + decisionID }

// Validate checks an execution record.
func (e *Execution) Validate() error {
	if e.DecisionID == "" || e.ExecutedBy == "" {
		return fmt.Errorf("execution: decision_id and executed_by are required: %w", domain.ErrValidation)
	}
	return nil
}
