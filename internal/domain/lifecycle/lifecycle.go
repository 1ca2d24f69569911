// Package lifecycle defines the per-tree state machine the orchestrator
// drives from submission to archival.
package lifecycle

import (
	"fmt"
	"slices"
	"time"

	"github.com/Strob0t/Boardroom/internal/domain"
)

// State is a lifecycle state of one decision tree.
type State string

const (
	StateOpen               State = "open"
	StateScoring            State = "scoring"
	StateAggregating        State = "aggregating"
	StateDraft              State = "draft"
	StatePendingHumanReview State = "pending_human_review"
	StateApproved           State = "approved"
	StateExecuted           State = "executed"
	StateArchived           State = "archived"
	StateStalled            State = "stalled"
	StateWithdrawn          State = "withdrawn"
)

var transitions = map[State][]State{
	StateOpen:               {StateScoring, StateWithdrawn},
	StateScoring:            {StateAggregating, StateOpen, StateWithdrawn},
	StateAggregating:        {StateDraft, StateOpen, StateStalled},
	StateDraft:              {StatePendingHumanReview, StateApproved},
	StatePendingHumanReview: {StateApproved, StateArchived},
	StateApproved:           {StateExecuted},
	StateExecuted:           {StateArchived},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	switch s {
	case StateOpen, StateScoring, StateAggregating, StateDraft, StatePendingHumanReview,
		StateApproved, StateExecuted, StateArchived, StateStalled, StateWithdrawn:
		return true
	}
	return false
}

// Terminal reports whether no further transitions exist from s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Transition is one entry of a record's history.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Round  int       `json:"round"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Record is the lifecycle state of one decision tree, stored as a versioned
// artifact so every decision is independently addressable.
type Record struct {
	TreeID             string       `json:"tree_id"`
	State              State        `json:"state"`
	Round              int          `json:"round"`
	Retries            int          `json:"retries"`
	PolicyName         string       `json:"policy_name"`
	PolicyVersion      int          `json:"policy_version"`
	EffectiveThreshold float64      `json:"effective_threshold"`
	DecisionID         string       `json:"decision_id,omitempty"`
	StallReason        string       `json:"stall_reason,omitempty"`
	History            []Transition `json:"history"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// ArtifactID returns the artifact id a tree's lifecycle record is stored under.
func ArtifactID(treeID string) string { return "lifecycle:" + treeID }

// New returns the initial record for a freshly submitted tree.
func New(treeID, policyName string, policyVersion int, threshold float64, now time.Time) *Record {
	return &Record{
		TreeID:             treeID,
		State:              StateOpen,
		PolicyName:         policyName,
		PolicyVersion:      policyVersion,
		EffectiveThreshold: threshold,
		History:            []Transition{{To: StateOpen, At: now.UTC()}},
		UpdatedAt:          now.UTC(),
	}
}

// Validate checks the record is addressable and in a known state.
func (r *Record) Validate() error {
	if r.TreeID == "" {
		return fmt.Errorf("lifecycle: tree_id is required: %w", domain.ErrValidation)
	}
	if !r.State.IsValid() {
		return fmt.Errorf("lifecycle %s: unknown state %q: %w", r.TreeID, r.State, domain.ErrValidation)
	}
	return nil
}

// Require returns ErrInvalidState unless the record is in one of states.
func (r *Record) Require(op string, states ...State) error {
	if slices.Contains(states, r.State) {
		return nil
	}
	return fmt.Errorf("%s on tree %s in state %s: %w", op, r.TreeID, r.State, domain.ErrInvalidState)
}

// To returns a copy of r moved to state to, with the transition appended
// to its history.
func (r *Record) To(to State, reason string, now time.Time) (*Record, error) {
	if !CanTransition(r.State, to) {
		return nil, fmt.Errorf("tree %s: %s -> %s: %w", r.TreeID, r.State, to, domain.ErrInvalidState)
	}
	next := *r
	next.History = append(slices.Clone(r.History), Transition{
		From:   r.State,
		To:     to,
		Round:  r.Round,
		Reason: reason,
		At:     now.UTC(),
	})
	next.State = to
	next.UpdatedAt = now.UTC()
	if to == StateStalled || to == StateWithdrawn {
		next.StallReason = reason
	}
	return &next, nil
}
