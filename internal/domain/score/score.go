// Package score defines per-agent branch evaluations and the composite
// score derived from them.
package score

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/Strob0t/Boardroom/internal/domain"
)

// DecisionScore is one agent's evaluation of one branch in one round.
type DecisionScore struct {
	ID             string             `json:"id"`
	DecisionTreeID string             `json:"decision_tree_id"`
	BranchID       string             `json:"branch_id"`
	AgentID        string             `json:"agent_id"`
	Role           string             `json:"role"`
	Round          int                `json:"round"`
	Scores         map[string]float64 `json:"scores"`
	Weights        map[string]float64 `json:"weights,omitempty"`
	Rationale      string             `json:"rationale,omitempty"`
	Uncertainty    float64            `json:"uncertainty"`
	Late           bool               `json:"late,omitempty"`
	SubmittedAt    time.Time          `json:"submitted_at"`
}

// ID returns the deterministic artifact id for a (tree, round, branch, agent) slot.
func ID(treeID string, round int, branchID, agentID string) string {
	return "score:" + treeID + ":r" + strconv.Itoa(round) + ":" + branchID + ":" + agentID
}

// Validate checks identity fields and value ranges.
func (s *DecisionScore) Validate() error {
	switch {
	case s.DecisionTreeID == "" || s.BranchID == "" || s.AgentID == "":
		return fmt.Errorf("score: tree, branch and agent ids are required: %w", domain.ErrValidation)
	case s.Round < 1:
		return fmt.Errorf("score %s/%s: round must be >= 1: %w", s.BranchID, s.AgentID, domain.ErrValidation)
	case len(s.Scores) == 0:
		return fmt.Errorf("score %s/%s: at least one dimension is required: %w", s.BranchID, s.AgentID, domain.ErrValidation)
	case !unit(s.Uncertainty):
		return fmt.Errorf("score %s/%s: uncertainty %v outside [0,1]: %w", s.BranchID, s.AgentID, s.Uncertainty, domain.ErrValidation)
	}
	if want := ID(s.DecisionTreeID, s.Round, s.BranchID, s.AgentID); s.ID != want {
		return fmt.Errorf("score id %q, want %q: %w", s.ID, want, domain.ErrValidation)
	}
	for dim, v := range s.Scores {
		if !unit(v) {
			return fmt.Errorf("score %s/%s: dimension %s = %v outside [0,1]: %w", s.BranchID, s.AgentID, dim, v, domain.ErrValidation)
		}
	}
	for dim, w := range s.Weights {
		if _, ok := s.Scores[dim]; !ok {
			return fmt.Errorf("score %s/%s: weight for unscored dimension %s: %w", s.BranchID, s.AgentID, dim, domain.ErrValidation)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("score %s/%s: weight %s = %v must be >= 0: %w", s.BranchID, s.AgentID, dim, w, domain.ErrValidation)
		}
	}
	return nil
}

func unit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// Composite returns Σ(w·s)/Σw over the scored dimensions. Without weights
// every dimension weighs 1. A zero weight sum yields domain.ErrInvalidWeights.
// Dimensions are summed in sorted order so the result is reproducible.
func (s *DecisionScore) Composite() (float64, error) {
	dims := make([]string, 0, len(s.Scores))
	for d := range s.Scores {
		dims = append(dims, d)
	}
	slices.Sort(dims)

	var num, den float64
	for _, d := range dims {
		w := 1.0
		if len(s.Weights) > 0 {
			w = s.Weights[d]
		}
		num += w * s.Scores[d]
		den += w
	}
	if den == 0 {
		return 0, fmt.Errorf("agent %s on branch %s: %w", s.AgentID, s.BranchID, domain.ErrInvalidWeights)
	}
	return num / den, nil
}

// Confidence is 1 minus the mean uncertainty of the scores; 0 for none.
func Confidence(scores []DecisionScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for i := range scores {
		sum += scores[i].Uncertainty
	}
	return 1 - sum/float64(len(scores))
}

// MissingReason explains why a score slot was not filled.
type MissingReason string

const (
	ReasonTimeout     MissingReason = "timeout"
	ReasonError       MissingReason = "error"
	ReasonInvalid     MissingReason = "invalid"
	ReasonCancelled   MissingReason = "cancelled"
	ReasonCircuitOpen MissingReason = "circuit_open"
	ReasonConflict    MissingReason = "conflict"
)

// Missing records an (agent, branch) slot with no usable score. It is a value,
// not an error: missing scores are tolerated up to the policy ceiling.
type Missing struct {
	AgentID  string        `json:"agent_id"`
	BranchID string        `json:"branch_id"`
	Round    int           `json:"round"`
	Reason   MissingReason `json:"reason"`
	Detail   string        `json:"detail,omitempty"`
}

// Matrix is the output of one scoring round.
type Matrix struct {
	TreeID   string          `json:"tree_id"`
	Round    int             `json:"round"`
	Scores   []DecisionScore `json:"scores"`
	Missing  []Missing       `json:"missing,omitempty"`
	Unscored []string        `json:"unscored,omitempty"`
	Late     []DecisionScore `json:"late,omitempty"`
}

// ForBranches returns the scores whose branch is in ids.
func (m *Matrix) ForBranches(ids []string) []DecisionScore {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	var out []DecisionScore
	for _, s := range m.Scores {
		if keep[s.BranchID] {
			out = append(out, s)
		}
	}
	return out
}

// ScoredBranches returns the branch ids that are not unscored, sorted.
func (m *Matrix) ScoredBranches(all []string) []string {
	out := make([]string, 0, len(all))
	for _, id := range all {
		if !slices.Contains(m.Unscored, id) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// MissingFraction returns missing/expected for each branch.
func MissingFraction(branches []string, agents int, missing []Missing) map[string]float64 {
	counts := make(map[string]int, len(branches))
	for _, m := range missing {
		counts[m.BranchID]++
	}
	out := make(map[string]float64, len(branches))
	for _, b := range branches {
		if agents == 0 {
			out[b] = 1
			continue
		}
		out[b] = float64(counts[b]) / float64(agents)
	}
	return out
}
