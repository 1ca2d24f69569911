// Package consensus turns a round's score matrix into a single selected
// branch under a consensus mode. Aggregate is pure: the same matrix and
// parameters always yield the same result, whatever the input order.
package consensus

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Strob0t/Boardroom/internal/domain"
	"github.com/Strob0t/Boardroom/internal/domain/decision"
	"github.com/Strob0t/Boardroom/internal/domain/policy"
	"github.com/Strob0t/Boardroom/internal/domain/score"
)

// Input is everything one aggregation needs.
type Input struct {
	Mode          policy.ConsensusMode
	Threshold     float64
	RoleWeights   map[string]float64
	VetoRoles     []string
	VetoFloor     float64
	DissentMargin float64
	// Branches are the candidate branch ids; unscored branches are left out
	// by the caller.
	Branches []string
	Scores   []score.DecisionScore
}

// FromPolicy fills the mode parameters from p, using threshold as the
// effective (possibly relaxed) threshold.
func FromPolicy(p *policy.Policy, threshold float64, branches []string, scores []score.DecisionScore) Input {
	return Input{
		Mode:          p.Mode,
		Threshold:     threshold,
		RoleWeights:   p.RoleWeights,
		VetoRoles:     p.VetoRoles,
		VetoFloor:     p.VetoFloor,
		DissentMargin: p.DissentMargin,
		Branches:      branches,
		Scores:        scores,
	}
}

// Contribution is one agent's composite on one branch.
type Contribution struct {
	ScoreID     string  `json:"score_id"`
	AgentID     string  `json:"agent_id"`
	Role        string  `json:"role"`
	BranchID    string  `json:"branch_id"`
	Composite   float64 `json:"composite"`
	RoleWeight  float64 `json:"role_weight"`
	Uncertainty float64 `json:"uncertainty"`
}

// Exclusion is a score left out of aggregation.
type Exclusion struct {
	ScoreID  string `json:"score_id"`
	AgentID  string `json:"agent_id"`
	BranchID string `json:"branch_id"`
	Reason   string `json:"reason"`
}

// Result is the outcome of Aggregate.
type Result struct {
	SelectedBranchID string                  `json:"selected_branch_id"`
	Aggregate        float64                 `json:"aggregate"`
	Confidence       float64                 `json:"confidence"`
	Branches         []decision.BranchResult `json:"branches"`
	Contributions    []Contribution          `json:"contributions"`
	Excluded         []Exclusion             `json:"excluded,omitempty"`
	Dissent          []decision.DissentNote  `json:"dissent"`
}

// ScoreIDs returns the ids of all contributing scores, sorted.
func (r *Result) ScoreIDs() []string {
	ids := make([]string, 0, len(r.Contributions))
	for _, c := range r.Contributions {
		ids = append(ids, c.ScoreID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Branch returns the result row for id.
func (r *Result) Branch(id string) (decision.BranchResult, bool) {
	for _, b := range r.Branches {
		if b.BranchID == id {
			return b, true
		}
	}
	return decision.BranchResult{}, false
}

// Aggregate applies the consensus mode. When no branch is eligible it returns
// the populated Result together with domain.ErrNoConsensus (unanimity) or
// domain.ErrNoEligibleBranch (other modes), so callers can report why.
func Aggregate(in Input) (*Result, error) {
	res := &Result{}
	contribs, excluded := normalize(in)
	res.Contributions = contribs
	res.Excluded = excluded
	res.Confidence = confidence(contribs)

	byBranch := make(map[string][]Contribution, len(in.Branches))
	for _, c := range contribs {
		byBranch[c.BranchID] = append(byBranch[c.BranchID], c)
	}

	branches := slices.Clone(in.Branches)
	slices.Sort(branches)
	branches = slices.Compact(branches)

	var eligible []decision.BranchResult
	for _, id := range branches {
		br := evaluateBranch(in, id, byBranch[id])
		res.Branches = append(res.Branches, br)
		if br.Eligible {
			eligible = append(eligible, br)
		}
	}

	if len(eligible) == 0 {
		res.Dissent = exclusionNotes(excluded)
		if in.Mode == policy.ModeUnanimity {
			return res, fmt.Errorf("aggregate %s at threshold %.3f: %w", in.Mode, in.Threshold, domain.ErrNoConsensus)
		}
		return res, fmt.Errorf("aggregate %s at threshold %.3f: %w", in.Mode, in.Threshold, domain.ErrNoEligibleBranch)
	}

	slices.SortFunc(eligible, rank)
	winner := eligible[0]
	res.SelectedBranchID = winner.BranchID
	res.Aggregate = winner.Aggregate
	res.Dissent = dissent(in, winner, byBranch[winner.BranchID], excluded)
	return res, nil
}

// rank orders eligible branches: highest aggregate, then highest minimum
// composite, then lexical branch id.
func rank(a, b decision.BranchResult) int {
	if c := cmp.Compare(b.Aggregate, a.Aggregate); c != 0 {
		return c
	}
	if c := cmp.Compare(b.MinComposite, a.MinComposite); c != 0 {
		return c
	}
	return cmp.Compare(a.BranchID, b.BranchID)
}

// normalize computes composites for every in-scope score, sorted by branch
// then agent. Late scores, unknown branches, duplicate slots, zero weight
// sums and unweighted roles are excluded.
func normalize(in Input) ([]Contribution, []Exclusion) {
	inScope := make(map[string]bool, len(in.Branches))
	for _, b := range in.Branches {
		inScope[b] = true
	}

	scores := slices.Clone(in.Scores)
	slices.SortFunc(scores, func(a, b score.DecisionScore) int {
		return cmp.Or(
			cmp.Compare(a.BranchID, b.BranchID),
			cmp.Compare(a.AgentID, b.AgentID),
			cmp.Compare(a.ID, b.ID),
		)
	})

	var contribs []Contribution
	var excluded []Exclusion
	seen := make(map[string]bool, len(scores))
	for i := range scores {
		s := &scores[i]
		if !inScope[s.BranchID] {
			continue
		}
		ex := Exclusion{ScoreID: s.ID, AgentID: s.AgentID, BranchID: s.BranchID}
		slot := s.BranchID + "\x00" + s.AgentID
		switch {
		case s.Late:
			ex.Reason = "late"
		case seen[slot]:
			ex.Reason = "duplicate"
		}
		if ex.Reason != "" {
			excluded = append(excluded, ex)
			continue
		}
		seen[slot] = true

		comp, err := s.Composite()
		if err != nil {
			if errors.Is(err, domain.ErrInvalidWeights) {
				ex.Reason = "invalid_weights"
			} else {
				ex.Reason = err.Error()
			}
			excluded = append(excluded, ex)
			continue
		}

		rw := 1.0
		if in.Mode == policy.ModeWeightedMajority && len(in.RoleWeights) > 0 {
			w, ok := in.RoleWeights[s.Role]
			if !ok {
				ex.Reason = "unweighted_role"
				excluded = append(excluded, ex)
				continue
			}
			rw = w
		}

		contribs = append(contribs, Contribution{
			ScoreID:     s.ID,
			AgentID:     s.AgentID,
			Role:        s.Role,
			BranchID:    s.BranchID,
			Composite:   comp,
			RoleWeight:  rw,
			Uncertainty: s.Uncertainty,
		})
	}
	return contribs, excluded
}

func evaluateBranch(in Input, id string, contribs []Contribution) decision.BranchResult {
	br := decision.BranchResult{BranchID: id, Contributors: len(contribs)}
	if len(contribs) == 0 {
		br.Reason = "no contributing scores"
		return br
	}

	br.MinComposite = contribs[0].Composite
	var sum, weighted, weights float64
	for _, c := range contribs {
		br.MinComposite = min(br.MinComposite, c.Composite)
		sum += c.Composite
		weighted += c.RoleWeight * c.Composite
		weights += c.RoleWeight
	}
	mean := sum / float64(len(contribs))

	switch in.Mode {
	case policy.ModeUnanimity:
		br.Aggregate = mean
		br.Eligible = br.MinComposite >= in.Threshold
		if !br.Eligible {
			br.Reason = fmt.Sprintf("minimum composite %.3f below threshold %.3f", br.MinComposite, in.Threshold)
		}

	case policy.ModeWeightedMajority:
		if weights == 0 {
			br.Reason = "contributing roles carry no weight"
			return br
		}
		// Without role weights every contributor weighs the same and the
		// aggregate is the mean. With them it is the plain weighted sum, so a
		// weighted role with no contribution adds nothing.
		br.Aggregate = mean
		if len(in.RoleWeights) > 0 {
			br.Aggregate = weighted
			br.MissingRoles = missingRoles(in.RoleWeights, contribs)
		}
		br.Eligible = br.Aggregate >= in.Threshold
		if !br.Eligible {
			br.Reason = fmt.Sprintf("weighted aggregate %.3f below threshold %.3f", br.Aggregate, in.Threshold)
			if len(br.MissingRoles) > 0 {
				br.Reason += fmt.Sprintf(" (no contribution from %s)", strings.Join(br.MissingRoles, ", "))
			}
		}

	case policy.ModeVeto:
		br.Aggregate = mean
		for _, c := range contribs {
			if slices.Contains(in.VetoRoles, c.Role) && c.Composite < in.VetoFloor {
				br.VetoedBy = append(br.VetoedBy, c.AgentID)
			}
		}
		switch {
		case len(br.VetoedBy) > 0:
			br.Reason = fmt.Sprintf("vetoed below floor %.3f", in.VetoFloor)
		case mean < in.Threshold:
			br.Reason = fmt.Sprintf("mean composite %.3f below threshold %.3f", mean, in.Threshold)
		default:
			br.Eligible = true
		}

	default:
		br.Reason = fmt.Sprintf("unknown consensus mode %q", in.Mode)
	}
	return br
}

// missingRoles returns the weighted roles with no contribution, sorted.
func missingRoles(weights map[string]float64, contribs []Contribution) []string {
	var out []string
	for role, w := range weights {
		if w <= 0 {
			continue
		}
		if !slices.ContainsFunc(contribs, func(c Contribution) bool { return c.Role == role }) {
			out = append(out, role)
		}
	}
	slices.Sort(out)
	return out
}

// dissent lists contributors on the selected branch who scored below the
// threshold or more than the dissent margin below the aggregate, weighted
// roles that did not contribute, and excluded contributions. Ordered by
// agent id.
func dissent(in Input, winner decision.BranchResult, contribs []Contribution, excluded []Exclusion) []decision.DissentNote {
	var notes []decision.DissentNote
	for _, c := range contribs {
		switch {
		case c.Composite < in.Threshold:
			notes = append(notes, decision.DissentNote{
				AgentID: c.AgentID,
				Note:    fmt.Sprintf("scored %s %.3f, below threshold %.3f", winner.BranchID, c.Composite, in.Threshold),
			})
		case in.DissentMargin > 0 && c.Composite < winner.Aggregate-in.DissentMargin:
			notes = append(notes, decision.DissentNote{
				AgentID: c.AgentID,
				Note:    fmt.Sprintf("scored %s %.3f, %.3f below aggregate %.3f", winner.BranchID, c.Composite, winner.Aggregate-c.Composite, winner.Aggregate),
			})
		}
	}
	for _, role := range winner.MissingRoles {
		notes = append(notes, decision.DissentNote{
			AgentID: "role:" + role,
			Note:    fmt.Sprintf("no %s contribution on %s; counted as 0 in the weighted sum", role, winner.BranchID),
		})
	}
	notes = append(notes, exclusionNotes(excluded)...)
	slices.SortStableFunc(notes, func(a, b decision.DissentNote) int {
		return cmp.Or(cmp.Compare(a.AgentID, b.AgentID), cmp.Compare(a.Note, b.Note))
	})
	return notes
}

func exclusionNotes(excluded []Exclusion) []decision.DissentNote {
	var notes []decision.DissentNote
	for _, ex := range excluded {
		if ex.Reason == "late" {
			continue
		}
		notes = append(notes, decision.DissentNote{
			AgentID: ex.AgentID,
			Note:    fmt.Sprintf("contribution on %s excluded: %s", ex.BranchID, ex.Reason),
		})
	}
	return notes
}

func confidence(contribs []Contribution) float64 {
	if len(contribs) == 0 {
		return 0
	}
	var sum float64
	for _, c := range contribs {
		sum += c.Uncertainty
	}
	return 1 - sum/float64(len(contribs))
}
