package consensus

import (
	"errors"
	"math"
	"testing"

	"github.com/Strob0t/Boardroom/internal/domain"
	"github.com/Strob0t/Boardroom/internal/domain/policy"
	"github.com/Strob0t/Boardroom/internal/domain/score"
)

// sc builds a single-dimension score so the composite equals v.
func sc(branch, agent, role string, v float64) score.DecisionScore {
	return score.DecisionScore{
		ID:             score.ID("t1", 1, branch, agent),
		DecisionTreeID: "t1",
		BranchID:       branch,
		AgentID:        agent,
		Role:           role,
		Round:          1,
		Scores:         map[string]float64{"fit": v},
		Uncertainty:    0.2,
	}
}

func TestUnanimityBelowThresholdHasNoConsensus(t *testing.T) {
	in := Input{
		Mode:      policy.ModeUnanimity,
		Threshold: 0.7,
		Branches:  []string{"x"},
		Scores: []score.DecisionScore{
			sc("x", "a", "CEO", 0.8),
			sc("x", "b", "CFO", 0.6),
			sc("x", "c", "CTO", 0.9),
		},
	}
	res, err := Aggregate(in)
	if !errors.Is(err, domain.ErrNoConsensus) {
		t.Fatalf("expected ErrNoConsensus, got %v", err)
	}
	br, ok := res.Branch("x")
	if !ok || br.Eligible {
		t.Fatalf("branch x should be reported ineligible, got %+v", br)
	}
	if res.SelectedBranchID != "" {
		t.Errorf("no branch may be selected, got %q", res.SelectedBranchID)
	}
}

func TestUnanimityPicksEligibleBranch(t *testing.T) {
	in := Input{
		Mode:      policy.ModeUnanimity,
		Threshold: 0.7,
		Branches:  []string{"x", "y"},
		Scores: []score.DecisionScore{
			sc("x", "a", "CEO", 0.8), sc("x", "b", "CFO", 0.6),
			sc("y", "a", "CEO", 0.75), sc("y", "b", "CFO", 0.72),
		},
	}
	res, err := Aggregate(in)
	if err != nil {
		t.Fatal(err)
	}
	if res.SelectedBranchID != "y" {
		t.Errorf("selected %q, want y", res.SelectedBranchID)
	}
}

func TestWeightedMajority(t *testing.T) {
	in := Input{
		Mode:        policy.ModeWeightedMajority,
		Threshold:   0.75,
		RoleWeights: map[string]float64{"CEO": 0.4, "CFO": 0.3, "CTO": 0.3},
		Branches:    []string{"b1"},
		Scores: []score.DecisionScore{
			sc("b1", "ceo", "CEO", 0.9),
			sc("b1", "cfo", "CFO", 0.6),
			sc("b1", "cto", "CTO", 0.8),
		},
	}
	res, err := Aggregate(in)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.SelectedBranchID != "b1" {
		t.Fatalf("selected %q, want b1", res.SelectedBranchID)
	}
	if math.Abs(res.Aggregate-0.78) > 1e-9 {
		t.Errorf("aggregate = %v, want 0.78", res.Aggregate)
	}
	if len(res.Dissent) != 1 || res.Dissent[0].AgentID != "cfo" {
		t.Errorf("expected CFO dissent below threshold, got %+v", res.Dissent)
	}
}

func TestWeightedMajorityMissingRole(t *testing.T) {
	in := Input{
		Mode:        policy.ModeWeightedMajority,
		Threshold:   0.75,
		RoleWeights: map[string]float64{"CEO": 0.4, "CFO": 0.3, "CTO": 0.3},
		Branches:    []string{"b1", "b2"},
		Scores: []score.DecisionScore{
			sc("b1", "ceo", "CEO", 0.9), sc("b1", "cfo", "CFO", 0.6), sc("b1", "cto", "CTO", 0.8),
			sc("b2", "ceo", "CEO", 0.9), sc("b2", "cfo", "CFO", 0.6),
		},
	}

	tests := []struct {
		name      string
		threshold float64
		want      string
		wantErr   error
	}{
		// b2 sums to 0.4*0.9 + 0.3*0.6 = 0.54; the absent CTO adds nothing.
		{"absent role keeps branch below threshold", 0.75, "b1", nil},
		{"nothing clears a higher bar", 0.8, "", domain.ErrNoEligibleBranch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := in
			in.Threshold = tt.threshold
			res, err := Aggregate(in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if res.SelectedBranchID != tt.want {
				t.Errorf("selected %q, want %q", res.SelectedBranchID, tt.want)
			}
			b2, ok := res.Branch("b2")
			if !ok {
				t.Fatal("b2 missing from results")
			}
			if math.Abs(b2.Aggregate-0.54) > 1e-9 || b2.Eligible || b2.Contributors != 2 {
				t.Errorf("b2 = %+v, want ineligible 0.54 from 2 contributors", b2)
			}
			if len(b2.MissingRoles) != 1 || b2.MissingRoles[0] != "CTO" {
				t.Errorf("b2 missing roles = %v, want [CTO]", b2.MissingRoles)
			}
		})
	}
}

func TestWeightedMajorityMissingRoleIsDissent(t *testing.T) {
	in := Input{
		Mode:        policy.ModeWeightedMajority,
		Threshold:   0.5,
		RoleWeights: map[string]float64{"CEO": 0.4, "CFO": 0.3, "CTO": 0.3},
		Branches:    []string{"b"},
		Scores:      []score.DecisionScore{sc("b", "ceo", "CEO", 0.9), sc("b", "cfo", "CFO", 0.9)},
	}
	res, err := Aggregate(in)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(res.Aggregate-0.63) > 1e-9 {
		t.Errorf("aggregate = %v, want 0.63", res.Aggregate)
	}
	if len(res.Dissent) != 1 || res.Dissent[0].AgentID != "role:CTO" {
		t.Errorf("absent CTO should be noted as dissent, got %+v", res.Dissent)
	}
}

func TestWeightedMajorityTieBreak(t *testing.T) {
	// Both branches aggregate to 0.75; "b" has the higher minimum composite.
	in := Input{
		Mode:        policy.ModeWeightedMajority,
		Threshold:   0.5,
		RoleWeights: map[string]float64{"CEO": 0.5, "CFO": 0.5},
		Branches:    []string{"a", "b"},
		Scores: []score.DecisionScore{
			sc("a", "ceo", "CEO", 1.0), sc("a", "cfo", "CFO", 0.5),
			sc("b", "ceo", "CEO", 0.75), sc("b", "cfo", "CFO", 0.75),
		},
	}
	res, err := Aggregate(in)
	if err != nil {
		t.Fatal(err)
	}
	if res.SelectedBranchID != "b" {
		t.Errorf("tie should go to highest minimum composite, got %q", res.SelectedBranchID)
	}
}

func TestTieBreakFallsBackToBranchID(t *testing.T) {
	in := Input{
		Mode:      policy.ModeUnanimity,
		Threshold: 0.5,
		Branches:  []string{"zeta", "alpha"},
		Scores: []score.DecisionScore{
			sc("zeta", "a", "CEO", 0.7),
			sc("alpha", "a", "CEO", 0.7),
		},
	}
	res, err := Aggregate(in)
	if err != nil {
		t.Fatal(err)
	}
	if res.SelectedBranchID != "alpha" {
		t.Errorf("selected %q, want alpha", res.SelectedBranchID)
	}
}

func TestUnweightedRoleExcluded(t *testing.T) {
	in := Input{
		Mode:        policy.ModeWeightedMajority,
		Threshold:   0.5,
		RoleWeights: map[string]float64{"CEO": 1},
		Branches:    []string{"b"},
		Scores:      []score.DecisionScore{sc("b", "ceo", "CEO", 0.9), sc("b", "intern", "INTERN", 0.0)},
	}
	res, err := Aggregate(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Excluded) != 1 || res.Excluded[0].Reason != "unweighted_role" {
		t.Errorf("expected intern excluded as unweighted_role, got %+v", res.Excluded)
	}
	if math.Abs(res.Aggregate-0.9) > 1e-9 {
		t.Errorf("aggregate = %v, want 0.9", res.Aggregate)
	}
}

func TestVetoExcludesBranch(t *testing.T) {
	in := Input{
		Mode:      policy.ModeVeto,
		Threshold: 0.5,
		VetoRoles: []string{"CFO"},
		VetoFloor: 0.4,
		Branches:  []string{"bold", "safe"},
		Scores: []score.DecisionScore{
			sc("bold", "ceo", "CEO", 1.0), sc("bold", "cto", "CTO", 1.0), sc("bold", "cfo", "CFO", 0.3),
			sc("safe", "ceo", "CEO", 0.6), sc("safe", "cto", "CTO", 0.6), sc("safe", "cfo", "CFO", 0.7),
		},
	}
	res, err := Aggregate(in)
	if err != nil {
		t.Fatal(err)
	}
	if res.SelectedBranchID != "safe" {
		t.Errorf("selected %q, want safe", res.SelectedBranchID)
	}
	bold, _ := res.Branch("bold")
	if bold.Eligible || len(bold.VetoedBy) != 1 || bold.VetoedBy[0] != "cfo" {
		t.Errorf("bold should be vetoed by cfo, got %+v", bold)
	}
}

func TestVetoAllBranchesNoEligible(t *testing.T) {
	in := Input{
		Mode:      policy.ModeVeto,
		Threshold: 0.5,
		VetoRoles: []string{"CFO"},
		VetoFloor: 0.4,
		Branches:  []string{"a"},
		Scores:    []score.DecisionScore{sc("a", "cfo", "CFO", 0.1), sc("a", "ceo", "CEO", 1)},
	}
	_, err := Aggregate(in)
	if !errors.Is(err, domain.ErrNoEligibleBranch) {
		t.Fatalf("expected ErrNoEligibleBranch, got %v", err)
	}
}

func TestInvalidWeightsExcludedNotFatal(t *testing.T) {
	bad := sc("b", "cfo", "CFO", 0.1)
	bad.Weights = map[string]float64{"fit": 0}
	in := Input{
		Mode:      policy.ModeUnanimity,
		Threshold: 0.6,
		Branches:  []string{"b"},
		Scores:    []score.DecisionScore{sc("b", "ceo", "CEO", 0.8), bad},
	}
	res, err := Aggregate(in)
	if err != nil {
		t.Fatalf("invalid weights must not be fatal: %v", err)
	}
	if len(res.Excluded) != 1 || res.Excluded[0].Reason != "invalid_weights" {
		t.Fatalf("expected one invalid_weights exclusion, got %+v", res.Excluded)
	}
	found := false
	for _, n := range res.Dissent {
		if n.AgentID == "cfo" {
			found = true
		}
	}
	if !found {
		t.Errorf("excluded contribution must be logged as dissent, got %+v", res.Dissent)
	}
	if ids := res.ScoreIDs(); len(ids) != 1 {
		t.Errorf("only contributing scores are referenced, got %v", ids)
	}
}

func TestLateScoresExcluded(t *testing.T) {
	late := sc("b", "cto", "CTO", 0.0)
	late.Late = true
	in := Input{
		Mode:      policy.ModeUnanimity,
		Threshold: 0.6,
		Branches:  []string{"b"},
		Scores:    []score.DecisionScore{sc("b", "ceo", "CEO", 0.8), late},
	}
	res, err := Aggregate(in)
	if err != nil {
		t.Fatalf("late score must not block consensus: %v", err)
	}
	if len(res.Excluded) != 1 || res.Excluded[0].Reason != "late" {
		t.Errorf("expected late exclusion, got %+v", res.Excluded)
	}
}

func TestBranchOutsideScopeIgnored(t *testing.T) {
	in := Input{
		Mode:      policy.ModeUnanimity,
		Threshold: 0.5,
		Branches:  []string{"a"},
		Scores:    []score.DecisionScore{sc("a", "x", "CEO", 0.6), sc("unscored", "x", "CEO", 0.99)},
	}
	res, err := Aggregate(in)
	if err != nil {
		t.Fatal(err)
	}
	if res.SelectedBranchID != "a" || len(res.Branches) != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestDissentMargin(t *testing.T) {
	in := Input{
		Mode:          policy.ModeUnanimity,
		Threshold:     0.5,
		DissentMargin: 0.1,
		Branches:      []string{"a"},
		Scores: []score.DecisionScore{
			sc("a", "x", "CEO", 0.95),
			sc("a", "y", "CFO", 0.95),
			sc("a", "z", "CTO", 0.6),
		},
	}
	res, err := Aggregate(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Dissent) != 1 || res.Dissent[0].AgentID != "z" {
		t.Errorf("expected z to dissent by margin, got %+v", res.Dissent)
	}
}

func TestConfidence(t *testing.T) {
	a := sc("a", "x", "CEO", 0.9)
	a.Uncertainty = 0.4
	b := sc("a", "y", "CFO", 0.9)
	b.Uncertainty = 0.6
	res, err := Aggregate(Input{Mode: policy.ModeUnanimity, Threshold: 0.5, Branches: []string{"a"}, Scores: []score.DecisionScore{a, b}})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(res.Confidence-0.5) > 1e-9 {
		t.Errorf("confidence = %v, want 0.5", res.Confidence)
	}
}
