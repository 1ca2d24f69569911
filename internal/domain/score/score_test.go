package score

import (
	"errors"
	"math"
	"testing"

	"github.com/Strob0t/Boardroom/internal/domain"
)

func newScore(scores, weights map[string]float64) DecisionScore {
	return DecisionScore{
		ID:             ID("t1", 1, "b1", "ceo"),
		DecisionTreeID: "t1",
		BranchID:       "b1",
		AgentID:        "ceo",
		Role:           "CEO",
		Round:          1,
		Scores:         scores,
		Weights:        weights,
		Uncertainty:    0.2,
	}
}

func TestComposite(t *testing.T) {
	tests := []struct {
		name    string
		scores  map[string]float64
		weights map[string]float64
		want    float64
		wantErr error
	}{
		{
			name:    "weighted average",
			scores:  map[string]float64{"vision": 0.9, "domain_fit": 0.5},
			weights: map[string]float64{"vision": 3, "domain_fit": 1},
			want:    0.8,
		},
		{
			name:   "no weights means equal weights",
			scores: map[string]float64{"vision": 0.9, "domain_fit": 0.5},
			want:   0.7,
		},
		{
			name:    "missing weight counts as zero",
			scores:  map[string]float64{"vision": 0.9, "domain_fit": 0.5},
			weights: map[string]float64{"vision": 1},
			want:    0.9,
		},
		{
			name:    "zero weight sum",
			scores:  map[string]float64{"vision": 0.9},
			weights: map[string]float64{"vision": 0},
			wantErr: domain.ErrInvalidWeights,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScore(tt.scores, tt.weights)
			got, err := s.Composite()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Composite = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*DecisionScore)
		ok     bool
	}{
		{"valid", func(*DecisionScore) {}, true},
		{"score above one", func(s *DecisionScore) { s.Scores["vision"] = 1.2 }, false},
		{"negative weight", func(s *DecisionScore) { s.Weights = map[string]float64{"vision": -1} }, false},
		{"weight for unknown dimension", func(s *DecisionScore) { s.Weights = map[string]float64{"luck": 1} }, false},
		{"uncertainty NaN", func(s *DecisionScore) { s.Uncertainty = math.NaN() }, false},
		{"round zero", func(s *DecisionScore) { s.Round = 0 }, false},
		{"wrong id", func(s *DecisionScore) { s.ID = "score:other" }, false},
		{"no dimensions", func(s *DecisionScore) { s.Scores = nil }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScore(map[string]float64{"vision": 0.5}, nil)
			tt.modify(&s)
			err := s.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestConfidence(t *testing.T) {
	scores := []DecisionScore{{Uncertainty: 0.4}, {Uncertainty: 0.6}}
	if got := Confidence(scores); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.5", got)
	}
	if got := Confidence(nil); got != 0 {
		t.Errorf("Confidence(nil) = %v, want 0", got)
	}
}

func TestMissingFraction(t *testing.T) {
	missing := []Missing{{AgentID: "c", BranchID: "b2", Reason: ReasonTimeout}}
	got := MissingFraction([]string{"b1", "b2"}, 3, missing)
	if got["b1"] != 0 {
		t.Errorf("b1 fraction = %v, want 0", got["b1"])
	}
	if math.Abs(got["b2"]-1.0/3) > 1e-9 {
		t.Errorf("b2 fraction = %v, want 1/3", got["b2"])
	}
}
