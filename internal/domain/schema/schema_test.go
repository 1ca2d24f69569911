package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Strob0t/Boardroom/internal/domain"
	"github.com/Strob0t/Boardroom/internal/domain/artifact"
	"github.com/Strob0t/Boardroom/internal/domain/score"
	"github.com/Strob0t/Boardroom/internal/domain/tree"
)

func envelope(t *testing.T, kind artifact.Kind, id string, payload any) *artifact.Artifact {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	a := &artifact.Artifact{ID: id, Kind: kind, CreatedBy: "test", Payload: raw}
	if err := a.Prepare(); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestValidate(t *testing.T) {
	goodTree := tree.DecisionTree{ID: "t1", Topic: "x", Nodes: []tree.Node{{ID: "n", Branches: []tree.Branch{{ID: "a"}}}}}
	cyclic := tree.DecisionTree{ID: "t1", Topic: "x", Nodes: []tree.Node{{ID: "n", Branches: []tree.Branch{{ID: "a", Dependencies: []string{"a"}}}}}}
	goodScore := score.DecisionScore{
		ID: score.ID("t1", 1, "a", "ceo"), DecisionTreeID: "t1", BranchID: "a", AgentID: "ceo",
		Round: 1, Scores: map[string]float64{"fit": 0.5},
	}

	tests := []struct {
		name string
		a    *artifact.Artifact
		ok   bool
	}{
		{"valid tree", envelope(t, artifact.KindTree, "t1", goodTree), true},
		{"cyclic tree", envelope(t, artifact.KindTree, "t1", cyclic), false},
		{"valid score", envelope(t, artifact.KindScore, goodScore.ID, goodScore), true},
		{"score under foreign id", envelope(t, artifact.KindScore, "score:other", goodScore), false},
		{"wrong payload shape", envelope(t, artifact.KindDecision, "d1", []int{1, 2}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.a)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}
