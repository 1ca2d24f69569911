package decision

import (
	"errors"
	"testing"

	"github.com/Strob0t/Boardroom/internal/domain"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusDraft, StatusApproved, true},
		{StatusDraft, StatusPendingHumanReview, true},
		{StatusPendingHumanReview, StatusApproved, true},
		{StatusPendingHumanReview, StatusArchived, true},
		{StatusApproved, StatusExecuted, true},
		{StatusExecuted, StatusArchived, true},
		{StatusDraft, StatusExecuted, false},
		{StatusApproved, StatusPendingHumanReview, false},
		{StatusApproved, StatusArchived, false},
		{StatusArchived, StatusDraft, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAdvance(t *testing.T) {
	d := &GovernanceDecision{ID: "d1", Status: StatusApproved}
	next, err := d.Advance(StatusExecuted)
	if err != nil {
		t.Fatal(err)
	}
	if next.Status != StatusExecuted || d.Status != StatusApproved {
		t.Errorf("Advance must copy: got %s, original %s", next.Status, d.Status)
	}
	if _, err := d.Advance(StatusDraft); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestSealed(t *testing.T) {
	for s, want := range map[Status]bool{
		StatusDraft:              false,
		StatusPendingHumanReview: false,
		StatusApproved:           true,
		StatusExecuted:           true,
		StatusArchived:           true,
	} {
		if got := s.Sealed(); got != want {
			t.Errorf("%s.Sealed() = %v, want %v", s, got, want)
		}
	}
}

func TestReviewValidate(t *testing.T) {
	ok := Review{DecisionID: "d1", ReviewerID: "r1", Verdict: VerdictApprove}
	if err := ok.Validate(); err != nil {
		t.Fatal(err)
	}
	bad := Review{DecisionID: "d1", ReviewerID: "r1", Verdict: "maybe"}
	if err := bad.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestDecisionValidate(t *testing.T) {
	d := GovernanceDecision{ID: "d1", DecisionTreeID: "t1", SelectedBranchID: "b1", ScoreMatrix: []string{"s1"}, Status: StatusDraft}
	if err := d.Validate(); err != nil {
		t.Fatal(err)
	}
	d.ScoreMatrix = nil
	if err := d.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for empty matrix, got %v", err)
	}
}
