// Package schema checks an artifact payload against the invariants of the
// type its kind names. Stores call Validate and CheckReferences before
// accepting a write.
package schema

import (
	"context"
	"errors"
	"fmt"

	"github.com/Strob0t/Boardroom/internal/domain"
	"github.com/Strob0t/Boardroom/internal/domain/artifact"
	"github.com/Strob0t/Boardroom/internal/domain/decision"
	"github.com/Strob0t/Boardroom/internal/domain/lifecycle"
	"github.com/Strob0t/Boardroom/internal/domain/outcome"
	"github.com/Strob0t/Boardroom/internal/domain/policy"
	"github.com/Strob0t/Boardroom/internal/domain/score"
	"github.com/Strob0t/Boardroom/internal/domain/tree"
)

type validator interface {
	Validate() error
}

// Validate decodes the payload of a by kind and runs its Validate method.
// Envelope fields must already have been checked with Prepare.
func Validate(a *artifact.Artifact) error {
	var v validator
	var err error
	switch a.Kind {
	case artifact.KindTree:
		v, err = decode[tree.DecisionTree](a)
	case artifact.KindScore:
		var s *score.DecisionScore
		if s, err = artifact.Decode[score.DecisionScore](a); err == nil && s.ID != a.ID {
			return fmt.Errorf("score payload id %q does not match artifact %q: %w", s.ID, a.ID, domain.ErrValidation)
		}
		v = s
	case artifact.KindDecision:
		v, err = decode[decision.GovernanceDecision](a)
	case artifact.KindOutcome:
		v, err = decode[outcome.DecisionOutcome](a)
	case artifact.KindPolicy:
		v, err = decode[policy.Policy](a)
	case artifact.KindLifecycle:
		v, err = decode[lifecycle.Record](a)
	case artifact.KindReview:
		v, err = decode[decision.Review](a)
	case artifact.KindExecution:
		v, err = decode[decision.Execution](a)
	default:
		return fmt.Errorf("artifact %s: unknown kind %q: %w", a.ID, a.Kind, domain.ErrValidation)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", err, domain.ErrValidation)
	}
	return v.Validate()
}

func decode[T any, PT interface {
	*T
	validator
}](a *artifact.Artifact) (validator, error) {
	v, err := artifact.Decode[T](a)
	if err != nil {
		return nil, err
	}
	return PT(v), nil
}

// Lookup loads the latest version of an artifact.
type Lookup func(ctx context.Context, id string) (*artifact.Artifact, error)

// CheckReferences verifies that a score or decision points at a stored tree
// and at one of its branches. Other kinds carry no such reference.
func CheckReferences(ctx context.Context, a *artifact.Artifact, get Lookup) error {
	var treeID, branchID string
	switch a.Kind {
	case artifact.KindScore:
		s, err := artifact.Decode[score.DecisionScore](a)
		if err != nil {
			return fmt.Errorf("%w: %w", err, domain.ErrValidation)
		}
		treeID, branchID = s.DecisionTreeID, s.BranchID
	case artifact.KindDecision:
		d, err := artifact.Decode[decision.GovernanceDecision](a)
		if err != nil {
			return fmt.Errorf("%w: %w", err, domain.ErrValidation)
		}
		treeID, branchID = d.DecisionTreeID, d.SelectedBranchID
	default:
		return nil
	}

	ta, err := get(ctx, treeID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%s %s references unknown tree %s: %w", a.Kind, a.ID, treeID, domain.ErrValidation)
	}
	if err != nil {
		return fmt.Errorf("%s %s: load tree %s: %w", a.Kind, a.ID, treeID, err)
	}
	if ta.Kind != artifact.KindTree {
		return fmt.Errorf("%s %s: %s is a %s, not a tree: %w", a.Kind, a.ID, treeID, ta.Kind, domain.ErrValidation)
	}
	t, err := artifact.Decode[tree.DecisionTree](ta)
	if err != nil {
		return fmt.Errorf("%s %s: decode tree %s: %w", a.Kind, a.ID, treeID, err)
	}
	if _, ok := t.Branch(branchID); !ok {
		return fmt.Errorf("%s %s: branch %q is not in tree %s: %w", a.Kind, a.ID, branchID, treeID, domain.ErrValidation)
	}
	return nil
}
