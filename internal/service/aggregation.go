package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cfotel "github.com/Strob0t/Boardroom/internal/adapter/otel"
	"github.com/Strob0t/Boardroom/internal/domain"
	"github.com/Strob0t/Boardroom/internal/domain/consensus"
	"github.com/Strob0t/Boardroom/internal/domain/decision"
	"github.com/Strob0t/Boardroom/internal/domain/policy"
	"github.com/Strob0t/Boardroom/internal/domain/score"
	"github.com/Strob0t/Boardroom/internal/domain/tree"
)

// AggregationService applies a consensus policy to a score matrix.
type AggregationService struct{}

// NewAggregationService creates an AggregationService.
func NewAggregationService() *AggregationService {
	return &AggregationService{}
}

// Aggregate runs consensus over the scored branches of m at the given
// effective threshold. On failure the partial result is returned with the
// error so callers can report per-branch reasons.
func (s *AggregationService) Aggregate(ctx context.Context, t *tree.DecisionTree, m *score.Matrix, p *policy.Policy, threshold float64) (*consensus.Result, error) {
	_, span := cfotel.StartAggregationSpan(ctx, t.ID, string(p.Mode))

	branches := m.ScoredBranches(t.BranchIDs())
	if len(branches) == 0 {
		err := fmt.Errorf("aggregate tree %s round %d: every branch is unscored: %w", t.ID, m.Round, domain.ErrNoEligibleBranch)
		cfotel.EndSpan(span, err)
		return &consensus.Result{}, err
	}

	res, err := consensus.Aggregate(consensus.FromPolicy(p, threshold, branches, m.ForBranches(branches)))
	cfotel.EndSpan(span, err)
	if err != nil {
		slog.Info("no consensus", "tree_id", t.ID, "round", m.Round, "mode", p.Mode, "threshold", threshold, "error", err)
		return res, err
	}
	for _, ex := range res.Excluded {
		slog.Warn("score excluded from aggregation", "score_id", ex.ScoreID, "reason", ex.Reason)
	}
	return res, nil
}

// Draft builds the draft decision for a successful aggregation.
func Draft(id string, t *tree.DecisionTree, round int, p *policy.Policy, threshold float64, res *consensus.Result, now time.Time) *decision.GovernanceDecision {
	return &decision.GovernanceDecision{
		ID:               id,
		DecisionTreeID:   t.ID,
		SelectedBranchID: res.SelectedBranchID,
		ScoreMatrix:      res.ScoreIDs(),
		ConsensusMode:    p.Mode,
		PolicyName:       p.Name,
		PolicyVersion:    p.Version,
		Threshold:        threshold,
		Round:            round,
		AggregateScore:   res.Aggregate,
		Confidence:       res.Confidence,
		BranchResults:    res.Branches,
		DissentNotes:     res.Dissent,
		Status:           decision.StatusDraft,
		CreatedAt:        now.UTC(),
	}
}
