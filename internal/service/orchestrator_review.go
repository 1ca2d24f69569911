package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/Strob0t/Boardroom/internal/domain"
	"github.com/Strob0t/Boardroom/internal/domain/artifact"
	"github.com/Strob0t/Boardroom/internal/domain/decision"
	"github.com/Strob0t/Boardroom/internal/domain/lifecycle"
	"github.com/Strob0t/Boardroom/internal/domain/outcome"
	"github.com/Strob0t/Boardroom/internal/domain/provenance"
)

// ReviewRequest is a human reviewer's signal on a pending decision.
type ReviewRequest struct {
	Verdict    decision.Verdict `json:"verdict"`
	ReviewerID string           `json:"reviewer_id"`
	Note       string           `json:"note,omitempty"`
}

// ExecutionRequest confirms an approved decision was carried out.
// ExpectedMetrics override the selected branch's for outcome analysis.
type ExecutionRequest struct {
	ExecutedBy      string             `json:"executed_by"`
	Reference       string             `json:"reference,omitempty"`
	Details         json.RawMessage    `json:"details,omitempty"`
	ExpectedMetrics map[string]float64 `json:"expected_metrics,omitempty"`
}

// SubmitReview applies a human verdict to a decision pending review.
// Approve seals the decision; reject archives it with the reviewer's note
// among the dissent notes. Repeating the same signal is a no-op; a
// different signal for an already reviewed decision is a conflict.
func (o *Orchestrator) SubmitReview(ctx context.Context, decisionID string, req ReviewRequest) (*decision.GovernanceDecision, error) {
	d, err := o.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	unlock := o.locks.lock(d.DecisionTreeID)
	defer unlock()
	if d, err = o.GetDecision(ctx, decisionID); err != nil {
		return nil, err
	}

	review := &decision.Review{
		ID:         decision.ReviewID(d.ID),
		DecisionID: d.ID,
		Verdict:    req.Verdict,
		ReviewerID: req.ReviewerID,
		Note:       req.Note,
		ReviewedAt: o.now().UTC(),
	}
	if err := review.Validate(); err != nil {
		return nil, err
	}

	if prev, err := o.storedReview(ctx, d.ID); err != nil {
		return nil, err
	} else if prev != nil {
		if prev.Verdict != req.Verdict || prev.ReviewerID != req.ReviewerID || prev.Note != req.Note {
			return nil, fmt.Errorf("decision %s was already reviewed (%s by %s): %w", d.ID, prev.Verdict, prev.ReviewerID, domain.ErrConflict)
		}
		if d.Status != decision.StatusPendingHumanReview {
			return d, nil
		}
		review = prev
	} else {
		if d.Status != decision.StatusPendingHumanReview {
			return nil, fmt.Errorf("review decision %s in status %s: %w", d.ID, d.Status, domain.ErrInvalidState)
		}
		if err := o.putImmutable(ctx, artifact.KindReview, review.ID, d.DecisionTreeID, review.ReviewerID, review); err != nil {
			return nil, err
		}
	}
	if _, err := o.store.Link(ctx, d.ID, review.ID, provenance.RelReviewedBy, review.ReviewerID); err != nil {
		return nil, fmt.Errorf("link review: %w", err)
	}

	to := decision.StatusApproved
	if review.Verdict == decision.VerdictReject {
		to = decision.StatusArchived
		note := "rejected in human review"
		if review.Note != "" {
			note += ": " + review.Note
		}
		d.DissentNotes = append(d.DissentNotes, decision.DissentNote{AgentID: review.ReviewerID, Note: note})
	}
	next, err := d.Advance(to)
	if err != nil {
		return nil, err
	}
	if err := o.putDecision(ctx, next); err != nil {
		return nil, err
	}
	if err := o.advanceLifecycle(ctx, next.DecisionTreeID, lifecycle.State(to), "review: "+string(review.Verdict)); err != nil {
		return nil, err
	}
	slog.Info("decision reviewed", "decision_id", d.ID, "verdict", review.Verdict, "reviewer", review.ReviewerID)
	return next, nil
}

func (o *Orchestrator) storedReview(ctx context.Context, decisionID string) (*decision.Review, error) {
	a, err := o.store.Get(ctx, decision.ReviewID(decisionID))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return artifact.Decode[decision.Review](a)
}

// ConfirmExecution records that an approved decision was carried out.
func (o *Orchestrator) ConfirmExecution(ctx context.Context, decisionID string, req ExecutionRequest) (*decision.GovernanceDecision, error) {
	d, err := o.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	unlock := o.locks.lock(d.DecisionTreeID)
	defer unlock()
	if d, err = o.GetDecision(ctx, decisionID); err != nil {
		return nil, err
	}

	exec := &decision.Execution{
		ID:              decision.ExecutionID(d.ID),
		DecisionID:      d.ID,
		ExecutedBy:      req.ExecutedBy,
		Reference:       req.Reference,
		Details:         req.Details,
		ExpectedMetrics: req.ExpectedMetrics,
		ExecutedAt:      o.now().UTC(),
	}
	if err := exec.Validate(); err != nil {
		return nil, err
	}

	prev, err := o.storedExecution(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	switch {
	case prev != nil && (prev.ExecutedBy != req.ExecutedBy || prev.Reference != req.Reference || !maps.Equal(prev.ExpectedMetrics, req.ExpectedMetrics)):
		return nil, fmt.Errorf("decision %s already has an execution record: %w", d.ID, domain.ErrConflict)
	case prev != nil && d.Status != decision.StatusApproved:
		return d, nil
	case prev != nil:
		exec = prev
	case d.Status != decision.StatusApproved:
		return nil, fmt.Errorf("confirm execution of decision %s in status %s: %w", d.ID, d.Status, domain.ErrInvalidState)
	default:
		if err := o.putImmutable(ctx, artifact.KindExecution, exec.ID, d.DecisionTreeID, exec.ExecutedBy, exec); err != nil {
			return nil, err
		}
	}
	if _, err := o.store.Link(ctx, d.ID, exec.ID, provenance.RelExecutedAs, exec.ExecutedBy); err != nil {
		return nil, fmt.Errorf("link execution: %w", err)
	}

	next, err := d.Advance(decision.StatusExecuted)
	if err != nil {
		return nil, err
	}
	if err := o.putDecision(ctx, next); err != nil {
		return nil, err
	}
	if err := o.advanceLifecycle(ctx, next.DecisionTreeID, lifecycle.StateExecuted, "executed by "+exec.ExecutedBy); err != nil {
		return nil, err
	}
	slog.Info("decision executed", "decision_id", d.ID, "executed_by", exec.ExecutedBy, "reference", exec.Reference)
	return next, nil
}

func (o *Orchestrator) storedExecution(ctx context.Context, decisionID string) (*decision.Execution, error) {
	a, err := o.store.Get(ctx, decision.ExecutionID(decisionID))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return artifact.Decode[decision.Execution](a)
}

// RecordOutcome measures an executed decision against its expectations,
// proposes a calibration when metrics diverge, and archives the decision.
func (o *Orchestrator) RecordOutcome(ctx context.Context, decisionID string, req OutcomeRequest) (*outcome.DecisionOutcome, error) {
	d, err := o.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	unlock := o.locks.lock(d.DecisionTreeID)
	defer unlock()
	if d, err = o.GetDecision(ctx, decisionID); err != nil {
		return nil, err
	}
	if d.Status != decision.StatusExecuted {
		return nil, fmt.Errorf("record outcome of decision %s in status %s: %w", d.ID, d.Status, domain.ErrInvalidState)
	}

	t, err := o.GetTree(ctx, d.DecisionTreeID)
	if err != nil {
		return nil, err
	}
	exec, err := o.storedExecution(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	p, err := o.policies.Version(ctx, d.PolicyName, d.PolicyVersion)
	if err != nil {
		return nil, err
	}

	out, err := o.outcomes.Measure(ctx, d, t, exec, p, req)
	if err != nil {
		return nil, err
	}

	next, err := d.Advance(decision.StatusArchived)
	if err != nil {
		return nil, err
	}
	if err := o.putDecision(ctx, next); err != nil {
		return nil, err
	}
	if err := o.advanceLifecycle(ctx, d.DecisionTreeID, lifecycle.StateArchived, "outcome recorded"); err != nil {
		return nil, err
	}
	return out, nil
}

// advanceLifecycle moves the tree's record to to unless it is already there.
func (o *Orchestrator) advanceLifecycle(ctx context.Context, treeID string, to lifecycle.State, reason string) error {
	rec, err := o.Status(ctx, treeID)
	if err != nil {
		return err
	}
	if rec.State == to {
		return nil
	}
	_, err = o.transition(ctx, rec, to, reason)
	return err
}

func (o *Orchestrator) putImmutable(ctx context.Context, kind artifact.Kind, id, treeID, actor string, payload any) error {
	a, err := artifact.New(kind, id, treeID, actor, payload, true)
	if err != nil {
		return err
	}
	if _, err := o.store.Put(ctx, a); err != nil {
		return fmt.Errorf("store %s %s: %w", kind, id, err)
	}
	return nil
}
