package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	cfotel "github.com/Strob0t/Boardroom/internal/adapter/otel"
	"github.com/Strob0t/Boardroom/internal/domain"
	"github.com/Strob0t/Boardroom/internal/domain/consensus"
	"github.com/Strob0t/Boardroom/internal/domain/decision"
	"github.com/Strob0t/Boardroom/internal/domain/lifecycle"
	"github.com/Strob0t/Boardroom/internal/domain/policy"
	"github.com/Strob0t/Boardroom/internal/domain/provenance"
	"github.com/Strob0t/Boardroom/internal/domain/score"
	"github.com/Strob0t/Boardroom/internal/domain/tree"
	"github.com/Strob0t/Boardroom/internal/logger"
)

// ErrRoundCancelled is returned by StartRound when CancelRound or Withdraw
// stopped the round.
var ErrRoundCancelled = errors.New("round cancelled")

// Launch checks that a round can start and runs StartRound in the
// background. Errors found up front are returned; later ones are logged.
func (o *Orchestrator) Launch(ctx context.Context, treeID string) error {
	rec, err := o.Status(ctx, treeID)
	if err != nil {
		return err
	}
	if err := rec.Require("start round", lifecycle.StateOpen, lifecycle.StateScoring); err != nil {
		return err
	}
	if o.registry.Len() == 0 {
		return fmt.Errorf("start round on tree %s: %w", treeID, domain.ErrNoEvaluators)
	}
	if o.running(treeID) {
		return fmt.Errorf("start round on tree %s: a round is already running: %w", treeID, domain.ErrInvalidState)
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		if _, err := o.StartRound(bg, treeID); err != nil {
			slog.Warn("round ended with error", "tree_id", treeID, "error", err)
		}
	}()
	return nil
}

// StartRound freezes the tree and runs scoring, aggregation and the
// guardrail check. A failed aggregation retries with a relaxed threshold up
// to the policy's retry budget, then stalls the tree. It returns the final
// lifecycle record.
func (o *Orchestrator) StartRound(ctx context.Context, treeID string) (*lifecycle.Record, error) {
	unlock := o.locks.lock(treeID)
	defer unlock()

	rec, err := o.Status(ctx, treeID)
	if err != nil {
		return nil, err
	}
	if err := rec.Require("start round", lifecycle.StateOpen, lifecycle.StateScoring); err != nil {
		return nil, err
	}
	if o.registry.Len() == 0 {
		return nil, fmt.Errorf("start round on tree %s: %w", treeID, domain.ErrNoEvaluators)
	}
	p, err := o.policies.Version(ctx, rec.PolicyName, rec.PolicyVersion)
	if err != nil {
		return nil, err
	}
	t, err := o.GetTree(ctx, treeID)
	if err != nil {
		return nil, err
	}
	if !t.Frozen {
		t = t.Freeze()
		if err := o.putTree(ctx, t); err != nil {
			return nil, err
		}
	}

	roundCtx, cancel := context.WithCancel(ctx)
	o.trackRound(treeID, cancel)
	defer func() {
		o.untrackRound(treeID)
		cancel()
	}()

	for {
		if rec.State == lifecycle.StateOpen {
			rec.Round++
			if rec, err = o.transition(ctx, rec, lifecycle.StateScoring, fmt.Sprintf("round %d", rec.Round)); err != nil {
				return nil, err
			}
		}

		var d *decision.GovernanceDecision
		d, rec, err = o.runRound(roundCtx, ctx, t, p, rec)
		switch {
		case errors.Is(err, ErrRoundCancelled):
			return rec, err
		case isNoConsensus(err):
			if rec.Retries < p.Retry.MaxRetries {
				rec.Retries++
				prevThreshold := rec.EffectiveThreshold
				rec.EffectiveThreshold = p.RelaxedThreshold(rec.Retries)
				reason := fmt.Sprintf("%v; retry %d at threshold %.3f (was %.3f)", err, rec.Retries, rec.EffectiveThreshold, prevThreshold)
				if rec, err = o.transition(ctx, rec, lifecycle.StateOpen, reason); err != nil {
					return nil, err
				}
				o.metrics.RoundCompleted(ctx, string(lifecycle.StateOpen))
				continue
			}
			if rec, err = o.transition(ctx, rec, lifecycle.StateStalled, err.Error()); err != nil {
				return nil, err
			}
			o.metrics.Stalled(ctx, p.Name)
			o.metrics.RoundCompleted(ctx, string(rec.State))
			slog.Warn("tree stalled", "tree_id", treeID, "rounds", rec.Round, "retries", rec.Retries)
			return rec, nil
		case err != nil:
			return rec, err
		}

		o.metrics.RoundCompleted(ctx, string(rec.State))
		slog.Info("round decided",
			"tree_id", treeID, "round", rec.Round, "decision_id", d.ID,
			"branch", d.SelectedBranchID, "status", d.Status)
		return rec, nil
	}
}

// runRound runs one scoring round and, on consensus, stores the decision.
// roundCtx is cancelled by CancelRound; ctx is the caller's.
func (o *Orchestrator) runRound(roundCtx, ctx context.Context, t *tree.DecisionTree, p *policy.Policy, rec *lifecycle.Record) (*decision.GovernanceDecision, *lifecycle.Record, error) {
	roundCtx = logger.WithDecision(roundCtx, t.ID, rec.Round)
	spanCtx, span := cfotel.StartRoundSpan(roundCtx, t.ID, rec.Round, p.Name)
	o.metrics.RoundStarted(spanCtx, p.Name)

	matrix, err := o.scoring.Run(spanCtx, Round{Tree: t, Number: rec.Round, Policy: p})
	if err != nil {
		cfotel.EndSpan(span, err)
		if roundCtx.Err() != nil && ctx.Err() == nil {
			next, terr := o.transition(ctx, rec, lifecycle.StateOpen, "round cancelled")
			if terr != nil {
				return nil, rec, terr
			}
			return nil, next, fmt.Errorf("tree %s round %d: %w", t.ID, rec.Round, ErrRoundCancelled)
		}
		if errors.Is(err, domain.ErrNoEvaluators) {
			if next, terr := o.transition(ctx, rec, lifecycle.StateOpen, "no evaluators registered"); terr == nil {
				rec = next
			}
		}
		return nil, rec, err
	}
	logMatrix(matrix)

	if rec, err = o.transition(ctx, rec, lifecycle.StateAggregating, ""); err != nil {
		cfotel.EndSpan(span, err)
		return nil, nil, err
	}

	res, err := o.aggregation.Aggregate(spanCtx, t, matrix, p, rec.EffectiveThreshold)
	if err != nil {
		cfotel.EndSpan(span, err)
		return nil, rec, err
	}

	d := Draft("decision:"+o.newID(), t, rec.Round, p, rec.EffectiveThreshold, res, o.now())
	verdict := o.guardrail.Evaluate(spanCtx, d, t, matrix.Scores, p)
	d.GuardrailReasons = verdict.Reasons

	if err := o.recordDecision(ctx, d, res, p); err != nil {
		cfotel.EndSpan(span, err)
		return nil, rec, err
	}
	rec.DecisionID = d.ID
	if rec, err = o.transition(ctx, rec, lifecycle.StateDraft, ""); err != nil {
		cfotel.EndSpan(span, err)
		return nil, nil, err
	}

	to, reason := decision.StatusApproved, "auto-approved"
	if !verdict.AutoApprove {
		to, reason = decision.StatusPendingHumanReview, strings.Join(verdict.Reasons, "; ")
	}
	if d, err = d.Advance(to); err != nil {
		cfotel.EndSpan(span, err)
		return nil, rec, err
	}
	if err := o.putDecision(ctx, d); err != nil {
		cfotel.EndSpan(span, err)
		return nil, rec, err
	}
	rec, err = o.transition(ctx, rec, lifecycle.State(to), reason)
	cfotel.EndSpan(span, err)
	if err != nil {
		return nil, nil, err
	}
	return d, rec, nil
}

// recordDecision stores the draft and links it to its tree, policy and
// contributing scores.
func (o *Orchestrator) recordDecision(ctx context.Context, d *decision.GovernanceDecision, res *consensus.Result, p *policy.Policy) error {
	if err := o.putDecision(ctx, d); err != nil {
		return err
	}
	links := []struct {
		from, to string
		rel      provenance.Relationship
	}{
		{d.DecisionTreeID, d.ID, provenance.RelDecidedBy},
		{policy.ArtifactID(p.Name), d.ID, provenance.RelGoverns},
	}
	for _, id := range res.ScoreIDs() {
		links = append(links, struct {
			from, to string
			rel      provenance.Relationship
		}{id, d.ID, provenance.RelContributes})
	}
	for _, l := range links {
		if _, err := o.store.Link(ctx, l.from, l.to, l.rel, o.cfg.AgentID); err != nil {
			return fmt.Errorf("link decision %s: %w", d.ID, err)
		}
	}
	return nil
}

func logMatrix(m *score.Matrix) {
	if len(m.Missing) == 0 && len(m.Unscored) == 0 {
		return
	}
	reasons := make(map[score.MissingReason]int)
	for _, ms := range m.Missing {
		reasons[ms.Reason]++
	}
	slog.Info("round scored with gaps",
		"tree_id", m.TreeID, "round", m.Round, "scores", len(m.Scores),
		"missing", len(m.Missing), "unscored", m.Unscored, "reasons", reasons)
}

// CancelRound stops the running round of a tree. The tree returns to open
// with its round counter kept.
func (o *Orchestrator) CancelRound(_ context.Context, treeID string) error {
	o.mu.Lock()
	cancel, ok := o.rounds[treeID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("cancel round on tree %s: no round is running: %w", treeID, domain.ErrInvalidState)
	}
	cancel()
	slog.Info("round cancel requested", "tree_id", treeID)
	return nil
}

// Withdraw ends a tree that has not reached aggregation. A running round is
// cancelled first.
func (o *Orchestrator) Withdraw(ctx context.Context, treeID, reason string) (*lifecycle.Record, error) {
	if reason == "" {
		return nil, fmt.Errorf("withdraw tree %s: reason is required: %w", treeID, domain.ErrValidation)
	}
	o.mu.Lock()
	cancel, running := o.rounds[treeID]
	o.mu.Unlock()
	if running {
		cancel()
	}

	unlock := o.locks.lock(treeID)
	defer unlock()

	rec, err := o.Status(ctx, treeID)
	if err != nil {
		return nil, err
	}
	if err := rec.Require("withdraw", lifecycle.StateOpen, lifecycle.StateScoring); err != nil {
		return nil, err
	}
	return o.transition(ctx, rec, lifecycle.StateWithdrawn, reason)
}

func (o *Orchestrator) trackRound(treeID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.rounds[treeID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) untrackRound(treeID string) {
	o.mu.Lock()
	delete(o.rounds, treeID)
	o.mu.Unlock()
}

func (o *Orchestrator) running(treeID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.rounds[treeID]
	return ok
}
