package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/Strob0t/Boardroom/internal/domain"
	"github.com/Strob0t/Boardroom/internal/domain/artifact"
	"github.com/Strob0t/Boardroom/internal/domain/decision"
	"github.com/Strob0t/Boardroom/internal/domain/outcome"
	"github.com/Strob0t/Boardroom/internal/domain/policy"
	"github.com/Strob0t/Boardroom/internal/domain/provenance"
	"github.com/Strob0t/Boardroom/internal/domain/score"
	"github.com/Strob0t/Boardroom/internal/domain/tree"
	"github.com/Strob0t/Boardroom/internal/port/artifactstore"
	"github.com/Strob0t/Boardroom/internal/port/broadcast"
	"github.com/Strob0t/Boardroom/internal/port/messagequeue"
)

// OutcomeRequest reports the measured result of an executed decision.
type OutcomeRequest struct {
	ActualMetrics  map[string]float64 `json:"actual_metrics"`
	LessonsLearned string             `json:"lessons_learned,omitempty"`
	RecordedBy     string             `json:"recorded_by"`
}

// OutcomeService measures executed decisions and proposes calibrations.
type OutcomeService struct {
	store artifactstore.Store
	queue messagequeue.Queue
	hub   broadcast.Broadcaster
	now   func() time.Time
}

// NewOutcomeService creates an OutcomeService.
func NewOutcomeService(store artifactstore.Store) *OutcomeService {
	return &OutcomeService{store: store, hub: broadcast.Nop{}, now: time.Now}
}

// SetQueue sets the queue calibration proposals are published on.
func (s *OutcomeService) SetQueue(q messagequeue.Queue) { s.queue = q }

// SetBroadcaster sets the broadcaster for calibration events.
func (s *OutcomeService) SetBroadcaster(hub broadcast.Broadcaster) { s.hub = hub }

// SetClock overrides the clock.
func (s *OutcomeService) SetClock(now func() time.Time) { s.now = now }

// Expected returns the metrics the decision was expected to move: the
// selected branch's, overridden by the execution record's.
func Expected(b tree.Branch, exec *decision.Execution) map[string]float64 {
	out := maps.Clone(b.ExpectedMetrics)
	if out == nil {
		out = map[string]float64{}
	}
	if exec != nil {
		maps.Copy(out, exec.ExpectedMetrics)
	}
	return out
}

// Measure builds, stores and links the outcome of an executed decision. A
// repeated identical report returns the stored outcome.
func (s *OutcomeService) Measure(ctx context.Context, d *decision.GovernanceDecision, t *tree.DecisionTree, exec *decision.Execution, p *policy.Policy, req OutcomeRequest) (*outcome.DecisionOutcome, error) {
	b, ok := t.Branch(d.SelectedBranchID)
	if !ok {
		return nil, fmt.Errorf("decision %s selects unknown branch %s: %w", d.ID, d.SelectedBranchID, domain.ErrValidation)
	}
	expected := Expected(b, exec)
	va := outcome.Analyze(expected, req.ActualMetrics, p.Calibration.AlertRatio)

	stances, err := s.stances(ctx, d)
	if err != nil {
		return nil, err
	}

	o := &outcome.DecisionOutcome{
		ID:                   outcome.ArtifactID(d.ID),
		GovernanceDecisionID: d.ID,
		DecisionTreeID:       d.DecisionTreeID,
		Category:             t.Category,
		ExpectedMetrics:      expected,
		ActualMetrics:        req.ActualMetrics,
		VarianceAnalysis:     va,
		LessonsLearned:       req.LessonsLearned,
		CalibrationDelta:     outcome.Propose(p, t.Category, va, d.AggregateScore, stances),
		RecordedBy:           req.RecordedBy,
		RecordedAt:           s.now().UTC(),
	}

	a, err := artifact.New(artifact.KindOutcome, o.ID, d.DecisionTreeID, req.RecordedBy, o, true)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Put(ctx, a); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("store outcome %s: %w", o.ID, err)
		}
		prev, gerr := s.store.Get(ctx, o.ID)
		if gerr != nil {
			return nil, fmt.Errorf("store outcome %s: %w", o.ID, err)
		}
		stored, derr := artifact.Decode[outcome.DecisionOutcome](prev)
		if derr != nil || !sameReport(stored, req) {
			return nil, fmt.Errorf("outcome for decision %s already recorded: %w", d.ID, domain.ErrConflict)
		}
		o = stored
	}
	if _, err := s.store.Link(ctx, d.ID, o.ID, provenance.RelMeasuredBy, req.RecordedBy); err != nil {
		return nil, fmt.Errorf("link outcome %s: %w", o.ID, err)
	}

	flagged := va.Flagged()
	slog.Info("outcome recorded", "decision_id", d.ID, "metrics", len(va.Metrics), "flagged", len(flagged))
	if o.CalibrationDelta != nil {
		s.proposeCalibration(ctx, o)
	}
	return o, nil
}

// stances returns how each contributing score rated the selected branch.
func (s *OutcomeService) stances(ctx context.Context, d *decision.GovernanceDecision) ([]outcome.RoleStance, error) {
	var out []outcome.RoleStance
	for _, id := range d.ScoreMatrix {
		a, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load score %s: %w", id, err)
		}
		sc, err := artifact.Decode[score.DecisionScore](a)
		if err != nil {
			return nil, err
		}
		if sc.BranchID != d.SelectedBranchID {
			continue
		}
		c, err := sc.Composite()
		if err != nil {
			continue
		}
		out = append(out, outcome.RoleStance{Role: sc.Role, Composite: c})
	}
	return out, nil
}

func (s *OutcomeService) proposeCalibration(ctx context.Context, o *outcome.DecisionOutcome) {
	d := o.CalibrationDelta
	payload := messagequeue.CalibrationProposedPayload{
		OutcomeID:  o.ID,
		DecisionID: o.GovernanceDecisionID,
		PolicyName: d.PolicyName,
		Direction:  string(d.Direction),
		Flagged:    d.FlaggedMetrics,
	}
	slog.Info("calibration proposed", "outcome_id", o.ID, "policy", d.PolicyName, "direction", d.Direction)
	s.hub.BroadcastEvent(ctx, broadcast.EventCalibration, payload)
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal calibration proposal", "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectCalibration, data); err != nil {
		slog.Warn("publish calibration proposal", "outcome_id", o.ID, "error", err)
	}
}

func sameReport(o *outcome.DecisionOutcome, req OutcomeRequest) bool {
	return maps.Equal(o.ActualMetrics, req.ActualMetrics) &&
		o.LessonsLearned == req.LessonsLearned &&
		o.RecordedBy == req.RecordedBy
}
