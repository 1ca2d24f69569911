package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "boardroom"

// Metrics holds all Boardroom metric instruments. A nil *Metrics records
// nothing, so services can run without telemetry.
type Metrics struct {
	RoundsStarted   metric.Int64Counter
	RoundsCompleted metric.Int64Counter
	ScoresRecorded  metric.Int64Counter
	ScoresMissing   metric.Int64Counter
	Decisions       metric.Int64Counter
	Stalls          metric.Int64Counter
	EvalDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.RoundsStarted, err = meter.Int64Counter("boardroom.rounds.started",
		metric.WithDescription("Number of scoring rounds started")); err != nil {
		return nil, err
	}
	if m.RoundsCompleted, err = meter.Int64Counter("boardroom.rounds.completed",
		metric.WithDescription("Number of scoring rounds that reached an outcome")); err != nil {
		return nil, err
	}
	if m.ScoresRecorded, err = meter.Int64Counter("boardroom.scores.recorded",
		metric.WithDescription("Number of scores persisted")); err != nil {
		return nil, err
	}
	if m.ScoresMissing, err = meter.Int64Counter("boardroom.scores.missing",
		metric.WithDescription("Number of (agent, branch) slots left unscored, by reason")); err != nil {
		return nil, err
	}
	if m.Decisions, err = meter.Int64Counter("boardroom.decisions",
		metric.WithDescription("Decision status changes, by status")); err != nil {
		return nil, err
	}
	if m.Stalls, err = meter.Int64Counter("boardroom.stalls",
		metric.WithDescription("Number of trees that stalled without consensus")); err != nil {
		return nil, err
	}
	if m.EvalDuration, err = meter.Float64Histogram("boardroom.evaluation.duration_seconds",
		metric.WithDescription("Evaluator call latency in seconds")); err != nil {
		return nil, err
	}
	return m, nil
}

// RoundStarted counts a started round.
func (m *Metrics) RoundStarted(ctx context.Context, policy string) {
	if m == nil {
		return
	}
	m.RoundsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("policy", policy)))
}

// RoundCompleted counts a round by its resulting state.
func (m *Metrics) RoundCompleted(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.RoundsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// ScoreRecorded counts one persisted score.
func (m *Metrics) ScoreRecorded(ctx context.Context, role string, late bool) {
	if m == nil {
		return
	}
	m.ScoresRecorded.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role), attribute.Bool("late", late)))
}

// ScoreMissing counts one missing slot.
func (m *Metrics) ScoreMissing(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.ScoresMissing.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// DecisionStatus counts a decision entering status.
func (m *Metrics) DecisionStatus(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.Decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// Stalled counts a stalled tree.
func (m *Metrics) Stalled(ctx context.Context, policy string) {
	if m == nil {
		return
	}
	m.Stalls.Add(ctx, 1, metric.WithAttributes(attribute.String("policy", policy)))
}

// Evaluated records one evaluator call.
func (m *Metrics) Evaluated(ctx context.Context, agentID string, d time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.EvalDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("agent", agentID),
		attribute.String("outcome", outcome),
	))
}
