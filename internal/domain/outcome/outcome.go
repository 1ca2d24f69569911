// Package outcome measures executed decisions against their expectations and
// derives advisory calibration proposals from the variance.
package outcome

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/Strob0t/Boardroom/internal/domain"
)

// MetricVariance compares one expected metric with its actual value.
type MetricVariance struct {
	Metric   string  `json:"metric"`
	Expected float64 `json:"expected"`
	Actual   float64 `json:"actual"`
	// RelativeDiff is (actual-expected)/|expected|. Negative means the
	// decision under-delivered on this metric.
	RelativeDiff float64 `json:"relative_diff"`
	Flagged      bool    `json:"flagged"`
}

// VarianceAnalysis is the per-metric comparison, sorted by metric name.
type VarianceAnalysis struct {
	Metrics    []MetricVariance `json:"metrics"`
	Unreported []string         `json:"unreported,omitempty"`
	Unexpected []string         `json:"unexpected,omitempty"`
	AlertRatio float64          `json:"alert_ratio"`
}

// Flagged returns the metrics whose variance exceeded the alert ratio.
func (v *VarianceAnalysis) Flagged() []MetricVariance {
	var out []MetricVariance
	for _, m := range v.Metrics {
		if m.Flagged {
			out = append(out, m)
		}
	}
	return out
}

// Analyze computes the variance between expected and actual metrics. A
// metric with expected 0 has diff 0 when actual is 0, otherwise ±1.
func Analyze(expected, actual map[string]float64, alertRatio float64) VarianceAnalysis {
	va := VarianceAnalysis{AlertRatio: alertRatio}
	for _, name := range sortedKeys(expected) {
		act, ok := actual[name]
		if !ok {
			va.Unreported = append(va.Unreported, name)
			continue
		}
		exp := expected[name]
		diff := relativeDiff(exp, act)
		va.Metrics = append(va.Metrics, MetricVariance{
			Metric:       name,
			Expected:     exp,
			Actual:       act,
			RelativeDiff: diff,
			Flagged:      math.Abs(diff) > alertRatio,
		})
	}
	for _, name := range sortedKeys(actual) {
		if _, ok := expected[name]; !ok {
			va.Unexpected = append(va.Unexpected, name)
		}
	}
	return va
}

func relativeDiff(expected, actual float64) float64 {
	if expected == 0 {
		switch {
		case actual > 0:
			return 1
		case actual < 0:
			return -1
		default:
			return 0
		}
	}
	return (actual - expected) / math.Abs(expected)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// DecisionOutcome is the post-execution measurement of one decision. It is
// written once and never changes.
type DecisionOutcome struct {
	ID                   string             `json:"id"`
	GovernanceDecisionID string             `json:"governance_decision_id"`
	DecisionTreeID       string             `json:"decision_tree_id"`
	Category             string             `json:"category,omitempty"`
	ExpectedMetrics      map[string]float64 `json:"expected_metrics"`
	ActualMetrics        map[string]float64 `json:"actual_metrics"`
	VarianceAnalysis     VarianceAnalysis   `json:"variance_analysis"`
	LessonsLearned       string             `json:"lessons_learned,omitempty"`
	CalibrationDelta     *CalibrationDelta  `json:"calibration_delta,omitempty"`
	RecordedBy           string             `json:"recorded_by"`
	RecordedAt           time.Time          `json:"recorded_at"`
}

// ArtifactID returns the id a decision's outcome is stored under.
func ArtifactID(decisionID string) string { return "outcome:" + decisionID }

// Validate checks required fields.
func (o *DecisionOutcome) Validate() error {
	switch {
	case o.ID == "" || o.GovernanceDecisionID == "":
		return fmt.Errorf("outcome: id and governance_decision_id are required: %w", domain.ErrValidation)
	case len(o.ActualMetrics) == 0:
		return fmt.Errorf("outcome %s: actual_metrics are required: %w", o.ID, domain.ErrValidation)
	case o.RecordedBy == "":
		return fmt.Errorf("outcome %s: recorded_by is required: %w", o.ID, domain.ErrValidation)
	}
	for k, v := range o.ActualMetrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("outcome %s: metric %s is not finite: %w", o.ID, k, domain.ErrValidation)
		}
	}
	return nil
}
