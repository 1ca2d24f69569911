package outcome

import (
	"fmt"
	"math"
	"slices"

	"github.com/Strob0t/Boardroom/internal/domain/policy"
)

// Direction is the overall sign of flagged variance.
type Direction string

const (
	Underperformed Direction = "underperformed"
	Overperformed  Direction = "overperformed"
	Mixed          Direction = "mixed"
)

// CalibrationDelta is an advisory proposal to adjust a policy. It is never
// applied automatically.
type CalibrationDelta struct {
	PolicyName        string             `json:"policy_name"`
	BasePolicyVersion int                `json:"base_policy_version"`
	Category          string             `json:"category,omitempty"`
	Direction         Direction          `json:"direction"`
	FlaggedMetrics    []string           `json:"flagged_metrics"`
	ThresholdDelta    float64            `json:"threshold_delta"`
	RoleWeightDeltas  map[string]float64 `json:"role_weight_deltas,omitempty"`
	Rationale         string             `json:"rationale"`
}

// RoleStance is how one role scored the selected branch relative to the
// aggregate.
type RoleStance struct {
	Role      string
	Composite float64
}

// Propose derives a calibration delta from a variance analysis. It returns
// nil when no metric was flagged.
//
// When the decision under-delivered the threshold is raised by one step,
// roles that scored the selected branch at or above the aggregate lose one
// weight step and the others gain one. Over-delivery does the reverse. Only
// roles the policy weights are adjusted.
func Propose(p *policy.Policy, category string, va VarianceAnalysis, aggregate float64, stances []RoleStance) *CalibrationDelta {
	flagged := va.Flagged()
	if len(flagged) == 0 {
		return nil
	}

	var sum float64
	names := make([]string, 0, len(flagged))
	for _, m := range flagged {
		sum += m.RelativeDiff
		names = append(names, m.Metric)
	}
	mean := sum / float64(len(flagged))

	d := &CalibrationDelta{
		PolicyName:        p.Name,
		BasePolicyVersion: p.Version,
		Category:          category,
		FlaggedMetrics:    names,
	}

	var sign float64
	switch {
	case mean < 0:
		d.Direction, sign = Underperformed, 1
	case mean > 0:
		d.Direction, sign = Overperformed, -1
	default:
		d.Direction = Mixed
		d.Rationale = fmt.Sprintf("flagged metrics %v cancel out; no adjustment proposed", names)
		return d
	}

	d.ThresholdDelta = sign * p.Calibration.ThresholdStep
	if len(p.RoleWeights) > 0 && p.Calibration.WeightStep > 0 {
		d.RoleWeightDeltas = map[string]float64{}
		for _, st := range stances {
			if _, ok := p.RoleWeights[st.Role]; !ok {
				continue
			}
			if _, seen := d.RoleWeightDeltas[st.Role]; seen {
				continue
			}
			if st.Composite >= aggregate {
				d.RoleWeightDeltas[st.Role] = -sign * p.Calibration.WeightStep
			} else {
				d.RoleWeightDeltas[st.Role] = sign * p.Calibration.WeightStep
			}
		}
	}
	d.Rationale = fmt.Sprintf("%s on %v (mean relative diff %.3f, alert ratio %.3f)", d.Direction, names, mean, va.AlertRatio)
	return d
}

// Apply returns the next version of p with d applied. The threshold is
// clamped to [Retry.MinThreshold, 1], weights are floored at zero and then
// rescaled to the previous total.
func Apply(p *policy.Policy, d *CalibrationDelta) (*policy.Policy, error) {
	if d.PolicyName != p.Name {
		return nil, fmt.Errorf("calibration for policy %s cannot apply to %s", d.PolicyName, p.Name)
	}
	next := p.Clone()
	next.Version = p.Version + 1
	next.Threshold = math.Min(1, math.Max(p.Retry.MinThreshold, p.Threshold+d.ThresholdDelta))

	if len(d.RoleWeightDeltas) > 0 && len(next.RoleWeights) > 0 {
		var before, after float64
		for _, w := range next.RoleWeights {
			before += w
		}
		roles := make([]string, 0, len(d.RoleWeightDeltas))
		for r := range d.RoleWeightDeltas {
			roles = append(roles, r)
		}
		slices.Sort(roles)
		for _, r := range roles {
			if w, ok := next.RoleWeights[r]; ok {
				next.RoleWeights[r] = math.Max(0, w+d.RoleWeightDeltas[r])
			}
		}
		for _, w := range next.RoleWeights {
			after += w
		}
		if after > 0 && before > 0 {
			scale := before / after
			for r, w := range next.RoleWeights {
				next.RoleWeights[r] = w * scale
			}
		}
	}

	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}
