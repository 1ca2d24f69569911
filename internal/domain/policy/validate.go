package policy

import (
	"fmt"
	"math"

	"github.com/Strob0t/Boardroom/internal/domain"
)

// Validate checks that a Policy is well-formed.
func (p *Policy) Validate() error {
	if err := p.validate(); err != nil {
		return fmt.Errorf("policy %s: %w: %w", p.Name, err, domain.ErrValidation)
	}
	return nil
}

func (p *Policy) validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	if !isValidMode(p.Mode) {
		return fmt.Errorf("invalid mode %q", p.Mode)
	}
	if !unit(p.Threshold) {
		return fmt.Errorf("threshold must be within [0,1]")
	}
	for role, w := range p.RoleWeights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("role weight %s must be >= 0", role)
		}
	}
	if p.Mode == ModeVeto {
		if len(p.VetoRoles) == 0 {
			return fmt.Errorf("veto mode requires veto_roles")
		}
		if !unit(p.VetoFloor) {
			return fmt.Errorf("veto_floor must be within [0,1]")
		}
	}
	if p.DissentMargin < 0 {
		return fmt.Errorf("dissent_margin must be >= 0")
	}
	if !unit(p.Guardrail.ConfidenceFloor) {
		return fmt.Errorf("guardrail.confidence_floor must be within [0,1]")
	}
	if p.Guardrail.NearMissMargin < 0 {
		return fmt.Errorf("guardrail.near_miss_margin must be >= 0")
	}
	seen := map[string]bool{}
	for i, r := range p.Guardrail.Rules {
		if r.Name == "" || r.Expr == "" {
			return fmt.Errorf("guardrail.rules[%d]: name and expr are required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("guardrail.rules[%d]: duplicate name %q", i, r.Name)
		}
		seen[r.Name] = true
	}
	if p.Scoring.TaskTimeout < 0 || p.Scoring.RoundTimeout < 0 {
		return fmt.Errorf("scoring timeouts must be >= 0")
	}
	if !unit(p.Scoring.MissingCeiling) {
		return fmt.Errorf("scoring.missing_ceiling must be within [0,1]")
	}
	if p.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if p.Retry.RelaxStep < 0 || !unit(p.Retry.MinThreshold) || p.Retry.MinThreshold > p.Threshold {
		return fmt.Errorf("retry.relax_step must be >= 0 and retry.min_threshold within [0, threshold]")
	}
	if p.Calibration.AlertRatio < 0 || p.Calibration.WeightStep < 0 || p.Calibration.ThresholdStep < 0 {
		return fmt.Errorf("calibration values must be >= 0")
	}
	return nil
}

func isValidMode(m ConsensusMode) bool {
	switch m {
	case ModeUnanimity, ModeWeightedMajority, ModeVeto:
		return true
	}
	return false
}

func unit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
