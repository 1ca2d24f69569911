// Package policy defines consensus policies: how scores are aggregated, when
// a human must review, how scoring rounds are bounded and retried.
package policy

import "time"

// ConsensusMode selects the aggregation rule.
type ConsensusMode string

const (
	ModeUnanimity        ConsensusMode = "unanimity"
	ModeWeightedMajority ConsensusMode = "weighted_majority"
	ModeVeto             ConsensusMode = "veto"
)

// Policy is a named, versioned set of governance parameters. Each applied
// calibration produces a new Version.
type Policy struct {
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description"`
	Version     int           `json:"version" yaml:"version"`
	Mode        ConsensusMode `json:"mode" yaml:"mode"`
	Threshold   float64       `json:"threshold" yaml:"threshold"`

	// RoleWeights are policy-level weights per agent role, used by
	// weighted_majority. Empty means every role weighs the same.
	RoleWeights map[string]float64 `json:"role_weights,omitempty" yaml:"role_weights"`
	VetoRoles   []string           `json:"veto_roles,omitempty" yaml:"veto_roles"`
	VetoFloor   float64            `json:"veto_floor,omitempty" yaml:"veto_floor"`
	// DissentMargin flags contributors this far below the aggregate.
	DissentMargin float64 `json:"dissent_margin" yaml:"dissent_margin"`

	Guardrail   Guardrail   `json:"guardrail" yaml:"guardrail"`
	Scoring     Scoring     `json:"scoring" yaml:"scoring"`
	Retry       Retry       `json:"retry" yaml:"retry"`
	Calibration Calibration `json:"calibration" yaml:"calibration"`
}

// Guardrail configures when a draft decision must wait for human review.
type Guardrail struct {
	ConfidenceFloor      float64  `json:"confidence_floor" yaml:"confidence_floor"`
	NearMissMargin       float64  `json:"near_miss_margin" yaml:"near_miss_margin"`
	HumanGatedCategories []string `json:"human_gated_categories,omitempty" yaml:"human_gated_categories"`
	Rules                []Rule   `json:"rules,omitempty" yaml:"rules"`
}

// Rule is a custom CEL expression; true gates the decision to human review.
type Rule struct {
	Name string `json:"name" yaml:"name"`
	Expr string `json:"expr" yaml:"expr"`
}

// Scoring bounds a scoring round.
type Scoring struct {
	TaskTimeout  time.Duration `json:"task_timeout,omitempty" yaml:"task_timeout"`
	RoundTimeout time.Duration `json:"round_timeout,omitempty" yaml:"round_timeout"`
	// MissingCeiling is the largest tolerated fraction of missing scores per
	// branch; above it the branch is unscored.
	MissingCeiling float64 `json:"missing_ceiling" yaml:"missing_ceiling"`
}

// Retry bounds re-runs after a failed aggregation.
type Retry struct {
	MaxRetries   int     `json:"max_retries" yaml:"max_retries"`
	RelaxStep    float64 `json:"relax_step" yaml:"relax_step"`
	MinThreshold float64 `json:"min_threshold" yaml:"min_threshold"`
}

// Calibration configures outcome variance alerts and proposal step sizes.
type Calibration struct {
	AlertRatio    float64 `json:"alert_ratio" yaml:"alert_ratio"`
	WeightStep    float64 `json:"weight_step" yaml:"weight_step"`
	ThresholdStep float64 `json:"threshold_step" yaml:"threshold_step"`
}

// ArtifactID returns the artifact id a policy is stored under.
func ArtifactID(name string) string { return "policy:" + name }

// IsVetoRole reports whether role may veto.
func (p *Policy) IsVetoRole(role string) bool {
	for _, r := range p.VetoRoles {
		if r == role {
			return true
		}
	}
	return false
}

// IsHumanGated reports whether decisions in category always need review.
func (p *Policy) IsHumanGated(category string) bool {
	if category == "" {
		return false
	}
	for _, c := range p.Guardrail.HumanGatedCategories {
		if c == category {
			return true
		}
	}
	return false
}

// RelaxedThreshold returns the threshold after retries relaxations, floored
// at Retry.MinThreshold.
func (p *Policy) RelaxedThreshold(retries int) float64 {
	t := p.Threshold - float64(retries)*p.Retry.RelaxStep
	if t < p.Retry.MinThreshold {
		t = p.Retry.MinThreshold
	}
	return t
}

// Clone returns a deep copy.
func (p *Policy) Clone() *Policy {
	c := *p
	if p.RoleWeights != nil {
		c.RoleWeights = make(map[string]float64, len(p.RoleWeights))
		for k, v := range p.RoleWeights {
			c.RoleWeights[k] = v
		}
	}
	c.VetoRoles = append([]string(nil), p.VetoRoles...)
	c.Guardrail.HumanGatedCategories = append([]string(nil), p.Guardrail.HumanGatedCategories...)
	c.Guardrail.Rules = append([]Rule(nil), p.Guardrail.Rules...)
	return &c
}
