package policy

import "time"

// PresetUnanimousBoard returns the "unanimous-board" preset.
// Every contributor must clear the threshold; used for charter-level topics.
func PresetUnanimousBoard() Policy {
	return Policy{
		Name:          "unanimous-board",
		Description:   "Every contributing role must score the selected branch at or above the threshold.",
		Version:       1,
		Mode:          ModeUnanimity,
		Threshold:     0.7,
		DissentMargin: 0.15,
		Guardrail: Guardrail{
			ConfidenceFloor: 0.6,
			NearMissMargin:  0.05,
		},
		Scoring: Scoring{
			MissingCeiling: 0.0,
		},
		Retry: Retry{
			MaxRetries:   1,
			RelaxStep:    0.05,
			MinThreshold: 0.6,
		},
		Calibration: Calibration{
			AlertRatio:    0.15,
			WeightStep:    0.05,
			ThresholdStep: 0.02,
		},
	}
}

// PresetWeightedCSuite returns the "weighted-csuite" preset.
// Default: CEO/CFO/CTO weighted majority with one tolerated missing score in three.
func PresetWeightedCSuite() Policy {
	return Policy{
		Name:        "weighted-csuite",
		Description: "Weighted majority across the executive roles.",
		Version:     1,
		Mode:        ModeWeightedMajority,
		Threshold:   0.75,
		RoleWeights: map[string]float64{
			"CEO": 0.4,
			"CFO": 0.3,
			"CTO": 0.3,
		},
		DissentMargin: 0.15,
		Guardrail: Guardrail{
			ConfidenceFloor: 0.6,
			NearMissMargin:  0.05,
		},
		Scoring: Scoring{
			TaskTimeout:    30 * time.Second,
			MissingCeiling: 0.34,
		},
		Retry: Retry{
			MaxRetries:   2,
			RelaxStep:    0.05,
			MinThreshold: 0.6,
		},
		Calibration: Calibration{
			AlertRatio:    0.15,
			WeightStep:    0.05,
			ThresholdStep: 0.02,
		},
	}
}

// PresetVetoBoard returns the "veto-board" preset.
// CFO and legal can block any branch they score below the floor.
func PresetVetoBoard() Policy {
	return Policy{
		Name:          "veto-board",
		Description:   "Mean composite selection with CFO and legal veto.",
		Version:       1,
		Mode:          ModeVeto,
		Threshold:     0.65,
		VetoRoles:     []string{"CFO", "CLO"},
		VetoFloor:     0.4,
		DissentMargin: 0.2,
		Guardrail: Guardrail{
			ConfidenceFloor:      0.65,
			NearMissMargin:       0.1,
			HumanGatedCategories: []string{"legal", "m_and_a"},
		},
		Scoring: Scoring{
			MissingCeiling: 0.25,
		},
		Retry: Retry{
			MaxRetries:   1,
			RelaxStep:    0.05,
			MinThreshold: 0.55,
		},
		Calibration: Calibration{
			AlertRatio:    0.2,
			WeightStep:    0.05,
			ThresholdStep: 0.02,
		},
	}
}

// Presets returns all built-in policies.
func Presets() []Policy {
	return []Policy{
		PresetUnanimousBoard(),
		PresetWeightedCSuite(),
		PresetVetoBoard(),
	}
}
