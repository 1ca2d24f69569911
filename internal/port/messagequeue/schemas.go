package messagequeue

import "time"

// LifecycleEventPayload is the schema for decisions.lifecycle.{state} messages.
type LifecycleEventPayload struct {
	TreeID     string    `json:"tree_id"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to"`
	Round      int       `json:"round"`
	DecisionID string    `json:"decision_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// CalibrationProposedPayload is the schema for decisions.calibration.proposed messages.
type CalibrationProposedPayload struct {
	OutcomeID  string   `json:"outcome_id"`
	DecisionID string   `json:"decision_id"`
	PolicyName string   `json:"policy_name"`
	Direction  string   `json:"direction"`
	Flagged    []string `json:"flagged_metrics"`
}
