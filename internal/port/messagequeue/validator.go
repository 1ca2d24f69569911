package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case strings.HasPrefix(subject, SubjectLifecycle+"."):
		var p LifecycleEventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.TreeID == "" {
			return fmt.Errorf("schema validation failed for %s: tree_id is required", subject)
		}
		if state := strings.TrimPrefix(subject, SubjectLifecycle+"."); p.To != state {
			return fmt.Errorf("schema validation failed for %s: payload state %q does not match subject", subject, p.To)
		}
	case subject == SubjectCalibration:
		var p CalibrationProposedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
	}
	return nil
}
