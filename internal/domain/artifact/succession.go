package artifact

import (
	"encoding/json"
	"fmt"

	"github.com/Strob0t/Boardroom/internal/domain"
)

// Succession is the verdict for a proposed new version of an existing artifact.
type Succession int

const (
	// Unchanged means the payload is identical; the write is a no-op.
	Unchanged Succession = iota
	// NextVersion means the payload is accepted as version N+1.
	NextVersion
)

// sealedStatusFlow lists the status moves still allowed once an artifact of
// the given kind is sealed. Nothing else in a sealed payload may change.
var sealedStatusFlow = map[Kind]map[string]string{
	KindDecision: {
		"approved": "executed",
		"executed": "archived",
	},
}

// CheckSuccession decides whether next may follow prev.
func CheckSuccession(prev, next *Artifact) (Succession, error) {
	if prev.Kind != next.Kind {
		return 0, fmt.Errorf("artifact %s: kind %s cannot become %s: %w", prev.ID, prev.Kind, next.Kind, domain.ErrConflict)
	}
	if prev.ContentHash == next.ContentHash {
		return Unchanged, nil
	}
	if prev.Kind.Immutable() {
		return 0, fmt.Errorf("artifact %s: %s artifacts are immutable: %w", prev.ID, prev.Kind, domain.ErrConflict)
	}
	if !prev.Sealed {
		return NextVersion, nil
	}
	if !next.Sealed {
		return 0, fmt.Errorf("artifact %s: cannot unseal: %w", prev.ID, domain.ErrConflict)
	}
	if err := checkSealedStatusMove(prev, next); err != nil {
		return 0, err
	}
	return NextVersion, nil
}

func checkSealedStatusMove(prev, next *Artifact) error {
	flow, ok := sealedStatusFlow[prev.Kind]
	if !ok {
		return fmt.Errorf("artifact %s: sealed %s cannot change: %w", prev.ID, prev.Kind, domain.ErrConflict)
	}

	var before, after map[string]json.RawMessage
	if err := json.Unmarshal(prev.Payload, &before); err != nil {
		return fmt.Errorf("artifact %s: decode stored payload: %w", prev.ID, err)
	}
	if err := json.Unmarshal(next.Payload, &after); err != nil {
		return fmt.Errorf("artifact %s: decode payload: %w", prev.ID, domain.ErrValidation)
	}
	if len(before) != len(after) {
		return fmt.Errorf("artifact %s: sealed fields changed: %w", prev.ID, domain.ErrConflict)
	}
	for k, v := range before {
		if k == "status" {
			continue
		}
		w, ok := after[k]
		if !ok || !sameJSON(v, w) {
			return fmt.Errorf("artifact %s: sealed field %q changed: %w", prev.ID, k, domain.ErrConflict)
		}
	}

	var from, to string
	_ = json.Unmarshal(before["status"], &from)
	_ = json.Unmarshal(after["status"], &to)
	if flow[from] != to || to == "" {
		return fmt.Errorf("artifact %s: status %q -> %q not allowed once sealed: %w", prev.ID, from, to, domain.ErrConflict)
	}
	return nil
}

func sameJSON(a, b json.RawMessage) bool {
	ha, errA := Hash(a)
	hb, errB := Hash(b)
	return errA == nil && errB == nil && ha == hb
}
