// Package provenance defines the receipts that link governance artifacts.
package provenance

import (
	"fmt"
	"time"

	"github.com/Strob0t/Boardroom/internal/domain"
)

// Relationship names the kind of link between two artifacts.
type Relationship string

const (
	RelEvaluatedBy  Relationship = "evaluated_by"   // tree -> score
	RelContributes  Relationship = "contributes_to" // score -> decision
	RelDecidedBy    Relationship = "decided_by"     // tree -> decision
	RelGoverns      Relationship = "governs"        // policy -> decision
	RelReviewedBy   Relationship = "reviewed_by"    // decision -> review
	RelExecutedAs   Relationship = "executed_as"    // decision -> execution
	RelMeasuredBy   Relationship = "measured_by"    // decision -> outcome
	RelCalibrates   Relationship = "calibrates"     // outcome -> policy
	RelTracksState  Relationship = "tracks_state"   // tree -> lifecycle
	RelSupersededBy Relationship = "superseded_by"  // decision -> decision
)

var known = map[Relationship]bool{
	RelEvaluatedBy:  true,
	RelContributes:  true,
	RelDecidedBy:    true,
	RelGoverns:      true,
	RelReviewedBy:   true,
	RelExecutedAs:   true,
	RelMeasuredBy:   true,
	RelCalibrates:   true,
	RelTracksState:  true,
	RelSupersededBy: true,
}

// IsValid reports whether r is a known relationship.
func (r Relationship) IsValid() bool { return known[r] }

// Receipt is an append-only record that FromID relates to ToID.
type Receipt struct {
	ID           string       `json:"id"`
	FromID       string       `json:"from_id"`
	ToID         string       `json:"to_id"`
	Relationship Relationship `json:"relationship_type"`
	Timestamp    time.Time    `json:"timestamp"`
	CreatedBy    string       `json:"created_by"`
	Seq          int64        `json:"seq"`
}

// ValidateLink checks link arguments before any endpoint lookup.
func ValidateLink(from, to string, rel Relationship, createdBy string) error {
	switch {
	case from == "" || to == "":
		return fmt.Errorf("link endpoints are required: %w", domain.ErrValidation)
	case from == to:
		return fmt.Errorf("link %s to itself: %w", from, domain.ErrValidation)
	case !rel.IsValid():
		return fmt.Errorf("unknown relationship %q: %w", rel, domain.ErrValidation)
	case createdBy == "":
		return fmt.Errorf("link created_by is required: %w", domain.ErrValidation)
	}
	return nil
}

// Key identifies a receipt for idempotent linking.
func Key(from, to string, rel Relationship) string {
	return from + "|" + string(rel) + "|" + to
}
