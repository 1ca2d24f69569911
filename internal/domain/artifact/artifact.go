// Package artifact defines the versioned envelope every governance record is
// persisted in, together with the rules for accepting a new version of an
// existing artifact.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/Strob0t/Boardroom/internal/domain"
)

// Kind identifies the payload type stored in an artifact.
type Kind string

const (
	KindTree      Kind = "tree"
	KindScore     Kind = "score"
	KindDecision  Kind = "decision"
	KindOutcome   Kind = "outcome"
	KindPolicy    Kind = "policy"
	KindLifecycle Kind = "lifecycle"
	KindReview    Kind = "review"
	KindExecution Kind = "execution"
)

var validKinds = map[Kind]bool{
	KindTree:      true,
	KindScore:     true,
	KindDecision:  true,
	KindOutcome:   true,
	KindPolicy:    true,
	KindLifecycle: true,
	KindReview:    true,
	KindExecution: true,
}

// immutableKinds are written exactly once; every write is sealed.
var immutableKinds = map[Kind]bool{
	KindScore:     true,
	KindOutcome:   true,
	KindReview:    true,
	KindExecution: true,
}

// IsValid reports whether k is a known artifact kind.
func (k Kind) IsValid() bool { return validKinds[k] }

// Immutable reports whether artifacts of kind k can never take a second version.
func (k Kind) Immutable() bool { return immutableKinds[k] }

// Artifact is the storage envelope. Version, Seq and timestamps are assigned
// by the store on Put.
type Artifact struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	TreeID      string          `json:"tree_id,omitempty"`
	Version     int             `json:"version"`
	Payload     json.RawMessage `json:"payload"`
	ContentHash string          `json:"content_hash"`
	Sealed      bool            `json:"sealed"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Seq         int64           `json:"seq"`
}

// validator is implemented by payloads that carry their own invariants.
type validator interface {
	Validate() error
}

// New builds an artifact around payload. The payload is validated when it
// implements Validate, then encoded and content-hashed.
func New(kind Kind, id, treeID, createdBy string, payload any, sealed bool) (*Artifact, error) {
	if v, ok := payload.(validator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, domain.ErrValidation)
	}
	a := &Artifact{
		ID:        id,
		Kind:      kind,
		TreeID:    treeID,
		Payload:   raw,
		Sealed:    sealed || kind.Immutable(),
		CreatedBy: createdBy,
	}
	if err := a.Prepare(); err != nil {
		return nil, err
	}
	return a, nil
}

// Prepare checks the envelope fields and recomputes the content hash.
func (a *Artifact) Prepare() error {
	switch {
	case a.ID == "":
		return fmt.Errorf("artifact id is required: %w", domain.ErrValidation)
	case !a.Kind.IsValid():
		return fmt.Errorf("artifact %s: unknown kind %q: %w", a.ID, a.Kind, domain.ErrValidation)
	case a.CreatedBy == "":
		return fmt.Errorf("artifact %s: created_by is required: %w", a.ID, domain.ErrValidation)
	case len(a.Payload) == 0:
		return fmt.Errorf("artifact %s: payload is required: %w", a.ID, domain.ErrValidation)
	}
	h, err := Hash(a.Payload)
	if err != nil {
		return fmt.Errorf("artifact %s: %w", a.ID, err)
	}
	a.ContentHash = h
	if a.Kind.Immutable() {
		a.Sealed = true
	}
	return nil
}

// Hash returns the hex SHA-256 of the RFC 8785 canonical form of payload.
func Hash(payload json.RawMessage) (string, error) {
	canon, err := jcs.Transform(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", domain.ErrValidation)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Decode unmarshals the artifact payload into T.
func Decode[T any](a *Artifact) (*T, error) {
	var v T
	if err := json.Unmarshal(a.Payload, &v); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", a.Kind, a.ID, err)
	}
	return &v, nil
}

// Clone returns a deep copy safe to hand out of a store.
func (a *Artifact) Clone() *Artifact {
	c := *a
	c.Payload = append(json.RawMessage(nil), a.Payload...)
	return &c
}
