package artifact

import "time"

// Filter selects artifacts by kind, tree and creation time. Zero fields match all.
// Until is exclusive.
type Filter struct {
	Kind   Kind      `json:"kind,omitempty"`
	TreeID string    `json:"tree_id,omitempty"`
	Since  time.Time `json:"since,omitzero"`
	Until  time.Time `json:"until,omitzero"`
}

// Match reports whether a satisfies the filter.
func (f Filter) Match(a *Artifact) bool {
	if f.Kind != "" && a.Kind != f.Kind {
		return false
	}
	if f.TreeID != "" && a.TreeID != f.TreeID {
		return false
	}
	if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !a.CreatedAt.Before(f.Until) {
		return false
	}
	return true
}

// LogOp is the operation recorded in a write log entry.
type LogOp string

const (
	OpPut  LogOp = "put"
	OpLink LogOp = "link"
)

// LogEntry is one record of the append-only write log.
type LogEntry struct {
	Seq        int64     `json:"seq"`
	Op         LogOp     `json:"op"`
	ArtifactID string    `json:"artifact_id,omitempty"`
	Kind       Kind      `json:"kind,omitempty"`
	Version    int       `json:"version,omitempty"`
	Hash       string    `json:"content_hash,omitempty"`
	ReceiptID  string    `json:"receipt_id,omitempty"`
	Actor      string    `json:"actor"`
	At         time.Time `json:"at"`
}
