// Package artifactstore defines the port interface for the append-only,
// versioned artifact store and its provenance graph.
package artifactstore

import (
	"context"
	"iter"

	"github.com/Strob0t/Boardroom/internal/domain/artifact"
	"github.com/Strob0t/Boardroom/internal/domain/provenance"
)

// Store persists versioned artifacts and the receipts linking them.
// Implementations serialize writes per artifact id and record every accepted
// write in a monotonically ordered log before acknowledging it.
type Store interface {
	// Put validates a and stores it. An identical payload returns the
	// stored version unchanged. A differing payload on a sealed artifact or
	// an immutable kind fails with domain.ErrConflict. Otherwise the next
	// version is appended.
	Put(ctx context.Context, a *artifact.Artifact) (*artifact.Artifact, error)

	// Get returns the latest version of id.
	Get(ctx context.Context, id string) (*artifact.Artifact, error)

	// GetVersion returns one specific version of id.
	GetVersion(ctx context.Context, id string, version int) (*artifact.Artifact, error)

	// Link records a receipt from -> to. Linking the same triple twice
	// returns the original receipt.
	Link(ctx context.Context, fromID, toID string, rel provenance.Relationship, createdBy string) (*provenance.Receipt, error)

	// Query yields the latest version of every artifact matching f, ordered
	// by creation time then id. Iteration pages lazily.
	Query(ctx context.Context, f artifact.Filter) iter.Seq2[*artifact.Artifact, error]

	// Receipts returns every receipt where id is either endpoint, in log order.
	Receipts(ctx context.Context, id string) ([]provenance.Receipt, error)

	// WriteLog yields log entries with a sequence number greater than afterSeq.
	WriteLog(ctx context.Context, afterSeq int64) iter.Seq2[artifact.LogEntry, error]
}
