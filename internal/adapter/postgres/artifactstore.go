package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/Boardroom/internal/domain"
	"github.com/Strob0t/Boardroom/internal/domain/artifact"
	"github.com/Strob0t/Boardroom/internal/domain/provenance"
	"github.com/Strob0t/Boardroom/internal/domain/schema"
)

const defaultPageSize = 200

// ArtifactStore implements artifactstore.Store on PostgreSQL. Every accepted
// write inserts its write_log row first, inside the same transaction that
// holds an advisory lock on the artifact id.
type ArtifactStore struct {
	pool     *pgxpool.Pool
	pageSize int
}

// NewArtifactStore creates a store on pool. pageSize bounds Query and
// WriteLog pages; zero selects the default.
func NewArtifactStore(pool *pgxpool.Pool, pageSize int) *ArtifactStore {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &ArtifactStore{pool: pool, pageSize: pageSize}
}

// artifactColumns selects the latest version joined with its index row.
const artifactColumns = `a.id, a.kind, a.tree_id, v.version, v.payload, v.content_hash, v.sealed,
	v.created_by, a.created_at, v.recorded_at, v.seq`

const latestJoin = `FROM artifacts a JOIN artifact_versions v ON v.artifact_id = a.id AND v.version = a.latest_version`

func scanArtifact(row scannable) (*artifact.Artifact, error) {
	var a artifact.Artifact
	var kind string
	var payload []byte
	if err := row.Scan(&a.ID, &kind, &a.TreeID, &a.Version, &payload, &a.ContentHash, &a.Sealed,
		&a.CreatedBy, &a.CreatedAt, &a.UpdatedAt, &a.Seq); err != nil {
		return nil, err
	}
	a.Kind = artifact.Kind(kind)
	a.Payload = payload
	return &a, nil
}

func lockKey(ctx context.Context, tx pgx.Tx, key string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("advisory lock %s: %w", key, err)
	}
	return nil
}

// Put validates and stores a new artifact version.
func (s *ArtifactStore) Put(ctx context.Context, in *artifact.Artifact) (*artifact.Artifact, error) {
	a := in.Clone()
	if err := a.Prepare(); err != nil {
		return nil, err
	}
	if err := schema.Validate(a); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("put artifact %s: begin: %w", a.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockKey(ctx, tx, a.ID); err != nil {
		return nil, err
	}
	if err := schema.CheckReferences(ctx, a, func(ctx context.Context, id string) (*artifact.Artifact, error) {
		ref, err := scanArtifact(tx.QueryRow(ctx, `SELECT `+artifactColumns+` `+latestJoin+` WHERE a.id = $1`, id))
		if err != nil {
			return nil, lookupErr(err, id, 0)
		}
		return ref, nil
	}); err != nil {
		return nil, err
	}

	prev, err := scanArtifact(tx.QueryRow(ctx, `SELECT `+artifactColumns+` `+latestJoin+` WHERE a.id = $1`, a.ID))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		prev = nil
		a.Version = 1
	case err != nil:
		return nil, fmt.Errorf("put artifact %s: load latest: %w", a.ID, err)
	default:
		verdict, err := artifact.CheckSuccession(prev, a)
		if err != nil {
			return nil, err
		}
		if verdict == artifact.Unchanged {
			return prev, nil
		}
		a.Version = prev.Version + 1
		if a.TreeID == "" {
			a.TreeID = prev.TreeID
		}
	}

	var at time.Time
	err = tx.QueryRow(ctx,
		`INSERT INTO write_log (op, artifact_id, kind, version, content_hash, actor)
		 VALUES ('put', $1, $2, $3, $4, $5) RETURNING seq, at`,
		a.ID, string(a.Kind), a.Version, a.ContentHash, a.CreatedBy).Scan(&a.Seq, &at)
	if err != nil {
		return nil, fmt.Errorf("put artifact %s: write log: %w", a.ID, err)
	}
	a.UpdatedAt = at
	a.CreatedAt = at
	if prev != nil {
		a.CreatedAt = prev.CreatedAt
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO artifacts (id, kind, tree_id, latest_version, sealed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (id) DO UPDATE SET latest_version = EXCLUDED.latest_version,
		     sealed = EXCLUDED.sealed, updated_at = EXCLUDED.updated_at`,
		a.ID, string(a.Kind), a.TreeID, a.Version, a.Sealed, at)
	if err != nil {
		return nil, fmt.Errorf("put artifact %s: index: %w", a.ID, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO artifact_versions (artifact_id, version, payload, content_hash, sealed, created_by, seq, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Version, []byte(a.Payload), a.ContentHash, a.Sealed, a.CreatedBy, a.Seq, at)
	if err != nil {
		return nil, fmt.Errorf("put artifact %s: version %d: %w", a.ID, a.Version, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("put artifact %s: commit: %w", a.ID, err)
	}
	return a, nil
}

// Get returns the latest version of id.
func (s *ArtifactStore) Get(ctx context.Context, id string) (*artifact.Artifact, error) {
	a, err := scanArtifact(s.pool.QueryRow(ctx, `SELECT `+artifactColumns+` `+latestJoin+` WHERE a.id = $1`, id))
	if err != nil {
		return nil, lookupErr(err, id, 0)
	}
	return a, nil
}

// GetVersion returns version v of id.
func (s *ArtifactStore) GetVersion(ctx context.Context, id string, v int) (*artifact.Artifact, error) {
	a, err := scanArtifact(s.pool.QueryRow(ctx,
		`SELECT a.id, a.kind, a.tree_id, v.version, v.payload, v.content_hash, v.sealed,
		        v.created_by, a.created_at, v.recorded_at, v.seq
		 FROM artifacts a JOIN artifact_versions v ON v.artifact_id = a.id
		 WHERE a.id = $1 AND v.version = $2`, id, v))
	if err != nil {
		return nil, lookupErr(err, id, v)
	}
	return a, nil
}

const receiptColumns = `id::text, from_id, to_id, relationship_type, created_at, created_by, seq`

func scanReceipt(row scannable) (*provenance.Receipt, error) {
	var r provenance.Receipt
	var rel string
	if err := row.Scan(&r.ID, &r.FromID, &r.ToID, &rel, &r.Timestamp, &r.CreatedBy, &r.Seq); err != nil {
		return nil, err
	}
	r.Relationship = provenance.Relationship(rel)
	return &r, nil
}

// Link records a provenance receipt; repeated links return the first receipt.
func (s *ArtifactStore) Link(ctx context.Context, fromID, toID string, rel provenance.Relationship, createdBy string) (*provenance.Receipt, error) {
	if err := provenance.ValidateLink(fromID, toID, rel, createdBy); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("link %s -> %s: begin: %w", fromID, toID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockKey(ctx, tx, provenance.Key(fromID, toID, rel)); err != nil {
		return nil, err
	}

	existing, err := scanReceipt(tx.QueryRow(ctx,
		`SELECT `+receiptColumns+` FROM provenance_receipts
		 WHERE from_id = $1 AND to_id = $2 AND relationship_type = $3`, fromID, toID, string(rel)))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("link %s -> %s: lookup: %w", fromID, toID, err)
	}

	rows, err := tx.Query(ctx, `SELECT id FROM artifacts WHERE id = ANY($1)`, []string{fromID, toID})
	if err != nil {
		return nil, fmt.Errorf("link %s -> %s: endpoints: %w", fromID, toID, err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("link %s -> %s: endpoints: %w", fromID, toID, err)
	}
	for _, id := range []string{fromID, toID} {
		if !slices.Contains(found, id) {
			return nil, fmt.Errorf("link %s -> %s: artifact %s: %w", fromID, toID, id, domain.ErrNotFound)
		}
	}

	r := provenance.Receipt{
		ID:           uuid.NewString(),
		FromID:       fromID,
		ToID:         toID,
		Relationship: rel,
		CreatedBy:    createdBy,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO write_log (op, artifact_id, receipt_id, actor) VALUES ('link', $1, $2, $3) RETURNING seq, at`,
		fromID, r.ID, createdBy).Scan(&r.Seq, &r.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("link %s -> %s: write log: %w", fromID, toID, err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO provenance_receipts (id, from_id, to_id, relationship_type, created_by, seq, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, fromID, toID, string(rel), createdBy, r.Seq, r.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("link %s -> %s: insert: %w", fromID, toID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("link %s -> %s: commit: %w", fromID, toID, err)
	}
	return &r, nil
}

// Receipts returns the receipts touching id in log order.
func (s *ArtifactStore) Receipts(ctx context.Context, id string) ([]provenance.Receipt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+receiptColumns+` FROM provenance_receipts WHERE from_id = $1 OR to_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("receipts %s: %w", id, err)
	}
	defer rows.Close()

	var out []provenance.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Query yields matching artifacts page by page, keyed on (created_at, id).
func (s *ArtifactStore) Query(ctx context.Context, f artifact.Filter) iter.Seq2[*artifact.Artifact, error] {
	return func(yield func(*artifact.Artifact, error) bool) {
		var afterAt time.Time
		var afterID string
		for {
			page, err := s.queryPage(ctx, f, afterAt, afterID)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, a := range page {
				if !yield(a, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			last := page[len(page)-1]
			afterAt, afterID = last.CreatedAt, last.ID
		}
	}
}

func (s *ArtifactStore) queryPage(ctx context.Context, f artifact.Filter, afterAt time.Time, afterID string) ([]*artifact.Artifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+artifactColumns+` `+latestJoin+`
		 WHERE ($1 = '' OR a.kind = $1)
		   AND ($2 = '' OR a.tree_id = $2)
		   AND ($3::timestamptz IS NULL OR a.created_at >= $3)
		   AND ($4::timestamptz IS NULL OR a.created_at < $4)
		   AND ($5::timestamptz IS NULL OR (a.created_at, a.id) > ($5, $6))
		 ORDER BY a.created_at, a.id
		 LIMIT $7`,
		string(f.Kind), f.TreeID, optionalTime(f.Since), optionalTime(f.Until), optionalTime(afterAt), afterID, s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var page []*artifact.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		page = append(page, a)
	}
	return page, rows.Err()
}

// WriteLog yields log entries after afterSeq in sequence order.
func (s *ArtifactStore) WriteLog(ctx context.Context, afterSeq int64) iter.Seq2[artifact.LogEntry, error] {
	return func(yield func(artifact.LogEntry, error) bool) {
		cursor := afterSeq
		for {
			page, err := s.logPage(ctx, cursor)
			if err != nil {
				yield(artifact.LogEntry{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			cursor = page[len(page)-1].Seq
		}
	}
}

func (s *ArtifactStore) logPage(ctx context.Context, after int64) ([]artifact.LogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, op, artifact_id, kind, version, content_hash, COALESCE(receipt_id::text, ''), actor, at
		 FROM write_log WHERE seq > $1 ORDER BY seq LIMIT $2`, after, s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("read write log: %w", err)
	}
	defer rows.Close()

	var page []artifact.LogEntry
	for rows.Next() {
		var e artifact.LogEntry
		var op, kind string
		if err := rows.Scan(&e.Seq, &op, &e.ArtifactID, &kind, &e.Version, &e.Hash, &e.ReceiptID, &e.Actor, &e.At); err != nil {
			return nil, fmt.Errorf("scan write log: %w", err)
		}
		e.Op, e.Kind = artifact.LogOp(op), artifact.Kind(kind)
		page = append(page, e)
	}
	return page, rows.Err()
}
