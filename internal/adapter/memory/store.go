// Package memory implements artifactstore.Store in process memory. It backs
// tests and single-node development runs; nothing survives a restart.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/Boardroom/internal/domain"
	"github.com/Strob0t/Boardroom/internal/domain/artifact"
	"github.com/Strob0t/Boardroom/internal/domain/provenance"
	"github.com/Strob0t/Boardroom/internal/domain/schema"
)

const defaultPageSize = 200

// Store is an in-memory artifact store.
type Store struct {
	now      func() time.Time
	pageSize int

	idLocks sync.Map // artifact id -> *sync.Mutex

	mu       sync.RWMutex
	seq      int64
	versions map[string][]*artifact.Artifact
	receipts []provenance.Receipt
	linkKeys map[string]int // provenance.Key -> index into receipts
	log      []artifact.LogEntry
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPageSize sets how many items Query and WriteLog read per page.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		pageSize: defaultPageSize,
		versions: make(map[string][]*artifact.Artifact),
		linkKeys: make(map[string]int),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) lockID(id string) func() {
	v, _ := s.idLocks.LoadOrStore(id, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func (s *Store) latest(id string) *artifact.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.versions[id]
	if len(vs) == 0 {
		return nil
	}
	return vs[len(vs)-1]
}

// Put validates and stores a new artifact version.
func (s *Store) Put(ctx context.Context, a *artifact.Artifact) (*artifact.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	next := a.Clone()
	if err := next.Prepare(); err != nil {
		return nil, err
	}
	if err := schema.Validate(next); err != nil {
		return nil, err
	}
	if err := schema.CheckReferences(ctx, next, s.Get); err != nil {
		return nil, err
	}

	unlock := s.lockID(next.ID)
	defer unlock()

	now := s.now().UTC()
	prev := s.latest(next.ID)
	if prev != nil {
		verdict, err := artifact.CheckSuccession(prev, next)
		if err != nil {
			return nil, err
		}
		if verdict == artifact.Unchanged {
			return prev.Clone(), nil
		}
		next.Version = prev.Version + 1
		next.CreatedAt = prev.CreatedAt
		if next.TreeID == "" {
			next.TreeID = prev.TreeID
		}
	} else {
		next.Version = 1
		next.CreatedAt = now
	}
	next.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	next.Seq = s.seq
	s.log = append(s.log, artifact.LogEntry{
		Seq:        next.Seq,
		Op:         artifact.OpPut,
		ArtifactID: next.ID,
		Kind:       next.Kind,
		Version:    next.Version,
		Hash:       next.ContentHash,
		Actor:      next.CreatedBy,
		At:         now,
	})
	s.versions[next.ID] = append(s.versions[next.ID], next)
	return next.Clone(), nil
}

// Get returns the latest version of id.
func (s *Store) Get(ctx context.Context, id string) (*artifact.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a := s.latest(id)
	if a == nil {
		return nil, fmt.Errorf("get artifact %s: %w", id, domain.ErrNotFound)
	}
	return a.Clone(), nil
}

// GetVersion returns version v of id.
func (s *Store) GetVersion(ctx context.Context, id string, v int) (*artifact.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.versions[id]
	if v < 1 || v > len(vs) {
		return nil, fmt.Errorf("get artifact %s version %d: %w", id, v, domain.ErrNotFound)
	}
	return vs[v-1].Clone(), nil
}

// Link records a provenance receipt; repeated links return the first receipt.
func (s *Store) Link(ctx context.Context, fromID, toID string, rel provenance.Relationship, createdBy string) (*provenance.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := provenance.ValidateLink(fromID, toID, rel, createdBy); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range []string{fromID, toID} {
		if len(s.versions[id]) == 0 {
			return nil, fmt.Errorf("link %s -> %s: artifact %s: %w", fromID, toID, id, domain.ErrNotFound)
		}
	}
	key := provenance.Key(fromID, toID, rel)
	if i, ok := s.linkKeys[key]; ok {
		r := s.receipts[i]
		return &r, nil
	}

	now := s.now().UTC()
	s.seq++
	r := provenance.Receipt{
		ID:           uuid.NewString(),
		FromID:       fromID,
		ToID:         toID,
		Relationship: rel,
		Timestamp:    now,
		CreatedBy:    createdBy,
		Seq:          s.seq,
	}
	s.log = append(s.log, artifact.LogEntry{
		Seq:        r.Seq,
		Op:         artifact.OpLink,
		ArtifactID: fromID,
		ReceiptID:  r.ID,
		Actor:      createdBy,
		At:         now,
	})
	s.linkKeys[key] = len(s.receipts)
	s.receipts = append(s.receipts, r)
	return &r, nil
}

// Receipts returns the receipts touching id in log order.
func (s *Store) Receipts(ctx context.Context, id string) ([]provenance.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []provenance.Receipt
	for _, r := range s.receipts {
		if r.FromID == id || r.ToID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

// Query yields matching artifacts page by page, keyed on (created_at, id).
func (s *Store) Query(ctx context.Context, f artifact.Filter) iter.Seq2[*artifact.Artifact, error] {
	return func(yield func(*artifact.Artifact, error) bool) {
		var cursor *artifact.Artifact
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			page := s.queryPage(f, cursor)
			for _, a := range page {
				if !yield(a, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			cursor = page[len(page)-1]
		}
	}
}

func compareCreated(a, b *artifact.Artifact) int {
	return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
}

func (s *Store) queryPage(f artifact.Filter, after *artifact.Artifact) []*artifact.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*artifact.Artifact
	for _, vs := range s.versions {
		a := vs[len(vs)-1]
		if !f.Match(a) {
			continue
		}
		if after != nil && compareCreated(a, after) <= 0 {
			continue
		}
		matched = append(matched, a)
	}
	slices.SortFunc(matched, compareCreated)
	if len(matched) > s.pageSize {
		matched = matched[:s.pageSize]
	}
	out := make([]*artifact.Artifact, len(matched))
	for i, a := range matched {
		out[i] = a.Clone()
	}
	return out
}

// WriteLog yields log entries after afterSeq in sequence order.
func (s *Store) WriteLog(ctx context.Context, afterSeq int64) iter.Seq2[artifact.LogEntry, error] {
	return func(yield func(artifact.LogEntry, error) bool) {
		cursor := afterSeq
		for {
			if err := ctx.Err(); err != nil {
				yield(artifact.LogEntry{}, err)
				return
			}
			page := s.logPage(cursor)
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

func (s *Store) logPage(after int64) []artifact.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Seq starts at 1 and is dense, so entry n lives at index n-1.
	start := int(max(after, 0))
	if start >= len(s.log) {
		return nil
	}
	end := min(start+s.pageSize, len(s.log))
	return slices.Clone(s.log[start:end])
}
