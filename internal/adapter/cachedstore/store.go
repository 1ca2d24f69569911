// Package cachedstore decorates an artifact store with a read-through cache
// for content that can no longer change.
package cachedstore

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"strconv"
	"time"

	"github.com/Strob0t/Boardroom/internal/domain/artifact"
	"github.com/Strob0t/Boardroom/internal/domain/provenance"
	"github.com/Strob0t/Boardroom/internal/port/artifactstore"
	"github.com/Strob0t/Boardroom/internal/port/cache"
)

// Store caches immutable artifacts by id and sealed versions by id and
// version. Mutable latest-version reads always go to the backing store.
type Store struct {
	next  artifactstore.Store
	cache cache.Cache
	ttl   time.Duration
}

var _ artifactstore.Store = (*Store)(nil)

// New wraps next with c. ttl is passed to every cache write.
func New(next artifactstore.Store, c cache.Cache, ttl time.Duration) *Store {
	return &Store{next: next, cache: c, ttl: ttl}
}

func latestKey(id string) string { return "artifact:" + id }

func versionKey(id string, v int) string { return "artifact:" + id + "@" + strconv.Itoa(v) }

func (s *Store) load(ctx context.Context, key string) *artifact.Artifact {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("artifact cache get failed", "key", key, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	var a artifact.Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		slog.Warn("artifact cache entry corrupt", "key", key, "error", err)
		_ = s.cache.Delete(ctx, key)
		return nil
	}
	return &a
}

func (s *Store) remember(ctx context.Context, a *artifact.Artifact) {
	if !a.Sealed {
		return
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, versionKey(a.ID, a.Version), raw, s.ttl); err != nil {
		slog.Warn("artifact cache set failed", "id", a.ID, "error", err)
	}
	if a.Kind.Immutable() {
		_ = s.cache.Set(ctx, latestKey(a.ID), raw, s.ttl)
	}
}

// Put writes through and caches the result when it is sealed.
func (s *Store) Put(ctx context.Context, a *artifact.Artifact) (*artifact.Artifact, error) {
	stored, err := s.next.Put(ctx, a)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, stored)
	return stored, nil
}

// Get serves immutable kinds from the cache.
func (s *Store) Get(ctx context.Context, id string) (*artifact.Artifact, error) {
	if a := s.load(ctx, latestKey(id)); a != nil {
		return a, nil
	}
	a, err := s.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, a)
	return a, nil
}

// GetVersion serves sealed versions from the cache.
func (s *Store) GetVersion(ctx context.Context, id string, v int) (*artifact.Artifact, error) {
	if a := s.load(ctx, versionKey(id, v)); a != nil {
		return a, nil
	}
	a, err := s.next.GetVersion(ctx, id, v)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, a)
	return a, nil
}

// Link passes through.
func (s *Store) Link(ctx context.Context, fromID, toID string, rel provenance.Relationship, createdBy string) (*provenance.Receipt, error) {
	return s.next.Link(ctx, fromID, toID, rel, createdBy)
}

// Query passes through.
func (s *Store) Query(ctx context.Context, f artifact.Filter) iter.Seq2[*artifact.Artifact, error] {
	return s.next.Query(ctx, f)
}

// Receipts passes through.
func (s *Store) Receipts(ctx context.Context, id string) ([]provenance.Receipt, error) {
	return s.next.Receipts(ctx, id)
}

// WriteLog passes through.
func (s *Store) WriteLog(ctx context.Context, afterSeq int64) iter.Seq2[artifact.LogEntry, error] {
	return s.next.WriteLog(ctx, afterSeq)
}
