package cachedstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/Boardroom/internal/adapter/memory"
	"github.com/Strob0t/Boardroom/internal/domain/decision"
	"github.com/Strob0t/Boardroom/internal/port/artifactstore"
	"github.com/Strob0t/Boardroom/internal/port/artifactstore/storetest"
	"github.com/Strob0t/Boardroom/internal/port/cache/cachetest"
)

func TestStoreSuite(t *testing.T) {
	storetest.Run(t, func(_ *testing.T, pageSize int) artifactstore.Store {
		return New(memory.New(memory.WithPageSize(pageSize)), cachetest.NewMap(), time.Minute)
	})
}

func TestCachesOnlySealedContent(t *testing.T) {
	ctx := context.Background()
	c := cachetest.NewMap()
	s := New(memory.New(), c, time.Minute)

	tr, dt := storetest.Tree(t)
	if _, err := s.Put(ctx, tr); err != nil {
		t.Fatal(err)
	}
	sc := storetest.Score(t, dt.ID, "de", "ceo", 0.6)
	if _, err := s.Put(ctx, sc); err != nil {
		t.Fatal(err)
	}

	if _, ok := c.Data[latestKey(tr.ID)]; ok {
		t.Error("mutable tree must not be cached")
	}
	if _, ok := c.Data[latestKey(sc.ID)]; !ok {
		t.Error("immutable score should be cached by id")
	}
	if _, ok := c.Data[versionKey(sc.ID, 1)]; !ok {
		t.Error("sealed score version should be cached")
	}
}

func TestSealedDecisionLatestReadsThrough(t *testing.T) {
	ctx := context.Background()
	c := cachetest.NewMap()
	s := New(memory.New(), c, time.Minute)

	treeID, id := storetest.StoredTree(t, s), "dec-1"
	if _, err := s.Put(ctx, storetest.Decision(t, treeID, id, decision.StatusApproved, "de")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, storetest.Decision(t, treeID, id, decision.StatusExecuted, "de")); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 2 {
		t.Fatalf("Get returned stale version %d", got.Version)
	}
}

func TestCacheFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	c := cachetest.NewMap()
	backing := memory.New()
	s := New(backing, c, time.Minute)

	sc := storetest.Score(t, storetest.StoredTree(t, backing), "de", "ceo", 0.4)
	if _, err := backing.Put(ctx, sc); err != nil {
		t.Fatal(err)
	}
	c.Err = errors.New("cache down")
	got, err := s.Get(ctx, sc.ID)
	if err != nil {
		t.Fatalf("expected fallback to the store, got %v", err)
	}
	if got.ContentHash != sc.ContentHash {
		t.Fatal("unexpected artifact")
	}
}
