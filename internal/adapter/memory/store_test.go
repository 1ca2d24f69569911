package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/Strob0t/Boardroom/internal/domain/artifact"
	"github.com/Strob0t/Boardroom/internal/port/artifactstore"
	"github.com/Strob0t/Boardroom/internal/port/artifactstore/storetest"
)

func TestStoreSuite(t *testing.T) {
	storetest.Run(t, func(_ *testing.T, pageSize int) artifactstore.Store {
		return New(WithPageSize(pageSize))
	})
}

func TestConcurrentPutsSerializePerID(t *testing.T) {
	s := New()
	ctx := context.Background()
	a, dt := storetest.Tree(t)
	if _, err := s.Put(ctx, a); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := *dt
			next.Annotations = map[string]string{"rev": fmt.Sprint(i)}
			b, err := artifact.New(artifact.KindTree, dt.ID, dt.ID, "test", &next, false)
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := s.Put(ctx, b); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	latest, err := s.Get(ctx, dt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Version != 21 {
		t.Fatalf("version = %d, want 21", latest.Version)
	}
	for v := 1; v <= 21; v++ {
		got, err := s.GetVersion(ctx, dt.ID, v)
		if err != nil {
			t.Fatal(err)
		}
		if got.Version != v {
			t.Fatalf("version %d stored as %d", v, got.Version)
		}
	}
}

func TestQueryHonorsCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, err := range s.Query(ctx, artifact.Filter{}) {
		if err == nil {
			t.Fatal("expected context error")
		}
		return
	}
	t.Fatal("expected one error item")
}
