// Package cachetest provides a compliance suite every cache.Cache
// implementation is tested against.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/Boardroom/internal/port/cache"
)

// Run runs the compliance suite against c. settle is called after every
// write for implementations that apply writes asynchronously; it may be nil.
func Run(t *testing.T, c cache.Cache, settle func()) {
	t.Helper()
	ctx := context.Background()
	wait := func() {
		if settle != nil {
			settle()
		}
	}

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "artifact:score:t1:r1:a:ceo@1", []byte(`{"id":"x"}`), time.Minute); err != nil {
			t.Fatal(err)
		}
		wait()
		val, found, err := c.Get(ctx, "artifact:score:t1:r1:a:ceo@1")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != `{"id":"x"}` {
			t.Fatalf("unexpected value %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "nonexistent-key")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "del-key", []byte("del-val"), time.Minute)
		wait()
		if err := c.Delete(ctx, "del-key"); err != nil {
			t.Fatal(err)
		}
		_, found, err := c.Get(ctx, "del-key")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "never-existed"); err != nil {
			t.Fatal("Delete of nonexistent key should not error")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "ow-key", []byte("v1"), time.Minute)
		wait()
		_ = c.Set(ctx, "ow-key", []byte("v2"), time.Minute)
		wait()
		val, found, err := c.Get(ctx, "ow-key")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after overwrite")
		}
		if string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %s", val)
		}
	})
}

// Map is a synchronous in-memory cache.Cache for tests.
type Map struct {
	Data map[string][]byte
	// Err, when set, is returned by every call.
	Err error
}

// NewMap returns an empty Map.
func NewMap() *Map { return &Map{Data: make(map[string][]byte)} }

// Get returns the stored value.
func (m *Map) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	if m.Err != nil {
		return nil, false, m.Err
	}
	v, ok := m.Data[key]
	return v, ok, nil
}

// Set stores value.
func (m *Map) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if m.Err != nil {
		return m.Err
	}
	m.Data[key] = value
	return nil
}

// Delete removes key.
func (m *Map) Delete(_ context.Context, key string) error {
	if m.Err != nil {
		return m.Err
	}
	delete(m.Data, key)
	return nil
}
