package service_test

import (
	"errors"
	"testing"

	"github.com/Strob0t/Boardroom/internal/domain"
	"github.com/Strob0t/Boardroom/internal/port/evaluator"
	"github.com/Strob0t/Boardroom/internal/service"
)

type stubFactory struct {
	built []string
}

func (f *stubFactory) New(reg evaluator.Registration) (evaluator.Evaluator, error) {
	f.built = append(f.built, reg.AgentID)
	return fixed(nil, 0), nil
}

func TestRegistry_RegisterSortsMembers(t *testing.T) {
	r := service.NewRegistry()
	for _, id := range []string{"cto-1", "ceo-1", "cfo-1"} {
		if err := r.Register(evaluator.Registration{AgentID: id, Role: "X"}, fixed(nil, 0)); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	members := r.Members()
	if len(members) != 3 || r.Len() != 3 {
		t.Fatalf("expected 3 members, got %d", len(members))
	}
	want := []string{"ceo-1", "cfo-1", "cto-1"}
	for i, m := range members {
		if m.AgentID != want[i] {
			t.Errorf("members[%d] = %s, want %s", i, m.AgentID, want[i])
		}
	}
}

func TestRegistry_ReRegisterReplaces(t *testing.T) {
	r := service.NewRegistry()
	_ = r.Register(evaluator.Registration{AgentID: "a", Role: "CEO"}, fixed(nil, 0))
	_ = r.Register(evaluator.Registration{AgentID: "a", Role: "CFO"}, fixed(nil, 0))
	members := r.Members()
	if len(members) != 1 || members[0].Role != "CFO" {
		t.Fatalf("expected single CFO member, got %+v", members)
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		reg  evaluator.Registration
	}{
		{"missing role", evaluator.Registration{AgentID: "a"}},
		{"missing agent", evaluator.Registration{Role: "CEO"}},
		{"no endpoint and no evaluator", evaluator.Registration{AgentID: "a", Role: "CEO"}},
		{"unsupported scheme", evaluator.Registration{AgentID: "a", Role: "CEO", Endpoint: "grpc://x"}},
		{"no factory for scheme", evaluator.Registration{AgentID: "a", Role: "CEO", Endpoint: "nats:agents.ceo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := service.NewRegistry()
			err := r.Register(tt.reg, nil)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if r.Len() != 0 {
				t.Fatal("invalid registration must not be stored")
			}
		})
	}
}

func TestRegistry_BuildsFromFactory(t *testing.T) {
	r := service.NewRegistry()
	f := &stubFactory{}
	r.SetFactory(evaluator.SchemeHTTPS, f)
	err := r.Register(evaluator.Registration{AgentID: "cfo", Role: "CFO", Endpoint: "https://cfo.internal/score"}, nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(f.built) != 1 || f.built[0] != "cfo" {
		t.Fatalf("factory calls = %v", f.built)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := service.NewRegistry()
	_ = r.Register(evaluator.Registration{AgentID: "a", Role: "CEO"}, fixed(nil, 0))
	if err := r.Unregister("a"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if err := r.Unregister("a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
