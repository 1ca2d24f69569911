package service

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/Boardroom/internal/domain"
	"github.com/Strob0t/Boardroom/internal/port/evaluator"
)

// Member is a registered council member together with its evaluator.
type Member struct {
	evaluator.Registration
	RegisteredAt time.Time `json:"registered_at"`

	eval evaluator.Evaluator
}

// Registry holds the council. Remote endpoints are turned into evaluators by
// the factory registered for their scheme.
type Registry struct {
	mu        sync.RWMutex
	members   map[string]*Member
	factories map[string]evaluator.Factory
	now       func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		members:   make(map[string]*Member),
		factories: make(map[string]evaluator.Factory),
		now:       time.Now,
	}
}

// SetFactory installs the factory for an endpoint scheme (http, https, nats).
func (r *Registry) SetFactory(scheme string, f evaluator.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[scheme] = f
}

// Register adds or replaces a council member. When ev is nil the evaluator is
// built from the registration endpoint.
func (r *Registry) Register(reg evaluator.Registration, ev evaluator.Evaluator) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	if ev == nil {
		built, err := r.build(reg)
		if err != nil {
			return err
		}
		ev = built
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.members[reg.AgentID]; ok && prev.Role != reg.Role {
		slog.Warn("evaluator role changed on re-registration", "agent_id", reg.AgentID, "from", prev.Role, "to", reg.Role)
	}
	r.members[reg.AgentID] = &Member{Registration: reg, RegisteredAt: r.now().UTC(), eval: ev}
	slog.Info("evaluator registered", "agent_id", reg.AgentID, "role", reg.Role, "endpoint", reg.Endpoint)
	return nil
}

func (r *Registry) build(reg evaluator.Registration) (evaluator.Evaluator, error) {
	if reg.Endpoint == "" {
		return nil, fmt.Errorf("evaluator %s: endpoint is required without an in-process evaluator: %w", reg.AgentID, domain.ErrValidation)
	}
	scheme, err := reg.Scheme()
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	f, ok := r.factories[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("evaluator %s: no transport for %s endpoints: %w", reg.AgentID, scheme, domain.ErrValidation)
	}
	ev, err := f.New(reg)
	if err != nil {
		return nil, fmt.Errorf("evaluator %s: %w", reg.AgentID, err)
	}
	return ev, nil
}

// Unregister removes a council member.
func (r *Registry) Unregister(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[agentID]; !ok {
		return fmt.Errorf("evaluator %s: %w", agentID, domain.ErrNotFound)
	}
	delete(r.members, agentID)
	slog.Info("evaluator unregistered", "agent_id", agentID)
	return nil
}

// Members returns a snapshot of the council ordered by agent id.
func (r *Registry) Members() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Member) int { return strings.Compare(a.AgentID, b.AgentID) })
	return out
}

// Len returns the number of registered members.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
