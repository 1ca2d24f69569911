package service

import (
	"context"
	"fmt"

	"github.com/Strob0t/Boardroom/internal/config"
	"github.com/Strob0t/Boardroom/internal/dispatch"
	"github.com/Strob0t/Boardroom/internal/port/artifactstore"
	"github.com/Strob0t/Boardroom/internal/port/broadcast"
	"github.com/Strob0t/Boardroom/internal/port/messagequeue"
	"github.com/Strob0t/Boardroom/internal/resilience"
)

// Components are the wired services behind an Orchestrator.
type Components struct {
	Registry     *Registry
	Breakers     *resilience.Breakers
	Scoring      *ScoringService
	Guardrail    *GuardrailService
	Policies     *PolicyService
	Outcomes     *OutcomeService
	Orchestrator *Orchestrator
}

// Assemble builds the services on store and seeds the policies.
func Assemble(ctx context.Context, store artifactstore.Store, cfg *config.Config) (*Components, error) {
	registry := NewRegistry()
	breakers := resilience.NewBreakers(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	scoring := NewScoringService(store, registry, dispatch.NewPool(cfg.Scoring.MaxParallel), breakers, cfg.Scoring)
	guard, err := NewGuardrailService()
	if err != nil {
		return nil, fmt.Errorf("guardrail: %w", err)
	}
	policies := NewPolicyService(store, guard, cfg.Policy, cfg.Orchestrator.AgentID)
	if err := policies.Load(ctx); err != nil {
		return nil, err
	}
	outcomes := NewOutcomeService(store)
	orch := NewOrchestrator(store, registry, breakers, scoring, guard, policies, outcomes, cfg.Orchestrator)
	return &Components{
		Registry:     registry,
		Breakers:     breakers,
		Scoring:      scoring,
		Guardrail:    guard,
		Policies:     policies,
		Outcomes:     outcomes,
		Orchestrator: orch,
	}, nil
}

// SetEvents routes lifecycle, score, decision and calibration events to q
// and hub. Either may be nil.
func (c *Components) SetEvents(q messagequeue.Queue, hub broadcast.Broadcaster) {
	if hub == nil {
		hub = broadcast.Nop{}
	}
	if q != nil {
		c.Orchestrator.SetQueue(q)
		c.Outcomes.SetQueue(q)
	}
	c.Orchestrator.SetBroadcaster(hub)
	c.Outcomes.SetBroadcaster(hub)
	c.Scoring.SetBroadcaster(hub)
}
