package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/Boardroom/internal/adapter/memory"
	"github.com/Strob0t/Boardroom/internal/config"
	"github.com/Strob0t/Boardroom/internal/domain/score"
	"github.com/Strob0t/Boardroom/internal/domain/tree"
	"github.com/Strob0t/Boardroom/internal/port/evaluator"
	"github.com/Strob0t/Boardroom/internal/port/messagequeue"
	"github.com/Strob0t/Boardroom/internal/service"
)

// fixed returns an evaluator scoring each branch with a single dimension.
// Branches missing from values block until the context ends.
func fixed(values map[string]float64, uncertainty float64) evaluator.Evaluator {
	return evaluator.Func(func(ctx context.Context, _ *tree.DecisionTree, b tree.Branch) (*score.DecisionScore, error) {
		v, ok := values[b.ID]
		if !ok {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &score.DecisionScore{Scores: map[string]float64{"fit": v}, Uncertainty: uncertainty}, nil
	})
}

// failing returns an evaluator that always errors and counts its calls.
func failing(calls *atomic.Int32) evaluator.Evaluator {
	return evaluator.Func(func(context.Context, *tree.DecisionTree, tree.Branch) (*score.DecisionScore, error) {
		calls.Add(1)
		return nil, fmt.Errorf("model overloaded")
	})
}

// memQueue records published messages.
type memQueue struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newMemQueue() *memQueue { return &memQueue{messages: make(map[string][][]byte)} }

func (q *memQueue) Publish(_ context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages[subject] = append(q.messages[subject], data)
	return nil
}

func (q *memQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *memQueue) Drain() error      { return nil }
func (q *memQueue) Close() error      { return nil }
func (q *memQueue) IsConnected() bool { return true }

func (q *memQueue) count(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages[subject])
}

func (q *memQueue) states() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for subject, msgs := range q.messages {
		if subject == messagequeue.SubjectCalibration {
			continue
		}
		for _, m := range msgs {
			var ev messagequeue.LifecycleEventPayload
			_ = json.Unmarshal(m, &ev)
			out = append(out, ev.To)
		}
	}
	return out
}

// memHub records broadcast event types.
type memHub struct {
	mu     sync.Mutex
	events []string
}

func (h *memHub) BroadcastEvent(_ context.Context, eventType string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
}

func (h *memHub) count(eventType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type stack struct {
	store    *memory.Store
	registry *service.Registry
	scoring  *service.ScoringService
	guard    *service.GuardrailService
	policies *service.PolicyService
	outcomes *service.OutcomeService
	orch     *service.Orchestrator
	queue    *memQueue
	hub      *memHub
}

type stackOption func(*config.Config)

func withRoundTimeout(d time.Duration) stackOption {
	return func(c *config.Config) { c.Scoring.RoundTimeout = d }
}

func withCategory(category, policyName string) stackOption {
	return func(c *config.Config) {
		if c.Policy.Categories == nil {
			c.Policy.Categories = map[string]string{}
		}
		c.Policy.Categories[category] = policyName
	}
}

func newStack(t *testing.T, opts ...stackOption) *stack {
	t.Helper()
	cfg := config.Defaults()
	cfg.Scoring.RoundTimeout = 5 * time.Second
	for _, o := range opts {
		o(&cfg)
	}

	store := memory.New()
	c, err := service.Assemble(context.Background(), store, &cfg)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	q := newMemQueue()
	hub := &memHub{}
	c.SetEvents(q, hub)

	return &stack{
		store: store, registry: c.Registry, scoring: c.Scoring, guard: c.Guardrail,
		policies: c.Policies, outcomes: c.Outcomes, orch: c.Orchestrator, queue: q, hub: hub,
	}
}

// register adds a council member with an in-process evaluator.
func (s *stack) register(t *testing.T, agentID, role string, ev evaluator.Evaluator) {
	t.Helper()
	if err := s.orch.RegisterEvaluator(evaluator.Registration{AgentID: agentID, Role: role}, ev); err != nil {
		t.Fatalf("register %s: %v", agentID, err)
	}
}

func twoOptions(category string) tree.SubmitRequest {
	return tree.SubmitRequest{
		Topic:    "Where do we expand next year?",
		Category: category,
		Options: []tree.Branch{
			{ID: "eu", Description: "Open an EU office", ExpectedMetrics: map[string]float64{"revenue": 100}},
			{ID: "us", Description: "Double down on the US"},
		},
		CreatedBy: "chair",
	}
}
