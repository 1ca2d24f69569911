// Package service implements the governance workflow on top of ports.
package service

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	cfotel "github.com/Strob0t/Boardroom/internal/adapter/otel"
	"github.com/Strob0t/Boardroom/internal/config"
	"github.com/Strob0t/Boardroom/internal/domain"
	"github.com/Strob0t/Boardroom/internal/domain/artifact"
	"github.com/Strob0t/Boardroom/internal/domain/decision"
	"github.com/Strob0t/Boardroom/internal/domain/lifecycle"
	"github.com/Strob0t/Boardroom/internal/domain/provenance"
	"github.com/Strob0t/Boardroom/internal/domain/tree"
	"github.com/Strob0t/Boardroom/internal/port/artifactstore"
	"github.com/Strob0t/Boardroom/internal/port/broadcast"
	"github.com/Strob0t/Boardroom/internal/port/evaluator"
	"github.com/Strob0t/Boardroom/internal/port/messagequeue"
	"github.com/Strob0t/Boardroom/internal/resilience"
)

// Orchestrator drives each decision tree through its lifecycle. Transitions
// of one tree are serialized; different trees proceed independently.
type Orchestrator struct {
	store       artifactstore.Store
	registry    *Registry
	breakers    *resilience.Breakers
	scoring     *ScoringService
	aggregation *AggregationService
	guardrail   *GuardrailService
	policies    *PolicyService
	outcomes    *OutcomeService
	cfg         config.Orchestrator

	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	metrics *cfotel.Metrics
	now     func() time.Time
	newID   func() string

	locks treeLocks

	mu     sync.Mutex
	rounds map[string]context.CancelFunc
}

// NewOrchestrator creates an Orchestrator with all dependencies.
func NewOrchestrator(
	store artifactstore.Store,
	registry *Registry,
	breakers *resilience.Breakers,
	scoring *ScoringService,
	guardrail *GuardrailService,
	policies *PolicyService,
	outcomes *OutcomeService,
	cfg config.Orchestrator,
) *Orchestrator {
	return &Orchestrator{
		store:       store,
		registry:    registry,
		breakers:    breakers,
		scoring:     scoring,
		aggregation: NewAggregationService(),
		guardrail:   guardrail,
		policies:    policies,
		outcomes:    outcomes,
		cfg:         cfg,
		hub:         broadcast.Nop{},
		now:         time.Now,
		newID:       uuid.NewString,
		locks:       treeLocks{m: make(map[string]*treeLock)},
		rounds:      make(map[string]context.CancelFunc),
	}
}

// SetQueue sets the queue lifecycle events are published on.
func (o *Orchestrator) SetQueue(q messagequeue.Queue) { o.queue = q }

// SetBroadcaster sets the broadcaster for lifecycle and decision events.
func (o *Orchestrator) SetBroadcaster(hub broadcast.Broadcaster) { o.hub = hub }

// SetMetrics sets the metric instruments.
func (o *Orchestrator) SetMetrics(m *cfotel.Metrics) { o.metrics = m }

// SetClock overrides the clock.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// SetIDGenerator overrides how tree and decision ids are minted.
func (o *Orchestrator) SetIDGenerator(fn func() string) { o.newID = fn }

// Policies returns the policy service.
func (o *Orchestrator) Policies() *PolicyService { return o.policies }

// SubmitTopic validates and stores a new decision tree in state open. The
// tree is governed by the current version of its category's policy.
func (o *Orchestrator) SubmitTopic(ctx context.Context, req tree.SubmitRequest) (string, error) {
	id := o.newID()
	t, err := tree.FromRequest(id, req, o.now())
	if err != nil {
		return "", fmt.Errorf("submit topic: %w", err)
	}
	t.CreatedBy = cmp.Or(t.CreatedBy, o.cfg.AgentID)

	p, err := o.policies.Resolve(ctx, t.Category)
	if err != nil {
		return "", fmt.Errorf("submit topic: %w", err)
	}
	if err := o.putTree(ctx, t); err != nil {
		return "", err
	}

	rec := lifecycle.New(id, p.Name, p.Version, p.Threshold, o.now())
	if err := o.saveRecord(ctx, rec); err != nil {
		return "", err
	}
	if _, err := o.store.Link(ctx, id, lifecycle.ArtifactID(id), provenance.RelTracksState, o.cfg.AgentID); err != nil {
		return "", fmt.Errorf("link lifecycle: %w", err)
	}
	o.announce(ctx, "", rec)

	slog.Info("topic submitted", "tree_id", id, "category", t.Category, "policy", p.Name, "branches", len(t.BranchIDs()))

	if o.cfg.AutoStart && o.registry.Len() > 0 {
		if err := o.Launch(ctx, id); err != nil {
			slog.Warn("auto start failed", "tree_id", id, "error", err)
		}
	}
	return id, nil
}

// AmendTree replaces the nodes, topic, category and annotations of an open,
// unfrozen tree.
func (o *Orchestrator) AmendTree(ctx context.Context, next *tree.DecisionTree) (*tree.DecisionTree, error) {
	unlock := o.locks.lock(next.ID)
	defer unlock()

	rec, err := o.Status(ctx, next.ID)
	if err != nil {
		return nil, err
	}
	if err := rec.Require("amend tree", lifecycle.StateOpen); err != nil {
		return nil, err
	}
	prev, err := o.GetTree(ctx, next.ID)
	if err != nil {
		return nil, err
	}
	amended, err := prev.Amend(next)
	if err != nil {
		return nil, err
	}
	if err := o.putTree(ctx, amended); err != nil {
		return nil, err
	}
	slog.Info("tree amended", "tree_id", amended.ID)
	return amended, nil
}

// RegisterEvaluator adds a council member. A nil ev builds the evaluator
// from the registration endpoint.
func (o *Orchestrator) RegisterEvaluator(reg evaluator.Registration, ev evaluator.Evaluator) error {
	if err := o.registry.Register(reg, ev); err != nil {
		return err
	}
	o.breakers.Forget(reg.AgentID)
	return nil
}

// UnregisterEvaluator removes a council member. Rounds already dispatched
// keep their evaluator.
func (o *Orchestrator) UnregisterEvaluator(agentID string) error {
	if err := o.registry.Unregister(agentID); err != nil {
		return err
	}
	o.breakers.Forget(agentID)
	return nil
}

// Evaluators lists the council.
func (o *Orchestrator) Evaluators() []Member {
	return o.registry.Members()
}

// Status returns the lifecycle record of a tree.
func (o *Orchestrator) Status(ctx context.Context, treeID string) (*lifecycle.Record, error) {
	a, err := o.store.Get(ctx, lifecycle.ArtifactID(treeID))
	if err != nil {
		return nil, fmt.Errorf("tree %s status: %w", treeID, err)
	}
	return artifact.Decode[lifecycle.Record](a)
}

// GetTree returns the latest version of a tree.
func (o *Orchestrator) GetTree(ctx context.Context, id string) (*tree.DecisionTree, error) {
	a, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get tree %s: %w", id, err)
	}
	if a.Kind != artifact.KindTree {
		return nil, fmt.Errorf("get tree %s: artifact is a %s: %w", id, a.Kind, domain.ErrNotFound)
	}
	return artifact.Decode[tree.DecisionTree](a)
}

// GetDecision returns the latest version of a decision.
func (o *Orchestrator) GetDecision(ctx context.Context, id string) (*decision.GovernanceDecision, error) {
	a, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get decision %s: %w", id, err)
	}
	if a.Kind != artifact.KindDecision {
		return nil, fmt.Errorf("get decision %s: artifact is a %s: %w", id, a.Kind, domain.ErrNotFound)
	}
	return artifact.Decode[decision.GovernanceDecision](a)
}

// Provenance is an artifact together with every receipt naming it.
type Provenance struct {
	Artifact *artifact.Artifact   `json:"artifact"`
	Receipts []provenance.Receipt `json:"receipts"`
}

// QueryProvenance returns the artifact and its receipts in write order.
func (o *Orchestrator) QueryProvenance(ctx context.Context, artifactID string) (*Provenance, error) {
	a, err := o.store.Get(ctx, artifactID)
	if err != nil {
		return nil, fmt.Errorf("provenance of %s: %w", artifactID, err)
	}
	receipts, err := o.store.Receipts(ctx, artifactID)
	if err != nil {
		return nil, fmt.Errorf("provenance of %s: %w", artifactID, err)
	}
	return &Provenance{Artifact: a, Receipts: receipts}, nil
}

// Artifacts lists stored artifacts in creation order.
func (o *Orchestrator) Artifacts(ctx context.Context, f artifact.Filter) iter.Seq2[*artifact.Artifact, error] {
	return o.store.Query(ctx, f)
}

// Resume relaunches trees left in scoring, e.g. by a restart mid-round. The
// round is re-dispatched under its original number; scores already stored
// are deduplicated by their deterministic ids.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	var ids []string
	for a, err := range o.store.Query(ctx, artifact.Filter{Kind: artifact.KindLifecycle}) {
		if err != nil {
			return 0, fmt.Errorf("resume: %w", err)
		}
		rec, err := artifact.Decode[lifecycle.Record](a)
		if err != nil {
			return 0, err
		}
		if rec.State == lifecycle.StateScoring {
			ids = append(ids, rec.TreeID)
		}
	}
	resumed := 0
	for _, id := range ids {
		if err := o.Launch(ctx, id); err != nil {
			slog.Warn("resume round", "tree_id", id, "error", err)
			continue
		}
		resumed++
	}
	return resumed, nil
}

func (o *Orchestrator) putTree(ctx context.Context, t *tree.DecisionTree) error {
	a, err := artifact.New(artifact.KindTree, t.ID, t.ID, t.CreatedBy, t, t.Frozen)
	if err != nil {
		return err
	}
	if _, err := o.store.Put(ctx, a); err != nil {
		return fmt.Errorf("store tree %s: %w", t.ID, err)
	}
	return nil
}

func (o *Orchestrator) saveRecord(ctx context.Context, rec *lifecycle.Record) error {
	a, err := artifact.New(artifact.KindLifecycle, lifecycle.ArtifactID(rec.TreeID), rec.TreeID, o.cfg.AgentID, rec, false)
	if err != nil {
		return err
	}
	if _, err := o.store.Put(ctx, a); err != nil {
		return fmt.Errorf("store lifecycle of %s: %w", rec.TreeID, err)
	}
	return nil
}

func (o *Orchestrator) putDecision(ctx context.Context, d *decision.GovernanceDecision) error {
	a, err := artifact.New(artifact.KindDecision, d.ID, d.DecisionTreeID, o.cfg.AgentID, d, d.Status.Sealed())
	if err != nil {
		return err
	}
	if _, err := o.store.Put(ctx, a); err != nil {
		return fmt.Errorf("store decision %s: %w", d.ID, err)
	}
	o.metrics.DecisionStatus(ctx, string(d.Status))
	o.hub.BroadcastEvent(ctx, broadcast.EventDecision, d)
	return nil
}

// transition moves rec to state to, persists it and announces it. Writes
// use a context detached from cancellation so a cancelled round still
// records where it stopped.
func (o *Orchestrator) transition(ctx context.Context, rec *lifecycle.Record, to lifecycle.State, reason string) (*lifecycle.Record, error) {
	next, err := rec.To(to, reason, o.now())
	if err != nil {
		return nil, err
	}
	wctx := context.WithoutCancel(ctx)
	if err := o.saveRecord(wctx, next); err != nil {
		return nil, err
	}
	o.announce(wctx, rec.State, next)
	slog.Info("lifecycle transition",
		"tree_id", next.TreeID, "from", rec.State, "to", to, "round", next.Round, "reason", reason)
	return next, nil
}

func (o *Orchestrator) announce(ctx context.Context, from lifecycle.State, rec *lifecycle.Record) {
	ev := messagequeue.LifecycleEventPayload{
		TreeID:     rec.TreeID,
		From:       string(from),
		To:         string(rec.State),
		Round:      rec.Round,
		DecisionID: rec.DecisionID,
		Reason:     rec.StallReason,
		At:         rec.UpdatedAt,
	}
	if n := len(rec.History); n > 0 {
		ev.Reason = rec.History[n-1].Reason
	}
	o.hub.BroadcastEvent(ctx, broadcast.EventLifecycle, ev)
	if o.queue == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal lifecycle event", "tree_id", rec.TreeID, "error", err)
		return
	}
	if err := o.queue.Publish(ctx, messagequeue.LifecycleSubject(string(rec.State)), data); err != nil {
		slog.Warn("publish lifecycle event", "tree_id", rec.TreeID, "state", rec.State, "error", err)
	}
}

// treeLocks is a mutex per tree id, dropped when no caller holds or waits
// for it.
type treeLocks struct {
	mu sync.Mutex
	m  map[string]*treeLock
}

type treeLock struct {
	mu   sync.Mutex
	refs int
}

func (l *treeLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	tl, ok := l.m[id]
	if !ok {
		tl = &treeLock{}
		l.m[id] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}

func isNoConsensus(err error) bool {
	return errors.Is(err, domain.ErrNoConsensus) || errors.Is(err, domain.ErrNoEligibleBranch)
}
