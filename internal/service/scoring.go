package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	cfotel "github.com/Strob0t/Boardroom/internal/adapter/otel"
	"github.com/Strob0t/Boardroom/internal/config"
	"github.com/Strob0t/Boardroom/internal/dispatch"
	"github.com/Strob0t/Boardroom/internal/domain"
	"github.com/Strob0t/Boardroom/internal/domain/artifact"
	"github.com/Strob0t/Boardroom/internal/domain/policy"
	"github.com/Strob0t/Boardroom/internal/domain/provenance"
	"github.com/Strob0t/Boardroom/internal/domain/score"
	"github.com/Strob0t/Boardroom/internal/domain/tree"
	"github.com/Strob0t/Boardroom/internal/port/artifactstore"
	"github.com/Strob0t/Boardroom/internal/port/broadcast"
	"github.com/Strob0t/Boardroom/internal/resilience"
)

// persistTimeout bounds the store writes of a score that lands after its
// round closed.
const persistTimeout = 10 * time.Second

// Round is one scoring dispatch over a frozen tree.
type Round struct {
	Tree   *tree.DecisionTree
	Number int
	Policy *policy.Policy
}

// ScoringService fans a round out to every (agent, branch) pair and collects
// the results into a score matrix.
type ScoringService struct {
	store    artifactstore.Store
	registry *Registry
	pool     *dispatch.Pool
	breakers *resilience.Breakers
	cfg      config.Scoring
	hub      broadcast.Broadcaster
	metrics  *cfotel.Metrics
	now      func() time.Time
}

// NewScoringService creates a ScoringService.
func NewScoringService(
	store artifactstore.Store,
	registry *Registry,
	pool *dispatch.Pool,
	breakers *resilience.Breakers,
	cfg config.Scoring,
) *ScoringService {
	return &ScoringService{
		store:    store,
		registry: registry,
		pool:     pool,
		breakers: breakers,
		cfg:      cfg,
		hub:      broadcast.Nop{},
		now:      time.Now,
	}
}

// SetBroadcaster sets the broadcaster for score events.
func (s *ScoringService) SetBroadcaster(hub broadcast.Broadcaster) { s.hub = hub }

// SetMetrics sets the metric instruments.
func (s *ScoringService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// SetClock overrides the clock used for submission timestamps.
func (s *ScoringService) SetClock(now func() time.Time) { s.now = now }

// Run dispatches the round and blocks until every task settled or the round
// timeout elapsed. Slots still open at that point are reported missing; their
// scores, should they arrive, are stored with late=true.
func (s *ScoringService) Run(ctx context.Context, rd Round) (*score.Matrix, error) {
	members := s.registry.Members()
	if len(members) == 0 {
		return nil, fmt.Errorf("score tree %s round %d: %w", rd.Tree.ID, rd.Number, domain.ErrNoEvaluators)
	}
	branches := rd.Tree.Branches()
	taskTimeout := cmp.Or(rd.Policy.Scoring.TaskTimeout, s.cfg.TaskTimeout)
	roundTimeout := cmp.Or(rd.Policy.Scoring.RoundTimeout, s.cfg.RoundTimeout)

	var roundCtx context.Context
	var cancel context.CancelFunc
	if roundTimeout > 0 {
		roundCtx, cancel = context.WithTimeout(ctx, roundTimeout)
	} else {
		roundCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	st := &roundState{settled: make(map[string]bool)}
	total := len(members) * len(branches)
	done := make(chan struct{}, total)
	for _, m := range members {
		for _, b := range branches {
			go func() {
				s.task(roundCtx, ctx, rd, m, b, taskTimeout, st)
				done <- struct{}{}
			}()
		}
	}

	remaining := total
collect:
	for remaining > 0 {
		select {
		case <-done:
			remaining--
		case <-roundCtx.Done():
			break collect
		}
	}
	st.close()

	closeReason := score.ReasonTimeout
	if ctx.Err() != nil {
		closeReason = score.ReasonCancelled
	}
	matrix := st.matrix(rd, members, branches, closeReason)
	for _, m := range matrix.Missing {
		s.metrics.ScoreMissing(ctx, string(m.Reason))
	}
	if remaining > 0 {
		slog.Warn("scoring round closed with open tasks",
			"tree_id", rd.Tree.ID, "round", rd.Number, "open", remaining, "reason", closeReason)
	}
	if err := ctx.Err(); err != nil {
		return matrix, fmt.Errorf("score tree %s round %d: %w", rd.Tree.ID, rd.Number, err)
	}
	return matrix, nil
}

// task runs one evaluator call. roundCtx bounds the call; parent outlives the
// round and is used to store late scores.
func (s *ScoringService) task(roundCtx, parent context.Context, rd Round, m Member, b tree.Branch, timeout time.Duration, st *roundState) {
	slot := score.Missing{AgentID: m.AgentID, BranchID: b.ID, Round: rd.Number}
	started := time.Now()

	got, err := s.evaluate(roundCtx, rd.Tree, m, b, timeout)
	s.metrics.Evaluated(roundCtx, m.AgentID, time.Since(started), evalOutcome(err))
	if err != nil {
		slot.Reason = missingReason(err)
		slot.Detail = err.Error()
		st.miss(slot)
		return
	}

	sc := s.normalize(got, rd, m, b)
	if err := sc.Validate(); err != nil {
		slot.Reason = score.ReasonInvalid
		slot.Detail = err.Error()
		st.miss(slot)
		return
	}

	// Admitted scores are stored even if the round closes meanwhile.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(parent), persistTimeout)
	defer cancel()

	if !st.admit() {
		sc.Late = true
		if _, err := s.persist(pctx, sc); err != nil {
			slog.Error("store late score", "score_id", sc.ID, "error", err)
			return
		}
		slog.Info("late score stored", "score_id", sc.ID, "tree_id", sc.DecisionTreeID, "round", sc.Round)
		s.metrics.ScoreRecorded(pctx, sc.Role, true)
		return
	}
	defer st.onTime.Done()

	stored, err := s.persist(pctx, sc)
	if err != nil {
		slot.Reason = score.ReasonError
		if errors.Is(err, domain.ErrConflict) {
			slot.Reason = score.ReasonConflict
		}
		slot.Detail = err.Error()
		st.settle(slot, nil)
		return
	}
	st.settle(slot, stored)
	s.metrics.ScoreRecorded(pctx, stored.Role, false)
	s.hub.BroadcastEvent(pctx, broadcast.EventScore, stored)
}

func (s *ScoringService) evaluate(ctx context.Context, t *tree.DecisionTree, m Member, b tree.Branch, timeout time.Duration) (*score.DecisionScore, error) {
	var got *score.DecisionScore
	err := s.pool.Run(ctx, func(ctx context.Context) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		ctx, span := cfotel.StartEvaluationSpan(ctx, m.AgentID, b.ID)
		call := func(ctx context.Context) error {
			sc, err := m.eval.Evaluate(ctx, t, b)
			if err != nil {
				return err
			}
			if sc == nil {
				return errors.New("evaluator returned no score")
			}
			got = sc
			return nil
		}
		var err error
		if s.breakers != nil {
			err = s.breakers.For(m.AgentID).Execute(ctx, call)
		} else {
			err = call(ctx)
		}
		cfotel.EndSpan(span, err)
		return err
	})
	return got, err
}

// normalize fills the identity fields the coordinator owns. Evaluators only
// supply dimensions, weights, rationale and uncertainty.
func (s *ScoringService) normalize(got *score.DecisionScore, rd Round, m Member, b tree.Branch) *score.DecisionScore {
	sc := *got
	sc.DecisionTreeID = rd.Tree.ID
	sc.BranchID = b.ID
	sc.AgentID = m.AgentID
	sc.Role = m.Role
	sc.Round = rd.Number
	sc.ID = score.ID(rd.Tree.ID, rd.Number, b.ID, m.AgentID)
	sc.Late = false
	if sc.SubmittedAt.IsZero() {
		sc.SubmittedAt = s.now().UTC()
	}
	return &sc
}

// persist stores the score and links it to its tree. A differing score for
// an existing slot keeps the first one.
func (s *ScoringService) persist(ctx context.Context, sc *score.DecisionScore) (*score.DecisionScore, error) {
	a, err := artifact.New(artifact.KindScore, sc.ID, sc.DecisionTreeID, sc.AgentID, sc, true)
	if err != nil {
		return nil, err
	}
	kept := sc
	if _, err := s.store.Put(ctx, a); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("store score %s: %w", sc.ID, err)
		}
		prev, gerr := s.store.Get(ctx, sc.ID)
		if gerr != nil {
			return nil, fmt.Errorf("store score %s: %w", sc.ID, err)
		}
		first, derr := artifact.Decode[score.DecisionScore](prev)
		if derr != nil {
			return nil, fmt.Errorf("store score %s: %w", sc.ID, err)
		}
		if sameResponse(first, sc) {
			slog.Debug("duplicate score response", "score_id", sc.ID)
		} else {
			slog.Warn("differing re-response ignored, first score kept", "score_id", sc.ID, "agent_id", sc.AgentID)
		}
		kept = first
	}
	if _, err := s.store.Link(ctx, sc.DecisionTreeID, sc.ID, provenance.RelEvaluatedBy, sc.AgentID); err != nil {
		return nil, fmt.Errorf("link score %s: %w", sc.ID, err)
	}
	return kept, nil
}

func sameResponse(a, b *score.DecisionScore) bool {
	return maps.Equal(a.Scores, b.Scores) &&
		maps.Equal(a.Weights, b.Weights) &&
		a.Rationale == b.Rationale &&
		a.Uncertainty == b.Uncertainty
}

func missingReason(err error) score.MissingReason {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return score.ReasonCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return score.ReasonTimeout
	case errors.Is(err, context.Canceled):
		return score.ReasonCancelled
	default:
		return score.ReasonError
	}
}

func evalOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(missingReason(err))
}

// roundState collects task results until the round closes.
type roundState struct {
	mu      sync.Mutex
	closed  bool
	scores  []score.DecisionScore
	missing []score.Missing
	settled map[string]bool
	// onTime counts admitted scores still being stored.
	onTime sync.WaitGroup
}

func slotKey(agentID, branchID string) string { return agentID + "\x00" + branchID }

// admit reports whether the round is still open. An admitted caller must
// call onTime.Done after settling.
func (st *roundState) admit() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return false
	}
	st.onTime.Add(1)
	return true
}

func (st *roundState) miss(m score.Missing) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	st.settled[slotKey(m.AgentID, m.BranchID)] = true
	st.missing = append(st.missing, m)
}

// settle records an admitted result. A nil score records m as missing.
func (st *roundState) settle(m score.Missing, sc *score.DecisionScore) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.settled[slotKey(m.AgentID, m.BranchID)] = true
	if sc == nil {
		st.missing = append(st.missing, m)
		return
	}
	st.scores = append(st.scores, *sc)
}

// close stops admitting results and waits for admitted scores to be stored.
func (st *roundState) close() {
	st.mu.Lock()
	st.closed = true
	st.mu.Unlock()
	st.onTime.Wait()
}

func (st *roundState) matrix(rd Round, members []Member, branches []tree.Branch, closeReason score.MissingReason) *score.Matrix {
	st.mu.Lock()
	defer st.mu.Unlock()

	m := &score.Matrix{
		TreeID:  rd.Tree.ID,
		Round:   rd.Number,
		Scores:  slices.Clone(st.scores),
		Missing: slices.Clone(st.missing),
	}
	for _, mem := range members {
		for _, b := range branches {
			if !st.settled[slotKey(mem.AgentID, b.ID)] {
				m.Missing = append(m.Missing, score.Missing{
					AgentID: mem.AgentID, BranchID: b.ID, Round: rd.Number, Reason: closeReason,
				})
			}
		}
	}
	slices.SortFunc(m.Scores, func(a, b score.DecisionScore) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(m.Missing, func(a, b score.Missing) int {
		return cmp.Or(strings.Compare(a.BranchID, b.BranchID), strings.Compare(a.AgentID, b.AgentID))
	})

	ids := rd.Tree.BranchIDs()
	scored := make(map[string]int, len(ids))
	for _, sc := range m.Scores {
		scored[sc.BranchID]++
	}
	fractions := score.MissingFraction(ids, len(members), m.Missing)
	for _, id := range ids {
		if scored[id] == 0 || fractions[id] > rd.Policy.Scoring.MissingCeiling {
			m.Unscored = append(m.Unscored, id)
		}
	}
	return m
}
