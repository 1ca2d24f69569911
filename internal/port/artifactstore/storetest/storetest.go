// Package storetest is the behavioral suite every artifactstore.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/Strob0t/Boardroom/internal/domain"
	"github.com/Strob0t/Boardroom/internal/domain/artifact"
	"github.com/Strob0t/Boardroom/internal/domain/decision"
	"github.com/Strob0t/Boardroom/internal/domain/provenance"
	"github.com/Strob0t/Boardroom/internal/domain/score"
	"github.com/Strob0t/Boardroom/internal/domain/tree"
	"github.com/Strob0t/Boardroom/internal/port/artifactstore"
)

// Factory returns a store whose Query and WriteLog page at most pageSize
// items at a time.
type Factory func(t *testing.T, pageSize int) artifactstore.Store

// Fixture builders shared with store tests.

// Tree returns a valid two-branch tree artifact under a fresh id.
func Tree(t *testing.T) (*artifact.Artifact, *tree.DecisionTree) {
	t.Helper()
	dt := &tree.DecisionTree{
		ID:    "tree-" + uuid.NewString(),
		Topic: "expand to EU",
		Nodes: []tree.Node{{
			ID:       tree.RootNodeID,
			Question: "which market first?",
			Branches: []tree.Branch{{ID: "de"}, {ID: "fr", Dependencies: []string{"de"}}},
		}},
	}
	return mustNew(t, artifact.KindTree, dt.ID, dt.ID, dt, false), dt
}

// Score returns a sealed score artifact for (treeID, branch, agent) in round 1.
func Score(t *testing.T, treeID, branch, agent string, v float64) *artifact.Artifact {
	t.Helper()
	s := &score.DecisionScore{
		ID:             score.ID(treeID, 1, branch, agent),
		DecisionTreeID: treeID,
		BranchID:       branch,
		AgentID:        agent,
		Role:           "CEO",
		Round:          1,
		Scores:         map[string]float64{"fit": v},
	}
	return mustNew(t, artifact.KindScore, s.ID, treeID, s, true)
}

// Decision returns a decision artifact in the given status.
func Decision(t *testing.T, treeID, id string, status decision.Status, selected string) *artifact.Artifact {
	t.Helper()
	d := &decision.GovernanceDecision{
		ID:               id,
		DecisionTreeID:   treeID,
		SelectedBranchID: selected,
		ScoreMatrix:      []string{score.ID(treeID, 1, selected, "ceo")},
		ConsensusMode:    "weighted_majority",
		Status:           status,
	}
	return mustNew(t, artifact.KindDecision, id, treeID, d, status.Sealed())
}

// StoredTree puts a fresh Tree into s and returns its id.
func StoredTree(t *testing.T, s artifactstore.Store) string {
	t.Helper()
	a, dt := Tree(t)
	if _, err := s.Put(context.Background(), a); err != nil {
		t.Fatalf("store tree fixture: %v", err)
	}
	return dt.ID
}

func mustNew(t *testing.T, kind artifact.Kind, id, treeID string, payload any, sealed bool) *artifact.Artifact {
	t.Helper()
	a, err := artifact.New(kind, id, treeID, "storetest", payload, sealed)
	if err != nil {
		t.Fatalf("build %s fixture: %v", kind, err)
	}
	return a
}

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("PutAssignsVersionAndSeq", func(t *testing.T) {
		s := newStore(t, 100)
		a, _ := Tree(t)
		got, err := s.Put(ctx, a)
		if err != nil {
			t.Fatal(err)
		}
		if got.Version != 1 || got.Seq == 0 || got.ContentHash == "" || got.CreatedAt.IsZero() {
			t.Fatalf("unexpected stored envelope %+v", got)
		}
		back, err := s.Get(ctx, a.ID)
		if err != nil {
			t.Fatal(err)
		}
		if back.ContentHash != got.ContentHash || back.Version != 1 {
			t.Fatalf("Get returned %+v", back)
		}
	})

	t.Run("IdenticalPutIsNoOp", func(t *testing.T) {
		s := newStore(t, 100)
		a := Score(t, StoredTree(t, s), "de", "ceo", 0.8)
		first, err := s.Put(ctx, a)
		if err != nil {
			t.Fatal(err)
		}
		again, err := s.Put(ctx, a)
		if err != nil {
			t.Fatal(err)
		}
		if again.Version != 1 || again.Seq != first.Seq {
			t.Fatalf("expected the stored version back, got v%d seq %d", again.Version, again.Seq)
		}
		entries := collectLog(t, s, first.Seq-1)
		for _, e := range entries[1:] {
			if e.ArtifactID == a.ID {
				t.Fatalf("identical put must not append to the write log: %+v", e)
			}
		}
	})

	t.Run("ImmutableKindConflicts", func(t *testing.T) {
		s := newStore(t, 100)
		treeID := StoredTree(t, s)
		if _, err := s.Put(ctx, Score(t, treeID, "de", "ceo", 0.8)); err != nil {
			t.Fatal(err)
		}
		_, err := s.Put(ctx, Score(t, treeID, "de", "ceo", 0.2))
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("UnsealedChangeAppendsVersion", func(t *testing.T) {
		s := newStore(t, 100)
		a, dt := Tree(t)
		if _, err := s.Put(ctx, a); err != nil {
			t.Fatal(err)
		}
		dt.Annotations = map[string]string{"owner": "cfo"}
		b := mustNew(t, artifact.KindTree, dt.ID, dt.ID, dt, false)
		got, err := s.Put(ctx, b)
		if err != nil {
			t.Fatal(err)
		}
		if got.Version != 2 {
			t.Fatalf("version = %d, want 2", got.Version)
		}
		v1, err := s.GetVersion(ctx, a.ID, 1)
		if err != nil {
			t.Fatal(err)
		}
		if v1.ContentHash != a.ContentHash {
			t.Fatal("version 1 must keep its original payload")
		}
		if !v1.CreatedAt.Equal(got.CreatedAt) {
			t.Fatal("created_at must be stable across versions")
		}
	})

	t.Run("SealedDecisionOnlyAdvancesStatus", func(t *testing.T) {
		s := newStore(t, 100)
		treeID, id := StoredTree(t, s), uuid.NewString()
		if _, err := s.Put(ctx, Decision(t, treeID, id, decision.StatusApproved, "de")); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Put(ctx, Decision(t, treeID, id, decision.StatusApproved, "fr")); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("changing a sealed field: expected ErrConflict, got %v", err)
		}
		got, err := s.Put(ctx, Decision(t, treeID, id, decision.StatusExecuted, "de"))
		if err != nil {
			t.Fatalf("approved -> executed: %v", err)
		}
		if got.Version != 2 {
			t.Fatalf("version = %d, want 2", got.Version)
		}
		if _, err := s.Put(ctx, Decision(t, treeID, id, decision.StatusApproved, "de")); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("moving status backwards: expected ErrConflict, got %v", err)
		}
	})

	t.Run("RejectsInvalidPayload", func(t *testing.T) {
		s := newStore(t, 100)
		bad := &artifact.Artifact{ID: "tree-bad", Kind: artifact.KindTree, CreatedBy: "x", Payload: []byte(`{"id":"tree-bad","topic":"","nodes":[]}`)}
		if _, err := s.Put(ctx, bad); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
		anon := &artifact.Artifact{ID: "x", Kind: artifact.KindTree, Payload: []byte(`{}`)}
		if _, err := s.Put(ctx, anon); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("missing created_by: expected ErrValidation, got %v", err)
		}
	})

	t.Run("RejectsDanglingReferences", func(t *testing.T) {
		s := newStore(t, 100)
		treeID := StoredTree(t, s)
		tests := []struct {
			name string
			a    *artifact.Artifact
		}{
			{"score on unknown branch", Score(t, treeID, "uk", "ceo", 0.5)},
			{"score on unknown tree", Score(t, "tree-"+uuid.NewString(), "de", "ceo", 0.5)},
			{"decision selecting unknown branch", Decision(t, treeID, uuid.NewString(), decision.StatusDraft, "no-such-branch")},
			{"decision on unknown tree", Decision(t, "tree-never-stored", uuid.NewString(), decision.StatusApproved, "de")},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := s.Put(ctx, tt.a); !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
				if _, err := s.Get(ctx, tt.a.ID); !errors.Is(err, domain.ErrNotFound) {
					t.Fatalf("rejected artifact was stored: %v", err)
				}
			})
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t, 100)
		if _, err := s.Get(ctx, "missing-"+uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: expected ErrNotFound, got %v", err)
		}
		a, _ := Tree(t)
		if _, err := s.Put(ctx, a); err != nil {
			t.Fatal(err)
		}
		if _, err := s.GetVersion(ctx, a.ID, 7); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("GetVersion: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("LinkIsIdempotent", func(t *testing.T) {
		s := newStore(t, 100)
		ta, dt := Tree(t)
		sa := Score(t, dt.ID, "de", "ceo", 0.9)
		for _, a := range []*artifact.Artifact{ta, sa} {
			if _, err := s.Put(ctx, a); err != nil {
				t.Fatal(err)
			}
		}
		r1, err := s.Link(ctx, ta.ID, sa.ID, provenance.RelEvaluatedBy, "storetest")
		if err != nil {
			t.Fatal(err)
		}
		r2, err := s.Link(ctx, ta.ID, sa.ID, provenance.RelEvaluatedBy, "storetest")
		if err != nil {
			t.Fatal(err)
		}
		if r1.ID != r2.ID {
			t.Fatalf("relinking created a second receipt: %s vs %s", r1.ID, r2.ID)
		}
		for _, id := range []string{ta.ID, sa.ID} {
			rs, err := s.Receipts(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if len(rs) != 1 || rs[0].ID != r1.ID {
				t.Fatalf("Receipts(%s) = %+v", id, rs)
			}
		}
	})

	t.Run("LinkMissingEndpoint", func(t *testing.T) {
		s := newStore(t, 100)
		ta, _ := Tree(t)
		if _, err := s.Put(ctx, ta); err != nil {
			t.Fatal(err)
		}
		_, err := s.Link(ctx, ta.ID, "score:nope", provenance.RelEvaluatedBy, "storetest")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		_, err = s.Link(ctx, ta.ID, ta.ID, provenance.RelEvaluatedBy, "storetest")
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("self link: expected ErrValidation, got %v", err)
		}
	})

	t.Run("QueryPagesInCreationOrder", func(t *testing.T) {
		s := newStore(t, 2)
		treeID := StoredTree(t, s)
		var want []string
		for _, agent := range []string{"a1", "a2", "a3", "a4", "a5"} {
			a := Score(t, treeID, "de", agent, 0.5)
			if _, err := s.Put(ctx, a); err != nil {
				t.Fatal(err)
			}
			want = append(want, a.ID)
		}
		if _, err := s.Put(ctx, Decision(t, treeID, uuid.NewString(), decision.StatusDraft, "de")); err != nil {
			t.Fatal(err)
		}

		var got []string
		for a, err := range s.Query(ctx, artifact.Filter{Kind: artifact.KindScore, TreeID: treeID}) {
			if err != nil {
				t.Fatal(err)
			}
			got = append(got, a.ID)
		}
		if len(got) != len(want) {
			t.Fatalf("got %d scores, want %d: %v", len(got), len(want), got)
		}
		seen := map[string]bool{}
		for _, id := range got {
			if seen[id] {
				t.Fatalf("duplicate %s across pages", id)
			}
			seen[id] = true
		}

		n := 0
		for range s.Query(ctx, artifact.Filter{TreeID: treeID}) {
			n++
			if n == 3 {
				break
			}
		}
		if n != 3 {
			t.Fatalf("early break yielded %d items", n)
		}
	})

	t.Run("WriteLogIsOrdered", func(t *testing.T) {
		s := newStore(t, 2)
		ta, dt := Tree(t)
		first, err := s.Put(ctx, ta)
		if err != nil {
			t.Fatal(err)
		}
		sa := Score(t, dt.ID, "de", "ceo", 0.7)
		if _, err := s.Put(ctx, sa); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Link(ctx, ta.ID, sa.ID, provenance.RelEvaluatedBy, "storetest"); err != nil {
			t.Fatal(err)
		}

		entries := collectLog(t, s, first.Seq-1)
		var ops []artifact.LogOp
		for i, e := range entries {
			if i > 0 && e.Seq <= entries[i-1].Seq {
				t.Fatalf("write log not strictly ordered at %d", i)
			}
			if e.ArtifactID == ta.ID || e.ArtifactID == sa.ID {
				ops = append(ops, e.Op)
			}
		}
		if len(ops) != 3 || ops[2] != artifact.OpLink {
			t.Fatalf("expected put, put, link; got %v", ops)
		}
		if len(collectLog(t, s, entries[len(entries)-1].Seq)) != 0 {
			t.Fatal("expected nothing after the last sequence")
		}
	})
}

func collectLog(t *testing.T, s artifactstore.Store, after int64) []artifact.LogEntry {
	t.Helper()
	var out []artifact.LogEntry
	for e, err := range s.WriteLog(context.Background(), after) {
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, e)
	}
	return out
}
