package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Strob0t/Boardroom/internal/config"
	"github.com/Strob0t/Boardroom/internal/domain"
	"github.com/Strob0t/Boardroom/internal/domain/artifact"
	"github.com/Strob0t/Boardroom/internal/domain/outcome"
	"github.com/Strob0t/Boardroom/internal/domain/policy"
	"github.com/Strob0t/Boardroom/internal/domain/provenance"
	"github.com/Strob0t/Boardroom/internal/port/artifactstore"
)

// PolicyService owns the consensus policies. Built-in presets and custom
// YAML policies are seeded into the artifact store, which then holds every
// version; calibrations append new versions.
type PolicyService struct {
	store      artifactstore.Store
	guard      *GuardrailService
	cfg        config.Policy
	actor      string
	names      []string
	categories map[string]string
}

// NewPolicyService creates a PolicyService. Call Load before use.
func NewPolicyService(store artifactstore.Store, guard *GuardrailService, cfg config.Policy, actor string) *PolicyService {
	return &PolicyService{
		store:      store,
		guard:      guard,
		cfg:        cfg,
		actor:      actor,
		categories: cfg.Categories,
	}
}

// Load seeds the store with the presets and the policies found in the
// custom directory. Custom policies override presets with the same name.
// A policy already in the store is left as is, so applied calibrations
// survive restarts.
func (s *PolicyService) Load(ctx context.Context) error {
	byName := make(map[string]policy.Policy)
	for _, p := range policy.Presets() {
		byName[p.Name] = p
	}
	if s.cfg.CustomDir != "" {
		custom, err := policy.LoadFromDirectory(s.cfg.CustomDir)
		if err != nil {
			return fmt.Errorf("load custom policies: %w", err)
		}
		for i := range custom {
			byName[custom[i].Name] = custom[i]
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		p := byName[name]
		if err := s.guard.CheckRules(&p); err != nil {
			return err
		}
		if _, err := s.store.Get(ctx, policy.ArtifactID(name)); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("load policy %s: %w", name, err)
		}
		if err := s.put(ctx, &p); err != nil {
			return err
		}
		slog.Info("policy seeded", "policy", name, "version", p.Version, "mode", p.Mode)
	}

	if _, ok := byName[s.cfg.Default]; !ok {
		return fmt.Errorf("default policy %q is not defined: %w", s.cfg.Default, domain.ErrValidation)
	}
	for category, name := range s.categories {
		if _, ok := byName[name]; !ok {
			return fmt.Errorf("category %s maps to unknown policy %q: %w", category, name, domain.ErrValidation)
		}
	}
	s.names = names
	return nil
}

// Validate checks a policy the way Load would, including its CEL rules.
func (s *PolicyService) Validate(p *policy.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return s.guard.CheckRules(p)
}

// Names returns the known policy names, sorted.
func (s *PolicyService) Names() []string {
	return slices.Clone(s.names)
}

// DefaultName returns the name of the default policy.
func (s *PolicyService) DefaultName() string {
	return s.cfg.Default
}

// NameFor returns the policy name governing a topic category.
func (s *PolicyService) NameFor(category string) string {
	if name, ok := s.categories[category]; ok && category != "" {
		return name
	}
	return s.cfg.Default
}

// Resolve returns the latest version of the policy governing category.
func (s *PolicyService) Resolve(ctx context.Context, category string) (*policy.Policy, error) {
	return s.Get(ctx, s.NameFor(category))
}

// Get returns the latest version of a policy.
func (s *PolicyService) Get(ctx context.Context, name string) (*policy.Policy, error) {
	a, err := s.store.Get(ctx, policy.ArtifactID(name))
	if err != nil {
		return nil, fmt.Errorf("get policy %s: %w", name, err)
	}
	return artifact.Decode[policy.Policy](a)
}

// Version returns the given policy version. Rounds keep using the version
// their tree was submitted under even after a calibration.
func (s *PolicyService) Version(ctx context.Context, name string, version int) (*policy.Policy, error) {
	id := policy.ArtifactID(name)
	latest, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get policy %s: %w", name, err)
	}
	for v := latest.Version; v >= 1; v-- {
		a := latest
		if v != latest.Version {
			if a, err = s.store.GetVersion(ctx, id, v); err != nil {
				return nil, fmt.Errorf("get policy %s v%d: %w", name, v, err)
			}
		}
		p, err := artifact.Decode[policy.Policy](a)
		if err != nil {
			return nil, err
		}
		if p.Version == version {
			return p, nil
		}
	}
	return nil, fmt.Errorf("policy %s version %d: %w", name, version, domain.ErrNotFound)
}

// List returns the latest version of every policy.
func (s *PolicyService) List(ctx context.Context) ([]policy.Policy, error) {
	out := make([]policy.Policy, 0, len(s.names))
	for _, name := range s.names {
		p, err := s.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

// ApplyCalibration writes the next version of the policy named in the
// outcome's calibration delta and links outcome -> policy. Applying the same
// outcome twice returns the current policy.
func (s *PolicyService) ApplyCalibration(ctx context.Context, outcomeID, actor string) (*policy.Policy, error) {
	if actor == "" {
		return nil, fmt.Errorf("apply calibration: actor is required: %w", domain.ErrValidation)
	}
	a, err := s.store.Get(ctx, outcomeID)
	if err != nil {
		return nil, fmt.Errorf("apply calibration: %w", err)
	}
	if a.Kind != artifact.KindOutcome {
		return nil, fmt.Errorf("apply calibration: %s is a %s: %w", outcomeID, a.Kind, domain.ErrValidation)
	}
	o, err := artifact.Decode[outcome.DecisionOutcome](a)
	if err != nil {
		return nil, err
	}
	d := o.CalibrationDelta
	if d == nil || d.Direction == outcome.Mixed {
		return nil, fmt.Errorf("outcome %s proposes no calibration: %w", outcomeID, domain.ErrInvalidState)
	}

	policyID := policy.ArtifactID(d.PolicyName)
	receipts, err := s.store.Receipts(ctx, outcomeID)
	if err != nil {
		return nil, err
	}
	for _, r := range receipts {
		if r.FromID == outcomeID && r.ToID == policyID && r.Relationship == provenance.RelCalibrates {
			slog.Info("calibration already applied", "outcome_id", outcomeID, "policy", d.PolicyName)
			return s.Get(ctx, d.PolicyName)
		}
	}

	current, err := s.Get(ctx, d.PolicyName)
	if err != nil {
		return nil, err
	}
	if current.Version != d.BasePolicyVersion {
		return nil, fmt.Errorf("calibration for %s v%d is stale, current is v%d: %w",
			d.PolicyName, d.BasePolicyVersion, current.Version, domain.ErrConflict)
	}
	next, err := outcome.Apply(current, d)
	if err != nil {
		return nil, fmt.Errorf("apply calibration: %w: %w", err, domain.ErrValidation)
	}
	if err := s.put(ctx, next); err != nil {
		return nil, err
	}
	if _, err := s.store.Link(ctx, outcomeID, policyID, provenance.RelCalibrates, actor); err != nil {
		return nil, fmt.Errorf("link calibration: %w", err)
	}

	slog.Info("calibration applied",
		"outcome_id", outcomeID, "policy", next.Name, "version", next.Version,
		"threshold", next.Threshold, "actor", actor)
	return next, nil
}

func (s *PolicyService) put(ctx context.Context, p *policy.Policy) error {
	a, err := artifact.New(artifact.KindPolicy, policy.ArtifactID(p.Name), "", s.actor, p, false)
	if err != nil {
		return err
	}
	if _, err := s.store.Put(ctx, a); err != nil {
		return fmt.Errorf("store policy %s: %w", p.Name, err)
	}
	return nil
}
