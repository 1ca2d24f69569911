// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates an attempt to overwrite a sealed or immutable artifact
// with different content.
var ErrConflict = errors.New("conflict: sealed artifact cannot change")

// ErrValidation indicates a malformed artifact or request.
var ErrValidation = errors.New("validation failed")

// ErrInvalidState indicates an operation not allowed in the current lifecycle state.
var ErrInvalidState = errors.New("invalid lifecycle state")

// ErrNoEvaluators indicates a scoring round was requested with an empty registry.
var ErrNoEvaluators = errors.New("no evaluators registered")

// ErrInvalidWeights indicates a score whose dimension weights sum to zero.
var ErrInvalidWeights = errors.New("invalid weights: sum is zero")

// ErrNoConsensus indicates unanimity could not be reached on any branch.
var ErrNoConsensus = errors.New("no consensus")

// ErrNoEligibleBranch indicates no branch met the policy threshold.
var ErrNoEligibleBranch = errors.New("no eligible branch")
