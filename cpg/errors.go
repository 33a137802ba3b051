// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cpg merges a routine's syntax tree, CFG, and DFG into one code
// property graph and runs the ordered enrichment passes over it.
//
// # Merge Invariants
//
//   - completeness: every input syntax node maps to exactly one CPG node
//   - no enrichment pass introduces a dangling edge
//   - no pass deletes a property written by an earlier pass
//
// A violated invariant aborts the build with an IntegrityError naming
// it; the bundle is not stored and the previous version stays servable.
package cpg

import (
	"errors"
	"fmt"
)

// Sentinel errors for CPG construction.
var (
	// ErrInvalidInput is returned when Build is given nil inputs.
	ErrInvalidInput = errors.New("invalid cpg builder input")

	// ErrBuildCancelled is returned when a build is cancelled via context.
	ErrBuildCancelled = errors.New("cpg build cancelled")

	// ErrIntegrity is the class of all integrity violations; match with
	// errors.Is. The concrete error is an *IntegrityError.
	ErrIntegrity = errors.New("cpg integrity violation")
)

// IntegrityError reports a violated merge or enrichment invariant.
type IntegrityError struct {
	// Invariant names the violated invariant ("completeness",
	// "dangling_edge", "property_deleted").
	Invariant string

	// Pass is the enrichment pass at fault, empty for merge violations.
	Pass string

	// Detail describes the specific violation.
	Detail string
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	if e.Pass != "" {
		return fmt.Sprintf("cpg integrity violation: %s (pass %s): %s", e.Invariant, e.Pass, e.Detail)
	}
	return fmt.Sprintf("cpg integrity violation: %s: %s", e.Invariant, e.Detail)
}

// Unwrap allows errors.Is(err, ErrIntegrity).
func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}
