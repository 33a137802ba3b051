// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cfg builds per-routine control-flow graphs from syntax trees.
//
// # Lowering Shapes
//
// Each supported construct lowers to a documented shape:
//   - binary conditionals become a branch node with exactly two
//     successors (true/false) joining at a merge block
//   - multi-way matches become a branch node with one true edge per arm
//     and a false edge for the missing default
//   - loops become a loop-header node with a back edge from the body
//
// # Error Policy
//
// Unsupported constructs never abort the build. They degrade to a single
// opaque block covering the subtree, and the graph is flagged Partial
// (PartialCoverage). Hard errors are limited to invalid input and
// context cancellation.
package cfg

import "errors"

// Sentinel errors for CFG construction.
var (
	// ErrInvalidRoutine is returned when Build is given a nil subtree or
	// one whose root is not a routine.
	ErrInvalidRoutine = errors.New("invalid routine subtree")

	// ErrBuildCancelled is returned when a build is cancelled via context.
	ErrBuildCancelled = errors.New("cfg build cancelled")

	// ErrMaxNodesExceeded is returned when the routine lowers to more
	// nodes than the configured maximum.
	ErrMaxNodesExceeded = errors.New("maximum cfg node count exceeded")
)
