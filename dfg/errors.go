// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dfg builds per-routine data-flow graphs over a control-flow graph.
//
// # Model
//
// Variable bindings create def nodes; every read creates a use node
// linked to the nearest reaching defs along CFG paths. When several defs
// reach a use via different branches, the use links to all of them.
// With SSA requested, control-flow joins insert synthetic phi defs so
// every use sees exactly one reaching definition, and versions are a
// strictly increasing per-variable counter reset per routine.
//
// Captures (closures over outer variables) and reassignment inside
// loops are modeled as ordinary cross-scope def/use edges: closure
// bodies are walked in place, so their reads link back to the enclosing
// routine's defs.
//
// # Error Policy
//
// Unresolvable references become use nodes fed by an explicit
// unknown-source def rather than failing the build.
package dfg

import "errors"

// Sentinel errors for DFG construction.
var (
	// ErrInvalidInput is returned when Build is given a nil routine or CFG.
	ErrInvalidInput = errors.New("invalid dfg builder input")

	// ErrBuildCancelled is returned when a build is cancelled via context.
	ErrBuildCancelled = errors.New("dfg build cancelled")
)
