// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package repo stores analysis bundles per routine with per-key
// versioning and atomic replacement.
//
// # Concurrency Model
//
// Each routine key owns a slot: a writer mutex plus an atomic pointer
// to the current bundle. Readers load the pointer without locking, so
// a Get never observes a torn bundle. Writers serialize per key only;
// puts for different routines never contend. Cross-key consistency is
// deliberately not promised: a Snapshot is per-key atomic, not a global
// point-in-time cut.
package repo

import (
	"errors"

	"github.com/AleutianAI/cpg/cfg"
	"github.com/AleutianAI/cpg/cpg"
	"github.com/AleutianAI/cpg/dfg"
	"github.com/AleutianAI/cpg/syntax"
)

// Sentinel errors for repository operations.
var (
	// ErrNotFound is returned when no bundle exists for a key or node.
	ErrNotFound = errors.New("bundle not found")

	// ErrInvalidBundle is returned for bundles missing a layer.
	ErrInvalidBundle = errors.New("invalid bundle")
)

// BundleMetrics summarizes one routine's analysis output.
type BundleMetrics struct {
	// Cyclomatic is the CFG's cyclomatic complexity.
	Cyclomatic int

	// CFGNodes, DFGNodes, CPGNodes, CPGEdges are layer sizes.
	CFGNodes int
	DFGNodes int
	CPGNodes int
	CPGEdges int

	// PathsTotal is the number of acyclic-per-back-edge CFG paths found;
	// PathsCapped is set when enumeration hit the cap.
	PathsTotal  int
	PathsCapped bool

	// ApproxBytes estimates the bundle's memory footprint.
	ApproxBytes int64
}

// Bundle is the complete analysis result for one routine at one
// version. Bundles are immutable once stored; replacement writes a new
// bundle with a higher version.
type Bundle struct {
	// Key identifies the routine.
	Key syntax.RoutineKey

	// Version counts successful replacements, starting at 1.
	Version uint64

	// Root is the resolved routine subtree the layers were built from.
	Root *syntax.Node

	// CFG, DFG, CPG are the analysis layers.
	CFG *cfg.Graph
	DFG *dfg.Graph
	CPG *cpg.Graph

	// Metrics summarizes layer sizes and complexity.
	Metrics BundleMetrics

	// BuiltAtMilli is the Unix-millisecond store time.
	BuiltAtMilli int64

	// Stale marks a bundle whose most recent rebuild failed; the data
	// is the last good version and still servable.
	Stale bool
}

// approxBundleBytes estimates a bundle's footprint from layer sizes.
// Per-element constants are rough struct-plus-overhead guesses; the
// number only has to be proportionally right for pressure decisions.
func approxBundleBytes(b *Bundle) int64 {
	const (
		perSyntaxNode = 160
		perCFGNode    = 120
		perDFGNode    = 112
		perCPGNode    = 200
		perCPGEdge    = 48
	)
	total := int64(syntax.CountNodes(b.Root)) * perSyntaxNode
	total += int64(b.CFG.NodeCount()) * perCFGNode
	total += int64(b.DFG.NodeCount()) * perDFGNode
	total += int64(b.CPG.NodeCount()) * perCPGNode
	total += int64(b.CPG.EdgeCount()) * perCPGEdge
	return total
}

// Stats is a point-in-time summary of the repository.
type Stats struct {
	// Routines is the number of stored bundles.
	Routines int

	// Stale is the number of bundles marked stale.
	Stale int

	// ApproxBytes is the summed bundle footprint estimate.
	ApproxBytes int64

	// PendingCallees is the number of callee keys some caller waits on.
	PendingCallees int
}
