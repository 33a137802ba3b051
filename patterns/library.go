// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patterns

import (
	"context"
	"fmt"
	"sort"

	"github.com/AleutianAI/cpg/cfg"
	"github.com/AleutianAI/cpg/cpg"
	"github.com/AleutianAI/cpg/cpgmath"
	"github.com/AleutianAI/cpg/dfg"
	"github.com/AleutianAI/cpg/repo"
	"github.com/AleutianAI/cpg/semantics"
	"github.com/AleutianAI/cpg/syntax"
)

// LibrarySpecs returns the built-in structural patterns. These run
// through the generic matcher; the flow-sensitive detectors below have
// dedicated entry points.
func LibrarySpecs() []Spec {
	return []Spec{
		{
			Name:     "deep-nesting",
			Severity: SeverityInfo,
			Nodes: []NodePattern{
				{Alias: "node", Props: map[string]any{cpg.PropDeepNesting: nil}},
			},
		},
		{
			Name:     "credential-literal",
			Severity: SeverityCritical,
			Nodes: []NodePattern{
				{Alias: "literal", Kinds: []syntax.Kind{syntax.KindLiteral},
					Props: map[string]any{cpg.PropCredentialLiteral: nil}},
			},
		},
		{
			Name:     "call-in-loop",
			Severity: SeverityWarning,
			Nodes: []NodePattern{
				{Alias: "call", Kinds: []syntax.Kind{syntax.KindCall},
					Props: map[string]any{cpg.PropCallInLoop: nil}},
			},
		},
		{
			// Data-flow edges land on the argument node, not the call,
			// so the sink binds through its contained argument.
			Name:     "source-flows-to-sink",
			Severity: SeverityCritical,
			Nodes: []NodePattern{
				{Alias: "source", Props: map[string]any{cpg.PropTaintSource: nil}},
				{Alias: "arg"},
				{Alias: "sink", Kinds: []syntax.Kind{syntax.KindCall},
					Props: map[string]any{cpg.PropUnsafeCall: nil}},
			},
			Edges: []EdgePattern{
				{From: "source", To: "arg", Kinds: []cpg.EdgeKind{cpg.EdgeDataFlow}},
				{From: "sink", To: "arg", Kinds: []cpg.EdgeKind{cpg.EdgeContainment}},
			},
		},
	}
}

// FindUnboundedRecursion flags self-recursive routines with no branch
// on the path to the recursive call.
//
// Description:
//
//	For each routine with a resolved self call, computes the CFG's
//	dominator tree from the entry. When no conditional node dominates
//	the recursive call site, every execution reaches the call and the
//	recursion cannot terminate.
//
// Thread Safety: Safe for concurrent use (read-only on the snapshot).
func FindUnboundedRecursion(ctx context.Context, snap *repo.Snapshot) ([]Finding, error) {
	findings := make([]Finding, 0)
	for _, key := range snap.Routines() {
		b, _ := snap.Bundle(key)
		for _, c := range b.CPG.Calls() {
			if !c.Resolved || c.Callee != key {
				continue
			}
			guarded, err := callIsGuarded(ctx, b, c.SiteID)
			if err != nil {
				return nil, err
			}
			if !guarded {
				findings = append(findings, Finding{
					Rule:     "unbounded_recursion",
					Severity: SeverityCritical,
					Routine:  key,
					Node:     c.SiteID,
					Detail:   fmt.Sprintf("recursive call to %s is not behind any branch", key),
				})
			}
		}
	}
	sortFindings(findings)
	return findings, nil
}

// callIsGuarded reports whether any conditional node dominates the
// call site in the routine's CFG.
func callIsGuarded(ctx context.Context, b *repo.Bundle, site syntax.NodeID) (bool, error) {
	covering, ok := b.CFG.Covering(site)
	if !ok {
		// Unreachable call sites cannot recurse.
		return true, nil
	}
	dt, err := cpgmath.Dominators(ctx, controlView{b.CFG}, b.CFG.Entry)
	if err != nil {
		return false, err
	}
	for _, dom := range dt.DominatorsOf(covering) {
		if dom == covering {
			continue
		}
		if n, ok := b.CFG.Node(dom); ok {
			if n.Kind == cfg.NodeBranch || n.Kind == cfg.NodeLoopHeader {
				return true, nil
			}
		}
	}
	return false, nil
}

// FindDeadStores flags definitions whose value is never read.
//
// Thread Safety: Safe for concurrent use (read-only on the snapshot).
func FindDeadStores(ctx context.Context, snap *repo.Snapshot) ([]Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	findings := make([]Finding, 0)
	for _, key := range snap.Routines() {
		b, _ := snap.Bundle(key)
		for _, n := range b.DFG.Nodes() {
			if n.Kind != dfg.KindDef {
				continue
			}
			if len(b.DFG.Successors(n.ID)) > 0 {
				continue
			}
			findings = append(findings, Finding{
				Rule:     "dead_store",
				Severity: SeverityWarning,
				Routine:  key,
				Node:     n.SyntaxID,
				Detail:   fmt.Sprintf("value assigned to %q is never read", n.Var),
			})
		}
	}
	sortFindings(findings)
	return findings, nil
}

// FindTaintedSinks flags unsafe calls reachable by taint from any
// source in the snapshot, across routine boundaries.
//
// Thread Safety: Safe for concurrent use (read-only on the snapshot).
func FindTaintedSinks(ctx context.Context, snap *repo.Snapshot) ([]Finding, error) {
	seen := make(map[semantics.TaintStep]bool)
	findings := make([]Finding, 0)

	for _, key := range snap.Routines() {
		b, _ := snap.Bundle(key)
		for _, n := range b.CPG.Nodes() {
			if v, ok := n.Props[cpg.PropTaintSource]; !ok || v != true {
				continue
			}
			report, err := semantics.TraceTaint(ctx, snap, n.SyntaxID)
			if err != nil {
				return nil, err
			}
			for _, sink := range report.Sinks {
				if seen[sink] {
					continue
				}
				seen[sink] = true
				findings = append(findings, Finding{
					Rule:     "tainted_sink",
					Severity: SeverityCritical,
					Routine:  sink.Routine,
					Node:     sink.Node,
					Detail:   fmt.Sprintf("unsafe call reachable by taint from %s", n.SyntaxID),
				})
			}
		}
	}
	sortFindings(findings)
	return findings, nil
}

func sortFindings(findings []Finding) {
	sort.Slice(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Routine != b.Routine {
			return a.Routine.String() < b.Routine.String()
		}
		return a.Node < b.Node
	})
}

// controlView adapts a cfg.Graph to the cpgmath graph interface.
type controlView struct {
	g *cfg.Graph
}

func (v controlView) NodeIDs() []string {
	return v.g.SortedNodeIDs()
}

func (v controlView) HasNode(id string) bool {
	_, ok := v.g.Node(id)
	return ok
}

func (v controlView) Successors(id string) []string {
	edges := v.g.Successors(id)
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.To)
	}
	return out
}

func (v controlView) Predecessors(id string) []string {
	edges := v.g.Predecessors(id)
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.From)
	}
	return out
}
