// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package semantics

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/cpg/cpg"
	"github.com/AleutianAI/cpg/repo"
	"github.com/AleutianAI/cpg/syntax"
)

// DefaultMaxHops bounds taint propagation depth.
const DefaultMaxHops = 64

// TaintOptions configures a taint trace.
type TaintOptions struct {
	// MaxHops bounds propagation depth across data-flow and call edges.
	MaxHops int
}

// TaintOption is a functional option for configuring a trace.
type TaintOption func(*TaintOptions)

// WithMaxHops bounds propagation depth.
func WithMaxHops(n int) TaintOption {
	return func(o *TaintOptions) {
		if n > 0 {
			o.MaxHops = n
		}
	}
}

// TaintStep is one tainted position.
type TaintStep struct {
	Routine syntax.RoutineKey
	Node    syntax.NodeID
}

// TaintReport is the result of one forward taint trace.
type TaintReport struct {
	// Source is the traced origin.
	Source syntax.NodeID

	// Reached lists every tainted position, sorted by (routine, node).
	Reached []TaintStep

	// Sinks lists reached positions flagged as unsafe calls.
	Sinks []TaintStep

	// Sanitized counts propagations stopped at sanitizer nodes.
	Sanitized int

	// Truncated is set when the hop limit cut the trace short.
	Truncated bool
}

// TraceTaint propagates taint forward from a syntax node.
//
// Description:
//
//	Breadth-first over the data-flow projection of each routine's CPG.
//	A tainted call site with a resolved callee carries taint into the
//	callee's parameters. Propagation stops at sanitizer nodes and at
//	the hop limit; reaching the limit sets Truncated rather than
//	failing, since everything found so far is still sound.
//
// Inputs:
//
//	ctx - Context for tracing.
//	snap - The repository snapshot to trace within. Must not be nil.
//	source - The origin syntax node. Must exist in the snapshot.
//	opts - Optional trace configuration.
//
// Outputs:
//
//	*TaintReport - The tainted set. Never nil on success.
//	error - ErrUnknownNode when the source is not in the snapshot.
//
// Thread Safety: Safe for concurrent use (read-only on the snapshot).
func TraceTaint(ctx context.Context, snap *repo.Snapshot, source syntax.NodeID, opts ...TaintOption) (*TaintReport, error) {
	_, span := tracer.Start(ctx, "semantics.TraceTaint")
	defer span.End()
	span.SetAttributes(attribute.String("source", string(source)))

	o := TaintOptions{MaxHops: DefaultMaxHops}
	for _, opt := range opts {
		opt(&o)
	}

	srcKey, _, ok := snap.NodeContext(source)
	if !ok {
		return nil, ErrUnknownNode
	}

	report := &TaintReport{Source: source}
	type state struct {
		step TaintStep
		hops int
	}
	visited := map[TaintStep]bool{}
	queue := []state{{step: TaintStep{Routine: srcKey, Node: source}}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur.step] {
			continue
		}
		visited[cur.step] = true
		report.Reached = append(report.Reached, cur.step)

		b, ok := snap.Bundle(cur.step.Routine)
		if !ok {
			continue
		}
		node, ok := b.CPG.NodeByID(cur.step.Node)
		if !ok {
			continue
		}
		if flagged(node, cpg.PropUnsafeCall) {
			report.Sinks = append(report.Sinks, cur.step)
		}
		if flagged(node, cpg.PropSanitizer) {
			report.Sanitized++
			continue
		}
		if cur.hops >= o.MaxHops {
			report.Truncated = true
			continue
		}

		for _, next := range dataFlowTargets(b, node) {
			queue = append(queue, state{
				step: TaintStep{Routine: cur.step.Routine, Node: next},
				hops: cur.hops + 1,
			})
		}
		for _, next := range valueConsumers(b, node) {
			queue = append(queue, state{
				step: TaintStep{Routine: cur.step.Routine, Node: next},
				hops: cur.hops + 1,
			})
		}
		if node.Kind == syntax.KindCall {
			for _, step := range calleeParams(snap, b, node) {
				queue = append(queue, state{step: step, hops: cur.hops + 1})
			}
		}
	}

	sortSteps(report.Reached)
	sortSteps(report.Sinks)
	span.SetAttributes(
		attribute.Int("reached", len(report.Reached)),
		attribute.Int("sinks", len(report.Sinks)),
		attribute.Bool("truncated", report.Truncated),
	)
	recordTaint(ctx, report)
	return report, nil
}

// dataFlowTargets returns the syntax nodes one data-flow edge away.
func dataFlowTargets(b *repo.Bundle, node *cpg.Node) []syntax.NodeID {
	out := make([]syntax.NodeID, 0)
	for _, e := range b.CPG.OutEdges(node.Index) {
		if e.Kind != cpg.EdgeDataFlow {
			continue
		}
		if to, ok := b.CPG.NodeAt(e.To); ok {
			out = append(out, to.SyntaxID)
		}
	}
	return out
}

// valueConsumers returns the containment parent when it consumes the
// node's value: a call consumes its arguments, an assignment its
// right-hand side. Data-flow edges anchor at arguments and defs, so
// this hop is what carries taint onto the call itself.
func valueConsumers(b *repo.Bundle, node *cpg.Node) []syntax.NodeID {
	for _, e := range b.CPG.InEdges(node.Index) {
		if e.Kind != cpg.EdgeContainment {
			continue
		}
		parent, ok := b.CPG.NodeAt(e.From)
		if !ok {
			break
		}
		if parent.Kind == syntax.KindCall || parent.Kind == syntax.KindAssign {
			return []syntax.NodeID{parent.SyntaxID}
		}
		break
	}
	return nil
}

// calleeParams carries taint from a call site into the resolved
// callee's parameters.
func calleeParams(snap *repo.Snapshot, b *repo.Bundle, call *cpg.Node) []TaintStep {
	var callee syntax.RoutineKey
	for _, c := range b.CPG.Calls() {
		if c.SiteID == call.SyntaxID && c.Resolved {
			callee = c.Callee
			break
		}
	}
	if callee.IsZero() {
		return nil
	}
	cb, ok := snap.Bundle(callee)
	if !ok {
		return nil
	}

	steps := make([]TaintStep, 0)
	for _, child := range cb.Root.Children {
		if child.Kind == syntax.KindParam {
			steps = append(steps, TaintStep{Routine: callee, Node: child.ID})
		}
	}
	return steps
}

func flagged(n *cpg.Node, prop string) bool {
	v, ok := n.Props[prop]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func sortSteps(steps []TaintStep) {
	sort.Slice(steps, func(i, j int) bool {
		if steps[i].Routine != steps[j].Routine {
			return steps[i].Routine.String() < steps[j].Routine.String()
		}
		return steps[i].Node < steps[j].Node
	})
}
