// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cpg

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/cpg/cfg"
	"github.com/AleutianAI/cpg/dfg"
	"github.com/AleutianAI/cpg/syntax"
	"github.com/AleutianAI/cpg/telemetry"
)

// Builder merges per-routine graphs into a CPG and enriches it.
//
// Thread Safety: Safe for concurrent use.
type Builder struct {
	passes []Pass
	logger *slog.Logger
}

// BuilderOption is a functional option for configuring the Builder.
type BuilderOption func(*Builder)

// WithPasses replaces the default enrichment pass list. Passes run in
// the given order.
func WithPasses(passes ...Pass) BuilderOption {
	return func(b *Builder) {
		b.passes = passes
	}
}

// NewBuilder creates a CPG builder with the default pass order:
// complexity, security, performance, quality.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		passes: DefaultPasses(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build merges one routine's syntax tree, CFG, and DFG into a CPG.
//
// Description:
//
//	Creates one CPG node per syntax node (preorder, routine root at
//	index 0), copies CFG and DFG edges into the CPG edge space with
//	their typed kinds, records call sites for cross-routine resolution,
//	then runs the enrichment passes in order. The output is validated;
//	a violated invariant aborts with an IntegrityError and nothing is
//	returned for storage.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	key - The routine identity.
//	routine - The KindRoutine subtree with resolved ids. Must not be nil.
//	control - The routine's CFG. Must not be nil.
//	flow - The routine's DFG. Must not be nil.
//
// Outputs:
//
//	*Graph - The validated graph. Nil on error.
//	error - ErrInvalidInput, ErrBuildCancelled, or *IntegrityError.
//
// Thread Safety: Safe for concurrent use.
func (b *Builder) Build(ctx context.Context, key syntax.RoutineKey, routine *syntax.Node, control *cfg.Graph, flow *dfg.Graph) (*Graph, error) {
	ctx, span := tracer.Start(ctx, "cpg.Build")
	defer span.End()
	span.SetAttributes(attribute.String("routine", key.String()))

	if routine == nil || routine.Kind != syntax.KindRoutine || control == nil || flow == nil {
		span.RecordError(ErrInvalidInput)
		span.SetStatus(codes.Error, ErrInvalidInput.Error())
		return nil, ErrInvalidInput
	}

	start := time.Now()
	g := &Graph{
		Routine:    key,
		Cyclomatic: control.CyclomaticComplexity(),
		byID:       make(map[syntax.NodeID]int),
	}

	// (a) One CPG node per syntax node, preorder. Containment edges
	// follow the tree shape.
	b.mergeSyntax(g, routine, -1)

	// (b) CFG edges between the representative syntax nodes of each
	// CFG node. Entry/exit have no syntax of their own and anchor at
	// the routine root.
	b.mergeControl(g, control)

	// (c) DFG edges; synthetic nodes (phi, unknown, params at entry)
	// also anchor at the routine root.
	b.mergeFlow(g, flow)

	// (d) Call sites. Resolution against other routines' bundles is
	// deferred to the repository.
	b.collectCalls(g, key, routine)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildCancelled, err)
	}

	if err := b.runPasses(ctx, g); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := validate(g, routine); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		telemetry.LoggerWithRoutine(ctx, b.logger, key).Error("cpg validation failed",
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("node_count", g.NodeCount()),
		attribute.Int("edge_count", g.EdgeCount()),
		attribute.Int("call_sites", len(g.calls)),
	)
	recordBuild(ctx, time.Since(start), g)
	return g, nil
}

func (b *Builder) mergeSyntax(g *Graph, n *syntax.Node, parent int) {
	node := &Node{
		SyntaxID: n.ID,
		Kind:     n.Kind,
		Label:    n.Label,
		Props:    make(map[string]any),
	}
	g.addNode(node)
	if parent >= 0 {
		g.addEdge(parent, node.Index, EdgeContainment)
	}
	for _, c := range n.Children {
		b.mergeSyntax(g, c, node.Index)
	}
}

// representative returns the CPG node index standing in for a CFG node.
func representative(g *Graph, control *cfg.Graph, cfgID string) int {
	n, ok := control.Node(cfgID)
	if !ok {
		return 0
	}
	for _, sid := range n.SyntaxIDs {
		if idx, ok := g.byID[sid]; ok {
			return idx
		}
	}
	return 0
}

func (b *Builder) mergeControl(g *Graph, control *cfg.Graph) {
	for _, n := range control.Nodes() {
		idx := representative(g, control, n.ID)
		// First writer wins; the root stands in for entry/exit and for
		// empty merge blocks.
		if g.nodes[idx].CFGNodeID == "" {
			g.nodes[idx].CFGNodeID = n.ID
		}
	}
	for _, e := range control.Edges() {
		from := representative(g, control, e.From)
		to := representative(g, control, e.To)
		g.addEdge(from, to, EdgeControlFlow)
	}
}

func (b *Builder) mergeFlow(g *Graph, flow *dfg.Graph) {
	anchor := func(id string) int {
		n, ok := flow.Node(id)
		if !ok || n.SyntaxID == "" {
			return 0
		}
		if idx, ok := g.byID[n.SyntaxID]; ok {
			return idx
		}
		return 0
	}
	for _, n := range flow.Nodes() {
		idx := anchor(n.ID)
		g.nodes[idx].DFGNodeIDs = append(g.nodes[idx].DFGNodeIDs, n.ID)
	}
	for _, e := range flow.Edges() {
		g.addEdge(anchor(e.From), anchor(e.To), EdgeDataFlow)
	}
}

func (b *Builder) collectCalls(g *Graph, key syntax.RoutineKey, routine *syntax.Node) {
	syntax.Walk(routine, func(n *syntax.Node) bool {
		if n.Kind != syntax.KindCall || n.Label == "" {
			return true
		}
		g.calls = append(g.calls, &CallSite{
			SiteID: n.ID,
			Callee: calleeKey(key.Module, n),
		})
		// Routine-level dependency summary edge to the call site.
		if idx, ok := g.byID[n.ID]; ok {
			g.addEdge(0, idx, EdgeDependency)
		}
		return true
	})
}

// calleeKey infers the callee routine key from a call expression.
// Qualified names ("pkg.fn") name another module; unqualified names stay
// in the caller's module. Arity is the argument count at the site.
func calleeKey(module string, call *syntax.Node) syntax.RoutineKey {
	name := call.Label
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		module = name[:i]
		name = name[i+1:]
	}
	return syntax.RoutineKey{Module: module, Name: name, Arity: len(call.Children)}
}

func (b *Builder) runPasses(ctx context.Context, g *Graph) error {
	for _, p := range b.passes {
		before := snapshotProps(g)
		if err := p.Enrich(ctx, g); err != nil {
			return &IntegrityError{Invariant: "pass_failed", Pass: p.Name(), Detail: err.Error()}
		}
		if key, nodeIdx, deleted := deletedProp(g, before); deleted {
			return &IntegrityError{
				Invariant: "property_deleted",
				Pass:      p.Name(),
				Detail:    fmt.Sprintf("node %d lost property %q", nodeIdx, key),
			}
		}
	}
	return nil
}

func snapshotProps(g *Graph) []map[string]bool {
	out := make([]map[string]bool, len(g.nodes))
	for i, n := range g.nodes {
		keys := make(map[string]bool, len(n.Props))
		for k := range n.Props {
			keys[k] = true
		}
		out[i] = keys
	}
	return out
}

func deletedProp(g *Graph, before []map[string]bool) (string, int, bool) {
	for i, keys := range before {
		for k := range keys {
			if _, ok := g.nodes[i].Props[k]; !ok {
				return k, i, true
			}
		}
	}
	return "", 0, false
}

// validate checks the completeness and dangling-edge invariants.
func validate(g *Graph, routine *syntax.Node) error {
	syntaxCount := syntax.CountNodes(routine)
	if syntaxCount != len(g.nodes) {
		return &IntegrityError{
			Invariant: "completeness",
			Detail:    fmt.Sprintf("%d syntax nodes, %d cpg nodes", syntaxCount, len(g.nodes)),
		}
	}
	missing := 0
	syntax.Walk(routine, func(n *syntax.Node) bool {
		if _, ok := g.byID[n.ID]; !ok {
			missing++
		}
		return true
	})
	if missing > 0 {
		return &IntegrityError{
			Invariant: "completeness",
			Detail:    fmt.Sprintf("%d syntax nodes without a cpg node", missing),
		}
	}
	for i, e := range g.edges {
		if e.From < 0 || e.From >= len(g.nodes) || e.To < 0 || e.To >= len(g.nodes) {
			return &IntegrityError{
				Invariant: "dangling_edge",
				Detail:    fmt.Sprintf("edge %d endpoints (%d,%d) outside node container", i, e.From, e.To),
			}
		}
	}
	return nil
}
