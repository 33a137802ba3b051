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
	"sort"

	"github.com/AleutianAI/cpg/syntax"
)

// EdgeKind classifies a CPG edge. The CPG is a general directed
// multigraph; loops and recursion make cycles normal.
type EdgeKind int

const (
	// EdgeContainment is the syntactic parent→child relation.
	EdgeContainment EdgeKind = iota

	// EdgeControlFlow is a copied CFG edge.
	EdgeControlFlow

	// EdgeDataFlow is a copied DFG def→use edge.
	EdgeDataFlow

	// EdgeCall connects a call-site node to a callee routine.
	EdgeCall

	// EdgeDependency is a routine-level summary edge to its call sites.
	EdgeDependency

	// NumEdgeKinds is the total number of edge kinds (for array sizing).
	NumEdgeKinds
)

// edgeKindNames maps EdgeKind values to their string representations.
var edgeKindNames = map[EdgeKind]string{
	EdgeContainment: "containment",
	EdgeControlFlow: "control_flow",
	EdgeDataFlow:    "data_flow",
	EdgeCall:        "call",
	EdgeDependency:  "dependency",
}

// String returns the string representation of the EdgeKind.
func (k EdgeKind) String() string {
	if name, ok := edgeKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Node unifies a syntax node with the CFG/DFG nodes at the same
// position, plus an open property map filled by enrichment passes.
type Node struct {
	// Index is the position in the graph's flat node container.
	Index int

	// SyntaxID is the underlying syntax node id.
	SyntaxID syntax.NodeID

	// Kind is the syntax node's kind.
	Kind syntax.Kind

	// Label is the syntax node's label.
	Label string

	// CFGNodeID is the CFG node this syntax node represents, if it is
	// the representative of one. Empty otherwise.
	CFGNodeID string

	// DFGNodeIDs are the DFG nodes anchored at this syntax node.
	DFGNodeIDs []string

	// Props is the open property map written by enrichment passes.
	// Passes add keys; no pass deletes a key written by an earlier pass.
	Props map[string]any
}

// Prop returns a property value.
func (n *Node) Prop(key string) (any, bool) {
	v, ok := n.Props[key]
	return v, ok
}

// Edge is a typed edge between two node indexes of one routine's CPG.
//
// Call edges whose callee lives in another routine carry the callee's
// entry id in External and have To set to -1; every other edge is
// internal to the node container.
type Edge struct {
	From int
	To   int
	Kind EdgeKind

	// External is the callee entry node id on cross-routine call
	// edges. Empty on internal edges.
	External syntax.NodeID
}

// CallSite is a cross-routine call edge from a call-site node to the
// callee routine's entry. Unresolved sites are deferred until the
// callee's bundle becomes available.
type CallSite struct {
	// SiteID is the syntax id of the call expression.
	SiteID syntax.NodeID

	// Callee is the inferred callee routine key.
	Callee syntax.RoutineKey

	// Resolved is set once the callee's bundle exists in the repository.
	Resolved bool
}

// Graph is the code property graph of one routine.
//
// All nodes live in a flat, densely-indexed container; edges and
// cross-layer references are index/id pairs into it, never owning
// back-references. Index 0 is always the routine root node.
//
// Thread Safety: Read-only after Build returns; safe for concurrent
// reads. Call-site resolution in the repository replaces the graph via
// Clone, never mutates a stored one.
type Graph struct {
	// Routine identifies the routine this graph belongs to.
	Routine syntax.RoutineKey

	// Cyclomatic is the routine's cyclomatic complexity, carried over
	// from the CFG for the enrichment passes.
	Cyclomatic int

	nodes []*Node
	byID  map[syntax.NodeID]int
	edges []*Edge

	// out/in map node index → edge indexes.
	out [][]int
	in  [][]int

	calls []*CallSite
}

// Root returns the routine root node.
func (g *Graph) Root() *Node {
	return g.nodes[0]
}

// NodeByID returns the node for a syntax id.
func (g *Graph) NodeByID(id syntax.NodeID) (*Node, bool) {
	idx, ok := g.byID[id]
	if !ok {
		return nil, false
	}
	return g.nodes[idx], true
}

// NodeAt returns the node at a container index.
func (g *Graph) NodeAt(index int) (*Node, bool) {
	if index < 0 || index >= len(g.nodes) {
		return nil, false
	}
	return g.nodes[index], true
}

// Nodes returns the flat node container in preorder.
func (g *Graph) Nodes() []*Node {
	return g.nodes
}

// Edges returns all edges.
func (g *Graph) Edges() []*Edge {
	return g.edges
}

// OutEdges returns the outgoing edges of a node index.
func (g *Graph) OutEdges(index int) []*Edge {
	if index < 0 || index >= len(g.out) {
		return nil
	}
	edges := make([]*Edge, 0, len(g.out[index]))
	for _, ei := range g.out[index] {
		edges = append(edges, g.edges[ei])
	}
	return edges
}

// InEdges returns the incoming edges of a node index.
func (g *Graph) InEdges(index int) []*Edge {
	if index < 0 || index >= len(g.in) {
		return nil
	}
	edges := make([]*Edge, 0, len(g.in[index]))
	for _, ei := range g.in[index] {
		edges = append(edges, g.edges[ei])
	}
	return edges
}

// Calls returns all call sites, resolved or not.
func (g *Graph) Calls() []*CallSite {
	return g.calls
}

// PendingCalls returns unresolved call sites.
func (g *Graph) PendingCalls() []*CallSite {
	pending := make([]*CallSite, 0)
	for _, c := range g.calls {
		if !c.Resolved {
			pending = append(pending, c)
		}
	}
	return pending
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// Clone returns a copy owning its call-site list and edge containers,
// sharing only the immutable node container, so deferred call
// resolution can mark sites and add call edges at a new version without
// touching the stored graph.
func (g *Graph) Clone() *Graph {
	calls := make([]*CallSite, len(g.calls))
	for i, c := range g.calls {
		cc := *c
		calls[i] = &cc
	}
	edges := make([]*Edge, len(g.edges))
	copy(edges, g.edges)
	out := make([][]int, len(g.out))
	for i, es := range g.out {
		out[i] = append([]int(nil), es...)
	}
	in := make([][]int, len(g.in))
	for i, es := range g.in {
		in[i] = append([]int(nil), es...)
	}
	return &Graph{
		Routine:    g.Routine,
		Cyclomatic: g.Cyclomatic,
		nodes:      g.nodes,
		byID:       g.byID,
		edges:      edges,
		out:        out,
		in:         in,
		calls:      calls,
	}
}

// ResolveCallee marks every unresolved site calling the callee as
// resolved and materializes its call edge from the site node to the
// callee's entry. Self-recursion yields an internal edge onto the
// routine root; any other callee is referenced by its entry id.
//
// Mutates the graph; resolving a stored graph goes through Clone.
func (g *Graph) ResolveCallee(callee syntax.RoutineKey) bool {
	entry := syntax.NodeID(callee.String())
	touched := false
	for _, c := range g.calls {
		if c.Resolved || c.Callee != callee {
			continue
		}
		c.Resolved = true
		touched = true
		if from, ok := g.byID[c.SiteID]; ok {
			g.addCallEdge(from, entry)
		}
	}
	return touched
}

// addCallEdge adds the call edge for one resolved site.
func (g *Graph) addCallEdge(from int, entry syntax.NodeID) {
	if to, ok := g.byID[entry]; ok {
		g.addEdge(from, to, EdgeCall)
		return
	}
	ei := len(g.edges)
	g.edges = append(g.edges, &Edge{From: from, To: -1, Kind: EdgeCall, External: entry})
	g.out[from] = append(g.out[from], ei)
}

// addNode appends a node to the container. Build-time only.
func (g *Graph) addNode(n *Node) {
	n.Index = len(g.nodes)
	g.nodes = append(g.nodes, n)
	g.byID[n.SyntaxID] = n.Index
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
}

// addEdge appends an edge. Build-time only.
func (g *Graph) addEdge(from, to int, kind EdgeKind) {
	ei := len(g.edges)
	g.edges = append(g.edges, &Edge{From: from, To: to, Kind: kind})
	g.out[from] = append(g.out[from], ei)
	g.in[to] = append(g.in[to], ei)
}

// View is a projection of the CPG onto a subset of edge kinds,
// addressing nodes by syntax id. It satisfies the cpgmath graph
// interface without copying the graph. Call edges into other routines
// are not part of a single-routine view.
type View struct {
	g     *Graph
	kinds [NumEdgeKinds]bool
}

// View projects the graph onto the given edge kinds. With no kinds
// given, all edge kinds are included.
func (g *Graph) View(kinds ...EdgeKind) *View {
	v := &View{g: g}
	if len(kinds) == 0 {
		for i := range v.kinds {
			v.kinds[i] = true
		}
		return v
	}
	for _, k := range kinds {
		v.kinds[k] = true
	}
	return v
}

// NodeIDs returns all node ids in lexical order.
func (v *View) NodeIDs() []string {
	ids := make([]string, 0, len(v.g.nodes))
	for _, n := range v.g.nodes {
		ids = append(ids, string(n.SyntaxID))
	}
	sort.Strings(ids)
	return ids
}

// HasNode reports whether the id names a node in this view.
func (v *View) HasNode(id string) bool {
	_, ok := v.g.byID[syntax.NodeID(id)]
	return ok
}

// Successors returns ids reachable over one included edge.
func (v *View) Successors(id string) []string {
	idx, ok := v.g.byID[syntax.NodeID(id)]
	if !ok {
		return nil
	}
	out := make([]string, 0)
	for _, ei := range v.g.out[idx] {
		e := v.g.edges[ei]
		if !v.kinds[e.Kind] || e.To < 0 {
			continue
		}
		out = append(out, string(v.g.nodes[e.To].SyntaxID))
	}
	return out
}

// Predecessors returns ids with one included edge into this node.
func (v *View) Predecessors(id string) []string {
	idx, ok := v.g.byID[syntax.NodeID(id)]
	if !ok {
		return nil
	}
	out := make([]string, 0)
	for _, ei := range v.g.in[idx] {
		e := v.g.edges[ei]
		if v.kinds[e.Kind] {
			out = append(out, string(v.g.nodes[e.From].SyntaxID))
		}
	}
	return out
}
