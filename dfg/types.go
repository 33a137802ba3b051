// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dfg

import (
	"github.com/AleutianAI/cpg/syntax"
)

// NodeKind classifies a DFG node.
type NodeKind int

const (
	// KindDef is a variable definition (binding or reassignment).
	KindDef NodeKind = iota

	// KindUse is a variable read.
	KindUse

	// KindParam is the definition a formal parameter introduces at entry.
	KindParam

	// KindUnknown is the explicit unknown-source definition created for
	// unresolvable references (dynamic or reflective access).
	KindUnknown

	// KindPhi is a synthetic merge definition inserted at control-flow
	// joins when SSA form is requested.
	KindPhi
)

// nodeKindNames maps NodeKind values to their string representations.
var nodeKindNames = map[NodeKind]string{
	KindDef:     "def",
	KindUse:     "use",
	KindParam:   "param",
	KindUnknown: "unknown",
	KindPhi:     "phi",
}

// String returns the string representation of the NodeKind.
func (k NodeKind) String() string {
	if name, ok := nodeKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Node is a variable definition or use.
type Node struct {
	// ID is unique within the graph, assigned in creation order.
	ID string

	// Kind is the node classification.
	Kind NodeKind

	// Var is the variable name.
	Var string

	// Version is the SSA version, strictly increasing per variable
	// within a routine. Zero when SSA form was not requested.
	Version int

	// SyntaxID is the syntax node this def or use corresponds to.
	// Empty for synthetic nodes (phi, unknown, param defs at entry).
	SyntaxID syntax.NodeID

	// CFGNodeID is the CFG node the event occurs in.
	CFGNodeID string
}

// IsDef reports whether the node introduces a definition.
func (n *Node) IsDef() bool {
	return n.Kind != KindUse
}

// Edge is a def-to-use dependency. From is always a definition node
// (def, param, unknown, or phi); To is a use or a phi merging the def.
type Edge struct {
	From string
	To   string
}

// Graph is the data-flow graph of one routine.
//
// Invariants (validated by the builder):
//   - every use reaches at least one def, param, phi, or unknown source
//   - under SSA, no two defs of one variable share a version
//
// Thread Safety: Read-only after Build returns; safe for concurrent reads.
type Graph struct {
	// Routine identifies the routine this graph belongs to.
	Routine syntax.RoutineKey

	// SSA is set when the graph is in static-single-assignment form.
	SSA bool

	nodes map[string]*Node
	order []string
	edges []*Edge

	out map[string][]string
	in  map[string][]string

	byVar    map[string][]string
	bySyntax map[syntax.NodeID][]string
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in creation order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns all edges in creation order.
func (g *Graph) Edges() []*Edge {
	return g.edges
}

// Successors returns ids of nodes this node feeds.
func (g *Graph) Successors(id string) []string {
	return g.out[id]
}

// Predecessors returns ids of nodes feeding this node.
func (g *Graph) Predecessors(id string) []string {
	return g.in[id]
}

// VarNodes returns all node ids for one variable, in creation order.
func (g *Graph) VarNodes(name string) []string {
	return g.byVar[name]
}

// AtSyntax returns the node ids corresponding to a syntax node.
func (g *Graph) AtSyntax(id syntax.NodeID) []string {
	return g.bySyntax[id]
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}
