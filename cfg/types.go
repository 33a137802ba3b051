// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cfg

import (
	"sort"

	"github.com/AleutianAI/cpg/syntax"
)

// Default builder configuration values.
const (
	// DefaultPathCap is the default maximum number of execution paths
	// enumerated by Paths. Paths beyond the cap are counted, not stored.
	DefaultPathCap = 256

	// DefaultMaxNodes is the default maximum number of CFG nodes per routine.
	DefaultMaxNodes = 100_000
)

// NodeKind classifies a CFG node.
type NodeKind int

const (
	// NodeEntry is the unique entry node of a routine.
	NodeEntry NodeKind = iota

	// NodeExit is an exit node. A routine has at least one, unless it
	// provably never returns.
	NodeExit

	// NodeBranch is a binary or multi-way decision point.
	NodeBranch

	// NodeLoopHeader is the header of a loop; the target of back edges.
	NodeLoopHeader

	// NodeBlock is a basic block of straight-line statements.
	NodeBlock
)

// nodeKindNames maps NodeKind values to their string representations.
var nodeKindNames = map[NodeKind]string{
	NodeEntry:      "entry",
	NodeExit:       "exit",
	NodeBranch:     "branch",
	NodeLoopHeader: "loop_header",
	NodeBlock:      "block",
}

// String returns the string representation of the NodeKind.
func (k NodeKind) String() string {
	if name, ok := nodeKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// EdgeKind classifies a CFG edge.
type EdgeKind int

const (
	// EdgeSequential is ordinary fallthrough.
	EdgeSequential EdgeKind = iota

	// EdgeTrue is the taken branch of a conditional, or one match arm.
	EdgeTrue

	// EdgeFalse is the not-taken branch of a conditional.
	EdgeFalse

	// EdgeLoopBack is a back edge to a loop header.
	EdgeLoopBack

	// EdgeException is control transfer on failure.
	EdgeException
)

// edgeKindNames maps EdgeKind values to their string representations.
var edgeKindNames = map[EdgeKind]string{
	EdgeSequential: "sequential",
	EdgeTrue:       "true",
	EdgeFalse:      "false",
	EdgeLoopBack:   "loop_back",
	EdgeException:  "exception",
}

// String returns the string representation of the EdgeKind.
func (k EdgeKind) String() string {
	if name, ok := edgeKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Node is a basic block or decision point.
type Node struct {
	// ID is unique within the graph. Assigned in build order, so ids
	// are deterministic for an unchanged syntax tree.
	ID string

	// Kind is the node classification.
	Kind NodeKind

	// SyntaxIDs are the syntax nodes this CFG node covers, in source order.
	SyntaxIDs []syntax.NodeID

	// Opaque marks a node that covers an unsupported construct lowered
	// to a single block (PartialCoverage).
	Opaque bool
}

// Edge is a directed control-flow edge.
type Edge struct {
	// From and To are node ids.
	From string
	To   string

	// Kind is the edge classification.
	Kind EdgeKind
}

// Graph is the control-flow graph of one routine.
//
// Invariants (validated by the builder):
//   - exactly one entry node
//   - every node is reachable from entry or listed in Unreachable
//   - at least one exit node, or NeverReturns is set
//
// Thread Safety: Read-only after Build returns; safe for concurrent reads.
type Graph struct {
	// Routine identifies the routine this graph belongs to.
	Routine syntax.RoutineKey

	// Entry is the id of the unique entry node.
	Entry string

	// Exits are the ids of all exit nodes.
	Exits []string

	// NeverReturns is set when no exit is reachable (infinite loop).
	NeverReturns bool

	// Partial is set when unsupported syntax was lowered to opaque
	// blocks (PartialCoverage). The build still completed.
	Partial bool

	// Unreachable lists nodes not reachable from entry. They are
	// reported, never silently dropped.
	Unreachable []string

	nodes map[string]*Node
	order []string
	edges []*Edge

	succ map[string][]*Edge
	pred map[string][]*Edge

	// covers maps a syntax id to the CFG node covering it.
	covers map[syntax.NodeID]string
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

// Successors returns the outgoing edges of a node.
func (g *Graph) Successors(id string) []*Edge {
	return g.succ[id]
}

// Predecessors returns the incoming edges of a node.
func (g *Graph) Predecessors(id string) []*Edge {
	return g.pred[id]
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// Covering returns the id of the CFG node covering the given syntax node.
func (g *Graph) Covering(id syntax.NodeID) (string, bool) {
	n, ok := g.covers[id]
	return n, ok
}

// CyclomaticComplexity returns edges - nodes + 2.
func (g *Graph) CyclomaticComplexity() int {
	return len(g.edges) - len(g.nodes) + 2
}

// SortedNodeIDs returns all node ids in lexical order. Used by
// algorithms that need a deterministic iteration order independent of
// build order.
func (g *Graph) SortedNodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
