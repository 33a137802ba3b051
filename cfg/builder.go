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
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/cpg/syntax"
	"github.com/AleutianAI/cpg/telemetry"
)

// Options configures the CFG builder.
type Options struct {
	// PathCap is the maximum number of execution paths Paths enumerates.
	// Paths beyond the cap are counted but not stored. Default: 256.
	PathCap int

	// MaxNodes is the maximum number of CFG nodes per routine.
	// Default: 100,000.
	MaxNodes int
}

// DefaultOptions returns sensible defaults for builder configuration.
func DefaultOptions() Options {
	return Options{
		PathCap:  DefaultPathCap,
		MaxNodes: DefaultMaxNodes,
	}
}

// Option is a functional option for configuring the Builder.
type Option func(*Options)

// WithPathCap sets the maximum number of enumerated execution paths.
func WithPathCap(n int) Option {
	return func(o *Options) {
		o.PathCap = n
	}
}

// WithMaxNodes sets the maximum number of CFG nodes per routine.
func WithMaxNodes(n int) Option {
	return func(o *Options) {
		o.MaxNodes = n
	}
}

// Builder lowers routine syntax subtrees into control-flow graphs.
//
// Thread Safety: Safe for concurrent use; each Build call uses its own
// transient state.
type Builder struct {
	options Options
	logger  *slog.Logger
}

// NewBuilder creates a CFG builder.
func NewBuilder(opts ...Option) *Builder {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Builder{
		options: options,
		logger:  slog.Default(),
	}
}

// Build lowers one routine subtree into a CFG.
//
// Description:
//
//	Produces a graph with exactly one entry node, at least one exit node
//	(or NeverReturns set), and a deterministic node/edge set for an
//	unchanged syntax tree. Unsupported constructs lower to opaque blocks
//	and set Partial; they never abort the build.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	key - The routine identity the graph is built for.
//	routine - The KindRoutine subtree with resolved ids. Must not be nil.
//
// Outputs:
//
//	*Graph - The built graph. Nil on error.
//	error - ErrInvalidRoutine, ErrBuildCancelled, or ErrMaxNodesExceeded.
//
// Thread Safety: Safe for concurrent use.
func (b *Builder) Build(ctx context.Context, key syntax.RoutineKey, routine *syntax.Node) (*Graph, error) {
	ctx, span := tracer.Start(ctx, "cfg.Build")
	defer span.End()
	span.SetAttributes(attribute.String("routine", key.String()))

	if routine == nil || routine.Kind != syntax.KindRoutine {
		span.RecordError(ErrInvalidRoutine)
		span.SetStatus(codes.Error, ErrInvalidRoutine.Error())
		return nil, ErrInvalidRoutine
	}

	start := time.Now()
	st := &buildState{
		builder: b,
		ctx:     ctx,
		g: &Graph{
			Routine: key,
			nodes:   make(map[string]*Node),
			succ:    make(map[string][]*Edge),
			pred:    make(map[string][]*Edge),
			covers:  make(map[syntax.NodeID]string),
		},
	}

	entry, err := st.newNode(NodeEntry)
	if err != nil {
		return nil, err
	}
	st.g.Entry = entry.ID
	exit, err := st.newNode(NodeExit)
	if err != nil {
		return nil, err
	}

	// Routine children are params followed by the body.
	body := make([]*syntax.Node, 0, len(routine.Children))
	for _, c := range routine.Children {
		if c.Kind != syntax.KindParam {
			body = append(body, c)
		}
	}

	frontier, err := st.lowerSeq(body, []dangling{{from: entry.ID, kind: EdgeSequential}})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	st.connect(frontier, exit.ID)

	st.finalize(exit)

	span.SetAttributes(
		attribute.Int("node_count", st.g.NodeCount()),
		attribute.Int("edge_count", st.g.EdgeCount()),
		attribute.Bool("partial", st.g.Partial),
	)
	recordBuild(ctx, time.Since(start), st.g)

	if st.g.Partial {
		telemetry.LoggerWithTrace(ctx, b.logger).Warn("cfg build degraded to partial coverage",
			slog.String("routine", key.String()),
			slog.Int("opaque_nodes", countOpaque(st.g)),
		)
	}
	return st.g, nil
}

func countOpaque(g *Graph) int {
	n := 0
	for _, node := range g.nodes {
		if node.Opaque {
			n++
		}
	}
	return n
}

// dangling is an edge awaiting its target node.
type dangling struct {
	from string
	kind EdgeKind
}

// loopFrame tracks break/continue targets for the innermost loop.
type loopFrame struct {
	header *Node
	breaks []dangling
}

// buildState is the transient state of one Build call.
type buildState struct {
	builder *Builder
	ctx     context.Context
	g       *Graph
	seq     int
	cur     *Node // open basic block, nil when closed
	loops   []*loopFrame

	// returns are block ids ending in a return; wired to exit in finalize.
	returns []string
}

func (st *buildState) newNode(kind NodeKind) (*Node, error) {
	if len(st.g.nodes) >= st.builder.options.MaxNodes {
		return nil, fmt.Errorf("%w: %d", ErrMaxNodesExceeded, st.builder.options.MaxNodes)
	}
	n := &Node{ID: "n" + strconv.Itoa(st.seq), Kind: kind}
	st.seq++
	st.g.nodes[n.ID] = n
	st.g.order = append(st.g.order, n.ID)
	return n, nil
}

func (st *buildState) addEdge(from, to string, kind EdgeKind) {
	e := &Edge{From: from, To: to, Kind: kind}
	st.g.edges = append(st.g.edges, e)
	st.g.succ[from] = append(st.g.succ[from], e)
	st.g.pred[to] = append(st.g.pred[to], e)
}

func (st *buildState) connect(frontier []dangling, to string) {
	for _, d := range frontier {
		st.addEdge(d.from, to, d.kind)
	}
}

// cover records that node n covers the statement rooted at s, including
// every descendant, so the DFG builder can place def/use events.
func (st *buildState) cover(n *Node, s *syntax.Node) {
	n.SyntaxIDs = append(n.SyntaxIDs, s.ID)
	syntax.Walk(s, func(d *syntax.Node) bool {
		st.g.covers[d.ID] = n.ID
		return true
	})
}

// openBlock returns the current basic block, creating one connected to
// the frontier if none is open. The returned frontier hangs off the block.
func (st *buildState) openBlock(in []dangling) (*Node, []dangling, error) {
	if st.cur != nil {
		return st.cur, in, nil
	}
	n, err := st.newNode(NodeBlock)
	if err != nil {
		return nil, nil, err
	}
	st.connect(in, n.ID)
	st.cur = n
	return n, []dangling{{from: n.ID, kind: EdgeSequential}}, nil
}

// lowerSeq lowers a statement sequence, threading the dangling frontier
// through each statement. An empty frontier means following statements
// are unreachable; they are still lowered and reported, never dropped.
func (st *buildState) lowerSeq(stmts []*syntax.Node, in []dangling) ([]dangling, error) {
	if err := st.ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildCancelled, err)
	}

	for _, stmt := range stmts {
		var err error
		in, err = st.lowerStmt(stmt, in)
		if err != nil {
			return nil, err
		}
	}
	return in, nil
}

func (st *buildState) lowerStmt(stmt *syntax.Node, in []dangling) ([]dangling, error) {
	switch stmt.Kind {
	case syntax.KindBlock:
		return st.lowerSeq(stmt.Children, in)

	case syntax.KindIf:
		return st.lowerIf(stmt, in)

	case syntax.KindMatch:
		return st.lowerMatch(stmt, in)

	case syntax.KindLoop:
		return st.lowerLoop(stmt, in)

	case syntax.KindReturn:
		block, _, err := st.openBlock(in)
		if err != nil {
			return nil, err
		}
		st.cover(block, stmt)
		st.cur = nil
		// Fall through to exit happens in finalize via the returned
		// frontier of the enclosing sequence being empty.
		st.returns = append(st.returns, block.ID)
		return nil, nil

	case syntax.KindBreak:
		block, _, err := st.openBlock(in)
		if err != nil {
			return nil, err
		}
		st.cover(block, stmt)
		st.cur = nil
		if frame := st.innermostLoop(); frame != nil {
			frame.breaks = append(frame.breaks, dangling{from: block.ID, kind: EdgeSequential})
		}
		return nil, nil

	case syntax.KindContinue:
		block, _, err := st.openBlock(in)
		if err != nil {
			return nil, err
		}
		st.cover(block, stmt)
		st.cur = nil
		if frame := st.innermostLoop(); frame != nil {
			st.addEdge(block.ID, frame.header.ID, EdgeLoopBack)
		}
		return nil, nil

	case syntax.KindUnknown:
		// Unsupported construct: opaque block over the whole subtree.
		st.cur = nil
		n, err := st.newNode(NodeBlock)
		if err != nil {
			return nil, err
		}
		n.Opaque = true
		st.g.Partial = true
		st.connect(in, n.ID)
		st.cover(n, stmt)
		return []dangling{{from: n.ID, kind: EdgeSequential}}, nil

	default:
		// Straight-line statement or expression: extend the open block.
		block, out, err := st.openBlock(in)
		if err != nil {
			return nil, err
		}
		st.cover(block, stmt)
		return out, nil
	}
}

// lowerIf lowers a binary conditional to a branch node with exactly two
// successors joining at a merge block.
func (st *buildState) lowerIf(stmt *syntax.Node, in []dangling) ([]dangling, error) {
	st.cur = nil
	branch, err := st.newNode(NodeBranch)
	if err != nil {
		return nil, err
	}
	st.connect(in, branch.ID)
	branch.SyntaxIDs = append(branch.SyntaxIDs, stmt.ID)
	st.g.covers[stmt.ID] = branch.ID

	cond, then, alt := splitConditional(stmt)
	for _, c := range cond {
		st.cover(branch, c)
	}

	thenFrontier := []dangling{{from: branch.ID, kind: EdgeTrue}}
	if then != nil {
		thenFrontier, err = st.lowerStmt(then, thenFrontier)
		if err != nil {
			return nil, err
		}
		st.cur = nil
	}

	elseFrontier := []dangling{{from: branch.ID, kind: EdgeFalse}}
	if alt != nil {
		elseFrontier, err = st.lowerStmt(alt, elseFrontier)
		if err != nil {
			return nil, err
		}
		st.cur = nil
	}

	return st.mergeAt(append(thenFrontier, elseFrontier...))
}

// lowerMatch lowers a multi-way branch: one true edge per arm, plus a
// false edge for the implicit missing-default fallthrough.
func (st *buildState) lowerMatch(stmt *syntax.Node, in []dangling) ([]dangling, error) {
	st.cur = nil
	branch, err := st.newNode(NodeBranch)
	if err != nil {
		return nil, err
	}
	st.connect(in, branch.ID)
	branch.SyntaxIDs = append(branch.SyntaxIDs, stmt.ID)
	st.g.covers[stmt.ID] = branch.ID

	frontier := make([]dangling, 0)
	arms := 0
	for _, child := range stmt.Children {
		if child.Kind != syntax.KindMatchArm {
			// Match subject expression: covered by the branch node.
			st.cover(branch, child)
			continue
		}
		arms++
		armFrontier, err := st.lowerSeq(child.Children, []dangling{{from: branch.ID, kind: EdgeTrue}})
		if err != nil {
			return nil, err
		}
		st.cur = nil
		frontier = append(frontier, armFrontier...)
	}

	// Conservative fallthrough when no arm matches.
	frontier = append(frontier, dangling{from: branch.ID, kind: EdgeFalse})
	if arms == 0 {
		return frontier, nil
	}
	return st.mergeAt(frontier)
}

// lowerLoop lowers a loop to a header node with a body back edge.
func (st *buildState) lowerLoop(stmt *syntax.Node, in []dangling) ([]dangling, error) {
	st.cur = nil
	header, err := st.newNode(NodeLoopHeader)
	if err != nil {
		return nil, err
	}
	st.connect(in, header.ID)
	header.SyntaxIDs = append(header.SyntaxIDs, stmt.ID)
	st.g.covers[stmt.ID] = header.ID

	var body *syntax.Node
	conditional := false
	for _, child := range stmt.Children {
		if child.Kind == syntax.KindBlock {
			body = child
			continue
		}
		// Loop condition: covered by the header.
		conditional = true
		st.cover(header, child)
	}

	frame := &loopFrame{header: header}
	st.loops = append(st.loops, frame)

	bodyFrontier := []dangling{{from: header.ID, kind: EdgeTrue}}
	if body != nil {
		bodyFrontier, err = st.lowerSeq(body.Children, bodyFrontier)
		if err != nil {
			return nil, err
		}
		st.cur = nil
	}
	for _, d := range bodyFrontier {
		st.addEdge(d.from, header.ID, EdgeLoopBack)
	}

	st.loops = st.loops[:len(st.loops)-1]

	out := frame.breaks
	if conditional {
		out = append(out, dangling{from: header.ID, kind: EdgeFalse})
	}
	// An unconditional loop with no breaks yields an empty frontier:
	// everything after it is unreachable and the routine may never return.
	return out, nil
}

// mergeAt joins a multi-way frontier at a fresh merge block.
func (st *buildState) mergeAt(frontier []dangling) ([]dangling, error) {
	if len(frontier) == 0 {
		return nil, nil
	}
	merge, err := st.newNode(NodeBlock)
	if err != nil {
		return nil, err
	}
	st.connect(frontier, merge.ID)
	st.cur = merge
	return []dangling{{from: merge.ID, kind: EdgeSequential}}, nil
}

func (st *buildState) innermostLoop() *loopFrame {
	if len(st.loops) == 0 {
		return nil
	}
	return st.loops[len(st.loops)-1]
}

// finalize wires return blocks to the exit, detects never-returning
// routines, and reports unreachable nodes.
func (st *buildState) finalize(exit *Node) {
	for _, from := range st.returns {
		st.addEdge(from, exit.ID, EdgeSequential)
	}

	if len(st.g.pred[exit.ID]) == 0 {
		// No path reaches the exit: infinite loop. Keep the marker
		// rather than a dangling exit node.
		st.g.NeverReturns = true
		delete(st.g.nodes, exit.ID)
		st.g.order = removeID(st.g.order, exit.ID)
	} else {
		st.g.Exits = []string{exit.ID}
	}

	// Reachability from entry. Unreachable nodes are reported, not dropped.
	seen := map[string]bool{st.g.Entry: true}
	stack := []string{st.g.Entry}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range st.g.succ[id] {
			if !seen[e.To] {
				seen[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
	for _, id := range st.g.order {
		if !seen[id] {
			st.g.Unreachable = append(st.g.Unreachable, id)
		}
	}
	sort.Strings(st.g.Unreachable)
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// splitConditional separates an if node's children into condition
// expressions, the consequence, and the alternative.
func splitConditional(stmt *syntax.Node) (cond []*syntax.Node, then, alt *syntax.Node) {
	for _, child := range stmt.Children {
		switch {
		case then == nil && child.Kind != syntax.KindBlock && child.Kind != syntax.KindIf:
			cond = append(cond, child)
		case then == nil:
			then = child
		default:
			alt = child
		}
	}
	return cond, then, alt
}
