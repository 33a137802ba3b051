// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cfg_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/cpg/cfg"
	"github.com/AleutianAI/cpg/identity"
	"github.com/AleutianAI/cpg/syntax"
)

// buildGraph resolves ids on a single-routine tree and lowers it.
func buildGraph(t *testing.T, routine *syntax.Node, opts ...cfg.Option) *cfg.Graph {
	t.Helper()
	tree := &syntax.Tree{
		Module: "m",
		Root:   &syntax.Node{Kind: syntax.KindModule, Children: []*syntax.Node{routine}},
	}
	_, err := identity.Resolve(context.Background(), tree)
	require.NoError(t, err)

	key := syntax.RoutineKey{Module: "m", Name: routine.Label, Arity: syntax.Arity(routine)}
	g, err := cfg.NewBuilder(opts...).Build(context.Background(), key, routine)
	require.NoError(t, err)
	return g
}

func ifStmt(cond *syntax.Node, then, alt []*syntax.Node) *syntax.Node {
	children := []*syntax.Node{cond, {Kind: syntax.KindBlock, Children: then}}
	if alt != nil {
		children = append(children, &syntax.Node{Kind: syntax.KindBlock, Children: alt})
	}
	return &syntax.Node{Kind: syntax.KindIf, Children: children}
}

func TestBuildStraightLine(t *testing.T) {
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		{Kind: syntax.KindAssign, Label: "x", Children: []*syntax.Node{{Kind: syntax.KindLiteral, Label: "1"}}},
		{Kind: syntax.KindReturn, Children: []*syntax.Node{{Kind: syntax.KindIdent, Label: "x"}}},
	}}
	g := buildGraph(t, routine)

	require.NotEmpty(t, g.Entry)
	require.Len(t, g.Exits, 1)
	assert.False(t, g.NeverReturns)
	assert.False(t, g.Partial)
	assert.Empty(t, g.Unreachable)
	assert.Equal(t, 1, g.CyclomaticComplexity())

	entry, ok := g.Node(g.Entry)
	require.True(t, ok)
	assert.Equal(t, cfg.NodeEntry, entry.Kind)
}

func TestBuildDiamond(t *testing.T) {
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		{Kind: syntax.KindParam, Label: "x"},
		ifStmt(
			&syntax.Node{Kind: syntax.KindIdent, Label: "x"},
			[]*syntax.Node{{Kind: syntax.KindAssign, Label: "a", Children: []*syntax.Node{{Kind: syntax.KindLiteral, Label: "1"}}}},
			[]*syntax.Node{{Kind: syntax.KindAssign, Label: "a", Children: []*syntax.Node{{Kind: syntax.KindLiteral, Label: "2"}}}},
		),
		{Kind: syntax.KindReturn, Children: []*syntax.Node{{Kind: syntax.KindIdent, Label: "a"}}},
	}}
	g := buildGraph(t, routine)

	assert.Equal(t, 2, g.CyclomaticComplexity())
	assert.Empty(t, g.Unreachable)

	// One branch node with a true and a false successor.
	var branches []*cfg.Node
	for _, n := range g.Nodes() {
		if n.Kind == cfg.NodeBranch {
			branches = append(branches, n)
		}
	}
	require.Len(t, branches, 1)

	kinds := map[cfg.EdgeKind]bool{}
	for _, e := range g.Successors(branches[0].ID) {
		kinds[e.Kind] = true
	}
	assert.True(t, kinds[cfg.EdgeTrue])
	assert.True(t, kinds[cfg.EdgeFalse])
}

func TestBuildLoopBackEdge(t *testing.T) {
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		{Kind: syntax.KindLoop, Children: []*syntax.Node{
			{Kind: syntax.KindIdent, Label: "cond"},
			{Kind: syntax.KindBlock, Children: []*syntax.Node{
				{Kind: syntax.KindAssign, Label: "i", Children: []*syntax.Node{{Kind: syntax.KindLiteral, Label: "1"}}},
			}},
		}},
		{Kind: syntax.KindReturn},
	}}
	g := buildGraph(t, routine)

	assert.Equal(t, 2, g.CyclomaticComplexity())
	assert.False(t, g.NeverReturns)

	var header *cfg.Node
	for _, n := range g.Nodes() {
		if n.Kind == cfg.NodeLoopHeader {
			header = n
		}
	}
	require.NotNil(t, header)

	back := 0
	for _, e := range g.Predecessors(header.ID) {
		if e.Kind == cfg.EdgeLoopBack {
			back++
		}
	}
	assert.Equal(t, 1, back)
}

func TestBuildNeverReturns(t *testing.T) {
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "spin", Children: []*syntax.Node{
		{Kind: syntax.KindLoop, Children: []*syntax.Node{
			{Kind: syntax.KindBlock, Children: []*syntax.Node{
				{Kind: syntax.KindCall, Label: "tick"},
			}},
		}},
	}}
	g := buildGraph(t, routine)

	assert.True(t, g.NeverReturns)
	assert.Empty(t, g.Exits)
	assert.Empty(t, g.Paths(0).Paths)
}

func TestBuildBreakExitsLoop(t *testing.T) {
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		{Kind: syntax.KindLoop, Children: []*syntax.Node{
			{Kind: syntax.KindBlock, Children: []*syntax.Node{
				ifStmt(&syntax.Node{Kind: syntax.KindIdent, Label: "done"},
					[]*syntax.Node{{Kind: syntax.KindBreak}}, nil),
				{Kind: syntax.KindCall, Label: "step"},
			}},
		}},
		{Kind: syntax.KindReturn},
	}}
	g := buildGraph(t, routine)

	// The break gives the unconditional loop its only way out.
	assert.False(t, g.NeverReturns)
	require.Len(t, g.Exits, 1)
	assert.Empty(t, g.Unreachable)
}

func TestBuildContinueTargetsHeader(t *testing.T) {
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		{Kind: syntax.KindLoop, Children: []*syntax.Node{
			{Kind: syntax.KindIdent, Label: "cond"},
			{Kind: syntax.KindBlock, Children: []*syntax.Node{
				ifStmt(&syntax.Node{Kind: syntax.KindIdent, Label: "skip"},
					[]*syntax.Node{{Kind: syntax.KindContinue}}, nil),
				{Kind: syntax.KindCall, Label: "work"},
			}},
		}},
		{Kind: syntax.KindReturn},
	}}
	g := buildGraph(t, routine)

	var header *cfg.Node
	for _, n := range g.Nodes() {
		if n.Kind == cfg.NodeLoopHeader {
			header = n
		}
	}
	require.NotNil(t, header)

	// Continue plus the body tail both reach the header on back edges.
	back := 0
	for _, e := range g.Predecessors(header.ID) {
		if e.Kind == cfg.EdgeLoopBack {
			back++
		}
	}
	assert.Equal(t, 2, back)
}

func TestBuildUnreachableReported(t *testing.T) {
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		{Kind: syntax.KindReturn},
		{Kind: syntax.KindAssign, Label: "dead", Children: []*syntax.Node{{Kind: syntax.KindLiteral, Label: "1"}}},
	}}
	g := buildGraph(t, routine)

	require.Len(t, g.Unreachable, 1)
	dead, ok := g.Node(g.Unreachable[0])
	require.True(t, ok, "unreachable nodes are reported, not dropped")
	assert.Equal(t, cfg.NodeBlock, dead.Kind)
}

func TestBuildUnknownLowersOpaque(t *testing.T) {
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		{Kind: syntax.KindUnknown, Label: "goto"},
		{Kind: syntax.KindReturn},
	}}
	g := buildGraph(t, routine)

	assert.True(t, g.Partial)
	opaque := 0
	for _, n := range g.Nodes() {
		if n.Opaque {
			opaque++
		}
	}
	assert.Equal(t, 1, opaque)
	require.Len(t, g.Exits, 1, "partial coverage still completes the build")
}

func TestBuildCoveringIncludesDescendants(t *testing.T) {
	assign := &syntax.Node{Kind: syntax.KindAssign, Label: "x", Children: []*syntax.Node{
		{Kind: syntax.KindCall, Label: "read", Children: []*syntax.Node{
			{Kind: syntax.KindLiteral, Label: "\"stdin\""},
		}},
	}}
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		assign,
		{Kind: syntax.KindReturn},
	}}
	g := buildGraph(t, routine)

	block, ok := g.Covering(assign.ID)
	require.True(t, ok)
	deep, ok := g.Covering(assign.Children[0].Children[0].ID)
	require.True(t, ok)
	assert.Equal(t, block, deep)
}

func TestBuildDeterministic(t *testing.T) {
	mk := func() *syntax.Node {
		return &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
			{Kind: syntax.KindParam, Label: "x"},
			ifStmt(&syntax.Node{Kind: syntax.KindIdent, Label: "x"},
				[]*syntax.Node{{Kind: syntax.KindReturn}}, nil),
			{Kind: syntax.KindReturn},
		}}
	}
	a := buildGraph(t, mk())
	b := buildGraph(t, mk())

	require.Equal(t, a.NodeCount(), b.NodeCount())
	require.Equal(t, a.EdgeCount(), b.EdgeCount())
	for i, n := range a.Nodes() {
		assert.Equal(t, n.ID, b.Nodes()[i].ID)
		assert.Equal(t, n.Kind, b.Nodes()[i].Kind)
	}
	for i, e := range a.Edges() {
		assert.Equal(t, *e, *b.Edges()[i])
	}
}

func TestBuildInvalidRoutine(t *testing.T) {
	b := cfg.NewBuilder()
	key := syntax.RoutineKey{Module: "m", Name: "f"}

	_, err := b.Build(context.Background(), key, nil)
	assert.True(t, errors.Is(err, cfg.ErrInvalidRoutine))

	_, err = b.Build(context.Background(), key, &syntax.Node{Kind: syntax.KindBlock})
	assert.True(t, errors.Is(err, cfg.ErrInvalidRoutine))
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		{Kind: syntax.KindReturn},
	}}
	_, err := cfg.NewBuilder().Build(ctx, syntax.RoutineKey{Module: "m", Name: "f"}, routine)
	assert.True(t, errors.Is(err, cfg.ErrBuildCancelled))
}

func TestBuildMaxNodesExceeded(t *testing.T) {
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		{Kind: syntax.KindAssign, Label: "x", Children: []*syntax.Node{{Kind: syntax.KindLiteral, Label: "1"}}},
		{Kind: syntax.KindReturn},
	}}
	_, err := cfg.NewBuilder(cfg.WithMaxNodes(2)).
		Build(context.Background(), syntax.RoutineKey{Module: "m", Name: "f"}, routine)
	assert.True(t, errors.Is(err, cfg.ErrMaxNodesExceeded))
}

func TestPathsEnumeration(t *testing.T) {
	// Two sequential conditionals: four distinct paths.
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		{Kind: syntax.KindParam, Label: "a"},
		{Kind: syntax.KindParam, Label: "b"},
		ifStmt(&syntax.Node{Kind: syntax.KindIdent, Label: "a"},
			[]*syntax.Node{{Kind: syntax.KindCall, Label: "p"}}, nil),
		ifStmt(&syntax.Node{Kind: syntax.KindIdent, Label: "b"},
			[]*syntax.Node{{Kind: syntax.KindCall, Label: "q"}}, nil),
		{Kind: syntax.KindReturn},
	}}
	g := buildGraph(t, routine)

	all := g.Paths(0)
	assert.Equal(t, 4, all.Total)
	assert.Len(t, all.Paths, 4)
	assert.False(t, all.Capped)
	for _, p := range all.Paths {
		assert.Equal(t, g.Entry, p[0])
		assert.Equal(t, g.Exits[0], p[len(p)-1])
	}

	capped := g.Paths(3)
	assert.Equal(t, 4, capped.Total, "paths beyond the cap are counted")
	assert.Len(t, capped.Paths, 3)
	assert.True(t, capped.Capped)
}

func TestPathsLoopBoundedByBackEdge(t *testing.T) {
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		{Kind: syntax.KindLoop, Children: []*syntax.Node{
			{Kind: syntax.KindIdent, Label: "cond"},
			{Kind: syntax.KindBlock, Children: []*syntax.Node{
				{Kind: syntax.KindCall, Label: "step"},
			}},
		}},
		{Kind: syntax.KindReturn},
	}}
	g := buildGraph(t, routine)

	cat := g.Paths(0)
	// Skip the loop entirely, or take the back edge exactly once.
	assert.Equal(t, 2, cat.Total)
	assert.False(t, cat.Capped)
}
