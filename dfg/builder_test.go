// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dfg_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/cpg/cfg"
	"github.com/AleutianAI/cpg/dfg"
	"github.com/AleutianAI/cpg/identity"
	"github.com/AleutianAI/cpg/syntax"
)

// buildFlow resolves ids, builds the CFG, then builds the DFG.
func buildFlow(t *testing.T, routine *syntax.Node, opts ...dfg.Option) *dfg.Graph {
	t.Helper()
	tree := &syntax.Tree{
		Module: "m",
		Root:   &syntax.Node{Kind: syntax.KindModule, Children: []*syntax.Node{routine}},
	}
	_, err := identity.Resolve(context.Background(), tree)
	require.NoError(t, err)

	key := syntax.RoutineKey{Module: "m", Name: routine.Label, Arity: syntax.Arity(routine)}
	control, err := cfg.NewBuilder().Build(context.Background(), key, routine)
	require.NoError(t, err)

	g, err := dfg.NewBuilder(opts...).Build(context.Background(), key, routine, control)
	require.NoError(t, err)
	return g
}

func assign(name string, rhs ...*syntax.Node) *syntax.Node {
	return &syntax.Node{Kind: syntax.KindAssign, Label: name, Children: rhs}
}

func lit(text string) *syntax.Node {
	return &syntax.Node{Kind: syntax.KindLiteral, Label: text}
}

func ident(name string) *syntax.Node {
	return &syntax.Node{Kind: syntax.KindIdent, Label: name}
}

func ret(children ...*syntax.Node) *syntax.Node {
	return &syntax.Node{Kind: syntax.KindReturn, Children: children}
}

// usesOf returns the use nodes for one variable.
func usesOf(g *dfg.Graph, name string) []*dfg.Node {
	var uses []*dfg.Node
	for _, id := range g.VarNodes(name) {
		n, _ := g.Node(id)
		if n.Kind == dfg.KindUse {
			uses = append(uses, n)
		}
	}
	return uses
}

func TestBuildDefUseLink(t *testing.T) {
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		assign("x", lit("1")),
		ret(ident("x")),
	}}
	g := buildFlow(t, routine)

	uses := usesOf(g, "x")
	require.Len(t, uses, 1)
	preds := g.Predecessors(uses[0].ID)
	require.Len(t, preds, 1)

	def, ok := g.Node(preds[0])
	require.True(t, ok)
	assert.Equal(t, dfg.KindDef, def.Kind)
	assert.Equal(t, "x", def.Var)
}

func TestBuildParamIsDefinition(t *testing.T) {
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		{Kind: syntax.KindParam, Label: "x"},
		ret(ident("x")),
	}}
	g := buildFlow(t, routine)

	uses := usesOf(g, "x")
	require.Len(t, uses, 1)
	preds := g.Predecessors(uses[0].ID)
	require.Len(t, preds, 1)

	def, _ := g.Node(preds[0])
	assert.Equal(t, dfg.KindParam, def.Kind)
}

func TestBuildUnresolvedReadLinksUnknown(t *testing.T) {
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		ret(ident("ghost")),
	}}
	g := buildFlow(t, routine)

	uses := usesOf(g, "ghost")
	require.Len(t, uses, 1)
	preds := g.Predecessors(uses[0].ID)
	require.Len(t, preds, 1, "every use reaches at least one definition source")

	def, _ := g.Node(preds[0])
	assert.Equal(t, dfg.KindUnknown, def.Kind)
}

func TestBuildLastDefWins(t *testing.T) {
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		assign("x", lit("1")),
		assign("x", lit("2")),
		ret(ident("x")),
	}}
	g := buildFlow(t, routine)

	uses := usesOf(g, "x")
	require.Len(t, uses, 1)
	preds := g.Predecessors(uses[0].ID)
	require.Len(t, preds, 1, "a later def in the same block shadows the earlier one")

	def, _ := g.Node(preds[0])
	assert.Equal(t, dfg.KindDef, def.Kind)
	assert.NotEmpty(t, def.SyntaxID)
	assert.Empty(t, g.Successors(g.VarNodes("x")[0]), "the shadowed def has no readers")
}

func diamondRoutine() *syntax.Node {
	return &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		{Kind: syntax.KindParam, Label: "c"},
		{Kind: syntax.KindIf, Children: []*syntax.Node{
			ident("c"),
			{Kind: syntax.KindBlock, Children: []*syntax.Node{assign("a", lit("1"))}},
			{Kind: syntax.KindBlock, Children: []*syntax.Node{assign("a", lit("2"))}},
		}},
		ret(ident("a")),
	}}
}

func TestBuildJoinWithoutSSA(t *testing.T) {
	g := buildFlow(t, diamondRoutine())

	assert.False(t, g.SSA)
	uses := usesOf(g, "a")
	require.Len(t, uses, 1)
	assert.Len(t, g.Predecessors(uses[0].ID), 2, "both branch defs reach the merged use")
}

func TestBuildSSAInsertsPhi(t *testing.T) {
	g := buildFlow(t, diamondRoutine(), dfg.WithSSA(true))

	assert.True(t, g.SSA)
	var phi *dfg.Node
	for _, n := range g.Nodes() {
		if n.Kind == dfg.KindPhi {
			require.Nil(t, phi, "exactly one phi for the single join")
			phi = n
		}
	}
	require.NotNil(t, phi)
	assert.Equal(t, "a", phi.Var)
	assert.Len(t, g.Predecessors(phi.ID), 2)

	uses := usesOf(g, "a")
	require.Len(t, uses, 1)
	preds := g.Predecessors(uses[0].ID)
	require.Len(t, preds, 1)
	assert.Equal(t, phi.ID, preds[0], "under SSA the use sees only the phi")
}

func TestBuildSSAVersionsUniquePerVariable(t *testing.T) {
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		{Kind: syntax.KindParam, Label: "c"},
		assign("x", lit("1")),
		{Kind: syntax.KindIf, Children: []*syntax.Node{
			ident("c"),
			{Kind: syntax.KindBlock, Children: []*syntax.Node{assign("x", lit("2"))}},
		}},
		ret(ident("x")),
	}}
	g := buildFlow(t, routine, dfg.WithSSA(true))

	seen := map[string]map[int]bool{}
	last := map[string]int{}
	for _, n := range g.Nodes() {
		if !n.IsDef() {
			continue
		}
		require.Greater(t, n.Version, 0, "every def is versioned under SSA")
		if seen[n.Var] == nil {
			seen[n.Var] = map[int]bool{}
		}
		assert.False(t, seen[n.Var][n.Version], "duplicate version %d for %q", n.Version, n.Var)
		seen[n.Var][n.Version] = true
		assert.Greater(t, n.Version, last[n.Var], "versions increase in creation order")
		last[n.Var] = n.Version
	}
}

func TestBuildRHSBeforeDef(t *testing.T) {
	// x = x + 1 reads the old x, not the def it feeds.
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		{Kind: syntax.KindParam, Label: "x"},
		assign("x", &syntax.Node{Kind: syntax.KindBinaryOp, Label: "+", Children: []*syntax.Node{
			ident("x"), lit("1"),
		}}),
		ret(ident("x")),
	}}
	g := buildFlow(t, routine)

	uses := usesOf(g, "x")
	require.Len(t, uses, 2)

	rhsUse := uses[0]
	preds := g.Predecessors(rhsUse.ID)
	require.Len(t, preds, 1)
	def, _ := g.Node(preds[0])
	assert.Equal(t, dfg.KindParam, def.Kind, "the right-hand side reads the parameter")

	retUse := uses[1]
	preds = g.Predecessors(retUse.ID)
	require.Len(t, preds, 1)
	def, _ = g.Node(preds[0])
	assert.Equal(t, dfg.KindDef, def.Kind, "the return reads the reassignment")
}

func TestBuildLoopCarriedDependency(t *testing.T) {
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		assign("i", lit("0")),
		{Kind: syntax.KindLoop, Children: []*syntax.Node{
			ident("i"),
			{Kind: syntax.KindBlock, Children: []*syntax.Node{
				assign("i", &syntax.Node{Kind: syntax.KindBinaryOp, Label: "+", Children: []*syntax.Node{
					ident("i"), lit("1"),
				}}),
			}},
		}},
		ret(ident("i")),
	}}
	g := buildFlow(t, routine)

	// The header condition read sees both the initial def and the
	// loop-body reassignment through the back edge.
	var headerUse *dfg.Node
	for _, u := range usesOf(g, "i") {
		if len(g.Predecessors(u.ID)) == 2 {
			headerUse = u
			break
		}
	}
	require.NotNil(t, headerUse, "some read of i merges initial and loop-carried defs")
}

func TestBuildInvalidInput(t *testing.T) {
	b := dfg.NewBuilder()
	key := syntax.RoutineKey{Module: "m", Name: "f"}
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f"}

	_, err := b.Build(context.Background(), key, nil, &cfg.Graph{})
	assert.True(t, errors.Is(err, dfg.ErrInvalidInput))

	_, err = b.Build(context.Background(), key, routine, nil)
	assert.True(t, errors.Is(err, dfg.ErrInvalidInput))
}

func TestBuildCancelled(t *testing.T) {
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		ret(ident("x")),
	}}
	tree := &syntax.Tree{
		Module: "m",
		Root:   &syntax.Node{Kind: syntax.KindModule, Children: []*syntax.Node{routine}},
	}
	_, err := identity.Resolve(context.Background(), tree)
	require.NoError(t, err)

	key := syntax.RoutineKey{Module: "m", Name: "f"}
	control, err := cfg.NewBuilder().Build(context.Background(), key, routine)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = dfg.NewBuilder().Build(ctx, key, routine, control)
	assert.True(t, errors.Is(err, dfg.ErrBuildCancelled))
}
