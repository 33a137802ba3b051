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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/cpg/repo"
	"github.com/AleutianAI/cpg/syntax"
)

// analyzed builds a repository from one module tree.
func analyzed(t *testing.T, tree *syntax.Tree) *repo.Repository {
	t.Helper()
	r := repo.NewRepository()
	report, err := repo.NewAnalyzer(r).AnalyzeTree(context.Background(), tree)
	require.NoError(t, err)
	require.Empty(t, report.Failed)
	return r
}

func bundleOf(t *testing.T, r *repo.Repository, key syntax.RoutineKey) *repo.Bundle {
	t.Helper()
	b, err := r.Get(key)
	require.NoError(t, err)
	return b
}

// oneRoutine wraps a single routine in a module tree.
func oneRoutine(module string, routine *syntax.Node) *syntax.Tree {
	return &syntax.Tree{
		Module: module,
		Root:   &syntax.Node{Kind: syntax.KindModule, Children: []*syntax.Node{routine}},
	}
}

func TestClassifyDataSource(t *testing.T) {
	tests := []struct {
		name    string
		routine *syntax.Node
		node    syntax.NodeID
		want    SourceClass
	}{
		{
			name: "literal assignment",
			routine: &syntax.Node{Kind: syntax.KindRoutine, Label: "lit", Children: []*syntax.Node{
				{Kind: syntax.KindAssign, Label: "a", Children: []*syntax.Node{
					{Kind: syntax.KindLiteral, Label: "5"},
				}},
				{Kind: syntax.KindReturn, Children: []*syntax.Node{
					{Kind: syntax.KindIdent, Label: "a"},
				}},
			}},
			node: "m:lit/0:1.0",
			want: SourceLiteral,
		},
		{
			name: "parameter",
			routine: &syntax.Node{Kind: syntax.KindRoutine, Label: "echo", Children: []*syntax.Node{
				{Kind: syntax.KindParam, Label: "p"},
				{Kind: syntax.KindReturn, Children: []*syntax.Node{
					{Kind: syntax.KindIdent, Label: "p"},
				}},
			}},
			node: "m:echo/1:1.0",
			want: SourceParameter,
		},
		{
			name: "call result",
			routine: &syntax.Node{Kind: syntax.KindRoutine, Label: "load", Children: []*syntax.Node{
				{Kind: syntax.KindAssign, Label: "a", Children: []*syntax.Node{
					{Kind: syntax.KindCall, Label: "fetch_remote"},
				}},
				{Kind: syntax.KindReturn, Children: []*syntax.Node{
					{Kind: syntax.KindIdent, Label: "a"},
				}},
			}},
			node: "m:load/0:1.0",
			want: SourceExternalCall,
		},
		{
			name: "arithmetic is computation",
			routine: &syntax.Node{Kind: syntax.KindRoutine, Label: "incr", Children: []*syntax.Node{
				{Kind: syntax.KindParam, Label: "p"},
				{Kind: syntax.KindAssign, Label: "a", Children: []*syntax.Node{
					{Kind: syntax.KindBinaryOp, Label: "+", Children: []*syntax.Node{
						{Kind: syntax.KindIdent, Label: "p"},
						{Kind: syntax.KindLiteral, Label: "1"},
					}},
				}},
				{Kind: syntax.KindReturn, Children: []*syntax.Node{
					{Kind: syntax.KindIdent, Label: "a"},
				}},
			}},
			node: "m:incr/1:2.0",
			want: SourceComputation,
		},
		{
			name: "undefined read",
			routine: &syntax.Node{Kind: syntax.KindRoutine, Label: "ghost", Children: []*syntax.Node{
				{Kind: syntax.KindReturn, Children: []*syntax.Node{
					{Kind: syntax.KindIdent, Label: "nowhere"},
				}},
			}},
			node: "m:ghost/0:0.0",
			want: SourceUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := analyzed(t, oneRoutine("m", tt.routine))
			b := bundleOf(t, r, syntax.RoutineKey{
				Module: "m",
				Name:   tt.routine.Label,
				Arity:  syntax.Arity(tt.routine),
			})

			got, err := ClassifyDataSource(context.Background(), b, tt.node)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyMixedBranchesIsComputation(t *testing.T) {
	// One branch binds a literal, the other a call result; the use after
	// the join sees both origins through the phi.
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "mix", Children: []*syntax.Node{
		{Kind: syntax.KindParam, Label: "c"},
		{Kind: syntax.KindIf, Children: []*syntax.Node{
			{Kind: syntax.KindIdent, Label: "c"},
			{Kind: syntax.KindBlock, Children: []*syntax.Node{
				{Kind: syntax.KindAssign, Label: "x", Children: []*syntax.Node{
					{Kind: syntax.KindLiteral, Label: "5"},
				}},
			}},
			{Kind: syntax.KindBlock, Children: []*syntax.Node{
				{Kind: syntax.KindAssign, Label: "x", Children: []*syntax.Node{
					{Kind: syntax.KindCall, Label: "probe"},
				}},
			}},
		}},
		{Kind: syntax.KindReturn, Children: []*syntax.Node{
			{Kind: syntax.KindIdent, Label: "x"},
		}},
	}}
	r := analyzed(t, oneRoutine("m", routine))
	b := bundleOf(t, r, syntax.RoutineKey{Module: "m", Name: "mix", Arity: 1})

	got, err := ClassifyDataSource(context.Background(), b, "m:mix/1:2.0")
	require.NoError(t, err)
	assert.Equal(t, SourceComputation, got)
}

func TestClassifyNoDataFlowAnchor(t *testing.T) {
	routine := &syntax.Node{Kind: syntax.KindRoutine, Label: "f", Children: []*syntax.Node{
		{Kind: syntax.KindReturn},
	}}
	r := analyzed(t, oneRoutine("m", routine))
	b := bundleOf(t, r, syntax.RoutineKey{Module: "m", Name: "f", Arity: 0})

	// The return statement carries no value and anchors no data flow.
	_, err := ClassifyDataSource(context.Background(), b, "m:f/0:0")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestCombineSubsumesUnknown(t *testing.T) {
	tests := []struct {
		name    string
		classes []SourceClass
		want    SourceClass
	}{
		{"empty", nil, SourceUnknown},
		{"only unknown", []SourceClass{SourceUnknown}, SourceUnknown},
		{"unknown beside literal", []SourceClass{SourceUnknown, SourceLiteral}, SourceLiteral},
		{"two determinate classes", []SourceClass{SourceLiteral, SourceParameter}, SourceComputation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classes := make(map[SourceClass]bool, len(tt.classes))
			for _, c := range tt.classes {
				classes[c] = true
			}
			assert.Equal(t, tt.want, combine(classes))
		})
	}
}
