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

func callNode(callee string) *syntax.Node {
	return &syntax.Node{Kind: syntax.KindCall, Label: callee}
}

// chainTree wires main → handler → persist, plus an isolated util.
func chainTree() *syntax.Tree {
	routine := func(name string, body ...*syntax.Node) *syntax.Node {
		body = append(body, &syntax.Node{Kind: syntax.KindReturn})
		return &syntax.Node{Kind: syntax.KindRoutine, Label: name, Children: body}
	}
	return &syntax.Tree{
		Module: "m",
		Root: &syntax.Node{Kind: syntax.KindModule, Children: []*syntax.Node{
			routine("main", callNode("handler")),
			routine("handler", callNode("persist")),
			routine("persist"),
			routine("util"),
		}},
	}
}

func key(name string) syntax.RoutineKey {
	return syntax.RoutineKey{Module: "m", Name: name, Arity: 0}
}

func TestImpactOfChange(t *testing.T) {
	r := analyzed(t, chainTree())

	report, err := ImpactOfChange(context.Background(), r.Snapshot(), key("handler"))
	require.NoError(t, err)

	assert.Equal(t, []syntax.RoutineKey{key("main")}, report.Upstream)
	assert.Equal(t, []syntax.RoutineKey{key("persist")}, report.Downstream)

	// The changed routine carries all shortest paths between its caller
	// and callee, so it ranks first; the tie below breaks by key.
	require.Len(t, report.Ranked, 3)
	assert.Equal(t, key("handler"), report.Ranked[0].Key)
	assert.Equal(t, key("main"), report.Ranked[1].Key)
	assert.Equal(t, key("persist"), report.Ranked[2].Key)
	assert.Greater(t, report.Ranked[0].Betweenness, 0.0)
	assert.Greater(t, report.Ranked[0].Degree, report.Ranked[1].Degree)
}

func TestImpactTransitiveReach(t *testing.T) {
	r := analyzed(t, chainTree())

	report, err := ImpactOfChange(context.Background(), r.Snapshot(), key("persist"))
	require.NoError(t, err)

	assert.Equal(t, []syntax.RoutineKey{key("handler"), key("main")}, report.Upstream,
		"both direct and transitive callers are upstream")
	assert.Empty(t, report.Downstream)
}

func TestImpactIsolatedRoutine(t *testing.T) {
	r := analyzed(t, chainTree())

	report, err := ImpactOfChange(context.Background(), r.Snapshot(), key("util"))
	require.NoError(t, err)

	assert.Empty(t, report.Upstream)
	assert.Empty(t, report.Downstream)
	require.Len(t, report.Ranked, 1)
	assert.Equal(t, key("util"), report.Ranked[0].Key)
}

func TestImpactUnknownRoutine(t *testing.T) {
	r := analyzed(t, chainTree())

	_, err := ImpactOfChange(context.Background(), r.Snapshot(), key("missing"))
	assert.ErrorIs(t, err, repo.ErrNotFound)
}
