// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cpgmath

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStronglyConnected(t *testing.T) {
	g := newMapGraph(map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a", "d"},
		"d": {"e"},
		"e": {"d"},
		"f": {"f"}, // self-loop
		"g": {},
	})

	sccs, err := StronglyConnected(g)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"a", "b", "c"},
		{"d", "e"},
		{"f"},
		{"g"},
	}, sccs)
}

func TestStronglyConnectedAcyclic(t *testing.T) {
	g := newMapGraph(map[string][]string{
		"a": {"b", "c"},
		"b": {"d"},
		"c": {"d"},
		"d": {},
	})

	sccs, err := StronglyConnected(g)
	require.NoError(t, err)
	require.Len(t, sccs, 4)
	for _, scc := range sccs {
		assert.Len(t, scc, 1, "acyclic graphs have only singleton components")
	}
}

func TestStronglyConnectedNilGraph(t *testing.T) {
	_, err := StronglyConnected(nil)
	assert.ErrorIs(t, err, ErrInvalidGraph)
}

func TestCyclesFiltersSingletons(t *testing.T) {
	g := newMapGraph(map[string][]string{
		"a": {"b"},
		"b": {"a"},
		"c": {"c"},
		"d": {},
	})

	cycles, err := Cycles(g)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"a", "b"},
		{"c"},
	}, cycles, "self-loops count as cycles, plain singletons do not")
}

func TestTopologicalOrderCondensation(t *testing.T) {
	// a↔b form a cycle feeding c; c feeds d; e is isolated.
	g := newMapGraph(map[string][]string{
		"a": {"b"},
		"b": {"a", "c"},
		"c": {"d"},
		"d": {},
		"e": {},
	})

	order, err := TopologicalOrder(g)
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"a", "b"},
		{"c"},
		{"d"},
		{"e"},
	}, order)
}

func TestTopologicalOrderRespectsEdges(t *testing.T) {
	g := diamondWithLoop()
	order, err := TopologicalOrder(g)
	require.NoError(t, err)

	// The loop b..f collapses to a single unit after the entry.
	require.Len(t, order, 2)
	assert.Equal(t, []string{"a"}, order[0])
	assert.Equal(t, []string{"b", "c", "d", "e", "f"}, order[1])
}

func TestCentralityScores(t *testing.T) {
	// star: x feeds a, b, c; path through x is the only route.
	g := newMapGraph(map[string][]string{
		"a": {"x"},
		"x": {"b", "c"},
		"b": {},
		"c": {},
	})

	scores, err := Centrality(context.Background(), g)
	require.NoError(t, err)
	require.Len(t, scores, 4)

	// x: in 1 + out 2 = 3 edges over 2*(n-1)=6.
	assert.InDelta(t, 0.5, scores["x"].Degree, 1e-9)
	assert.InDelta(t, 1.0/6.0, scores["a"].Degree, 1e-9)

	// x lies on a→b and a→c; normalization is (n-1)(n-2)=6.
	assert.InDelta(t, 2.0/6.0, scores["x"].Betweenness, 1e-9)
	assert.InDelta(t, 0, scores["b"].Betweenness, 1e-9)
}

func TestCentralitySmallGraphs(t *testing.T) {
	scores, err := Centrality(context.Background(), newMapGraph(map[string][]string{}))
	require.NoError(t, err)
	assert.Empty(t, scores)

	scores, err = Centrality(context.Background(), newMapGraph(map[string][]string{
		"a": {"b"},
		"b": {},
	}))
	require.NoError(t, err)
	assert.Zero(t, scores["a"].Betweenness, "betweenness is identically zero below three nodes")
	assert.InDelta(t, 0.5, scores["a"].Degree, 1e-9)
}

func TestShortestPath(t *testing.T) {
	g := newMapGraph(map[string][]string{
		"a": {"b", "c"},
		"b": {"d"},
		"c": {"d"},
		"d": {"e"},
		"e": {},
		"z": {},
	})

	path, err := ShortestPath(g, "a", "e")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "d", "e"}, path,
		"equal-length paths break ties on the lexically smallest route")

	path, err = ShortestPath(g, "a", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, path)

	_, err = ShortestPath(g, "e", "a")
	assert.ErrorIs(t, err, ErrNoPath)

	_, err = ShortestPath(g, "a", "missing")
	assert.ErrorIs(t, err, ErrInvalidGraph)
}

func TestShortestPathWeighted(t *testing.T) {
	g := newMapGraph(map[string][]string{
		"a": {"b", "d"},
		"b": {"c"},
		"c": {"d"},
		"d": {},
	})
	costs := map[string]float64{
		"a->b": 1, "b->c": 1, "c->d": 1,
		"a->d": 10,
	}
	weight := func(from, to string) float64 {
		return costs[from+"->"+to]
	}

	path, cost, err := ShortestPathWeighted(g, "a", "d", weight)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, path,
		"the longer route wins on total cost")
	assert.InDelta(t, 3, cost, 1e-9)

	path, cost, err = ShortestPathWeighted(g, "a", "d", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d"}, path, "unit cost agrees with the BFS result")
	assert.InDelta(t, 1, cost, 1e-9)

	path, cost, err = ShortestPathWeighted(g, "a", "a", weight)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, path)
	assert.Zero(t, cost)

	_, _, err = ShortestPathWeighted(g, "d", "a", weight)
	assert.ErrorIs(t, err, ErrNoPath)

	_, _, err = ShortestPathWeighted(g, "a", "missing", weight)
	assert.ErrorIs(t, err, ErrInvalidGraph)

	_, _, err = ShortestPathWeighted(g, "a", "d", func(string, string) float64 { return -1 })
	assert.ErrorIs(t, err, ErrNegativeWeight)
}

func TestShortestPathWeightedTieBreak(t *testing.T) {
	g := newMapGraph(map[string][]string{
		"a": {"c", "b"},
		"b": {"d"},
		"c": {"d"},
		"d": {},
	})

	path, cost, err := ShortestPathWeighted(g, "a", "d", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "d"}, path,
		"equal-cost routes settle the lexically smallest node first")
	assert.InDelta(t, 2, cost, 1e-9)
}

func TestDedupSorted(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, dedupSorted([]string{"c", "a", "b", "a", "c"}))
	assert.Empty(t, dedupSorted(nil))
}
