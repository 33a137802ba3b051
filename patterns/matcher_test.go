// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patterns

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/cpg/memory"
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

// libSpec fetches one built-in pattern by name.
func libSpec(t *testing.T, name string) Spec {
	t.Helper()
	for _, s := range LibrarySpecs() {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no library pattern %q", name)
	return Spec{}
}

// sinkTree is a routine whose parameter flows straight into an unsafe
// call: handle(req) { db.query(req) }.
func sinkTree() *syntax.Tree {
	return &syntax.Tree{
		Module: "app",
		Root: &syntax.Node{Kind: syntax.KindModule, Children: []*syntax.Node{
			{Kind: syntax.KindRoutine, Label: "handle", Children: []*syntax.Node{
				{Kind: syntax.KindParam, Label: "req"},
				{Kind: syntax.KindCall, Label: "db.query", Children: []*syntax.Node{
					{Kind: syntax.KindIdent, Label: "req"},
				}},
				{Kind: syntax.KindReturn},
			}},
		}},
	}
}

func TestSpecValidate(t *testing.T) {
	valid := Spec{
		Name:  "two-calls",
		Nodes: []NodePattern{{Alias: "a"}, {Alias: "b"}},
		Edges: []EdgePattern{{From: "a", To: "b"}},
	}

	tests := []struct {
		name   string
		mutate func(*Spec)
	}{
		{"empty name", func(s *Spec) { s.Name = "" }},
		{"no nodes", func(s *Spec) { s.Nodes = nil }},
		{"negative cap", func(s *Spec) { s.MaxMatches = -1 }},
		{"missing alias", func(s *Spec) { s.Nodes[0].Alias = "" }},
		{"duplicate alias", func(s *Spec) { s.Nodes[1].Alias = "a" }},
		{"edge from unknown alias", func(s *Spec) { s.Edges[0].From = "x" }},
		{"edge to unknown alias", func(s *Spec) { s.Edges[0].To = "x" }},
	}
	require.NoError(t, valid.Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			s.Nodes = append([]NodePattern(nil), valid.Nodes...)
			s.Edges = append([]EdgePattern(nil), valid.Edges...)
			tt.mutate(&s)
			assert.ErrorIs(t, s.Validate(), ErrInvalidPattern)
		})
	}
}

func TestFindBindsSourceFlowsToSink(t *testing.T) {
	m := NewMatcher(analyzed(t, sinkTree()))

	report, err := m.Find(context.Background(), libSpec(t, "source-flows-to-sink"))
	require.NoError(t, err)
	require.Len(t, report.Matches, 1)
	assert.Equal(t, SeverityCritical, report.Severity)

	match := report.Matches[0]
	assert.Equal(t, "app:handle/1", match.Routine.String())
	assert.Equal(t, syntax.NodeID("app:handle/1:0"), match.Bindings["source"])
	assert.Equal(t, syntax.NodeID("app:handle/1:1.0"), match.Bindings["arg"])
	assert.Equal(t, syntax.NodeID("app:handle/1:1"), match.Bindings["sink"])
}

func TestFindNoMatchWithoutSource(t *testing.T) {
	// The sink is there but nothing tainted flows into it.
	tree := &syntax.Tree{
		Module: "app",
		Root: &syntax.Node{Kind: syntax.KindModule, Children: []*syntax.Node{
			{Kind: syntax.KindRoutine, Label: "run", Children: []*syntax.Node{
				{Kind: syntax.KindCall, Label: "db.query", Children: []*syntax.Node{
					{Kind: syntax.KindLiteral, Label: "5"},
				}},
				{Kind: syntax.KindReturn},
			}},
		}},
	}
	m := NewMatcher(analyzed(t, tree))

	report, err := m.Find(context.Background(), libSpec(t, "source-flows-to-sink"))
	require.NoError(t, err)
	assert.Empty(t, report.Matches)
}

func TestFindOrdersMatchesByAnchor(t *testing.T) {
	tree := &syntax.Tree{
		Module: "app",
		Root: &syntax.Node{Kind: syntax.KindModule, Children: []*syntax.Node{
			{Kind: syntax.KindRoutine, Label: "run", Children: []*syntax.Node{
				{Kind: syntax.KindCall, Label: "first"},
				{Kind: syntax.KindCall, Label: "second"},
				{Kind: syntax.KindReturn},
			}},
		}},
	}
	m := NewMatcher(analyzed(t, tree))

	report, err := m.Find(context.Background(), Spec{
		Name:  "calls",
		Nodes: []NodePattern{{Alias: "c", Kinds: []syntax.Kind{syntax.KindCall}}},
	})
	require.NoError(t, err)
	require.Len(t, report.Matches, 2)
	assert.Equal(t, syntax.NodeID("app:run/0:0"), report.Matches[0].Bindings["c"])
	assert.Equal(t, syntax.NodeID("app:run/0:1"), report.Matches[1].Bindings["c"])
}

func TestFindMaxMatchesIsPartialSuccess(t *testing.T) {
	m := NewMatcher(analyzed(t, sinkTree()))

	// Every node matches an unconstrained alias; the cap cuts it short.
	report, err := m.Find(context.Background(), Spec{
		Name:       "everything",
		Nodes:      []NodePattern{{Alias: "n"}},
		MaxMatches: 2,
	})
	require.NoError(t, err)
	assert.Len(t, report.Matches, 2)
	assert.True(t, report.Truncated)
}

func TestFindInvalidSpec(t *testing.T) {
	m := NewMatcher(analyzed(t, sinkTree()))

	_, err := m.Find(context.Background(), Spec{Name: ""})
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestFindStaleBundleFlagged(t *testing.T) {
	r := analyzed(t, sinkTree())
	require.NoError(t, r.MarkFailed(syntax.RoutineKey{Module: "app", Name: "handle", Arity: 1}))
	m := NewMatcher(r)

	report, err := m.Find(context.Background(), libSpec(t, "source-flows-to-sink"))
	require.NoError(t, err)
	assert.True(t, report.Stale)
	assert.Len(t, report.Matches, 1, "the last good version still answers")
}

func TestFindCancelled(t *testing.T) {
	m := NewMatcher(analyzed(t, sinkTree()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Find(ctx, libSpec(t, "source-flows-to-sink"))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestFindCachesPerRoutineResults(t *testing.T) {
	mem := memory.NewManager(memory.WithLimitBytes(1 << 20))
	m := NewMatcher(analyzed(t, sinkTree()), WithResultCache(mem))
	ctx := context.Background()

	spec := libSpec(t, "source-flows-to-sink")
	first, err := m.Find(ctx, spec)
	require.NoError(t, err)
	entries := mem.Stats().Entries
	assert.Greater(t, entries, 0)

	second, err := m.Find(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, first.Matches, second.Matches)
	assert.Equal(t, entries, mem.Stats().Entries, "the repeat run hits the cache")
}
