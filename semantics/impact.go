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
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/cpg/cpgmath"
	"github.com/AleutianAI/cpg/repo"
	"github.com/AleutianAI/cpg/syntax"
)

// RankedRoutine is one affected routine with its call-graph centrality.
type RankedRoutine struct {
	Key         syntax.RoutineKey
	Degree      float64
	Betweenness float64
}

// ImpactReport is the result of one change-impact analysis.
type ImpactReport struct {
	// Key is the changed routine.
	Key syntax.RoutineKey

	// Upstream lists routines that transitively call the changed one,
	// sorted by key.
	Upstream []syntax.RoutineKey

	// Downstream lists routines the changed one transitively calls.
	Downstream []syntax.RoutineKey

	// Ranked lists the full affected set (upstream, downstream, and
	// the routine itself) ordered by betweenness, then degree, then key.
	Ranked []RankedRoutine
}

// ImpactOfChange computes the blast radius of changing one routine.
//
// Description:
//
//	Bidirectional reachability over the snapshot's call graph: callers
//	transitively reaching the routine are upstream impact, transitive
//	callees are downstream. The affected set is ranked by call-graph
//	centrality so reviewers see the structurally loaded routines first.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	snap - The repository snapshot. Must not be nil.
//	key - The changed routine. Must exist in the snapshot.
//
// Outputs:
//
//	*ImpactReport - The affected routines. Never nil on success.
//	error - repo.ErrNotFound for an absent routine, or a centrality
//	        error.
//
// Thread Safety: Safe for concurrent use (read-only on the snapshot).
func ImpactOfChange(ctx context.Context, snap *repo.Snapshot, key syntax.RoutineKey) (*ImpactReport, error) {
	ctx, span := tracer.Start(ctx, "semantics.ImpactOfChange")
	defer span.End()
	span.SetAttributes(attribute.String("routine", key.String()))

	if _, ok := snap.Bundle(key); !ok {
		return nil, repo.ErrNotFound
	}
	cg := snap.CallGraph()
	id := key.String()

	upstream := reach(cg, id, cg.Predecessors)
	downstream := reach(cg, id, cg.Successors)

	report := &ImpactReport{
		Key:        key,
		Upstream:   toKeys(snap, upstream),
		Downstream: toKeys(snap, downstream),
	}

	affected := map[string]bool{id: true}
	for _, u := range upstream {
		affected[u] = true
	}
	for _, d := range downstream {
		affected[d] = true
	}

	scores, err := cpgmath.Centrality(ctx, cg)
	if err != nil {
		return nil, err
	}
	for rid := range affected {
		rkey, ok := snap.KeyOf(rid)
		if !ok {
			continue
		}
		s := scores[rid]
		report.Ranked = append(report.Ranked, RankedRoutine{
			Key:         rkey,
			Degree:      s.Degree,
			Betweenness: s.Betweenness,
		})
	}
	sort.Slice(report.Ranked, func(i, j int) bool {
		a, b := report.Ranked[i], report.Ranked[j]
		if a.Betweenness != b.Betweenness {
			return a.Betweenness > b.Betweenness
		}
		if a.Degree != b.Degree {
			return a.Degree > b.Degree
		}
		return a.Key.String() < b.Key.String()
	})

	span.SetAttributes(
		attribute.Int("upstream", len(report.Upstream)),
		attribute.Int("downstream", len(report.Downstream)),
	)
	return report, nil
}

// reach returns all ids transitively reachable from start over the
// given neighbor function, excluding start itself unless on a cycle
// through it.
func reach(g *repo.CallGraph, start string, neighbors func(string) []string) []string {
	visited := make(map[string]bool)
	stack := append([]string(nil), neighbors(start)...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		stack = append(stack, neighbors(cur)...)
	}
	delete(visited, start)

	out := make([]string, 0, len(visited))
	for id := range visited {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func toKeys(snap *repo.Snapshot, ids []string) []syntax.RoutineKey {
	keys := make([]syntax.RoutineKey, 0, len(ids))
	for _, id := range ids {
		if k, ok := snap.KeyOf(id); ok {
			keys = append(keys, k)
		}
	}
	return keys
}
