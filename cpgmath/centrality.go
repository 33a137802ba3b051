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

import "context"

// CentralityScore holds the per-node centrality measures.
type CentralityScore struct {
	// Degree is (in-degree + out-degree) / (2 * (n - 1)), in [0, 1].
	Degree float64

	// Betweenness is the Brandes betweenness score normalized by
	// (n-1)(n-2), in [0, 1].
	Betweenness float64
}

// Centrality computes degree and betweenness centrality for every node.
//
// Description:
//
//	Degree centrality counts each node's in- and out-edges against the
//	maximum possible. Betweenness uses Brandes' algorithm: one BFS per
//	source with dependency accumulation on the reverse sweep.
//
//	Time complexity: O(V*E) for betweenness, O(V+E) for degree.
//
// Inputs:
//
//	ctx - Context for cancellation, checked once per source node.
//	g - The graph. Must not be nil.
//
// Outputs:
//
//	map[string]CentralityScore - Scores keyed by node id.
//	error - ErrInvalidGraph or the context error.
//
// Thread Safety: Safe for concurrent use (read-only on g).
func Centrality(ctx context.Context, g Graph) (map[string]CentralityScore, error) {
	if g == nil {
		return nil, ErrInvalidGraph
	}
	ids := sortedNodeIDs(g)
	n := len(ids)
	scores := make(map[string]CentralityScore, n)
	if n == 0 {
		return scores, nil
	}

	for _, id := range ids {
		deg := len(dedupSorted(g.Successors(id))) + len(dedupSorted(g.Predecessors(id)))
		var norm float64
		if n > 1 {
			norm = float64(deg) / float64(2*(n-1))
		}
		scores[id] = CentralityScore{Degree: norm}
	}
	if n < 3 {
		// Betweenness is identically zero below three nodes.
		return scores, nil
	}

	betweenness := make(map[string]float64, n)
	for _, source := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		brandesFromSource(g, source, betweenness)
	}

	// Directed normalization.
	norm := float64((n - 1) * (n - 2))
	for id, b := range betweenness {
		s := scores[id]
		s.Betweenness = b / norm
		scores[id] = s
	}
	return scores, nil
}

// brandesFromSource runs one BFS phase of Brandes' algorithm and
// accumulates dependencies into betweenness.
func brandesFromSource(g Graph, source string, betweenness map[string]float64) {
	sigma := map[string]float64{source: 1} // shortest-path counts
	dist := map[string]int{source: 0}
	preds := make(map[string][]string)
	order := []string{source} // visit order, for the reverse sweep

	queue := []string{source}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, w := range sortedSuccessors(g, v) {
			if _, seen := dist[w]; !seen {
				dist[w] = dist[v] + 1
				order = append(order, w)
				queue = append(queue, w)
			}
			if dist[w] == dist[v]+1 {
				sigma[w] += sigma[v]
				preds[w] = append(preds[w], v)
			}
		}
	}

	delta := make(map[string]float64, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		w := order[i]
		for _, v := range preds[w] {
			delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
		}
		if w != source {
			betweenness[w] += delta[w]
		}
	}
}
