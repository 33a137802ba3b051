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

// ShortestPath returns a shortest directed path from `from` to `to`,
// inclusive of both endpoints.
//
// Description:
//
//	Unweighted BFS. Among equal-length paths the lexically smallest is
//	returned: neighbors are expanded in sorted order and the first
//	parent recorded for a node wins, which is deterministic for equal
//	inputs.
//
// Inputs:
//
//	g - The graph. Must not be nil.
//	from, to - Node ids. Both must exist in g.
//
// Outputs:
//
//	[]string - The path. [from] when from == to.
//	error - ErrInvalidGraph for unknown nodes, ErrNoPath when
//	        disconnected.
//
// Thread Safety: Safe for concurrent use (read-only on g).
func ShortestPath(g Graph, from, to string) ([]string, error) {
	if g == nil || !g.HasNode(from) || !g.HasNode(to) {
		return nil, ErrInvalidGraph
	}
	if from == to {
		return []string{from}, nil
	}

	parent := map[string]string{from: from}
	queue := []string{from}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, w := range sortedSuccessors(g, v) {
			if _, seen := parent[w]; seen {
				continue
			}
			parent[w] = v
			if w == to {
				return reconstruct(parent, from, to), nil
			}
			queue = append(queue, w)
		}
	}
	return nil, ErrNoPath
}

// WeightFunc returns the cost of traversing one directed edge.
type WeightFunc func(from, to string) float64

// ShortestPathWeighted returns a cheapest directed path from `from` to
// `to` under an edge weight function, inclusive of both endpoints.
//
// Description:
//
//	Dijkstra over the successor relation. A nil weight function costs
//	every edge 1, making the result agree with ShortestPath on length.
//	At equal distance the lexically smallest unsettled node is settled
//	first, which is deterministic for equal inputs.
//
// Inputs:
//
//	g - The graph. Must not be nil.
//	from, to - Node ids. Both must exist in g.
//	weight - Edge cost function. Nil means unit cost. Must not return
//	         a negative cost.
//
// Outputs:
//
//	[]string - The path. [from] when from == to.
//	float64 - The path's total cost.
//	error - ErrInvalidGraph for unknown nodes, ErrNegativeWeight for a
//	        negative edge cost, ErrNoPath when disconnected.
//
// Thread Safety: Safe for concurrent use (read-only on g).
func ShortestPathWeighted(g Graph, from, to string, weight WeightFunc) ([]string, float64, error) {
	if g == nil || !g.HasNode(from) || !g.HasNode(to) {
		return nil, 0, ErrInvalidGraph
	}
	if from == to {
		return []string{from}, 0, nil
	}

	dist := map[string]float64{from: 0}
	parent := map[string]string{from: from}
	visited := map[string]bool{}

	for {
		cur := ""
		best := 0.0
		for id, d := range dist {
			if visited[id] {
				continue
			}
			if cur == "" || d < best || (d == best && id < cur) {
				cur = id
				best = d
			}
		}
		if cur == "" {
			return nil, 0, ErrNoPath
		}
		if cur == to {
			return reconstruct(parent, from, to), best, nil
		}
		visited[cur] = true

		for _, w := range sortedSuccessors(g, cur) {
			if visited[w] {
				continue
			}
			cost := 1.0
			if weight != nil {
				cost = weight(cur, w)
			}
			if cost < 0 {
				return nil, 0, ErrNegativeWeight
			}
			next := best + cost
			if d, seen := dist[w]; !seen || next < d {
				dist[w] = next
				parent[w] = cur
			}
		}
	}
}

func reconstruct(parent map[string]string, from, to string) []string {
	rev := []string{to}
	for cur := to; cur != from; {
		cur = parent[cur]
		rev = append(rev, cur)
	}
	path := make([]string, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = id
	}
	return path
}
