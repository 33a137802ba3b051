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

import "sort"

// TopologicalOrder returns a topological ordering of the graph's SCC
// condensation.
//
// Description:
//
//	Cycles are legal in every CPG layer, so ordering works on the
//	condensation: each strongly connected component collapses to one
//	unit, and the units are ordered with Kahn's algorithm. Members
//	inside a component stay in sorted order. Ties between ready
//	components break on the lexically smallest member, so equal graphs
//	produce equal orders.
//
// Inputs:
//
//	g - The graph. Must not be nil.
//
// Outputs:
//
//	[][]string - Components in dependency order; every edge points from
//	             an earlier component to the same or a later one.
//	error - ErrInvalidGraph for a nil graph.
//
// Thread Safety: Safe for concurrent use (read-only on g).
func TopologicalOrder(g Graph) ([][]string, error) {
	sccs, err := StronglyConnected(g)
	if err != nil {
		return nil, err
	}

	// Map each node to its component.
	compOf := make(map[string]int)
	for ci, scc := range sccs {
		for _, id := range scc {
			compOf[id] = ci
		}
	}

	// Condensation in-degrees and adjacency, deduplicated.
	inDegree := make([]int, len(sccs))
	succs := make([]map[int]bool, len(sccs))
	for ci := range sccs {
		succs[ci] = make(map[int]bool)
	}
	for ci, scc := range sccs {
		for _, id := range scc {
			for _, to := range g.Successors(id) {
				cj := compOf[to]
				if cj != ci && !succs[ci][cj] {
					succs[ci][cj] = true
					inDegree[cj]++
				}
			}
		}
	}

	// Kahn's algorithm with a sorted ready set.
	ready := make([]int, 0)
	for ci := range sccs {
		if inDegree[ci] == 0 {
			ready = append(ready, ci)
		}
	}
	sortByFirstMember(ready, sccs)

	order := make([][]string, 0, len(sccs))
	for len(ready) > 0 {
		ci := ready[0]
		ready = ready[1:]
		order = append(order, sccs[ci])

		released := make([]int, 0)
		for cj := range succs[ci] {
			inDegree[cj]--
			if inDegree[cj] == 0 {
				released = append(released, cj)
			}
		}
		ready = append(ready, released...)
		sortByFirstMember(ready, sccs)
	}
	return order, nil
}

func sortByFirstMember(comps []int, sccs [][]string) {
	sort.Slice(comps, func(i, j int) bool {
		return sccs[comps[i]][0] < sccs[comps[j]][0]
	})
}
