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

// mapGraph is a map-backed fixture implementing Graph.
type mapGraph struct {
	succ map[string][]string
	pred map[string][]string
}

// newMapGraph builds a fixture from node → successors; isolated nodes
// pass an empty slice.
func newMapGraph(succ map[string][]string) *mapGraph {
	g := &mapGraph{succ: succ, pred: make(map[string][]string)}
	for from, tos := range succ {
		if _, ok := g.pred[from]; !ok {
			g.pred[from] = nil
		}
		for _, to := range tos {
			g.pred[to] = append(g.pred[to], from)
		}
	}
	return g
}

func (g *mapGraph) NodeIDs() []string {
	ids := make([]string, 0, len(g.pred))
	for id := range g.pred {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *mapGraph) HasNode(id string) bool {
	_, ok := g.pred[id]
	return ok
}

func (g *mapGraph) Successors(id string) []string {
	return g.succ[id]
}

func (g *mapGraph) Predecessors(id string) []string {
	return g.pred[id]
}
