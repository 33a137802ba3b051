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
	"errors"
	"sort"
)

// Sentinel errors for graph algorithms.
var (
	// ErrInvalidGraph is returned for nil graphs or unknown node ids.
	ErrInvalidGraph = errors.New("invalid graph input")

	// ErrNoPath is returned when no path connects the requested nodes.
	ErrNoPath = errors.New("no path between nodes")

	// ErrNegativeWeight is returned when a weight function yields a
	// negative edge cost.
	ErrNegativeWeight = errors.New("negative edge weight")
)

// Graph is the read-only directed graph the algorithms run over.
//
// Implementations must be frozen for the duration of a call; the
// algorithms never mutate the graph. Parallel edges may be reported by
// Successors/Predecessors; the algorithms deduplicate where it matters.
type Graph interface {
	// NodeIDs returns all node ids. Order need not be stable; the
	// algorithms sort where determinism requires it.
	NodeIDs() []string

	// HasNode reports whether id names a node.
	HasNode(id string) bool

	// Successors returns the targets of outgoing edges.
	Successors(id string) []string

	// Predecessors returns the sources of incoming edges.
	Predecessors(id string) []string
}

// sortedSuccessors returns deduplicated successors in lexical order.
func sortedSuccessors(g Graph, id string) []string {
	return dedupSorted(g.Successors(id))
}

// sortedPredecessors returns deduplicated predecessors in lexical order.
func sortedPredecessors(g Graph, id string) []string {
	return dedupSorted(g.Predecessors(id))
}

func dedupSorted(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	w := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[w-1] {
			out[w] = out[i]
			w++
		}
	}
	return out[:w]
}

// sortedNodeIDs returns all node ids in lexical order.
func sortedNodeIDs(g Graph) []string {
	ids := g.NodeIDs()
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}
