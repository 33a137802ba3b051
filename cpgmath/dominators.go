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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var dominatorTracer = otel.Tracer("aleutian.cpg.cpgmath")

// maxDominatorIterations caps convergence for non-reducible graphs.
const maxDominatorIterations = 100

// DominatorTree captures dominance relationships: node D dominates node
// N if every path from the entry to N goes through D.
//
// Thread Safety: Safe for concurrent use after construction.
type DominatorTree struct {
	// Entry is the entry node id (root of the tree).
	Entry string

	// ImmediateDom maps node id to its immediate dominator. The entry
	// maps to itself. Nodes unreachable from the entry have no key.
	ImmediateDom map[string]string

	// Depth maps node id to its depth in the tree; the entry has depth 0.
	Depth map[string]int

	// postOrderIndex maps node id to postorder index for intersect.
	postOrderIndex map[string]int

	// Iterations is the number of convergence iterations.
	Iterations int

	// Converged is false when iteration hit the cap before fixpoint.
	Converged bool
}

// Dominates reports whether a dominates b. A node dominates itself.
func (dt *DominatorTree) Dominates(a, b string) bool {
	if _, ok := dt.ImmediateDom[b]; !ok {
		return false
	}
	for cur := b; ; {
		if cur == a {
			return true
		}
		next := dt.ImmediateDom[cur]
		if next == cur {
			return cur == a
		}
		cur = next
	}
}

// DominatorsOf returns the dominators of a node from the node itself up
// to the entry, or nil for unreachable nodes.
func (dt *DominatorTree) DominatorsOf(node string) []string {
	if _, ok := dt.ImmediateDom[node]; !ok {
		return nil
	}
	out := []string{node}
	for cur := node; ; {
		next := dt.ImmediateDom[cur]
		if next == cur {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}

// Reachable reports whether a node is reachable from the entry.
func (dt *DominatorTree) Reachable(node string) bool {
	_, ok := dt.ImmediateDom[node]
	return ok
}

// Dominators computes the dominator tree using the Cooper-Harvey-Kennedy
// algorithm.
//
// Description:
//
//	Uses the iterative data-flow approach from "A Simple, Fast Dominance
//	Algorithm" (Cooper, Harvey, Kennedy, 2001). Nodes are processed in
//	reverse postorder; each node's new idom is the intersection of its
//	processed predecessors, repeated until no idom changes.
//
//	Time complexity: O(E) typical, O(V²) worst case for non-reducible
//	graphs.
//
// Inputs:
//
//	ctx - Context for cancellation, checked every iteration.
//	g - The graph. Must not be nil.
//	entry - The entry node id. Must exist in g.
//
// Outputs:
//
//	*DominatorTree - Covers exactly the nodes reachable from entry.
//	error - ErrInvalidGraph or the context error.
//
// Thread Safety: Safe for concurrent use (read-only on g).
func Dominators(ctx context.Context, g Graph, entry string) (*DominatorTree, error) {
	if g == nil || !g.HasNode(entry) {
		return nil, ErrInvalidGraph
	}

	ctx, span := dominatorTracer.Start(ctx, "cpgmath.Dominators",
		trace.WithAttributes(attribute.String("entry", entry)),
	)
	defer span.End()

	postOrder := reversePostorder(g, entry)
	dt := &DominatorTree{
		Entry:          entry,
		ImmediateDom:   make(map[string]string, len(postOrder)),
		Depth:          make(map[string]int, len(postOrder)),
		postOrderIndex: make(map[string]int, len(postOrder)),
	}
	for i, id := range postOrder {
		dt.postOrderIndex[id] = i
	}
	dt.ImmediateDom[entry] = entry

	reachable := make(map[string]bool, len(postOrder))
	for _, id := range postOrder {
		reachable[id] = true
	}

	changed := true
	for changed && dt.Iterations < maxDominatorIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		changed = false
		dt.Iterations++

		// Reverse postorder: highest postorder index first.
		for i := len(postOrder) - 1; i >= 0; i-- {
			node := postOrder[i]
			if node == entry {
				continue
			}

			var newIdom string
			for _, pred := range sortedPredecessors(g, node) {
				if !reachable[pred] {
					continue
				}
				if _, processed := dt.ImmediateDom[pred]; !processed {
					continue
				}
				if newIdom == "" {
					newIdom = pred
					continue
				}
				newIdom = intersect(dt, pred, newIdom)
			}
			if newIdom == "" {
				continue
			}
			if old, ok := dt.ImmediateDom[node]; !ok || old != newIdom {
				dt.ImmediateDom[node] = newIdom
				changed = true
			}
		}
	}
	dt.Converged = !changed

	for _, id := range postOrder {
		dt.Depth[id] = depthOf(dt, id)
	}

	span.SetAttributes(
		attribute.Int("iterations", dt.Iterations),
		attribute.Bool("converged", dt.Converged),
		attribute.Int("reachable_nodes", len(dt.ImmediateDom)),
	)
	return dt, nil
}

// intersect walks both fingers up the partial tree to their lowest
// common dominator. Higher postorder indices are closer to the entry.
func intersect(dt *DominatorTree, b1, b2 string) string {
	finger1, finger2 := b1, b2
	for finger1 != finger2 {
		for dt.postOrderIndex[finger1] < dt.postOrderIndex[finger2] {
			finger1 = dt.ImmediateDom[finger1]
		}
		for dt.postOrderIndex[finger2] < dt.postOrderIndex[finger1] {
			finger2 = dt.ImmediateDom[finger2]
		}
	}
	return finger1
}

func depthOf(dt *DominatorTree, node string) int {
	depth := 0
	for cur := node; ; {
		next, ok := dt.ImmediateDom[cur]
		if !ok || next == cur {
			break
		}
		depth++
		cur = next
	}
	return depth
}

// reversePostorder returns the nodes reachable from entry in postorder
// via iterative DFS. Successors are expanded in sorted order so the
// result is deterministic.
func reversePostorder(g Graph, entry string) []string {
	type frame struct {
		id       string
		succ     []string
		childIdx int
	}

	visited := map[string]bool{entry: true}
	postOrder := make([]string, 0)
	stack := []frame{{id: entry, succ: sortedSuccessors(g, entry)}}

	for len(stack) > 0 {
		cur := &stack[len(stack)-1]

		pushed := false
		for cur.childIdx < len(cur.succ) {
			child := cur.succ[cur.childIdx]
			cur.childIdx++
			if !visited[child] {
				visited[child] = true
				stack = append(stack, frame{id: child, succ: sortedSuccessors(g, child)})
				pushed = true
				break
			}
		}
		if !pushed {
			postOrder = append(postOrder, cur.id)
			stack = stack[:len(stack)-1]
		}
	}
	return postOrder
}
