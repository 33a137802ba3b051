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

// StronglyConnected finds all strongly connected components using
// Tarjan's algorithm.
//
// Description:
//
//	Iterative Tarjan with an explicit call stack, so deep graphs cannot
//	overflow the goroutine stack. Every node appears in exactly one
//	component; single nodes without a self-loop form singleton
//	components. Components are returned with their members sorted and
//	the component list sorted by first member.
//
//	Time complexity: O(V + E).
//
// Inputs:
//
//	g - The graph. Must not be nil.
//
// Outputs:
//
//	[][]string - All components.
//	error - ErrInvalidGraph for a nil graph.
//
// Thread Safety: Safe for concurrent use (read-only on g).
func StronglyConnected(g Graph) ([][]string, error) {
	if g == nil {
		return nil, ErrInvalidGraph
	}

	index := 0
	nodeIndex := make(map[string]int)
	nodeLowLink := make(map[string]int)
	onStack := make(map[string]bool)
	sccStack := make([]string, 0)
	sccs := make([][]string, 0)

	// callFrame replaces the recursive call stack.
	type callFrame struct {
		id       string
		succ     []string
		edgeIdx  int
		phase    int // 0=init, 1=edges, 2=post-child, 3=finalize
		childID  string
	}

	strongConnect := func(start string) {
		callStack := []callFrame{{id: start}}

		for len(callStack) > 0 {
			frame := &callStack[len(callStack)-1]

			switch frame.phase {
			case 0:
				nodeIndex[frame.id] = index
				nodeLowLink[frame.id] = index
				index++
				sccStack = append(sccStack, frame.id)
				onStack[frame.id] = true
				frame.succ = sortedSuccessors(g, frame.id)
				frame.phase = 1

			case 1:
				advanced := false
				for frame.edgeIdx < len(frame.succ) {
					to := frame.succ[frame.edgeIdx]
					frame.edgeIdx++

					if _, visited := nodeIndex[to]; !visited {
						frame.phase = 2
						frame.childID = to
						callStack = append(callStack, callFrame{id: to})
						advanced = true
						break
					} else if onStack[to] {
						if nodeIndex[to] < nodeLowLink[frame.id] {
							nodeLowLink[frame.id] = nodeIndex[to]
						}
					}
				}
				if !advanced {
					frame.phase = 3
				}

			case 2:
				if nodeLowLink[frame.childID] < nodeLowLink[frame.id] {
					nodeLowLink[frame.id] = nodeLowLink[frame.childID]
				}
				frame.phase = 1

			case 3:
				if nodeLowLink[frame.id] == nodeIndex[frame.id] {
					scc := make([]string, 0)
					for {
						w := sccStack[len(sccStack)-1]
						sccStack = sccStack[:len(sccStack)-1]
						onStack[w] = false
						scc = append(scc, w)
						if w == frame.id {
							break
						}
					}
					sort.Strings(scc)
					sccs = append(sccs, scc)
				}
				callStack = callStack[:len(callStack)-1]
			}
		}
	}

	for _, id := range sortedNodeIDs(g) {
		if _, visited := nodeIndex[id]; !visited {
			strongConnect(id)
		}
	}

	sort.Slice(sccs, func(i, j int) bool {
		return sccs[i][0] < sccs[j][0]
	})
	return sccs, nil
}

// Cycles returns only the components that form actual cycles: more than
// one member, or a single node with a self-loop.
func Cycles(g Graph) ([][]string, error) {
	sccs, err := StronglyConnected(g)
	if err != nil {
		return nil, err
	}
	cycles := make([][]string, 0)
	for _, scc := range sccs {
		if len(scc) > 1 {
			cycles = append(cycles, scc)
			continue
		}
		for _, to := range g.Successors(scc[0]) {
			if to == scc[0] {
				cycles = append(cycles, scc)
				break
			}
		}
	}
	return cycles, nil
}
