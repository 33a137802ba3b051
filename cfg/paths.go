// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cfg

// PathCatalogue holds distinct execution paths through a routine.
type PathCatalogue struct {
	// Paths are the enumerated paths as node id sequences, entry to
	// exit, up to the configured cap.
	Paths [][]string

	// Total is the number of distinct paths found, including paths
	// beyond the cap.
	Total int

	// Capped is set when Total exceeds the enumeration cap.
	Capped bool
}

// Paths enumerates distinct execution paths from entry to any exit.
//
// Description:
//
//	Depth-first enumeration bounded two ways: each back edge is taken at
//	most once per path (so cyclic graphs terminate), and at most cap
//	paths are stored. Paths beyond the cap are counted but not
//	enumerated, bounding memory on highly branchy code.
//
// Inputs:
//
//	cap - Maximum number of paths to store. <= 0 uses DefaultPathCap.
//
// Outputs:
//
//	*PathCatalogue - Never nil. Empty for never-returning routines.
//
// Thread Safety: Safe for concurrent use (read-only on the graph).
func (g *Graph) Paths(cap int) *PathCatalogue {
	if cap <= 0 {
		cap = DefaultPathCap
	}
	out := &PathCatalogue{Paths: make([][]string, 0)}
	if len(g.Exits) == 0 {
		return out
	}

	exits := make(map[string]bool, len(g.Exits))
	for _, id := range g.Exits {
		exits[id] = true
	}

	// usedBack tracks back edges taken on the current path.
	usedBack := make(map[*Edge]bool)
	path := []string{g.Entry}

	var walk func(id string)
	walk = func(id string) {
		if exits[id] {
			out.Total++
			if out.Total <= cap {
				p := make([]string, len(path))
				copy(p, path)
				out.Paths = append(out.Paths, p)
			} else {
				out.Capped = true
			}
			return
		}
		for _, e := range g.succ[id] {
			if e.Kind == EdgeLoopBack {
				if usedBack[e] {
					continue
				}
				usedBack[e] = true
				path = append(path, e.To)
				walk(e.To)
				path = path[:len(path)-1]
				usedBack[e] = false
				continue
			}
			path = append(path, e.To)
			walk(e.To)
			path = path[:len(path)-1]
		}
	}
	walk(g.Entry)
	return out
}
