// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cpgmath implements the graph algorithms used by analyses:
// centrality, shortest paths, dominator trees, strongly connected
// components, and topological ordering over SCC condensations.
//
// All functions operate on the abstract Graph interface, so they run
// unchanged over a single routine's control-flow projection or the
// whole-program call graph. Inputs are treated as frozen; every
// function is read-only and safe for concurrent use.
//
// Determinism: neighbor sets are sorted before iteration wherever the
// result depends on visit order, so equal graphs always produce equal
// outputs.
package cpgmath
