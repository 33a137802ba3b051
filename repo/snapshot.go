// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package repo

import (
	"sort"

	"github.com/AleutianAI/cpg/syntax"
)

// Snapshot is an immutable view over the bundles current at capture
// time. Analyses run against a snapshot so a concurrent Put cannot
// change the graph mid-traversal.
type Snapshot struct {
	bundles map[syntax.RoutineKey]*Bundle
	byID    map[string]syntax.RoutineKey
}

func newSnapshot(bundles map[syntax.RoutineKey]*Bundle) *Snapshot {
	s := &Snapshot{
		bundles: bundles,
		byID:    make(map[string]syntax.RoutineKey, len(bundles)),
	}
	for k := range bundles {
		s.byID[k.String()] = k
	}
	return s
}

// Bundle returns the captured bundle for a key.
func (s *Snapshot) Bundle(key syntax.RoutineKey) (*Bundle, bool) {
	b, ok := s.bundles[key]
	return b, ok
}

// Routines returns the captured keys sorted by string form.
func (s *Snapshot) Routines() []syntax.RoutineKey {
	keys := make([]syntax.RoutineKey, 0, len(s.bundles))
	for k := range s.bundles {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// KeyOf maps a routine key string back to the key, when captured.
func (s *Snapshot) KeyOf(id string) (syntax.RoutineKey, bool) {
	k, ok := s.byID[id]
	return k, ok
}

// Len returns the number of captured bundles.
func (s *Snapshot) Len() int {
	return len(s.bundles)
}

// NodeContext returns the key and bundle containing a syntax node,
// resolved within this snapshot.
func (s *Snapshot) NodeContext(id syntax.NodeID) (syntax.RoutineKey, *Bundle, bool) {
	for key, b := range s.bundles {
		if _, ok := b.CPG.NodeByID(id); ok {
			return key, b, true
		}
	}
	return syntax.RoutineKey{}, nil, false
}

// CallGraph returns the routine-level call graph over this snapshot.
// Node ids are routine key strings; edges are resolved call sites whose
// callee is present in the snapshot. The result satisfies the cpgmath
// graph interface.
func (s *Snapshot) CallGraph() *CallGraph {
	cg := &CallGraph{
		succ: make(map[string][]string, len(s.bundles)),
		pred: make(map[string][]string, len(s.bundles)),
	}
	for key := range s.bundles {
		id := key.String()
		cg.ids = append(cg.ids, id)
		cg.succ[id] = nil
	}
	sort.Strings(cg.ids)

	for key, b := range s.bundles {
		from := key.String()
		for _, c := range b.CPG.Calls() {
			if !c.Resolved {
				continue
			}
			to := c.Callee.String()
			if _, present := s.byID[to]; !present {
				// Resolved against a bundle deleted since.
				continue
			}
			cg.succ[from] = append(cg.succ[from], to)
			cg.pred[to] = append(cg.pred[to], from)
		}
	}
	return cg
}

// CallGraph is the routine-level call graph of one snapshot.
//
// Thread Safety: Read-only after construction.
type CallGraph struct {
	ids  []string
	succ map[string][]string
	pred map[string][]string
}

// NodeIDs returns all routine key strings in lexical order.
func (g *CallGraph) NodeIDs() []string {
	return g.ids
}

// HasNode reports whether the id names a routine in the snapshot.
func (g *CallGraph) HasNode(id string) bool {
	_, ok := g.succ[id]
	return ok
}

// Successors returns the callees of a routine, with repeats for
// multiple call sites.
func (g *CallGraph) Successors(id string) []string {
	return g.succ[id]
}

// Predecessors returns the callers of a routine.
func (g *CallGraph) Predecessors(id string) []string {
	return g.pred[id]
}
