// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query evaluates declarative node queries against stored
// bundles, with per-routine result fragments cached under the memory
// manager and invalidated by version bumps.
package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/cpg/cpg"
	"github.com/AleutianAI/cpg/syntax"
)

// Sentinel errors for query evaluation.
var (
	// ErrInvalidQuery is returned for malformed or contradictory specs.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrTimeout wraps a context cancellation or deadline during
	// evaluation.
	ErrTimeout = errors.New("query timed out")
)

// Layer selects the node space a query runs over.
type Layer string

const (
	// LayerSyntax matches syntax nodes by kind and label.
	LayerSyntax Layer = "syntax"

	// LayerCFG matches control-flow nodes by kind.
	LayerCFG Layer = "cfg"

	// LayerDFG matches data-flow nodes by kind and variable.
	LayerDFG Layer = "dfg"

	// LayerCPG matches merged nodes including enrichment properties.
	LayerCPG Layer = "cpg"
)

// Op is a predicate comparison operator.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpContains Op = "contains"
	OpExists   Op = "exists"
)

var validOps = map[Op]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGte: true,
	OpLt: true, OpLte: true, OpContains: true, OpExists: true,
}

// orderedOps marks operators requiring a numeric value.
var orderedOps = map[Op]bool{OpGt: true, OpGte: true, OpLt: true, OpLte: true}

// Predicate is one field comparison. All predicates of a spec must
// hold (conjunction).
//
// Fields: "kind" and "label" on every layer, "var" on the DFG layer,
// and "prop:<key>" for enrichment properties on the CPG layer.
type Predicate struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value,omitempty"`
}

// Traversal expands matched nodes over the routine's CPG edges.
type Traversal struct {
	// Edges are the edge kinds to follow. At least one is required.
	Edges []cpg.EdgeKind `json:"edges"`

	// Hops bounds expansion depth. Must be at least 1.
	Hops int `json:"hops"`
}

// Spec is one declarative node query.
type Spec struct {
	// Layer selects the node space. Required.
	Layer Layer `json:"layer"`

	// Routine restricts the query to one routine. Zero value queries
	// every routine in the snapshot.
	Routine syntax.RoutineKey `json:"routine,omitzero"`

	// Predicates are conjoined filters. At least one is required.
	Predicates []Predicate `json:"predicates"`

	// Traverse expands matched nodes over CPG edges of the given kinds
	// up to Hops hops. Only valid on the cpg layer. A call edge leaving
	// the routine contributes the callee's entry node and stops there.
	Traverse *Traversal `json:"traverse,omitempty"`

	// Limit bounds the result size. 0 means DefaultLimit.
	Limit int `json:"limit,omitempty"`
}

// DefaultLimit bounds results when the spec does not.
const DefaultLimit = 1000

// Validate rejects malformed specs before any graph is touched.
//
// Description:
//
//	Checks layer and operator validity, field/layer compatibility,
//	operand types (ordered operators need numbers, contains needs a
//	string), and detects contradictions: two equality predicates on
//	the same field with different values can never both hold.
//
// Outputs:
//
//	error - ErrInvalidQuery (wrapped with detail), or nil.
func (s *Spec) Validate() error {
	switch s.Layer {
	case LayerSyntax, LayerCFG, LayerDFG, LayerCPG:
	default:
		return fmt.Errorf("%w: unknown layer %q", ErrInvalidQuery, s.Layer)
	}
	if len(s.Predicates) == 0 {
		return fmt.Errorf("%w: no predicates", ErrInvalidQuery)
	}
	if s.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	if s.Traverse != nil {
		if s.Layer != LayerCPG {
			return fmt.Errorf("%w: traversal only valid on the cpg layer", ErrInvalidQuery)
		}
		if s.Traverse.Hops < 1 {
			return fmt.Errorf("%w: traversal needs at least one hop", ErrInvalidQuery)
		}
		if len(s.Traverse.Edges) == 0 {
			return fmt.Errorf("%w: traversal needs at least one edge kind", ErrInvalidQuery)
		}
		for _, k := range s.Traverse.Edges {
			if k < 0 || k >= cpg.NumEdgeKinds {
				return fmt.Errorf("%w: unknown edge kind %d", ErrInvalidQuery, k)
			}
		}
	}

	eqValues := make(map[string]any)
	for i, p := range s.Predicates {
		if !validOps[p.Op] {
			return fmt.Errorf("%w: predicate %d: unknown op %q", ErrInvalidQuery, i, p.Op)
		}
		if err := s.validateField(p.Field); err != nil {
			return fmt.Errorf("%w: predicate %d: %v", ErrInvalidQuery, i, err)
		}
		if orderedOps[p.Op] {
			if _, ok := asNumber(p.Value); !ok {
				return fmt.Errorf("%w: predicate %d: %s needs a numeric value", ErrInvalidQuery, i, p.Op)
			}
		}
		if p.Op == OpContains {
			if _, ok := p.Value.(string); !ok {
				return fmt.Errorf("%w: predicate %d: contains needs a string value", ErrInvalidQuery, i)
			}
		}
		if p.Op == OpEq {
			if prev, seen := eqValues[p.Field]; seen && prev != p.Value {
				return fmt.Errorf("%w: contradictory equality on %q", ErrInvalidQuery, p.Field)
			}
			eqValues[p.Field] = p.Value
		}
	}
	return nil
}

func (s *Spec) validateField(field string) error {
	if field == "" {
		return errors.New("empty field")
	}
	if strings.HasPrefix(field, "prop:") {
		if s.Layer != LayerCPG {
			return fmt.Errorf("property field %q only valid on the cpg layer", field)
		}
		if field == "prop:" {
			return errors.New("empty property key")
		}
		return nil
	}
	switch field {
	case "kind", "label":
		return nil
	case "var":
		if s.Layer != LayerDFG {
			return fmt.Errorf("field %q only valid on the dfg layer", field)
		}
		return nil
	}
	return fmt.Errorf("unknown field %q", field)
}

// Item is one matched node.
type Item struct {
	Routine syntax.RoutineKey `json:"routine"`
	Node    syntax.NodeID     `json:"node"`
	Kind    string            `json:"kind"`
	Label   string            `json:"label,omitempty"`
}

// Result is a completed query.
type Result struct {
	// Items are matches ordered by (routine, node id).
	Items []Item `json:"items"`

	// Truncated is set when the limit cut matches off.
	Truncated bool `json:"truncated,omitempty"`

	// Stale is set when any consulted bundle was stale; the items come
	// from the last good versions.
	Stale bool `json:"stale,omitempty"`
}

// asNumber coerces JSON-ish numeric values.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
