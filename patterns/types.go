// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patterns matches structural patterns against stored CPGs and
// ships a library of built-in detectors (unbounded recursion, dead
// stores, tainted sinks).
//
// # Matching Model
//
// A pattern declares aliased node constraints and typed edge
// constraints between aliases. Matching anchors at the alias with the
// fewest candidates in a routine and extends edge by edge with
// backtracking. Hitting the match cap is partial success: everything
// found is returned with Truncated set, never an error.
//
// # Thread Safety
//
// All detector types are safe for concurrent use.
package patterns

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/cpg/cpg"
	"github.com/AleutianAI/cpg/syntax"
)

// Sentinel errors for pattern matching.
var (
	// ErrInvalidPattern is returned for malformed pattern specs.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrTimeout wraps a context cancellation or deadline during
	// matching.
	ErrTimeout = errors.New("pattern match timed out")
)

// DefaultMaxMatches caps matches per pattern run.
const DefaultMaxMatches = 512

// Severity indicates the importance of a finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// NodePattern constrains one aliased node.
type NodePattern struct {
	// Alias names the node within the pattern. Required, unique.
	Alias string `json:"alias"`

	// Kinds restricts the syntax kinds. Empty matches any kind.
	Kinds []syntax.Kind `json:"kinds,omitempty"`

	// Props requires enrichment properties. A nil value requires the
	// key to exist; a non-nil value must compare equal.
	Props map[string]any `json:"props,omitempty"`

	// LabelContains requires the node label to contain this substring.
	LabelContains string `json:"label_contains,omitempty"`
}

// EdgePattern constrains one edge between two aliased nodes.
type EdgePattern struct {
	// From and To are node aliases. Required.
	From string `json:"from"`
	To   string `json:"to"`

	// Kinds restricts the edge kinds. Empty matches any kind.
	Kinds []cpg.EdgeKind `json:"kinds,omitempty"`
}

// Spec is one structural pattern.
type Spec struct {
	// Name identifies the pattern in reports and telemetry.
	Name string `json:"name"`

	// Severity is attached to every match of this pattern.
	Severity Severity `json:"severity,omitempty"`

	// Nodes are the aliased node constraints. At least one.
	Nodes []NodePattern `json:"nodes"`

	// Edges connect aliases. May be empty for single-node patterns.
	Edges []EdgePattern `json:"edges,omitempty"`

	// MaxMatches caps the result. 0 means DefaultMaxMatches.
	MaxMatches int `json:"max_matches,omitempty"`
}

// Validate rejects malformed specs before any graph is touched.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidPattern)
	}
	if len(s.Nodes) == 0 {
		return fmt.Errorf("%w: no node patterns", ErrInvalidPattern)
	}
	if s.MaxMatches < 0 {
		return fmt.Errorf("%w: negative match cap", ErrInvalidPattern)
	}

	aliases := make(map[string]bool, len(s.Nodes))
	for i, n := range s.Nodes {
		if n.Alias == "" {
			return fmt.Errorf("%w: node %d has no alias", ErrInvalidPattern, i)
		}
		if aliases[n.Alias] {
			return fmt.Errorf("%w: duplicate alias %q", ErrInvalidPattern, n.Alias)
		}
		aliases[n.Alias] = true
	}
	for i, e := range s.Edges {
		if !aliases[e.From] {
			return fmt.Errorf("%w: edge %d references unknown alias %q", ErrInvalidPattern, i, e.From)
		}
		if !aliases[e.To] {
			return fmt.Errorf("%w: edge %d references unknown alias %q", ErrInvalidPattern, i, e.To)
		}
	}
	return nil
}

// Match is one pattern occurrence: each alias bound to a node.
type Match struct {
	// Routine is the routine the match lives in.
	Routine syntax.RoutineKey `json:"routine"`

	// Bindings maps alias → syntax node id.
	Bindings map[string]syntax.NodeID `json:"bindings"`
}

// Report is a completed pattern run.
type Report struct {
	// Pattern is the spec name.
	Pattern string `json:"pattern"`

	// Severity is carried over from the spec.
	Severity Severity `json:"severity,omitempty"`

	// Matches are ordered by (routine, anchor node id).
	Matches []Match `json:"matches"`

	// Truncated is set when the match cap cut the search short;
	// everything present is a real match.
	Truncated bool `json:"truncated,omitempty"`

	// Stale is set when any consulted bundle was stale.
	Stale bool `json:"stale,omitempty"`
}

// Finding is one result of a built-in detector.
type Finding struct {
	// Rule names the detector ("unbounded_recursion", "dead_store",
	// "tainted_sink").
	Rule string `json:"rule"`

	// Severity is the detector's severity.
	Severity Severity `json:"severity"`

	// Routine and Node locate the finding.
	Routine syntax.RoutineKey `json:"routine"`
	Node    syntax.NodeID     `json:"node"`

	// Detail is a short human-readable explanation.
	Detail string `json:"detail"`
}
