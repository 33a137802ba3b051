// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cpg

import (
	"context"
	"strings"

	"github.com/AleutianAI/cpg/cpgmath"
	"github.com/AleutianAI/cpg/syntax"
)

// Property keys written by the built-in enrichment passes. Later passes
// and external analyses read them; no pass deletes an earlier key.
const (
	// PropCyclomatic is the routine's cyclomatic complexity (root node).
	PropCyclomatic = "complexity.cyclomatic"

	// PropDepth is the containment nesting depth of a node.
	PropDepth = "complexity.depth"

	// PropFanout is the control-flow fan-out of a branch node.
	PropFanout = "complexity.fanout"

	// PropCentrality is a node's betweenness centrality within the
	// routine's full CPG, normalized to [0, 1].
	PropCentrality = "complexity.centrality"

	// PropTaintSource marks a node whose value originates outside the
	// program (parameters, input-reading calls).
	PropTaintSource = "security.taint_source"

	// PropSanitizer marks a call that neutralizes tainted data.
	PropSanitizer = "security.sanitizer"

	// PropUnsafeCall marks a call into a dangerous sink.
	PropUnsafeCall = "security.unsafe_call"

	// PropCredentialLiteral marks a literal that looks like a secret.
	PropCredentialLiteral = "security.credential_literal"

	// PropCallInLoop marks a call executed inside a loop body.
	PropCallInLoop = "perf.call_in_loop"

	// PropNestedLoop marks a loop nested inside another loop.
	PropNestedLoop = "perf.nested_loop"

	// PropDeepNesting marks nodes beyond the nesting threshold.
	PropDeepNesting = "quality.deep_nesting"

	// PropMagicNumber marks bare numeric literals other than 0 and 1.
	PropMagicNumber = "quality.magic_number"
)

// Pass is one enrichment pass over a freshly merged CPG.
//
// Passes run in a fixed order. Each pass reads existing node/edge
// properties and writes new ones; deleting a property written by an
// earlier pass is an integrity violation.
type Pass interface {
	// Name identifies the pass in errors and telemetry.
	Name() string

	// Enrich annotates the graph in place.
	Enrich(ctx context.Context, g *Graph) error
}

// DefaultPasses returns the built-in passes in their fixed order:
// complexity, security, performance, quality.
func DefaultPasses() []Pass {
	return []Pass{
		ComplexityPass{},
		SecurityPass{},
		PerformancePass{},
		QualityPass{},
	}
}

// =============================================================================
// Complexity
// =============================================================================

// ComplexityPass writes structural complexity annotations.
type ComplexityPass struct{}

// Name implements Pass.
func (ComplexityPass) Name() string { return "complexity" }

// Enrich writes the routine's cyclomatic complexity on the root,
// per-node containment depth, control-flow fan-out, and betweenness
// centrality over the full edge set.
func (ComplexityPass) Enrich(ctx context.Context, g *Graph) error {
	g.Root().Props[PropCyclomatic] = g.Cyclomatic

	depths := make([]int, len(g.nodes))
	var assign func(idx, depth int)
	assign = func(idx, depth int) {
		depths[idx] = depth
		g.nodes[idx].Props[PropDepth] = depth
		for _, e := range g.OutEdges(idx) {
			if e.Kind == EdgeContainment {
				assign(e.To, depth+1)
			}
		}
	}
	assign(0, 0)

	for _, n := range g.nodes {
		fanout := 0
		for _, e := range g.OutEdges(n.Index) {
			if e.Kind == EdgeControlFlow {
				fanout++
			}
		}
		if fanout > 1 {
			n.Props[PropFanout] = fanout
		}
	}

	scores, err := cpgmath.Centrality(ctx, g.View())
	if err != nil {
		return err
	}
	for _, n := range g.nodes {
		if s, ok := scores[string(n.SyntaxID)]; ok {
			n.Props[PropCentrality] = s.Betweenness
		}
	}
	return nil
}

// =============================================================================
// Security
// =============================================================================

// Catalogue substrings for the security pass. Matching is heuristic and
// case-insensitive on the final name segment.
var (
	unsafeCallNames = []string{"exec", "eval", "system", "query", "unserialize", "deserialize", "popen", "spawn"}
	sourceCallNames = []string{"read", "recv", "input", "getenv", "scan", "fetch", "param"}
	sanitizerNames  = []string{"sanitize", "escape", "validate", "quote", "clean"}
	credentialHints = []string{"password", "secret", "api_key", "apikey", "token"}
)

// SecurityPass flags taint sources, sanitizers, unsafe sinks, and
// credential-looking literals. Downstream taint tracing and the pattern
// library key off these properties.
type SecurityPass struct{}

// Name implements Pass.
func (SecurityPass) Name() string { return "security" }

// Enrich implements Pass.
func (SecurityPass) Enrich(_ context.Context, g *Graph) error {
	for _, n := range g.nodes {
		switch n.Kind {
		case syntax.KindCall:
			name := strings.ToLower(lastSegment(n.Label))
			if matchesAny(name, unsafeCallNames) {
				n.Props[PropUnsafeCall] = true
			}
			if matchesAny(name, sourceCallNames) {
				n.Props[PropTaintSource] = true
			}
			if matchesAny(name, sanitizerNames) {
				n.Props[PropSanitizer] = true
			}
		case syntax.KindParam:
			n.Props[PropTaintSource] = true
		case syntax.KindLiteral:
			if matchesAny(strings.ToLower(n.Label), credentialHints) {
				n.Props[PropCredentialLiteral] = true
			}
		}
	}
	return nil
}

func lastSegment(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func matchesAny(name string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(name, h) {
			return true
		}
	}
	return false
}

// =============================================================================
// Performance
// =============================================================================

// PerformancePass flags calls inside loops and nested loops.
type PerformancePass struct{}

// Name implements Pass.
func (PerformancePass) Name() string { return "performance" }

// Enrich implements Pass.
func (PerformancePass) Enrich(_ context.Context, g *Graph) error {
	var walk func(idx, loopDepth int)
	walk = func(idx, loopDepth int) {
		n := g.nodes[idx]
		switch n.Kind {
		case syntax.KindLoop:
			if loopDepth > 0 {
				n.Props[PropNestedLoop] = true
			}
			loopDepth++
		case syntax.KindCall:
			if loopDepth > 0 {
				n.Props[PropCallInLoop] = true
			}
		}
		for _, e := range g.OutEdges(idx) {
			if e.Kind == EdgeContainment {
				walk(e.To, loopDepth)
			}
		}
	}
	walk(0, 0)
	return nil
}

// =============================================================================
// Quality
// =============================================================================

// Nesting depth beyond which QualityPass flags a node.
const deepNestingThreshold = 5

// QualityPass flags deep nesting and magic numbers. Runs last; it reads
// the depth annotations the complexity pass wrote.
type QualityPass struct{}

// Name implements Pass.
func (QualityPass) Name() string { return "quality" }

// Enrich implements Pass.
func (QualityPass) Enrich(_ context.Context, g *Graph) error {
	for _, n := range g.nodes {
		if d, ok := n.Props[PropDepth].(int); ok && d > deepNestingThreshold {
			n.Props[PropDeepNesting] = true
		}
		if n.Kind == syntax.KindLiteral && isMagicNumber(n.Label) {
			n.Props[PropMagicNumber] = true
		}
	}
	return nil
}

func isMagicNumber(text string) bool {
	if text == "" || text == "0" || text == "1" {
		return false
	}
	for _, r := range text {
		if (r < '0' || r > '9') && r != '.' && r != '_' {
			return false
		}
	}
	return true
}
