// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/cpg/cpg"
	"github.com/AleutianAI/cpg/memory"
	"github.com/AleutianAI/cpg/repo"
	"github.com/AleutianAI/cpg/syntax"
)

// approxMatchBytes is the per-match estimate reported to the memory
// manager for cached results.
const approxMatchBytes = 192

// Matcher runs structural patterns against the repository.
//
// Thread Safety: Safe for concurrent use.
type Matcher struct {
	repo   *repo.Repository
	mem    *memory.Manager
	logger *slog.Logger
}

// MatcherOption is a functional option for configuring the Matcher.
type MatcherOption func(*Matcher)

// WithResultCache attaches the memory manager for per-routine match
// caching.
func WithResultCache(mem *memory.Manager) MatcherOption {
	return func(m *Matcher) {
		m.mem = mem
	}
}

// NewMatcher creates a pattern matcher over the repository.
func NewMatcher(repository *repo.Repository, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		repo:   repository,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Find runs one pattern against a fresh snapshot.
//
// Description:
//
//	Validates the spec, then matches it routine by routine. Within a
//	routine, the alias with the fewest candidate nodes anchors the
//	search; remaining aliases bind through backtracking over the edge
//	constraints. Per-routine match sets are cached through the memory
//	manager keyed by (pattern, routine, version). Hitting the match
//	cap stops the search and sets Truncated; the matches found stand.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	spec - The pattern. Must validate.
//
// Outputs:
//
//	*Report - Ordered matches. Nil on error.
//	error - ErrInvalidPattern, or ErrTimeout when the context expires
//	        between routines.
//
// Thread Safety: Safe for concurrent use.
func (m *Matcher) Find(ctx context.Context, spec Spec) (*Report, error) {
	ctx, span := tracer.Start(ctx, "patterns.Find")
	defer span.End()
	span.SetAttributes(attribute.String("pattern", spec.Name))

	if err := spec.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	limit := spec.MaxMatches
	if limit == 0 {
		limit = DefaultMaxMatches
	}

	start := time.Now()
	snap := m.repo.Snapshot()
	report := &Report{Pattern: spec.Name, Severity: spec.Severity}

	for _, key := range snap.Routines() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err := fmt.Errorf("%w: %v", ErrTimeout, ctxErr)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if len(report.Matches) >= limit {
			report.Truncated = true
			break
		}
		b, _ := snap.Bundle(key)
		if b.Stale {
			report.Stale = true
		}

		matches := m.routineMatches(ctx, spec, b)
		room := limit - len(report.Matches)
		if len(matches) > room {
			matches = matches[:room]
			report.Truncated = true
		}
		report.Matches = append(report.Matches, matches...)
	}

	span.SetAttributes(
		attribute.Int("matches", len(report.Matches)),
		attribute.Bool("truncated", report.Truncated),
	)
	recordMatch(ctx, time.Since(start), report)
	return report, nil
}

// routineMatches returns all matches within one bundle, cached.
func (m *Matcher) routineMatches(ctx context.Context, spec Spec, b *repo.Bundle) []Match {
	id := fmt.Sprintf("pattern:%s@%s:v%d", spec.Name, b.Key, b.Version)
	if m.mem != nil {
		if v, ok := m.mem.Get(id); ok {
			return v.([]Match)
		}
	}

	matches := matchRoutine(spec, b)
	if m.mem != nil {
		owner := memory.VersionTag{Key: b.Key, Version: b.Version}
		size := int64(len(matches)+1) * approxMatchBytes
		m.mem.Put(ctx, id, owner, size, matches)
	}
	return matches
}

// matchRoutine enumerates all bindings of the pattern in one CPG.
func matchRoutine(spec Spec, b *repo.Bundle) []Match {
	// Candidate sets per alias.
	candidates := make(map[string][]int, len(spec.Nodes))
	for _, np := range spec.Nodes {
		c := candidatesFor(np, b)
		if len(c) == 0 {
			return nil
		}
		candidates[np.Alias] = c
	}

	// Rarest alias anchors the search.
	order := make([]string, 0, len(spec.Nodes))
	for _, np := range spec.Nodes {
		order = append(order, np.Alias)
	}
	sort.Slice(order, func(i, j int) bool {
		ci, cj := len(candidates[order[i]]), len(candidates[order[j]])
		if ci != cj {
			return ci < cj
		}
		return order[i] < order[j]
	})
	anchor := order[0]

	matches := make([]Match, 0)
	binding := make(map[string]int, len(order))
	var extend func(pos int)
	extend = func(pos int) {
		if pos == len(order) {
			if edgesSatisfied(spec, b, binding) {
				matches = append(matches, toMatch(b, binding))
			}
			return
		}
		alias := order[pos]
		for _, idx := range candidates[alias] {
			if bound(binding, idx) {
				continue
			}
			binding[alias] = idx
			if partialEdgesHold(spec, b, binding) {
				extend(pos + 1)
			}
			delete(binding, alias)
		}
	}
	extend(0)

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Bindings[anchor] < matches[j].Bindings[anchor]
	})
	return matches
}

// candidatesFor returns node indexes satisfying one node pattern,
// in container order.
func candidatesFor(np NodePattern, b *repo.Bundle) []int {
	out := make([]int, 0)
	for _, n := range b.CPG.Nodes() {
		if !kindAllowed(np.Kinds, n.Kind) {
			continue
		}
		if np.LabelContains != "" && !strings.Contains(n.Label, np.LabelContains) {
			continue
		}
		if !propsHold(np.Props, n) {
			continue
		}
		out = append(out, n.Index)
	}
	return out
}

func kindAllowed(kinds []syntax.Kind, kind syntax.Kind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func propsHold(props map[string]any, n *cpg.Node) bool {
	for key, want := range props {
		have, ok := n.Props[key]
		if !ok {
			return false
		}
		if want != nil && fmt.Sprint(have) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// partialEdgesHold checks the edge constraints whose endpoints are
// both bound; unbound endpoints defer to a deeper level. Pruning here
// keeps the backtracking from enumerating dead branches.
func partialEdgesHold(spec Spec, b *repo.Bundle, binding map[string]int) bool {
	for _, ep := range spec.Edges {
		from, okF := binding[ep.From]
		to, okT := binding[ep.To]
		if !okF || !okT {
			continue
		}
		if !edgeExists(b, from, to, ep.Kinds) {
			return false
		}
	}
	return true
}

func edgesSatisfied(spec Spec, b *repo.Bundle, binding map[string]int) bool {
	return partialEdgesHold(spec, b, binding)
}

func edgeExists(b *repo.Bundle, from, to int, kinds []cpg.EdgeKind) bool {
	for _, e := range b.CPG.OutEdges(from) {
		if e.To != to {
			continue
		}
		if len(kinds) == 0 {
			return true
		}
		for _, k := range kinds {
			if e.Kind == k {
				return true
			}
		}
	}
	return false
}

func bound(binding map[string]int, idx int) bool {
	for _, v := range binding {
		if v == idx {
			return true
		}
	}
	return false
}

func toMatch(b *repo.Bundle, binding map[string]int) Match {
	bindings := make(map[string]syntax.NodeID, len(binding))
	for alias, idx := range binding {
		if n, ok := b.CPG.NodeAt(idx); ok {
			bindings[alias] = n.SyntaxID
		}
	}
	return Match{Routine: b.Key, Bindings: bindings}
}
