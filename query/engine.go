// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/cpg/cpg"
	"github.com/AleutianAI/cpg/memory"
	"github.com/AleutianAI/cpg/repo"
	"github.com/AleutianAI/cpg/syntax"
)

// approxItemBytes is the per-item estimate reported to the memory
// manager for cached fragments.
const approxItemBytes = 96

// Engine evaluates query specs against the repository.
//
// Description:
//
//	Results are assembled from per-routine fragments. A fragment is
//	the full match set of one spec within one routine at one bundle
//	version; fragments are cached through the memory manager and keyed
//	by (spec hash, routine, version), so a version bump naturally
//	misses and old fragments fall to invalidation. Concurrent
//	identical fragment computations collapse via singleflight.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	repo   *repo.Repository
	mem    *memory.Manager
	sf     singleflight.Group
	logger *slog.Logger
}

// EngineOption is a functional option for configuring the Engine.
type EngineOption func(*Engine)

// WithFragmentCache attaches the memory manager for fragment caching.
// Without it every query recomputes its fragments.
func WithFragmentCache(mem *memory.Manager) EngineOption {
	return func(e *Engine) {
		e.mem = mem
	}
}

// NewEngine creates a query engine over the repository.
func NewEngine(repository *repo.Repository, opts ...EngineOption) *Engine {
	e := &Engine{
		repo:   repository,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one query against a fresh snapshot.
//
// Description:
//
//	Validates the spec, captures a snapshot, evaluates the spec's
//	fragment in every routine in scope, merges, orders by (routine,
//	node id), and applies the limit. Cancellation between fragments
//	surfaces as ErrTimeout; everything is either complete or an error,
//	never silently partial. A stale bundle contributes its last good
//	data and flips the result's Stale flag.
//
// Inputs:
//
//	ctx - Context carrying the caller's deadline. Must not be nil.
//	spec - The query. Must validate.
//
// Outputs:
//
//	*Result - Ordered matches. Nil on error.
//	error - ErrInvalidQuery, ErrTimeout, or repo.ErrNotFound for a
//	        scoped routine that does not exist.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) Execute(ctx context.Context, spec Spec) (*Result, error) {
	ctx, span := tracer.Start(ctx, "query.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("layer", string(spec.Layer)))

	if err := spec.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	limit := spec.Limit
	if limit == 0 {
		limit = DefaultLimit
	}

	start := time.Now()
	snap := e.repo.Snapshot()
	scope, err := e.scope(snap, spec)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	specHash := hashSpec(spec)
	for _, key := range scope {
		if ctx.Err() != nil {
			err := fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		b, ok := snap.Bundle(key)
		if !ok {
			continue
		}
		if b.Stale {
			result.Stale = true
		}
		items, err := e.fragment(ctx, specHash, spec, b)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, items...)
	}

	sort.Slice(result.Items, func(i, j int) bool {
		a, b := result.Items[i], result.Items[j]
		if a.Routine != b.Routine {
			return a.Routine.String() < b.Routine.String()
		}
		return a.Node < b.Node
	})
	if len(result.Items) > limit {
		result.Items = result.Items[:limit]
		result.Truncated = true
	}

	span.SetAttributes(
		attribute.Int("matches", len(result.Items)),
		attribute.Bool("truncated", result.Truncated),
	)
	recordQuery(ctx, time.Since(start), result)
	return result, nil
}

// scope returns the routines a spec runs over, sorted.
func (e *Engine) scope(snap *repo.Snapshot, spec Spec) ([]syntax.RoutineKey, error) {
	if !spec.Routine.IsZero() {
		if _, ok := snap.Bundle(spec.Routine); !ok {
			return nil, repo.ErrNotFound
		}
		return []syntax.RoutineKey{spec.Routine}, nil
	}
	return snap.Routines(), nil
}

// fragment returns the spec's matches within one bundle, consulting
// the cache first and collapsing concurrent identical computations.
func (e *Engine) fragment(ctx context.Context, specHash string, spec Spec, b *repo.Bundle) ([]Item, error) {
	id := fmt.Sprintf("query:%s@%s:v%d", specHash, b.Key, b.Version)

	if e.mem != nil {
		if v, ok := e.mem.Get(id); ok {
			recordFragment(ctx, true)
			return v.([]Item), nil
		}
	}
	recordFragment(ctx, false)

	v, err, _ := e.sf.Do(id, func() (any, error) {
		items := evaluate(spec, b)
		if e.mem != nil {
			owner := memory.VersionTag{Key: b.Key, Version: b.Version}
			size := int64(len(items)+1) * approxItemBytes
			e.mem.Put(ctx, id, owner, size, items)
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Item), nil
}

// hashSpec hashes the match-relevant parts of a spec. Routine and
// limit shape the merge, not the fragment, so they stay out.
func hashSpec(spec Spec) string {
	payload, _ := json.Marshal(struct {
		Layer      Layer       `json:"layer"`
		Predicates []Predicate `json:"predicates"`
		Traverse   *Traversal  `json:"traverse,omitempty"`
	}{spec.Layer, spec.Predicates, spec.Traverse})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

// evaluate computes a fragment: every node of the bundle's selected
// layer matching all predicates.
func evaluate(spec Spec, b *repo.Bundle) []Item {
	items := make([]Item, 0)
	add := func(node syntax.NodeID, kind, label string, fields map[string]any) {
		for _, p := range spec.Predicates {
			if !match(p, fields) {
				return
			}
		}
		items = append(items, Item{Routine: b.Key, Node: node, Kind: kind, Label: label})
	}

	switch spec.Layer {
	case LayerSyntax:
		syntax.Walk(b.Root, func(n *syntax.Node) bool {
			add(n.ID, n.Kind.String(), n.Label, map[string]any{
				"kind":  n.Kind.String(),
				"label": n.Label,
			})
			return true
		})

	case LayerCFG:
		rootID := b.Root.ID
		for _, n := range b.CFG.Nodes() {
			anchor := rootID
			if len(n.SyntaxIDs) > 0 {
				anchor = n.SyntaxIDs[0]
			}
			add(anchor, n.Kind.String(), "", map[string]any{
				"kind": n.Kind.String(),
			})
		}

	case LayerDFG:
		rootID := b.Root.ID
		for _, n := range b.DFG.Nodes() {
			anchor := n.SyntaxID
			if anchor == "" {
				anchor = rootID
			}
			add(anchor, n.Kind.String(), n.Var, map[string]any{
				"kind":  n.Kind.String(),
				"label": n.Var,
				"var":   n.Var,
			})
		}

	case LayerCPG:
		for _, n := range b.CPG.Nodes() {
			fields := map[string]any{
				"kind":  n.Kind.String(),
				"label": n.Label,
			}
			for k, v := range n.Props {
				fields["prop:"+k] = v
			}
			add(n.SyntaxID, n.Kind.String(), n.Label, fields)
		}
	}
	if spec.Traverse != nil {
		items = expand(spec.Traverse, b, items)
	}
	return items
}

// expand grows a fragment over the bundle's CPG edges. Internal targets
// join as full items and keep expanding; a call edge leaving the
// routine contributes the callee's entry node and stops, keeping the
// fragment a function of this bundle alone.
func expand(t *Traversal, b *repo.Bundle, items []Item) []Item {
	var follow [cpg.NumEdgeKinds]bool
	for _, k := range t.Edges {
		follow[k] = true
	}
	seen := make(map[syntax.NodeID]bool, len(items))
	for _, it := range items {
		seen[it.Node] = true
	}
	frontier := items
	for hop := 0; hop < t.Hops && len(frontier) > 0; hop++ {
		next := make([]Item, 0)
		for _, it := range frontier {
			node, ok := b.CPG.NodeByID(it.Node)
			if !ok {
				continue
			}
			for _, e := range b.CPG.OutEdges(node.Index) {
				if !follow[e.Kind] {
					continue
				}
				if e.To < 0 {
					if seen[e.External] {
						continue
					}
					seen[e.External] = true
					callee := calleeOf(b, node.SyntaxID)
					items = append(items, Item{
						Routine: callee,
						Node:    e.External,
						Kind:    syntax.KindRoutine.String(),
						Label:   callee.Name,
					})
					continue
				}
				to, ok := b.CPG.NodeAt(e.To)
				if !ok || seen[to.SyntaxID] {
					continue
				}
				seen[to.SyntaxID] = true
				reached := Item{Routine: b.Key, Node: to.SyntaxID, Kind: to.Kind.String(), Label: to.Label}
				items = append(items, reached)
				next = append(next, reached)
			}
		}
		frontier = next
	}
	return items
}

// calleeOf returns the resolved callee key of a call site.
func calleeOf(b *repo.Bundle, site syntax.NodeID) syntax.RoutineKey {
	for _, c := range b.CPG.Calls() {
		if c.SiteID == site && c.Resolved {
			return c.Callee
		}
	}
	return b.Key
}

// match applies one predicate to a field map.
func match(p Predicate, fields map[string]any) bool {
	v, present := fields[p.Field]
	switch p.Op {
	case OpExists:
		return present
	case OpEq:
		return present && valueEq(v, p.Value)
	case OpNe:
		return !present || !valueEq(v, p.Value)
	case OpContains:
		want, _ := p.Value.(string)
		return present && strings.Contains(fmt.Sprint(v), want)
	case OpGt, OpGte, OpLt, OpLte:
		have, okH := asNumber(v)
		want, okW := asNumber(p.Value)
		if !present || !okH || !okW {
			return false
		}
		switch p.Op {
		case OpGt:
			return have > want
		case OpGte:
			return have >= want
		case OpLt:
			return have < want
		default:
			return have <= want
		}
	}
	return false
}

// valueEq compares numerically when both sides are numbers, otherwise
// by string form.
func valueEq(a, b any) bool {
	na, okA := asNumber(a)
	nb, okB := asNumber(b)
	if okA && okB {
		return na == nb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
