// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package identity assigns stable identifiers to syntax tree nodes.
//
// # Id Scheme
//
// Ids are structural paths, not textual offsets. A routine subtree is
// prefixed with its RoutineKey ("module:name/arity"); nodes inside the
// routine append the dot-joined child indexes from the routine root
// ("acct:open/2:0.1.2"). Module-level nodes outside any routine use the
// module name as prefix. Unrelated edits elsewhere in a file therefore
// never shift an unchanged routine's ids.
//
// # Determinism
//
// Resolving the same tree twice yields identical ids. Uniqueness within
// a snapshot follows from path uniqueness, except when two routines in
// one module share (name, arity); that is reported as an IdentityConflict.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/cpg/syntax"
)

var tracer = otel.Tracer("aleutian.cpg.identity")

// ErrIdentityConflict is returned when two distinct structural positions
// would receive the same id. The only reachable case is two routines in
// one module sharing (name, arity).
var ErrIdentityConflict = errors.New("identity conflict")

// ConflictError describes an id collision.
type ConflictError struct {
	// Key is the routine key both positions would map to.
	Key syntax.RoutineKey
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("identity conflict: duplicate routine %s", e.Key)
}

// Unwrap allows errors.Is(err, ErrIdentityConflict).
func (e *ConflictError) Unwrap() error {
	return ErrIdentityConflict
}

// Resolution is the result of assigning ids to one tree.
//
// Thread Safety: Safe for concurrent use after Resolve returns.
type Resolution struct {
	tree *syntax.Tree
	byID map[syntax.NodeID]*syntax.Node

	// routines maps each routine key to its subtree root.
	routines map[syntax.RoutineKey]*syntax.Node
}

// Resolve assigns stable ids to every node in the tree.
//
// Description:
//
//	Walks the tree once, writing each node's ID field and building the
//	id index. The tree must not be mutated afterwards; the ids are the
//	only handles the analysis core keeps.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	tree - The tree to resolve. Must not be nil and must have a root.
//
// Outputs:
//
//	*Resolution - Index from id to node. Never nil on success.
//	error - ErrIdentityConflict (via ConflictError) on duplicate routine
//	        keys; a plain error on nil input.
//
// Thread Safety: Safe for concurrent use on distinct trees.
func Resolve(ctx context.Context, tree *syntax.Tree) (*Resolution, error) {
	_, span := tracer.Start(ctx, "identity.Resolve")
	defer span.End()

	if tree == nil || tree.Root == nil {
		err := errors.New("identity: nil tree")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res := &Resolution{
		tree:     tree,
		byID:     make(map[syntax.NodeID]*syntax.Node),
		routines: make(map[syntax.RoutineKey]*syntax.Node),
	}

	tree.Root.ID = syntax.NodeID(tree.Module)
	res.byID[tree.Root.ID] = tree.Root

	for i, child := range tree.Root.Children {
		var prefix string
		if child.Kind == syntax.KindRoutine {
			key := syntax.RoutineKey{
				Module: tree.Module,
				Name:   child.Label,
				Arity:  syntax.Arity(child),
			}
			if _, dup := res.routines[key]; dup {
				err := &ConflictError{Key: key}
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			res.routines[key] = child
			prefix = key.String()
		} else {
			prefix = tree.Module + ":" + strconv.Itoa(i)
		}
		child.ID = syntax.NodeID(prefix)
		res.byID[child.ID] = child
		res.assignChildren(child, prefix)
	}

	span.SetAttributes(
		attribute.Int("node_count", len(res.byID)),
		attribute.Int("routine_count", len(res.routines)),
	)
	return res, nil
}

// assignChildren assigns path ids below a prefixed subtree root.
//
// The first path component after the routine/module prefix follows a
// colon; deeper components are dot-joined: "acct:open/2:0.1.2".
func (r *Resolution) assignChildren(parent *syntax.Node, prefix string) {
	sep := "."
	if strings.Count(prefix, ":") < 2 {
		sep = ":"
	}
	for i, child := range parent.Children {
		child.ID = syntax.NodeID(prefix + sep + strconv.Itoa(i))
		r.byID[child.ID] = child
		r.assignChildren(child, string(child.ID))
	}
}

// Node returns the node with the given id.
func (r *Resolution) Node(id syntax.NodeID) (*syntax.Node, bool) {
	n, ok := r.byID[id]
	return n, ok
}

// Routine returns the subtree root for the given routine key.
func (r *Resolution) Routine(key syntax.RoutineKey) (*syntax.Node, bool) {
	n, ok := r.routines[key]
	return n, ok
}

// Routines returns all resolved routine keys.
func (r *Resolution) Routines() []syntax.RoutineKey {
	keys := make([]syntax.RoutineKey, 0, len(r.routines))
	for k := range r.routines {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of resolved nodes.
func (r *Resolution) Len() int {
	return len(r.byID)
}
