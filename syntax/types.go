// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syntax defines the read-only syntax tree model consumed by the
// analysis core.
//
// # Ownership Model
//
// The syntax tree is produced by an external parsing collaborator and is
// owned by the caller. The core references nodes by their stable NodeID,
// never by live pointer, and MUST NOT mutate nodes after identity
// resolution has assigned their ids.
//
// # Thread Safety
//
// All types in this package are immutable after identity resolution and
// safe for concurrent reads.
package syntax

import "fmt"

// NodeID is the stable identifier of a syntax node.
//
// Ids are deterministic across re-parses of unchanged code: the same
// routine and the same structural position always yield the same id.
// Ids are opaque to all downstream components.
type NodeID string

// Kind classifies a syntax node structurally.
//
// The catalogue is deliberately language-neutral: the parsing collaborator
// lowers its concrete grammar into these kinds. Constructs with no mapping
// arrive as KindUnknown and degrade to opaque blocks in the CFG builder.
type Kind int

const (
	// KindUnknown is an unrecognized or unsupported construct.
	KindUnknown Kind = iota

	// KindModule is the root of a module's syntax tree.
	KindModule

	// KindRoutine is a function, method, or procedure definition.
	KindRoutine

	// KindParam is a formal parameter of a routine.
	KindParam

	// KindBlock is a statement sequence.
	KindBlock

	// KindIf is a binary conditional.
	KindIf

	// KindMatch is a multi-way branch (switch, match, case analysis).
	KindMatch

	// KindMatchArm is one arm of a KindMatch node.
	KindMatchArm

	// KindLoop is any loop construct.
	KindLoop

	// KindCall is a call expression. Label carries the callee name.
	KindCall

	// KindAssign is a variable binding or reassignment. Label carries
	// the target variable name; children are the right-hand side.
	KindAssign

	// KindIdent is a variable read. Label carries the variable name.
	KindIdent

	// KindLiteral is a constant literal. Label carries its text.
	KindLiteral

	// KindBinaryOp is a binary operator expression. Label carries the operator.
	KindBinaryOp

	// KindReturn is a return statement.
	KindReturn

	// KindBreak exits the innermost enclosing loop.
	KindBreak

	// KindContinue jumps to the innermost enclosing loop header.
	KindContinue

	// NumKinds is the total number of kinds (for array sizing).
	NumKinds
)

// kindNames maps Kind values to their string representations.
var kindNames = map[Kind]string{
	KindUnknown:  "unknown",
	KindModule:   "module",
	KindRoutine:  "routine",
	KindParam:    "param",
	KindBlock:    "block",
	KindIf:       "if",
	KindMatch:    "match",
	KindMatchArm: "match_arm",
	KindLoop:     "loop",
	KindCall:     "call",
	KindAssign:   "assign",
	KindIdent:    "ident",
	KindLiteral:  "literal",
	KindBinaryOp: "binary_op",
	KindReturn:   "return",
	KindBreak:    "break",
	KindContinue: "continue",
}

// String returns the string representation of the Kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind returns the Kind named by s, or KindUnknown.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return KindUnknown
}

// Location is a source position range.
type Location struct {
	// File is the path of the source file, relative to the project root.
	File string

	// StartLine and EndLine are 1-based line numbers.
	StartLine int
	EndLine   int

	// StartCol and EndCol are 0-based byte columns.
	StartCol int
	EndCol   int
}

// Node is one node of the external syntax tree.
//
// Nodes are created by the parsing collaborator (or the tree-sitter
// adapter in this package) and must not be mutated after identity
// resolution. The ID field is empty until identity.Resolve assigns it.
type Node struct {
	// ID is the stable identifier. Assigned by identity.Resolve.
	ID NodeID

	// Kind is the structural classification.
	Kind Kind

	// Label carries kind-specific text: variable name for assign/ident,
	// callee name for call, operator for binary_op, literal text for
	// literal, routine name for routine.
	Label string

	// Children are the ordered child nodes. Order is structural and
	// significant for identity resolution.
	Children []*Node

	// Location is the source range this node covers.
	Location Location
}

// Walk visits n and its descendants in preorder. The visit function
// returns false to skip a node's children.
func Walk(n *Node, visit func(*Node) bool) {
	if n == nil {
		return
	}
	if !visit(n) {
		return
	}
	for _, c := range n.Children {
		Walk(c, visit)
	}
}

// RoutineKey identifies one analyzable routine within a project snapshot.
//
// The triple (module, name, arity) must be unique within a snapshot;
// identity resolution fails with an IdentityConflict otherwise.
type RoutineKey struct {
	// Module is the enclosing module name.
	Module string

	// Name is the routine name.
	Name string

	// Arity is the number of formal parameters.
	Arity int
}

// String returns the canonical "module:name/arity" form of the key.
func (k RoutineKey) String() string {
	return fmt.Sprintf("%s:%s/%d", k.Module, k.Name, k.Arity)
}

// IsZero reports whether the key is the zero value.
func (k RoutineKey) IsZero() bool {
	return k.Module == "" && k.Name == "" && k.Arity == 0
}

// Tree is the syntax tree of one module.
type Tree struct {
	// Module is the module name. Used as the id prefix for all nodes.
	Module string

	// Root is the module root node (KindModule).
	Root *Node
}

// RoutineDecl pairs a routine subtree with its computed key.
type RoutineDecl struct {
	// Key identifies the routine.
	Key RoutineKey

	// Node is the KindRoutine subtree root.
	Node *Node
}

// Arity returns the number of KindParam children of a routine node.
func Arity(routine *Node) int {
	n := 0
	for _, c := range routine.Children {
		if c.Kind == KindParam {
			n++
		}
	}
	return n
}

// Routines returns the top-level routine declarations of the tree in
// declaration order. Nested routines (closures) are part of their
// enclosing routine's subtree and are not listed separately.
func (t *Tree) Routines() []RoutineDecl {
	if t == nil || t.Root == nil {
		return nil
	}
	decls := make([]RoutineDecl, 0)
	for _, c := range t.Root.Children {
		if c.Kind != KindRoutine {
			continue
		}
		decls = append(decls, RoutineDecl{
			Key:  RoutineKey{Module: t.Module, Name: c.Label, Arity: Arity(c)},
			Node: c,
		})
	}
	return decls
}

// CountNodes returns the number of nodes in the subtree rooted at n.
func CountNodes(n *Node) int {
	count := 0
	Walk(n, func(*Node) bool {
		count++
		return true
	})
	return count
}
