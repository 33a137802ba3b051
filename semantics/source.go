// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package semantics

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/cpg/cpg"
	"github.com/AleutianAI/cpg/dfg"
	"github.com/AleutianAI/cpg/repo"
	"github.com/AleutianAI/cpg/syntax"
)

// ErrUnknownNode is returned when the requested syntax node has no
// data-flow anchor in the bundle.
var ErrUnknownNode = errors.New("node has no data-flow anchor")

// SourceClass classifies where a value ultimately comes from.
type SourceClass string

const (
	// SourceLiteral means every origin is a constant in the code.
	SourceLiteral SourceClass = "literal"

	// SourceParameter means every origin is a formal parameter.
	SourceParameter SourceClass = "parameter"

	// SourceExternalCall means every origin is a call result.
	SourceExternalCall SourceClass = "external_call"

	// SourceComputation means origins of more than one class combine.
	SourceComputation SourceClass = "computation"

	// SourceUnknown means at least one origin could not be determined
	// and no determinate origin exists alongside it.
	SourceUnknown SourceClass = "unknown"
)

// ClassifyDataSource classifies the origin of the value at a syntax
// node.
//
// Description:
//
//	Walks the DFG backward from the node's data-flow anchors to
//	fixpoint, collecting leaf origins: definitions with no incoming
//	data-flow. Each leaf classifies as literal, parameter, external
//	call, or unknown; a single class is reported as-is, determinate
//	classes mixed together report as computation, and unknown leaves
//	are subsumed by any determinate leaf.
//
// Inputs:
//
//	ctx - Context for tracing.
//	b - The routine's bundle. Must not be nil.
//	id - The syntax node whose value to classify.
//
// Outputs:
//
//	SourceClass - The classification.
//	error - ErrUnknownNode when the node carries no data flow.
//
// Thread Safety: Safe for concurrent use (read-only on the bundle).
func ClassifyDataSource(ctx context.Context, b *repo.Bundle, id syntax.NodeID) (SourceClass, error) {
	_, span := tracer.Start(ctx, "semantics.ClassifyDataSource")
	defer span.End()
	span.SetAttributes(attribute.String("node", string(id)))

	start := b.DFG.AtSyntax(id)
	if len(start) == 0 {
		return SourceUnknown, ErrUnknownNode
	}

	classes := make(map[SourceClass]bool)
	visited := make(map[string]bool)
	stack := append([]string(nil), start...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true

		node, ok := b.DFG.Node(cur)
		if !ok {
			continue
		}
		preds := b.DFG.Predecessors(cur)
		if len(preds) == 0 && node.IsDef() {
			classes[classifyLeaf(b, node)] = true
			continue
		}
		stack = append(stack, preds...)
	}
	span.SetAttributes(attribute.Int("origin_classes", len(classes)))
	return combine(classes), nil
}

// classifyLeaf classifies one origin definition.
func classifyLeaf(b *repo.Bundle, node *dfg.Node) SourceClass {
	switch node.Kind {
	case dfg.KindParam:
		return SourceParameter
	case dfg.KindUnknown:
		return SourceUnknown
	}

	cpgNode, ok := b.CPG.NodeByID(node.SyntaxID)
	if !ok {
		return SourceUnknown
	}
	switch cpgNode.Kind {
	case syntax.KindLiteral:
		return SourceLiteral
	case syntax.KindCall:
		return SourceExternalCall
	case syntax.KindAssign:
		return classifyAssign(b, cpgNode)
	}
	return SourceUnknown
}

// classifyAssign inspects an assignment's right-hand side through the
// containment edges: a call anywhere makes it an external call, a lone
// literal a literal, anything else a computation.
func classifyAssign(b *repo.Bundle, assign *cpg.Node) SourceClass {
	hasCall := false
	hasLiteral := false
	hasOther := false

	var walk func(idx int)
	walk = func(idx int) {
		n, ok := b.CPG.NodeAt(idx)
		if !ok {
			return
		}
		switch n.Kind {
		case syntax.KindCall:
			hasCall = true
		case syntax.KindLiteral:
			hasLiteral = true
		case syntax.KindBinaryOp:
			hasOther = true
		}
		for _, e := range b.CPG.OutEdges(idx) {
			if e.Kind == cpg.EdgeContainment {
				walk(e.To)
			}
		}
	}
	for _, e := range b.CPG.OutEdges(assign.Index) {
		if e.Kind == cpg.EdgeContainment {
			walk(e.To)
		}
	}

	switch {
	case hasCall:
		return SourceExternalCall
	case hasOther:
		return SourceComputation
	case hasLiteral:
		return SourceLiteral
	}
	return SourceUnknown
}

// combine folds the observed origin classes into one.
func combine(classes map[SourceClass]bool) SourceClass {
	// Unknown leaves are subsumed when determinate leaves exist.
	determinate := make([]SourceClass, 0, len(classes))
	for c := range classes {
		if c != SourceUnknown {
			determinate = append(determinate, c)
		}
	}
	switch len(determinate) {
	case 0:
		return SourceUnknown
	case 1:
		return determinate[0]
	}
	return SourceComputation
}
