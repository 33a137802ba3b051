// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syntax

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// FromTreeSitter converts a parsed tree-sitter tree into the core's
// syntax model.
//
// Description:
//
//	Lowers the concrete tree-sitter grammar into the language-neutral
//	Kind catalogue. Grammar node types with no mapping become
//	KindUnknown nodes; their named children are still converted so the
//	subtree remains addressable by identity resolution. Parsing itself
//	is the caller's responsibility; this adapter is the boundary between
//	the external parser and the analysis core.
//
// Inputs:
//
//	module - Module name used as the id prefix. Must not be empty.
//	file - Source file path recorded in node locations.
//	root - The tree-sitter root node (a source_file). Must not be nil.
//	src - The source bytes the tree was parsed from.
//
// Outputs:
//
//	*Tree - The converted tree. Nil only if root is nil.
//
// Limitations:
//
//   - The mapping table covers the Go grammar. Other grammars convert
//     but most statements arrive as KindUnknown.
//
// Thread Safety: Safe for concurrent use; the input tree is read-only.
func FromTreeSitter(module, file string, root *sitter.Node, src []byte) *Tree {
	if root == nil {
		return nil
	}
	c := &tsConverter{file: file, src: src}
	moduleNode := &Node{
		Kind:     KindModule,
		Label:    module,
		Location: c.location(root),
	}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		if child := c.convert(root.NamedChild(i)); child != nil {
			moduleNode.Children = append(moduleNode.Children, child)
		}
	}
	return &Tree{Module: module, Root: moduleNode}
}

// tsConverter holds per-conversion state.
type tsConverter struct {
	file string
	src  []byte
}

func (c *tsConverter) location(n *sitter.Node) Location {
	return Location{
		File:      c.file,
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
		StartCol:  int(n.StartPoint().Column),
		EndCol:    int(n.EndPoint().Column),
	}
}

// convert lowers one tree-sitter node. Returns nil for nodes that carry
// no structural information (comments, package clauses).
func (c *tsConverter) convert(n *sitter.Node) *Node {
	if n == nil {
		return nil
	}

	switch n.Type() {
	case "comment", "package_clause", "import_declaration":
		return nil

	case "function_declaration", "method_declaration":
		return c.convertRoutine(n)

	case "func_literal":
		// Anonymous functions become nested routines so closures stay
		// inside the enclosing routine's subtree.
		routine := c.node(n, KindRoutine, "")
		c.appendParams(routine, n.ChildByFieldName("parameters"))
		c.appendChild(routine, n.ChildByFieldName("body"))
		return routine

	case "block":
		return c.convertChildren(n, KindBlock, "")

	case "if_statement":
		out := c.node(n, KindIf, "")
		c.appendChild(out, n.ChildByFieldName("condition"))
		c.appendChild(out, n.ChildByFieldName("consequence"))
		c.appendChild(out, n.ChildByFieldName("alternative"))
		return out

	case "for_statement":
		out := c.node(n, KindLoop, "")
		c.appendChild(out, n.ChildByFieldName("condition"))
		c.appendChild(out, n.ChildByFieldName("body"))
		return out

	case "expression_switch_statement", "type_switch_statement", "select_statement":
		return c.convertChildren(n, KindMatch, "")

	case "expression_case", "type_case", "default_case", "communication_case":
		return c.convertChildren(n, KindMatchArm, "")

	case "call_expression":
		label := ""
		if fn := n.ChildByFieldName("function"); fn != nil {
			label = fn.Content(c.src)
		}
		out := c.node(n, KindCall, label)
		if args := n.ChildByFieldName("arguments"); args != nil {
			for i := 0; i < int(args.NamedChildCount()); i++ {
				c.appendChild(out, args.NamedChild(i))
			}
		}
		return out

	case "short_var_declaration", "assignment_statement":
		label := ""
		if left := n.ChildByFieldName("left"); left != nil && left.NamedChildCount() > 0 {
			label = left.NamedChild(0).Content(c.src)
		}
		out := c.node(n, KindAssign, label)
		if right := n.ChildByFieldName("right"); right != nil {
			for i := 0; i < int(right.NamedChildCount()); i++ {
				c.appendChild(out, right.NamedChild(i))
			}
		}
		return out

	case "identifier":
		return c.node(n, KindIdent, n.Content(c.src))

	case "int_literal", "float_literal", "interpreted_string_literal",
		"raw_string_literal", "rune_literal", "true", "false", "nil":
		return c.node(n, KindLiteral, n.Content(c.src))

	case "binary_expression":
		label := ""
		if op := n.ChildByFieldName("operator"); op != nil {
			label = op.Content(c.src)
		}
		out := c.node(n, KindBinaryOp, label)
		c.appendChild(out, n.ChildByFieldName("left"))
		c.appendChild(out, n.ChildByFieldName("right"))
		return out

	case "return_statement":
		return c.convertChildren(n, KindReturn, "")

	case "break_statement":
		return c.node(n, KindBreak, "")

	case "continue_statement":
		return c.node(n, KindContinue, "")

	default:
		// Unsupported construct. Keep the subtree addressable; the CFG
		// builder lowers it to an opaque block and flags PartialCoverage.
		return c.convertChildren(n, KindUnknown, n.Type())
	}
}

func (c *tsConverter) convertRoutine(n *sitter.Node) *Node {
	name := ""
	if nameNode := n.ChildByFieldName("name"); nameNode != nil {
		name = nameNode.Content(c.src)
	}
	routine := c.node(n, KindRoutine, name)
	c.appendParams(routine, n.ChildByFieldName("parameters"))
	c.appendChild(routine, n.ChildByFieldName("body"))
	return routine
}

// appendParams converts a parameter_list into KindParam children.
func (c *tsConverter) appendParams(routine *Node, params *sitter.Node) {
	if params == nil {
		return
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		decl := params.NamedChild(i)
		if decl.Type() != "parameter_declaration" && decl.Type() != "variadic_parameter_declaration" {
			continue
		}
		// One parameter_declaration may declare several names (a, b int).
		named := false
		for j := 0; j < int(decl.NamedChildCount()); j++ {
			part := decl.NamedChild(j)
			if part.Type() == "identifier" {
				named = true
				routine.Children = append(routine.Children,
					c.node(part, KindParam, part.Content(c.src)))
			}
		}
		if !named {
			routine.Children = append(routine.Children, c.node(decl, KindParam, ""))
		}
	}
}

func (c *tsConverter) node(n *sitter.Node, kind Kind, label string) *Node {
	return &Node{Kind: kind, Label: label, Location: c.location(n)}
}

func (c *tsConverter) convertChildren(n *sitter.Node, kind Kind, label string) *Node {
	out := c.node(n, kind, label)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c.appendChild(out, n.NamedChild(i))
	}
	return out
}

func (c *tsConverter) appendChild(parent *Node, n *sitter.Node) {
	if n == nil {
		return
	}
	if child := c.convert(n); child != nil {
		parent.Children = append(parent.Children, child)
	}
}
