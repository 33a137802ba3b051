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
	"context"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseGo(t *testing.T, src []byte) *sitter.Node {
	t.Helper()
	p := sitter.NewParser()
	p.SetLanguage(golang.GetLanguage())
	tree, err := p.ParseCtx(context.Background(), nil, src)
	require.NoError(t, err)
	return tree.RootNode()
}

func TestFromTreeSitterConvertsRoutine(t *testing.T) {
	src := []byte(`package demo

func handle(req string) string {
	data := read(req)
	for done() {
		data = step(data)
	}
	return data
}
`)
	tree := FromTreeSitter("demo", "handle.go", parseGo(t, src), src)
	require.NotNil(t, tree)
	assert.Equal(t, "demo", tree.Module)

	routines := tree.Routines()
	require.Len(t, routines, 1)
	assert.Equal(t, RoutineKey{Module: "demo", Name: "handle", Arity: 1}, routines[0].Key)
	fn := routines[0].Node
	assert.Equal(t, "handle.go", fn.Location.File)
	assert.Equal(t, 3, fn.Location.StartLine)

	// Parameter, then body. The type annotation is not a parameter.
	require.Greater(t, len(fn.Children), 1)
	assert.Equal(t, KindParam, fn.Children[0].Kind)
	assert.Equal(t, "req", fn.Children[0].Label)

	var kinds []Kind
	var callLabels []string
	Walk(fn, func(n *Node) bool {
		kinds = append(kinds, n.Kind)
		if n.Kind == KindCall {
			callLabels = append(callLabels, n.Label)
		}
		return true
	})
	assert.Contains(t, kinds, KindAssign)
	assert.Contains(t, kinds, KindLoop)
	assert.Contains(t, kinds, KindReturn)
	assert.ElementsMatch(t, []string{"read", "done", "step"}, callLabels)
}

func TestFromTreeSitterUnknownConstructStaysAddressable(t *testing.T) {
	src := []byte(`package demo

func spawn() {
	go work()
}
`)
	tree := FromTreeSitter("demo", "spawn.go", parseGo(t, src), src)
	routines := tree.Routines()
	require.Len(t, routines, 1)

	var unknown *Node
	Walk(routines[0].Node, func(n *Node) bool {
		if n.Kind == KindUnknown {
			unknown = n
		}
		return true
	})
	require.NotNil(t, unknown, "an unmapped statement converts to an unknown node")
	assert.Equal(t, "go_statement", unknown.Label)
	require.Len(t, unknown.Children, 1, "its children stay addressable")
	assert.Equal(t, KindCall, unknown.Children[0].Kind)
	assert.Equal(t, "work", unknown.Children[0].Label)
}

func TestFromTreeSitterNilRoot(t *testing.T) {
	assert.Nil(t, FromTreeSitter("demo", "x.go", nil, nil))
}
