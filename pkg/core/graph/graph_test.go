// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	. "github.com/gomlx/graphfusion/pkg/core/graph"
	"github.com/gomlx/graphfusion/pkg/core/graph/graphtest"
	"github.com/gomlx/graphfusion/pkg/core/shapes"
	"github.com/gomlx/graphfusion/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph(t *testing.T) {
	model := NewModel("main")
	g := model.Main()
	g.AddInput("x", shapes.Make(dtypes.Float32, 2))
	g.AddOutput("y", shapes.Invalid())
	assert.True(t, g.IsInput("x"))
	assert.False(t, g.IsInput("y"))
	assert.True(t, g.IsOutput("y"))

	relu := NewNode("Relu", "relu", []string{"x"}, []string{"r"})
	neg := NewNode("Neg", "neg", []string{"r"}, []string{"y"})
	g.AddNode(relu, neg)
	abs := NewNode("Abs", "abs", []string{"r"}, []string{"a"})
	g.InsertNodes(1, abs)
	assert.Equal(t, []string{"Relu", "Abs", "Neg"}, graphtest.OpTypes(g))
	assert.Equal(t, 1, g.NodePosition(abs))
	assert.True(t, g.RemoveNode(abs))
	assert.False(t, g.RemoveNode(abs))
	assert.Equal(t, 2, model.NumNodes())
	assert.Panics(t, func() { g.InsertNodes(5, abs) })

	g.AddInitializer("w", tensors.FromScalarAndDimensions(float32(1), 2))
	g.AddInitializer("b", tensors.FromScalarAndDimensions(float32(0), 2))
	assert.Equal(t, []string{"w", "b"}, g.InitializerNames())
	assert.True(t, g.RemoveInitializer("w"))
	assert.Nil(t, g.Initializer("w"))
	assert.Equal(t, []string{"b"}, g.InitializerNames())
}

func TestModelSubgraphs(t *testing.T) {
	model := NewModel("main")
	body := model.AddSubgraph("body", model.Main())
	assert.Equal(t, model.Main(), body.Parent())
	assert.Equal(t, body, model.Graph("body"))
	assert.Len(t, model.Graphs(), 2)
	assert.Panics(t, func() { model.AddSubgraph("body", model.Main()) })
	other := NewModel("other")
	assert.Panics(t, func() { model.AddSubgraph("x", other.Main()) })
}

func TestNode(t *testing.T) {
	node := NewNode("InstanceNormalization", "norm", []string{"x", "scale", "bias"}, []string{"y"},
		FloatAttr("epsilon", 1e-3))
	name, ok := node.Input(-1)
	require.True(t, ok)
	assert.Equal(t, "bias", name)
	_, ok = node.Input(3)
	assert.False(t, ok)
	_, ok = node.Input(-4)
	assert.False(t, ok)

	assert.Equal(t, float32(1e-3), node.FloatAttrOr("epsilon", 0))
	assert.Equal(t, int64(7), node.IntAttrOr("epsilon", 7), "type mismatch returns the default")
	node.AddAttributes(IntAttr("groups", 32))
	assert.Equal(t, int64(32), node.IntAttrOr("groups", 0))
	assert.Nil(t, node.Attribute("activation"))

	node.Domain = "com.microsoft"
	assert.Equal(t, "com.microsoft.InstanceNormalization[norm](x, scale, bias) -> (y)", node.String())
}

func TestAttribute(t *testing.T) {
	attr := IntsAttr("axes", 1, 2)
	clone := attr.Clone()
	clone.Ints[0] = 5
	assert.Equal(t, []int64{1, 2}, attr.Ints)
	assert.Equal(t, "axes=[1 2]", attr.String())
	assert.Equal(t, "INTS", attr.Type.String())
	assert.Equal(t, AttributeFloats, AttributeTypeFromString("FLOATS"))
	assert.Equal(t, AttributeUndefined, AttributeTypeFromString("GRAPH"))
	assert.Equal(t, "AttributeType(42)", AttributeType(42).String())
}
