// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"testing"

	. "github.com/gomlx/graphfusion/pkg/core/graph"
	"github.com/gomlx/graphfusion/pkg/core/graph/graphtest"
	"github.com/gomlx/graphfusion/pkg/core/shapes"
	"github.com/gomlx/graphfusion/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex(t *testing.T) {
	model, output := graphtest.GroupNormModel(graphtest.DefaultGroupNormConfig())
	idx := NewIndex(model)

	add := idx.Producer(output)
	require.NotNil(t, add)
	assert.Equal(t, "bias_add", add.Name)
	assert.Nil(t, idx.Producer(graphtest.Root), "graph inputs have no producer")
	assert.Nil(t, idx.Producer(graphtest.Weight), "initializers have no producer")
	assert.Nil(t, idx.Producer(""))

	rootConsumers := idx.Consumers(graphtest.Root)
	require.Len(t, rootConsumers, 2)
	assert.Equal(t, "reshape_3d", rootConsumers[0].Name)
	assert.Equal(t, "shape", rootConsumers[1].Name)
	assert.Equal(t, 0, idx.NumConsumers(output))

	assert.Equal(t, model.Main(), idx.GraphOf(add))
	assert.True(t, idx.IsGraphOutput(output))
	assert.False(t, idx.IsGraphOutput(graphtest.MulOut))

	weight, owner := idx.Initializer(graphtest.Weight)
	require.NotNil(t, weight)
	assert.Equal(t, model.Main(), owner)
	weight, owner = idx.Initializer(graphtest.Root)
	assert.Nil(t, weight)
	assert.Nil(t, owner)

	assert.Len(t, idx.NodesByOpType("Reshape"), 2)
}

func TestIndexIncremental(t *testing.T) {
	model, _ := graphtest.GroupNormModel(graphtest.DefaultGroupNormConfig())
	idx := NewIndex(model)
	g := model.Main()

	mul := graphtest.NodeByName(model, "weight_mul")
	idx.Remove(mul)
	require.True(t, g.RemoveNode(mul))
	assert.False(t, idx.Contains(mul))
	assert.Nil(t, idx.Producer(graphtest.MulOut))
	assert.Equal(t, 0, idx.NumConsumers(graphtest.Reshape4DOut))
	assert.Panics(t, func() { idx.Remove(mul) })

	newMul := NewNode("Mul", "weight_mul_2", []string{graphtest.Reshape4DOut, graphtest.Weight}, []string{graphtest.MulOut})
	g.AddNode(newMul)
	idx.Add(newMul, g)
	assert.Equal(t, newMul, idx.Producer(graphtest.MulOut))

	// The incrementally updated index matches a rebuilt one.
	rebuilt := NewIndex(model)
	for _, name := range []string{graphtest.MulOut, graphtest.Reshape4DOut, graphtest.Weight, graphtest.AddOut} {
		assert.Equal(t, rebuilt.Producer(name), idx.Producer(name), name)
		assert.ElementsMatch(t, rebuilt.Consumers(name), idx.Consumers(name), name)
	}
}

func TestIndexMalformed(t *testing.T) {
	model := NewModel("main")
	g := model.Main()
	g.AddInput("x", shapes.Invalid())
	g.AddNode(
		NewNode("Relu", "a", []string{"x"}, []string{"y"}),
		NewNode("Neg", "b", []string{"x"}, []string{"y"}),
	)
	assert.Panics(t, func() { NewIndex(model) }, "two producers for the same tensor")

	model = NewModel("main")
	model.Main().AddInitializer("y", tensors.FromScalarAndDimensions(float32(1), 1))
	model.Main().AddNode(NewNode("Relu", "a", []string{"x"}, []string{"y"}))
	assert.Panics(t, func() { NewIndex(model) }, "initializer and node output with the same name")

	model = NewModel("main")
	relu := NewNode("Relu", "a", []string{"x"}, []string{"y"})
	model.Main().AddNode(relu)
	idx := NewIndex(model)
	assert.Panics(t, func() { idx.Add(relu, model.Main()) }, "node indexed twice")
	assert.Panics(t, func() { NewIndex(nil) })
}

func TestUniqueName(t *testing.T) {
	model := NewModel("main")
	model.Main().AddNode(NewNode("GroupNorm", "GroupNorm_0", []string{"x"}, []string{"GroupNorm_1"}))
	idx := NewIndex(model)
	assert.True(t, idx.IsNameUsed("GroupNorm_0"))
	assert.True(t, idx.IsNameUsed("GroupNorm_1"), "tensor names are also reserved")

	name := idx.UniqueName("GroupNorm")
	assert.Equal(t, "GroupNorm_2", name)
	assert.Equal(t, "GroupNorm_3", idx.UniqueName("GroupNorm"))
	assert.True(t, idx.ReserveName("GroupNorm_2_gamma"))
	assert.False(t, idx.ReserveName("GroupNorm_2_gamma"))
	assert.False(t, idx.ReserveName("x"))
}

func TestIndexInitializers(t *testing.T) {
	model := NewModel("main")
	idx := NewIndex(model)
	idx.AddInitializer(model.Main(), "gamma", tensors.FromScalarAndDimensions(float32(1), 4))
	tensor, owner := idx.Initializer("gamma")
	require.NotNil(t, tensor)
	assert.Equal(t, model.Main(), owner)
	assert.True(t, idx.IsNameUsed("gamma"))

	body := model.AddSubgraph("body", model.Main())
	assert.Panics(t, func() { idx.AddInitializer(body, "gamma", tensor) })

	assert.True(t, idx.RemoveInitializer("gamma"))
	assert.False(t, idx.RemoveInitializer("gamma"))
	assert.Nil(t, model.Main().Initializer("gamma"))
}
