// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package match

import (
	"testing"

	"github.com/gomlx/graphfusion/pkg/core/graph"
	"github.com/gomlx/graphfusion/pkg/core/graph/graphtest"
	"github.com/gomlx/graphfusion/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(nodes []*graph.Node) []string {
	if nodes == nil {
		return nil
	}
	result := make([]string, len(nodes))
	for ii, node := range nodes {
		result[ii] = node.Name
	}
	return result
}

func TestMatchParentPath(t *testing.T) {
	model, output := graphtest.GroupNormModel(graphtest.DefaultGroupNormConfig())
	idx := graph.NewIndex(model)
	add := idx.Producer(output)

	nodes := MatchParentPath(idx, add,
		Path([]string{"Mul", "Reshape", "InstanceNormalization", "Reshape"}, []int{0, 0, 0, 0})...)
	assert.Equal(t, []string{"weight_mul", "reshape_4d", "instance_norm", "reshape_3d"}, names(nodes))

	testCases := []struct {
		name  string
		steps []Step
	}{
		{"wrong op type", []Step{Fixed("Mul", 0), Fixed("Transpose", 0)}},
		{"slot out of range", []Step{Fixed("Mul", 0), Fixed("Reshape", 2)}},
		{"slot holds an initializer", []Step{Fixed("Mul", 1)}},
		{"slot holds a graph input", []Step{Fixed("Mul", 0), Fixed("Reshape", 0), Fixed("InstanceNormalization", 0),
			Fixed("Reshape", 0), Fixed("Relu", 0)}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Nil(t, MatchParentPath(idx, add, tc.steps...))
		})
	}

	// Negative slots count from the end.
	nodes = MatchParentPath(idx, add, Fixed("Mul", -2), Fixed("Reshape", 0), Fixed("InstanceNormalization", 0), Fixed("Reshape", 0))
	assert.Len(t, nodes, 4)

	// Empty path matches trivially.
	assert.Empty(t, MatchParentPath(idx, add))
}

func TestMatchParentPathAnySlot(t *testing.T) {
	cfg := graphtest.DefaultGroupNormConfig()
	cfg.Commuted = true
	model, output := graphtest.GroupNormModel(cfg)
	idx := graph.NewIndex(model)
	add := idx.Producer(output)

	assert.Nil(t, MatchParentPath(idx, add, Fixed("Mul", 0)))
	nodes, slots := MatchParentPathWithSlots(idx, add, AnySlot("Mul"), AnySlot("Reshape"), Fixed("InstanceNormalization", 0))
	require.Len(t, nodes, 3)
	assert.Equal(t, []int{1, 1, 0}, slots)

	// The reshape_4d has two parents: InstanceNormalization (slot 0) and Shape (slot 1).
	reshape4D := nodes[1]
	nodes, slots = MatchParentPathWithSlots(idx, reshape4D, AnySlot("Shape"))
	assert.Equal(t, []string{"shape"}, names(nodes))
	assert.Equal(t, []int{1}, slots)
}

func TestMatchParentPaths(t *testing.T) {
	cfg := graphtest.DefaultGroupNormConfig()
	cfg.Commuted = true
	model, output := graphtest.GroupNormModel(cfg)
	idx := graph.NewIndex(model)
	add := idx.Producer(output)

	which, nodes := MatchParentPaths(idx, add,
		[]Step{Fixed("Mul", 0), Fixed("Reshape", 0)},
		[]Step{Fixed("Mul", 1), Fixed("Reshape", 1)},
	)
	assert.Equal(t, 1, which)
	assert.Equal(t, []string{"weight_mul", "reshape_4d"}, names(nodes))

	which, nodes = MatchParentPaths(idx, add, []Step{Fixed("Sub", 0)})
	assert.Equal(t, -1, which)
	assert.Nil(t, nodes)
}

func TestMatchFirstParentExclude(t *testing.T) {
	model := graph.NewModel("main")
	g := model.Main()
	g.AddInput("x", shapes.Invalid())
	first := graph.NewNode("Relu", "first", []string{"x"}, []string{"a"})
	second := graph.NewNode("Relu", "second", []string{"x"}, []string{"b"})
	add := graph.NewNode("Add", "add", []string{"a", "b"}, []string{"y"})
	g.AddNode(first, second, add)
	idx := graph.NewIndex(model)

	parent, slot := MatchFirstParent(idx, add, "Relu", nil)
	assert.Equal(t, first, parent)
	assert.Equal(t, 0, slot)
	parent, slot = MatchFirstParent(idx, add, "Relu", []*graph.Node{first})
	assert.Equal(t, second, parent)
	assert.Equal(t, 1, slot)
	parent, slot = MatchFirstParent(idx, add, "Neg", nil)
	assert.Nil(t, parent)
	assert.Equal(t, -1, slot)
	assert.Equal(t, first, MatchParent(idx, add, "Relu", AnySlotIndex))
}

func TestMalformedAnchor(t *testing.T) {
	model, _ := graphtest.GroupNormModel(graphtest.DefaultGroupNormConfig())
	idx := graph.NewIndex(model)
	assert.Panics(t, func() { MatchParentPath(idx, nil, Fixed("Mul", 0)) })
	stranger := graph.NewNode("Add", "stranger", []string{"a", "b"}, []string{"c"})
	assert.Panics(t, func() { MatchParentPath(idx, stranger, Fixed("Mul", 0)) })
	assert.Panics(t, func() { Path([]string{"Mul"}, []int{0, 1}) })
}

func TestChildren(t *testing.T) {
	cfg := graphtest.DefaultGroupNormConfig()
	cfg.Swish = true
	model, _ := graphtest.GroupNormModel(cfg)
	idx := graph.NewIndex(model)
	add := graphtest.NodeByName(model, "bias_add")

	assert.Equal(t, []string{"sigmoid", "swish_mul"}, names(Children(idx, add)))
	assert.Equal(t, "swish_mul", FindFirstChildByType(idx, add, "Mul", false).Name)
	assert.Nil(t, FindFirstChildByType(idx, add, "Relu", true))

	reshape3D := graphtest.NodeByName(model, "reshape_3d")
	assert.Nil(t, FindFirstChildByType(idx, reshape3D, "Sigmoid", false))
	assert.Equal(t, "sigmoid", FindFirstChildByType(idx, reshape3D, "Sigmoid", true).Name)
}

func TestInputHelpers(t *testing.T) {
	mul := graph.NewNode("Mul", "mul", []string{"data", "weight"}, []string{"out"})
	assert.Equal(t, 1, InputIndex(mul, "weight"))
	assert.Equal(t, -1, InputIndex(mul, "bias"))

	other, ok := OtherInput(mul, "data")
	require.True(t, ok)
	assert.Equal(t, "weight", other)
	other, ok = OtherInput(mul, "weight")
	require.True(t, ok)
	assert.Equal(t, "data", other)
	_, ok = OtherInput(mul, "bias")
	assert.False(t, ok)
	_, ok = OtherInput(graph.NewNode("Sum", "sum", []string{"a", "b", "c"}, []string{"d"}), "a")
	assert.False(t, ok)

	assert.Equal(t, "Mul/*", AnySlot("Mul").String())
	assert.Equal(t, "Reshape/1", Fixed("Reshape", 1).String())
}
