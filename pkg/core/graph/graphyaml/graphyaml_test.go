// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphyaml

import (
	"path/filepath"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/graphfusion/pkg/core/graph"
	"github.com/gomlx/graphfusion/pkg/core/graph/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const subgraphModel = `
graphs:
  - name: main
    inputs:
      - {name: x, dtype: Float32, dims: [2, 3]}
      - {name: cond}
    outputs:
      - {name: y}
    initializers:
      - {name: k, dtype: Int64, dims: [2], values: [3, -1]}
    nodes:
      - name: if
        op_type: If
        inputs: [cond]
        outputs: [y]
        attributes:
          - {name: then_branch, type: STRING, s: body}
  - name: body
    parent: main
    outputs:
      - {name: z}
    nodes:
      - name: reshape
        op_type: Reshape
        domain: ai.onnx
        inputs: [x, k]
        outputs: [z]
        attributes:
          - {name: allowzero, type: INT, i: 1}
          - {name: perm, type: INTS, ints: [1, 0]}
          - {name: value, type: TENSOR, t: {dtype: Float32, dims: [], values: [0.5]}}
`

func TestParse(t *testing.T) {
	model, err := Parse([]byte(subgraphModel))
	require.NoError(t, err)
	require.Len(t, model.Graphs(), 2)

	mainGraph := model.Main()
	assert.Equal(t, "main", mainGraph.Name())
	require.Len(t, mainGraph.Inputs(), 2)
	assert.Equal(t, dtypes.Float32, mainGraph.Inputs()[0].Shape.DType)
	assert.Equal(t, []int{2, 3}, mainGraph.Inputs()[0].Shape.Dimensions)
	assert.False(t, mainGraph.Inputs()[1].Shape.Ok())
	k := mainGraph.Initializer("k")
	require.NotNil(t, k)
	assert.Equal(t, []int64{3, -1}, k.Flat())

	body := model.Graph("body")
	require.NotNil(t, body)
	assert.Equal(t, mainGraph, body.Parent())
	require.Equal(t, 1, body.NumNodes())
	reshape := body.Nodes()[0]
	assert.Equal(t, "ai.onnx", reshape.Domain)
	assert.Equal(t, int64(1), reshape.IntAttrOr("allowzero", 0))
	assert.Equal(t, []int64{1, 0}, reshape.Attribute("perm").Ints)
	value := reshape.Attribute("value")
	require.NotNil(t, value)
	require.Equal(t, graph.AttributeTensor, value.Type)
	assert.Equal(t, 0, value.Tensor.Rank())
	assert.Equal(t, []float32{0.5}, value.Tensor.Flat())

	// The parsed model is well-formed.
	idx := graph.NewIndex(model)
	assert.Equal(t, reshape, idx.Producer("z"))
	assert.Len(t, idx.Consumers("x"), 1)
}

func TestParseErrors(t *testing.T) {
	testCases := map[string]string{
		"no graphs":        `graphs: []`,
		"syntax":           `graphs: [`,
		"unknown dtype":    "graphs:\n  - name: main\n    inputs: [{name: x, dtype: Complex512}]\n",
		"values mismatch":  "graphs:\n  - name: main\n    initializers: [{name: c, dtype: Float32, dims: [3], values: [1]}]\n",
		"unknown parent":   "graphs:\n  - name: main\n  - name: sub\n    parent: nowhere\n",
		"attribute type":   "graphs:\n  - name: main\n    nodes: [{name: n, op_type: Relu, inputs: [], outputs: [y], attributes: [{name: a, type: COMPLEX}]}]\n",
		"missing op_type":  "graphs:\n  - name: main\n    nodes: [{name: n, inputs: [], outputs: [y]}]\n",
		"nameless init":    "graphs:\n  - name: main\n    initializers: [{dtype: Float32, dims: [1], values: [1]}]\n",
		"main with parent": "graphs:\n  - name: main\n    parent: other\n",
	}
	for name, content := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(content))
			require.Error(t, err)
		})
	}
}

func TestSaveLoad(t *testing.T) {
	cfg := graphtest.DefaultGroupNormConfig()
	cfg.Swish = true
	cfg.NormScaleFromConstantNode = true
	model, _ := graphtest.GroupNormModel(cfg)

	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, Save(model, path))
	loaded, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, graphtest.OpTypes(model.Main()), graphtest.OpTypes(loaded.Main()))
	for ii, node := range model.Main().Nodes() {
		got := loaded.Main().Nodes()[ii]
		assert.Equal(t, node.Name, got.Name)
		assert.Equal(t, node.Inputs, got.Inputs)
		assert.Equal(t, node.Outputs, got.Outputs)
		require.Len(t, got.Attributes, len(node.Attributes))
		for jj, attr := range node.Attributes {
			assert.Equal(t, attr.Name, got.Attributes[jj].Name)
			assert.Equal(t, attr.Type, got.Attributes[jj].Type)
		}
	}
	assert.Equal(t, model.Main().InitializerNames(), loaded.Main().InitializerNames())
	for _, name := range model.Main().InitializerNames() {
		assert.True(t, model.Main().Initializer(name).Equal(loaded.Main().Initializer(name)), "initializer %q", name)
	}
	constant := graphtest.NodeByName(loaded, "norm_scale_constant")
	require.NotNil(t, constant)
	assert.True(t, graphtest.NodeByName(model, "norm_scale_constant").Attribute("value").Tensor.Equal(constant.Attribute("value").Tensor))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
