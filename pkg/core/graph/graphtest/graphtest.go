// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphtest holds test utilities for packages that work on graph.Model: builders of the
// subgraphs the fusions look for, and assertions over the resulting models.
package graphtest

import (
	"slices"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/graphfusion/pkg/core/graph"
	"github.com/gomlx/graphfusion/pkg/core/shapes"
	"github.com/gomlx/graphfusion/pkg/core/tensors"
	"github.com/stretchr/testify/require"
)

// Tensor names used by GroupNormModel.
const (
	Root         = "root"
	Reshape3DDim = "reshape3d_shape"
	Reshape3DOut = "reshape3d_out"
	NormScale    = "norm_scale"
	NormBias     = "norm_bias"
	NormOut      = "norm_out"
	ShapeOut     = "shape_out"
	Reshape4DOut = "reshape4d_out"
	Weight       = "weight"
	MulOut       = "mul_out"
	Bias         = "bias"
	AddOut       = "add_out"
	SigmoidOut   = "sigmoid_out"
	SwishOut     = "swish_out"
	ExtraOut     = "extra_out"
)

// GroupNormConfig configures GroupNormModel. The zero value is not valid, use DefaultGroupNormConfig.
type GroupNormConfig struct {
	// Channels is the number of elements of the outer weight and bias.
	Channels int

	// Groups is the length of the InstanceNormalization scale and bias.
	Groups int

	// WeightDims and BiasDims are the dimensions of the outer weight and bias. Default to [Channels, 1, 1].
	WeightDims, BiasDims []int

	// NormScaleValues and NormBiasValues override the ones/zeros of the InstanceNormalization operands.
	NormScaleValues, NormBiasValues []float32

	// Swish appends Sigmoid and Mul (x * sigmoid(x)) after the Add.
	Swish bool

	// WeightAsInput declares the outer weight as a graph input instead of an initializer.
	WeightAsInput bool

	// NormScaleFromConstantNode produces the InstanceNormalization scale with a Constant node.
	NormScaleFromConstantNode bool

	// ExtraConsumer adds a Relu consuming the output of the second Reshape, outside the pattern.
	ExtraConsumer bool

	// Commuted swaps the inputs of the Mul and of the Add, so the data edge arrives at slot 1.
	Commuted bool
}

// DefaultGroupNormConfig returns a configuration with 8 channels and 4 groups.
func DefaultGroupNormConfig() GroupNormConfig {
	return GroupNormConfig{Channels: 8, Groups: 4}
}

// GroupNormModel builds a model with the decomposed group normalization:
//
//	root -> Reshape -> InstanceNormalization -> Reshape(Shape(root)) -> Mul(weight) -> Add(bias) [-> x*Sigmoid(x)]
//
// It returns the model and the name of the final output tensor.
func GroupNormModel(cfg GroupNormConfig) (*graph.Model, string) {
	model := graph.NewModel("main")
	g := model.Main()
	g.AddInput(Root, shapes.Make(dtypes.Float32, 1, cfg.Channels, 4, 4))

	weightDims := cfg.WeightDims
	if weightDims == nil {
		weightDims = []int{cfg.Channels, 1, 1}
	}
	biasDims := cfg.BiasDims
	if biasDims == nil {
		biasDims = []int{cfg.Channels, 1, 1}
	}
	normScale := cfg.NormScaleValues
	if normScale == nil {
		normScale = filled(cfg.Groups, 1)
	}
	normBias := cfg.NormBiasValues
	if normBias == nil {
		normBias = filled(cfg.Groups, 0)
	}

	g.AddInitializer(Reshape3DDim, tensors.FromFlatDataAndDimensions([]int64{0, int64(cfg.Groups), -1}, 3))
	if !cfg.NormScaleFromConstantNode {
		g.AddInitializer(NormScale, tensors.FromFlatDataAndDimensions(normScale, len(normScale)))
	}
	g.AddInitializer(NormBias, tensors.FromFlatDataAndDimensions(normBias, len(normBias)))
	if cfg.WeightAsInput {
		g.AddInput(Weight, shapes.Make(dtypes.Float32, weightDims...))
	} else {
		g.AddInitializer(Weight, Ramp(weightDims...))
	}
	g.AddInitializer(Bias, Ramp(biasDims...))

	mulInputs := []string{Reshape4DOut, Weight}
	addInputs := []string{MulOut, Bias}
	if cfg.Commuted {
		slices.Reverse(mulInputs)
		slices.Reverse(addInputs)
	}

	if cfg.NormScaleFromConstantNode {
		g.AddNode(graph.NewNode("Constant", "norm_scale_constant", nil, []string{NormScale},
			graph.TensorAttr("value", tensors.FromFlatDataAndDimensions(normScale, len(normScale)))))
	}
	g.AddNode(
		graph.NewNode("Reshape", "reshape_3d", []string{Root, Reshape3DDim}, []string{Reshape3DOut}),
		graph.NewNode("InstanceNormalization", "instance_norm", []string{Reshape3DOut, NormScale, NormBias}, []string{NormOut},
			graph.FloatAttr("epsilon", 1e-5)),
		graph.NewNode("Shape", "shape", []string{Root}, []string{ShapeOut}),
		graph.NewNode("Reshape", "reshape_4d", []string{NormOut, ShapeOut}, []string{Reshape4DOut}),
		graph.NewNode("Mul", "weight_mul", mulInputs, []string{MulOut}),
		graph.NewNode("Add", "bias_add", addInputs, []string{AddOut}),
	)
	output := AddOut
	if cfg.Swish {
		g.AddNode(
			graph.NewNode("Sigmoid", "sigmoid", []string{AddOut}, []string{SigmoidOut}),
			graph.NewNode("Mul", "swish_mul", []string{AddOut, SigmoidOut}, []string{SwishOut}),
		)
		output = SwishOut
	}
	g.AddOutput(output, shapes.Make(dtypes.Float32, 1, cfg.Channels, 4, 4))
	if cfg.ExtraConsumer {
		g.AddNode(graph.NewNode("Relu", "extra_relu", []string{Reshape4DOut}, []string{ExtraOut}))
		g.AddOutput(ExtraOut, shapes.Invalid())
	}
	return model, output
}

// Ramp returns a float32 tensor with values 1, 2, 3, ... and the given dimensions.
func Ramp(dimensions ...int) *tensors.Tensor {
	size := shapes.Make(dtypes.Float32, dimensions...).Size()
	values := make([]float32, size)
	for ii := range values {
		values[ii] = float32(ii + 1)
	}
	return tensors.FromFlatDataAndDimensions(values, dimensions...)
}

func filled(n int, value float32) []float32 {
	values := make([]float32, n)
	for ii := range values {
		values[ii] = value
	}
	return values
}

// NodeByName returns the node with the given name in any graph of the model, or nil.
func NodeByName(model *graph.Model, name string) *graph.Node {
	for _, g := range model.Graphs() {
		for _, node := range g.Nodes() {
			if node.Name == name {
				return node
			}
		}
	}
	return nil
}

// OpTypes returns the operator types of the nodes of g, in order.
func OpTypes(g *graph.Graph) []string {
	opTypes := make([]string, 0, g.NumNodes())
	for _, node := range g.Nodes() {
		opTypes = append(opTypes, node.OpType)
	}
	return opTypes
}

// Snapshot is a deep copy of the observable content of a model, used to check it was not changed.
type Snapshot struct {
	Graphs []GraphSnapshot
}

// GraphSnapshot is the observable content of one graph.
type GraphSnapshot struct {
	Name         string
	Nodes        []graph.Node
	Inputs       []graph.ValueInfo
	Outputs      []graph.ValueInfo
	Initializers []string
}

// TakeSnapshot copies the observable content of the model.
func TakeSnapshot(model *graph.Model) Snapshot {
	var snapshot Snapshot
	for _, g := range model.Graphs() {
		gs := GraphSnapshot{
			Name:         g.Name(),
			Inputs:       slices.Clone(g.Inputs()),
			Outputs:      slices.Clone(g.Outputs()),
			Initializers: g.InitializerNames(),
		}
		for _, node := range g.Nodes() {
			n := *node
			n.Inputs = slices.Clone(node.Inputs)
			n.Outputs = slices.Clone(node.Outputs)
			n.Attributes = slices.Clone(node.Attributes)
			gs.Nodes = append(gs.Nodes, n)
		}
		snapshot.Graphs = append(snapshot.Graphs, gs)
	}
	return snapshot
}

// RequireUnchanged fails the test if the model differs from the snapshot.
func RequireUnchanged(t *testing.T, before Snapshot, model *graph.Model) {
	t.Helper()
	require.Equal(t, before, TakeSnapshot(model), "model was changed")
}
