// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package groupnorm implements the fusion of the decomposed group normalization into one GroupNorm node.
//
// The decomposed form, as exported by most frameworks, is:
//
//	        +---------------------- Shape ---------------------+
//	        |                                                  v
//	[root] -+-> Reshape(0, G, -1) -> InstanceNormalization -> Reshape -> Mul(weight) -> Add(bias) [-> x*Sigmoid(x)]
//	 [B,C,H,W]                 scale=ones(G), bias=zeros(G)             [C,1,1]        [C,1,1]
//
// It is replaced by GroupNorm(root, gamma, beta), where gamma and beta are the flattened weight and bias
// and the attributes "groups" and "activation" (1 if the Swish x*Sigmoid(x) was fused) are set.
//
// Use it with fusion.Optimizer, or through the registry under the name "GroupNorm".
package groupnorm

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/graphfusion/pkg/core/graph"
	"github.com/gomlx/graphfusion/pkg/core/tensors"
	"github.com/gomlx/graphfusion/pkg/fusion"
	"github.com/gomlx/graphfusion/pkg/fusion/constants"
	"github.com/gomlx/graphfusion/pkg/fusion/match"
	"k8s.io/klog/v2"
)

const (
	// Name of the rule in the fusion registry.
	Name = "GroupNorm"

	// OpType of the fused node.
	OpType = "GroupNorm"

	// DefaultGroups is the number of groups expected by default.
	DefaultGroups = 32

	// DefaultDomain of the fused node.
	DefaultDomain = "com.microsoft"

	// GroupsAttr and ActivationAttr are the attributes added to the fused node.
	GroupsAttr     = "groups"
	ActivationAttr = "activation"
)

func init() {
	fusion.Register(Name, func() fusion.Rule { return New() })
}

// Fusion is the group normalization fusion rule. Create it with New.
type Fusion struct {
	fusion.Base

	groups    int
	tolerance constants.Tolerance
	domain    string
}

var _ fusion.Rule = (*Fusion)(nil)

// New returns a group normalization fusion with the default configuration.
// It can be further configured with the chained setters.
func New() *Fusion {
	return &Fusion{
		Base:      fusion.NewBase(Name, "Add"),
		groups:    DefaultGroups,
		tolerance: constants.DefaultTolerance,
		domain:    DefaultDomain,
	}
}

// Groups sets the number of groups the InstanceNormalization scale and bias must have.
func (f *Fusion) Groups(groups int) *Fusion {
	f.groups = groups
	return f
}

// Tolerance sets the tolerance used to check that the InstanceNormalization scale is all ones
// and its bias all zeros.
func (f *Fusion) Tolerance(tolerance constants.Tolerance) *Fusion {
	f.tolerance = tolerance
	return f
}

// Domain sets the domain of the fused node.
func (f *Fusion) Domain(domain string) *Fusion {
	f.domain = domain
	return f
}

// patterns from the Add anchor back to the first Reshape: the data edge may arrive at either slot
// of the Add and of the Mul.
var patterns = [][]match.Step{
	match.Path([]string{"Mul", "Reshape", "InstanceNormalization", "Reshape"}, []int{0, 0, 0, 0}),
	match.Path([]string{"Mul", "Reshape", "InstanceNormalization", "Reshape"}, []int{1, 0, 0, 0}),
	match.Path([]string{"Mul", "Reshape", "InstanceNormalization", "Reshape"}, []int{0, 1, 0, 0}),
	match.Path([]string{"Mul", "Reshape", "InstanceNormalization", "Reshape"}, []int{1, 1, 0, 0}),
}

// Fuse implements fusion.Rule.
func (f *Fusion) Fuse(idx *graph.Index, add *graph.Node) bool {
	_, nodes := match.MatchParentPaths(idx, add, patterns...)
	if nodes == nil {
		return false
	}
	weightMul, reshape4D, instanceNorm, reshape3D := nodes[0], nodes[1], nodes[2], nodes[3]
	root, ok := reshape3D.Input(0)
	if !ok || root == "" {
		return false
	}

	shapeNode := match.MatchParent(idx, reshape4D, "Shape", 1)
	if shapeNode == nil {
		return false
	}
	if shapeInput, _ := shapeNode.Input(0); shapeInput != root {
		klog.V(2).Infof("GroupNorm at %q: Shape %q reads %q, not the normalized tensor %q", add.Name, shapeNode.Name, shapeInput, root)
		return false
	}

	g := idx.GraphOf(add)
	matched := []*graph.Node{add, weightMul, reshape4D, instanceNorm, reshape3D, shapeNode}
	for _, node := range matched {
		if idx.GraphOf(node) != g {
			klog.V(2).Infof("GroupNorm at %q: pattern spans more than one graph", add.Name)
			return false
		}
	}
	lastNode := add
	swishMul, sigmoid := f.findSwish(idx, add)
	if swishMul != nil {
		matched = append(matched, swishMul, sigmoid)
		lastNode = swishMul
	}

	// Weight and bias: the operands of the Mul and the Add that are not the data edge.
	weightName, ok := match.OtherInput(weightMul, reshape4D.Outputs[0])
	if !ok {
		return false
	}
	biasName, ok := match.OtherInput(add, weightMul.Outputs[0])
	if !ok {
		return false
	}
	if !constants.HasRank(idx, weightName, 3, "group norm weight") ||
		!constants.HasRank(idx, biasName, 3, "group norm bias") {
		return false
	}
	weight, bias := constants.Resolve(idx, weightName), constants.Resolve(idx, biasName)
	if !trailingSingletons(weight) || !trailingSingletons(bias) {
		klog.V(2).Infof("GroupNorm at %q: weight %s and bias %s must have shape [C, 1, 1]", add.Name, weight.Shape(), bias.Shape())
		return false
	}
	numChannels := weight.Size()
	if bias.Size() != numChannels {
		klog.V(2).Infof("GroupNorm at %q: weight has %d elements, bias has %d", add.Name, numChannels, bias.Size())
		return false
	}

	// The InstanceNormalization must carry no affine transformation of its own.
	if len(instanceNorm.Inputs) < 3 {
		return false
	}
	normScale := constants.Resolve(idx, instanceNorm.Inputs[1])
	normBias := constants.Resolve(idx, instanceNorm.Inputs[2])
	if normScale == nil || normBias == nil {
		klog.V(2).Infof("GroupNorm at %q: InstanceNormalization %q scale or bias is not a constant", add.Name, instanceNorm.Name)
		return false
	}
	if normScale.Rank() != 1 || normBias.Rank() != 1 || !normScale.Shape().EqualDimensions(normBias.Shape()) ||
		normScale.Shape().Dim(0) != f.groups {
		klog.V(2).Infof("GroupNorm at %q: InstanceNormalization scale %s and bias %s must have shape [%d]",
			add.Name, normScale.Shape(), normBias.Shape(), f.groups)
		return false
	}
	if !constants.IsAllOnes(normScale, f.tolerance) || !constants.IsAllZeros(normBias, f.tolerance) {
		return false
	}

	gamma, err := flatFloat32(weight)
	if err != nil {
		klog.V(2).Infof("GroupNorm at %q: weight: %v", add.Name, err)
		return false
	}
	beta, err := flatFloat32(bias)
	if err != nil {
		klog.V(2).Infof("GroupNorm at %q: bias: %v", add.Name, err)
		return false
	}

	// Matched: from here on it only stages the rewrite.
	tx := f.Transaction()
	name := idx.UniqueName(OpType)
	gammaName := reserveName(idx, name+"_gamma")
	betaName := reserveName(idx, name+"_beta")
	tx.StageInitializer(g.Name(), gammaName, gamma)
	tx.StageInitializer(g.Name(), betaName, beta)

	fused := graph.NewNode(OpType, name, []string{root, gammaName, betaName}, []string{lastNode.Outputs[0]})
	fused.Domain = f.domain
	for _, attr := range instanceNorm.Attributes {
		fused.AddAttributes(attr.Clone())
	}
	activation := int64(0)
	if swishMul != nil {
		activation = 1
	}
	fused.AddAttributes(graph.IntAttr(GroupsAttr, int64(f.groups)), graph.IntAttr(ActivationAttr, activation))

	fusion.StageRewrite(idx, tx, matched, lastNode, fused, g.Name())

	// The InstanceNormalization scale and bias may come from Constant nodes, now orphaned.
	tx.RequestPrune()
	return true
}

// findSwish returns the x*Sigmoid(x) nodes applied to the output of add, or (nil, nil).
func (f *Fusion) findSwish(idx *graph.Index, add *graph.Node) (swishMul, sigmoid *graph.Node) {
	x := add.Outputs[0]
	g := idx.GraphOf(add)
	for _, consumer := range idx.Consumers(x) {
		if consumer.OpType != "Mul" || idx.GraphOf(consumer) != g {
			continue
		}
		other, ok := match.OtherInput(consumer, x)
		if !ok {
			continue
		}
		producer := idx.Producer(other)
		if producer == nil || producer.OpType != "Sigmoid" || idx.GraphOf(producer) != g {
			continue
		}
		if input, _ := producer.Input(0); input != x || len(producer.Inputs) != 1 {
			continue
		}
		return consumer, producer
	}
	return nil, nil
}

// trailingSingletons returns whether the constant has shape [N, 1, 1].
func trailingSingletons(t *tensors.Tensor) bool {
	dims := t.Dimensions()
	return len(dims) == 3 && dims[1] == 1 && dims[2] == 1
}

// flatFloat32 returns the values of t as a float32 tensor of rank 1.
func flatFloat32(t *tensors.Tensor) (*tensors.Tensor, error) {
	converted, err := t.ConvertDType(dtypes.Float32)
	if err != nil {
		return nil, err
	}
	return converted.Reshape(converted.Size()), nil
}

// reserveName reserves name, or a unique variation of it if it is already taken.
func reserveName(idx *graph.Index, name string) string {
	if idx.ReserveName(name) {
		return name
	}
	return idx.UniqueName(name)
}
