// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package constants resolves tensor names to constant values and validates their shapes and contents,
// for the preconditions of the fusion rules.
//
// A tensor is constant only if it is an initializer not overridden by a graph input of the same name,
// or the output of a Constant node (with no inputs) carrying its value as an attribute. Anything else
// is computed at runtime, and Resolve returns nil for it: it never assumes.
package constants

import (
	"math"

	"github.com/gomlx/graphfusion/pkg/core/graph"
	"github.com/gomlx/graphfusion/pkg/core/tensors"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

// ConstantOpType is the operator type of nodes that produce a constant from their attributes.
const ConstantOpType = "Constant"

// Resolve returns the constant tensor bound to name, or nil if it is not a constant.
func Resolve(idx *graph.Index, name string) *tensors.Tensor {
	if name == "" {
		return nil
	}
	if producer := idx.Producer(name); producer != nil {
		return fromConstantNode(producer)
	}
	tensor, owner := idx.Initializer(name)
	if tensor == nil {
		return nil
	}
	// An initializer also declared as an input of its graph (or of an enclosing graph visible
	// from it) is only a default value: it can be fed at runtime.
	for g := owner; g != nil; g = g.Parent() {
		if g.IsInput(name) {
			return nil
		}
	}
	return tensor
}

// fromConstantNode returns the value of a Constant node, or nil if node is not one.
func fromConstantNode(node *graph.Node) *tensors.Tensor {
	if node.OpType != ConstantOpType || node.Domain != "" || len(node.Inputs) > 0 || len(node.Outputs) != 1 {
		return nil
	}
	for _, attr := range node.Attributes {
		switch {
		case attr.Name == "value" && attr.Type == graph.AttributeTensor:
			return attr.Tensor
		case attr.Name == "value_float" && attr.Type == graph.AttributeFloat:
			return tensors.FromFlatDataAndDimensions([]float32{attr.Float})
		case attr.Name == "value_floats" && attr.Type == graph.AttributeFloats:
			return tensors.FromFlatDataAndDimensions(attr.Floats, len(attr.Floats))
		case attr.Name == "value_int" && attr.Type == graph.AttributeInt:
			return tensors.FromFlatDataAndDimensions([]int64{attr.Int})
		case attr.Name == "value_ints" && attr.Type == graph.AttributeInts:
			return tensors.FromFlatDataAndDimensions(attr.Ints, len(attr.Ints))
		}
	}
	return nil
}

// HasRank returns whether name resolves to a constant of the given rank. description is used in the
// log message explaining a failure, at verbosity level 2.
func HasRank(idx *graph.Index, name string, rank int, description string) bool {
	value := Resolve(idx, name)
	if value == nil {
		klog.V(2).Infof("%s %q is not a constant", description, name)
		return false
	}
	if value.Rank() != rank {
		klog.V(2).Infof("%s %q shall have %d dimensions, got shape %s", description, name, rank, value.Shape())
		return false
	}
	return true
}

// Tolerance of the element-wise comparison: |a-b| <= Absolute + Relative*|b|, where b is the expected value.
type Tolerance struct {
	Absolute, Relative float64
}

// DefaultTolerance is the tolerance used when comparing constants to the expected patterns.
var DefaultTolerance = Tolerance{Absolute: 1e-8, Relative: 1e-5}

// Close returns whether value is within the tolerance of expected. NaNs are never close.
func (tol Tolerance) Close(value, expected float64) bool {
	if math.IsNaN(value) || math.IsNaN(expected) {
		return false
	}
	if value == expected {
		return true
	}
	return math.Abs(value-expected) <= tol.Absolute+tol.Relative*math.Abs(expected)
}

// Closeness is the result of Compare.
type Closeness int

const (
	// Different means at least one element is outside the tolerance.
	Different Closeness = iota

	// Approximate means all elements are within the tolerance, but some are not exactly equal.
	Approximate

	// Exact means all elements are exactly equal.
	Exact
)

// String implements fmt.Stringer.
func (c Closeness) String() string {
	switch c {
	case Different:
		return "Different"
	case Approximate:
		return "Approximate"
	case Exact:
		return "Exact"
	}
	return "Closeness(?)"
}

// Compare compares every element of tensor to target.
// Tensors that can't be converted to float64 are Different.
func Compare(tensor *tensors.Tensor, target float64, tol Tolerance) Closeness {
	values, err := tensor.Float64s()
	if err != nil {
		return Different
	}
	expected := make([]float64, len(values))
	for ii := range expected {
		expected[ii] = target
	}
	if floats.Equal(values, expected) {
		return Exact
	}
	if floats.EqualFunc(values, expected, tol.Close) {
		return Approximate
	}
	return Different
}

// AllClose returns whether all elements of tensor are within tolerance of target.
func AllClose(tensor *tensors.Tensor, target float64, tol Tolerance) bool {
	return Compare(tensor, target, tol) != Different
}

// IsAllOnes returns whether the tensor is (approximately) all ones. An approximate match is logged at
// verbosity level 2, since the fusion will silently drop the difference.
func IsAllOnes(tensor *tensors.Tensor, tol Tolerance) bool {
	return checkPattern(tensor, 1, tol, "ones")
}

// IsAllZeros returns whether the tensor is (approximately) all zeros.
func IsAllZeros(tensor *tensors.Tensor, tol Tolerance) bool {
	return checkPattern(tensor, 0, tol, "zeros")
}

func checkPattern(tensor *tensors.Tensor, target float64, tol Tolerance, patternName string) bool {
	switch Compare(tensor, target, tol) {
	case Exact:
		return true
	case Approximate:
		klog.V(2).Infof("constant %s accepted as all %s within tolerance %+v", tensor.Shape(), patternName, tol)
		return true
	}
	return false
}
