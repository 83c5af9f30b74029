// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"

	"github.com/gomlx/graphfusion/pkg/core/tensors"
)

// AttributeType enumerates the kinds of values an Attribute can hold.
type AttributeType int

const (
	AttributeUndefined AttributeType = iota
	AttributeFloat
	AttributeInt
	AttributeString
	AttributeTensor
	AttributeFloats
	AttributeInts
	AttributeStrings
)

var attributeTypeNames = []string{"UNDEFINED", "FLOAT", "INT", "STRING", "TENSOR", "FLOATS", "INTS", "STRINGS"}

// String implements fmt.Stringer.
func (t AttributeType) String() string {
	if t < 0 || int(t) >= len(attributeTypeNames) {
		return fmt.Sprintf("AttributeType(%d)", int(t))
	}
	return attributeTypeNames[t]
}

// AttributeTypeFromString is the inverse of AttributeType.String. It returns AttributeUndefined if not known.
func AttributeTypeFromString(name string) AttributeType {
	idx := slices.Index(attributeTypeNames, name)
	if idx < 0 {
		return AttributeUndefined
	}
	return AttributeType(idx)
}

// Attribute is a named, typed value attached to a Node. Only the field matching Type is meaningful.
type Attribute struct {
	Name string
	Type AttributeType

	Float   float32
	Int     int64
	Str     string
	Tensor  *tensors.Tensor
	Floats  []float32
	Ints    []int64
	Strings []string
}

// FloatAttr creates an attribute of type AttributeFloat.
func FloatAttr(name string, value float32) *Attribute {
	return &Attribute{Name: name, Type: AttributeFloat, Float: value}
}

// IntAttr creates an attribute of type AttributeInt.
func IntAttr(name string, value int64) *Attribute {
	return &Attribute{Name: name, Type: AttributeInt, Int: value}
}

// StringAttr creates an attribute of type AttributeString.
func StringAttr(name, value string) *Attribute {
	return &Attribute{Name: name, Type: AttributeString, Str: value}
}

// TensorAttr creates an attribute of type AttributeTensor.
func TensorAttr(name string, value *tensors.Tensor) *Attribute {
	return &Attribute{Name: name, Type: AttributeTensor, Tensor: value}
}

// FloatsAttr creates an attribute of type AttributeFloats.
func FloatsAttr(name string, values ...float32) *Attribute {
	return &Attribute{Name: name, Type: AttributeFloats, Floats: slices.Clone(values)}
}

// IntsAttr creates an attribute of type AttributeInts.
func IntsAttr(name string, values ...int64) *Attribute {
	return &Attribute{Name: name, Type: AttributeInts, Ints: slices.Clone(values)}
}

// StringsAttr creates an attribute of type AttributeStrings.
func StringsAttr(name string, values ...string) *Attribute {
	return &Attribute{Name: name, Type: AttributeStrings, Strings: slices.Clone(values)}
}

// Clone returns a copy of the attribute. Tensors are immutable, so they are shared.
func (a *Attribute) Clone() *Attribute {
	c := *a
	c.Floats = slices.Clone(a.Floats)
	c.Ints = slices.Clone(a.Ints)
	c.Strings = slices.Clone(a.Strings)
	return &c
}

// Value returns the value of the attribute for its type, as an `any`.
func (a *Attribute) Value() any {
	switch a.Type {
	case AttributeFloat:
		return a.Float
	case AttributeInt:
		return a.Int
	case AttributeString:
		return a.Str
	case AttributeTensor:
		return a.Tensor
	case AttributeFloats:
		return a.Floats
	case AttributeInts:
		return a.Ints
	case AttributeStrings:
		return a.Strings
	}
	return nil
}

// String implements fmt.Stringer.
func (a *Attribute) String() string {
	return fmt.Sprintf("%s=%v", a.Name, a.Value())
}
