// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"
	"strings"
)

// Node is one operator of a Graph. Edges are named tensors: Inputs lists the names of the tensors
// consumed (in slot order) and Outputs the names of the tensors produced.
//
// An empty input name means an omitted optional input, and it never has a producer.
//
// Nodes are treated as immutable once added to a graph, except for the Attributes that are built
// while a fused node is being constructed.
type Node struct {
	Name       string
	OpType     string
	Domain     string
	Inputs     []string
	Outputs    []string
	Attributes []*Attribute
}

// NewNode creates a node in the default domain. Inputs and outputs are copied.
func NewNode(opType, name string, inputs, outputs []string, attributes ...*Attribute) *Node {
	return &Node{
		Name:       name,
		OpType:     opType,
		Inputs:     slices.Clone(inputs),
		Outputs:    slices.Clone(outputs),
		Attributes: attributes,
	}
}

// Input returns the tensor name at the given input slot. Negative slots count from the end.
// It returns false if the slot is out of range.
func (n *Node) Input(slot int) (string, bool) {
	if slot < 0 {
		slot += len(n.Inputs)
	}
	if slot < 0 || slot >= len(n.Inputs) {
		return "", false
	}
	return n.Inputs[slot], true
}

// Attribute returns the attribute with the given name, or nil if not set.
func (n *Node) Attribute(name string) *Attribute {
	for _, attr := range n.Attributes {
		if attr.Name == name {
			return attr
		}
	}
	return nil
}

// IntAttrOr returns the value of an int attribute, or defaultValue if it is not set or has a different type.
func (n *Node) IntAttrOr(name string, defaultValue int64) int64 {
	attr := n.Attribute(name)
	if attr == nil || attr.Type != AttributeInt {
		return defaultValue
	}
	return attr.Int
}

// FloatAttrOr returns the value of a float attribute, or defaultValue if it is not set or has a different type.
func (n *Node) FloatAttrOr(name string, defaultValue float32) float32 {
	attr := n.Attribute(name)
	if attr == nil || attr.Type != AttributeFloat {
		return defaultValue
	}
	return attr.Float
}

// AddAttributes appends the attributes to the node.
func (n *Node) AddAttributes(attributes ...*Attribute) {
	n.Attributes = append(n.Attributes, attributes...)
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	opType := n.OpType
	if n.Domain != "" {
		opType = n.Domain + "." + opType
	}
	return fmt.Sprintf("%s[%s](%s) -> (%s)", opType, n.Name,
		strings.Join(n.Inputs, ", "), strings.Join(n.Outputs, ", "))
}
