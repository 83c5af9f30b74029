// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/graphfusion/pkg/core/tensors"
	"github.com/gomlx/graphfusion/pkg/support/sets"
)

// Index maps tensor names to their producer and consumers, nodes to their graph, and keeps the
// registry of used names for a Model.
//
// It is scoped to one Model: it is created with NewIndex and must be updated (Add, Remove, AddInitializer,
// RemoveInitializer) whenever the model is changed, or rebuilt.
type Index struct {
	model *Model

	producers    map[string]*Node
	consumers    map[string][]*Node
	owner        map[*Node]*Graph
	initializers map[string]*Graph

	names    sets.Set[string]
	suffixes map[string]int
}

// NewIndex builds the index for the model.
//
// It panics if the model violates the graph invariants: a tensor name produced by more than one node
// (or by a node and an initializer), two nodes with the same pointer, or a nil node.
func NewIndex(model *Model) *Index {
	if model == nil {
		exceptions.Panicf("graph.NewIndex: nil model")
	}
	idx := &Index{
		model:        model,
		producers:    make(map[string]*Node),
		consumers:    make(map[string][]*Node),
		owner:        make(map[*Node]*Graph),
		initializers: make(map[string]*Graph),
		names:        sets.Make[string](),
		suffixes:     make(map[string]int),
	}
	for _, g := range model.graphs {
		for _, vi := range g.inputs {
			idx.names.Insert(vi.Name)
		}
		for _, vi := range g.outputs {
			idx.names.Insert(vi.Name)
		}
		for _, name := range g.initializerNames {
			idx.registerInitializer(g, name)
		}
	}
	for _, g := range model.graphs {
		for _, node := range g.nodes {
			idx.Add(node, g)
		}
	}
	return idx
}

// Model returns the model indexed.
func (idx *Index) Model() *Model { return idx.model }

func (idx *Index) registerInitializer(g *Graph, name string) {
	if prev, found := idx.initializers[name]; found && prev != g {
		exceptions.Panicf("graph.Index: initializer %q defined in graphs %q and %q", name, prev.name, g.name)
	}
	if producer, found := idx.producers[name]; found {
		exceptions.Panicf("graph.Index: tensor %q is both an initializer of graph %q and an output of node %q",
			name, g.name, producer.Name)
	}
	idx.initializers[name] = g
	idx.names.Insert(name)
}

// Add registers node as a member of graph g: its outputs are produced by it, and it consumes its inputs.
// It doesn't change the graph itself, see Graph.AddNode.
//
// It panics if any of the node outputs already has a producer, or if the node is already indexed.
func (idx *Index) Add(node *Node, g *Graph) {
	if node == nil {
		exceptions.Panicf("graph.Index.Add: nil node in graph %q", g.name)
	}
	if prev, found := idx.owner[node]; found {
		exceptions.Panicf("graph.Index.Add: node %q already indexed in graph %q", node.Name, prev.name)
	}
	for _, output := range node.Outputs {
		if output == "" {
			continue
		}
		if prev, found := idx.producers[output]; found {
			exceptions.Panicf("graph.Index: tensor %q has more than one producer: nodes %q and %q",
				output, prev.Name, node.Name)
		}
		if initGraph, found := idx.initializers[output]; found {
			exceptions.Panicf("graph.Index: tensor %q is both an initializer of graph %q and an output of node %q",
				output, initGraph.name, node.Name)
		}
	}
	idx.owner[node] = g
	for _, output := range node.Outputs {
		if output == "" {
			continue
		}
		idx.producers[output] = node
		idx.names.Insert(output)
	}
	for _, input := range node.Inputs {
		if input == "" {
			continue
		}
		idx.consumers[input] = append(idx.consumers[input], node)
		idx.names.Insert(input)
	}
	if node.Name != "" {
		idx.names.Insert(node.Name)
	}
}

// Remove unregisters the node. Names used by the node stay reserved.
//
// It panics if the node is not indexed.
func (idx *Index) Remove(node *Node) {
	if _, found := idx.owner[node]; !found {
		exceptions.Panicf("graph.Index.Remove: node %q is not indexed", node.Name)
	}
	delete(idx.owner, node)
	for _, output := range node.Outputs {
		if idx.producers[output] == node {
			delete(idx.producers, output)
		}
	}
	for _, input := range node.Inputs {
		consumers := idx.consumers[input]
		pos := slices.Index(consumers, node)
		if pos < 0 {
			continue
		}
		consumers = slices.Delete(consumers, pos, pos+1)
		if len(consumers) == 0 {
			delete(idx.consumers, input)
		} else {
			idx.consumers[input] = consumers
		}
	}
}

// AddInitializer adds the initializer to graph g and registers it in the index.
func (idx *Index) AddInitializer(g *Graph, name string, tensor *tensors.Tensor) {
	idx.registerInitializer(g, name)
	g.AddInitializer(name, tensor)
}

// RemoveInitializer removes the named initializer from its graph, if it exists.
func (idx *Index) RemoveInitializer(name string) bool {
	g, found := idx.initializers[name]
	if !found {
		return false
	}
	delete(idx.initializers, name)
	return g.RemoveInitializer(name)
}

// Contains returns whether the node is part of the indexed model.
func (idx *Index) Contains(node *Node) bool {
	_, found := idx.owner[node]
	return found
}

// GraphOf returns the graph owning the node, or nil if the node is not indexed.
func (idx *Index) GraphOf(node *Node) *Graph {
	return idx.owner[node]
}

// Producer returns the node producing the tensor, or nil if the tensor is a graph input, an initializer,
// an omitted optional input ("") or unknown.
func (idx *Index) Producer(tensorName string) *Node {
	if tensorName == "" {
		return nil
	}
	return idx.producers[tensorName]
}

// Consumers returns the nodes consuming the tensor, in the order they were indexed.
// A node consuming the same tensor in two slots is listed twice.
func (idx *Index) Consumers(tensorName string) []*Node {
	return slices.Clone(idx.consumers[tensorName])
}

// NumConsumers returns the number of consuming slots of the tensor.
func (idx *Index) NumConsumers(tensorName string) int {
	return len(idx.consumers[tensorName])
}

// Initializer returns the initializer tensor bound to name and the graph that owns it, or (nil, nil).
func (idx *Index) Initializer(name string) (*tensors.Tensor, *Graph) {
	g, found := idx.initializers[name]
	if !found {
		return nil, nil
	}
	return g.Initializer(name), g
}

// IsGraphOutput returns whether the tensor is declared as the output of any graph of the model.
func (idx *Index) IsGraphOutput(tensorName string) bool {
	for _, g := range idx.model.graphs {
		if g.IsOutput(tensorName) {
			return true
		}
	}
	return false
}

// IsNameUsed returns whether the name is already used by a node, tensor, or initializer of the model,
// or has been reserved.
func (idx *Index) IsNameUsed(name string) bool {
	return idx.names.Has(name)
}

// ReserveName marks name as used. It returns false if the name was already used.
func (idx *Index) ReserveName(name string) bool {
	if idx.names.Has(name) {
		return false
	}
	idx.names.Insert(name)
	return true
}

// UniqueName returns a name of the form "<prefix>_<n>" not used anywhere in the model, and reserves it.
func (idx *Index) UniqueName(prefix string) string {
	for {
		suffix := idx.suffixes[prefix]
		idx.suffixes[prefix] = suffix + 1
		name := fmt.Sprintf("%s_%d", prefix, suffix)
		if idx.ReserveName(name) {
			return name
		}
	}
}

// NodesByOpType returns the indexed nodes of the given operator type, in graph order (main graph first).
func (idx *Index) NodesByOpType(opType string) []*Node {
	var nodes []*Node
	for _, g := range idx.model.graphs {
		for _, node := range g.nodes {
			if node.OpType == opType && idx.Contains(node) {
				nodes = append(nodes, node)
			}
		}
	}
	return nodes
}
