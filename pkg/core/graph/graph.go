// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph holds the container of a computation graph as used by inference runtimes:
// a directed acyclic graph of operator nodes connected by named tensor edges, plus the constant
// tensors (initializers) bound to some of those names.
//
// A Model owns a main Graph and any number of subgraphs (the bodies of control-flow operators),
// each identified by its name. Subgraphs can read tensors produced by their ancestors.
//
// The Index provides the lookups the graph passes need: tensor name to producing node, tensor name
// to consuming nodes, node to owning graph, and collision-free name generation. It is built once
// from a Model and then kept up to date incrementally as the passes add and remove nodes.
//
// Each tensor name has exactly one producer: a node output, a graph input, or an initializer.
// A second node producing the same name is a structural-invariant violation, and it panics.
package graph

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/graphfusion/pkg/core/shapes"
	"github.com/gomlx/graphfusion/pkg/core/tensors"
)

// ValueInfo describes a graph input or output. Shape may be invalid, if unknown.
type ValueInfo struct {
	Name  string
	Shape shapes.Shape
}

// Graph is an ordered list of nodes, with its inputs, outputs and initializers.
//
// Nodes are expected to be kept in topological order.
type Graph struct {
	name   string
	parent *Graph

	nodes   []*Node
	inputs  []ValueInfo
	outputs []ValueInfo

	initializers     map[string]*tensors.Tensor
	initializerNames []string
}

func newGraph(name string, parent *Graph) *Graph {
	return &Graph{
		name:         name,
		parent:       parent,
		initializers: make(map[string]*tensors.Tensor),
	}
}

// Name of the graph, its identifier within a Model.
func (g *Graph) Name() string { return g.name }

// Parent returns the enclosing graph, or nil for the main graph.
func (g *Graph) Parent() *Graph { return g.parent }

// Nodes returns the nodes of the graph in order. The returned slice must not be modified.
func (g *Graph) Nodes() []*Node { return g.nodes }

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// Inputs returns the graph inputs.
func (g *Graph) Inputs() []ValueInfo { return g.inputs }

// Outputs returns the graph outputs.
func (g *Graph) Outputs() []ValueInfo { return g.outputs }

// AddInput declares a graph input. If shape is not known, pass shapes.Invalid().
func (g *Graph) AddInput(name string, shape shapes.Shape) {
	g.inputs = append(g.inputs, ValueInfo{Name: name, Shape: shape})
}

// AddOutput declares a graph output.
func (g *Graph) AddOutput(name string, shape shapes.Shape) {
	g.outputs = append(g.outputs, ValueInfo{Name: name, Shape: shape})
}

// IsInput returns whether name is declared as an input of this graph.
func (g *Graph) IsInput(name string) bool {
	return slices.ContainsFunc(g.inputs, func(vi ValueInfo) bool { return vi.Name == name })
}

// IsOutput returns whether name is declared as an output of this graph.
func (g *Graph) IsOutput(name string) bool {
	return slices.ContainsFunc(g.outputs, func(vi ValueInfo) bool { return vi.Name == name })
}

// AddNode appends nodes at the end of the graph.
//
// It doesn't update any Index: use Index.Add for that, or rebuild the Index.
func (g *Graph) AddNode(nodes ...*Node) {
	for _, node := range nodes {
		if node == nil {
			exceptions.Panicf("Graph(%q).AddNode: nil node", g.name)
		}
	}
	g.nodes = append(g.nodes, nodes...)
}

// InsertNodes inserts the nodes at the given position. position == NumNodes() appends.
func (g *Graph) InsertNodes(position int, nodes ...*Node) {
	if position < 0 || position > len(g.nodes) {
		exceptions.Panicf("Graph(%q).InsertNodes: position %d out of range [0, %d]", g.name, position, len(g.nodes))
	}
	g.nodes = slices.Insert(g.nodes, position, nodes...)
}

// NodePosition returns the position of the node in the graph, or -1 if the node is not in the graph.
func (g *Graph) NodePosition(node *Node) int {
	return slices.Index(g.nodes, node)
}

// RemoveNode removes the node from the graph. It returns false if the node was not in the graph.
func (g *Graph) RemoveNode(node *Node) bool {
	pos := g.NodePosition(node)
	if pos < 0 {
		return false
	}
	g.nodes = slices.Delete(g.nodes, pos, pos+1)
	return true
}

// AddInitializer binds a constant tensor to name in this graph. It replaces any previous initializer with the same name.
func (g *Graph) AddInitializer(name string, tensor *tensors.Tensor) {
	if tensor == nil {
		exceptions.Panicf("Graph(%q).AddInitializer(%q): nil tensor", g.name, name)
	}
	if _, found := g.initializers[name]; !found {
		g.initializerNames = append(g.initializerNames, name)
	}
	g.initializers[name] = tensor
}

// Initializer returns the initializer of this graph (not its ancestors) with the given name, or nil.
func (g *Graph) Initializer(name string) *tensors.Tensor {
	return g.initializers[name]
}

// InitializerNames returns the names of the initializers in the order they were added.
func (g *Graph) InitializerNames() []string {
	return slices.Clone(g.initializerNames)
}

// RemoveInitializer removes the named initializer. It returns false if it didn't exist.
func (g *Graph) RemoveInitializer(name string) bool {
	if _, found := g.initializers[name]; !found {
		return false
	}
	delete(g.initializers, name)
	g.initializerNames = slices.DeleteFunc(g.initializerNames, func(n string) bool { return n == name })
	return true
}

// Model holds the main graph and its subgraphs.
type Model struct {
	main   *Graph
	graphs []*Graph
}

// NewModel creates a model with an empty main graph with the given name.
func NewModel(mainGraphName string) *Model {
	main := newGraph(mainGraphName, nil)
	return &Model{main: main, graphs: []*Graph{main}}
}

// Main returns the main graph.
func (m *Model) Main() *Graph { return m.main }

// Graphs returns all graphs, the main graph first and then subgraphs in the order they were created.
func (m *Model) Graphs() []*Graph { return slices.Clone(m.graphs) }

// Graph returns the graph with the given name, or nil if there is none.
func (m *Model) Graph(name string) *Graph {
	for _, g := range m.graphs {
		if g.name == name {
			return g
		}
	}
	return nil
}

// AddSubgraph creates a new empty subgraph of parent. Graph names must be unique within the model.
func (m *Model) AddSubgraph(name string, parent *Graph) *Graph {
	if parent == nil || m.Graph(parent.name) != parent {
		exceptions.Panicf("Model.AddSubgraph(%q): parent graph is not part of the model", name)
	}
	if m.Graph(name) != nil {
		exceptions.Panicf("Model.AddSubgraph(%q): a graph with this name already exists", name)
	}
	g := newGraph(name, parent)
	m.graphs = append(m.graphs, g)
	return g
}

// NumNodes returns the total number of nodes in all graphs.
func (m *Model) NumNodes() (count int) {
	for _, g := range m.graphs {
		count += len(g.nodes)
	}
	return
}
