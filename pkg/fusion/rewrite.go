// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/graphfusion/pkg/core/graph"
	"github.com/gomlx/graphfusion/pkg/support/sets"
	"k8s.io/klog/v2"
)

// IsSafeToFuse returns whether every output of every node in nodes, except those listed in keepOutputs,
// is consumed only by nodes in the set. A tensor declared as a graph output counts as an external consumer.
func IsSafeToFuse(idx *graph.Index, nodes []*graph.Node, keepOutputs []string) bool {
	members := sets.MakeWith(nodes...)
	for _, node := range nodes {
		for _, output := range node.Outputs {
			if output == "" || slices.Contains(keepOutputs, output) {
				continue
			}
			if idx.IsGraphOutput(output) {
				klog.V(1).Infof("IsSafeToFuse: %q output of %q is a graph output", output, node.Name)
				return false
			}
			for _, consumer := range idx.Consumers(output) {
				if !members.Has(consumer) {
					klog.V(1).Infof("IsSafeToFuse: %q output of %q is also used by %q", output, node.Name, consumer.Name)
					return false
				}
			}
		}
	}
	return true
}

// StageRewrite stages in tx the replacement of the matched nodes by newNode, in the graph named graphName.
//
// logicalOutput is the node of matched whose outputs newNode takes over. If all other outputs of matched
// are consumed only within matched, all matched nodes are staged for removal and it returns true. Otherwise,
// only logicalOutput is removed: the rest of the chain is still needed by other consumers, and it is
// left for pruning once it becomes unused.
func StageRewrite(idx *graph.Index, tx *Transaction, matched []*graph.Node, logicalOutput, newNode *graph.Node, graphName string) (inPlace bool) {
	if !slices.Contains(matched, logicalOutput) {
		exceptions.Panicf("fusion.StageRewrite: logical output node %q is not in the matched set", logicalOutput.Name)
	}
	inPlace = IsSafeToFuse(idx, matched, logicalOutput.Outputs)
	if inPlace {
		tx.StageRemove(matched...)
	} else {
		klog.V(1).Infof("fusion of %q: intermediate results reused, only %q is removed", newNode.Name, logicalOutput.Name)
		tx.StageRemove(logicalOutput)
	}
	tx.StageAdd(newNode, graphName)
	return inPlace
}

// Apply applies the transaction to the indexed model, and updates the index.
//
// Everything is validated before the model is changed. Each graph with removed nodes gets its new
// nodes at the position of its last removed node, which keeps the topological order for rewrites whose
// new node takes over the outputs of the last node of the pattern. New nodes of a graph with no removed
// nodes are appended.
//
// It panics if a node to remove is not indexed, or if a graph name is unknown.
func Apply(idx *graph.Index, tx *Transaction) {
	model := idx.Model()
	lookupGraph := func(name string) *graph.Graph {
		g := model.Graph(name)
		if g == nil {
			exceptions.Panicf("fusion.Apply: unknown graph %q", name)
		}
		return g
	}

	initGraphs := make([]*graph.Graph, len(tx.Initializers))
	for ii, init := range tx.Initializers {
		initGraphs[ii] = lookupGraph(init.GraphName)
	}

	removed := sets.Make[*graph.Node]()
	var removeOrder []*graph.Node
	for _, node := range tx.NodesToRemove {
		if removed.Has(node) {
			continue
		}
		if !idx.Contains(node) {
			exceptions.Panicf("fusion.Apply: node %q to remove is not part of the indexed model", node.Name)
		}
		removed.Insert(node)
		removeOrder = append(removeOrder, node)
	}

	newNodesPerGraph := make(map[*graph.Graph][]*graph.Node)
	var graphsWithNewNodes []*graph.Graph
	for _, node := range tx.NodesToAdd {
		g := lookupGraph(tx.NodeNameToGraphName[node.Name])
		if _, found := newNodesPerGraph[g]; !found {
			graphsWithNewNodes = append(graphsWithNewNodes, g)
		}
		newNodesPerGraph[g] = append(newNodesPerGraph[g], node)
	}

	for ii, init := range tx.Initializers {
		idx.AddInitializer(initGraphs[ii], init.Name, init.Tensor)
	}

	// Graphs touched: rebuild their node lists.
	touched := sets.Make[*graph.Graph]()
	for _, node := range removeOrder {
		touched.Insert(idx.GraphOf(node))
	}
	for _, g := range model.Graphs() {
		if !touched.Has(g) {
			continue
		}
		lastRemoved := -1
		for pos, node := range g.Nodes() {
			if removed.Has(node) {
				lastRemoved = pos
			}
		}
		nodes := slices.Clone(g.Nodes())
		insertAt := lastRemoved
		for pos := range nodes[:lastRemoved] {
			if removed.Has(nodes[pos]) {
				insertAt--
			}
		}
		for _, node := range nodes {
			if removed.Has(node) {
				g.RemoveNode(node)
			}
		}
		g.InsertNodes(insertAt, newNodesPerGraph[g]...)
		delete(newNodesPerGraph, g)
	}
	for _, g := range graphsWithNewNodes {
		if nodes, found := newNodesPerGraph[g]; found {
			g.AddNode(nodes...)
		}
	}

	for _, node := range removeOrder {
		idx.Remove(node)
	}
	for _, node := range tx.NodesToAdd {
		idx.Add(node, lookupGraph(tx.NodeNameToGraphName[node.Name]))
	}
}
