// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"github.com/gomlx/graphfusion/pkg/core/graph"
	"github.com/gomlx/graphfusion/pkg/support/sets"
	"k8s.io/klog/v2"
)

// Prune removes, recursively, the nodes whose outputs have no consumers and are not graph outputs,
// and then the initializers no longer used.
//
// Nodes without outputs and nodes whose operator type is in keepOpTypes are considered to have side
// effects, and they are never removed. It returns the number of nodes and initializers removed.
func Prune(idx *graph.Index, keepOpTypes sets.Set[string]) (nodesRemoved, initializersRemoved int) {
	model := idx.Model()
	isDead := func(node *graph.Node) bool {
		if len(node.Outputs) == 0 || keepOpTypes.Has(node.OpType) {
			return false
		}
		for _, output := range node.Outputs {
			if output == "" {
				continue
			}
			if idx.NumConsumers(output) > 0 || idx.IsGraphOutput(output) {
				return false
			}
		}
		return true
	}

	// Worklist, seeded with all nodes in reverse order, so consumers are visited before their producers.
	var worklist []*graph.Node
	for _, g := range model.Graphs() {
		nodes := g.Nodes()
		for ii := len(nodes) - 1; ii >= 0; ii-- {
			worklist = append(worklist, nodes[ii])
		}
	}
	for len(worklist) > 0 {
		node := worklist[0]
		worklist = worklist[1:]
		if !idx.Contains(node) || !isDead(node) {
			continue
		}
		g := idx.GraphOf(node)
		idx.Remove(node)
		g.RemoveNode(node)
		nodesRemoved++
		klog.V(2).Infof("Prune: removed %s", node)
		for _, input := range node.Inputs {
			if producer := idx.Producer(input); producer != nil {
				worklist = append(worklist, producer)
			}
		}
	}

	for _, g := range model.Graphs() {
		for _, name := range g.InitializerNames() {
			if idx.NumConsumers(name) > 0 || idx.IsGraphOutput(name) || g.IsInput(name) {
				continue
			}
			idx.RemoveInitializer(name)
			initializersRemoved++
			klog.V(2).Infof("Prune: removed initializer %q of graph %q", name, g.Name())
		}
	}
	if nodesRemoved+initializersRemoved > 0 {
		klog.V(1).Infof("Prune: removed %d nodes and %d initializers", nodesRemoved, initializersRemoved)
	}
	return
}
