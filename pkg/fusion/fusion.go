// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fusion implements the framework of the fusion rules: subgraph rewrites that replace a
// validated pattern of nodes by one equivalent fused node.
//
// A Rule is attempted once per candidate anchor node (a node of the rule's AnchorOpType). While
// matching, a rule never changes the graph: it stages its changes (nodes to remove, nodes to add,
// initializers to register, and whether a prune is needed) in its Transaction. The Optimizer applies
// each staged Transaction, and updates the Index, before the next anchor is matched.
//
// A failed match is silent and leaves nothing staged. Malformed inputs (a nil or unindexed anchor,
// a tensor with two producers) panic, and the Optimizer returns them as errors.
package fusion

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/graphfusion/pkg/core/graph"
	"github.com/gomlx/graphfusion/pkg/core/tensors"
	"k8s.io/klog/v2"
)

// Rule is one fusion rule.
type Rule interface {
	// Name of the rule, used for statistics and logging.
	Name() string

	// AnchorOpType is the operator type of the nodes that trigger an attempt of the rule.
	AnchorOpType() string

	// Fuse attempts the rule at anchor. It returns true if, and only if, a rewrite was staged in the rule's Transaction.
	Fuse(idx *graph.Index, anchor *graph.Node) bool

	// Transaction returns the changes staged by Fuse. It is owned by the rule and drained by the caller.
	Transaction() *Transaction
}

// StagedInitializer is an initializer to be registered in a graph when the Transaction is applied.
type StagedInitializer struct {
	GraphName string
	Name      string
	Tensor    *tensors.Tensor
}

// Transaction holds the changes staged by a rule.
type Transaction struct {
	// NodesToRemove are removed from their graphs.
	NodesToRemove []*graph.Node

	// NodesToAdd are inserted in the graph named by NodeNameToGraphName.
	NodesToAdd []*graph.Node

	// NodeNameToGraphName maps the name of each node to add to its owning graph.
	NodeNameToGraphName map[string]string

	// Initializers to register.
	Initializers []StagedInitializer

	// PruneRequested asks for a sweep of the nodes orphaned by the rewrite, once applied.
	PruneRequested bool
}

// StageRemove stages the nodes for removal.
func (tx *Transaction) StageRemove(nodes ...*graph.Node) {
	tx.NodesToRemove = append(tx.NodesToRemove, nodes...)
}

// StageAdd stages the node to be added to the graph named graphName.
func (tx *Transaction) StageAdd(node *graph.Node, graphName string) {
	if node.Name == "" {
		exceptions.Panicf("fusion.Transaction.StageAdd: new %s node must have a name", node.OpType)
	}
	if tx.NodeNameToGraphName == nil {
		tx.NodeNameToGraphName = make(map[string]string)
	}
	tx.NodesToAdd = append(tx.NodesToAdd, node)
	tx.NodeNameToGraphName[node.Name] = graphName
}

// StageInitializer stages the registration of an initializer in the graph named graphName.
func (tx *Transaction) StageInitializer(graphName, name string, tensor *tensors.Tensor) {
	tx.Initializers = append(tx.Initializers, StagedInitializer{GraphName: graphName, Name: name, Tensor: tensor})
}

// RequestPrune asks for the orphaned nodes to be pruned after the transaction is applied.
func (tx *Transaction) RequestPrune() {
	tx.PruneRequested = true
}

// Empty returns whether nothing is staged.
func (tx *Transaction) Empty() bool {
	return len(tx.NodesToRemove) == 0 && len(tx.NodesToAdd) == 0 && len(tx.Initializers) == 0 && !tx.PruneRequested
}

// Reset drains the transaction.
func (tx *Transaction) Reset() {
	*tx = Transaction{}
}

// Base implements the bookkeeping common to all rules. Embed it in the rule implementation.
type Base struct {
	name, anchorOpType string
	tx                 Transaction
}

// NewBase returns a Base for a rule with the given name and anchor operator type.
func NewBase(name, anchorOpType string) Base {
	return Base{name: name, anchorOpType: anchorOpType}
}

// Name implements Rule.
func (b *Base) Name() string { return b.name }

// AnchorOpType implements Rule.
func (b *Base) AnchorOpType() string { return b.anchorOpType }

// Transaction implements Rule.
func (b *Base) Transaction() *Transaction { return &b.tx }

// AttemptFuse calls rule.Fuse on anchor, after checking the anchor is a valid candidate.
//
// The rule's transaction is drained before the attempt, and again if the attempt failed, so a
// failed attempt never leaves anything staged.
//
// It panics if anchor is nil or not part of the indexed model.
func AttemptFuse(rule Rule, idx *graph.Index, anchor *graph.Node) bool {
	if anchor == nil {
		exceptions.Panicf("fusion.AttemptFuse(%s): nil anchor", rule.Name())
	}
	if !idx.Contains(anchor) {
		exceptions.Panicf("fusion.AttemptFuse(%s): anchor %q is not part of the indexed model", rule.Name(), anchor.Name)
	}
	tx := rule.Transaction()
	tx.Reset()
	if anchor.OpType != rule.AnchorOpType() {
		return false
	}
	if !rule.Fuse(idx, anchor) {
		tx.Reset()
		return false
	}
	if klog.V(1).Enabled() {
		klog.Infof("fusion %s at %q: removing %d nodes, adding %d", rule.Name(), anchor.Name,
			len(tx.NodesToRemove), len(tx.NodesToAdd))
	}
	return true
}
