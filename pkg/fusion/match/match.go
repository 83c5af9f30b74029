// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package match implements the positional traversal used by the fusion rules to find a pattern
// anchored at a node.
//
// A pattern is a list of Step, each naming the operator type required and which input slot of the
// previously matched node (or of the anchor, for the first step) should be followed. A Step built with
// AnySlot tries every input slot in order and commits to the first one whose producer has the required
// operator type: there is no backtracking over committed steps.
//
// Matching never changes the graph, nor clones nodes: the results are the nodes of the graph
// themselves. A slot holding a graph input, an initializer or an omitted optional input has no producer,
// and it is a normal non-match.
package match

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/graphfusion/pkg/core/graph"
)

// AnySlotIndex is the Slot value of a Step that accepts any input slot.
const AnySlotIndex = -1 << 31

// Step is one element of a parent path: the operator type required and the input slot to follow.
//
// Create it with Fixed or AnySlot.
type Step struct {
	OpType string
	Slot   int
}

// Fixed returns a step that follows the given input slot. Negative slots count from the end of the inputs.
func Fixed(opType string, slot int) Step {
	return Step{OpType: opType, Slot: slot}
}

// AnySlot returns a step that tries all input slots, in order, and accepts the first with a producer of type opType.
func AnySlot(opType string) Step {
	return Step{OpType: opType, Slot: AnySlotIndex}
}

// IsAnySlot returns whether the step accepts any slot.
func (s Step) IsAnySlot() bool { return s.Slot == AnySlotIndex }

// String implements fmt.Stringer.
func (s Step) String() string {
	if s.IsAnySlot() {
		return fmt.Sprintf("%s/*", s.OpType)
	}
	return fmt.Sprintf("%s/%d", s.OpType, s.Slot)
}

// Path builds a path of fixed steps from the parallel lists of operator types and slots, the
// form used to declare most patterns.
//
// It panics if the lists have different lengths.
func Path(opTypes []string, slots []int) []Step {
	if len(opTypes) != len(slots) {
		exceptions.Panicf("match.Path: %d operator types given, but %d slots", len(opTypes), len(slots))
	}
	steps := make([]Step, len(opTypes))
	for ii, opType := range opTypes {
		steps[ii] = Fixed(opType, slots[ii])
	}
	return steps
}

func checkAnchor(idx *graph.Index, node *graph.Node) {
	if node == nil {
		exceptions.Panicf("match: nil anchor node")
	}
	if !idx.Contains(node) {
		exceptions.Panicf("match: node %q is not part of the indexed model", node.Name)
	}
}

// Parent returns the producer of the tensor at the given input slot of node, or nil if the slot is
// out of range or the tensor has no producer node.
func Parent(idx *graph.Index, node *graph.Node, slot int) *graph.Node {
	input, ok := node.Input(slot)
	if !ok {
		return nil
	}
	return idx.Producer(input)
}

// MatchParent returns the parent of node at the given slot if it has the given operator type, or nil.
// If slot is AnySlotIndex, it behaves like MatchFirstParent with no exclusions.
func MatchParent(idx *graph.Index, node *graph.Node, opType string, slot int) *graph.Node {
	if slot == AnySlotIndex {
		parent, _ := MatchFirstParent(idx, node, opType, nil)
		return parent
	}
	parent := Parent(idx, node, slot)
	if parent == nil || parent.OpType != opType {
		return nil
	}
	return parent
}

// MatchFirstParent returns the first parent of node, in slot order, with the given operator type and not in exclude.
// It returns the parent and its slot, or (nil, -1).
func MatchFirstParent(idx *graph.Index, node *graph.Node, opType string, exclude []*graph.Node) (*graph.Node, int) {
	for slot := range node.Inputs {
		parent := Parent(idx, node, slot)
		if parent == nil || parent.OpType != opType || slices.Contains(exclude, parent) {
			continue
		}
		return parent, slot
	}
	return nil, -1
}

// MatchParentPath follows steps backwards from anchor, and returns the matched nodes, one per step,
// or nil if any step fails.
//
// It panics if anchor is nil or not indexed: that is a malformed input, not a non-match.
func MatchParentPath(idx *graph.Index, anchor *graph.Node, steps ...Step) []*graph.Node {
	nodes, _ := MatchParentPathWithSlots(idx, anchor, steps...)
	return nodes
}

// MatchParentPathWithSlots is like MatchParentPath, but it also returns the input slot followed at each step,
// which is useful when AnySlot steps were used.
func MatchParentPathWithSlots(idx *graph.Index, anchor *graph.Node, steps ...Step) (nodes []*graph.Node, slots []int) {
	checkAnchor(idx, anchor)
	nodes = make([]*graph.Node, 0, len(steps))
	slots = make([]int, 0, len(steps))
	current := anchor
	for _, step := range steps {
		var parent *graph.Node
		slot := step.Slot
		if step.IsAnySlot() {
			parent, slot = MatchFirstParent(idx, current, step.OpType, nil)
		} else {
			parent = MatchParent(idx, current, step.OpType, slot)
		}
		if parent == nil {
			return nil, nil
		}
		nodes = append(nodes, parent)
		slots = append(slots, slot)
		current = parent
	}
	return nodes, slots
}

// MatchParentPaths tries the alternative paths in order, and returns the position of the first one matched
// and its nodes. It returns (-1, nil) if none matched.
func MatchParentPaths(idx *graph.Index, anchor *graph.Node, paths ...[]Step) (int, []*graph.Node) {
	for ii, steps := range paths {
		if nodes := MatchParentPath(idx, anchor, steps...); nodes != nil {
			return ii, nodes
		}
	}
	return -1, nil
}

// Children returns the consumers of all outputs of node, in output order and then in index order.
// A child consuming more than one output (or the same output twice) is listed only once.
func Children(idx *graph.Index, node *graph.Node) []*graph.Node {
	var children []*graph.Node
	for _, output := range node.Outputs {
		for _, child := range idx.Consumers(output) {
			if !slices.Contains(children, child) {
				children = append(children, child)
			}
		}
	}
	return children
}

// FindFirstChildByType searches the consumers of node for the first one with the given operator type.
// If recursive is true, it searches descendants breadth-first, otherwise only direct children.
// It returns nil if not found.
func FindFirstChildByType(idx *graph.Index, node *graph.Node, opType string, recursive bool) *graph.Node {
	visited := map[*graph.Node]bool{node: true}
	queue := Children(idx, node)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		if current.OpType == opType {
			return current
		}
		if recursive {
			queue = append(queue, Children(idx, current)...)
		}
	}
	return nil
}

// InputIndex returns the first input slot of node holding tensorName, or -1.
func InputIndex(node *graph.Node, tensorName string) int {
	return slices.Index(node.Inputs, tensorName)
}

// OtherInput returns the input of a binary node that is not the data edge tensorName.
// It returns false if node doesn't have exactly two inputs or doesn't consume tensorName.
func OtherInput(node *graph.Node, tensorName string) (string, bool) {
	if len(node.Inputs) != 2 {
		return "", false
	}
	slot := InputIndex(node, tensorName)
	if slot < 0 {
		return "", false
	}
	return node.Inputs[1-slot], true
}
