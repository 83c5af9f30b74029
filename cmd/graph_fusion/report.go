// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/graphfusion/pkg/core/graph"
	"github.com/gomlx/graphfusion/pkg/fusion"
	"github.com/gomlx/graphfusion/pkg/support/sets"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

// modelSummary holds the counts reported before and after the optimization.
type modelSummary struct {
	numNodes, numInitializers int
	initializersMemory        uintptr
	opTypes                   map[string]int
}

func summarize(model *graph.Model) modelSummary {
	s := modelSummary{opTypes: make(map[string]int)}
	for _, g := range model.Graphs() {
		for _, node := range g.Nodes() {
			s.numNodes++
			s.opTypes[node.OpType]++
		}
		for _, name := range g.InitializerNames() {
			s.numInitializers++
			s.initializersMemory += g.Initializer(name).Shape().Memory()
		}
	}
	return s
}

func report(modelPath string, before, after modelSummary, stats *fusion.Statistics) {
	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(true)
	table.Row("", "Before", "After")
	table.Row("model", modelPath, "")
	table.Row("# nodes", humanize.Comma(int64(before.numNodes)), humanize.Comma(int64(after.numNodes)))
	table.Row("# initializers", humanize.Comma(int64(before.numInitializers)), humanize.Comma(int64(after.numInitializers)))
	table.Row("# bytes", humanize.Bytes(uint64(before.initializersMemory)), humanize.Bytes(uint64(after.initializersMemory)))
	table.Row("rounds", "", humanize.Comma(int64(stats.Rounds)))
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Fusions"))
	table = newPlainTable(true)
	table.Row("Fusion", "Anchors", "Fused", "Removed", "Added", "Pruned", "Pruned Initializers")
	for _, rs := range stats.Rules {
		table.Row(rs.Rule,
			humanize.Comma(int64(rs.Anchors)),
			humanize.Comma(int64(rs.Fused)),
			humanize.Comma(int64(rs.NodesRemoved)),
			humanize.Comma(int64(rs.NodesAdded)),
			humanize.Comma(int64(rs.NodesPruned)),
			humanize.Comma(int64(rs.InitializersPruned)))
	}
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Operators"))
	table = newPlainTable(true)
	table.Row("Operator", "Before", "After")
	opTypes := sets.Make[string](len(before.opTypes) + len(after.opTypes))
	for opType := range before.opTypes {
		opTypes.Insert(opType)
	}
	for opType := range after.opTypes {
		opTypes.Insert(opType)
	}
	for _, opType := range sets.Sorted(opTypes) {
		table.Row(opType, humanize.Comma(int64(before.opTypes[opType])), humanize.Comma(int64(after.opTypes[opType])))
	}
	fmt.Println(table.Render())
}

func listFusions() {
	fmt.Println(titleStyle.Render("Registered fusions"))
	table := newPlainTable(true)
	table.Row("Fusion", "Anchor")
	for _, name := range fusion.Registered() {
		constructor, _ := fusion.Lookup(name)
		table.Row(name, constructor().AnchorOpType())
	}
	fmt.Println(table.Render())
}
