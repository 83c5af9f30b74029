// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/graphfusion/pkg/core/graph"
	"github.com/gomlx/graphfusion/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultMaxRounds is the default limit of rounds of Optimizer.Optimize.
const DefaultMaxRounds = 10

// RuleStatistics counts what one rule did during Optimizer.Optimize.
type RuleStatistics struct {
	Rule string

	// Anchors is the number of anchor nodes the rule was attempted on.
	Anchors int

	// Fused is the number of rewrites applied.
	Fused int

	// NodesRemoved and NodesAdded by the rewrites.
	NodesRemoved, NodesAdded int

	// NodesPruned and InitializersPruned by the sweeps requested by the rewrites.
	NodesPruned, InitializersPruned int
}

// Statistics of one call to Optimizer.Optimize.
type Statistics struct {
	// Rounds is the number of rounds over all rules executed, including the last one, that changed nothing.
	Rounds int

	// Rules holds the statistics of each rule, in the order they were configured.
	Rules []*RuleStatistics
}

// Fused returns the total number of rewrites applied.
func (s *Statistics) Fused() (count int) {
	for _, rs := range s.Rules {
		count += rs.Fused
	}
	return
}

// Rule returns the statistics of the rule with the given name, or nil.
func (s *Statistics) Rule(name string) *RuleStatistics {
	for _, rs := range s.Rules {
		if rs.Rule == name {
			return rs
		}
	}
	return nil
}

// Optimizer drives the fusion rules over a model until no rule applies.
//
// Create it with NewOptimizer, optionally configure it, and call Optimize.
type Optimizer struct {
	rules       []Rule
	maxRounds   int
	keepOpTypes sets.Set[string]
	prune       bool
}

// NewOptimizer creates an Optimizer for the given rules, attempted in the order given.
func NewOptimizer(rules ...Rule) *Optimizer {
	return &Optimizer{
		rules:       rules,
		maxRounds:   DefaultMaxRounds,
		keepOpTypes: sets.Make[string](),
		prune:       true,
	}
}

// MaxRounds sets the maximum number of rounds over all rules. It must be >= 1.
func (o *Optimizer) MaxRounds(maxRounds int) *Optimizer {
	if maxRounds < 1 {
		exceptions.Panicf("Optimizer.MaxRounds(%d): must be at least 1", maxRounds)
	}
	o.maxRounds = maxRounds
	return o
}

// KeepOpTypes declares operator types with side effects: the pruning never removes them.
func (o *Optimizer) KeepOpTypes(opTypes ...string) *Optimizer {
	o.keepOpTypes.Insert(opTypes...)
	return o
}

// Prune enables or disables the sweeps requested by the rewrites. Enabled by default.
func (o *Optimizer) Prune(enabled bool) *Optimizer {
	o.prune = enabled
	return o
}

// Optimize runs the rules over the model until a complete round fuses nothing, or the maximum number of
// rounds is reached.
//
// Within a round, each rule is attempted on every node of its anchor type present in the model when the
// rule starts. Each staged rewrite is applied, and the index updated, before the next anchor is
// attempted. Anchors removed by a previous rewrite are skipped. If any rewrite of the rule requested it,
// a prune follows.
//
// A malformed model (e.g. a tensor with two producers) returns an error, and the model may have been
// partially optimized.
func (o *Optimizer) Optimize(model *graph.Model) (stats *Statistics, err error) {
	stats = &Statistics{}
	for _, rule := range o.rules {
		stats.Rules = append(stats.Rules, &RuleStatistics{Rule: rule.Name()})
	}
	err = exceptions.TryCatch[error](func() {
		idx := graph.NewIndex(model)
		for round := 0; round < o.maxRounds; round++ {
			stats.Rounds = round + 1
			fused := 0
			for ii, rule := range o.rules {
				fused += o.runRule(idx, rule, stats.Rules[ii])
			}
			klog.V(1).Infof("Optimize: round %d fused %d subgraphs", round, fused)
			if fused == 0 {
				return
			}
		}
	})
	if err != nil {
		err = errors.WithMessage(err, "fusion.Optimizer.Optimize")
	}
	return
}

// runRule attempts rule on all its anchors and returns the number of rewrites applied.
func (o *Optimizer) runRule(idx *graph.Index, rule Rule, rs *RuleStatistics) (fused int) {
	pruneRequested := false
	for _, anchor := range idx.NodesByOpType(rule.AnchorOpType()) {
		if !idx.Contains(anchor) {
			continue
		}
		rs.Anchors++
		if !AttemptFuse(rule, idx, anchor) {
			continue
		}
		tx := rule.Transaction()
		rs.NodesRemoved += len(sets.MakeWith(tx.NodesToRemove...))
		rs.NodesAdded += len(tx.NodesToAdd)
		pruneRequested = pruneRequested || tx.PruneRequested
		Apply(idx, tx)
		tx.Reset()
		fused++
	}
	rs.Fused += fused
	if pruneRequested && o.prune {
		nodes, initializers := Prune(idx, o.keepOpTypes)
		rs.NodesPruned += nodes
		rs.InitializersPruned += initializers
	}
	if fused > 0 {
		klog.V(1).Infof("Fused %s: %d", rule.Name(), fused)
	}
	return
}
