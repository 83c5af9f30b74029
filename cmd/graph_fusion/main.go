// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// graph_fusion loads a model in YAML format, applies the selected fusions until no more apply,
// prints a report and optionally saves the optimized model.
//
// Usage:
//
//	graph_fusion [flags] <model.yaml>
package main

import (
	"flag"
	"os"
	"strings"

	"github.com/gomlx/graphfusion/pkg/core/graph/graphyaml"
	"github.com/gomlx/graphfusion/pkg/fusion"
	"github.com/gomlx/graphfusion/pkg/fusion/constants"
	"github.com/gomlx/graphfusion/pkg/fusion/groupnorm"
	"github.com/gomlx/graphfusion/pkg/support/fsutil"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagFusions = flag.String("fusions", groupnorm.Name,
		"Comma-separated list of fusions to apply, in order. Use -list to see the available ones.")
	flagList      = flag.Bool("list", false, "List the registered fusions and exit.")
	flagGroups    = flag.Int("groups", groupnorm.DefaultGroups, "Number of groups expected by the GroupNorm fusion.")
	flagDomain    = flag.String("domain", groupnorm.DefaultDomain, "Domain of the fused GroupNorm nodes.")
	flagAtol      = flag.Float64("atol", constants.DefaultTolerance.Absolute, "Absolute tolerance when comparing constants.")
	flagRtol      = flag.Float64("rtol", constants.DefaultTolerance.Relative, "Relative tolerance when comparing constants.")
	flagMaxRounds = flag.Int("max_rounds", fusion.DefaultMaxRounds, "Maximum number of rounds over all fusions.")
	flagKeepOps   = flag.String("keep_ops", "", "Comma-separated list of operator types with side effects, never pruned.")
	flagNoPrune   = flag.Bool("no_prune", false, "Don't prune the nodes orphaned by the fusions.")
	flagOutput    = flag.String("output", "", "Path where to save the optimized model. If empty, it is not saved.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *flagList {
		listFusions()
		return
	}
	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected exactly one model file to optimize, got %d arguments. See 'graph_fusion -help'.", len(args))
		os.Exit(1)
	}

	rules := must.M1(fusion.NewRules(splitList(*flagFusions)...))
	tolerance := constants.Tolerance{Absolute: *flagAtol, Relative: *flagRtol}
	for _, rule := range rules {
		if gn, ok := rule.(*groupnorm.Fusion); ok {
			gn.Groups(*flagGroups).Tolerance(tolerance).Domain(*flagDomain)
		}
	}

	modelPath := must.M1(fsutil.ExpandHome(args[0]))
	if !must.M1(fsutil.FileExists(modelPath)) {
		klog.Fatalf("Model file %q not found.", modelPath)
	}
	model := must.M1(graphyaml.Load(modelPath))
	before := summarize(model)
	stats, err := fusion.NewOptimizer(rules...).
		MaxRounds(*flagMaxRounds).
		KeepOpTypes(splitList(*flagKeepOps)...).
		Prune(!*flagNoPrune).
		Optimize(model)
	if err != nil {
		klog.Fatalf("Failed to optimize %q: %+v", modelPath, err)
	}
	report(modelPath, before, summarize(model), stats)

	if *flagOutput != "" {
		must.M(graphyaml.Save(model, *flagOutput))
		klog.V(1).Infof("Saved optimized model to %q", *flagOutput)
	}
}

// splitList splits a comma-separated list, dropping empty elements.
func splitList(list string) []string {
	var parts []string
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
