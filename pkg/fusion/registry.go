// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/graphfusion/pkg/support/sets"
	"github.com/pkg/errors"
)

// Constructor creates a new instance of a rule, with its default configuration.
type Constructor func() Rule

// registry holds the mapping from rule names to their constructors.
var registry = make(map[string]Constructor)

// Register adds a rule constructor under name. Usually called from the init function of the
// package implementing the rule. It panics if name is already registered.
func Register(name string, constructor Constructor) {
	if _, found := registry[name]; found {
		exceptions.Panicf("fusion.Register(%q): rule already registered", name)
	}
	registry[name] = constructor
}

// Lookup returns the constructor registered under name.
func Lookup(name string) (Constructor, bool) {
	constructor, found := registry[name]
	return constructor, found
}

// Registered returns the names of the registered rules, sorted.
func Registered() []string {
	names := sets.Make[string](len(registry))
	for name := range registry {
		names.Insert(name)
	}
	return sets.Sorted(names)
}

// NewRules creates one instance of each of the named rules, in the order given.
func NewRules(names ...string) ([]Rule, error) {
	rules := make([]Rule, 0, len(names))
	for _, name := range names {
		constructor, found := Lookup(name)
		if !found {
			return nil, errors.Errorf("unknown fusion rule %q, registered rules are %v", name, Registered())
		}
		rules = append(rules, constructor())
	}
	return rules, nil
}
