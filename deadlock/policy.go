// Package deadlock provides the policies that the controller uses to spot an
// unsafe allocation pattern in the resource table.
//
// The policies here are bounded heuristic scans. They do not build a
// wait-for graph and may both flag holders that would have made progress and
// miss cycles over resources that are not exhausted.
package deadlock

import (
	"fmt"
	"sort"
)

// A View is the read-only surface of a resource table that policies inspect.
type View interface {
	NumResources() int
	NumSlots() int
	Total(r int) int
	Available(r int) int
	Allocated(r, slot int) int
}

// A Verdict names the slot to force-terminate and the resource that made it
// a suspect.
type Verdict struct {
	Slot     int
	Resource int
}

// A Policy decides which slot, if any, should be force-terminated.
type Policy interface {
	// Name identifies the policy in configuration and logs.
	Name() string

	// Detect scans the table and returns the first suspect it finds.
	Detect(v View) (Verdict, bool)
}

// scanHolders visits slots in index order and, within a slot, resources in
// index order. It returns the first pair for which flagged is true.
func scanHolders(
	v View,
	flagged func(r, slot int) bool,
) (Verdict, bool) {
	for slot := 0; slot < v.NumSlots(); slot++ {
		for r := 0; r < v.NumResources(); r++ {
			if v.Allocated(r, slot) > 0 && flagged(r, slot) {
				return Verdict{Slot: slot, Resource: r}, true
			}
		}
	}

	return Verdict{}, false
}

var policies = map[string]func() Policy{
	ExhaustedHolderName: func() Policy { return ExhaustedHolderHeuristic{} },
	PartialHolderName:   func() Policy { return PartialHolderHeuristic{} },
}

// Names lists the registered policy names.
func Names() []string {
	names := make([]string, 0, len(policies))
	for n := range policies {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// ByName returns the policy registered under name.
func ByName(name string) (Policy, error) {
	create, ok := policies[name]
	if !ok {
		return nil, fmt.Errorf("unknown deadlock policy %q, use one of %v",
			name, Names())
	}

	return create(), nil
}
