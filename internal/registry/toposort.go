package registry

import (
	"fmt"
	"sort"

	"github.com/dispatchkit/core/internal/core/errs"
)

// topoSort orders discovered by dependency (spec §4.2 step 7): Kahn's
// algorithm, choosing zero-in-degree nodes in sorted order for
// determinism, releasing dependents in sorted order as each completes. A
// missing required dependency is a load error; a missing optional
// dependency is silently dropped as an edge. Any remaining nodes once the
// queue drains indicate a cycle, reported as a CodeCircularDependency
// error carrying one offending cycle path.
func topoSort(discovered map[string]*discoveredModule) ([]string, error) {
	inDegree := make(map[string]int, len(discovered))
	dependents := make(map[string][]string, len(discovered))

	for id := range discovered {
		inDegree[id] = 0
	}

	for id, dm := range discovered {
		for _, dep := range dm.dependencies {
			if _, ok := discovered[dep.ModuleID]; !ok {
				if dep.Optional {
					continue
				}
				return nil, errs.New(errs.CodeModuleLoadError, fmt.Sprintf("registry: module %q requires missing dependency %q", id, dep.ModuleID))
			}
			inDegree[id]++
			dependents[dep.ModuleID] = append(dependents[dep.ModuleID], id)
		}
	}
	for dep := range dependents {
		sort.Strings(dependents[dep])
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(discovered))
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(discovered) {
		cycle := remainingCycle(order, discovered)
		return nil, errs.New(errs.CodeCircularDependency, fmt.Sprintf("registry: circular dependency among modules: %v", cycle)).WithDetails(map[string]any{"cycle": cycle})
	}

	return order, nil
}

// remainingCycle extracts one cycle path, for diagnostics, from the nodes
// that never reached zero in-degree (i.e. were never appended to order).
// Starting at the first such node in sorted order, it follows
// dependencies that are themselves unsorted until a node repeats; the
// returned path begins and ends with that node.
func remainingCycle(order []string, discovered map[string]*discoveredModule) []string {
	done := make(map[string]bool, len(order))
	for _, id := range order {
		done[id] = true
	}
	var remaining []string
	for id := range discovered {
		if !done[id] {
			remaining = append(remaining, id)
		}
	}
	sort.Strings(remaining)

	index := map[string]int{}
	var path []string
	for cur := remaining[0]; cur != ""; {
		if i, seen := index[cur]; seen {
			return append(path[i:], cur)
		}
		index[cur], path = len(path), append(path, cur)
		next := ""
		for _, dep := range discovered[cur].dependencies {
			if _, ok := discovered[dep.ModuleID]; ok && !done[dep.ModuleID] && next == "" {
				next = dep.ModuleID
			}
		}
		cur = next
	}
	return remaining
}
