package features

import (
	"fmt"
	"sort"

	"github.com/devcontainers/cli-sub000/internal/errors"
)

// OrderFeatures orders features based on their dependencies.
// It performs a topological sort considering:
// - dependsOn: hard dependencies (must be installed before)
// - installsAfter: soft dependencies (prefer to install after)
// - overrideOrder: explicit ordering from devcontainer.json
func OrderFeatures(features []*Feature, overrideOrder []string) ([]*Feature, error) {
	if len(features) == 0 {
		return features, nil
	}

	// Build a map for quick lookup
	featureMap := make(map[string]*Feature)
	for _, f := range features {
		// Use the feature's metadata ID if available, otherwise use the original ID
		id := f.ID
		if f.Metadata != nil && f.Metadata.ID != "" {
			id = f.Metadata.ID
		}
		featureMap[id] = f
	}

	// If override order is specified, use it
	if len(overrideOrder) > 0 {
		return applyOverrideOrder(features, overrideOrder, featureMap)
	}

	// Build dependency graph
	graph := buildDependencyGraph(features, featureMap)

	// Topological sort
	return topologicalSort(features, graph)
}

// applyOverrideOrder reorders features based on the override order.
func applyOverrideOrder(features []*Feature, overrideOrder []string, featureMap map[string]*Feature) ([]*Feature, error) {
	result := make([]*Feature, 0, len(features))
	used := make(map[string]bool)

	// First, add features in the override order
	for _, id := range overrideOrder {
		if f, ok := featureMap[id]; ok {
			result = append(result, f)
			used[id] = true
		}
	}

	// Then add remaining features not in the override order
	for _, f := range features {
		id := f.ID
		if f.Metadata != nil && f.Metadata.ID != "" {
			id = f.Metadata.ID
		}
		if !used[id] {
			result = append(result, f)
		}
	}

	return result, nil
}

// dependencyGraph represents the dependency relationships between features.
type dependencyGraph struct {
	// hardDeps maps feature ID to its hard dependencies (dependsOn)
	hardDeps map[string][]string

	// softDeps maps feature ID to its soft dependencies (installsAfter)
	softDeps map[string][]string
}

// buildDependencyGraph constructs the dependency graph from features.
func buildDependencyGraph(features []*Feature, featureMap map[string]*Feature) *dependencyGraph {
	graph := &dependencyGraph{
		hardDeps: make(map[string][]string),
		softDeps: make(map[string][]string),
	}

	for _, f := range features {
		id := f.ID
		if f.Metadata != nil && f.Metadata.ID != "" {
			id = f.Metadata.ID
		}

		if f.Metadata != nil {
			for _, dep := range f.Metadata.DependsOn {
				graph.hardDeps[id] = append(graph.hardDeps[id], dep)
			}

			// Add soft dependencies
			for _, dep := range f.Metadata.InstallsAfter {
				// Only add soft dep if the dependency is actually in our feature list
				if _, exists := featureMap[dep]; exists {
					graph.softDeps[id] = append(graph.softDeps[id], dep)
				}
			}
		}
	}

	return graph
}

// topologicalSort performs a topological sort on the features.
func topologicalSort(features []*Feature, graph *dependencyGraph) ([]*Feature, error) {
	// Build ID list and map
	ids := make([]string, len(features))
	idToFeature := make(map[string]*Feature)
	for i, f := range features {
		id := f.ID
		if f.Metadata != nil && f.Metadata.ID != "" {
			id = f.Metadata.ID
		}
		ids[i] = id
		idToFeature[id] = f
	}

	// Kahn's algorithm for topological sort
	// Calculate in-degree for each node (considering hard deps only for correctness)
	inDegree := make(map[string]int)
	for _, id := range ids {
		inDegree[id] = 0
	}

	// For each feature, count how many hard dependencies it has that are in our set
	for id := range inDegree {
		for _, dep := range graph.hardDeps[id] {
			if _, exists := inDegree[dep]; exists {
				inDegree[id]++
			}
		}
	}

	// Queue for nodes with no dependencies
	var queue []string
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	// Sort queue for deterministic output (considering soft deps)
	sort.Slice(queue, func(i, j int) bool {
		return queue[i] < queue[j]
	})

	// Process queue
	var result []*Feature
	processed := make(map[string]bool)

	for len(queue) > 0 {
		// Pick the best candidate considering soft dependencies
		idx := pickBestCandidate(queue, graph.softDeps, processed)
		current := queue[idx]
		queue = append(queue[:idx], queue[idx+1:]...)

		result = append(result, idToFeature[current])
		processed[current] = true

		// Update in-degrees
		for id, deps := range graph.hardDeps {
			if processed[id] {
				continue
			}
			for _, dep := range deps {
				if dep == current {
					inDegree[id]--
					if inDegree[id] == 0 {
						queue = append(queue, id)
					}
				}
			}
		}

		// Re-sort queue for determinism
		sort.Slice(queue, func(i, j int) bool {
			return queue[i] < queue[j]
		})
	}

	// Check for cycles
	if len(result) != len(features) {
		if cycle := findCycle(ids, graph.hardDeps); cycle != nil {
			return nil, errors.FeatureCycle(cycle)
		}
		return nil, fmt.Errorf("cyclic dependency detected in features")
	}

	return result, nil
}

// cycleColor tracks DFS visitation state for findCycle.
type cycleColor int

const (
	white cycleColor = iota // unvisited
	gray                    // on the current DFS stack
	black                   // fully explored
)

// findCycle walks the hard-dependency graph with a three-color DFS and
// returns the node sequence of the first cycle it encounters, or nil if the
// graph (restricted to the given ids) is acyclic. A gray node reached again
// is the back edge that closes the cycle.
func findCycle(ids []string, hardDeps map[string][]string) []string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	colors := make(map[string]cycleColor, len(ids))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		stack = append(stack, id)

		deps := append([]string(nil), hardDeps[id]...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch colors[dep] {
			case gray:
				// Found the back edge; extract the cycle from the stack.
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string(nil), stack[start:]...), dep)
				return true
			case black:
				continue
			default:
				if visit(dep) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = black
		return false
	}

	for _, id := range sorted {
		if colors[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// pickBestCandidate selects the best candidate from the queue considering soft
// dependencies (installsAfter). queue is assumed sorted ascending by id, which
// gives the lowest id priority on every tie below.
//
// A candidate's net score is the count of its soft deps already processed
// minus the count still pending; higher is better, since it means the
// candidate's installsAfter preferences are more satisfied. Ties are broken
// by demand: the number of other still-queued candidates that list this id
// as a soft dependency, so a feature other pending features are waiting on
// is installed sooner, unblocking their own preference. Remaining ties keep
// the ascending-id order of the queue.
func pickBestCandidate(queue []string, softDeps map[string][]string, processed map[string]bool) int {
	inQueue := make(map[string]bool, len(queue))
	for _, id := range queue {
		inQueue[id] = true
	}

	demand := make(map[string]int, len(queue))
	for _, id := range queue {
		for _, dep := range softDeps[id] {
			if inQueue[dep] {
				demand[dep]++
			}
		}
	}

	bestIdx := 0
	bestScore := netSoftDepScore(queue[0], softDeps, processed)
	bestDemand := demand[queue[0]]

	for i := 1; i < len(queue); i++ {
		id := queue[i]
		score := netSoftDepScore(id, softDeps, processed)
		d := demand[id]

		if score > bestScore || (score == bestScore && d > bestDemand) {
			bestIdx = i
			bestScore = score
			bestDemand = d
		}
	}

	return bestIdx
}

// netSoftDepScore counts id's already-processed soft deps minus its pending ones.
func netSoftDepScore(id string, softDeps map[string][]string, processed map[string]bool) int {
	score := 0
	for _, dep := range softDeps[id] {
		if processed[dep] {
			score++
		} else {
			score--
		}
	}
	return score
}

// ValidateDependencies checks that all hard dependencies are present.
func ValidateDependencies(features []*Feature) error {
	// Build set of available feature IDs
	available := make(map[string]bool)
	for _, f := range features {
		available[f.ID] = true
		if f.Metadata != nil {
			if f.Metadata.ID != "" {
				available[f.Metadata.ID] = true
			}
			for _, legacy := range f.Metadata.LegacyIds {
				available[legacy] = true
			}
		}
	}

	// Check each feature's hard dependencies
	for _, f := range features {
		if f.Metadata == nil {
			continue
		}

		for _, dep := range f.Metadata.DependsOn {
			if !available[dep] {
				return fmt.Errorf("feature %q requires missing dependency %q", f.ID, dep)
			}
		}
	}

	return nil
}
