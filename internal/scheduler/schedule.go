// Package scheduler places resolved elements into dependency-depth batches and executes them.
package scheduler

import (
	"fmt"
	"slices"

	"github.com/compose-network/mortar/internal/module"
	"github.com/compose-network/mortar/internal/resolver"
)

// Batch holds the elements of one depth. They may run concurrently.
type Batch struct {
	Depth int
	Nodes []resolver.PlanNode
}

func (b Batch) Names() []string {
	names := make([]string, len(b.Nodes))
	for i, node := range b.Nodes {
		names[i] = node.Name()
	}
	return names
}

// Assign computes the depth of every element: 0 without edges, otherwise one
// more than the deepest dependency or usage. Elements are visited in plan
// order, so every edge must point to an element placed earlier.
func Assign(plan *resolver.Plan) (map[string]int, error) {
	depths := make(map[string]int, len(plan.Nodes))
	for _, node := range plan.Nodes {
		depth := 0
		for _, edge := range node.Edges() {
			d, ok := depths[edge]
			if !ok {
				return nil, fmt.Errorf("%w: '%s' needs '%s', which has no batch yet; declare it first",
					module.ErrUnresolvedDependency, node.Name(), edge)
			}
			depth = max(depth, d+1)
		}
		depths[node.Name()] = depth
	}
	return depths, nil
}

// Schedule groups the plan into batches of increasing depth, keeping plan order within a batch.
func Schedule(plan *resolver.Plan) ([]Batch, error) {
	depths, err := Assign(plan)
	if err != nil {
		return nil, err
	}

	byDepth := make(map[int][]resolver.PlanNode)
	for _, node := range plan.Nodes {
		depth := depths[node.Name()]
		byDepth[depth] = append(byDepth[depth], node)
	}

	levels := make([]int, 0, len(byDepth))
	for depth := range byDepth {
		levels = append(levels, depth)
	}
	slices.Sort(levels)

	batches := make([]Batch, 0, len(levels))
	for _, depth := range levels {
		batches = append(batches, Batch{Depth: depth, Nodes: byDepth[depth]})
	}
	return batches, nil
}
