package module

import (
	"fmt"
	"strings"
)

type (
	// Node is a schedulable element with its resolved edges. Every edge names another node of the graph.
	Node struct {
		Element      Element
		Dependencies []string
		Usages       []string
	}

	// Graph is an acyclic, name-unique list of nodes in scheduling order.
	Graph struct {
		Module string
		Nodes  []Node

		index map[string]int
	}
)

func (n Node) Name() string {
	return n.Element.ElementName()
}

// Edges returns dependencies followed by usages.
func (n Node) Edges() []string {
	edges := make([]string, 0, len(n.Dependencies)+len(n.Usages))
	edges = append(edges, n.Dependencies...)
	return append(edges, n.Usages...)
}

// NewGraph validates that names are unique, that every edge points into the graph
// and that the graph is acyclic.
func NewGraph(moduleName string, nodes []Node) (*Graph, error) {
	g := &Graph{
		Module: moduleName,
		Nodes:  nodes,
		index:  make(map[string]int, len(nodes)),
	}

	for i, node := range nodes {
		name := node.Name()
		if _, ok := g.index[name]; ok {
			return nil, fmt.Errorf("%w: element '%s' declared twice", ErrDefinitionConflict, name)
		}
		g.index[name] = i
	}

	for _, node := range nodes {
		for _, edge := range node.Edges() {
			if _, ok := g.index[edge]; !ok {
				return nil, fmt.Errorf("%w: '%s' references unknown element '%s'", ErrUnresolvedDependency, node.Name(), edge)
			}
		}
	}

	if err := g.detectCycle(); err != nil {
		return nil, err
	}

	return g, nil
}

// Node returns the node named name.
func (g *Graph) Node(name string) (Node, bool) {
	i, ok := g.index[name]
	if !ok {
		return Node{}, false
	}
	return g.Nodes[i], true
}

func (g *Graph) Has(name string) bool {
	_, ok := g.index[name]
	return ok
}

func (g *Graph) Len() int {
	return len(g.Nodes)
}

const (
	unvisited = iota
	visiting
	visited
)

func (g *Graph) detectCycle() error {
	state := make([]int, len(g.Nodes))
	var path []string

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case visited:
			return nil
		case visiting:
			start := 0
			for j, name := range path {
				if name == g.Nodes[i].Name() {
					start = j
				}
			}
			cycle := append(append([]string{}, path[start:]...), g.Nodes[i].Name())
			return fmt.Errorf("%w: %s", ErrCyclicDependency, strings.Join(cycle, " -> "))
		}

		state[i] = visiting
		path = append(path, g.Nodes[i].Name())
		for _, edge := range g.Nodes[i].Edges() {
			if err := visit(g.index[edge]); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[i] = visited
		return nil
	}

	for i := range g.Nodes {
		if err := visit(i); err != nil {
			return err
		}
	}
	return nil
}
