// Package lifecycle places hooks in the graph and drives bindings and events through their phases.
package lifecycle

import (
	"slices"

	"github.com/compose-network/mortar/internal/module"
)

// Wire turns a module into a schedulable graph. Hooks of a binding become
// their own nodes: before-phase hooks precede the binding, after-phase hooks
// follow it, and each phase group waits for the previous group of the same
// owner. Module-level hooks keep their declared position and edges.
func Wire(mod *module.Module) (*module.Graph, error) {
	hooks := make(map[string]map[module.Phase][]*module.Event)
	for _, event := range mod.Events() {
		if event.Owner == "" {
			continue
		}
		if hooks[event.Owner] == nil {
			hooks[event.Owner] = make(map[module.Phase][]*module.Event)
		}
		hooks[event.Owner][event.Phase] = append(hooks[event.Owner][event.Phase], event)
	}

	nodes := make([]module.Node, 0, mod.Len())
	for _, element := range mod.Elements() {
		switch e := element.(type) {
		case *module.Binding:
			nodes = append(nodes, wireBinding(mod, e, hooks[e.Name])...)
		case *module.Event:
			if e.Owner == "" {
				nodes = append(nodes, eventNode(mod, e, nil))
			}
		}
	}

	return module.NewGraph(mod.Name, nodes)
}

func wireBinding(mod *module.Module, b *module.Binding, hooks map[module.Phase][]*module.Event) []module.Node {
	var (
		nodes    []module.Node
		previous []string
	)

	for _, phase := range module.Phases {
		if !phase.Before() {
			continue
		}
		previous = appendGroup(&nodes, mod, hooks[phase], previous)
	}

	binding := module.Node{Element: b}
	for _, name := range b.DependencyNames() {
		if _, ok := mod.Get(name); ok {
			binding.Dependencies = append(binding.Dependencies, name)
		}
	}
	binding.Dependencies = appendMissing(binding.Dependencies, previous...)
	nodes = append(nodes, binding)
	previous = []string{b.Name}

	for _, phase := range module.Phases {
		if phase.Before() {
			continue
		}
		previous = appendGroup(&nodes, mod, hooks[phase], previous)
	}

	return nodes
}

// appendGroup adds the hooks of one phase, each waiting for the previous group.
// It returns the names the next group has to wait for.
func appendGroup(nodes *[]module.Node, mod *module.Module, group []*module.Event, previous []string) []string {
	if len(group) == 0 {
		return previous
	}

	names := make([]string, 0, len(group))
	for _, event := range group {
		*nodes = append(*nodes, eventNode(mod, event, previous))
		names = append(names, event.Name)
	}
	return names
}

func eventNode(mod *module.Module, e *module.Event, previous []string) module.Node {
	node := module.Node{Element: e}
	for _, name := range e.Dependencies {
		if _, ok := mod.Get(name); ok {
			node.Dependencies = appendMissing(node.Dependencies, name)
		}
	}
	node.Dependencies = appendMissing(node.Dependencies, previous...)
	for _, name := range e.Usages {
		if _, ok := mod.Get(name); ok {
			node.Usages = appendMissing(node.Usages, name)
		}
	}
	return node
}

func appendMissing(list []string, names ...string) []string {
	for _, name := range names {
		if !slices.Contains(list, name) {
			list = append(list, name)
		}
	}
	return list
}
