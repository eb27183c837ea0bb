// Package resolver compares a wired module graph with the committed ledger and
// decides what has to run.
package resolver

import (
	"fmt"

	"github.com/compose-network/mortar/internal/ledger"
	"github.com/compose-network/mortar/internal/module"
)

type Status int

const (
	StatusNew Status = iota
	StatusChanged
	StatusUnchanged
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusChanged:
		return "changed"
	case StatusUnchanged:
		return "unchanged"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

type (
	PlanNode struct {
		module.Node
		Status Status
		// Prior is the committed record, nil for new elements.
		Prior *ledger.Record
	}

	// Plan is the resolved graph, in scheduling order.
	Plan struct {
		Module string
		Nodes  []PlanNode

		index map[string]int
	}
)

// Resolve computes the status of every node of graph against the committed
// entry. Arguments may reference bindings committed in extra entries of other modules.
func Resolve(graph *module.Graph, entry *ledger.Entry, extra ...*ledger.Entry) (*Plan, error) {
	if entry == nil {
		entry = ledger.NewEntry()
	}

	plan := &Plan{
		Module: graph.Module,
		Nodes:  make([]PlanNode, 0, graph.Len()),
		index:  make(map[string]int, graph.Len()),
	}

	for _, node := range graph.Nodes {
		planNode := PlanNode{Node: node}
		prior, ok := entry.Get(node.Name())
		if ok {
			clone := *prior
			planNode.Prior = &clone
		}

		switch element := node.Element.(type) {
		case *module.Binding:
			if err := checkReferences(graph, element, entry, extra); err != nil {
				return nil, err
			}
			status, err := bindingStatus(element, planNode.Prior)
			if err != nil {
				return nil, err
			}
			planNode.Status = status
		case *module.Event:
			planNode.Status = eventStatus(planNode.Prior)
		}

		plan.index[node.Name()] = len(plan.Nodes)
		plan.Nodes = append(plan.Nodes, planNode)
	}

	return plan, nil
}

func bindingStatus(b *module.Binding, prior *ledger.Record) (Status, error) {
	if prior == nil || prior.Type != ledger.ElementTypeBinding {
		return StatusNew, nil
	}

	current, err := BindingFingerprint(b)
	if err != nil {
		return 0, err
	}
	committed, err := RecordFingerprint(prior)
	if err != nil {
		return 0, err
	}

	if current != committed || !prior.Deployed() {
		return StatusChanged, nil
	}
	if b.ShouldRedeploy != nil && b.ShouldRedeploy(prior) {
		return StatusChanged, nil
	}
	return StatusUnchanged, nil
}

func eventStatus(prior *ledger.Record) Status {
	switch {
	case prior == nil || prior.Type != ledger.ElementTypeEvent:
		return StatusNew
	case prior.Executed:
		return StatusUnchanged
	default:
		return StatusChanged
	}
}

func checkReferences(graph *module.Graph, b *module.Binding, entry *ledger.Entry, extra []*ledger.Entry) error {
	for _, name := range b.DependencyNames() {
		if graph.Has(name) {
			continue
		}
		if _, ok := LookupBinding(name, entry, extra...); !ok {
			return fmt.Errorf("%w: binding '%s' references '%s', which is neither declared nor committed",
				module.ErrUnresolvedDependency, b.Name, name)
		}
	}
	return nil
}

// LookupBinding finds the first committed binding named name in the given entries.
func LookupBinding(name string, entry *ledger.Entry, extra ...*ledger.Entry) (*ledger.Record, bool) {
	for _, e := range append([]*ledger.Entry{entry}, extra...) {
		if e == nil {
			continue
		}
		if record, ok := e.Binding(name); ok && record.Deployed() {
			return record, true
		}
	}
	return nil, false
}

func (p *Plan) Node(name string) (PlanNode, bool) {
	i, ok := p.index[name]
	if !ok {
		return PlanNode{}, false
	}
	return p.Nodes[i], true
}

func (p *Plan) Status(name string) (Status, bool) {
	node, ok := p.Node(name)
	return node.Status, ok
}

// Bindings returns the names of bindings with status s, in plan order.
func (p *Plan) Bindings(s Status) []string {
	var names []string
	for _, node := range p.Nodes {
		if _, ok := node.Element.(*module.Binding); ok && node.Status == s {
			names = append(names, node.Name())
		}
	}
	return names
}

// HasWork reports whether any binding needs a deployment. Hooks alone never
// make a run worth confirming.
func (p *Plan) HasWork() bool {
	for _, node := range p.Nodes {
		if _, ok := node.Element.(*module.Binding); ok && node.Status != StatusUnchanged {
			return true
		}
	}
	return false
}
