package module

import (
	"fmt"
	"slices"
)

type (
	// Module is a flattened, validated set of elements in declaration order.
	Module struct {
		Name     string
		External []string

		elements []Element
		index    map[string]Element
	}

	// Builder collects the declarations of one module. It is not safe for concurrent use.
	Builder struct {
		name     string
		items    []declaration
		external []string
	}

	declaration struct {
		element Element
		module  *Module
	}
)

func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Bind declares a binding and returns it for further configuration.
func (b *Builder) Bind(name, kind string, artifact *Artifact, args ...Argument) *Binding {
	binding := &Binding{
		Name:     name,
		Kind:     kind,
		Args:     args,
		Artifact: artifact,
	}
	b.items = append(b.items, declaration{element: binding})
	return binding
}

// On declares a hook for phase. An empty owner registers a module-level hook,
// which is only allowed for unconditional phases.
func (b *Builder) On(name string, phase Phase, owner string, body HookFunc) *Event {
	event := &Event{
		Name:  name,
		Phase: phase,
		Owner: owner,
		Body:  body,
	}
	b.items = append(b.items, declaration{element: event})
	return event
}

// Import flattens a built sub-module into this one at the current position.
func (b *Builder) Import(m *Module) {
	b.items = append(b.items, declaration{module: m})
}

// Extern allows arguments to reference bindings deployed by another module.
// Their addresses come from the ledgers passed at deploy time.
func (b *Builder) Extern(names ...string) {
	b.external = append(b.external, names...)
}

// Build flattens imports and validates the declarations.
func (b *Builder) Build() (*Module, error) {
	m := &Module{
		Name:  b.name,
		index: make(map[string]Element),
	}
	for _, name := range b.external {
		if !slices.Contains(m.External, name) {
			m.External = append(m.External, name)
		}
	}

	for _, item := range b.items {
		if item.module == nil {
			if err := m.add(item.element); err != nil {
				return nil, err
			}
			continue
		}
		for _, element := range item.module.elements {
			if err := m.add(element); err != nil {
				return nil, fmt.Errorf("import '%s': %w", item.module.Name, err)
			}
		}
		for _, name := range item.module.External {
			if !slices.Contains(m.External, name) {
				m.External = append(m.External, name)
			}
		}
	}

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("module '%s': %w", b.name, err)
	}

	return m, nil
}

func (m *Module) add(element Element) error {
	name := element.ElementName()
	existing, ok := m.index[name]
	if ok {
		// the same declaration reached through two imports
		if existing == element {
			return nil
		}
		_, existingIsEvent := existing.(*Event)
		_, isEvent := element.(*Event)
		if existingIsEvent && isEvent {
			return fmt.Errorf("%w: '%s'", ErrDuplicateEventName, name)
		}
		return fmt.Errorf("%w: '%s' is declared twice with different definitions", ErrDefinitionConflict, name)
	}

	m.index[name] = element
	m.elements = append(m.elements, element)
	return nil
}

func (m *Module) validate() error {
	for _, element := range m.elements {
		switch e := element.(type) {
		case *Binding:
			if err := m.validateBinding(e); err != nil {
				return err
			}
			e.Hooks = make(map[Phase][]string)
		case *Event:
			if err := m.validateEvent(e); err != nil {
				return err
			}
		}
	}

	for _, event := range m.Events() {
		if event.Owner != "" {
			owner, _ := m.Binding(event.Owner)
			owner.Hooks[event.Phase] = append(owner.Hooks[event.Phase], event.Name)
		}
	}

	_, err := NewGraph(m.Name, m.declaredNodes())
	return err
}

func (m *Module) validateBinding(b *Binding) error {
	if b.Artifact == nil {
		return fmt.Errorf("%w: binding '%s' (%s)", ErrMissingArtifact, b.Name, b.Kind)
	}

	inputs := b.Artifact.ABI.Constructor.Inputs
	if len(inputs) != len(b.Args) {
		return fmt.Errorf("%w: binding '%s' constructor takes %d arguments, got %d",
			ErrArgumentMismatch, b.Name, len(inputs), len(b.Args))
	}

	for i, arg := range b.Args {
		if arg.IsRef() {
			if !m.resolvable(arg.Ref) {
				return fmt.Errorf("%w: binding '%s' references unknown binding '%s'", ErrUnresolvedDependency, b.Name, arg.Ref)
			}
			if ref, ok := m.index[arg.Ref]; ok {
				if _, isBinding := ref.(*Binding); !isBinding {
					return fmt.Errorf("%w: binding '%s' references event '%s' as an argument", ErrDefinitionConflict, b.Name, arg.Ref)
				}
			}
			continue
		}
		if _, err := ConvertValue(inputs[i].Type, arg.Value); err != nil {
			return fmt.Errorf("%w: binding '%s' argument %d: %w", ErrArgumentMismatch, b.Name, i, err)
		}
	}
	return nil
}

func (m *Module) validateEvent(e *Event) error {
	if e.Body == nil {
		return fmt.Errorf("%w: event '%s' has no body", ErrInvalidHook, e.Name)
	}
	if e.Owner == "" {
		if !e.Phase.Unconditional() {
			return fmt.Errorf("%w: event '%s' needs an owning binding for phase %s", ErrInvalidHook, e.Name, e.Phase)
		}
	} else if _, ok := m.Binding(e.Owner); !ok {
		return fmt.Errorf("%w: event '%s' is owned by unknown binding '%s'", ErrUnresolvedDependency, e.Name, e.Owner)
	}

	for _, name := range slices.Concat(e.Dependencies, e.Usages) {
		if _, ok := m.index[name]; !ok {
			return fmt.Errorf("%w: event '%s' references unknown element '%s'", ErrUnresolvedDependency, e.Name, name)
		}
	}
	return nil
}

func (m *Module) resolvable(name string) bool {
	if _, ok := m.index[name]; ok {
		return true
	}
	return slices.Contains(m.External, name)
}

// declaredNodes are the edges as written, with hooks attached to their owner.
func (m *Module) declaredNodes() []Node {
	nodes := make([]Node, 0, len(m.elements))
	for _, element := range m.elements {
		node := Node{Element: element}
		for _, name := range element.DependencyNames() {
			if _, ok := m.index[name]; ok {
				node.Dependencies = append(node.Dependencies, name)
			}
		}
		node.Usages = element.UsageNames()

		if b, ok := element.(*Binding); ok {
			for _, phase := range Phases {
				if phase.Before() {
					node.Dependencies = append(node.Dependencies, b.Hooks[phase]...)
				}
			}
		}
		if e, ok := element.(*Event); ok && e.Owner != "" && !e.Phase.Before() {
			node.Dependencies = append(node.Dependencies, e.Owner)
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// Elements returns the flattened elements in declaration order.
func (m *Module) Elements() []Element {
	return slices.Clone(m.elements)
}

func (m *Module) Get(name string) (Element, bool) {
	element, ok := m.index[name]
	return element, ok
}

func (m *Module) Binding(name string) (*Binding, bool) {
	element, ok := m.index[name]
	if !ok {
		return nil, false
	}
	b, ok := element.(*Binding)
	return b, ok
}

func (m *Module) Bindings() []*Binding {
	var bindings []*Binding
	for _, element := range m.elements {
		if b, ok := element.(*Binding); ok {
			bindings = append(bindings, b)
		}
	}
	return bindings
}

func (m *Module) Events() []*Event {
	var events []*Event
	for _, element := range m.elements {
		if e, ok := element.(*Event); ok {
			events = append(events, e)
		}
	}
	return events
}

func (m *Module) Len() int {
	return len(m.elements)
}
