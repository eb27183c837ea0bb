package module

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"slices"

	"github.com/compose-network/mortar/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
)

type (
	// Element is either a *Binding or an *Event.
	Element interface {
		ElementName() string
		ElementType() ledger.ElementType
		// DependencyNames are the elements that must complete first.
		DependencyNames() []string
		// UsageNames are read but never trigger re-execution.
		UsageNames() []string

		isElement()
	}

	// Argument is a constructor or call argument: a literal value or a reference to a binding.
	Argument struct {
		Value any
		Ref   string
	}

	// Binding is a deployable contract instance.
	Binding struct {
		Name     string
		Kind     string
		Args     []Argument
		Artifact *Artifact
		// From is the sending actor address; empty means the default signer.
		From string
		// ShouldRedeploy forces a redeploy when it returns true for the committed record.
		ShouldRedeploy func(prior *ledger.Record) bool
		// Hooks lists registered hook names per phase. Filled by Builder.Build.
		Hooks map[Phase][]string

		DeployState DeployState
	}

	DeployState struct {
		Address           common.Address
		LogicallyDeployed bool
	}

	// Event is a named hook bound to one lifecycle phase.
	Event struct {
		Name  string
		Phase Phase
		// Owner is the binding the hook belongs to; empty for module-level hooks.
		Owner        string
		From         string
		Dependencies []string
		Usages       []string
		Body         HookFunc

		Executed bool
	}

	// HookFunc is the body of an event. Every transaction it sends goes through hc,
	// which replays calls already recorded by an earlier run.
	HookFunc func(ctx context.Context, hc HookContext) error

	// HookContext is what a hook body can do against the network.
	HookContext interface {
		// Address returns the committed address of a binding.
		Address(binding string) (common.Address, error)
		// Call sends a state-changing transaction to a binding's method.
		Call(ctx context.Context, binding, method string, args ...any) (*ledger.CallOutput, error)
		// CallWithValue is Call with an attached ether value in wei.
		CallWithValue(ctx context.Context, value *big.Int, binding, method string, args ...any) (*ledger.CallOutput, error)
		// Read performs a read-only call and returns the decoded outputs.
		Read(ctx context.Context, binding, method string, args ...any) ([]any, error)
	}
)

// Lit wraps a literal argument.
func Lit(value any) Argument {
	return Argument{Value: value}
}

// Ref references another binding; it resolves to that binding's address.
func Ref(name string) Argument {
	return Argument{Ref: name}
}

func (a Argument) IsRef() bool {
	return a.Ref != ""
}

// Record returns the persisted form of the argument.
func (a Argument) Record() (ledger.ArgRecord, error) {
	if a.IsRef() {
		return ledger.ArgRecord{Ref: a.Ref}, nil
	}
	value, err := json.Marshal(a.Value)
	if err != nil {
		return ledger.ArgRecord{}, fmt.Errorf("failed to encode argument %v: %w", a.Value, err)
	}
	return ledger.ArgRecord{Value: value}, nil
}

func (b *Binding) ElementName() string             { return b.Name }
func (b *Binding) ElementType() ledger.ElementType { return ledger.ElementTypeBinding }
func (b *Binding) UsageNames() []string            { return nil }
func (*Binding) isElement()                        {}

// DependencyNames returns the bindings referenced by constructor arguments.
func (b *Binding) DependencyNames() []string {
	var names []string
	for _, arg := range b.Args {
		if arg.IsRef() && !slices.Contains(names, arg.Ref) {
			names = append(names, arg.Ref)
		}
	}
	return names
}

// ArgRecords returns the persisted form of the constructor arguments.
func (b *Binding) ArgRecords() ([]ledger.ArgRecord, error) {
	records := make([]ledger.ArgRecord, 0, len(b.Args))
	for _, arg := range b.Args {
		record, err := arg.Record()
		if err != nil {
			return nil, fmt.Errorf("binding '%s': %w", b.Name, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// SendFrom sets the sending actor.
func (b *Binding) SendFrom(actor string) *Binding {
	b.From = actor
	return b
}

// RedeployWhen sets the redeploy predicate.
func (b *Binding) RedeployWhen(fn func(prior *ledger.Record) bool) *Binding {
	b.ShouldRedeploy = fn
	return b
}

func (e *Event) ElementName() string             { return e.Name }
func (e *Event) ElementType() ledger.ElementType { return ledger.ElementTypeEvent }
func (e *Event) DependencyNames() []string       { return e.Dependencies }
func (e *Event) UsageNames() []string            { return e.Usages }
func (*Event) isElement()                        {}

// DependsOn adds elements that must complete before the hook.
func (e *Event) DependsOn(names ...string) *Event {
	for _, name := range names {
		if !slices.Contains(e.Dependencies, name) {
			e.Dependencies = append(e.Dependencies, name)
		}
	}
	return e
}

// Uses adds elements the hook reads without requiring them to be freshly executed.
func (e *Event) Uses(names ...string) *Event {
	for _, name := range names {
		if !slices.Contains(e.Usages, name) {
			e.Usages = append(e.Usages, name)
		}
	}
	return e
}

// SendFrom sets the actor that signs the hook's transactions.
func (e *Event) SendFrom(actor string) *Event {
	e.From = actor
	return e
}
