package resolver

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/compose-network/mortar/internal/ledger"
	"github.com/compose-network/mortar/internal/module"
	"github.com/compose-network/mortar/internal/module/moduletest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func graphOf(t *testing.T, mod *module.Module) *module.Graph {
	t.Helper()
	var nodes []module.Node
	for _, element := range mod.Elements() {
		node := module.Node{Element: element, Usages: element.UsageNames()}
		for _, dep := range element.DependencyNames() {
			if _, ok := mod.Get(dep); ok {
				node.Dependencies = append(node.Dependencies, dep)
			}
		}
		nodes = append(nodes, node)
	}
	g, err := module.NewGraph(mod.Name, nodes)
	require.NoError(t, err)
	return g
}

func committed(t *testing.T, entry *ledger.Entry, b *module.Binding, address string) {
	t.Helper()
	args, err := b.ArgRecords()
	require.NoError(t, err)
	entry.Elements[b.Name] = &ledger.Record{
		Type:         ledger.ElementTypeBinding,
		Name:         b.Name,
		Kind:         b.Kind,
		Args:         args,
		ArtifactHash: b.Artifact.Hash().Hex(),
		DeployState:  &ledger.DeployState{Address: address, LogicallyDeployed: true},
	}
}

func twoBindings(t *testing.T, initial int) *module.Module {
	t.Helper()
	b := module.NewBuilder("example")
	b.Bind("Storage", "Storage", moduletest.Storage(t), module.Lit(initial))
	b.Bind("Proxy", "Proxy", moduletest.Proxy(t), module.Ref("Storage"))
	mod, err := b.Build()
	require.NoError(t, err)
	return mod
}

func TestResolve(t *testing.T) {
	t.Run("Should mark every element of a fresh graph as new", func(t *testing.T) {
		mod := twoBindings(t, 1)

		plan, err := Resolve(graphOf(t, mod), ledger.NewEntry())
		require.NoError(t, err)
		assert.Equal(t, []string{"Storage", "Proxy"}, plan.Bindings(StatusNew))
		assert.True(t, plan.HasWork())
	})

	t.Run("Should mark only the binding whose argument changed", func(t *testing.T) {
		entry := ledger.NewEntry()
		previous := twoBindings(t, 1)
		for _, b := range previous.Bindings() {
			committed(t, entry, b, "0xAA")
		}

		plan, err := Resolve(graphOf(t, twoBindings(t, 2)), entry)
		require.NoError(t, err)
		assert.Equal(t, []string{"Storage"}, plan.Bindings(StatusChanged))
		assert.Equal(t, []string{"Proxy"}, plan.Bindings(StatusUnchanged))

		node, ok := plan.Node("Storage")
		require.True(t, ok)
		assert.Equal(t, "0xAA", node.Prior.DeployState.Address)
	})

	t.Run("Should mark a binding whose bytecode changed", func(t *testing.T) {
		entry := ledger.NewEntry()
		b := module.NewBuilder("example")
		committed(t, entry, b.Bind("Storage", "Storage", moduletest.Storage(t), module.Lit(1)), "0xAA")

		next := module.NewBuilder("example")
		next.Bind("Storage", "Storage", moduletest.StorageV2(t), module.Lit(1))
		mod, err := next.Build()
		require.NoError(t, err)

		plan, err := Resolve(graphOf(t, mod), entry)
		require.NoError(t, err)
		status, _ := plan.Status("Storage")
		assert.Equal(t, StatusChanged, status)
	})

	t.Run("Should leave an identical deployed graph unchanged", func(t *testing.T) {
		entry := ledger.NewEntry()
		mod := twoBindings(t, 1)
		for _, b := range mod.Bindings() {
			committed(t, entry, b, "0xAA")
		}

		plan, err := Resolve(graphOf(t, mod), entry)
		require.NoError(t, err)
		assert.Equal(t, []string{"Storage", "Proxy"}, plan.Bindings(StatusUnchanged))
		assert.False(t, plan.HasWork())
	})

	t.Run("Should redeploy when the predicate asks for it", func(t *testing.T) {
		entry := ledger.NewEntry()
		b := module.NewBuilder("example")
		storage := b.Bind("Storage", "Storage", moduletest.Storage(t), module.Lit(1))
		committed(t, entry, storage, "0xAA")
		storage.RedeployWhen(func(prior *ledger.Record) bool { return prior.DeployState.Address == "0xAA" })
		mod, err := b.Build()
		require.NoError(t, err)

		plan, err := Resolve(graphOf(t, mod), entry)
		require.NoError(t, err)
		status, _ := plan.Status("Storage")
		assert.Equal(t, StatusChanged, status)
	})

	t.Run("Should retry a recorded binding that never finished deploying", func(t *testing.T) {
		entry := ledger.NewEntry()
		mod := twoBindings(t, 1)
		for _, b := range mod.Bindings() {
			committed(t, entry, b, "0xAA")
		}
		entry.Elements["Proxy"].DeployState = nil

		plan, err := Resolve(graphOf(t, mod), entry)
		require.NoError(t, err)
		assert.Equal(t, []string{"Proxy"}, plan.Bindings(StatusChanged))
	})

	t.Run("Should resolve external references through extra ledgers", func(t *testing.T) {
		b := module.NewBuilder("example")
		b.Extern("Token")
		b.Bind("Proxy", "Proxy", moduletest.Proxy(t), module.Ref("Token"))
		mod, err := b.Build()
		require.NoError(t, err)

		_, err = Resolve(graphOf(t, mod), ledger.NewEntry())
		assert.ErrorIs(t, err, module.ErrUnresolvedDependency)

		other := ledger.NewEntry()
		other.Elements["Token"] = &ledger.Record{
			Type:        ledger.ElementTypeBinding,
			Name:        "Token",
			DeployState: &ledger.DeployState{Address: "0xBB", LogicallyDeployed: true},
		}
		_, err = Resolve(graphOf(t, mod), ledger.NewEntry(), other)
		assert.NoError(t, err)
	})

	t.Run("Should derive event status from the executed flag", func(t *testing.T) {
		b := module.NewBuilder("example")
		b.On("first", module.BeforeDeployment, "", moduletest.Noop)
		b.On("second", module.BeforeDeployment, "", moduletest.Noop)
		b.On("third", module.AfterDeployment, "", moduletest.Noop)
		mod, err := b.Build()
		require.NoError(t, err)

		entry := ledger.NewEntry()
		entry.Elements["second"] = &ledger.Record{Type: ledger.ElementTypeEvent, Name: "second", Executed: true}
		entry.Elements["third"] = &ledger.Record{Type: ledger.ElementTypeEvent, Name: "third"}

		plan, err := Resolve(graphOf(t, mod), entry)
		require.NoError(t, err)
		for name, want := range map[string]Status{"first": StatusNew, "second": StatusUnchanged, "third": StatusChanged} {
			got, ok := plan.Status(name)
			require.True(t, ok)
			assert.Equal(t, want, got, name)
		}
		assert.False(t, plan.HasWork())
	})
}

func TestFingerprint(t *testing.T) {
	t.Run("Should ignore JSON formatting of literals", func(t *testing.T) {
		a, err := Fingerprint("0x01", []ledger.ArgRecord{{Value: json.RawMessage(`[1, 2]`)}})
		require.NoError(t, err)
		b, err := Fingerprint("0x01", []ledger.ArgRecord{{Value: json.RawMessage(`[1,2]`)}})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("Should distinguish a reference from a literal of the same text", func(t *testing.T) {
		a, err := Fingerprint("0x01", []ledger.ArgRecord{{Ref: "Token"}})
		require.NoError(t, err)
		b, err := Fingerprint("0x01", []ledger.ArgRecord{{Value: json.RawMessage(`"Token"`)}})
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("Should depend on the artifact hash", func(t *testing.T) {
		a, err := Fingerprint("0x01", nil)
		require.NoError(t, err)
		b, err := Fingerprint("0x02", nil)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})
}

func TestCheckIfDiff(t *testing.T) {
	t.Run("Should report a shrunk module without anything to deploy", func(t *testing.T) {
		entry := ledger.NewEntry()
		full := twoBindings(t, 1)
		for _, b := range full.Bindings() {
			committed(t, entry, b, "0xAA")
		}

		b := module.NewBuilder("example")
		b.Bind("Storage", "Storage", moduletest.Storage(t), module.Lit(1))
		mod, err := b.Build()
		require.NoError(t, err)

		diff, err := CheckIfDiff(graphOf(t, mod), entry)
		require.NoError(t, err)
		assert.True(t, diff.NothingToDeploy())
		assert.True(t, diff.Shrunk())
		assert.True(t, diff.Differs())
		assert.Equal(t, []string{"Proxy"}, diff.Removed)
		assert.Equal(t, 2, diff.CommittedCount)
		assert.Equal(t, 1, diff.DeclaredCount)
		assert.Contains(t, entry.Elements, "Proxy")

		var out bytes.Buffer
		require.NoError(t, PrintDiff(&out, diff))
		assert.Contains(t, out.String(), "not pruned")
		assert.Contains(t, out.String(), "nothing to deploy")
	})

	t.Run("Should report new and changed bindings", func(t *testing.T) {
		entry := ledger.NewEntry()
		b := module.NewBuilder("example")
		committed(t, entry, b.Bind("Storage", "Storage", moduletest.Storage(t), module.Lit(1)), "0xAA")

		diff, err := CheckIfDiff(graphOf(t, twoBindings(t, 3)), entry)
		require.NoError(t, err)
		assert.Equal(t, []string{"Proxy"}, diff.New)
		assert.Equal(t, []string{"Storage"}, diff.Changed)
		assert.False(t, diff.Shrunk())
		assert.True(t, diff.Differs())

		var out bytes.Buffer
		require.NoError(t, PrintDiff(&out, diff))
		assert.Contains(t, out.String(), "1 new, 1 changed, 0 unchanged")
		assert.NotContains(t, out.String(), "nothing to deploy")
	})

	t.Run("Should not differ for an identical deployed module", func(t *testing.T) {
		entry := ledger.NewEntry()
		mod := twoBindings(t, 1)
		for _, b := range mod.Bindings() {
			committed(t, entry, b, "0xAA")
		}

		diff, err := CheckIfDiff(graphOf(t, mod), entry)
		require.NoError(t, err)
		assert.False(t, diff.Differs())
		assert.True(t, diff.NothingToDeploy())
	})
}
