// Package moduletest provides artifacts for tests that build modules.
package moduletest

import (
	"context"
	"testing"

	"github.com/compose-network/mortar/internal/module"
	"github.com/stretchr/testify/require"
)

const (
	StorageABI = `[
		{"type":"constructor","inputs":[{"name":"initial","type":"uint256"}]},
		{"type":"function","name":"set","inputs":[{"name":"value","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"function","name":"get","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
	]`

	ProxyABI = `[
		{"type":"constructor","inputs":[{"name":"target","type":"address"}]},
		{"type":"function","name":"upgrade","inputs":[{"name":"target","type":"address"}],"outputs":[],"stateMutability":"nonpayable"}
	]`
)

// Storage is a contract with a uint256 constructor argument.
func Storage(t testing.TB) *module.Artifact {
	return artifact(t, StorageABI, "0x6080604052600a")
}

// StorageV2 has the Storage ABI and different bytecode.
func StorageV2(t testing.TB) *module.Artifact {
	return artifact(t, StorageABI, "0x6080604052600b")
}

// Proxy is a contract whose constructor takes an address.
func Proxy(t testing.TB) *module.Artifact {
	return artifact(t, ProxyABI, "0x6080604052600c")
}

func artifact(t testing.TB, abi, bytecode string) *module.Artifact {
	t.Helper()
	a, err := module.NewArtifact(abi, bytecode)
	require.NoError(t, err)
	return a
}

// Noop is a hook body that does nothing.
func Noop(context.Context, module.HookContext) error {
	return nil
}
