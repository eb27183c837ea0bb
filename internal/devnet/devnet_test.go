package devnet

import (
	"testing"

	"github.com/compose-network/mortar/configs"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerConfig(t *testing.T) {
	t.Run("Should bind the anvil port to the configured host port", func(t *testing.T) {
		config, hostConfig := containerConfig(configs.TestEnv{Image: "ghcr.io/foundry-rs/foundry:stable", Port: 18545})

		assert.Equal(t, "ghcr.io/foundry-rs/foundry:stable", config.Image)
		assert.Equal(t, []string{"anvil"}, []string(config.Entrypoint))
		assert.Contains(t, config.Cmd, "0.0.0.0")
		assert.Contains(t, config.ExposedPorts, nat.Port("8545/tcp"))

		bindings := hostConfig.PortBindings[anvilPort]
		require.Len(t, bindings, 1)
		assert.Equal(t, "127.0.0.1", bindings[0].HostIP)
		assert.Equal(t, "18545", bindings[0].HostPort)
	})
}
