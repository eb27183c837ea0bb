// Package devnet runs a throwaway anvil node in docker for --testEnv runs.
package devnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/compose-network/mortar/configs"
	"github.com/compose-network/mortar/internal/chain"
	"github.com/compose-network/mortar/internal/logger"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	anvilPort    nat.Port = "8545/tcp"
	anvilChainID          = 31337
	hostIP                = "127.0.0.1"
)

// Node is a running anvil container.
type Node struct {
	URL        string
	PrivateKey string
	Client     *ethclient.Client

	docker      *dockerClient
	containerID string
	logger      *slog.Logger
}

// Start pulls the image when missing, runs anvil bound to the configured host
// port and waits until it answers RPC calls.
func Start(ctx context.Context, cfg configs.TestEnv) (node *Node, err error) {
	log := logger.Named("devnet").With("image", cfg.Image, "port", cfg.Port)

	docker, err := newDockerClient()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, docker.Close())
		}
	}()

	exists, err := docker.ImageExists(ctx, cfg.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect image: %w", err)
	}
	if !exists {
		if err := docker.PullImage(ctx, cfg.Image); err != nil {
			return nil, err
		}
	}

	config, hostConfig := containerConfig(cfg)
	containerID, err := docker.Start(ctx, config, hostConfig)
	if err != nil {
		return nil, err
	}
	log = log.With("container_id", containerID)
	log.Info("anvil container started")

	node = &Node{
		URL:         fmt.Sprintf("http://%s:%d", hostIP, cfg.Port),
		PrivateKey:  cfg.PrivateKey,
		docker:      docker,
		containerID: containerID,
		logger:      log,
	}

	node.Client, err = chain.Dial(ctx, node.URL)
	if err != nil {
		return nil, errors.Join(err, docker.Remove(context.WithoutCancel(ctx), containerID))
	}

	return node, nil
}

// Stop removes the container. The node's state is discarded.
func (n *Node) Stop(ctx context.Context) error {
	if n.Client != nil {
		n.Client.Close()
	}
	err := n.docker.Remove(ctx, n.containerID)
	if err == nil {
		n.logger.Info("anvil container removed")
	}
	return errors.Join(err, n.docker.Close())
}

func containerConfig(cfg configs.TestEnv) (*container.Config, *container.HostConfig) {
	config := &container.Config{
		Image:      cfg.Image,
		Entrypoint: []string{"anvil"},
		Cmd: []string{
			"--host", "0.0.0.0",
			"--port", anvilPort.Port(),
			"--chain-id", strconv.Itoa(anvilChainID),
		},
		ExposedPorts: nat.PortSet{anvilPort: struct{}{}},
	}

	hostConfig := &container.HostConfig{
		AutoRemove: false,
		PortBindings: nat.PortMap{
			anvilPort: []nat.PortBinding{{HostIP: hostIP, HostPort: strconv.Itoa(cfg.Port)}},
		},
	}

	return config, hostConfig
}
