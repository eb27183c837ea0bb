// Package chain connects to the target network.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/compose-network/mortar/internal/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the part of an RPC client the deployer needs. *ethclient.Client implements it.
type Backend interface {
	bind.DeployBackend

	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ Backend = (*ethclient.Client)(nil)

const (
	rpcAttempts = 120
	rpcInterval = time.Second
)

// Dial connects to url and waits until the node answers.
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	log := logger.Named("chain").With("url", url)
	log.Info("waiting for RPC")

	if err := waitForRPC(ctx, url); err != nil {
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	log.Info("RPC is ready")
	return client, nil
}

func waitForRPC(ctx context.Context, url string) error {
	for i := 0; i < rpcAttempts; i++ {
		client, err := ethclient.DialContext(ctx, url)
		if err == nil {
			_, err = client.BlockNumber(ctx)
			client.Close()
			if err == nil {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rpcInterval):
		}
	}
	return fmt.Errorf("timed out waiting for RPC at %s", url)
}
