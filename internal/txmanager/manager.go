// Package txmanager builds, signs and submits transactions with per-actor nonce management.
package txmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/compose-network/mortar/internal/actorqueue"
	"github.com/compose-network/mortar/internal/chain"
	"github.com/compose-network/mortar/internal/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrGasEstimation = errors.New("gas estimation failed")

type (
	Manager struct {
		backend chain.Backend
		keyring *Keyring
		queue   *actorqueue.Queue
		policy  *GasPricePolicy

		mu      sync.Mutex
		chainID *big.Int
		nonces  map[common.Address]uint64

		logger *slog.Logger
	}

	// Request is a transaction to build. A nil To deploys Data as creation code.
	Request struct {
		From  common.Address
		To    *common.Address
		Value *big.Int
		Data  []byte
		// BeforeSend runs after signing and before the broadcast, on the actor's
		// queue. A failure aborts the broadcast.
		BeforeSend func(tx *types.Transaction) error
	}
)

func NewManager(backend chain.Backend, keyring *Keyring, queue *actorqueue.Queue, policy *GasPricePolicy) *Manager {
	return &Manager{
		backend: backend,
		keyring: keyring,
		queue:   queue,
		policy:  policy,
		nonces:  make(map[common.Address]uint64),
		logger:  logger.Named("tx_manager"),
	}
}

func (m *Manager) Keyring() *Keyring {
	return m.keyring
}

func (m *Manager) ChainID(ctx context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.chainID == nil {
		chainID, err := m.backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get chain ID: %w", err)
		}
		m.chainID = chainID
	}
	return m.chainID, nil
}

// NonceOf allocates the next nonce of actor. The pending nonce is fetched once,
// later nonces are counted locally. Callers serialize per actor.
func (m *Manager) NonceOf(ctx context.Context, actor common.Address) (uint64, error) {
	m.mu.Lock()
	next, ok := m.nonces[actor]
	m.mu.Unlock()

	if !ok {
		pending, err := m.backend.PendingNonceAt(ctx, actor)
		if err != nil {
			return 0, fmt.Errorf("failed to get nonce of %s: %w", actor.Hex(), err)
		}
		next = pending
	}

	m.mu.Lock()
	m.nonces[actor] = next + 1
	m.mu.Unlock()

	return next, nil
}

// releaseNonce hands back the most recently allocated nonce after a failed broadcast.
func (m *Manager) releaseNonce(actor common.Address, nonce uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nonces[actor] == nonce+1 {
		m.nonces[actor] = nonce
	}
}

// EstimateGas fails instead of falling back to a default limit.
func (m *Manager) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := m.backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrGasEstimation, err)
	}
	return gas, nil
}

// Sign builds and signs a legacy transaction for actor.
func (m *Manager) Sign(ctx context.Context, actor common.Address, to *common.Address, value *big.Int, data []byte, nonce uint64, gasPrice *big.Int, gas uint64) (*types.Transaction, error) {
	privateKey, err := m.keyring.key(actor)
	if err != nil {
		return nil, err
	}
	chainID, err := m.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	if value == nil {
		value = new(big.Int)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       to,
		Value:    value,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// Send estimates, prices, signs and broadcasts req on the sender's queue, so
// that transactions of one actor get contiguous nonces in submission order.
func (m *Manager) Send(ctx context.Context, req Request) (*types.Transaction, error) {
	var sent *types.Transaction

	err := m.queue.Do(ctx, req.From.Hex(), func(ctx context.Context) error {
		gas, err := m.EstimateGas(ctx, ethereum.CallMsg{
			From:  req.From,
			To:    req.To,
			Value: req.Value,
			Data:  req.Data,
		})
		if err != nil {
			return err
		}

		gasPrice, err := m.GasPrice(ctx)
		if err != nil {
			return err
		}

		nonce, err := m.NonceOf(ctx, req.From)
		if err != nil {
			return err
		}

		tx, err := m.Sign(ctx, req.From, req.To, req.Value, req.Data, nonce, gasPrice, gas)
		if err != nil {
			m.releaseNonce(req.From, nonce)
			return err
		}

		if req.BeforeSend != nil {
			if err := req.BeforeSend(tx); err != nil {
				m.releaseNonce(req.From, nonce)
				return err
			}
		}

		if err := m.backend.SendTransaction(ctx, tx); err != nil {
			m.releaseNonce(req.From, nonce)
			return fmt.Errorf("failed to send transaction: %w", err)
		}

		m.logger.
			With("from", req.From.Hex()).
			With("nonce", nonce).
			With("tx_hash", tx.Hash().Hex()).
			Debug("transaction sent")

		sent = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	return sent, nil
}

// Wait blocks until tx is mined.
func (m *Manager) Wait(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, m.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for transaction %s: %w", tx.Hash().Hex(), err)
	}
	return receipt, nil
}

// Recover looks up a transaction broadcast by an earlier run and waits for it.
// It returns a nil receipt when the network does not know the transaction.
func (m *Manager) Recover(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	tx, _, err := m.backend.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up transaction %s: %w", hash.Hex(), err)
	}

	m.logger.With("tx_hash", hash.Hex()).Info("waiting for transaction from a previous run")
	return m.Wait(ctx, tx)
}

// Call runs a read-only call against the latest block.
func (m *Manager) Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	output, err := m.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call contract: %w", err)
	}
	return output, nil
}
