// Package chaintest provides an in-memory chain.Backend for tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const DefaultGas = 100_000

// Backend mines every accepted transaction immediately, unless receipts are held.
type Backend struct {
	mu sync.Mutex

	chainID   *big.Int
	nonces    map[common.Address]uint64
	gasPrices []*big.Int
	gasCalls  int
	txs       map[common.Hash]*types.Transaction
	receipts  map[common.Hash]*types.Receipt
	code      map[common.Address][]byte
	sent      []*types.Transaction
	block     int64
	hold      bool
	held      []*types.Transaction

	// Revert marks a transaction as failed in its receipt.
	Revert func(tx *types.Transaction) bool
	// RejectSend fails the broadcast of a transaction; the nonce is not consumed.
	RejectSend func(tx *types.Transaction) error
	// EstimateErr fails gas estimation.
	EstimateErr func(msg ethereum.CallMsg) error
	// CallHandler answers read-only calls.
	CallHandler func(msg ethereum.CallMsg) ([]byte, error)
}

func New(chainID int64) *Backend {
	return &Backend{
		chainID:   big.NewInt(chainID),
		nonces:    make(map[common.Address]uint64),
		gasPrices: []*big.Int{big.NewInt(1_000_000_000)},
		txs:       make(map[common.Hash]*types.Transaction),
		receipts:  make(map[common.Hash]*types.Receipt),
		code:      make(map[common.Address][]byte),
	}
}

// SetGasPrices sets the prices returned by successive SuggestGasPrice calls; the last one repeats.
func (b *Backend) SetGasPrices(prices ...int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gasPrices = b.gasPrices[:0]
	for _, p := range prices {
		b.gasPrices = append(b.gasPrices, big.NewInt(p))
	}
	b.gasCalls = 0
}

// SetNonce sets the pending nonce of account.
func (b *Backend) SetNonce(account common.Address, nonce uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonces[account] = nonce
}

// Hold keeps receipts of accepted transactions back until Release.
func (b *Backend) Hold() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hold = true
}

// Release mines every held transaction.
func (b *Backend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hold = false
	for _, tx := range b.held {
		b.mine(tx)
	}
	b.held = nil
}

// Sent returns every accepted transaction in acceptance order.
func (b *Backend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.sent)
}

// GasPriceCalls counts SuggestGasPrice calls.
func (b *Backend) GasPriceCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gasCalls
}

func (b *Backend) signer() types.Signer {
	return types.LatestSignerForChainID(b.chainID)
}

func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.chainID), nil
}

func (b *Backend) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := min(b.gasCalls, len(b.gasPrices)-1)
	b.gasCalls++
	return new(big.Int).Set(b.gasPrices[i]), nil
}

func (b *Backend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	if b.EstimateErr != nil {
		if err := b.EstimateErr(msg); err != nil {
			return 0, err
		}
	}
	return DefaultGas, nil
}

func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if b.RejectSend != nil {
		if err := b.RejectSend(tx); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	from, err := types.Sender(b.signer(), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if expected := b.nonces[from]; tx.Nonce() != expected {
		return fmt.Errorf("invalid nonce for %s: got %d, expected %d", from.Hex(), tx.Nonce(), expected)
	}
	b.nonces[from]++
	b.txs[tx.Hash()] = tx
	b.sent = append(b.sent, tx)

	if b.hold {
		b.held = append(b.held, tx)
		return nil
	}
	b.mine(tx)
	return nil
}

func (b *Backend) mine(tx *types.Transaction) {
	from, _ := types.Sender(b.signer(), tx)
	b.block++

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		GasUsed:     tx.Gas(),
		BlockNumber: big.NewInt(b.block),
	}
	if b.Revert != nil && b.Revert(tx) {
		receipt.Status = types.ReceiptStatusFailed
	} else if tx.To() == nil {
		receipt.ContractAddress = crypto.CreateAddress(from, tx.Nonce())
		b.code[receipt.ContractAddress] = tx.Data()
	}
	b.receipts[tx.Hash()] = receipt
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	receipt, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (b *Backend) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tx, ok := b.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	_, mined := b.receipts[hash]
	return tx, !mined, nil
}

func (b *Backend) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.code[account], nil
}

func (b *Backend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if b.CallHandler == nil {
		return nil, errors.New("no call handler configured")
	}
	return b.CallHandler(msg)
}
