package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/compose-network/mortar/internal/ledger"
	"github.com/compose-network/mortar/internal/module"
	"github.com/compose-network/mortar/internal/txmanager"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// hookContext is handed to one execution of a hook body. Calls are matched
// by position against the calls recorded for the same target on earlier runs,
// so a body must not call it from several goroutines.
type hookContext struct {
	driver *Driver
	event  *module.Event
	from   common.Address
	calls  map[string]*ledger.CallLedger

	replayed int
	sent     int
}

var _ module.HookContext = (*hookContext)(nil)

func (h *hookContext) Address(binding string) (common.Address, error) {
	return h.driver.Address(binding)
}

func (h *hookContext) Call(ctx context.Context, binding, method string, args ...any) (*ledger.CallOutput, error) {
	return h.CallWithValue(ctx, nil, binding, method, args...)
}

func (h *hookContext) CallWithValue(ctx context.Context, value *big.Int, binding, method string, args ...any) (*ledger.CallOutput, error) {
	target, artifact, err := h.target(binding)
	if err != nil {
		return nil, err
	}

	data, err := artifact.CallData(method, args)
	if err != nil {
		return nil, fmt.Errorf("'%s': %w", binding, err)
	}

	input, err := h.input(binding, method, value, args)
	if err != nil {
		return nil, err
	}

	calls := h.callLedger(binding)
	log := h.driver.logger.With("event", h.event.Name, "target", binding, "method", method, "position", calls.Cursor())

	record, replay, err := calls.Next(input)
	switch {
	case errors.Is(err, ledger.ErrCallDivergence):
		log.With("err", err).Warn("call differs from the recorded one; discarding the recorded tail")
		calls.Truncate()
	case err != nil:
		return nil, err
	case replay:
		h.replayed++
		log.Debug("call already recorded; skipping")
		return record.Output, nil
	case record != nil:
		receipt, err := h.driver.tx.Recover(ctx, common.HexToHash(record.TxHash))
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			return h.complete(calls, binding, method, receipt)
		}
		log.Warn("recorded call never reached the network; sending it again")
	}

	tx, err := h.driver.tx.Send(ctx, txmanager.Request{
		From:  h.from,
		To:    &target,
		Value: value,
		Data:  data,
		BeforeSend: func(tx *types.Transaction) error {
			calls.Begin(input, tx.Hash().Hex())
			return h.driver.ledger.Flush(ctx)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call %s.%s: %w", binding, method, err)
	}
	h.sent++

	receipt, err := h.driver.tx.Wait(ctx, tx)
	if err != nil {
		return nil, err
	}
	return h.complete(calls, binding, method, receipt)
}

func (h *hookContext) complete(calls *ledger.CallLedger, binding, method string, receipt *types.Receipt) (*ledger.CallOutput, error) {
	output := outputOf(receipt)
	if err := calls.Complete(output); err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s.%s in %s", ErrTransactionReverted, binding, method, receipt.TxHash.Hex())
	}
	return &output, nil
}

func (h *hookContext) Read(ctx context.Context, binding, method string, args ...any) ([]any, error) {
	target, artifact, err := h.target(binding)
	if err != nil {
		return nil, err
	}

	data, err := artifact.CallData(method, args)
	if err != nil {
		return nil, fmt.Errorf("'%s': %w", binding, err)
	}

	output, err := h.driver.tx.Call(ctx, ethereum.CallMsg{From: h.from, To: &target, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s.%s: %w", binding, method, err)
	}
	return artifact.Unpack(method, output)
}

// target returns the address and artifact of a binding declared by this module.
func (h *hookContext) target(binding string) (common.Address, *module.Artifact, error) {
	node, ok := h.driver.plan.Node(binding)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("'%s' is not a binding of this module", binding)
	}
	b, ok := node.Element.(*module.Binding)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("'%s' is an event, not a binding", binding)
	}

	address, err := h.driver.Address(binding)
	if err != nil {
		return common.Address{}, nil, err
	}
	return address, b.Artifact, nil
}

func (h *hookContext) input(binding, method string, value *big.Int, args []any) (ledger.CallInput, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return ledger.CallInput{}, fmt.Errorf("failed to encode arguments of %s.%s: %w", binding, method, err)
	}

	input := ledger.CallInput{
		Kind:   ledger.CallKindCall,
		Target: binding,
		Method: method,
		Args:   encoded,
		From:   h.from.Hex(),
	}
	if value != nil && value.Sign() != 0 {
		input.Value = value.String()
	}
	return input, nil
}

func (h *hookContext) callLedger(binding string) *ledger.CallLedger {
	calls, ok := h.calls[binding]
	if !ok {
		calls = h.driver.ledger.Calls(h.event.Name, binding)
		h.calls[binding] = calls
	}
	return calls
}
