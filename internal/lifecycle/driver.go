package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/compose-network/mortar/internal/ledger"
	"github.com/compose-network/mortar/internal/logger"
	"github.com/compose-network/mortar/internal/module"
	"github.com/compose-network/mortar/internal/resolver"
	"github.com/compose-network/mortar/internal/scheduler"
	"github.com/compose-network/mortar/internal/txmanager"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrDependencyNotDeployed = errors.New("dependency not deployed")
	ErrTransactionReverted   = errors.New("transaction reverted")
)

// Driver runs plan nodes: it deploys bindings and executes hooks, recording
// every transaction in the ledger before it is broadcast.
type Driver struct {
	ledger *ledger.Ledger
	tx     *txmanager.Manager
	plan   *resolver.Plan
	extra  []*ledger.Entry

	mu       sync.Mutex
	deployed map[string]bool

	logger *slog.Logger
}

var _ scheduler.Runner = (*Driver)(nil)

// NewDriver creates a driver for one run. extra holds the committed entries of
// other modules, used to resolve external references.
func NewDriver(l *ledger.Ledger, tx *txmanager.Manager, plan *resolver.Plan, extra ...*ledger.Entry) *Driver {
	for _, node := range plan.Nodes {
		switch element := node.Element.(type) {
		case *module.Binding:
			element.DeployState = module.DeployState{}
		case *module.Event:
			element.Executed = node.Prior != nil && node.Prior.Executed
		}
	}

	return &Driver{
		ledger:   l,
		tx:       tx,
		plan:     plan,
		extra:    extra,
		deployed: make(map[string]bool),
		logger:   logger.Named("lifecycle_driver"),
	}
}

func (d *Driver) Run(ctx context.Context, node resolver.PlanNode) error {
	switch element := node.Element.(type) {
	case *module.Binding:
		return d.runBinding(ctx, element, node)
	case *module.Event:
		return d.runEvent(ctx, element, node)
	default:
		return fmt.Errorf("unsupported element %T", node.Element)
	}
}

// DeployedThisRun reports whether the binding was deployed by this driver.
func (d *Driver) DeployedThisRun(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deployed[name]
}

func (d *Driver) runBinding(ctx context.Context, b *module.Binding, node resolver.PlanNode) error {
	log := d.logger.With("binding", b.Name, "status", node.Status.String())

	if node.Status == resolver.StatusUnchanged {
		d.setDeployState(b, common.HexToAddress(node.Prior.DeployState.Address))
		log.With("address", node.Prior.DeployState.Address).Info("binding unchanged; skipping")
		return nil
	}

	args := make([]any, 0, len(b.Args))
	for _, arg := range b.Args {
		if !arg.IsRef() {
			args = append(args, arg.Value)
			continue
		}
		address, err := d.Address(arg.Ref)
		if err != nil {
			return fmt.Errorf("binding '%s': %w", b.Name, err)
		}
		args = append(args, address)
	}

	data, err := b.Artifact.DeployData(args)
	if err != nil {
		return fmt.Errorf("binding '%s': %w", b.Name, err)
	}

	from, err := d.tx.Keyring().Resolve(b.From)
	if err != nil {
		return fmt.Errorf("binding '%s': %w", b.Name, err)
	}

	records, err := b.ArgRecords()
	if err != nil {
		return err
	}
	encodedArgs, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode arguments of '%s': %w", b.Name, err)
	}
	input := ledger.CallInput{
		Kind:   ledger.CallKindDeploy,
		Target: b.Name,
		Args:   encodedArgs,
		From:   from.Hex(),
	}

	// the committed instance no longer matches the declaration
	d.ledger.MarkUndeployed(b.Name)
	d.ledger.PutBinding(b.Name, b.Kind, b.Artifact.Hash().Hex(), records)

	receipt, err := d.recoverDeploy(ctx, b.Name, input)
	if err != nil {
		return err
	}
	if receipt == nil {
		log.Info("deploying binding")
		receipt, err = d.sendDeploy(ctx, b.Name, input, from, data)
		if err != nil {
			return err
		}
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: deployment of '%s' in %s", ErrTransactionReverted, b.Name, receipt.TxHash.Hex())
	}

	d.ledger.MarkDeployed(b.Name, receipt.ContractAddress.Hex())
	if node.Status == resolver.StatusChanged {
		d.ledger.ResetDependent(b.Name)
	}
	d.setDeployState(b, receipt.ContractAddress)

	d.mu.Lock()
	d.deployed[b.Name] = true
	d.mu.Unlock()

	log.With("address", receipt.ContractAddress.Hex()).With("tx_hash", receipt.TxHash.Hex()).Info("binding deployed")
	return nil
}

// recoverDeploy completes a deployment broadcast by an earlier run. It
// returns nil when there is nothing to recover.
func (d *Driver) recoverDeploy(ctx context.Context, name string, input ledger.CallInput) (*types.Receipt, error) {
	record, ok := d.ledger.Record(name)
	if !ok {
		return nil, nil
	}
	last, ok := record.LastTransaction()
	if !ok || !last.Pending() || !last.Input.Equal(input) {
		return nil, nil
	}

	receipt, err := d.tx.Recover(ctx, common.HexToHash(last.TxHash))
	if err != nil || receipt == nil {
		return nil, err
	}

	index := len(record.TransactionRecords) - 1
	if err := d.ledger.CompleteTransaction(name, index, outputOf(receipt)); err != nil {
		return nil, err
	}
	d.logger.With("binding", name).With("tx_hash", last.TxHash).Info("recovered deployment from a previous run")
	return receipt, nil
}

func (d *Driver) sendDeploy(ctx context.Context, name string, input ledger.CallInput, from common.Address, data []byte) (*types.Receipt, error) {
	index := -1
	if record, ok := d.ledger.Record(name); ok {
		if last, ok := record.LastTransaction(); ok && last.Pending() {
			// broadcast by an earlier run but unknown to the network
			index = len(record.TransactionRecords) - 1
		}
	}

	tx, err := d.tx.Send(ctx, txmanager.Request{
		From: from,
		Data: data,
		BeforeSend: func(tx *types.Transaction) error {
			pending := ledger.TransactionRecord{Input: input, TxHash: tx.Hash().Hex()}
			if index >= 0 {
				if err := d.ledger.ReplaceTransaction(name, index, pending); err != nil {
					return err
				}
			} else {
				index = d.ledger.AppendTransaction(name, pending)
			}
			return d.ledger.Flush(ctx)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to deploy '%s': %w", name, err)
	}

	receipt, err := d.tx.Wait(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := d.ledger.CompleteTransaction(name, index, outputOf(receipt)); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (d *Driver) runEvent(ctx context.Context, e *module.Event, node resolver.PlanNode) error {
	log := d.logger.With("event", e.Name, "phase", e.Phase.String(), "owner", e.Owner)

	if !d.shouldRun(e) {
		log.Debug("owner not deployed in this run; skipping hook")
		return nil
	}

	d.ledger.EnsureEvent(e.Name)

	from, err := d.tx.Keyring().Resolve(e.From)
	if err != nil {
		return fmt.Errorf("event '%s': %w", e.Name, err)
	}

	hc := &hookContext{
		driver: d,
		event:  e,
		from:   from,
		calls:  make(map[string]*ledger.CallLedger),
	}

	log.Info("running hook")
	if err := e.Body(ctx, hc); err != nil {
		return fmt.Errorf("hook '%s' failed: %w", e.Name, err)
	}

	d.ledger.MarkExecuted(e.Name)
	d.mu.Lock()
	e.Executed = true
	d.mu.Unlock()

	log.With("replayed", hc.replayed, "sent", hc.sent).Info("hook completed")
	return nil
}

// shouldRun applies the phase rules: compile and deployment phases always
// run, the others only around a deployment of their owner in this run.
func (d *Driver) shouldRun(e *module.Event) bool {
	if e.Owner == "" || e.Phase.Unconditional() {
		return true
	}

	ownerStatus, _ := d.plan.Status(e.Owner)
	switch e.Phase {
	case module.BeforeDeploy:
		return ownerStatus != resolver.StatusUnchanged
	case module.OnChange:
		return ownerStatus == resolver.StatusChanged && d.DeployedThisRun(e.Owner)
	default:
		return d.DeployedThisRun(e.Owner)
	}
}

// Address returns the address of a deployed binding of this module or of an extra ledger.
func (d *Driver) Address(name string) (common.Address, error) {
	if node, ok := d.plan.Node(name); ok {
		if b, ok := node.Element.(*module.Binding); ok {
			d.mu.Lock()
			state := b.DeployState
			d.mu.Unlock()
			if state.LogicallyDeployed {
				return state.Address, nil
			}
			return common.Address{}, fmt.Errorf("%w: '%s'", ErrDependencyNotDeployed, name)
		}
	}

	snapshot, err := d.ledger.Snapshot()
	if err != nil {
		return common.Address{}, err
	}
	if record, ok := resolver.LookupBinding(name, snapshot, d.extra...); ok {
		return common.HexToAddress(record.DeployState.Address), nil
	}
	return common.Address{}, fmt.Errorf("%w: '%s'", ErrDependencyNotDeployed, name)
}

func (d *Driver) setDeployState(b *module.Binding, address common.Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b.DeployState = module.DeployState{Address: address, LogicallyDeployed: true}
}

func outputOf(receipt *types.Receipt) ledger.CallOutput {
	output := ledger.CallOutput{
		TxHash:  receipt.TxHash.Hex(),
		GasUsed: receipt.GasUsed,
		Status:  receipt.Status,
	}
	if receipt.BlockNumber != nil {
		output.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.ContractAddress != (common.Address{}) {
		output.ContractAddress = receipt.ContractAddress.Hex()
	}
	return output
}
