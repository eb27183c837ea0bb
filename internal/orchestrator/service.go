// Package orchestrator runs a module against a network: resolve, confirm, execute, persist.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/compose-network/mortar/internal/ledger"
	"github.com/compose-network/mortar/internal/lifecycle"
	"github.com/compose-network/mortar/internal/logger"
	"github.com/compose-network/mortar/internal/module"
	"github.com/compose-network/mortar/internal/resolver"
	"github.com/compose-network/mortar/internal/scheduler"
	"github.com/compose-network/mortar/internal/txmanager"
)

var ErrUserDeclined = errors.New("deployment declined")

// lockWait bounds how long a run waits for another run to release the ledger.
var lockWait = 10 * time.Second

type (
	// Confirmer asks whether the shown diff should be deployed.
	Confirmer func(ctx context.Context, diff resolver.Diff) (bool, error)

	// Locker is implemented by stores that can guard a network against concurrent runs.
	Locker interface {
		Lock(ctx context.Context, networkID string, wait time.Duration) (func() error, error)
	}

	Options struct {
		NetworkID string
		// States names the ledger entries to load. The first one is written by
		// the run and defaults to the module name; the others are read-only and
		// resolve references to bindings of other modules.
		States []string
	}

	DeployOptions struct {
		Options
		Parallelize bool
		// Confirm asks the Confirmer before executing a plan with deployments.
		Confirm bool
	}

	Result struct {
		Plan   *resolver.Plan
		Diff   resolver.Diff
		Report *scheduler.Report
		// NoOp is set when no binding had to be deployed.
		NoOp bool
	}

	Service struct {
		store   ledger.Store
		tx      *txmanager.Manager
		confirm Confirmer
		out     io.Writer
		logger  *slog.Logger
	}
)

func NewService(store ledger.Store, tx *txmanager.Manager, confirm Confirmer, out io.Writer) *Service {
	return &Service{
		store:   store,
		tx:      tx,
		confirm: confirm,
		out:     out,
		logger:  logger.Named("orchestrator"),
	}
}

// Deploy executes mod. Ledger writes made before a failure are always persisted.
func (s *Service) Deploy(ctx context.Context, mod *module.Module, opts DeployOptions) (result *Result, err error) {
	log := s.logger.With("module", mod.Name, "network_id", opts.NetworkID)

	graph, err := lifecycle.Wire(mod)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, opts.NetworkID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if unlockErr := unlock(); unlockErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to release ledger lock: %w", unlockErr))
		}
	}()

	key, extra, err := s.loadStates(ctx, mod, opts.Options)
	if err != nil {
		return nil, err
	}

	l, err := ledger.Open(ctx, s.store, key)
	if err != nil {
		return nil, err
	}
	snapshot, err := l.Snapshot()
	if err != nil {
		return nil, err
	}

	plan, err := resolver.Resolve(graph, snapshot, extra...)
	if err != nil {
		return nil, err
	}
	batches, err := scheduler.Schedule(plan)
	if err != nil {
		return nil, err
	}
	diff, err := resolver.CheckIfDiff(graph, snapshot, extra...)
	if err != nil {
		return nil, err
	}

	result = &Result{Plan: plan, Diff: diff, NoOp: !plan.HasWork()}
	if err := resolver.PrintDiff(s.out, diff); err != nil {
		return nil, err
	}

	if result.NoOp {
		log.Info("nothing to deploy; running unconditional hooks only")
	} else if opts.Confirm && s.confirm != nil {
		ok, err := s.confirm(ctx, diff)
		if err != nil {
			return nil, fmt.Errorf("failed to confirm deployment: %w", err)
		}
		if !ok {
			return nil, ErrUserDeclined
		}
	}

	defer func() {
		// a cancelled run still persists what it recorded
		if flushErr := l.Flush(context.WithoutCancel(ctx)); flushErr != nil {
			err = errors.Join(err, flushErr)
		}
	}()

	executor := scheduler.NewExecutor(lifecycle.NewDriver(l, s.tx, plan, extra...), opts.Parallelize)
	executor.OnBatchComplete = func(ctx context.Context, _ scheduler.Batch) error {
		return l.Flush(context.WithoutCancel(ctx))
	}

	log.With("batches", len(batches), "parallel", opts.Parallelize).Info("executing plan")
	report, err := executor.Execute(ctx, batches)
	result.Report = report
	if err != nil {
		log.With("failed", report.Failed()).With("err", err).Error("deployment failed")
		return result, err
	}

	log.With("succeeded", report.Count(scheduler.StatusSucceeded)).Info("deployment completed")
	return result, nil
}

// Diff prints what a deployment of mod would do without touching the network.
func (s *Service) Diff(ctx context.Context, mod *module.Module, opts Options) (resolver.Diff, error) {
	graph, err := lifecycle.Wire(mod)
	if err != nil {
		return resolver.Diff{}, err
	}

	key, extra, err := s.loadStates(ctx, mod, opts)
	if err != nil {
		return resolver.Diff{}, err
	}
	entry, err := s.store.Load(ctx, key)
	if err != nil {
		return resolver.Diff{}, fmt.Errorf("failed to load ledger: %w", err)
	}

	diff, err := resolver.CheckIfDiff(graph, entry, extra...)
	if err != nil {
		return resolver.Diff{}, err
	}
	return diff, resolver.PrintDiff(s.out, diff)
}

func (s *Service) loadStates(ctx context.Context, mod *module.Module, opts Options) (ledger.Key, []*ledger.Entry, error) {
	key := ledger.Key{NetworkID: opts.NetworkID, Module: mod.Name}
	if len(opts.States) > 0 && opts.States[0] != "" {
		key.Module = opts.States[0]
	}

	var extra []*ledger.Entry
	for i := 1; i < len(opts.States); i++ {
		entry, err := s.store.Load(ctx, ledger.Key{NetworkID: opts.NetworkID, Module: opts.States[i]})
		if err != nil {
			return ledger.Key{}, nil, fmt.Errorf("failed to load ledger '%s': %w", opts.States[i], err)
		}
		extra = append(extra, entry)
	}
	return key, extra, nil
}

func (s *Service) lock(ctx context.Context, networkID string) (func() error, error) {
	locker, ok := s.store.(Locker)
	if !ok {
		return func() error { return nil }, nil
	}
	return locker.Lock(ctx, networkID, lockWait)
}
