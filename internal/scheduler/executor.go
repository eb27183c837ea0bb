package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/compose-network/mortar/internal/logger"
	"github.com/compose-network/mortar/internal/resolver"
	"golang.org/x/sync/errgroup"
)

type ElementStatus int

const (
	StatusPending ElementStatus = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
)

func (s ElementStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

type (
	// Runner executes one element.
	Runner interface {
		Run(ctx context.Context, node resolver.PlanNode) error
	}

	RunnerFunc func(ctx context.Context, node resolver.PlanNode) error

	// ElementError is the failure of one element.
	ElementError struct {
		Element string
		Depth   int
		Err     error
	}

	Executor struct {
		runner   Runner
		parallel bool
		// OnBatchComplete runs after every batch, including a failed one.
		OnBatchComplete func(ctx context.Context, batch Batch) error
		logger          *slog.Logger
	}

	// Report holds the terminal state of a run.
	Report struct {
		mu       sync.Mutex
		statuses map[string]ElementStatus
		errs     map[string]error
		order    []string
		// Batches counts batches that completed without failure.
		Batches int
	}
)

func (f RunnerFunc) Run(ctx context.Context, node resolver.PlanNode) error {
	return f(ctx, node)
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("element '%s' (batch %d) failed: %v", e.Element, e.Depth, e.Err)
}

func (e *ElementError) Unwrap() error {
	return e.Err
}

// NewExecutor creates an executor. Without parallel, the elements of a batch run one after the other.
func NewExecutor(runner Runner, parallel bool) *Executor {
	return &Executor{
		runner:   runner,
		parallel: parallel,
		logger:   logger.Named("batch_executor"),
	}
}

// Execute runs batches in order. A failed element does not cancel its
// siblings, but no later batch starts. The returned error is the first failure.
// The context is only checked between batches.
func (e *Executor) Execute(ctx context.Context, batches []Batch) (*Report, error) {
	report := newReport(batches)

	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("run aborted before batch %d: %w", batch.Depth, err)
		}

		log := e.logger.With("batch", batch.Depth, "elements", batch.Names())
		log.Info("executing batch")

		batchErr := e.executeBatch(ctx, batch, report)

		if e.OnBatchComplete != nil {
			if err := e.OnBatchComplete(ctx, batch); err != nil {
				return report, errors.Join(batchErr, fmt.Errorf("failed to complete batch %d: %w", batch.Depth, err))
			}
		}

		if batchErr != nil {
			log.With("err", batchErr).Error("batch failed; stopping")
			return report, batchErr
		}

		report.Batches++
		log.Info("batch completed")
	}

	return report, nil
}

func (e *Executor) executeBatch(ctx context.Context, batch Batch, report *Report) error {
	var g errgroup.Group
	if !e.parallel {
		g.SetLimit(1)
	}

	for _, node := range batch.Nodes {
		g.Go(func() error {
			report.set(node.Name(), StatusRunning, nil)
			if err := e.runner.Run(ctx, node); err != nil {
				report.set(node.Name(), StatusFailed, err)
				return &ElementError{Element: node.Name(), Depth: batch.Depth, Err: err}
			}
			report.set(node.Name(), StatusSucceeded, nil)
			return nil
		})
	}

	return g.Wait()
}

func newReport(batches []Batch) *Report {
	r := &Report{
		statuses: make(map[string]ElementStatus),
		errs:     make(map[string]error),
	}
	for _, batch := range batches {
		for _, node := range batch.Nodes {
			r.statuses[node.Name()] = StatusPending
			r.order = append(r.order, node.Name())
		}
	}
	return r
}

func (r *Report) set(name string, status ElementStatus, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[name] = status
	if err != nil {
		r.errs[name] = err
	}
}

func (r *Report) Status(name string) ElementStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[name]
}

// Err returns the error an element failed with.
func (r *Report) Err(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs[name]
}

// Failed lists failed elements in schedule order.
func (r *Report) Failed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var failed []string
	for _, name := range r.order {
		if r.statuses[name] == StatusFailed {
			failed = append(failed, name)
		}
	}
	return failed
}

// Count returns how many elements ended in status.
func (r *Report) Count(status ElementStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.statuses {
		if s == status {
			n++
		}
	}
	return n
}
