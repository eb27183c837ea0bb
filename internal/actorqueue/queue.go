// Package actorqueue serializes work per sending actor.
package actorqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/compose-network/mortar/internal/logger"
)

var ErrClosed = errors.New("actor queue closed")

type (
	// Queue runs the functions of one actor strictly in submission order, on a
	// dedicated goroutine per actor. Different actors proceed independently.
	Queue struct {
		mu      sync.RWMutex
		workers map[string]chan job
		closed  bool
		wg      sync.WaitGroup
		logger  *slog.Logger
	}

	job struct {
		ctx  context.Context
		fn   func(ctx context.Context) error
		done chan error
	}
)

func New() *Queue {
	return &Queue{
		workers: make(map[string]chan job),
		logger:  logger.Named("actor_queue"),
	}
}

// Do enqueues fn for actor and returns once it has run. A function whose
// context is already cancelled when its turn comes is not run.
func (q *Queue) Do(ctx context.Context, actor string, fn func(ctx context.Context) error) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	jobs, err := q.worker(actor)
	if err != nil {
		return err
	}

	if err := q.enqueue(ctx, jobs, j); err != nil {
		return err
	}

	return <-j.done
}

func (q *Queue) worker(actor string) (chan job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}
	jobs, ok := q.workers[actor]
	if !ok {
		jobs = make(chan job, 64)
		q.workers[actor] = jobs
		q.wg.Add(1)
		go q.work(actor, jobs)
	}
	return jobs, nil
}

// enqueue holds the read lock so Close cannot close jobs during the send.
func (q *Queue) enqueue(ctx context.Context, jobs chan job, j job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}
	select {
	case jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) work(actor string, jobs <-chan job) {
	defer q.wg.Done()
	q.logger.With("actor", actor).Debug("actor worker started")

	for j := range jobs {
		j.done <- run(j)
	}
}

func run(j job) (err error) {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in actor queue: %v", r)
		}
	}()
	return j.fn(j.ctx)
}

// Close stops accepting work and waits for queued functions to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, jobs := range q.workers {
		close(jobs)
	}
	q.mu.Unlock()

	q.wg.Wait()
}
