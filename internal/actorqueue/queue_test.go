package actorqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_Do(t *testing.T) {
	t.Run("Should run the functions of one actor in submission order", func(t *testing.T) {
		q := New()
		defer q.Close()

		var (
			mu    sync.Mutex
			order []int
			wg    sync.WaitGroup
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			ready := make(chan struct{})
			go func(i int) {
				defer wg.Done()
				close(ready)
				err := q.Do(context.Background(), "alice", func(context.Context) error {
					mu.Lock()
					order = append(order, i)
					mu.Unlock()
					return nil
				})
				assert.NoError(t, err)
			}(i)
			<-ready
			// gives the goroutine time to enqueue before the next one starts
			time.Sleep(5 * time.Millisecond)
		}
		wg.Wait()

		require.Len(t, order, 20)
		for i, v := range order {
			assert.Equal(t, i, v)
		}
	})

	t.Run("Should never overlap functions of the same actor", func(t *testing.T) {
		q := New()
		defer q.Close()

		var (
			mu      sync.Mutex
			running int
			maxSeen int
			wg      sync.WaitGroup
		)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = q.Do(context.Background(), "alice", func(context.Context) error {
					mu.Lock()
					running++
					maxSeen = max(maxSeen, running)
					mu.Unlock()
					time.Sleep(time.Millisecond)
					mu.Lock()
					running--
					mu.Unlock()
					return nil
				})
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, maxSeen)
	})

	t.Run("Should let different actors run concurrently", func(t *testing.T) {
		q := New()
		defer q.Close()

		release := make(chan struct{})
		started := make(chan struct{})
		go func() {
			_ = q.Do(context.Background(), "alice", func(context.Context) error {
				close(started)
				<-release
				return nil
			})
		}()
		<-started

		err := q.Do(context.Background(), "bob", func(context.Context) error { return nil })
		assert.NoError(t, err)
		close(release)
	})

	t.Run("Should return the function error and turn panics into errors", func(t *testing.T) {
		q := New()
		defer q.Close()

		boom := errors.New("boom")
		assert.ErrorIs(t, q.Do(context.Background(), "alice", func(context.Context) error { return boom }), boom)
		assert.ErrorContains(t, q.Do(context.Background(), "alice", func(context.Context) error { panic("bad") }), "panic")
		assert.NoError(t, q.Do(context.Background(), "alice", func(context.Context) error { return nil }))
	})

	t.Run("Should skip functions whose context is cancelled", func(t *testing.T) {
		q := New()
		defer q.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		called := false
		err := q.Do(ctx, "alice", func(context.Context) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})

	t.Run("Should refuse work after close", func(t *testing.T) {
		q := New()
		q.Close()

		err := q.Do(context.Background(), "alice", func(context.Context) error { return nil })
		assert.ErrorIs(t, err, ErrClosed)
	})
}
