package moderation_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robalyx/warden/internal/moderation"
	"github.com/stretchr/testify/assert"
)

func TestKeyLocker(t *testing.T) {
	t.Parallel()

	t.Run("serializes the same key", func(t *testing.T) {
		t.Parallel()

		locker := moderation.NewKeyLocker()

		var (
			wg      sync.WaitGroup
			holders atomic.Int32
			maxSeen atomic.Int32
		)
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := locker.Lock(1, 2)
				defer unlock()

				n := holders.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(time.Millisecond)
				holders.Add(-1)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), maxSeen.Load())
		assert.Zero(t, locker.Len(), "released keys are dropped")
	})

	t.Run("different keys do not block", func(t *testing.T) {
		t.Parallel()

		locker := moderation.NewKeyLocker()
		unlock := locker.Lock(1, 2)
		defer unlock()

		done := make(chan struct{})
		go func() {
			release := locker.Lock(1, 3)
			release()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("lock on another member blocked")
		}
		assert.Equal(t, 1, locker.Len())
	})

	t.Run("unlock is idempotent", func(t *testing.T) {
		t.Parallel()

		locker := moderation.NewKeyLocker()
		unlock := locker.Lock(1, 2)
		unlock()
		unlock()
		assert.Zero(t, locker.Len())
	})
}
