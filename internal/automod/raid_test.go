package automod_test

import (
	"sync"
	"testing"
	"time"

	"github.com/robalyx/warden/internal/automod"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/stretchr/testify/assert"
)

func raidConfig() automod.AntiRaid {
	return automod.AntiRaid{
		Enabled:      true,
		MaxJoins:     10,
		TimeWindowMs: 60000,
		Action:       enum.RaidActionLockdown,
	}
}

func TestJoinDetector(t *testing.T) {
	t.Parallel()

	t.Run("eleventh join triggers once", func(t *testing.T) {
		t.Parallel()

		d := automod.NewJoinDetector()
		cfg := raidConfig()
		t0 := time.Unix(1700000000, 0)

		var triggeredAt []int
		for i := 1; i <= 20; i++ {
			state := d.OnJoin(1, t0.Add(time.Duration(i)*time.Second), cfg)
			assert.Equal(t, i, state.Count)
			if state.Triggered {
				triggeredAt = append(triggeredAt, i)
			}
		}

		assert.Equal(t, []int{11}, triggeredAt)
	})

	t.Run("re-arms after the window drains", func(t *testing.T) {
		t.Parallel()

		d := automod.NewJoinDetector()
		cfg := raidConfig()
		t0 := time.Unix(1700000000, 0)

		triggers := 0
		for i := range 11 {
			if d.OnJoin(1, t0.Add(time.Duration(i)*time.Millisecond), cfg).Triggered {
				triggers++
			}
		}
		assert.Equal(t, 1, triggers)

		// Two minutes later the window is empty again
		t1 := t0.Add(2 * time.Minute)
		for i := range 11 {
			if d.OnJoin(1, t1.Add(time.Duration(i)*time.Millisecond), cfg).Triggered {
				triggers++
			}
		}
		assert.Equal(t, 2, triggers)
	})

	t.Run("guilds are tracked separately", func(t *testing.T) {
		t.Parallel()

		d := automod.NewJoinDetector()
		cfg := raidConfig()
		t0 := time.Unix(1700000000, 0)

		for i := range 10 {
			assert.False(t, d.OnJoin(1, t0.Add(time.Duration(i)), cfg).Triggered)
			assert.False(t, d.OnJoin(2, t0.Add(time.Duration(i)), cfg).Triggered)
		}
	})

	t.Run("concurrent joins trigger exactly once", func(t *testing.T) {
		t.Parallel()

		d := automod.NewJoinDetector()
		cfg := raidConfig()
		t0 := time.Unix(1700000000, 0)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			triggers int
		)
		for i := range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if d.OnJoin(1, t0.Add(time.Duration(i)*time.Millisecond), cfg).Triggered {
					mu.Lock()
					triggers++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, triggers)
	})

	t.Run("idle guilds are pruned", func(t *testing.T) {
		t.Parallel()

		d := automod.NewJoinDetector()
		t0 := time.Unix(1700000000, 0)
		d.OnJoin(1, t0, raidConfig())
		d.OnJoin(2, t0.Add(time.Hour), raidConfig())

		assert.Equal(t, 1, d.PruneIdle(t0.Add(time.Minute)))
	})
}
