package automod

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// RaidState is the outcome of recording a join.
type RaidState struct {
	Triggered bool // True only for the join that pushed the guild over the threshold
	Count     int  // Joins inside the window, including this one
}

// guildJoins is the join window of one guild.
type guildJoins struct {
	mu       sync.Mutex
	window   Window
	breached bool
}

// JoinDetector tracks the join rate of each guild.
type JoinDetector struct {
	guilds *xsync.MapOf[uint64, *guildJoins]
}

// NewJoinDetector creates a detector with no recorded joins.
func NewJoinDetector() *JoinDetector {
	return &JoinDetector{
		guilds: xsync.NewMapOf[uint64, *guildJoins](),
	}
}

// OnJoin records a join and reports whether it started a raid.
// Detection is edge-triggered: once a guild is over the threshold, further joins
// do not trigger again until the count drops back to the threshold or below.
func (d *JoinDetector) OnJoin(guildID uint64, at time.Time, cfg AntiRaid) RaidState {
	g, _ := d.guilds.LoadOrCompute(guildID, func() *guildJoins { return &guildJoins{} })

	g.mu.Lock()
	defer g.mu.Unlock()

	// Re-arm if the window drained since the last join
	if g.breached && g.window.Count(at, cfg.Window()) <= cfg.MaxJoins {
		g.breached = false
	}

	count := g.window.Add(at, cfg.Window())
	if count <= cfg.MaxJoins {
		g.breached = false
		return RaidState{Count: count}
	}

	if g.breached {
		return RaidState{Count: count}
	}

	g.breached = true
	return RaidState{Triggered: true, Count: count}
}

// PruneIdle drops join windows that saw no join after the cutoff.
func (d *JoinDetector) PruneIdle(cutoff time.Time) int {
	removed := 0
	d.guilds.Range(func(guildID uint64, _ *guildJoins) bool {
		d.guilds.Compute(guildID, func(g *guildJoins, loaded bool) (*guildJoins, bool) {
			if !loaded {
				return nil, true
			}
			if g.window.IdleSince(cutoff) {
				removed++
				return nil, true
			}
			return g, false
		})
		return true
	})

	return removed
}
