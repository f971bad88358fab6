package moderation

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/robalyx/warden/internal/automod"
)

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// KeyLocker serializes work per guild member.
// Entries are reference counted and dropped once no caller holds or waits on them.
type KeyLocker struct {
	locks *xsync.MapOf[automod.MemberKey, *keyLock]
}

// NewKeyLocker creates an empty key locker.
func NewKeyLocker() *KeyLocker {
	return &KeyLocker{
		locks: xsync.NewMapOf[automod.MemberKey, *keyLock](),
	}
}

// Lock blocks until the key is free and returns the function that releases it.
func (l *KeyLocker) Lock(guildID, userID uint64) func() {
	key := automod.MemberKey{GuildID: guildID, UserID: userID}

	lock, _ := l.locks.Compute(key, func(lock *keyLock, loaded bool) (*keyLock, bool) {
		if !loaded {
			lock = &keyLock{}
		}
		lock.refs++
		return lock, false
	})

	lock.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			lock.mu.Unlock()
			l.locks.Compute(key, func(lock *keyLock, _ bool) (*keyLock, bool) {
				lock.refs--
				return lock, lock.refs == 0
			})
		})
	}
}

// Len returns the number of keys currently held or waited on.
func (l *KeyLocker) Len() int {
	return l.locks.Size()
}
