package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
)

// Locks is an in-process domain.LockManager with expiring keys.
type Locks struct {
	mu   sync.Mutex
	held map[string]lease
	now  func() time.Time
}

type lease struct {
	token   uint64
	expires time.Time
}

// NewLocks creates an empty lock table.
func NewLocks() *Locks {
	return &Locks{held: make(map[string]lease), now: time.Now}
}

var _ domain.LockManager = (*Locks)(nil)

var tokenSeq struct {
	sync.Mutex
	n uint64
}

// Acquire takes key for ttl. The returned release only frees the lease it
// created, so a late release after expiry cannot drop a newer holder.
func (l *Locks) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, fmt.Errorf("local: acquire %s: %w", key, domain.ErrLockHeld)
	}

	tokenSeq.Lock()
	tokenSeq.n++
	token := tokenSeq.n
	tokenSeq.Unlock()

	l.held[key] = lease{token: token, expires: now.Add(ttl)}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.held[key]; ok && cur.token == token {
				delete(l.held, key)
			}
		})
	}, nil
}
