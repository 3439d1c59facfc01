package lease

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LocalLeaser keeps leases in process memory. It serializes workers inside one process when no
// Redis is configured.
type LocalLeaser struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	owners map[string]localEntry
	seq    uint64
}

type localEntry struct {
	id      uint64
	expires time.Time
}

var _ Leaser = (*LocalLeaser)(nil)

// NewLocalLeaser creates an in-memory leaser.
func NewLocalLeaser(ttl time.Duration) *LocalLeaser {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LocalLeaser{ttl: ttl, now: time.Now, owners: make(map[string]localEntry)}
}

// Acquire claims key or returns ErrHeld.
func (l *LocalLeaser) Acquire(_ context.Context, key string) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.owners[key]; ok && now.Before(e.expires) {
		return nil, fmt.Errorf("%w: %s", ErrHeld, key)
	}
	l.seq++
	l.owners[key] = localEntry{id: l.seq, expires: now.Add(l.ttl)}
	return &localLease{leaser: l, key: key, id: l.seq}, nil
}

type localLease struct {
	leaser *LocalLeaser
	key    string
	id     uint64
}

func (r *localLease) Extend(context.Context) error {
	l := r.leaser
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.owners[r.key]
	if !ok || e.id != r.id || !l.now().Before(e.expires) {
		return fmt.Errorf("%w: %s", ErrLost, r.key)
	}
	e.expires = l.now().Add(l.ttl)
	l.owners[r.key] = e
	return nil
}

func (r *localLease) Release(context.Context) error {
	l := r.leaser
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.owners[r.key]
	if !ok || e.id != r.id {
		return fmt.Errorf("%w: %s", ErrLost, r.key)
	}
	delete(l.owners, r.key)
	return nil
}
