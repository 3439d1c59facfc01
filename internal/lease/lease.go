// Package lease provides per-document leases so one document is never processed by two
// workers at once.
package lease

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrHeld is returned by Acquire when another owner holds the lease.
var ErrHeld = errors.New("lease held by another owner")

// ErrLost is returned by Extend and Release when the lease expired or was taken over.
var ErrLost = errors.New("lease lost")

// Lease is a held, time-bounded claim on a key.
type Lease interface {
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
}

// Leaser hands out leases.
type Leaser interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// KeepAlive extends l every interval until the returned stop function is called. The returned
// context is derived from ctx and is cancelled with cause ErrLost when the lease is lost, so work
// guarded by the lease stops. Other extension failures are logged and retried on the next tick.
func KeepAlive(ctx context.Context, l Lease, interval time.Duration, logger *slog.Logger) (leased context.Context, stop func()) {
	if logger == nil {
		logger = slog.Default()
	}
	leased, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-leased.Done():
				return
			case <-ticker.C:
				err := l.Extend(leased)
				if err == nil {
					continue
				}
				if errors.Is(err, ErrLost) {
					logger.Error("lease lost during processing", "error", err)
					cancel(err)
					return
				}
				if leased.Err() == nil {
					logger.Warn("lease extension failed", "error", err)
				}
			}
		}
	}()

	return leased, func() {
		cancel(nil)
		<-done
	}
}
