package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bull/doc-ingest/internal/retry"
)

// DefaultWriteTimeout bounds a single store write.
const DefaultWriteTimeout = 10 * time.Second

// DefaultPolicy is 3 attempts with 500ms linear backoff.
func DefaultPolicy() retry.Policy {
	return retry.Default("status_write", 500*time.Millisecond)
}

// Tracker writes status updates with retries. A write that exhausts its retries is logged and
// returned as ErrStatusWrite; callers treat it as non-fatal.
type Tracker struct {
	store   Store
	policy  retry.Policy
	timeout time.Duration
	logger  *slog.Logger
}

// NewTracker creates a Tracker. Writes are retried under policy, each attempt bounded by
// DefaultWriteTimeout.
func NewTracker(store Store, policy retry.Policy, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	policy.Retryable = func(err error) bool {
		return !errors.Is(err, ErrNotFound)
	}
	return &Tracker{
		store:   store,
		policy:  policy,
		timeout: DefaultWriteTimeout,
		logger:  logger.With("component", "status"),
	}
}

// SetStatus records a state transition with a human-readable message.
func (t *Tracker) SetStatus(ctx context.Context, documentID string, s Status, message string) error {
	return t.Write(ctx, documentID, Update{Status: s, Message: message})
}

// SetProgress records chunk counters without changing the state.
func (t *Tracker) SetProgress(ctx context.Context, documentID string, total, processed int) error {
	return t.Write(ctx, documentID, Update{TotalChunks: &total, ProcessedChunks: &processed})
}

// Write applies u with retries. The write is detached from ctx cancellation so a shutting-down
// worker still records its outcome.
func (t *Tracker) Write(ctx context.Context, documentID string, u Update) error {
	if u.Status != "" && !u.Status.Valid() {
		return fmt.Errorf("%w: invalid status %q", ErrStatusWrite, u.Status)
	}

	ctx = context.WithoutCancel(ctx)
	attempts, err := t.policy.DoCount(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()
		return t.store.Write(ctx, documentID, u)
	})
	if err != nil {
		t.logger.Error("status write failed",
			"document_id", documentID,
			"status", u.Status,
			"attempts", attempts,
			"error", err,
		)
		return fmt.Errorf("%w: %s after %d attempts: %w", ErrStatusWrite, documentID, attempts, err)
	}
	return nil
}

// Get reads the current record.
func (t *Tracker) Get(ctx context.Context, documentID string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.store.Read(ctx, documentID)
}
