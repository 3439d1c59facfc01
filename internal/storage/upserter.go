package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bull/doc-ingest/internal/retry"
)

// DefaultUpsertTimeout bounds a single index call.
const DefaultUpsertTimeout = 30 * time.Second

// Upserter writes processing batches to a VectorIndex. Each call gets its own timeout and is
// retried under the configured policy; invalid records and dimension mismatches are never
// retried.
type Upserter struct {
	index     VectorIndex
	policy    retry.Policy
	timeout   time.Duration
	dimension int
}

// NewUpserter creates an Upserter. A zero dimension disables the dimension check; a zero
// timeout uses DefaultUpsertTimeout.
func NewUpserter(index VectorIndex, policy retry.Policy, timeout time.Duration, dimension int) *Upserter {
	if timeout <= 0 {
		timeout = DefaultUpsertTimeout
	}
	policy.Retryable = func(err error) bool {
		return !errors.Is(err, ErrDimensionMismatch)
	}
	return &Upserter{
		index:     index,
		policy:    policy,
		timeout:   timeout,
		dimension: dimension,
	}
}

// Upsert writes batch and reports how many attempts it took.
func (u *Upserter) Upsert(ctx context.Context, batch []VectorRecord) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	for _, r := range batch {
		if r.ID == "" || r.Metadata.DocumentID == "" {
			return 0, fmt.Errorf("%w: id %q, document %q", ErrInvalidRecord, r.ID, r.Metadata.DocumentID)
		}
		if u.dimension > 0 && len(r.Values) != u.dimension {
			return 0, fmt.Errorf("%w: record %s has %d dimensions, expected %d",
				ErrDimensionMismatch, r.ID, len(r.Values), u.dimension)
		}
	}

	attempts, err := u.policy.DoCount(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, u.timeout)
		defer cancel()
		return u.index.Upsert(ctx, batch)
	})
	if err != nil {
		return attempts, fmt.Errorf("upsert %d records after %d attempts: %w", len(batch), attempts, err)
	}
	return attempts, nil
}

// Exists reports whether the vector id is present in the index.
func (u *Upserter) Exists(ctx context.Context, id string) (bool, error) {
	var found bool
	err := u.policy.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, u.timeout)
		defer cancel()

		records, err := u.index.Fetch(ctx, []string{id})
		if err != nil {
			return err
		}
		found = len(records) > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("fetch %s: %w", id, err)
	}
	return found, nil
}

// Delete removes ids from the index.
func (u *Upserter) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := u.policy.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, u.timeout)
		defer cancel()
		return u.index.Delete(ctx, ids)
	})
	if err != nil {
		return fmt.Errorf("delete %d records: %w", len(ids), err)
	}
	return nil
}
