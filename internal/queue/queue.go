// Package queue is a reliable Redis list queue with at-least-once delivery. A consumed message
// sits in a processing list until it is acknowledged; messages left there by a crashed worker
// are returned to the queue by Recover.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultName is the default queue key.
const DefaultName = "ingest:jobs"

// Delivery is one consumed message.
type Delivery struct {
	Body []byte
	raw  string
}

// RedisQueue stores pending messages in a list and in-flight messages in "{name}:processing".
type RedisQueue struct {
	rdb        *goredis.Client
	name       string
	processing string
}

// NewRedisQueue creates a queue backed by the list at name.
func NewRedisQueue(rdb *goredis.Client, name string) *RedisQueue {
	if name == "" {
		name = DefaultName
	}
	return &RedisQueue{
		rdb:        rdb,
		name:       name,
		processing: name + ":processing",
	}
}

// Enqueue appends body to the queue.
func (q *RedisQueue) Enqueue(ctx context.Context, body []byte) error {
	if err := q.rdb.LPush(ctx, q.name, body).Err(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// Consume waits up to timeout for a message. It returns nil, nil when nothing arrived.
func (q *RedisQueue) Consume(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.rdb.BLMove(ctx, q.name, q.processing, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return &Delivery{Body: []byte(raw), raw: raw}, nil
}

// Ack removes a processed message from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.rdb.LRem(ctx, q.processing, 1, d.raw).Err(); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

// Requeue puts a message back at the end of the queue and removes it from the processing list.
func (q *RedisQueue) Requeue(ctx context.Context, d *Delivery) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, d.raw)
		pipe.LPush(ctx, q.name, d.raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return nil
}

// Recover moves every in-flight message back to the queue and reports how many moved. Run it
// only when no other consumer of this queue is alive.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.rdb.LMove(ctx, q.processing, q.name, "RIGHT", "RIGHT").Err()
		if errors.Is(err, goredis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover: %w", err)
		}
		moved++
	}
}

// Len returns the number of pending and in-flight messages.
func (q *RedisQueue) Len(ctx context.Context) (pending, inFlight int64, err error) {
	pending, err = q.rdb.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("queue length: %w", err)
	}
	inFlight, err = q.rdb.LLen(ctx, q.processing).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("processing length: %w", err)
	}
	return pending, inFlight, nil
}
