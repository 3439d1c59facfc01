package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bull/doc-ingest/internal/queue"
)

// JobQueue is the dispatch transport. *queue.RedisQueue implements it.
type JobQueue interface {
	Consume(ctx context.Context, timeout time.Duration) (*queue.Delivery, error)
	Ack(ctx context.Context, d *queue.Delivery) error
	Requeue(ctx context.Context, d *queue.Delivery) error
	Recover(ctx context.Context) (int, error)
}

// JobHandler runs one job. *Pipeline implements it.
type JobHandler interface {
	HandleJob(ctx context.Context, job Job) (*Result, error)
}

// WorkerConfig tunes the consume loop.
type WorkerConfig struct {
	Concurrency int           // Jobs handled in parallel.
	PollTimeout time.Duration // How long one Consume call blocks.
	BusyDelay   time.Duration // Pause before requeueing a job whose document is busy.

	// RecoverOnStart moves in-flight jobs back to the queue before consuming. Only set it when
	// no other worker is consuming the queue, or their in-flight jobs are delivered twice.
	RecoverOnStart bool
}

// Worker consumes jobs from a queue and hands them to a JobHandler.
type Worker struct {
	queue   JobQueue
	handler JobHandler
	cfg     WorkerConfig
	logger  *slog.Logger
}

// NewWorker creates a Worker. Zero config fields get defaults: 2 workers, 5s poll, 5s busy delay.
func NewWorker(q JobQueue, h JobHandler, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.BusyDelay <= 0 {
		cfg.BusyDelay = 5 * time.Second
	}
	return &Worker{
		queue:   q,
		handler: h,
		cfg:     cfg,
		logger:  logger.With("component", "worker"),
	}
}

// Run consumes until ctx is cancelled. Jobs already started finish with a context detached
// from ctx so their terminal status is recorded.
func (w *Worker) Run(ctx context.Context) error {
	if w.cfg.RecoverOnStart {
		moved, err := w.queue.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recover in-flight jobs: %w", err)
		}
		w.logger.Info("recovered in-flight jobs", "count", moved)
	}

	w.logger.Info("worker started", "concurrency", w.cfg.Concurrency)

	var g errgroup.Group
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			w.loop(ctx, i)
			return nil
		})
	}
	_ = g.Wait()

	w.logger.Info("worker stopped")
	return nil
}

func (w *Worker) loop(ctx context.Context, slot int) {
	logger := w.logger.With("slot", slot)
	for ctx.Err() == nil {
		d, err := w.queue.Consume(ctx, w.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("consume failed", "error", err)
			sleep(ctx, time.Second)
			continue
		}
		if d == nil {
			continue
		}
		w.handle(context.WithoutCancel(ctx), d, logger)
	}
}

// handle runs one delivery and settles it. Busy documents are requeued; everything else is
// acknowledged, because the outcome has been written to the status store.
func (w *Worker) handle(ctx context.Context, d *queue.Delivery, logger *slog.Logger) {
	job, err := DecodeJob(d.Body)
	if err != nil {
		logger.Error("dropping malformed job", "body", string(d.Body), "error", err)
		w.ack(ctx, d, logger)
		return
	}

	res, err := w.handler.HandleJob(ctx, job)
	switch {
	case errors.Is(err, ErrDocumentBusy):
		sleep(ctx, w.cfg.BusyDelay)
		if err := w.queue.Requeue(ctx, d); err != nil {
			logger.Error("requeue failed", "document_id", job.DocumentID, "error", err)
		}
		return
	case err != nil:
		logger.Error("job rejected", "document_id", job.DocumentID, "error", err)
	default:
		logger.Info("job handled",
			"document_id", job.DocumentID,
			"status", res.Status,
			"skipped", res.Skipped,
			"duration", res.Duration,
		)
	}
	w.ack(ctx, d, logger)
}

func (w *Worker) ack(ctx context.Context, d *queue.Delivery, logger *slog.Logger) {
	if err := w.queue.Ack(ctx, d); err != nil {
		logger.Error("ack failed", "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
