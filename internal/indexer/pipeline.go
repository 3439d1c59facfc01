package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bull/doc-ingest/internal/chunker"
	"github.com/bull/doc-ingest/internal/documents"
	"github.com/bull/doc-ingest/internal/extract"
	"github.com/bull/doc-ingest/internal/lease"
	"github.com/bull/doc-ingest/internal/retry"
	"github.com/bull/doc-ingest/internal/status"
	"github.com/bull/doc-ingest/internal/storage"
)

// Locator resolves where a document's file is stored.
type Locator interface {
	Locate(ctx context.Context, documentID string) (*documents.Document, error)
}

// Embedder produces one vector per chunk.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorWriter writes and checks vectors. *storage.Upserter implements it.
type VectorWriter interface {
	Upsert(ctx context.Context, batch []storage.VectorRecord) (int, error)
	Exists(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, ids []string) error
}

// StatusTracker persists status updates. *status.Tracker implements it.
type StatusTracker interface {
	Write(ctx context.Context, documentID string, u status.Update) error
	Get(ctx context.Context, documentID string) (*status.Record, error)
}

// Deps are the pipeline's collaborators. Leaser is optional.
type Deps struct {
	Locator   Locator
	Extractor extract.Extractor
	Chunker   *chunker.Chunker
	Embedder  Embedder
	Vectors   VectorWriter
	Status    StatusTracker
	Leaser    lease.Leaser
}

// Config tunes batching and timeouts.
type Config struct {
	// BatchSize is the number of chunks embedded concurrently and upserted together.
	BatchSize int

	// BatchDelay is the pause between processing batches. Zero means no pause.
	BatchDelay time.Duration

	// ExtractTimeout bounds each extraction attempt.
	ExtractTimeout time.Duration

	// ExtractRetry governs extraction attempts. Only timeouts are retried.
	ExtractRetry retry.Policy

	// LeaseHeartbeat is how often a held lease is extended.
	LeaseHeartbeat time.Duration
}

// DefaultConfig returns batches of 5 with a 1s pause and a 2 minute extraction timeout.
func DefaultConfig() Config {
	return Config{
		BatchSize:      5,
		BatchDelay:     time.Second,
		ExtractTimeout: 2 * time.Minute,
		ExtractRetry:   retry.Default("extract", time.Second),
		LeaseHeartbeat: lease.DefaultTTL / 3,
	}
}

// Result is the structured outcome of one job.
type Result struct {
	DocumentID string
	RunID      string
	Status     status.Status
	Message    string

	// Redelivery is set when the document was already processing or completed.
	Redelivery bool

	// Skipped is set when the document had already failed; nothing was done.
	Skipped bool

	TotalChunks      int
	ProcessedChunks  int // Embedded and handed to the upserter.
	UpsertedChunks   int
	FailedEmbeddings int
	FailedBatches    int
	Verified         bool
	PrunedVectors    int

	// Err is the first error encountered, nil on success.
	Err error

	// StatusWriteErr is set when the terminal status write failed after retries.
	StatusWriteErr error

	Duration time.Duration
}

// Completed reports whether every chunk was upserted and verified.
func (r *Result) Completed() bool {
	return r.Status == status.Completed
}

func (r *Result) recordErr(err error) {
	if r.Err == nil {
		r.Err = err
	}
}

// Pipeline runs document jobs: extract, chunk, embed, upsert, verify, report.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// NewPipeline creates a pipeline. A nil Chunker uses chunker defaults.
func NewPipeline(deps Deps, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Chunker == nil {
		deps.Chunker = chunker.New()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = 2 * time.Minute
	}
	if cfg.ExtractRetry.MaxAttempts <= 0 {
		cfg.ExtractRetry = retry.Default("extract", time.Second)
	}
	cfg.ExtractRetry.Retryable = retry.IsTimeout
	if cfg.LeaseHeartbeat <= 0 {
		cfg.LeaseHeartbeat = lease.DefaultTTL / 3
	}
	return &Pipeline{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With("component", "pipeline"),
	}
}

// HandleJob processes one job payload. It is safe to call again with the same payload: vector
// ids are deterministic, so a re-run overwrites instead of duplicating.
//
// Every call that gets past the lease ends with exactly one terminal status write, even if the
// job body panics. The outcome, including a failed run, is reported in the Result; a failed
// status write is logged and kept in Result.StatusWriteErr. The returned error is non-nil only
// when the job was not run: ErrInvalidJob or ErrDocumentBusy.
func (p *Pipeline) HandleJob(ctx context.Context, job Job) (*Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	res := &Result{
		DocumentID: job.DocumentID,
		RunID:      uuid.NewString(),
	}
	logger := p.logger.With("document_id", job.DocumentID, "run_id", res.RunID)

	// jobCtx is cancelled if the lease is lost mid-run; terminal writes use ctx.
	jobCtx := ctx
	if p.deps.Leaser != nil {
		held, err := p.deps.Leaser.Acquire(ctx, job.DocumentID)
		switch {
		case errors.Is(err, lease.ErrHeld):
			logger.Info("document busy, skipping delivery")
			return nil, fmt.Errorf("%w: %s", ErrDocumentBusy, job.DocumentID)
		case err != nil:
			// Idempotent overwrites keep a lease-less run safe.
			logger.Warn("lease unavailable, continuing without it", "error", err)
		default:
			leased, stop := lease.KeepAlive(ctx, held, p.cfg.LeaseHeartbeat, logger)
			jobCtx = leased
			defer func() {
				stop()
				if err := held.Release(context.WithoutCancel(ctx)); err != nil {
					logger.Warn("lease release failed", "error", err)
				}
			}()
		}
	}

	prior, err := p.deps.Status.Get(ctx, job.DocumentID)
	if err != nil {
		logger.Warn("could not read prior status", "error", err)
		prior = nil
	}
	if prior != nil {
		switch prior.Status {
		case status.Failed:
			logger.Info("document already failed, reset it to pending to retry")
			res.Skipped = true
			res.Status = status.Failed
			res.Message = prior.Message
			return res, nil
		case status.Processing, status.Completed:
			res.Redelivery = true
			logger.Info("possible redelivery, re-running fully", "prior_status", prior.Status)
		}
	}

	start := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
				res.Err = stageErr(ErrPanic, "job", fmt.Errorf("%v", r))
			}
		}()
		p.run(jobCtx, job, prior, res, logger)
	}()
	res.Duration = time.Since(start)

	// Another worker may own the document now; whatever this run recorded is superseded.
	if cause := context.Cause(jobCtx); errors.Is(cause, lease.ErrLost) {
		res.Err = stageErr(ErrIndex, "lease", cause)
	}

	p.finish(ctx, res, logger)
	return res, nil
}

// run executes the job body, filling res. It never writes a terminal status.
func (p *Pipeline) run(ctx context.Context, job Job, prior *status.Record, res *Result, logger *slog.Logger) {
	p.progress(ctx, res, logger, "extracting text")

	doc, err := p.deps.Locator.Locate(ctx, job.DocumentID)
	if err != nil {
		res.recordErr(stageErr(ErrExtraction, "locate", err))
		return
	}

	src := extract.Source{
		URL:      doc.SourceURL,
		FileType: firstNonEmpty(job.FileExtension, doc.FileType),
		FileName: doc.FileName,
	}
	text, err := p.extract(ctx, src)
	if err != nil {
		res.recordErr(stageErr(ErrExtraction, "extract", err))
		return
	}

	text = chunker.Normalize(text)
	if text == "" {
		res.recordErr(stageErr(ErrExtraction, "extract", extract.ErrNoText))
		return
	}

	chunks := p.deps.Chunker.Split(text)
	if len(chunks) == 0 {
		res.recordErr(stageErr(ErrChunking, "split", fmt.Errorf("%d characters produced no chunks", len(text))))
		return
	}
	res.TotalChunks = len(chunks)
	logger.Info("document chunked", "chars", len(text), "chunks", len(chunks))
	p.progress(ctx, res, logger, "embedding chunks")

	meta := chunkMeta{
		documentID: job.DocumentID,
		total:      len(chunks),
		sourceName: sourceName(doc),
		timestamp:  time.Now().UTC(),
	}

	var firstUpserted string
	for b, from := 0, 0; from < len(chunks); b, from = b+1, from+p.cfg.BatchSize {
		if b > 0 && p.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(p.cfg.BatchDelay):
			}
		}
		if ctx.Err() != nil {
			res.recordErr(stageErr(ErrIndex, fmt.Sprintf("batch %d", b), context.Cause(ctx)))
			break
		}

		to := min(from+p.cfg.BatchSize, len(chunks))
		id := p.processBatch(ctx, b, chunks[from:to], from, meta, res, logger)
		if firstUpserted == "" {
			firstUpserted = id
		}
		p.progress(ctx, res, logger, fmt.Sprintf("processed %d/%d chunks", res.UpsertedChunks, res.TotalChunks))
	}

	p.verify(ctx, firstUpserted, res)
	p.prune(ctx, job.DocumentID, prior, res, logger)
}

type chunkMeta struct {
	documentID string
	total      int
	sourceName string
	timestamp  time.Time
}

// processBatch embeds chunks concurrently, then upserts the ones that embedded. It returns the
// id of the first record written, or "" when nothing was written.
func (p *Pipeline) processBatch(ctx context.Context, batch int, chunks []string, offset int, meta chunkMeta, res *Result, logger *slog.Logger) string {
	records := make([]*storage.VectorRecord, len(chunks))
	var (
		mu     sync.Mutex
		failed []string
	)

	var g errgroup.Group
	g.SetLimit(p.cfg.BatchSize)
	for i, text := range chunks {
		idx := offset + i
		g.Go(func() error {
			vec, err := p.embed(ctx, text)
			if err != nil {
				logger.Warn("chunk embedding failed", "chunk", idx, "error", err)
				mu.Lock()
				res.FailedEmbeddings++
				res.recordErr(stageErr(ErrEmbedding, fmt.Sprintf("chunk %d", idx), err))
				failed = append(failed, storage.VectorID(meta.documentID, idx))
				mu.Unlock()
				return nil
			}
			records[i] = &storage.VectorRecord{
				ID:     storage.VectorID(meta.documentID, idx),
				Values: vec,
				Metadata: storage.RecordMetadata{
					DocumentID:  meta.documentID,
					ChunkIndex:  idx,
					TotalChunks: meta.total,
					SourceName:  meta.sourceName,
					Text:        text,
					Timestamp:   meta.timestamp,
				},
			}
			return nil
		})
	}
	_ = g.Wait()

	// A chunk that failed this run must not keep a vector from an earlier run.
	if len(failed) > 0 {
		if err := p.deps.Vectors.Delete(ctx, failed); err != nil {
			logger.Warn("could not clear vectors of failed chunks", "ids", failed, "error", err)
		}
	}

	ready := make([]storage.VectorRecord, 0, len(records))
	for _, r := range records {
		if r != nil {
			ready = append(ready, *r)
		}
	}
	if len(ready) == 0 {
		return ""
	}
	res.ProcessedChunks += len(ready)

	attempts, err := p.deps.Vectors.Upsert(ctx, ready)
	if err != nil {
		res.FailedBatches++
		res.recordErr(stageErr(ErrIndex, fmt.Sprintf("batch %d", batch), err))
		logger.Error("batch upsert failed", "batch", batch, "records", len(ready), "attempts", attempts, "error", err)
		return ""
	}
	res.UpsertedChunks += len(ready)
	logger.Debug("batch upserted", "batch", batch, "records", len(ready), "attempts", attempts)
	return ready[0].ID
}

// embed calls the embedder, turning a panic into an error so siblings are unaffected.
func (p *Pipeline) embed(ctx context.Context, text string) (vec []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return p.deps.Embedder.Embed(ctx, text)
}

func (p *Pipeline) extract(ctx context.Context, src extract.Source) (string, error) {
	var text string
	err := p.cfg.ExtractRetry.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.cfg.ExtractTimeout)
		defer cancel()

		var err error
		text, err = p.deps.Extractor.Extract(ctx, src)
		return err
	})
	return text, err
}

// verify reads back the first upserted vector. Nothing upserted means nothing to verify.
func (p *Pipeline) verify(ctx context.Context, id string, res *Result) {
	if id == "" {
		return
	}
	found, err := p.deps.Vectors.Exists(ctx, id)
	switch {
	case err != nil:
		res.recordErr(stageErr(ErrVerification, "fetch "+id, err))
	case !found:
		res.recordErr(stageErr(ErrVerification, "fetch "+id, errors.New("vector missing after upsert")))
	default:
		res.Verified = true
	}
}

// prune deletes vectors left over from an earlier run that produced more chunks.
func (p *Pipeline) prune(ctx context.Context, documentID string, prior *status.Record, res *Result, logger *slog.Logger) {
	if prior == nil || prior.TotalChunks <= res.TotalChunks {
		return
	}
	stale := storage.VectorIDs(documentID, res.TotalChunks, prior.TotalChunks)
	if err := p.deps.Vectors.Delete(ctx, stale); err != nil {
		logger.Warn("orphan pruning failed", "ids", len(stale), "error", err)
		return
	}
	res.PrunedVectors = len(stale)
	logger.Info("pruned orphan vectors", "from", res.TotalChunks, "to", prior.TotalChunks)
}

// progress records a non-terminal update. Failures are logged by the tracker and ignored.
func (p *Pipeline) progress(ctx context.Context, res *Result, logger *slog.Logger, message string) {
	u := status.Update{Status: status.Processing, Message: message}
	if res.TotalChunks > 0 {
		u.TotalChunks = &res.TotalChunks
		u.ProcessedChunks = &res.UpsertedChunks
	}
	if err := p.deps.Status.Write(ctx, res.DocumentID, u); err != nil {
		logger.Warn("progress update failed", "message", message, "error", err)
	}
}

// finish decides the outcome and performs the single terminal status write.
func (p *Pipeline) finish(ctx context.Context, res *Result, logger *slog.Logger) {
	completed := res.Err == nil &&
		res.TotalChunks > 0 &&
		res.UpsertedChunks == res.TotalChunks &&
		res.Verified

	if completed {
		res.Status = status.Completed
		res.Message = fmt.Sprintf("processed %d/%d chunks", res.UpsertedChunks, res.TotalChunks)
	} else {
		res.Status = status.Failed
		if res.Err == nil {
			res.Err = stageErr(ErrIndex, "finish", errors.New("not every chunk was indexed"))
		}
		res.Message = failureMessage(res)
	}

	total, processed := res.TotalChunks, res.UpsertedChunks
	u := status.Update{
		Status:          res.Status,
		Message:         res.Message,
		ProcessedChunks: &processed,
	}
	// A run that never chunked keeps the previous total, which orphan pruning relies on.
	if total > 0 {
		u.TotalChunks = &total
	}
	err := p.deps.Status.Write(ctx, res.DocumentID, u)
	if err != nil {
		res.StatusWriteErr = err
		logger.Error("CRITICAL: terminal status write failed", "status", res.Status, "error", err)
	}

	logger.Info("job finished",
		"status", res.Status,
		"total_chunks", res.TotalChunks,
		"processed_chunks", res.ProcessedChunks,
		"upserted_chunks", res.UpsertedChunks,
		"failed_embeddings", res.FailedEmbeddings,
		"failed_batches", res.FailedBatches,
		"verified", res.Verified,
		"pruned", res.PrunedVectors,
		"duration", res.Duration,
	)
}

func failureMessage(res *Result) string {
	var b strings.Builder
	if errors.Is(res.Err, extract.ErrNoText) {
		b.WriteString("no extractable text found in document; ")
	}
	fmt.Fprintf(&b, "processed %d/%d chunks", res.UpsertedChunks, res.TotalChunks)
	if res.FailedEmbeddings > 0 || res.FailedBatches > 0 {
		fmt.Fprintf(&b, " (%d embedding failures, %d failed batches)", res.FailedEmbeddings, res.FailedBatches)
	}
	fmt.Fprintf(&b, ": %v", res.Err)
	return b.String()
}

func sourceName(doc *documents.Document) string {
	if doc.FileName != "" {
		return doc.FileName
	}
	return path.Base(doc.SourceURL)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
