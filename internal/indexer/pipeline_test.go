package indexer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/doc-ingest/internal/chunker"
	"github.com/bull/doc-ingest/internal/documents"
	"github.com/bull/doc-ingest/internal/extract"
	"github.com/bull/doc-ingest/internal/lease"
	"github.com/bull/doc-ingest/internal/retry"
	"github.com/bull/doc-ingest/internal/status"
	"github.com/bull/doc-ingest/internal/storage"
)

const testDoc = "doc-1"

var fastPolicy = retry.Policy{MaxAttempts: 3, Name: "test"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// paragraphs builds one 80-letter paragraph per letter. At size 100, overlap 0 each paragraph
// becomes exactly one chunk.
func paragraphs(letters string) string {
	parts := make([]string, 0, len(letters))
	for _, r := range letters {
		parts = append(parts, strings.Repeat(string(r), 80)+".")
	}
	return strings.Join(parts, "\n\n")
}

// statusStore is an in-memory status.Store that keeps every write it receives.
type statusStore struct {
	mu        sync.Mutex
	records   map[string]*status.Record
	updates   []status.Update
	failWrite bool
}

func newStatusStore(ids ...string) *statusStore {
	s := &statusStore{records: make(map[string]*status.Record)}
	for _, id := range ids {
		s.records[id] = &status.Record{DocumentID: id, Status: status.Pending}
	}
	return s
}

func (s *statusStore) Read(_ context.Context, id string) (*status.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, status.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *statusStore) Write(_ context.Context, id string, u status.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	if s.failWrite {
		return errors.New("database is locked")
	}
	r, ok := s.records[id]
	if !ok {
		return status.ErrNotFound
	}
	if u.Status != "" {
		r.Status = u.Status
		r.Message = u.Message
	}
	if u.TotalChunks != nil {
		r.TotalChunks = *u.TotalChunks
	}
	if u.ProcessedChunks != nil {
		r.ProcessedChunks = *u.ProcessedChunks
	}
	return nil
}

func (s *statusStore) set(id string, st status.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id].Status = st
}

func (s *statusStore) terminalWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.updates {
		if u.Status.Terminal() {
			n++
		}
	}
	return n
}

func (s *statusStore) writes() []status.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]status.Update(nil), s.updates...)
}

type locatorFunc func(ctx context.Context, id string) (*documents.Document, error)

func (f locatorFunc) Locate(ctx context.Context, id string) (*documents.Document, error) {
	return f(ctx, id)
}

func fixedLocator() Locator {
	return locatorFunc(func(_ context.Context, id string) (*documents.Document, error) {
		return &documents.Document{
			ID:        id,
			SourceURL: "https://files.example.com/" + id + "/manual.pdf",
			FileType:  "pdf",
			FileName:  "manual.pdf",
		}, nil
	})
}

type fakeExtractor struct {
	mu    sync.Mutex
	text  string
	fn    func(ctx context.Context, call int) (string, error)
	calls int
}

func (f *fakeExtractor) Extract(ctx context.Context, _ extract.Source) (string, error) {
	f.mu.Lock()
	f.calls++
	call, text, fn := f.calls, f.text, f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, call)
	}
	return text, nil
}

func (f *fakeExtractor) setText(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
}

// fakeEmbedder returns a 3-dimensional vector derived from the text.
type fakeEmbedder struct {
	calls atomic.Int32
	fail  func(text string) error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.fail != nil {
		if err := f.fail(text); err != nil {
			return nil, err
		}
	}
	return []float32{float32(len(text)), float32(text[0]), 1}, nil
}

// faultyIndex wraps a MemoryIndex with injectable upsert and fetch faults.
type faultyIndex struct {
	*storage.MemoryIndex
	failUpsert func(records []storage.VectorRecord) bool
	hideFetch  bool
}

func (f *faultyIndex) Upsert(ctx context.Context, records []storage.VectorRecord) error {
	if f.failUpsert != nil && f.failUpsert(records) {
		return errors.New("upstream connect error")
	}
	return f.MemoryIndex.Upsert(ctx, records)
}

func (f *faultyIndex) Fetch(ctx context.Context, ids []string) ([]storage.VectorRecord, error) {
	if f.hideFetch {
		return nil, nil
	}
	return f.MemoryIndex.Fetch(ctx, ids)
}

type harness struct {
	index     *faultyIndex
	store     *statusStore
	extractor *fakeExtractor
	embedder  *fakeEmbedder
	deps      Deps
	cfg       Config
}

func newHarness(text string) *harness {
	h := &harness{
		index:     &faultyIndex{MemoryIndex: storage.NewMemoryIndex()},
		store:     newStatusStore(testDoc),
		extractor: &fakeExtractor{text: text},
		embedder:  &fakeEmbedder{},
	}
	h.deps = Deps{
		Locator:   fixedLocator(),
		Extractor: h.extractor,
		Chunker:   chunker.New(chunker.WithSize(100), chunker.WithOverlap(0)),
		Embedder:  h.embedder,
		Vectors:   storage.NewUpserter(h.index, fastPolicy, time.Second, 3),
		Status:    status.NewTracker(h.store, fastPolicy, discardLogger()),
	}
	h.cfg = Config{
		BatchSize:      5,
		ExtractTimeout: time.Second,
		ExtractRetry:   fastPolicy,
		LeaseHeartbeat: time.Minute,
	}
	return h
}

func (h *harness) pipeline() *Pipeline {
	return NewPipeline(h.deps, h.cfg, discardLogger())
}

func (h *harness) run(t *testing.T) *Result {
	t.Helper()
	res, err := h.pipeline().HandleJob(context.Background(), Job{DocumentID: testDoc, OwnerID: "owner-1"})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func (h *harness) record(t *testing.T) *status.Record {
	t.Helper()
	r, err := h.store.Read(context.Background(), testDoc)
	require.NoError(t, err)
	return r
}

func TestHandleJob_Completed(t *testing.T) {
	h := newHarness(paragraphs("abcde"))

	res := h.run(t)

	assert.Equal(t, status.Completed, res.Status)
	assert.True(t, res.Completed())
	assert.NoError(t, res.Err)
	assert.Equal(t, 5, res.TotalChunks)
	assert.Equal(t, 5, res.UpsertedChunks)
	assert.True(t, res.Verified)
	assert.Equal(t, "processed 5/5 chunks", res.Message)
	assert.NotEmpty(t, res.RunID)

	rec := h.record(t)
	assert.Equal(t, status.Completed, rec.Status)
	assert.Equal(t, "processed 5/5 chunks", rec.Message)
	assert.Equal(t, 5, rec.TotalChunks)
	assert.Equal(t, 5, rec.ProcessedChunks)

	assert.Equal(t, storage.VectorIDs(testDoc, 0, 5), h.index.IDs(testDoc))

	stored, err := h.index.Fetch(context.Background(), []string{storage.VectorID(testDoc, 3)})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 3, stored[0].Metadata.ChunkIndex)
	assert.Equal(t, 5, stored[0].Metadata.TotalChunks)
	assert.Equal(t, "manual.pdf", stored[0].Metadata.SourceName)
	assert.True(t, strings.HasPrefix(stored[0].Metadata.Text, "dddd"))
}

func TestHandleJob_StatusTransitions(t *testing.T) {
	h := newHarness(paragraphs("abc"))
	h.run(t)

	writes := h.store.writes()
	require.GreaterOrEqual(t, len(writes), 3)
	assert.Equal(t, status.Processing, writes[0].Status, "first write marks the job processing")
	for _, u := range writes[:len(writes)-1] {
		assert.Equal(t, status.Processing, u.Status)
	}
	assert.Equal(t, status.Completed, writes[len(writes)-1].Status)
	assert.Equal(t, 1, h.store.terminalWrites())
}

func TestHandleJob_ChunkEmbeddingFailure(t *testing.T) {
	h := newHarness(paragraphs("abcde"))
	h.embedder.fail = func(text string) error {
		if strings.HasPrefix(text, "b") {
			return errors.New("provider returned 500")
		}
		return nil
	}

	res := h.run(t)

	assert.Equal(t, status.Failed, res.Status)
	assert.Equal(t, 1, res.FailedEmbeddings)
	assert.Equal(t, 4, res.UpsertedChunks)
	assert.ErrorIs(t, res.Err, ErrEmbedding)
	assert.Contains(t, res.Message, "4/5")

	rec := h.record(t)
	assert.Equal(t, status.Failed, rec.Status)
	assert.Contains(t, rec.Message, "4/5")
	assert.Equal(t, 5, rec.TotalChunks)
	assert.Equal(t, 4, rec.ProcessedChunks)

	assert.Equal(t, []string{
		storage.VectorID(testDoc, 0),
		storage.VectorID(testDoc, 2),
		storage.VectorID(testDoc, 3),
		storage.VectorID(testDoc, 4),
	}, h.index.IDs(testDoc))
	assert.Equal(t, int32(5), h.embedder.calls.Load(), "sibling chunks still embedded")
}

func TestHandleJob_FailedChunkClearsStaleVector(t *testing.T) {
	h := newHarness(paragraphs("abc"))
	h.run(t)
	require.Len(t, h.index.IDs(testDoc), 3)

	h.embedder.fail = func(text string) error {
		if strings.HasPrefix(text, "c") {
			return errors.New("rate limited")
		}
		return nil
	}
	res := h.run(t)

	assert.Equal(t, status.Failed, res.Status)
	assert.Equal(t, storage.VectorIDs(testDoc, 0, 2), h.index.IDs(testDoc))
}

func TestHandleJob_RedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(paragraphs("abcde"))
	ctx := context.Background()

	first := h.run(t)
	require.Equal(t, status.Completed, first.Status)
	assert.False(t, first.Redelivery)

	ids := h.index.IDs(testDoc)
	before, err := h.index.Fetch(ctx, ids)
	require.NoError(t, err)

	second := h.run(t)
	assert.Equal(t, status.Completed, second.Status)
	assert.True(t, second.Redelivery)

	assert.Equal(t, ids, h.index.IDs(testDoc))
	assert.Equal(t, len(ids), h.index.Len(), "no duplicate vectors")

	after, err := h.index.Fetch(ctx, ids)
	require.NoError(t, err)
	byID := make(map[string]storage.VectorRecord, len(after))
	for _, r := range after {
		byID[r.ID] = r
	}
	for _, r := range before {
		assert.Equal(t, r.Values, byID[r.ID].Values, r.ID)
		assert.Equal(t, r.Metadata.Text, byID[r.ID].Metadata.Text, r.ID)
	}
}

func TestHandleJob_RedeliveryWhileProcessing(t *testing.T) {
	h := newHarness(paragraphs("ab"))
	h.store.set(testDoc, status.Processing)

	res := h.run(t)

	assert.True(t, res.Redelivery)
	assert.Equal(t, status.Completed, res.Status)
}

func TestHandleJob_EmptyExtraction(t *testing.T) {
	h := newHarness("  \n\n \t ")

	res := h.run(t)

	assert.Equal(t, status.Failed, res.Status)
	assert.ErrorIs(t, res.Err, ErrExtraction)
	assert.ErrorIs(t, res.Err, extract.ErrNoText)
	assert.Contains(t, res.Message, "no extractable text")
	assert.Equal(t, int32(0), h.embedder.calls.Load())
	assert.Equal(t, 0, h.index.Len())

	rec := h.record(t)
	assert.Equal(t, status.Failed, rec.Status)
	assert.Contains(t, rec.Message, "no extractable text")
	assert.Equal(t, 1, h.store.terminalWrites())
}

func TestHandleJob_ExtractionErrorAborts(t *testing.T) {
	h := newHarness("")
	h.extractor.fn = func(context.Context, int) (string, error) {
		return "", extract.ErrProviderStatus
	}

	res := h.run(t)

	assert.Equal(t, status.Failed, res.Status)
	assert.ErrorIs(t, res.Err, ErrExtraction)
	assert.ErrorIs(t, res.Err, extract.ErrProviderStatus)
	assert.Equal(t, 1, h.extractor.calls, "only timeouts are retried")
	assert.Equal(t, int32(0), h.embedder.calls.Load())
}

func TestHandleJob_ExtractionTimeoutRetried(t *testing.T) {
	h := newHarness("")
	h.cfg.ExtractTimeout = 20 * time.Millisecond
	h.extractor.fn = func(ctx context.Context, call int) (string, error) {
		if call == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return paragraphs("ab"), nil
	}

	res := h.run(t)

	assert.Equal(t, status.Completed, res.Status)
	assert.Equal(t, 2, h.extractor.calls)
}

func TestHandleJob_LocateFailure(t *testing.T) {
	h := newHarness(paragraphs("a"))
	h.deps.Locator = locatorFunc(func(context.Context, string) (*documents.Document, error) {
		return nil, documents.ErrNotFound
	})

	res := h.run(t)

	assert.Equal(t, status.Failed, res.Status)
	assert.ErrorIs(t, res.Err, ErrExtraction)
	assert.ErrorIs(t, res.Err, documents.ErrNotFound)
}

func TestHandleJob_BatchUpsertFailure(t *testing.T) {
	h := newHarness(paragraphs("abcde"))
	h.cfg.BatchSize = 2
	failing := storage.VectorID(testDoc, 2)
	h.index.failUpsert = func(records []storage.VectorRecord) bool {
		for _, r := range records {
			if r.ID == failing {
				return true
			}
		}
		return false
	}

	res := h.run(t)

	assert.Equal(t, status.Failed, res.Status)
	assert.ErrorIs(t, res.Err, ErrIndex)
	assert.Equal(t, 1, res.FailedBatches)
	assert.Equal(t, 5, res.ProcessedChunks)
	assert.Equal(t, 3, res.UpsertedChunks, "batches after the failed one still run")
	assert.GreaterOrEqual(t, res.UpsertedChunks+res.FailedBatches*h.cfg.BatchSize, res.ProcessedChunks)
	assert.True(t, res.Verified)
	assert.Contains(t, res.Message, "3/5")
	assert.Contains(t, res.Message, "1 failed batches")

	assert.Equal(t, []string{
		storage.VectorID(testDoc, 0),
		storage.VectorID(testDoc, 1),
		storage.VectorID(testDoc, 4),
	}, h.index.IDs(testDoc))
}

func TestHandleJob_VerificationFailure(t *testing.T) {
	h := newHarness(paragraphs("abc"))
	h.index.hideFetch = true

	res := h.run(t)

	assert.Equal(t, status.Failed, res.Status)
	assert.Equal(t, 3, res.UpsertedChunks)
	assert.False(t, res.Verified)
	assert.ErrorIs(t, res.Err, ErrVerification)
}

func TestHandleJob_StatusWriteFailureIsNotFatal(t *testing.T) {
	h := newHarness(paragraphs("abc"))
	h.store.failWrite = true

	res, err := h.pipeline().HandleJob(context.Background(), Job{DocumentID: testDoc})

	require.NoError(t, err)
	assert.Equal(t, status.Completed, res.Status)
	assert.ErrorIs(t, res.StatusWriteErr, status.ErrStatusWrite)
	assert.Len(t, h.index.IDs(testDoc), 3, "processing continues without status")
	assert.Equal(t, fastPolicy.MaxAttempts, h.store.terminalWrites(), "one terminal write, retried")
}

func TestHandleJob_PanicStillWritesTerminalStatus(t *testing.T) {
	h := newHarness(paragraphs("abc"))
	h.deps.Locator = locatorFunc(func(context.Context, string) (*documents.Document, error) {
		panic("nil map write")
	})

	res := h.run(t)

	assert.Equal(t, status.Failed, res.Status)
	assert.ErrorIs(t, res.Err, ErrPanic)
	assert.Equal(t, 1, h.store.terminalWrites())
	assert.Equal(t, status.Failed, h.record(t).Status)
}

func TestHandleJob_EmbedderPanicIsChunkScoped(t *testing.T) {
	h := newHarness(paragraphs("abc"))
	h.embedder.fail = func(text string) error {
		if strings.HasPrefix(text, "a") {
			panic("index out of range")
		}
		return nil
	}

	res := h.run(t)

	assert.Equal(t, status.Failed, res.Status)
	assert.Equal(t, 1, res.FailedEmbeddings)
	assert.Equal(t, 2, res.UpsertedChunks)
	assert.ErrorIs(t, res.Err, ErrEmbedding)
	assert.ErrorIs(t, res.Err, ErrPanic)
}

func TestHandleJob_PrunesOrphans(t *testing.T) {
	h := newHarness(paragraphs("abcde"))
	require.Equal(t, status.Completed, h.run(t).Status)

	h.extractor.setText(paragraphs("ab"))
	res := h.run(t)

	assert.Equal(t, status.Completed, res.Status)
	assert.Equal(t, 3, res.PrunedVectors)
	assert.Equal(t, storage.VectorIDs(testDoc, 0, 2), h.index.IDs(testDoc))
	assert.Equal(t, 2, h.record(t).TotalChunks)
}

func TestHandleJob_FailedExtractionKeepsPriorTotal(t *testing.T) {
	h := newHarness(paragraphs("abcde"))
	require.Equal(t, status.Completed, h.run(t).Status)

	h.extractor.fn = func(context.Context, int) (string, error) {
		return "", extract.ErrProviderStatus
	}
	res := h.run(t)
	require.Equal(t, status.Failed, res.Status)

	rec := h.record(t)
	assert.Equal(t, 5, rec.TotalChunks, "vectors [0, 5) are still indexed")
	assert.Equal(t, 0, rec.ProcessedChunks)

	h.store.set(testDoc, status.Pending)
	h.extractor.fn = nil
	h.extractor.setText(paragraphs("ab"))
	res = h.run(t)

	assert.Equal(t, status.Completed, res.Status)
	assert.Equal(t, 3, res.PrunedVectors)
	assert.Equal(t, storage.VectorIDs(testDoc, 0, 2), h.index.IDs(testDoc))
}

// losingLeaser hands out leases that are lost on the first heartbeat.
type losingLeaser struct{}

func (losingLeaser) Acquire(context.Context, string) (lease.Lease, error) {
	return losingLease{}, nil
}

type losingLease struct{}

func (losingLease) Extend(context.Context) error  { return lease.ErrLost }
func (losingLease) Release(context.Context) error { return lease.ErrLost }

func TestHandleJob_LostLeaseAbortsRun(t *testing.T) {
	h := newHarness("")
	h.deps.Leaser = losingLeaser{}
	h.cfg.LeaseHeartbeat = 5 * time.Millisecond
	h.extractor.fn = func(ctx context.Context, _ int) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return paragraphs("abc"), nil
		}
	}

	res := h.run(t)

	assert.Equal(t, status.Failed, res.Status)
	assert.ErrorIs(t, res.Err, lease.ErrLost)
	assert.Less(t, res.Duration, 5*time.Second)
	assert.Equal(t, int32(0), h.embedder.calls.Load())
	assert.Equal(t, 0, h.index.Len())
	assert.Equal(t, 1, h.store.terminalWrites())
	assert.Equal(t, status.Failed, h.record(t).Status, "terminal status is written after the lease is gone")
}

func TestHandleJob_SkipsFailedDocument(t *testing.T) {
	h := newHarness(paragraphs("abc"))
	h.store.set(testDoc, status.Failed)

	res := h.run(t)

	assert.True(t, res.Skipped)
	assert.Equal(t, status.Failed, res.Status)
	assert.Empty(t, h.store.writes())
	assert.Equal(t, int32(0), h.embedder.calls.Load())
}

func TestHandleJob_BusyDocument(t *testing.T) {
	h := newHarness(paragraphs("abc"))
	leaser := lease.NewLocalLeaser(time.Minute)
	h.deps.Leaser = leaser
	ctx := context.Background()

	held, err := leaser.Acquire(ctx, testDoc)
	require.NoError(t, err)

	res, err := h.pipeline().HandleJob(ctx, Job{DocumentID: testDoc})
	assert.ErrorIs(t, err, ErrDocumentBusy)
	assert.Nil(t, res)
	assert.Empty(t, h.store.writes(), "busy jobs leave status alone")

	require.NoError(t, held.Release(ctx))

	res, err = h.pipeline().HandleJob(ctx, Job{DocumentID: testDoc})
	require.NoError(t, err)
	assert.Equal(t, status.Completed, res.Status)

	again, err := leaser.Acquire(ctx, testDoc)
	require.NoError(t, err, "lease released after the job")
	require.NoError(t, again.Release(ctx))
}

func TestHandleJob_InvalidJob(t *testing.T) {
	h := newHarness("")
	res, err := h.pipeline().HandleJob(context.Background(), Job{DocumentID: "  "})
	assert.ErrorIs(t, err, ErrInvalidJob)
	assert.Nil(t, res)
}

func TestStageError(t *testing.T) {
	cause := errors.New("boom")
	err := stageErr(ErrIndex, "batch 2", cause)

	assert.Equal(t, "index error: batch 2: boom", err.Error())
	assert.ErrorIs(t, err, ErrIndex)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrEmbedding)

	var se *StageError
	require.ErrorAs(t, error(err), &se)
	assert.Equal(t, "batch 2", se.Op)
}

func TestDecodeJob(t *testing.T) {
	job, err := DecodeJob([]byte(`{"documentId":"d1","ownerId":"o1","fileExtension":"pdf"}`))
	require.NoError(t, err)
	assert.Equal(t, Job{DocumentID: "d1", OwnerID: "o1", FileExtension: "pdf"}, job)

	_, err = DecodeJob([]byte(`{"ownerId":"o1"}`))
	assert.ErrorIs(t, err, ErrInvalidJob)

	_, err = DecodeJob([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidJob)

	body, err := job.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"documentId":"d1","ownerId":"o1","fileExtension":"pdf"}`, string(body))
}
