package main

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bull/doc-ingest/internal/documents"
	"github.com/bull/doc-ingest/internal/indexer"
	"github.com/bull/doc-ingest/internal/status"
)

var (
	flagDocumentID  string
	flagOwnerID     string
	flagSourceURL   string
	flagFileType    string
	flagFileName    string
	flagConcurrency int
	flagStatus      string
	flagLimit       int
	flagEnqueue     bool
	flagConfirm     bool
	flagRecover     bool
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a stored file as a pending document",
	Long: `Creates a document record in the pending state. The upload flow normally does this; the
command exists for local runs and backfills.`,
	RunE: runRegister,
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process one document now, in this process",
	RunE:  runProcess,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a document for a worker",
	RunE:  runEnqueue,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume queued documents until interrupted",
	RunE:  runWorker,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a document's processing status",
	RunE:  runStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents in a processing state",
	RunE:  runList,
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Reset a failed document to pending so it can be processed again",
	RunE:  runRetry,
}

var clearIndexCmd = &cobra.Command{
	Use:   "clear-index",
	Short: "Delete every vector in the collection",
	Long: `Drops and recreates the Qdrant collection. Required after changing CHUNK_SIZE or
CHUNK_OVERLAP: existing vectors were produced with the old parameters.`,
	RunE: runClearIndex,
}

func init() {
	registerCmd.Flags().StringVar(&flagDocumentID, "id", "", "document id (default: random uuid)")
	registerCmd.Flags().StringVar(&flagOwnerID, "owner", "", "owner id")
	registerCmd.Flags().StringVar(&flagSourceURL, "url", "", "source URL of the stored file (https:// or gs://)")
	registerCmd.Flags().StringVar(&flagFileType, "type", "", "file extension (default: from url)")
	registerCmd.Flags().StringVar(&flagFileName, "name", "", "display name (default: base of url)")
	_ = registerCmd.MarkFlagRequired("url")

	for _, cmd := range []*cobra.Command{processCmd, enqueueCmd, statusCmd, retryCmd} {
		cmd.Flags().StringVar(&flagDocumentID, "document-id", "", "document id")
		_ = cmd.MarkFlagRequired("document-id")
	}
	for _, cmd := range []*cobra.Command{processCmd, enqueueCmd} {
		cmd.Flags().StringVar(&flagOwnerID, "owner", "", "owner id")
		cmd.Flags().StringVar(&flagFileType, "file-extension", "", "file extension override")
	}
	retryCmd.Flags().BoolVar(&flagEnqueue, "enqueue", false, "queue the document after resetting it")

	workerCmd.Flags().IntVar(&flagConcurrency, "concurrency", 0, "documents processed in parallel (default: WORKERS)")
	workerCmd.Flags().BoolVar(&flagRecover, "recover", false, "requeue in-flight jobs left by crashed workers (only when no other worker is running)")

	listCmd.Flags().StringVar(&flagStatus, "status", string(status.Failed), "pending, processing, completed or failed")
	listCmd.Flags().IntVar(&flagLimit, "limit", 50, "maximum documents to list")

	clearIndexCmd.Flags().BoolVar(&flagConfirm, "yes", false, "confirm deleting every vector")

	rootCmd.AddCommand(registerCmd, processCmd, enqueueCmd, workerCmd, statusCmd, listCmd, retryCmd, clearIndexCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	doc := &documents.Document{
		ID:        flagDocumentID,
		OwnerID:   flagOwnerID,
		SourceURL: flagSourceURL,
		FileType:  flagFileType,
		FileName:  flagFileName,
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.FileName == "" {
		doc.FileName = path.Base(doc.SourceURL)
	}
	if doc.FileType == "" {
		doc.FileType = strings.TrimPrefix(path.Ext(doc.FileName), ".")
	}

	if err := a.Documents.Register(ctx, doc); err != nil {
		return err
	}
	fmt.Printf("Registered %s (%s, %s)\n", doc.ID, doc.FileName, doc.FileType)
	return nil
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	pipeline, err := a.Pipeline(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Processing %s...\n", flagDocumentID)
	res, err := pipeline.HandleJob(ctx, indexer.Job{
		DocumentID:    flagDocumentID,
		OwnerID:       flagOwnerID,
		FileExtension: flagFileType,
	})
	if err != nil {
		return err
	}

	fmt.Println()
	if res.Skipped {
		fmt.Printf("Skipped: document already failed (%s). Run `ingest retry` first.\n", res.Message)
		return nil
	}
	fmt.Printf("Status: %s\n", res.Status)
	fmt.Printf("  Message: %s\n", res.Message)
	fmt.Printf("  Chunks: %d/%d upserted\n", res.UpsertedChunks, res.TotalChunks)
	if res.FailedEmbeddings > 0 || res.FailedBatches > 0 {
		fmt.Printf("  Failures: %d embeddings, %d batches\n", res.FailedEmbeddings, res.FailedBatches)
	}
	if res.PrunedVectors > 0 {
		fmt.Printf("  Pruned: %d stale vectors\n", res.PrunedVectors)
	}
	fmt.Printf("  Verified: %t\n", res.Verified)
	fmt.Printf("  Duration: %s\n", res.Duration.Round(time.Millisecond))
	if res.StatusWriteErr != nil {
		fmt.Printf("  WARNING: status not recorded: %v\n", res.StatusWriteErr)
	}

	if !res.Completed() {
		return fmt.Errorf("document %s failed", flagDocumentID)
	}
	return nil
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.Documents.Get(ctx, flagDocumentID); err != nil {
		return err
	}
	job := indexer.Job{DocumentID: flagDocumentID, OwnerID: flagOwnerID, FileExtension: flagFileType}
	if err := a.Enqueue(ctx, job); err != nil {
		return err
	}
	fmt.Printf("Queued %s\n", flagDocumentID)
	return nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Queue == nil {
		return errors.New("worker requires REDIS_ADDR")
	}
	pipeline, err := a.Pipeline(ctx)
	if err != nil {
		return err
	}

	concurrency := flagConcurrency
	if concurrency <= 0 {
		concurrency = a.Config.Workers
	}
	w := indexer.NewWorker(a.Queue, pipeline, indexer.WorkerConfig{
		Concurrency:    concurrency,
		RecoverOnStart: flagRecover,
	}, a.Logger)
	return w.Run(ctx)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.Documents.Get(ctx, flagDocumentID)
	if err != nil {
		return err
	}

	fmt.Printf("Document: %s\n", doc.ID)
	fmt.Printf("  Source: %s (%s)\n", doc.SourceURL, doc.FileType)
	fmt.Printf("  Status: %s\n", doc.ProcessingStatus)
	if doc.StatusMessage != "" {
		fmt.Printf("  Message: %s\n", doc.StatusMessage)
	}
	fmt.Printf("  Progress: %d/%d chunks\n", doc.ProcessedChunks, doc.TotalChunks)
	fmt.Printf("  Updated: %s\n", doc.UpdatedAt.Format(time.RFC3339))

	if count, err := a.Index.CountByDocument(ctx, doc.ID); err == nil {
		fmt.Printf("  Indexed vectors: %d\n", count)
	} else {
		fmt.Printf("  Indexed vectors: unavailable (%v)\n", err)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s := status.Status(flagStatus)
	if !s.Valid() {
		return fmt.Errorf("unknown status %q", flagStatus)
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.Documents.ListByStatus(ctx, s, flagLimit)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Printf("No %s documents\n", s)
		return nil
	}
	for _, doc := range docs {
		fmt.Printf("%s  %-10s  %d/%d  %s\n", doc.ID, doc.ProcessingStatus, doc.ProcessedChunks, doc.TotalChunks, doc.StatusMessage)
	}
	return nil
}

func runRetry(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Documents.Reset(ctx, flagDocumentID); err != nil {
		return err
	}
	fmt.Printf("Reset %s to pending\n", flagDocumentID)

	if flagEnqueue {
		if err := a.Enqueue(ctx, indexer.Job{DocumentID: flagDocumentID}); err != nil {
			return err
		}
		fmt.Printf("Queued %s\n", flagDocumentID)
	}
	return nil
}

func runClearIndex(cmd *cobra.Command, args []string) error {
	if !flagConfirm {
		return errors.New("refusing to clear the index without --yes")
	}
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Qdrant == nil {
		return errors.New("clear-index requires VECTOR_STORE=qdrant")
	}

	if info, err := a.Qdrant.GetCollectionInfo(ctx); err == nil {
		fmt.Printf("Clearing collection %s (%d points)...\n", a.Qdrant.Collection(), info.PointsCount)
	} else {
		fmt.Printf("Clearing collection %s...\n", a.Qdrant.Collection())
	}
	if err := a.Qdrant.ClearCollection(ctx); err != nil {
		return fmt.Errorf("Failed to clear collection: %w", err)
	}
	if err := a.Qdrant.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("Failed to recreate collection: %w", err)
	}
	fmt.Println("Collection cleared. Re-process documents to rebuild the index.")
	return nil
}
