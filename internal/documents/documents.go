// Package documents stores document records: where each file lives and its processing status.
package documents

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/bull/doc-ingest/internal/status"
)

// ErrNotFound is returned for unknown document ids. It matches status.ErrNotFound.
var ErrNotFound = status.ErrNotFound

// Document is a registered file and its processing state.
type Document struct {
	ID               string `gorm:"primaryKey;size:64"`
	OwnerID          string `gorm:"size:64;index"`
	SourceURL        string `gorm:"not null"`
	FileType         string `gorm:"size:16"`
	FileName         string
	ProcessingStatus string `gorm:"size:16;index;not null;default:pending"`
	StatusMessage    string
	TotalChunks      int
	ProcessedChunks  int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Repository is the gorm-backed document store. It implements status.Store and serves as the
// pipeline's storage locator.
type Repository struct {
	db *gorm.DB
}

var _ status.Store = (*Repository)(nil)

// Open connects to the database. driver is "postgres" or "sqlite".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	gormLog := gormLogger.New(
		log.New(os.Stderr, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	return db, nil
}

// NewRepository wraps db.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the documents table.
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Document{})
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Register inserts a new document in the pending state.
func (r *Repository) Register(ctx context.Context, doc *Document) error {
	if doc.ID == "" || doc.SourceURL == "" {
		return fmt.Errorf("document id and source url are required")
	}
	doc.ProcessingStatus = string(status.Pending)
	doc.StatusMessage = ""
	doc.TotalChunks = 0
	doc.ProcessedChunks = 0
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("register document %s: %w", doc.ID, err)
	}
	return nil
}

// Get returns the document with id.
func (r *Repository) Get(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return &doc, nil
}

// Locate resolves where a document's file lives.
func (r *Repository) Locate(ctx context.Context, id string) (*Document, error) {
	return r.Get(ctx, id)
}

// Read implements status.Store.
func (r *Repository) Read(ctx context.Context, id string) (*status.Record, error) {
	doc, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &status.Record{
		DocumentID:      doc.ID,
		Status:          status.Status(doc.ProcessingStatus),
		Message:         doc.StatusMessage,
		TotalChunks:     doc.TotalChunks,
		ProcessedChunks: doc.ProcessedChunks,
		UpdatedAt:       doc.UpdatedAt,
	}, nil
}

// Write implements status.Store.
func (r *Repository) Write(ctx context.Context, id string, u status.Update) error {
	updates := map[string]any{"updated_at": time.Now()}
	if u.Status != "" {
		updates["processing_status"] = string(u.Status)
		updates["status_message"] = u.Message
	}
	if u.TotalChunks != nil {
		updates["total_chunks"] = *u.TotalChunks
	}
	if u.ProcessedChunks != nil {
		updates["processed_chunks"] = *u.ProcessedChunks
	}

	result := r.db.WithContext(ctx).Model(&Document{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update document %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Reset moves a document back to pending so it can be processed again. This is the explicit
// retry trigger for documents that ended in failed.
func (r *Repository) Reset(ctx context.Context, id string) error {
	return r.Write(ctx, id, status.Update{Status: status.Pending, Message: "queued for retry"})
}

// ListByStatus returns documents in the given state, oldest first.
func (r *Repository) ListByStatus(ctx context.Context, s status.Status, limit int) ([]Document, error) {
	var docs []Document
	q := r.db.WithContext(ctx).Where("processing_status = ?", string(s)).Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}
