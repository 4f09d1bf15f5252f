// Package documents persists uploaded documents, their ingestion status and
// the query log.
package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"edurag/internal/logger"
	"edurag/internal/models"
	"edurag/internal/storage"
)

var (
	ErrNotFound          = errors.New("document not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Service owns the documents and query_logs tables.
type Service struct {
	db      *sql.DB
	dialect storage.Dialect
	log     *logger.Logger
	now     func() time.Time
}

// NewService wraps an open, migrated database. driver selects the SQL dialect.
func NewService(db *sql.DB, driver string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		db:      db,
		dialect: storage.DialectFor(driver),
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NewDocument describes an accepted upload.
type NewDocument struct {
	Filename     string
	OriginalName string
	FileType     string
	FileSize     int64
	StoredPath   string
}

const documentColumns = `id, filename, original_name, file_type, file_size, stored_path, status,
	chunk_count, vector_ids, metadata, attempts, uploaded_at, updated_at`

// Create inserts a pending document.
func (s *Service) Create(ctx context.Context, in NewDocument) (*models.Document, error) {
	if strings.TrimSpace(in.OriginalName) == "" {
		return nil, errors.New("original name is required")
	}
	now := s.now()
	id, err := s.dialect.InsertID(ctx, s.db,
		`INSERT INTO documents (filename, original_name, file_type, file_size, stored_path, status,
			chunk_count, vector_ids, metadata, attempts, uploaded_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, '[]', '{}', 1, ?, ?)`,
		in.Filename, in.OriginalName, strings.ToLower(in.FileType), in.FileSize, in.StoredPath,
		models.StatusPending, storage.Time{Time: now}, storage.Time{Time: now},
	)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	return &models.Document{
		ID:           id,
		Filename:     in.Filename,
		OriginalName: in.OriginalName,
		FileType:     strings.ToLower(in.FileType),
		FileSize:     in.FileSize,
		StoredPath:   in.StoredPath,
		Status:       models.StatusPending,
		VectorIDs:    []string{},
		Attempts:     1,
		UploadedAt:   now,
		UpdatedAt:    now,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		d                 models.Document
		status            string
		vectorIDs, meta   string
		uploaded, updated storage.Time
	)
	if err := row.Scan(&d.ID, &d.Filename, &d.OriginalName, &d.FileType, &d.FileSize, &d.StoredPath,
		&status, &d.ChunkCount, &vectorIDs, &meta, &d.Attempts, &uploaded, &updated); err != nil {
		return nil, err
	}
	d.Status = models.DocumentStatus(status)
	d.UploadedAt = uploaded.Time
	d.UpdatedAt = updated.Time
	d.VectorIDs = []string{}
	if vectorIDs != "" {
		if err := json.Unmarshal([]byte(vectorIDs), &d.VectorIDs); err != nil {
			return nil, fmt.Errorf("decode vector ids of document %d: %w", d.ID, err)
		}
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of document %d: %w", d.ID, err)
		}
	}
	return &d, nil
}

// Get returns one document or ErrNotFound.
func (s *Service) Get(ctx context.Context, id int64) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		s.dialect.Rebind(`SELECT `+documentColumns+` FROM documents WHERE id = ?`), id)
	d, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document %d: %w", id, err)
	}
	return d, nil
}

// List returns every document, newest upload first.
func (s *Service) List(ctx context.Context) ([]models.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY uploaded_at DESC, id DESC`)
}

// ListByStatus returns the documents in status, oldest first.
func (s *Service) ListByStatus(ctx context.Context, status models.DocumentStatus) ([]models.Document, error) {
	return s.queryDocuments(ctx,
		s.dialect.Rebind(`SELECT `+documentColumns+` FROM documents WHERE status = ? ORDER BY id`), status)
}

func (s *Service) queryDocuments(ctx context.Context, query string, args ...any) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// CompletedIDs returns the ids of completed documents. A non-empty restrict
// narrows the result to those ids.
func (s *Service) CompletedIDs(ctx context.Context, restrict []int64) ([]int64, error) {
	query := `SELECT id FROM documents WHERE status = ?`
	args := []any{models.StatusCompleted}
	if len(restrict) > 0 {
		query += ` AND id IN (?` + strings.Repeat(`, ?`, len(restrict)-1) + `)`
		for _, id := range restrict {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("completed documents: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkProcessing moves a pending document to processing. It is the
// compare-and-set that keeps two ingestions of one document apart.
func (s *Service) MarkProcessing(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		s.dialect.Rebind(`UPDATE documents SET status = ?, updated_at = ? WHERE id = ? AND status = ?`),
		models.StatusProcessing, storage.Time{Time: s.now()}, id, models.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("mark document %d processing: %w", id, err)
	}
	return s.checkTransition(ctx, res, id, models.StatusProcessing)
}

// MarkCompleted records the outcome of a successful ingestion in one write.
func (s *Service) MarkCompleted(ctx context.Context, id int64, chunkCount int, vectorIDs []string, meta models.DocumentMetadata) error {
	if vectorIDs == nil {
		vectorIDs = []string{}
	}
	ids, err := json.Marshal(vectorIDs)
	if err != nil {
		return fmt.Errorf("encode vector ids: %w", err)
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		s.dialect.Rebind(`UPDATE documents SET status = ?, chunk_count = ?, vector_ids = ?, metadata = ?, updated_at = ?
			WHERE id = ? AND status = ?`),
		models.StatusCompleted, chunkCount, string(ids), string(rawMeta), storage.Time{Time: s.now()},
		id, models.StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark document %d completed: %w", id, err)
	}
	return s.checkTransition(ctx, res, id, models.StatusCompleted)
}

// MarkFailed records a failed ingestion. A failed document keeps no vectors.
func (s *Service) MarkFailed(ctx context.Context, id int64, meta models.DocumentMetadata) error {
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		s.dialect.Rebind(`UPDATE documents SET status = ?, chunk_count = 0, vector_ids = '[]', metadata = ?, updated_at = ?
			WHERE id = ? AND status = ?`),
		models.StatusFailed, string(rawMeta), storage.Time{Time: s.now()}, id, models.StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark document %d failed: %w", id, err)
	}
	return s.checkTransition(ctx, res, id, models.StatusFailed)
}

// ResetForRetry starts a new attempt for a failed document.
func (s *Service) ResetForRetry(ctx context.Context, id int64) (*models.Document, error) {
	res, err := s.db.ExecContext(ctx,
		s.dialect.Rebind(`UPDATE documents SET status = ?, attempts = attempts + 1, chunk_count = 0,
			vector_ids = '[]', metadata = '{}', updated_at = ? WHERE id = ? AND status = ?`),
		models.StatusPending, storage.Time{Time: s.now()}, id, models.StatusFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("reset document %d: %w", id, err)
	}
	if err := s.checkTransition(ctx, res, id, models.StatusPending); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// FailInterrupted marks every processing document failed with reason. It
// is meant for startup, when no ingestion of this process can be running.
func (s *Service) FailInterrupted(ctx context.Context, reason string) ([]models.Document, error) {
	stuck, err := s.ListByStatus(ctx, models.StatusProcessing)
	if err != nil {
		return nil, err
	}
	meta := models.DocumentMetadata{Error: reason, FailedAt: s.now().Format(time.RFC3339)}
	failed := make([]models.Document, 0, len(stuck))
	for _, d := range stuck {
		if err := s.MarkFailed(ctx, d.ID, meta); err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) {
				continue
			}
			return failed, err
		}
		d.Status = models.StatusFailed
		d.ChunkCount = 0
		d.VectorIDs = []string{}
		d.Metadata = meta
		failed = append(failed, d)
	}
	return failed, nil
}

func (s *Service) checkTransition(ctx context.Context, res sql.Result, id int64, to models.DocumentStatus) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("document rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
}

// ClearStoredPath forgets the upload file after it has been removed.
func (s *Service) ClearStoredPath(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		s.dialect.Rebind(`UPDATE documents SET stored_path = '' WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("clear stored path of document %d: %w", id, err)
	}
	return nil
}

// Delete removes the record and returns what was deleted so the caller can
// release the file, progress entry and vectors.
func (s *Service) Delete(ctx context.Context, id int64) (*models.Document, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM documents WHERE id = ?`), id)
	if err != nil {
		return nil, fmt.Errorf("delete document %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("document rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return doc, nil
}
