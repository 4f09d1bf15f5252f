package documents

import (
	"context"
	"fmt"
	"os"
	"time"

	"edurag/internal/models"
	"edurag/internal/storage"
)

const (
	DefaultFileRetention = 24 * time.Hour
	DefaultCleanInterval = time.Hour
)

// StartFileCleaner periodically removes stored uploads of documents that
// finished (either way) more than retention ago. Until then a failed
// document can still be retried from its file.
func (s *Service) StartFileCleaner(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanInterval
	}
	if retention <= 0 {
		retention = DefaultFileRetention
	}
	go s.cleanupLoop(ctx, interval, retention)
}

func (s *Service) cleanupLoop(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.CleanupExpiredFiles(ctx, retention)
			if err != nil {
				s.log.Warn("cleanup upload files", "error", err)
				continue
			}
			if n > 0 {
				s.log.Info("removed expired upload files", "count", n)
			}
		}
	}
}

// CleanupExpiredFiles removes the files and returns how many records were
// released.
func (s *Service) CleanupExpiredFiles(ctx context.Context, retention time.Duration) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.Rebind(`SELECT id, stored_path, updated_at FROM documents
			WHERE status IN (?, ?) AND stored_path <> ''`),
		models.StatusCompleted, models.StatusFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("list expired files: %w", err)
	}

	type fileRow struct {
		id   int64
		path string
	}
	cutoff := s.now().Add(-retention)
	var files []fileRow
	for rows.Next() {
		var (
			fr      fileRow
			updated storage.Time
		)
		if err := rows.Scan(&fr.id, &fr.path, &updated); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan expired file: %w", err)
		}
		if updated.After(cutoff) {
			continue
		}
		files = append(files, fr)
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range files {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("remove upload file", "path", f.path, "error", err)
			continue
		}
		if err := s.ClearStoredPath(ctx, f.id); err != nil {
			s.log.Warn("release upload file", "document_id", f.id, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
