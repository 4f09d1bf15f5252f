package documents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"edurag/internal/models"
	"edurag/internal/storage"
)

// LogQuery appends a query log row and returns it with id and timestamp set.
func (s *Service) LogQuery(ctx context.Context, entry models.QueryLog) (*models.QueryLog, error) {
	if strings.TrimSpace(entry.SessionID) == "" {
		entry.SessionID = models.DefaultSessionID
	}
	if entry.SourcesUsed == nil {
		entry.SourcesUsed = []int64{}
	}
	sources, err := json.Marshal(entry.SourcesUsed)
	if err != nil {
		return nil, fmt.Errorf("encode sources: %w", err)
	}
	entry.CreatedAt = s.now()
	id, err := s.dialect.InsertID(ctx, s.db,
		`INSERT INTO query_logs (query, response, sources_used, response_time, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Query, entry.Response, string(sources), entry.ResponseTime, entry.SessionID,
		storage.Time{Time: entry.CreatedAt},
	)
	if err != nil {
		return nil, fmt.Errorf("insert query log: %w", err)
	}
	entry.ID = id
	return &entry, nil
}

// RecentQueries returns up to limit log rows, newest first.
func (s *Service) RecentQueries(ctx context.Context, limit int) ([]models.QueryLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		s.dialect.Rebind(`SELECT id, query, response, sources_used, response_time, session_id, created_at
			FROM query_logs ORDER BY created_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list query logs: %w", err)
	}
	defer rows.Close()

	logs := []models.QueryLog{}
	for rows.Next() {
		var (
			q       models.QueryLog
			sources string
			created storage.Time
		)
		if err := rows.Scan(&q.ID, &q.Query, &q.Response, &sources, &q.ResponseTime, &q.SessionID, &created); err != nil {
			return nil, fmt.Errorf("scan query log: %w", err)
		}
		q.CreatedAt = created.Time
		q.SourcesUsed = []int64{}
		if sources != "" {
			if err := json.Unmarshal([]byte(sources), &q.SourcesUsed); err != nil {
				return nil, fmt.Errorf("decode sources of query %d: %w", q.ID, err)
			}
		}
		logs = append(logs, q)
	}
	return logs, rows.Err()
}
