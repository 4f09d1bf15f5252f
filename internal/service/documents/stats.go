package documents

import (
	"context"
	"fmt"
	"math"

	"edurag/internal/models"
)

type DocumentStats struct {
	Total       int     `json:"total"`
	Pending     int     `json:"pending"`
	Processing  int     `json:"processing"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

type QueryStats struct {
	Total               int     `json:"total"`
	AverageResponseTime float64 `json:"average_response_time"`
}

type Stats struct {
	Documents DocumentStats `json:"documents"`
	Queries   QueryStats    `json:"queries"`
}

// Stats summarises document outcomes and query latency. The success rate is
// the share of all documents that completed, in percent.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan document count: %w", err)
		}
		out.Documents.Total += n
		switch models.DocumentStatus(status) {
		case models.StatusPending:
			out.Documents.Pending = n
		case models.StatusProcessing:
			out.Documents.Processing = n
		case models.StatusCompleted:
			out.Documents.Completed = n
		case models.StatusFailed:
			out.Documents.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if out.Documents.Total > 0 {
		out.Documents.SuccessRate = float64(out.Documents.Completed) / float64(out.Documents.Total) * 100
	}

	var avg float64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(response_time), 0) FROM query_logs`,
	).Scan(&out.Queries.Total, &avg); err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	out.Queries.AverageResponseTime = math.Round(avg*1000) / 1000
	return &out, nil
}
