package models

import "time"

// DefaultSessionID is used when a query does not name a session.
const DefaultSessionID = "default"

// QueryLog records one answered question. Rows are never updated.
type QueryLog struct {
	ID           int64     `json:"id"`
	Query        string    `json:"query"`
	Response     string    `json:"response"`
	SourcesUsed  []int64   `json:"sources_used"`
	ResponseTime float64   `json:"response_time"`
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
}
