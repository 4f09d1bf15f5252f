package models

import "time"

// DocumentStatus is the ingestion state of an uploaded document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Terminal reports whether no further transition happens without a retry.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document is an uploaded file and its ingestion bookkeeping.
type Document struct {
	ID           int64            `json:"id"`
	Filename     string           `json:"filename"`
	OriginalName string           `json:"original_name"`
	FileType     string           `json:"file_type"`
	FileSize     int64            `json:"file_size"`
	StoredPath   string           `json:"-"`
	Status       DocumentStatus   `json:"status"`
	ChunkCount   int              `json:"chunk_count"`
	VectorIDs    []string         `json:"vector_ids"`
	Metadata     DocumentMetadata `json:"metadata"`
	Attempts     int              `json:"attempts"`
	UploadedAt   time.Time        `json:"uploaded_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// DocumentMetadata is persisted as JSON next to the document row.
type DocumentMetadata struct {
	TextLength     int     `json:"text_length,omitempty"`
	ProcessedAt    string  `json:"processed_at,omitempty"`
	ProcessingTime float64 `json:"processing_time,omitempty"`
	Error          string  `json:"error,omitempty"`
	FailedAt       string  `json:"failed_at,omitempty"`
}
