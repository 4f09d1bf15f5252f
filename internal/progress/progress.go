// Package progress tracks per-document ingestion progress for pollers and
// push subscribers.
package progress

import (
	"context"
	"time"
)

type Stage string

const (
	StageQueued     Stage = "queued"
	StageExtracting Stage = "extracting"
	StageChunking   Stage = "chunking"
	StageEmbedding  Stage = "embedding"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// Terminal reports whether no further updates follow in this attempt.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Entry is the latest known progress of one document.
type Entry struct {
	DocumentID int64     `json:"document_id"`
	Progress   int       `json:"progress"`
	Stage      Stage     `json:"stage"`
	Status     string    `json:"status"`
	Filename   string    `json:"filename,omitempty"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"timestamp"`
}

// Tracker stores progress entries. Reads never wait on ingestion work.
type Tracker interface {
	Set(ctx context.Context, e Entry) error
	Get(ctx context.Context, docID int64) (Entry, bool, error)
	Delete(ctx context.Context, docID int64) error
	// Active counts documents whose latest entry is not terminal.
	Active(ctx context.Context) (int, error)
	// Subscribe streams updates for one document until cancel is called or
	// ctx ends. Slow readers only see the latest entry.
	Subscribe(ctx context.Context, docID int64) (<-chan Entry, func(), error)
}

// offer replaces a pending unread entry so the channel always holds the
// newest one.
func offer(ch chan Entry, e Entry) {
	select {
	case ch <- e:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- e:
	default:
	}
}
