package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"edurag/internal/models"
	"edurag/internal/progress"
	"edurag/internal/retry"
	"edurag/internal/worker"
)

// InterruptedReason is recorded on documents found mid-ingestion at startup.
const InterruptedReason = "interrupted: server restarted during ingestion"

// Enqueuer accepts ingestion work. *worker.Manager satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, task worker.IngestTask) error
}

// Recovery summarises one startup sweep.
type Recovery struct {
	Interrupted []int64
	Requeued    []int64
	Abandoned   []int64
}

var requeuePolicy = retry.Policy{MaxRetries: 5, Initial: 200 * time.Millisecond, Max: 2 * time.Second}

// Recover settles documents left behind by a previous process. Processing
// documents are failed so they can be retried; pending documents whose
// upload is still on disk go back on the queue, the rest are failed.
func (a *App) Recover(ctx context.Context, jobs Enqueuer) (*Recovery, error) {
	rep := &Recovery{}

	stuck, err := a.Documents.FailInterrupted(ctx, InterruptedReason)
	for _, d := range stuck {
		rep.Interrupted = append(rep.Interrupted, d.ID)
		a.trackFailed(ctx, d, InterruptedReason)
	}
	if err != nil {
		return rep, fmt.Errorf("fail interrupted documents: %w", err)
	}

	pending, err := a.Documents.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return rep, err
	}
	for _, d := range pending {
		if d.StoredPath == "" || !fileExists(d.StoredPath) {
			a.abandon(ctx, d, "upload no longer available")
			rep.Abandoned = append(rep.Abandoned, d.ID)
			continue
		}
		task := worker.IngestTask{
			DocumentID: d.ID,
			Filename:   d.OriginalName,
			Format:     d.FileType,
			Path:       d.StoredPath,
		}
		_, err := retry.Do(ctx, requeuePolicy, func(ctx context.Context) (struct{}, error) {
			err := jobs.Enqueue(ctx, task)
			if err != nil && !errors.Is(err, worker.ErrDispatcherBusy) {
				return struct{}{}, retry.Permanent(err)
			}
			return struct{}{}, err
		}, nil)
		if err != nil {
			a.Log.Warn("requeue pending document", "document_id", d.ID, "error", err)
			a.abandon(ctx, d, "could not requeue: "+err.Error())
			rep.Abandoned = append(rep.Abandoned, d.ID)
			continue
		}
		rep.Requeued = append(rep.Requeued, d.ID)
	}

	if n := len(rep.Interrupted) + len(rep.Requeued) + len(rep.Abandoned); n > 0 {
		a.Log.Info("recovered documents",
			"interrupted", len(rep.Interrupted),
			"requeued", len(rep.Requeued),
			"abandoned", len(rep.Abandoned))
	}
	return rep, nil
}

// abandon moves a pending document to failed through processing.
func (a *App) abandon(ctx context.Context, d models.Document, reason string) {
	if err := a.Documents.MarkProcessing(ctx, d.ID); err != nil {
		a.Log.Warn("abandon document", "document_id", d.ID, "error", err)
		return
	}
	meta := models.DocumentMetadata{Error: reason, FailedAt: time.Now().UTC().Format(time.RFC3339)}
	if err := a.Documents.MarkFailed(ctx, d.ID, meta); err != nil {
		a.Log.Warn("abandon document", "document_id", d.ID, "error", err)
		return
	}
	a.trackFailed(ctx, d, reason)
}

func (a *App) trackFailed(ctx context.Context, d models.Document, reason string) {
	if a.Tracker == nil {
		return
	}
	if err := a.Tracker.Set(ctx, progress.Entry{
		DocumentID: d.ID,
		Progress:   0,
		Stage:      progress.StageFailed,
		Status:     string(models.StatusFailed),
		Filename:   d.OriginalName,
		Error:      reason,
		UpdatedAt:  time.Now(),
	}); err != nil {
		a.Log.Warn("record failed progress", "document_id", d.ID, "error", err)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
