// Package worker runs document ingestion in the background on an elastic
// pool of workers. Jobs for the same document never run concurrently.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"edurag/internal/logger"
	"edurag/internal/progress"
	"edurag/internal/service/ingest"
)

// Ingester is the ingestion pipeline as seen by workers.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Outcome, error)
}

type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

// Stats is a snapshot for the analytics endpoint.
type Stats struct {
	Queued    int   `json:"queued"`
	Running   int   `json:"running"`
	Workers   int   `json:"workers"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

type Manager struct {
	ingester   Ingester
	tracker    progress.Tracker
	log        *logger.Logger
	dispatcher *Dispatcher

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
}

func NewManager(ing Ingester, tracker progress.Tracker, cfg DispatcherConfig, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		ingester: ing,
		tracker:  tracker,
		log:      log.With("component", "worker"),
		ctx:      ctx,
		cancel:   cancel,
	}
	m.dispatcher = NewDispatcher(cfg.MinWorkers, cfg.MaxWorkers, cfg.QueueSize, m.handle, cfg.IdleTimeout, m.log)
	return m
}

// Enqueue schedules ingestion of a stored upload and returns at once. The
// document shows as queued until a worker picks it up.
func (m *Manager) Enqueue(ctx context.Context, task IngestTask) error {
	if task.DocumentID <= 0 {
		return errors.New("worker: document id is required")
	}
	if task.Enqueued.IsZero() {
		task.Enqueued = time.Now()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrDispatcherStopped
	}
	m.inflight.Add(1)
	m.mu.Unlock()

	// queued must land before any worker update
	if m.tracker != nil {
		if err := m.tracker.Set(ctx, progress.Entry{
			DocumentID: task.DocumentID,
			Progress:   0,
			Stage:      progress.StageQueued,
			Status:     "pending",
			Filename:   task.Filename,
			UpdatedAt:  task.Enqueued,
		}); err != nil {
			m.log.Warn("record queued progress", "document_id", task.DocumentID, "error", err)
		}
	}
	job := Job{Type: Ingest, Task: task, done: m.inflight.Done}
	if err := m.dispatcher.Submit(job); err != nil {
		m.inflight.Done()
		if m.tracker != nil {
			_ = m.tracker.Delete(ctx, task.DocumentID)
		}
		return err
	}
	debugLog(m.log, "enqueue", "document_id", task.DocumentID, "queued", m.dispatcher.Pending())
	return nil
}

// Cancel drops queued, not yet started jobs of a document.
func (m *Manager) Cancel(docID int64) int {
	return m.dispatcher.Cancel(docID)
}

func (m *Manager) Stats() Stats {
	running, busy := m.dispatcher.pool.counts()
	return Stats{
		Queued:    m.dispatcher.Pending(),
		Running:   busy,
		Workers:   running,
		Processed: m.processed.Load(),
		Failed:    m.failed.Load(),
	}
}

// Shutdown stops intake and waits for accepted jobs until ctx ends. Jobs
// still running after that see their context cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("worker shutdown: %w", ctx.Err())
	}
	m.cancel()
	m.dispatcher.Stop()
	return err
}

func (m *Manager) handle(job Job) {
	switch job.Type {
	case Ingest:
		m.handleIngest(job.Task)
	default:
		m.log.Warn("unknown job type", "type", job.Type.String())
	}
}

func (m *Manager) handleIngest(task IngestTask) {
	log := m.log.With("document_id", task.DocumentID, "filename", task.Filename)
	log.Info("ingestion started", "waited", time.Since(task.Enqueued).String())

	out, err := m.ingester.Ingest(m.ctx, ingest.Request{
		DocumentID: task.DocumentID,
		Filename:   task.Filename,
		Format:     task.Format,
		Path:       task.Path,
	})
	if err != nil {
		m.failed.Add(1)
		log.Error("ingestion failed", "error", err)
		return
	}
	m.processed.Add(1)
	log.Info("ingestion finished", "chunks", out.ChunkCount, "duration", out.Duration.String())
}
