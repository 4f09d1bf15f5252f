package worker

import (
	"fmt"
	"time"
)

type JobType int

const (
	Ingest JobType = iota
	Stop
)

func (t JobType) String() string {
	switch t {
	case Ingest:
		return "ingest"
	case Stop:
		return "stop"
	default:
		return fmt.Sprintf("job(%d)", int(t))
	}
}

// IngestTask points a worker at one stored upload.
type IngestTask struct {
	DocumentID int64
	Filename   string
	Format     string
	Path       string
	Enqueued   time.Time
}

type Job struct {
	Type JobType
	Task IngestTask

	done func()
}

func (job Job) key() int64 {
	return job.Task.DocumentID
}

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func newWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for job := range w.jobChannel {
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.run(job)
			if !w.pool.Release(w.jobChannel) {
				return
			}
		}
	}()
}

func (w *Worker) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			w.pool.log.Error("worker panic", "worker", w.id, "document_id", job.key(), "panic", r)
		}
		if job.done != nil {
			job.done()
		}
	}()
	debugLog(w.pool.log, "worker run", "worker", w.id, "type", job.Type.String(), "document_id", job.key())
	w.pool.handler(job)
}
