package worker

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"edurag/internal/logger"
)

// ErrDispatcherBusy is returned when the intake queue is full.
var ErrDispatcherBusy = errors.New("ingestion queue is full, try again later")

// ErrDispatcherStopped is returned after Stop.
var ErrDispatcherStopped = errors.New("ingestion dispatcher is stopped")

// keyQueue holds the pending jobs of one document. At most one of them runs
// at a time.
type keyQueue struct {
	jobs     []Job
	enqueued bool // sits in the ready list
	running  bool
}

type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // intake for outer jobs
	log      *logger.Logger

	mu        sync.Mutex
	queues    map[int64]*keyQueue // pending jobs per document
	ready     *list.List          // LRU queue of dispatchable document IDs
	positions map[int64]*list.Element
	wake      chan struct{}
	quit      chan struct{}
	stopOnce  sync.Once
}

func NewDispatcher(minWorkers, maxWorkers, queueSize int, handler func(Job), idleTimeout time.Duration, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		pool:      newJobChannelPool(minWorkers, maxWorkers, idleTimeout, handler, log),
		JobQueue:  make(chan Job, queueSize),
		log:       log,
		queues:    make(map[int64]*keyQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
	}

	// warm up
	for i := 0; i < minWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit hands a job to the dispatcher without blocking.
func (d *Dispatcher) Submit(job Job) error {
	select {
	case <-d.quit:
		return ErrDispatcherStopped
	default:
	}
	select {
	case d.JobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the document in the front of the LRU queue
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue:
				d.enqueueJob(job)
			case <-d.wake:
			case <-d.quit:
				return
			}
			continue
		}
		select {
		case job := <-d.JobQueue: // non-blocking
			d.enqueueJob(job)
		case <-d.quit:
			return
		default:
		}
	}
}

// Stop ends the dispatch loop. Jobs still queued are dropped and running
// ones are left to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
		d.pool.stop()
	})
}

// Cancel drops the jobs of a document that have not started yet and
// reports how many were dropped.
func (d *Dispatcher) Cancel(docID int64) int {
	d.mu.Lock()
	q, ok := d.queues[docID]
	if !ok {
		d.mu.Unlock()
		return 0
	}
	dropped := q.jobs
	q.jobs = nil
	if elem, ok := d.positions[docID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, docID)
	}
	q.enqueued = false
	if !q.running {
		delete(d.queues, docID)
	}
	d.mu.Unlock()

	for _, job := range dropped {
		if job.done != nil {
			job.done()
		}
	}
	return len(dropped)
}

// Pending counts jobs accepted but not yet started.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	n := 0
	for _, q := range d.queues {
		n += len(q.jobs)
	}
	d.mu.Unlock()
	return n + len(d.JobQueue)
}

func (d *Dispatcher) enqueueJob(job Job) {
	key := job.key()

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[key]
	if q == nil {
		q = &keyQueue{}
		d.queues[key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued || q.running {
		// picked up when the running job finishes
		return
	}
	q.enqueued = true
	d.positions[key] = d.ready.PushBack(key)
}

// dispatchOne hands the first ready document's next job to a worker
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	key := elem.Value.(int64)
	q := d.queues[key]
	d.ready.Remove(elem)
	delete(d.positions, key)
	q.enqueued = false
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.running = true
	d.mu.Unlock()

	inner := job.done
	job.done = func() {
		d.finish(key)
		if inner != nil {
			inner()
		}
	}

	workerChan := d.pool.acquire()
	if workerChan == nil {
		// pool stopped while waiting
		job.done()
		return false
	}
	debugLog(d.log, "dispatch job", "type", job.Type.String(), "document_id", key, "worker", d.pool.workerID(workerChan))
	workerChan <- job
	return true
}

// finish re-queues the document when more of its jobs are waiting.
func (d *Dispatcher) finish(key int64) {
	d.mu.Lock()
	q, ok := d.queues[key]
	if ok {
		q.running = false
		switch {
		case len(q.jobs) > 0 && !q.enqueued:
			q.enqueued = true
			d.positions[key] = d.ready.PushBack(key)
		case len(q.jobs) == 0:
			delete(d.queues, key)
		}
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}
