package worker

import (
	"sync"
	"time"

	"edurag/internal/logger"
)

type workerMeta struct {
	id        int
	ch        chan Job
	lastUsed  time.Time
	enqueued  bool // is in the idle queue
	discarded bool // is targeted as delete
}

type jobChannelPool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	idle     []*workerMeta
	metadata map[chan Job]*workerMeta
	min      int
	max      int
	running  int
	busy     int
	nextID   int
	expiry   time.Duration
	handler  func(Job)
	log      *logger.Logger
	quit     chan struct{}
	stopped  bool
	stopOnce sync.Once
}

const defaultWorkerIdle = 30 * time.Second

func newJobChannelPool(minWorkers, maxWorkers int, idle time.Duration, handler func(Job), log *logger.Logger) *jobChannelPool {
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	if log == nil {
		log = logger.NewNop()
	}
	if minWorkers < 0 {
		minWorkers = 0
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	p := &jobChannelPool{
		metadata: make(map[chan Job]*workerMeta),
		min:      minWorkers,
		max:      maxWorkers,
		expiry:   idle,
		handler:  handler,
		log:      log,
		quit:     make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.purgeStaleWorkers()
	return p
}

// newWorkerLocked registers a worker; p.mu must be held.
func (p *jobChannelPool) newWorkerLocked() (*Worker, *workerMeta) {
	p.nextID++
	worker := newWorker(p.nextID, p)
	meta := &workerMeta{id: worker.id, ch: worker.jobChannel}
	p.metadata[worker.jobChannel] = meta
	p.running++
	return worker, meta
}

// spawnWorker adds an idle worker, used for warm up
func (p *jobChannelPool) spawnWorker() {
	p.mu.Lock()
	if p.running >= p.max {
		p.mu.Unlock()
		return
	}
	worker, meta := p.newWorkerLocked()
	meta.enqueued = true
	meta.lastUsed = time.Now()
	p.idle = append(p.idle, meta)
	p.mu.Unlock()
	worker.Start()
	p.cond.Signal()
}

// acquire gets an idle worker, or spawns a new one. It returns nil once the
// pool is stopped.
func (p *jobChannelPool) acquire() chan Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.stopped {
			return nil
		}
		if meta := p.popIdleLocked(); meta != nil {
			p.busy++
			return meta.ch
		}
		if p.running < p.max {
			worker, _ := p.newWorkerLocked()
			worker.Start()
			p.busy++
			return worker.jobChannel
		}
		p.cond.Wait()
	}
}

// Release puts a worker back into the idle queue. A false return tells the
// worker to exit because the pool is stopped.
func (p *jobChannelPool) Release(ch chan Job) bool {
	p.mu.Lock()
	if p.busy > 0 {
		p.busy--
	}
	if p.stopped {
		p.mu.Unlock()
		p.retire(ch)
		return false
	}
	meta, ok := p.metadata[ch]
	if !ok || meta.discarded || meta.enqueued {
		p.mu.Unlock()
		return true
	}
	meta.enqueued = true
	meta.lastUsed = time.Now()
	p.idle = append(p.idle, meta)
	p.mu.Unlock()
	p.cond.Signal()
	return true
}

// retire deletes a worker
func (p *jobChannelPool) retire(ch chan Job) {
	p.mu.Lock()
	if meta, ok := p.metadata[ch]; ok {
		delete(p.metadata, ch)
		meta.discarded = true
		if p.running > 0 {
			p.running--
		}
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

// popIdleLocked returns the oldest idle worker, if any
func (p *jobChannelPool) popIdleLocked() *workerMeta {
	for len(p.idle) > 0 {
		meta := p.idle[0]
		p.idle = p.idle[1:]
		if meta.discarded {
			continue
		}
		meta.enqueued = false
		return meta
	}
	return nil
}

func (p *jobChannelPool) workerID(ch chan Job) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if meta, ok := p.metadata[ch]; ok {
		return meta.id
	}
	return 0
}

// counts reports live and busy workers.
func (p *jobChannelPool) counts() (running, busy int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running, p.busy
}

// purgeStaleWorkers calls shutdownExpired every expiry period
func (p *jobChannelPool) purgeStaleWorkers() {
	ticker := time.NewTicker(p.expiry)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.shutdownExpired(p.min)
		case <-p.quit:
			return
		}
	}
}

// shutdownExpired retires idle workers unused for longer than expiry while
// keeping at least floor of them alive
func (p *jobChannelPool) shutdownExpired(floor int) {
	stale := p.collectIdle(func(meta *workerMeta, now time.Time, running int) bool {
		return now.Sub(meta.lastUsed) >= p.expiry && running > floor
	})
	for _, meta := range stale {
		meta.ch <- Job{Type: Stop}
	}
}

func (p *jobChannelPool) collectIdle(match func(meta *workerMeta, now time.Time, running int) bool) []*workerMeta {
	var stale []*workerMeta
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	remaining := p.idle[:0] // keep the original array
	for _, meta := range p.idle {
		if meta.discarded {
			continue
		}
		if match(meta, now, p.running-len(stale)) {
			meta.discarded = true
			meta.enqueued = false
			stale = append(stale, meta)
			continue
		}
		remaining = append(remaining, meta)
	}
	p.idle = remaining
	return stale
}

// stop ends the purge loop and retires every idle worker. Busy workers
// exit after their current job.
func (p *jobChannelPool) stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		p.cond.Broadcast()
		stale := p.collectIdle(func(*workerMeta, time.Time, int) bool { return true })
		for _, meta := range stale {
			meta.ch <- Job{Type: Stop}
		}
	})
}
