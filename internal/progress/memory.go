package progress

import (
	"context"
	"sync"
	"time"
)

type MemoryTracker struct {
	mu      sync.RWMutex
	entries map[int64]Entry
	subs    map[int64]map[chan Entry]struct{}
	now     func() time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		entries: make(map[int64]Entry),
		subs:    make(map[int64]map[chan Entry]struct{}),
		now:     time.Now,
	}
}

func (m *MemoryTracker) Set(ctx context.Context, e Entry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = m.now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Filename == "" {
		e.Filename = m.entries[e.DocumentID].Filename
	}
	m.entries[e.DocumentID] = e
	for ch := range m.subs[e.DocumentID] {
		offer(ch, e)
	}
	return nil
}

func (m *MemoryTracker) Get(ctx context.Context, docID int64) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[docID]
	return e, ok, nil
}

func (m *MemoryTracker) Delete(ctx context.Context, docID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, docID)
	return nil
}

func (m *MemoryTracker) Active(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if !e.Stage.Terminal() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryTracker) Subscribe(ctx context.Context, docID int64) (<-chan Entry, func(), error) {
	ch := make(chan Entry, 1)
	m.mu.Lock()
	if m.subs[docID] == nil {
		m.subs[docID] = make(map[chan Entry]struct{})
	}
	m.subs[docID][ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(done)
			m.mu.Lock()
			delete(m.subs[docID], ch)
			if len(m.subs[docID]) == 0 {
				delete(m.subs, docID)
			}
			m.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel, nil
}
