package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hearby/hearby/internal/core"
	"github.com/hearby/hearby/internal/domain"
)

// Memory is an in-process signal store for single-node development and
// tests. Snapshot delivery is asynchronous but ordered per subscriber,
// matching the production adapter's single delivery loop.
type Memory struct {
	// Now assigns write timestamps. Overridable in tests to age documents.
	Now func() time.Time

	mu       sync.RWMutex
	channels map[domain.Channel]map[domain.UserID]domain.PeerDocument
	subs     map[domain.Channel]map[int]*memSub
	nextSub  int
}

// memSub queues snapshots for one subscriber so they arrive in write order.
// The queue is unbounded so a publisher never blocks on a slow subscriber,
// which matters because sessions write to the store from inside their own
// snapshot callbacks.
type memSub struct {
	mu    sync.Mutex
	queue [][]domain.PeerDocument
	wake  chan struct{}
	done  chan struct{}
	stop  sync.Once
}

func (s *memSub) push(docs []domain.PeerDocument) {
	s.mu.Lock()
	s.queue = append(s.queue, docs)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memSub) next() ([]domain.PeerDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	docs := s.queue[0]
	s.queue = s.queue[1:]
	return docs, true
}

func NewMemory() *Memory {
	return &Memory{
		Now:      time.Now,
		channels: make(map[domain.Channel]map[domain.UserID]domain.PeerDocument),
		subs:     make(map[domain.Channel]map[int]*memSub),
	}
}

func (m *Memory) PublishSelf(_ context.Context, ch domain.Channel, id domain.UserID, doc domain.PeerDocument) error {
	m.mu.Lock()
	docs, ok := m.channels[ch]
	if !ok {
		docs = make(map[domain.UserID]domain.PeerDocument)
		m.channels[ch] = docs
	}
	doc.UserID = id
	doc.UpdatedAt = m.Now()
	docs[id] = doc
	m.mu.Unlock()

	m.notify(ch)
	return nil
}

func (m *Memory) PatchSelf(_ context.Context, ch domain.Channel, id domain.UserID, patch domain.PeerPatch) error {
	m.mu.Lock()
	docs, ok := m.channels[ch]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: patch %s/%s: no such channel", core.ErrStore, ch, id)
	}
	doc, ok := docs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: patch %s/%s: no such document", core.ErrStore, ch, id)
	}
	doc.Apply(patch)
	doc.UpdatedAt = m.Now()
	docs[id] = doc
	m.mu.Unlock()

	m.notify(ch)
	return nil
}

func (m *Memory) DeleteSelf(_ context.Context, ch domain.Channel, id domain.UserID) error {
	m.mu.Lock()
	if docs, ok := m.channels[ch]; ok {
		delete(docs, id)
	}
	m.mu.Unlock()

	m.notify(ch)
	return nil
}

func (m *Memory) ListAll(_ context.Context, ch domain.Channel) ([]domain.PeerDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(ch), nil
}

func (m *Memory) Subscribe(_ context.Context, ch domain.Channel, fn func([]domain.PeerDocument)) (func(), error) {
	sub := &memSub{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	m.mu.Lock()
	subs, ok := m.subs[ch]
	if !ok {
		subs = make(map[int]*memSub)
		m.subs[ch] = subs
	}
	id := m.nextSub
	m.nextSub++
	subs[id] = sub
	// Initial snapshot, like a fresh document-store listener gets. Queued
	// before any later write can be, so it is always delivered first.
	sub.push(m.snapshotLocked(ch))
	m.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case <-sub.wake:
			}
			for {
				docs, ok := sub.next()
				if !ok {
					break
				}
				select {
				case <-sub.done:
					return
				default:
				}
				fn(docs)
			}
		}
	}()

	return func() {
		m.mu.Lock()
		delete(m.subs[ch], id)
		m.mu.Unlock()
		sub.stop.Do(func() { close(sub.done) })
	}, nil
}

func (m *Memory) snapshotLocked(ch domain.Channel) []domain.PeerDocument {
	docs := m.channels[ch]
	out := make([]domain.PeerDocument, 0, len(docs))
	for _, d := range docs {
		out = append(out, cloneDoc(d))
	}
	return out
}

// notify snapshots and enqueues under one critical section so concurrent
// writers cannot interleave an older snapshot behind a newer one. push never
// blocks, so holding the lock across it is safe.
func (m *Memory) notify(ch domain.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.snapshotLocked(ch)
	for _, sub := range m.subs[ch] {
		sub.push(snapshot)
	}
}

func cloneDoc(d domain.PeerDocument) domain.PeerDocument {
	out := d
	out.Offers = make(map[domain.UserID]domain.SessionDescription, len(d.Offers))
	for k, v := range d.Offers {
		out.Offers[k] = v
	}
	out.Answers = make(map[domain.UserID]domain.SessionDescription, len(d.Answers))
	for k, v := range d.Answers {
		out.Answers[k] = v
	}
	out.ICE = make(map[domain.UserID][]domain.Candidate, len(d.ICE))
	for k, v := range d.ICE {
		out.ICE[k] = append([]domain.Candidate(nil), v...)
	}
	return out
}
