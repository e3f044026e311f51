package store

import (
	"context"
	"sync"

	"github.com/foliolab/pulse/internal/presence"
)

// Memory is the embedded presence table. Writes are last-write-wins per
// session id; every mutation is fanned out to subscribers without blocking
// the writer. Subscribers that fall behind drop events, which is acceptable
// because readers always recompute from a full List.
type Memory struct {
	mu          sync.RWMutex
	records     map[string]presence.Record
	subscribers map[int64]*memorySubscriber
	nextID      int64
	bufferSize  int
}

type memorySubscriber struct {
	id     int64
	stream chan presence.Event
}

func NewMemory() *Memory {
	return &Memory{
		records:     make(map[string]presence.Record),
		subscribers: make(map[int64]*memorySubscriber),
		bufferSize:  16,
	}
}

func (m *Memory) List(_ context.Context) ([]presence.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]presence.Record, 0, len(m.records))
	for _, record := range m.records {
		records = append(records, record)
	}
	return records, nil
}

func (m *Memory) Get(_ context.Context, sessionID string) (presence.Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[sessionID]
	return record, ok, nil
}

func (m *Memory) Put(_ context.Context, record presence.Record) error {
	if record.SessionID == "" {
		return nil
	}
	m.mu.Lock()
	m.records[record.SessionID] = record
	m.mu.Unlock()
	m.publish(presence.Event{Kind: presence.EventPut, SessionID: record.SessionID})
	return nil
}

func (m *Memory) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	_, existed := m.records[sessionID]
	delete(m.records, sessionID)
	m.mu.Unlock()
	if existed {
		m.publish(presence.Event{Kind: presence.EventDelete, SessionID: sessionID})
	}
	return nil
}

// DeleteBatch removes every listed session under one lock acquisition and
// emits a single delete event per removed record.
func (m *Memory) DeleteBatch(_ context.Context, sessionIDs []string) error {
	removed := make([]string, 0, len(sessionIDs))
	m.mu.Lock()
	for _, sessionID := range sessionIDs {
		if _, existed := m.records[sessionID]; existed {
			delete(m.records, sessionID)
			removed = append(removed, sessionID)
		}
	}
	m.mu.Unlock()
	for _, sessionID := range removed {
		m.publish(presence.Event{Kind: presence.EventDelete, SessionID: sessionID})
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context) (<-chan presence.Event, func()) {
	subscriber := &memorySubscriber{
		id:     m.nextSequence(),
		stream: make(chan presence.Event, m.bufferSize),
	}
	m.registerSubscriber(subscriber)
	cleanup := func() {
		m.unregisterSubscriber(subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (m *Memory) publish(event presence.Event) {
	m.mu.RLock()
	copies := make([]*memorySubscriber, 0, len(m.subscribers))
	for _, subscriber := range m.subscribers {
		copies = append(copies, subscriber)
	}
	m.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (m *Memory) nextSequence() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID
}

func (m *Memory) registerSubscriber(subscriber *memorySubscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[subscriber.id] = subscriber
}

func (m *Memory) unregisterSubscriber(subscriberID int64) {
	m.mu.Lock()
	delete(m.subscribers, subscriberID)
	m.mu.Unlock()
}
