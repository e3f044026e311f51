package presence

import (
	"context"
	"errors"
	"sync"
)

// fakeTable is an in-package stand-in for the presence store so tests can
// inject read failures and inspect writes without real infrastructure.
type fakeTable struct {
	mu       sync.Mutex
	records  map[string]Record
	failList bool
	failPut  bool
	events   []chan Event
}

func newFakeTable() *fakeTable {
	return &fakeTable{records: make(map[string]Record)}
}

func (f *fakeTable) List(context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList {
		return nil, errors.New("list unavailable")
	}
	records := make([]Record, 0, len(f.records))
	for _, record := range f.records {
		records = append(records, record)
	}
	return records, nil
}

func (f *fakeTable) Get(_ context.Context, sessionID string) (Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[sessionID]
	return record, ok, nil
}

func (f *fakeTable) Put(_ context.Context, record Record) error {
	f.mu.Lock()
	if f.failPut {
		f.mu.Unlock()
		return errors.New("put unavailable")
	}
	f.records[record.SessionID] = record
	streams := append([]chan Event(nil), f.events...)
	f.mu.Unlock()
	for _, stream := range streams {
		select {
		case stream <- Event{Kind: EventPut, SessionID: record.SessionID}:
		default:
		}
	}
	return nil
}

func (f *fakeTable) Delete(ctx context.Context, sessionID string) error {
	return f.DeleteBatch(ctx, []string{sessionID})
}

func (f *fakeTable) DeleteBatch(_ context.Context, sessionIDs []string) error {
	f.mu.Lock()
	for _, sessionID := range sessionIDs {
		delete(f.records, sessionID)
	}
	streams := append([]chan Event(nil), f.events...)
	f.mu.Unlock()
	for _, sessionID := range sessionIDs {
		for _, stream := range streams {
			select {
			case stream <- Event{Kind: EventDelete, SessionID: sessionID}:
			default:
			}
		}
	}
	return nil
}

func (f *fakeTable) Subscribe(ctx context.Context) (<-chan Event, func()) {
	stream := make(chan Event, 32)
	f.mu.Lock()
	f.events = append(f.events, stream)
	f.mu.Unlock()
	cleanup := func() {}
	go func() {
		<-ctx.Done()
	}()
	return stream, cleanup
}

func (f *fakeTable) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakeTable) record(sessionID string) (Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[sessionID]
	return record, ok
}

// fakeBlocklist matches exact visitor ids, ips and lowercase country names.
type fakeBlocklist struct {
	mu        sync.Mutex
	visitors  map[string]bool
	ips       map[string]bool
	countries map[string]bool
	failing   bool
}

func newFakeBlocklist() *fakeBlocklist {
	return &fakeBlocklist{
		visitors:  make(map[string]bool),
		ips:       make(map[string]bool),
		countries: make(map[string]bool),
	}
}

func (f *fakeBlocklist) IsBlocked(_ context.Context, visitorID, ip, country string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return false, errors.New("blocklist unavailable")
	}
	return f.visitors[visitorID] || f.ips[ip] || f.countries[country], nil
}

// fakeSeries keeps the persisted chart series in memory.
type fakeSeries struct {
	mu      sync.Mutex
	samples []Sample
	saves   int
	failing bool
}

func (f *fakeSeries) LoadSeries(context.Context) ([]Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errors.New("series unavailable")
	}
	return append([]Sample(nil), f.samples...), nil
}

func (f *fakeSeries) SaveSeries(_ context.Context, samples []Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("series unavailable")
	}
	f.samples = append([]Sample(nil), samples...)
	f.saves++
	return nil
}

func (f *fakeSeries) stored() []Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sample(nil), f.samples...)
}

// fakeArchive records folds and session registrations.
type fakeArchive struct {
	mu       sync.Mutex
	sessions map[string]int
	folds    []HistoryFold
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{sessions: make(map[string]int)}
}

func (f *fakeArchive) RecordSession(_ context.Context, visitorID string, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[visitorID]++
	return nil
}

func (f *fakeArchive) Fold(_ context.Context, fold HistoryFold) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folds = append(f.folds, fold)
	return nil
}

func (f *fakeArchive) foldCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.folds)
}
