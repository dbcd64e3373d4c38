package core

import (
	"context"
	"sync"
	"time"
)

type emittedEvent struct {
	eventType string
	payload   interface{}
}

type pendingAck struct {
	eventType string
	payload   interface{}
	ack       func(error)
}

// MockEmitter records every emission and captures acknowledgement callbacks
// so tests settle them by hand.
type MockEmitter struct {
	mu        sync.Mutex
	connected bool
	emitErr   error
	events    []emittedEvent
	acks      []pendingAck
	notify    chan struct{}
}

func NewMockEmitter() *MockEmitter {
	return &MockEmitter{connected: true, notify: make(chan struct{}, 64)}
}

func (m *MockEmitter) Emit(eventType string, payload interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emitErr != nil {
		return m.emitErr
	}
	m.events = append(m.events, emittedEvent{eventType, payload})
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

func (m *MockEmitter) EmitWithAck(eventType string, payload interface{}, ack func(error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emitErr != nil {
		return m.emitErr
	}
	m.acks = append(m.acks, pendingAck{eventType, payload, ack})
	return nil
}

func (m *MockEmitter) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockEmitter) SetConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

func (m *MockEmitter) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitErr = err
}

func (m *MockEmitter) Events() []emittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]emittedEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MockEmitter) Acks() []pendingAck {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pendingAck, len(m.acks))
	copy(out, m.acks)
	return out
}

// WaitEvents blocks until at least n events have been emitted or the
// timeout elapses, returning the events seen.
func (m *MockEmitter) WaitEvents(n int, timeout time.Duration) []emittedEvent {
	deadline := time.After(timeout)
	for {
		if events := m.Events(); len(events) >= n {
			return events
		}
		select {
		case <-m.notify:
		case <-deadline:
			return m.Events()
		}
	}
}

// MockFetcher serves scripted pages keyed by page number. When blockOn is
// set, a fetch for that page parks until Release is called.
type MockFetcher struct {
	mu      sync.Mutex
	pages   map[int]PageResult
	err     error
	calls   []int
	blockOn int
	release chan struct{}
}

func NewMockFetcher() *MockFetcher {
	return &MockFetcher{pages: map[int]PageResult{}, release: make(chan struct{})}
}

func (f *MockFetcher) Page(page int, res PageResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[page] = res
}

func (f *MockFetcher) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *MockFetcher) BlockOn(page int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockOn = page
}

func (f *MockFetcher) Release() {
	close(f.release)
}

func (f *MockFetcher) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *MockFetcher) FetchPage(ctx context.Context, roomID string, page, limit int) (PageResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, page)
	err := f.err
	res, ok := f.pages[page]
	block := f.blockOn == page && f.blockOn != 0
	f.mu.Unlock()

	if block {
		<-f.release
	}
	if err != nil {
		return PageResult{}, err
	}
	if !ok {
		return PageResult{CurrentPage: page, TotalPages: page}, nil
	}
	return res, nil
}

// MockLister serves a scripted room list.
type MockLister struct {
	mu    sync.Mutex
	rooms []Room
	err   error
}

func (l *MockLister) Set(rooms []Room, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rooms = rooms
	l.err = err
}

func (l *MockLister) FetchRooms(ctx context.Context, userID string) ([]Room, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return l.rooms, nil
}
