package clock

import (
	"sync"
	"time"
)

// Mock is a Clock whose tickers only fire when Tick is called.
type Mock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*mockTicker
}

var _ Clock = &Mock{}

func NewMock() *Mock {
	return &Mock{
		now: time.Unix(0, 0),
	}
}

func (m *Mock) NewTicker(d time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &mockTicker{
		c: make(chan time.Time, 1),
	}

	m.tickers = append(m.tickers, t)

	return t
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.now
}

// Set sets the current mock time.
func (m *Mock) Set(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = now
}

// Add advances the mock time by d.
func (m *Mock) Add(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = m.now.Add(d)
}

// Tick fires every active ticker once with the current mock time.
func (m *Mock) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tickers {
		if t.stopped() {
			continue
		}

		select {
		case t.c <- m.now:
		default:
		}
	}
}

type mockTicker struct {
	mu        sync.Mutex
	c         chan time.Time
	isStopped bool
}

var _ Ticker = &mockTicker{}

func (t *mockTicker) C() <-chan time.Time {
	return t.c
}

func (t *mockTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.isStopped = true
}

func (t *mockTicker) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.isStopped
}
