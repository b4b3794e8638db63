package recognizer

import (
	"context"
	"sync"
	"time"

	"vhisper/internal/audiosource"
)

// MockRecognizer is a scriptable Streamer for tests that exercise the
// pipeline without a network, grounded on the mock ASR engine pattern in
// antu58-DesktopRobot's internal/asr/mock.go, generalized to script a fixed
// connect outcome per attempt instead of reacting to sample counts.
type MockRecognizer struct {
	mu          sync.Mutex
	connectErrs []error // consumed in order; nil entries succeed
	connectN    int
	sessions    []*MockSession
}

// NewMockRecognizer returns a Streamer whose successive Connect calls
// succeed or fail according to connectErrs, cycling through one
// *MockSession per successful connect. Extra Connect calls beyond
// len(connectErrs) reuse the last entry.
func NewMockRecognizer(connectErrs ...error) *MockRecognizer {
	return &MockRecognizer{connectErrs: connectErrs}
}

func (m *MockRecognizer) Connect(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if len(m.connectErrs) > 0 {
		idx := m.connectN
		if idx >= len(m.connectErrs) {
			idx = len(m.connectErrs) - 1
		}
		err = m.connectErrs[idx]
	}
	m.connectN++
	if err != nil {
		return nil, err
	}

	s := &MockSession{events: make(chan Event, 16)}
	m.sessions = append(m.sessions, s)
	return s, nil
}

// Sessions returns every session successfully created so far, in order,
// for assertions about what audio each reconnect attempt received.
func (m *MockRecognizer) Sessions() []*MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockSession, len(m.sessions))
	copy(out, m.sessions)
	return out
}

// MockSession records every chunk it's sent and lets the test script
// events and closure independently of real network timing.
type MockSession struct {
	mu        sync.Mutex
	events    chan Event
	chunks    []audiosource.Chunk
	eosSent   bool
	closed    bool
	sendDelay time.Duration
}

// SetSendDelay makes every subsequent SendAudio call block for d before
// recording the chunk, for tests exercising a stalled-send timeout.
func (s *MockSession) SetSendDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendDelay = d
}

func (s *MockSession) SendAudio(chunk audiosource.Chunk) error {
	s.mu.Lock()
	delay := s.sendDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *MockSession) SendEOS() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eosSent = true
	return nil
}

func (s *MockSession) Events() <-chan Event { return s.events }

func (s *MockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

// Emit pushes an event onto the session's channel as if the server sent it.
func (s *MockSession) Emit(e Event) {
	s.events <- e
}

// Chunks returns every chunk sent so far, in order.
func (s *MockSession) Chunks() []audiosource.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audiosource.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// EOSSent reports whether SendEOS has been called.
func (s *MockSession) EOSSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eosSent
}

// Closed reports whether Close has been called.
func (s *MockSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
