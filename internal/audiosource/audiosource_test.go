package audiosource

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeBackend drives audiosource without real hardware: each Read call
// fills buf with the next scripted frame, or blocks (AvailableToRead
// returns 0) until one is pushed via feed.
type fakeBackend struct {
	mu      sync.Mutex
	buf     []int16
	pending [][]int16
	openErr error
	closed  bool
}

func (b *fakeBackend) Open(buf []int16) (stream, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.buf = buf
	return &fakeStream{backend: b}, nil
}

func (b *fakeBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func (b *fakeBackend) feed(frame []int16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]int16, len(frame))
	copy(cp, frame)
	b.pending = append(b.pending, cp)
}

type fakeStream struct {
	backend *fakeBackend
	started bool
}

func (s *fakeStream) Start() error { s.started = true; return nil }
func (s *fakeStream) Stop() error  { s.started = false; return nil }
func (s *fakeStream) Close() error { return nil }

func (s *fakeStream) AvailableToRead() (int, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	if len(s.backend.pending) == 0 {
		return 0, nil
	}
	return len(s.backend.pending[0]), nil
}

func (s *fakeStream) Read() error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	if len(s.backend.pending) == 0 {
		return errors.New("no data")
	}
	frame := s.backend.pending[0]
	s.backend.pending = s.backend.pending[1:]
	copy(s.backend.buf, frame)
	return nil
}

func frameOf(v int16) []int16 {
	f := make([]int16, ChunkSamples)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestStartDeliversChunks(t *testing.T) {
	b := &fakeBackend{}
	src := newWithBackend(b)

	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Close()

	b.feed(frameOf(1))
	b.feed(frameOf(2))

	chunks := src.Chunks()
	c1 := <-chunks
	c2 := <-chunks

	if c1.Samples[0] != 1 || c2.Samples[0] != 2 {
		t.Fatalf("got chunks %v, %v; want values 1, 2", c1.Samples[0], c2.Samples[0])
	}
	if c2.Offset <= c1.Offset {
		t.Fatalf("offsets not increasing: %d then %d", c1.Offset, c2.Offset)
	}
}

func TestStopClosesChunkStream(t *testing.T) {
	b := &fakeBackend{}
	src := newWithBackend(b)
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	chunks := src.Chunks()
	src.Stop()

	select {
	case _, ok := <-chunks:
		if ok {
			t.Fatalf("expected closed channel after Stop")
		}
	case <-time.After(time.Second):
		t.Fatalf("Chunks() did not close within 1s of Stop")
	}
}

func TestDrainPrerollReturnsRecentAudio(t *testing.T) {
	b := &fakeBackend{}
	src := newWithBackend(b)
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Close()

	b.feed(frameOf(7))
	<-src.Chunks()

	pre := src.DrainPreroll()
	if len(pre.Samples) == 0 {
		t.Fatalf("DrainPreroll returned no samples")
	}
	if pre.Samples[len(pre.Samples)-1] != 7 {
		t.Fatalf("last preroll sample = %d, want 7", pre.Samples[len(pre.Samples)-1])
	}
}

func TestOverflowDropsOldestAndCounts(t *testing.T) {
	b := &fakeBackend{}
	src := newWithBackend(b)
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Close()

	// Feed more frames than the queue can hold without anyone draining
	// Chunks(); the capture loop must keep running and never block.
	for i := 0; i < QueueCapacityChunks+5; i++ {
		b.feed(frameOf(int16(i)))
	}

	deadline := time.After(2 * time.Second)
	for src.DroppedFrames() == 0 {
		select {
		case <-deadline:
			t.Fatalf("expected dropped frames to be counted, got 0")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStartTwiceWithoutStopErrors(t *testing.T) {
	b := &fakeBackend{}
	src := newWithBackend(b)
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Close()

	if err := src.Start(); err == nil {
		t.Fatalf("expected error starting an already-running Source")
	}
}

func TestOpenErrorClassified(t *testing.T) {
	b := &fakeBackend{openErr: errors.New("permission denied by OS")}
	src := newWithBackend(b)
	err := src.Start()
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want wrapping ErrPermissionDenied", err)
	}
}
