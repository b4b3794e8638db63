// Package audiosource captures mono 16 kHz 16-bit PCM audio from the
// microphone on a bounded, drop-oldest queue, and keeps a short pre-roll
// buffer so speech captured just before a recognizer connects is not lost.
//
// The hardware callback never blocks on anything but memory: it copies into
// the pre-roll ring and tries a non-blocking send into the chunk queue.
package audiosource

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// SampleRate is the fixed capture rate required by every recognizer
// provider in this system.
const SampleRate = 16000

// ChunkSamples is the number of samples per delivered Chunk (100 ms at
// SampleRate), matching the ~100 ms framing the streaming recognizer
// protocols expect (spec §3, AudioFrame).
const ChunkSamples = SampleRate / 10

// QueueCapacityChunks bounds the chunk queue to roughly 1 s of audio.
const QueueCapacityChunks = 10

// PrerollMs is the default amount of audio kept available to DrainPreroll.
const PrerollMs = 300

var (
	// ErrDeviceUnavailable means no capture device could be opened.
	ErrDeviceUnavailable = errors.New("audiosource: device unavailable")
	// ErrFormatUnsupported means the device could not be opened at the
	// required sample rate / channel count.
	ErrFormatUnsupported = errors.New("audiosource: format unsupported")
	// ErrPermissionDenied means the OS denied microphone access.
	ErrPermissionDenied = errors.New("audiosource: permission denied")
)

// Chunk is one fixed-size frame of mono 16 kHz PCM16 audio, timestamped by
// cumulative sample offset since the stream started.
type Chunk struct {
	Samples []int16
	Offset  int64
}

// stream is the minimal surface audiosource needs from a capture backend,
// matching github.com/gordonklaus/portaudio's *Stream (grounded on the
// teacher's internal/audio/recorder.go, generalized to int16 buffers and a
// pluggable backend so tests don't need real hardware).
type stream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
	AvailableToRead() (int, error)
}

// backend opens a capture stream that fills buf in place on each Read.
type backend interface {
	Open(buf []int16) (stream, error)
	Close()
}

// Source captures microphone audio and exposes it as a finite, lazy,
// non-restartable stream of Chunks plus a pre-roll snapshot.
type Source struct {
	backend backend

	mu      sync.Mutex
	running bool
	st      stream
	chunkCh chan Chunk
	doneCh  chan struct{}
	offset  int64

	preroll *preroll
	dropped uint64 // atomic
}

// New constructs a Source backed by the host's default audio input device
// via PortAudio. The device is not opened until Start.
func New() (*Source, error) {
	b, err := newPortaudioBackend()
	if err != nil {
		return nil, classifyOpenError(err)
	}
	return newWithBackend(b), nil
}

func newWithBackend(b backend) *Source {
	return &Source{
		backend: b,
		preroll: newPreroll(SampleRate * PrerollMs / 1000),
	}
}

// Start begins hardware capture, returning once the device callback loop is
// running. It is not idempotent: calling Start twice without an
// intervening Stop returns an error.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("audiosource: already running")
	}

	buf := make([]int16, ChunkSamples)
	st, err := s.backend.Open(buf)
	if err != nil {
		return classifyOpenError(err)
	}
	if err := st.Start(); err != nil {
		st.Close()
		return classifyOpenError(err)
	}

	s.st = st
	s.running = true
	s.offset = 0
	s.chunkCh = make(chan Chunk, QueueCapacityChunks)
	s.doneCh = make(chan struct{})

	go s.captureLoop(st, buf, s.chunkCh, s.doneCh)
	return nil
}

// Chunks returns the lazy, finite, non-restartable stream of captured
// chunks. It is closed when Stop is called. A failing device read does not
// close it: the capture loop waits briefly and retries the read.
func (s *Source) Chunks() <-chan Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunkCh
}

// Stop halts capture. It is idempotent.
func (s *Source) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	st := s.st
	s.st = nil
	done := s.doneCh
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	if st != nil {
		st.Stop()
		st.Close()
	}
}

// Close releases the backend. Safe to call once capture is stopped.
func (s *Source) Close() {
	s.Stop()
	s.backend.Close()
}

// DrainPreroll returns up to PrerollMs of the most recently captured audio
// as a single Chunk, regardless of whether anything has consumed Chunks().
func (s *Source) DrainPreroll() Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	samples := s.preroll.drain()
	return Chunk{Samples: samples, Offset: s.offset - int64(len(samples))}
}

// DroppedFrames returns the number of chunks discarded by the drop-oldest
// overflow policy since Start. It never resets on its own.
func (s *Source) DroppedFrames() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// IsRunning reports whether capture is currently active.
func (s *Source) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Source) captureLoop(st stream, buf []int16, out chan Chunk, done chan struct{}) {
	defer close(done)
	defer close(out)

	for {
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if !running {
			return
		}

		avail, err := st.AvailableToRead()
		if err != nil || avail == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if err := st.Read(); err != nil {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		frame := make([]int16, len(buf))
		copy(frame, buf)
		s.offset += int64(len(frame))
		offset := s.offset
		s.preroll.write(frame)
		s.mu.Unlock()

		s.enqueue(out, Chunk{Samples: frame, Offset: offset})
	}
}

// enqueue pushes c onto out, dropping the oldest queued chunk if out is
// full (spec §4.1: drop-oldest, never block the capture loop).
func (s *Source) enqueue(out chan Chunk, c Chunk) {
	select {
	case out <- c:
		return
	default:
	}
	select {
	case <-out:
		atomic.AddUint64(&s.dropped, 1)
		log.Printf("audiosource: chunk queue full, dropped oldest frame (total dropped=%d)", atomic.LoadUint64(&s.dropped))
	default:
	}
	select {
	case out <- c:
	default:
		// Another goroutine raced us; not expected with a single producer,
		// but never block the capture loop on it.
	}
}

func classifyOpenError(err error) error {
	if err == nil {
		return nil
	}
	// PortAudio surfaces device/format/permission failures as opaque
	// errors; classify by substring the way the host would distinguish
	// them for the user, per spec §4.1.
	msg := err.Error()
	switch {
	case containsAny(msg, "permission", "denied", "not authorized"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case containsAny(msg, "format", "sample rate", "unsupported"):
		return fmt.Errorf("%w: %v", ErrFormatUnsupported, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if len(s) >= len(sub) && indexFold(s, sub) >= 0 {
			return true
		}
	}
	return false
}

// indexFold is a tiny case-insensitive substring search, avoiding a
// strings.ToLower allocation on the hot error path.
func indexFold(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if equalFold(s[i:i+m], sub) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
