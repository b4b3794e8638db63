// Package pipeline implements the session state machine described in
// spec §4: one microphone capture plus one recognizer connection per
// start_streaming call, auto-reconnecting across server-side Finals, with
// an optional LLM enhancement pass on every Final before it reaches the
// host callback.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"vhisper/internal/audiosource"
	"vhisper/internal/config"
	"vhisper/internal/enhancer"
	"vhisper/internal/recognizer"
)

// State is the Pipeline's externally observable state (spec §4.5).
type State int32

const (
	StateIdle State = iota
	StateRecording
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRecording:
		return "Recording"
	case StateProcessing:
		return "Processing"
	default:
		return "Unknown"
	}
}

// Pipeline is one handle's worth of state: a capture source, a resolved
// recognizer provider, an optional enhancer, and the bookkeeping needed to
// run exactly one streaming session at a time.
type Pipeline struct {
	// state is mirrored atomically so get_state (spec §4.6: "never blocks")
	// never needs the mutex.
	state int32

	mu         sync.Mutex
	cfg        config.Config
	audio      audioSource
	provider   recognizer.Provider
	enh        enhancer.Enhancer
	enhEnabled bool

	session     recognizer.Session
	cancel      context.CancelFunc
	cb          Callback
	eosSent     bool
	stopOnce    *sync.Once
	oneShotStop chan struct{}

	// wg is held for the lifetime of one session's background worker
	// (continueStreaming or runOneShot). Wait joins it so a caller that has
	// just canceled a session can block until audio capture and the
	// recognizer connection have actually been torn down, rather than
	// racing a handle free against a goroutine still touching them.
	wg sync.WaitGroup
}

// New constructs a production Pipeline: real microphone capture, a
// recognizer resolved from cfg.ASR, and an enhancer resolved from cfg.LLM.
func New(cfg config.Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	audio, err := audiosource.New()
	if err != nil {
		return nil, err
	}
	provider, err := recognizer.New(cfg.ASR)
	if err != nil {
		return nil, err
	}
	enh, enhEnabled, err := enhancer.New(cfg.LLM)
	if err != nil {
		return nil, err
	}
	return newPipeline(cfg, audio, provider, enh, enhEnabled), nil
}

// newPipeline is the dependency-injected constructor tests use to swap in
// an audioSource fake and a recognizer.NewMockRecognizer-backed Provider.
func newPipeline(cfg config.Config, audio audioSource, provider recognizer.Provider, enh enhancer.Enhancer, enhEnabled bool) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		audio:      audio,
		provider:   provider,
		enh:        enh,
		enhEnabled: enhEnabled,
	}
}

// GetState reports the current state without blocking (spec §4.6).
func (p *Pipeline) GetState() State {
	return State(atomic.LoadInt32(&p.state))
}

// IsStreaming reports whether a start_streaming session is in progress.
func (p *Pipeline) IsStreaming() bool {
	s := p.GetState()
	return s == StateRecording || s == StateProcessing
}

// StartStreaming begins one capture+recognize session. For streaming
// providers the first connect happens synchronously, so AuthError/
// NetworkError/DeviceUnavailable are reported as a direct return value
// (spec §4.4's operation table); everything after that first connect runs
// on a background goroutine and is reported through cb. The C ABI wrapper
// is expected to call this from its own goroutine so that the exported
// start_streaming function itself never blocks (spec §4.6).
func (p *Pipeline) StartStreaming(cb Callback) error {
	// The fresh cancel/stopOnce/oneShotStop are installed before the state
	// flips to Recording, so a concurrent CancelStreaming/StopStreaming
	// that observes Recording never sees the previous session's stopOnce.
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.cb = cb
	p.eosSent = false
	p.stopOnce = &sync.Once{}
	p.oneShotStop = make(chan struct{})
	p.mu.Unlock()

	if !atomic.CompareAndSwapInt32(&p.state, int32(StateIdle), int32(StateRecording)) {
		cancel()
		return ErrBusy
	}

	if err := p.audio.Start(); err != nil {
		p.resetToIdle(cancel)
		return err
	}

	if p.provider.OneShot != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runOneShot(ctx, cb)
		}()
		return nil
	}

	sess, err := p.provider.Streamer.Connect(ctx)
	if err != nil {
		p.audio.Stop()
		p.resetToIdle(cancel)
		return err
	}
	p.setSession(sess)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.continueStreaming(ctx, cb, sess)
	}()
	return nil
}

// Wait blocks until the current (or most recently started) session's
// background worker has fully wound down: audio capture stopped, the
// recognizer connection closed, and the state returned to Idle. destroy
// (spec §4.6, §5) must call this after CancelStreaming so a freed handle is
// never touched by a worker goroutine still observing cancellation. It
// returns immediately if no session has ever been started.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// resetToIdle aborts a StartStreaming attempt that failed before any
// goroutine was spawned, returning the Pipeline to Idle.
func (p *Pipeline) resetToIdle(cancel context.CancelFunc) {
	cancel()
	atomic.StoreInt32(&p.state, int32(StateIdle))
}

// continueStreaming runs sess to completion and, if the outcome calls for
// it, keeps reconnecting (spec §4.4's auto-reconnect) until a host-
// initiated stop completes, cancellation happens, or three consecutive
// reconnect attempts fail within the same two-second window.
func (p *Pipeline) continueStreaming(ctx context.Context, cb Callback, sess recognizer.Session) {
	for {
		outcome := p.runSession(ctx, cb, sess)
		switch outcome {
		case sessionCanceled:
			return
		case sessionStopped:
			p.stopOnce.Do(func() { p.teardownAfterStop() })
			return
		case sessionReconnect:
			if ctx.Err() != nil {
				return
			}
			next, err := p.reconnectWithBackoff(ctx)
			if err != nil {
				p.stopOnce.Do(func() {
					cb(Event{Kind: EventError, Message: err.Error()})
					p.teardownAfterStop()
				})
				return
			}
			if next == nil {
				// ctx was canceled while reconnecting.
				return
			}
			sess = next
			p.setSession(sess)
		}
	}
}

// silentAmplitude is the int16 equivalent of original_source's
// max_amplitude < 0.001 threshold (normalized float32 samples, scaled by
// 32768). Below this, the buffered utterance is treated the same as "no
// audio was ever sent" rather than spending an API call transcribing
// silence — the spec's boundary behavior (empty Final, not a hard error)
// wins over the original's PermissionDenied-on-silence guess.
const silentAmplitude = 33

func maxAbsAmplitude(samples []int16) int16 {
	var max int16
	for _, s := range samples {
		abs := s
		if abs < 0 {
			abs = -abs
		}
		if abs > max {
			max = abs
		}
	}
	return max
}

func (p *Pipeline) runOneShot(ctx context.Context, cb Callback) {
	var buf []int16
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.oneShotStop:
			if len(buf) == 0 || maxAbsAmplitude(buf) < silentAmplitude {
				p.stopOnce.Do(func() {
					cb(Event{Kind: EventFinal, Text: ""})
					p.teardownAfterStop()
				})
				return
			}
			text, err := p.provider.OneShot.Recognize(ctx, buf, audiosource.SampleRate)
			if err != nil {
				p.stopOnce.Do(func() {
					cb(Event{Kind: EventError, Message: err.Error()})
					p.teardownAfterStop()
				})
				return
			}
			text = enhancer.RefineWithFallback(ctx, p.enhancerOrNil(), text)
			p.stopOnce.Do(func() {
				cb(Event{Kind: EventFinal, Text: text})
				p.teardownAfterStop()
			})
			return
		case chunk, ok := <-p.audio.Chunks():
			if !ok {
				continue
			}
			buf = append(buf, chunk.Samples...)
		}
	}
}

// StopStreaming requests a graceful end of the current session (spec
// §4.4): it sends EOS on the live Session (if any) and waits up to
// watchdogTimeout for the resulting terminal Final, synthesizing an empty
// one if none arrives in time or if no Session was connected yet. It is a
// no-op when not Recording.
func (p *Pipeline) StopStreaming() {
	if !atomic.CompareAndSwapInt32(&p.state, int32(StateRecording), int32(StateProcessing)) {
		return
	}

	if p.provider.OneShot != nil {
		close(p.oneShotStop)
		return
	}

	p.mu.Lock()
	p.eosSent = true
	sess := p.session
	stopOnce := p.stopOnce
	cb := p.cb
	p.mu.Unlock()

	emitEmptyFinalAndTeardown := func() {
		stopOnce.Do(func() {
			if cb != nil {
				cb(Event{Kind: EventFinal, Text: ""})
			}
			p.teardownAfterStop()
		})
	}

	if sess == nil {
		emitEmptyFinalAndTeardown()
		return
	}
	if err := sess.SendEOS(); err != nil {
		emitEmptyFinalAndTeardown()
		return
	}

	go func() {
		<-time.After(watchdogTimeout)
		emitEmptyFinalAndTeardown()
	}()
}

// CancelStreaming aborts the current session immediately, discarding any
// in-flight audio or pending recognition and firing no terminal callback
// (spec §4.4). It is idempotent and safe to call from any state.
func (p *Pipeline) CancelStreaming() {
	if p.GetState() == StateIdle {
		return
	}
	p.mu.Lock()
	stopOnce := p.stopOnce
	p.mu.Unlock()
	if stopOnce == nil {
		return
	}
	stopOnce.Do(func() { p.teardownAfterStop() })
}

// UpdateConfig swaps in a new configuration. It is rejected with ErrBusy
// unless the Pipeline is Idle, and with ErrConfigInvalid if cfg fails
// validation or names a provider this build cannot construct.
func (p *Pipeline) UpdateConfig(cfg config.Config) error {
	if p.GetState() != StateIdle {
		return ErrBusy
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	provider, err := recognizer.New(cfg.ASR)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	enh, enhEnabled, err := enhancer.New(cfg.LLM)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if State(atomic.LoadInt32(&p.state)) != StateIdle {
		return ErrBusy
	}
	p.cfg = cfg
	p.provider = provider
	p.enh = enh
	p.enhEnabled = enhEnabled
	return nil
}

func (p *Pipeline) setSession(sess recognizer.Session) {
	p.mu.Lock()
	p.session = sess
	p.mu.Unlock()
}

func (p *Pipeline) getEOSSent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eosSent
}

func (p *Pipeline) enhancerOrNil() enhancer.Enhancer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enhEnabled {
		return nil
	}
	return p.enh
}

// teardownAfterStop cancels the session context, stops capture, drops the
// live Session reference, and returns to Idle. Safe to call more than
// once; callers gate it through p.stopOnce so it only ever runs once per
// start_streaming lifetime.
func (p *Pipeline) teardownAfterStop() {
	p.mu.Lock()
	cancel := p.cancel
	sess := p.session
	p.session = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.audio.Stop()
	if sess != nil {
		sess.Close()
	}
	atomic.StoreInt32(&p.state, int32(StateIdle))
}
