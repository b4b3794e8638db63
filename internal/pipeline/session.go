package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"vhisper/internal/audiosource"
	"vhisper/internal/enhancer"
	"vhisper/internal/recognizer"
)

// audioSource is the subset of *audiosource.Source the Pipeline needs.
// Defining it here (rather than depending on the concrete type) lets tests
// substitute a hardware-free fake, the same reason audiosource itself keeps
// a backend/stream seam internally.
type audioSource interface {
	Start() error
	Stop()
	Close()
	Chunks() <-chan audiosource.Chunk
	DrainPreroll() audiosource.Chunk
	DroppedFrames() uint64
}

// watchdogTimeout bounds how long StopStreaming waits for a session's
// terminal Final before synthesizing an empty one (spec §5). It is a var,
// not a const, so tests can shrink it instead of waiting out the real
// timeout.
var watchdogTimeout = 3 * time.Second

// sendAudioTimeout bounds a single SendAudio call (spec §4.4 backpressure,
// §5's inter-chunk send budget). A send stuck past this means the
// connection is wedged, not merely slow, and the round should end the same
// way a network error would: close the session and let auto-reconnect open
// a fresh one.
var sendAudioTimeout = 500 * time.Millisecond

// sessionOutcome is what one connected Session round ended with.
type sessionOutcome int

const (
	// sessionStopped means the Final arrived after this Pipeline sent EOS
	// itself (host-initiated stop_streaming) — the session loop should exit
	// and let StopStreaming's watchdog/completion path finish up.
	sessionStopped sessionOutcome = iota
	// sessionReconnect means an unsolicited server-side Final arrived while
	// still Recording, or the connection dropped unexpectedly — spec §4.4's
	// auto-reconnect should open a fresh Session and keep going.
	sessionReconnect
	// sessionCanceled means ctx was canceled (cancel_streaming or destroy)
	// before either of the above happened.
	sessionCanceled
)

// runSession pumps audio into sess and drains its events until sess
// produces a terminal Final, its event stream ends unexpectedly, or ctx is
// canceled. It implements two of spec §5's logical tasks (forwarder, event
// pump) as an errgroup pair, grounded on the fan-out style of
// MrWong99-glyphoxa's internal/hotctx/assembler.go generalized from a
// barrier-style join to a first-task-decides join (the event pump's outcome
// is authoritative; the forwarder only ever returns nil).
func (p *Pipeline) runSession(ctx context.Context, cb Callback, sess recognizer.Session) sessionOutcome {
	// roundCtx is scoped to this one Session: once pumpEvents has an
	// outcome, cancelRound stops forwardAudio from relaying into a Session
	// that has already produced its terminal event, independent of whether
	// the overall streaming ctx is still live (spec §4.4's reconnect keeps
	// the outer ctx open across rounds).
	roundCtx, cancelRound := context.WithCancel(ctx)
	defer cancelRound()

	eg, _ := errgroup.WithContext(roundCtx)

	var outcome sessionOutcome
	eg.Go(func() error {
		outcome = p.pumpEvents(roundCtx, cb, sess)
		cancelRound()
		return nil
	})
	eg.Go(func() error {
		return p.forwardAudio(roundCtx, sess)
	})

	eg.Wait()
	return outcome
}

// forwardAudio seeds a freshly connected session with the pre-roll buffer
// (spec §4.1: audio captured before the socket was open must not be lost),
// then relays live chunks until the audio stream ends or ctx is canceled.
// A send failure closes sess (ending the event pump's range loop) rather
// than returning an error, so one session's network hiccup triggers
// reconnect instead of tearing down the whole errgroup.
func (p *Pipeline) forwardAudio(ctx context.Context, sess recognizer.Session) error {
	pre := p.audio.DrainPreroll()
	if len(pre.Samples) > 0 {
		if err := sendAudioBounded(sess, pre); err != nil {
			sess.Close()
			return nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-p.audio.Chunks():
			if !ok {
				return nil
			}
			if err := sendAudioBounded(sess, chunk); err != nil {
				sess.Close()
				return nil
			}
		}
	}
}

// sendAudioBounded races sess.SendAudio against sendAudioTimeout. A send
// that blocks past the bound is treated as a failed send: the caller closes
// sess and the round ends in sessionReconnect, same as a write error. The
// racing goroutine is left to finish on its own if SendAudio does
// eventually return late; it has nothing left to report to.
func sendAudioBounded(sess recognizer.Session, chunk audiosource.Chunk) error {
	done := make(chan error, 1)
	go func() {
		done <- sess.SendAudio(chunk)
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(sendAudioTimeout):
		return fmt.Errorf("pipeline: SendAudio exceeded %s", sendAudioTimeout)
	}
}

// pumpEvents drains sess.Events(), translating each into a host Event and
// deciding, once a Final arrives (or the stream ends without one), which
// sessionOutcome applies.
func (p *Pipeline) pumpEvents(ctx context.Context, cb Callback, sess recognizer.Session) sessionOutcome {
	for ev := range sess.Events() {
		if ctx.Err() != nil {
			return sessionCanceled
		}
		switch ev.Kind {
		case recognizer.EventPartial:
			cb(Event{Kind: EventPartial, Confirmed: ev.Confirmed, Stash: ev.Stash})
		case recognizer.EventFinal:
			text := enhancer.RefineWithFallback(ctx, p.enhancerOrNil(), ev.Text)
			cb(Event{Kind: EventFinal, Text: text})
			if p.getEOSSent() {
				return sessionStopped
			}
			return sessionReconnect
		}
	}
	if ctx.Err() != nil {
		return sessionCanceled
	}
	// The event stream ended without a Final: the connection dropped.
	// Spec §4.4 treats this the same as a server-side Final for the purpose
	// of keeping the hot-key session alive.
	return sessionReconnect
}
