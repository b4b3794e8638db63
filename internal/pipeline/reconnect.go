package pipeline

import (
	"context"
	"fmt"
	"time"

	"vhisper/internal/recognizer"
)

// maxConsecutiveReconnectFailures and reconnectFailureWindow implement spec
// §4.4's "reconnect storm" bound: three consecutive connect failures inside
// the same two-second window surface a single Error and return to Idle,
// instead of retrying forever.
const (
	maxConsecutiveReconnectFailures = 3
	reconnectFailureWindow          = 2 * time.Second
)

// reconnectWithBackoff retries Connect until it succeeds, ctx is canceled,
// or the failure bound above is hit. A nil, nil return means ctx was
// canceled before a new Session was established.
func (p *Pipeline) reconnectWithBackoff(ctx context.Context) (recognizer.Session, error) {
	var failures int
	var windowStart time.Time

	for {
		if ctx.Err() != nil {
			return nil, nil
		}

		sess, err := p.provider.Streamer.Connect(ctx)
		if err == nil {
			return sess, nil
		}

		now := time.Now()
		if windowStart.IsZero() || now.Sub(windowStart) > reconnectFailureWindow {
			windowStart = now
			failures = 1
		} else {
			failures++
		}
		if failures >= maxConsecutiveReconnectFailures {
			return nil, fmt.Errorf("pipeline: reconnect failed %d times within %s: %w", failures, reconnectFailureWindow, err)
		}
	}
}
