package recognizer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// dialTimeout bounds every provider's initial handshake, grounded on the
// 5s connect timeout the original client used for its FunASR health check.
const dialTimeout = 5 * time.Second

// dial opens a websocket connection to url with the given headers, wrapping
// failures in ErrNetwork so callers classify them consistently, grounded on
// the ws-bridge dialer's single Dial call generalized with a context
// deadline instead of a fixed retry loop (retry/reconnect policy lives in
// the pipeline, not here).
func dial(ctx context.Context, url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: dialTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, resp, fmt.Errorf("%w: %v", ErrAuth, err)
		}
		return nil, resp, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return conn, resp, nil
}

// eventID mimics the provider protocols' client-generated correlation IDs
// (spec doesn't require globally unique IDs, only present ones), grounded
// on original_source's generate_event_id.
func eventID(seq *int) string {
	*seq++
	return fmt.Sprintf("event_%d", *seq)
}
